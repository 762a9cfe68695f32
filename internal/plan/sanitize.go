package plan

import (
	"strconv"
	"strings"
)

// Sanitize turns a frontmatter key or section name into a column name:
// lowercase, every run of characters outside [a-z0-9] becomes a single
// underscore, and leading or trailing underscores are dropped.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	pendingSep := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}

	if b.Len() == 0 {
		return "field"
	}
	return b.String()
}

// namer hands out unique column names in call order.
type namer struct {
	taken map[string]struct{}
}

func newNamer() *namer {
	return &namer{taken: make(map[string]struct{})}
}

func (n *namer) reserve(name string) {
	n.taken[name] = struct{}{}
}

// unique returns name, or name_2, name_3, ... for the first free variant.
func (n *namer) unique(name string) string {
	candidate := name
	for i := 2; ; i++ {
		if _, ok := n.taken[candidate]; !ok {
			break
		}
		candidate = name + "_" + strconv.Itoa(i)
	}
	n.reserve(candidate)
	return candidate
}
