package plan

import (
	"fmt"

	"github.com/steveyegge/sqldown/internal/document"
)

// Merge extends stored with every column of fresh whose origin stored does
// not know yet. Stored columns keep their names and positions; appended
// columns are renamed if their name is already taken. A nil stored plan
// returns a copy of fresh.
func Merge(stored, fresh *Plan) *Plan {
	if stored == nil {
		return fresh.Clone()
	}

	out := stored.Clone()
	out.MaxColumns = fresh.MaxColumns

	n := newNamer()
	known := make(map[string]int, len(out.Columns))
	for i, c := range out.Columns {
		n.reserve(c.Name)
		known[c.Key()] = i
	}

	for _, c := range fresh.Columns {
		if i, ok := known[c.Key()]; ok {
			// A column stays json-list once any value needed it.
			if out.Columns[i].Origin == OriginFrontmatter && out.Columns[i].Kind != c.Kind {
				out.Columns[i].Kind = widen(out.Columns[i].Kind, c.Kind)
			}
			continue
		}
		c.Name = n.unique(c.Name)
		out.Columns = append(out.Columns, c)
		known[c.Key()] = len(out.Columns) - 1
	}

	out.Status = Grade(len(out.Columns), out.MaxColumns)
	return out
}

// Extend returns a copy of p with one frontmatter column added for key. It
// fails with a *BudgetError when the column would push the plan past its
// budget. Extending with a key the plan already has returns p unchanged and
// a zero Column.
func Extend(p *Plan, key string, v document.Value) (next *Plan, added Column, err error) {
	if _, ok := p.Frontmatter(key); ok {
		return p, Column{}, nil
	}

	n := newNamer()
	for _, c := range p.Columns {
		n.reserve(c.Name)
	}

	next = p.Clone()
	added = Column{
		Name:   n.unique(Sanitize(key)),
		Origin: OriginFrontmatter,
		Source: key,
		Kind:   KindFor(v),
	}
	next.Columns = append(next.Columns, added)
	next.Status = Grade(len(next.Columns), next.MaxColumns)

	if next.Status == StatusExceeded {
		return p, Column{}, fmt.Errorf("add column for %q: %w", key, next.Err())
	}
	return next, added, nil
}
