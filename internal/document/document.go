package document

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ParseError reasons.
const (
	ReasonInvalidFrontmatter = "invalid-frontmatter"
	ReasonUnreadable         = "unreadable"
)

// namespace scopes path-derived identities so they never collide with
// UUIDs minted for other purposes.
var namespace = uuid.MustParse("4b2f6a8e-9c1d-5e3f-8a7b-0d6c5e4f3a21")

// ParseError reports a single malformed document. It is never fatal for a
// scan: callers record it and move on to the next file.
type ParseError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Path, e.Reason, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err is (or wraps) a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// ValueKind describes the shape of a frontmatter value.
type ValueKind uint8

const (
	// ValueText is a YAML string.
	ValueText ValueKind = iota
	// ValueNumber is a YAML int or float. Text holds the literal.
	ValueNumber
	// ValueList is a sequence of scalars.
	ValueList
	// ValueJSON is a nested structure kept as compact JSON in Text.
	ValueJSON
	// ValueBool is a YAML bool. Text holds the literal.
	ValueBool
	// ValueTime is an unquoted YAML timestamp. Text holds the literal.
	ValueTime
)

// String returns the kind name.
func (k ValueKind) String() string {
	switch k {
	case ValueText:
		return "text"
	case ValueNumber:
		return "number"
	case ValueList:
		return "list"
	case ValueJSON:
		return "json"
	case ValueBool:
		return "bool"
	case ValueTime:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Value is one frontmatter value.
type Value struct {
	Kind ValueKind
	Text string
	List []string
}

// Text returns a text value.
func Text(s string) Value { return Value{Kind: ValueText, Text: s} }

// Number returns a numeric value from its literal.
func Number(literal string) Value { return Value{Kind: ValueNumber, Text: literal} }

// Bool returns a boolean value from its literal.
func Bool(literal string) Value { return Value{Kind: ValueBool, Text: literal} }

// Timestamp returns a timestamp value from its literal.
func Timestamp(literal string) Value { return Value{Kind: ValueTime, Text: literal} }

// List returns a list value.
func List(items ...string) Value { return Value{Kind: ValueList, List: items} }

// Float returns the numeric value. ok is false for non-numbers or
// literals strconv cannot read.
func (v Value) Float() (float64, bool) {
	if v.Kind != ValueNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.Text, 64)
	if err != nil {
		i, ierr := strconv.ParseInt(v.Text, 0, 64)
		if ierr != nil {
			return 0, false
		}
		return float64(i), true
	}
	return f, true
}

// JSON encodes the value as JSON: lists as arrays, numbers and booleans
// natively, text and timestamps as strings and nested structures as-is.
func (v Value) JSON() string {
	switch v.Kind {
	case ValueList:
		items := v.List
		if items == nil {
			items = []string{}
		}
		data, _ := json.Marshal(items)
		return string(data)
	case ValueNumber:
		if f, ok := v.Float(); ok {
			data, err := json.Marshal(f)
			if err == nil {
				return string(data)
			}
		}
		data, _ := json.Marshal(v.Text)
		return string(data)
	case ValueJSON:
		return v.Text
	case ValueBool:
		if b, err := strconv.ParseBool(v.Text); err == nil {
			return strconv.FormatBool(b)
		}
		data, _ := json.Marshal(v.Text)
		return string(data)
	default:
		data, _ := json.Marshal(v.Text)
		return string(data)
	}
}

// Field is a single frontmatter entry.
type Field struct {
	Key   string
	Value Value
}

// Frontmatter is an ordered list of fields in file order.
type Frontmatter []Field

// Get returns the value for key.
func (fm Frontmatter) Get(key string) (Value, bool) {
	for _, f := range fm {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Keys returns the keys in order.
func (fm Frontmatter) Keys() []string {
	keys := make([]string, len(fm))
	for i, f := range fm {
		keys[i] = f.Key
	}
	return keys
}

// Section is one "## " heading and the text below it.
type Section struct {
	Name    string
	Content string
}

// Document is one parsed source file.
type Document struct {
	ID          string
	Path        string
	Frontmatter Frontmatter
	Title       string
	Lead        string
	Body        string
	Sections    []Section
	ModifiedAt  time.Time
	Fingerprint string
}

// SectionNames returns the section names in file order.
func (d *Document) SectionNames() []string {
	names := make([]string, len(d.Sections))
	for i, s := range d.Sections {
		names[i] = s.Name
	}
	return names
}

// Section returns the content of the named section.
func (d *Document) Section(name string) (string, bool) {
	for _, s := range d.Sections {
		if s.Name == name {
			return s.Content, true
		}
	}
	return "", false
}

// Identity derives the stable document ID for a relative path. The path is
// converted to slash form first so the ID is the same on every platform.
func Identity(relPath string) string {
	return uuid.NewSHA1(namespace, []byte(filepath.ToSlash(relPath))).String()
}

// Fingerprint returns the hex SHA-256 digest of raw.
func Fingerprint(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
