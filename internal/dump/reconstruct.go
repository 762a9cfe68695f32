package dump

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/steveyegge/sqldown/internal/document"
	"github.com/steveyegge/sqldown/internal/plan"
)

// Reconstruct rebuilds document text from a stored row.
//
// Frontmatter comes from the frontmatter columns in plan order under their
// original keys; NULLs are left out. The body column supplies the title,
// preamble and sections, with the title, lead and section columns taking
// precedence where they hold a value. Sections are emitted in the order
// recorded in _sections. A row whose _sections cannot be read is written
// as its frontmatter followed by the body, unchanged.
func Reconstruct(p *plan.Plan, row map[string]any) (string, error) {
	fm, err := frontmatter(p, row)
	if err != nil {
		return "", err
	}

	body := stringValue(row[plan.ColumnBody])
	names, ok := sectionNames(row[plan.ColumnSections])
	if !ok {
		return document.RenderRaw(fm, body)
	}

	o := document.ParseBody(body)

	if title, ok := row[plan.ColumnTitle].(string); ok && title != "" {
		switch {
		case o.HasTitle:
			o.Title = title
		case title != document.TitleFromPath(stringValue(row[plan.ColumnPath])):
			// A title that is not the file-name fallback was set on purpose.
			o.Title = title
			o.HasTitle = true
		}
	}

	if lead, ok := row[plan.ColumnLead].(string); ok && lead != o.Lead {
		o.Preamble = replaceLead(o.Preamble, o.Lead, lead)
	}

	sections := make([]document.Section, 0, len(names))
	for _, name := range names {
		sections = append(sections, document.Section{Name: name, Content: sectionContent(p, row, o, name)})
	}
	o.Sections = sections

	return document.Render(fm, o)
}

func frontmatter(p *plan.Plan, row map[string]any) (document.Frontmatter, error) {
	var fm document.Frontmatter
	for _, c := range p.Columns {
		if c.Origin != plan.OriginFrontmatter {
			continue
		}
		raw, ok := row[c.Name]
		if !ok || raw == nil {
			continue
		}
		v, err := decodeValue(c.Kind, raw)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		fm = append(fm, document.Field{Key: c.Source, Value: v})
	}
	return fm, nil
}

// decodeValue turns a stored frontmatter value back into a document.Value.
func decodeValue(kind plan.Kind, raw any) (document.Value, error) {
	switch v := raw.(type) {
	case int64:
		return document.Number(strconv.FormatInt(v, 10)), nil
	case float64:
		return document.Number(formatFloat(v)), nil
	case string:
		switch kind {
		case plan.KindJSONList:
			return decodeJSON(v), nil
		case plan.KindNumber:
			// Literals too large for an int64 are stored as text.
			return document.Number(v), nil
		case plan.KindBool:
			return document.Bool(v), nil
		case plan.KindTimestamp:
			return document.Timestamp(v), nil
		default:
			return document.Text(v), nil
		}
	case []byte:
		return decodeValue(kind, string(v))
	default:
		return document.Value{}, fmt.Errorf("unsupported stored value of type %T", raw)
	}
}

// decodeJSON reads a json-list column value. Text that is not valid JSON is
// kept as text.
func decodeJSON(s string) document.Value {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return document.Text(s)
	}

	switch v := decoded.(type) {
	case string:
		return document.Text(v)
	case json.Number:
		return document.Number(v.String())
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return compactJSON(s)
			}
			items = append(items, str)
		}
		return document.Value{Kind: document.ValueList, List: items}
	case bool:
		return document.Bool(strconv.FormatBool(v))
	default:
		return compactJSON(s)
	}
}

func compactJSON(s string) document.Value {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return document.Text(s)
	}
	return document.Value{Kind: document.ValueJSON, Text: buf.String()}
}

// formatFloat keeps a decimal point on integral floats so they read back
// as floats.
func formatFloat(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func sectionNames(raw any) ([]string, bool) {
	s, ok := raw.(string)
	if !ok {
		return nil, false
	}
	names, err := plan.ParseSections(s)
	if err != nil {
		return nil, false
	}
	return names, true
}

func sectionContent(p *plan.Plan, row map[string]any, o document.Outline, name string) string {
	if c, ok := p.Section(name); ok {
		if s, ok := row[c.Name].(string); ok {
			return s
		}
	}
	for _, s := range o.Sections {
		if s.Name == name {
			return s.Content
		}
	}
	return ""
}

// replaceLead swaps the first paragraph of preamble for lead.
func replaceLead(preamble, old, lead string) string {
	rest := preamble
	if old != "" && strings.HasPrefix(preamble, old) {
		rest = preamble[len(old):]
	} else if old != "" {
		return preamble
	}
	rest = strings.TrimLeft(rest, "\n")

	switch {
	case lead == "":
		return rest
	case rest == "":
		return lead
	default:
		return lead + "\n\n" + rest
	}
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}
