package plan

import (
	"encoding/json"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/steveyegge/sqldown/internal/document"
)

// TimeLayout is the storage format of file_modified.
const TimeLayout = time.RFC3339

// Values renders doc as column values keyed by column name. Every plan
// column is present; frontmatter keys and sections the document lacks map to
// nil so an update clears them.
func (p *Plan) Values(doc *document.Document) map[string]any {
	values := make(map[string]any, len(p.Columns))

	for _, c := range p.Columns {
		switch c.Origin {
		case OriginBase:
			values[c.Name] = baseValue(c.Name, doc)
		case OriginFrontmatter:
			v, ok := doc.Frontmatter.Get(c.Source)
			if !ok {
				values[c.Name] = nil
				continue
			}
			values[c.Name] = ColumnValue(c.Kind, v)
		case OriginSection:
			content, ok := doc.Section(c.Source)
			if !ok {
				values[c.Name] = nil
				continue
			}
			values[c.Name] = content
		}
	}

	return values
}

// ColumnValue converts a frontmatter value for storage in a column of kind k.
// json-list columns hold JSON text for every value so the original shape can
// be decoded again; other columns store numbers natively and everything else
// as its literal text.
func ColumnValue(k Kind, v document.Value) any {
	if k == KindJSONList {
		return v.JSON()
	}

	switch v.Kind {
	case document.ValueNumber:
		return numberValue(v.Text)
	case document.ValueList, document.ValueJSON:
		return v.JSON()
	default:
		return v.Text
	}
}

// numberValue stores an int literal in any base YAML accepts as an int64.
// Integers too large for int64 keep their literal so no digits are lost.
func numberValue(literal string) any {
	if i, err := strconv.ParseInt(literal, 0, 64); err == nil {
		return i
	}
	if _, ok := new(big.Int).SetString(literal, 0); ok {
		return literal
	}
	if f, err := strconv.ParseFloat(literal, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	return literal
}

// Widen returns a plan whose frontmatter column kinds also accommodate fm,
// and whether any kind changed. Unknown keys are ignored.
func Widen(p *Plan, fm document.Frontmatter) (*Plan, bool) {
	var out *Plan
	for _, f := range fm {
		for i, c := range p.Columns {
			if c.Origin != OriginFrontmatter || c.Source != f.Key {
				continue
			}
			kind := widen(c.Kind, KindFor(f.Value))
			if kind == c.Kind {
				break
			}
			if out == nil {
				out = p.Clone()
			}
			out.Columns[i].Kind = kind
			break
		}
	}
	if out == nil {
		return p, false
	}
	return out, true
}

func baseValue(name string, doc *document.Document) any {
	switch name {
	case ColumnID:
		return doc.ID
	case ColumnPath:
		return doc.Path
	case ColumnSections:
		return SectionsJSON(doc.SectionNames())
	case ColumnTitle:
		return doc.Title
	case ColumnBody:
		return doc.Body
	case ColumnLead:
		return doc.Lead
	case ColumnModified:
		if doc.ModifiedAt.IsZero() {
			return nil
		}
		return doc.ModifiedAt.UTC().Format(TimeLayout)
	default:
		return nil
	}
}

// SectionsJSON encodes an ordered section-name list.
func SectionsJSON(names []string) string {
	if names == nil {
		names = []string{}
	}
	data, _ := json.Marshal(names)
	return string(data)
}

// ParseSections decodes the _sections column.
func ParseSections(s string) ([]string, error) {
	var names []string
	if err := json.Unmarshal([]byte(s), &names); err != nil {
		return nil, err
	}
	return names, nil
}
