// Package plan derives a table layout from a corpus of documents.
//
// A Plan is an ordered list of columns: seven fixed base columns, one column
// per distinct frontmatter key and one column per selected section name.
// Planning is a pure function of the corpus and parameters so it can be
// tested against literal corpora and repeated with identical results.
//
// Plans only ever grow. Merge and Extend append columns and never reorder,
// rename or drop existing ones, so rows written against an older plan stay
// valid.
package plan

import (
	"errors"
	"fmt"
	"sort"

	"github.com/steveyegge/sqldown/internal/document"
)

// Base column names.
const (
	ColumnID       = "_id"
	ColumnPath     = "_path"
	ColumnSections = "_sections"
	ColumnTitle    = "title"
	ColumnBody     = "body"
	ColumnLead     = "lead"
	ColumnModified = "file_modified"
)

// SectionPrefix marks columns that hold section content.
const SectionPrefix = "section_"

// BaseColumns lists the fixed columns in table order.
var BaseColumns = []string{
	ColumnID, ColumnPath, ColumnSections, ColumnTitle, ColumnBody, ColumnLead, ColumnModified,
}

// ErrBudgetExceeded is returned when a plan needs more columns than allowed.
var ErrBudgetExceeded = errors.New("column budget exceeded")

// Origin says where a column's values come from.
type Origin string

const (
	OriginBase        Origin = "base"
	OriginFrontmatter Origin = "frontmatter"
	OriginSection     Origin = "section"
)

// Kind is the storage shape of a column.
type Kind string

const (
	KindText      Kind = "text"
	KindNumber    Kind = "number"
	KindBool      Kind = "bool"
	KindTimestamp Kind = "timestamp"
	KindJSONList  Kind = "json-list"
)

// Status grades a plan's column count against the budget.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusExceeded Status = "exceeded"
)

// Column is one materialized column.
type Column struct {
	// Name is the sanitized, unique column name.
	Name string
	// Origin is base, frontmatter or section.
	Origin Origin
	// Source is the frontmatter key or section name the column was derived
	// from. Empty for base columns.
	Source string
	Kind   Kind
}

// Key identifies a column by origin and source, independent of its name.
func (c Column) Key() string {
	if c.Origin == OriginBase {
		return string(OriginBase) + ":" + c.Name
	}
	return string(c.Origin) + ":" + c.Source
}

// Report totals columns by origin.
type Report struct {
	Base        int
	Frontmatter int
	Sections    int
	Total       int
	Max         int
	// SectionNames lists the sections that became columns, in plan order.
	SectionNames []string
}

// Plan is the ordered column layout plus its budget status.
type Plan struct {
	Columns    []Column
	Status     Status
	MaxColumns int
}

// BudgetError carries the breakdown of an exceeded plan.
type BudgetError struct {
	Report Report
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("%v: %d columns > %d limit (base=%d frontmatter=%d sections=%d)",
		ErrBudgetExceeded, e.Report.Total, e.Report.Max,
		e.Report.Base, e.Report.Frontmatter, e.Report.Sections)
}

func (e *BudgetError) Unwrap() error { return ErrBudgetExceeded }

// Build computes a plan for the corpus. topSections limits the number of
// section columns to the most frequent names; 0 keeps all of them.
func Build(corpus []*document.Document, maxColumns, topSections int) *Plan {
	n := newNamer()
	p := &Plan{MaxColumns: maxColumns}

	for _, name := range BaseColumns {
		n.reserve(name)
		p.Columns = append(p.Columns, baseColumn(name))
	}

	for _, key := range frontmatterKeys(corpus) {
		p.Columns = append(p.Columns, Column{
			Name:   n.unique(Sanitize(key.name)),
			Origin: OriginFrontmatter,
			Source: key.name,
			Kind:   key.kind,
		})
	}

	for _, name := range topSectionNames(corpus, topSections) {
		p.Columns = append(p.Columns, Column{
			Name:   n.unique(SectionPrefix + Sanitize(name)),
			Origin: OriginSection,
			Source: name,
			Kind:   KindText,
		})
	}

	p.Status = Grade(len(p.Columns), maxColumns)
	return p
}

// Grade maps a column count to a status: below 90% of max is ok, up to and
// including max is a warning, above max is exceeded.
func Grade(total, maxColumns int) Status {
	switch {
	case total > maxColumns:
		return StatusExceeded
	case total*10 >= maxColumns*9:
		return StatusWarning
	default:
		return StatusOK
	}
}

// Err returns a *BudgetError when the plan is exceeded and nil otherwise.
func (p *Plan) Err() error {
	if p.Status == StatusExceeded {
		return &BudgetError{Report: p.Report()}
	}
	return nil
}

// Report summarizes the plan.
func (p *Plan) Report() Report {
	r := Report{Total: len(p.Columns), Max: p.MaxColumns}
	for _, c := range p.Columns {
		switch c.Origin {
		case OriginBase:
			r.Base++
		case OriginFrontmatter:
			r.Frontmatter++
		case OriginSection:
			r.Sections++
			r.SectionNames = append(r.SectionNames, c.Source)
		}
	}
	return r
}

// Frontmatter returns the column for a frontmatter key.
func (p *Plan) Frontmatter(key string) (Column, bool) {
	return p.lookup(OriginFrontmatter, key)
}

// Section returns the column for a section name.
func (p *Plan) Section(name string) (Column, bool) {
	return p.lookup(OriginSection, name)
}

// Column returns the column with the given name.
func (p *Plan) Column(name string) (Column, bool) {
	for _, c := range p.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Names returns all column names in order.
func (p *Plan) Names() []string {
	names := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		names[i] = c.Name
	}
	return names
}

// Clone returns a deep copy.
func (p *Plan) Clone() *Plan {
	c := *p
	c.Columns = append([]Column(nil), p.Columns...)
	return &c
}

func (p *Plan) lookup(origin Origin, source string) (Column, bool) {
	for _, c := range p.Columns {
		if c.Origin == origin && c.Source == source {
			return c, true
		}
	}
	return Column{}, false
}

func baseColumn(name string) Column {
	return Column{Name: name, Origin: OriginBase, Kind: KindText}
}

type keyInfo struct {
	name string
	kind Kind
}

// frontmatterKeys returns every distinct key in first-seen order with its
// inferred kind.
func frontmatterKeys(corpus []*document.Document) []keyInfo {
	var keys []keyInfo
	index := make(map[string]int)

	for _, doc := range corpus {
		for _, f := range doc.Frontmatter {
			i, ok := index[f.Key]
			if !ok {
				i = len(keys)
				index[f.Key] = i
				keys = append(keys, keyInfo{name: f.Key, kind: KindFor(f.Value)})
				continue
			}
			keys[i].kind = widen(keys[i].kind, KindFor(f.Value))
		}
	}
	return keys
}

// KindFor is the column kind a single value asks for.
func KindFor(v document.Value) Kind {
	switch v.Kind {
	case document.ValueList, document.ValueJSON:
		return KindJSONList
	case document.ValueNumber:
		return KindNumber
	case document.ValueBool:
		return KindBool
	case document.ValueTime:
		return KindTimestamp
	default:
		return KindText
	}
}

// widen merges two observed kinds. Any list makes json-list, and so does a
// bool mixed with anything else, since JSON keeps booleans apart from
// strings. Other mixes become text.
func widen(a, b Kind) Kind {
	switch {
	case a == KindJSONList || b == KindJSONList:
		return KindJSONList
	case a == b:
		return a
	case a == KindBool || b == KindBool:
		return KindJSONList
	default:
		return KindText
	}
}

// topSectionNames ranks section names by the number of documents they appear
// in, ties broken by first appearance.
func topSectionNames(corpus []*document.Document, top int) []string {
	var names []string
	counts := make(map[string]int)

	for _, doc := range corpus {
		for _, s := range doc.Sections {
			if _, ok := counts[s.Name]; !ok {
				names = append(names, s.Name)
			}
			counts[s.Name]++
		}
	}

	if top <= 0 || top >= len(names) {
		return names
	}

	ranked := append([]string(nil), names...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return counts[ranked[i]] > counts[ranked[j]]
	})
	return ranked[:top]
}
