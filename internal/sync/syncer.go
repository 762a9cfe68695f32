package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	gosync "sync"

	"github.com/steveyegge/sqldown/internal/db"
	"github.com/steveyegge/sqldown/internal/document"
	"github.com/steveyegge/sqldown/internal/plan"
)

// Config configures a Syncer.
type Config struct {
	// Root is the directory holding the documents.
	Root string
	// Table is the store table the documents are written to.
	Table string
	// Filter selects documents under Root.
	Filter Filter
	// Logger receives progress messages. Defaults to stderr with a
	// "[sync] " prefix.
	Logger *log.Logger
}

// syncer implements the Syncer interface.
type syncer struct {
	mu     gosync.Mutex
	db     *db.DB
	plan   *plan.Plan
	cfg    Config
	logger *log.Logger
}

// New creates a Syncer writing documents under cfg.Root to cfg.Table.
//
// p is the plan rows are written against. It should already have passed the
// column budget check; New does not touch the store.
//
// Example:
//
//	database, err := db.Open(".sqldown.db")
//	if err != nil {
//	    return err
//	}
//	syncer := sync.New(database, p, sync.Config{Root: "notes", Table: "docs", Filter: matcher})
//	res, err := syncer.Reconcile(ctx)
func New(database *db.DB, p *plan.Plan, cfg Config) Syncer {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &syncer{
		db:     database,
		plan:   p,
		cfg:    cfg,
		logger: logger,
	}
}

// Plan implements Syncer.Plan.
func (s *syncer) Plan() *plan.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}

// Root implements Syncer.Root.
func (s *syncer) Root() string {
	return s.cfg.Root
}

// Reconcile implements Syncer.Reconcile.
func (s *syncer) Reconcile(ctx context.Context) (*Result, error) {
	scan, err := Scan(ctx, s.cfg.Root, s.cfg.Filter)
	if err != nil {
		return nil, err
	}
	return s.ReconcileScan(ctx, scan)
}

// ReconcileScan implements Syncer.ReconcileScan.
func (s *syncer) ReconcileScan(ctx context.Context, scan *ScanResult) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := &Result{Errors: append([]error(nil), scan.Errors...)}
	for _, err := range scan.Errors {
		s.logger.Printf("WARNING: Skipping %v", err)
	}

	files, err := s.db.Files(ctx, s.cfg.Table)
	if err != nil {
		return nil, err
	}
	st, err := s.newStage(ctx)
	if err != nil {
		return nil, err
	}

	for _, doc := range scan.Docs {
		s.stageDocument(st, doc, files, res)
	}
	st.settle(res)

	seen := make(map[string]struct{}, len(scan.Paths))
	for _, rel := range scan.Paths {
		seen[document.Identity(rel)] = struct{}{}
	}
	for id, rec := range files {
		if _, ok := seen[id]; ok {
			continue
		}
		// Rows whose path is now excluded, or that sit in a directory the
		// scan could not read, are left alone.
		if !s.cfg.Filter.Match(rec.Path) || !scan.Covers(rec.Path) {
			continue
		}
		st.deletes = append(st.deletes, id)
		st.deletedPaths = append(st.deletedPaths, rec.Path)
		res.Deleted++
	}
	sort.Strings(st.deletes)

	if err := s.commit(ctx, st); err != nil {
		return nil, err
	}

	s.logger.Printf("Reconciled %s into %s: %s", s.cfg.Root, s.cfg.Table, res)
	return res, nil
}

// ApplyEvent implements Syncer.ApplyEvent.
func (s *syncer) ApplyEvent(ctx context.Context, ev Event) (*Result, error) {
	if ev.Op == OpRescan {
		return s.Reconcile(ctx)
	}

	res, rescan, err := s.applyPath(ctx, ev.Path)
	if err != nil || !rescan {
		return res, err
	}
	// Stored rows of other documents were written for the old column kind.
	s.logger.Printf("Column kind changed by %s, rescanning", ev.Path)
	return s.Reconcile(ctx)
}

// applyPath reconciles one path. rescan is true, and nothing is written,
// when the document changes the kind of an existing column.
func (s *syncer) applyPath(ctx context.Context, p string) (res *Result, rescan bool, err error) {
	rel, err := s.relPath(p)
	if err != nil {
		return nil, false, err
	}
	res = &Result{}
	if !s.cfg.Filter.Match(rel) {
		return res, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := document.Identity(rel)
	rec, exists, err := s.db.File(ctx, s.cfg.Table, id)
	if err != nil {
		return nil, false, err
	}
	st, err := s.newStage(ctx)
	if err != nil {
		return nil, false, err
	}

	doc, err := document.ReadFile(s.cfg.Root, rel)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if !exists {
			return res, false, nil
		}
		st.deletes = append(st.deletes, id)
		st.deletedPaths = append(st.deletedPaths, rec.Path)
		res.Deleted++
	case err != nil:
		s.logger.Printf("WARNING: Skipping %v", err)
		res.Errors = append(res.Errors, err)
		return res, false, nil
	default:
		files := map[string]db.FileRecord{}
		if exists {
			files[id] = rec
		}
		s.stageDocument(st, doc, files, res)
		if len(st.rekinded()) > 0 {
			return nil, true, nil
		}
		st.settle(res)
	}

	if err := s.commit(ctx, st); err != nil {
		return nil, false, err
	}
	return res, false, nil
}

// relPath turns an event path into a slash-separated path under the root.
func (s *syncer) relPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(s.cfg.Root, p)
		if err != nil {
			return "", fmt.Errorf("event path %s: %w", p, err)
		}
		p = rel
	}
	rel := path.Clean(filepath.ToSlash(p))
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("event path %s is outside %s", p, s.cfg.Root)
	}
	return rel, nil
}

// stage collects the mutations of one pass before they are committed.
type stage struct {
	plan   *plan.Plan
	stored *plan.Plan
	// added holds plan columns the stored table does not have yet.
	added map[string]bool
	// unchanged holds documents whose file matches the stored fingerprint.
	// Whether their rows are rewritten is decided once the plan is final.
	unchanged    []*document.Document
	docs         []*document.Document
	verbs        []string
	deletes      []string
	deletedPaths []string
}

func (s *syncer) newStage(ctx context.Context) (*stage, error) {
	stored, err := s.db.LoadPlanContext(ctx, s.cfg.Table)
	if err != nil {
		return nil, err
	}

	st := &stage{plan: s.plan, stored: stored, added: make(map[string]bool)}
	for _, c := range s.plan.Columns {
		if stored == nil {
			st.added[c.Name] = true
			continue
		}
		if _, ok := stored.Column(c.Name); !ok {
			st.added[c.Name] = true
		}
	}
	return st, nil
}

// stageDocument decides whether doc is inserted, updated or skipped, and
// extends the staged plan with frontmatter keys it has not seen.
func (s *syncer) stageDocument(st *stage, doc *document.Document, files map[string]db.FileRecord, res *Result) {
	next := st.plan
	var extended []string
	for _, f := range doc.Frontmatter {
		if _, ok := next.Frontmatter(f.Key); ok {
			continue
		}
		p, col, err := plan.Extend(next, f.Key, f.Value)
		if err != nil {
			err = fmt.Errorf("%s: %w", doc.Path, err)
			s.logger.Printf("WARNING: Skipping %v", err)
			res.Errors = append(res.Errors, err)
			return
		}
		next = p
		extended = append(extended, col.Name)
	}
	next, _ = plan.Widen(next, doc.Frontmatter)

	st.plan = next
	for _, name := range extended {
		st.added[name] = true
		s.logger.Printf("Added column %s for %s", name, doc.Path)
	}
	res.Extended = append(res.Extended, extended...)

	rec, exists := files[doc.ID]
	switch {
	case !exists:
		res.Inserted++
		st.verbs = append(st.verbs, "Inserted")
	case rec.Fingerprint != doc.Fingerprint:
		res.Updated++
		st.verbs = append(st.verbs, "Updated")
	default:
		st.unchanged = append(st.unchanged, doc)
		return
	}
	st.docs = append(st.docs, doc)
}

// settle decides the unchanged documents against the final staged plan.
// A row is rewritten when the table gained a column the document has a
// value for, or when a column it has a value for changed kind, since its
// stored value was encoded for the old kind.
func (st *stage) settle(res *Result) {
	refill := st.rekinded()
	for name := range st.added {
		refill[name] = true
	}

	for _, doc := range st.unchanged {
		if !st.carries(doc, refill) {
			res.Skipped++
			continue
		}
		res.Updated++
		st.verbs = append(st.verbs, "Backfilled")
		st.docs = append(st.docs, doc)
	}
	st.unchanged = nil
}

// rekinded returns the stored columns whose kind the staged plan changed.
func (st *stage) rekinded() map[string]bool {
	out := make(map[string]bool)
	if st.stored == nil {
		return out
	}
	for _, c := range st.plan.Columns {
		old, ok := st.stored.Column(c.Name)
		if ok && old.Kind != c.Kind {
			out[c.Name] = true
		}
	}
	return out
}

func (st *stage) carries(doc *document.Document, columns map[string]bool) bool {
	for name := range columns {
		c, ok := st.plan.Column(name)
		if !ok {
			continue
		}
		switch c.Origin {
		case plan.OriginFrontmatter:
			if _, ok := doc.Frontmatter.Get(c.Source); ok {
				return true
			}
		case plan.OriginSection:
			if _, ok := doc.Section(c.Source); ok {
				return true
			}
		}
	}
	return false
}

func (st *stage) planChanged() bool {
	if st.stored == nil || len(st.stored.Columns) != len(st.plan.Columns) {
		return true
	}
	for i, c := range st.plan.Columns {
		if st.stored.Columns[i] != c {
			return true
		}
	}
	return false
}

// commit applies the stage as one batch and adopts the staged plan.
func (s *syncer) commit(ctx context.Context, st *stage) error {
	if len(st.docs) == 0 && len(st.deletes) == 0 && !st.planChanged() {
		s.plan = st.plan
		return nil
	}

	rows := make([]db.Row, len(st.docs))
	for i, doc := range st.docs {
		rows[i] = db.Row{
			ID:          doc.ID,
			Path:        doc.Path,
			Fingerprint: doc.Fingerprint,
			Values:      st.plan.Values(doc),
		}
	}

	batch := db.Batch{
		Table:   s.cfg.Table,
		Plan:    st.plan,
		Upserts: rows,
		Deletes: st.deletes,
	}
	if err := s.db.Apply(ctx, batch); err != nil {
		return err
	}

	s.plan = st.plan
	for i, doc := range st.docs {
		s.logger.Printf("%s: %s", st.verbs[i], doc.Path)
	}
	for _, p := range st.deletedPaths {
		s.logger.Printf("Deleted: %s", p)
	}
	return nil
}
