// Package dump writes stored rows back out as markdown files.
//
// Rows are turned back into text with Reconstruct and written under an
// output root at their recorded _path. A file whose content already matches
// is left alone, so dumping into the directory a table was loaded from
// rewrites only what changed in the store.
package dump

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/steveyegge/sqldown/internal/db"
	"github.com/steveyegge/sqldown/internal/document"
	"github.com/steveyegge/sqldown/internal/plan"
)

var (
	// ErrTableNotFound is returned when the table does not exist.
	ErrTableNotFound = errors.New("table not found")
	// ErrNoPlan is returned for tables sqldown did not create.
	ErrNoPlan = errors.New("table has no sqldown column metadata")
)

// Options selects what Export writes.
type Options struct {
	// Table to read rows from.
	Table string
	// OutputRoot is the directory files are written under.
	OutputRoot string
	// Filter is an SQL boolean expression restricting the rows, or "".
	Filter string
	// Force writes files even when their content is unchanged.
	Force bool
	// DryRun does everything but write.
	DryRun bool
}

// Result counts what an export did. With DryRun, Written counts the files
// that would have been written.
type Result struct {
	Written int
	Skipped int
	// Errors holds per-row failures; other rows were still exported.
	Errors []error
}

// Exporter writes rows of one store to disk.
type Exporter struct {
	db     *db.DB
	logger *log.Logger
}

// New creates an Exporter. A nil logger logs to stderr.
func New(database *db.DB, logger *log.Logger) *Exporter {
	if logger == nil {
		logger = log.New(os.Stderr, "[dump] ", log.LstdFlags)
	}
	return &Exporter{db: database, logger: logger}
}

// Export writes every row selected by opts. Rows without a path are
// skipped; rows whose path would land outside OutputRoot are errors. A
// failing query (including an invalid filter) aborts the export.
func (e *Exporter) Export(ctx context.Context, opts Options) (*Result, error) {
	p, err := e.db.LoadPlanContext(ctx, opts.Table)
	if err != nil {
		return nil, err
	}
	if p == nil {
		tables, err := e.db.Tables(ctx)
		if err != nil {
			return nil, err
		}
		for _, t := range tables {
			if t == opts.Table {
				return nil, fmt.Errorf("%s: %w", opts.Table, ErrNoPlan)
			}
		}
		return nil, fmt.Errorf("%s: %w", opts.Table, ErrTableNotFound)
	}

	root, err := filepath.Abs(opts.OutputRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output root: %w", err)
	}

	res := &Result{}
	err = e.db.Rows(ctx, opts.Table, opts.Filter, func(row map[string]any) error {
		e.exportRow(p, root, opts, row, res)
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}

	e.logger.Printf("Exported %s to %s: written=%d skipped=%d errors=%d",
		opts.Table, root, res.Written, res.Skipped, len(res.Errors))
	return res, nil
}

func (e *Exporter) exportRow(p *plan.Plan, root string, opts Options, row map[string]any, res *Result) {
	rel, _ := row[plan.ColumnPath].(string)
	if rel == "" {
		e.logger.Printf("WARNING: Row %v has no %s, skipping", row[plan.ColumnID], plan.ColumnPath)
		res.Skipped++
		return
	}

	target, err := resolve(root, rel)
	if err != nil {
		e.fail(res, err)
		return
	}

	text, err := Reconstruct(p, row)
	if err != nil {
		e.fail(res, fmt.Errorf("%s: failed to reconstruct: %w", rel, err))
		return
	}

	if !opts.Force {
		existing, err := os.ReadFile(target)
		switch {
		case err == nil && document.Fingerprint(existing) == document.Fingerprint([]byte(text)):
			e.logger.Printf("Unchanged: %s", rel)
			res.Skipped++
			return
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			e.fail(res, fmt.Errorf("%s: failed to read existing file: %w", rel, err))
			return
		}
	}

	if opts.DryRun {
		e.logger.Printf("Would write: %s", rel)
		res.Written++
		return
	}

	if err := write(target, text); err != nil {
		e.fail(res, fmt.Errorf("%s: %w", rel, err))
		return
	}
	e.logger.Printf("Wrote: %s", rel)
	res.Written++
}

func (e *Exporter) fail(res *Result, err error) {
	e.logger.Printf("ERROR: %v", err)
	res.Errors = append(res.Errors, err)
}

// resolve joins a stored slash path onto root, refusing paths that escape it.
func resolve(root, rel string) (string, error) {
	if filepath.IsAbs(filepath.FromSlash(rel)) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("%s: path is absolute", rel)
	}
	target := filepath.Join(root, filepath.FromSlash(rel))
	inside, err := filepath.Rel(root, target)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) || inside == "." {
		return "", fmt.Errorf("%s: path escapes the output directory", rel)
	}
	return target, nil
}

// write replaces target atomically, creating parent directories.
func write(target, text string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	_, statErr := os.Stat(target)
	if err := atomic.WriteFile(target, strings.NewReader(text)); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if errors.Is(statErr, fs.ErrNotExist) {
		// New files get the usual permissions instead of the temp file's.
		if err := os.Chmod(target, 0644); err != nil {
			return fmt.Errorf("failed to set permissions: %w", err)
		}
	}
	return nil
}
