package sync

import (
	"context"

	"github.com/steveyegge/sqldown/internal/plan"
)

// Syncer keeps one table in line with the documents under one root.
//
// A Syncer is the single writer for its table: passes are serialized, and
// every pass lands as one atomic batch or not at all. Individual documents
// that fail to parse never stop a pass; they are reported in Result.Errors
// and their stored rows are left untouched.
type Syncer interface {
	// Reconcile scans the whole root and applies the difference to the
	// store: new documents are inserted, changed ones updated, unchanged
	// ones skipped and stored documents whose file is gone are deleted.
	//
	// Example:
	//   res, err := syncer.Reconcile(ctx)
	Reconcile(ctx context.Context) (*Result, error)

	// ReconcileScan is Reconcile over an existing scan of the root.
	ReconcileScan(ctx context.Context, scan *ScanResult) (*Result, error)

	// ApplyEvent reconciles the single path named by ev. A path that no
	// longer exists deletes its document. OpRescan runs a full Reconcile.
	//
	// Example:
	//   res, err := syncer.ApplyEvent(ctx, sync.Event{Op: sync.OpWrite, Path: "notes/a.md"})
	ApplyEvent(ctx context.Context, ev Event) (*Result, error)

	// Plan returns the current column plan. It grows when documents bring
	// frontmatter keys the plan has not seen.
	Plan() *plan.Plan

	// Root returns the directory being synced.
	Root() string
}

// Filter selects documents under the root. *ignore.Matcher implements it.
type Filter interface {
	// Match reports whether a slash-separated relative path is a document.
	Match(rel string) bool
	// SkipDir reports whether a directory should not be walked.
	SkipDir(rel string) bool
}
