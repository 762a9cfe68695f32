package sync

import (
	"fmt"
	"path/filepath"
)

// Op is the kind of change an Event reports.
type Op uint8

const (
	// OpWrite means the path was created or modified.
	OpWrite Op = iota + 1
	// OpRemove means the path was deleted or renamed away.
	OpRemove
	// OpRescan asks for a full reconciliation, for changes that cannot be
	// pinned to one document such as a directory being moved.
	OpRescan
)

// String returns the op name.
func (o Op) String() string {
	switch o {
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRescan:
		return "rescan"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Event is one change under the root. Path is relative to the root.
type Event struct {
	Op   Op
	Path string
}

// Key identifies the document an event concerns. Events with the same key
// supersede each other while they wait to be applied.
func (e Event) Key() string {
	if e.Op == OpRescan {
		return "\x00rescan"
	}
	return filepath.ToSlash(e.Path)
}

// Result counts what one pass did.
type Result struct {
	Inserted int
	Updated  int
	Deleted  int
	Skipped  int
	// Errors holds per-document failures; the pass still committed.
	Errors []error
	// Extended lists column names added to the plan during the pass.
	Extended []string
}

// Changed reports whether the pass wrote anything.
func (r *Result) Changed() bool {
	return r.Inserted+r.Updated+r.Deleted > 0 || len(r.Extended) > 0
}

// Add accumulates other into r.
func (r *Result) Add(other *Result) {
	if other == nil {
		return
	}
	r.Inserted += other.Inserted
	r.Updated += other.Updated
	r.Deleted += other.Deleted
	r.Skipped += other.Skipped
	r.Errors = append(r.Errors, other.Errors...)
	r.Extended = append(r.Extended, other.Extended...)
}

// String summarizes the counts.
func (r *Result) String() string {
	return fmt.Sprintf("inserted=%d updated=%d deleted=%d skipped=%d errors=%d",
		r.Inserted, r.Updated, r.Deleted, r.Skipped, len(r.Errors))
}
