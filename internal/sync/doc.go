// Package sync reconciles a directory of markdown documents with a table in
// the SQLite store.
//
// Overview
//
// The syncer reads documents from disk, compares each document's
// fingerprint with the one recorded for its identity and writes only what
// changed:
//
//	Directory (markdown files)
//	     └── **/*.md              → document.Document
//	                                      ↓
//	                                   Syncer  ← plan.Plan
//	                                      ↓
//	                                   db.Batch (one transaction)
//	                                      ↓
//	                                   SQLite table
//
// Usage
//
// Full reconciliation:
//
//	scan, err := sync.Scan(ctx, root, matcher)
//	if err != nil {
//	    return err
//	}
//	p := plan.Merge(stored, plan.Build(scan.Docs, 1800, 20))
//	if err := p.Err(); err != nil {
//	    return err // nothing written
//	}
//	syncer := sync.New(database, p, sync.Config{Root: root, Table: "docs", Filter: matcher})
//	res, err := syncer.ReconcileScan(ctx, scan)
//
// Incremental reconciliation, as used by the watch daemon:
//
//	res, err := syncer.ApplyEvent(ctx, sync.Event{Op: sync.OpWrite, Path: "notes/a.md"})
//
// Error Handling
//
//   - Documents that fail to parse are logged, reported in Result.Errors and
//     skipped; their stored rows are kept.
//   - A missing or unreadable root is a *FileSystemError.
//   - Store failures are *db.StoreError; the batch was rolled back.
//   - A new frontmatter key that would exceed the column budget skips that
//     document with an error wrapping plan.ErrBudgetExceeded.
//
// Concurrency
//
// Parsing during Scan runs on GOMAXPROCS goroutines. Mutation is single
// writer: passes on one Syncer are serialized by a mutex, and each pass is
// exactly one db.Batch.
package sync
