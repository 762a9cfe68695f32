package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/sqldown/internal/document"
)

// ErrRootNotFound is wrapped by a FileSystemError when the root is missing.
var ErrRootNotFound = errors.New("root directory not found")

// FileSystemError reports a root that cannot be read. It is fatal for a pass.
type FileSystemError struct {
	Path string
	Err  error
}

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error { return e.Err }

// ScanResult is the parsed corpus under a root.
type ScanResult struct {
	// Docs are sorted by relative path.
	Docs []*document.Document
	// Paths lists every candidate path, including ones that failed to parse.
	Paths []string
	// Errors holds one *document.ParseError per failed candidate or
	// unreadable directory.
	Errors []error
	// Unreadable lists directories that could not be walked. Nothing is
	// known about the documents below them.
	Unreadable []string
}

// Covers reports whether rel was visible to the scan, that is, whether it
// lies outside every unreadable directory.
func (r *ScanResult) Covers(rel string) bool {
	for _, dir := range r.Unreadable {
		if rel == dir || strings.HasPrefix(rel, dir+"/") {
			return false
		}
	}
	return true
}

// CheckRoot verifies that root is a readable directory.
func CheckRoot(root string) error {
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return &FileSystemError{Path: root, Err: ErrRootNotFound}
	}
	if err != nil {
		return &FileSystemError{Path: root, Err: err}
	}
	if !info.IsDir() {
		return &FileSystemError{Path: root, Err: fmt.Errorf("not a directory")}
	}
	return nil
}

// Scan finds every document under root accepted by filter and parses them
// in parallel. Parse failures are collected, not returned.
func Scan(ctx context.Context, root string, filter Filter) (*ScanResult, error) {
	if err := CheckRoot(root); err != nil {
		return nil, err
	}

	res, err := discover(root, filter)
	if err != nil {
		return nil, err
	}
	paths := res.Paths

	docs := make([]*document.Document, len(paths))
	parseErrs := make([]error, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, rel := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, err := document.ReadFile(root, rel)
			if err != nil {
				parseErrs[i] = err
				return nil
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range paths {
		if docs[i] != nil {
			res.Docs = append(res.Docs, docs[i])
		}
		if parseErrs[i] != nil {
			res.Errors = append(res.Errors, parseErrs[i])
		}
	}
	return res, nil
}

// discover walks root and returns the sorted relative paths of candidates.
// Unreadable subdirectories are reported as errors and skipped.
func discover(root string, filter Filter) (*ScanResult, error) {
	res := &ScanResult{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if err != nil {
			if path == root {
				return &FileSystemError{Path: root, Err: err}
			}
			res.Errors = append(res.Errors, &document.ParseError{Path: rel, Reason: document.ReasonUnreadable, Err: err})
			res.Unreadable = append(res.Unreadable, rel)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != root && filter.SkipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		// Symlinks are not followed.
		if d.Type()&fs.ModeSymlink != 0 || !d.Type().IsRegular() {
			return nil
		}

		if filter.Match(rel) {
			res.Paths = append(res.Paths, rel)
		}
		return nil
	})
	if err != nil {
		var fsErr *FileSystemError
		if errors.As(err, &fsErr) {
			return nil, fsErr
		}
		return nil, &FileSystemError{Path: root, Err: err}
	}

	sort.Strings(res.Paths)
	return res, nil
}
