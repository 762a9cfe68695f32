package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"

	"github.com/fsnotify/fsnotify"

	"github.com/steveyegge/sqldown/internal/sync"
)

// EventBuffer is the capacity of the watcher's event channel.
const EventBuffer = 256

// FileWatcher watches a document root, including every subdirectory, and
// turns fsnotify notifications into sync.Event values.
//
// New directories are watched as they appear. Directory creation, removal
// and renames are reported as sync.OpRescan because the documents they carry
// cannot be enumerated from the notification alone.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan sync.Event
	errors  chan error
	done    chan struct{}
	wg      gosync.WaitGroup
	mu      gosync.Mutex
	running bool
	root    string
	filter  sync.Filter
	dirs    map[string]struct{} // absolute paths of watched directories
}

// NewFileWatcher creates a new FileWatcher instance.
// The watcher must be started with Start() before it will emit events.
func NewFileWatcher() (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher: watcher,
		events:  make(chan sync.Event, EventBuffer),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		dirs:    make(map[string]struct{}),
	}, nil
}

// Start begins watching root and its subdirectories. Directories filter
// skips are not watched, and file events filter does not match are dropped.
func (fw *FileWatcher) Start(root string, filter sync.Filter) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve root %s: %w", root, err)
	}
	fw.root = abs
	fw.filter = filter

	if err := fw.addTree(abs); err != nil {
		for dir := range fw.dirs {
			_ = fw.watcher.Remove(dir)
		}
		fw.dirs = make(map[string]struct{})
		return err
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return fw.watcher.Close()
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)

	// Closing the underlying watcher unblocks the event loop.
	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)

	return nil
}

// Events returns the channel that emits sync.Event notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Events() <-chan sync.Event {
	return fw.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

// Dirs returns the number of directories being watched.
func (fw *FileWatcher) Dirs() int {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return len(fw.dirs)
}

// addTree watches dir and every directory below it. The caller holds mu.
func (fw *FileWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return fmt.Errorf("failed to watch %s: %w", p, err)
			}
			// A subdirectory vanished or is unreadable; keep going.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != fw.root && fw.filter != nil && fw.filter.SkipDir(fw.rel(p)) {
			return filepath.SkipDir
		}
		if _, ok := fw.dirs[p]; ok {
			return nil
		}
		if err := fw.watcher.Add(p); err != nil {
			if p == dir {
				return fmt.Errorf("failed to watch %s: %w", p, err)
			}
			return nil
		}
		fw.dirs[p] = struct{}{}
		return nil
	})
}

// forgetTree drops dir and everything below it from the watched set.
func (fw *FileWatcher) forgetTree(dir string) {
	prefix := dir + string(filepath.Separator)
	for p := range fw.dirs {
		if p == dir || strings.HasPrefix(p, prefix) {
			// fsnotify drops watches on removed directories itself; Remove
			// only matters for renames and may fail harmlessly.
			_ = fw.watcher.Remove(p)
			delete(fw.dirs, p)
		}
	}
}

func (fw *FileWatcher) rel(p string) string {
	rel, err := filepath.Rel(fw.root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

// processEvents is the main event loop that processes fsnotify events
// and converts them to sync.Event notifications.
func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			ev, ok := fw.convertEvent(event)
			if !ok {
				continue
			}
			select {
			case fw.events <- ev:
			case <-fw.done:
				return
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

// convertEvent converts an fsnotify event to a sync.Event.
// Returns (sync.Event, true) if the event should be processed,
// or (sync.Event{}, false) if the event should be ignored.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) (sync.Event, bool) {
	// Ignore chmod and anything else that does not change content.
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return sync.Event{}, false
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	p := filepath.Clean(event.Name)
	rel := fw.rel(p)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return sync.Event{}, false
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		if _, ok := fw.dirs[p]; ok {
			fw.forgetTree(p)
			return sync.Event{Op: sync.OpRescan}, true
		}
		if fw.filter != nil && !fw.filter.Match(rel) {
			return sync.Event{}, false
		}
		return sync.Event{Op: sync.OpRemove, Path: rel}, true
	}

	if event.Has(fsnotify.Create) {
		info, err := os.Lstat(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return sync.Event{}, false
			}
		} else if info.Mode()&fs.ModeSymlink != 0 {
			// Scan does not follow symlinks either.
			return sync.Event{}, false
		} else if info.IsDir() {
			if fw.filter != nil && fw.filter.SkipDir(rel) {
				return sync.Event{}, false
			}
			if err := fw.addTree(p); err != nil {
				select {
				case fw.errors <- err:
				default:
				}
			}
			// Files may have landed in the directory before it was watched.
			return sync.Event{Op: sync.OpRescan}, true
		}
	}

	if fw.filter != nil && !fw.filter.Match(rel) {
		return sync.Event{}, false
	}
	return sync.Event{Op: sync.OpWrite, Path: rel}, true
}
