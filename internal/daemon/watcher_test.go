package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/steveyegge/sqldown/internal/ignore"
	"github.com/steveyegge/sqldown/internal/sync"
)

// startWatcher starts a FileWatcher on a fresh root with the default pattern.
func startWatcher(t *testing.T) (*FileWatcher, string) {
	t.Helper()

	root := t.TempDir()
	filter, err := ignore.New(root, ignore.Options{Pattern: ignore.DefaultPattern})
	if err != nil {
		t.Fatalf("ignore.New() failed: %v", err)
	}

	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	t.Cleanup(func() { _ = fw.Stop() })

	if err := fw.Start(root, filter); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	return fw, root
}

// waitForEvent reads events until one satisfies match.
func waitForEvent(t *testing.T, fw *FileWatcher, match func(sync.Event) bool) sync.Event {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-fw.Events():
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("Timeout waiting for event")
			return sync.Event{}
		}
	}
}

// TestNewFileWatcher verifies that creating a new FileWatcher succeeds.
func TestNewFileWatcher(t *testing.T) {
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if fw.IsRunning() {
		t.Error("Newly created watcher should not be running")
	}
}

// TestFileWatcher_StartStop verifies that the watcher can start and stop cleanly.
func TestFileWatcher_StartStop(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "a", "b"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "node_modules", "x"), 0755); err != nil {
		t.Fatal(err)
	}
	filter, err := ignore.New(root, ignore.Options{})
	if err != nil {
		t.Fatal(err)
	}

	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}

	if err := fw.Start(root, filter); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !fw.IsRunning() {
		t.Error("Watcher should be running after Start()")
	}
	// root, a, a/b; node_modules is skipped.
	if got := fw.Dirs(); got != 3 {
		t.Errorf("Dirs() = %d, want 3", got)
	}

	if err := fw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if fw.IsRunning() {
		t.Error("Watcher should not be running after Stop()")
	}

	// Channels are closed after Stop.
	if _, ok := <-fw.Events(); ok {
		t.Error("Events() should be closed after Stop()")
	}
}

// TestFileWatcher_StartAlreadyRunning verifies that starting an already running watcher fails.
func TestFileWatcher_StartAlreadyRunning(t *testing.T) {
	fw, root := startWatcher(t)

	if err := fw.Start(root, nil); err == nil {
		t.Error("Second Start() should fail when watcher is already running")
	}
}

func TestFileWatcher_StartMissingRoot(t *testing.T) {
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatal(err)
	}
	defer fw.Stop()

	if err := fw.Start(filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Error("Start() on a missing root should fail")
	}
	if fw.IsRunning() {
		t.Error("Watcher should not be running after a failed Start()")
	}
}

// TestFileWatcher_DocumentWritten verifies that creating a document triggers a write event.
func TestFileWatcher_DocumentWritten(t *testing.T) {
	fw, root := startWatcher(t)

	if err := os.WriteFile(filepath.Join(root, "note.md"), []byte("# Note\n"), 0644); err != nil {
		t.Fatalf("Failed to write document: %v", err)
	}

	ev := waitForEvent(t, fw, func(ev sync.Event) bool { return ev.Path == "note.md" })
	if ev.Op != sync.OpWrite {
		t.Errorf("Expected OpWrite, got %v", ev.Op)
	}
}

// TestFileWatcher_DocumentRemoved verifies that deleting a document triggers a remove event.
func TestFileWatcher_DocumentRemoved(t *testing.T) {
	fw, root := startWatcher(t)

	path := filepath.Join(root, "note.md")
	if err := os.WriteFile(path, []byte("# Note\n"), 0644); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, fw, func(ev sync.Event) bool { return ev.Path == "note.md" })

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, fw, func(ev sync.Event) bool {
		return ev.Path == "note.md" && ev.Op == sync.OpRemove
	})
}

// TestFileWatcher_IgnoresNonDocuments verifies that files outside the pattern are dropped.
func TestFileWatcher_IgnoresNonDocuments(t *testing.T) {
	fw, root := startWatcher(t)

	if err := os.WriteFile(filepath.Join(root, "data.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "z.md"), []byte("z"), 0644); err != nil {
		t.Fatal(err)
	}

	// The first event delivered must be for the document, not the JSON file.
	ev := waitForEvent(t, fw, func(sync.Event) bool { return true })
	if ev.Path != "z.md" {
		t.Errorf("first event path = %q, want z.md", ev.Path)
	}
}

// TestFileWatcher_NewDirectory verifies that new directories trigger a rescan
// and are watched from then on.
func TestFileWatcher_NewDirectory(t *testing.T) {
	fw, root := startWatcher(t)

	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, fw, func(ev sync.Event) bool { return ev.Op == sync.OpRescan })
	if got := fw.Dirs(); got != 2 {
		t.Errorf("Dirs() = %d, want 2", got)
	}

	if err := os.WriteFile(filepath.Join(sub, "inner.md"), []byte("# Inner\n"), 0644); err != nil {
		t.Fatal(err)
	}
	ev := waitForEvent(t, fw, func(ev sync.Event) bool { return ev.Op == sync.OpWrite })
	if ev.Path != "sub/inner.md" {
		t.Errorf("event path = %q, want sub/inner.md", ev.Path)
	}
}

// TestFileWatcher_DirectoryRemoved verifies that removing a watched
// directory triggers a rescan.
func TestFileWatcher_DirectoryRemoved(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	filter, err := ignore.New(root, ignore.Options{})
	if err != nil {
		t.Fatal(err)
	}
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatal(err)
	}
	defer fw.Stop()
	if err := fw.Start(root, filter); err != nil {
		t.Fatal(err)
	}

	if err := os.RemoveAll(sub); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, fw, func(ev sync.Event) bool { return ev.Op == sync.OpRescan })
	if got := fw.Dirs(); got != 1 {
		t.Errorf("Dirs() = %d, want 1", got)
	}
}
