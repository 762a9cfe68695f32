package daemon

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/steveyegge/sqldown/internal/db"
	"github.com/steveyegge/sqldown/internal/ignore"
	"github.com/steveyegge/sqldown/internal/plan"
	"github.com/steveyegge/sqldown/internal/sync"
)

// fakeSyncer records the events it is asked to apply.
type fakeSyncer struct {
	mu      gosync.Mutex
	root    string
	applied []sync.Event
	fail    map[string]error

	// onScan runs at the start of ReconcileScan; scanErr records the
	// state of the context it was given.
	onScan  func()
	scanErr error
}

func (f *fakeSyncer) Reconcile(ctx context.Context) (*sync.Result, error) {
	return f.ApplyEvent(ctx, sync.Event{Op: sync.OpRescan})
}

func (f *fakeSyncer) ReconcileScan(ctx context.Context, _ *sync.ScanResult) (*sync.Result, error) {
	if f.onScan != nil {
		f.onScan()
	}
	f.mu.Lock()
	f.scanErr = ctx.Err()
	f.mu.Unlock()
	return f.Reconcile(ctx)
}

func (f *fakeSyncer) ApplyEvent(_ context.Context, ev sync.Event) (*sync.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, ev)
	if err := f.fail[ev.Path]; err != nil {
		return nil, err
	}
	return &sync.Result{Updated: 1}, nil
}

func (f *fakeSyncer) Plan() *plan.Plan { return nil }
func (f *fakeSyncer) Root() string     { return f.root }

func (f *fakeSyncer) events() []sync.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sync.Event(nil), f.applied...)
}

type allFilter struct{}

func (allFilter) Match(string) bool   { return true }
func (allFilter) SkipDir(string) bool { return false }

// newTestDaemon creates a daemon around a fakeSyncer with a short debounce.
func newTestDaemon(t *testing.T, debounce time.Duration) (*Daemon, *fakeSyncer) {
	t.Helper()

	fake := &fakeSyncer{root: t.TempDir(), fail: map[string]error{}}
	d, err := NewWithConfig(fake, allFilter{}, &Config{
		Debounce: debounce,
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	return d, fake
}

// runLoop runs the event loop in the background and returns a stop
// function that cancels it and waits for it to return.
func runLoop(t *testing.T, d *Daemon, events chan sync.Event, errs chan error) func() error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.loop(ctx, events, errs) }()

	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("loop did not return after cancel")
			return nil
		}
	}
}

// waitForApplied polls until the fake has applied n events.
func waitForApplied(t *testing.T, fake *fakeSyncer, n int) []sync.Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := fake.events(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d applied events, got %v", n, fake.events())
	return nil
}

func TestNewWithConfig(t *testing.T) {
	fake := &fakeSyncer{root: t.TempDir()}

	tests := []struct {
		name    string
		syncer  sync.Syncer
		filter  sync.Filter
		wantErr bool
	}{
		{name: "valid", syncer: fake, filter: allFilter{}},
		{name: "nil syncer", syncer: nil, filter: allFilter{}, wantErr: true},
		{name: "nil filter", syncer: fake, filter: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewWithConfig(tt.syncer, tt.filter, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewWithConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && d.config.Debounce != DefaultDebounce {
				t.Errorf("Debounce = %v, want %v", d.config.Debounce, DefaultDebounce)
			}
		})
	}
}

func TestDaemon_CoalescesBurst(t *testing.T) {
	d, fake := newTestDaemon(t, 30*time.Millisecond)
	events := make(chan sync.Event, EventBuffer)
	stop := runLoop(t, d, events, make(chan error))

	for i := 0; i < 5; i++ {
		events <- sync.Event{Op: sync.OpWrite, Path: "a.md"}
	}

	waitForApplied(t, fake, 1)
	time.Sleep(100 * time.Millisecond)
	if err := stop(); err != nil {
		t.Fatalf("loop returned %v", err)
	}

	want := []sync.Event{{Op: sync.OpWrite, Path: "a.md"}}
	if diff := cmp.Diff(want, fake.events()); diff != "" {
		t.Errorf("applied events (-want +got):\n%s", diff)
	}
	stats := d.Stats()
	if stats.Events != 5 || stats.Coalesced != 4 || stats.Applied != 1 {
		t.Errorf("Stats() = %+v, want 5 events, 4 coalesced, 1 applied", stats)
	}
}

func TestDaemon_DistinctPathsInOrder(t *testing.T) {
	d, fake := newTestDaemon(t, 10*time.Millisecond)
	events := make(chan sync.Event, EventBuffer)
	stop := runLoop(t, d, events, make(chan error))
	defer stop()

	events <- sync.Event{Op: sync.OpWrite, Path: "a.md"}
	events <- sync.Event{Op: sync.OpWrite, Path: "b.md"}

	got := waitForApplied(t, fake, 2)
	want := []sync.Event{
		{Op: sync.OpWrite, Path: "a.md"},
		{Op: sync.OpWrite, Path: "b.md"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("applied events (-want +got):\n%s", diff)
	}
}

func TestDaemon_NewerEventSupersedes(t *testing.T) {
	d, fake := newTestDaemon(t, time.Second)
	now := time.Now()

	d.queue(sync.Event{Op: sync.OpWrite, Path: "a.md"}, now)
	d.queue(sync.Event{Op: sync.OpRemove, Path: "a.md"}, now.Add(10*time.Millisecond))

	// The first deadline has passed but the window restarted.
	d.processDue(context.Background(), now.Add(time.Second+5*time.Millisecond))
	if got := fake.events(); len(got) != 0 {
		t.Fatalf("applied %v before the window closed", got)
	}

	d.processDue(context.Background(), now.Add(2*time.Second))
	want := []sync.Event{{Op: sync.OpRemove, Path: "a.md"}}
	if diff := cmp.Diff(want, fake.events()); diff != "" {
		t.Errorf("applied events (-want +got):\n%s", diff)
	}
}

func TestDaemon_ProcessDueKeepsQuietPaths(t *testing.T) {
	d, fake := newTestDaemon(t, 100*time.Millisecond)
	now := time.Now()

	d.queue(sync.Event{Op: sync.OpWrite, Path: "a.md"}, now)
	d.queue(sync.Event{Op: sync.OpWrite, Path: "b.md"}, now.Add(time.Second))

	d.processDue(context.Background(), now.Add(200*time.Millisecond))

	want := []sync.Event{{Op: sync.OpWrite, Path: "a.md"}}
	if diff := cmp.Diff(want, fake.events()); diff != "" {
		t.Errorf("applied events (-want +got):\n%s", diff)
	}
	if _, ok := d.pending["b.md"]; !ok {
		t.Error("b.md should still be pending")
	}
	next, ok := d.nextDue()
	if !ok || !next.Equal(now.Add(time.Second+100*time.Millisecond)) {
		t.Errorf("nextDue() = %v, %v", next, ok)
	}
}

func TestDaemon_RescanCoversDueEvents(t *testing.T) {
	d, fake := newTestDaemon(t, 10*time.Millisecond)
	now := time.Now()

	d.queue(sync.Event{Op: sync.OpWrite, Path: "a.md"}, now)
	d.queue(sync.Event{Op: sync.OpRescan}, now)
	d.queue(sync.Event{Op: sync.OpRescan}, now)
	d.queue(sync.Event{Op: sync.OpWrite, Path: "b.md"}, now)

	d.processDue(context.Background(), now.Add(time.Second))

	want := []sync.Event{{Op: sync.OpRescan}}
	if diff := cmp.Diff(want, fake.events()); diff != "" {
		t.Errorf("applied events (-want +got):\n%s", diff)
	}
	if got := d.Stats().Coalesced; got != 3 {
		t.Errorf("Coalesced = %d, want 3", got)
	}
}

func TestDaemon_CancelledContextStopsProcessing(t *testing.T) {
	d, fake := newTestDaemon(t, 10*time.Millisecond)
	now := time.Now()
	d.queue(sync.Event{Op: sync.OpWrite, Path: "a.md"}, now)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.processDue(ctx, now.Add(time.Second))

	if got := fake.events(); len(got) != 0 {
		t.Errorf("applied %v after cancel", got)
	}
}

func TestDaemon_InitialPassSurvivesCancel(t *testing.T) {
	d, fake := newTestDaemon(t, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake.onScan = cancel

	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if fake.scanErr != nil {
		t.Errorf("initial pass saw a cancelled context: %v", fake.scanErr)
	}
	want := []sync.Event{{Op: sync.OpRescan}}
	if diff := cmp.Diff(want, fake.events()); diff != "" {
		t.Errorf("applied events (-want +got):\n%s", diff)
	}
}

func TestDaemon_ErrorsDoNotStopLoop(t *testing.T) {
	d, fake := newTestDaemon(t, 10*time.Millisecond)
	fake.fail["bad.md"] = errors.New("disk on fire")

	events := make(chan sync.Event, EventBuffer)
	errs := make(chan error, 1)
	stop := runLoop(t, d, events, errs)

	errs <- errors.New("queue overflow")
	events <- sync.Event{Op: sync.OpWrite, Path: "bad.md"}
	waitForApplied(t, fake, 1)
	events <- sync.Event{Op: sync.OpWrite, Path: "good.md"}
	waitForApplied(t, fake, 2)
	if err := stop(); err != nil {
		t.Fatalf("loop returned %v", err)
	}

	stats := d.Stats()
	if stats.Errors != 2 {
		t.Errorf("Errors = %d, want 2", stats.Errors)
	}
	if stats.Applied != 1 {
		t.Errorf("Applied = %d, want 1", stats.Applied)
	}
}

func TestDaemon_ClosedEventsEndsLoop(t *testing.T) {
	d, _ := newTestDaemon(t, 10*time.Millisecond)
	events := make(chan sync.Event)
	close(events)

	if err := d.loop(context.Background(), events, nil); err == nil {
		t.Error("loop() should fail when the event channel closes")
	}
}

func TestDaemon_OnResult(t *testing.T) {
	d, _ := newTestDaemon(t, 10*time.Millisecond)

	var got []sync.Event
	d.config.OnResult = func(ev sync.Event, res *sync.Result) {
		if res.Updated != 1 {
			t.Errorf("OnResult got %v", res)
		}
		got = append(got, ev)
	}

	now := time.Now()
	d.queue(sync.Event{Op: sync.OpWrite, Path: "a.md"}, now)
	d.processDue(context.Background(), now.Add(time.Second))

	want := []sync.Event{{Op: sync.OpWrite, Path: "a.md"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("OnResult events (-want +got):\n%s", diff)
	}
}

// TestDaemon_Run exercises the daemon end to end against a real store.
func TestDaemon_Run(t *testing.T) {
	tmpDir := t.TempDir()
	root := filepath.Join(tmpDir, "docs")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "a.md"), []byte("---\nstatus: open\n---\n# A\n"), 0644); err != nil {
		t.Fatal(err)
	}

	database, err := db.Open(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	defer database.Close()

	filter, err := ignore.New(root, ignore.Options{})
	if err != nil {
		t.Fatal(err)
	}
	scan, err := sync.Scan(context.Background(), root, filter)
	if err != nil {
		t.Fatal(err)
	}
	logger := log.New(io.Discard, "", 0)
	syncer := sync.New(database, plan.Build(scan.Docs, 1800, 20), sync.Config{
		Root: root, Table: "docs", Filter: filter, Logger: logger,
	})

	initial := make(chan struct{})
	var once gosync.Once
	d, err := NewWithConfig(syncer, filter, &Config{
		Debounce: 20 * time.Millisecond,
		Logger:   logger,
		OnResult: func(ev sync.Event, _ *sync.Result) {
			if ev.Op == sync.OpRescan {
				once.Do(func() { close(initial) })
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case <-initial:
	case <-time.After(5 * time.Second):
		t.Fatal("initial reconciliation did not happen")
	}

	waitForCount := func(want int) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			n, err := database.Count(context.Background(), "docs")
			if err == nil && n == want {
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
		t.Fatalf("row count never reached %d", want)
	}

	waitForCount(1)
	if err := os.WriteFile(filepath.Join(root, "b.md"), []byte("# B\n"), 0644); err != nil {
		t.Fatal(err)
	}
	waitForCount(2)
	if err := os.Remove(filepath.Join(root, "a.md")); err != nil {
		t.Fatal(err)
	}
	waitForCount(1)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
