package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	gosync "sync"
	"time"

	"github.com/steveyegge/sqldown/internal/sync"
)

// DefaultDebounce is how long a path must stay quiet before its change is
// applied.
const DefaultDebounce = 150 * time.Millisecond

// Config holds configuration for the daemon.
type Config struct {
	// Debounce is how long to wait after the last event for a path before
	// applying it. Rapid saves to one file are folded into one pass.
	Debounce time.Duration

	// Logger for daemon activity
	Logger *log.Logger

	// OnResult, when set, is called from the event loop after every pass,
	// including the initial reconciliation (reported as a sync.OpRescan).
	OnResult func(ev sync.Event, res *sync.Result)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce: DefaultDebounce,
		Logger:   log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Stats counts what the daemon has done since Run started.
type Stats struct {
	// Events is the number of events received from the watcher.
	Events int
	// Coalesced is the number of events superseded by a newer one for the
	// same path before they were applied.
	Coalesced int
	// Applied is the number of passes run, the initial one included.
	Applied int
	// Errors counts watcher errors and failed passes.
	Errors int
}

// pendingEvent is an event waiting out its debounce window.
type pendingEvent struct {
	ev  sync.Event
	due time.Time
	seq uint64
}

// Daemon keeps a table in sync with its document root until cancelled.
//
// All reconciliation happens on the goroutine that calls Run: events are
// applied one at a time, so a path is never reconciled concurrently with
// itself.
type Daemon struct {
	syncer sync.Syncer
	filter sync.Filter
	config *Config

	pending map[string]pendingEvent
	seq     uint64

	statsMu gosync.Mutex
	stats   Stats
}

// New creates a daemon for syncer, watching the documents filter selects.
//
// Use Run() to begin watching and syncing.
func New(syncer sync.Syncer, filter sync.Filter) (*Daemon, error) {
	return NewWithConfig(syncer, filter, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(syncer sync.Syncer, filter sync.Filter, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if filter == nil {
		return nil, fmt.Errorf("filter cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	return &Daemon{
		syncer:  syncer,
		filter:  filter,
		config:  config,
		pending: make(map[string]pendingEvent),
	}, nil
}

// Run watches the root, performs a full reconciliation and then applies
// changes as they arrive.
//
// This blocks until ctx is cancelled. A pass already running when ctx is
// cancelled is allowed to finish; events still waiting out their debounce
// window are dropped and picked up by the next load.
func (d *Daemon) Run(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	fw, err := NewFileWatcher()
	if err != nil {
		return err
	}
	defer func() {
		if err := fw.Stop(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}()

	// Watch before the initial pass so edits made during it are not lost.
	if err := fw.Start(d.syncer.Root(), d.filter); err != nil {
		return err
	}
	d.config.Logger.Printf("Watching: %s (%d directories)", d.syncer.Root(), fw.Dirs())

	// Only the scan observes ctx; once it is done the pass runs to completion
	// like every later one.
	scan, err := sync.Scan(ctx, d.syncer.Root(), d.filter)
	if err != nil {
		return fmt.Errorf("initial scan failed: %w", err)
	}
	res, err := d.syncer.ReconcileScan(context.WithoutCancel(ctx), scan)
	if err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}
	d.report(sync.Event{Op: sync.OpRescan}, res)

	return d.loop(ctx, fw.Events(), fw.Errors())
}

// Stats returns a snapshot of the daemon's counters.
func (d *Daemon) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

// loop is the single event loop. Its only suspension point is the select.
func (d *Daemon) loop(ctx context.Context, events <-chan sync.Event, errs <-chan error) error {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	armed := false

	for {
		select {
		case <-ctx.Done():
			d.config.Logger.Println("Shutdown signal received")
			if n := len(d.pending); n > 0 {
				d.config.Logger.Printf("Dropping %d pending change(s)", n)
			}
			d.config.Logger.Println("Daemon stopped")
			return nil

		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("watcher stopped")
			}
			d.queue(ev, time.Now())

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.count(func(s *Stats) { s.Errors++ })
			d.config.Logger.Printf("Watcher error: %v", err)
			continue

		case <-timer.C:
			armed = false
			d.processDue(ctx, time.Now())
		}

		if armed {
			timer.Stop()
			armed = false
		}
		if next, ok := d.nextDue(); ok {
			timer.Reset(max(time.Until(next), 0))
			armed = true
		}
	}
}

// queue records ev, superseding any pending event for the same document
// and restarting its debounce window.
func (d *Daemon) queue(ev sync.Event, now time.Time) {
	d.count(func(s *Stats) { s.Events++ })

	key := ev.Key()
	if _, ok := d.pending[key]; ok {
		d.count(func(s *Stats) { s.Coalesced++ })
	}
	d.seq++
	d.pending[key] = pendingEvent{ev: ev, due: now.Add(d.config.Debounce), seq: d.seq}
}

func (d *Daemon) nextDue() (time.Time, bool) {
	var next time.Time
	found := false
	for _, p := range d.pending {
		if !found || p.due.Before(next) {
			next = p.due
			found = true
		}
	}
	return next, found
}

// processDue applies every pending event whose window has closed, oldest
// first. A due rescan covers every other due event.
func (d *Daemon) processDue(ctx context.Context, now time.Time) {
	var due []pendingEvent
	for key, p := range d.pending {
		if p.due.After(now) {
			continue
		}
		due = append(due, p)
		delete(d.pending, key)
	}
	if len(due) == 0 {
		return
	}
	sort.Slice(due, func(i, j int) bool { return due[i].seq < due[j].seq })

	for _, p := range due {
		if p.ev.Op == sync.OpRescan {
			if n := len(due) - 1; n > 0 {
				d.count(func(s *Stats) { s.Coalesced += n })
			}
			due = []pendingEvent{p}
			break
		}
	}

	for _, p := range due {
		if ctx.Err() != nil {
			return
		}
		d.apply(ctx, p.ev)
	}
}

// apply runs one pass. The pass is detached from ctx so that cancellation
// never interrupts a batch.
func (d *Daemon) apply(ctx context.Context, ev sync.Event) {
	if ev.Op == sync.OpRescan {
		d.config.Logger.Println("Processing change: rescan")
	} else {
		d.config.Logger.Printf("Processing change: %s %s", ev.Op, ev.Path)
	}

	res, err := d.syncer.ApplyEvent(context.WithoutCancel(ctx), ev)
	if err != nil {
		d.count(func(s *Stats) { s.Errors++ })
		d.config.Logger.Printf("Error syncing %s: %v", ev.Path, err)
		return
	}
	d.report(ev, res)
}

func (d *Daemon) report(ev sync.Event, res *sync.Result) {
	d.count(func(s *Stats) {
		s.Applied++
		s.Errors += len(res.Errors)
	})
	if res.Changed() {
		d.config.Logger.Printf("Synced: %s", res)
	}
	if d.config.OnResult != nil {
		d.config.OnResult(ev, res)
	}
}

func (d *Daemon) count(fn func(*Stats)) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	fn(&d.stats)
}
