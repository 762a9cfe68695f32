// Package daemon keeps a table in sync with its document root while the
// files change.
//
// # Architecture
//
// The daemon consists of two components:
//
//   - FileWatcher: recursive file system event monitoring using fsnotify
//   - Daemon: one event loop that debounces changes and hands them to a
//     sync.Syncer one at a time
//
// # Running
//
//	d, err := daemon.NewWithConfig(syncer, matcher, &daemon.Config{
//	    Debounce: 150 * time.Millisecond,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	err = d.Run(ctx) // blocks until interrupted
//
// Run starts the watcher, performs a full reconciliation and then loops. The
// loop selects on the watcher's events and errors, a single debounce timer
// and ctx. It does nothing else while idle.
//
// # Debouncing
//
// Pending events are keyed by sync.Event.Key. A new event for a key replaces
// the pending one and restarts its window, so an editor's save storm becomes
// one pass. When the window closes the pending event is applied; if a rescan
// is among the due events it is applied alone, since it covers the rest.
//
// # Event Mapping
//
// The watcher maps fsnotify operations as follows:
//   - fsnotify.Create, fsnotify.Write on a document → sync.OpWrite
//   - fsnotify.Remove, fsnotify.Rename on a document → sync.OpRemove (the new
//     name arrives as a separate Create)
//   - any of these on a directory → sync.OpRescan
//
// Paths on events are slash-separated and relative to the root. Chmod is
// ignored, as are files the filter does not match.
//
// # Error Handling
//
// Watcher errors are logged and counted; the loop keeps running. A pass that
// fails is logged and counted too; the store rolled its batch back and the
// next event for the path will try again.
//
// # Graceful Shutdown
//
// Cancelling ctx stops the loop at its next select. Passes run under
// context.WithoutCancel, so a batch in flight when the signal arrives
// finishes before Run returns. Events still inside their debounce window are
// dropped; the next load reconciles them.
package daemon
