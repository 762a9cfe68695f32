package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/sqldown/internal/config"
	"github.com/steveyegge/sqldown/internal/daemon"
	"github.com/steveyegge/sqldown/internal/db"
	"github.com/steveyegge/sqldown/internal/feed"
	"github.com/steveyegge/sqldown/internal/ignore"
	"github.com/steveyegge/sqldown/internal/plan"
	"github.com/steveyegge/sqldown/internal/sync"
	"github.com/steveyegge/sqldown/internal/ui"
)

var loadCmd = &cobra.Command{
	Use:     "load PATH",
	GroupID: "sync",
	Short:   "Load markdown files into the database",
	Long: `Load every markdown file under PATH into a table.

The column layout is planned from the whole corpus first. If it needs more
columns than --max-columns allows, nothing is written and load exits with
status 2. Otherwise new documents are inserted, changed ones updated,
unchanged ones skipped and rows whose file is gone deleted.

With --watch, load keeps running and applies file changes as they happen.

Examples:
  sqldown load ~/tasks
  sqldown load ~/notes -d notes.db -t my_notes
  sqldown load ~/tasks --top-sections 10
  sqldown load ~/notes --watch --feed-addr 127.0.0.1:7370`,
	Args: cobra.ExactArgs(1),
	RunE: runLoad,
}

func init() {
	f := loadCmd.Flags()
	f.StringP(config.KeyDB, "d", "", "Database file (default: <repo>/.sqldown.db or ./sqldown.db)")
	f.StringP(config.KeyTable, "t", config.DefaultTable, `Table name, or "auto" to derive it from PATH`)
	f.StringP(config.KeyPattern, "p", config.DefaultPattern, "File pattern")
	f.Int(config.KeyMaxColumns, config.DefaultMaxColumns, "Maximum allowed columns (SQLite limit: 2000)")
	f.Int(config.KeyTopSections, config.DefaultTopSections, "Extract only the top N most common sections (0 = all)")
	f.Bool(config.KeyGitignore, true, "Skip files excluded by PATH/.gitignore")
	f.BoolP("watch", "w", false, "Keep running and sync file changes")
	f.Duration(config.KeyDebounce, config.DefaultDebounce, "Quiet period before a changed file is synced (watch)")
	f.String(config.KeyFeedAddr, "", "Serve a WebSocket change feed on this address (watch)")
	f.String(config.KeyLogFile, "", "Also write logs to this file, rotated at 10 MB")
	f.BoolP(config.KeyVerbose, "v", false, "Verbose output")

	rootCmd.AddCommand(loadCmd)
}

func runLoad(cmd *cobra.Command, args []string) error {
	root := args[0]
	s, err := resolveSettings(cmd, root)
	if err != nil {
		return err
	}
	watch, _ := cmd.Flags().GetBool("watch")
	table := config.ResolveTable(s.Table, root)
	out := cmd.OutOrStdout()

	if err := sync.CheckRoot(root); err != nil {
		return err
	}

	logs, closeLogs := logOutput(s)
	defer func() { _ = closeLogs() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	matcher, err := ignore.New(root, ignore.Options{Pattern: s.Pattern, UseGitignore: s.Gitignore})
	if err != nil {
		return fmt.Errorf("failed to read ignore files: %w", err)
	}

	if s.Verbose {
		fmt.Fprintf(out, "📂 Scanning %s for %s\n", root, matcher.Pattern())
		fmt.Fprintf(out, "💾 Database: %s\n", s.DB)
		fmt.Fprintf(out, "📊 Table: %s\n\n", table)
	}

	start := time.Now()
	scan, err := sync.Scan(ctx, root, matcher)
	if err != nil {
		return err
	}
	if len(scan.Paths) == 0 {
		fmt.Fprintf(os.Stderr, "%s No markdown files found matching %s in %s\n",
			ui.RenderWarn("⚠"), matcher.Pattern(), root)
	}
	for _, e := range scan.Errors {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("⚠"), e)
	}

	var database *db.DB
	defer func() {
		if database != nil {
			_ = database.Close()
		}
	}()

	var stored *plan.Plan
	if db.Exists(s.DB) {
		if database, err = db.OpenExisting(ctx, s.DB); err != nil {
			return err
		}
		if stored, err = database.LoadPlanContext(ctx, table); err != nil {
			return err
		}
	}

	p := plan.Merge(stored, plan.Build(scan.Docs, s.MaxColumns, s.TopSections))
	if s.Verbose {
		printBreakdown(out, p.Report())
	}

	switch p.Status {
	case plan.StatusWarning:
		fmt.Fprintf(os.Stderr, "%s Warning: Approaching column limit (%d/%d)\n",
			ui.RenderWarn("⚠"), len(p.Columns), p.MaxColumns)
		fmt.Fprintln(os.Stderr, "   Consider reducing document diversity or increasing --max-columns")
	case plan.StatusExceeded:
		err := p.Err()
		printExceeded(os.Stderr, p.Report())
		return &reportedError{err: err}
	}

	if database == nil {
		if database, err = db.OpenContext(ctx, s.DB); err != nil {
			return err
		}
	}

	syncer := sync.New(database, p, sync.Config{
		Root:   root,
		Table:  table,
		Filter: matcher,
		Logger: newLogger(logs, "sync"),
	})
	res, err := syncer.ReconcileScan(ctx, scan)
	if err != nil {
		return err
	}

	printLoadResult(out, res, s.DB, table, time.Since(start))
	fmt.Fprintf(out, "📋 Schema has %d columns\n", len(syncer.Plan().Columns))

	if !watch {
		return nil
	}
	return runWatch(ctx, out, syncer, matcher, s, logs)
}

// runWatch follows file changes until ctx is cancelled.
func runWatch(ctx context.Context, out io.Writer, syncer sync.Syncer, matcher *ignore.Matcher, s config.Settings, logs io.Writer) error {
	cfg := &daemon.Config{
		Debounce: s.Debounce,
		Logger:   newLogger(logs, "daemon"),
		OnResult: func(ev sync.Event, res *sync.Result) {
			if !res.Changed() {
				return
			}
			what := ev.Path
			if ev.Op == sync.OpRescan {
				what = "full rescan"
			}
			fmt.Fprintf(out, "%s %s: %s\n", ui.RenderAccent("↻"), what, res)
		},
	}

	if s.FeedAddr != "" {
		server := feed.NewServer(&feed.Config{Addr: s.FeedAddr, Logger: newLogger(logs, "feed")})
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start feed: %w", err)
		}
		defer func() { _ = server.Stop() }()

		handler := feed.NewHandler(server, newLogger(logs, "feed"))
		show := cfg.OnResult
		cfg.OnResult = func(ev sync.Event, res *sync.Result) {
			show(ev, res)
			handler.OnResult(ev, res)
		}
		fmt.Fprintf(out, "📡 Feed: ws://%s/ws\n", server.Addr())
	}

	d, err := daemon.NewWithConfig(syncer, matcher, cfg)
	if err != nil {
		return err
	}

	root, _ := filepath.Abs(syncer.Root())
	fmt.Fprintf(out, "👀 Watching %s (Ctrl+C to stop)\n", root)
	if err := d.Run(ctx); err != nil {
		return err
	}

	stats := d.Stats()
	fmt.Fprintf(out, "\n%s Stopped: %d events, %d passes, %d coalesced, %d errors\n",
		ui.RenderPass("✓"), stats.Events, stats.Applied, stats.Coalesced, stats.Errors)
	return nil
}

func printLoadResult(out io.Writer, res *sync.Result, dbPath, table string, elapsed time.Duration) {
	fmt.Fprintf(out, "%s Loaded into %s:%s in %v\n",
		ui.RenderPass("✓"), dbPath, table, elapsed.Round(time.Millisecond))
	fmt.Fprintln(out, ui.KeyValue("Inserted", res.Inserted))
	fmt.Fprintln(out, ui.KeyValue("Updated", res.Updated))
	fmt.Fprintln(out, ui.KeyValue("Deleted", res.Deleted))
	fmt.Fprintln(out, ui.KeyValue("Unchanged", res.Skipped))
	if len(res.Extended) > 0 {
		fmt.Fprintln(out, ui.KeyValue("New columns", len(res.Extended)))
	}
	if len(res.Errors) > 0 {
		fmt.Fprintf(out, "%s %d documents skipped with errors\n", ui.RenderWarn("⚠"), len(res.Errors))
	}
}

func printBreakdown(w io.Writer, r plan.Report) {
	fmt.Fprintln(w, "📊 Column breakdown:")
	fmt.Fprintln(w, ui.KeyValue("Base columns", r.Base))
	fmt.Fprintln(w, ui.KeyValue("Frontmatter columns", r.Frontmatter))
	fmt.Fprintln(w, ui.KeyValue("Section columns", r.Sections))
	fmt.Fprintln(w, ui.KeyValue("Total", ui.RenderBudget(r.Total, r.Max)))
	fmt.Fprintln(w)
}

func printExceeded(w io.Writer, r plan.Report) {
	fmt.Fprintf(w, "%s Column limit exceeded: %d columns > %d limit\n", ui.RenderFail("✗"), r.Total, r.Max)
	fmt.Fprintln(w, ui.KeyValue("Base columns", r.Base))
	fmt.Fprintln(w, ui.KeyValue("Frontmatter columns", r.Frontmatter))
	fmt.Fprintln(w, ui.KeyValue("Section columns", r.Sections))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "💡 Options:")
	fmt.Fprintln(w, "   1. Reduce document diversity (fewer unique ## sections or frontmatter keys)")
	fmt.Fprintln(w, "   2. Keep fewer section columns with --top-sections")
	fmt.Fprintln(w, "   3. Increase the limit with --max-columns (SQLite max: 2000)")
	fmt.Fprintln(w, "   4. Split the documents into several tables by type")
	fmt.Fprintln(w, "Nothing was written.")
}
