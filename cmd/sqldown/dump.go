package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/sqldown/internal/config"
	"github.com/steveyegge/sqldown/internal/db"
	"github.com/steveyegge/sqldown/internal/dump"
	"github.com/steveyegge/sqldown/internal/ui"
)

var dumpCmd = &cobra.Command{
	Use:     "dump",
	GroupID: "sync",
	Short:   "Export database rows to markdown files",
	Long: `Write rows of a table back out as markdown files under --output, each at
the path it was loaded from.

Files whose content would not change are left alone unless --force is given.

Examples:
  sqldown dump -d cache.db -o ~/restored
  sqldown dump -d cache.db -t tasks -o ~/active --filter "status='active'"
  sqldown dump -d cache.db -o ~/export --dry-run`,
	Args: cobra.NoArgs,
	RunE: runDump,
}

func init() {
	f := dumpCmd.Flags()
	f.StringP(config.KeyDB, "d", "", "Database file (default: <repo>/.sqldown.db or ./sqldown.db)")
	f.StringP(config.KeyTable, "t", config.DefaultTable, "Table name")
	f.StringP("output", "o", "", "Output directory (required)")
	f.StringP("filter", "f", "", "SQL WHERE clause selecting the rows to export")
	f.Bool("force", false, "Write files even if unchanged")
	f.Bool("dry-run", false, "Show what would be written without writing")
	f.String(config.KeyLogFile, "", "Also write logs to this file")
	f.BoolP(config.KeyVerbose, "v", false, "Verbose output")
	_ = dumpCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	s, err := resolveSettings(cmd, "")
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	filter, _ := cmd.Flags().GetString("filter")
	force, _ := cmd.Flags().GetBool("force")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	table := config.ResolveTable(s.Table, output)
	out := cmd.OutOrStdout()

	logs, closeLogs := logOutput(s)
	defer func() { _ = closeLogs() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	database, err := db.OpenExisting(ctx, s.DB)
	if err != nil {
		return err
	}
	defer database.Close()

	if s.Verbose {
		fmt.Fprintf(out, "📂 Exporting from %s:%s\n", s.DB, table)
		fmt.Fprintf(out, "💾 Output directory: %s\n", output)
		if filter != "" {
			fmt.Fprintf(out, "🔍 Filter: %s\n", filter)
		}
		if dryRun {
			fmt.Fprintln(out, "🔎 DRY RUN - no files will be written")
		}
		fmt.Fprintln(out)
	}

	res, err := dump.New(database, newLogger(logs, "dump")).Export(ctx, dump.Options{
		Table:      table,
		OutputRoot: output,
		Filter:     filter,
		Force:      force,
		DryRun:     dryRun,
	})
	if err != nil {
		return err
	}

	if dryRun {
		fmt.Fprintf(out, "%s Dry run: would write %d files\n", ui.RenderAccent("🔎"), res.Written)
	} else {
		fmt.Fprintf(out, "%s Exported %d files to %s\n", ui.RenderPass("✓"), res.Written, output)
	}
	if res.Skipped > 0 {
		fmt.Fprintf(out, "%s Skipped %d files\n", ui.RenderMuted("⏭"), res.Skipped)
	}

	if len(res.Errors) > 0 {
		for _, e := range res.Errors {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("✗"), e)
		}
		fmt.Fprintf(os.Stderr, "%s %d errors occurred\n", ui.RenderFail("✗"), len(res.Errors))
		return &reportedError{err: fmt.Errorf("%d rows failed to export", len(res.Errors))}
	}
	return nil
}
