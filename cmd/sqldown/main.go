// Command sqldown loads markdown files into SQLite and dumps them back.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/sqldown/internal/db"
	"github.com/steveyegge/sqldown/internal/plan"
	"github.com/steveyegge/sqldown/internal/sync"
	"github.com/steveyegge/sqldown/internal/ui"
)

// Version is the sqldown release.
var Version = "0.2.0"

// Exit codes.
const (
	exitOK         = 0
	exitFailure    = 1
	exitBudget     = 2
	exitFilesystem = 3
	exitStore      = 4
)

var rootCmd = &cobra.Command{
	Use:   "sqldown",
	Short: "Bidirectional markdown ↔ SQLite sync",
	Long: `SQLDown loads a tree of markdown files into a SQLite table, one row per
document: frontmatter keys and the most common "## " sections become columns.
Query it with sqlite3, edit rows, and dump them back to markdown.

Loading is incremental: unchanged files are skipped, edited ones updated and
deleted ones removed. With --watch the table follows the files as they change.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sqldown version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sqldown %s\n", Version)
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "inspect", Title: "Inspection Commands:"},
	)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var reported *reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintf(os.Stderr, "%s Error: %v\n", ui.RenderFail("✗"), err)
		}
		os.Exit(exitCode(err))
	}
}

// reportedError marks an error whose details were already printed.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }

func (e *reportedError) Unwrap() error { return e.err }

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var fsErr *sync.FileSystemError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, plan.ErrBudgetExceeded):
		return exitBudget
	case errors.As(err, &fsErr), errors.Is(err, fs.ErrNotExist):
		return exitFilesystem
	case db.IsStoreError(err):
		return exitStore
	default:
		return exitFailure
	}
}
