package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/sqldown/internal/config"
	"github.com/steveyegge/sqldown/internal/db"
	"github.com/steveyegge/sqldown/internal/plan"
	"github.com/steveyegge/sqldown/internal/ui"
	"github.com/steveyegge/sqldown/internal/vcs"
)

// listLimit caps the field and section lists printed per table.
const listLimit = 10

var infoCmd = &cobra.Command{
	Use:     "info",
	GroupID: "inspect",
	Short:   "Show database information",
	Long: `Show the tables in a database, or the details of one table: document
count, column budget, frontmatter fields and the most common sections.

Examples:
  sqldown info
  sqldown info -d cache.db
  sqldown info -t tasks`,
	Args: cobra.NoArgs,
	RunE: runInfo,
}

func init() {
	f := infoCmd.Flags()
	f.StringP(config.KeyDB, "d", "", "Database file (default: <repo>/.sqldown.db or ./sqldown.db)")
	f.StringP(config.KeyTable, "t", "", "Show details for this table")
	f.Int(config.KeyMaxColumns, config.DefaultMaxColumns, "Column budget to measure tables against")

	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	s, err := resolveSettings(cmd, "")
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	ctx := context.Background()

	if !db.Exists(s.DB) {
		fmt.Fprintf(os.Stderr, "%s Database not found: %s\n", ui.RenderFail("✗"), s.DB)
		fmt.Fprintln(os.Stderr, "   Use -d to specify a database file")
		return &reportedError{err: fmt.Errorf("%s: %w", s.DB, fs.ErrNotExist)}
	}
	database, err := db.OpenExisting(ctx, s.DB)
	if err != nil {
		return err
	}
	defer database.Close()

	// Only an explicit -t selects one table; the configured default does not.
	if table, _ := cmd.Flags().GetString(config.KeyTable); table != "" {
		return showTable(ctx, out, database, table, s.MaxColumns)
	}
	return showDatabase(ctx, out, database, s.MaxColumns)
}

func showDatabase(ctx context.Context, out io.Writer, database *db.DB, maxColumns int) error {
	path, _ := filepath.Abs(database.Path())
	var size int64
	if st, err := os.Stat(path); err == nil {
		size = st.Size()
	}

	tables, err := database.Tables(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%s Database: %s\n", ui.RenderAccent("💾"), filepath.Base(path))
	fmt.Fprintln(out, strings.Repeat("─", 40))
	fmt.Fprintln(out, ui.KeyValue("Location", path))
	if repo, ok := vcs.Find(filepath.Dir(path)); ok {
		fmt.Fprintln(out, ui.KeyValue("Repository", fmt.Sprintf("%s (%s)", repo.Root, repo.Kind)))
	}
	fmt.Fprintln(out, ui.KeyValue("Size", fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))))
	fmt.Fprintln(out, ui.KeyValue("Tables", len(tables)))
	fmt.Fprintln(out)

	if len(tables) == 0 {
		fmt.Fprintln(out, ui.RenderMuted("  (no tables)"))
	} else {
		fmt.Fprintln(out, "Tables:")
	}

	total := 0
	for _, name := range tables {
		info, err := database.Info(ctx, name)
		if err != nil {
			return err
		}
		total += info.Rows
		fm, sections := breakdown(info)

		fmt.Fprintf(out, "  📋 %s\n", ui.RenderBold(name))
		fmt.Fprintf(out, "     • %d documents\n", info.Rows)
		fmt.Fprintf(out, "     • %d columns (%d frontmatter, %d sections)\n", len(info.Columns), fm, sections)
		if info.Plan != nil {
			fmt.Fprintf(out, "     • budget %s\n", ui.RenderBudget(len(info.Columns), maxColumns))
		}
	}
	if len(tables) > 1 {
		fmt.Fprintf(out, "\nTotal: %d documents across all tables\n", total)
	}

	base := filepath.Base(path)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "💡 Tips:")
	fmt.Fprintf(out, "  • Query with: sqlite3 %s \"SELECT * FROM table LIMIT 5\"\n", base)
	fmt.Fprintf(out, "  • Show schema: sqlite3 %s \".schema table\"\n", base)
	fmt.Fprintln(out, "  • Table details: sqldown info -t <table>")
	return nil
}

func showTable(ctx context.Context, out io.Writer, database *db.DB, table string, maxColumns int) error {
	info, err := database.Info(ctx, table)
	if err != nil {
		return err
	}
	fm, sections := breakdown(info)

	fmt.Fprintf(out, "\n%s Table: %s\n", ui.RenderAccent("📊"), table)
	fmt.Fprintln(out, strings.Repeat("─", 40))
	fmt.Fprintln(out, ui.KeyValue("Documents", info.Rows))
	fmt.Fprintln(out, ui.KeyValue("Total columns", len(info.Columns)))
	fmt.Fprintln(out, ui.KeyValue("Budget", ui.RenderBudget(len(info.Columns), maxColumns)))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Column breakdown:")
	fmt.Fprintf(out, "  • Core fields: %d\n", len(info.Columns)-fm-sections)
	fmt.Fprintf(out, "  • Frontmatter fields: %d\n", fm)
	fmt.Fprintf(out, "  • Section fields: %d\n", sections)

	if info.Plan == nil {
		fmt.Fprintf(out, "\n%s Table was not created by sqldown; it cannot be dumped.\n", ui.RenderWarn("⚠"))
		return nil
	}

	var keys []string
	for _, c := range info.Plan.Columns {
		if c.Origin == plan.OriginFrontmatter {
			keys = append(keys, c.Source)
		}
	}
	printList(out, fmt.Sprintf("Frontmatter fields (%d):", len(keys)), keys, nil)

	counts, err := database.SectionCounts(ctx, table)
	if err != nil {
		return err
	}
	materialized := make(map[string]bool)
	for _, name := range info.Plan.Report().SectionNames {
		materialized[name] = true
	}
	top := db.TopSections(counts, 0)
	printList(out, fmt.Sprintf("Document sections (%d distinct, %d as columns):", len(counts), len(materialized)), top,
		func(name string) string {
			line := fmt.Sprintf("%s (%d)", name, counts[name])
			if !materialized[name] {
				line += ui.RenderMuted(" body only")
			}
			return line
		})
	return nil
}

// breakdown counts a table's frontmatter and section columns, from its plan
// when it has one and from column names otherwise.
func breakdown(info *db.TableInfo) (frontmatter, sections int) {
	if info.Plan != nil {
		r := info.Plan.Report()
		return r.Frontmatter, r.Sections
	}

	core := make(map[string]bool, len(plan.BaseColumns))
	for _, name := range plan.BaseColumns {
		core[name] = true
	}
	for _, name := range info.Columns {
		switch {
		case core[name]:
		case strings.HasPrefix(name, plan.SectionPrefix):
			sections++
		default:
			frontmatter++
		}
	}
	return frontmatter, sections
}

// printList prints up to listLimit items under a heading. Without format the
// items are sorted and printed as is.
func printList(out io.Writer, heading string, items []string, format func(string) string) {
	if len(items) == 0 {
		return
	}
	shown := items
	if len(shown) > listLimit {
		shown = shown[:listLimit]
	}
	if format == nil {
		shown = append([]string(nil), shown...)
		sort.Strings(shown)
		format = func(s string) string { return s }
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, heading)
	for _, item := range shown {
		fmt.Fprintf(out, "  - %s\n", format(item))
	}
	if len(items) > listLimit {
		fmt.Fprintf(out, "  ... and %d more\n", len(items)-listLimit)
	}
}
