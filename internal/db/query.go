package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/steveyegge/sqldown/internal/plan"
)

// FileRecord is the last synced state of one document.
type FileRecord struct {
	ID          string
	Path        string
	Fingerprint string
	SyncedAt    string
}

// TableInfo describes one user table for the info command.
type TableInfo struct {
	Name string
	Rows int
	// Columns are the table's column names in declaration order.
	Columns []string
	// Plan is the persisted layout, nil for tables sqldown did not create.
	Plan *plan.Plan
}

// LoadPlan returns the persisted plan for table, or nil when the table has
// never been written by sqldown.
func (db *DB) LoadPlan(table string) (*plan.Plan, error) {
	return db.LoadPlanContext(context.Background(), table)
}

// LoadPlanContext returns the persisted plan with context support.
func (db *DB) LoadPlanContext(ctx context.Context, table string) (*plan.Plan, error) {
	ok, err := hasTable(ctx, db.conn, columnsTable)
	if err != nil {
		return nil, &StoreError{Op: "load plan", Err: err}
	}
	if !ok {
		return nil, nil
	}

	rows, err := db.conn.QueryContext(ctx, `
	SELECT name, origin, source, kind
	FROM `+columnsTable+`
	WHERE table_name = ?
	ORDER BY position ASC
	`, table)
	if err != nil {
		return nil, &StoreError{Op: "load plan", Err: err}
	}
	defer rows.Close()

	var columns []plan.Column
	for rows.Next() {
		var c plan.Column
		var origin, kind string
		if err := rows.Scan(&c.Name, &origin, &c.Source, &kind); err != nil {
			return nil, &StoreError{Op: "load plan", Err: fmt.Errorf("failed to scan column: %w", err)}
		}
		c.Origin = plan.Origin(origin)
		c.Kind = plan.Kind(kind)
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "load plan", Err: err}
	}

	if len(columns) == 0 {
		return nil, nil
	}
	return &plan.Plan{Columns: columns, Status: plan.StatusOK}, nil
}

// Files returns the recorded fingerprints of table keyed by identity.
func (db *DB) Files(ctx context.Context, table string) (map[string]FileRecord, error) {
	files := make(map[string]FileRecord)

	ok, err := hasTable(ctx, db.conn, filesTable)
	if err != nil {
		return nil, &StoreError{Op: "read fingerprints", Err: err}
	}
	if !ok {
		return files, nil
	}

	rows, err := db.conn.QueryContext(ctx, `
	SELECT id, path, fingerprint, synced_at
	FROM `+filesTable+`
	WHERE table_name = ?
	`, table)
	if err != nil {
		return nil, &StoreError{Op: "read fingerprints", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var f FileRecord
		if err := rows.Scan(&f.ID, &f.Path, &f.Fingerprint, &f.SyncedAt); err != nil {
			return nil, &StoreError{Op: "read fingerprints", Err: err}
		}
		files[f.ID] = f
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "read fingerprints", Err: err}
	}
	return files, nil
}

// File returns the recorded state of one document. ok is false when the
// identity has no row.
func (db *DB) File(ctx context.Context, table, id string) (rec FileRecord, ok bool, err error) {
	exists, err := hasTable(ctx, db.conn, filesTable)
	if err != nil {
		return FileRecord{}, false, &StoreError{Op: "read fingerprint", Err: err}
	}
	if !exists {
		return FileRecord{}, false, nil
	}

	err = db.conn.QueryRowContext(ctx, `
	SELECT id, path, fingerprint, synced_at
	FROM `+filesTable+`
	WHERE table_name = ? AND id = ?
	`, table, id).Scan(&rec.ID, &rec.Path, &rec.Fingerprint, &rec.SyncedAt)
	if err == sql.ErrNoRows {
		return FileRecord{}, false, nil
	}
	if err != nil {
		return FileRecord{}, false, &StoreError{Op: "read fingerprint", Err: err}
	}
	return rec, true, nil
}

// Rows streams every row of table matching filter, ordered by path. filter
// is a SQL boolean expression used verbatim as the WHERE clause; empty
// selects all rows. fn receives column name to value maps; returning an
// error stops the iteration.
func (db *DB) Rows(ctx context.Context, table, filter string, fn func(map[string]any) error) error {
	ok, err := hasTable(ctx, db.conn, table)
	if err != nil {
		return &StoreError{Op: "query", Err: err}
	}
	if !ok {
		return &StoreError{Op: "query", Err: fmt.Errorf("table %q does not exist", table)}
	}

	cols, err := tableColumns(ctx, db.conn, table)
	if err != nil {
		return &StoreError{Op: "query", Err: err}
	}

	query := "SELECT * FROM " + quoteIdent(table)
	if strings.TrimSpace(filter) != "" {
		query += " WHERE (" + filter + ")"
	}
	if cols[plan.ColumnPath] {
		query += " ORDER BY " + quoteIdent(plan.ColumnPath)
	}

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return &StoreError{Op: "query", Err: err}
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return &StoreError{Op: "query", Err: err}
	}

	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return &StoreError{Op: "query", Err: fmt.Errorf("failed to scan row: %w", err)}
		}

		row := make(map[string]any, len(names))
		for i, name := range names {
			if b, ok := values[i].([]byte); ok {
				values[i] = string(b)
			}
			row[name] = values[i]
		}
		if err := fn(row); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return &StoreError{Op: "query", Err: err}
	}
	return nil
}

// Count returns the number of rows in table.
func (db *DB) Count(ctx context.Context, table string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&n)
	if err != nil {
		return 0, &StoreError{Op: "count " + table, Err: err}
	}
	return n, nil
}

// Tables lists user tables, excluding metadata and SQLite internals.
func (db *DB) Tables(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT name FROM sqlite_master
	WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
	ORDER BY name
	`)
	if err != nil {
		return nil, &StoreError{Op: "list tables", Err: err}
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &StoreError{Op: "list tables", Err: err}
		}
		if strings.HasPrefix(name, MetadataPrefix) {
			continue
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list tables", Err: err}
	}
	return tables, nil
}

// Info describes table: row count, columns and persisted plan.
func (db *DB) Info(ctx context.Context, table string) (*TableInfo, error) {
	ok, err := hasTable(ctx, db.conn, table)
	if err != nil {
		return nil, &StoreError{Op: "info", Err: err}
	}
	if !ok {
		return nil, &StoreError{Op: "info", Err: fmt.Errorf("table %q does not exist", table)}
	}

	info := &TableInfo{Name: table}
	if info.Rows, err = db.Count(ctx, table); err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT name FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, &StoreError{Op: "info", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &StoreError{Op: "info", Err: err}
		}
		info.Columns = append(info.Columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "info", Err: err}
	}

	if info.Plan, err = db.LoadPlanContext(ctx, table); err != nil {
		return nil, err
	}
	return info, nil
}

// SectionCounts counts, across all rows of table, how many documents contain
// each section name. It reads the _sections column so sections that never
// became columns are included.
func (db *DB) SectionCounts(ctx context.Context, table string) (map[string]int, error) {
	counts := make(map[string]int)
	err := db.Rows(ctx, table, "", func(row map[string]any) error {
		s, _ := row[plan.ColumnSections].(string)
		if s == "" {
			return nil
		}
		names, err := plan.ParseSections(s)
		if err != nil {
			return nil
		}
		for _, name := range names {
			counts[name]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// TopSections returns up to n section names ordered by document count,
// ties broken by name.
func TopSections(counts map[string]int, n int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if n > 0 && len(names) > n {
		names = names[:n]
	}
	return names
}
