package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/sqldown/internal/plan"
)

// Row is one document rendered against a plan.
type Row struct {
	ID          string
	Path        string
	Fingerprint string
	// Values maps column name to value. Columns missing from the map are
	// written as NULL.
	Values map[string]any
}

// Batch is every mutation of one reconciliation pass.
type Batch struct {
	Table string
	// Plan is the layout rows are written against. Columns the table lacks
	// are added before any row is written.
	Plan    *plan.Plan
	Upserts []Row
	// Deletes are document identities to remove.
	Deletes []string
}

// Empty reports whether the batch writes no rows.
func (b *Batch) Empty() bool {
	return len(b.Upserts) == 0 && len(b.Deletes) == 0
}

// Apply runs the batch in a single transaction: schema changes, plan
// metadata, upserts, deletes and fingerprint bookkeeping either all land or
// none do. Failures are returned as *StoreError after rollback.
func (db *DB) Apply(ctx context.Context, b Batch) error {
	if b.Plan == nil {
		return &StoreError{Op: "apply", Err: fmt.Errorf("batch for %q has no plan", b.Table)}
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	if err := initSchema(ctx, tx); err != nil {
		return &StoreError{Op: "init schema", Err: err}
	}
	if err := ensureTable(ctx, tx, b.Table, b.Plan); err != nil {
		return &StoreError{Op: "migrate " + b.Table, Err: err}
	}
	if err := savePlan(ctx, tx, b.Table, b.Plan); err != nil {
		return &StoreError{Op: "save plan", Err: err}
	}
	if err := upsertRows(ctx, tx, b.Table, b.Plan, b.Upserts); err != nil {
		return &StoreError{Op: "upsert", Err: err}
	}
	if err := deleteRows(ctx, tx, b.Table, b.Deletes); err != nil {
		return &StoreError{Op: "delete", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "commit", Err: err}
	}
	return nil
}

// columnType is the declared type for a plan column. Frontmatter columns
// carry no declared type so numbers and text keep their storage class.
func columnType(c plan.Column) string {
	switch {
	case c.Name == plan.ColumnID:
		return "TEXT PRIMARY KEY"
	case c.Origin == plan.OriginFrontmatter:
		return ""
	default:
		return "TEXT"
	}
}

func columnDef(c plan.Column) string {
	def := quoteIdent(c.Name)
	if t := columnType(c); t != "" {
		def += " " + t
	}
	return def
}

// ensureTable creates the table or adds the plan columns it lacks.
func ensureTable(ctx context.Context, tx *sql.Tx, table string, p *plan.Plan) error {
	exists, err := hasTable(ctx, tx, table)
	if err != nil {
		return err
	}

	if !exists {
		defs := make([]string, len(p.Columns))
		for i, c := range p.Columns {
			defs[i] = columnDef(c)
		}
		stmt := fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", quoteIdent(table), strings.Join(defs, ",\n\t"))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
		return nil
	}

	have, err := tableColumns(ctx, tx, table)
	if err != nil {
		return fmt.Errorf("failed to read columns: %w", err)
	}
	if !have[plan.ColumnID] {
		return fmt.Errorf("table %q exists but has no %s column", table, plan.ColumnID)
	}

	for _, c := range p.Columns {
		if have[c.Name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(table), columnDef(c))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add column %s: %w", c.Name, err)
		}
	}
	return nil
}

func savePlan(ctx context.Context, tx *sql.Tx, table string, p *plan.Plan) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+columnsTable+` WHERE table_name = ?`, table); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO `+columnsTable+` (table_name, position, name, origin, source, kind)
	VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, c := range p.Columns {
		if _, err := stmt.ExecContext(ctx, table, i, c.Name, string(c.Origin), c.Source, string(c.Kind)); err != nil {
			return fmt.Errorf("column %s: %w", c.Name, err)
		}
	}
	return nil
}

func upsertRows(ctx context.Context, tx *sql.Tx, table string, p *plan.Plan, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	names := p.Names()
	quoted := make([]string, len(names))
	updates := make([]string, 0, len(names))
	for i, name := range names {
		quoted[i] = quoteIdent(name)
		if name != plan.ColumnID {
			updates = append(updates, quoted[i]+" = excluded."+quoted[i])
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
		quoteIdent(table),
		strings.Join(quoted, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", "),
		quoteIdent(plan.ColumnID),
		strings.Join(updates, ", "),
	)

	rowStmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer rowStmt.Close()

	fileStmt, err := tx.PrepareContext(ctx, `
	INSERT INTO `+filesTable+` (table_name, id, path, fingerprint, synced_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(table_name, id) DO UPDATE SET
		path = excluded.path,
		fingerprint = excluded.fingerprint,
		synced_at = excluded.synced_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare fingerprint upsert: %w", err)
	}
	defer fileStmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	args := make([]any, len(names))
	for _, r := range rows {
		for i, name := range names {
			if name == plan.ColumnID {
				args[i] = r.ID
				continue
			}
			args[i] = r.Values[name]
		}

		if _, err := rowStmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("%s: %w", r.Path, err)
		}
		if _, err := fileStmt.ExecContext(ctx, table, r.ID, r.Path, r.Fingerprint, now); err != nil {
			return fmt.Errorf("%s: fingerprint: %w", r.Path, err)
		}
	}
	return nil
}

func deleteRows(ctx context.Context, tx *sql.Tx, table string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	rowStmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(table), quoteIdent(plan.ColumnID)))
	if err != nil {
		return err
	}
	defer rowStmt.Close()

	fileStmt, err := tx.PrepareContext(ctx, `DELETE FROM `+filesTable+` WHERE table_name = ? AND id = ?`)
	if err != nil {
		return err
	}
	defer fileStmt.Close()

	for _, id := range ids {
		if _, err := rowStmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		if _, err := fileStmt.ExecContext(ctx, table, id); err != nil {
			return fmt.Errorf("%s: fingerprint: %w", id, err)
		}
	}
	return nil
}
