package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"welletl/internal/storage"
)

/*
MirrorRepo implements storage.MirrorRepository for SQLite.

SQLite has no schemas inside one database file, so a mirror schema is a
table-name prefix: table t of schema s is stored as "s__t". Original header
text goes into "s__column_sources" (SQLite has no COMMENT ON); the row with an
empty column_name carries the source file of the table and marks the table as
owned by the schema, which is what ResetSchema drops.

SQLite DDL is transactional, so the all-or-nothing run guarantee holds.
*/
type MirrorRepo struct {
	db *sql.DB
}

// NewMirror opens cfg.DSN, e.g. "file:wells.db" or "file::memory:".
func NewMirror(ctx context.Context, cfg storage.Config) (storage.MirrorRepository, error) {
	db, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &MirrorRepo{db: db}, nil
}

// DB exposes the handle for read-only inspection.
func (r *MirrorRepo) DB() *sql.DB { return r.db }

func (r *MirrorRepo) Close() { _ = r.db.Close() }

func (r *MirrorRepo) BeginMirror(ctx context.Context) (storage.MirrorTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin mirror: %w", err)
	}
	return &mirrorTx{tx: tx}, nil
}

type mirrorTx struct {
	tx *sql.Tx
}

func (m *mirrorTx) ResetSchema(ctx context.Context, schema string) error {
	if schema == "" {
		return fmt.Errorf("sqlite: mirror schema name is empty")
	}
	names, err := m.ownedTables(ctx, schema)
	if err != nil {
		return fmt.Errorf("sqlite: list schema %s: %w", schema, err)
	}
	for _, stmt := range buildResetSchemaSQL(schema, names) {
		if _, err := m.tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: reset schema %s: %w", schema, err)
		}
	}
	return nil
}

// ownedTables lists the tables a previous run created in schema, metadata
// table included. Ownership comes from the metadata table, not from the name
// prefix: schema "a" must not claim "a___t" of schema "a_".
func (m *mirrorTx) ownedTables(ctx context.Context, schema string) ([]string, error) {
	meta := metaTable(schema)
	var n int
	if err := m.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?1`, meta,
	).Scan(&n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	rows, err := m.tx.QueryContext(ctx, "SELECT DISTINCT table_name FROM "+sqlIdent(meta)+" ORDER BY table_name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, qualified(schema, t))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return append(out, meta), nil
}

func (m *mirrorTx) CreateTable(ctx context.Context, t storage.MirrorTable) error {
	stmts, err := buildCreateMirrorSQL(t)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := m.tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: create %s: %w", qualified(t.Schema, t.Name), err)
		}
	}

	meta := "INSERT INTO " + sqlIdent(metaTable(t.Schema)) + " (table_name, column_name, source) VALUES (?1, ?2, ?3)"
	if _, err := m.tx.ExecContext(ctx, meta, t.Name, "", t.SourceFile); err != nil {
		return fmt.Errorf("sqlite: record source of %s: %w", t.Name, err)
	}
	for _, c := range t.Columns {
		if !c.Renamed() {
			continue
		}
		if _, err := m.tx.ExecContext(ctx, meta, t.Name, c.Name, c.Source); err != nil {
			return fmt.Errorf("sqlite: record source of %s.%s: %w", t.Name, c.Name, err)
		}
	}
	return nil
}

// CopyRows inserts src row by row through one prepared statement.
func (m *mirrorTx) CopyRows(ctx context.Context, t storage.MirrorTable, src storage.RowSource) (int64, error) {
	stmt, err := m.tx.PrepareContext(ctx, buildInsertSQL(qualified(t.Schema, t.Name), t.ColumnNames()))
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare copy %s: %w", t.Name, err)
	}
	defer stmt.Close()

	width := len(t.Columns)
	args := make([]any, width)
	var n int64
	for {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("sqlite: copy %s: %w", t.Name, err)
		}
		if len(rec) != width {
			return n, fmt.Errorf("sqlite: copy %s: row has %d fields, table has %d columns", t.Name, len(rec), width)
		}
		for i, v := range rec {
			args[i] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return n, fmt.Errorf("sqlite: copy %s row %d: %w", t.Name, n+1, err)
		}
		n++
	}
}

func (m *mirrorTx) CountRows(ctx context.Context, t storage.MirrorTable) (int64, error) {
	var n int64
	q := "SELECT COUNT(*) FROM " + sqlIdent(qualified(t.Schema, t.Name))
	if err := m.tx.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count %s: %w", t.Name, err)
	}
	return n, nil
}

func (m *mirrorTx) Commit(ctx context.Context) error { return m.tx.Commit() }

func (m *mirrorTx) Rollback(ctx context.Context) error {
	err := m.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func schemaPrefix(schema string) string {
	if schema == "" {
		return ""
	}
	return schema + "__"
}

// qualified maps schema.table onto the flat SQLite namespace.
func qualified(schema, table string) string { return schemaPrefix(schema) + table }

func metaTable(schema string) string { return qualified(schema, storage.MirrorMetaTable) }

// buildResetSchemaSQL drops the given tables and recreates the metadata table.
func buildResetSchemaSQL(schema string, existing []string) []string {
	out := make([]string, 0, len(existing)+1)
	for _, name := range existing {
		out = append(out, "DROP TABLE IF EXISTS "+sqlIdent(name))
	}
	out = append(out, "CREATE TABLE "+sqlIdent(metaTable(schema))+
		" (table_name TEXT NOT NULL, column_name TEXT NOT NULL, source TEXT NOT NULL, PRIMARY KEY (table_name, column_name))")
	return out
}

func buildCreateMirrorSQL(t storage.MirrorTable) ([]string, error) {
	if t.Name == "" {
		return nil, fmt.Errorf("sqlite: mirror table name is empty")
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("sqlite: mirror table %s has no columns", t.Name)
	}
	table := sqlIdent(qualified(t.Schema, t.Name))

	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range t.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c.Name))
		b.WriteString(" TEXT")
	}
	b.WriteString(")")

	stmts := []string{b.String()}
	if t.TrackingColumn != "" {
		// Index names share one namespace per database file.
		idx := qualified(t.Schema, t.TrackingIndexName())
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
			sqlIdent(idx), table, sqlIdent(t.TrackingColumn)))
	}
	return stmts, nil
}

func buildInsertSQL(table string, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = sqlIdent(c)
	}
	return "INSERT INTO " + sqlIdent(table) + " (" + strings.Join(quoted, ", ") + ") VALUES (" + placeholders(len(cols)) + ")"
}
