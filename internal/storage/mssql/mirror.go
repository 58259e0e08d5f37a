package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	mssqldb "github.com/microsoft/go-mssqldb"

	"welletl/internal/storage"
)

// MirrorRepo implements storage.MirrorRepository for SQL Server.
//
// Rows are bulk-copied with the TDS bulk-load protocol (mssql.CopyIn).
// Original header text is kept as MS_Description extended properties, the
// SQL Server counterpart of COMMENT ON. SQL Server DDL is transactional, so
// one run is one transaction exactly as on Postgres.
type MirrorRepo struct {
	db *sql.DB
}

func NewMirror(ctx context.Context, cfg storage.Config) (storage.MirrorRepository, error) {
	db, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &MirrorRepo{db: db}, nil
}

func (r *MirrorRepo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

func (r *MirrorRepo) BeginMirror(ctx context.Context) (storage.MirrorTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mssql: begin mirror: %w", err)
	}
	return &mirrorTx{tx: tx}, nil
}

// txConn is the subset of *sql.Tx the mirror needs.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	Commit() error
	Rollback() error
}

type mirrorTx struct {
	tx txConn
}

// ResetSchema drops every table of schema, then the schema, then recreates it.
// SQL Server has no DROP SCHEMA ... CASCADE.
func (m *mirrorTx) ResetSchema(ctx context.Context, schema string) error {
	if schema == "" {
		return fmt.Errorf("mssql: mirror schema name is empty")
	}
	rows, err := m.tx.QueryContext(ctx,
		`SELECT t.name FROM sys.tables t JOIN sys.schemas s ON s.schema_id = t.schema_id WHERE s.name = @p1 ORDER BY t.name`,
		schema)
	if err != nil {
		return fmt.Errorf("mssql: list schema %s: %w", schema, err)
	}
	var tables []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return fmt.Errorf("mssql: list schema %s: %w", schema, err)
		}
		tables = append(tables, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("mssql: list schema %s: %w", schema, err)
	}

	for _, stmt := range buildResetSchemaSQL(schema, tables) {
		if _, err := m.tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mssql: reset schema %s: %w", schema, err)
		}
	}
	return nil
}

func (m *mirrorTx) CreateTable(ctx context.Context, t storage.MirrorTable) error {
	ddl, err := buildCreateMirrorSQL(t)
	if err != nil {
		return err
	}
	if _, err := m.tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("mssql: create %s.%s: %w", t.Schema, t.Name, err)
	}

	if t.SourceFile != "" {
		if _, err := m.tx.ExecContext(ctx, buildDescriptionSQL(false), t.SourceFile, t.Schema, t.Name); err != nil {
			return fmt.Errorf("mssql: describe %s.%s: %w", t.Schema, t.Name, err)
		}
	}
	for _, c := range t.Columns {
		if !c.Renamed() {
			continue
		}
		if _, err := m.tx.ExecContext(ctx, buildDescriptionSQL(true), c.Source, t.Schema, t.Name, c.Name); err != nil {
			return fmt.Errorf("mssql: describe %s.%s.%s: %w", t.Schema, t.Name, c.Name, err)
		}
	}
	return nil
}

// CopyRows streams src through a bulk-copy statement. The final argument-less
// Exec flushes the batch and reports the row count.
func (m *mirrorTx) CopyRows(ctx context.Context, t storage.MirrorTable, src storage.RowSource) (int64, error) {
	stmt, err := m.tx.PrepareContext(ctx, mssqldb.CopyIn(mssqlTable(t.Schema, t.Name), mssqldb.BulkOptions{}, t.ColumnNames()...))
	if err != nil {
		return 0, fmt.Errorf("mssql: prepare bulk copy %s.%s: %w", t.Schema, t.Name, err)
	}
	defer stmt.Close()

	width := len(t.Columns)
	args := make([]any, width)
	for {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("mssql: bulk copy %s.%s: %w", t.Schema, t.Name, err)
		}
		if len(rec) != width {
			return 0, fmt.Errorf("mssql: bulk copy %s.%s: row has %d fields, table has %d columns", t.Schema, t.Name, len(rec), width)
		}
		for i, v := range rec {
			args[i] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("mssql: bulk copy %s.%s: %w", t.Schema, t.Name, err)
		}
	}

	res, err := stmt.ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("mssql: flush bulk copy %s.%s: %w", t.Schema, t.Name, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (m *mirrorTx) CountRows(ctx context.Context, t storage.MirrorTable) (int64, error) {
	var n int64
	q := "SELECT COUNT_BIG(*) FROM " + mssqlTable(t.Schema, t.Name)
	if err := m.tx.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("mssql: count %s.%s: %w", t.Schema, t.Name, err)
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

// buildResetSchemaSQL drops tables, then the schema, then recreates it.
// CREATE SCHEMA must be alone in its batch, hence EXEC.
func buildResetSchemaSQL(schema string, tables []string) []string {
	out := make([]string, 0, len(tables)+2)
	for _, t := range tables {
		out = append(out, "DROP TABLE "+mssqlTable(schema, t))
	}
	out = append(out,
		fmt.Sprintf("IF SCHEMA_ID(%s) IS NOT NULL EXEC(%s)", mssqlLiteral(schema), mssqlLiteral("DROP SCHEMA "+mssqlIdent(schema))),
		fmt.Sprintf("EXEC(%s)", mssqlLiteral("CREATE SCHEMA "+mssqlIdent(schema))),
	)
	return out
}

// buildCreateMirrorSQL returns the CREATE TABLE statement. Columns are
// NVARCHAR(MAX); mirror tables carry no index on SQL Server since MAX types
// cannot be index keys.
func buildCreateMirrorSQL(t storage.MirrorTable) (string, error) {
	if t.Name == "" {
		return "", fmt.Errorf("mssql: mirror table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("mssql: mirror table %s has no columns", t.Name)
	}
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = mssqlIdent(c.Name) + " NVARCHAR(MAX) NULL"
	}
	return "CREATE TABLE " + mssqlTable(t.Schema, t.Name) + " (" + strings.Join(cols, ", ") + ")", nil
}

// buildDescriptionSQL attaches MS_Description to a table (@p1 value,
// @p2 schema, @p3 table) or a column (@p4 column).
func buildDescriptionSQL(column bool) string {
	q := "EXEC sp_addextendedproperty @name = N'MS_Description', @value = @p1, " +
		"@level0type = N'SCHEMA', @level0name = @p2, @level1type = N'TABLE', @level1name = @p3"
	if column {
		q += ", @level2type = N'COLUMN', @level2name = @p4"
	}
	return q
}
