package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"welletl/internal/storage"
)

/*
MirrorRepo implements storage.MirrorRepository for Postgres.

Postgres DDL is transactional, so schema drop, table creation, COPY and the
verification counts of one run all share a single transaction: a failed run
leaves the previous mirror schema in place.
*/
type MirrorRepo struct {
	pool *pgxpool.Pool
}

// NewMirror opens a pool for cfg.DSN.
func NewMirror(ctx context.Context, cfg storage.Config) (storage.MirrorRepository, error) {
	pool, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &MirrorRepo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *MirrorRepo) Close() { r.pool.Close() }

// BeginMirror starts the run transaction.
func (r *MirrorRepo) BeginMirror(ctx context.Context) (storage.MirrorTx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin mirror: %w", err)
	}
	return &mirrorTx{tx: tx}, nil
}

type mirrorTx struct {
	tx pgx.Tx
}

func (m *mirrorTx) ResetSchema(ctx context.Context, schema string) error {
	for _, stmt := range buildResetSchemaSQL(schema) {
		if _, err := m.tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: reset schema %s: %w", schema, err)
		}
	}
	return nil
}

func (m *mirrorTx) CreateTable(ctx context.Context, t storage.MirrorTable) error {
	stmts, err := buildCreateMirrorSQL(t)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := m.tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: create %s.%s: %w", t.Schema, t.Name, err)
		}
	}
	return nil
}

// CopyRows streams src through COPY FROM STDIN.
func (m *mirrorTx) CopyRows(ctx context.Context, t storage.MirrorTable, src storage.RowSource) (int64, error) {
	n, err := m.tx.CopyFrom(ctx,
		pgx.Identifier{t.Schema, t.Name},
		t.ColumnNames(),
		&copySource{src: src, width: len(t.Columns)},
	)
	if err != nil {
		return n, fmt.Errorf("postgres: copy %s.%s: %w", t.Schema, t.Name, err)
	}
	return n, nil
}

func (m *mirrorTx) CountRows(ctx context.Context, t storage.MirrorTable) (int64, error) {
	var n int64
	q := "SELECT COUNT(*) FROM " + pgTable(t.Schema, t.Name)
	if err := m.tx.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count %s.%s: %w", t.Schema, t.Name, err)
	}
	return n, nil
}

func (m *mirrorTx) Commit(ctx context.Context) error { return m.tx.Commit(ctx) }

func (m *mirrorTx) Rollback(ctx context.Context) error {
	err := m.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// copySource adapts a storage.RowSource to pgx.CopyFromSource.
type copySource struct {
	src   storage.RowSource
	width int
	row   []any
	err   error
}

func (c *copySource) Next() bool {
	rec, err := c.src.Next()
	if err == io.EOF {
		return false
	}
	if err != nil {
		c.err = err
		return false
	}
	if len(rec) != c.width {
		c.err = fmt.Errorf("row has %d fields, table has %d columns", len(rec), c.width)
		return false
	}
	if c.row == nil {
		c.row = make([]any, c.width)
	}
	for i, v := range rec {
		c.row[i] = stripNUL(v)
	}
	return true
}

func (c *copySource) Values() ([]any, error) { return c.row, nil }

func (c *copySource) Err() error { return c.err }

// buildResetSchemaSQL drops and recreates schema.
func buildResetSchemaSQL(schema string) []string {
	return []string{
		"DROP SCHEMA IF EXISTS " + pgIdent(schema) + " CASCADE",
		"CREATE SCHEMA " + pgIdent(schema),
	}
}

// buildCreateMirrorSQL returns CREATE TABLE plus the COMMENT and INDEX
// statements for one mirror table.
func buildCreateMirrorSQL(t storage.MirrorTable) ([]string, error) {
	if t.Name == "" {
		return nil, fmt.Errorf("postgres: mirror table name is empty")
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("postgres: mirror table %s has no columns", t.Name)
	}
	table := pgTable(t.Schema, t.Name)

	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range t.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c.Name))
		b.WriteString(" TEXT")
	}
	b.WriteString(")")

	stmts := []string{b.String()}
	if t.SourceFile != "" {
		stmts = append(stmts, fmt.Sprintf("COMMENT ON TABLE %s IS %s", table, pgLiteral(t.SourceFile)))
	}
	for _, c := range t.Columns {
		if !c.Renamed() {
			continue
		}
		stmts = append(stmts, fmt.Sprintf("COMMENT ON COLUMN %s.%s IS %s",
			table, pgIdent(c.Name), pgLiteral(c.Source)))
	}
	if t.TrackingColumn != "" {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
			pgIdent(t.TrackingIndexName()), table, pgIdent(t.TrackingColumn)))
	}
	return stmts, nil
}
