package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"welletl/internal/storage"
)

//go:embed schema.sql
var curatedSchema string

// CuratedRepo implements storage.CuratedRepository for SQLite. Dates are
// stored as ISO-8601 text.
type CuratedRepo struct {
	db *sql.DB
}

func NewCurated(ctx context.Context, cfg storage.Config) (storage.CuratedRepository, error) {
	db, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &CuratedRepo{db: db}, nil
}

// DB exposes the handle for read-only inspection.
func (r *CuratedRepo) DB() *sql.DB { return r.db }

func (r *CuratedRepo) Close() { _ = r.db.Close() }

// EnsureSchema runs the embedded CREATE ... IF NOT EXISTS script.
func (r *CuratedRepo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range splitStatements(curatedSchema) {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: ensure schema: %w", err)
		}
	}
	return nil
}

func (r *CuratedRepo) BeginCurated(ctx context.Context) (storage.CuratedTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin curated: %w", err)
	}
	return &curatedTx{tx: tx}, nil
}

type curatedTx struct {
	tx *sql.Tx
}

func (c *curatedTx) Upsert(ctx context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	q, err := buildUpsertSQL(spec)
	if err != nil {
		return 0, err
	}
	stmt, err := c.tx.PrepareContext(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare upsert %s: %w", spec.Name, err)
	}
	defer stmt.Close()

	width := spec.Width()
	args := make([]any, width)
	var total int64
	for i, row := range rows {
		if len(row) != width {
			return total, fmt.Errorf("sqlite: %s row %d has %d values, want %d", spec.Name, i, len(row), width)
		}
		for j, v := range row {
			args[j] = bindValue(v)
		}
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return total, fmt.Errorf("sqlite: upsert %s: %w", spec.Name, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (c *curatedTx) Points(ctx context.Context, src storage.PointSource) ([]storage.Point, error) {
	rows, err := c.tx.QueryContext(ctx, buildPointsSQL(src))
	if err != nil {
		return nil, fmt.Errorf("sqlite: points %s: %w", src.Table, err)
	}
	defer rows.Close()

	var out []storage.Point
	for rows.Next() {
		var (
			id any
			p  storage.Point
		)
		if err := rows.Scan(&id, &p.Lat, &p.Lon); err != nil {
			return nil, fmt.Errorf("sqlite: scan point: %w", err)
		}
		p.ID = storage.NormalizeKey(id)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *curatedTx) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := c.tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+sqlIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count %s: %w", table, err)
	}
	return n, nil
}

func (c *curatedTx) Commit(ctx context.Context) error { return c.tx.Commit() }

func (c *curatedTx) Rollback(ctx context.Context) error {
	err := c.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// buildUpsertSQL mirrors the Postgres statements with SQLite syntax.
// insert_ignore uses INSERT OR IGNORE so duplicate keys are skipped
// silently.
func buildUpsertSQL(spec storage.TableSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	table := sqlIdent(spec.Name)
	k := len(spec.Key)

	if spec.Mode == storage.ModeFillNull {
		sets := make([]string, len(spec.Columns))
		for i, c := range spec.Columns {
			sets[i] = fmt.Sprintf("%s = COALESCE(%s, ?%d)", sqlIdent(c), sqlIdent(c), k+i+1)
		}
		where := make([]string, k)
		for i, key := range spec.Key {
			where[i] = fmt.Sprintf("%s = ?%d", sqlIdent(key), i+1)
		}
		return "UPDATE " + table + " SET " + strings.Join(sets, ", ") + " WHERE " + strings.Join(where, " AND "), nil
	}

	all := append(append([]string{}, spec.Key...), spec.Columns...)
	cols := make([]string, len(all))
	for i, c := range all {
		cols[i] = sqlIdent(c)
	}
	values := "(" + strings.Join(cols, ", ") + ") VALUES (" + placeholders(len(all)) + ")"

	if spec.Mode == storage.ModeInsertIgnore || len(spec.Columns) == 0 {
		return "INSERT OR IGNORE INTO " + table + " " + values, nil
	}

	sets := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		sets[i] = fmt.Sprintf("%s = excluded.%s", sqlIdent(c), sqlIdent(c))
	}
	return "INSERT INTO " + table + " " + values +
		" ON CONFLICT(" + strings.Join(cols[:k], ", ") + ") DO UPDATE SET " + strings.Join(sets, ", "), nil
}

func buildPointsSQL(src storage.PointSource) string {
	id, lat, lon := sqlIdent(src.IDColumn), sqlIdent(src.LatColumn), sqlIdent(src.LonColumn)
	return fmt.Sprintf("SELECT %s, %s, %s FROM %s WHERE %s IS NOT NULL AND %s IS NOT NULL ORDER BY %s",
		id, lat, lon, sqlIdent(src.Table), lat, lon, id)
}

// splitStatements splits a script on semicolons that end a line.
func splitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";\n") {
		part = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(part), ";"))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
