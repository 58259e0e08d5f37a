package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"welletl/internal/storage"
)

// CuratedRepo implements storage.CuratedRepository for Postgres. The schema
// is owned by the embedded migrations (see Migrate).
type CuratedRepo struct {
	pool *pgxpool.Pool
	dsn  string
	log  *zap.Logger
}

// NewCurated opens a pool for cfg.DSN.
func NewCurated(ctx context.Context, cfg storage.Config) (storage.CuratedRepository, error) {
	pool, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &CuratedRepo{pool: pool, dsn: cfg.DSN, log: log}, nil
}

// Close closes the connection pool.
func (r *CuratedRepo) Close() { r.pool.Close() }

// EnsureSchema applies pending migrations.
func (r *CuratedRepo) EnsureSchema(ctx context.Context) error {
	return Migrate(ctx, r.dsn, r.log)
}

// BeginCurated starts the run transaction.
func (r *CuratedRepo) BeginCurated(ctx context.Context) (storage.CuratedTx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin curated: %w", err)
	}
	return &curatedTx{tx: tx}, nil
}

type curatedTx struct {
	tx pgx.Tx
}

// Upsert sends one statement per row in a single pgx batch round trip.
func (c *curatedTx) Upsert(ctx context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	sql, err := buildUpsertSQL(spec)
	if err != nil {
		return 0, err
	}
	width := spec.Width()

	batch := &pgx.Batch{}
	for i, row := range rows {
		if len(row) != width {
			return 0, fmt.Errorf("postgres: %s row %d has %d values, want %d", spec.Name, i, len(row), width)
		}
		batch.Queue(sql, row...)
	}

	br := c.tx.SendBatch(ctx, batch)
	var total int64
	for range rows {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return total, fmt.Errorf("postgres: upsert %s: %w", spec.Name, err)
		}
		total += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return total, fmt.Errorf("postgres: upsert %s: %w", spec.Name, err)
	}
	return total, nil
}

func (c *curatedTx) Points(ctx context.Context, src storage.PointSource) ([]storage.Point, error) {
	q := buildPointsSQL(src)
	rows, err := c.tx.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: points %s: %w", src.Table, err)
	}
	defer rows.Close()

	var out []storage.Point
	for rows.Next() {
		var (
			id any
			p  storage.Point
		)
		if err := rows.Scan(&id, &p.Lat, &p.Lon); err != nil {
			return nil, fmt.Errorf("postgres: scan point: %w", err)
		}
		p.ID = storage.NormalizeKey(id)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *curatedTx) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := c.tx.QueryRow(ctx, "SELECT COUNT(*) FROM "+pgIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count %s: %w", table, err)
	}
	return n, nil
}

func (c *curatedTx) Commit(ctx context.Context) error { return c.tx.Commit(ctx) }

func (c *curatedTx) Rollback(ctx context.Context) error {
	err := c.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// buildUpsertSQL constructs the single-row statement for spec.
//
// Placeholders follow the row layout: $1..$k are the key columns, the rest
// are spec.Columns in order.
//
//	overwrite:     INSERT ... ON CONFLICT (key) DO UPDATE SET c = EXCLUDED.c
//	fill_null:     UPDATE t SET c = COALESCE(c, $n) WHERE key = $1
//	insert_ignore: INSERT ... ON CONFLICT (key) DO NOTHING
func buildUpsertSQL(spec storage.TableSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	table := pgIdent(spec.Name)
	k := len(spec.Key)

	if spec.Mode == storage.ModeFillNull {
		var b strings.Builder
		b.WriteString("UPDATE ")
		b.WriteString(table)
		b.WriteString(" SET ")
		for i, c := range spec.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s = COALESCE(%s.%s, $%d)", pgIdent(c), table, pgIdent(c), k+i+1)
		}
		b.WriteString(" WHERE ")
		for i, key := range spec.Key {
			if i > 0 {
				b.WriteString(" AND ")
			}
			fmt.Fprintf(&b, "%s = $%d", pgIdent(key), i+1)
		}
		return b.String(), nil
	}

	all := append(append([]string{}, spec.Key...), spec.Columns...)
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range all {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES (")
	for i := range all {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", i+1)
	}
	b.WriteString(") ON CONFLICT (")
	for i, key := range spec.Key {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(key))
	}
	b.WriteString(")")

	if spec.Mode == storage.ModeInsertIgnore || len(spec.Columns) == 0 {
		b.WriteString(" DO NOTHING")
		return b.String(), nil
	}
	b.WriteString(" DO UPDATE SET ")
	for i, c := range spec.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = EXCLUDED.%s", pgIdent(c), pgIdent(c))
	}
	return b.String(), nil
}

func buildPointsSQL(src storage.PointSource) string {
	id, lat, lon := pgIdent(src.IDColumn), pgIdent(src.LatColumn), pgIdent(src.LonColumn)
	return fmt.Sprintf("SELECT %s, %s, %s FROM %s WHERE %s IS NOT NULL AND %s IS NOT NULL ORDER BY %s",
		id, lat, lon, pgIdent(src.Table), lat, lon, id)
}
