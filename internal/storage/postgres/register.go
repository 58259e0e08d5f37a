package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"welletl/internal/storage"
)

func init() {
	storage.RegisterMirror("postgres", NewMirror)
	storage.RegisterCurated("postgres", NewCurated)
}

// connect parses the DSN, applies the pool size and pings with retry.
func connect(ctx context.Context, cfg storage.Config) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConnections > 0 {
		pc.MaxConns = cfg.MaxConnections
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	_, err = storage.Retry(ctx, storage.DefaultRetryPolicy(), cfg.Logger, "postgres ping", func() (struct{}, error) {
		return struct{}{}, pool.Ping(ctx)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// pgIdent quotes a single identifier.
func pgIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// pgTable quotes schema.table; an empty schema yields just the table.
func pgTable(schema, table string) string {
	if schema == "" {
		return pgIdent(table)
	}
	return pgx.Identifier{schema, table}.Sanitize()
}

// pgLiteral quotes a string literal for DDL statements that cannot take bind
// parameters (COMMENT ON). NUL bytes are not representable and are dropped.
func pgLiteral(s string) string {
	s = stripNUL(s)
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, s[i])
	}
	out = append(out, '\'')
	return string(out)
}

func stripNUL(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			b := make([]byte, 0, len(s))
			for j := 0; j < len(s); j++ {
				if s[j] != 0 {
					b = append(b, s[j])
				}
			}
			return string(b)
		}
	}
	return s
}
