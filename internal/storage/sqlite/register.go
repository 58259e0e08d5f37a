package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"welletl/internal/storage"
)

func init() {
	storage.RegisterMirror("sqlite", NewMirror)
	storage.RegisterCurated("sqlite", NewCurated)
}

// open opens cfg.DSN with the modernc driver and pings it.
//
// The pool is pinned to one connection: an in-memory database exists per
// connection, and a single writer matches how SQLite locks anyway.
func open(ctx context.Context, cfg storage.Config) (*sql.DB, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return db, nil
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// placeholders returns "?1, ?2, ..., ?n".
func placeholders(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "?%d", i)
	}
	return b.String()
}

// bindValue converts values SQLite has no native type for. Dates are stored
// as ISO text so they sort and compare as dates.
func bindValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format("2006-01-02")
		}
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return nil
		}
		return bindValue(*t)
	default:
		return v
	}
}
