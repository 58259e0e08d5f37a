package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssqldb "github.com/microsoft/go-mssqldb"

	"welletl/internal/storage"
)

// SQL Server serves as a mirror target only; the curated schema is
// Postgres/SQLite.
func init() {
	storage.RegisterMirror("mssql", NewMirror)
}

func open(ctx context.Context, cfg storage.Config) (*sql.DB, error) {
	connector, err := mssqldb.NewConnector(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mssql: parse dsn: %w", err)
	}
	db := sql.OpenDB(connector)
	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(int(cfg.MaxConnections))
		db.SetMaxIdleConns(int(cfg.MaxConnections))
	}

	_, err = storage.Retry(ctx, storage.DefaultRetryPolicy(), cfg.Logger, "mssql ping", func() (struct{}, error) {
		return struct{}{}, db.PingContext(ctx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return db, nil
}

// mssqlIdent brackets an identifier; "]" is escaped by doubling.
func mssqlIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

func mssqlTable(schema, table string) string {
	if schema == "" {
		return mssqlIdent(table)
	}
	return mssqlIdent(schema) + "." + mssqlIdent(table)
}

// mssqlLiteral quotes s as an N'' literal.
func mssqlLiteral(s string) string {
	return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
}
