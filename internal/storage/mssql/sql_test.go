package mssql

import (
	"strings"
	"testing"

	"welletl/internal/storage"
)

func TestMSSQLIdent_EscapesBracket(t *testing.T) {
	t.Parallel()

	if got := mssqlIdent("a]b"); got != "[a]]b]" {
		t.Fatalf("mssqlIdent: got %s", got)
	}
	if got := mssqlTable("", "t"); got != "[t]" {
		t.Fatalf("mssqlTable without schema: got %s", got)
	}
}

func TestBuildResetSchemaSQL(t *testing.T) {
	t.Parallel()

	stmts := buildResetSchemaSQL("sdr_raw", []string{"a", "b"})
	if len(stmts) != 4 {
		t.Fatalf("expected 4 statements, got %d: %v", len(stmts), stmts)
	}
	if stmts[0] != "DROP TABLE [sdr_raw].[a]" {
		t.Fatalf("unexpected drop: %s", stmts[0])
	}
	if stmts[2] != "IF SCHEMA_ID(N'sdr_raw') IS NOT NULL EXEC(N'DROP SCHEMA [sdr_raw]')" {
		t.Fatalf("unexpected drop schema: %s", stmts[2])
	}
	if stmts[3] != "EXEC(N'CREATE SCHEMA [sdr_raw]')" {
		t.Fatalf("unexpected create schema: %s", stmts[3])
	}
}

func TestBuildResetSchemaSQL_QuotesInsideExec(t *testing.T) {
	t.Parallel()

	stmts := buildResetSchemaSQL("o'brien", nil)
	if !strings.Contains(stmts[1], "N'CREATE SCHEMA [o''brien]'") {
		t.Fatalf("quote not doubled: %s", stmts[1])
	}
}

func TestBuildCreateMirrorSQL(t *testing.T) {
	t.Parallel()

	got, err := buildCreateMirrorSQL(storage.MirrorTable{
		Schema: "s", Name: "well_data",
		Columns: []storage.MirrorColumn{{Name: "tracking_number"}, {Name: "owner"}},
	})
	if err != nil {
		t.Fatalf("buildCreateMirrorSQL: %v", err)
	}
	want := "CREATE TABLE [s].[well_data] ([tracking_number] NVARCHAR(MAX) NULL, [owner] NVARCHAR(MAX) NULL)"
	if got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}

	if _, err := buildCreateMirrorSQL(storage.MirrorTable{Name: "t"}); err == nil {
		t.Fatalf("expected error for table without columns")
	}
}

func TestBuildDescriptionSQL(t *testing.T) {
	t.Parallel()

	tbl := buildDescriptionSQL(false)
	col := buildDescriptionSQL(true)
	if strings.Contains(tbl, "@p4") {
		t.Fatalf("table description must not bind a column: %s", tbl)
	}
	if !strings.HasSuffix(col, "@level2name = @p4") {
		t.Fatalf("column description must bind @p4: %s", col)
	}
}
