package postgres

import (
	"strings"
	"testing"

	"welletl/internal/storage"
)

func TestBuildUpsertSQL_Overwrite(t *testing.T) {
	t.Parallel()

	sql, err := buildUpsertSQL(storage.TableSpec{
		Name:    "well_reports",
		Key:     []string{"id"},
		Columns: []string{"owner_name", "county"},
		Mode:    storage.ModeOverwrite,
	})
	if err != nil {
		t.Fatalf("buildUpsertSQL: %v", err)
	}
	want := `INSERT INTO "well_reports" ("id", "owner_name", "county") VALUES ($1, $2, $3) ` +
		`ON CONFLICT ("id") DO UPDATE SET "owner_name" = EXCLUDED."owner_name", "county" = EXCLUDED."county"`
	if sql != want {
		t.Fatalf("unexpected sql:\n got %s\nwant %s", sql, want)
	}
}

func TestBuildUpsertSQL_FillNullOnlyTouchesNullColumns(t *testing.T) {
	t.Parallel()

	sql, err := buildUpsertSQL(storage.TableSpec{
		Name:    "well_reports",
		Key:     []string{"id"},
		Columns: []string{"depth_ft", "date_completed"},
		Mode:    storage.ModeFillNull,
	})
	if err != nil {
		t.Fatalf("buildUpsertSQL: %v", err)
	}
	if !strings.HasPrefix(sql, `UPDATE "well_reports" SET `) {
		t.Fatalf("expected UPDATE, got %q", sql)
	}
	if !strings.Contains(sql, `"depth_ft" = COALESCE("well_reports"."depth_ft", $2)`) {
		t.Fatalf("depth_ft must keep the existing value first: %q", sql)
	}
	if !strings.Contains(sql, `"date_completed" = COALESCE("well_reports"."date_completed", $3)`) {
		t.Fatalf("date_completed placeholder mismatch: %q", sql)
	}
	if !strings.HasSuffix(sql, `WHERE "id" = $1`) {
		t.Fatalf("expected key predicate on $1: %q", sql)
	}
	if strings.Contains(sql, "INSERT") {
		t.Fatalf("fill_null must never insert: %q", sql)
	}
}

func TestBuildUpsertSQL_InsertIgnoreCompositeKey(t *testing.T) {
	t.Parallel()

	sql, err := buildUpsertSQL(storage.TableSpec{
		Name:    "well_casings",
		Key:     []string{"sdr_id", "casing_no"},
		Columns: []string{"top_ft"},
		Mode:    storage.ModeInsertIgnore,
	})
	if err != nil {
		t.Fatalf("buildUpsertSQL: %v", err)
	}
	if !strings.HasSuffix(sql, `ON CONFLICT ("sdr_id", "casing_no") DO NOTHING`) {
		t.Fatalf("expected composite DO NOTHING, got %q", sql)
	}
	if !strings.Contains(sql, "VALUES ($1, $2, $3)") {
		t.Fatalf("placeholder numbering mismatch: %q", sql)
	}
}

func TestBuildUpsertSQL_OverwriteWithoutColumnsDoesNothing(t *testing.T) {
	t.Parallel()

	sql, err := buildUpsertSQL(storage.TableSpec{Name: "t", Key: []string{"id"}})
	if err != nil {
		t.Fatalf("buildUpsertSQL: %v", err)
	}
	if !strings.HasSuffix(sql, "DO NOTHING") {
		t.Fatalf("expected DO NOTHING, got %q", sql)
	}
}

func TestBuildUpsertSQL_RejectsInvalidSpec(t *testing.T) {
	t.Parallel()

	if _, err := buildUpsertSQL(storage.TableSpec{Name: "t"}); err == nil {
		t.Fatalf("expected error for spec without key")
	}
}

func TestBuildCreateMirrorSQL(t *testing.T) {
	t.Parallel()

	stmts, err := buildCreateMirrorSQL(storage.MirrorTable{
		Schema:     "sdr_raw",
		Name:       "well_data",
		SourceFile: "WellData.txt",
		Columns: []storage.MirrorColumn{
			{Name: "tracking_number", Source: "TrackingNumber"},
			{Name: "county", Source: "county"},
			{Name: "owner_s_name", Source: "Owner's Name"},
		},
		TrackingColumn: "tracking_number",
	})
	if err != nil {
		t.Fatalf("buildCreateMirrorSQL: %v", err)
	}

	want := []string{
		`CREATE TABLE "sdr_raw"."well_data" ("tracking_number" TEXT, "county" TEXT, "owner_s_name" TEXT)`,
		`COMMENT ON TABLE "sdr_raw"."well_data" IS 'WellData.txt'`,
		`COMMENT ON COLUMN "sdr_raw"."well_data"."tracking_number" IS 'TrackingNumber'`,
		`COMMENT ON COLUMN "sdr_raw"."well_data"."owner_s_name" IS 'Owner''s Name'`,
		`CREATE INDEX "idx_well_data_tracking" ON "sdr_raw"."well_data" ("tracking_number")`,
	}
	if len(stmts) != len(want) {
		t.Fatalf("expected %d statements, got %d: %q", len(want), len(stmts), stmts)
	}
	for i := range want {
		if stmts[i] != want[i] {
			t.Fatalf("stmt %d:\n got %s\nwant %s", i, stmts[i], want[i])
		}
	}
}

func TestBuildCreateMirrorSQL_RejectsEmpty(t *testing.T) {
	t.Parallel()

	if _, err := buildCreateMirrorSQL(storage.MirrorTable{Name: "t"}); err == nil {
		t.Fatalf("expected error for table without columns")
	}
}

func TestBuildResetSchemaSQL(t *testing.T) {
	t.Parallel()

	got := buildResetSchemaSQL("sdr_raw")
	if len(got) != 2 || got[0] != `DROP SCHEMA IF EXISTS "sdr_raw" CASCADE` || got[1] != `CREATE SCHEMA "sdr_raw"` {
		t.Fatalf("unexpected reset sql: %q", got)
	}
}

func TestPgLiteral_StripsNUL(t *testing.T) {
	t.Parallel()

	if got := pgLiteral("a\x00'b"); got != `'a''b'` {
		t.Fatalf("pgLiteral=%s", got)
	}
}

func TestBuildPointsSQL(t *testing.T) {
	t.Parallel()

	got := buildPointsSQL(storage.PointSource{Table: "gwdb_wells", IDColumn: "id", LatColumn: "lat", LonColumn: "lon"})
	want := `SELECT "id", "lat", "lon" FROM "gwdb_wells" WHERE "lat" IS NOT NULL AND "lon" IS NOT NULL ORDER BY "id"`
	if got != want {
		t.Fatalf("got %s", got)
	}
}
