package curate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"welletl/internal/aliases"
	"welletl/internal/parser/pipe"
	"welletl/internal/storage"
	"welletl/internal/storage/sqlite"
)

func writeFile(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	body := strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func newRepo(t *testing.T) (storage.CuratedRepository, *sql.DB) {
	t.Helper()
	ctx := context.Background()
	repo, err := sqlite.NewCurated(ctx, storage.Config{
		Kind: "sqlite",
		DSN:  "file:" + filepath.Join(t.TempDir(), "curated.db"),
	})
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	require.NoError(t, repo.EnsureSchema(ctx))
	return repo, repo.(*sqlite.CuratedRepo).DB()
}

func newOrchestrator(repo storage.CuratedRepository) *Orchestrator {
	return &Orchestrator{Repo: repo, Reader: pipe.DefaultOptions(), Bounds: TexasBounds()}
}

func count(t *testing.T, db *sql.DB, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func depthOf(t *testing.T, db *sql.DB, id string) sql.NullInt64 {
	t.Helper()
	var d sql.NullInt64
	require.NoError(t, db.QueryRow(`SELECT depth_ft FROM well_reports WHERE id = ?1`, id).Scan(&d))
	return d
}

func sourceDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "WellData.txt",
		"TrackingNumber|OwnerName|StreetAddress|City|Zip|County|CoordDDLat|CoordDDLong",
		"1001|Ann Smith|12 Oak St|Austin|78701|Travis|30.2672|-97.7431",
		"1002|Bob Jones||Waco||McLennan|31.5493|-97.1467",
		"1003|Cy Lee|||||40.7128|-74.0060",
	)
	writeFile(t, dir, "WellMain.txt",
		"StateWellNumber|County|WellDepth|AquiferCode|LatitudeDD|LongitudeDD",
		"5801101|Travis|340.5|EDWD|30.2673|-97.7430",
		"5801102|Travis|x|TRNT|30.5|-97.9",
	)
	writeFile(t, dir, "WellCompletion.txt",
		"TrackingNumber|TotalDepth|CompletionDate",
		"1001|120|03/07/2019",
		"1002||",
		"9999|50|2020-01-01",
	)
	writeFile(t, dir, "WellBoreHole.txt",
		"TrackingNumber|StartDepth|EndDepth|Diameter",
		"1001|0|40|8.75",
		"1001|40|120|6",
		"1002|0|80|8",
	)
	writeFile(t, dir, "WellCasing.txt",
		"TrackingNumber|CasingNo|TopDepth|BottomDepth|Diameter|Material",
		"1001|A|0|40|6|PVC",
		"1001||40|100|4|Steel",
	)
	return dir
}

func TestRun_LoadsEveryTable(t *testing.T) {
	repo, db := newRepo(t)
	dir := sourceDir(t)

	res, err := newOrchestrator(repo).Run(context.Background(), dir, nil)
	require.NoError(t, err)

	assert.EqualValues(t, 3+3, res.Upserted["well_reports"], "primary rows plus enrichment rows sent")
	assert.EqualValues(t, 2, res.Upserted["gwdb_wells"])
	assert.EqualValues(t, 3, res.Upserted["well_boreholes"])
	assert.EqualValues(t, 2, res.Upserted["well_casings"])
	require.Len(t, res.SkippedFiles, 1)
	assert.Equal(t, "WellFilter.txt", res.SkippedFiles[0].File)

	assert.EqualValues(t, 3, count(t, db, "well_reports"), "enrichment for unknown ids adds nothing")
	assert.EqualValues(t, 2, count(t, db, "gwdb_wells"))

	var addr, county string
	var lat, lon float64
	var date string
	require.NoError(t, db.QueryRow(
		`SELECT address, county, lat, lon, date_completed FROM well_reports WHERE id = '1001'`,
	).Scan(&addr, &county, &lat, &lon, &date))
	assert.Equal(t, "12 Oak St, Austin, 78701", addr)
	assert.Equal(t, "Travis", county)
	assert.InDelta(t, 30.2672, lat, 1e-9)
	assert.InDelta(t, -97.7431, lon, 1e-9)
	assert.Equal(t, "2019-03-07", date)
	assert.EqualValues(t, 120, depthOf(t, db, "1001").Int64)

	require.NoError(t, db.QueryRow(`SELECT address FROM well_reports WHERE id = '1002'`).Scan(&addr))
	assert.Equal(t, "Waco", addr)

	var nlat, nlon, naddr sql.NullString
	require.NoError(t, db.QueryRow(`SELECT lat, lon, address FROM well_reports WHERE id = '1003'`).Scan(&nlat, &nlon, &naddr))
	assert.False(t, nlat.Valid, "out of bounds latitude is nulled")
	assert.False(t, nlon.Valid, "out of bounds longitude is nulled")
	assert.False(t, naddr.Valid)

	var depth sql.NullInt64
	var aquifer string
	require.NoError(t, db.QueryRow(`SELECT total_depth_ft, aquifer FROM gwdb_wells WHERE id = '5801101'`).Scan(&depth, &aquifer))
	assert.EqualValues(t, 340, depth.Int64)
	assert.Equal(t, "EDWD", aquifer)
	require.NoError(t, db.QueryRow(`SELECT total_depth_ft FROM gwdb_wells WHERE id = '5801102'`).Scan(&depth))
	assert.False(t, depth.Valid, "unparsable number becomes null")
}

func TestRun_Idempotent(t *testing.T) {
	repo, db := newRepo(t)
	dir := sourceDir(t)
	o := newOrchestrator(repo)

	snapshot := func() string {
		var b strings.Builder
		for _, q := range []string{
			`SELECT id, owner_name, address, county, lat, lon, depth_ft, date_completed FROM well_reports ORDER BY id`,
			`SELECT id, county, total_depth_ft, aquifer, lat, lon FROM gwdb_wells ORDER BY id`,
			`SELECT sdr_id, borehole_no, start_depth_ft, end_depth_ft, diameter_in FROM well_boreholes ORDER BY sdr_id, borehole_no`,
			`SELECT sdr_id, casing_no, top_ft, bottom_ft, material FROM well_casings ORDER BY sdr_id, casing_no`,
		} {
			rows, err := db.Query(q)
			require.NoError(t, err)
			cols, err := rows.Columns()
			require.NoError(t, err)
			for rows.Next() {
				vals := make([]any, len(cols))
				ptrs := make([]any, len(cols))
				for i := range vals {
					ptrs[i] = &vals[i]
				}
				require.NoError(t, rows.Scan(ptrs...))
				fmt.Fprintln(&b, vals...)
			}
			require.NoError(t, rows.Err())
			rows.Close()
		}
		return b.String()
	}

	first, err := o.Run(context.Background(), dir, nil)
	require.NoError(t, err)
	before := snapshot()

	second, err := o.Run(context.Background(), dir, nil)
	require.NoError(t, err)

	assert.Equal(t, first.Upserted, second.Upserted)
	assert.Equal(t, first.Skipped, second.Skipped)
	assert.Equal(t, before, snapshot())
}

func TestRun_EnrichmentNeverRegressesToNull(t *testing.T) {
	repo, db := newRepo(t)
	dir := t.TempDir()
	writeFile(t, dir, "WellData.txt", "TrackingNumber|OwnerName", "1001|Ann")
	o := newOrchestrator(repo)

	_, err := o.Run(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.False(t, depthOf(t, db, "1001").Valid)

	writeFile(t, dir, "WellCompletion.txt", "TrackingNumber|TotalDepth", "1001|120")
	_, err = o.Run(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 120, depthOf(t, db, "1001").Int64)

	writeFile(t, dir, "WellCompletion.txt", "TrackingNumber|TotalDepth", "1001|")
	_, err = o.Run(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 120, depthOf(t, db, "1001").Int64)

	writeFile(t, dir, "WellCompletion.txt", "TrackingNumber|TotalDepth", "1001|999")
	_, err = o.Run(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 120, depthOf(t, db, "1001").Int64, "fill only touches null columns")
}

func TestRun_RowsWithoutIdentifierAreSkipped(t *testing.T) {
	repo, db := newRepo(t)
	dir := t.TempDir()
	lines := []string{"TrackingNumber|OwnerName"}
	for i := 0; i < 100; i++ {
		if i%10 == 0 {
			lines = append(lines, fmt.Sprintf(" |owner %d", i))
			continue
		}
		lines = append(lines, fmt.Sprintf("%d|owner %d", i, i))
	}
	writeFile(t, dir, "WellData.txt", lines...)

	o := newOrchestrator(repo)
	o.BatchSize = 7
	res, err := o.Run(context.Background(), dir, nil)
	require.NoError(t, err)

	assert.EqualValues(t, 90, res.Upserted["well_reports"])
	assert.EqualValues(t, 10, res.Skipped["well_reports"])
	assert.EqualValues(t, 90, res.Affected["well_reports"])
	assert.EqualValues(t, 90, count(t, db, "well_reports"))
}

func TestRun_ChildSequence(t *testing.T) {
	repo, db := newRepo(t)
	dir := t.TempDir()
	writeFile(t, dir, "WellFilter.txt",
		"TrackingNumber|TopDepth|BottomDepth|Size",
		"1001|100|110|0.02",
		"1002|50|60|0.01",
		"1001|110|120|0.02",
		"1001|120|130|0.03",
	)
	writeFile(t, dir, "WellCasing.txt",
		"TrackingNumber|CasingNo|TopDepth",
		"1001|7|0",
		"1001||40",
		"1001|7|80",
	)

	res, err := newOrchestrator(repo).Run(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 4, res.Upserted["well_filters"])
	assert.EqualValues(t, 2, res.Upserted["well_casings"])
	assert.EqualValues(t, 1, res.Skipped["well_casings"], "repeated casing 7 is counted")

	rows, err := db.Query(`SELECT sdr_id, filter_no, top_ft FROM well_filters ORDER BY sdr_id, filter_no`)
	require.NoError(t, err)
	var got []string
	for rows.Next() {
		var id, no string
		var top float64
		require.NoError(t, rows.Scan(&id, &no, &top))
		got = append(got, fmt.Sprintf("%s/%s@%g", id, no, top))
	}
	require.NoError(t, rows.Err())
	rows.Close()
	assert.Equal(t, []string{"1001/1@100", "1001/2@110", "1001/3@120", "1002/1@50"}, got)

	// Explicit numbers win; the first row of a key wins.
	rows, err = db.Query(`SELECT casing_no, top_ft FROM well_casings ORDER BY casing_no`)
	require.NoError(t, err)
	got = nil
	for rows.Next() {
		var no string
		var top float64
		require.NoError(t, rows.Scan(&no, &top))
		got = append(got, fmt.Sprintf("%s@%g", no, top))
	}
	require.NoError(t, rows.Err())
	rows.Close()
	assert.Equal(t, []string{"2@40", "7@0"}, got)
}

func TestRun_ResolvesThroughAliases(t *testing.T) {
	repo, db := newRepo(t)
	dir := t.TempDir()
	writeFile(t, dir, "WellData.txt",
		"TRK_NO|Owner|Latitude|Longitude",
		"77|Dee|30.1|-97.1",
	)
	dict := aliases.Dictionary{
		"WellData.txt": {
			Manifest:   []string{"TRK_NO", "Owner", "Latitude", "Longitude"},
			Dictionary: []string{"TrackingNumber"},
		},
	}

	res, err := newOrchestrator(repo).Run(context.Background(), dir, dict)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Upserted["well_reports"])

	var owner string
	require.NoError(t, db.QueryRow(`SELECT owner_name FROM well_reports WHERE id = '77'`).Scan(&owner))
	assert.Equal(t, "Dee", owner)
}

func TestRun_NoIdentifierColumnSkipsFile(t *testing.T) {
	repo, _ := newRepo(t)
	dir := t.TempDir()
	writeFile(t, dir, "WellData.txt", "Owner|County", "Ann|Travis", "Bob|Waco")
	writeFile(t, dir, "WellMain.txt", "StateWellNumber|County", "1|Travis")

	res, err := newOrchestrator(repo).Run(context.Background(), dir, nil)
	require.NoError(t, err)

	var reasons []string
	for _, s := range res.SkippedFiles {
		if s.File == "WellData.txt" {
			reasons = append(reasons, s.Reason)
		}
	}
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], ErrNoIdentifierColumn.Error())
	assert.EqualValues(t, 2, res.Skipped["well_reports"], "every row of the file is counted")
	assert.Zero(t, res.Upserted["well_reports"])
	assert.EqualValues(t, 1, res.Upserted["gwdb_wells"])
}

func TestRun_GeneratedSequenceCollidingWithExplicit(t *testing.T) {
	repo, db := newRepo(t)
	dir := t.TempDir()
	writeFile(t, dir, "WellCasing.txt",
		"TrackingNumber|CasingNo|TopDepth",
		"1|2|0",
		"1||10",
		"1||20",
	)

	res, err := newOrchestrator(repo).Run(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Upserted["well_casings"])
	assert.EqualValues(t, 1, res.Skipped["well_casings"])
	assert.EqualValues(t, 2, count(t, db, "well_casings"))

	// A rerun sends the same rows and skips the same one.
	again, err := newOrchestrator(repo).Run(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.Equal(t, res.Skipped, again.Skipped)
	assert.EqualValues(t, 2, count(t, db, "well_casings"))
}

func TestRun_FindsFileCaseInsensitively(t *testing.T) {
	repo, db := newRepo(t)
	dir := t.TempDir()
	writeFile(t, dir, "welldata.TXT", "TrackingNumber|OwnerName", "1|Ann")

	_, err := newOrchestrator(repo).Run(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count(t, db, "well_reports"))
}

// failingRepo fails every Upsert into one table.
type failingRepo struct {
	storage.CuratedRepository
	table string
}

func (f failingRepo) BeginCurated(ctx context.Context) (storage.CuratedTx, error) {
	tx, err := f.CuratedRepository.BeginCurated(ctx)
	if err != nil {
		return nil, err
	}
	return failingTx{CuratedTx: tx, table: f.table}, nil
}

type failingTx struct {
	storage.CuratedTx
	table string
}

var errInjected = errors.New("connection reset")

func (f failingTx) Upsert(ctx context.Context, spec storage.TableSpec, rows [][]any) (int64, error) {
	if spec.Name == f.table {
		return 0, errInjected
	}
	return f.CuratedTx.Upsert(ctx, spec, rows)
}

func TestRun_RollsBackOnDatabaseError(t *testing.T) {
	repo, db := newRepo(t)
	dir := sourceDir(t)

	_, err := newOrchestrator(repo).Run(context.Background(), dir, nil)
	require.NoError(t, err)
	before := count(t, db, "well_boreholes")

	writeFile(t, dir, "WellData.txt", "TrackingNumber|OwnerName", "1001|Changed", "2001|New")
	writeFile(t, dir, "WellBoreHole.txt", "TrackingNumber|StartDepth", "2001|0")

	_, err = newOrchestrator(failingRepo{CuratedRepository: repo, table: "well_casings"}).Run(context.Background(), dir, nil)
	require.ErrorIs(t, err, errInjected)

	var owner string
	require.NoError(t, db.QueryRow(`SELECT owner_name FROM well_reports WHERE id = '1001'`).Scan(&owner))
	assert.Equal(t, "Ann Smith", owner)
	assert.EqualValues(t, 3, count(t, db, "well_reports"))
	assert.Equal(t, before, count(t, db, "well_boreholes"))
}

func TestStepSpec(t *testing.T) {
	for _, s := range DefaultPlan() {
		spec := s.Spec()
		require.NoError(t, spec.Validate(), s.File)
		if s.Seq != nil {
			assert.Len(t, spec.Key, 2, s.File)
			assert.Equal(t, storage.ModeInsertIgnore, spec.Mode, s.File)
		}
	}
	plan := DefaultPlan()
	assert.Equal(t, "WellData.txt", plan[0].File)
	assert.Equal(t, "WellMain.txt", plan[1].File)
	assert.Equal(t, storage.ModeFillNull, plan[2].Mode)
}
