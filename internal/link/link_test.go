package link

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"welletl/internal/storage"
	"welletl/internal/storage/sqlite"
)

func seed(t *testing.T) (storage.CuratedRepository, *sql.DB) {
	t.Helper()
	ctx := context.Background()
	repo, err := sqlite.NewCurated(ctx, storage.Config{
		Kind: "sqlite",
		DSN:  "file:" + filepath.Join(t.TempDir(), "link.db"),
	})
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	require.NoError(t, repo.EnsureSchema(ctx))

	tx, err := repo.BeginCurated(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	reports := storage.TableSpec{Name: "well_reports", Key: []string{"id"}, Columns: []string{"lat", "lon"}, Mode: storage.ModeOverwrite}
	gwdb := storage.TableSpec{Name: "gwdb_wells", Key: []string{"id"}, Columns: []string{"lat", "lon"}, Mode: storage.ModeOverwrite}
	_, err = tx.Upsert(ctx, reports, [][]any{
		{"1001", 30.2672, -97.7431},
		{"1002", 31.5493, -97.1467},
		{"1003", nil, nil},
	})
	require.NoError(t, err)
	_, err = tx.Upsert(ctx, gwdb, [][]any{
		{"A", 30.2672, -97.7431}, // coincident with 1001
		{"B", 30.2690, -97.7431}, // ~200 m north of 1001
		{"C", 30.2760, -97.7431}, // ~980 m north of 1001
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	return repo, repo.(*sqlite.CuratedRepo).DB()
}

func scores(t *testing.T, db *sql.DB) map[string]float64 {
	t.Helper()
	rows, err := db.Query(`SELECT sdr_id, gwdb_id, match_score FROM well_links`)
	require.NoError(t, err)
	defer rows.Close()
	out := map[string]float64{}
	for rows.Next() {
		var a, b string
		var s float64
		require.NoError(t, rows.Scan(&a, &b, &s))
		out[a+">"+b] = s
	}
	require.NoError(t, rows.Err())
	return out
}

func TestLink(t *testing.T) {
	repo, db := seed(t)
	l := &Linker{Repo: repo, BatchSize: 1}

	total, err := l.Link(context.Background(), 250)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	got := scores(t, db)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got["1001>A"])
	d := Haversine(30.2672, -97.7431, 30.2690, -97.7431)
	assert.InDelta(t, 1-d/250, got["1001>B"], 1e-9)
}

func TestLink_RerunWithLargerRadiusUpdatesScores(t *testing.T) {
	repo, db := seed(t)
	l := &Linker{Repo: repo}
	ctx := context.Background()

	_, err := l.Link(ctx, 250)
	require.NoError(t, err)
	before := scores(t, db)

	total, err := l.Link(ctx, 1000)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total, "one new edge, no duplicates")

	after := scores(t, db)
	assert.Greater(t, after["1001>B"], before["1001>B"])
	assert.Contains(t, after, "1001>C")

	// Shrinking the radius keeps edges it no longer reaches.
	total, err = l.Link(ctx, 100)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Equal(t, after["1001>C"], scores(t, db)["1001>C"])
}

func TestLink_InvalidRadius(t *testing.T) {
	repo, _ := seed(t)
	l := &Linker{Repo: repo}
	for _, r := range []float64{0, -5} {
		_, err := l.Link(context.Background(), r)
		assert.ErrorIs(t, err, ErrInvalidRadius)
	}
}

func TestLink_CustomPopulations(t *testing.T) {
	repo, _ := seed(t)
	l := &Linker{Repo: repo, From: storage.PointSource{Table: "gwdb_wells", IDColumn: "id", LatColumn: "lat", LonColumn: "lon"}}
	total, err := l.Link(context.Background(), 1)
	require.NoError(t, err)
	// A, B and C are linked to themselves only.
	assert.EqualValues(t, 3, total)
}
