// Package link connects well reports to groundwater database wells that lie
// within a radius of each other, scoring each pair by proximity.
package link

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"welletl/internal/metrics"
	"welletl/internal/storage"
)

// ErrInvalidRadius is returned by Link for a radius that is not positive.
var ErrInvalidRadius = errors.New("link: radius must be positive")

// DefaultRadiusM is the default match radius in meters.
const DefaultRadiusM = 50

var (
	// WellReports is the population links start from.
	WellReports = storage.PointSource{Table: "well_reports", IDColumn: "id", LatColumn: "lat", LonColumn: "lon"}

	// GWDBWells is the population links point to.
	GWDBWells = storage.PointSource{Table: "gwdb_wells", IDColumn: "id", LatColumn: "lat", LonColumn: "lon"}

	// Links is the edge table. Re-linking a pair replaces its score.
	Links = storage.TableSpec{
		Name:    "well_links",
		Key:     []string{"sdr_id", "gwdb_id"},
		Columns: []string{"match_score"},
		Mode:    storage.ModeOverwrite,
	}
)

// Linker writes proximity links between two point populations.
type Linker struct {
	Repo   storage.CuratedRepository
	Logger *zap.Logger

	// BatchSize <= 0 means 1000.
	BatchSize int

	// From and To default to WellReports and GWDBWells.
	From, To storage.PointSource
}

// Link upserts every pair within radiusM and returns the total number of
// rows in the link table afterwards, including links from earlier runs that
// this run did not touch.
//
// Links are never deleted. After a run with a smaller radius, pairs that are
// now out of range keep the row and the score of the run that wrote them, so
// a score is only comparable with scores written at the same radius.
//
// Errors:
//   - ErrInvalidRadius if radiusM <= 0.
//   - Any database error; the run is rolled back.
func (l *Linker) Link(ctx context.Context, radiusM float64) (total int64, err error) {
	if radiusM <= 0 {
		return 0, fmt.Errorf("%w: %g", ErrInvalidRadius, radiusM)
	}
	log := l.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("stage", "link"), zap.Float64("radius_m", radiusM))

	start := time.Now()
	defer func() { metrics.RecordStep("link", start, err) }()

	from, to := l.From, l.To
	if from == (storage.PointSource{}) {
		from = WellReports
	}
	if to == (storage.PointSource{}) {
		to = GWDBWells
	}
	size := l.BatchSize
	if size <= 0 {
		size = 1000
	}

	tx, err := l.Repo.BeginCurated(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	a, err := tx.Points(ctx, from)
	if err != nil {
		return 0, err
	}
	b, err := tx.Points(ctx, to)
	if err != nil {
		return 0, err
	}

	pairs := Pairs(a, b, radiusM)
	rows := make([][]any, 0, size)
	for i, p := range pairs {
		rows = append(rows, []any{p.From, p.To, p.Score})
		if len(rows) < size && i < len(pairs)-1 {
			continue
		}
		if _, err = tx.Upsert(ctx, Links, rows); err != nil {
			return 0, err
		}
		metrics.RecordBatch()
		rows = rows[:0]
	}

	total, err = tx.Count(ctx, Links.Name)
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("link: commit: %w", err)
	}

	metrics.RecordRecords(metrics.KindLinked, int64(len(pairs)))
	log.Info("link complete",
		zap.Int("from_points", len(a)),
		zap.Int("to_points", len(b)),
		zap.Int("pairs", len(pairs)),
		zap.Int64("total_links", total),
		zap.Duration("duration", time.Since(start)),
	)
	return total, nil
}
