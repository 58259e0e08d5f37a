// Package curate loads the source files into the curated tables.
//
// Each Step of a plan reads one file once, resolves its identifier and value
// columns through the alias dictionary, coerces values and upserts them in
// batches. All steps of a run share one transaction that commits at the end.
package curate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"welletl/internal/aliases"
	"welletl/internal/metrics"
	"welletl/internal/parser/pipe"
	"welletl/internal/storage"
)

// DefaultBatchSize is the number of rows per Upsert call.
const DefaultBatchSize = 1000

// ErrNoIdentifierColumn marks a file in which none of the identifier
// candidates resolves to a header.
var ErrNoIdentifierColumn = errors.New("curate: no identifier column")

// SkippedFile is a planned file the run left out, with the reason.
type SkippedFile struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// Result summarizes a run. Upserted counts rows sent to each table (a table
// fed by several steps sums them); Affected is what the database reported.
// Skipped counts rows left out: rows without an identifier (every row of a
// file whose identifier column cannot be resolved) and child rows repeating
// a key already taken earlier in the same file.
type Result struct {
	Upserted     map[string]int64 `json:"upserted"`
	Skipped      map[string]int64 `json:"skipped"`
	Affected     map[string]int64 `json:"affected"`
	Repaired     int64            `json:"rows_repaired"`
	SkippedFiles []SkippedFile    `json:"skipped_files,omitempty"`
}

func newResult() Result {
	return Result{
		Upserted: map[string]int64{},
		Skipped:  map[string]int64{},
		Affected: map[string]int64{},
	}
}

// Orchestrator runs curated loads against one repository.
type Orchestrator struct {
	Repo   storage.CuratedRepository
	Logger *zap.Logger

	// BatchSize <= 0 means DefaultBatchSize.
	BatchSize int

	// Plan nil means DefaultPlan().
	Plan []Step

	Reader pipe.Options

	// Bounds filters coordinates. The zero value keeps every coordinate.
	Bounds Bounds
}

// Run executes the plan against the files in sourceDir.
//
// Edge cases:
//   - A planned file that is missing, unreadable, empty or has no identifier
//     column is skipped with a warning.
//   - A file without an entry in dict is resolved against its own header.
//   - Rows with an empty identifier are counted in Skipped. So are all rows
//     of a file without an identifier column, and insert-only child rows
//     whose (id, sequence) key repeats within the file.
//
// Errors:
//   - Any database error. The transaction is rolled back, so the curated
//     tables are left as they were before the run.
func (o *Orchestrator) Run(ctx context.Context, sourceDir string, dict aliases.Dictionary) (res Result, err error) {
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("stage", "etl"))

	start := time.Now()
	defer func() { metrics.RecordStep("etl", start, err) }()

	plan := o.Plan
	if plan == nil {
		plan = DefaultPlan()
	}
	res = newResult()

	tx, err := o.Repo.BeginCurated(ctx)
	if err != nil {
		return res, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, step := range plan {
		path, ok := findFile(sourceDir, step.File)
		if !ok {
			log.Warn("source file not found", zap.String("file", step.File))
			res.SkippedFiles = append(res.SkippedFiles, SkippedFile{File: step.File, Reason: "not found"})
			continue
		}

		sr, skip, serr := o.runStep(ctx, tx, step, path, dict, log)
		if skip != nil {
			log.Warn("skipping file", zap.String("file", step.File), zap.Error(skip), zap.Int64("rows", sr.skipped))
			res.SkippedFiles = append(res.SkippedFiles, SkippedFile{File: step.File, Reason: skip.Error()})
			if sr.skipped > 0 {
				res.Skipped[step.Table] += sr.skipped
			}
			continue
		}
		if serr != nil {
			return res, serr
		}

		res.Upserted[step.Table] += sr.sent
		res.Skipped[step.Table] += sr.skipped
		res.Affected[step.Table] += sr.affected
		res.Repaired += sr.repaired
		log.Info("loaded file",
			zap.String("file", step.File),
			zap.String("table", step.Table),
			zap.String("mode", step.Mode.String()),
			zap.Int64("rows", sr.sent),
			zap.Int64("skipped", sr.skipped),
			zap.Int64("affected", sr.affected),
		)
	}

	if err = tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("curate: commit: %w", err)
	}

	var sent, skipped int64
	for _, n := range res.Upserted {
		sent += n
	}
	for _, n := range res.Skipped {
		skipped += n
	}
	metrics.RecordRecords(metrics.KindUpserted, sent)
	metrics.RecordRecords(metrics.KindSkipped, skipped)
	metrics.RecordRecords(metrics.KindRepaired, res.Repaired)
	log.Info("etl complete",
		zap.Int64("rows", sent),
		zap.Int64("skipped", skipped),
		zap.Int("skipped_files", len(res.SkippedFiles)),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

type stepResult struct {
	sent     int64
	skipped  int64
	affected int64
	repaired int64
}

// column is a resolved field: idx into the row, or parts for composed text.
type column struct {
	field Field
	idx   int
	parts []int
}

// runStep returns skip for file-level problems and err for database ones.
func (o *Orchestrator) runStep(ctx context.Context, tx storage.CuratedTx, step Step, path string, dict aliases.Dictionary, log *zap.Logger) (sr stepResult, skip, err error) {
	r, oerr := pipe.Open(path, o.Reader)
	if oerr != nil {
		return sr, oerr, nil
	}
	defer r.Close()

	header := r.Header()
	res := newResolver(header)
	if fa, ok := dict.For(step.File); ok {
		res.known = fa.Index()
	} else {
		log.Warn("no alias entry, resolving against file header", zap.String("file", step.File))
	}

	idIdx := res.index(step.ID)
	if idIdx < 0 {
		sr.skipped = drain(r)
		return sr, fmt.Errorf("%w: %s (tried %s)", ErrNoIdentifierColumn, step.File, strings.Join(step.ID, ", ")), nil
	}
	seqIdx := -1
	if step.Seq != nil {
		seqIdx = res.index(step.Seq.Candidates)
	}
	cols := make([]column, len(step.Fields))
	for i, f := range step.Fields {
		cols[i] = column{field: f, idx: -1}
		if len(f.Parts) > 0 {
			for _, p := range f.Parts {
				cols[i].parts = append(cols[i].parts, res.index(p))
			}
			continue
		}
		cols[i].idx = res.index(f.Candidates)
		if cols[i].idx < 0 {
			log.Debug("field not present", zap.String("file", step.File), zap.String("column", f.Column))
		}
	}
	latPos, lonPos := coordPositions(step.Fields)

	spec := step.Spec()
	keyWidth := len(spec.Key)
	size := o.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	seq := map[string]int{}
	// Insert-only keys already sent from this file. The database would
	// ignore a repeat without reporting it.
	var taken map[string]struct{}
	if step.Mode == storage.ModeInsertIgnore {
		taken = map[string]struct{}{}
	}
	b := newBatch(size, keyWidth+len(cols))

	flush := func() error {
		if b.len() == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := tx.Upsert(ctx, spec, b.rows)
		if err != nil {
			return err
		}
		metrics.RecordBatch()
		sr.affected += n
		sr.sent += int64(b.len())
		b.reset()
		return nil
	}

	for {
		row, rerr := r.Next()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return sr, nil, fmt.Errorf("curate: %s line %d: %w", step.File, r.Line(), rerr)
		}

		id := strings.TrimSpace(row[idIdx])
		if id == "" {
			sr.skipped++
			continue
		}

		s := ""
		if step.Seq != nil {
			seq[id]++
			if seqIdx >= 0 {
				s = strings.TrimSpace(row[seqIdx])
			}
			if s == "" {
				s = strconv.Itoa(seq[id])
			}
		}
		if taken != nil {
			k := id + "\x00" + s
			if _, dup := taken[k]; dup {
				sr.skipped++
				log.Debug("duplicate key, row skipped",
					zap.String("file", step.File),
					zap.Int("line", r.Line()),
					zap.String("id", id),
					zap.String("seq", s),
				)
				continue
			}
			taken[k] = struct{}{}
		}

		out := b.next()
		out[0] = id
		if step.Seq != nil {
			out[1] = s
		}
		for i, c := range cols {
			out[keyWidth+i] = c.value(row)
		}
		if latPos >= 0 && lonPos >= 0 {
			lat, lok := out[keyWidth+latPos].(float64)
			lon, nok := out[keyWidth+lonPos].(float64)
			if lok && nok && !o.Bounds.Contains(lat, lon) {
				out[keyWidth+latPos], out[keyWidth+lonPos] = nil, nil
			}
		}

		if b.full() {
			if err = flush(); err != nil {
				return sr, nil, err
			}
		}
	}
	if err = flush(); err != nil {
		return sr, nil, err
	}
	sr.repaired = r.Stats().Repaired()
	return sr, nil, nil
}

// drain counts the remaining rows of r. A read error ends the count.
func drain(r *pipe.Reader) int64 {
	var n int64
	for {
		if _, err := r.Next(); err != nil {
			return n
		}
		n++
	}
}

func (c column) value(row []string) any {
	if c.parts != nil {
		var vals []string
		for _, i := range c.parts {
			if i < 0 {
				continue
			}
			if v := strings.TrimSpace(row[i]); v != "" {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			return nil
		}
		return strings.Join(vals, ", ")
	}
	if c.idx < 0 {
		return nil
	}
	return coerce(c.field.Kind, row[c.idx])
}

func coordPositions(fields []Field) (lat, lon int) {
	lat, lon = -1, -1
	for i, f := range fields {
		switch f.Kind {
		case Lat:
			lat = i
		case Lon:
			lon = i
		}
	}
	return lat, lon
}

// resolver maps candidate lists to positions in a file's header. Candidates
// resolve through the alias entry first; a resolved name that the current
// header does not carry falls back to the header itself.
type resolver struct {
	known  aliases.HeaderSet
	actual aliases.HeaderSet
	pos    map[string]int
}

func newResolver(header []string) *resolver {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if _, dup := pos[h]; !dup {
			pos[h] = i
		}
	}
	return &resolver{actual: aliases.HeadersOf(header), pos: pos}
}

func (r *resolver) index(candidates []string) int {
	if r.known != nil {
		if name, ok := r.known.Resolve(candidates...); ok {
			if i, ok := r.pos[strings.TrimSpace(name)]; ok {
				return i
			}
		}
	}
	if name, ok := r.actual.Resolve(candidates...); ok {
		return r.pos[strings.TrimSpace(name)]
	}
	return -1
}

// findFile locates name in dir, exact match first, then case-insensitively.
func findFile(dir, name string) (string, bool) {
	p := filepath.Join(dir, name)
	if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
		return p, true
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(e.Name(), name) {
			return filepath.Join(dir, e.Name()), true
		}
	}
	return "", false
}
