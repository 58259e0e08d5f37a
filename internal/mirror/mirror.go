// Package mirror loads every source file into a text-typed table of its own,
// one table per file, inside a schema that is rebuilt from scratch on each
// run.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"welletl/internal/ident"
	"welletl/internal/metrics"
	"welletl/internal/parser/pipe"
	"welletl/internal/storage"
)

var (
	// ErrNotTabular marks a file whose header has fewer than two columns.
	ErrNotTabular = errors.New("mirror: header has fewer than two columns")

	// ErrCountMismatch is returned when a table's COUNT(*) differs from the
	// number of rows streamed into it.
	ErrCountMismatch = errors.New("mirror: row count mismatch")
)

// denylist holds base-name fragments of documents shipped next to the data.
var denylist = []string{"readme", "dictionary", "manifest", "license", "notes", "howto", "how_to"}

// IsDataFile reports whether path is not a known non-tabular document.
func IsDataFile(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	for _, d := range denylist {
		if strings.Contains(base, d) {
			return false
		}
	}
	return true
}

// PlanTable derives the mirror table for one file. names hands out table
// identifiers and should be shared by all files of a run.
//
// Edge cases:
//   - Column identifiers are sanitized and deduplicated case-insensitively in
//     header order, so ["A","B","a"] becomes [a b a_2].
//   - Source keeps the raw header text; MirrorColumn.Renamed reports changes.
//   - The first column whose header looks like a tracking number is indexed.
//
// Errors:
//   - ErrNotTabular if header has fewer than two fields.
func PlanTable(schema, file string, header []string, names *ident.Namer) (storage.MirrorTable, error) {
	if len(header) < 2 {
		return storage.MirrorTable{}, fmt.Errorf("%w: %s has %d", ErrNotTabular, filepath.Base(file), len(header))
	}

	cols := ident.NewNamer(ident.MaxLen)
	t := storage.MirrorTable{
		Schema:     schema,
		Name:       names.Add(ident.TableName(file)),
		Columns:    make([]storage.MirrorColumn, len(header)),
		SourceFile: filepath.Base(file),
	}
	for i, h := range header {
		t.Columns[i] = storage.MirrorColumn{Name: cols.Add(ident.Sanitize(h)), Source: h}
		if t.TrackingColumn == "" && ident.LooksLikeTracking(h) {
			t.TrackingColumn = t.Columns[i].Name
		}
	}
	return t, nil
}

// TableResult reports one loaded file.
type TableResult struct {
	File     string `json:"file"`
	Table    string `json:"table"`
	Columns  int    `json:"columns"`
	Renamed  int    `json:"renamed_columns"`
	Streamed int64  `json:"rows_streamed"`
	Counted  int64  `json:"rows_counted"`
	Repaired int64  `json:"rows_repaired"`
}

// SkippedFile is a file the run left out, with the reason.
type SkippedFile struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// Result summarizes a mirror run.
type Result struct {
	Schema       string        `json:"schema"`
	Tables       []TableResult `json:"tables"`
	SkippedFiles []SkippedFile `json:"skipped_files,omitempty"`
}

// Counts returns rows per table.
func (r Result) Counts() map[string]int64 {
	out := make(map[string]int64, len(r.Tables))
	for _, t := range r.Tables {
		out[t.Table] = t.Counted
	}
	return out
}

// Loader runs mirror loads against one repository.
type Loader struct {
	Repo   storage.MirrorRepository
	Reader pipe.Options
	Logger *zap.Logger
}

// Load rebuilds schema from files.
//
// The whole run is one transaction: the schema is dropped and recreated, each
// data file becomes a table, rows are bulk-copied with shape repair and each
// table's COUNT(*) is checked against the rows streamed. Unreadable and
// non-tabular files are skipped with a warning. Any database error (or a
// count mismatch) rolls the run back, leaving the previous mirror in place.
func (l *Loader) Load(ctx context.Context, files []string, schema string) (res Result, err error) {
	log := l.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("stage", "mirror"), zap.String("schema", schema))

	start := time.Now()
	defer func() { metrics.RecordStep("mirror", start, err) }()

	res.Schema = schema
	tx, err := l.Repo.BeginMirror(ctx)
	if err != nil {
		return res, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err = tx.ResetSchema(ctx, schema); err != nil {
		return res, err
	}

	tables := ident.NewNamer(ident.MaxLen)
	tables.Add(storage.MirrorMetaTable)
	for _, f := range files {
		if !IsDataFile(f) {
			log.Info("skipping non-data file", zap.String("file", f))
			res.SkippedFiles = append(res.SkippedFiles, SkippedFile{File: f, Reason: "denylisted"})
			continue
		}

		tr, skip, ferr := l.loadFile(ctx, tx, schema, f, tables)
		if skip != nil {
			log.Warn("skipping file", zap.String("file", f), zap.Error(skip))
			res.SkippedFiles = append(res.SkippedFiles, SkippedFile{File: f, Reason: skip.Error()})
			continue
		}
		if ferr != nil {
			return res, ferr
		}
		log.Info("mirrored file",
			zap.String("file", tr.File),
			zap.String("table", tr.Table),
			zap.Int("columns", tr.Columns),
			zap.Int64("rows", tr.Counted),
			zap.Int64("repaired", tr.Repaired),
		)
		res.Tables = append(res.Tables, tr)
	}

	if err = tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("mirror: commit: %w", err)
	}

	var rows, repaired int64
	for _, t := range res.Tables {
		rows += t.Counted
		repaired += t.Repaired
	}
	metrics.RecordRecords(metrics.KindMirrored, rows)
	metrics.RecordRecords(metrics.KindRepaired, repaired)
	log.Info("mirror complete",
		zap.Int("tables", len(res.Tables)),
		zap.Int("skipped_files", len(res.SkippedFiles)),
		zap.Int64("rows", rows),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

// loadFile returns skip for file-level problems and err for database ones.
func (l *Loader) loadFile(ctx context.Context, tx storage.MirrorTx, schema, file string, tables *ident.Namer) (tr TableResult, skip, err error) {
	r, oerr := pipe.Open(file, l.Reader)
	if oerr != nil {
		if errors.Is(oerr, pipe.ErrEmptyFile) {
			return tr, fmt.Errorf("%w: %s is empty", ErrNotTabular, filepath.Base(file)), nil
		}
		return tr, oerr, nil
	}
	defer r.Close()

	t, perr := PlanTable(schema, file, r.Header(), tables)
	if perr != nil {
		return tr, perr, nil
	}

	if err = tx.CreateTable(ctx, t); err != nil {
		return tr, nil, err
	}
	streamed, err := tx.CopyRows(ctx, t, r)
	if err != nil {
		return tr, nil, err
	}
	counted, err := tx.CountRows(ctx, t)
	if err != nil {
		return tr, nil, err
	}
	if counted != streamed {
		return tr, nil, fmt.Errorf("%w: %s streamed %d, counted %d", ErrCountMismatch, t.Name, streamed, counted)
	}
	metrics.RecordBatch()

	renamed := 0
	for _, c := range t.Columns {
		if c.Renamed() {
			renamed++
		}
	}
	return TableResult{
		File:     t.SourceFile,
		Table:    t.Name,
		Columns:  len(t.Columns),
		Renamed:  renamed,
		Streamed: streamed,
		Counted:  counted,
		Repaired: r.Stats().Repaired(),
	}, nil, nil
}
