// Table descriptions shared by the loaders and the backend packages. They live
// here so both sides can import them without circular deps.
package storage

import "fmt"

// MirrorColumn is one text column of a mirror table.
type MirrorColumn struct {
	// Name is the sanitized, deduplicated identifier.
	Name string

	// Source is the header text exactly as published.
	Source string
}

// Renamed reports whether sanitization changed the header.
func (c MirrorColumn) Renamed() bool { return c.Source != c.Name }

// MirrorMetaTable is reserved inside every mirror schema for backends that
// keep column metadata in a table of their own.
const MirrorMetaTable = "column_sources"

// MirrorTable describes one mirror table; it is 1:1 with a source file.
type MirrorTable struct {
	Schema  string
	Name    string
	Columns []MirrorColumn

	// TrackingColumn, when non-empty, names a column to index.
	TrackingColumn string

	// SourceFile is the base name of the file the table was built from.
	SourceFile string
}

// ColumnNames returns the identifiers in table order.
func (t MirrorTable) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// TrackingIndexName is idx_<table>_tracking cut to 60 bytes.
func (t MirrorTable) TrackingIndexName() string {
	name := "idx_" + t.Name + "_tracking"
	if len(name) > 60 {
		name = name[:60]
	}
	return name
}

// LoadMode selects the conflict behavior of CuratedTx.Upsert.
type LoadMode int

const (
	// ModeOverwrite inserts new keys and overwrites every value column of
	// existing keys, nulls included.
	ModeOverwrite LoadMode = iota

	// ModeFillNull updates existing keys only, and only columns that are
	// currently null. Rows for unknown keys affect nothing.
	ModeFillNull

	// ModeInsertIgnore inserts new keys and leaves existing keys untouched.
	ModeInsertIgnore
)

func (m LoadMode) String() string {
	switch m {
	case ModeOverwrite:
		return "overwrite"
	case ModeFillNull:
		return "fill_null"
	case ModeInsertIgnore:
		return "insert_ignore"
	default:
		return fmt.Sprintf("LoadMode(%d)", int(m))
	}
}

// TableSpec describes an upsert target. Rows passed with a spec are laid out
// as Key columns followed by Columns.
type TableSpec struct {
	Name    string
	Key     []string
	Columns []string
	Mode    LoadMode
}

// Width is len(Key)+len(Columns).
func (s TableSpec) Width() int { return len(s.Key) + len(s.Columns) }

// Validate checks the spec is usable by every backend.
func (s TableSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("storage: table spec without name")
	}
	if len(s.Key) == 0 {
		return fmt.Errorf("storage: table %s: no key columns", s.Name)
	}
	if s.Mode == ModeFillNull && len(s.Columns) == 0 {
		return fmt.Errorf("storage: table %s: fill_null needs value columns", s.Name)
	}
	return nil
}

// PointSource names the id and coordinate columns of a point table.
type PointSource struct {
	Table     string
	IDColumn  string
	LatColumn string
	LonColumn string
}

// Point is one located record.
type Point struct {
	ID  string
	Lat float64
	Lon float64
}
