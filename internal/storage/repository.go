package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrUnsupportedKind is returned by NewMirror/NewCurated for an unregistered kind.
var ErrUnsupportedKind = errors.New("storage: unsupported kind")

// Config is the minimal configuration needed to open a repository.
//
// When to use:
//   - Pass Config to NewMirror or NewCurated.
//
// Edge cases:
//   - Kind must match a registered backend kind ("postgres", "sqlite", "mssql").
//   - DSN is passed through to the backend; validation is backend-specific.
//   - MaxConnections <= 0 leaves the backend default in place.
type Config struct {
	Kind           string
	DSN            string
	MaxConnections int32

	// Logger receives connect retries and migration progress. nil is silent.
	Logger *zap.Logger
}

// RowSource yields mirror rows. Next returns io.EOF after the last row.
// Every row must be as wide as the table it is copied into.
type RowSource interface {
	Next() ([]string, error)
}

// MirrorTx is one all-or-nothing mirror run.
//
// IMPORTANT: every method runs inside the same transaction. Backends whose
// DDL is not transactional cannot implement MirrorTx.
type MirrorTx interface {
	// ResetSchema drops schema (and everything in it) if present and creates it empty.
	ResetSchema(ctx context.Context, schema string) error

	// CreateTable creates t with one text column per entry in t.Columns, records
	// the original header of every renamed column as a column comment and, when
	// t.TrackingColumn is set, indexes that column.
	CreateTable(ctx context.Context, t MirrorTable) error

	// CopyRows bulk-loads src into t and returns the number of rows written.
	CopyRows(ctx context.Context, t MirrorTable, src RowSource) (int64, error)

	// CountRows returns COUNT(*) of t as seen by this transaction.
	CountRows(ctx context.Context, t MirrorTable) (int64, error)

	Commit(ctx context.Context) error

	// Rollback is safe to call after Commit; it is then a no-op.
	Rollback(ctx context.Context) error
}

// MirrorRepository opens mirror transactions against one database.
type MirrorRepository interface {
	BeginMirror(ctx context.Context) (MirrorTx, error)

	// Close releases connections. Call once.
	Close()
}

// CuratedTx is one all-or-nothing curated load (or link) run.
type CuratedTx interface {
	// Upsert writes rows into spec.Name according to spec.Mode. Every row is
	// laid out as spec.Key followed by spec.Columns. It returns the number of
	// rows the database reports as affected. rows are not retained after
	// Upsert returns.
	Upsert(ctx context.Context, spec TableSpec, rows [][]any) (int64, error)

	// Points returns every row of src with both coordinates present, ordered by id.
	Points(ctx context.Context, src PointSource) ([]Point, error)

	// Count returns COUNT(*) of table.
	Count(ctx context.Context, table string) (int64, error)

	Commit(ctx context.Context) error

	// Rollback is safe to call after Commit; it is then a no-op.
	Rollback(ctx context.Context) error
}

// CuratedRepository owns the curated schema.
type CuratedRepository interface {
	// EnsureSchema creates the curated tables if they do not exist.
	EnsureSchema(ctx context.Context) error

	BeginCurated(ctx context.Context) (CuratedTx, error)

	Close()
}

type (
	MirrorFactory  func(ctx context.Context, cfg Config) (MirrorRepository, error)
	CuratedFactory func(ctx context.Context, cfg Config) (CuratedRepository, error)
)

var (
	mu               sync.RWMutex
	mirrorFactories  = map[string]MirrorFactory{}
	curatedFactories = map[string]CuratedFactory{}
)

// RegisterMirror registers a mirror backend under kind.
//
// When to use:
//   - Call RegisterMirror from an init() function in a backend package.
//
// Panics:
//   - If kind is empty, f is nil, or kind is already registered. Registering
//     the same kind twice would make backend selection ambiguous.
func RegisterMirror(kind string, f MirrorFactory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: RegisterMirror called with empty kind")
	}
	if f == nil {
		panic("storage: RegisterMirror called with nil factory")
	}
	if _, exists := mirrorFactories[kind]; exists {
		panic(fmt.Sprintf("storage: mirror factory already registered for kind=%q", kind))
	}
	mirrorFactories[kind] = f
}

// RegisterCurated registers a curated backend under kind. Same rules as RegisterMirror.
func RegisterCurated(kind string, f CuratedFactory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: RegisterCurated called with empty kind")
	}
	if f == nil {
		panic("storage: RegisterCurated called with nil factory")
	}
	if _, exists := curatedFactories[kind]; exists {
		panic(fmt.Sprintf("storage: curated factory already registered for kind=%q", kind))
	}
	curatedFactories[kind] = f
}

// NewMirror opens a MirrorRepository with the factory registered for cfg.Kind.
//
// Errors:
//   - ErrUnsupportedKind (wrapped) if cfg.Kind is empty or not registered.
//   - Whatever the factory returns.
func NewMirror(ctx context.Context, cfg Config) (MirrorRepository, error) {
	mu.RLock()
	f := mirrorFactories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("%w: mirror kind=%q (have %v)", ErrUnsupportedKind, cfg.Kind, MirrorKinds())
	}
	return f(ctx, cfg)
}

// NewCurated opens a CuratedRepository with the factory registered for cfg.Kind.
func NewCurated(ctx context.Context, cfg Config) (CuratedRepository, error) {
	mu.RLock()
	f := curatedFactories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("%w: curated kind=%q (have %v)", ErrUnsupportedKind, cfg.Kind, CuratedKinds())
	}
	return f(ctx, cfg)
}

// MirrorKinds lists registered mirror kinds, sorted.
func MirrorKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	return sortedKeys(mirrorFactories)
}

// CuratedKinds lists registered curated kinds, sorted.
func CuratedKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	return sortedKeys(curatedFactories)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
