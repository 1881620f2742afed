package dataimport

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wardenbot/warden/internal/migrate"
	"github.com/wardenbot/warden/internal/schema"
)

// Conn is the pooled database handle the orchestrator acquires for a run.
// *pgxpool.Pool satisfies it.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Cache is the warmed gateway session the orchestrator owns for the
// duration of a run.
type Cache interface {
	EntityCache
	Close() error
}

// UnitResult reports the outcome of one import unit.
type UnitResult struct {
	Name string
	Err  error
}

// Orchestrator sequences a one-time import of legacy data: ensure schema,
// warm the gateway entity cache, then run the requested transforms in strict
// order, halting on the first failure.
type Orchestrator struct {
	units        *Registry
	tables       *schema.Registry
	store        *migrate.Store
	queryTimeout time.Duration
	connect      func(ctx context.Context) (Conn, error)
	dial         func(ctx context.Context) (Cache, error)
}

// NewOrchestrator wires an orchestrator. connect acquires the pooled
// database connection; dial establishes the gateway session and blocks until
// its entity cache is ready.
func NewOrchestrator(
	units *Registry,
	tables *schema.Registry,
	store *migrate.Store,
	queryTimeout time.Duration,
	connect func(ctx context.Context) (Conn, error),
	dial func(ctx context.Context) (Cache, error),
) *Orchestrator {
	return &Orchestrator{
		units:        units,
		tables:       tables,
		store:        store,
		queryTimeout: queryTimeout,
		connect:      connect,
		dial:         dial,
	}
}

// Run executes the import state machine. Validation failures surface before
// any side effect; later units are never run after an earlier one fails,
// since they may depend on its output.
func (o *Orchestrator) Run(ctx context.Context, names []string) ([]UnitResult, error) {
	resolved, err := o.units.Resolve(names)
	if err != nil {
		return nil, err
	}
	if len(resolved) == 0 {
		return nil, fmt.Errorf("no import units requested")
	}

	conn, err := o.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	defer conn.Close()

	if err := o.ensureSchema(ctx, conn, resolved); err != nil {
		return nil, err
	}

	cache, err := o.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect gateway: %w", err)
	}
	defer cache.Close()

	results := make([]UnitResult, 0, len(resolved))
	for _, unit := range resolved {
		if err := unit.Run(ctx, conn, cache); err != nil {
			results = append(results, UnitResult{Name: unit.Name, Err: err})
			return results, fmt.Errorf("import unit %s failed, halting: %w", unit.Name, err)
		}
		log.Printf("[IMPORT] unit %s completed", unit.Name)
		results = append(results, UnitResult{Name: unit.Name})
	}
	return results, nil
}

// ensureSchema migrates every table owned by an extension whose units were
// requested. Table migrations are independent, but any failure here is fatal
// to the whole import: importing into a schema known to be out of date is
// unsafe.
func (o *Orchestrator) ensureSchema(ctx context.Context, conn Conn, units []Unit) error {
	exts := make(map[string]bool)
	for _, u := range units {
		exts[u.Extension] = true
	}
	names := make([]string, 0, len(exts))
	for ext := range exts {
		names = append(names, ext)
	}
	sort.Strings(names)

	var defs []schema.Table
	for _, ext := range names {
		defs = append(defs, o.tables.ByExtension(ext)...)
	}

	applier := migrate.NewApplier(conn, o.store, o.queryTimeout)
	results, err := applier.Apply(ctx, defs)
	if err != nil {
		return err
	}
	for _, res := range results {
		if res.Err != nil {
			return fmt.Errorf("schema for table %s is not current: %w", res.Table, res.Err)
		}
	}
	return nil
}
