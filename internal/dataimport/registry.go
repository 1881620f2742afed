package dataimport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wardenbot/warden/internal/gateway"
)

// All is the sentinel unit name that expands to every registered unit in
// declaration order.
const All = "all"

// ErrUnknownUnit is returned when a requested import unit is not registered.
// Resolution happens entirely upfront, before any unit runs.
var ErrUnknownUnit = errors.New("unknown import unit")

// DB executes DML for an import unit. *pgxpool.Pool satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EntityCache resolves legacy entity identifiers against the gateway's
// read-only identity cache.
type EntityCache interface {
	Entity(id uint64) (gateway.Entity, bool)
}

// Unit is a named transform from legacy record data to relational rows. A
// unit must be idempotent: re-running it fully supersedes its prior output.
type Unit struct {
	Name      string
	Extension string
	Run       func(ctx context.Context, db DB, cache EntityCache) error
}

// Registry maps import-unit names to their transforms, preserving
// declaration order.
type Registry struct {
	mu     sync.RWMutex
	units  []Unit
	byName map[string]int
}

// NewRegistry creates an empty import unit registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Register adds a unit. Registering the same name twice is an error.
func (r *Registry) Register(u Unit) error {
	if u.Name == "" || u.Name == All {
		return fmt.Errorf("invalid import unit name %q", u.Name)
	}
	if u.Run == nil {
		return fmt.Errorf("import unit %s has no transform", u.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[u.Name]; ok {
		return fmt.Errorf("import unit %s already registered", u.Name)
	}
	r.byName[u.Name] = len(r.units)
	r.units = append(r.units, u)
	return nil
}

// Resolve maps requested names to units. The sentinel "all" expands to every
// registered unit in declaration order. Any unknown name fails with
// ErrUnknownUnit before anything runs.
func (r *Registry) Resolve(names []string) ([]Unit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range names {
		if name == All {
			out := make([]Unit, len(r.units))
			copy(out, r.units)
			return out, nil
		}
	}

	out := make([]Unit, 0, len(names))
	for _, name := range names {
		idx, ok := r.byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownUnit, name)
		}
		out = append(out, r.units[idx])
	}
	return out, nil
}
