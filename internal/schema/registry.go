package schema

import (
	"fmt"
	"sort"
	"sync"
)

// ErrDuplicateDefinition is returned when a table name is registered twice.
var ErrDuplicateDefinition = fmt.Errorf("duplicate table definition")

// Provider is implemented by each extension to declare the tables it owns.
// Providers are collected into one Registry at process startup, before any
// migration runs.
type Provider interface {
	Name() string
	Tables() []Table
}

// Registry collects table definitions from loaded extensions.
type Registry struct {
	mu     sync.RWMutex
	tables map[string]Table
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]Table)}
}

// Register adds a table definition. It fails with ErrDuplicateDefinition if
// a table of that name is already registered.
func (r *Registry) Register(def Table) error {
	if !ValidIdentifier(def.Name) {
		return fmt.Errorf("invalid table name %q", def.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.tables[def.Name]; ok {
		return fmt.Errorf("%w: %s already registered by extension %s",
			ErrDuplicateDefinition, def.Name, existing.Extension)
	}
	r.tables[def.Name] = def
	return nil
}

// RegisterProvider registers every table declared by the provider, stamping
// each definition with the provider's name.
func (r *Registry) RegisterProvider(p Provider) error {
	for _, def := range p.Tables() {
		def.Extension = p.Name()
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// All returns every registered definition sorted by table name. The order is
// for deterministic reporting only; migrations are independent per table.
func (r *Registry) All() []Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Table, 0, len(r.tables))
	for _, def := range r.tables {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tables[name]
	return def, ok
}

// ByExtension returns the definitions owned by the named extension, sorted
// by table name.
func (r *Registry) ByExtension(ext string) []Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Table
	for _, def := range r.tables {
		if def.Extension == ext {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
