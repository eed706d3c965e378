// Package registry implements the process-wide storage plugin registry
// (spec.md C7): a name-to-factory map resolved at wallet open/create
// time. Reads (lookups on every open) vastly outnumber writes
// (plugin registration, typically at process start), so the registry
// favors sync.RWMutex over heavier synchronization.
package registry

import (
	"sync"

	"github.com/agentvault/vault/internal/storage"
	"github.com/agentvault/vault/internal/storage/boltstore"
	"github.com/agentvault/vault/internal/storage/pgstore"
	"github.com/agentvault/vault/internal/storage/sqlitestore"
	"github.com/agentvault/vault/pkg/werr"
)

// Registry maps storage_type names to the Factory that opens them.
type Registry struct {
	mu       sync.RWMutex
	factories map[string]storage.Factory
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{factories: make(map[string]storage.Factory)}
}

// NewDefault returns a registry pre-populated with the three built-in
// storage types: "sqlite" (sqlitestore), "bolt" (boltstore), and
// "postgres" (pgstore, strategy selected via storage_config.strategy).
func NewDefault() *Registry {
	r := New()
	_ = r.Register("sqlite", sqliteFactory{})
	_ = r.Register("bolt", boltFactory{})
	_ = r.Register("postgres", pgFactory{})
	return r
}

// Register adds a Factory under name. Registering an already-used name
// replaces the previous factory — callers that want strict one-time
// registration should check Lookup first.
func (r *Registry) Register(name string, f storage.Factory) error {
	if name == "" {
		return werr.New(werr.KindInvalidStructure, "storage type name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
	return nil
}

// Unregister removes a previously registered storage type.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, name)
}

// Lookup resolves a storage_type name to its Factory, returning
// werr.KindUnknownStorageType if no plugin is registered under it.
func (r *Registry) Lookup(name string) (storage.Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		return nil, werr.Newf(werr.KindUnknownStorageType, "no storage plugin registered for %q", name)
	}
	return f, nil
}

// Names returns the currently registered storage_type names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

var (
	_ storage.Factory = sqliteFactory{}
	_ storage.Factory = boltFactory{}
	_ storage.Factory = pgFactory{}
)
