package blocklist

import (
	"fmt"
	"sync"
	"time"
)

// Registry is the process-wide set of named indexes. Classification reads
// live indexes; the loader builds staging indexes and swaps them in. A
// reader that resolved an index keeps a consistent view for the duration of
// its lookup even if a swap lands concurrently: Swap replaces the *Index
// pointer under the registry lock, it never mutates an index a reader may
// already hold.
type Registry struct {
	mu      sync.RWMutex
	indexes map[string]*Index
}

// Index is a named set of entries with an optional value per key. Blocklist
// entries carry the value "true"; the MX cache stores "valid_mx" / "no_mx".
type Index struct {
	mu      sync.RWMutex
	entries map[string]string

	// Parsed-CIDR acceleration for the IP matcher. Guarded by cidrMu, not
	// mu, so a cache rebuild never blocks exact lookups.
	cidrMu      sync.Mutex
	cidrs       []cidrEntry
	cidrBuiltAt time.Time
}

func NewRegistry() *Registry {
	return &Registry{indexes: make(map[string]*Index)}
}

// Create makes an empty index under name. Creating an existing index is a
// no-op, so concurrent bootstraps are safe.
func (r *Registry) Create(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.indexes[name]; !ok {
		r.indexes[name] = newIndex()
	}
}

func newIndex() *Index {
	return &Index{entries: make(map[string]string)}
}

// Exists reports whether name resolves to an index.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.indexes[name]
	return ok
}

func (r *Registry) get(name string) *Index {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.indexes[name]
}

// Size returns the number of entries in the named index (0 if missing).
func (r *Registry) Size(name string) int {
	idx := r.get(name)
	if idx == nil {
		return 0
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Insert stores key=value in the named index. Missing indexes are an error;
// the loader creates every index it writes to up front.
func (r *Registry) Insert(name, key, value string) error {
	idx := r.get(name)
	if idx == nil {
		return fmt.Errorf("index %q does not exist", name)
	}
	idx.mu.Lock()
	idx.entries[key] = value
	idx.mu.Unlock()
	idx.invalidateCIDRCache()
	return nil
}

// Lookup returns the value stored under key and whether it was present.
func (r *Registry) Lookup(name, key string) (string, bool) {
	idx := r.get(name)
	if idx == nil {
		return "", false
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	v, ok := idx.entries[key]
	return v, ok
}

// Has reports key membership in the named index.
func (r *Registry) Has(name, key string) bool {
	_, ok := r.Lookup(name, key)
	return ok
}

// Scan returns a copy of all keys in the named index.
func (r *Registry) Scan(name string) []string {
	idx := r.get(name)
	if idx == nil {
		return nil
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	keys := make([]string, 0, len(idx.entries))
	for k := range idx.entries {
		keys = append(keys, k)
	}
	return keys
}

// Delete removes the named index. Deleting a missing index is a no-op.
func (r *Registry) Delete(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.indexes, name)
}

// Rename moves an index from one name to another, replacing any index
// already registered under the destination name.
func (r *Registry) Rename(from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.indexes[from]
	if !ok {
		return fmt.Errorf("index %q does not exist", from)
	}
	r.indexes[to] = idx
	delete(r.indexes, from)
	return nil
}

// Swap atomically promotes the staging index to the live name. Readers that
// resolve the live name mid-swap see either the old or the new index, never
// a missing one. The old live index is dropped.
func (r *Registry) Swap(staging, live string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.indexes[staging]
	if !ok {
		return fmt.Errorf("staging index %q does not exist", staging)
	}
	r.indexes[live] = idx
	delete(r.indexes, staging)
	return nil
}

// Names returns all registered index names. Used by status reporting.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.indexes))
	for n := range r.indexes {
		names = append(names, n)
	}
	return names
}
