package oracle

import (
	"sync"

	"github.com/ashureev/oracle-shell/internal/domain"
)

// Registry maps thread keys to upstream thread handles.
type Registry interface {
	Lookup(key domain.ThreadKey) (string, bool, error)
	Store(key domain.ThreadKey, handle string) error
	Forget(key domain.ThreadKey) error
	Close() error
}

// MemoryRegistry keeps mappings for the lifetime of the process. A restart
// loses every mapping.
type MemoryRegistry struct {
	mu      sync.RWMutex
	threads map[domain.ThreadKey]string
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{threads: make(map[domain.ThreadKey]string)}
}

// Lookup returns the handle recorded for key.
func (r *MemoryRegistry) Lookup(key domain.ThreadKey) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.threads[key]
	return h, ok, nil
}

// Store records handle for key.
func (r *MemoryRegistry) Store(key domain.ThreadKey, handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads[key] = handle
	return nil
}

// Forget drops the mapping for key.
func (r *MemoryRegistry) Forget(key domain.ThreadKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.threads, key)
	return nil
}

// Len returns the number of recorded threads.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.threads)
}

// Close is a no-op.
func (r *MemoryRegistry) Close() error { return nil }
