package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	fserr "github.com/bleepstore/filestorage/internal/errors"
)

// Registry resolves storage names, as recorded on files, to backends.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]StorageBackend
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]StorageBackend)}
}

// Register binds name to backend, replacing any previous binding.
func (r *Registry) Register(name string, backend StorageBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = backend
}

// Backend returns the backend registered under name.
func (r *Registry) Backend(name string) (StorageBackend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	if !ok {
		return nil, fserr.ErrUnknownStorage.WithMessage("Storage %q is not configured", name)
	}
	return b, nil
}

// Names returns the registered storage names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthCheck checks every backend that supports it and returns the
// failures keyed by storage name.
func (r *Registry) HealthCheck(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for _, name := range r.Names() {
		b, err := r.Backend(name)
		if err != nil {
			continue
		}
		hc, ok := b.(HealthChecker)
		if !ok {
			continue
		}
		if err := hc.HealthCheck(ctx); err != nil {
			failures[name] = err
		}
	}
	return failures
}

// Close closes every backend that holds resources.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, b := range r.backends {
		if c, ok := b.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing storage %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
