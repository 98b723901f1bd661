// Package identity defines the external provider-identity contract and a
// process-local registry used for wiring and tests.
package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrEmptyName rejects registrations without a provider name.
var ErrEmptyName = errors.New("identity: provider name required")

// ProviderMeta describes a candidate provider submitted for registration.
type ProviderMeta struct {
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	Category string `json:"category,omitempty"`
}

// Registry is the external identity service: registering provider metadata
// yields the numeric handle used for reputation submissions.
type Registry interface {
	Register(ctx context.Context, meta ProviderMeta) (uint64, error)
}

// MemoryRegistry is a process-local Registry handing out monotonic handles.
// Registration is idempotent per provider name.
type MemoryRegistry struct {
	mu      sync.Mutex
	next    uint64
	handles map[string]uint64
}

// NewMemoryRegistry constructs an empty in-process registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{handles: make(map[string]uint64)}
}

// Register implements the Registry interface.
func (r *MemoryRegistry) Register(_ context.Context, meta ProviderMeta) (uint64, error) {
	name := strings.TrimSpace(meta.Name)
	if name == "" {
		return 0, ErrEmptyName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if handle, ok := r.handles[name]; ok {
		return handle, nil
	}
	r.next++
	r.handles[name] = r.next
	return r.next, nil
}
