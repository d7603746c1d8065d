package relay

import (
	"fmt"
	"sort"
	"sync"

	"github.com/quaydock/lighter"
)

// Backend is the public description of one configured storage: the id
// callers address it by and its protocol kind. Credentials never appear
// here.
type Backend struct {
	ID           string               `json:"id"`
	Kind         lighter.Kind         `json:"kind"`
	Capabilities lighter.Capabilities `json:"capabilities"`
}

// Registry is the gateway's id-to-client map, built once from config at
// boot. Lookups are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]lighter.StorageClient
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]lighter.StorageClient)}
}

// Add registers client under id. Duplicate ids are a configuration error.
func (r *Registry) Add(id string, client lighter.StorageClient) error {
	if id == "" {
		return fmt.Errorf("storage id is required: %w", lighter.ErrConfig)
	}
	if client == nil {
		return fmt.Errorf("storage %q: client is required: %w", id, lighter.ErrConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[id]; exists {
		return fmt.Errorf("storage %q registered twice: %w", id, lighter.ErrConfig)
	}
	r.clients[id] = client
	return nil
}

// Get returns the client registered under id, or ErrNotFound.
func (r *Registry) Get(id string) (lighter.StorageClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[id]
	if !ok {
		return nil, fmt.Errorf("storage %q: %w", id, lighter.ErrNotFound)
	}
	return client, nil
}

// Backends lists the registered storages sorted by id.
func (r *Registry) Backends() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	backends := make([]Backend, 0, len(r.clients))
	for id, client := range r.clients {
		backends = append(backends, Backend{
			ID:           id,
			Kind:         client.Kind(),
			Capabilities: client.Capabilities(),
		})
	}
	sort.Slice(backends, func(i, j int) bool { return backends[i].ID < backends[j].ID })
	return backends
}
