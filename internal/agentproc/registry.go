package agentproc

import (
	"fmt"
	"sync"
)

// Registry holds one lazily-created client per agent name, so repeated
// calls to the same agent reuse its live subprocess.
type Registry struct {
	mu      sync.Mutex
	configs map[string]Config
	clients map[string]*Client
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		configs: map[string]Config{},
		clients: map[string]*Client{},
	}
}

// Register records the spawn config for an agent name.
func (r *Registry) Register(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.Name] = cfg
}

// Get returns the client for name, creating it on first use.
func (r *Registry) Get(name string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[name]; ok {
		return client, nil
	}
	cfg, ok := r.configs[name]
	if !ok {
		return nil, fmt.Errorf("no agent registered as %q", name)
	}
	client := NewClient(cfg)
	r.clients[name] = client
	return client, nil
}

// Shutdown kills every live client.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, client := range r.clients {
		client.Kill()
	}
	r.clients = map[string]*Client{}
}
