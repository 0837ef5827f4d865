// Package hostproc manages host subprocesses: command-backed peers that
// expose callable methods over the same NDJSON line protocol agents
// use, without the LLM-oriented init handshake.
package hostproc

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/concerto-lang/concerto/internal/agentproc"
	"github.com/concerto-lang/concerto/internal/runtime"
)

// Client is a host subprocess. It reuses the agent client's spawn and
// timeout discipline; what differs is the call surface: hosts answer
// structured method calls, not prompts.
type Client struct {
	proc *agentproc.Client
}

// NewClient builds a client for a host command; the subprocess spawns
// lazily on first use.
func NewClient(name, command string, args []string, env map[string]string) *Client {
	return &Client{
		proc: agentproc.NewClient(agentproc.Config{
			Name:    name,
			Command: command,
			Args:    args,
			Env:     env,
		}),
	}
}

// Call invokes a named method on the host with positional JSON
// arguments and returns the raw result text.
func (c *Client) Call(method string, args []any, timeout time.Duration) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"type":   "call",
		"method": method,
		"args":   args,
	})
	if err != nil {
		return "", fmt.Errorf("marshal host call: %w", err)
	}
	return c.proc.Execute(string(payload), timeout)
}

// Execute sends a raw prompt line, satisfying runtime.AgentRunner for
// hosts used in agent position.
func (c *Client) Execute(prompt string, timeout time.Duration) (string, error) {
	return c.proc.Execute(prompt, timeout)
}

// OpenStream starts a listen-loop session against the host.
func (c *Client) OpenStream(prompt string) (runtime.StreamSession, error) {
	return c.proc.OpenStream(prompt)
}

// Kill terminates the host subprocess.
func (c *Client) Kill() {
	c.proc.Kill()
}

// Running reports whether the host subprocess is alive.
func (c *Client) Running() bool {
	return c.proc.Running()
}

// Registry holds one client per host name.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: map[string]*Client{}}
}

// Register creates and stores the client for a host declaration.
func (r *Registry) Register(name, command string, args []string, env map[string]string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	client := NewClient(name, command, args, env)
	r.clients[name] = client
	return client
}

// Get returns the client registered for name.
func (r *Registry) Get(name string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.clients[name]
	return client, ok
}

// Shutdown kills every live host.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, client := range r.clients {
		client.Kill()
	}
	r.clients = map[string]*Client{}
}
