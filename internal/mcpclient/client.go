// Package mcpclient connects the runtime to MCP servers over stdio,
// using JSON-RPC 2.0 framing: initialize, tools/list, tools/call. The
// tool catalog is cached at connect time and registered into the VM's
// tool registry.
package mcpclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/concerto-lang/concerto/internal/logger"
	"github.com/concerto-lang/concerto/internal/manifest"
	"github.com/concerto-lang/concerto/internal/runtime"
)

// ProtocolVersion is the MCP protocol revision this client speaks.
const ProtocolVersion = "2024-11-05"

const defaultTimeout = 30 * time.Second

// Tool is one entry of a server's cached tool catalog.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Client is one connected MCP server. Connection is lazy: the
// subprocess spawns and the initialize/tools-list exchange runs on
// first use, then the session is reused for every call.
type Client struct {
	name string
	cfg  manifest.MCPConfig

	mu      sync.Mutex
	session *client.Client
	catalog []Tool
}

// NewClient builds a client for a manifest MCP entry; only stdio
// transport is supported here.
func NewClient(name string, cfg manifest.MCPConfig) *Client {
	return &Client{name: name, cfg: cfg}
}

func (c *Client) timeout() time.Duration {
	if c.cfg.Timeout > 0 {
		return time.Duration(c.cfg.Timeout) * time.Second
	}
	return defaultTimeout
}

// ensureConnected spawns the server and performs the initialize +
// tools/list exchange, caching the tool catalog.
func (c *Client) ensureConnected(ctx context.Context) error {
	if c.session != nil {
		return nil
	}
	if c.cfg.Transport != "stdio" {
		return fmt.Errorf("mcp %s: transport %q is not supported by the stdio client", c.name, c.cfg.Transport)
	}

	env := make([]string, 0, len(c.cfg.Env))
	for k, v := range c.cfg.Env {
		env = append(env, k+"="+v)
	}

	session, err := client.NewStdioMCPClient(c.cfg.Command, env, c.cfg.Args...)
	if err != nil {
		return fmt.Errorf("mcp %s: spawn %s: %w", c.name, c.cfg.Command, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = ProtocolVersion
	initReq.Params.ClientInfo = mcp.Implementation{Name: "concerto", Version: "1.0.0"}
	initReq.Params.Capabilities = mcp.ClientCapabilities{}

	if _, err := session.Initialize(ctx, initReq); err != nil {
		session.Close()
		return fmt.Errorf("mcp %s: initialize: %w", c.name, err)
	}

	toolsRes, err := session.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		session.Close()
		return fmt.Errorf("mcp %s: tools/list: %w", c.name, err)
	}

	catalog := make([]Tool, 0, len(toolsRes.Tools))
	for _, t := range toolsRes.Tools {
		catalog = append(catalog, Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema.Properties,
		})
	}

	c.session = session
	c.catalog = catalog
	logger.GetLogger().Debug().Str("mcp", c.name).Str("tools", fmt.Sprintf("%d", len(catalog))).Msg("mcp server connected")
	return nil
}

// Tools returns the cached tool catalog, connecting first if needed.
func (c *Client) Tools() ([]Tool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout())
	defer cancel()
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	return c.catalog, nil
}

// CallTool dispatches tools/call and unwraps the result envelope: text
// content is concatenated, and parsed as JSON into a structured value
// when possible.
func (c *Client) CallTool(ctx context.Context, tool string, args map[string]any) (runtime.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	if err := c.ensureConnected(ctx); err != nil {
		return runtime.Nil(), err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	res, err := c.session.CallTool(ctx, req)
	if err != nil {
		return runtime.Nil(), fmt.Errorf("mcp %s: tools/call %s: %w", c.name, tool, err)
	}

	text := ""
	for _, content := range res.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			text += tc.Text
		}
	}

	if res.IsError {
		return runtime.Nil(), fmt.Errorf("mcp %s: tool %s failed: %s", c.name, tool, text)
	}

	if decoded, err := runtime.DecodeJSON(text); err == nil {
		return decoded, nil
	}
	return runtime.StringVal(text), nil
}

// Close shuts the server subprocess down.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
}

// Registry holds the MCP clients declared in the manifest and wires
// their tools into a VM tool registry.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry builds clients for every manifest MCP entry.
func NewRegistry(m *manifest.Manifest) *Registry {
	r := &Registry{clients: map[string]*Client{}}
	for name, cfg := range m.MCP {
		r.clients[name] = NewClient(name, cfg)
	}
	return r
}

// Get returns the client for a server name.
func (r *Registry) Get(name string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[name]
	return c, ok
}

// WireTools registers every server's tools into the VM registry under
// both "server.tool" and bare "tool" names. A bare name registers only
// once, so when two servers expose the same tool name the one iterated
// second is reachable only by its qualified name.
func (r *Registry) WireTools(tools *runtime.ToolRegistry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := map[string]bool{}
	for serverName, c := range r.clients {
		catalog, err := c.Tools()
		if err != nil {
			return err
		}
		for _, tool := range catalog {
			handler := r.handlerFor(c, tool.Name)
			tools.Register(serverName+"."+tool.Name, handler)
			if !seen[tool.Name] {
				tools.Register(tool.Name, handler)
				seen[tool.Name] = true
			}
		}
	}
	return nil
}

// handlerFor adapts one MCP tool to the VM's ToolHandler shape: a
// single map argument passes through as the tool's named arguments,
// anything else becomes {"input": ...}.
func (r *Registry) handlerFor(c *Client, tool string) runtime.ToolHandler {
	return func(ctx context.Context, args []runtime.Value) (runtime.Value, error) {
		callArgs := map[string]any{}
		if len(args) == 1 && args[0].Kind == runtime.KindMap {
			if m, ok := runtime.ValueToAny(args[0]).(map[string]any); ok {
				callArgs = m
			}
		} else if len(args) > 0 {
			callArgs["input"] = runtime.ValueToAny(args[0])
		}
		return c.CallTool(ctx, tool, callArgs)
	}
}

// Shutdown closes every connected server.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		c.Close()
	}
}
