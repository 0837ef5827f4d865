// Package manifest loads and validates Concerto.toml, the per-project
// manifest binding a program to its LLM connections, MCP servers, and
// agent subprocess commands.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest's fixed file name, discovered by walking
// upward from the entry source file.
const FileName = "Concerto.toml"

// Manifest is the decoded Concerto.toml.
type Manifest struct {
	Project     ProjectConfig               `toml:"project"`
	Connections map[string]ConnectionConfig `toml:"connections"`
	MCP         map[string]MCPConfig        `toml:"mcp"`
	Agents      map[string]AgentConfig      `toml:"agents"`
	Memory      MemoryConfig                `toml:"memory"`

	// Dir is the directory the manifest was found in; relative paths in
	// the manifest resolve against it.
	Dir string `toml:"-"`
}

// ProjectConfig is the [project] section.
type ProjectConfig struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Entry   string `toml:"entry"`
}

// RetryConfig is the nested retry policy of a connection.
type RetryConfig struct {
	MaxAttempts    int    `toml:"max_attempts"`
	Backoff        string `toml:"backoff"`
	InitialDelayMs int    `toml:"initial_delay_ms"`
	MaxDelayMs     int    `toml:"max_delay_ms"`
}

// ConnectionConfig is one [connections.<name>] section.
type ConnectionConfig struct {
	Provider     string            `toml:"provider"`
	APIKeyEnv    string            `toml:"api_key_env"`
	BaseURL      string            `toml:"base_url"`
	DefaultModel string            `toml:"default_model"`
	Timeout      int               `toml:"timeout"`
	Retry        RetryConfig       `toml:"retry"`
	// RateLimit is the connection's request budget per minute; zero
	// means unlimited.
	RateLimit int `toml:"rate_limit"`
	Models       map[string]string `toml:"models"`
}

// MCPConfig is one [mcp.<name>] section.
type MCPConfig struct {
	Transport string            `toml:"transport"`
	Command   string            `toml:"command"`
	Args      []string          `toml:"args"`
	URL       string            `toml:"url"`
	Timeout   int               `toml:"timeout"`
	Env       map[string]string `toml:"env"`
}

// AgentConfig is one [agents.<name>] section: the subprocess command
// backing an agent declared in source, plus env forwarded to it.
type AgentConfig struct {
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Env     map[string]string `toml:"env"`
	Timeout int               `toml:"timeout"`
}

// MemoryConfig is the [memory] section controlling the optional
// semantic-recall layer.
type MemoryConfig struct {
	Recall         bool   `toml:"recall"`
	RecallDataDir  string `toml:"recall_data_dir"`
	EmbeddingModel string `toml:"embedding_model"`
}

// cloudProviders require api_key_env in their connection config.
var cloudProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"google":    true,
}

// Find walks upward from startDir looking for Concerto.toml. Absence is
// an error: a Concerto program cannot run without its manifest.
func Find(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", startDir, err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s found in %s or any parent directory", FileName, startDir)
		}
		dir = parent
	}
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if _, err := toml.Decode(os.ExpandEnv(string(data)), &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	m.Dir = filepath.Dir(path)

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// FindAndLoad discovers the manifest upward from the entry file's
// directory and loads it.
func FindAndLoad(entryFile string) (*Manifest, error) {
	path, err := Find(filepath.Dir(entryFile))
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Validate enforces the per-section requirements: a project name, an
// api_key_env on cloud LLM connections, and transport-specific fields on
// MCP servers.
func (m *Manifest) Validate() error {
	if m.Project.Name == "" {
		return fmt.Errorf("manifest: [project] name is required")
	}

	for name, conn := range m.Connections {
		if conn.Provider == "" {
			return fmt.Errorf("manifest: connection %q is missing a provider", name)
		}
		if cloudProviders[conn.Provider] && conn.APIKeyEnv == "" {
			return fmt.Errorf("manifest: connection %q uses provider %q and requires api_key_env", name, conn.Provider)
		}
	}

	for name, mcp := range m.MCP {
		switch mcp.Transport {
		case "stdio":
			if mcp.Command == "" {
				return fmt.Errorf("manifest: mcp %q uses stdio transport and requires command", name)
			}
		case "sse", "http":
			if mcp.URL == "" {
				return fmt.Errorf("manifest: mcp %q uses %s transport and requires url", name, mcp.Transport)
			}
		case "":
			return fmt.Errorf("manifest: mcp %q is missing a transport", name)
		default:
			return fmt.Errorf("manifest: mcp %q has unknown transport %q", name, mcp.Transport)
		}
	}

	for name, agent := range m.Agents {
		if agent.Command == "" {
			return fmt.Errorf("manifest: agent %q is missing a command", name)
		}
	}

	return nil
}

// APIKey resolves a connection's credential from the environment.
func (c ConnectionConfig) APIKey() (string, error) {
	if c.APIKeyEnv == "" {
		return "", nil
	}
	key := os.Getenv(c.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("environment variable %s is not set", c.APIKeyEnv)
	}
	return key, nil
}

// EntryPath resolves the project entry source file against the manifest
// directory.
func (m *Manifest) EntryPath() string {
	if m.Project.Entry == "" {
		return ""
	}
	if filepath.IsAbs(m.Project.Entry) {
		return m.Project.Entry
	}
	return filepath.Join(m.Dir, m.Project.Entry)
}
