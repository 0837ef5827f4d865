package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validManifest = `
[project]
name = "demo"
version = "0.1.0"
entry = "src/main.conc"

[connections.claude]
provider = "anthropic"
api_key_env = "ANTHROPIC_API_KEY"
default_model = "claude-sonnet-4-20250514"

[connections.local]
provider = "ollama"
base_url = "http://localhost:11434"

[mcp.files]
transport = "stdio"
command = "mcp-files"

[agents.worker]
command = "python3"
args = ["worker.py"]
`

func TestLoadValidManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, validManifest)

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", m.Project.Name)
	assert.Equal(t, dir, m.Dir)
	assert.Equal(t, "anthropic", m.Connections["claude"].Provider)
	assert.Equal(t, filepath.Join(dir, "src", "main.conc"), m.EntryPath())
	assert.Equal(t, []string{"worker.py"}, m.Agents["worker"].Args)
}

func TestFindWalksUpward(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, validManifest)
	nested := filepath.Join(root, "src", "deep")
	require.NoError(t, os.MkdirAll(nested, 0755))

	found, err := Find(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, FileName), found)
}

func TestFindFailsWithoutManifest(t *testing.T) {
	_, err := Find(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), FileName)
}

func TestCloudProviderRequiresAPIKeyEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `
[project]
name = "demo"

[connections.claude]
provider = "anthropic"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key_env")
}

func TestOllamaNeedsNoAPIKey(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `
[project]
name = "demo"

[connections.local]
provider = "ollama"
`)
	_, err := Load(path)
	assert.NoError(t, err)
}

func TestStdioMCPRequiresCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `
[project]
name = "demo"

[mcp.files]
transport = "stdio"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command")
}

func TestSSEMCPRequiresURL(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `
[project]
name = "demo"

[mcp.remote]
transport = "sse"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url")
}
