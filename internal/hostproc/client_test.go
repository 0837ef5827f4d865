package hostproc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallSendsStructuredEnvelope(t *testing.T) {
	// The child asserts the call envelope shape before answering.
	c := NewClient("calc", "/bin/sh", []string{"-c", `
read call
case "$call" in
  *'"method":"add"'*) printf '{"type":"result","text":"3"}\n' ;;
  *) printf '{"type":"error","message":"unknown method"}\n' ;;
esac
`}, nil)
	defer c.Kill()

	out, err := c.Call("add", []any{1, 2}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "3", out)
}

func TestCallUnknownMethodSurfacesError(t *testing.T) {
	c := NewClient("calc", "/bin/sh", []string{"-c", `
read call
printf '{"type":"error","message":"unknown method"}\n'
`}, nil)
	defer c.Kill()

	_, err := c.Call("nope", nil, 5*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown method")
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	r.Register("h", "/bin/cat", nil, nil)

	client, ok := r.Get("h")
	require.True(t, ok)
	require.NotNil(t, client)

	_, ok = r.Get("missing")
	assert.False(t, ok)

	r.Shutdown()
	_, ok = r.Get("h")
	assert.False(t, ok)
}
