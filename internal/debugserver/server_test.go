package debugserver

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concerto-lang/concerto/internal/codegen"
	"github.com/concerto-lang/concerto/internal/config"
	"github.com/concerto-lang/concerto/internal/lexer"
	"github.com/concerto-lang/concerto/internal/parser"
	"github.com/concerto-lang/concerto/internal/runtime"
)

func testVM(t *testing.T) *runtime.VM {
	t.Helper()
	tokens, _ := lexer.Tokenize(`fn main(){ emit("x", 1); }`, "test.conc")
	prog, _ := parser.Parse(tokens, "test.conc")
	mod, diags := codegen.Emit(prog, "test", "test.conc")
	require.False(t, diags.HasErrors())
	lm, err := runtime.Load(mod)
	require.NoError(t, err)
	return runtime.NewVM(lm)
}

func TestHealthEndpoint(t *testing.T) {
	s := NewServer(config.DefaultConfig(), testVM(t))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, 200, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestStateEndpoint(t *testing.T) {
	vm := testVM(t)
	_, err := vm.Run()
	require.NoError(t, err)

	s := NewServer(config.DefaultConfig(), vm)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/state", nil))

	require.Equal(t, 200, rec.Code)
	var body struct {
		CallStack []string `json:"call_stack"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	// The VM has returned; the stack must be empty, not stale.
	assert.Empty(t, body.CallStack)
}

func TestToolsEndpoint(t *testing.T) {
	vm := testVM(t)
	vm.Tools.Register("demo", nil)

	s := NewServer(config.DefaultConfig(), vm)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/tools", nil))

	require.Equal(t, 200, rec.Code)
	var body map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["tools"], "demo")
}
