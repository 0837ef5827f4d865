package agentproc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shClient builds a client backed by an inline shell script, the test
// stand-in for a real agent child.
func shClient(name, script string, params map[string]any) *Client {
	return NewClient(Config{
		Name:    name,
		Command: "/bin/sh",
		Args:    []string{"-c", script},
		Params:  params,
	})
}

func TestExecuteReturnsResultLine(t *testing.T) {
	c := shClient("echoer", `
read prompt
printf '{"type":"result","text":"echo:%s"}\n' "$prompt"
`, nil)
	defer c.Kill()

	out, err := c.Execute("hello", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "echo:hello", out)
}

func TestPlainTextLineIsWrappedAsResult(t *testing.T) {
	c := shClient("plain", `
read prompt
echo "just text"
`, nil)
	defer c.Kill()

	out, err := c.Execute("x", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "just text", out)
}

func TestProgressLinesAreSkipped(t *testing.T) {
	c := shClient("worker", `
read prompt
printf '{"type":"progress","text":"step 1"}\n'
printf '{"type":"progress","text":"step 2"}\n'
printf '{"type":"result","text":"done"}\n'
`, nil)
	defer c.Kill()

	out, err := c.Execute("go", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "done", out)
}

func TestInitHandshake(t *testing.T) {
	// The child reads exactly one init line, acks it, then serves one
	// prompt; a second init line would desync the exchange, so a correct
	// result proves the client sent exactly init + prompt.
	c := shClient("init-agent", `
read init
case "$init" in
  *'"type":"init"'*) printf '{"type":"init_ack"}\n' ;;
  *) printf '{"type":"error","message":"bad init"}\n'; exit 1 ;;
esac
read prompt
printf '{"type":"result","text":"ok:%s"}\n' "$prompt"
`, map[string]any{"model": "x"})
	defer c.Kill()

	out, err := c.Execute("ping", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok:ping", out)
}

func TestInitRejectionFailsConnection(t *testing.T) {
	c := shClient("refuser", `
read init
printf '{"type":"error","message":"no thanks"}\n'
`, map[string]any{"model": "x"})
	defer c.Kill()

	_, err := c.Execute("ping", 5*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no thanks")
}

func TestReadTimeoutKillsChild(t *testing.T) {
	c := shClient("sleeper", `
read prompt
sleep 30
`, nil)
	defer c.Kill()

	start := time.Now()
	_, err := c.Execute("x", 1*time.Second)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, elapsed, 3*time.Second)
	assert.False(t, c.Running())
}

func TestRespawnAfterChildExit(t *testing.T) {
	c := shClient("oneshot", `
read prompt
printf '{"type":"result","text":"ran"}\n'
`, nil)
	defer c.Kill()

	out, err := c.Execute("first", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ran", out)

	// The one-shot child exits after its reply; give the waiter a moment
	// to reap it, then the next call must respawn transparently.
	time.Sleep(200 * time.Millisecond)
	out, err = c.Execute("second", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ran", out)
}

func TestErrorMessageSurfaced(t *testing.T) {
	c := shClient("failer", `
read prompt
printf '{"type":"error","message":"exploded"}\n'
`, nil)
	defer c.Kill()

	_, err := c.Execute("x", 5*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exploded")
}

func TestOpenStreamQuestionReply(t *testing.T) {
	c := shClient("asker", `
read prompt
printf '{"type":"question","text":"color?"}\n'
read answer
printf '{"type":"result","text":"got-answer"}\n'
`, nil)
	defer c.Kill()

	sess, err := c.OpenStream("start")
	require.NoError(t, err)
	defer sess.Close()

	msg, err := sess.Recv(5 * time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "question", msg.Type)

	require.NoError(t, sess.Send("blue"))

	msg, err = sess.Recv(5 * time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "result", msg.Type)
	assert.Equal(t, "got-answer", msg.Text)
}

func TestRegistryReusesClients(t *testing.T) {
	r := NewRegistry()
	r.Register(Config{Name: "a", Command: "/bin/cat"})
	defer r.Shutdown()

	first, err := r.Get("a")
	require.NoError(t, err)
	second, err := r.Get("a")
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = r.Get("missing")
	assert.Error(t, err)
}
