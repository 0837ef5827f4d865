// Package agentproc manages agent subprocesses: lazy spawn, NDJSON line
// protocol, the init handshake, and per-read timeouts enforced by a
// worker goroutine so a misbehaving child can never block the VM past
// its deadline.
package agentproc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/concerto-lang/concerto/internal/logger"
	"github.com/concerto-lang/concerto/internal/runtime"
)

// DefaultTimeout bounds a single read when the caller passes none.
const DefaultTimeout = 60 * time.Second

// initTimeout bounds the init handshake's ack read.
const initTimeout = 10 * time.Second

// Config describes how to spawn one agent subprocess.
type Config struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	// Params, when non-empty, are sent as an init message before the
	// first prompt; the child must ack before any call proceeds.
	Params map[string]any
}

// Client is a lazily-spawned, connection-reusing agent subprocess. One
// Client serves one agent name; calls are serialised by mutex since the
// VM is single-threaded anyway.
type Client struct {
	cfg Config

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	reader  *bufio.Reader
	exited  bool
	exitMu  sync.Mutex
}

// NewClient builds a client; the subprocess is not spawned until the
// first call needs it.
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// readResult is what the worker goroutine posts back after one blocking
// line read.
type readResult struct {
	line string
	err  error
}

// ensureConnected spawns the child if it has never run or has been
// reaped, performing the init handshake on every fresh spawn.
func (c *Client) ensureConnected() error {
	if c.cmd != nil && !c.hasExited() {
		return nil
	}
	if c.cmd != nil {
		// A reaped child is dropped and respawned.
		c.drop()
	}

	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range c.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("agent %s: stdin pipe: %w", c.cfg.Name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("agent %s: stdout pipe: %w", c.cfg.Name, err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("agent %s: spawn %s: %w", c.cfg.Name, c.cfg.Command, err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.reader = bufio.NewReader(stdout)
	c.setExited(false)

	go func() {
		cmd.Wait()
		c.setExited(true)
	}()

	logger.GetLogger().Debug().Str("agent", c.cfg.Name).Str("command", c.cfg.Command).Msg("agent subprocess spawned")

	if len(c.cfg.Params) > 0 {
		if err := c.initHandshake(); err != nil {
			c.Kill()
			return err
		}
	}
	return nil
}

func (c *Client) hasExited() bool {
	c.exitMu.Lock()
	defer c.exitMu.Unlock()
	return c.exited
}

func (c *Client) setExited(v bool) {
	c.exitMu.Lock()
	c.exited = v
	c.exitMu.Unlock()
}

// initHandshake sends {"type":"init","params":...} and requires an
// init_ack line before the connection is usable.
func (c *Client) initHandshake() error {
	payload, err := json.Marshal(map[string]any{"type": "init", "params": c.cfg.Params})
	if err != nil {
		return fmt.Errorf("agent %s: marshal init: %w", c.cfg.Name, err)
	}
	if err := c.writeLine(string(payload)); err != nil {
		return err
	}

	msg, err := c.readMessage(initTimeout)
	if err != nil {
		return fmt.Errorf("agent %s: init handshake: %w", c.cfg.Name, err)
	}
	if msg == nil {
		return fmt.Errorf("agent %s: closed stdout during init handshake", c.cfg.Name)
	}
	switch msg.Type {
	case "init_ack":
		return nil
	case "error":
		return fmt.Errorf("agent %s: init rejected: %s", c.cfg.Name, msg.Text)
	default:
		return fmt.Errorf("agent %s: expected init_ack, got %q", c.cfg.Name, msg.Type)
	}
}

func (c *Client) writeLine(line string) error {
	if _, err := io.WriteString(c.stdin, line+"\n"); err != nil {
		c.drop()
		return fmt.Errorf("agent %s: write: %w", c.cfg.Name, err)
	}
	return nil
}

// readMessage reads one line with the timeout discipline: the blocking
// read runs on a worker goroutine posting into a buffered channel; on
// timeout the child is killed so the deadline is exact even against a
// child that never flushes. Empty lines are skipped; EOF returns nil.
func (c *Client) readMessage(timeout time.Duration) (*runtime.StreamMessage, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.Kill()
			return nil, fmt.Errorf("agent %s: read timed out after %s", c.cfg.Name, timeout)
		}

		reader := c.reader
		ch := make(chan readResult, 1)
		go func() {
			line, err := reader.ReadString('\n')
			ch <- readResult{line: line, err: err}
		}()

		select {
		case res := <-ch:
			if res.err != nil {
				if res.err == io.EOF {
					if strings.TrimSpace(res.line) != "" {
						return parseEnvelope(res.line), nil
					}
					return nil, nil
				}
				c.drop()
				return nil, fmt.Errorf("agent %s: read: %w", c.cfg.Name, res.err)
			}
			if strings.TrimSpace(res.line) == "" {
				continue
			}
			return parseEnvelope(res.line), nil

		case <-time.After(remaining):
			// The worker goroutine still owns the abandoned reader; the
			// kill below unblocks it with EOF and both are dropped.
			c.Kill()
			return nil, fmt.Errorf("agent %s: read timed out after %s", c.cfg.Name, timeout)
		}
	}
}

// parseEnvelope parses one protocol line: a JSON object carrying a type
// field passes through, anything else is wrapped as a result message.
func parseEnvelope(line string) *runtime.StreamMessage {
	trimmed := strings.TrimSpace(line)

	var fields map[string]any
	if err := json.Unmarshal([]byte(trimmed), &fields); err == nil {
		if msgType, ok := fields["type"].(string); ok {
			text, _ := fields["text"].(string)
			if text == "" {
				if m, ok := fields["message"].(string); ok {
					text = m
				}
			}
			return &runtime.StreamMessage{Type: msgType, Text: text, Fields: fields}
		}
	}
	return &runtime.StreamMessage{Type: "result", Text: trimmed}
}

// Execute sends one prompt line and reads until the child's result
// message (or stdout close), returning the result text. Progress lines
// are logged and skipped.
func (c *Client) Execute(prompt string, timeout time.Duration) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return "", err
	}
	if err := c.writeLine(prompt); err != nil {
		return "", err
	}

	last := ""
	for {
		msg, err := c.readMessage(timeout)
		if err != nil {
			return "", err
		}
		if msg == nil {
			return last, nil
		}
		switch msg.Type {
		case "result":
			return msg.Text, nil
		case "error":
			return "", fmt.Errorf("agent %s: %s", c.cfg.Name, msg.Text)
		case "progress":
			logger.GetLogger().Debug().Str("agent", c.cfg.Name).Str("progress", msg.Text).Msg("agent progress")
			last = msg.Text
		default:
			last = msg.Text
		}
	}
}

// OpenStream sends the initial prompt and hands the caller a session for
// the listen loop; the session reuses this client's connection.
func (c *Client) OpenStream(prompt string) (runtime.StreamSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	if err := c.writeLine(prompt); err != nil {
		return nil, err
	}
	return &session{client: c}, nil
}

// Kill terminates the child and abandons its pipes.
func (c *Client) Kill() {
	if c.cmd != nil && c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
	c.drop()
}

func (c *Client) drop() {
	if c.stdin != nil {
		c.stdin.Close()
	}
	c.cmd = nil
	c.stdin = nil
	c.reader = nil
	c.setExited(true)
}

// Running reports whether the child is currently alive.
func (c *Client) Running() bool {
	return c.cmd != nil && !c.hasExited()
}

// session adapts one in-flight streaming exchange to the VM's
// StreamSession. Closing the session leaves the child alive for reuse.
type session struct {
	client *Client
}

func (s *session) Send(line string) error {
	payload, err := json.Marshal(map[string]any{"type": "response", "text": line})
	if err != nil {
		return err
	}
	return s.client.writeLine(string(payload))
}

func (s *session) Recv(timeout time.Duration) (*runtime.StreamMessage, error) {
	return s.client.readMessage(timeout)
}

func (s *session) Close() error {
	return nil
}
