package runtime

import (
	"context"
	"time"

	"github.com/concerto-lang/concerto/internal/ir"
)

// defaultCallTimeout bounds a model/subprocess call when no @timeout
// decorator is present.
const defaultCallTimeout = 60 * time.Second

// sleepFor is swapped out by tests to avoid real backoff delays.
var sleepFor = time.Sleep

func (vm *VM) opCallModel(f *Frame, instr ir.Instruction) error {
	n := argcOf(instr)
	args, err := f.popN(n)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return newErr(ErrCall, "model call without a receiver")
	}

	builder, berr := vm.builderFor(args[0])
	if berr != nil {
		return asRuntimeError(berr)
	}

	var result Value
	var merr error
	switch instr.Op {
	case ir.OpCallModel:
		result, merr = vm.runAgent(builder, promptOf(args[1:]), "")
	case ir.OpCallModelSchema:
		result, merr = vm.runAgent(builder, promptOf(args[1:]), instr.Schema)
	case ir.OpCallModelStream:
		result, merr = vm.streamAgent(builder, promptOf(args[1:]))
	case ir.OpCallModelChat:
		result, merr = vm.chatAgent(builder, args[1:])
	}
	if merr != nil {
		return asRuntimeError(merr)
	}
	f.push(result)
	return nil
}

func promptOf(args []Value) string {
	if len(args) == 0 {
		return ""
	}
	return Display(args[0])
}

// builderFor normalises a model-call receiver: a bare agent/host ref
// gets a fresh builder carrying the agent's declared memory, an
// AgentBuilder is used as configured.
func (vm *VM) builderFor(recv Value) (*AgentBuilder, error) {
	switch recv.Kind {
	case KindAgentBuilder:
		return recv.Builder, nil
	case KindAgentRef:
		b := &AgentBuilder{Source: recv.RefName, SourceKind: "Agent"}
		if agent, ok := vm.mod.Agents[recv.RefName]; ok && agent.Memory != "" {
			b.Memory = agent.Memory
			b.MemoryAutoAppend = true
		}
		return b, nil
	case KindHostRef:
		return &AgentBuilder{Source: recv.RefName, SourceKind: "Host"}, nil
	default:
		return nil, newErr(ErrCall, "model call receiver must be an agent, got %s", recv.Kind)
	}
}

// agentPolicy extracts the @retry/@timeout decorators of the receiver's
// declared agent, with defaults when absent.
func (vm *VM) agentPolicy(name string) (RetryConfig, TimeoutConfig) {
	retry := DefaultRetryConfig()
	timeout := TimeoutConfig{Duration: defaultCallTimeout}
	agent, ok := vm.mod.Agents[name]
	if !ok {
		return retry, timeout
	}
	for _, dec := range agent.Decorators {
		switch dec.Name {
		case "retry":
			retry = RetryConfigFromArgs(dec.Args)
		case "timeout":
			timeout = TimeoutConfigFromArgs(dec.Args)
		}
	}
	return retry, timeout
}

// invoker returns the closure that performs one raw prompt->text
// exchange for the builder's source: a queued mock, a registered
// subprocess runner, or an LLM provider resolved via the agent's
// connection, in that order.
func (vm *VM) invoker(b *AgentBuilder, timeout TimeoutConfig) (func(prompt string) (string, error), error) {
	name := b.Source

	if _, mocked := vm.mocks[name]; mocked {
		return func(string) (string, error) {
			resp, _ := vm.nextMock(name)
			return resp, nil
		}, nil
	}

	if runner, ok := vm.runners[name]; ok {
		return func(prompt string) (string, error) {
			return runner.Execute(prompt, timeout.Duration)
		}, nil
	}

	agent, ok := vm.mod.Agents[name]
	if !ok {
		return nil, newErr(ErrName, "unknown agent %q", name)
	}
	provider, _, err := vm.Connections.Provider(agent.Connection)
	if err != nil {
		return nil, err
	}
	model, _ := agent.Config["model"].(string)
	return func(prompt string) (string, error) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout.Duration)
		defer cancel()
		resp, err := provider.Complete(ctx, ModelRequest{Model: model, Prompt: prompt})
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	}, nil
}

// runAgent performs one model/subprocess call with the agent's retry and
// timeout policy, optional schema validation with bounded re-prompting,
// and memory auto-append.
func (vm *VM) runAgent(b *AgentBuilder, prompt, schemaName string) (Value, error) {
	retry, timeout := vm.agentPolicy(b.Source)
	invoke, err := vm.invoker(b, timeout)
	if err != nil {
		return Nil(), err
	}

	fullPrompt := vm.composePrompt(b, prompt)

	var schema map[string]any
	if schemaName != "" {
		decl, ok := vm.mod.Schemas[schemaName]
		if !ok {
			return Nil(), newErr(ErrName, "unknown schema %q", schemaName)
		}
		schema = decl.JSONSchema
	}

	text, result, err := vm.callWithPolicy(invoke, fullPrompt, schema, retry)
	if err != nil {
		return Nil(), err
	}

	if b.Memory != "" && b.MemoryAutoAppend {
		vm.Memory.Append(b.Memory, "user", prompt)
		vm.Memory.Append(b.Memory, "assistant", text)
		if vm.recall != nil {
			vm.recall.Index(b.Memory, "user", prompt)
			vm.recall.Index(b.Memory, "assistant", text)
		}
	}

	if schema != nil {
		return result, nil
	}
	return StringVal(text), nil
}

// callWithPolicy layers the two retry loops: the outer @retry loop for
// recoverable transport errors, and the inner schema loop that rewrites
// the prompt after a validation failure, bounded at MaxSchemaRetries
// total attempts before SchemaError.
func (vm *VM) callWithPolicy(invoke func(string) (string, error), prompt string, schema map[string]any, retry RetryConfig) (string, Value, error) {
	var lastErr error
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			sleepFor(BackoffDelay(retry, attempt-1))
		}

		if schema == nil {
			text, err := invoke(prompt)
			if err == nil {
				return text, Nil(), nil
			}
			lastErr = err
			continue
		}

		text, result, err := vm.schemaValidatedCall(invoke, prompt, schema)
		if err == nil {
			return text, result, nil
		}
		if re, ok := err.(*RuntimeError); ok && re.Kind == ErrSchema {
			// Schema exhaustion is final; the transport worked.
			return "", Nil(), err
		}
		lastErr = err
	}
	return "", Nil(), wrapErr(ErrCall, lastErr, "agent call failed after %d attempt(s)", retry.MaxAttempts)
}

func (vm *VM) schemaValidatedCall(invoke func(string) (string, error), prompt string, schema map[string]any) (string, Value, error) {
	current := prompt
	var lastText string
	var lastValidation error
	for attempt := 1; attempt <= MaxSchemaRetries; attempt++ {
		text, err := invoke(current)
		if err != nil {
			return "", Nil(), err
		}
		lastText = text

		if _, verr := ValidateAgainstSchema(text, schema); verr == nil {
			decoded, derr := DecodeJSON(text)
			if derr != nil {
				return "", Nil(), derr
			}
			return text, decoded, nil
		} else {
			lastValidation = verr
			current = RewriteRetryPrompt(prompt, text, verr)
		}
	}
	return lastText, Nil(), wrapErr(ErrSchema, lastValidation,
		"model response failed schema validation after %d attempts", MaxSchemaRetries)
}

// composePrompt prepends builder context and recent memory turns to the
// caller's prompt.
func (vm *VM) composePrompt(b *AgentBuilder, prompt string) string {
	out := ""
	if b.ExtraContext != nil {
		out += "Context:\n" + Display(*b.ExtraContext) + "\n\n"
	}
	if b.Memory != "" {
		entries := vm.Memory.Last(b.Memory, 20)
		for _, e := range entries {
			out += e.Role + ": " + e.Content + "\n"
		}
		if len(entries) > 0 {
			out += "\n"
		}
	}
	return out + prompt
}

// streamAgent drives a streaming completion, forwarding each chunk to
// the emit handler on the "stream" channel and returning the full text.
func (vm *VM) streamAgent(b *AgentBuilder, prompt string) (Value, error) {
	_, timeout := vm.agentPolicy(b.Source)

	if _, mocked := vm.mocks[b.Source]; mocked {
		resp, _ := vm.nextMock(b.Source)
		vm.emit("stream", StringVal(resp))
		return StringVal(resp), nil
	}

	agent, ok := vm.mod.Agents[b.Source]
	if !ok {
		return Nil(), newErr(ErrName, "unknown agent %q", b.Source)
	}
	provider, _, err := vm.Connections.Provider(agent.Connection)
	if err != nil {
		return Nil(), err
	}
	model, _ := agent.Config["model"].(string)

	ctx, cancel := context.WithTimeout(context.Background(), timeout.Duration)
	defer cancel()

	full := ""
	serr := provider.Stream(ctx, ModelRequest{Model: model, Prompt: vm.composePrompt(b, prompt)}, func(chunk string) {
		full += chunk
		vm.emit("stream", StringVal(chunk))
	})
	if serr != nil {
		return Nil(), wrapErr(ErrCall, serr, "stream from agent %q", b.Source)
	}

	if b.Memory != "" && b.MemoryAutoAppend {
		vm.Memory.Append(b.Memory, "user", prompt)
		vm.Memory.Append(b.Memory, "assistant", full)
	}
	return StringVal(full), nil
}

// chatAgent performs a multi-turn completion: the argument is an array
// of {role, content} maps.
func (vm *VM) chatAgent(b *AgentBuilder, args []Value) (Value, error) {
	retry, timeout := vm.agentPolicy(b.Source)

	var messages []ModelMessage
	if len(args) == 1 && args[0].Kind == KindArray {
		for _, el := range args[0].Array {
			role, _ := fieldGet(el, "role")
			content, _ := fieldGet(el, "content")
			messages = append(messages, ModelMessage{Role: Display(role), Content: Display(content)})
		}
	}

	if _, mocked := vm.mocks[b.Source]; mocked {
		resp, _ := vm.nextMock(b.Source)
		return StringVal(resp), nil
	}

	agent, ok := vm.mod.Agents[b.Source]
	if !ok {
		return Nil(), newErr(ErrName, "unknown agent %q", b.Source)
	}
	provider, _, err := vm.Connections.Provider(agent.Connection)
	if err != nil {
		return Nil(), err
	}
	model, _ := agent.Config["model"].(string)

	var lastErr error
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			sleepFor(BackoffDelay(retry, attempt-1))
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout.Duration)
		resp, cerr := provider.Complete(ctx, ModelRequest{Model: model, Messages: messages})
		cancel()
		if cerr == nil {
			return StringVal(resp.Text), nil
		}
		lastErr = cerr
	}
	return Nil(), wrapErr(ErrCall, lastErr, "chat call failed after %d attempt(s)", retry.MaxAttempts)
}
