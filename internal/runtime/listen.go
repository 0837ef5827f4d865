package runtime

import (
	"github.com/concerto-lang/concerto/internal/ir"
)

// opListen drives a streaming session against a subprocess-backed agent
// or host. The call shape is listen(agent, prompt, handlers?) where
// handlers is a map of message type -> handler function. The loop ends
// on a "result" message, on EOF, or on a handler returning false.
func (vm *VM) opListen(f *Frame, instr ir.Instruction) error {
	n := argcOf(instr)
	args, err := f.popN(n)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return newErr(ErrCall, "listen expects (agent, prompt, handlers?)")
	}

	source := args[0]
	if source.Kind != KindAgentRef && source.Kind != KindHostRef {
		return newErr(ErrCall, "listen source must be an agent or host, got %s", source.Kind)
	}
	prompt := Display(args[1])

	var handlers []MapEntry
	if len(args) >= 3 && args[2].Kind == KindMap {
		handlers = args[2].Map
	}

	runner, ok := vm.runners[source.RefName]
	if !ok {
		return newErr(ErrCall, "no subprocess runner registered for %q", source.RefName)
	}

	_, timeout := vm.agentPolicy(source.RefName)

	session, serr := runner.OpenStream(prompt)
	if serr != nil {
		return wrapErr(ErrIO, serr, "open stream to %q", source.RefName)
	}
	defer session.Close()

	final := Nil()
	for {
		msg, rerr := session.Recv(timeout.Duration)
		if rerr != nil {
			return wrapErr(ErrIO, rerr, "read from %q", source.RefName)
		}
		if msg == nil {
			break // EOF: session over
		}

		switch msg.Type {
		case "result":
			final = StringVal(msg.Text)
			if reply, handled, herr := vm.invokeListenHandler(handlers, msg); herr != nil {
				return asRuntimeError(herr)
			} else if handled {
				final = reply
			}
			return pushListen(f, final)

		case "question":
			reply, handled, herr := vm.invokeListenHandler(handlers, msg)
			if herr != nil {
				return asRuntimeError(herr)
			}
			answer := ""
			if handled {
				answer = Display(reply)
			}
			if werr := session.Send(answer); werr != nil {
				return wrapErr(ErrIO, werr, "reply to %q", source.RefName)
			}

		case "error":
			return newErr(ErrCall, "agent %q reported: %s", source.RefName, msg.Text)

		default:
			// progress and any custom message types
			reply, handled, herr := vm.invokeListenHandler(handlers, msg)
			if herr != nil {
				return asRuntimeError(herr)
			}
			if handled && reply.Kind == KindBool && !reply.Bool {
				return pushListen(f, final)
			}
			if !handled {
				vm.emit(msg.Type, StringVal(msg.Text))
			}
		}
	}
	return pushListen(f, final)
}

func pushListen(f *Frame, v Value) error {
	f.push(v)
	return nil
}

// invokeListenHandler calls the handler registered for msg.Type with the
// message rendered as an ordered map. handled is false when no handler
// is bound for the type.
func (vm *VM) invokeListenHandler(handlers []MapEntry, msg *StreamMessage) (Value, bool, error) {
	for _, h := range handlers {
		if h.Key != msg.Type {
			continue
		}
		payload := []MapEntry{
			{Key: "type", Value: StringVal(msg.Type)},
			{Key: "text", Value: StringVal(msg.Text)},
		}
		for k, v := range msg.Fields {
			if k == "type" || k == "text" {
				continue
			}
			payload = append(payload, MapEntry{Key: k, Value: FromAny(v)})
		}
		out, err := vm.callValue(h.Value, []Value{MapVal(payload)})
		if err != nil {
			return Nil(), true, err
		}
		return out, true, nil
	}
	return Nil(), false, nil
}
