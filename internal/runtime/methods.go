package runtime

import (
	"context"
	"sort"
	"strings"

	"github.com/concerto-lang/concerto/internal/ir"
)

func (vm *VM) opCallMethod(f *Frame, instr ir.Instruction) error {
	n := argcOf(instr)
	args, err := f.popN(n)
	if err != nil {
		return err
	}
	recv, err := f.pop()
	if err != nil {
		return err
	}

	result, merr := vm.dispatchMethod(recv, instr.Target, args)
	if merr != nil {
		return asRuntimeError(merr)
	}
	f.push(result)
	return nil
}

func (vm *VM) dispatchMethod(recv Value, method string, args []Value) (Value, error) {
	// A declared method on the receiver's type wins over the built-in
	// value methods, so user code can shadow e.g. `len` on its own types.
	if qualified := vm.qualifiedMethod(recv, method); qualified != nil {
		return vm.callFunction(qualified, append([]Value{recv}, args...), nil)
	}

	switch recv.Kind {
	case KindAgentRef, KindHostRef:
		return vm.agentMethod(recv, method, args)
	case KindAgentBuilder:
		return vm.builderMethod(recv, method, args)
	case KindMemoryRef:
		return vm.memoryMethod(recv.RefName, method, args)
	case KindLedgerRef:
		return vm.ledgerMethod(recv.RefName, method, args)
	case KindPipelineRef:
		if method == "run" || method == "execute" {
			if len(args) != 1 {
				return Nil(), newErr(ErrCall, "pipeline run expects one input")
			}
			return vm.runPipeline(recv.RefName, args[0])
		}
	case KindToolRef:
		return vm.callToolByName(recv.RefName, method, args)
	case KindArray:
		return arrayMethod(vm, recv, method, args)
	case KindString:
		return stringMethod(recv, method, args)
	case KindMap:
		return mapMethod(recv, method, args)
	case KindResult:
		return resultMethod(recv, method, args)
	case KindOption:
		return optionMethod(recv, method, args)
	}
	return Nil(), newErr(ErrCall, "no method %q on %s", method, recv.Kind)
}

// qualifiedMethod resolves `TypeName::method` for struct receivers and
// `AgentName::method` / `HostName::method` for declared agent methods.
func (vm *VM) qualifiedMethod(recv Value, method string) *ir.Function {
	var owner string
	switch recv.Kind {
	case KindStruct:
		owner = recv.StructType
	case KindAgentRef, KindHostRef, KindToolRef:
		owner = recv.RefName
	default:
		return nil
	}
	if fn, ok := vm.mod.Functions[owner+"::"+method]; ok {
		return fn
	}
	return nil
}

// agentMethod handles the builder-chain and run surface on a bare
// agent/host reference.
func (vm *VM) agentMethod(recv Value, method string, args []Value) (Value, error) {
	kind := "Agent"
	if recv.Kind == KindHostRef {
		kind = "Host"
	}
	builder := &AgentBuilder{Source: recv.RefName, SourceKind: kind}
	if agent, ok := vm.mod.Agents[recv.RefName]; ok && agent.Memory != "" {
		builder.Memory = agent.Memory
		builder.MemoryAutoAppend = true
	}
	return vm.builderMethod(Value{Kind: KindAgentBuilder, Builder: builder}, method, args)
}

func (vm *VM) builderMethod(recv Value, method string, args []Value) (Value, error) {
	b := recv.Builder
	if b == nil {
		return Nil(), newErr(ErrCall, "method call on an empty agent builder")
	}
	clone := *b

	switch method {
	case "with_memory":
		if len(args) != 1 {
			return Nil(), newErr(ErrCall, "with_memory expects a memory name")
		}
		clone.Memory = refOrString(args[0])
		clone.MemoryAutoAppend = true
		return Value{Kind: KindAgentBuilder, Builder: &clone}, nil
	case "with_tools":
		if len(args) != 1 || args[0].Kind != KindArray {
			return Nil(), newErr(ErrCall, "with_tools expects an array of tool names")
		}
		for _, t := range args[0].Array {
			clone.ExtraTools = append(clone.ExtraTools, refOrString(t))
		}
		return Value{Kind: KindAgentBuilder, Builder: &clone}, nil
	case "without_default_tools":
		agent, ok := vm.mod.Agents[b.Source]
		if ok {
			clone.ExcludedTools = append(clone.ExcludedTools, agent.Tools...)
		}
		return Value{Kind: KindAgentBuilder, Builder: &clone}, nil
	case "with_context":
		if len(args) != 1 {
			return Nil(), newErr(ErrCall, "with_context expects one value")
		}
		ctx := args[0].Clone()
		clone.ExtraContext = &ctx
		return Value{Kind: KindAgentBuilder, Builder: &clone}, nil
	case "run", "execute", "prompt":
		if len(args) != 1 {
			return Nil(), newErr(ErrCall, "%s expects one prompt", method)
		}
		return vm.runAgent(&clone, Display(args[0]), "")
	case "stream":
		if len(args) != 1 {
			return Nil(), newErr(ErrCall, "stream expects one prompt")
		}
		return vm.streamAgent(&clone, Display(args[0]))
	}
	return Nil(), newErr(ErrCall, "no method %q on AgentBuilder", method)
}

func refOrString(v Value) string {
	if v.RefName != "" {
		return v.RefName
	}
	return Display(v)
}

func (vm *VM) memoryMethod(name, method string, args []Value) (Value, error) {
	switch method {
	case "append":
		role, content := "user", ""
		switch len(args) {
		case 1:
			content = Display(args[0])
		case 2:
			role, content = Display(args[0]), Display(args[1])
		default:
			return Nil(), newErr(ErrCall, "memory append expects (content) or (role, content)")
		}
		vm.Memory.Append(name, role, content)
		if vm.recall != nil {
			if err := vm.recall.Index(name, role, content); err != nil {
				return Nil(), wrapErr(ErrIO, err, "index memory entry")
			}
		}
		return Nil(), nil
	case "last":
		n := 0
		if len(args) == 1 && args[0].Kind == KindInt {
			n = int(args[0].Int)
		}
		entries := vm.Memory.Last(name, n)
		out := make([]Value, len(entries))
		for i, e := range entries {
			out[i] = MapVal([]MapEntry{
				{Key: "role", Value: StringVal(e.Role)},
				{Key: "content", Value: StringVal(e.Content)},
			})
		}
		return ArrayVal(out), nil
	case "len":
		return IntVal(int64(vm.Memory.Len(name))), nil
	case "clear":
		vm.Memory.Clear(name)
		return Nil(), nil
	case "recall":
		if vm.recall == nil {
			return ArrayVal(nil), nil
		}
		if len(args) < 1 {
			return Nil(), newErr(ErrCall, "memory recall expects a query")
		}
		limit := 5
		if len(args) == 2 && args[1].Kind == KindInt {
			limit = int(args[1].Int)
		}
		hits, err := vm.recall.Recall(name, Display(args[0]), limit)
		if err != nil {
			return Nil(), wrapErr(ErrIO, err, "recall from memory %q", name)
		}
		out := make([]Value, len(hits))
		for i, h := range hits {
			out[i] = StringVal(h)
		}
		return ArrayVal(out), nil
	}
	return Nil(), newErr(ErrCall, "no method %q on Memory", method)
}

func (vm *VM) ledgerMethod(name, method string, args []Value) (Value, error) {
	switch method {
	case "append", "record":
		if len(args) != 1 {
			return Nil(), newErr(ErrCall, "ledger append expects one record")
		}
		fields := map[string]Value{}
		switch args[0].Kind {
		case KindMap:
			for _, e := range args[0].Map {
				fields[e.Key] = e.Value
			}
		case KindStruct:
			for k, v := range args[0].StructFields {
				fields[k] = v
			}
		default:
			fields["value"] = args[0]
		}
		seq := vm.Ledgers.Append(name, fields)
		return IntVal(int64(seq)), nil
	case "all", "entries":
		records := vm.Ledgers.All(name)
		out := make([]Value, len(records))
		for i, r := range records {
			entries := []MapEntry{{Key: "seq", Value: IntVal(int64(r.Seq))}}
			keys := make([]string, 0, len(r.Fields))
			for k := range r.Fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				entries = append(entries, MapEntry{Key: k, Value: r.Fields[k]})
			}
			out[i] = MapVal(entries)
		}
		return ArrayVal(out), nil
	case "len":
		return IntVal(int64(len(vm.Ledgers.All(name)))), nil
	}
	return Nil(), newErr(ErrCall, "no method %q on Ledger", method)
}

// runPipeline executes a pipeline's stages in order. A stage returning
// Result short-circuits on Err and unwraps Ok for the next stage,
// matching the stage-adjacency relation the compiler validated.
func (vm *VM) runPipeline(name string, input Value) (Value, error) {
	p, ok := vm.mod.Pipelines[name]
	if !ok {
		return Nil(), newErr(ErrName, "unknown pipeline %q", name)
	}
	current := input
	for _, stage := range p.Stages {
		fn, ok := vm.mod.Functions[stage.Function]
		if !ok {
			return Nil(), newErr(ErrLoad, "pipeline %q stage %q has no compiled body", name, stage.Name)
		}

		retry := DefaultRetryConfig()
		for _, dec := range stage.Decorators {
			if dec.Name == "retry" {
				retry = RetryConfigFromArgs(dec.Args)
			}
		}

		var out Value
		var err error
		for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
			out, err = vm.callFunction(fn, []Value{current}, nil)
			if err == nil {
				break
			}
			if attempt < retry.MaxAttempts {
				sleepFor(BackoffDelay(retry, attempt))
			}
		}
		if err != nil {
			return Nil(), err
		}

		if out.Kind == KindResult {
			if !out.ResultOk {
				return out, nil
			}
			out = *out.ResultVal
		}
		current = out
	}
	return current, nil
}

func (vm *VM) opCallTool(f *Frame, instr ir.Instruction) error {
	n := argcOf(instr)
	args, err := f.popN(n)
	if err != nil {
		return err
	}
	result, terr := vm.callToolByName(instr.Target, "", args)
	if terr != nil {
		return asRuntimeError(terr)
	}
	f.push(result)
	return nil
}

// callToolByName resolves a tool invocation: an in-language `tool`
// declaration's method when one exists, else the external registry
// (MCP- or host-backed tools registered at startup).
func (vm *VM) callToolByName(tool, method string, args []Value) (Value, error) {
	if decl, ok := vm.mod.Tools[tool]; ok {
		name := method
		if name == "" {
			switch {
			case containsString(decl.Methods, "call"):
				name = "call"
			case containsString(decl.Methods, "run"):
				name = "run"
			case len(decl.Methods) == 1:
				name = decl.Methods[0]
			}
		}
		if fn, ok := vm.mod.Functions[tool+"::"+name]; ok {
			callArgs := args
			if fn.HasSelf {
				callArgs = append([]Value{RefVal(KindToolRef, tool)}, args...)
			}
			return vm.callFunction(fn, callArgs, nil)
		}
	}

	registryName := tool
	if method != "" {
		registryName = tool + "." + method
	}
	return vm.Tools.Call(context.Background(), registryName, args)
}

func containsString(list []string, s string) bool {
	for _, el := range list {
		if el == s {
			return true
		}
	}
	return false
}

func arrayMethod(vm *VM, recv Value, method string, args []Value) (Value, error) {
	switch method {
	case "len":
		return IntVal(int64(len(recv.Array))), nil
	case "push":
		out := append(append([]Value{}, recv.Array...), args...)
		return ArrayVal(out), nil
	case "pop":
		if len(recv.Array) == 0 {
			return NoneVal(), nil
		}
		return SomeVal(recv.Array[len(recv.Array)-1]), nil
	case "first":
		if len(recv.Array) == 0 {
			return NoneVal(), nil
		}
		return SomeVal(recv.Array[0]), nil
	case "last":
		if len(recv.Array) == 0 {
			return NoneVal(), nil
		}
		return SomeVal(recv.Array[len(recv.Array)-1]), nil
	case "contains":
		if len(args) != 1 {
			return Nil(), newErr(ErrCall, "contains expects one value")
		}
		for _, el := range recv.Array {
			if el.Equal(args[0]) {
				return BoolVal(true), nil
			}
		}
		return BoolVal(false), nil
	case "join":
		sep := ","
		if len(args) == 1 {
			sep = Display(args[0])
		}
		parts := make([]string, len(recv.Array))
		for i, el := range recv.Array {
			parts[i] = Display(el)
		}
		return StringVal(strings.Join(parts, sep)), nil
	case "reverse":
		out := make([]Value, len(recv.Array))
		for i, el := range recv.Array {
			out[len(recv.Array)-1-i] = el
		}
		return ArrayVal(out), nil
	case "map":
		if len(args) != 1 {
			return Nil(), newErr(ErrCall, "map expects a function")
		}
		out := make([]Value, len(recv.Array))
		for i, el := range recv.Array {
			mapped, err := vm.callValue(args[0], []Value{el})
			if err != nil {
				return Nil(), err
			}
			out[i] = mapped
		}
		return ArrayVal(out), nil
	case "filter":
		if len(args) != 1 {
			return Nil(), newErr(ErrCall, "filter expects a function")
		}
		var out []Value
		for _, el := range recv.Array {
			keep, err := vm.callValue(args[0], []Value{el})
			if err != nil {
				return Nil(), err
			}
			if keep.IsTruthy() {
				out = append(out, el)
			}
		}
		return ArrayVal(out), nil
	}
	return Nil(), newErr(ErrCall, "no method %q on Array", method)
}

func stringMethod(recv Value, method string, args []Value) (Value, error) {
	s := recv.Str
	switch method {
	case "len":
		return IntVal(int64(len([]rune(s)))), nil
	case "upper":
		return StringVal(strings.ToUpper(s)), nil
	case "lower":
		return StringVal(strings.ToLower(s)), nil
	case "trim":
		return StringVal(strings.TrimSpace(s)), nil
	case "contains":
		if len(args) != 1 {
			return Nil(), newErr(ErrCall, "contains expects one value")
		}
		return BoolVal(strings.Contains(s, Display(args[0]))), nil
	case "starts_with":
		if len(args) != 1 {
			return Nil(), newErr(ErrCall, "starts_with expects one value")
		}
		return BoolVal(strings.HasPrefix(s, Display(args[0]))), nil
	case "ends_with":
		if len(args) != 1 {
			return Nil(), newErr(ErrCall, "ends_with expects one value")
		}
		return BoolVal(strings.HasSuffix(s, Display(args[0]))), nil
	case "split":
		sep := " "
		if len(args) == 1 {
			sep = Display(args[0])
		}
		parts := strings.Split(s, sep)
		out := make([]Value, len(parts))
		for i, p := range parts {
			out[i] = StringVal(p)
		}
		return ArrayVal(out), nil
	case "replace":
		if len(args) != 2 {
			return Nil(), newErr(ErrCall, "replace expects (old, new)")
		}
		return StringVal(strings.ReplaceAll(s, Display(args[0]), Display(args[1]))), nil
	}
	return Nil(), newErr(ErrCall, "no method %q on String", method)
}

func mapMethod(recv Value, method string, args []Value) (Value, error) {
	switch method {
	case "len":
		return IntVal(int64(len(recv.Map))), nil
	case "get":
		if len(args) != 1 {
			return Nil(), newErr(ErrCall, "get expects one key")
		}
		key := Display(args[0])
		for _, e := range recv.Map {
			if e.Key == key {
				return SomeVal(e.Value), nil
			}
		}
		return NoneVal(), nil
	case "has":
		if len(args) != 1 {
			return Nil(), newErr(ErrCall, "has expects one key")
		}
		key := Display(args[0])
		for _, e := range recv.Map {
			if e.Key == key {
				return BoolVal(true), nil
			}
		}
		return BoolVal(false), nil
	case "keys":
		out := make([]Value, len(recv.Map))
		for i, e := range recv.Map {
			out[i] = StringVal(e.Key)
		}
		return ArrayVal(out), nil
	case "values":
		out := make([]Value, len(recv.Map))
		for i, e := range recv.Map {
			out[i] = e.Value
		}
		return ArrayVal(out), nil
	case "to_json":
		text, err := EncodeJSON(recv)
		if err != nil {
			return Nil(), err
		}
		return StringVal(text), nil
	}
	return Nil(), newErr(ErrCall, "no method %q on Map", method)
}

func resultMethod(recv Value, method string, args []Value) (Value, error) {
	switch method {
	case "is_ok":
		return BoolVal(recv.ResultOk), nil
	case "is_err":
		return BoolVal(!recv.ResultOk), nil
	case "unwrap":
		if !recv.ResultOk {
			return Nil(), throwErr(ErrUnhandledThrow, *recv.ResultVal)
		}
		return *recv.ResultVal, nil
	case "unwrap_or":
		if len(args) != 1 {
			return Nil(), newErr(ErrCall, "unwrap_or expects a default")
		}
		if recv.ResultOk {
			return *recv.ResultVal, nil
		}
		return args[0], nil
	case "unwrap_err":
		if recv.ResultOk {
			return Nil(), throwErr(ErrUnhandledThrow, StringVal("unwrap_err on Ok"))
		}
		return *recv.ResultVal, nil
	}
	return Nil(), newErr(ErrCall, "no method %q on Result", method)
}

func optionMethod(recv Value, method string, args []Value) (Value, error) {
	switch method {
	case "is_some":
		return BoolVal(recv.OptionVal != nil), nil
	case "is_none":
		return BoolVal(recv.OptionVal == nil), nil
	case "unwrap":
		if recv.OptionVal == nil {
			return Nil(), throwErr(ErrUnhandledThrow, StringVal("unwrap on None"))
		}
		return *recv.OptionVal, nil
	case "unwrap_or":
		if len(args) != 1 {
			return Nil(), newErr(ErrCall, "unwrap_or expects a default")
		}
		if recv.OptionVal != nil {
			return *recv.OptionVal, nil
		}
		return args[0], nil
	}
	return Nil(), newErr(ErrCall, "no method %q on Option", method)
}
