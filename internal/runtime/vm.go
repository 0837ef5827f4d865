package runtime

import (
	"fmt"
	"strings"
	"time"

	"github.com/concerto-lang/concerto/internal/ir"
)

// MaxCallDepth bounds the VM call stack; exceeding it raises StackOverflow.
const MaxCallDepth = 1000

// MaxSchemaRetries is the total attempt budget for a schema-validated
// model call before SchemaError is raised.
const MaxSchemaRetries = 3

// EmitHandler receives every EMIT and EMIT_AWAIT from the running
// program. The returned value is discarded for both opcodes.
type EmitHandler func(channel string, payload Value) Value

// StreamMessage is one parsed NDJSON line from an agent/host subprocess.
type StreamMessage struct {
	Type   string
	Text   string
	Fields map[string]any
}

// StreamSession is one open listen-loop exchange with a subprocess.
// Recv returns (nil, nil) on EOF.
type StreamSession interface {
	Send(line string) error
	Recv(timeout time.Duration) (*StreamMessage, error)
	Close() error
}

// AgentRunner is implemented by the agentproc and hostproc clients: a
// subprocess-backed peer the VM can call once or stream against.
type AgentRunner interface {
	Execute(prompt string, timeout time.Duration) (string, error)
	OpenStream(prompt string) (StreamSession, error)
}

// RecallProvider is the optional semantic-recall layer over MemoryStore,
// implemented by runtime/semrecall when the manifest enables it.
type RecallProvider interface {
	Index(memory, role, content string) error
	Recall(memory, query string, limit int) ([]string, error)
}

// TraceEvent is one dispatch-loop observation kept for --inspect.
type TraceEvent struct {
	Function string `json:"function"`
	IP       int    `json:"ip"`
	Op       string `json:"op"`
}

type tryEntry struct {
	handlerIP  int
	stackDepth int
}

// Frame is one activation record: a function, its instruction pointer,
// its operand stack slice, locals, and the try-handler stack TRY_BEGIN
// maintains.
type Frame struct {
	Fn     *ir.Function
	IP     int
	stack  []Value
	locals map[string]Value
	tries  []tryEntry
}

func (f *Frame) push(v Value) { f.stack = append(f.stack, v) }

func (f *Frame) pop() (Value, error) {
	if len(f.stack) == 0 {
		return Nil(), newErr(ErrStackUnderflow, "operand stack underflow in %s at %d", f.Fn.Name, f.IP)
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

func (f *Frame) popN(n int) ([]Value, error) {
	if len(f.stack) < n {
		return nil, newErr(ErrStackUnderflow, "operand stack underflow in %s at %d", f.Fn.Name, f.IP)
	}
	out := make([]Value, n)
	copy(out, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return out, nil
}

// VM is the single-threaded stack interpreter. All registries and stores
// are owned by the VM goroutine; worker goroutines exist only inside the
// subprocess clients to enforce read timeouts.
type VM struct {
	mod     *LoadedModule
	globals map[string]Value
	frames  []*Frame

	Connections *ConnectionManager
	Tools       *ToolRegistry
	Memory      *MemoryStore
	Ledgers     *LedgerStore
	HashMaps    *HashMapStore

	runners map[string]AgentRunner
	recall  RecallProvider
	emit    EmitHandler
	mocks   map[string][]string

	Debug bool
	trace []TraceEvent
}

// NewVM builds a VM over a loaded module with empty registries and
// initialises the globals for every declared entity.
func NewVM(lm *LoadedModule) *VM {
	maxMessages := map[string]int{}
	for name, m := range lm.Memories {
		maxMessages[name] = m.MaxMessages
	}

	vm := &VM{
		mod:         lm,
		globals:     map[string]Value{},
		Connections: NewConnectionManager(),
		Tools:       NewToolRegistry(),
		Memory:      NewMemoryStore(maxMessages),
		Ledgers:     NewLedgerStore(),
		HashMaps:    NewHashMapStore(),
		runners:     map[string]AgentRunner{},
		mocks:       map[string][]string{},
		emit:        func(string, Value) Value { return Nil() },
	}

	for name := range lm.Agents {
		vm.globals[name] = RefVal(KindAgentRef, name)
	}
	for name := range lm.Hosts {
		vm.globals[name] = RefVal(KindHostRef, name)
	}
	for name := range lm.Tools {
		vm.globals[name] = RefVal(KindToolRef, name)
	}
	for name := range lm.Schemas {
		vm.globals[name] = RefVal(KindSchemaRef, name)
	}
	for name := range lm.HashMaps {
		vm.globals[name] = RefVal(KindHashMapRef, name)
	}
	for name := range lm.Ledgers {
		vm.globals[name] = RefVal(KindLedgerRef, name)
	}
	for name := range lm.Pipelines {
		vm.globals[name] = RefVal(KindPipelineRef, name)
	}
	for name := range lm.Memories {
		vm.globals[name] = RefVal(KindMemoryRef, name)
	}
	return vm
}

// SetEmitHandler installs the callback EMIT/EMIT_AWAIT dispatch to.
func (vm *VM) SetEmitHandler(h EmitHandler) { vm.emit = h }

// RegisterAgentRunner binds a subprocess runner to an agent/host name.
func (vm *VM) RegisterAgentRunner(name string, r AgentRunner) { vm.runners[name] = r }

// SetRecallProvider installs the optional semantic-recall layer.
func (vm *VM) SetRecallProvider(p RecallProvider) { vm.recall = p }

// CurrentFunction names the innermost executing function, for --debug
// output on an unhandled error.
func (vm *VM) CurrentFunction() string {
	if len(vm.frames) == 0 {
		return ""
	}
	return vm.frames[len(vm.frames)-1].Fn.Name
}

// Snapshot returns the call-stack function names (outermost first) and
// the most recent trace events, consumed by the debug server.
func (vm *VM) Snapshot() ([]string, []TraceEvent) {
	names := make([]string, len(vm.frames))
	for i, f := range vm.frames {
		names[i] = f.Fn.Name
	}
	events := make([]TraceEvent, len(vm.trace))
	copy(events, vm.trace)
	return names, events
}

const traceLimit = 256

func (vm *VM) recordTrace(fn string, ip int, op ir.Opcode) {
	if !vm.Debug {
		return
	}
	vm.trace = append(vm.trace, TraceEvent{Function: fn, IP: ip, Op: string(op)})
	if len(vm.trace) > traceLimit {
		vm.trace = vm.trace[len(vm.trace)-traceLimit:]
	}
}

// Run executes the module's init function (global consts) and then the
// entry point with no arguments.
func (vm *VM) Run() (Value, error) {
	if vm.mod.InitFunction != "" {
		if _, err := vm.Call(vm.mod.InitFunction, nil); err != nil {
			return Nil(), err
		}
	}
	return vm.Call(vm.mod.EntryPoint, nil)
}

// Call invokes a named function with args, cloning each argument so no
// mutable state is shared with the caller.
func (vm *VM) Call(name string, args []Value) (Value, error) {
	fn, ok := vm.mod.Functions[name]
	if !ok {
		if native, isNative := builtins[name]; isNative {
			return native(args)
		}
		return Nil(), newErr(ErrCall, "unknown function %q", name)
	}
	return vm.callFunction(fn, args, nil)
}

func (vm *VM) callFunction(fn *ir.Function, args []Value, captured map[string]Value) (Value, error) {
	if len(vm.frames) >= MaxCallDepth {
		return Nil(), newErr(ErrStackOverflow, "call depth exceeded %d frames", MaxCallDepth)
	}

	frame := &Frame{Fn: fn, locals: map[string]Value{}}
	for name, v := range captured {
		frame.locals[name] = v
	}

	params := fn.Params
	argIdx := 0
	if fn.HasSelf {
		if len(args) > 0 {
			frame.locals["self"] = args[0]
			argIdx = 1
		} else {
			frame.locals["self"] = Nil()
		}
	}
	for _, p := range params {
		if argIdx < len(args) {
			frame.locals[p.Name] = args[argIdx].Clone()
			argIdx++
			continue
		}
		if p.Default != nil && *p.Default >= 0 && *p.Default < len(vm.mod.Constants) {
			frame.locals[p.Name] = vm.mod.Constants[*p.Default]
			continue
		}
		frame.locals[p.Name] = Nil()
	}

	vm.frames = append(vm.frames, frame)
	defer func() { vm.frames = vm.frames[:len(vm.frames)-1] }()
	return vm.exec(frame)
}

// errValue is what a catch binding receives: the carried thrown or
// propagated payload when one exists, else a {kind, message} struct
// derived from the runtime error.
func errValue(e *RuntimeError) Value {
	if e.Value != nil {
		v := *e.Value
		if v.Kind == KindResult && !v.ResultOk {
			return *v.ResultVal
		}
		return v
	}
	return StructVal("RuntimeError", map[string]Value{
		"kind":    StringVal(string(e.Kind)),
		"message": StringVal(e.Message),
	})
}

// handleError routes err through the frame's try stack. It returns true
// when a handler took over (IP and stack already adjusted).
func (f *Frame) handleError(e *RuntimeError) bool {
	if len(f.tries) == 0 {
		return false
	}
	entry := f.tries[len(f.tries)-1]
	f.tries = f.tries[:len(f.tries)-1]
	if entry.stackDepth < len(f.stack) {
		f.stack = f.stack[:entry.stackDepth]
	}
	f.push(errValue(e))
	f.IP = entry.handlerIP
	return true
}

// exec is the dispatch loop for one frame. Errors from opcodes and from
// nested calls are first offered to this frame's try handlers; an
// unhandled Propagated error becomes the frame's ordinary return value
// (the `?` early-return), everything else unwinds to the caller.
func (vm *VM) exec(f *Frame) (Value, error) {
	code := f.Fn.Code
	for f.IP < len(code) {
		instr := code[f.IP]
		vm.recordTrace(f.Fn.Name, f.IP, instr.Op)
		f.IP++

		result, done, err := vm.step(f, instr)
		if err != nil {
			re, ok := err.(*RuntimeError)
			if !ok {
				re = wrapErr(ErrCall, err, "in %s", f.Fn.Name)
			}
			if f.handleError(re) {
				continue
			}
			if re.Kind == ErrPropagated && re.Value != nil {
				return *re.Value, nil
			}
			return Nil(), re
		}
		if done {
			return result, nil
		}
	}
	return Nil(), nil
}

// step executes one instruction. done=true means the frame returned.
func (vm *VM) step(f *Frame, instr ir.Instruction) (Value, bool, error) {
	switch instr.Op {
	case ir.OpPush, ir.OpLoadConst:
		if instr.ConstIndex == nil || *instr.ConstIndex < 0 || *instr.ConstIndex >= len(vm.mod.Constants) {
			return Nil(), false, newErr(ErrLoad, "bad constant index in %s", f.Fn.Name)
		}
		f.push(vm.mod.Constants[*instr.ConstIndex])

	case ir.OpPop:
		if _, err := f.pop(); err != nil {
			return Nil(), false, err
		}

	case ir.OpDup:
		v, err := f.pop()
		if err != nil {
			return Nil(), false, err
		}
		f.push(v)
		f.push(v)

	case ir.OpSwap:
		vs, err := f.popN(2)
		if err != nil {
			return Nil(), false, err
		}
		f.push(vs[1])
		f.push(vs[0])

	case ir.OpLoadLocal:
		v, ok := f.locals[instr.Name]
		if !ok {
			return Nil(), false, newErr(ErrName, "undefined local %q in %s", instr.Name, f.Fn.Name)
		}
		f.push(v)

	case ir.OpStoreLocal:
		v, err := f.pop()
		if err != nil {
			return Nil(), false, err
		}
		f.locals[instr.Name] = v

	case ir.OpLoadGlobal:
		// Captured closure variables live in the frame's locals but are
		// compiled as global loads (the closure body can't see the
		// enclosing function's local set); locals win on collision.
		if v, ok := f.locals[instr.Name]; ok {
			f.push(v)
			break
		}
		v, err := vm.loadGlobal(instr.Name)
		if err != nil {
			return Nil(), false, err
		}
		f.push(v)

	case ir.OpStoreGlobal:
		v, err := f.pop()
		if err != nil {
			return Nil(), false, err
		}
		vm.globals[instr.Name] = v

	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod:
		vs, err := f.popN(2)
		if err != nil {
			return Nil(), false, err
		}
		out, aerr := arithmetic(instr.Op, vs[0], vs[1])
		if aerr != nil {
			return Nil(), false, aerr
		}
		f.push(out)

	case ir.OpNeg:
		v, err := f.pop()
		if err != nil {
			return Nil(), false, err
		}
		switch v.Kind {
		case KindInt:
			f.push(IntVal(-v.Int))
		case KindFloat:
			f.push(FloatVal(-v.Float))
		default:
			return Nil(), false, newErr(ErrType, "cannot negate %s", v.Kind)
		}

	case ir.OpEq, ir.OpNeq:
		vs, err := f.popN(2)
		if err != nil {
			return Nil(), false, err
		}
		eq := vs[0].Equal(vs[1])
		if instr.Op == ir.OpNeq {
			eq = !eq
		}
		f.push(BoolVal(eq))

	case ir.OpLt, ir.OpGt, ir.OpLte, ir.OpGte:
		vs, err := f.popN(2)
		if err != nil {
			return Nil(), false, err
		}
		out, cerr := compare(instr.Op, vs[0], vs[1])
		if cerr != nil {
			return Nil(), false, cerr
		}
		f.push(out)

	case ir.OpAnd, ir.OpOr:
		vs, err := f.popN(2)
		if err != nil {
			return Nil(), false, err
		}
		a, b := vs[0].IsTruthy(), vs[1].IsTruthy()
		if instr.Op == ir.OpAnd {
			f.push(BoolVal(a && b))
		} else {
			f.push(BoolVal(a || b))
		}

	case ir.OpNot:
		v, err := f.pop()
		if err != nil {
			return Nil(), false, err
		}
		f.push(BoolVal(!v.IsTruthy()))

	case ir.OpJump:
		if instr.Offset == nil {
			return Nil(), false, newErr(ErrLoad, "JUMP without offset in %s", f.Fn.Name)
		}
		f.IP = *instr.Offset

	case ir.OpJumpIfTrue, ir.OpJumpIfFalse:
		cond, err := f.pop()
		if err != nil {
			return Nil(), false, err
		}
		if instr.Offset == nil {
			return Nil(), false, newErr(ErrLoad, "conditional jump without offset in %s", f.Fn.Name)
		}
		truthy := cond.IsTruthy()
		if (instr.Op == ir.OpJumpIfTrue && truthy) || (instr.Op == ir.OpJumpIfFalse && !truthy) {
			f.IP = *instr.Offset
		}

	case ir.OpReturn:
		if len(f.stack) == 0 {
			return Nil(), true, nil
		}
		v, _ := f.pop()
		return v, true, nil

	case ir.OpCall:
		return Nil(), false, vm.opCall(f, instr)

	case ir.OpCallMethod:
		return Nil(), false, vm.opCallMethod(f, instr)

	case ir.OpCallNative:
		return Nil(), false, vm.opCallNative(f, instr)

	case ir.OpCallModel, ir.OpCallModelSchema, ir.OpCallModelStream, ir.OpCallModelChat:
		return Nil(), false, vm.opCallModel(f, instr)

	case ir.OpCallTool:
		return Nil(), false, vm.opCallTool(f, instr)

	case ir.OpHashMapGet, ir.OpHashMapSet, ir.OpHashMapDelete, ir.OpHashMapHas, ir.OpHashMapQuery:
		return Nil(), false, vm.opHashMap(f, instr)

	case ir.OpEmit, ir.OpEmitAwait:
		vs, err := f.popN(2)
		if err != nil {
			return Nil(), false, err
		}
		vm.emit(Display(vs[0]), vs[1])

	case ir.OpTryBegin:
		if instr.Offset == nil {
			return Nil(), false, newErr(ErrLoad, "TRY_BEGIN without handler offset in %s", f.Fn.Name)
		}
		f.tries = append(f.tries, tryEntry{handlerIP: *instr.Offset, stackDepth: len(f.stack)})

	case ir.OpTryEnd:
		if len(f.tries) > 0 {
			f.tries = f.tries[:len(f.tries)-1]
		}

	case ir.OpCatch:
		v, err := f.pop()
		if err != nil {
			return Nil(), false, err
		}
		f.locals[instr.Name] = v

	case ir.OpThrow:
		v, err := f.pop()
		if err != nil {
			return Nil(), false, err
		}
		return Nil(), false, throwErr(ErrUnhandledThrow, v)

	case ir.OpPropagate:
		v, err := f.pop()
		if err != nil {
			return Nil(), false, err
		}
		switch v.Kind {
		case KindResult:
			if v.ResultOk {
				f.push(*v.ResultVal)
			} else {
				return Nil(), false, &RuntimeError{Kind: ErrPropagated, Message: "propagated error", Value: &v}
			}
		case KindOption:
			if v.OptionVal != nil {
				f.push(*v.OptionVal)
			} else {
				return Nil(), false, &RuntimeError{Kind: ErrPropagated, Message: "propagated None", Value: &v}
			}
		default:
			// `?` on a plain value passes it through.
			f.push(v)
		}

	case ir.OpBuildArray:
		n := argcOf(instr)
		vs, err := f.popN(n)
		if err != nil {
			return Nil(), false, err
		}
		f.push(ArrayVal(vs))

	case ir.OpBuildMap:
		n := argcOf(instr)
		vs, err := f.popN(n)
		if err != nil {
			return Nil(), false, err
		}
		entries := make([]MapEntry, 0, n/2)
		for i := 0; i+1 < n; i += 2 {
			entries = append(entries, MapEntry{Key: Display(vs[i]), Value: vs[i+1]})
		}
		f.push(MapVal(entries))

	case ir.OpBuildStruct:
		f.push(StructVal(instr.Type, map[string]Value{}))

	case ir.OpFieldGet:
		v, err := f.pop()
		if err != nil {
			return Nil(), false, err
		}
		out, gerr := fieldGet(v, instr.Field)
		if gerr != nil {
			return Nil(), false, gerr
		}
		f.push(out)

	case ir.OpFieldSet:
		vs, err := f.popN(2)
		if err != nil {
			return Nil(), false, err
		}
		obj, val := vs[0], vs[1]
		out, serr := fieldSet(obj, instr.Field, val)
		if serr != nil {
			return Nil(), false, serr
		}
		f.push(out)

	case ir.OpIndexGet:
		vs, err := f.popN(2)
		if err != nil {
			return Nil(), false, err
		}
		out, gerr := indexGet(vs[0], vs[1])
		if gerr != nil {
			return Nil(), false, gerr
		}
		f.push(out)

	case ir.OpIndexSet:
		vs, err := f.popN(3)
		if err != nil {
			return Nil(), false, err
		}
		out, serr := indexSet(vs[0], vs[1], vs[2])
		if serr != nil {
			return Nil(), false, serr
		}
		f.push(out)

	case ir.OpCheckType:
		v, err := f.pop()
		if err != nil {
			return Nil(), false, err
		}
		if cerr := checkType(v, instr.Type); cerr != nil {
			return Nil(), false, cerr
		}
		f.push(v)

	case ir.OpCast:
		v, err := f.pop()
		if err != nil {
			return Nil(), false, err
		}
		out, cerr := castValue(v, instr.Type)
		if cerr != nil {
			return Nil(), false, cerr
		}
		f.push(out)

	case ir.OpSpawnAsync:
		n := argcOf(instr)
		args, err := f.popN(n)
		if err != nil {
			return Nil(), false, err
		}
		f.push(ThunkVal(&Thunk{Function: instr.Target, Args: args}))

	case ir.OpAwait:
		v, err := f.pop()
		if err != nil {
			return Nil(), false, err
		}
		out, aerr := vm.force(v)
		if aerr != nil {
			return Nil(), false, aerr
		}
		f.push(out)

	case ir.OpAwaitAll:
		n := argcOf(instr)
		vs, err := f.popN(n)
		if err != nil {
			return Nil(), false, err
		}
		results := make([]Value, len(vs))
		for i, v := range vs {
			out, aerr := vm.force(v)
			if aerr != nil {
				return Nil(), false, aerr
			}
			results[i] = out
		}
		f.push(ArrayVal(results))

	case ir.OpListenBegin:
		return Nil(), false, vm.opListen(f, instr)

	case ir.OpMockModel:
		cfg, err := f.pop()
		if err != nil {
			return Nil(), false, err
		}
		vm.installMock(instr.Agent, cfg)

	default:
		return Nil(), false, newErr(ErrLoad, "unknown opcode %q in %s", instr.Op, f.Fn.Name)
	}
	return Nil(), false, nil
}

func argcOf(instr ir.Instruction) int {
	if instr.Argc == nil {
		return 0
	}
	return *instr.Argc
}

func (vm *VM) loadGlobal(name string) (Value, error) {
	if v, ok := vm.globals[name]; ok {
		return v, nil
	}
	// `None` reads as a value, not a zero-arg constructor.
	if name == "None" {
		return NoneVal(), nil
	}
	if _, ok := vm.mod.Functions[name]; ok {
		return FunctionVal(name, nil), nil
	}
	if _, ok := builtins[name]; ok {
		return FunctionVal(name, nil), nil
	}
	return Nil(), newErr(ErrName, "undefined name %q", name)
}

// force resolves a Thunk by invoking its function synchronously,
// memoizing the outcome; any other value awaits to itself.
func (vm *VM) force(v Value) (Value, error) {
	if v.Kind != KindThunk || v.Thunk == nil {
		return v, nil
	}
	t := v.Thunk
	if t.resolved {
		return t.result, t.err
	}
	result, err := vm.Call(t.Function, t.Args)
	t.resolved = true
	t.result, t.err = result, err
	return result, err
}

func (vm *VM) opCall(f *Frame, instr ir.Instruction) error {
	n := argcOf(instr)
	args, err := f.popN(n)
	if err != nil {
		return err
	}

	if instr.Target != "" {
		result, cerr := vm.Call(instr.Target, args)
		if cerr != nil {
			return asRuntimeError(cerr)
		}
		f.push(result)
		return nil
	}

	callee, err := f.pop()
	if err != nil {
		return err
	}
	result, cerr := vm.callValue(callee, args)
	if cerr != nil {
		return asRuntimeError(cerr)
	}
	f.push(result)
	return nil
}

// callValue invokes a first-class callee: a function/closure value or a
// deferred thunk.
func (vm *VM) callValue(callee Value, args []Value) (Value, error) {
	switch callee.Kind {
	case KindFunction:
		fn, ok := vm.mod.Functions[callee.FuncName]
		if !ok {
			if native, isNative := builtins[callee.FuncName]; isNative {
				return native(args)
			}
			return Nil(), newErr(ErrCall, "unknown function %q", callee.FuncName)
		}
		return vm.callFunction(fn, args, callee.CapturedEnv)
	case KindThunk:
		return vm.force(callee)
	default:
		return Nil(), newErr(ErrCall, "value of type %s is not callable", callee.Kind)
	}
}

func (vm *VM) opCallNative(f *Frame, instr ir.Instruction) error {
	n := argcOf(instr)
	args, err := f.popN(n)
	if err != nil {
		return err
	}

	// $make_closure snapshots the creating frame's locals into the
	// function value; it needs frame access no table-registered native
	// has, so it's dispatched here.
	if instr.Target == "$make_closure" {
		if len(args) != 1 || args[0].Kind != KindString {
			return newErr(ErrCall, "$make_closure expects a function name")
		}
		env := make(map[string]Value, len(f.locals))
		for k, v := range f.locals {
			env[k] = v
		}
		f.push(FunctionVal(args[0].Str, env))
		return nil
	}

	if strings.HasPrefix(instr.Target, "std::") {
		result, serr := callStd(instr.Target, args)
		if serr != nil {
			return asRuntimeError(serr)
		}
		f.push(result)
		return nil
	}

	native, ok := builtins[instr.Target]
	if !ok {
		return newErr(ErrCall, "unknown native function %q", instr.Target)
	}
	result, nerr := native(args)
	if nerr != nil {
		return asRuntimeError(nerr)
	}
	f.push(result)
	return nil
}

func (vm *VM) opHashMap(f *Frame, instr ir.Instruction) error {
	n := argcOf(instr)
	args, err := f.popN(n)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return newErr(ErrCall, "hashmap opcode without a map name")
	}
	name := Display(args[0])
	rest := args[1:]

	switch instr.Op {
	case ir.OpHashMapGet:
		if len(rest) != 1 {
			return newErr(ErrCall, "hashmap get expects one key")
		}
		v, ok := vm.HashMaps.Get(name, Display(rest[0]))
		if !ok {
			f.push(Nil())
		} else {
			f.push(v)
		}
	case ir.OpHashMapSet:
		if len(rest) != 2 {
			return newErr(ErrCall, "hashmap set expects a key and a value")
		}
		vm.HashMaps.Set(name, Display(rest[0]), rest[1])
		f.push(Nil())
	case ir.OpHashMapDelete:
		if len(rest) != 1 {
			return newErr(ErrCall, "hashmap delete expects one key")
		}
		vm.HashMaps.Delete(name, Display(rest[0]))
		f.push(Nil())
	case ir.OpHashMapHas:
		if len(rest) != 1 {
			return newErr(ErrCall, "hashmap has expects one key")
		}
		f.push(BoolVal(vm.HashMaps.Has(name, Display(rest[0]))))
	case ir.OpHashMapQuery:
		var predicate func(string, Value) bool
		if len(rest) == 1 && rest[0].Kind == KindFunction {
			fnVal := rest[0]
			predicate = func(key string, v Value) bool {
				out, perr := vm.callValue(fnVal, []Value{StringVal(key), v})
				return perr == nil && out.IsTruthy()
			}
		}
		entries := vm.HashMaps.Query(name, predicate)
		f.push(MapVal(entries))
	}
	return nil
}

func (vm *VM) installMock(agent string, cfg Value) {
	var responses []string
	switch cfg.Kind {
	case KindString:
		responses = []string{cfg.Str}
	case KindArray:
		for _, el := range cfg.Array {
			responses = append(responses, Display(el))
		}
	case KindMap:
		for _, e := range cfg.Map {
			switch e.Key {
			case "response":
				responses = append(responses, Display(e.Value))
			case "responses":
				for _, el := range e.Value.Array {
					responses = append(responses, Display(el))
				}
			}
		}
	}
	if len(responses) == 0 {
		responses = []string{""}
	}
	vm.mocks[agent] = responses
}

// nextMock pops the next queued mock response for agent; the final
// response repeats so a retry loop never runs dry mid-test.
func (vm *VM) nextMock(agent string) (string, bool) {
	queue, ok := vm.mocks[agent]
	if !ok || len(queue) == 0 {
		return "", false
	}
	resp := queue[0]
	if len(queue) > 1 {
		vm.mocks[agent] = queue[1:]
	}
	return resp, true
}

func asRuntimeError(err error) *RuntimeError {
	if err == nil {
		return nil
	}
	if re, ok := err.(*RuntimeError); ok {
		return re
	}
	return wrapErr(ErrCall, err, "call failed")
}

func arithmetic(op ir.Opcode, a, b Value) (Value, error) {
	if op == ir.OpAdd && a.Kind == KindString && b.Kind == KindString {
		return StringVal(a.Str + b.Str), nil
	}
	// String interpolation concatenates mixed operands via ADD.
	if op == ir.OpAdd && (a.Kind == KindString || b.Kind == KindString) {
		return StringVal(Display(a) + Display(b)), nil
	}
	if op == ir.OpAdd && a.Kind == KindArray && b.Kind == KindArray {
		return ArrayVal(append(append([]Value{}, a.Array...), b.Array...)), nil
	}

	if a.Kind == KindInt && b.Kind == KindInt {
		switch op {
		case ir.OpAdd:
			return IntVal(a.Int + b.Int), nil
		case ir.OpSub:
			return IntVal(a.Int - b.Int), nil
		case ir.OpMul:
			return IntVal(a.Int * b.Int), nil
		case ir.OpDiv:
			if b.Int == 0 {
				return Nil(), newErr(ErrDivisionByZero, "division by zero")
			}
			return IntVal(a.Int / b.Int), nil
		case ir.OpMod:
			if b.Int == 0 {
				return Nil(), newErr(ErrDivisionByZero, "modulo by zero")
			}
			return IntVal(a.Int % b.Int), nil
		}
	}

	af, aok := numericAsFloat(a)
	bf, bok := numericAsFloat(b)
	if !aok || !bok {
		return Nil(), newErr(ErrType, "arithmetic requires numeric operands, got %s and %s", a.Kind, b.Kind)
	}
	switch op {
	case ir.OpAdd:
		return FloatVal(af + bf), nil
	case ir.OpSub:
		return FloatVal(af - bf), nil
	case ir.OpMul:
		return FloatVal(af * bf), nil
	case ir.OpDiv:
		if bf == 0 {
			return Nil(), newErr(ErrDivisionByZero, "division by zero")
		}
		return FloatVal(af / bf), nil
	case ir.OpMod:
		if bf == 0 {
			return Nil(), newErr(ErrDivisionByZero, "modulo by zero")
		}
		return FloatVal(float64(int64(af) % int64(bf))), nil
	}
	return Nil(), newErr(ErrType, "unsupported arithmetic op %s", op)
}

func numericAsFloat(v Value) (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	}
	return 0, false
}

func compare(op ir.Opcode, a, b Value) (Value, error) {
	if a.Kind == KindString && b.Kind == KindString {
		var r bool
		switch op {
		case ir.OpLt:
			r = a.Str < b.Str
		case ir.OpGt:
			r = a.Str > b.Str
		case ir.OpLte:
			r = a.Str <= b.Str
		case ir.OpGte:
			r = a.Str >= b.Str
		}
		return BoolVal(r), nil
	}
	af, aok := numericAsFloat(a)
	bf, bok := numericAsFloat(b)
	if !aok || !bok {
		return Nil(), newErr(ErrType, "cannot compare %s with %s", a.Kind, b.Kind)
	}
	var r bool
	switch op {
	case ir.OpLt:
		r = af < bf
	case ir.OpGt:
		r = af > bf
	case ir.OpLte:
		r = af <= bf
	case ir.OpGte:
		r = af >= bf
	}
	return BoolVal(r), nil
}

func fieldGet(v Value, field string) (Value, error) {
	switch v.Kind {
	case KindStruct:
		fv, ok := v.StructFields[field]
		if !ok {
			return Nil(), newErr(ErrField, "%s has no field %q", v.StructType, field)
		}
		return fv, nil
	case KindMap:
		for _, e := range v.Map {
			if e.Key == field {
				return e.Value, nil
			}
		}
		return Nil(), nil
	default:
		return Nil(), newErr(ErrField, "cannot access field %q on %s", field, v.Kind)
	}
}

func fieldSet(obj Value, field string, val Value) (Value, error) {
	switch obj.Kind {
	case KindStruct:
		obj.StructFields[field] = val
		return obj, nil
	case KindMap:
		for i, e := range obj.Map {
			if e.Key == field {
				obj.Map[i].Value = val
				return obj, nil
			}
		}
		obj.Map = append(obj.Map, MapEntry{Key: field, Value: val})
		return obj, nil
	default:
		return Nil(), newErr(ErrField, "cannot set field %q on %s", field, obj.Kind)
	}
}

func indexGet(recv, idx Value) (Value, error) {
	switch recv.Kind {
	case KindArray:
		if idx.Kind != KindInt {
			return Nil(), newErr(ErrIndex, "array index must be an Int, got %s", idx.Kind)
		}
		i := idx.Int
		if i < 0 || i >= int64(len(recv.Array)) {
			return Nil(), newErr(ErrIndex, "index %d out of bounds (len %d)", i, len(recv.Array))
		}
		return recv.Array[i], nil
	case KindMap:
		key := Display(idx)
		for _, e := range recv.Map {
			if e.Key == key {
				return e.Value, nil
			}
		}
		return Nil(), nil
	case KindString:
		if idx.Kind != KindInt {
			return Nil(), newErr(ErrIndex, "string index must be an Int, got %s", idx.Kind)
		}
		runes := []rune(recv.Str)
		if idx.Int < 0 || idx.Int >= int64(len(runes)) {
			return Nil(), newErr(ErrIndex, "index %d out of bounds (len %d)", idx.Int, len(runes))
		}
		return StringVal(string(runes[idx.Int])), nil
	default:
		return Nil(), newErr(ErrIndex, "cannot index %s", recv.Kind)
	}
}

func indexSet(recv, idx, val Value) (Value, error) {
	switch recv.Kind {
	case KindArray:
		if idx.Kind != KindInt {
			return Nil(), newErr(ErrIndex, "array index must be an Int, got %s", idx.Kind)
		}
		i := idx.Int
		if i < 0 || i >= int64(len(recv.Array)) {
			return Nil(), newErr(ErrIndex, "index %d out of bounds (len %d)", i, len(recv.Array))
		}
		recv.Array[i] = val
		return recv, nil
	case KindMap:
		key := Display(idx)
		for i, e := range recv.Map {
			if e.Key == key {
				recv.Map[i].Value = val
				return recv, nil
			}
		}
		recv.Map = append(recv.Map, MapEntry{Key: key, Value: val})
		return recv, nil
	default:
		return Nil(), newErr(ErrIndex, "cannot index-assign %s", recv.Kind)
	}
}

// checkType enforces a runtime type assertion from a CHECK_TYPE
// instruction. Unknown named types check against the struct's type name;
// generic annotations check only the outer shape.
func checkType(v Value, typeName string) error {
	if typeName == "" || typeName == "Any" {
		return nil
	}
	base := typeName
	if i := strings.IndexByte(base, '<'); i >= 0 {
		base = base[:i]
	}
	ok := false
	switch base {
	case "Int":
		ok = v.Kind == KindInt
	case "Float":
		ok = v.Kind == KindFloat || v.Kind == KindInt
	case "String", "Prompt", "Response":
		ok = v.Kind == KindString
	case "Bool":
		ok = v.Kind == KindBool
	case "Nil":
		ok = v.Kind == KindNil
	case "Array":
		ok = v.Kind == KindArray
	case "Map", "Message", "ToolCall":
		ok = v.Kind == KindMap || v.Kind == KindStruct
	case "Option":
		ok = v.Kind == KindOption || v.Kind == KindNil
	case "Result":
		ok = v.Kind == KindResult
	default:
		ok = v.Kind == KindStruct && v.StructType == base
		// A string-literal union annotation renders as `"a"|"b"`.
		if strings.HasPrefix(base, `"`) {
			ok = v.Kind == KindString
		}
	}
	if !ok {
		return newErr(ErrType, "expected %s, got %s", typeName, v.Kind)
	}
	return nil
}

func castValue(v Value, typeName string) (Value, error) {
	base := typeName
	if i := strings.IndexByte(base, '<'); i >= 0 {
		base = base[:i]
	}
	switch base {
	case "Int":
		switch v.Kind {
		case KindInt:
			return v, nil
		case KindFloat:
			return IntVal(int64(v.Float)), nil
		case KindString:
			var i int64
			if _, err := fmt.Sscanf(strings.TrimSpace(v.Str), "%d", &i); err != nil {
				return Nil(), newErr(ErrType, "cannot cast %q to Int", v.Str)
			}
			return IntVal(i), nil
		case KindBool:
			if v.Bool {
				return IntVal(1), nil
			}
			return IntVal(0), nil
		}
	case "Float":
		switch v.Kind {
		case KindFloat:
			return v, nil
		case KindInt:
			return FloatVal(float64(v.Int)), nil
		case KindString:
			var fl float64
			if _, err := fmt.Sscanf(strings.TrimSpace(v.Str), "%g", &fl); err != nil {
				return Nil(), newErr(ErrType, "cannot cast %q to Float", v.Str)
			}
			return FloatVal(fl), nil
		}
	case "String":
		return StringVal(Display(v)), nil
	case "Bool":
		return BoolVal(v.IsTruthy()), nil
	case "Any", "":
		return v, nil
	}
	return Nil(), newErr(ErrType, "cannot cast %s to %s", v.Kind, typeName)
}
