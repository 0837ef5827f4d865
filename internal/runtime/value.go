// Package runtime implements the Concerto VM: the stack machine that
// executes a compiled ir.Module, plus the supporting stores (memory,
// ledger, hashmaps, tool registry, connections) it closes over.
package runtime

// Kind is the closed set of runtime value variants.
type Kind int

const (
	KindNil Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindArray
	KindMap
	KindStruct
	KindResult
	KindOption
	KindFunction
	KindAgentRef
	KindHostRef
	KindToolRef
	KindSchemaRef
	KindHashMapRef
	KindLedgerRef
	KindPipelineRef
	KindMemoryRef
	KindThunk
	KindAgentBuilder
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "Nil"
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindString:
		return "String"
	case KindBool:
		return "Bool"
	case KindArray:
		return "Array"
	case KindMap:
		return "Map"
	case KindStruct:
		return "Struct"
	case KindResult:
		return "Result"
	case KindOption:
		return "Option"
	case KindFunction:
		return "Function"
	case KindAgentRef:
		return "Agent"
	case KindHostRef:
		return "Host"
	case KindToolRef:
		return "Tool"
	case KindSchemaRef:
		return "Schema"
	case KindHashMapRef:
		return "HashMap"
	case KindLedgerRef:
		return "Ledger"
	case KindPipelineRef:
		return "Pipeline"
	case KindMemoryRef:
		return "Memory"
	case KindThunk:
		return "Thunk"
	case KindAgentBuilder:
		return "AgentBuilder"
	default:
		return "Unknown"
	}
}

// MapEntry is one ordered key/value pair of a Map value. Concerto map
// keys are always strings at runtime (HASHMAP_* keys are stringified).
type MapEntry struct {
	Key   string
	Value Value
}

// AgentBuilder is the transient configuration value produced by chaining
// `.with_memory()`/`.with_tools()` onto an agent or host reference before
// a call, grounded on the original implementation's `value.rs`.
type AgentBuilder struct {
	Source              string // agent/host name being configured
	SourceKind          string // "Agent" | "Host"
	Memory              string
	MemoryAutoAppend    bool
	ExtraTools          []string
	ExcludedTools       []string
	ExtraContext        *Value
}

// Thunk is a lazy, not-yet-run async call created by SPAWN_ASYNC. AWAIT
// executes it synchronously the first time it's forced and memoizes the
// result, matching the cooperative (non-preemptive) concurrency model.
type Thunk struct {
	Function string
	Args     []Value
	resolved bool
	result   Value
	err      error
}

// Value is a single tagged-union runtime value. A struct-with-discriminant
// representation (rather than one Go type per variant) keeps the VM's
// stack and opcode dispatch simple, at the cost of a larger zero value;
// that trade fits a small closed variant set like this one.
type Value struct {
	Kind Kind

	Int    int64
	Float  float64
	Str    string
	Bool   bool
	Array  []Value
	Map    []MapEntry

	StructType   string
	StructFields map[string]Value

	ResultOk  bool
	ResultVal *Value

	OptionVal *Value // nil means None

	FuncName    string
	CapturedEnv map[string]Value

	RefName string // Agent/Host/Tool/HashMap/Ledger/Pipeline/Memory reference name

	Thunk *Thunk

	Builder *AgentBuilder
}

func Nil() Value                  { return Value{Kind: KindNil} }
func IntVal(i int64) Value        { return Value{Kind: KindInt, Int: i} }
func FloatVal(f float64) Value    { return Value{Kind: KindFloat, Float: f} }
func StringVal(s string) Value    { return Value{Kind: KindString, Str: s} }
func BoolVal(b bool) Value        { return Value{Kind: KindBool, Bool: b} }
func ArrayVal(vs []Value) Value   { return Value{Kind: KindArray, Array: vs} }
func MapVal(entries []MapEntry) Value { return Value{Kind: KindMap, Map: entries} }

func StructVal(typeName string, fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{Kind: KindStruct, StructType: typeName, StructFields: fields}
}

func OkVal(v Value) Value  { vv := v; return Value{Kind: KindResult, ResultOk: true, ResultVal: &vv} }
func ErrVal(v Value) Value { vv := v; return Value{Kind: KindResult, ResultOk: false, ResultVal: &vv} }

func SomeVal(v Value) Value { vv := v; return Value{Kind: KindOption, OptionVal: &vv} }
func NoneVal() Value        { return Value{Kind: KindOption} }

func FunctionVal(name string, env map[string]Value) Value {
	return Value{Kind: KindFunction, FuncName: name, CapturedEnv: env}
}

func RefVal(kind Kind, name string) Value { return Value{Kind: kind, RefName: name} }

func ThunkVal(t *Thunk) Value { return Value{Kind: KindThunk, Thunk: t} }

// IsTruthy implements Concerto's truthiness rule: Bool uses its own
// value, Nil and an empty/None/Err default are false, everything else
// (including zero numbers and empty strings) is true.
func (v Value) IsTruthy() bool {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNil:
		return false
	case KindOption:
		return v.OptionVal != nil
	case KindResult:
		return v.ResultOk
	default:
		return true
	}
}

// IsPresent reports whether v is a "has a value" Option/Result/non-nil,
// the predicate behind the `??` nil-coalesce operator.
func (v Value) IsPresent() bool {
	switch v.Kind {
	case KindNil:
		return false
	case KindOption:
		return v.OptionVal != nil
	default:
		return true
	}
}

// Clone returns a deep copy so mutation through FIELD_SET/INDEX_SET never
// aliases a value still referenced elsewhere on the stack or in a local.
func (v Value) Clone() Value {
	out := v
	if v.Array != nil {
		out.Array = make([]Value, len(v.Array))
		for i, e := range v.Array {
			out.Array[i] = e.Clone()
		}
	}
	if v.Map != nil {
		out.Map = make([]MapEntry, len(v.Map))
		for i, e := range v.Map {
			out.Map[i] = MapEntry{Key: e.Key, Value: e.Value.Clone()}
		}
	}
	if v.StructFields != nil {
		out.StructFields = make(map[string]Value, len(v.StructFields))
		for k, fv := range v.StructFields {
			out.StructFields[k] = fv.Clone()
		}
	}
	if v.ResultVal != nil {
		cloned := v.ResultVal.Clone()
		out.ResultVal = &cloned
	}
	if v.OptionVal != nil {
		cloned := v.OptionVal.Clone()
		out.OptionVal = &cloned
	}
	if v.CapturedEnv != nil {
		out.CapturedEnv = make(map[string]Value, len(v.CapturedEnv))
		for k, ev := range v.CapturedEnv {
			out.CapturedEnv[k] = ev
		}
	}
	return out
}

// Equal implements the EQ/NEQ opcode comparison: structural equality by
// kind and contents.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		// Int/Float compare numerically across kinds, matching common
		// DSL ergonomics (`1 == 1.0`).
		if v.Kind == KindInt && o.Kind == KindFloat {
			return float64(v.Int) == o.Float
		}
		if v.Kind == KindFloat && o.Kind == KindInt {
			return v.Float == float64(o.Int)
		}
		return false
	}
	switch v.Kind {
	case KindNil:
		return true
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float
	case KindString:
		return v.Str == o.Str
	case KindBool:
		return v.Bool == o.Bool
	case KindArray:
		if len(v.Array) != len(o.Array) {
			return false
		}
		for i := range v.Array {
			if !v.Array[i].Equal(o.Array[i]) {
				return false
			}
		}
		return true
	case KindStruct:
		if v.StructType != o.StructType || len(v.StructFields) != len(o.StructFields) {
			return false
		}
		for k, fv := range v.StructFields {
			ov, ok := o.StructFields[k]
			if !ok || !fv.Equal(ov) {
				return false
			}
		}
		return true
	case KindOption:
		if (v.OptionVal == nil) != (o.OptionVal == nil) {
			return false
		}
		if v.OptionVal == nil {
			return true
		}
		return v.OptionVal.Equal(*o.OptionVal)
	case KindResult:
		return v.ResultOk == o.ResultOk && v.ResultVal.Equal(*o.ResultVal)
	case KindAgentRef, KindHostRef, KindToolRef, KindSchemaRef, KindHashMapRef, KindLedgerRef, KindPipelineRef, KindMemoryRef:
		return v.RefName == o.RefName
	case KindFunction:
		return v.FuncName == o.FuncName
	default:
		return false
	}
}
