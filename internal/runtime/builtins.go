package runtime

import (
	"fmt"
	"os"
)

// NativeFunc is one CALL_NATIVE target: a Go function taking the call's
// argument values and returning a result or a runtime error.
type NativeFunc func(args []Value) (Value, error)

// builtins is the closed table backing CALL_NATIVE, covering both the
// user-visible surface forms (`Ok`, `Err`, `Some`, `env`, `print`,
// `println`, `len`, `typeof`, `panic`) from the original implementation's
// builtin table, and the `$`-prefixed internal helpers codegen emits for
// forms the grammar doesn't give a dedicated AST node (range literals,
// nil-coalesce presence checks, bare enum-variant construction). A `$`
// cannot start a source identifier, so the internal names are never
// reachable from user code.
var builtins = map[string]NativeFunc{
	"Ok":      func(a []Value) (Value, error) { return OkVal(arg(a, 0)), nil },
	"Err":     func(a []Value) (Value, error) { return ErrVal(arg(a, 0)), nil },
	"Some":    func(a []Value) (Value, error) { return SomeVal(arg(a, 0)), nil },
	"None":    func(a []Value) (Value, error) { return NoneVal(), nil },
	"env":     builtinEnv,
	"print":   builtinPrint,
	"println": builtinPrintln,
	"len":     builtinLen,
	"typeof":  builtinTypeof,
	"panic":   builtinPanic,

	"$len":          builtinLen,
	"$range":        builtinRange,
	"$is_present":   builtinIsPresent,
	"$enum_variant": builtinEnumVariant,
	"$tool_error_new": builtinToolErrorNew,
}

func arg(a []Value, i int) Value {
	if i < len(a) {
		return a[i]
	}
	return Nil()
}

func builtinEnv(a []Value) (Value, error) {
	if len(a) != 1 || a[0].Kind != KindString {
		return Nil(), newErr(ErrType, "env(name) expects one String argument")
	}
	v, ok := os.LookupEnv(a[0].Str)
	if !ok {
		return NoneVal(), nil
	}
	return SomeVal(StringVal(v)), nil
}

func builtinPrint(a []Value) (Value, error) {
	fmt.Print(renderValues(a)...)
	return Nil(), nil
}

func builtinPrintln(a []Value) (Value, error) {
	fmt.Println(renderValues(a)...)
	return Nil(), nil
}

func renderValues(a []Value) []any {
	out := make([]any, len(a))
	for i, v := range a {
		out[i] = Display(v)
	}
	return out
}

func builtinLen(a []Value) (Value, error) {
	if len(a) != 1 {
		return Nil(), newErr(ErrCall, "len() expects exactly one argument")
	}
	switch a[0].Kind {
	case KindArray:
		return IntVal(int64(len(a[0].Array))), nil
	case KindMap:
		return IntVal(int64(len(a[0].Map))), nil
	case KindString:
		return IntVal(int64(len([]rune(a[0].Str)))), nil
	default:
		return Nil(), newErr(ErrType, "len() not supported for %s", a[0].Kind)
	}
}

func builtinTypeof(a []Value) (Value, error) {
	if len(a) != 1 {
		return Nil(), newErr(ErrCall, "typeof() expects exactly one argument")
	}
	if a[0].Kind == KindStruct {
		return StringVal(a[0].StructType), nil
	}
	return StringVal(a[0].Kind.String()), nil
}

func builtinPanic(a []Value) (Value, error) {
	msg := "panic"
	if len(a) > 0 {
		msg = Display(a[0])
	}
	v := StringVal(msg)
	return Nil(), throwErr(ErrUnhandledThrow, v)
}

func builtinRange(a []Value) (Value, error) {
	if len(a) != 3 {
		return Nil(), newErr(ErrCall, "range expects (start, end, inclusive)")
	}
	start, end, inclusive := a[0], a[1], a[2]
	if start.Kind != KindInt || end.Kind != KindInt {
		return Nil(), newErr(ErrType, "range bounds must be Int")
	}
	hi := end.Int
	if inclusive.IsTruthy() {
		hi++
	}
	var out []Value
	for i := start.Int; i < hi; i++ {
		out = append(out, IntVal(i))
	}
	return ArrayVal(out), nil
}

func builtinIsPresent(a []Value) (Value, error) {
	if len(a) != 1 {
		return BoolVal(false), nil
	}
	return BoolVal(a[0].IsPresent()), nil
}

func builtinEnumVariant(a []Value) (Value, error) {
	if len(a) != 2 || a[0].Kind != KindString || a[1].Kind != KindString {
		return Nil(), newErr(ErrType, "enum variant construction expects (TypeName, Variant)")
	}
	return StructVal(a[0].Str, map[string]Value{"$variant": StringVal(a[1].Str)}), nil
}

func builtinToolErrorNew(a []Value) (Value, error) {
	msg := ""
	if len(a) > 0 {
		msg = Display(a[0])
	}
	return ErrVal(StructVal("ToolError", map[string]Value{"message": StringVal(msg)})), nil
}

// Display renders v the way `print`/`println`/string interpolation does:
// plain text for scalars, a compact literal form for compounds.
func Display(v Value) string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindString:
		return v.Str
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindArray:
		s := "["
		for i, e := range v.Array {
			if i > 0 {
				s += ", "
			}
			s += Display(e)
		}
		return s + "]"
	case KindMap:
		s := "{"
		for i, e := range v.Map {
			if i > 0 {
				s += ", "
			}
			s += e.Key + ": " + Display(e.Value)
		}
		return s + "}"
	case KindStruct:
		s := v.StructType + "{"
		i := 0
		for k, fv := range v.StructFields {
			if i > 0 {
				s += ", "
			}
			s += k + ": " + Display(fv)
			i++
		}
		return s + "}"
	case KindOption:
		if v.OptionVal == nil {
			return "None"
		}
		return "Some(" + Display(*v.OptionVal) + ")"
	case KindResult:
		if v.ResultOk {
			return "Ok(" + Display(*v.ResultVal) + ")"
		}
		return "Err(" + Display(*v.ResultVal) + ")"
	default:
		return fmt.Sprintf("<%s>", v.Kind)
	}
}
