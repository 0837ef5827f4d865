package runtime

import (
	"math"
	"os"
	"strings"
	"time"
)

// stdRegistry backs `std::<module>::<fn>` paths: a flat dispatch table
// of host-implemented leaf functions, keyed by the full path.
var stdRegistry = map[string]NativeFunc{
	"std::math::abs":   stdMathAbs,
	"std::math::min":   stdMathMin,
	"std::math::max":   stdMathMax,
	"std::math::floor": stdMathFloor,
	"std::math::ceil":  stdMathCeil,
	"std::math::round": stdMathRound,
	"std::math::sqrt":  stdMathSqrt,
	"std::math::pow":   stdMathPow,

	"std::string::upper":    func(a []Value) (Value, error) { return stringMethod(arg(a, 0), "upper", nil) },
	"std::string::lower":    func(a []Value) (Value, error) { return stringMethod(arg(a, 0), "lower", nil) },
	"std::string::trim":     func(a []Value) (Value, error) { return stringMethod(arg(a, 0), "trim", nil) },
	"std::string::split":    func(a []Value) (Value, error) { return stringMethod(arg(a, 0), "split", rest(a)) },
	"std::string::contains": func(a []Value) (Value, error) { return stringMethod(arg(a, 0), "contains", rest(a)) },
	"std::string::replace":  func(a []Value) (Value, error) { return stringMethod(arg(a, 0), "replace", rest(a)) },
	"std::string::join":     stdStringJoin,

	"std::json::parse":     stdJSONParse,
	"std::json::stringify": stdJSONStringify,

	"std::time::now_ms": stdTimeNowMs,
	"std::time::sleep":  stdTimeSleep,

	"std::fs::read_to_string": stdFsReadToString,
	"std::fs::write":          stdFsWrite,
	"std::fs::exists":         stdFsExists,
}

func rest(a []Value) []Value {
	if len(a) <= 1 {
		return nil
	}
	return a[1:]
}

func callStd(path string, args []Value) (Value, error) {
	fn, ok := stdRegistry[path]
	if !ok {
		return Nil(), newErr(ErrCall, "unknown std function %q", path)
	}
	return fn(args)
}

func stdMathAbs(a []Value) (Value, error) {
	v := arg(a, 0)
	switch v.Kind {
	case KindInt:
		if v.Int < 0 {
			return IntVal(-v.Int), nil
		}
		return v, nil
	case KindFloat:
		return FloatVal(math.Abs(v.Float)), nil
	}
	return Nil(), newErr(ErrType, "abs expects a number")
}

func stdMathMin(a []Value) (Value, error) { return minMax(a, true) }
func stdMathMax(a []Value) (Value, error) { return minMax(a, false) }

func minMax(a []Value, min bool) (Value, error) {
	if len(a) != 2 {
		return Nil(), newErr(ErrCall, "expects two numbers")
	}
	x, xok := numericAsFloat(a[0])
	y, yok := numericAsFloat(a[1])
	if !xok || !yok {
		return Nil(), newErr(ErrType, "expects two numbers")
	}
	pickFirst := x < y
	if !min {
		pickFirst = x > y
	}
	if pickFirst {
		return a[0], nil
	}
	return a[1], nil
}

func stdMathFloor(a []Value) (Value, error) { return roundWith(a, math.Floor) }
func stdMathCeil(a []Value) (Value, error)  { return roundWith(a, math.Ceil) }
func stdMathRound(a []Value) (Value, error) { return roundWith(a, math.Round) }

func roundWith(a []Value, f func(float64) float64) (Value, error) {
	v, ok := numericAsFloat(arg(a, 0))
	if !ok {
		return Nil(), newErr(ErrType, "expects a number")
	}
	return IntVal(int64(f(v))), nil
}

func stdMathSqrt(a []Value) (Value, error) {
	v, ok := numericAsFloat(arg(a, 0))
	if !ok || v < 0 {
		return Nil(), newErr(ErrType, "sqrt expects a non-negative number")
	}
	return FloatVal(math.Sqrt(v)), nil
}

func stdMathPow(a []Value) (Value, error) {
	if len(a) != 2 {
		return Nil(), newErr(ErrCall, "pow expects (base, exp)")
	}
	x, xok := numericAsFloat(a[0])
	y, yok := numericAsFloat(a[1])
	if !xok || !yok {
		return Nil(), newErr(ErrType, "pow expects numbers")
	}
	return FloatVal(math.Pow(x, y)), nil
}

func stdStringJoin(a []Value) (Value, error) {
	if len(a) != 2 || a[0].Kind != KindArray {
		return Nil(), newErr(ErrCall, "join expects (array, separator)")
	}
	parts := make([]string, len(a[0].Array))
	for i, el := range a[0].Array {
		parts[i] = Display(el)
	}
	return StringVal(strings.Join(parts, Display(a[1]))), nil
}

func stdJSONParse(a []Value) (Value, error) {
	if len(a) != 1 || a[0].Kind != KindString {
		return Nil(), newErr(ErrCall, "json parse expects a string")
	}
	v, err := DecodeJSON(a[0].Str)
	if err != nil {
		return ErrVal(StringVal(err.Error())), nil
	}
	return OkVal(v), nil
}

func stdJSONStringify(a []Value) (Value, error) {
	if len(a) != 1 {
		return Nil(), newErr(ErrCall, "json stringify expects one value")
	}
	text, err := EncodeJSON(a[0])
	if err != nil {
		return Nil(), err
	}
	return StringVal(text), nil
}

func stdTimeNowMs(a []Value) (Value, error) {
	return IntVal(time.Now().UnixMilli()), nil
}

func stdTimeSleep(a []Value) (Value, error) {
	ms, ok := numericAsFloat(arg(a, 0))
	if !ok {
		return Nil(), newErr(ErrType, "sleep expects milliseconds")
	}
	sleepFor(time.Duration(ms) * time.Millisecond)
	return Nil(), nil
}

func stdFsReadToString(a []Value) (Value, error) {
	if len(a) != 1 || a[0].Kind != KindString {
		return Nil(), newErr(ErrCall, "read_to_string expects a path")
	}
	data, err := os.ReadFile(a[0].Str)
	if err != nil {
		return ErrVal(StringVal(err.Error())), nil
	}
	return OkVal(StringVal(string(data))), nil
}

func stdFsWrite(a []Value) (Value, error) {
	if len(a) != 2 || a[0].Kind != KindString {
		return Nil(), newErr(ErrCall, "write expects (path, content)")
	}
	if err := os.WriteFile(a[0].Str, []byte(Display(a[1])), 0644); err != nil {
		return ErrVal(StringVal(err.Error())), nil
	}
	return OkVal(Nil()), nil
}

func stdFsExists(a []Value) (Value, error) {
	if len(a) != 1 || a[0].Kind != KindString {
		return Nil(), newErr(ErrCall, "exists expects a path")
	}
	_, err := os.Stat(a[0].Str)
	return BoolVal(err == nil), nil
}
