package runtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSON parses raw JSON into a Value, preserving object key order.
// encoding/json's map decoding would shuffle keys, so objects are walked
// token-by-token into the ordered MapEntry representation instead.
func DecodeJSON(raw string) (Value, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	v, err := decodeJSONValue(dec)
	if err != nil {
		return Nil(), wrapErr(ErrJSON, err, "decode json")
	}
	return v, nil
}

func decodeJSONValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Nil(), err
	}
	return decodeJSONToken(dec, tok)
}

func decodeJSONToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			var entries []MapEntry
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Nil(), err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Nil(), fmt.Errorf("object key is not a string")
				}
				val, err := decodeJSONValue(dec)
				if err != nil {
					return Nil(), err
				}
				entries = append(entries, MapEntry{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil { // closing '}'
				return Nil(), err
			}
			return MapVal(entries), nil
		case '[':
			var elems []Value
			for dec.More() {
				el, err := decodeJSONValue(dec)
				if err != nil {
					return Nil(), err
				}
				elems = append(elems, el)
			}
			if _, err := dec.Token(); err != nil { // closing ']'
				return Nil(), err
			}
			return ArrayVal(elems), nil
		}
		return Nil(), fmt.Errorf("unexpected delimiter %v", t)
	case string:
		return StringVal(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil && !strings.ContainsAny(t.String(), ".eE") {
			return IntVal(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Nil(), err
		}
		return FloatVal(f), nil
	case bool:
		return BoolVal(t), nil
	case nil:
		return Nil(), nil
	default:
		return Nil(), fmt.Errorf("unexpected json token %v", tok)
	}
}

// EncodeJSON renders v as compact JSON, emitting Map entries in their
// stored order so decode/encode round-trips are byte-stable.
func EncodeJSON(v Value) (string, error) {
	var buf bytes.Buffer
	if err := encodeJSONValue(&buf, v); err != nil {
		return "", wrapErr(ErrJSON, err, "encode json")
	}
	return buf.String(), nil
}

func encodeJSONValue(buf *bytes.Buffer, v Value) error {
	switch v.Kind {
	case KindNil:
		buf.WriteString("null")
	case KindInt:
		fmt.Fprintf(buf, "%d", v.Int)
	case KindFloat:
		data, err := json.Marshal(v.Float)
		if err != nil {
			return err
		}
		buf.Write(data)
	case KindString:
		data, err := json.Marshal(v.Str)
		if err != nil {
			return err
		}
		buf.Write(data)
	case KindBool:
		fmt.Fprintf(buf, "%t", v.Bool)
	case KindArray:
		buf.WriteByte('[')
		for i, el := range v.Array {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeJSONValue(buf, el); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		buf.WriteByte('{')
		for i, e := range v.Map {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(e.Key)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := encodeJSONValue(buf, e.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case KindStruct:
		buf.WriteByte('{')
		i := 0
		for k, fv := range v.StructFields {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := encodeJSONValue(buf, fv); err != nil {
				return err
			}
			i++
		}
		buf.WriteByte('}')
	case KindOption:
		if v.OptionVal == nil {
			buf.WriteString("null")
			return nil
		}
		return encodeJSONValue(buf, *v.OptionVal)
	case KindResult:
		return encodeJSONValue(buf, *v.ResultVal)
	default:
		data, err := json.Marshal(Display(v))
		if err != nil {
			return err
		}
		buf.Write(data)
	}
	return nil
}

// ValueToAny converts v to the any-typed shape encoding/json produces,
// for callers (schema validation, tool arguments) that speak plain maps.
func ValueToAny(v Value) any {
	switch v.Kind {
	case KindNil:
		return nil
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindString:
		return v.Str
	case KindBool:
		return v.Bool
	case KindArray:
		out := make([]any, len(v.Array))
		for i, el := range v.Array {
			out[i] = ValueToAny(el)
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.Map))
		for _, e := range v.Map {
			out[e.Key] = ValueToAny(e.Value)
		}
		return out
	case KindStruct:
		out := make(map[string]any, len(v.StructFields))
		for k, fv := range v.StructFields {
			out[k] = ValueToAny(fv)
		}
		return out
	case KindOption:
		if v.OptionVal == nil {
			return nil
		}
		return ValueToAny(*v.OptionVal)
	case KindResult:
		return ValueToAny(*v.ResultVal)
	default:
		return Display(v)
	}
}

// FromAny converts a decoded-JSON style any into a Value. Object key
// order follows Go's map iteration and is therefore unspecified; use
// DecodeJSON when ordering matters.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Nil()
	case bool:
		return BoolVal(t)
	case string:
		return StringVal(t)
	case int:
		return IntVal(int64(t))
	case int64:
		return IntVal(t)
	case float64:
		if t == float64(int64(t)) {
			return IntVal(int64(t))
		}
		return FloatVal(t)
	case []any:
		elems := make([]Value, len(t))
		for i, el := range t {
			elems[i] = FromAny(el)
		}
		return ArrayVal(elems)
	case map[string]any:
		entries := make([]MapEntry, 0, len(t))
		for k, mv := range t {
			entries = append(entries, MapEntry{Key: k, Value: FromAny(mv)})
		}
		return MapVal(entries)
	default:
		return StringVal(fmt.Sprintf("%v", t))
	}
}
