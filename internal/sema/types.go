package sema

import (
	"strings"

	"github.com/concerto-lang/concerto/internal/ast"
)

// TypeKind is the closed set of internal type variants the analyser
// reasons about. Unknown propagates silently when inference gives up;
// Any and Error are universal coercions that suppress cascading
// diagnostics.
type TypeKind int

const (
	TypeUnknown TypeKind = iota
	TypeAny
	TypeError
	TypeNil
	TypeInt
	TypeFloat
	TypeString
	TypeBool
	TypeArray
	TypeMap
	TypeTuple
	TypeOption
	TypeResult
	TypeFunction
	TypeNamed

	// Domain reference types for the orchestration surface.
	TypePrompt
	TypeResponse
	TypeMessage
	TypeToolCall
	TypeAgentRef
	TypeLedgerRef
)

// Type is one inferred or annotated type. Like the runtime's Value, a
// struct-with-discriminant keeps exhaustive switching cheap for a small
// closed variant set.
type Type struct {
	Kind   TypeKind
	Name   string // TypeNamed
	Elem   []Type // Array elem, Map key/value, Tuple elems, Option/Result params, Function params
	Return *Type  // TypeFunction
}

func unknown() Type   { return Type{Kind: TypeUnknown} }
func anyType() Type   { return Type{Kind: TypeAny} }
func errType() Type   { return Type{Kind: TypeError} }
func intType() Type   { return Type{Kind: TypeInt} }
func floatType() Type { return Type{Kind: TypeFloat} }
func strType() Type   { return Type{Kind: TypeString} }
func boolType() Type  { return Type{Kind: TypeBool} }
func nilType() Type   { return Type{Kind: TypeNil} }

func arrayOf(elem Type) Type  { return Type{Kind: TypeArray, Elem: []Type{elem}} }
func optionOf(elem Type) Type { return Type{Kind: TypeOption, Elem: []Type{elem}} }
func resultOf(ok, err Type) Type {
	return Type{Kind: TypeResult, Elem: []Type{ok, err}}
}
func namedType(name string) Type { return Type{Kind: TypeNamed, Name: name} }

// isPermissive reports whether t silences further checking: an Unknown
// from failed inference, an Any, or an Error already reported elsewhere.
func (t Type) isPermissive() bool {
	return t.Kind == TypeUnknown || t.Kind == TypeAny || t.Kind == TypeError
}

func (t Type) isNumeric() bool {
	return t.Kind == TypeInt || t.Kind == TypeFloat
}

// String renders t in source-annotation syntax for diagnostics.
func (t Type) String() string {
	switch t.Kind {
	case TypeUnknown:
		return "Unknown"
	case TypeAny:
		return "Any"
	case TypeError:
		return "Error"
	case TypeNil:
		return "Nil"
	case TypeInt:
		return "Int"
	case TypeFloat:
		return "Float"
	case TypeString:
		return "String"
	case TypeBool:
		return "Bool"
	case TypeArray:
		if len(t.Elem) == 1 {
			return "Array<" + t.Elem[0].String() + ">"
		}
		return "Array"
	case TypeMap:
		if len(t.Elem) == 2 {
			return "Map<" + t.Elem[0].String() + "," + t.Elem[1].String() + ">"
		}
		return "Map"
	case TypeTuple:
		parts := make([]string, len(t.Elem))
		for i, e := range t.Elem {
			parts[i] = e.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case TypeOption:
		if len(t.Elem) == 1 {
			return "Option<" + t.Elem[0].String() + ">"
		}
		return "Option"
	case TypeResult:
		if len(t.Elem) == 2 {
			return "Result<" + t.Elem[0].String() + "," + t.Elem[1].String() + ">"
		}
		return "Result"
	case TypeFunction:
		parts := make([]string, len(t.Elem))
		for i, e := range t.Elem {
			parts[i] = e.String()
		}
		s := "fn(" + strings.Join(parts, ", ") + ")"
		if t.Return != nil {
			s += " -> " + t.Return.String()
		}
		return s
	case TypeNamed:
		return t.Name
	case TypePrompt:
		return "Prompt"
	case TypeResponse:
		return "Response"
	case TypeMessage:
		return "Message"
	case TypeToolCall:
		return "ToolCall"
	case TypeAgentRef:
		return "Agent"
	case TypeLedgerRef:
		return "Ledger"
	default:
		return "Unknown"
	}
}

// primitiveNames maps annotation names to their internal type directly.
var primitiveNames = map[string]TypeKind{
	"Int":      TypeInt,
	"Float":    TypeFloat,
	"String":   TypeString,
	"Bool":     TypeBool,
	"Nil":      TypeNil,
	"Any":      TypeAny,
	"Prompt":   TypePrompt,
	"Response": TypeResponse,
	"Message":  TypeMessage,
	"ToolCall": TypeToolCall,
}

// typeFromExpr resolves a source type annotation to an internal Type.
// Unresolvable names become Named so struct/enum references still
// compare by name without the analyser needing full nominal typing.
func (a *Analyzer) typeFromExpr(t ast.TypeExpr) Type {
	if t == nil {
		return unknown()
	}
	switch tt := t.(type) {
	case *ast.NamedType:
		if k, ok := primitiveNames[tt.Name]; ok {
			return Type{Kind: k}
		}
		if alias, ok := a.aliases[tt.Name]; ok {
			return a.typeFromExpr(alias)
		}
		return namedType(tt.Name)
	case *ast.GenericType:
		args := make([]Type, len(tt.Args))
		for i, arg := range tt.Args {
			args[i] = a.typeFromExpr(arg)
		}
		switch tt.Name {
		case "Array":
			if len(args) == 1 {
				return Type{Kind: TypeArray, Elem: args}
			}
		case "Map":
			if len(args) == 2 {
				return Type{Kind: TypeMap, Elem: args}
			}
		case "Option":
			if len(args) == 1 {
				return Type{Kind: TypeOption, Elem: args}
			}
		case "Result":
			if len(args) == 2 {
				return Type{Kind: TypeResult, Elem: args}
			}
			if len(args) == 1 {
				return Type{Kind: TypeResult, Elem: []Type{args[0], anyType()}}
			}
		}
		return namedType(tt.Name)
	case *ast.TupleType:
		elems := make([]Type, len(tt.Elements))
		for i, e := range tt.Elements {
			elems[i] = a.typeFromExpr(e)
		}
		return Type{Kind: TypeTuple, Elem: elems}
	case *ast.FunctionType:
		params := make([]Type, len(tt.Params))
		for i, p := range tt.Params {
			params[i] = a.typeFromExpr(p)
		}
		ret := a.typeFromExpr(tt.Return)
		return Type{Kind: TypeFunction, Elem: params, Return: &ret}
	case *ast.StringUnionType:
		// A string-literal union is a String as far as inference goes.
		return strType()
	default:
		return unknown()
	}
}

// assignable reports whether a value of type from can bind to a slot of
// type to under ordinary (non-pipeline) rules.
func assignable(from, to Type) bool {
	if from.isPermissive() || to.isPermissive() {
		return true
	}
	if from.Kind != to.Kind {
		// Numeric widening.
		if from.Kind == TypeInt && to.Kind == TypeFloat {
			return true
		}
		return false
	}
	switch from.Kind {
	case TypeNamed:
		return from.Name == to.Name
	case TypeArray, TypeOption:
		if len(from.Elem) == 1 && len(to.Elem) == 1 {
			return assignable(from.Elem[0], to.Elem[0])
		}
		return true
	case TypeMap, TypeResult:
		if len(from.Elem) == 2 && len(to.Elem) == 2 {
			return assignable(from.Elem[0], to.Elem[0]) && assignable(from.Elem[1], to.Elem[1])
		}
		return true
	case TypeTuple:
		if len(from.Elem) != len(to.Elem) {
			return false
		}
		for i := range from.Elem {
			if !assignable(from.Elem[i], to.Elem[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// pipelineAssignable is the stage-adjacency relation: ordinary
// assignability plus the automatic Result<T,E> -> T unwrap the runtime
// performs between stages.
func pipelineAssignable(out, in Type) bool {
	if assignable(out, in) {
		return true
	}
	if out.Kind == TypeResult && len(out.Elem) == 2 {
		return assignable(out.Elem[0], in)
	}
	return false
}
