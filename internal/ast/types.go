package ast

import "github.com/concerto-lang/concerto/internal/diag"

// TypeExpr is the closed set of type-annotation syntax forms.
type TypeExpr interface {
	typeNode()
	TypeSpan() diag.Span
}

type TypeBase struct {
	Span diag.Span
}

func (t TypeBase) TypeSpan() diag.Span { return t.Span }

// NamedType is a bare name (`Int`, `String`, `MyStruct`, ...).
type NamedType struct {
	TypeBase
	Name string
}

func (*NamedType) typeNode() {}

// GenericType is `Name<Args...>` (`Array<String>`, `Map<K,V>`,
// `Result<T,E>`, `Option<T>`).
type GenericType struct {
	TypeBase
	Name string
	Args []TypeExpr
}

func (*GenericType) typeNode() {}

// TupleType is `(A, B, C)`.
type TupleType struct {
	TypeBase
	Elements []TypeExpr
}

func (*TupleType) typeNode() {}

// FunctionType is `fn(Args...) -> Return`.
type FunctionType struct {
	TypeBase
	Params []TypeExpr
	Return TypeExpr
}

func (*FunctionType) typeNode() {}

// StringUnionType is `"a" | "b" | "c"`.
type StringUnionType struct {
	TypeBase
	Members []string
}

func (*StringUnionType) typeNode() {}
