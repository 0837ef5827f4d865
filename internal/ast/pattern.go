package ast

import "github.com/concerto-lang/concerto/internal/diag"

// Pattern is the closed set of destructuring pattern variants, mirroring
// the expression grammar.
type Pattern interface {
	patternNode()
	PatternSpan() diag.Span
}

type PatternBase struct {
	Span diag.Span
}

func (p PatternBase) PatternSpan() diag.Span { return p.Span }

// WildcardPattern is `_`.
type WildcardPattern struct {
	PatternBase
}

func (*WildcardPattern) patternNode() {}

// IdentPattern binds the matched value to Name.
type IdentPattern struct {
	PatternBase
	Name string
}

func (*IdentPattern) patternNode() {}

// LiteralPattern matches an exact literal value.
type LiteralPattern struct {
	PatternBase
	Value Expr
}

func (*LiteralPattern) patternNode() {}

// TuplePattern destructures a tuple.
type TuplePattern struct {
	PatternBase
	Elements []Pattern
}

func (*TuplePattern) patternNode() {}

// StructFieldPattern is one field of a struct pattern, with an optional
// rename (`Pattern.Name` binds to a different local name than the field).
type StructFieldPattern struct {
	Field   string
	Pattern Pattern
}

// StructPattern destructures a struct by field.
type StructPattern struct {
	PatternBase
	TypeName string
	Fields   []StructFieldPattern
	HasRest  bool
}

func (*StructPattern) patternNode() {}

// EnumPattern matches an enum variant, with optional payload bindings.
type EnumPattern struct {
	PatternBase
	TypeName string
	Variant  string
	Fields   []Pattern
}

func (*EnumPattern) patternNode() {}

// ArrayPattern destructures an array, with an optional `...rest` binding.
type ArrayPattern struct {
	PatternBase
	Elements []Pattern
	Rest     string // empty if no rest binding
	HasRest  bool
}

func (*ArrayPattern) patternNode() {}

// OrPattern matches any of its alternatives.
type OrPattern struct {
	PatternBase
	Alternatives []Pattern
}

func (*OrPattern) patternNode() {}

// RangePattern matches a value falling within [Start, End] (or [Start,End)
// depending on Inclusive).
type RangePattern struct {
	PatternBase
	Start     Expr
	End       Expr
	Inclusive bool
}

func (*RangePattern) patternNode() {}

// BindingPattern is `name @ pattern`, binding the whole match in addition
// to destructuring with the inner pattern.
type BindingPattern struct {
	PatternBase
	Name    string
	Pattern Pattern
}

func (*BindingPattern) patternNode() {}
