// Package ast defines the Concerto abstract syntax tree: a closed set of
// tagged-variant nodes produced by the parser and consumed by the
// semantic analyser and code generator.
package ast

import "github.com/concerto-lang/concerto/internal/diag"

// Program is an ordered sequence of top-level declarations.
type Program struct {
	Declarations []Decl
	Span         diag.Span
}

// Decorator is a `@name(args)` annotation attached to a declaration.
type Decorator struct {
	Name string
	Args []DecoratorArg
	Span diag.Span
}

// DecoratorArg is one positional-or-named argument of a decorator.
type DecoratorArg struct {
	Name  string // empty for positional args
	Value Expr
}

// Decl is the closed set of top-level declaration variants.
type Decl interface {
	declNode()
	DeclSpan() diag.Span
}

type DeclBase struct {
	Span       diag.Span
	Decorators []Decorator
	Public     bool
}

func (d DeclBase) DeclSpan() diag.Span { return d.Span }

// Param is a function/method parameter.
type Param struct {
	Name    string
	Type    TypeExpr
	Default Expr
	Span    diag.Span
}

// FunctionDecl is `fn name(params) -> Type { body }`.
type FunctionDecl struct {
	DeclBase
	Name       string
	SelfParam  *SelfParam
	Params     []Param
	ReturnType TypeExpr
	IsAsync    bool
	Body       *Block
	Doc        string
}

func (*FunctionDecl) declNode() {}

// SelfParam records a leading `self`/`mut self` method receiver.
type SelfParam struct {
	Mutable bool
	Span    diag.Span
}

// AgentDecl is `agent Name { ... }`.
type AgentDecl struct {
	DeclBase
	Name    string
	Fields  []FieldInit
	Methods []*FunctionDecl
	Doc     string
}

func (*AgentDecl) declNode() {}

// HostDecl is `host Name { ... }`.
type HostDecl struct {
	DeclBase
	Name    string
	Fields  []FieldInit
	Methods []*FunctionDecl
	Doc     string
}

func (*HostDecl) declNode() {}

// ToolDecl is `tool Name { ... }`.
type ToolDecl struct {
	DeclBase
	Name    string
	Fields  []FieldInit
	Methods []*FunctionDecl
	Doc     string
}

func (*ToolDecl) declNode() {}

// FieldInit is a `name: value` field initializer inside a declaration body.
type FieldInit struct {
	Name  string
	Value Expr
	Span  diag.Span
}

// SchemaDecl is `schema Name { fields }`.
type SchemaDecl struct {
	DeclBase
	Name   string
	Fields []StructField
	Doc    string
}

func (*SchemaDecl) declNode() {}

// PipelineDecl is `pipeline Name(input) -> output { stage ... }`.
type PipelineDecl struct {
	DeclBase
	Name       string
	InputType  TypeExpr
	OutputType TypeExpr
	Stages     []PipelineStage
	Doc        string
}

func (*PipelineDecl) declNode() {}

// PipelineStage is one `stage name(params) -> Type { body }` entry.
type PipelineStage struct {
	Name       string
	Params     []Param
	InputType  TypeExpr
	OutputType TypeExpr
	Decorators []Decorator
	Body       *Block
	Span       diag.Span
}

// StructDecl is `struct Name { fields }`.
type StructDecl struct {
	DeclBase
	Name   string
	Fields []StructField
	Doc    string
}

func (*StructDecl) declNode() {}

// StructField is one field of a struct/schema.
type StructField struct {
	Name string
	Type TypeExpr
	Span diag.Span
}

// EnumDecl is `enum Name { variants }`.
type EnumDecl struct {
	DeclBase
	Name     string
	Variants []EnumVariant
	Doc      string
}

func (*EnumDecl) declNode() {}

// EnumVariant is one variant of an enum, with optional tuple-style payload fields.
type EnumVariant struct {
	Name   string
	Fields []TypeExpr
	Span   diag.Span
}

// TraitDecl is `trait Name { fn signatures }`.
type TraitDecl struct {
	DeclBase
	Name    string
	Methods []*FunctionDecl
}

func (*TraitDecl) declNode() {}

// ImplDecl is `impl Trait for Type { methods }`.
type ImplDecl struct {
	DeclBase
	TraitName  string
	TargetType string
	Methods    []*FunctionDecl
}

func (*ImplDecl) declNode() {}

// UseDecl is `use path::to::item;`.
type UseDecl struct {
	DeclBase
	Path  []string
	Alias string
}

func (*UseDecl) declNode() {}

// ModuleDecl is `mod name { declarations }`.
type ModuleDecl struct {
	DeclBase
	Name         string
	Declarations []Decl
}

func (*ModuleDecl) declNode() {}

// ConstDecl is `const NAME: Type = value;`.
type ConstDecl struct {
	DeclBase
	Name  string
	Type  TypeExpr
	Value Expr
}

func (*ConstDecl) declNode() {}

// TypeAliasDecl is `type Name = Type;`.
type TypeAliasDecl struct {
	DeclBase
	Name string
	Type TypeExpr
}

func (*TypeAliasDecl) declNode() {}

// HashMapDecl is `hashmap Name<K,V>;`.
type HashMapDecl struct {
	DeclBase
	Name      string
	KeyType   TypeExpr
	ValueType TypeExpr
}

func (*HashMapDecl) declNode() {}

// LedgerDecl is `ledger Name { fields }`.
type LedgerDecl struct {
	DeclBase
	Name   string
	Fields []FieldInit
	Doc    string
}

func (*LedgerDecl) declNode() {}

// MemoryDecl is `memory Name { fields }` (e.g. max_messages).
type MemoryDecl struct {
	DeclBase
	Name   string
	Fields []FieldInit
}

func (*MemoryDecl) declNode() {}

// McpDecl is `mcp Name { fields }`, referencing a manifest-declared MCP server.
type McpDecl struct {
	DeclBase
	Name   string
	Fields []FieldInit
}

func (*McpDecl) declNode() {}
