package ast

import "github.com/concerto-lang/concerto/internal/diag"

// Expr is the closed set of expression variants.
type Expr interface {
	exprNode()
	ExprSpan() diag.Span
}

type ExprBase struct {
	Span diag.Span
}

func (e ExprBase) ExprSpan() diag.Span { return e.Span }

// IntLit is an integer literal.
type IntLit struct {
	ExprBase
	Value int64
}

func (*IntLit) exprNode() {}

// FloatLit is a floating-point literal.
type FloatLit struct {
	ExprBase
	Value float64
}

func (*FloatLit) exprNode() {}

// StringLit is a plain (non-interpolated) string literal.
type StringLit struct {
	ExprBase
	Value string
}

func (*StringLit) exprNode() {}

// InterpolatedStringLit is a string with embedded `${expr}` fragments.
type InterpolatedStringLit struct {
	ExprBase
	// Chunks and Exprs interleave: Chunks[0], Exprs[0], Chunks[1], ...
	// The first and last pieces are always chunks (possibly empty); Exprs
	// has one fewer element than Chunks.
	Chunks []string
	Exprs  []Expr
}

func (*InterpolatedStringLit) exprNode() {}

// BoolLit is a boolean literal.
type BoolLit struct {
	ExprBase
	Value bool
}

func (*BoolLit) exprNode() {}

// NilLit is the `nil` literal.
type NilLit struct {
	ExprBase
}

func (*NilLit) exprNode() {}

// Ident is a bare identifier reference.
type Ident struct {
	ExprBase
	Name string
}

func (*Ident) exprNode() {}

// SelfExpr is the `self` receiver reference.
type SelfExpr struct {
	ExprBase
}

func (*SelfExpr) exprNode() {}

// BinaryOp is one of the binary operators.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNeq
	OpLt
	OpGt
	OpLte
	OpGte
	OpAnd
	OpOr
)

// BinaryExpr is `lhs op rhs`.
type BinaryExpr struct {
	ExprBase
	Op  BinaryOp
	LHS Expr
	RHS Expr
}

func (*BinaryExpr) exprNode() {}

// UnaryOp is one of the unary prefix operators.
type UnaryOp int

const (
	OpNeg UnaryOp = iota
	OpNot
)

// UnaryExpr is `op operand`.
type UnaryExpr struct {
	ExprBase
	Op      UnaryOp
	Operand Expr
}

func (*UnaryExpr) exprNode() {}

// AssignExpr is `target = value` or a compound form (`+=`, etc., lowered
// to an explicit BinaryExpr by the parser before reaching sema/codegen).
type AssignExpr struct {
	ExprBase
	Target Expr
	Value  Expr
}

func (*AssignExpr) exprNode() {}

// CallExpr is `callee(args)`.
type CallExpr struct {
	ExprBase
	Callee Expr
	Args   []Expr
}

func (*CallExpr) exprNode() {}

// MethodCallExpr is `receiver.method(args)`.
type MethodCallExpr struct {
	ExprBase
	Receiver Expr
	Method   string
	Args     []Expr
}

func (*MethodCallExpr) exprNode() {}

// FieldAccessExpr is `receiver.field`.
type FieldAccessExpr struct {
	ExprBase
	Receiver Expr
	Field    string
}

func (*FieldAccessExpr) exprNode() {}

// IndexExpr is `receiver[index]`.
type IndexExpr struct {
	ExprBase
	Receiver Expr
	Index    Expr
}

func (*IndexExpr) exprNode() {}

// ArrayLit is `[elems...]`.
type ArrayLit struct {
	ExprBase
	Elements []Expr
}

func (*ArrayLit) exprNode() {}

// MapEntry is one `key: value` entry of a map literal.
type MapEntry struct {
	Key   Expr
	Value Expr
}

// MapLit is `{key: value, ...}` when not ambiguous with a block.
type MapLit struct {
	ExprBase
	Entries []MapEntry
}

func (*MapLit) exprNode() {}

// StructFieldInit is one `name: value` field of a struct literal.
type StructFieldInit struct {
	Name  string
	Value Expr
}

// StructLit is `TypeName { field: value, ... }`.
type StructLit struct {
	ExprBase
	TypeName string
	Fields   []StructFieldInit
}

func (*StructLit) exprNode() {}

// TupleLit is `(a, b, c)`.
type TupleLit struct {
	ExprBase
	Elements []Expr
}

func (*TupleLit) exprNode() {}

// IfExpr is `if cond { then } else { else_ }`. Else is nil if absent.
type IfExpr struct {
	ExprBase
	Cond Expr
	Then *Block
	Else Expr // *BlockExpr or *IfExpr, or nil
}

func (*IfExpr) exprNode() {}

// MatchArm is one `pattern => body` arm, with an optional guard.
type MatchArm struct {
	Pattern Pattern
	Guard   Expr
	Body    Expr
	Span    diag.Span
}

// MatchExpr is `match scrutinee { arms }`.
type MatchExpr struct {
	ExprBase
	Scrutinee Expr
	Arms      []MatchArm
}

func (*MatchExpr) exprNode() {}

// ForExpr is `for pattern in iterable { body }`.
type ForExpr struct {
	ExprBase
	Pattern  Pattern
	Iterable Expr
	Body     *Block
}

func (*ForExpr) exprNode() {}

// WhileExpr is `while cond { body }`.
type WhileExpr struct {
	ExprBase
	Cond Expr
	Body *Block
}

func (*WhileExpr) exprNode() {}

// LoopExpr is `loop { body }`.
type LoopExpr struct {
	ExprBase
	Body *Block
}

func (*LoopExpr) exprNode() {}

// BlockExpr wraps a Block used in expression position.
type BlockExpr struct {
	ExprBase
	Block *Block
}

func (*BlockExpr) exprNode() {}

// ClosureExpr is `|params| body` or `|params| -> Type { body }`.
type ClosureExpr struct {
	ExprBase
	Params     []Param
	ReturnType TypeExpr
	Body       Expr
}

func (*ClosureExpr) exprNode() {}

// PipeExpr is `lhs |> rhs`, where rhs is applied as a call with lhs
// prepended as its first argument.
type PipeExpr struct {
	ExprBase
	LHS Expr
	RHS Expr
}

func (*PipeExpr) exprNode() {}

// PropagateExpr is `operand?`.
type PropagateExpr struct {
	ExprBase
	Operand Expr
}

func (*PropagateExpr) exprNode() {}

// NilCoalesceExpr is `lhs ?? rhs`.
type NilCoalesceExpr struct {
	ExprBase
	LHS Expr
	RHS Expr
}

func (*NilCoalesceExpr) exprNode() {}

// RangeExpr is `start..end` or `start..=end`.
type RangeExpr struct {
	ExprBase
	Start     Expr
	End       Expr
	Inclusive bool
}

func (*RangeExpr) exprNode() {}

// CastExpr is `value as Type`.
type CastExpr struct {
	ExprBase
	Value Expr
	Type  TypeExpr
}

func (*CastExpr) exprNode() {}

// PathExpr is `segment::segment::...` (qualified name reference).
type PathExpr struct {
	ExprBase
	Segments []string
}

func (*PathExpr) exprNode() {}

// AwaitExpr is `expr.await`.
type AwaitExpr struct {
	ExprBase
	Operand Expr
}

func (*AwaitExpr) exprNode() {}

// ReturnExpr is `return value?` used in expression position (e.g. in a
// match arm); statement-position returns are ReturnStmt.
type ReturnExpr struct {
	ExprBase
	Value Expr
}

func (*ReturnExpr) exprNode() {}
