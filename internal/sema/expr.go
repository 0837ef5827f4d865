package sema

import (
	"fmt"

	"github.com/concerto-lang/concerto/internal/ast"
)

// inferExpr walks e, reports any semantic errors it finds, and returns
// its best-effort type. Unknown means "could not determine"; callers
// never error on Unknown.
func (a *Analyzer) inferExpr(e ast.Expr) Type {
	switch ex := e.(type) {
	case *ast.IntLit:
		return intType()
	case *ast.FloatLit:
		return floatType()
	case *ast.StringLit:
		return strType()
	case *ast.BoolLit:
		return boolType()
	case *ast.NilLit:
		return nilType()

	case *ast.InterpolatedStringLit:
		for _, sub := range ex.Exprs {
			a.inferExpr(sub)
		}
		return strType()

	case *ast.Ident:
		sym := a.scopes.Lookup(ex.Name)
		if sym == nil {
			a.diags.Error(fmt.Sprintf("undefined name '%s'", ex.Name), ex.Span)
			return errType()
		}
		return sym.Type

	case *ast.SelfExpr:
		if a.scopes.Lookup("self") == nil {
			a.diags.Error("'self' used outside of a method", ex.Span)
			return errType()
		}
		return anyType()

	case *ast.BinaryExpr:
		return a.inferBinary(ex)

	case *ast.UnaryExpr:
		operand := a.inferExpr(ex.Operand)
		if ex.Op == ast.OpNeg {
			if !operand.isNumeric() && !operand.isPermissive() {
				a.diags.Error(fmt.Sprintf("unary '-' requires a numeric operand, got %s", operand), ex.Span)
				return errType()
			}
			return operand
		}
		if operand.Kind != TypeBool && !operand.isPermissive() {
			a.diags.Error(fmt.Sprintf("unary '!' requires a Bool operand, got %s", operand), ex.Span)
			return errType()
		}
		return boolType()

	case *ast.AssignExpr:
		valueType := a.inferExpr(ex.Value)
		if target, ok := ex.Target.(*ast.Ident); ok {
			sym := a.scopes.Lookup(target.Name)
			if sym == nil {
				a.diags.Error(fmt.Sprintf("undefined name '%s'", target.Name), target.Span)
				return errType()
			}
			if sym.Kind == SymVariable && !sym.Mutable {
				a.diags.ErrorWithHelp(
					fmt.Sprintf("cannot assign to immutable variable '%s'", target.Name),
					ex.Span,
					"declare it with 'let mut'",
				)
			}
			if !assignable(valueType, sym.Type) {
				a.diags.Error(fmt.Sprintf("cannot assign %s to '%s' of type %s", valueType, target.Name, sym.Type), ex.Span)
			}
			return valueType
		}
		a.inferExpr(ex.Target)
		return valueType

	case *ast.CallExpr:
		return a.inferCall(ex)

	case *ast.MethodCallExpr:
		a.inferExpr(ex.Receiver)
		for _, arg := range ex.Args {
			a.inferExpr(arg)
		}
		// Method dispatch is resolved at runtime by receiver kind; the
		// analyser can't pin a return type without nominal method tables.
		return unknown()

	case *ast.FieldAccessExpr:
		recv := a.inferExpr(ex.Receiver)
		if recv.Kind == TypeNamed {
			if st, ok := a.structs[recv.Name]; ok {
				for _, f := range st.Fields {
					if f.Name == ex.Field {
						return a.typeFromExpr(f.Type)
					}
				}
				a.diags.Error(fmt.Sprintf("type %s has no field '%s'", recv.Name, ex.Field), ex.Span)
				return errType()
			}
		}
		return unknown()

	case *ast.IndexExpr:
		recv := a.inferExpr(ex.Receiver)
		idx := a.inferExpr(ex.Index)
		switch recv.Kind {
		case TypeArray:
			if idx.Kind != TypeInt && !idx.isPermissive() {
				a.diags.Error(fmt.Sprintf("array index must be an Int, got %s", idx), ex.Span)
			}
			if len(recv.Elem) == 1 {
				return recv.Elem[0]
			}
		case TypeMap:
			if len(recv.Elem) == 2 {
				return recv.Elem[1]
			}
		case TypeString:
			return strType()
		}
		return unknown()

	case *ast.ArrayLit:
		var elem Type = unknown()
		for i, el := range ex.Elements {
			t := a.inferExpr(el)
			if i == 0 {
				elem = t
			} else if !assignable(t, elem) && !assignable(elem, t) {
				elem = anyType()
			}
		}
		return arrayOf(elem)

	case *ast.MapLit:
		for _, entry := range ex.Entries {
			a.inferExpr(entry.Key)
			a.inferExpr(entry.Value)
		}
		return Type{Kind: TypeMap, Elem: []Type{strType(), anyType()}}

	case *ast.StructLit:
		return a.inferStructLit(ex)

	case *ast.TupleLit:
		elems := make([]Type, len(ex.Elements))
		for i, el := range ex.Elements {
			elems[i] = a.inferExpr(el)
		}
		return Type{Kind: TypeTuple, Elem: elems}

	case *ast.IfExpr:
		cond := a.inferExpr(ex.Cond)
		if cond.Kind != TypeBool && !cond.isPermissive() {
			a.diags.Error(fmt.Sprintf("if condition must be a Bool, got %s", cond), ex.Span)
		}
		thenType := a.checkBlock(ex.Then, true)
		if ex.Else == nil {
			return nilType()
		}
		var elseType Type
		if blk, ok := ex.Else.(*ast.BlockExpr); ok {
			elseType = a.checkBlock(blk.Block, true)
		} else {
			elseType = a.inferExpr(ex.Else)
		}
		if assignable(elseType, thenType) {
			return thenType
		}
		if assignable(thenType, elseType) {
			return elseType
		}
		return anyType()

	case *ast.MatchExpr:
		a.inferExpr(ex.Scrutinee)
		var armType Type = unknown()
		for i, arm := range ex.Arms {
			a.scopes.Push(ScopeBlock)
			a.bindPattern(arm.Pattern)
			if arm.Guard != nil {
				guard := a.inferExpr(arm.Guard)
				if guard.Kind != TypeBool && !guard.isPermissive() {
					a.diags.Error(fmt.Sprintf("match guard must be a Bool, got %s", guard), arm.Span)
				}
			}
			t := a.inferExpr(arm.Body)
			a.warnUnused(a.scopes.Pop())
			if i == 0 {
				armType = t
			} else if !assignable(t, armType) && !assignable(armType, t) {
				armType = anyType()
			}
		}
		return armType

	case *ast.ForExpr:
		iterable := a.inferExpr(ex.Iterable)
		a.scopes.Push(ScopeLoop)
		elem := unknown()
		if iterable.Kind == TypeArray && len(iterable.Elem) == 1 {
			elem = iterable.Elem[0]
		}
		a.bindPatternAs(ex.Pattern, elem)
		for _, s := range ex.Body.Stmts {
			a.checkStmt(s)
		}
		if ex.Body.TailExpr != nil {
			a.inferExpr(ex.Body.TailExpr)
		}
		a.warnUnused(a.scopes.Pop())
		return nilType()

	case *ast.WhileExpr:
		cond := a.inferExpr(ex.Cond)
		if cond.Kind != TypeBool && !cond.isPermissive() {
			a.diags.Error(fmt.Sprintf("while condition must be a Bool, got %s", cond), ex.Span)
		}
		a.scopes.Push(ScopeLoop)
		for _, s := range ex.Body.Stmts {
			a.checkStmt(s)
		}
		if ex.Body.TailExpr != nil {
			a.inferExpr(ex.Body.TailExpr)
		}
		a.warnUnused(a.scopes.Pop())
		return nilType()

	case *ast.LoopExpr:
		a.scopes.Push(ScopeLoop)
		for _, s := range ex.Body.Stmts {
			a.checkStmt(s)
		}
		if ex.Body.TailExpr != nil {
			a.inferExpr(ex.Body.TailExpr)
		}
		a.warnUnused(a.scopes.Pop())
		return nilType()

	case *ast.BlockExpr:
		return a.checkBlock(ex.Block, true)

	case *ast.ClosureExpr:
		prevReturn, prevInFn := a.returnType, a.inFunction
		a.returnType = a.typeFromExpr(ex.ReturnType)
		a.inFunction = true
		a.scopes.Push(ScopeFunction)
		params := make([]Type, len(ex.Params))
		for i, p := range ex.Params {
			params[i] = a.typeFromExpr(p.Type)
			a.scopes.Define(&Symbol{Name: p.Name, Kind: SymVariable, Type: params[i], Mutable: true, DefinedAt: p.Span})
		}
		ret := a.inferExpr(ex.Body)
		a.warnUnused(a.scopes.Pop())
		a.returnType, a.inFunction = prevReturn, prevInFn
		if ex.ReturnType != nil {
			declared := a.typeFromExpr(ex.ReturnType)
			if !assignable(ret, declared) {
				a.diags.Error(fmt.Sprintf("closure body evaluates to %s but declares %s", ret, declared), ex.Span)
			}
			ret = declared
		}
		return Type{Kind: TypeFunction, Elem: params, Return: &ret}

	case *ast.PipeExpr:
		a.inferExpr(ex.LHS)
		// The RHS of |> is applied as a call with LHS prepended; without
		// resolving overloads here, the pipe's type is the call's.
		if call, ok := ex.RHS.(*ast.CallExpr); ok {
			return a.inferCall(call)
		}
		a.inferExpr(ex.RHS)
		return unknown()

	case *ast.PropagateExpr:
		operand := a.inferExpr(ex.Operand)
		if !a.inFunction {
			a.diags.Error("'?' outside of a function", ex.Span)
			return errType()
		}
		if a.returnType.Kind != TypeResult && a.returnType.Kind != TypeOption && !a.returnType.isPermissive() {
			a.diags.ErrorWithHelp(
				"'?' requires the enclosing function to return Result or Option",
				ex.Span,
				fmt.Sprintf("change the return type from %s", a.returnType),
			)
			return errType()
		}
		if (operand.Kind == TypeResult || operand.Kind == TypeOption) && len(operand.Elem) >= 1 {
			return operand.Elem[0]
		}
		return unknown()

	case *ast.NilCoalesceExpr:
		lhs := a.inferExpr(ex.LHS)
		rhs := a.inferExpr(ex.RHS)
		if lhs.Kind == TypeOption && len(lhs.Elem) == 1 {
			return lhs.Elem[0]
		}
		if lhs.isPermissive() {
			return rhs
		}
		return lhs

	case *ast.RangeExpr:
		start := a.inferExpr(ex.Start)
		end := a.inferExpr(ex.End)
		if (start.Kind != TypeInt && !start.isPermissive()) || (end.Kind != TypeInt && !end.isPermissive()) {
			a.diags.Error("range bounds must be Int", ex.Span)
		}
		return arrayOf(intType())

	case *ast.CastExpr:
		a.inferExpr(ex.Value)
		return a.typeFromExpr(ex.Type)

	case *ast.PathExpr:
		return a.inferPath(ex)

	case *ast.AwaitExpr:
		operand := a.inferExpr(ex.Operand)
		if !a.inAsync {
			a.diags.ErrorWithHelp(
				"'.await' outside of an async context",
				ex.Span,
				"mark the enclosing function 'async fn', or move this into a tool method or pipeline stage",
			)
		}
		return operand

	case *ast.ReturnExpr:
		var got Type = nilType()
		if ex.Value != nil {
			got = a.inferExpr(ex.Value)
		}
		if !a.inFunction {
			a.diags.Error("return outside of a function", ex.Span)
		} else if !assignable(got, a.returnType) {
			a.diags.Error(fmt.Sprintf("return type mismatch: function returns %s, got %s", a.returnType, got), ex.Span)
		}
		return errType()

	default:
		return unknown()
	}
}

// binary op result table, per the static rules: arithmetic needs numeric
// operands with Int/Float promotion, + concatenates two Strings,
// comparisons yield Bool, logical ops need Bool.
func (a *Analyzer) inferBinary(ex *ast.BinaryExpr) Type {
	lhs := a.inferExpr(ex.LHS)
	rhs := a.inferExpr(ex.RHS)
	if lhs.isPermissive() || rhs.isPermissive() {
		switch ex.Op {
		case ast.OpEq, ast.OpNeq, ast.OpLt, ast.OpGt, ast.OpLte, ast.OpGte, ast.OpAnd, ast.OpOr:
			return boolType()
		}
		return unknown()
	}

	switch ex.Op {
	case ast.OpAdd:
		if lhs.Kind == TypeString && rhs.Kind == TypeString {
			return strType()
		}
		fallthrough
	case ast.OpSub, ast.OpMul, ast.OpDiv, ast.OpMod:
		if !lhs.isNumeric() || !rhs.isNumeric() {
			a.diags.Error(fmt.Sprintf("operator requires numeric operands, got %s and %s", lhs, rhs), ex.Span)
			return errType()
		}
		if lhs.Kind == TypeFloat || rhs.Kind == TypeFloat {
			return floatType()
		}
		return intType()

	case ast.OpEq, ast.OpNeq:
		return boolType()

	case ast.OpLt, ast.OpGt, ast.OpLte, ast.OpGte:
		comparable := (lhs.isNumeric() && rhs.isNumeric()) ||
			(lhs.Kind == TypeString && rhs.Kind == TypeString)
		if !comparable {
			a.diags.Error(fmt.Sprintf("cannot compare %s with %s", lhs, rhs), ex.Span)
			return errType()
		}
		return boolType()

	case ast.OpAnd, ast.OpOr:
		if lhs.Kind != TypeBool || rhs.Kind != TypeBool {
			a.diags.Error(fmt.Sprintf("logical operator requires Bool operands, got %s and %s", lhs, rhs), ex.Span)
			return errType()
		}
		return boolType()
	}
	return unknown()
}

func (a *Analyzer) inferCall(call *ast.CallExpr) Type {
	for _, arg := range call.Args {
		a.inferExpr(arg)
	}

	if callee, ok := call.Callee.(*ast.Ident); ok {
		sym := a.scopes.Lookup(callee.Name)
		if sym == nil {
			a.diags.Error(fmt.Sprintf("undefined function '%s'", callee.Name), callee.Span)
			return errType()
		}
		if sym.Kind == SymFunction && sym.Type.Kind == TypeFunction {
			if len(call.Args) != len(sym.Type.Elem) {
				a.diags.Error(
					fmt.Sprintf("'%s' takes %d argument(s), got %d", callee.Name, len(sym.Type.Elem), len(call.Args)),
					call.Span,
				)
			}
			if sym.Type.Return != nil {
				return *sym.Type.Return
			}
		}
		return unknown()
	}

	calleeType := a.inferExpr(call.Callee)
	if calleeType.Kind == TypeFunction && calleeType.Return != nil {
		return *calleeType.Return
	}
	return unknown()
}

func (a *Analyzer) inferStructLit(s *ast.StructLit) Type {
	st, ok := a.structs[s.TypeName]
	if !ok {
		if _, isEnum := a.enums[s.TypeName]; !isEnum {
			if a.scopes.Lookup(s.TypeName) == nil {
				a.diags.Error(fmt.Sprintf("undefined type '%s'", s.TypeName), s.Span)
			}
		}
		for _, f := range s.Fields {
			a.inferExpr(f.Value)
		}
		return namedType(s.TypeName)
	}

	declared := map[string]ast.TypeExpr{}
	for _, f := range st.Fields {
		declared[f.Name] = f.Type
	}
	seen := map[string]bool{}
	for _, f := range s.Fields {
		fieldType, known := declared[f.Name]
		if !known {
			a.diags.Error(fmt.Sprintf("type %s has no field '%s'", s.TypeName, f.Name), s.Span)
		}
		seen[f.Name] = true
		got := a.inferExpr(f.Value)
		if known {
			want := a.typeFromExpr(fieldType)
			if !assignable(got, want) {
				a.diags.Error(fmt.Sprintf("field '%s' of %s expects %s, got %s", f.Name, s.TypeName, want, got), s.Span)
			}
		}
	}
	for _, f := range st.Fields {
		if !seen[f.Name] {
			a.diags.Error(fmt.Sprintf("missing field '%s' in %s literal", f.Name, s.TypeName), s.Span)
		}
	}
	return namedType(s.TypeName)
}

func (a *Analyzer) inferPath(p *ast.PathExpr) Type {
	if len(p.Segments) == 1 {
		sym := a.scopes.Lookup(p.Segments[0])
		if sym == nil {
			a.diags.Error(fmt.Sprintf("undefined name '%s'", p.Segments[0]), p.Span)
			return errType()
		}
		return sym.Type
	}
	if len(p.Segments) == 2 {
		// std::module::fn paths and Enum::Variant references both land
		// here; the former dispatches to the native registry at runtime.
		if p.Segments[0] == "std" {
			return unknown()
		}
		if en, ok := a.enums[p.Segments[0]]; ok {
			for _, v := range en.Variants {
				if v.Name == p.Segments[1] {
					return namedType(en.Name)
				}
			}
			a.diags.Error(fmt.Sprintf("enum %s has no variant '%s'", p.Segments[0], p.Segments[1]), p.Span)
			return errType()
		}
		if sym := a.scopes.Lookup(p.Segments[0]); sym != nil {
			return unknown()
		}
		a.diags.Error(fmt.Sprintf("undefined name '%s'", p.Segments[0]), p.Span)
		return errType()
	}
	if len(p.Segments) == 3 && p.Segments[0] == "std" {
		return unknown()
	}
	return unknown()
}

// bindPattern introduces a pattern's bindings with Unknown types.
func (a *Analyzer) bindPattern(pat ast.Pattern) {
	a.bindPatternAs(pat, unknown())
}

// bindPatternAs introduces pat's bindings, giving top-level ident
// bindings the supplied type.
func (a *Analyzer) bindPatternAs(pat ast.Pattern, t Type) {
	switch p := pat.(type) {
	case *ast.IdentPattern:
		if p.Name == "_" {
			return
		}
		a.scopes.Define(&Symbol{Name: p.Name, Kind: SymVariable, Type: t, DefinedAt: p.Span})
	case *ast.BindingPattern:
		a.scopes.Define(&Symbol{Name: p.Name, Kind: SymVariable, Type: t, DefinedAt: p.Span})
		a.bindPattern(p.Pattern)
	case *ast.TuplePattern:
		for _, el := range p.Elements {
			a.bindPattern(el)
		}
	case *ast.ArrayPattern:
		for _, el := range p.Elements {
			a.bindPattern(el)
		}
		if p.HasRest && p.Rest != "" {
			a.scopes.Define(&Symbol{Name: p.Rest, Kind: SymVariable, Type: arrayOf(unknown()), DefinedAt: p.Span})
		}
	case *ast.StructPattern:
		for _, f := range p.Fields {
			a.bindPattern(f.Pattern)
		}
	case *ast.EnumPattern:
		for _, f := range p.Fields {
			a.bindPattern(f)
		}
	case *ast.OrPattern:
		for _, alt := range p.Alternatives {
			a.bindPattern(alt)
		}
	case *ast.LiteralPattern:
		a.inferExpr(p.Value)
	case *ast.RangePattern:
		a.inferExpr(p.Start)
		a.inferExpr(p.End)
	}
}
