// Package sema implements the two-pass semantic analyser: pass 1 inserts
// top-level declarations into the global scope, pass 2 walks bodies with
// a scope stack and best-effort type inference. Failure to infer a type
// yields Unknown and never cascades into further diagnostics.
package sema

import (
	"fmt"

	"github.com/concerto-lang/concerto/internal/ast"
	"github.com/concerto-lang/concerto/internal/diag"
)

// Analyzer holds the mutable state of one analysis run. It is not reused
// across programs; Analyze on the same AST twice yields identical
// diagnostics because every run starts from a fresh Analyzer.
type Analyzer struct {
	diags  *diag.Bag
	scopes *ScopeStack

	structs map[string]*ast.StructDecl
	enums   map[string]*ast.EnumDecl
	aliases map[string]ast.TypeExpr

	// current function context
	returnType Type
	inAsync    bool
	inFunction bool
}

// builtinNames are the host-implemented functions every program can call
// without declaring them.
var builtinNames = []string{
	"Ok", "Err", "Some", "None", "env", "print", "println", "len",
	"typeof", "panic", "await_all", "listen",
}

// Analyze runs both passes over prog and returns the accumulated
// diagnostic bag.
func Analyze(prog *ast.Program) *diag.Bag {
	a := &Analyzer{
		diags:   diag.NewBag(),
		scopes:  NewScopeStack(),
		structs: map[string]*ast.StructDecl{},
		enums:   map[string]*ast.EnumDecl{},
		aliases: map[string]ast.TypeExpr{},
	}

	for _, name := range builtinNames {
		a.scopes.Define(&Symbol{Name: name, Kind: SymBuiltin, Type: anyType(), Used: true})
	}

	a.collectDeclarations(prog.Declarations)
	for _, d := range prog.Declarations {
		a.checkDeclaration(d)
	}
	return a.diags
}

// collectDeclarations is pass 1: every top-level name lands in the
// global scope before any body is walked, so forward references resolve.
func (a *Analyzer) collectDeclarations(decls []ast.Decl) {
	for _, d := range decls {
		switch decl := d.(type) {
		case *ast.FunctionDecl:
			a.defineGlobal(&Symbol{Name: decl.Name, Kind: SymFunction, Type: a.functionType(decl), DefinedAt: decl.Span, Public: decl.Public})
		case *ast.AgentDecl:
			a.defineGlobal(&Symbol{Name: decl.Name, Kind: SymAgent, Type: Type{Kind: TypeAgentRef}, DefinedAt: decl.Span})
		case *ast.HostDecl:
			a.defineGlobal(&Symbol{Name: decl.Name, Kind: SymHost, Type: Type{Kind: TypeAgentRef}, DefinedAt: decl.Span})
		case *ast.ToolDecl:
			a.defineGlobal(&Symbol{Name: decl.Name, Kind: SymTool, Type: anyType(), DefinedAt: decl.Span})
		case *ast.SchemaDecl:
			a.defineGlobal(&Symbol{Name: decl.Name, Kind: SymSchema, Type: namedType(decl.Name), DefinedAt: decl.Span})
		case *ast.PipelineDecl:
			a.defineGlobal(&Symbol{Name: decl.Name, Kind: SymPipeline, Type: anyType(), DefinedAt: decl.Span})
		case *ast.StructDecl:
			a.structs[decl.Name] = decl
			a.defineGlobal(&Symbol{Name: decl.Name, Kind: SymType, Type: namedType(decl.Name), DefinedAt: decl.Span})
		case *ast.EnumDecl:
			a.enums[decl.Name] = decl
			a.defineGlobal(&Symbol{Name: decl.Name, Kind: SymType, Type: namedType(decl.Name), DefinedAt: decl.Span})
		case *ast.TraitDecl:
			a.defineGlobal(&Symbol{Name: decl.Name, Kind: SymType, Type: namedType(decl.Name), DefinedAt: decl.Span})
		case *ast.ConstDecl:
			a.defineGlobal(&Symbol{Name: decl.Name, Kind: SymConstant, Type: a.typeFromExpr(decl.Type), DefinedAt: decl.Span})
		case *ast.TypeAliasDecl:
			a.aliases[decl.Name] = decl.Type
			a.defineGlobal(&Symbol{Name: decl.Name, Kind: SymType, Type: a.typeFromExpr(decl.Type), DefinedAt: decl.Span})
		case *ast.HashMapDecl:
			a.defineGlobal(&Symbol{Name: decl.Name, Kind: SymHashMap, Type: Type{Kind: TypeMap, Elem: []Type{a.typeFromExpr(decl.KeyType), a.typeFromExpr(decl.ValueType)}}, DefinedAt: decl.Span})
		case *ast.LedgerDecl:
			a.defineGlobal(&Symbol{Name: decl.Name, Kind: SymLedger, Type: Type{Kind: TypeLedgerRef}, DefinedAt: decl.Span})
		case *ast.MemoryDecl:
			a.defineGlobal(&Symbol{Name: decl.Name, Kind: SymMemory, Type: anyType(), DefinedAt: decl.Span})
		case *ast.McpDecl:
			a.defineGlobal(&Symbol{Name: decl.Name, Kind: SymTool, Type: anyType(), DefinedAt: decl.Span})
		case *ast.ModuleDecl:
			a.defineGlobal(&Symbol{Name: decl.Name, Kind: SymModule, Type: anyType(), DefinedAt: decl.Span})
			a.collectDeclarations(decl.Declarations)
		case *ast.ImplDecl, *ast.UseDecl:
			// Impl methods register under the target type at check time;
			// use-imports carry no symbols in a single-file module.
		}
	}
}

func (a *Analyzer) defineGlobal(sym *Symbol) {
	if prior := a.scopes.Define(sym); prior != nil {
		a.diags.ErrorWithRelated(
			fmt.Sprintf("duplicate definition of '%s'", sym.Name),
			sym.DefinedAt,
			diag.RelatedSpan{Span: prior.DefinedAt, Message: "previous definition here"},
		)
	}
}

func (a *Analyzer) functionType(fn *ast.FunctionDecl) Type {
	params := make([]Type, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = a.typeFromExpr(p.Type)
	}
	ret := a.typeFromExpr(fn.ReturnType)
	return Type{Kind: TypeFunction, Elem: params, Return: &ret}
}

// checkDeclaration is pass 2 for one top-level declaration.
func (a *Analyzer) checkDeclaration(d ast.Decl) {
	switch decl := d.(type) {
	case *ast.FunctionDecl:
		a.validateFunction(decl)
		a.checkFunctionBody(decl, false, decl.IsAsync)
	case *ast.AgentDecl:
		a.validateAgent(decl)
		for _, m := range decl.Methods {
			a.checkFunctionBody(m, true, m.IsAsync)
		}
	case *ast.HostDecl:
		for _, m := range decl.Methods {
			a.checkFunctionBody(m, true, m.IsAsync)
		}
	case *ast.ToolDecl:
		a.validateTool(decl)
		for _, m := range decl.Methods {
			// Tool methods are implicitly async: they may await subprocess
			// and model calls without an `async fn` marker.
			a.checkFunctionBody(m, true, true)
		}
	case *ast.SchemaDecl:
		a.validateUniqueFields(decl.Name, fieldNames(decl.Fields), decl.Span)
	case *ast.StructDecl:
		a.validateUniqueFields(decl.Name, fieldNames(decl.Fields), decl.Span)
	case *ast.PipelineDecl:
		a.validatePipeline(decl)
		for _, stage := range decl.Stages {
			fn := &ast.FunctionDecl{
				DeclBase:   ast.DeclBase{Span: stage.Span},
				Name:       stage.Name,
				Params:     stage.Params,
				ReturnType: stage.OutputType,
				Body:       stage.Body,
			}
			// Pipeline stages are implicitly async, like tool methods.
			a.checkFunctionBody(fn, false, true)
		}
	case *ast.ImplDecl:
		for _, m := range decl.Methods {
			a.checkFunctionBody(m, true, m.IsAsync)
		}
	case *ast.ConstDecl:
		declared := a.typeFromExpr(decl.Type)
		got := a.inferExpr(decl.Value)
		if !assignable(got, declared) {
			a.diags.Error(fmt.Sprintf("const '%s' declared as %s but initialized with %s", decl.Name, declared, got), decl.Span)
		}
	case *ast.ModuleDecl:
		for _, nested := range decl.Declarations {
			a.checkDeclaration(nested)
		}
	}
}

func fieldNames(fields []ast.StructField) []nameAt {
	out := make([]nameAt, len(fields))
	for i, f := range fields {
		out[i] = nameAt{name: f.Name, span: f.Span}
	}
	return out
}

// checkFunctionBody pushes a Function scope, binds self/params, walks
// the body, then emits unused-variable warnings for the popped scope.
func (a *Analyzer) checkFunctionBody(fn *ast.FunctionDecl, hasSelf bool, isAsync bool) {
	if fn.Body == nil {
		return
	}

	prevReturn, prevAsync, prevInFn := a.returnType, a.inAsync, a.inFunction
	a.returnType = a.typeFromExpr(fn.ReturnType)
	a.inAsync = isAsync
	a.inFunction = true
	defer func() { a.returnType, a.inAsync, a.inFunction = prevReturn, prevAsync, prevInFn }()

	a.scopes.Push(ScopeFunction)
	if hasSelf || fn.SelfParam != nil {
		a.scopes.Define(&Symbol{Name: "self", Kind: SymVariable, Type: anyType(), Used: true})
	}
	for _, p := range fn.Params {
		sym := &Symbol{Name: p.Name, Kind: SymVariable, Type: a.typeFromExpr(p.Type), Mutable: true, DefinedAt: p.Span}
		if prior := a.scopes.Define(sym); prior != nil {
			a.diags.ErrorWithRelated(
				fmt.Sprintf("duplicate parameter '%s'", p.Name),
				p.Span,
				diag.RelatedSpan{Span: prior.DefinedAt, Message: "previous parameter here"},
			)
		}
		if p.Default != nil {
			a.inferExpr(p.Default)
		}
	}

	a.checkBlock(fn.Body, false)
	a.warnUnused(a.scopes.Pop())
}

func (a *Analyzer) warnUnused(scope *Scope) {
	for _, sym := range unusedSymbols(scope) {
		a.diags.Warning(fmt.Sprintf("unused variable '%s'", sym.Name), sym.DefinedAt)
	}
}

// checkBlock walks a block's statements and returns the tail expression's
// type (Nil when there is none). ownScope controls whether the block
// pushes a fresh Block scope; function bodies reuse the Function scope
// already holding the parameters.
func (a *Analyzer) checkBlock(b *ast.Block, ownScope bool) Type {
	if ownScope {
		a.scopes.Push(ScopeBlock)
		defer func() { a.warnUnused(a.scopes.Pop()) }()
	}
	for _, s := range b.Stmts {
		a.checkStmt(s)
	}
	if b.TailExpr != nil {
		return a.inferExpr(b.TailExpr)
	}
	return nilType()
}

func (a *Analyzer) checkStmt(s ast.Stmt) {
	switch st := s.(type) {
	case *ast.LetStmt:
		var valueType Type = unknown()
		if st.Value != nil {
			valueType = a.inferExpr(st.Value)
		}
		declared := valueType
		if st.Type != nil {
			declared = a.typeFromExpr(st.Type)
			if !assignable(valueType, declared) {
				a.diags.Error(fmt.Sprintf("cannot assign %s to '%s' declared as %s", valueType, st.Name, declared), st.Span)
			}
		}
		sym := &Symbol{Name: st.Name, Kind: SymVariable, Type: declared, Mutable: st.Mutable, DefinedAt: st.Span}
		if prior := a.scopes.Define(sym); prior != nil {
			a.diags.ErrorWithRelated(
				fmt.Sprintf("duplicate definition of '%s' in the same scope", st.Name),
				st.Span,
				diag.RelatedSpan{Span: prior.DefinedAt, Message: "previous definition here"},
			)
		}

	case *ast.ReturnStmt:
		if !a.inFunction {
			a.diags.Error("return outside of a function", st.Span)
			return
		}
		var got Type = nilType()
		if st.Value != nil {
			got = a.inferExpr(st.Value)
		}
		if !assignable(got, a.returnType) {
			a.diags.Error(fmt.Sprintf("return type mismatch: function returns %s, got %s", a.returnType, got), st.Span)
		}

	case *ast.BreakStmt:
		if !a.scopes.InKind(ScopeLoop) {
			a.diags.Error("break outside of a loop", st.Span)
		}

	case *ast.ContinueStmt:
		if !a.scopes.InKind(ScopeLoop) {
			a.diags.Error("continue outside of a loop", st.Span)
		}

	case *ast.ThrowStmt:
		if !a.inFunction {
			a.diags.Error("throw outside of a function", st.Span)
			return
		}
		if a.returnType.Kind != TypeResult && !a.returnType.isPermissive() {
			a.diags.ErrorWithHelp(
				"throw requires the enclosing function to return a Result",
				st.Span,
				fmt.Sprintf("change the return type to Result<%s, ...>", a.returnType),
			)
		}
		a.inferExpr(st.Value)

	case *ast.TryCatchStmt:
		a.checkBlock(st.Body, true)
		a.scopes.Push(ScopeBlock)
		a.scopes.Define(&Symbol{Name: st.CatchBinding, Kind: SymVariable, Type: anyType(), DefinedAt: st.Span, Used: true})
		if st.CatchHandler != nil {
			for _, hs := range st.CatchHandler.Stmts {
				a.checkStmt(hs)
			}
			if st.CatchHandler.TailExpr != nil {
				a.inferExpr(st.CatchHandler.TailExpr)
			}
		}
		a.warnUnused(a.scopes.Pop())

	case *ast.EmitStmt:
		channel := a.inferExpr(st.Channel)
		if channel.Kind != TypeString && !channel.isPermissive() {
			a.diags.Error(fmt.Sprintf("emit channel must be a String, got %s", channel), st.Span)
		}
		a.inferExpr(st.Payload)

	case *ast.MockStmt:
		a.inferExpr(st.Config)

	case *ast.ExprStmt:
		a.inferExpr(st.Expr)
	}
}
