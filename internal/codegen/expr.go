package codegen

import (
	"fmt"
	"strings"

	"github.com/concerto-lang/concerto/internal/ast"
	"github.com/concerto-lang/concerto/internal/ir"
)

var binaryOpcode = map[ast.BinaryOp]ir.Opcode{
	ast.OpAdd: ir.OpAdd, ast.OpSub: ir.OpSub, ast.OpMul: ir.OpMul,
	ast.OpDiv: ir.OpDiv, ast.OpMod: ir.OpMod,
	ast.OpEq: ir.OpEq, ast.OpNeq: ir.OpNeq,
	ast.OpLt: ir.OpLt, ast.OpGt: ir.OpGt, ast.OpLte: ir.OpLte, ast.OpGte: ir.OpGte,
	ast.OpAnd: ir.OpAnd, ast.OpOr: ir.OpOr,
}

// compileExpr compiles e so it leaves exactly one value on the stack.
func (c *Compiler) compileExpr(fc *funcCtx, e ast.Expr) {
	switch ex := e.(type) {
	case *ast.IntLit:
		c.emitLoadConst(fc, ir.ConstInt, ex.Value)
	case *ast.FloatLit:
		c.emitLoadConst(fc, ir.ConstFloat, ex.Value)
	case *ast.StringLit:
		c.emitLoadConst(fc, ir.ConstString, ex.Value)
	case *ast.BoolLit:
		c.emitLoadConst(fc, ir.ConstBool, ex.Value)
	case *ast.NilLit:
		c.emitLoadNil(fc)
	case *ast.InterpolatedStringLit:
		c.compileInterpolated(fc, ex)
	case *ast.Ident:
		c.compileLoadName(fc, ex.Name)
	case *ast.SelfExpr:
		c.emit(fc, ir.Instruction{Op: ir.OpLoadLocal, Name: "self"})
	case *ast.BinaryExpr:
		c.compileExpr(fc, ex.LHS)
		c.compileExpr(fc, ex.RHS)
		op, ok := binaryOpcode[ex.Op]
		if !ok {
			c.diags.Error("codegen: unknown binary operator", ex.Span)
			return
		}
		c.emit(fc, ir.Simple(op))
	case *ast.UnaryExpr:
		c.compileExpr(fc, ex.Operand)
		if ex.Op == ast.OpNeg {
			c.emit(fc, ir.Simple(ir.OpNeg))
		} else {
			c.emit(fc, ir.Simple(ir.OpNot))
		}
	case *ast.AssignExpr:
		c.compileAssign(fc, ex)
	case *ast.CallExpr:
		c.compileCall(fc, ex)
	case *ast.MethodCallExpr:
		c.compileMethodCall(fc, ex)
	case *ast.FieldAccessExpr:
		c.compileExpr(fc, ex.Receiver)
		c.emit(fc, ir.Instruction{Op: ir.OpFieldGet, Field: ex.Field})
	case *ast.IndexExpr:
		c.compileExpr(fc, ex.Receiver)
		c.compileExpr(fc, ex.Index)
		c.emit(fc, ir.Simple(ir.OpIndexGet))
	case *ast.ArrayLit:
		for _, el := range ex.Elements {
			c.compileExpr(fc, el)
		}
		argc := len(ex.Elements)
		c.emit(fc, ir.Instruction{Op: ir.OpBuildArray, Argc: &argc})
	case *ast.MapLit:
		for _, entry := range ex.Entries {
			c.compileExpr(fc, entry.Key)
			c.compileExpr(fc, entry.Value)
		}
		argc := len(ex.Entries) * 2
		c.emit(fc, ir.Instruction{Op: ir.OpBuildMap, Argc: &argc})
	case *ast.StructLit:
		c.compileStructLit(fc, ex)
	case *ast.TupleLit:
		for _, el := range ex.Elements {
			c.compileExpr(fc, el)
		}
		argc := len(ex.Elements)
		c.emit(fc, ir.Instruction{Op: ir.OpBuildArray, Argc: &argc})
	case *ast.IfExpr:
		c.compileIf(fc, ex)
	case *ast.MatchExpr:
		c.compileMatch(fc, ex)
	case *ast.ForExpr:
		c.compileFor(fc, ex)
	case *ast.WhileExpr:
		c.compileWhile(fc, ex)
	case *ast.LoopExpr:
		c.compileLoop(fc, ex)
	case *ast.BlockExpr:
		c.compileBlockValue(fc, ex.Block)
	case *ast.ClosureExpr:
		name := c.compileClosure(ex)
		c.emitLoadConst(fc, ir.ConstString, name)
		argc := 1
		c.emit(fc, ir.Instruction{Op: ir.OpCallNative, Target: "$make_closure", Argc: &argc})
	case *ast.PipeExpr:
		c.compilePipe(fc, ex)
	case *ast.PropagateExpr:
		c.compileExpr(fc, ex.Operand)
		c.emit(fc, ir.Simple(ir.OpPropagate))
	case *ast.NilCoalesceExpr:
		c.compileNilCoalesce(fc, ex)
	case *ast.RangeExpr:
		c.compileExpr(fc, ex.Start)
		c.compileExpr(fc, ex.End)
		c.emitLoadConst(fc, ir.ConstBool, ex.Inclusive)
		argc := 3
		c.emit(fc, ir.Instruction{Op: ir.OpCallNative, Target: "$range", Argc: &argc})
	case *ast.CastExpr:
		c.compileExpr(fc, ex.Value)
		c.emit(fc, ir.Instruction{Op: ir.OpCast, Type: renderType(ex.Type)})
	case *ast.PathExpr:
		c.compilePath(fc, ex)
	case *ast.AwaitExpr:
		c.compileExpr(fc, ex.Operand)
		c.emit(fc, ir.Simple(ir.OpAwait))
	case *ast.ReturnExpr:
		if ex.Value != nil {
			c.compileExpr(fc, ex.Value)
		} else {
			c.emitLoadNil(fc)
		}
		c.emit(fc, ir.Simple(ir.OpReturn))
	default:
		c.diags.Error(fmt.Sprintf("codegen: unhandled expression %T", e), e.ExprSpan())
		c.emitLoadNil(fc)
	}
}

func (c *Compiler) compileLoadName(fc *funcCtx, name string) {
	if fc.locals[name] {
		c.emit(fc, ir.Instruction{Op: ir.OpLoadLocal, Name: name})
		return
	}
	c.emit(fc, ir.Instruction{Op: ir.OpLoadGlobal, Name: name})
}

func (c *Compiler) compileInterpolated(fc *funcCtx, s *ast.InterpolatedStringLit) {
	c.emitLoadConst(fc, ir.ConstString, s.Chunks[0])
	for i, e := range s.Exprs {
		c.compileExpr(fc, e)
		c.emit(fc, ir.Simple(ir.OpAdd))
		c.emitLoadConst(fc, ir.ConstString, s.Chunks[i+1])
		c.emit(fc, ir.Simple(ir.OpAdd))
	}
}

// compileAssign lowers `target = value`, leaving the assigned value on
// the stack as the expression's own result.
func (c *Compiler) compileAssign(fc *funcCtx, a *ast.AssignExpr) {
	switch target := a.Target.(type) {
	case *ast.Ident:
		c.compileExpr(fc, a.Value)
		c.emit(fc, ir.Simple(ir.OpDup))
		if fc.locals[target.Name] {
			c.emit(fc, ir.Instruction{Op: ir.OpStoreLocal, Name: target.Name})
		} else {
			c.emit(fc, ir.Instruction{Op: ir.OpStoreGlobal, Name: target.Name})
		}
	case *ast.FieldAccessExpr:
		c.compileExpr(fc, target.Receiver)
		c.compileExpr(fc, a.Value)
		c.emit(fc, ir.Instruction{Op: ir.OpFieldSet, Field: target.Field})
	case *ast.IndexExpr:
		c.compileExpr(fc, target.Receiver)
		c.compileExpr(fc, target.Index)
		c.compileExpr(fc, a.Value)
		c.emit(fc, ir.Simple(ir.OpIndexSet))
	default:
		c.diags.Error("codegen: unsupported assignment target", a.Span)
		c.emitLoadNil(fc)
	}
}

// hashmapMethods maps the dedicated HASHMAP_* opcode surface method names
// a `MethodCallExpr` on a declared hashmap global lowers to.
var hashmapMethods = map[string]ir.Opcode{
	"get": ir.OpHashMapGet, "set": ir.OpHashMapSet, "delete": ir.OpHashMapDelete,
	"has": ir.OpHashMapHas, "query": ir.OpHashMapQuery,
}

// agentIntrinsics maps the reserved method names an agent method body
// calls on `self` to invoke the model, recognised by name rather than by
// a dedicated AST node since the grammar models all such calls as a plain
// MethodCallExpr.
var agentIntrinsics = map[string]ir.Opcode{
	"prompt": ir.OpCallModel, "stream": ir.OpCallModelStream, "chat": ir.OpCallModelChat,
}

func (c *Compiler) compileMethodCall(fc *funcCtx, m *ast.MethodCallExpr) {
	if recv, ok := m.Receiver.(*ast.Ident); ok && c.hashmapNames[recv.Name] {
		if op, ok := hashmapMethods[m.Method]; ok {
			c.emitLoadConst(fc, ir.ConstString, recv.Name)
			for _, a := range m.Args {
				c.compileExpr(fc, a)
			}
			argc := len(m.Args) + 1
			c.emit(fc, ir.Instruction{Op: op, Target: recv.Name, Argc: &argc})
			return
		}
	}

	if _, isSelf := m.Receiver.(*ast.SelfExpr); isSelf {
		if m.Method == "prompt_schema" && len(m.Args) == 2 {
			if schemaName, ok := m.Args[1].(*ast.Ident); ok {
				c.compileExpr(fc, m.Receiver)
				c.compileExpr(fc, m.Args[0])
				argc := 2
				c.emit(fc, ir.Instruction{Op: ir.OpCallModelSchema, Schema: schemaName.Name, Argc: &argc})
				return
			}
		}
		if op, ok := agentIntrinsics[m.Method]; ok {
			c.compileExpr(fc, m.Receiver)
			for _, a := range m.Args {
				c.compileExpr(fc, a)
			}
			argc := len(m.Args) + 1
			c.emit(fc, ir.Instruction{Op: op, Argc: &argc})
			return
		}
		if m.Method == "use_tool" && len(m.Args) >= 1 {
			if toolName, ok := m.Args[0].(*ast.StringLit); ok {
				for _, a := range m.Args[1:] {
					c.compileExpr(fc, a)
				}
				argc := len(m.Args) - 1
				c.emit(fc, ir.Instruction{Op: ir.OpCallTool, Target: toolName.Value, Argc: &argc})
				return
			}
		}
	}

	c.compileExpr(fc, m.Receiver)
	for _, a := range m.Args {
		c.compileExpr(fc, a)
	}
	argc := len(m.Args)
	c.emit(fc, ir.Instruction{Op: ir.OpCallMethod, Target: m.Method, Argc: &argc})
}

func (c *Compiler) compileCall(fc *funcCtx, call *ast.CallExpr) {
	if callee, ok := call.Callee.(*ast.Ident); ok {
		switch callee.Name {
		case "await_all":
			for _, a := range call.Args {
				c.compileExpr(fc, a)
			}
			argc := len(call.Args)
			c.emit(fc, ir.Instruction{Op: ir.OpAwaitAll, Argc: &argc})
			return
		case "listen":
			for _, a := range call.Args {
				c.compileExpr(fc, a)
			}
			argc := len(call.Args)
			instr := ir.Instruction{Op: ir.OpListenBegin, Argc: &argc}
			if len(call.Args) > 0 {
				if srcIdent, ok := call.Args[0].(*ast.Ident); ok {
					instr.Agent = srcIdent.Name
				}
			}
			c.emit(fc, instr)
			return
		}

		if !fc.locals[callee.Name] && c.funcNames[callee.Name] {
			for _, a := range call.Args {
				c.compileExpr(fc, a)
			}
			argc := len(call.Args)
			op := ir.OpCall
			if c.asyncFuncs[callee.Name] {
				op = ir.OpSpawnAsync
			}
			c.emit(fc, ir.Instruction{Op: op, Target: callee.Name, Argc: &argc})
			return
		}
	}

	if path, ok := call.Callee.(*ast.PathExpr); ok && path.Segments[0] == "std" {
		for _, a := range call.Args {
			c.compileExpr(fc, a)
		}
		argc := len(call.Args)
		c.emit(fc, ir.Instruction{Op: ir.OpCallNative, Target: strings.Join(path.Segments, "::"), Argc: &argc})
		return
	}

	if path, ok := call.Callee.(*ast.PathExpr); ok && len(path.Segments) == 2 {
		qualified := path.Segments[0] + "::" + path.Segments[1]
		if c.funcNames[qualified] {
			for _, a := range call.Args {
				c.compileExpr(fc, a)
			}
			argc := len(call.Args)
			op := ir.OpCall
			if c.asyncFuncs[qualified] {
				op = ir.OpSpawnAsync
			}
			c.emit(fc, ir.Instruction{Op: op, Target: qualified, Argc: &argc})
			return
		}
	}

	// Dynamic call: callee evaluates to a function/closure value.
	c.compileExpr(fc, call.Callee)
	for _, a := range call.Args {
		c.compileExpr(fc, a)
	}
	argc := len(call.Args)
	c.emit(fc, ir.Instruction{Op: ir.OpCall, Argc: &argc})
}

func (c *Compiler) compileStructLit(fc *funcCtx, s *ast.StructLit) {
	zero := 0
	c.emit(fc, ir.Instruction{Op: ir.OpBuildStruct, Type: s.TypeName, Argc: &zero})
	for _, f := range s.Fields {
		c.emit(fc, ir.Simple(ir.OpDup))
		c.compileExpr(fc, f.Value)
		c.emit(fc, ir.Instruction{Op: ir.OpFieldSet, Field: f.Name})
		c.emit(fc, ir.Simple(ir.OpPop))
	}
}

func (c *Compiler) compileIf(fc *funcCtx, ie *ast.IfExpr) {
	c.compileExpr(fc, ie.Cond)
	jumpElse := c.emit(fc, ir.Instruction{Op: ir.OpJumpIfFalse})
	c.compileBlockValue(fc, ie.Then)
	jumpEnd := c.emit(fc, ir.Instruction{Op: ir.OpJump})
	c.patchHere(fc, jumpElse)
	switch els := ie.Else.(type) {
	case nil:
		c.emitLoadNil(fc)
	case *ast.BlockExpr:
		c.compileBlockValue(fc, els.Block)
	default:
		c.compileExpr(fc, els)
	}
	c.patchHere(fc, jumpEnd)
}

func (c *Compiler) compileWhile(fc *funcCtx, w *ast.WhileExpr) {
	lc := &loopCtx{}
	fc.loopStack = append(fc.loopStack, lc)

	condStart := len(fc.code)
	c.compileExpr(fc, w.Cond)
	exitJump := c.emit(fc, ir.Instruction{Op: ir.OpJumpIfFalse})
	c.compileBlockDiscard(fc, w.Body)
	c.emit(fc, ir.Instruction{Op: ir.OpJump, Offset: intPtr(condStart)})
	c.patchHere(fc, exitJump)
	for _, idx := range lc.breakPatches {
		c.patchHere(fc, idx)
	}
	c.emitLoadNil(fc)

	for _, idx := range lc.continuePatches {
		c.patchTo(fc, idx, condStart)
	}
	fc.loopStack = fc.loopStack[:len(fc.loopStack)-1]
}

func (c *Compiler) compileLoop(fc *funcCtx, l *ast.LoopExpr) {
	lc := &loopCtx{}
	fc.loopStack = append(fc.loopStack, lc)

	start := len(fc.code)
	c.compileBlockDiscard(fc, l.Body)
	c.emit(fc, ir.Instruction{Op: ir.OpJump, Offset: intPtr(start)})
	for _, idx := range lc.breakPatches {
		c.patchHere(fc, idx)
	}
	// Concerto's BreakStmt carries no value, so a loop used in expression
	// position (rather than as a bare statement) always evaluates to Nil.
	c.emitLoadNil(fc)

	for _, idx := range lc.continuePatches {
		c.patchTo(fc, idx, start)
	}
	fc.loopStack = fc.loopStack[:len(fc.loopStack)-1]
}

// compileFor lowers `for pattern in iterable { body }` into an
// index-driven while-loop over a materialized array, using the $len
// native helper and INDEX_GET so the closed opcode set needs no dedicated
// iterator protocol.
func (c *Compiler) compileFor(fc *funcCtx, f *ast.ForExpr) {
	arrLocal := c.newTemp("for_arr")
	idxLocal := c.newTemp("for_idx")
	c.declareLocal(fc, arrLocal)
	c.declareLocal(fc, idxLocal)

	c.compileExpr(fc, f.Iterable)
	c.emit(fc, ir.Instruction{Op: ir.OpStoreLocal, Name: arrLocal})
	c.emitLoadConst(fc, ir.ConstInt, int64(0))
	c.emit(fc, ir.Instruction{Op: ir.OpStoreLocal, Name: idxLocal})

	lc := &loopCtx{}
	fc.loopStack = append(fc.loopStack, lc)

	condStart := len(fc.code)
	c.emit(fc, ir.Instruction{Op: ir.OpLoadLocal, Name: idxLocal})
	c.emit(fc, ir.Instruction{Op: ir.OpLoadLocal, Name: arrLocal})
	argc1 := 1
	c.emit(fc, ir.Instruction{Op: ir.OpCallNative, Target: "$len", Argc: &argc1})
	c.emit(fc, ir.Simple(ir.OpLt))
	exitJump := c.emit(fc, ir.Instruction{Op: ir.OpJumpIfFalse})

	c.emit(fc, ir.Instruction{Op: ir.OpLoadLocal, Name: arrLocal})
	c.emit(fc, ir.Instruction{Op: ir.OpLoadLocal, Name: idxLocal})
	c.emit(fc, ir.Simple(ir.OpIndexGet))
	elemLocal := c.newTemp("for_elem")
	c.declareLocal(fc, elemLocal)
	c.emit(fc, ir.Instruction{Op: ir.OpStoreLocal, Name: elemLocal})
	c.bindPatternFrom(fc, f.Pattern, elemLocal)

	c.compileBlockDiscard(fc, f.Body)

	continueTarget := len(fc.code)
	c.emit(fc, ir.Instruction{Op: ir.OpLoadLocal, Name: idxLocal})
	c.emitLoadConst(fc, ir.ConstInt, int64(1))
	c.emit(fc, ir.Simple(ir.OpAdd))
	c.emit(fc, ir.Instruction{Op: ir.OpStoreLocal, Name: idxLocal})
	c.emit(fc, ir.Instruction{Op: ir.OpJump, Offset: intPtr(condStart)})

	c.patchHere(fc, exitJump)
	for _, idx := range lc.breakPatches {
		c.patchHere(fc, idx)
	}
	c.emitLoadNil(fc)

	for _, idx := range lc.continuePatches {
		c.patchTo(fc, idx, continueTarget)
	}
	fc.loopStack = fc.loopStack[:len(fc.loopStack)-1]
}

func (c *Compiler) compilePipe(fc *funcCtx, p *ast.PipeExpr) {
	if call, ok := p.RHS.(*ast.CallExpr); ok {
		newArgs := append([]ast.Expr{p.LHS}, call.Args...)
		synthetic := &ast.CallExpr{ExprBase: call.ExprBase, Callee: call.Callee, Args: newArgs}
		c.compileCall(fc, synthetic)
		return
	}
	synthetic := &ast.CallExpr{ExprBase: p.ExprBase, Callee: p.RHS, Args: []ast.Expr{p.LHS}}
	c.compileCall(fc, synthetic)
}

func (c *Compiler) compileNilCoalesce(fc *funcCtx, n *ast.NilCoalesceExpr) {
	tmp := c.newTemp("coalesce")
	c.declareLocal(fc, tmp)
	c.compileExpr(fc, n.LHS)
	c.emit(fc, ir.Instruction{Op: ir.OpStoreLocal, Name: tmp})
	c.emit(fc, ir.Instruction{Op: ir.OpLoadLocal, Name: tmp})
	argc := 1
	c.emit(fc, ir.Instruction{Op: ir.OpCallNative, Target: "$is_present", Argc: &argc})
	rhsJump := c.emit(fc, ir.Instruction{Op: ir.OpJumpIfFalse})
	c.emit(fc, ir.Instruction{Op: ir.OpLoadLocal, Name: tmp})
	endJump := c.emit(fc, ir.Instruction{Op: ir.OpJump})
	c.patchHere(fc, rhsJump)
	c.compileExpr(fc, n.RHS)
	c.patchHere(fc, endJump)
}

// compilePath lowers `Type::Variant`-style qualified references that
// aren't a function name (enum variant construction without payload).
func (c *Compiler) compilePath(fc *funcCtx, p *ast.PathExpr) {
	if len(p.Segments) == 2 {
		c.emitLoadConst(fc, ir.ConstString, p.Segments[0])
		c.emitLoadConst(fc, ir.ConstString, p.Segments[1])
		argc := 2
		c.emit(fc, ir.Instruction{Op: ir.OpCallNative, Target: "$enum_variant", Argc: &argc})
		return
	}
	if len(p.Segments) == 1 {
		c.compileLoadName(fc, p.Segments[0])
		return
	}
	c.diags.Error("codegen: unsupported path expression", p.Span)
	c.emitLoadNil(fc)
}

func intPtr(v int) *int { return &v }
