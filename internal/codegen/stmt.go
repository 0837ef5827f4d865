package codegen

import (
	"fmt"

	"github.com/concerto-lang/concerto/internal/ast"
	"github.com/concerto-lang/concerto/internal/ir"
)

// compileBlockValue compiles a block so it leaves exactly one value on
// the stack: the tail expression's value, or Nil if the block has none.
// Used for function bodies, if/else branches, loop bodies read as values.
func (c *Compiler) compileBlockValue(fc *funcCtx, b *ast.Block) {
	for _, s := range b.Stmts {
		c.compileStmt(fc, s)
	}
	if b.TailExpr != nil {
		c.compileExpr(fc, b.TailExpr)
	} else {
		c.emitLoadNil(fc)
	}
}

// compileBlockDiscard compiles a block for statement position: every
// value it would produce, including a tail expression's, is popped.
func (c *Compiler) compileBlockDiscard(fc *funcCtx, b *ast.Block) {
	for _, s := range b.Stmts {
		c.compileStmt(fc, s)
	}
	if b.TailExpr != nil {
		c.compileExpr(fc, b.TailExpr)
		c.emit(fc, ir.Simple(ir.OpPop))
	}
}

func (c *Compiler) compileStmt(fc *funcCtx, s ast.Stmt) {
	switch st := s.(type) {
	case *ast.LetStmt:
		if st.Value != nil {
			c.compileExpr(fc, st.Value)
		} else {
			c.emitLoadNil(fc)
		}
		c.declareLocal(fc, st.Name)
		c.emit(fc, ir.Instruction{Op: ir.OpStoreLocal, Name: st.Name})

	case *ast.ReturnStmt:
		if st.Value != nil {
			c.compileExpr(fc, st.Value)
		} else {
			c.emitLoadNil(fc)
		}
		c.emit(fc, ir.Simple(ir.OpReturn))

	case *ast.BreakStmt:
		if len(fc.loopStack) == 0 {
			c.diags.Error("break outside of a loop", st.Span)
			return
		}
		idx := c.emit(fc, ir.Instruction{Op: ir.OpJump})
		top := fc.loopStack[len(fc.loopStack)-1]
		top.breakPatches = append(top.breakPatches, idx)

	case *ast.ContinueStmt:
		if len(fc.loopStack) == 0 {
			c.diags.Error("continue outside of a loop", st.Span)
			return
		}
		idx := c.emit(fc, ir.Instruction{Op: ir.OpJump})
		top := fc.loopStack[len(fc.loopStack)-1]
		top.continuePatches = append(top.continuePatches, idx)

	case *ast.ThrowStmt:
		c.compileExpr(fc, st.Value)
		c.emit(fc, ir.Simple(ir.OpThrow))

	case *ast.MockStmt:
		c.compileExpr(fc, st.Config)
		c.emit(fc, ir.Instruction{Op: ir.OpMockModel, Agent: st.Target})

	case *ast.TryCatchStmt:
		c.compileTryCatch(fc, st)

	case *ast.EmitStmt:
		c.compileExpr(fc, st.Channel)
		c.compileExpr(fc, st.Payload)
		argc := 2
		if st.Await {
			c.emit(fc, ir.Instruction{Op: ir.OpEmitAwait, Argc: &argc})
		} else {
			c.emit(fc, ir.Instruction{Op: ir.OpEmit, Argc: &argc})
		}

	case *ast.ExprStmt:
		c.compileExpr(fc, st.Expr)
		c.emit(fc, ir.Simple(ir.OpPop))

	default:
		c.diags.Error(fmt.Sprintf("codegen: unhandled statement %T", s), s.StmtSpan())
	}
}

// compileTryCatch lowers `try { body } catch (binding) { handler }`.
// TRY_BEGIN's offset points at the handler's first instruction, which the
// VM jumps to (pushing the thrown/propagated value first) on an unwind
// that reaches this frame; CATCH then binds that pending value to the
// catch variable.
func (c *Compiler) compileTryCatch(fc *funcCtx, st *ast.TryCatchStmt) {
	tryBeginIdx := c.emit(fc, ir.Instruction{Op: ir.OpTryBegin})
	c.compileBlockDiscard(fc, st.Body)
	c.emit(fc, ir.Simple(ir.OpTryEnd))
	skipIdx := c.emit(fc, ir.Instruction{Op: ir.OpJump})

	c.patchHere(fc, tryBeginIdx)
	c.declareLocal(fc, st.CatchBinding)
	c.emit(fc, ir.Instruction{Op: ir.OpCatch, Name: st.CatchBinding})
	if st.CatchHandler != nil {
		c.compileBlockDiscard(fc, st.CatchHandler)
	}
	c.patchHere(fc, skipIdx)
}
