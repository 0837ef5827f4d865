package codegen

import (
	"github.com/concerto-lang/concerto/internal/ast"
	"github.com/concerto-lang/concerto/internal/ir"
)

// compileMatch lowers `match scrutinee { arms }`. The scrutinee is
// evaluated once into a temp local; each arm emits a test that leaves a
// bool, and a JUMP_IF_FALSE cascades to the next arm on failure.
func (c *Compiler) compileMatch(fc *funcCtx, m *ast.MatchExpr) {
	scrutinee := c.newTemp("match")
	c.declareLocal(fc, scrutinee)
	c.compileExpr(fc, m.Scrutinee)
	c.emit(fc, ir.Instruction{Op: ir.OpStoreLocal, Name: scrutinee})

	var endJumps []int
	var failJumps []int

	for _, arm := range m.Arms {
		for _, idx := range failJumps {
			c.patchHere(fc, idx)
		}
		failJumps = failJumps[:0]

		c.bindAndTestPattern(fc, arm.Pattern, scrutinee)
		failJumps = append(failJumps, c.emit(fc, ir.Instruction{Op: ir.OpJumpIfFalse}))
		if arm.Guard != nil {
			c.compileExpr(fc, arm.Guard)
			failJumps = append(failJumps, c.emit(fc, ir.Instruction{Op: ir.OpJumpIfFalse}))
		}

		c.compileExpr(fc, arm.Body)
		endJumps = append(endJumps, c.emit(fc, ir.Instruction{Op: ir.OpJump}))
	}

	for _, idx := range failJumps {
		c.patchHere(fc, idx)
	}
	// No arm matched: exhaustiveness is not checked statically, so a
	// non-exhaustive match surfaces here as a runtime throw.
	c.emitLoadConst(fc, ir.ConstString, "no match arm matched")
	c.emit(fc, ir.Simple(ir.OpThrow))

	for _, idx := range endJumps {
		c.patchHere(fc, idx)
	}
}

// bindAndTestPattern emits code that binds pat's variables from the value
// held in valueLocal and leaves a bool on the stack reporting whether the
// pattern matched.
func (c *Compiler) bindAndTestPattern(fc *funcCtx, pat ast.Pattern, valueLocal string) {
	switch p := pat.(type) {
	case *ast.WildcardPattern:
		c.emitLoadConst(fc, ir.ConstBool, true)

	case *ast.IdentPattern:
		if p.Name == "_" {
			c.emitLoadConst(fc, ir.ConstBool, true)
			return
		}
		c.declareLocal(fc, p.Name)
		c.emit(fc, ir.Instruction{Op: ir.OpLoadLocal, Name: valueLocal})
		c.emit(fc, ir.Instruction{Op: ir.OpStoreLocal, Name: p.Name})
		c.emitLoadConst(fc, ir.ConstBool, true)

	case *ast.LiteralPattern:
		c.emit(fc, ir.Instruction{Op: ir.OpLoadLocal, Name: valueLocal})
		c.compileExpr(fc, p.Value)
		c.emit(fc, ir.Simple(ir.OpEq))

	case *ast.RangePattern:
		c.emit(fc, ir.Instruction{Op: ir.OpLoadLocal, Name: valueLocal})
		c.compileExpr(fc, p.Start)
		c.emit(fc, ir.Simple(ir.OpGte))
		c.emit(fc, ir.Instruction{Op: ir.OpLoadLocal, Name: valueLocal})
		c.compileExpr(fc, p.End)
		if p.Inclusive {
			c.emit(fc, ir.Simple(ir.OpLte))
		} else {
			c.emit(fc, ir.Simple(ir.OpLt))
		}
		c.emit(fc, ir.Simple(ir.OpAnd))

	case *ast.OrPattern:
		for i, alt := range p.Alternatives {
			c.bindAndTestPattern(fc, alt, valueLocal)
			if i > 0 {
				c.emit(fc, ir.Simple(ir.OpOr))
			}
		}

	case *ast.BindingPattern:
		c.declareLocal(fc, p.Name)
		c.emit(fc, ir.Instruction{Op: ir.OpLoadLocal, Name: valueLocal})
		c.emit(fc, ir.Instruction{Op: ir.OpStoreLocal, Name: p.Name})
		c.bindAndTestPattern(fc, p.Pattern, valueLocal)

	case *ast.TuplePattern:
		c.bindCompoundElements(fc, valueLocal, elementPatterns(p.Elements))

	case *ast.ArrayPattern:
		c.bindCompoundElements(fc, valueLocal, elementPatterns(p.Elements))

	case *ast.StructPattern:
		c.emit(fc, ir.Instruction{Op: ir.OpLoadLocal, Name: valueLocal})
		c.emit(fc, ir.Instruction{Op: ir.OpCheckType, Type: p.TypeName})
		c.emit(fc, ir.Simple(ir.OpPop))
		c.emitLoadConst(fc, ir.ConstBool, true)
		for _, f := range p.Fields {
			c.emit(fc, ir.Instruction{Op: ir.OpLoadLocal, Name: valueLocal})
			c.emit(fc, ir.Instruction{Op: ir.OpFieldGet, Field: f.Field})
			fieldLocal := c.newTemp("field")
			c.declareLocal(fc, fieldLocal)
			c.emit(fc, ir.Instruction{Op: ir.OpStoreLocal, Name: fieldLocal})
			c.bindAndTestPattern(fc, f.Pattern, fieldLocal)
			c.emit(fc, ir.Simple(ir.OpAnd))
		}

	case *ast.EnumPattern:
		c.emit(fc, ir.Instruction{Op: ir.OpLoadLocal, Name: valueLocal})
		c.emit(fc, ir.Instruction{Op: ir.OpFieldGet, Field: "$variant"})
		c.emitLoadConst(fc, ir.ConstString, p.Variant)
		c.emit(fc, ir.Simple(ir.OpEq))
		if len(p.Fields) > 0 {
			c.bindCompoundElements(fc, valueLocal, p.Fields)
			c.emit(fc, ir.Simple(ir.OpAnd))
		}

	default:
		c.diags.Error("codegen: unhandled pattern kind", pat.PatternSpan())
		c.emitLoadConst(fc, ir.ConstBool, true)
	}
}

func elementPatterns(elems []ast.Pattern) []ast.Pattern { return elems }

// bindCompoundElements approximates destructuring a tuple/array/enum
// payload by indexing the held value positionally, AND-ing each element
// sub-pattern's result together.
func (c *Compiler) bindCompoundElements(fc *funcCtx, valueLocal string, elems []ast.Pattern) {
	c.emitLoadConst(fc, ir.ConstBool, true)
	for i, el := range elems {
		c.emit(fc, ir.Instruction{Op: ir.OpLoadLocal, Name: valueLocal})
		c.emitLoadConst(fc, ir.ConstInt, int64(i))
		c.emit(fc, ir.Simple(ir.OpIndexGet))
		elLocal := c.newTemp("elem")
		c.declareLocal(fc, elLocal)
		c.emit(fc, ir.Instruction{Op: ir.OpStoreLocal, Name: elLocal})
		c.bindAndTestPattern(fc, el, elLocal)
		c.emit(fc, ir.Simple(ir.OpAnd))
	}
}

// bindPatternFrom binds a for-loop pattern from valueLocal, ignoring
// whether it "matches" (for-loop patterns are irrefutable by grammar).
func (c *Compiler) bindPatternFrom(fc *funcCtx, pat ast.Pattern, valueLocal string) {
	c.bindAndTestPattern(fc, pat, valueLocal)
	c.emit(fc, ir.Simple(ir.OpPop))
}
