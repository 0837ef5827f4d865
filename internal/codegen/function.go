package codegen

import (
	"sort"

	"github.com/concerto-lang/concerto/internal/ast"
	"github.com/concerto-lang/concerto/internal/ir"
)

// funcCtx accumulates one function's bytecode and loop-patch bookkeeping
// while it's being compiled; it's discarded once the Function is built.
type funcCtx struct {
	name      string
	locals    map[string]bool
	code      []ir.Instruction
	loopStack []*loopCtx
}

type loopCtx struct {
	breakPatches    []int
	continuePatches []int
}

func (c *Compiler) emit(fc *funcCtx, instr ir.Instruction) int {
	fc.code = append(fc.code, instr)
	return len(fc.code) - 1
}

func (c *Compiler) patchHere(fc *funcCtx, idx int) {
	target := len(fc.code)
	instr := fc.code[idx]
	instr.Offset = &target
	fc.code[idx] = instr
}

func (c *Compiler) patchTo(fc *funcCtx, idx, target int) {
	instr := fc.code[idx]
	instr.Offset = &target
	fc.code[idx] = instr
}

func (c *Compiler) declareLocal(fc *funcCtx, name string) {
	if fc.locals == nil {
		fc.locals = map[string]bool{}
	}
	fc.locals[name] = true
}

func (c *Compiler) emitLoadNil(fc *funcCtx) {
	idx := c.constIndexFor(ir.ConstNil, nil)
	c.emit(fc, ir.Instruction{Op: ir.OpLoadConst, ConstIndex: &idx})
}

func (c *Compiler) emitLoadConst(fc *funcCtx, kind ir.ConstKind, v any) {
	idx := c.constIndexFor(kind, v)
	c.emit(fc, ir.Instruction{Op: ir.OpLoadConst, ConstIndex: &idx})
}

// compileFunction lowers one function or method body. owner, when
// non-empty, qualifies the IR function name as "owner::name" so the VM's
// CALL_METHOD can resolve it by runtime receiver type.
func (c *Compiler) compileFunction(fn *ast.FunctionDecl, owner string) {
	name := fn.Name
	if owner != "" {
		name = owner + "::" + fn.Name
	}

	fc := &funcCtx{name: name, locals: map[string]bool{}}

	params := make([]ir.Param, 0, len(fn.Params))
	if fn.SelfParam != nil {
		c.declareLocal(fc, "self")
	}
	for _, p := range fn.Params {
		c.declareLocal(fc, p.Name)
		params = append(params, ir.Param{Name: p.Name, Type: renderType(p.Type)})
	}

	// Runtime parameter type assertions, exercising CHECK_TYPE without
	// needing a dedicated `is`-expression in the surface grammar.
	for _, p := range fn.Params {
		tname := renderType(p.Type)
		if tname == "" {
			continue
		}
		c.emit(fc, ir.Instruction{Op: ir.OpLoadLocal, Name: p.Name})
		c.emit(fc, ir.Instruction{Op: ir.OpCheckType, Type: tname})
		c.emit(fc, ir.Instruction{Op: ir.OpStoreLocal, Name: p.Name})
	}

	if fn.Body != nil {
		c.compileBlockValue(fc, fn.Body)
	} else {
		c.emitLoadNil(fc)
	}
	c.emit(fc, ir.Simple(ir.OpReturn))

	locals := make([]string, 0, len(fc.locals))
	for l := range fc.locals {
		locals = append(locals, l)
	}
	sort.Strings(locals)

	c.functions = append(c.functions, ir.Function{
		Name:       name,
		Params:     params,
		HasSelf:    fn.SelfParam != nil,
		ReturnType: renderType(fn.ReturnType),
		IsAsync:    fn.IsAsync,
		Locals:     locals,
		Code:       fc.code,
	})
}

// compileClosure lowers a closure literal to its own synthetic top-level
// function and returns its generated name. Captured-variable binding
// happens at the call site in the VM: the `$make_closure` pseudo-builtin
// snapshots the enclosing frame's locals into the produced Function value
// (see runtime's CALL_NATIVE handling), since the closed opcode set has no
// dedicated environment-capture instruction.
func (c *Compiler) compileClosure(cl *ast.ClosureExpr) string {
	name := c.newTemp("closure")
	fc := &funcCtx{name: name, locals: map[string]bool{}}

	params := make([]ir.Param, 0, len(cl.Params))
	for _, p := range cl.Params {
		c.declareLocal(fc, p.Name)
		params = append(params, ir.Param{Name: p.Name, Type: renderType(p.Type)})
	}

	if cl.Body != nil {
		c.compileExpr(fc, cl.Body)
	} else {
		c.emitLoadNil(fc)
	}
	c.emit(fc, ir.Simple(ir.OpReturn))

	locals := make([]string, 0, len(fc.locals))
	for l := range fc.locals {
		locals = append(locals, l)
	}
	sort.Strings(locals)

	c.functions = append(c.functions, ir.Function{
		Name:       name,
		Params:     params,
		ReturnType: renderType(cl.ReturnType),
		Locals:     locals,
		Code:       fc.code,
	})
	return name
}
