package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/concerto-lang/concerto/internal/ast"
	"github.com/concerto-lang/concerto/internal/lexer"
)

func parseSource(t *testing.T, src string) *ast.Program {
	t.Helper()
	tokens, diags := lexer.Tokenize(src, "test.conc")
	require.False(t, diags.HasErrors(), "lex errors: %v", diags.Items())
	prog, pdiags := Parse(tokens, "test.conc")
	require.False(t, pdiags.HasErrors(), "parse errors: %v", pdiags.Items())
	return prog
}

func TestParseArithmeticProgram(t *testing.T) {
	prog := parseSource(t, `fn main(){ let x=5; let y=x+3; emit(result, y); }`)
	require.Len(t, prog.Declarations, 1)

	fn, ok := prog.Declarations[0].(*ast.FunctionDecl)
	require.True(t, ok)
	require.Equal(t, "main", fn.Name)
	require.Len(t, fn.Body.Stmts, 3)

	let1, ok := fn.Body.Stmts[0].(*ast.LetStmt)
	require.True(t, ok)
	require.Equal(t, "x", let1.Name)

	let2, ok := fn.Body.Stmts[1].(*ast.LetStmt)
	require.True(t, ok)
	bin, ok := let2.Value.(*ast.BinaryExpr)
	require.True(t, ok)
	require.Equal(t, ast.OpAdd, bin.Op)

	emit, ok := fn.Body.Stmts[2].(*ast.EmitStmt)
	require.True(t, ok)
	require.False(t, emit.Await)
}

func TestParseTryCatch(t *testing.T) {
	prog := parseSource(t, `fn main(){ try { throw "boom"; } catch(e) { emit(caught, e); } }`)
	fn := prog.Declarations[0].(*ast.FunctionDecl)
	require.Len(t, fn.Body.Stmts, 1)

	tc, ok := fn.Body.Stmts[0].(*ast.TryCatchStmt)
	require.True(t, ok)
	require.Equal(t, "e", tc.CatchBinding)

	throw, ok := tc.Body.Stmts[0].(*ast.ThrowStmt)
	require.True(t, ok)
	lit, ok := throw.Value.(*ast.StringLit)
	require.True(t, ok)
	require.Equal(t, "boom", lit.Value)
}

func TestParseAgentDecl(t *testing.T) {
	prog := parseSource(t, `
agent Researcher {
    provider: "openai",
    fn summarize(self, text: String) -> String {
        return text;
    }
}`)
	require.Len(t, prog.Declarations, 1)
	agent, ok := prog.Declarations[0].(*ast.AgentDecl)
	require.True(t, ok)
	require.Equal(t, "Researcher", agent.Name)
	require.Len(t, agent.Fields, 1)
	require.Equal(t, "provider", agent.Fields[0].Name)
	require.Len(t, agent.Methods, 1)
	require.Equal(t, "summarize", agent.Methods[0].Name)
	require.NotNil(t, agent.Methods[0].SelfParam)
}

func TestParsePipelineDecl(t *testing.T) {
	prog := parseSource(t, `
pipeline Summarize(input: String) -> String {
    stage clean(text: String) -> String {
        return text;
    }
    stage run(text: String) -> String {
        return text;
    }
}`)
	pl, ok := prog.Declarations[0].(*ast.PipelineDecl)
	require.True(t, ok)
	require.Equal(t, "Summarize", pl.Name)
	require.Len(t, pl.Stages, 2)
	require.Equal(t, "clean", pl.Stages[0].Name)
	require.Equal(t, "run", pl.Stages[1].Name)
}

func TestParseMatchExpr(t *testing.T) {
	prog := parseSource(t, `
fn classify(n: Int) -> String {
    return match n {
        0 => "zero",
        1..=9 => "small",
        _ => "large",
    };
}`)
	fn := prog.Declarations[0].(*ast.FunctionDecl)
	ret := fn.Body.Stmts[0].(*ast.ReturnStmt)
	m, ok := ret.Value.(*ast.MatchExpr)
	require.True(t, ok)
	require.Len(t, m.Arms, 3)

	_, isRange := m.Arms[1].Pattern.(*ast.RangePattern)
	require.True(t, isRange)
	_, isWildcard := m.Arms[2].Pattern.(*ast.WildcardPattern)
	require.True(t, isWildcard)
}

func TestParsePipeAndClosure(t *testing.T) {
	prog := parseSource(t, `fn main(){ let r = data |> |x| x + 1; }`)
	fn := prog.Declarations[0].(*ast.FunctionDecl)
	let := fn.Body.Stmts[0].(*ast.LetStmt)
	pipe, ok := let.Value.(*ast.PipeExpr)
	require.True(t, ok)
	closure, ok := pipe.RHS.(*ast.ClosureExpr)
	require.True(t, ok)
	require.Len(t, closure.Params, 1)
	require.Equal(t, "x", closure.Params[0].Name)
}

func TestParseStructLiteralVsIfBlock(t *testing.T) {
	prog := parseSource(t, `
fn main(){
    if x {
        return 1;
    }
    let p = Point { x: 1, y: 2 };
}`)
	fn := prog.Declarations[0].(*ast.FunctionDecl)
	require.Len(t, fn.Body.Stmts, 2)

	exprStmt, ok := fn.Body.Stmts[0].(*ast.ExprStmt)
	require.True(t, ok)
	_, isIf := exprStmt.Expr.(*ast.IfExpr)
	require.True(t, isIf)

	let := fn.Body.Stmts[1].(*ast.LetStmt)
	lit, ok := let.Value.(*ast.StructLit)
	require.True(t, ok)
	require.Equal(t, "Point", lit.TypeName)
	require.Len(t, lit.Fields, 2)
}
