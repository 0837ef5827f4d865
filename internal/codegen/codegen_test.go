package codegen

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/concerto-lang/concerto/internal/ir"
	"github.com/concerto-lang/concerto/internal/lexer"
	"github.com/concerto-lang/concerto/internal/parser"
)

func compileSource(t *testing.T, src string) *ir.Module {
	t.Helper()
	tokens, diags := lexer.Tokenize(src, "test.conc")
	require.False(t, diags.HasErrors(), "lex errors: %v", diags.Items())
	prog, pdiags := parser.Parse(tokens, "test.conc")
	require.False(t, pdiags.HasErrors(), "parse errors: %v", pdiags.Items())
	mod, cdiags := Emit(prog, "test", "test.conc")
	require.False(t, cdiags.HasErrors(), "codegen errors: %v", cdiags.Items())
	return mod
}

func TestEmitArithmeticProgram(t *testing.T) {
	mod := compileSource(t, `fn main(){ let x=5; let y=x+3; emit(result, y); }`)
	require.Equal(t, "main", mod.Metadata.EntryPoint)
	require.Len(t, mod.Functions, 1)

	fn := mod.Functions[0]
	require.Equal(t, "main", fn.Name)

	var sawAdd, sawEmit, sawStoreX bool
	for _, instr := range fn.Code {
		switch instr.Op {
		case ir.OpAdd:
			sawAdd = true
		case ir.OpEmit:
			sawEmit = true
		case ir.OpStoreLocal:
			if instr.Name == "x" {
				sawStoreX = true
			}
		}
	}
	require.True(t, sawAdd)
	require.True(t, sawEmit)
	require.True(t, sawStoreX)
	require.Equal(t, ir.OpReturn, fn.Code[len(fn.Code)-1].Op)
}

func TestEmitTryCatch(t *testing.T) {
	mod := compileSource(t, `fn main(){ try { throw "boom"; } catch(e) { emit(caught, e); } }`)
	fn := mod.Functions[0]

	var sawTryBegin, sawCatch, sawThrow bool
	for _, instr := range fn.Code {
		switch instr.Op {
		case ir.OpTryBegin:
			sawTryBegin = true
		case ir.OpCatch:
			sawCatch = true
			require.Equal(t, "e", instr.Name)
		case ir.OpThrow:
			sawThrow = true
		}
	}
	require.True(t, sawTryBegin)
	require.True(t, sawCatch)
	require.True(t, sawThrow)
}

func TestEmitAgentDecl(t *testing.T) {
	mod := compileSource(t, `
agent Researcher {
    provider: "openai",
    fn summarize(self, text: String) -> String {
        return text;
    }
}`)
	require.Len(t, mod.Agents, 1)
	require.Equal(t, "Researcher", mod.Agents[0].Name)
	require.Equal(t, "openai", mod.Agents[0].Connection)
	require.Contains(t, mod.Agents[0].Methods, "summarize")

	var found bool
	for _, fn := range mod.Functions {
		if fn.Name == "Researcher::summarize" {
			found = true
			require.True(t, fn.HasSelf)
		}
	}
	require.True(t, found)
}

func TestEmitMatchExpr(t *testing.T) {
	mod := compileSource(t, `
fn classify(n: Int) -> String {
    return match n {
        0 => "zero",
        1..=9 => "small",
        _ => "large",
    };
}`)
	fn := mod.Functions[0]
	var sawRangeTest, sawThrowOnExhaustion bool
	for i, instr := range fn.Code {
		if instr.Op == ir.OpGte && i+1 < len(fn.Code) && fn.Code[i+1].Op == ir.OpLoadLocal {
			sawRangeTest = true
		}
		if instr.Op == ir.OpThrow {
			sawThrowOnExhaustion = true
		}
	}
	require.True(t, sawRangeTest)
	require.True(t, sawThrowOnExhaustion)
}

func TestEmitPipelineDecl(t *testing.T) {
	mod := compileSource(t, `
pipeline Summarize(input: String) -> String {
    stage clean(text: String) -> String {
        return text;
    }
    stage run(text: String) -> String {
        return text;
    }
}`)
	require.Len(t, mod.Pipelines, 1)
	require.Len(t, mod.Pipelines[0].Stages, 2)
	require.Equal(t, "Summarize::clean", mod.Pipelines[0].Stages[0].Function)
}
