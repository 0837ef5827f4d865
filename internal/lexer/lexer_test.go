package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(tokens []Token) []Kind {
	out := make([]Kind, len(tokens))
	for i, t := range tokens {
		out[i] = t.Kind
	}
	return out
}

func TestInterpolation(t *testing.T) {
	tokens, diags := Tokenize(`"a${x + 3}b${y}c"`, "test.cct")
	require.False(t, diags.HasErrors(), diags.Items())

	require.Len(t, tokens, 8)
	assert.Equal(t, InterpolStart, tokens[0].Kind)
	assert.Equal(t, "a", tokens[0].Lexeme)
	assert.Equal(t, Identifier, tokens[1].Kind)
	assert.Equal(t, "x", tokens[1].Lexeme)
	assert.Equal(t, Plus, tokens[2].Kind)
	assert.Equal(t, IntLiteral, tokens[3].Kind)
	assert.Equal(t, "3", tokens[3].Lexeme)
	assert.Equal(t, InterpolMid, tokens[4].Kind)
	assert.Equal(t, "b", tokens[4].Lexeme)
	assert.Equal(t, Identifier, tokens[5].Kind)
	assert.Equal(t, "y", tokens[5].Lexeme)
	assert.Equal(t, InterpolEnd, tokens[6].Kind)
	assert.Equal(t, "c", tokens[6].Lexeme)
	assert.Equal(t, Eof, tokens[7].Kind)
}

func TestNestedBlockComments(t *testing.T) {
	tokens, diags := Tokenize("x /* outer /* inner */ still */ y", "test.cct")
	require.False(t, diags.HasErrors())
	require.Equal(t, []Kind{Identifier, Identifier, Eof}, kinds(tokens))
	assert.Equal(t, "x", tokens[0].Lexeme)
	assert.Equal(t, "y", tokens[1].Lexeme)
}

func TestNumberForms(t *testing.T) {
	tokens, diags := Tokenize("0x1F 0b101 0o17 1_000 3.14 2e10 1.5e-3", "test.cct")
	require.False(t, diags.HasErrors())
	want := []Kind{IntLiteral, IntLiteral, IntLiteral, IntLiteral, FloatLiteral, FloatLiteral, FloatLiteral, Eof}
	require.Equal(t, want, kinds(tokens))
}

func TestRawStringNoInterpolation(t *testing.T) {
	tokens, diags := Tokenize(`r#"no ${interp} here"#`, "test.cct")
	require.False(t, diags.HasErrors())
	require.Len(t, tokens, 2)
	assert.Equal(t, StringLiteral, tokens[0].Kind)
	assert.Equal(t, "no ${interp} here", tokens[0].Lexeme)
}

func TestTripleQuotedAllowsNewlines(t *testing.T) {
	tokens, diags := Tokenize("\"\"\"line one\nline two\"\"\"", "test.cct")
	require.False(t, diags.HasErrors())
	require.Len(t, tokens, 2)
	assert.Equal(t, StringLiteral, tokens[0].Kind)
	assert.Equal(t, "line one\nline two", tokens[0].Lexeme)
}

func TestUnterminatedStringErrors(t *testing.T) {
	_, diags := Tokenize(`"unterminated`, "test.cct")
	assert.True(t, diags.HasErrors())
}

func TestKeywordsAndIdentifiersDistinguished(t *testing.T) {
	tokens, diags := Tokenize("fn agentValue agent", "test.cct")
	require.False(t, diags.HasErrors())
	require.Equal(t, []Kind{Fn, Identifier, Agent, Eof}, kinds(tokens))
}

func TestPipeAndRangeOperators(t *testing.T) {
	tokens, diags := Tokenize("a |> b ?? c .. d ..= e", "test.cct")
	require.False(t, diags.HasErrors())
	var ops []Kind
	for _, tok := range tokens {
		switch tok.Kind {
		case PipeGreater, QuestionQuestion, DotDot, DotDotEqual:
			ops = append(ops, tok.Kind)
		}
	}
	assert.Equal(t, []Kind{PipeGreater, QuestionQuestion, DotDot, DotDotEqual}, ops)
}
