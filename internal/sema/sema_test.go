package sema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concerto-lang/concerto/internal/diag"
	"github.com/concerto-lang/concerto/internal/lexer"
	"github.com/concerto-lang/concerto/internal/parser"
)

func analyzeSource(t *testing.T, src string) *diag.Bag {
	t.Helper()
	tokens, ldiags := lexer.Tokenize(src, "test.conc")
	require.False(t, ldiags.HasErrors(), "lex errors: %v", ldiags.Items())
	prog, pdiags := parser.Parse(tokens, "test.conc")
	require.False(t, pdiags.HasErrors(), "parse errors: %v", pdiags.Items())
	return Analyze(prog)
}

func errorMessages(bag *diag.Bag) []string {
	var out []string
	for _, d := range bag.Items() {
		if d.Severity == diag.SeverityError {
			out = append(out, d.Message)
		}
	}
	return out
}

func TestCleanProgram(t *testing.T) {
	bag := analyzeSource(t, `
fn add(a: Int, b: Int) -> Int {
    return a + b;
}

fn main() {
    let total = add(1, 2);
    emit("result", total);
}`)
	assert.False(t, bag.HasErrors(), "unexpected errors: %v", bag.Items())
}

func TestUndefinedName(t *testing.T) {
	bag := analyzeSource(t, `fn main() { let x = missing; emit("x", x); }`)
	require.True(t, bag.HasErrors())
	assert.Contains(t, errorMessages(bag)[0], "undefined name 'missing'")
}

func TestDuplicateDefinitionCitesPrior(t *testing.T) {
	bag := analyzeSource(t, `
fn main() {
    let x = 1;
    let x = 2;
    emit("x", x);
}`)
	require.True(t, bag.HasErrors())
	found := false
	for _, d := range bag.Items() {
		if strings.Contains(d.Message, "duplicate definition of 'x'") {
			found = true
			require.Len(t, d.Related, 1)
		}
	}
	assert.True(t, found)
}

func TestShadowingInChildScopeAllowed(t *testing.T) {
	bag := analyzeSource(t, `
fn main() {
    let x = 1;
    if x == 1 {
        let x = "inner";
        emit("inner", x);
    }
    emit("outer", x);
}`)
	assert.False(t, bag.HasErrors(), "shadowing must be permitted: %v", bag.Items())
}

func TestBreakOutsideLoop(t *testing.T) {
	bag := analyzeSource(t, `fn main() { break; }`)
	require.True(t, bag.HasErrors())
	assert.Contains(t, errorMessages(bag)[0], "break outside of a loop")
}

func TestBreakInsideLoopAllowed(t *testing.T) {
	bag := analyzeSource(t, `
fn main() {
    while true {
        break;
    }
}`)
	assert.False(t, bag.HasErrors(), "%v", bag.Items())
}

func TestThrowRequiresResultReturn(t *testing.T) {
	bag := analyzeSource(t, `fn bad() -> Int { throw "boom"; }`)
	require.True(t, bag.HasErrors())
	assert.Contains(t, errorMessages(bag)[0], "throw requires the enclosing function to return a Result")

	ok := analyzeSource(t, `fn good() -> Result<Int, String> { throw "boom"; }`)
	assert.False(t, ok.HasErrors(), "%v", ok.Items())
}

func TestPropagateRequiresResultOrOption(t *testing.T) {
	bag := analyzeSource(t, `
fn inner() -> Result<Int, String> { return Ok(1); }
fn bad() -> Int { return inner()?; }`)
	require.True(t, bag.HasErrors())
	assert.Contains(t, strings.Join(errorMessages(bag), "\n"), "'?' requires the enclosing function to return Result or Option")
}

func TestAwaitOutsideAsync(t *testing.T) {
	bag := analyzeSource(t, `
async fn fetch(url: String) -> String { return url; }
fn main() { let x = fetch("u").await; emit("x", x); }`)
	require.True(t, bag.HasErrors())
	assert.Contains(t, strings.Join(errorMessages(bag), "\n"), "'.await' outside of an async context")
}

func TestArithmeticTypeError(t *testing.T) {
	bag := analyzeSource(t, `fn main() { let x = 1 - "two"; emit("x", x); }`)
	require.True(t, bag.HasErrors())
	assert.Contains(t, errorMessages(bag)[0], "numeric operands")
}

func TestStringConcatAndNumericPromotion(t *testing.T) {
	bag := analyzeSource(t, `
fn main() {
    let s = "a" + "b";
    let f = 1 + 2.5;
    emit(s, f);
}`)
	assert.False(t, bag.HasErrors(), "%v", bag.Items())
}

func TestPipelineStageMismatchNamesBothStages(t *testing.T) {
	bag := analyzeSource(t, `
pipeline P(input: Int) -> String {
    stage first(n: Int) -> Int {
        return n;
    }
    stage second(s: String) -> String {
        return s;
    }
}`)
	require.True(t, bag.HasErrors())
	msg := strings.Join(errorMessages(bag), "\n")
	assert.Contains(t, msg, "first")
	assert.Contains(t, msg, "second")
	assert.Contains(t, msg, "Int")
	assert.Contains(t, msg, "String")
}

func TestPipelineResultUnwrapAccepted(t *testing.T) {
	bag := analyzeSource(t, `
pipeline P(input: String) -> String {
    stage fetch(q: String) -> Result<String, String> {
        return Ok(q);
    }
    stage format(s: String) -> String {
        return s;
    }
}`)
	assert.False(t, bag.HasErrors(), "Result<T,E> -> T must unwrap at stage boundary: %v", bag.Items())
}

func TestAgentRequiresProvider(t *testing.T) {
	bag := analyzeSource(t, `
agent A {
    model: "m",
}`)
	require.True(t, bag.HasErrors())
	assert.Contains(t, errorMessages(bag)[0], "must declare a provider")
}

func TestToolRequiresDescription(t *testing.T) {
	bag := analyzeSource(t, `
tool T {
    version: "1",
}`)
	require.True(t, bag.HasErrors())
	assert.Contains(t, strings.Join(errorMessages(bag), "\n"), "must declare a description")
}

func TestFunctionParamsNeedAnnotations(t *testing.T) {
	bag := analyzeSource(t, `fn f(x) { emit("x", x); }`)
	require.True(t, bag.HasErrors())
	assert.Contains(t, errorMessages(bag)[0], "missing a type annotation")
}

func TestUnusedVariableWarning(t *testing.T) {
	bag := analyzeSource(t, `fn main() { let unused = 1; }`)
	assert.False(t, bag.HasErrors())
	var warned bool
	for _, d := range bag.Items() {
		if d.Severity == diag.SeverityWarning && strings.Contains(d.Message, "unused variable 'unused'") {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestUnderscorePrefixSuppressesUnusedWarning(t *testing.T) {
	bag := analyzeSource(t, `fn main() { let _unused = 1; }`)
	assert.Empty(t, bag.Items())
}

func TestAnalyzeIsIdempotent(t *testing.T) {
	src := `
fn main() {
    let x = 1;
    let y = nope;
    emit("x", x + y);
}`
	tokens, _ := lexer.Tokenize(src, "test.conc")
	prog, _ := parser.Parse(tokens, "test.conc")

	first := Analyze(prog)
	second := Analyze(prog)
	require.Equal(t, len(first.Items()), len(second.Items()))
	for i := range first.Items() {
		assert.Equal(t, first.Items()[i], second.Items()[i])
	}
}

func TestImmutableAssignmentRejected(t *testing.T) {
	bag := analyzeSource(t, `
fn main() {
    let x = 1;
    x = 2;
    emit("x", x);
}`)
	require.True(t, bag.HasErrors())
	assert.Contains(t, errorMessages(bag)[0], "immutable")

	ok := analyzeSource(t, `
fn main() {
    let mut x = 1;
    x = 2;
    emit("x", x);
}`)
	assert.False(t, ok.HasErrors(), "%v", ok.Items())
}
