package runtime

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concerto-lang/concerto/internal/codegen"
	"github.com/concerto-lang/concerto/internal/lexer"
	"github.com/concerto-lang/concerto/internal/parser"
)

type emitted struct {
	channel string
	payload Value
}

func buildVM(t *testing.T, src string) (*VM, *[]emitted) {
	t.Helper()
	tokens, ldiags := lexer.Tokenize(src, "test.conc")
	require.False(t, ldiags.HasErrors(), "lex errors: %v", ldiags.Items())
	prog, pdiags := parser.Parse(tokens, "test.conc")
	require.False(t, pdiags.HasErrors(), "parse errors: %v", pdiags.Items())
	mod, cdiags := codegen.Emit(prog, "test", "test.conc")
	require.False(t, cdiags.HasErrors(), "codegen errors: %v", cdiags.Items())

	lm, err := Load(mod)
	require.NoError(t, err)

	vm := NewVM(lm)
	emits := &[]emitted{}
	vm.SetEmitHandler(func(channel string, payload Value) Value {
		*emits = append(*emits, emitted{channel: channel, payload: payload})
		return Nil()
	})
	return vm, emits
}

func runSource(t *testing.T, src string) ([]emitted, error) {
	t.Helper()
	vm, emits := buildVM(t, src)
	_, err := vm.Run()
	return *emits, err
}

func init() {
	// Backoff delays are pointless in unit tests.
	sleepFor = func(time.Duration) {}
}

func TestArithmeticProgramEmitsResult(t *testing.T) {
	emits, err := runSource(t, `fn main(){ let x=5; let y=x+3; emit("result", y); }`)
	require.NoError(t, err)
	require.Len(t, emits, 1)
	assert.Equal(t, "result", emits[0].channel)
	assert.Equal(t, IntVal(8), emits[0].payload)
}

func TestTryCatchBindsThrownValue(t *testing.T) {
	emits, err := runSource(t, `fn main(){ try { throw "boom"; } catch(e) { emit("caught", e); } }`)
	require.NoError(t, err)
	require.Len(t, emits, 1)
	assert.Equal(t, "caught", emits[0].channel)
	assert.Equal(t, StringVal("boom"), emits[0].payload)
}

func TestUncaughtThrowTerminates(t *testing.T) {
	_, err := runSource(t, `fn main(){ throw "fatal"; }`)
	require.Error(t, err)
	re, ok := err.(*RuntimeError)
	require.True(t, ok)
	assert.Equal(t, ErrUnhandledThrow, re.Kind)
}

func TestTryCatchRestoresStackDepth(t *testing.T) {
	// The error fires mid-expression, with operands already pushed; the
	// handler must still see a clean stack.
	emits, err := runSource(t, `
fn main() {
    try {
        let x = 1 + boom_divide();
        emit("never", x);
    } catch(e) {
        emit("caught", "ok");
    }
}
fn boom_divide() -> Int {
    let zero = 0;
    return 1 / zero;
}`)
	require.NoError(t, err)
	require.Len(t, emits, 1)
	assert.Equal(t, "caught", emits[0].channel)
}

func TestPropagateEarlyReturn(t *testing.T) {
	emits, err := runSource(t, `
fn might(n: Int) -> Result<Int, String> {
    if n == 0 {
        return Err("zero");
    }
    return Ok(n);
}
fn caller(n: Int) -> Result<Int, String> {
    let v = might(n)?;
    return Ok(v + 1);
}
fn main() {
    emit("ok", caller(2));
    emit("err", caller(0));
}`)
	require.NoError(t, err)
	require.Len(t, emits, 2)

	okVal := emits[0].payload
	require.Equal(t, KindResult, okVal.Kind)
	assert.True(t, okVal.ResultOk)
	assert.Equal(t, IntVal(3), *okVal.ResultVal)

	errVal := emits[1].payload
	require.Equal(t, KindResult, errVal.Kind)
	assert.False(t, errVal.ResultOk)
	assert.Equal(t, StringVal("zero"), *errVal.ResultVal)
}

func TestMatchExpression(t *testing.T) {
	emits, err := runSource(t, `
fn classify(n: Int) -> String {
    return match n {
        0 => "zero",
        1..=9 => "small",
        _ => "large",
    };
}
fn main() {
    emit("a", classify(0));
    emit("b", classify(5));
    emit("c", classify(100));
}`)
	require.NoError(t, err)
	require.Len(t, emits, 3)
	assert.Equal(t, StringVal("zero"), emits[0].payload)
	assert.Equal(t, StringVal("small"), emits[1].payload)
	assert.Equal(t, StringVal("large"), emits[2].payload)
}

func TestForLoopOverRange(t *testing.T) {
	emits, err := runSource(t, `
fn main() {
    let mut sum = 0;
    for i in 0..5 {
        sum = sum + i;
    }
    emit("sum", sum);
}`)
	require.NoError(t, err)
	require.Len(t, emits, 1)
	assert.Equal(t, IntVal(10), emits[0].payload)
}

func TestWhileLoopWithBreak(t *testing.T) {
	emits, err := runSource(t, `
fn main() {
    let mut n = 0;
    while true {
        n = n + 1;
        if n >= 3 {
            break;
        }
    }
    emit("n", n);
}`)
	require.NoError(t, err)
	assert.Equal(t, IntVal(3), emits[0].payload)
}

func TestStringInterpolation(t *testing.T) {
	emits, err := runSource(t, `
fn main() {
    let name = "world";
    emit("msg", "hello ${name}!");
}`)
	require.NoError(t, err)
	assert.Equal(t, StringVal("hello world!"), emits[0].payload)
}

func TestClosureCapturesEnclosingLocals(t *testing.T) {
	emits, err := runSource(t, `
fn main() {
    let n = 10;
    let f = |x: Int| x + n;
    emit("out", f(5));
}`)
	require.NoError(t, err)
	assert.Equal(t, IntVal(15), emits[0].payload)
}

func TestSpawnAsyncIsLazyUntilAwait(t *testing.T) {
	emits, err := runSource(t, `
async fn job(n: Int) -> Int {
    emit("ran", n);
    return n * 2;
}
fn main() {
    let t = job(21);
    emit("before", 0);
    let r = t.await;
    emit("result", r);
}`)
	require.NoError(t, err)
	require.Len(t, emits, 3)
	// The thunk must not run before the await.
	assert.Equal(t, "before", emits[0].channel)
	assert.Equal(t, "ran", emits[1].channel)
	assert.Equal(t, IntVal(42), emits[2].payload)
}

func TestAwaitAllEvaluatesInEmissionOrder(t *testing.T) {
	emits, err := runSource(t, `
async fn job(n: Int) -> Int {
    emit("ran", n);
    return n * 2;
}
fn main() {
    let results = await_all(job(1), job(2), job(3));
    emit("results", results);
}`)
	require.NoError(t, err)
	require.Len(t, emits, 4)
	assert.Equal(t, IntVal(1), emits[0].payload)
	assert.Equal(t, IntVal(2), emits[1].payload)
	assert.Equal(t, IntVal(3), emits[2].payload)
	assert.Equal(t, ArrayVal([]Value{IntVal(2), IntVal(4), IntVal(6)}), emits[3].payload)
}

func TestStackOverflowOnDeepRecursion(t *testing.T) {
	_, err := runSource(t, `
fn recurse(n: Int) -> Int {
    return recurse(n + 1);
}
fn main() {
    recurse(0);
}`)
	require.Error(t, err)
	re, ok := err.(*RuntimeError)
	require.True(t, ok)
	assert.Equal(t, ErrStackOverflow, re.Kind)
}

func TestHashMapOpcodes(t *testing.T) {
	emits, err := runSource(t, `
hashmap Cache<String, Int>;
fn main() {
    Cache.set("a", 1);
    emit("has", Cache.has("a"));
    emit("get", Cache.get("a"));
    Cache.delete("a");
    emit("after", Cache.has("a"));
}`)
	require.NoError(t, err)
	require.Len(t, emits, 3)
	assert.Equal(t, BoolVal(true), emits[0].payload)
	assert.Equal(t, IntVal(1), emits[1].payload)
	assert.Equal(t, BoolVal(false), emits[2].payload)
}

func TestMemoryAppendAndLen(t *testing.T) {
	emits, err := runSource(t, `
memory Notes {
    max_messages: 10,
}
fn main() {
    Notes.append("user", "hello");
    Notes.append("assistant", "hi");
    emit("len", Notes.len());
    Notes.clear();
    emit("cleared", Notes.len());
}`)
	require.NoError(t, err)
	assert.Equal(t, IntVal(2), emits[0].payload)
	assert.Equal(t, IntVal(0), emits[1].payload)
}

func TestLedgerAppendAndLen(t *testing.T) {
	emits, err := runSource(t, `
ledger AuditLog {
}
fn main() {
    AuditLog.append({event: "start"});
    AuditLog.append({event: "stop"});
    emit("count", AuditLog.len());
}`)
	require.NoError(t, err)
	assert.Equal(t, IntVal(2), emits[0].payload)
}

func TestMockedAgentPrompt(t *testing.T) {
	emits, err := runSource(t, `
agent Bot {
    provider: "mock",
    fn say(self, q: String) -> String {
        return self.prompt(q);
    }
}
fn main() {
    mock Bot { response: "hi there" };
    emit("reply", Bot.say("anyone home?"));
}`)
	require.NoError(t, err)
	require.Len(t, emits, 1)
	assert.Equal(t, StringVal("hi there"), emits[0].payload)
}

func TestSchemaRetrySucceedsOnSecondAttempt(t *testing.T) {
	emits, err := runSource(t, `
schema Person {
    name: String,
}
agent Helper {
    provider: "mock",
    fn ask(self, q: String) -> Map<String, String> {
        return self.prompt_schema(q, Person);
    }
}
fn main() {
    mock Helper { responses: ["this is not json", "{\"name\": \"Ada\"}"] };
    let person = Helper.ask("who?");
    emit("name", person["name"]);
}`)
	require.NoError(t, err)
	require.Len(t, emits, 1)
	assert.Equal(t, StringVal("Ada"), emits[0].payload)
}

func TestSchemaRetryExhaustionRaisesSchemaError(t *testing.T) {
	_, err := runSource(t, `
schema Person {
    name: String,
}
agent Helper {
    provider: "mock",
    fn ask(self, q: String) -> Map<String, String> {
        return self.prompt_schema(q, Person);
    }
}
fn main() {
    mock Helper { responses: ["bad", "also bad", "still bad"] };
    Helper.ask("who?");
}`)
	require.Error(t, err)
	re, ok := err.(*RuntimeError)
	require.True(t, ok)
	assert.Equal(t, ErrSchema, re.Kind)
	assert.Contains(t, re.Error(), "3 attempts")
}

func TestPipelineRunUnwrapsResultBetweenStages(t *testing.T) {
	emits, err := runSource(t, `
pipeline Calc(input: Int) -> Int {
    stage double(n: Int) -> Result<Int, String> {
        return Ok(n * 2);
    }
    stage inc(n: Int) -> Int {
        return n + 1;
    }
}
fn main() {
    emit("out", Calc.run(5));
}`)
	require.NoError(t, err)
	assert.Equal(t, IntVal(11), emits[0].payload)
}

func TestNilCoalesce(t *testing.T) {
	emits, err := runSource(t, `
fn main() {
    let missing = env("CONCERTO_DEFINITELY_NOT_SET_12345");
    let v = missing ?? Some("fallback");
    emit("v", v);
}`)
	require.NoError(t, err)
	require.Len(t, emits, 1)
}

func TestStructLiteralAndFieldAccess(t *testing.T) {
	emits, err := runSource(t, `
struct Point {
    x: Int,
    y: Int,
}
fn main() {
    let p = Point { x: 3, y: 4 };
    emit("x", p.x);
    emit("y", p.y);
}`)
	require.NoError(t, err)
	assert.Equal(t, IntVal(3), emits[0].payload)
	assert.Equal(t, IntVal(4), emits[1].payload)
}

func TestDivisionByZero(t *testing.T) {
	_, err := runSource(t, `
fn main() {
    let zero = 0;
    emit("x", 1 / zero);
}`)
	require.Error(t, err)
	re, ok := err.(*RuntimeError)
	require.True(t, ok)
	assert.Equal(t, ErrDivisionByZero, re.Kind)
}

func TestStdLibDispatch(t *testing.T) {
	emits, err := runSource(t, `
fn main() {
    emit("abs", std::math::abs(-4));
    emit("upper", std::string::upper("go"));
}`)
	require.NoError(t, err)
	assert.Equal(t, IntVal(4), emits[0].payload)
	assert.Equal(t, StringVal("GO"), emits[1].payload)
}

func TestJSONRoundTripPreservesKeyOrder(t *testing.T) {
	raw := `{"zebra":1,"apple":{"nested":true,"also":[1,2,3]},"mango":"x"}`
	v, err := DecodeJSON(raw)
	require.NoError(t, err)
	out, err := EncodeJSON(v)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestLoaderRejectsMissingEntryPoint(t *testing.T) {
	tokens, _ := lexer.Tokenize(`fn helper(){ }`, "test.conc")
	prog, _ := parser.Parse(tokens, "test.conc")
	mod, cdiags := codegen.Emit(prog, "test", "test.conc")
	require.False(t, cdiags.HasErrors())

	_, err := Load(mod)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "entry point"))
}

func TestAgentBuilderWithMemory(t *testing.T) {
	vm, emits := buildVM(t, `
memory Conv {
    max_messages: 50,
}
agent Bot {
    provider: "mock",
}
fn main() {
    mock Bot { response: "reply" };
    let answer = Bot.with_memory(Conv).run("question");
    emit("answer", answer);
    emit("turns", Conv.len());
}`)
	_, err := vm.Run()
	require.NoError(t, err)
	require.Len(t, *emits, 2)
	assert.Equal(t, StringVal("reply"), (*emits)[0].payload)
	// Auto-append recorded both the user prompt and the reply.
	assert.Equal(t, IntVal(2), (*emits)[1].payload)
}
