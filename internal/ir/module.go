package ir

// Module is the top-level unit the compiler emits and the VM loads: a
// self-contained, versioned description of one compiled Concerto program.
type Module struct {
	Version    int    `json:"version"`
	Module     string `json:"module"`
	SourceFile string `json:"source_file"`

	Constants []Constant `json:"constants"`
	Types     []TypeDef  `json:"types,omitempty"`
	Functions []Function `json:"functions"`

	Agents      []Agent      `json:"agents,omitempty"`
	Tools       []Tool       `json:"tools,omitempty"`
	Schemas     []Schema     `json:"schemas,omitempty"`
	Connections []Connection `json:"connections,omitempty"`
	Databases   []Database   `json:"databases,omitempty"`
	Pipelines   []Pipeline   `json:"pipelines,omitempty"`
	Ledgers     []Ledger     `json:"ledgers,omitempty"`
	HashMaps    []HashMap    `json:"hashmaps,omitempty"`
	Memories    []Memory     `json:"memories,omitempty"`
	Hosts       []Host       `json:"hosts,omitempty"`
	Listens     []Listen     `json:"listens,omitempty"`

	SourceMap *SourceMap `json:"source_map,omitempty"`
	Metadata  Metadata   `json:"metadata"`
}

// CurrentVersion is the IR format version this package reads and writes.
const CurrentVersion = 1

// ConstKind is the closed set of constant-pool value kinds.
type ConstKind string

const (
	ConstInt    ConstKind = "int"
	ConstFloat  ConstKind = "float"
	ConstString ConstKind = "string"
	ConstBool   ConstKind = "bool"
	ConstNil    ConstKind = "nil"
)

// Constant is one deduplicated entry of the module's constant pool.
type Constant struct {
	Index int       `json:"index"`
	Kind  ConstKind `json:"kind"`
	Value any       `json:"value,omitempty"`
}

// TypeField is one field of a struct TypeDef.
type TypeField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// EnumVariant is one variant of an enum TypeDef.
type EnumVariant struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields,omitempty"`
}

// TypeDef describes a struct or enum declared by the source program, kept
// in the IR for runtime CHECK_TYPE/CAST/BUILD_STRUCT and debugger display.
type TypeDef struct {
	Name     string        `json:"name"`
	Kind     string        `json:"kind"` // "struct" | "enum"
	Fields   []TypeField   `json:"fields,omitempty"`
	Variants []EnumVariant `json:"variants,omitempty"`
}

// Param is one function parameter.
type Param struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Default *int   `json:"default_const,omitempty"`
}

// Function is one compiled function body, qualified as `Owner::method`
// for agent/host/tool/pipeline-stage methods and bare for free functions.
type Function struct {
	Name       string        `json:"name"`
	Params     []Param       `json:"params"`
	HasSelf    bool          `json:"has_self,omitempty"`
	ReturnType string        `json:"return_type,omitempty"`
	IsAsync    bool          `json:"is_async,omitempty"`
	Locals     []string      `json:"locals,omitempty"`
	Code       []Instruction `json:"code"`
}

// Decorator is `@name(args)` lowered into the IR for runtime handling by
// the decorator subsystem (retry/timeout).
type Decorator struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Agent is a compiled `agent Name { ... }` declaration.
type Agent struct {
	Name       string            `json:"name"`
	Connection string            `json:"connection,omitempty"`
	Config     map[string]any    `json:"config,omitempty"`
	Tools      []string          `json:"tools,omitempty"`
	Memory     string            `json:"memory,omitempty"`
	Decorators []Decorator       `json:"decorators,omitempty"`
	Methods    []string          `json:"methods"`
}

// Host is a compiled `host Name { ... }` declaration: a subprocess-backed
// peer instead of an LLM-backed one.
type Host struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Tools   []string          `json:"tools,omitempty"`
	Methods []string          `json:"methods"`
}

// Tool is a compiled `tool Name { ... }` declaration exposed to agents.
type Tool struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Methods     []string `json:"methods"`
}

// Schema is a compiled `schema Name { fields }`, carried as a JSON Schema
// document for CALL_MODEL_SCHEMA validation.
type Schema struct {
	Name           string         `json:"name"`
	JSONSchema     map[string]any `json:"json_schema"`
	ValidationMode string         `json:"validation_mode,omitempty"` // "strict" | "best_effort"
}

// RetryConfig is the connection-level retry policy for model calls.
type RetryConfig struct {
	MaxAttempts    int    `json:"max_attempts"`
	Backoff        string `json:"backoff"` // "none" | "linear" | "exponential"
	InitialDelayMs int    `json:"initial_delay_ms,omitempty"`
	MaxDelayMs     int    `json:"max_delay_ms,omitempty"`
}

// Connection is a compiled `connection Name { ... }` / manifest-derived
// provider binding.
type Connection struct {
	Name         string            `json:"name"`
	Provider     string            `json:"provider"`
	APIKeyEnv    string            `json:"api_key_env,omitempty"`
	BaseURL      string            `json:"base_url,omitempty"`
	DefaultModel string            `json:"default_model,omitempty"`
	TimeoutSecs  int               `json:"timeout_secs,omitempty"`
	Retry        RetryConfig       `json:"retry"`
	Models       map[string]string `json:"models,omitempty"`
}

// Database is a compiled `database Name { ... }` binding.
type Database struct {
	Name   string `json:"name"`
	Driver string `json:"driver,omitempty"`
	DSNEnv string `json:"dsn_env,omitempty"`
}

// PipelineStage is one compiled stage of a pipeline.
type PipelineStage struct {
	Name       string        `json:"name"`
	Function   string        `json:"function"` // qualified function name for the stage body
	InputType  string        `json:"input_type,omitempty"`
	OutputType string        `json:"output_type,omitempty"`
	Decorators []Decorator   `json:"decorators,omitempty"`
}

// Pipeline is a compiled `pipeline Name(input) -> output { stage ... }`.
type Pipeline struct {
	Name       string          `json:"name"`
	InputType  string          `json:"input_type,omitempty"`
	OutputType string          `json:"output_type,omitempty"`
	Stages     []PipelineStage `json:"stages"`
}

// Ledger is a compiled `ledger Name { fields }`: an append-only record
// store backing the runtime's LedgerStore.
type Ledger struct {
	Name   string         `json:"name"`
	Fields map[string]any `json:"fields,omitempty"`
}

// HashMap is a compiled `hashmap Name<K,V>`.
type HashMap struct {
	Name      string `json:"name"`
	KeyType   string `json:"key_type"`
	ValueType string `json:"value_type"`
}

// Memory is a compiled `memory Name { ... }` conversation buffer binding.
type Memory struct {
	Name        string `json:"name"`
	MaxMessages int    `json:"max_messages,omitempty"`
	Recall      bool   `json:"recall,omitempty"`
}

// Listen is a compiled `listen { ... }` streaming-loop declaration.
type Listen struct {
	Name     string `json:"name"`
	Source   string `json:"source"` // agent/host/mcp name the loop reads from
	Function string `json:"function"`
}

// SourceMapping ties one instruction's position in a function's code
// array back to its originating source span.
type SourceMapping struct {
	Function         string `json:"function"`
	InstructionIndex int    `json:"instruction_index"`
	Line             int    `json:"line"`
	Column           int    `json:"column"`
}

// SourceMap is the full instruction-to-source mapping for a module,
// consulted by the debug server and by runtime error reporting.
type SourceMap struct {
	Mappings []SourceMapping `json:"mappings"`
}

// Metadata carries module-level facts that are neither code nor data.
type Metadata struct {
	EntryPoint  string `json:"entry_point,omitempty"`
	InitFunction string `json:"init_function,omitempty"`
	CompiledAt  string `json:"compiled_at,omitempty"`
	CompilerTag string `json:"compiler_tag,omitempty"`
}
