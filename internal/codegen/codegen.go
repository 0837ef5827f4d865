// Package codegen lowers a Concerto AST into the IR module the VM loads:
// a deduplicated constant pool, one ir.Function per function/method/stage,
// and the declarative tables (agents, hosts, tools, schemas, ...) the
// runtime needs alongside the bytecode.
package codegen

import (
	"fmt"
	"sort"

	"github.com/concerto-lang/concerto/internal/ast"
	"github.com/concerto-lang/concerto/internal/diag"
	"github.com/concerto-lang/concerto/internal/ir"
)

// Compiler accumulates a module's constant pool and compiled functions
// across a single Emit call. It is not reused between programs.
type Compiler struct {
	diags *diag.Bag

	moduleName string
	sourceFile string

	constants   []ir.Constant
	constIndex  map[string]int
	functions   []ir.Function
	types       []ir.TypeDef
	agents      []ir.Agent
	hosts       []ir.Host
	tools       []ir.Tool
	schemas     []ir.Schema
	connections []ir.Connection
	databases   []ir.Database
	pipelines   []ir.Pipeline
	ledgers     []ir.Ledger
	hashmaps    []ir.HashMap
	memories    []ir.Memory
	listens     []ir.Listen

	hashmapNames map[string]bool
	funcNames    map[string]bool // declared free-function / method names, for CALL vs SPAWN_ASYNC/dynamic-call resolution
	asyncFuncs   map[string]bool

	tmpCounter int
}

// Emit compiles prog into a complete IR module. Compilation never aborts
// on the first problem; check diags.HasErrors() before trusting the
// returned module.
func Emit(prog *ast.Program, moduleName, sourceFile string) (*ir.Module, *diag.Bag) {
	c := &Compiler{
		diags:        diag.NewBag(),
		moduleName:   moduleName,
		sourceFile:   sourceFile,
		constIndex:   map[string]int{},
		hashmapNames: map[string]bool{},
		funcNames:    map[string]bool{},
		asyncFuncs:   map[string]bool{},
	}

	c.collectNames(prog.Declarations)

	var initInstrs []ir.Instruction
	entry := ""

	for _, d := range prog.Declarations {
		switch decl := d.(type) {
		case *ast.FunctionDecl:
			c.compileFunction(decl, "")
			if decl.Name == "main" {
				entry = "main"
			}
		case *ast.AgentDecl:
			c.compileAgent(decl)
		case *ast.HostDecl:
			c.compileHost(decl)
		case *ast.ToolDecl:
			c.compileTool(decl)
		case *ast.SchemaDecl:
			c.compileSchema(decl)
		case *ast.PipelineDecl:
			c.compilePipeline(decl)
		case *ast.StructDecl:
			c.compileStructType(decl)
		case *ast.EnumDecl:
			c.compileEnumType(decl)
		case *ast.HashMapDecl:
			c.hashmaps = append(c.hashmaps, ir.HashMap{
				Name:      decl.Name,
				KeyType:   renderType(decl.KeyType),
				ValueType: renderType(decl.ValueType),
			})
		case *ast.LedgerDecl:
			c.ledgers = append(c.ledgers, ir.Ledger{Name: decl.Name, Fields: c.staticFieldMap(decl.Fields)})
		case *ast.MemoryDecl:
			fields := c.staticFieldMap(decl.Fields)
			mem := ir.Memory{Name: decl.Name}
			if v, ok := fields["max_messages"]; ok {
				if n, ok := toInt(v); ok {
					mem.MaxMessages = n
				}
			}
			if v, ok := fields["recall"]; ok {
				if b, ok := v.(bool); ok {
					mem.Recall = b
				}
			}
			c.memories = append(c.memories, mem)
		case *ast.ConstDecl:
			c.compileGlobalConst(decl, &initInstrs)
		case *ast.ImplDecl:
			for _, m := range decl.Methods {
				c.compileFunction(m, decl.TargetType)
			}
		case *ast.TraitDecl, *ast.TypeAliasDecl, *ast.UseDecl, *ast.McpDecl:
			// Compile-time only: trait signatures are sema's concern, type
			// aliases resolve to their target at sema time, use-imports
			// don't affect a single-file module's runtime shape, and MCP
			// server bindings live in the manifest, not the IR.
		case *ast.ModuleDecl:
			c.collectNames(decl.Declarations)
			for _, nested := range decl.Declarations {
				c.emitTop(nested, &initInstrs, &entry)
			}
		default:
			c.diags.Error(fmt.Sprintf("codegen: unhandled declaration %T", d), d.DeclSpan())
		}
	}

	initFn := ""
	if len(initInstrs) > 0 {
		initInstrs = append(initInstrs, ir.Simple(ir.OpReturn))
		initFn = "::init"
		c.functions = append(c.functions, ir.Function{Name: initFn, Code: initInstrs})
	}

	mod := &ir.Module{
		Version:     ir.CurrentVersion,
		Module:      moduleName,
		SourceFile:  sourceFile,
		Constants:   c.constants,
		Types:       c.types,
		Functions:   c.functions,
		Agents:      c.agents,
		Tools:       c.tools,
		Schemas:     c.schemas,
		Connections: c.connections,
		Databases:   c.databases,
		Pipelines:   c.pipelines,
		Ledgers:     c.ledgers,
		HashMaps:    c.hashmaps,
		Memories:    c.memories,
		Hosts:       c.hosts,
		Listens:     c.listens,
		Metadata:    ir.Metadata{EntryPoint: entry, InitFunction: initFn, CompilerTag: "concertoc"},
	}
	return mod, c.diags
}

// emitTop handles one declaration found inside a nested `mod { ... }`
// block. It covers functions, agents, hosts, tools, schemas, pipelines,
// structs, enums and consts; any other declaration kind inside a nested
// module (hashmap, ledger, memory, impl, a further nested mod, ...) is
// skipped without a diagnostic.
func (c *Compiler) emitTop(d ast.Decl, initInstrs *[]ir.Instruction, entry *string) {
	switch decl := d.(type) {
	case *ast.FunctionDecl:
		c.compileFunction(decl, "")
		if decl.Name == "main" {
			*entry = "main"
		}
	case *ast.AgentDecl:
		c.compileAgent(decl)
	case *ast.HostDecl:
		c.compileHost(decl)
	case *ast.ToolDecl:
		c.compileTool(decl)
	case *ast.SchemaDecl:
		c.compileSchema(decl)
	case *ast.PipelineDecl:
		c.compilePipeline(decl)
	case *ast.StructDecl:
		c.compileStructType(decl)
	case *ast.EnumDecl:
		c.compileEnumType(decl)
	case *ast.ConstDecl:
		c.compileGlobalConst(decl, initInstrs)
	}
}

// collectNames pre-scans declarations for function/method/hashmap names so
// call-site codegen can distinguish a direct function call from a dynamic
// (closure-value) call before that function's own body is compiled.
func (c *Compiler) collectNames(decls []ast.Decl) {
	for _, d := range decls {
		switch decl := d.(type) {
		case *ast.FunctionDecl:
			c.funcNames[decl.Name] = true
			if decl.IsAsync {
				c.asyncFuncs[decl.Name] = true
			}
		case *ast.AgentDecl:
			for _, m := range decl.Methods {
				qn := decl.Name + "::" + m.Name
				c.funcNames[qn] = true
				if m.IsAsync {
					c.asyncFuncs[qn] = true
				}
			}
		case *ast.HostDecl:
			for _, m := range decl.Methods {
				c.funcNames[decl.Name+"::"+m.Name] = true
			}
		case *ast.ToolDecl:
			for _, m := range decl.Methods {
				c.funcNames[decl.Name+"::"+m.Name] = true
			}
		case *ast.ImplDecl:
			for _, m := range decl.Methods {
				c.funcNames[decl.TargetType+"::"+m.Name] = true
			}
		case *ast.HashMapDecl:
			c.hashmapNames[decl.Name] = true
		case *ast.ModuleDecl:
			c.collectNames(decl.Declarations)
		}
	}
}

// constIndexFor returns the constant pool index for (kind, value),
// interning a new entry only the first time a given pair is seen.
func (c *Compiler) constIndexFor(kind ir.ConstKind, value any) int {
	key := fmt.Sprintf("%s:%v", kind, value)
	if idx, ok := c.constIndex[key]; ok {
		return idx
	}
	idx := len(c.constants)
	c.constants = append(c.constants, ir.Constant{Index: idx, Kind: kind, Value: value})
	c.constIndex[key] = idx
	return idx
}

func (c *Compiler) newTemp(prefix string) string {
	c.tmpCounter++
	return fmt.Sprintf("$%s_%d", prefix, c.tmpCounter)
}

func renderType(t ast.TypeExpr) string {
	if t == nil {
		return ""
	}
	switch tt := t.(type) {
	case *ast.NamedType:
		return tt.Name
	case *ast.GenericType:
		s := tt.Name + "<"
		for i, a := range tt.Args {
			if i > 0 {
				s += ","
			}
			s += renderType(a)
		}
		return s + ">"
	case *ast.TupleType:
		s := "("
		for i, e := range tt.Elements {
			if i > 0 {
				s += ","
			}
			s += renderType(e)
		}
		return s + ")"
	case *ast.FunctionType:
		s := "fn("
		for i, p := range tt.Params {
			if i > 0 {
				s += ","
			}
			s += renderType(p)
		}
		return s + ")->" + renderType(tt.Return)
	case *ast.StringUnionType:
		s := ""
		for i, m := range tt.Members {
			if i > 0 {
				s += "|"
			}
			s += `"` + m + `"`
		}
		return s
	default:
		return ""
	}
}

// staticFieldMap evaluates a FieldInit list whose values are expected to
// be literal expressions (declaration-level config, not runtime code),
// e.g. a ledger's field defaults or a memory block's `max_messages: 20`.
func (c *Compiler) staticFieldMap(fields []ast.FieldInit) map[string]any {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		v, ok := staticValue(f.Value)
		if !ok {
			c.diags.Error("field '"+f.Name+"' must be a literal value here", f.Span)
			continue
		}
		out[f.Name] = v
	}
	return out
}

// staticValue evaluates the literal subset of Expr usable in declaration
// bodies (string/int/float/bool/nil/array/map of the same).
func staticValue(e ast.Expr) (any, bool) {
	switch v := e.(type) {
	case *ast.StringLit:
		return v.Value, true
	case *ast.IntLit:
		return v.Value, true
	case *ast.FloatLit:
		return v.Value, true
	case *ast.BoolLit:
		return v.Value, true
	case *ast.NilLit:
		return nil, true
	case *ast.ArrayLit:
		out := make([]any, 0, len(v.Elements))
		for _, el := range v.Elements {
			sv, ok := staticValue(el)
			if !ok {
				return nil, false
			}
			out = append(out, sv)
		}
		return out, true
	case *ast.MapLit:
		out := map[string]any{}
		for _, entry := range v.Entries {
			k, ok := staticValue(entry.Key)
			if !ok {
				return nil, false
			}
			ks, _ := k.(string)
			val, ok := staticValue(entry.Value)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

func (c *Compiler) compileStructType(d *ast.StructDecl) {
	fields := make([]ir.TypeField, 0, len(d.Fields))
	for _, f := range d.Fields {
		fields = append(fields, ir.TypeField{Name: f.Name, Type: renderType(f.Type)})
	}
	c.types = append(c.types, ir.TypeDef{Name: d.Name, Kind: "struct", Fields: fields})
}

func (c *Compiler) compileEnumType(d *ast.EnumDecl) {
	variants := make([]ir.EnumVariant, 0, len(d.Variants))
	for _, v := range d.Variants {
		fieldTypes := make([]string, 0, len(v.Fields))
		for _, f := range v.Fields {
			fieldTypes = append(fieldTypes, renderType(f))
		}
		variants = append(variants, ir.EnumVariant{Name: v.Name, Fields: fieldTypes})
	}
	c.types = append(c.types, ir.TypeDef{Name: d.Name, Kind: "enum", Variants: variants})
}

func (c *Compiler) compileTool(d *ast.ToolDecl) {
	methods := make([]string, 0, len(d.Methods))
	for _, m := range d.Methods {
		c.compileFunction(m, d.Name)
		methods = append(methods, m.Name)
	}
	fields := c.staticFieldMap(d.Fields)
	desc, _ := fields["description"].(string)
	c.tools = append(c.tools, ir.Tool{Name: d.Name, Description: desc, Methods: methods})
}

func (c *Compiler) compileAgent(d *ast.AgentDecl) {
	fields := c.staticFieldMap(d.Fields)
	connection, _ := fields["connection"].(string)
	if connection == "" {
		connection, _ = fields["provider"].(string)
	}
	memory, _ := fields["memory"].(string)
	var tools []string
	if rawTools, ok := fields["tools"].([]any); ok {
		for _, t := range rawTools {
			if s, ok := t.(string); ok {
				tools = append(tools, s)
			}
		}
	}
	delete(fields, "connection")
	delete(fields, "provider")
	delete(fields, "memory")
	delete(fields, "tools")

	decorators := make([]ir.Decorator, 0, len(d.Decorators))
	for _, dec := range d.Decorators {
		decorators = append(decorators, lowerDecorator(dec))
	}

	methods := make([]string, 0, len(d.Methods))
	for _, m := range d.Methods {
		c.compileFunction(m, d.Name)
		methods = append(methods, m.Name)
	}

	c.agents = append(c.agents, ir.Agent{
		Name:       d.Name,
		Connection: connection,
		Config:     fields,
		Tools:      tools,
		Memory:     memory,
		Decorators: decorators,
		Methods:    methods,
	})
}

func (c *Compiler) compileHost(d *ast.HostDecl) {
	fields := c.staticFieldMap(d.Fields)
	command, _ := fields["command"].(string)
	env := map[string]string{}
	if rawEnv, ok := fields["env"].(map[string]any); ok {
		for k, v := range rawEnv {
			if s, ok := v.(string); ok {
				env[k] = s
			}
		}
	}
	var args []string
	if rawArgs, ok := fields["args"].([]any); ok {
		for _, a := range rawArgs {
			if s, ok := a.(string); ok {
				args = append(args, s)
			}
		}
	}
	var tools []string
	if rawTools, ok := fields["tools"].([]any); ok {
		for _, t := range rawTools {
			if s, ok := t.(string); ok {
				tools = append(tools, s)
			}
		}
	}

	methods := make([]string, 0, len(d.Methods))
	for _, m := range d.Methods {
		c.compileFunction(m, d.Name)
		methods = append(methods, m.Name)
	}

	c.hosts = append(c.hosts, ir.Host{Name: d.Name, Command: command, Args: args, Env: env, Tools: tools, Methods: methods})
}

func (c *Compiler) compileSchema(d *ast.SchemaDecl) {
	properties := map[string]any{}
	required := []string{}
	for _, f := range d.Fields {
		properties[f.Name] = concertoTypeToJSONSchema(f.Type)
		required = append(required, f.Name)
	}
	sort.Strings(required)
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
	c.schemas = append(c.schemas, ir.Schema{Name: d.Name, JSONSchema: schema, ValidationMode: "strict"})
}

// concertoTypeToJSONSchema renders one Concerto type annotation as a JSON
// Schema fragment, per the Int->integer/Array<T>->array+items mapping.
func concertoTypeToJSONSchema(t ast.TypeExpr) map[string]any {
	switch tt := t.(type) {
	case *ast.NamedType:
		switch tt.Name {
		case "Int":
			return map[string]any{"type": "integer"}
		case "Float":
			return map[string]any{"type": "number"}
		case "String":
			return map[string]any{"type": "string"}
		case "Bool":
			return map[string]any{"type": "boolean"}
		default:
			return map[string]any{"type": "object", "$ref": "#/definitions/" + tt.Name}
		}
	case *ast.GenericType:
		switch tt.Name {
		case "Array":
			item := map[string]any{"type": "string"}
			if len(tt.Args) == 1 {
				item = concertoTypeToJSONSchema(tt.Args[0])
			}
			return map[string]any{"type": "array", "items": item}
		case "Option":
			if len(tt.Args) == 1 {
				return concertoTypeToJSONSchema(tt.Args[0])
			}
		}
		return map[string]any{"type": "object"}
	case *ast.StringUnionType:
		return map[string]any{"type": "string", "enum": append([]string{}, tt.Members...)}
	default:
		return map[string]any{"type": "object"}
	}
}

func (c *Compiler) compilePipeline(d *ast.PipelineDecl) {
	stages := make([]ir.PipelineStage, 0, len(d.Stages))
	for _, s := range d.Stages {
		fnName := d.Name + "::" + s.Name
		c.funcNames[fnName] = true
		decorators := make([]ir.Decorator, 0, len(s.Decorators))
		for _, dec := range s.Decorators {
			decorators = append(decorators, lowerDecorator(dec))
		}
		fn := &ast.FunctionDecl{
			DeclBase: ast.DeclBase{Span: s.Span},
			Name:     s.Name,
			Params:   s.Params,
			Body:     s.Body,
		}
		c.compileFunction(fn, d.Name)
		stages = append(stages, ir.PipelineStage{
			Name:       s.Name,
			Function:   fnName,
			InputType:  renderType(s.InputType),
			OutputType: renderType(s.OutputType),
			Decorators: decorators,
		})
	}
	c.pipelines = append(c.pipelines, ir.Pipeline{
		Name:       d.Name,
		InputType:  renderType(d.InputType),
		OutputType: renderType(d.OutputType),
		Stages:     stages,
	})
}

func lowerDecorator(d ast.Decorator) ir.Decorator {
	args := map[string]any{}
	for i, a := range d.Args {
		key := a.Name
		if key == "" {
			key = fmt.Sprintf("%d", i)
		}
		if v, ok := staticValue(a.Value); ok {
			args[key] = v
		}
	}
	return ir.Decorator{Name: d.Name, Args: args}
}

func (c *Compiler) compileGlobalConst(d *ast.ConstDecl, initInstrs *[]ir.Instruction) {
	v, ok := staticValue(d.Value)
	if !ok {
		c.diags.Error("const '"+d.Name+"' initializer must be a literal value", d.DeclSpan())
		return
	}
	kind, lit := classifyLiteral(v)
	idx := c.constIndexFor(kind, lit)
	ci := idx
	*initInstrs = append(*initInstrs, ir.Instruction{Op: ir.OpLoadConst, ConstIndex: &ci})
	*initInstrs = append(*initInstrs, ir.Instruction{Op: ir.OpStoreGlobal, Name: d.Name})
}

func classifyLiteral(v any) (ir.ConstKind, any) {
	switch vv := v.(type) {
	case int64:
		return ir.ConstInt, vv
	case float64:
		return ir.ConstFloat, vv
	case string:
		return ir.ConstString, vv
	case bool:
		return ir.ConstBool, vv
	default:
		return ir.ConstNil, nil
	}
}
