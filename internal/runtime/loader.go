package runtime

import (
	"github.com/concerto-lang/concerto/internal/ir"
)

// LoadedModule is an ir.Module indexed into name -> entity maps for O(1)
// dispatch, with the constant pool decoded into runtime Values. The maps
// are read-only after Load returns.
type LoadedModule struct {
	Raw *ir.Module

	Constants []Value
	Functions map[string]*ir.Function
	Agents    map[string]*ir.Agent
	Hosts     map[string]*ir.Host
	Tools     map[string]*ir.Tool
	Schemas   map[string]*ir.Schema
	Pipelines map[string]*ir.Pipeline
	Types     map[string]*ir.TypeDef
	Memories  map[string]*ir.Memory
	Ledgers   map[string]*ir.Ledger
	HashMaps  map[string]*ir.HashMap

	EntryPoint   string
	InitFunction string
}

// Load indexes mod and validates the contract the VM depends on: a dense
// constant pool and a resolvable entry point.
func Load(mod *ir.Module) (*LoadedModule, error) {
	lm := &LoadedModule{
		Raw:       mod,
		Functions: map[string]*ir.Function{},
		Agents:    map[string]*ir.Agent{},
		Hosts:     map[string]*ir.Host{},
		Tools:     map[string]*ir.Tool{},
		Schemas:   map[string]*ir.Schema{},
		Pipelines: map[string]*ir.Pipeline{},
		Types:     map[string]*ir.TypeDef{},
		Memories:  map[string]*ir.Memory{},
		Ledgers:   map[string]*ir.Ledger{},
		HashMaps:  map[string]*ir.HashMap{},
	}

	lm.Constants = make([]Value, len(mod.Constants))
	for i, c := range mod.Constants {
		if c.Index != i {
			return nil, newErr(ErrLoad, "constant pool is not dense: entry %d carries index %d", i, c.Index)
		}
		v, err := constantValue(c)
		if err != nil {
			return nil, err
		}
		lm.Constants[i] = v
	}

	for i := range mod.Functions {
		fn := &mod.Functions[i]
		if _, dup := lm.Functions[fn.Name]; dup {
			return nil, newErr(ErrLoad, "duplicate function %q in module", fn.Name)
		}
		lm.Functions[fn.Name] = fn
	}
	for i := range mod.Agents {
		lm.Agents[mod.Agents[i].Name] = &mod.Agents[i]
	}
	for i := range mod.Hosts {
		lm.Hosts[mod.Hosts[i].Name] = &mod.Hosts[i]
	}
	for i := range mod.Tools {
		lm.Tools[mod.Tools[i].Name] = &mod.Tools[i]
	}
	for i := range mod.Schemas {
		lm.Schemas[mod.Schemas[i].Name] = &mod.Schemas[i]
	}
	for i := range mod.Pipelines {
		lm.Pipelines[mod.Pipelines[i].Name] = &mod.Pipelines[i]
	}
	for i := range mod.Types {
		lm.Types[mod.Types[i].Name] = &mod.Types[i]
	}
	for i := range mod.Memories {
		lm.Memories[mod.Memories[i].Name] = &mod.Memories[i]
	}
	for i := range mod.Ledgers {
		lm.Ledgers[mod.Ledgers[i].Name] = &mod.Ledgers[i]
	}
	for i := range mod.HashMaps {
		lm.HashMaps[mod.HashMaps[i].Name] = &mod.HashMaps[i]
	}

	lm.EntryPoint = mod.Metadata.EntryPoint
	lm.InitFunction = mod.Metadata.InitFunction
	if lm.EntryPoint == "" {
		return nil, newErr(ErrLoad, "module %q declares no entry point", mod.Module)
	}
	if _, ok := lm.Functions[lm.EntryPoint]; !ok {
		return nil, newErr(ErrLoad, "entry point %q is not a function in module %q", lm.EntryPoint, mod.Module)
	}
	if lm.InitFunction != "" {
		if _, ok := lm.Functions[lm.InitFunction]; !ok {
			return nil, newErr(ErrLoad, "init function %q is not a function in module %q", lm.InitFunction, mod.Module)
		}
	}
	return lm, nil
}

// constantValue decodes one pool entry. JSON numbers arrive as float64;
// int constants are renormalised to Int here, once, instead of at every
// LOAD_CONST.
func constantValue(c ir.Constant) (Value, error) {
	switch c.Kind {
	case ir.ConstNil:
		return Nil(), nil
	case ir.ConstInt:
		switch n := c.Value.(type) {
		case float64:
			return IntVal(int64(n)), nil
		case int64:
			return IntVal(n), nil
		case int:
			return IntVal(int64(n)), nil
		}
		return Nil(), newErr(ErrLoad, "constant %d: int value has type %T", c.Index, c.Value)
	case ir.ConstFloat:
		switch n := c.Value.(type) {
		case float64:
			return FloatVal(n), nil
		case int64:
			return FloatVal(float64(n)), nil
		}
		return Nil(), newErr(ErrLoad, "constant %d: float value has type %T", c.Index, c.Value)
	case ir.ConstString:
		s, ok := c.Value.(string)
		if !ok {
			return Nil(), newErr(ErrLoad, "constant %d: string value has type %T", c.Index, c.Value)
		}
		return StringVal(s), nil
	case ir.ConstBool:
		b, ok := c.Value.(bool)
		if !ok {
			return Nil(), newErr(ErrLoad, "constant %d: bool value has type %T", c.Index, c.Value)
		}
		return BoolVal(b), nil
	default:
		return Nil(), newErr(ErrLoad, "constant %d: unknown kind %q", c.Index, c.Kind)
	}
}
