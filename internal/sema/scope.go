package sema

import (
	"strings"

	"github.com/concerto-lang/concerto/internal/diag"
)

// ScopeKind distinguishes scopes for control-flow checks: break/continue
// need an enclosing Loop, return/throw need an enclosing Function.
type ScopeKind int

const (
	ScopeGlobal ScopeKind = iota
	ScopeFunction
	ScopeBlock
	ScopeLoop
)

// SymbolKind classifies what a name refers to.
type SymbolKind int

const (
	SymVariable SymbolKind = iota
	SymFunction
	SymType
	SymAgent
	SymHost
	SymTool
	SymSchema
	SymPipeline
	SymConstant
	SymDatabase
	SymLedger
	SymMemory
	SymHashMap
	SymModule
	SymBuiltin
)

// Symbol is one named entry of a scope.
type Symbol struct {
	Name      string
	Kind      SymbolKind
	Type      Type
	Mutable   bool
	DefinedAt diag.Span
	Used      bool
	Public    bool
}

// Scope is one lexical region's symbol table, linked to its parent by
// index into the owning stack's flat scope vector.
type Scope struct {
	Kind    ScopeKind
	Symbols map[string]*Symbol
	Parent  int // index into ScopeStack.all; -1 for the global scope
	// order preserves declaration order so unused-variable warnings come
	// out deterministically.
	order []string
}

// ScopeStack is a flat vector of scopes. Popping returns to the parent
// but retains the popped scope so warnings can be emitted post-hoc.
type ScopeStack struct {
	all     []*Scope
	current int
}

// NewScopeStack builds a stack holding only the global scope.
func NewScopeStack() *ScopeStack {
	global := &Scope{Kind: ScopeGlobal, Symbols: map[string]*Symbol{}, Parent: -1}
	return &ScopeStack{all: []*Scope{global}, current: 0}
}

// Push appends a child scope of the given kind and makes it current.
func (s *ScopeStack) Push(kind ScopeKind) {
	s.all = append(s.all, &Scope{Kind: kind, Symbols: map[string]*Symbol{}, Parent: s.current})
	s.current = len(s.all) - 1
}

// Pop returns to the parent scope and hands back the popped scope.
func (s *ScopeStack) Pop() *Scope {
	popped := s.all[s.current]
	s.current = popped.Parent
	return popped
}

// Current returns the active scope.
func (s *ScopeStack) Current() *Scope {
	return s.all[s.current]
}

// Global returns the root scope.
func (s *ScopeStack) Global() *Scope {
	return s.all[0]
}

// Define inserts sym into the current scope, returning the previously
// defined symbol when the name is a duplicate in the same scope.
// Shadowing a parent-scope name is not a duplicate.
func (s *ScopeStack) Define(sym *Symbol) (prior *Symbol) {
	scope := s.Current()
	if existing, ok := scope.Symbols[sym.Name]; ok {
		return existing
	}
	scope.Symbols[sym.Name] = sym
	scope.order = append(scope.order, sym.Name)
	return nil
}

// Lookup walks parent links from the current scope and marks the found
// symbol used.
func (s *ScopeStack) Lookup(name string) *Symbol {
	for idx := s.current; idx >= 0; {
		scope := s.all[idx]
		if sym, ok := scope.Symbols[name]; ok {
			sym.Used = true
			return sym
		}
		idx = scope.Parent
	}
	return nil
}

// InKind reports whether the current scope or an enclosing one is of the
// given kind. Loop lookups stop at the first Function scope so a closure
// body can't `break` an outer loop; other kinds search up to the global
// scope.
func (s *ScopeStack) InKind(kind ScopeKind) bool {
	for idx := s.current; idx >= 0; {
		scope := s.all[idx]
		if scope.Kind == kind {
			return true
		}
		if scope.Kind == ScopeFunction && kind == ScopeLoop {
			return false
		}
		idx = scope.Parent
	}
	return false
}

// unusedSymbols returns the popped scope's never-read variables, in
// declaration order, skipping builtins and names starting with '_'.
func unusedSymbols(scope *Scope) []*Symbol {
	var out []*Symbol
	for _, name := range scope.order {
		sym := scope.Symbols[name]
		if sym.Used || sym.Kind != SymVariable {
			continue
		}
		if strings.HasPrefix(sym.Name, "_") {
			continue
		}
		out = append(out, sym)
	}
	return out
}
