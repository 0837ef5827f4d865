// Package lexer turns Concerto source text into a token stream.
package lexer

import (
	"fmt"

	"github.com/concerto-lang/concerto/internal/diag"
)

// Kind is the closed enumeration of token kinds.
type Kind int

const (
	// Literals
	IntLiteral Kind = iota
	FloatLiteral
	StringLiteral
	BoolLiteral
	NilLiteral

	// Identifiers
	Identifier

	// Keywords
	Let
	Mut
	Const
	Fn
	Agent
	Tool
	Pub
	Use
	Mod
	If
	Else
	Match
	For
	While
	Loop
	Break
	Continue
	Return
	Try
	Catch
	Throw
	Emit
	Await
	Async
	Pipeline
	Stage
	Schema
	HashMap
	Host
	Ledger
	Memory
	SelfKw
	Impl
	Trait
	Enum
	Struct
	As
	In
	With
	True
	False
	Nil
	Type
	Mcp
	Mock

	// Operators
	Plus
	Minus
	Star
	Slash
	Percent
	EqualEqual
	BangEqual
	Less
	Greater
	LessEqual
	GreaterEqual
	AmpAmp
	PipePipe
	Bang
	Equal
	PlusEqual
	MinusEqual
	StarEqual
	SlashEqual
	PercentEqual
	Arrow
	FatArrow
	ColonColon
	Dot
	DotDot
	DotDotEqual
	Pipe
	PipeGreater
	Question
	QuestionQuestion
	At

	// Delimiters
	LeftParen
	RightParen
	LeftBrace
	RightBrace
	LeftBracket
	RightBracket
	Comma
	Semicolon
	Colon

	// String interpolation fragments
	InterpolStart
	InterpolMid
	InterpolEnd

	// Special
	DocComment
	Eof
)

var kindNames = map[Kind]string{
	IntLiteral: "IntLiteral", FloatLiteral: "FloatLiteral", StringLiteral: "StringLiteral",
	BoolLiteral: "BoolLiteral", NilLiteral: "NilLiteral", Identifier: "Identifier",
	Let: "let", Mut: "mut", Const: "const", Fn: "fn", Agent: "agent", Tool: "tool",
	Pub: "pub", Use: "use", Mod: "mod", If: "if", Else: "else", Match: "match",
	For: "for", While: "while", Loop: "loop", Break: "break", Continue: "continue",
	Return: "return", Try: "try", Catch: "catch", Throw: "throw", Emit: "emit",
	Await: "await", Async: "async", Pipeline: "pipeline", Stage: "stage", Schema: "schema",
	HashMap: "hashmap", Host: "host", Ledger: "ledger", Memory: "memory", SelfKw: "self",
	Impl: "impl", Trait: "trait", Enum: "enum", Struct: "struct", As: "as", In: "in",
	With: "with", True: "true", False: "false", Nil: "nil", Type: "type", Mcp: "mcp",
	Mock: "mock",
	Plus: "+", Minus: "-", Star: "*", Slash: "/", Percent: "%",
	EqualEqual: "==", BangEqual: "!=", Less: "<", Greater: ">",
	LessEqual: "<=", GreaterEqual: ">=", AmpAmp: "&&", PipePipe: "||", Bang: "!",
	Equal: "=", PlusEqual: "+=", MinusEqual: "-=", StarEqual: "*=", SlashEqual: "/=",
	PercentEqual: "%=", Arrow: "->", FatArrow: "=>", ColonColon: "::", Dot: ".",
	DotDot: "..", DotDotEqual: "..=", Pipe: "|", PipeGreater: "|>", Question: "?",
	QuestionQuestion: "??", At: "@",
	LeftParen: "(", RightParen: ")", LeftBrace: "{", RightBrace: "}",
	LeftBracket: "[", RightBracket: "]", Comma: ",", Semicolon: ";", Colon: ":",
	InterpolStart: "InterpolStart", InterpolMid: "InterpolMid", InterpolEnd: "InterpolEnd",
	DocComment: "DocComment", Eof: "Eof",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

var keywords = map[string]Kind{
	"let": Let, "mut": Mut, "const": Const, "fn": Fn, "agent": Agent, "tool": Tool,
	"pub": Pub, "use": Use, "mod": Mod, "if": If, "else": Else, "match": Match,
	"for": For, "while": While, "loop": Loop, "break": Break, "continue": Continue,
	"return": Return, "try": Try, "catch": Catch, "throw": Throw, "emit": Emit,
	"await": Await, "async": Async, "pipeline": Pipeline, "stage": Stage, "schema": Schema,
	"hashmap": HashMap, "host": Host, "ledger": Ledger, "memory": Memory, "self": SelfKw,
	"impl": Impl, "trait": Trait, "enum": Enum, "struct": Struct, "as": As, "in": In,
	"with": With, "true": True, "false": False, "nil": Nil, "type": Type, "mcp": Mcp,
	"mock": Mock,
}

// KeywordFromString reports the keyword Kind for s, if any.
func KeywordFromString(s string) (Kind, bool) {
	k, ok := keywords[s]
	return k, ok
}

// Token is a single lexical unit: its kind, the exact source text it
// spans, and that span.
type Token struct {
	Kind   Kind
	Lexeme string
	Span   diag.Span
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q)", t.Kind, t.Lexeme)
}
