// Package parser implements a recursive-descent parser with Pratt
// expression parsing for the Concerto language.
package parser

import (
	"fmt"

	"github.com/concerto-lang/concerto/internal/ast"
	"github.com/concerto-lang/concerto/internal/diag"
	"github.com/concerto-lang/concerto/internal/lexer"
)

// Parser converts a token stream into a Program.
type Parser struct {
	tokens      []lexer.Token
	pos         int
	diags       *diag.Bag
	file        string
	noStructLit int // >0 while parsing a condition where `{` must start a body, not a struct literal
}

// New creates a Parser over tokens, attributing diagnostics to file.
func New(tokens []lexer.Token, file string) *Parser {
	return &Parser{tokens: tokens, file: file, diags: diag.NewBag()}
}

// Parse runs the parser to completion.
func Parse(tokens []lexer.Token, file string) (*ast.Program, *diag.Bag) {
	p := New(tokens, file)
	return p.Run()
}

// Run parses the entire token stream into a Program.
func (p *Parser) Run() (*ast.Program, *diag.Bag) {
	var decls []ast.Decl
	start := p.currentSpan()

	for !p.isAtEnd() {
		before := p.pos
		decl := p.parseDeclaration()
		if decl != nil {
			decls = append(decls, decl)
		}
		if p.pos == before {
			p.synchronize()
		}
	}

	end := p.currentSpan()
	return &ast.Program{Declarations: decls, Span: start.Merge(end)}, p.diags
}

func (p *Parser) peek() lexer.Kind {
	if p.pos >= len(p.tokens) {
		return lexer.Eof
	}
	return p.tokens[p.pos].Kind
}

func (p *Parser) peekAt(offset int) lexer.Kind {
	idx := p.pos + offset
	if idx >= len(p.tokens) {
		return lexer.Eof
	}
	return p.tokens[idx].Kind
}

func (p *Parser) current() lexer.Token {
	if p.pos >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos]
}

func (p *Parser) previous() lexer.Token {
	idx := p.pos - 1
	if idx < 0 {
		idx = 0
	}
	return p.tokens[idx]
}

func (p *Parser) advance() lexer.Token {
	if !p.isAtEnd() {
		p.pos++
	}
	return p.previous()
}

func (p *Parser) expect(kind lexer.Kind) (lexer.Token, bool) {
	if p.peek() == kind {
		return p.advance(), true
	}
	p.diags.Error(fmt.Sprintf("expected %s, found %s", kind, p.peek()), p.currentSpan())
	return lexer.Token{}, false
}

func (p *Parser) eat(kind lexer.Kind) bool {
	if p.peek() == kind {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) isAtEnd() bool {
	return p.peek() == lexer.Eof
}

func (p *Parser) currentSpan() diag.Span {
	return p.current().Span
}

func (p *Parser) previousSpan() diag.Span {
	return p.previous().Span
}

// synchronize performs error recovery by skipping to the next semicolon
// or declaration/statement-starting keyword.
func (p *Parser) synchronize() {
	p.advance()
	for !p.isAtEnd() {
		if p.previous().Kind == lexer.Semicolon {
			return
		}
		switch p.peek() {
		case lexer.Fn, lexer.Pub, lexer.Let, lexer.If, lexer.Match, lexer.For,
			lexer.While, lexer.Loop, lexer.Return, lexer.Break, lexer.Continue,
			lexer.Throw, lexer.Try, lexer.Emit, lexer.Agent, lexer.Tool,
			lexer.Schema, lexer.Pipeline, lexer.Struct, lexer.Enum, lexer.Trait,
			lexer.Impl, lexer.Use, lexer.Mod, lexer.Const, lexer.Type,
			lexer.HashMap, lexer.Memory, lexer.Mcp, lexer.Host, lexer.At,
			lexer.RightBrace:
			return
		default:
			p.advance()
		}
	}
}

// consumeDocComments gathers immediately-preceding `///` comment lines
// into a single doc string, in source order.
func (p *Parser) consumeDocComments() string {
	var doc string
	for p.peek() == lexer.DocComment {
		tok := p.advance()
		if doc != "" {
			doc += "\n"
		}
		doc += tok.Lexeme
	}
	return doc
}
