package parser

import (
	"github.com/concerto-lang/concerto/internal/ast"
	"github.com/concerto-lang/concerto/internal/diag"
	"github.com/concerto-lang/concerto/internal/lexer"
)

func tbase(start, end diag.Span) ast.TypeBase {
	return ast.TypeBase{Span: start.Merge(end)}
}

// parseType parses a type annotation: named, generic, tuple, function, or
// a string-literal union (`"a" | "b"`). Union parsing only begins when
// the first alternative is a string literal, which keeps `|params|`
// closures unambiguous.
func (p *Parser) parseType() ast.TypeExpr {
	start := p.currentSpan()

	if p.peek() == lexer.StringLiteral {
		members := []string{p.advance().Lexeme}
		for p.eat(lexer.Pipe) {
			tok, _ := p.expect(lexer.StringLiteral)
			members = append(members, tok.Lexeme)
		}
		return &ast.StringUnionType{TypeBase: tbase(start, p.previousSpan()), Members: members}
	}

	if p.peek() == lexer.LeftParen {
		p.advance()
		var elems []ast.TypeExpr
		for p.peek() != lexer.RightParen && !p.isAtEnd() {
			elems = append(elems, p.parseType())
			if !p.eat(lexer.Comma) {
				break
			}
		}
		p.expect(lexer.RightParen)
		return &ast.TupleType{TypeBase: tbase(start, p.previousSpan()), Elements: elems}
	}

	if p.peek() == lexer.Fn {
		p.advance()
		p.expect(lexer.LeftParen)
		var params []ast.TypeExpr
		for p.peek() != lexer.RightParen && !p.isAtEnd() {
			params = append(params, p.parseType())
			if !p.eat(lexer.Comma) {
				break
			}
		}
		p.expect(lexer.RightParen)
		var ret ast.TypeExpr
		if p.eat(lexer.Arrow) {
			ret = p.parseType()
		}
		return &ast.FunctionType{TypeBase: tbase(start, p.previousSpan()), Params: params, Return: ret}
	}

	name, _ := p.expect(lexer.Identifier)
	if p.eat(lexer.Less) {
		var args []ast.TypeExpr
		for p.peek() != lexer.Greater && !p.isAtEnd() {
			args = append(args, p.parseType())
			if !p.eat(lexer.Comma) {
				break
			}
		}
		p.expect(lexer.Greater)
		return &ast.GenericType{TypeBase: tbase(start, p.previousSpan()), Name: name.Lexeme, Args: args}
	}
	return &ast.NamedType{TypeBase: tbase(start, p.previousSpan()), Name: name.Lexeme}
}
