package parser

import (
	"github.com/concerto-lang/concerto/internal/ast"
	"github.com/concerto-lang/concerto/internal/diag"
	"github.com/concerto-lang/concerto/internal/lexer"
)

func pbase(start, end diag.Span) ast.PatternBase {
	return ast.PatternBase{Span: start.Merge(end)}
}

// parsePattern parses a destructuring pattern, handling the top-level
// `|` alternation and `@` binding forms around a single parsePatternAtom.
func (p *Parser) parsePattern() ast.Pattern {
	start := p.currentSpan()
	first := p.parsePatternAtom()

	if p.peek() == lexer.Pipe {
		alts := []ast.Pattern{first}
		for p.eat(lexer.Pipe) {
			alts = append(alts, p.parsePatternAtom())
		}
		return &ast.OrPattern{PatternBase: pbase(start, p.previousSpan()), Alternatives: alts}
	}
	return first
}

func (p *Parser) parsePatternAtom() ast.Pattern {
	start := p.currentSpan()

	if _, ok := p.tryIdentPattern(); ok {
		ident := p.advance().Lexeme
		p.expect(lexer.At)
		inner := p.parsePatternAtom()
		return &ast.BindingPattern{PatternBase: pbase(start, p.previousSpan()), Name: ident, Pattern: inner}
	}

	switch p.peek() {
	case lexer.Identifier:
		return p.parseIdentOrStructOrEnumPattern(start)
	case lexer.IntLiteral, lexer.FloatLiteral, lexer.StringLiteral, lexer.True, lexer.False, lexer.Nil, lexer.NilLiteral, lexer.BoolLiteral:
		return p.parseLiteralOrRangePattern(start)
	case lexer.Minus:
		return p.parseLiteralOrRangePattern(start)
	case lexer.LeftParen:
		p.advance()
		var elems []ast.Pattern
		for p.peek() != lexer.RightParen && !p.isAtEnd() {
			elems = append(elems, p.parsePattern())
			if !p.eat(lexer.Comma) {
				break
			}
		}
		p.expect(lexer.RightParen)
		return &ast.TuplePattern{PatternBase: pbase(start, p.previousSpan()), Elements: elems}
	case lexer.LeftBracket:
		return p.parseArrayPattern(start)
	default:
		tok := p.advance()
		p.diags.Error("unexpected token in pattern: "+tok.Kind.String(), start)
		return &ast.WildcardPattern{PatternBase: pbase(start, p.previousSpan())}
	}
}

// tryIdentPattern peeks whether the current token is an identifier
// immediately followed by `@` and, if so, reports its name without
// consuming — used only to detect the `name @ pattern` binding form.
func (p *Parser) tryIdentPattern() (string, bool) {
	if p.peek() != lexer.Identifier {
		return "", false
	}
	if p.peekAt(1) == lexer.At {
		return p.current().Lexeme, true
	}
	return "", false
}

func (p *Parser) parseIdentOrStructOrEnumPattern(start diag.Span) ast.Pattern {
	name := p.advance().Lexeme

	if name == "_" {
		return &ast.WildcardPattern{PatternBase: pbase(start, p.previousSpan())}
	}

	if p.peek() == lexer.ColonColon {
		p.advance()
		variant, _ := p.expect(lexer.Identifier)
		var fields []ast.Pattern
		if p.eat(lexer.LeftParen) {
			for p.peek() != lexer.RightParen && !p.isAtEnd() {
				fields = append(fields, p.parsePattern())
				if !p.eat(lexer.Comma) {
					break
				}
			}
			p.expect(lexer.RightParen)
		}
		return &ast.EnumPattern{PatternBase: pbase(start, p.previousSpan()), TypeName: name, Variant: variant.Lexeme, Fields: fields}
	}

	if p.peek() == lexer.LeftBrace {
		p.advance()
		var fields []ast.StructFieldPattern
		hasRest := false
		for p.peek() != lexer.RightBrace && !p.isAtEnd() {
			if p.peek() == lexer.DotDot {
				p.advance()
				hasRest = true
				break
			}
			fieldName, _ := p.expect(lexer.Identifier)
			var fieldPat ast.Pattern
			if p.eat(lexer.Colon) {
				fieldPat = p.parsePattern()
			} else {
				fieldPat = &ast.IdentPattern{PatternBase: pbase(start, p.previousSpan()), Name: fieldName.Lexeme}
			}
			fields = append(fields, ast.StructFieldPattern{Field: fieldName.Lexeme, Pattern: fieldPat})
			if !p.eat(lexer.Comma) {
				break
			}
		}
		p.expect(lexer.RightBrace)
		return &ast.StructPattern{PatternBase: pbase(start, p.previousSpan()), TypeName: name, Fields: fields, HasRest: hasRest}
	}

	if p.peek() == lexer.LeftParen {
		p.advance()
		var fields []ast.Pattern
		for p.peek() != lexer.RightParen && !p.isAtEnd() {
			fields = append(fields, p.parsePattern())
			if !p.eat(lexer.Comma) {
				break
			}
		}
		p.expect(lexer.RightParen)
		return &ast.EnumPattern{PatternBase: pbase(start, p.previousSpan()), Variant: name, Fields: fields}
	}

	return &ast.IdentPattern{PatternBase: pbase(start, p.previousSpan()), Name: name}
}

func (p *Parser) parseLiteralOrRangePattern(start diag.Span) ast.Pattern {
	lit := p.parseLiteralExprForPattern()
	if p.peek() == lexer.DotDot || p.peek() == lexer.DotDotEqual {
		inclusive := p.peek() == lexer.DotDotEqual
		p.advance()
		end := p.parseLiteralExprForPattern()
		return &ast.RangePattern{PatternBase: pbase(start, p.previousSpan()), Start: lit, End: end, Inclusive: inclusive}
	}
	return &ast.LiteralPattern{PatternBase: pbase(start, p.previousSpan()), Value: lit}
}

// parseLiteralExprForPattern parses a single literal (optionally
// negative) for use inside literal/range patterns.
func (p *Parser) parseLiteralExprForPattern() ast.Expr {
	start := p.currentSpan()
	neg := p.eat(lexer.Minus)
	prim := p.parsePrimary()
	if neg {
		return &ast.UnaryExpr{ExprBase: ebase(start, p.previousSpan()), Op: ast.OpNeg, Operand: prim}
	}
	return prim
}

func (p *Parser) parseArrayPattern(start diag.Span) ast.Pattern {
	p.expect(lexer.LeftBracket)
	var elems []ast.Pattern
	rest := ""
	hasRest := false
	for p.peek() != lexer.RightBracket && !p.isAtEnd() {
		if p.peek() == lexer.DotDot {
			p.advance()
			hasRest = true
			if p.peek() == lexer.Identifier {
				rest = p.advance().Lexeme
			}
			break
		}
		elems = append(elems, p.parsePattern())
		if !p.eat(lexer.Comma) {
			break
		}
	}
	p.expect(lexer.RightBracket)
	return &ast.ArrayPattern{PatternBase: pbase(start, p.previousSpan()), Elements: elems, Rest: rest, HasRest: hasRest}
}
