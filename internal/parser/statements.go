package parser

import (
	"github.com/concerto-lang/concerto/internal/ast"
	"github.com/concerto-lang/concerto/internal/diag"
	"github.com/concerto-lang/concerto/internal/lexer"
)

func sbase(start, end diag.Span) ast.StmtBase {
	return ast.StmtBase{Span: start.Merge(end)}
}

func (p *Parser) parseBlock() *ast.Block {
	start := p.currentSpan()
	p.expect(lexer.LeftBrace)

	var stmts []ast.Stmt
	var tail ast.Expr

	for p.peek() != lexer.RightBrace && !p.isAtEnd() {
		if p.peek() == lexer.Await && p.peekAt(1) == lexer.Emit {
			s := p.currentSpan()
			p.advance() // `await`
			stmts = append(stmts, p.parseEmit(s, true))
			continue
		}
		switch p.peek() {
		case lexer.Try:
			stmts = append(stmts, p.parseTryCatch())
			continue
		case lexer.Let:
			stmts = append(stmts, p.parseLet())
			continue
		case lexer.Return:
			stmts = append(stmts, p.parseReturn())
			continue
		case lexer.Break:
			s := p.currentSpan()
			p.advance()
			p.eat(lexer.Semicolon)
			stmts = append(stmts, &ast.BreakStmt{StmtBase: sbase(s, p.previousSpan())})
			continue
		case lexer.Continue:
			s := p.currentSpan()
			p.advance()
			p.eat(lexer.Semicolon)
			stmts = append(stmts, &ast.ContinueStmt{StmtBase: sbase(s, p.previousSpan())})
			continue
		case lexer.Throw:
			s := p.currentSpan()
			p.advance()
			val := p.parseExpr()
			p.eat(lexer.Semicolon)
			stmts = append(stmts, &ast.ThrowStmt{StmtBase: sbase(s, p.previousSpan()), Value: val})
			continue
		case lexer.Emit:
			stmts = append(stmts, p.parseEmit(p.currentSpan(), false))
			continue
		case lexer.Mock:
			stmts = append(stmts, p.parseMock())
			continue
		}

		exprStart := p.currentSpan()
		expr := p.parseExpr()

		if p.eat(lexer.Semicolon) {
			stmts = append(stmts, &ast.ExprStmt{StmtBase: sbase(exprStart, p.previousSpan()), Expr: expr})
			continue
		}

		if p.peek() == lexer.RightBrace {
			tail = expr
			break
		}

		// Block-ending expression used as a statement without trailing `;`.
		stmts = append(stmts, &ast.ExprStmt{StmtBase: sbase(exprStart, p.previousSpan()), Expr: expr})
	}

	p.expect(lexer.RightBrace)
	return &ast.Block{Stmts: stmts, TailExpr: tail, Span: start.Merge(p.previousSpan())}
}

func (p *Parser) parseLet() *ast.LetStmt {
	start := p.currentSpan()
	p.expect(lexer.Let)
	mutable := p.eat(lexer.Mut)
	name, _ := p.expect(lexer.Identifier)
	var typ ast.TypeExpr
	if p.eat(lexer.Colon) {
		typ = p.parseType()
	}
	p.expect(lexer.Equal)
	val := p.parseExpr()
	p.eat(lexer.Semicolon)
	return &ast.LetStmt{
		StmtBase: sbase(start, p.previousSpan()),
		Name:     name.Lexeme,
		Mutable:  mutable,
		Type:     typ,
		Value:    val,
	}
}

func (p *Parser) parseReturn() *ast.ReturnStmt {
	start := p.currentSpan()
	p.expect(lexer.Return)
	var val ast.Expr
	if p.peek() != lexer.Semicolon && p.peek() != lexer.RightBrace {
		val = p.parseExpr()
	}
	p.eat(lexer.Semicolon)
	return &ast.ReturnStmt{StmtBase: sbase(start, p.previousSpan()), Value: val}
}

func (p *Parser) parseEmit(start diag.Span, isAwait bool) *ast.EmitStmt {
	p.expect(lexer.Emit)
	p.expect(lexer.LeftParen)
	channel := p.parseExpr()
	p.expect(lexer.Comma)
	payload := p.parseExpr()
	p.expect(lexer.RightParen)
	p.eat(lexer.Semicolon)
	return &ast.EmitStmt{
		StmtBase: sbase(start, p.previousSpan()),
		Channel:  channel,
		Payload:  payload,
		Await:    isAwait,
	}
}

// parseMock parses `mock AgentName { config };`, the testing-only
// statement lowered to MOCK_MODEL.
func (p *Parser) parseMock() *ast.MockStmt {
	start := p.currentSpan()
	p.expect(lexer.Mock)
	target, _ := p.expect(lexer.Identifier)
	cfg := p.parseExpr()
	p.eat(lexer.Semicolon)
	return &ast.MockStmt{
		StmtBase: sbase(start, p.previousSpan()),
		Target:   target.Lexeme,
		Config:   cfg,
	}
}

func (p *Parser) parseTryCatch() *ast.TryCatchStmt {
	start := p.currentSpan()
	p.expect(lexer.Try)
	body := p.parseBlock()
	p.expect(lexer.Catch)
	p.expect(lexer.LeftParen)
	binding, _ := p.expect(lexer.Identifier)
	p.expect(lexer.RightParen)
	handler := p.parseBlock()
	return &ast.TryCatchStmt{
		StmtBase:     sbase(start, p.previousSpan()),
		Body:         body,
		CatchBinding: binding.Lexeme,
		CatchHandler: handler,
	}
}
