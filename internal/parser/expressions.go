package parser

import (
	"strconv"
	"strings"

	"github.com/concerto-lang/concerto/internal/ast"
	"github.com/concerto-lang/concerto/internal/diag"
	"github.com/concerto-lang/concerto/internal/lexer"
)

func ebase(start, end diag.Span) ast.ExprBase {
	return ast.ExprBase{Span: start.Merge(end)}
}

// parseExpr parses a full expression at the lowest precedence
// (assignment, right-associative).
func (p *Parser) parseExpr() ast.Expr {
	return p.parseAssignment()
}

func (p *Parser) parseAssignment() ast.Expr {
	start := p.currentSpan()
	lhs := p.parseLogicalOr()
	switch p.peek() {
	case lexer.Equal:
		p.advance()
		rhs := p.parseAssignment()
		return &ast.AssignExpr{ExprBase: ebase(start, p.previousSpan()), Target: lhs, Value: rhs}
	case lexer.PlusEqual, lexer.MinusEqual, lexer.StarEqual, lexer.SlashEqual, lexer.PercentEqual:
		op := p.compoundOp(p.advance().Kind)
		rhs := p.parseAssignment()
		bin := &ast.BinaryExpr{ExprBase: ebase(start, p.previousSpan()), Op: op, LHS: lhs, RHS: rhs}
		return &ast.AssignExpr{ExprBase: ebase(start, p.previousSpan()), Target: lhs, Value: bin}
	}
	return lhs
}

func (p *Parser) compoundOp(k lexer.Kind) ast.BinaryOp {
	switch k {
	case lexer.PlusEqual:
		return ast.OpAdd
	case lexer.MinusEqual:
		return ast.OpSub
	case lexer.StarEqual:
		return ast.OpMul
	case lexer.SlashEqual:
		return ast.OpDiv
	default:
		return ast.OpMod
	}
}

func (p *Parser) parseLogicalOr() ast.Expr {
	start := p.currentSpan()
	lhs := p.parseLogicalAnd()
	for p.peek() == lexer.PipePipe {
		p.advance()
		rhs := p.parseLogicalAnd()
		lhs = &ast.BinaryExpr{ExprBase: ebase(start, p.previousSpan()), Op: ast.OpOr, LHS: lhs, RHS: rhs}
	}
	return lhs
}

func (p *Parser) parseLogicalAnd() ast.Expr {
	start := p.currentSpan()
	lhs := p.parseEquality()
	for p.peek() == lexer.AmpAmp {
		p.advance()
		rhs := p.parseEquality()
		lhs = &ast.BinaryExpr{ExprBase: ebase(start, p.previousSpan()), Op: ast.OpAnd, LHS: lhs, RHS: rhs}
	}
	return lhs
}

func (p *Parser) parseEquality() ast.Expr {
	start := p.currentSpan()
	lhs := p.parseComparison()
	for p.peek() == lexer.EqualEqual || p.peek() == lexer.BangEqual {
		op := ast.OpEq
		if p.peek() == lexer.BangEqual {
			op = ast.OpNeq
		}
		p.advance()
		rhs := p.parseComparison()
		lhs = &ast.BinaryExpr{ExprBase: ebase(start, p.previousSpan()), Op: op, LHS: lhs, RHS: rhs}
	}
	return lhs
}

func (p *Parser) parseComparison() ast.Expr {
	start := p.currentSpan()
	lhs := p.parsePipe()
	for {
		var op ast.BinaryOp
		switch p.peek() {
		case lexer.Less:
			op = ast.OpLt
		case lexer.Greater:
			op = ast.OpGt
		case lexer.LessEqual:
			op = ast.OpLte
		case lexer.GreaterEqual:
			op = ast.OpGte
		default:
			return lhs
		}
		p.advance()
		rhs := p.parsePipe()
		lhs = &ast.BinaryExpr{ExprBase: ebase(start, p.previousSpan()), Op: op, LHS: lhs, RHS: rhs}
	}
}

func (p *Parser) parsePipe() ast.Expr {
	start := p.currentSpan()
	lhs := p.parseRange()
	for p.peek() == lexer.PipeGreater {
		p.advance()
		rhs := p.parseRange()
		lhs = &ast.PipeExpr{ExprBase: ebase(start, p.previousSpan()), LHS: lhs, RHS: rhs}
	}
	return lhs
}

func (p *Parser) parseRange() ast.Expr {
	start := p.currentSpan()
	lhs := p.parseNilCoalesce()
	if p.peek() == lexer.DotDot || p.peek() == lexer.DotDotEqual {
		inclusive := p.peek() == lexer.DotDotEqual
		p.advance()
		var rhs ast.Expr
		if !p.atRangeEnd() {
			rhs = p.parseNilCoalesce()
		}
		return &ast.RangeExpr{ExprBase: ebase(start, p.previousSpan()), Start: lhs, End: rhs, Inclusive: inclusive}
	}
	return lhs
}

func (p *Parser) atRangeEnd() bool {
	switch p.peek() {
	case lexer.RightBrace, lexer.RightParen, lexer.RightBracket, lexer.Comma, lexer.Semicolon, lexer.Eof:
		return true
	default:
		return false
	}
}

func (p *Parser) parseNilCoalesce() ast.Expr {
	start := p.currentSpan()
	lhs := p.parseAdditive()
	for p.peek() == lexer.QuestionQuestion {
		p.advance()
		rhs := p.parseAdditive()
		lhs = &ast.NilCoalesceExpr{ExprBase: ebase(start, p.previousSpan()), LHS: lhs, RHS: rhs}
	}
	return lhs
}

func (p *Parser) parseAdditive() ast.Expr {
	start := p.currentSpan()
	lhs := p.parseMultiplicative()
	for p.peek() == lexer.Plus || p.peek() == lexer.Minus {
		op := ast.OpAdd
		if p.peek() == lexer.Minus {
			op = ast.OpSub
		}
		p.advance()
		rhs := p.parseMultiplicative()
		lhs = &ast.BinaryExpr{ExprBase: ebase(start, p.previousSpan()), Op: op, LHS: lhs, RHS: rhs}
	}
	return lhs
}

func (p *Parser) parseMultiplicative() ast.Expr {
	start := p.currentSpan()
	lhs := p.parseUnary()
	for p.peek() == lexer.Star || p.peek() == lexer.Slash || p.peek() == lexer.Percent {
		var op ast.BinaryOp
		switch p.peek() {
		case lexer.Star:
			op = ast.OpMul
		case lexer.Slash:
			op = ast.OpDiv
		default:
			op = ast.OpMod
		}
		p.advance()
		rhs := p.parseUnary()
		lhs = &ast.BinaryExpr{ExprBase: ebase(start, p.previousSpan()), Op: op, LHS: lhs, RHS: rhs}
	}
	return lhs
}

func (p *Parser) parseUnary() ast.Expr {
	start := p.currentSpan()
	if p.peek() == lexer.Minus || p.peek() == lexer.Bang {
		op := ast.OpNeg
		if p.peek() == lexer.Bang {
			op = ast.OpNot
		}
		p.advance()
		operand := p.parseUnary()
		return &ast.UnaryExpr{ExprBase: ebase(start, p.previousSpan()), Op: op, Operand: operand}
	}
	return p.parseCast()
}

func (p *Parser) parseCast() ast.Expr {
	start := p.currentSpan()
	val := p.parsePropagate()
	for p.peek() == lexer.As {
		p.advance()
		typ := p.parseType()
		val = &ast.CastExpr{ExprBase: ebase(start, p.previousSpan()), Value: val, Type: typ}
	}
	return val
}

func (p *Parser) parsePropagate() ast.Expr {
	start := p.currentSpan()
	val := p.parsePostfix()
	for p.peek() == lexer.Question {
		p.advance()
		val = &ast.PropagateExpr{ExprBase: ebase(start, p.previousSpan()), Operand: val}
	}
	return val
}

// parsePostfix handles call/index/field-access/method-call/.await chains.
func (p *Parser) parsePostfix() ast.Expr {
	start := p.currentSpan()
	expr := p.parsePrimary()
	for {
		switch p.peek() {
		case lexer.LeftParen:
			args := p.parseArgList()
			expr = &ast.CallExpr{ExprBase: ebase(start, p.previousSpan()), Callee: expr, Args: args}
		case lexer.Dot:
			p.advance()
			if p.peek() == lexer.Await {
				p.advance()
				expr = &ast.AwaitExpr{ExprBase: ebase(start, p.previousSpan()), Operand: expr}
				continue
			}
			name, _ := p.expect(lexer.Identifier)
			if p.peek() == lexer.LeftParen {
				args := p.parseArgList()
				expr = &ast.MethodCallExpr{ExprBase: ebase(start, p.previousSpan()), Receiver: expr, Method: name.Lexeme, Args: args}
			} else {
				expr = &ast.FieldAccessExpr{ExprBase: ebase(start, p.previousSpan()), Receiver: expr, Field: name.Lexeme}
			}
		case lexer.LeftBracket:
			p.advance()
			idx := p.parseExpr()
			p.expect(lexer.RightBracket)
			expr = &ast.IndexExpr{ExprBase: ebase(start, p.previousSpan()), Receiver: expr, Index: idx}
		case lexer.LeftBrace:
			if lit, ok := expr.(*ast.Ident); ok && p.canStartStructLit() {
				p.advance()
				fields := p.parseStructFieldInits()
				expr = &ast.StructLit{ExprBase: ebase(start, p.previousSpan()), TypeName: lit.Name, Fields: fields}
				continue
			}
			return expr
		default:
			return expr
		}
	}
}

// canStartStructLit is a lookahead heuristic distinguishing `Name { field:
// val }` struct literals from a following block (used in contexts like
// `if Name { ... }` where `{` must start the if's body, not a literal).
// The caller (parsePostfix) only reaches here for a bare identifier
// callee, so we require the body to look like `ident :` or an empty `{}`.
func (p *Parser) canStartStructLit() bool {
	if p.noStructLit > 0 {
		return false
	}
	return (p.peekAt(1) == lexer.Identifier && p.peekAt(2) == lexer.Colon) || p.peekAt(1) == lexer.RightBrace
}

func (p *Parser) parseStructFieldInits() []ast.StructFieldInit {
	var fields []ast.StructFieldInit
	for p.peek() != lexer.RightBrace && !p.isAtEnd() {
		name, _ := p.expect(lexer.Identifier)
		p.expect(lexer.Colon)
		val := p.parseExpr()
		fields = append(fields, ast.StructFieldInit{Name: name.Lexeme, Value: val})
		if !p.eat(lexer.Comma) {
			break
		}
	}
	p.expect(lexer.RightBrace)
	return fields
}

func (p *Parser) parseArgList() []ast.Expr {
	p.expect(lexer.LeftParen)
	var args []ast.Expr
	for p.peek() != lexer.RightParen && !p.isAtEnd() {
		args = append(args, p.parseExpr())
		if !p.eat(lexer.Comma) {
			break
		}
	}
	p.expect(lexer.RightParen)
	return args
}

func (p *Parser) parsePrimary() ast.Expr {
	start := p.currentSpan()
	switch p.peek() {
	case lexer.IntLiteral:
		tok := p.advance()
		return &ast.IntLit{ExprBase: ebase(start, p.previousSpan()), Value: parseIntLexeme(tok.Lexeme)}
	case lexer.FloatLiteral:
		tok := p.advance()
		v, _ := strconv.ParseFloat(strings.ReplaceAll(tok.Lexeme, "_", ""), 64)
		return &ast.FloatLit{ExprBase: ebase(start, p.previousSpan()), Value: v}
	case lexer.StringLiteral:
		tok := p.advance()
		return &ast.StringLit{ExprBase: ebase(start, p.previousSpan()), Value: tok.Lexeme}
	case lexer.InterpolStart:
		return p.parseInterpolated()
	case lexer.BoolLiteral, lexer.True, lexer.False:
		tok := p.advance()
		return &ast.BoolLit{ExprBase: ebase(start, p.previousSpan()), Value: tok.Kind == lexer.True || tok.Lexeme == "true"}
	case lexer.NilLiteral, lexer.Nil:
		p.advance()
		return &ast.NilLit{ExprBase: ebase(start, p.previousSpan())}
	case lexer.SelfKw:
		p.advance()
		return &ast.SelfExpr{ExprBase: ebase(start, p.previousSpan())}
	case lexer.Identifier:
		tok := p.advance()
		if p.peek() == lexer.ColonColon {
			segs := []string{tok.Lexeme}
			for p.eat(lexer.ColonColon) {
				seg, _ := p.expect(lexer.Identifier)
				segs = append(segs, seg.Lexeme)
			}
			return &ast.PathExpr{ExprBase: ebase(start, p.previousSpan()), Segments: segs}
		}
		return &ast.Ident{ExprBase: ebase(start, p.previousSpan()), Name: tok.Lexeme}
	case lexer.LeftParen:
		return p.parseParenOrTuple(start)
	case lexer.LeftBracket:
		return p.parseArrayLit(start)
	case lexer.LeftBrace:
		return p.parseBraceExpr(start)
	case lexer.If:
		return p.parseIfExpr()
	case lexer.Match:
		return p.parseMatchExpr()
	case lexer.For:
		return p.parseForExpr()
	case lexer.While:
		return p.parseWhileExpr()
	case lexer.Loop:
		return p.parseLoopExpr()
	case lexer.Pipe:
		return p.parseClosure()
	case lexer.Return:
		p.advance()
		var val ast.Expr
		if !p.atRangeEnd() {
			val = p.parseExpr()
		}
		return &ast.ReturnExpr{ExprBase: ebase(start, p.previousSpan()), Value: val}
	default:
		tok := p.advance()
		p.diags.Error("unexpected token in expression: "+tok.Kind.String(), start)
		return &ast.NilLit{ExprBase: ebase(start, p.previousSpan())}
	}
}

func parseIntLexeme(s string) int64 {
	s = strings.ReplaceAll(s, "_", "")
	var v int64
	switch {
	case strings.HasPrefix(s, "0x"):
		v, _ = strconv.ParseInt(s[2:], 16, 64)
	case strings.HasPrefix(s, "0b"):
		v, _ = strconv.ParseInt(s[2:], 2, 64)
	case strings.HasPrefix(s, "0o"):
		v, _ = strconv.ParseInt(s[2:], 8, 64)
	default:
		v, _ = strconv.ParseInt(s, 10, 64)
	}
	return v
}

// parseInterpolated consumes an InterpolStart...InterpolMid*...InterpolEnd
// token run into a single InterpolatedStringLit.
func (p *Parser) parseInterpolated() *ast.InterpolatedStringLit {
	start := p.currentSpan()
	first := p.advance()
	chunks := []string{first.Lexeme}
	var exprs []ast.Expr
	for {
		exprs = append(exprs, p.parseExpr())
		switch p.peek() {
		case lexer.InterpolMid:
			tok := p.advance()
			chunks = append(chunks, tok.Lexeme)
		case lexer.InterpolEnd:
			tok := p.advance()
			chunks = append(chunks, tok.Lexeme)
			return &ast.InterpolatedStringLit{ExprBase: ebase(start, p.previousSpan()), Chunks: chunks, Exprs: exprs}
		default:
			p.diags.Error("unterminated interpolated string", p.currentSpan())
			return &ast.InterpolatedStringLit{ExprBase: ebase(start, p.previousSpan()), Chunks: chunks, Exprs: exprs}
		}
	}
}

func (p *Parser) parseParenOrTuple(start diag.Span) ast.Expr {
	p.expect(lexer.LeftParen)
	if p.eat(lexer.RightParen) {
		return &ast.TupleLit{ExprBase: ebase(start, p.previousSpan())}
	}
	first := p.parseExpr()
	if p.peek() == lexer.Comma {
		elems := []ast.Expr{first}
		for p.eat(lexer.Comma) {
			if p.peek() == lexer.RightParen {
				break
			}
			elems = append(elems, p.parseExpr())
		}
		p.expect(lexer.RightParen)
		return &ast.TupleLit{ExprBase: ebase(start, p.previousSpan()), Elements: elems}
	}
	p.expect(lexer.RightParen)
	return first
}

func (p *Parser) parseArrayLit(start diag.Span) *ast.ArrayLit {
	p.expect(lexer.LeftBracket)
	var elems []ast.Expr
	for p.peek() != lexer.RightBracket && !p.isAtEnd() {
		elems = append(elems, p.parseExpr())
		if !p.eat(lexer.Comma) {
			break
		}
	}
	p.expect(lexer.RightBracket)
	return &ast.ArrayLit{ExprBase: ebase(start, p.previousSpan()), Elements: elems}
}

// parseBraceExpr disambiguates a bare `{` between a block and a map
// literal: a block is the default; a map literal is recognised only
// when the first content looks like `expr : expr`.
func (p *Parser) parseBraceExpr(start diag.Span) ast.Expr {
	if p.looksLikeMapLit() {
		return p.parseMapLit(start)
	}
	block := p.parseBlock()
	return &ast.BlockExpr{ExprBase: ebase(start, p.previousSpan()), Block: block}
}

func (p *Parser) looksLikeMapLit() bool {
	if p.peekAt(1) == lexer.RightBrace {
		return false // empty `{}` is an empty block
	}
	// crude lookahead: StringLiteral/Identifier ':' that isn't a label
	return (p.peekAt(1) == lexer.StringLiteral || p.peekAt(1) == lexer.Identifier) && p.peekAt(2) == lexer.Colon
}

func (p *Parser) parseMapLit(start diag.Span) *ast.MapLit {
	p.expect(lexer.LeftBrace)
	var entries []ast.MapEntry
	for p.peek() != lexer.RightBrace && !p.isAtEnd() {
		key := p.parseExpr()
		// A bare identifier key is shorthand for a string key.
		if id, ok := key.(*ast.Ident); ok {
			key = &ast.StringLit{ExprBase: ast.ExprBase{Span: id.Span}, Value: id.Name}
		}
		p.expect(lexer.Colon)
		val := p.parseExpr()
		entries = append(entries, ast.MapEntry{Key: key, Value: val})
		if !p.eat(lexer.Comma) {
			break
		}
	}
	p.expect(lexer.RightBrace)
	return &ast.MapLit{ExprBase: ebase(start, p.previousSpan()), Entries: entries}
}

func (p *Parser) parseIfExpr() *ast.IfExpr {
	start := p.currentSpan()
	p.expect(lexer.If)
	cond := p.parseNoStructCond()
	then := p.parseBlock()
	var elseExpr ast.Expr
	if p.eat(lexer.Else) {
		if p.peek() == lexer.If {
			elseExpr = p.parseIfExpr()
		} else {
			b := p.parseBlock()
			elseExpr = &ast.BlockExpr{ExprBase: ebase(b.Span, b.Span), Block: b}
		}
	}
	return &ast.IfExpr{ExprBase: ebase(start, p.previousSpan()), Cond: cond, Then: then, Else: elseExpr}
}

// parseNoStructCond parses a condition expression, suppressing struct-
// literal parsing so `if Foo { ... }` treats `{` as the body.
func (p *Parser) parseNoStructCond() ast.Expr {
	p.noStructLit++
	defer func() { p.noStructLit-- }()
	return p.parseExpr()
}

func (p *Parser) parseMatchExpr() *ast.MatchExpr {
	start := p.currentSpan()
	p.expect(lexer.Match)
	scrutinee := p.parseNoStructCond()
	p.expect(lexer.LeftBrace)
	var arms []ast.MatchArm
	for p.peek() != lexer.RightBrace && !p.isAtEnd() {
		aStart := p.currentSpan()
		pat := p.parsePattern()
		var guard ast.Expr
		if p.eat(lexer.If) {
			guard = p.parseExpr()
		}
		p.expect(lexer.FatArrow)
		body := p.parseExpr()
		arms = append(arms, ast.MatchArm{Pattern: pat, Guard: guard, Body: body, Span: aStart.Merge(p.previousSpan())})
		if !p.eat(lexer.Comma) {
			p.eat(lexer.Semicolon)
		}
	}
	p.expect(lexer.RightBrace)
	return &ast.MatchExpr{ExprBase: ebase(start, p.previousSpan()), Scrutinee: scrutinee, Arms: arms}
}

func (p *Parser) parseForExpr() *ast.ForExpr {
	start := p.currentSpan()
	p.expect(lexer.For)
	pat := p.parsePattern()
	p.expect(lexer.In)
	iterable := p.parseNoStructCond()
	body := p.parseBlock()
	return &ast.ForExpr{ExprBase: ebase(start, p.previousSpan()), Pattern: pat, Iterable: iterable, Body: body}
}

func (p *Parser) parseWhileExpr() *ast.WhileExpr {
	start := p.currentSpan()
	p.expect(lexer.While)
	cond := p.parseNoStructCond()
	body := p.parseBlock()
	return &ast.WhileExpr{ExprBase: ebase(start, p.previousSpan()), Cond: cond, Body: body}
}

func (p *Parser) parseLoopExpr() *ast.LoopExpr {
	start := p.currentSpan()
	p.expect(lexer.Loop)
	body := p.parseBlock()
	return &ast.LoopExpr{ExprBase: ebase(start, p.previousSpan()), Body: body}
}

func (p *Parser) parseClosure() *ast.ClosureExpr {
	start := p.currentSpan()
	p.expect(lexer.Pipe)
	var params []ast.Param
	for p.peek() != lexer.Pipe && !p.isAtEnd() {
		pStart := p.currentSpan()
		name, _ := p.expect(lexer.Identifier)
		var typ ast.TypeExpr
		if p.eat(lexer.Colon) {
			typ = p.parseType()
		}
		params = append(params, ast.Param{Name: name.Lexeme, Type: typ, Span: pStart.Merge(p.previousSpan())})
		if !p.eat(lexer.Comma) {
			break
		}
	}
	p.expect(lexer.Pipe)
	var ret ast.TypeExpr
	if p.eat(lexer.Arrow) {
		ret = p.parseType()
	}
	var body ast.Expr
	if p.peek() == lexer.LeftBrace {
		b := p.parseBlock()
		body = &ast.BlockExpr{ExprBase: ebase(b.Span, b.Span), Block: b}
	} else {
		body = p.parseExpr()
	}
	return &ast.ClosureExpr{ExprBase: ebase(start, p.previousSpan()), Params: params, ReturnType: ret, Body: body}
}
