package parser

import (
	"github.com/concerto-lang/concerto/internal/ast"
	"github.com/concerto-lang/concerto/internal/diag"
	"github.com/concerto-lang/concerto/internal/lexer"
)

func (p *Parser) parseDeclaration() ast.Decl {
	doc := p.consumeDocComments()
	start := p.currentSpan()
	decorators := p.parseDecorators()
	public := p.eat(lexer.Pub)

	switch p.peek() {
	case lexer.Async, lexer.Fn:
		return p.parseFunctionDecl(start, decorators, public, doc)
	case lexer.Agent:
		return p.parseAgentLikeDecl(start, decorators, public, doc)
	case lexer.Host:
		return p.parseHostDecl(start, decorators, public, doc)
	case lexer.Tool:
		return p.parseToolDecl(start, decorators, public, doc)
	case lexer.Schema:
		return p.parseSchemaDecl(start, decorators, public, doc)
	case lexer.Pipeline:
		return p.parsePipelineDecl(start, decorators, public, doc)
	case lexer.Struct:
		return p.parseStructDecl(start, decorators, public, doc)
	case lexer.Enum:
		return p.parseEnumDecl(start, decorators, public, doc)
	case lexer.Trait:
		return p.parseTraitDecl(start, decorators, public)
	case lexer.Impl:
		return p.parseImplDecl(start, decorators, public)
	case lexer.Use:
		return p.parseUseDecl(start, decorators, public)
	case lexer.Mod:
		return p.parseModuleDecl(start, decorators, public)
	case lexer.Const:
		return p.parseConstDecl(start, decorators, public)
	case lexer.Type:
		return p.parseTypeAliasDecl(start, decorators, public)
	case lexer.HashMap:
		return p.parseHashMapDecl(start, decorators, public)
	case lexer.Ledger:
		return p.parseLedgerDecl(start, decorators, public, doc)
	case lexer.Memory:
		return p.parseMemoryDecl(start, decorators, public)
	case lexer.Mcp:
		return p.parseMcpDecl(start, decorators, public)
	default:
		p.diags.Error("expected declaration, found "+p.peek().String(), p.currentSpan())
		return nil
	}
}

func (p *Parser) parseDecorators() []ast.Decorator {
	var decs []ast.Decorator
	for p.peek() == lexer.At {
		start := p.currentSpan()
		p.advance()
		name, _ := p.expect(lexer.Identifier)
		var args []ast.DecoratorArg
		if p.eat(lexer.LeftParen) {
			for p.peek() != lexer.RightParen && !p.isAtEnd() {
				argName := ""
				if p.peek() == lexer.Identifier && p.peekAt(1) == lexer.Colon {
					argName = p.advance().Lexeme
					p.advance()
				}
				val := p.parseExpr()
				args = append(args, ast.DecoratorArg{Name: argName, Value: val})
				if !p.eat(lexer.Comma) {
					break
				}
			}
			p.expect(lexer.RightParen)
		}
		decs = append(decs, ast.Decorator{Name: name.Lexeme, Args: args, Span: start.Merge(p.previousSpan())})
	}
	return decs
}

func declBaseOf(start diag.Span, decorators []ast.Decorator, public bool, end diag.Span) ast.DeclBase {
	return ast.DeclBase{Span: start.Merge(end), Decorators: decorators, Public: public}
}

func (p *Parser) parseParams() ([]ast.Param, *ast.SelfParam) {
	var self *ast.SelfParam
	var params []ast.Param
	p.expect(lexer.LeftParen)
	first := true
	for p.peek() != lexer.RightParen && !p.isAtEnd() {
		if first && (p.peek() == lexer.SelfKw || (p.peek() == lexer.Mut && p.peekAt(1) == lexer.SelfKw)) {
			start := p.currentSpan()
			mutable := p.eat(lexer.Mut)
			p.expect(lexer.SelfKw)
			self = &ast.SelfParam{Mutable: mutable, Span: start.Merge(p.previousSpan())}
			first = false
			if !p.eat(lexer.Comma) {
				break
			}
			continue
		}
		first = false
		pStart := p.currentSpan()
		name, _ := p.expect(lexer.Identifier)
		var typ ast.TypeExpr
		if p.eat(lexer.Colon) {
			typ = p.parseType()
		}
		var def ast.Expr
		if p.eat(lexer.Equal) {
			def = p.parseExpr()
		}
		params = append(params, ast.Param{Name: name.Lexeme, Type: typ, Default: def, Span: pStart.Merge(p.previousSpan())})
		if !p.eat(lexer.Comma) {
			break
		}
	}
	p.expect(lexer.RightParen)
	return params, self
}

func (p *Parser) parseFunctionDecl(start diag.Span, decorators []ast.Decorator, public bool, doc string) *ast.FunctionDecl {
	isAsync := p.eat(lexer.Async)
	p.expect(lexer.Fn)
	name, _ := p.expect(lexer.Identifier)
	params, self := p.parseParams()
	var ret ast.TypeExpr
	if p.eat(lexer.Arrow) {
		ret = p.parseType()
	}
	body := p.parseBlock()
	end := p.previousSpan()
	return &ast.FunctionDecl{
		Name: name.Lexeme, SelfParam: self, Params: params, ReturnType: ret,
		IsAsync: isAsync, Body: body, Doc: doc,
		DeclBase: structDeclBase(start, decorators, public, end),
	}
}

func structDeclBase(start diag.Span, decorators []ast.Decorator, public bool, end diag.Span) ast.DeclBase {
	return declBaseOf(start, decorators, public, end)
}

func (p *Parser) parseBody(declName string) ([]ast.FieldInit, []*ast.FunctionDecl) {
	var fields []ast.FieldInit
	var methods []*ast.FunctionDecl
	p.expect(lexer.LeftBrace)
	for p.peek() != lexer.RightBrace && !p.isAtEnd() {
		doc := p.consumeDocComments()
		decorators := p.parseDecorators()
		public := p.eat(lexer.Pub)
		if p.peek() == lexer.Fn || p.peek() == lexer.Async {
			m := p.parseFunctionDecl(p.currentSpan(), decorators, public, doc)
			methods = append(methods, m)
			continue
		}
		fStart := p.currentSpan()
		name, ok := p.expect(lexer.Identifier)
		if !ok {
			p.advance()
			continue
		}
		p.expect(lexer.Colon)
		val := p.parseExpr()
		p.eat(lexer.Comma)
		fields = append(fields, ast.FieldInit{Name: name.Lexeme, Value: val, Span: fStart.Merge(p.previousSpan())})
	}
	p.expect(lexer.RightBrace)
	return fields, methods
}

func (p *Parser) parseAgentLikeDecl(start diag.Span, decorators []ast.Decorator, public bool, doc string) *ast.AgentDecl {
	p.expect(lexer.Agent)
	name, _ := p.expect(lexer.Identifier)
	fields, methods := p.parseBody(name.Lexeme)
	return &ast.AgentDecl{
		Name: name.Lexeme, Fields: fields, Methods: methods, Doc: doc,
		DeclBase: structDeclBase(start, decorators, public, p.previousSpan()),
	}
}

func (p *Parser) parseHostDecl(start diag.Span, decorators []ast.Decorator, public bool, doc string) *ast.HostDecl {
	p.expect(lexer.Host)
	name, _ := p.expect(lexer.Identifier)
	fields, methods := p.parseBody(name.Lexeme)
	return &ast.HostDecl{
		Name: name.Lexeme, Fields: fields, Methods: methods, Doc: doc,
		DeclBase: structDeclBase(start, decorators, public, p.previousSpan()),
	}
}

func (p *Parser) parseToolDecl(start diag.Span, decorators []ast.Decorator, public bool, doc string) *ast.ToolDecl {
	p.expect(lexer.Tool)
	name, _ := p.expect(lexer.Identifier)
	fields, methods := p.parseBody(name.Lexeme)
	return &ast.ToolDecl{
		Name: name.Lexeme, Fields: fields, Methods: methods, Doc: doc,
		DeclBase: structDeclBase(start, decorators, public, p.previousSpan()),
	}
}

func (p *Parser) parseLedgerDecl(start diag.Span, decorators []ast.Decorator, public bool, doc string) *ast.LedgerDecl {
	p.expect(lexer.Ledger)
	name, _ := p.expect(lexer.Identifier)
	fields, _ := p.parseBody(name.Lexeme)
	return &ast.LedgerDecl{
		Name: name.Lexeme, Fields: fields, Doc: doc,
		DeclBase: structDeclBase(start, decorators, public, p.previousSpan()),
	}
}

func (p *Parser) parseMemoryDecl(start diag.Span, decorators []ast.Decorator, public bool) *ast.MemoryDecl {
	p.expect(lexer.Memory)
	name, _ := p.expect(lexer.Identifier)
	fields, _ := p.parseBody(name.Lexeme)
	return &ast.MemoryDecl{
		Name: name.Lexeme, Fields: fields,
		DeclBase: structDeclBase(start, decorators, public, p.previousSpan()),
	}
}

func (p *Parser) parseMcpDecl(start diag.Span, decorators []ast.Decorator, public bool) *ast.McpDecl {
	p.expect(lexer.Mcp)
	name, _ := p.expect(lexer.Identifier)
	fields, _ := p.parseBody(name.Lexeme)
	return &ast.McpDecl{
		Name: name.Lexeme, Fields: fields,
		DeclBase: structDeclBase(start, decorators, public, p.previousSpan()),
	}
}

func (p *Parser) parseHashMapDecl(start diag.Span, decorators []ast.Decorator, public bool) *ast.HashMapDecl {
	p.expect(lexer.HashMap)
	name, _ := p.expect(lexer.Identifier)
	var key, val ast.TypeExpr
	if p.eat(lexer.Less) {
		key = p.parseType()
		p.expect(lexer.Comma)
		val = p.parseType()
		p.expect(lexer.Greater)
	}
	p.expect(lexer.Semicolon)
	return &ast.HashMapDecl{
		Name: name.Lexeme, KeyType: key, ValueType: val,
		DeclBase: structDeclBase(start, decorators, public, p.previousSpan()),
	}
}

func (p *Parser) parseSchemaDecl(start diag.Span, decorators []ast.Decorator, public bool, doc string) *ast.SchemaDecl {
	p.expect(lexer.Schema)
	name, _ := p.expect(lexer.Identifier)
	fields := p.parseStructFields()
	return &ast.SchemaDecl{
		Name: name.Lexeme, Fields: fields, Doc: doc,
		DeclBase: structDeclBase(start, decorators, public, p.previousSpan()),
	}
}

func (p *Parser) parseStructFields() []ast.StructField {
	var fields []ast.StructField
	p.expect(lexer.LeftBrace)
	for p.peek() != lexer.RightBrace && !p.isAtEnd() {
		fStart := p.currentSpan()
		name, ok := p.expect(lexer.Identifier)
		if !ok {
			p.advance()
			continue
		}
		p.expect(lexer.Colon)
		typ := p.parseType()
		fields = append(fields, ast.StructField{Name: name.Lexeme, Type: typ, Span: fStart.Merge(p.previousSpan())})
		if !p.eat(lexer.Comma) {
			break
		}
	}
	p.expect(lexer.RightBrace)
	return fields
}

func (p *Parser) parseStructDecl(start diag.Span, decorators []ast.Decorator, public bool, doc string) *ast.StructDecl {
	p.expect(lexer.Struct)
	name, _ := p.expect(lexer.Identifier)
	fields := p.parseStructFields()
	return &ast.StructDecl{
		Name: name.Lexeme, Fields: fields, Doc: doc,
		DeclBase: structDeclBase(start, decorators, public, p.previousSpan()),
	}
}

func (p *Parser) parseEnumDecl(start diag.Span, decorators []ast.Decorator, public bool, doc string) *ast.EnumDecl {
	p.expect(lexer.Enum)
	name, _ := p.expect(lexer.Identifier)
	var variants []ast.EnumVariant
	p.expect(lexer.LeftBrace)
	for p.peek() != lexer.RightBrace && !p.isAtEnd() {
		vStart := p.currentSpan()
		vName, ok := p.expect(lexer.Identifier)
		if !ok {
			p.advance()
			continue
		}
		var fields []ast.TypeExpr
		if p.eat(lexer.LeftParen) {
			for p.peek() != lexer.RightParen && !p.isAtEnd() {
				fields = append(fields, p.parseType())
				if !p.eat(lexer.Comma) {
					break
				}
			}
			p.expect(lexer.RightParen)
		}
		variants = append(variants, ast.EnumVariant{Name: vName.Lexeme, Fields: fields, Span: vStart.Merge(p.previousSpan())})
		if !p.eat(lexer.Comma) {
			break
		}
	}
	p.expect(lexer.RightBrace)
	return &ast.EnumDecl{
		Name: name.Lexeme, Variants: variants, Doc: doc,
		DeclBase: structDeclBase(start, decorators, public, p.previousSpan()),
	}
}

func (p *Parser) parseTraitDecl(start diag.Span, decorators []ast.Decorator, public bool) *ast.TraitDecl {
	p.expect(lexer.Trait)
	name, _ := p.expect(lexer.Identifier)
	p.expect(lexer.LeftBrace)
	var methods []*ast.FunctionDecl
	for p.peek() != lexer.RightBrace && !p.isAtEnd() {
		doc := p.consumeDocComments()
		decs := p.parseDecorators()
		methods = append(methods, p.parseFunctionDecl(p.currentSpan(), decs, false, doc))
	}
	p.expect(lexer.RightBrace)
	return &ast.TraitDecl{
		Name: name.Lexeme, Methods: methods,
		DeclBase: structDeclBase(start, decorators, public, p.previousSpan()),
	}
}

func (p *Parser) parseImplDecl(start diag.Span, decorators []ast.Decorator, public bool) *ast.ImplDecl {
	p.expect(lexer.Impl)
	first, _ := p.expect(lexer.Identifier)
	traitName := ""
	targetType := first.Lexeme
	if p.eat(lexer.For) {
		traitName = first.Lexeme
		target, _ := p.expect(lexer.Identifier)
		targetType = target.Lexeme
	}
	p.expect(lexer.LeftBrace)
	var methods []*ast.FunctionDecl
	for p.peek() != lexer.RightBrace && !p.isAtEnd() {
		doc := p.consumeDocComments()
		decs := p.parseDecorators()
		pub := p.eat(lexer.Pub)
		methods = append(methods, p.parseFunctionDecl(p.currentSpan(), decs, pub, doc))
	}
	p.expect(lexer.RightBrace)
	return &ast.ImplDecl{
		TraitName: traitName, TargetType: targetType, Methods: methods,
		DeclBase: structDeclBase(start, decorators, public, p.previousSpan()),
	}
}

func (p *Parser) parseUseDecl(start diag.Span, decorators []ast.Decorator, public bool) *ast.UseDecl {
	p.expect(lexer.Use)
	var segs []string
	first, _ := p.expect(lexer.Identifier)
	segs = append(segs, first.Lexeme)
	for p.eat(lexer.ColonColon) {
		seg, _ := p.expect(lexer.Identifier)
		segs = append(segs, seg.Lexeme)
	}
	alias := ""
	if p.eat(lexer.As) {
		a, _ := p.expect(lexer.Identifier)
		alias = a.Lexeme
	}
	p.expect(lexer.Semicolon)
	return &ast.UseDecl{
		Path: segs, Alias: alias,
		DeclBase: structDeclBase(start, decorators, public, p.previousSpan()),
	}
}

func (p *Parser) parseModuleDecl(start diag.Span, decorators []ast.Decorator, public bool) *ast.ModuleDecl {
	p.expect(lexer.Mod)
	name, _ := p.expect(lexer.Identifier)
	p.expect(lexer.LeftBrace)
	var decls []ast.Decl
	for p.peek() != lexer.RightBrace && !p.isAtEnd() {
		before := p.pos
		d := p.parseDeclaration()
		if d != nil {
			decls = append(decls, d)
		}
		if p.pos == before {
			p.synchronize()
		}
	}
	p.expect(lexer.RightBrace)
	return &ast.ModuleDecl{
		Name: name.Lexeme, Declarations: decls,
		DeclBase: structDeclBase(start, decorators, public, p.previousSpan()),
	}
}

func (p *Parser) parseConstDecl(start diag.Span, decorators []ast.Decorator, public bool) *ast.ConstDecl {
	p.expect(lexer.Const)
	name, _ := p.expect(lexer.Identifier)
	var typ ast.TypeExpr
	if p.eat(lexer.Colon) {
		typ = p.parseType()
	}
	p.expect(lexer.Equal)
	val := p.parseExpr()
	p.expect(lexer.Semicolon)
	return &ast.ConstDecl{
		Name: name.Lexeme, Type: typ, Value: val,
		DeclBase: structDeclBase(start, decorators, public, p.previousSpan()),
	}
}

func (p *Parser) parsePipelineDecl(start diag.Span, decorators []ast.Decorator, public bool, doc string) *ast.PipelineDecl {
	p.expect(lexer.Pipeline)
	name, _ := p.expect(lexer.Identifier)
	var input, output ast.TypeExpr
	if p.eat(lexer.LeftParen) {
		// Both `pipeline P(String)` and the named form `pipeline P(input: String)`.
		if p.peek() == lexer.Identifier && p.peekAt(1) == lexer.Colon {
			p.advance()
			p.advance()
		}
		input = p.parseType()
		p.expect(lexer.RightParen)
	}
	if p.eat(lexer.Arrow) {
		output = p.parseType()
	}
	p.expect(lexer.LeftBrace)
	var stages []ast.PipelineStage
	for p.peek() != lexer.RightBrace && !p.isAtEnd() {
		sStart := p.currentSpan()
		stageDecs := p.parseDecorators()
		p.expect(lexer.Stage)
		sName, _ := p.expect(lexer.Identifier)
		params, _ := p.parseParams()
		var sIn, sOut ast.TypeExpr
		if len(params) > 0 {
			sIn = params[0].Type
		}
		if p.eat(lexer.Arrow) {
			sOut = p.parseType()
		}
		body := p.parseBlock()
		stages = append(stages, ast.PipelineStage{
			Name: sName.Lexeme, Params: params, InputType: sIn, OutputType: sOut,
			Decorators: stageDecs, Body: body, Span: sStart.Merge(p.previousSpan()),
		})
	}
	p.expect(lexer.RightBrace)
	return &ast.PipelineDecl{
		Name: name.Lexeme, InputType: input, OutputType: output, Stages: stages, Doc: doc,
		DeclBase: structDeclBase(start, decorators, public, p.previousSpan()),
	}
}

func (p *Parser) parseTypeAliasDecl(start diag.Span, decorators []ast.Decorator, public bool) *ast.TypeAliasDecl {
	p.expect(lexer.Type)
	name, _ := p.expect(lexer.Identifier)
	p.expect(lexer.Equal)
	typ := p.parseType()
	p.expect(lexer.Semicolon)
	return &ast.TypeAliasDecl{
		Name: name.Lexeme, Type: typ,
		DeclBase: structDeclBase(start, decorators, public, p.previousSpan()),
	}
}
