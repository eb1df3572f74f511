// Package parser turns weave source text into a raw parse tree.
package parser

import (
	"fmt"
	"strings"

	"weave/internal/diag"
	"weave/internal/lexer"
	pt "weave/internal/parsetree"
	"weave/internal/token"
)

const (
	_ int = iota
	LOWEST
	PIPE        // a | b
	LOGICAL_OR  // or
	LOGICAL_AND // and
	LOGICAL_NOT // not x
	COMPARISON  // == != < > <= >= in
	SUM         // + -
	PRODUCT     // * / // %
	PREFIX      // -x
	CALL        // fn(x), list[i], obj.attr
)

var precedences = map[token.TokenType]int{
	token.PIPE:      PIPE,
	token.OR:        LOGICAL_OR,
	token.AND:       LOGICAL_AND,
	token.EQ:        COMPARISON,
	token.NOT_EQ:    COMPARISON,
	token.LT:        COMPARISON,
	token.LT_EQ:     COMPARISON,
	token.GT:        COMPARISON,
	token.GT_EQ:     COMPARISON,
	token.IN:        COMPARISON,
	token.PLUS:      SUM,
	token.MINUS:     SUM,
	token.ASTERISK:  PRODUCT,
	token.SLASH:     PRODUCT,
	token.FLOOR_DIV: PRODUCT,
	token.PERCENT:   PRODUCT,
	token.LPAREN:    CALL,
	token.LBRACKET:  CALL,
	token.PERIOD:    CALL,
}

type (
	prefixParseFn func() *pt.Node
	infixParseFn  func(*pt.Node) *pt.Node
)

type Parser struct {
	tokenizer lexer.Tokenizer
	src       string
	errors    []string
	firstErr  *diag.Error

	curToken  token.Token
	peekToken token.Token

	prefixParseFns map[token.TokenType]prefixParseFn
	infixParseFns  map[token.TokenType]infixParseFn
}

// Parse parses a whole source file.
func Parse(src string) (*pt.Node, error) {
	p := New(lexer.New(src), src)
	tree := p.ParseFile()
	if err := p.Err(); err != nil {
		return nil, err
	}
	return tree, nil
}

func New(l lexer.Tokenizer, source string) *Parser {
	p := &Parser{
		tokenizer: l,
		src:       source,
	}

	p.prefixParseFns = make(map[token.TokenType]prefixParseFn)
	p.registerPrefix(token.IDENT, p.parseName)
	p.registerPrefix(token.SCOPED_IDENT, p.parseScopedName)
	p.registerPrefix(token.INT, p.parseNumber)
	p.registerPrefix(token.FLOAT, p.parseNumber)
	p.registerPrefix(token.STRING, p.parseString)
	p.registerPrefix(token.FSTRING_START, p.parseFString)
	p.registerPrefix(token.TRUE, p.parseConst)
	p.registerPrefix(token.FALSE, p.parseConst)
	p.registerPrefix(token.NONE, p.parseConst)
	p.registerPrefix(token.MINUS, p.parsePrefixExpression)
	p.registerPrefix(token.NOT, p.parseNotExpression)
	p.registerPrefix(token.LPAREN, p.parseGroupedExpression)
	p.registerPrefix(token.LBRACKET, p.parseListDisplay)
	p.registerPrefix(token.LBRACE, p.parseDictDisplay)
	p.registerPrefix(token.FUNCTION, p.parseLambda)

	p.infixParseFns = make(map[token.TokenType]infixParseFn)
	for _, t := range []token.TokenType{
		token.PLUS, token.MINUS, token.ASTERISK, token.SLASH, token.FLOOR_DIV, token.PERCENT,
		token.EQ, token.NOT_EQ, token.LT, token.LT_EQ, token.GT, token.GT_EQ, token.IN,
		token.AND, token.OR,
	} {
		p.registerInfix(t, p.parseInfixExpression)
	}
	p.registerInfix(token.PIPE, p.parsePipeExpression)
	p.registerInfix(token.LPAREN, p.parseCallExpression)
	p.registerInfix(token.LBRACKET, p.parseIndexExpression)
	p.registerInfix(token.PERIOD, p.parseAttrExpression)

	// Read two tokens, so curToken and peekToken are both set
	p.nextToken()
	p.nextToken()

	return p
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.tokenizer.NextToken()
}

func (p *Parser) curTokenIs(t token.TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) peekTokenIs(t token.TokenType) bool {
	return p.peekToken.Type == t
}

func (p *Parser) failed() bool {
	return len(p.errors) > 0
}

func (p *Parser) addErrorAt(pos int, message string, args ...any) {
	span := token.SpanAt(p.src, pos)
	m := fmt.Sprintf(message, args...)
	p.errors = append(p.errors, fmt.Sprintf("[%3d:%2d] %s", span.Line, span.Col, m))
	if p.firstErr == nil {
		p.firstErr = diag.New(diag.SyntaxError, "%s", m).WithSpan(span)
	}
}

func (p *Parser) addError(message string, args ...any) {
	p.addErrorAt(p.curToken.Position, message, args...)
}

func (p *Parser) peekError(t token.TokenType) {
	if p.peekTokenIs(token.ILLEGAL) {
		p.addErrorAt(p.peekToken.Position, "%s", describe(p.peekToken))
		return
	}
	p.addErrorAt(p.peekToken.Position, "expected %s, got %s", t, describe(p.peekToken))
}

func (p *Parser) expectPeek(t token.TokenType) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.peekError(t)
	return false
}

// Errors returns all messages with [line:col] prefixes.
func (p *Parser) Errors() []string {
	return p.errors
}

// Err returns the first error as a SyntaxError, or nil.
func (p *Parser) Err() error {
	if p.firstErr == nil {
		return nil
	}
	if len(p.errors) > 1 {
		p.firstErr.Message += fmt.Sprintf(" (and %d more)", len(p.errors)-1)
	}
	return p.firstErr
}

func describe(tok token.Token) string {
	switch tok.Type {
	case token.EOF:
		return "end of input"
	case token.NEWLINE:
		return "end of line"
	case token.ILLEGAL:
		if len(tok.Literal) > 1 {
			return tok.Literal
		}
		return fmt.Sprintf("illegal character %q", tok.Literal)
	case token.STRING:
		return fmt.Sprintf("string %q", tok.Literal)
	}
	return fmt.Sprintf("%q", tok.Literal)
}

// ParseFile parses statements until EOF.
func (p *Parser) ParseFile() *pt.Node {
	file := pt.New(pt.File, p.curToken)
	list := pt.New(pt.StmtList, p.curToken)
	file.Add(list)
	p.parseStatements(list, token.EOF)
	return file
}

func (p *Parser) skipTerminators() {
	for p.curTokenIs(token.NEWLINE) || p.curTokenIs(token.SEMICOLON) {
		p.nextToken()
	}
}

// parseStatements fills list until the closing token is current.
func (p *Parser) parseStatements(list *pt.Node, closing token.TokenType) {
	p.skipTerminators()
	for !p.curTokenIs(closing) && !p.failed() {
		if p.curTokenIs(token.EOF) {
			p.addError("expected %s, got end of input", closing)
			return
		}
		stmt := p.parseStatement()
		if stmt == nil || p.failed() {
			return
		}
		list.Add(stmt)
		switch {
		case p.peekTokenIs(token.NEWLINE), p.peekTokenIs(token.SEMICOLON):
			p.nextToken()
			p.skipTerminators()
		case p.peekTokenIs(closing):
			p.nextToken()
		case p.peekTokenIs(token.ILLEGAL):
			p.peekError(token.NEWLINE)
			return
		case p.peekTokenIs(token.EOF):
			p.addErrorAt(p.peekToken.Position, "expected %s, got end of input", closing)
			return
		default:
			p.addErrorAt(p.peekToken.Position, "unexpected %s after statement", describe(p.peekToken))
			return
		}
	}
}

func (p *Parser) parseStatement() *pt.Node {
	switch p.curToken.Type {
	case token.AT, token.DEF:
		return p.parseDefStatement()
	case token.IF:
		return p.parseIfStatement()
	case token.WHILE:
		return p.parseWhileStatement()
	case token.FOR:
		return p.parseForStatement()
	case token.AGENT:
		return p.parseAgentStatement()
	case token.IMPORT:
		return p.parseImportStatement()
	case token.TRY:
		return p.parseTryStatement()
	case token.RETURN:
		stmt := pt.New(pt.ReturnStmt, p.curToken)
		if p.endsExpression() {
			return stmt
		}
		p.nextToken()
		return stmt.Add(p.parseExpression(LOWEST))
	case token.BREAK:
		return pt.New(pt.BreakStmt, p.curToken)
	case token.CONTINUE:
		return pt.New(pt.ContinueStmt, p.curToken)
	case token.RAISE:
		stmt := pt.New(pt.RaiseStmt, p.curToken)
		p.nextToken()
		return stmt.Add(p.parseExpression(LOWEST))
	default:
		return p.parseExpressionOrAssignment()
	}
}

// endsExpression reports whether the statement ends after the current token.
func (p *Parser) endsExpression() bool {
	switch p.peekToken.Type {
	case token.NEWLINE, token.SEMICOLON, token.RBRACE, token.EOF:
		return true
	}
	return false
}

func (p *Parser) parseExpressionOrAssignment() *pt.Node {
	start := p.curToken
	expr := p.parseExpression(LOWEST)
	if expr == nil {
		return nil
	}
	if !p.peekTokenIs(token.ASSIGN) {
		return pt.New(pt.ExprStmt, start, expr)
	}
	switch expr.Rule {
	case pt.Name, pt.ScopedName, pt.Attr, pt.Index:
	default:
		p.addErrorAt(start.Position, "cannot assign to %s", expr.Rule)
		return nil
	}
	p.nextToken()
	assign := pt.New(pt.Assign, p.curToken, expr)
	p.nextToken()
	return assign.Add(p.parseExpression(LOWEST))
}

func (p *Parser) parseBlock() *pt.Node {
	if !p.curTokenIs(token.LBRACE) {
		p.addError("expected {, got %s", describe(p.curToken))
		return nil
	}
	block := pt.New(pt.Block, p.curToken)
	list := pt.New(pt.StmtList, p.curToken)
	block.Add(list)
	p.nextToken()
	p.parseStatements(list, token.RBRACE)
	if p.failed() {
		return nil
	}
	return block
}

func (p *Parser) expectBlock() *pt.Node {
	if !p.expectPeek(token.LBRACE) {
		return nil
	}
	return p.parseBlock()
}

func (p *Parser) parseIfStatement() *pt.Node {
	stmt := pt.New(pt.IfStmt, p.curToken)
	p.nextToken()
	stmt.Add(p.parseExpression(LOWEST), p.expectBlock())

	for p.peekTokenIs(token.ELIF) && !p.failed() {
		p.nextToken()
		clause := pt.New(pt.ElifClause, p.curToken)
		p.nextToken()
		clause.Add(p.parseExpression(LOWEST), p.expectBlock())
		stmt.Add(clause)
	}
	if p.peekTokenIs(token.ELSE) && !p.failed() {
		p.nextToken()
		stmt.Add(pt.New(pt.ElseClause, p.curToken, p.expectBlock()))
	}
	if p.failed() {
		return nil
	}
	return stmt
}

func (p *Parser) parseWhileStatement() *pt.Node {
	stmt := pt.New(pt.WhileStmt, p.curToken)
	p.nextToken()
	return stmt.Add(p.parseExpression(LOWEST), p.expectBlock())
}

func (p *Parser) parseForStatement() *pt.Node {
	stmt := pt.New(pt.ForStmt, p.curToken)
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	stmt.Add(pt.New(pt.Name, p.curToken))
	if !p.expectPeek(token.IN) {
		return nil
	}
	p.nextToken()
	return stmt.Add(p.parseExpression(LOWEST), p.expectBlock())
}

func (p *Parser) parseTryStatement() *pt.Node {
	stmt := pt.New(pt.TryStmt, p.curToken)
	stmt.Add(p.expectBlock())
	if !p.expectPeek(token.RECOVER) {
		return nil
	}
	clause := pt.New(pt.RecoverClause, p.curToken)
	if p.peekTokenIs(token.LPAREN) {
		p.nextToken()
		if !p.expectPeek(token.IDENT) {
			return nil
		}
		clause.Add(pt.New(pt.Name, p.curToken))
		if !p.expectPeek(token.RPAREN) {
			return nil
		}
	}
	clause.Add(p.expectBlock())
	return stmt.Add(clause)
}

func (p *Parser) parseImportStatement() *pt.Node {
	stmt := pt.New(pt.ImportStmt, p.curToken)
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	stmt.Add(p.parseDottedName())
	if p.peekTokenIs(token.AS) {
		p.nextToken()
		alias := pt.New(pt.ImportAlias, p.curToken)
		if !p.expectPeek(token.IDENT) {
			return nil
		}
		stmt.Add(alias.Add(pt.New(pt.Name, p.curToken)))
	}
	return stmt
}

// parseDottedName reads NAME { "." NAME } starting at the current IDENT.
func (p *Parser) parseDottedName() *pt.Node {
	dotted := pt.New(pt.DottedName, p.curToken, pt.New(pt.Name, p.curToken))
	for p.peekTokenIs(token.PERIOD) {
		p.nextToken()
		if !p.expectPeek(token.IDENT) {
			return nil
		}
		dotted.Add(pt.New(pt.Name, p.curToken))
	}
	return dotted
}

func (p *Parser) parseAgentStatement() *pt.Node {
	stmt := pt.New(pt.AgentStmt, p.curToken)
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	stmt.Add(pt.New(pt.Name, p.curToken))
	return stmt.Add(p.expectBlock())
}

func (p *Parser) parseDefStatement() *pt.Node {
	stmt := pt.New(pt.DefStmt, p.curToken)
	decorators := pt.New(pt.DecoratorList, p.curToken)
	for p.curTokenIs(token.AT) {
		dec := p.parseDecorator()
		if dec == nil {
			return nil
		}
		decorators.Add(dec)
		p.nextToken()
		p.skipTerminators()
	}
	stmt.Add(decorators)
	if !p.curTokenIs(token.DEF) {
		p.addError("expected def after decorator, got %s", describe(p.curToken))
		return nil
	}
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	stmt.Add(p.parseDottedName())
	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	stmt.Add(p.parseParamList())
	if p.peekTokenIs(token.ARROW) {
		p.nextToken()
		rt := pt.New(pt.ReturnType, p.curToken)
		if !p.expectPeek(token.IDENT) {
			return nil
		}
		stmt.Add(rt.Add(pt.New(pt.Name, p.curToken)))
	}
	return stmt.Add(p.expectBlock())
}

func (p *Parser) parseDecorator() *pt.Node {
	dec := pt.New(pt.Decorator, p.curToken)
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	dec.Add(pt.New(pt.Name, p.curToken))
	if p.peekTokenIs(token.LPAREN) {
		p.nextToken()
		dec.Add(p.parseArguments())
	}
	if p.failed() {
		return nil
	}
	return dec
}

// parseParamList parses "(" [param {"," param}] ")" with the current token at "(".
func (p *Parser) parseParamList() *pt.Node {
	list := pt.New(pt.ParamList, p.curToken)
	if p.peekTokenIs(token.RPAREN) {
		p.nextToken()
		return list
	}
	for {
		if !p.expectPeek(token.IDENT) {
			return nil
		}
		param := pt.New(pt.Param, p.curToken, pt.New(pt.Name, p.curToken))
		if p.peekTokenIs(token.COLON) {
			p.nextToken()
			annot := pt.New(pt.TypeAnnot, p.curToken)
			if !p.expectPeek(token.IDENT) {
				return nil
			}
			param.Add(annot.Add(pt.New(pt.Name, p.curToken)))
		}
		if p.peekTokenIs(token.ASSIGN) {
			p.nextToken()
			def := pt.New(pt.ParamDefault, p.curToken)
			p.nextToken()
			param.Add(def.Add(p.parseExpression(LOWEST)))
		}
		list.Add(param)
		if !p.peekTokenIs(token.COMMA) {
			break
		}
		p.nextToken()
		if p.peekTokenIs(token.RPAREN) {
			break
		}
	}
	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	return list
}

func (p *Parser) parseExpression(precedence int) *pt.Node {
	prefix := p.prefixParseFns[p.curToken.Type]
	if prefix == nil {
		p.noPrefixParseFnError()
		return nil
	}
	leftExp := prefix()

	for leftExp != nil && !p.failed() && precedence < p.peekPrecedence() {
		infix := p.infixParseFns[p.peekToken.Type]
		if infix == nil {
			return leftExp
		}
		p.nextToken()
		leftExp = infix(leftExp)
	}
	if p.failed() {
		return nil
	}
	return leftExp
}

func (p *Parser) noPrefixParseFnError() {
	if p.curTokenIs(token.ILLEGAL) {
		p.addError("%s", describe(p.curToken))
		return
	}
	p.addError("unexpected %s, expected an expression", describe(p.curToken))
}

func (p *Parser) peekPrecedence() int {
	if p, ok := precedences[p.peekToken.Type]; ok {
		return p
	}
	return LOWEST
}

func (p *Parser) curPrecedence() int {
	if p, ok := precedences[p.curToken.Type]; ok {
		return p
	}
	return LOWEST
}

func (p *Parser) parseName() *pt.Node {
	return pt.New(pt.Name, p.curToken)
}

func (p *Parser) parseScopedName() *pt.Node {
	return pt.New(pt.ScopedName, p.curToken)
}

func (p *Parser) parseNumber() *pt.Node {
	return pt.New(pt.Number, p.curToken)
}

func (p *Parser) parseString() *pt.Node {
	return pt.New(pt.String, p.curToken)
}

func (p *Parser) parseConst() *pt.Node {
	return pt.New(pt.Const, p.curToken)
}

func (p *Parser) parseFString() *pt.Node {
	fs := pt.New(pt.FString, p.curToken)
	for {
		p.nextToken()
		switch p.curToken.Type {
		case token.FSTRING_END:
			return fs
		case token.STRING:
			fs.Add(pt.New(pt.FStringText, p.curToken))
		case token.INTERP_START:
			part := pt.New(pt.FStringExpr, p.curToken)
			p.nextToken()
			part.Add(p.parseExpression(LOWEST))
			if !p.expectPeek(token.INTERP_END) {
				return nil
			}
			fs.Add(part)
		case token.ILLEGAL:
			p.addError("%s", describe(p.curToken))
			return nil
		default:
			p.addError("unexpected %s in f-string", describe(p.curToken))
			return nil
		}
	}
}

func (p *Parser) parsePrefixExpression() *pt.Node {
	expr := pt.New(pt.Unary, p.curToken)
	p.nextToken()
	return expr.Add(p.parseExpression(PREFIX))
}

func (p *Parser) parseNotExpression() *pt.Node {
	expr := pt.New(pt.Unary, p.curToken)
	p.nextToken()
	return expr.Add(p.parseExpression(LOGICAL_NOT))
}

func (p *Parser) parseInfixExpression(left *pt.Node) *pt.Node {
	expr := pt.New(pt.Binary, p.curToken, left)
	precedence := p.curPrecedence()
	p.nextToken()
	return expr.Add(p.parseExpression(precedence))
}

func (p *Parser) parsePipeExpression(left *pt.Node) *pt.Node {
	expr := pt.New(pt.PipeExpr, p.curToken, left)
	p.nextToken()
	return expr.Add(p.parseExpression(PIPE))
}

// parseGroupedExpression handles (expr), (), (a,) and (a, b).
func (p *Parser) parseGroupedExpression() *pt.Node {
	start := p.curToken
	if p.peekTokenIs(token.RPAREN) {
		p.nextToken()
		return pt.New(pt.TupleDisplay, start)
	}
	p.nextToken()
	first := p.parseExpression(LOWEST)
	if first == nil {
		return nil
	}
	if p.peekTokenIs(token.RPAREN) {
		p.nextToken()
		return pt.New(pt.ParenExpr, start, first)
	}
	if !p.expectPeek(token.COMMA) {
		return nil
	}
	tuple := pt.New(pt.TupleDisplay, start, first)
	for !p.peekTokenIs(token.RPAREN) {
		p.nextToken()
		tuple.Add(p.parseExpression(LOWEST))
		if p.failed() || !p.peekTokenIs(token.COMMA) {
			break
		}
		p.nextToken()
	}
	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	return tuple
}

func (p *Parser) parseListDisplay() *pt.Node {
	list := pt.New(pt.ListDisplay, p.curToken)
	for _, e := range p.parseExpressionList(token.RBRACKET) {
		list.Add(e)
	}
	if p.failed() {
		return nil
	}
	return list
}

// parseExpressionList parses comma separated expressions up to end; trailing comma allowed.
func (p *Parser) parseExpressionList(end token.TokenType) []*pt.Node {
	var list []*pt.Node
	p.skipPeekNewlines()
	if p.peekTokenIs(end) {
		p.nextToken()
		return list
	}
	for {
		p.nextToken()
		list = append(list, p.parseExpression(LOWEST))
		if p.failed() {
			return nil
		}
		p.skipPeekNewlines()
		if !p.peekTokenIs(token.COMMA) {
			break
		}
		p.nextToken()
		p.skipPeekNewlines()
		if p.peekTokenIs(end) {
			break
		}
	}
	if !p.expectPeek(end) {
		return nil
	}
	return list
}

func (p *Parser) skipPeekNewlines() {
	for p.peekTokenIs(token.NEWLINE) {
		p.nextToken()
	}
}

func (p *Parser) parseDictDisplay() *pt.Node {
	dict := pt.New(pt.DictDisplay, p.curToken)
	p.skipPeekNewlines()
	for !p.peekTokenIs(token.RBRACE) {
		p.nextToken()
		item := pt.New(pt.DictItem, p.curToken)
		item.Add(p.parseExpression(LOWEST))
		if !p.expectPeek(token.COLON) {
			return nil
		}
		p.nextToken()
		item.Add(p.parseExpression(LOWEST))
		if p.failed() {
			return nil
		}
		dict.Add(item)
		p.skipPeekNewlines()
		if !p.peekTokenIs(token.COMMA) {
			break
		}
		p.nextToken()
		p.skipPeekNewlines()
	}
	if !p.expectPeek(token.RBRACE) {
		return nil
	}
	return dict
}

// parseLambda handles fn(params) => expr and fn(params) { block }.
func (p *Parser) parseLambda() *pt.Node {
	lambda := pt.New(pt.Lambda, p.curToken)
	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	lambda.Add(p.parseParamList())
	if p.failed() {
		return nil
	}
	switch {
	case p.peekTokenIs(token.ROCKET):
		p.nextToken()
		body := pt.New(pt.LambdaExpr, p.curToken)
		p.nextToken()
		lambda.Add(body.Add(p.parseExpression(PIPE)))
	case p.peekTokenIs(token.LBRACE):
		p.nextToken()
		lambda.Add(p.parseBlock())
	default:
		p.peekError(token.ROCKET)
		return nil
	}
	if p.failed() {
		return nil
	}
	return lambda
}

func (p *Parser) parseCallExpression(callee *pt.Node) *pt.Node {
	call := pt.New(pt.Call, p.curToken, callee)
	return call.Add(p.parseArguments())
}

// parseArguments parses "(" args ")" with the current token at "(".
func (p *Parser) parseArguments() *pt.Node {
	args := pt.New(pt.Arguments, p.curToken)
	if p.peekTokenIs(token.RPAREN) {
		p.nextToken()
		return args
	}
	for {
		p.nextToken()
		if p.curTokenIs(token.IDENT) && p.peekTokenIs(token.ASSIGN) {
			kw := pt.New(pt.Kwarg, p.curToken, pt.New(pt.Name, p.curToken))
			p.nextToken()
			p.nextToken()
			args.Add(kw.Add(p.parseExpression(LOWEST)))
		} else {
			arg := pt.New(pt.Argument, p.curToken)
			args.Add(arg.Add(p.parseExpression(LOWEST)))
		}
		if p.failed() {
			return nil
		}
		if !p.peekTokenIs(token.COMMA) {
			break
		}
		p.nextToken()
		if p.peekTokenIs(token.RPAREN) {
			break
		}
	}
	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	return args
}

func (p *Parser) parseIndexExpression(left *pt.Node) *pt.Node {
	idx := pt.New(pt.Index, p.curToken, left)
	p.nextToken()
	idx.Add(p.parseExpression(LOWEST))
	if !p.expectPeek(token.RBRACKET) {
		return nil
	}
	return idx
}

func (p *Parser) parseAttrExpression(left *pt.Node) *pt.Node {
	attr := pt.New(pt.Attr, p.curToken, left)
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	return attr.Add(pt.New(pt.Name, p.curToken))
}

func (p *Parser) registerPrefix(tokenType token.TokenType, fn prefixParseFn) {
	p.prefixParseFns[tokenType] = fn
}

func (p *Parser) registerInfix(tokenType token.TokenType, fn infixParseFn) {
	p.infixParseFns[tokenType] = fn
}

// FormatErrors joins the collected messages one per line.
func FormatErrors(errs []string) string {
	return strings.Join(errs, "\n")
}
