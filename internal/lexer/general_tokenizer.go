package lexer

import (
	"strings"

	"weave/internal/token"
)

// tokens after which a line break never ends the statement
var continuesLine = map[token.TokenType]bool{
	token.NEWLINE:   true,
	token.SEMICOLON: true,
	token.LBRACE:    true,
	token.PIPE:      true,
	token.PLUS:      true,
	token.MINUS:     true,
	token.ASTERISK:  true,
	token.SLASH:     true,
	token.FLOOR_DIV: true,
	token.PERCENT:   true,
	token.EQ:        true,
	token.NOT_EQ:    true,
	token.LT:        true,
	token.LT_EQ:     true,
	token.GT:        true,
	token.GT_EQ:     true,
	token.AND:       true,
	token.OR:        true,
	token.NOT:       true,
	token.ASSIGN:    true,
	token.COMMA:     true,
	token.COLON:     true,
	token.ROCKET:    true,
	token.ARROW:     true,
	token.PERIOD:    true,
}

// keywords that continue the previous statement from the next line
var continuationKeywords = []string{"else", "elif", "recover"}

type GeneralTokenizer struct {
	lexer *Lexer
}

func NewGeneralTokenizer(lexer *Lexer) *GeneralTokenizer {
	return &GeneralTokenizer{lexer: lexer}
}

func (g *GeneralTokenizer) NextToken() token.Token {
	var tok token.Token
	l := g.lexer

	if nl := l.skipWhitespace(); nl >= 0 && g.endsStatement() {
		return token.Token{Type: token.NEWLINE, Literal: "\n", Position: nl}
	}

	startPosition := l.position

	switch l.ch {
	case '=':
		tok = l.handleCompoundToken2(token.ASSIGN, '=', token.EQ, '>', token.ROCKET)
	case '+':
		tok = newToken(token.PLUS, l.ch, startPosition)
	case '-':
		tok = l.handleCompoundToken(token.MINUS, '>', token.ARROW)
	case '!':
		if l.peekChar() == '=' {
			tok = l.handleCompoundToken(token.ILLEGAL, '=', token.NOT_EQ)
		} else {
			tok = newToken(token.ILLEGAL, l.ch, startPosition)
		}
	case '/':
		tok = l.handleCompoundToken(token.SLASH, '/', token.FLOOR_DIV)
	case '*':
		tok = newToken(token.ASTERISK, l.ch, startPosition)
	case '%':
		tok = newToken(token.PERCENT, l.ch, startPosition)
	case '|':
		tok = newToken(token.PIPE, l.ch, startPosition)
	case '<':
		tok = l.handleCompoundToken(token.LT, '=', token.LT_EQ)
	case '>':
		tok = l.handleCompoundToken(token.GT, '=', token.GT_EQ)
	case ';':
		tok = newToken(token.SEMICOLON, l.ch, startPosition)
	case ':':
		tok = newToken(token.COLON, l.ch, startPosition)
	case ',':
		tok = newToken(token.COMMA, l.ch, startPosition)
	case '.':
		if isDigit(l.peekChar()) {
			tok = newToken(token.ILLEGAL, l.ch, startPosition)
		} else {
			tok = newToken(token.PERIOD, l.ch, startPosition)
		}
	case '@':
		tok = newToken(token.AT, l.ch, startPosition)
	case '(', '[', '{':
		l.delims = append(l.delims, l.ch)
		tok = newToken(openers[l.ch], l.ch, startPosition)
	case ')', ']':
		g.closeDelim()
		tok = newToken(closers[l.ch], l.ch, startPosition)
	case '}':
		if n := len(l.interp); n > 0 && l.interp[n-1] == len(l.delims) {
			l.interp = l.interp[:n-1]
			l.readChar()
			l.popMode() // back to the f-string
			return token.Token{Type: token.INTERP_END, Literal: "}", Position: startPosition}
		}
		g.closeDelim()
		tok = newToken(token.RBRACE, l.ch, startPosition)
	case '"', '\'':
		quote := l.ch
		if quote == '"' && l.peekChar() == '"' && l.peekTwoChars() == '"' {
			l.readChar()
			l.readChar()
			l.readChar()
			l.pushMode(NewMultiLineStringTokenizer(l, startPosition))
		} else {
			l.readChar() // consume the opening quote
			l.pushMode(NewStringTokenizer(l, quote, startPosition))
		}
		return l.NextToken()
	case 0:
		tok.Literal = ""
		tok.Type = token.EOF
		tok.Position = startPosition
		return tok
	default:
		if l.ch == 'f' && l.peekChar() == '"' {
			l.readChar()
			l.readChar()
			l.pushMode(NewFStringTokenizer(l))
			return token.Token{Type: token.FSTRING_START, Literal: `f"`, Position: startPosition}
		}
		if isLetter(l.ch) {
			return g.readWord(startPosition)
		}
		if isDigit(l.ch) {
			tok.Literal, tok.Type = l.readNumber()
			tok.Position = startPosition
			return tok
		}
		tok = l.illegal(startPosition, "")
	}

	l.readChar()
	return tok
}

// readWord reads a keyword, an identifier or a scoped identifier like system:name.
func (g *GeneralTokenizer) readWord(start int) token.Token {
	l := g.lexer
	word := l.readIdentifier()
	if token.Scopes[word] && l.ch == ':' && isLetter(l.peekChar()) {
		l.readChar() // consume the ':'
		name := l.readIdentifier()
		return token.Token{Type: token.SCOPED_IDENT, Literal: word + ":" + name, Position: start}
	}
	return token.Token{Type: token.LookupIdent(word), Literal: word, Position: start}
}

func (g *GeneralTokenizer) closeDelim() {
	if n := len(g.lexer.delims); n > 0 {
		g.lexer.delims = g.lexer.delims[:n-1]
	}
}

// endsStatement decides whether a crossed line break is emitted as NEWLINE.
func (g *GeneralTokenizer) endsStatement() bool {
	l := g.lexer
	if continuesLine[l.lastType] || l.ch == 0 {
		return false
	}
	if l.ch == '|' {
		return false // leading pipe continues a pipeline
	}
	rest := l.input[l.position:]
	for _, kw := range continuationKeywords {
		if strings.HasPrefix(rest, kw) && (len(rest) == len(kw) || !isLetter(rune(rest[len(kw)])) && !isDigit(rune(rest[len(kw)]))) {
			return false
		}
	}
	return true
}

var openers = map[rune]token.TokenType{
	'(': token.LPAREN,
	'[': token.LBRACKET,
	'{': token.LBRACE,
}

var closers = map[rune]token.TokenType{
	')': token.RPAREN,
	']': token.RBRACKET,
}
