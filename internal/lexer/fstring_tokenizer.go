package lexer

import (
	"strings"

	"weave/internal/token"
)

// FStringTokenizer splits f"text {expr} text" into STRING pieces and
// INTERP_START/INTERP_END pairs. Between the pair the general tokenizer runs.
// {{ and }} are literal braces.
type FStringTokenizer struct {
	lexer *Lexer
}

func NewFStringTokenizer(lexer *Lexer) *FStringTokenizer {
	return &FStringTokenizer{lexer: lexer}
}

func (f *FStringTokenizer) NextToken() token.Token {
	l := f.lexer
	start := l.position

	switch {
	case l.ch == '"':
		l.readChar()
		l.popMode()
		return token.Token{Type: token.FSTRING_END, Literal: `"`, Position: start}
	case l.ch == '{' && l.peekChar() != '{':
		l.readChar()
		l.interp = append(l.interp, len(l.delims))
		l.pushMode(NewGeneralTokenizer(l))
		return token.Token{Type: token.INTERP_START, Literal: "{", Position: start}
	}

	var result strings.Builder
	for {
		switch {
		case l.ch == 0 || l.ch == '\n':
			l.popMode()
			return token.Token{Type: token.ILLEGAL, Literal: "unterminated f-string", Position: start}
		case l.invalidByte():
			tok := l.illegal(l.position, "f-string")
			l.popMode()
			return tok
		case l.ch == '"':
			return token.Token{Type: token.STRING, Literal: result.String(), Position: start}
		case l.ch == '{' && l.peekChar() == '{', l.ch == '}' && l.peekChar() == '}':
			result.WriteRune(l.ch)
			l.readChar()
		case l.ch == '{':
			return token.Token{Type: token.STRING, Literal: result.String(), Position: start}
		case l.ch == '}':
			l.popMode()
			return token.Token{Type: token.ILLEGAL, Literal: "single '}' in f-string", Position: l.position}
		case l.ch == '\\':
			l.readChar()
			result.WriteString(l.readEscape())
		default:
			result.WriteRune(l.ch)
		}
		l.readChar()
	}
}
