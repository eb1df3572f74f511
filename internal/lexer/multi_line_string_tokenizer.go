package lexer

import (
	"strings"

	"weave/internal/token"
)

// MultiLineStringTokenizer reads a raw """...""" string. A newline right after
// the opening quotes is dropped.
type MultiLineStringTokenizer struct {
	lexer *Lexer
	start int
}

func NewMultiLineStringTokenizer(lexer *Lexer, start int) *MultiLineStringTokenizer {
	return &MultiLineStringTokenizer{lexer: lexer, start: start}
}

func (m *MultiLineStringTokenizer) NextToken() token.Token {
	var result strings.Builder
	l := m.lexer

	if l.ch == '\n' {
		l.readChar()
	}
	for {
		if l.ch == 0 {
			l.popMode()
			return token.Token{Type: token.ILLEGAL, Literal: "unterminated string", Position: m.start}
		}
		if l.ch == '"' && l.peekChar() == '"' && l.peekTwoChars() == '"' {
			for i := 0; i < 3; i++ {
				l.readChar()
			}
			break
		}
		if l.invalidByte() {
			tok := l.illegal(l.position, "string literal")
			l.popMode()
			return tok
		}
		result.WriteRune(l.ch)
		l.readChar()
	}

	l.popMode()
	return token.Token{Type: token.STRING, Literal: result.String(), Position: m.start}
}
