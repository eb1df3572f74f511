package lexer

import (
	"strings"

	"weave/internal/token"
)

type StringTokenizer struct {
	lexer *Lexer
	quote rune
	start int
}

func NewStringTokenizer(lexer *Lexer, quote rune, start int) *StringTokenizer {
	return &StringTokenizer{lexer: lexer, quote: quote, start: start}
}

func (s *StringTokenizer) NextToken() token.Token {
	var result strings.Builder
	l := s.lexer

	// the opening quote has already been consumed
	for {
		if l.ch == 0 || l.ch == '\n' {
			l.popMode()
			return token.Token{Type: token.ILLEGAL, Literal: "unterminated string", Position: s.start}
		}
		if l.ch == s.quote {
			l.readChar()
			break
		}
		if l.invalidByte() {
			tok := l.illegal(l.position, "string literal")
			l.popMode()
			return tok
		}
		if l.ch == '\\' {
			l.readChar()
			result.WriteString(l.readEscape())
		} else {
			result.WriteRune(l.ch)
		}
		l.readChar()
	}

	l.popMode()
	return token.Token{Type: token.STRING, Literal: result.String(), Position: s.start}
}
