package lexer

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"weave/internal/token"
)

type Lexer struct {
	input        string
	position     int  // current byte position in input (points to start of current rune)
	readPosition int  // next byte position in input (start of next rune)
	ch           rune // current rune under examination; 0 means EOF

	modes  []Tokenizer // tokenizer strategies, top of stack is active
	delims []rune      // open ( [ { in the general tokenizer
	interp []int       // len(delims) at each open f-string interpolation

	lastType token.TokenType
}

type Tokenizer interface {
	NextToken() token.Token
}

func New(input string) *Lexer {
	l := &Lexer{input: input, lastType: token.NEWLINE}
	l.pushMode(NewGeneralTokenizer(l))
	l.readChar()
	return l
}

// pushMode enters a nested tokenizer, used for strings and interpolations.
func (l *Lexer) pushMode(mode Tokenizer) {
	l.modes = append(l.modes, mode)
}

// popMode returns to the enclosing tokenizer. The outermost general mode is never popped.
func (l *Lexer) popMode() {
	if len(l.modes) > 1 {
		l.modes = l.modes[:len(l.modes)-1]
	}
}

func (l *Lexer) NextToken() token.Token {
	tok := l.modes[len(l.modes)-1].NextToken()
	l.lastType = tok.Type
	return tok
}

// Tokens drains the lexer, EOF included.
func (l *Lexer) Tokens() []token.Token {
	var out []token.Token
	for {
		tok := l.NextToken()
		out = append(out, tok)
		if tok.Type == token.EOF || tok.Type == token.ILLEGAL {
			return out
		}
	}
}

func (l *Lexer) handleCompoundToken(
	t token.TokenType,
	ch1 rune,
	t1 token.TokenType,
) token.Token {
	startPosition := l.position
	if l.peekChar() == ch1 {
		first := l.ch
		l.readChar()
		literal := string(first) + string(l.ch)
		return token.Token{Type: t1, Literal: literal, Position: startPosition}
	}
	return newToken(t, l.ch, startPosition)
}

func (l *Lexer) handleCompoundToken2(
	t token.TokenType,
	ch1 rune,
	t1 token.TokenType,
	ch2 rune,
	t2 token.TokenType,
) token.Token {
	startPosition := l.position
	peek := l.peekChar()
	if peek == ch1 || peek == ch2 {
		first := l.ch
		l.readChar()
		literal := string(first) + string(l.ch)
		tt := t1
		if peek == ch2 {
			tt = t2
		}
		return token.Token{Type: tt, Literal: literal, Position: startPosition}
	}
	return newToken(t, l.ch, startPosition)
}

// newlineSignificant is true when a line break ends a statement: outside
// any ( or [ and outside an f-string interpolation.
func (l *Lexer) newlineSignificant() bool {
	if len(l.interp) > 0 {
		return false
	}
	if n := len(l.delims); n > 0 && l.delims[n-1] != '{' {
		return false
	}
	return true
}

// skipWhitespace consumes blanks and comments. It reports the position of the
// first significant newline it crossed, or -1.
func (l *Lexer) skipWhitespace() int {
	nl := -1
	for {
		switch l.ch {
		case ' ', '\t', '\r':
			l.readChar()
		case '\n':
			if nl < 0 && l.newlineSignificant() {
				nl = l.position
			}
			l.readChar()
		case '#':
			l.skipToLineEnd()
		default:
			return nl
		}
	}
}

func (l *Lexer) skipToLineEnd() {
	for l.ch != '\n' && l.ch != 0 {
		l.readChar()
	}
}

// readChar advances by one UTF-8 rune, updating byte positions
func (l *Lexer) readChar() {
	if l.readPosition >= len(l.input) {
		l.ch = 0
		l.position = l.readPosition
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPosition:])
	l.ch = r
	l.position = l.readPosition
	l.readPosition += size
}

// invalidByte reports whether the current rune came from a byte that is not valid UTF-8.
func (l *Lexer) invalidByte() bool {
	return l.ch == utf8.RuneError && l.readPosition-l.position == 1
}

// illegal builds an ILLEGAL token naming the current character or undecodable byte.
func (l *Lexer) illegal(pos int, where string) token.Token {
	msg := fmt.Sprintf("illegal character %q", string(l.ch))
	if l.invalidByte() {
		msg = fmt.Sprintf("invalid UTF-8 byte 0x%02x", l.input[l.position])
	}
	if where != "" {
		msg += " in " + where
	}
	return token.Token{Type: token.ILLEGAL, Literal: msg, Position: pos}
}

// peekChar returns the next rune without advancing; returns 0 at EOF
func (l *Lexer) peekChar() rune {
	if l.readPosition >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPosition:])
	return r
}

// peekTwoChars returns the rune after next without advancing; returns 0 if unavailable
func (l *Lexer) peekTwoChars() rune {
	if l.readPosition >= len(l.input) {
		return 0
	}
	_, size := utf8.DecodeRuneInString(l.input[l.readPosition:])
	idx := l.readPosition + size
	if idx >= len(l.input) {
		return 0
	}
	r2, _ := utf8.DecodeRuneInString(l.input[idx:])
	return r2
}

// readIdentifier returns the substring (bytes) covering the identifier runes
func (l *Lexer) readIdentifier() string {
	start := l.position
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return l.input[start:l.position]
}

// readNumber reads an integer or float literal and reports which it was.
func (l *Lexer) readNumber() (string, token.TokenType) {
	start := l.position
	tt := token.TokenType(token.INT)
	for isDigit(l.ch) || (l.ch == '_' && isDigit(l.peekChar())) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		tt = token.FLOAT
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if (l.ch == 'e' || l.ch == 'E') && (isDigit(l.peekChar()) ||
		((l.peekChar() == '+' || l.peekChar() == '-') && isDigit(l.peekTwoChars()))) {
		tt = token.FLOAT
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return l.input[start:l.position], tt
}

// readEscape decodes the escape at l.ch (just past the backslash).
func (l *Lexer) readEscape() string {
	switch l.ch {
	case 'n':
		return "\n"
	case 't':
		return "\t"
	case 'r':
		return "\r"
	case '\\':
		return "\\"
	case '"', '\'':
		return string(l.ch)
	case '{', '}':
		return string(l.ch)
	case '0':
		return "\x00"
	default:
		return "\\" + string(l.ch)
	}
}

func isLetter(ch rune) bool {
	return ch == '_' || unicode.IsLetter(ch) || unicode.Is(unicode.Mn, ch) || unicode.Is(unicode.Mc, ch)
}

func isDigit(ch rune) bool {
	return '0' <= ch && ch <= '9'
}

func newToken(tokenType token.TokenType, ch rune, position int) token.Token {
	return token.Token{Type: tokenType, Literal: string(ch), Position: position}
}

// GetLineAndColumn converts a byte offset into 1-based line and column.
func GetLineAndColumn(src string, pos int) (line int, column int) {
	sp := token.SpanAt(src, pos)
	return sp.Line, sp.Col
}
