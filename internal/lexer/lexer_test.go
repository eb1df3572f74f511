package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weave/internal/token"
)

type expectedToken struct {
	expectedType    token.TokenType
	expectedLiteral string
}

func collect(input string) []token.Token {
	return New(input).Tokens()
}

func assertTokens(t *testing.T, input string, tests []expectedToken) {
	t.Helper()
	toks := collect(input)
	require.Len(t, toks, len(tests), "tokens: %v", toks)
	for i, tt := range tests {
		assert.Equalf(t, tt.expectedType, toks[i].Type, "tests[%d] literal=%q", i, toks[i].Literal)
		assert.Equalf(t, tt.expectedLiteral, toks[i].Literal, "tests[%d]", i)
	}
}

func TestNextToken(t *testing.T) {
	input := `five = 5
ten = 10.5 # comment
def add(x: int, y = 2) -> int {
	return x + y
}
result = add(five,
	ten)
a // b % c != d
private:x == system:name
x <= 1 and y >= 2 or not z
`
	assertTokens(t, input, []expectedToken{
		{token.IDENT, "five"},
		{token.ASSIGN, "="},
		{token.INT, "5"},
		{token.NEWLINE, "\n"},
		{token.IDENT, "ten"},
		{token.ASSIGN, "="},
		{token.FLOAT, "10.5"},
		{token.NEWLINE, "\n"},
		{token.DEF, "def"},
		{token.IDENT, "add"},
		{token.LPAREN, "("},
		{token.IDENT, "x"},
		{token.COLON, ":"},
		{token.IDENT, "int"},
		{token.COMMA, ","},
		{token.IDENT, "y"},
		{token.ASSIGN, "="},
		{token.INT, "2"},
		{token.RPAREN, ")"},
		{token.ARROW, "->"},
		{token.IDENT, "int"},
		{token.LBRACE, "{"},
		{token.RETURN, "return"},
		{token.IDENT, "x"},
		{token.PLUS, "+"},
		{token.IDENT, "y"},
		{token.NEWLINE, "\n"},
		{token.RBRACE, "}"},
		{token.NEWLINE, "\n"},
		{token.IDENT, "result"},
		{token.ASSIGN, "="},
		{token.IDENT, "add"},
		{token.LPAREN, "("},
		{token.IDENT, "five"},
		{token.COMMA, ","},
		{token.IDENT, "ten"},
		{token.RPAREN, ")"},
		{token.NEWLINE, "\n"},
		{token.IDENT, "a"},
		{token.FLOOR_DIV, "//"},
		{token.IDENT, "b"},
		{token.PERCENT, "%"},
		{token.IDENT, "c"},
		{token.NOT_EQ, "!="},
		{token.IDENT, "d"},
		{token.NEWLINE, "\n"},
		{token.SCOPED_IDENT, "private:x"},
		{token.EQ, "=="},
		{token.SCOPED_IDENT, "system:name"},
		{token.NEWLINE, "\n"},
		{token.IDENT, "x"},
		{token.LT_EQ, "<="},
		{token.INT, "1"},
		{token.AND, "and"},
		{token.IDENT, "y"},
		{token.GT_EQ, ">="},
		{token.INT, "2"},
		{token.OR, "or"},
		{token.NOT, "not"},
		{token.IDENT, "z"},
		{token.EOF, ""},
	})
}

func TestPipelineContinuationLines(t *testing.T) {
	input := `out = 5 | double
	| [add_ten, triple]
	| sum_list`
	assertTokens(t, input, []expectedToken{
		{token.IDENT, "out"},
		{token.ASSIGN, "="},
		{token.INT, "5"},
		{token.PIPE, "|"},
		{token.IDENT, "double"},
		{token.PIPE, "|"},
		{token.LBRACKET, "["},
		{token.IDENT, "add_ten"},
		{token.COMMA, ","},
		{token.IDENT, "triple"},
		{token.RBRACKET, "]"},
		{token.PIPE, "|"},
		{token.IDENT, "sum_list"},
		{token.EOF, ""},
	})
}

func TestElseOnNextLine(t *testing.T) {
	input := "if a {\n  b\n}\nelse {\n  c\n}"
	assertTokens(t, input, []expectedToken{
		{token.IF, "if"},
		{token.IDENT, "a"},
		{token.LBRACE, "{"},
		{token.IDENT, "b"},
		{token.NEWLINE, "\n"},
		{token.RBRACE, "}"},
		{token.ELSE, "else"},
		{token.LBRACE, "{"},
		{token.IDENT, "c"},
		{token.NEWLINE, "\n"},
		{token.RBRACE, "}"},
		{token.EOF, ""},
	})
}

func TestStrings(t *testing.T) {
	input := `"a\tb" 'it\'s' """
raw {x}"""`
	assertTokens(t, input, []expectedToken{
		{token.STRING, "a\tb"},
		{token.STRING, "it's"},
		{token.STRING, "raw {x}"},
		{token.EOF, ""},
	})
}

func TestFString(t *testing.T) {
	input := `f"Hi {name}, total={d["a"] + 1} {{ok}}"`
	assertTokens(t, input, []expectedToken{
		{token.FSTRING_START, `f"`},
		{token.STRING, "Hi "},
		{token.INTERP_START, "{"},
		{token.IDENT, "name"},
		{token.INTERP_END, "}"},
		{token.STRING, ", total="},
		{token.INTERP_START, "{"},
		{token.IDENT, "d"},
		{token.LBRACKET, "["},
		{token.STRING, "a"},
		{token.RBRACKET, "]"},
		{token.PLUS, "+"},
		{token.INT, "1"},
		{token.INTERP_END, "}"},
		{token.STRING, " {ok}"},
		{token.FSTRING_END, `"`},
		{token.EOF, ""},
	})
}

func TestFStringWithDictInside(t *testing.T) {
	toks := collect(`f"{ {"k": 1}["k"] }"`)
	var types []token.TokenType
	for _, tok := range toks {
		types = append(types, tok.Type)
	}
	assert.Equal(t, []token.TokenType{
		token.FSTRING_START, token.INTERP_START,
		token.LBRACE, token.STRING, token.COLON, token.INT, token.RBRACE,
		token.LBRACKET, token.STRING, token.RBRACKET,
		token.INTERP_END, token.FSTRING_END, token.EOF,
	}, types)
}

func TestUnterminatedString(t *testing.T) {
	toks := collect(`x = "abc`)
	last := toks[len(toks)-1]
	assert.Equal(t, token.TokenType(token.ILLEGAL), last.Type)
	assert.Equal(t, "unterminated string", last.Literal)
}

func TestInvalidUTF8(t *testing.T) {
	last := collect("x = \xff")[2]
	assert.Equal(t, token.TokenType(token.ILLEGAL), last.Type)
	assert.Equal(t, "invalid UTF-8 byte 0xff", last.Literal)
	assert.Equal(t, 4, last.Position)

	toks := collect("s = \"\"\"ok\n\x80\"\"\"")
	last = toks[len(toks)-1]
	assert.Equal(t, token.TokenType(token.ILLEGAL), last.Type)
	assert.Equal(t, "invalid UTF-8 byte 0x80 in string literal", last.Literal)

	assertTokens(t, "s = \"h\u00e9 \uFFFD\"", []expectedToken{
		{token.IDENT, "s"},
		{token.ASSIGN, "="},
		{token.STRING, "h\u00e9 \uFFFD"},
		{token.EOF, ""},
	})
}

func TestScopePrefixRequiresAdjacentName(t *testing.T) {
	assertTokens(t, `{local: 1}`, []expectedToken{
		{token.LBRACE, "{"},
		{token.IDENT, "local"},
		{token.COLON, ":"},
		{token.INT, "1"},
		{token.RBRACE, "}"},
		{token.EOF, ""},
	})
}

func TestGetLineAndColumn(t *testing.T) {
	src := "ab\ncd"
	line, col := GetLineAndColumn(src, 4)
	assert.Equal(t, 2, line)
	assert.Equal(t, 2, col)
}
