package token

type TokenType string

const (
	ILLEGAL = "ILLEGAL"
	EOF     = "EOF"
	NEWLINE = "NEWLINE"

	// Identifiers + literals
	IDENT        = "IDENT"        // add, foobar, x, y, ...
	SCOPED_IDENT = "SCOPED_IDENT" // private:x
	INT          = "INT"          // 1343456
	FLOAT        = "FLOAT"        // 3.14
	STRING       = "STRING"       // "foobar"

	// f"..{expr}.." strings
	FSTRING_START = "FSTRING_START"
	FSTRING_END   = "FSTRING_END"
	INTERP_START  = "INTERP_START"
	INTERP_END    = "INTERP_END"

	// Operators
	ASSIGN    = "="
	PLUS      = "+"
	MINUS     = "-"
	ASTERISK  = "*"
	SLASH     = "/"
	FLOOR_DIV = "//"
	PERCENT   = "%"
	AT        = "@"
	PIPE      = "|"

	LT    = "<"
	LT_EQ = "<="
	GT    = ">"
	GT_EQ = ">="

	EQ     = "=="
	NOT_EQ = "!="

	ROCKET = "=>"
	ARROW  = "->"

	// Delimiters
	PERIOD    = "."
	COMMA     = ","
	SEMICOLON = ";"
	COLON     = ":"

	LPAREN   = "("
	RPAREN   = ")"
	LBRACE   = "{"
	RBRACE   = "}"
	LBRACKET = "["
	RBRACKET = "]"

	// Keywords
	FUNCTION = "FUNCTION"
	DEF      = "DEF"
	AGENT    = "AGENT"
	IMPORT   = "IMPORT"
	AS       = "AS"
	TRUE     = "TRUE"
	FALSE    = "FALSE"
	NONE     = "NONE"
	IF       = "IF"
	ELIF     = "ELIF"
	ELSE     = "ELSE"
	WHILE    = "WHILE"
	FOR      = "FOR"
	IN       = "IN"
	AND      = "AND"
	OR       = "OR"
	NOT      = "NOT"
	RETURN   = "RETURN"
	BREAK    = "BREAK"
	CONTINUE = "CONTINUE"
	TRY      = "TRY"
	RECOVER  = "RECOVER"
	RAISE    = "RAISE"
)

type Token struct {
	Type     TokenType
	Literal  string
	Position int // the src index of the token
}

var keywords = map[string]TokenType{
	// constants
	"none":  NONE,
	"true":  TRUE,
	"false": FALSE,

	// declarations
	"fn":     FUNCTION,
	"def":    DEF,
	"agent":  AGENT,
	"import": IMPORT,
	"as":     AS,

	// flow control
	"if":       IF,
	"elif":     ELIF,
	"else":     ELSE,
	"while":    WHILE,
	"for":      FOR,
	"in":       IN,
	"return":   RETURN,
	"break":    BREAK,
	"continue": CONTINUE,

	// logic
	"and": AND,
	"or":  OR,
	"not": NOT,

	// error handling
	"try":     TRY,
	"recover": RECOVER,
	"raise":   RAISE,
}

// Scopes are the prefixes accepted in a scoped identifier such as system:agent_name.
var Scopes = map[string]bool{
	"local":   true,
	"private": true,
	"public":  true,
	"system":  true,
}

func LookupIdent(ident string) TokenType {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return IDENT
}

// IsKeyword reports whether ident is reserved.
func IsKeyword(ident string) bool {
	_, ok := keywords[ident]
	return ok
}

// Span locates a node in the source text. Line and Col are 1-based.
type Span struct {
	Offset int `json:"offset"`
	Line   int `json:"line"`
	Col    int `json:"col"`
}

// SpanAt computes the span of a byte offset in src.
func SpanAt(src string, offset int) Span {
	line, col := 1, 1
	for i, ch := range src {
		if i >= offset {
			break
		}
		if ch == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return Span{Offset: offset, Line: line, Col: col}
}
