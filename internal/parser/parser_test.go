package parser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weave/internal/diag"
)

func parseTree(t *testing.T, src string) string {
	t.Helper()
	tree, err := Parse(src)
	require.NoError(t, err)
	return tree.String()
}

func TestParseTree(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{
			"x = 1 + 2 * 3",
			"(file (stmt_list (assign (name x) (binary + (number 1) (binary * (number 2) (number 3))))))",
		},
		{
			"private:x = (1)",
			"(file (stmt_list (assign (scoped_name private:x) (paren_expr (number 1)))))",
		},
		{
			"a | b | [c, d]",
			"(file (stmt_list (expr_stmt (pipe_expr (pipe_expr (name a) (name b)) (list_display (name c) (name d))))))",
		},
		{
			"f(1, k=2)",
			"(file (stmt_list (expr_stmt (call (name f) (arguments (argument (number 1)) (kwarg (name k) (number 2)))))))",
		},
		{
			"not a and b or c",
			"(file (stmt_list (expr_stmt (binary or (binary and (unary not (name a)) (name b)) (name c)))))",
		},
		{
			`f"hi {name}!"`,
			`(file (stmt_list (expr_stmt (fstring (fstring_text "hi ") (fstring_expr (name name)) (fstring_text !)))))`,
		},
		{
			`d = {"a": 1,
  "b": [2, 3]
}`,
			"(file (stmt_list (assign (name d) (dict_display (dict_item (string a) (number 1)) (dict_item (string b) (list_display (number 2) (number 3)))))))",
		},
		{
			"t = (1, 2)\ne = ()",
			"(file (stmt_list (assign (name t) (tuple_display (number 1) (number 2))) (assign (name e) (tuple_display))))",
		},
		{
			"obj.items[0] = fn(x) => x + 1",
			"(file (stmt_list (assign (index (attr (name obj) (name items)) (number 0)) (lambda (param_list (param (name x))) (lambda_expr (binary + (name x) (number 1)))))))",
		},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseTree(t, tt.input))
		})
	}
}

func TestParseStatements(t *testing.T) {
	src := `
@poet(domain="financial_services", retries=2)
def add(x: int, y = 1) -> int {
	return x + y
}

if a { b } elif c { d } else { e }
for i in items { continue }
while true { break }
try { raise error("x") } recover (err) { print(err) }
agent Helper {
	name = "h"
	def greet(self) { return self.name }
}
import tools.text as txt
`
	tree, err := Parse(src)
	require.NoError(t, err)
	stmts := tree.Children[0].Children
	require.Len(t, stmts, 7)

	rules := []string{}
	for _, s := range stmts {
		rules = append(rules, string(s.Rule))
	}
	assert.Equal(t, []string{"def_stmt", "if_stmt", "for_stmt", "while_stmt", "try_stmt", "agent_stmt", "import_stmt"}, rules)

	assert.Equal(t,
		`(def_stmt (decorator_list (decorator (name poet) (arguments (kwarg (name domain) (string financial_services)) (kwarg (name retries) (number 2))))) (dotted_name (name add)) (param_list (param (name x) (type_annotation (name int))) (param (name y) (param_default (number 1)))) (return_type (name int)) (block (stmt_list (return_stmt (binary + (name x) (name y))))))`,
		stmts[0].String())
	assert.Equal(t,
		"(if_stmt (name a) (block (stmt_list (expr_stmt (name b)))) (elif_clause (name c) (block (stmt_list (expr_stmt (name d))))) (else_clause (block (stmt_list (expr_stmt (name e))))))",
		stmts[1].String())
	assert.Equal(t,
		"(import_stmt (dotted_name (name tools) (name text)) (import_alias (name txt)))",
		stmts[6].String())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		input   string
		message string
		line    int
		col     int
	}{
		{"x = ", "unexpected end of input, expected an expression", 1, 5},
		{"x = 1 2", `unexpected "2" after statement`, 1, 7},
		{"def f( {", `expected IDENT, got "{"`, 1, 8},
		{"1 = 2", "cannot assign to number", 1, 1},
		{"if x {\n y", "expected }, got end of input", 2, 3},
		{`s = "abc`, "unterminated string", 1, 5},
		{"x = 1 ! 2", `illegal character "!"`, 1, 7},
		{"x = 1 \xff", "invalid UTF-8 byte 0xff", 1, 7},
		{"x = 1 $", `illegal character "$"`, 1, 7},
		{"s = \"ab\xfe\"", "invalid UTF-8 byte 0xfe in string literal", 1, 8},
		{"s = f\"ab\xc3\"", "invalid UTF-8 byte 0xc3 in f-string", 1, 9},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := Parse(tt.input)
			require.Error(t, err)
			var de *diag.Error
			require.True(t, errors.As(err, &de))
			assert.Equal(t, diag.SyntaxError, de.Kind)
			assert.Equal(t, tt.message, de.Message)
			require.NotNil(t, de.Span)
			assert.Equal(t, tt.line, de.Span.Line)
			assert.Equal(t, tt.col, de.Span.Col)
		})
	}
}
