package normalize

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"weave/internal/ast"
)

// gen produces random programs from the surface grammar. Every program it
// emits is syntactically valid, so normalization must succeed and leave only
// AST variants behind.
type gen struct {
	r     *rand.Rand
	depth int
	loops int
}

var genNames = []string{"a", "b", "total", "double", "triple", "sum_list"}

func (g *gen) pick(opts ...string) string { return opts[g.r.Intn(len(opts))] }

func (g *gen) name() string { return genNames[g.r.Intn(len(genNames))] }

func (g *gen) target() string {
	switch g.r.Intn(4) {
	case 0:
		return g.pick("local", "private", "public") + ":" + g.name()
	case 1:
		return g.name() + "." + g.name()
	default:
		return g.name()
	}
}

func (g *gen) expr() string {
	g.depth++
	defer func() { g.depth-- }()
	if g.depth > 3 {
		return g.atom()
	}
	switch g.r.Intn(12) {
	case 0:
		return g.expr() + " " + g.pick("+", "-", "*", "/", "//", "%", "==", "<", ">=", "and", "or", "in") + " " + g.expr()
	case 1:
		return g.pick("-", "not ") + g.atom()
	case 2:
		return g.name() + "(" + g.args() + ")"
	case 3:
		return g.atom() + " | " + g.name() + " | [" + g.name() + ", " + g.name() + "]"
	case 4:
		return "[" + g.exprList() + "]"
	case 5:
		return "{" + fmt.Sprintf("%q: %s", g.name(), g.expr()) + "}"
	case 6:
		return "(" + g.expr() + ", " + g.expr() + ")"
	case 7:
		return "fn(x) => x + " + g.atom()
	case 8:
		// padded so a dict display never forms a literal {{ brace
		return fmt.Sprintf("f\"%s { %s }\"", g.name(), g.expr())
	case 9:
		return g.name() + "[" + g.expr() + "]"
	case 10:
		return "(" + g.expr() + ")"
	}
	return g.atom()
}

func (g *gen) atom() string {
	switch g.r.Intn(6) {
	case 0:
		return fmt.Sprint(g.r.Intn(100))
	case 1:
		return fmt.Sprintf("%d.5", g.r.Intn(10))
	case 2:
		return fmt.Sprintf("%q", g.name())
	case 3:
		return g.pick("true", "false", "none")
	case 4:
		return "system:" + g.name()
	}
	return g.name()
}

func (g *gen) exprList() string {
	n := 1 + g.r.Intn(3)
	parts := make([]string, n)
	for i := range parts {
		parts[i] = g.expr()
	}
	return strings.Join(parts, ", ")
}

func (g *gen) args() string {
	if g.r.Intn(3) == 0 {
		return ""
	}
	s := g.exprList()
	if g.r.Intn(2) == 0 {
		s += ", k=" + g.expr()
	}
	return s
}

func (g *gen) block() string {
	g.depth++
	defer func() { g.depth-- }()
	n := 1 + g.r.Intn(3)
	stmts := make([]string, n)
	for i := range stmts {
		stmts[i] = g.stmt()
	}
	return "{\n" + strings.Join(stmts, "\n") + "\n}"
}

func (g *gen) loopBlock() string {
	g.loops++
	defer func() { g.loops-- }()
	return g.block()
}

func (g *gen) stmt() string {
	if g.depth > 3 {
		return g.target() + " = " + g.atom()
	}
	switch g.r.Intn(11) {
	case 0:
		return "if " + g.expr() + " " + g.block() + " elif " + g.expr() + " " + g.block() + " else " + g.block()
	case 1:
		return "while " + g.expr() + " " + g.loopBlock()
	case 2:
		return "for " + g.name() + " in " + g.expr() + " " + g.loopBlock()
	case 3:
		saved := g.loops
		g.loops = 0
		defer func() { g.loops = saved }()
		return "@poet(retries=" + fmt.Sprint(g.r.Intn(3)) + ")\ndef " + g.name() + "(x, y = 1) -> int " + g.block()
	case 4:
		return "try " + g.block() + " recover (err) " + g.block()
	case 5:
		return "return " + g.expr()
	case 6:
		if g.loops > 0 {
			return g.pick("break", "continue")
		}
		return "raise " + g.atom()
	case 7:
		return "import " + g.name() + "." + g.name() + " as " + g.name()
	case 8:
		if g.depth == 0 {
			return "agent A {\nfield = " + g.atom() + "\ndef m(self) " + g.block() + "\n}"
		}
	case 9:
		return g.expr()
	}
	return g.target() + " = " + g.expr()
}

func (g *gen) program() string {
	n := 1 + g.r.Intn(6)
	stmts := make([]string, n)
	for i := range stmts {
		stmts[i] = g.stmt()
	}
	return strings.Join(stmts, "\n")
}

func knownVariant(n ast.Node) bool {
	switch n.(type) {
	case *ast.Program, *ast.Block, *ast.Assignment, *ast.Conditional, *ast.Loop,
		*ast.FunctionDef, *ast.Import, *ast.AgentDecl, *ast.TryRecover,
		*ast.Return, *ast.Break, *ast.Continue, *ast.Raise, *ast.ExpressionStatement,
		*ast.Literal, *ast.Identifier, *ast.BinaryOp, *ast.UnaryOp, *ast.Call,
		*ast.Attribute, *ast.Index, *ast.Pipe, *ast.ParallelBlock,
		*ast.InterpolatedString, *ast.Collection, *ast.Lambda,
		*ast.Param, *ast.Keyword, *ast.Decorator:
		return true
	}
	return false
}

func assertClosed(t *testing.T, prog *ast.Program) {
	t.Helper()
	ast.Inspect(prog, func(n ast.Node) bool {
		require.True(t, knownVariant(n), "unexpected node %T", n)
		if p, ok := n.(*ast.Pipe); ok {
			require.GreaterOrEqual(t, len(p.Stages), 2)
			_, nested := p.Stages[0].(*ast.Pipe)
			require.False(t, nested, "pipe head left nested: %s", p)
		}
		return true
	})
}

func TestGeneratedProgramsNormalizeClosed(t *testing.T) {
	r := rand.New(rand.NewSource(20261016))
	for i := 0; i < 500; i++ {
		g := &gen{r: r}
		src := g.program()
		prog, err := Source(src)
		require.NoError(t, err, "program %d:\n%s", i, src)
		require.NoError(t, Validate(prog))
		assertClosed(t, prog)
	}
}

func FuzzNormalize(f *testing.F) {
	f.Add("x = 5 | double | [add_ten, triple] | sum_list")
	f.Add("local:x = 1; private:x = 2")
	f.Add("if a { b } elif c { d } else { e }")
	f.Add("agent A { n = 1\n def m(self) { return self.n } }")
	f.Fuzz(func(t *testing.T, src string) {
		prog, err := Source(src)
		if err != nil {
			return
		}
		require.NoError(t, Validate(prog))
		assertClosed(t, prog)
	})
}
