package builtins

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"weave/internal/diag"
	"weave/internal/object"
	"weave/internal/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func str(s string) object.Object { return &object.String{Value: s} }
func num(n int64) object.Object  { return &object.Integer{Value: n} }
func list(elems ...object.Object) *object.List {
	return &object.List{Elements: elems}
}

func callIn(t *testing.T, ctx context.Context, env *object.Context, key string, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
	t.Helper()
	fn, ok := GetForeignFunctions()[key]
	require.True(t, ok, "no builtin %s", key)
	return fn.Call(ctx, env, args, kwargs)
}

func call(t *testing.T, key string, args ...object.Object) (object.Object, error) {
	t.Helper()
	return callIn(t, context.Background(), object.NewContext(), key, args, nil)
}

func TestBaseRegistersByPriority(t *testing.T) {
	r, err := Base()
	require.NoError(t, err)

	e, ok := r.Lookup("", "len")
	require.True(t, ok)
	assert.Equal(t, registry.Builtin, e.Priority)
	assert.Equal(t, "len", e.Callable.Name())

	e, ok = r.Lookup("str", "upper")
	require.True(t, ok)
	assert.Equal(t, registry.Core, e.Priority)
	assert.Equal(t, "str.upper", e.Callable.Name())

	err = r.RegisterFunc("", "extra", fnLen(), registry.User, nil)
	assert.ErrorIs(t, err, registry.ErrSealed)
}

func TestStd(t *testing.T) {
	testCases := []struct {
		key  string
		args []object.Object
		want string
	}{
		{"len", []object.Object{str("héllo")}, "5"},
		{"len", []object.Object{list(num(1), num(2))}, "2"},
		{"str", []object.Object{&object.Float{Value: 2}}, "2.0"},
		{"int", []object.Object{str(" 42 ")}, "42"},
		{"int", []object.Object{&object.Float{Value: 3.9}}, "3"},
		{"float", []object.Object{num(3)}, "3.0"},
		{"bool", []object.Object{list()}, "false"},
		{"type", []object.Object{object.NONE}, "none"},
		{"range", []object.Object{num(3)}, "[0, 1, 2]"},
		{"range", []object.Object{num(5), num(0), num(-2)}, "[5, 3, 1]"},
		{"sum", []object.Object{list(num(1), num(2), num(3))}, "6"},
		{"sum", []object.Object{list(num(1), &object.Float{Value: 0.5})}, "1.5"},
		{"min", []object.Object{num(4), num(2), num(9)}, "2"},
		{"max", []object.Object{list(str("a"), str("c"), str("b"))}, "c"},
		{"abs", []object.Object{num(-7)}, "7"},
		{"round", []object.Object{&object.Float{Value: 2.5}}, "2"},
		{"round", []object.Object{&object.Float{Value: 3.14159}, num(2)}, "3.14"},
		{"sorted", []object.Object{list(num(3), &object.Float{Value: 1.5}, num(2))}, "[1.5, 2, 3]"},
		{"reversed", []object.Object{str("abc")}, "cba"},
		{"append", []object.Object{list(num(1)), num(2), num(3)}, "[1, 2, 3]"},
		{"to_json", []object.Object{object.NewDict().PutString("a", list(num(1), object.TRUE))}, `{"a":[1,true]}`},
		{"from_json", []object.Object{str(`{"n": 3, "f": 1.5, "s": ["x"]}`)}, `{"f": 1.5, "n": 3, "s": ["x"]}`},
		{"str.upper", []object.Object{str("abc")}, "ABC"},
		{"str.split", []object.Object{str(" a  b c ")}, `["a", "b", "c"]`},
		{"str.split", []object.Object{str("a,b"), str(",")}, `["a", "b"]`},
		{"str.join", []object.Object{list(str("a"), str("b")), str("-")}, "a-b"},
		{"str.starts_with", []object.Object{str("weave"), str("we")}, "true"},
		{"math.sqrt", []object.Object{num(16)}, "4.0"},
		{"math.pow", []object.Object{num(2), num(10)}, "1024"},
		{"math.floor", []object.Object{&object.Float{Value: -1.5}}, "-2"},
		{"re.match", []object.Object{str(`^\d+$`), str("123")}, "true"},
		{"re.find_all", []object.Object{str(`\d`), str("a1b2")}, `["1", "2"]`},
		{"re.replace", []object.Object{str(`\s+`), str("a  b"), str(" ")}, "a b"},
	}
	for _, tc := range testCases {
		t.Run(tc.key, func(t *testing.T) {
			out, err := call(t, tc.key, tc.args...)
			require.NoError(t, err)
			assert.Equal(t, tc.want, out.Inspect())
		})
	}
}

func TestStdErrors(t *testing.T) {
	testCases := []struct {
		name string
		key  string
		args []object.Object
		kind diag.Kind
	}{
		{"len of int", "len", []object.Object{num(1)}, diag.TypeError},
		{"arity", "len", nil, diag.TypeError},
		{"bad int literal", "int", []object.Object{str("x")}, diag.TypeError},
		{"zero step", "range", []object.Object{num(0), num(3), num(0)}, diag.RuntimeError},
		{"empty max", "max", []object.Object{list()}, diag.RuntimeError},
		{"mixed sort", "sorted", []object.Object{list(num(1), str("a"))}, diag.TypeError},
		{"bad json", "from_json", []object.Object{str("{")}, diag.ValidationError},
		{"bad regex", "re.match", []object.Object{str("("), str("")}, diag.ValidationError},
		{"negative sqrt", "math.sqrt", []object.Object{num(-1)}, diag.RuntimeError},
		{"unknown error kind", "error", []object.Object{str("m"), str("Oops")}, diag.TypeError},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := call(t, tc.key, tc.args...)
			require.Error(t, err)
			assert.Equal(t, tc.kind, diag.KindOf(err))
		})
	}
}

func TestErrorValues(t *testing.T) {
	out, err := call(t, "transient", str("flaky"))
	require.NoError(t, err)
	e := out.(*object.Error)
	assert.Equal(t, diag.TransientError, e.Kind)
	assert.True(t, diag.IsRetryable(e.AsError()))

	out, err = callIn(t, context.Background(), nil, "error", []object.Object{str("bad input")},
		map[string]object.Object{"kind": str("ValidationError")})
	require.NoError(t, err)
	assert.Equal(t, "ValidationError: bad input", out.Inspect())
}

func TestPrintWritesToContextOutput(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithOutput(context.Background(), &buf)
	_, err := callIn(t, ctx, nil, "print", []object.Object{str("a"), num(1)}, nil)
	require.NoError(t, err)
	_, err = callIn(t, ctx, nil, "print", []object.Object{str("b"), str("c")}, map[string]object.Object{"sep": str(",")})
	require.NoError(t, err)
	assert.Equal(t, "a 1\nb,c\n", buf.String())
}

func TestMapAndFilterCallBack(t *testing.T) {
	double := &object.Foreign{Params: []string{"x"}, Fn: func(_ context.Context, _ *object.Context, args []object.Object, _ map[string]object.Object) (object.Object, error) {
		return num(args[0].(*object.Integer).Value * 2), nil
	}}
	odd := &object.Foreign{Params: []string{"x"}, Fn: func(_ context.Context, _ *object.Context, args []object.Object, _ map[string]object.Object) (object.Object, error) {
		return object.NativeBool(args[0].(*object.Integer).Value%2 == 1), nil
	}}
	out, err := call(t, "map", double, list(num(1), num(2)))
	require.NoError(t, err)
	assert.Equal(t, "[2, 4]", out.Inspect())

	out, err = call(t, "filter", odd, list(num(1), num(2), num(3)))
	require.NoError(t, err)
	assert.Equal(t, "[1, 3]", out.Inspect())

	_, err = call(t, "map", num(1), list())
	assert.Equal(t, diag.TypeError, diag.KindOf(err))
}

func TestSleepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := callIn(t, ctx, nil, "sleep", []object.Object{num(5)}, nil)
	require.Error(t, err)
	assert.Equal(t, diag.TimeoutError, diag.KindOf(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRegisterAndFunctions(t *testing.T) {
	base, err := Base()
	require.NoError(t, err)
	session := base.Session()
	ctx := registry.WithRegistry(context.Background(), session)

	_, err = callIn(t, ctx, nil, "register", []object.Object{str("shout"), fnLen()},
		map[string]object.Object{"namespace": str("ext")})
	require.NoError(t, err)
	e, ok := session.Lookup("ext", "shout")
	require.True(t, ok)
	assert.Equal(t, registry.Dynamic, e.Priority)

	out, err := callIn(t, ctx, nil, "functions", []object.Object{str("ext")}, nil)
	require.NoError(t, err)
	assert.Equal(t, `[{"name": "shout", "namespace": "ext", "priority": "dynamic", "params": ["x"]}]`, out.Inspect())

	_, err = callIn(t, context.Background(), nil, "functions", nil, nil)
	assert.Equal(t, diag.RuntimeError, diag.KindOf(err))
}

func TestUseBindsSQLResource(t *testing.T) {
	env := object.NewContext()
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "use.db")

	res, err := callIn(t, ctx, env, "use", []object.Object{str("db"), str("sqlite"), str(dsn)}, nil)
	require.NoError(t, err)
	h := res.(*object.Resource).Handle
	assert.EqualValues(t, 1, h.Refs())

	_, err = callIn(t, ctx, env, "sql.exec", []object.Object{str("db"), str("CREATE TABLE t (id INTEGER, name TEXT)")}, nil)
	require.NoError(t, err)
	_, err = callIn(t, ctx, env, "sql.begin", []object.Object{str("db")}, nil)
	require.NoError(t, err)
	out, err := callIn(t, ctx, env, "sql.exec", []object.Object{res, str("INSERT INTO t VALUES (?, ?)"), num(1), str("ada")}, nil)
	require.NoError(t, err)
	assert.Contains(t, out.Inspect(), `"rows_affected": 1`)
	_, err = callIn(t, ctx, env, "sql.commit", []object.Object{str("db")}, nil)
	require.NoError(t, err)

	rows, err := callIn(t, ctx, env, "sql.query", []object.Object{str("db"), str("SELECT id, name FROM t WHERE id = ?"), num(1)}, nil)
	require.NoError(t, err)
	assert.Equal(t, `[{"id": 1, "name": "ada"}]`, rows.Inspect())

	_, err = callIn(t, ctx, env, "sql.close", []object.Object{str("db")}, nil)
	require.NoError(t, err)
	assert.True(t, h.Closed())

	_, err = callIn(t, ctx, env, "sql.query", []object.Object{str("db"), str("SELECT 1")}, nil)
	assert.Equal(t, diag.NameError, diag.KindOf(err))
}

type failingReasoner struct{}

func (failingReasoner) Reason(context.Context, string, map[string]any) (string, error) {
	return "", errors.New("rate limited")
}

func TestReason(t *testing.T) {
	out, err := callIn(t, context.Background(), nil, "llm.reason", []object.Object{str("why")},
		map[string]object.Object{"temperature": &object.Float{Value: 0.5}})
	require.NoError(t, err)
	assert.Equal(t, "reasoned: why [temperature=0.5]", out.Inspect())

	ctx := WithReasoner(context.Background(), failingReasoner{})
	_, err = callIn(t, ctx, nil, "llm.reason", []object.Object{str("why")}, nil)
	assert.Equal(t, diag.TransientError, diag.KindOf(err))
}
