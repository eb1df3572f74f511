package repl

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"weave/internal/interp"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSessionPersistsBetweenLines(t *testing.T) {
	in := strings.NewReader(`x = 21
def twice(n) {
    return n * 2
}
twice(x)
print("hi")
x | twice | twice
`)
	var out bytes.Buffer
	require.NoError(t, Start(context.Background(), in, &out, interp.Options{}))

	got := out.String()
	assert.Contains(t, got, ">> ")
	assert.Contains(t, got, ".. ")
	assert.Contains(t, got, "42\n")
	assert.Contains(t, got, "hi\n")
	assert.Contains(t, got, "84\n")
}

func TestErrorsDoNotEndTheSession(t *testing.T) {
	in := strings.NewReader("nope()\n1 +\n\n(\n2 + 3\n)\n")
	var out bytes.Buffer
	require.NoError(t, Start(context.Background(), in, &out, interp.Options{}))

	got := out.String()
	assert.Contains(t, got, "DispatchError")
	assert.Contains(t, got, "5\n")
}

func TestDepth(t *testing.T) {
	testCases := []struct {
		src  string
		want int
	}{
		{"f(1)", 0},
		{"def f() {", 1},
		{`s = "{"`, 0},
		{`s = '\'' + "["`, 0},
		{"x = [1, # ]\n", 1},
		{"}", -1},
	}
	for _, tc := range testCases {
		t.Run(tc.src, func(t *testing.T) {
			assert.Equal(t, tc.want, depth(tc.src))
		})
	}
}
