package diag

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weave/internal/token"
)

func TestErrorString(t *testing.T) {
	err := New(ValidationError, "output is none").
		WithPhase(PhaseEnforce).
		WithFunction("fetch").
		WithSpan(token.Span{Offset: 4, Line: 2, Col: 3})
	assert.Equal(t, "ValidationError: output is none (at 2:3, function=fetch, phase=enforce)", err.Error())
}

func TestIsMatchesKindAndPhase(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", New(ValidationError, "bad").WithPhase(PhaseEnforce))
	assert.True(t, errors.Is(err, Kinded(ValidationError)))
	assert.True(t, errors.Is(err, &Error{Kind: ValidationError, Phase: PhaseEnforce}))
	assert.False(t, errors.Is(err, &Error{Kind: ValidationError, Phase: PhaseOperate}))
	assert.False(t, errors.Is(err, Kinded(TypeError)))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{New(TransientError, "blip"), true},
		{New(TimeoutError, "slow"), true},
		{context.DeadlineExceeded, true},
		{New(TypeError, "bad operand"), false},
		{New(ValidationError, "bad input").WithPhase(PhasePerceive), false},
		{errors.New("plain"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryable(tt.err), tt.err.Error())
	}
}

func TestWithSpanKeepsInnermost(t *testing.T) {
	err := New(NameError, "x").WithSpan(token.Span{Line: 1, Col: 1})
	err.WithSpan(token.Span{Line: 9, Col: 9})
	require.NotNil(t, err.Span)
	assert.Equal(t, 1, err.Span.Line)
}

func TestFromError(t *testing.T) {
	d := FromError(errors.New("boom"))
	assert.Equal(t, RuntimeError, d.Kind)
	assert.Equal(t, "boom", d.Message)
	assert.Equal(t, SeverityError, d.Severity)
}

func TestRender(t *testing.T) {
	src := "a = 1\nb = a +\nc = 3"
	err := New(SyntaxError, "unexpected end of expression").WithSpan(token.SpanAt(src, 12))
	out := Render(err, "main.wv", src)
	assert.Contains(t, out, "SyntaxError in main.wv at 2:7: unexpected end of expression")
	assert.Contains(t, out, "   2 | b = a +\n     |       ^\n")
	assert.Contains(t, out, "   1 | a = 1")
	assert.Contains(t, out, "   3 | c = 3")
}
