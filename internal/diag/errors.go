// Package diag defines the classified errors raised while parsing and running
// weave programs, and their structured diagnostic form.
package diag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"weave/internal/token"
)

// Kind classifies an error for propagation and retry decisions.
type Kind string

const (
	SyntaxError      Kind = "SyntaxError"
	NameError        Kind = "NameError"
	DispatchError    Kind = "DispatchError"
	TypeError        Kind = "TypeError"
	ValidationError  Kind = "ValidationError"
	TimeoutError     Kind = "TimeoutError"
	TransientError   Kind = "TransientError"
	CompositionError Kind = "CompositionError"
	RuntimeError     Kind = "RuntimeError"
	ConfigError      Kind = "ConfigError"
)

// Phase names a stage of a decorated call.
type Phase string

const (
	PhasePerceive Phase = "perceive"
	PhaseOperate  Phase = "operate"
	PhaseEnforce  Phase = "enforce"
	PhaseTrain    Phase = "train"
)

// Error is a classified error with optional source and pipeline context.
type Error struct {
	Kind     Kind
	Message  string
	Span     *token.Span
	Phase    Phase
	Stage    string
	Function string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil && e.Message == "" {
		b.WriteString(e.Err.Error())
	}
	var ctx []string
	if e.Span != nil {
		ctx = append(ctx, fmt.Sprintf("at %d:%d", e.Span.Line, e.Span.Col))
	}
	if e.Function != "" {
		ctx = append(ctx, "function="+e.Function)
	}
	if e.Phase != "" {
		ctx = append(ctx, "phase="+string(e.Phase))
	}
	if e.Stage != "" {
		ctx = append(ctx, "stage="+e.Stage)
	}
	if len(ctx) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, ", "))
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same Kind, so errors.Is(err, diag.Kinded(diag.TypeError)) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Phase == "" || t.Phase == e.Phase)
}

// Kinded is a match target for errors.Is.
func Kinded(kind Kind) *Error {
	return &Error{Kind: kind}
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. The message defaults to err's text.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if msg == "" && err != nil {
		msg = err.Error()
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// WithSpan sets the source location unless one is already present.
func (e *Error) WithSpan(s token.Span) *Error {
	if e.Span == nil {
		e.Span = &s
	}
	return e
}

func (e *Error) WithPhase(p Phase) *Error {
	e.Phase = p
	return e
}

// WithStage records the pipeline stage unless an inner stage was already recorded.
func (e *Error) WithStage(stage string) *Error {
	if e.Stage == "" {
		e.Stage = stage
	}
	return e
}

func (e *Error) WithFunction(name string) *Error {
	if e.Function == "" {
		e.Function = name
	}
	return e
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the classification of err. Unclassified errors count as
// RuntimeError, context deadlines as TimeoutError.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutError
	}
	return RuntimeError
}

// IsRetryable reports whether a failed attempt may be retried.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case TimeoutError, TransientError:
		return true
	}
	return false
}

// Ensure classifies any error, keeping *Error values as they are.
func Ensure(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return Wrap(KindOf(err), err, "")
}
