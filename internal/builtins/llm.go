package builtins

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"weave/internal/diag"
	"weave/internal/object"
)

// Reasoner answers llm.reason calls. Options carry the keyword arguments
// of the call converted to Go values.
type Reasoner interface {
	Reason(ctx context.Context, prompt string, options map[string]any) (string, error)
}

// EchoReasoner is the default: a deterministic answer built from the prompt
// and options, so scripts and tests run without a model.
type EchoReasoner struct{}

func (EchoReasoner) Reason(_ context.Context, prompt string, options map[string]any) (string, error) {
	if len(options) == 0 {
		return "reasoned: " + prompt, nil
	}
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, options[k])
	}
	return "reasoned: " + prompt + " [" + strings.Join(parts, " ") + "]", nil
}

type reasonerKey struct{}

func WithReasoner(ctx context.Context, r Reasoner) context.Context {
	return context.WithValue(ctx, reasonerKey{}, r)
}

func reasonerFrom(ctx context.Context) Reasoner {
	if r, ok := ctx.Value(reasonerKey{}).(Reasoner); ok {
		return r
	}
	return EchoReasoner{}
}

// fnLLMReason is an opaque model call. Failures other than cancellation are
// transient so a @poet wrapper may retry them.
func fnLLMReason() *object.Foreign {
	return &object.Foreign{Params: []string{"prompt"}, Fn: func(ctx context.Context, env *object.Context, args []object.Object, kwargs map[string]object.Object) (object.Object, error) {
		if err := arity("llm.reason", args, 1, 1); err != nil {
			return nil, err
		}
		prompt, err := unpackString(args[0], "llm.reason")
		if err != nil {
			return nil, err
		}
		options := make(map[string]any, len(kwargs))
		for k, v := range kwargs {
			options[k] = object.ToGo(v)
		}
		answer, err := reasonerFrom(ctx).Reason(ctx, prompt, options)
		if err != nil {
			if ctx.Err() != nil {
				return nil, diag.Wrap(diag.TimeoutError, err, "llm.reason: %v", err)
			}
			if _, classified := diag.As(err); classified {
				return nil, err
			}
			return nil, diag.Wrap(diag.TransientError, err, "llm.reason: %v", err)
		}
		return &object.String{Value: answer}, nil
	}}
}
