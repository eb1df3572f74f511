// Package repl is the interactive weave shell.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"weave/internal/diag"
	"weave/internal/interp"
	"weave/internal/object"
)

const (
	PROMPT       = ">> "
	CONTINUATION = ".. "
)

// Start reads statements from in and evaluates them in one session, so
// variables and definitions persist between lines. Input with unclosed braces
// or brackets is continued on the next line. Start returns when in is
// exhausted or ctx is cancelled.
func Start(ctx context.Context, in io.Reader, out io.Writer, opts interp.Options) error {
	if opts.Stdout == nil {
		opts.Stdout = out
	}
	engine, err := interp.New(opts)
	if err != nil {
		return err
	}
	env := object.NewContext()
	defer env.Release()

	scanner := bufio.NewScanner(in)
	var pending strings.Builder
	seen := 0
	for {
		if pending.Len() == 0 {
			fmt.Fprint(out, PROMPT)
		} else {
			fmt.Fprint(out, CONTINUATION)
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		pending.WriteString(scanner.Text())
		pending.WriteByte('\n')
		src := pending.String()
		if strings.TrimSpace(src) == "" {
			pending.Reset()
			continue
		}
		if depth(src) > 0 {
			continue
		}
		pending.Reset()

		evaluated, err := engine.Eval(ctx, src, env)
		diags := engine.Diagnostics()
		for _, d := range diags[seen:] {
			io.WriteString(out, d.String()+"\n")
		}
		seen = len(diags)
		if err != nil {
			io.WriteString(out, diag.Render(err, "<repl>", src)+"\n")
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if evaluated != nil && evaluated != object.NONE {
			io.WriteString(out, evaluated.Inspect()+"\n")
		}
	}
}

// depth counts open brackets outside string literals and comments.
func depth(src string) int {
	n := 0
	var quote rune
	escaped := false
	comment := false
	for _, r := range src {
		switch {
		case comment:
			if r == '\n' {
				comment = false
			}
		case quote != 0:
			if escaped {
				escaped = false
			} else if r == '\\' {
				escaped = true
			} else if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '#':
			comment = true
		case r == '{' || r == '(' || r == '[':
			n++
		case r == '}' || r == ')' || r == ']':
			n--
		}
	}
	return n
}
