package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"weave/internal/ast"
	"weave/internal/diag"
	"weave/internal/interp"
	"weave/internal/normalize"
	"weave/internal/object"
	"weave/internal/poet"
)

func newRunCommand(version string) *cobra.Command {
	var showCalls bool
	cmd := &cobra.Command{
		Use:   "run <file> [args...]",
		Short: "Execute a weave program",
		Long: `Execute a weave program. Extra arguments are available to the program
as the system:args list.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, version)
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd.Context(), cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer rt.close(cmd.Context())
			return rt.runFile(cmd.Context(), args[0], args[1:], cmd.OutOrStdout(), cmd.ErrOrStderr(), showCalls)
		},
	}
	cmd.Flags().BoolVar(&showCalls, "calls", false, "print the metadata of every decorated call")
	return cmd
}

// runFile executes one program and reports its diagnostics on errOut. The
// returned error carries the program's failure, already rendered.
func (rt *runtime) runFile(ctx context.Context, path string, args []string, out, errOut io.Writer, showCalls bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	src := string(data)
	if rt.cfg.Runtime.DebugJSONAST {
		writeASTFile(path, src)
	}

	env := object.NewContext()
	defer env.Release()
	argv := make([]object.Object, len(args))
	for i, a := range args {
		argv[i] = &object.String{Value: a}
	}
	env.Set(object.System, "args", &object.List{Elements: argv})
	env.Set(object.System, "file", &object.String{Value: path})

	ctx, cancel := rt.withTimeout(ctx)
	defer cancel()
	res, err := interp.ExecuteProgram(ctx, src, env, rt.opts)
	for _, d := range res.Diagnostics {
		if d.Severity != diag.SeverityError {
			fmt.Fprintln(errOut, d.String())
		}
	}
	if showCalls {
		for _, meta := range res.Calls {
			fmt.Fprintln(errOut, meta.String())
		}
		rt.printLearned(errOut, res.Calls)
	}
	if err != nil {
		return fmt.Errorf("%s", diag.Render(err, path, src))
	}
	if res.Value != object.NONE {
		fmt.Fprintln(out, res.Value.Inspect())
	}
	return nil
}

// printLearned reports what the learner knows about each decorated function
// called in this run.
func (rt *runtime) printLearned(w io.Writer, calls []*poet.Meta) {
	if rt.learner == nil {
		return
	}
	seen := map[string]bool{}
	for _, meta := range calls {
		if seen[meta.Function] {
			continue
		}
		seen[meta.Function] = true
		stats, ok := rt.learner.Stats(meta.Function)
		if !ok {
			continue
		}
		fmt.Fprintf(w, "learned %s: calls=%d retried=%d mean_latency=%s suggested_timeout=%s\n",
			meta.Function, stats.Calls, stats.Retried, stats.MeanLatency, stats.SuggestedTimeout())
	}
}

func writeASTFile(path, src string) {
	program, err := normalize.Source(src)
	if err != nil {
		return
	}
	json, err := ast.RenderASTAsJSON(program)
	if err != nil {
		slog.Error("failed to render AST as JSON", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(path+".ast.json", []byte(json), 0o644); err != nil {
		slog.Error("failed to write AST", slog.String("path", path), slog.Any("error", err))
	}
}
