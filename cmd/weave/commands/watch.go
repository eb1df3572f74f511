package commands

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"weave/internal/interp"
	"weave/internal/watch"
)

func newWatchCommand(version string) *cobra.Command {
	var showCalls bool
	cmd := &cobra.Command{
		Use:   "watch <file> [args...]",
		Short: "Run a program and rerun it whenever a source file changes",
		Args:  cobra.MinimumNArgs(1),
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

			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			rerun := func(ctx context.Context) {
				if err := rt.runFile(ctx, args[0], args[1:], out, errOut, showCalls); err != nil {
					fmt.Fprintln(errOut, err)
				}
			}
			rerun(cmd.Context())

			w := &watch.Watcher{
				Dirs: []string{filepath.Dir(args[0]), cfg.Runtime.RootPath},
				Ext:  interp.SourceExt,
				OnChange: func(ctx context.Context, changed []string) {
					slog.Info("sources changed", slog.Any("files", changed))
					rerun(ctx)
				},
			}
			return w.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&showCalls, "calls", false, "print the metadata of every decorated call")
	return cmd
}
