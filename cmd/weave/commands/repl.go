package commands

import (
	"github.com/spf13/cobra"

	"weave/internal/repl"
)

func newReplCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, version)
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd.Context(), cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer rt.close(cmd.Context())
			return repl.Start(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), rt.opts)
		},
	}
}
