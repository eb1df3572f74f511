package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"weave/internal/ast"
	"weave/internal/diag"
	"weave/internal/normalize"
)

func newASTCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ast <file>",
		Short: "Print the normalized AST of a program as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			program, err := normalize.Source(string(data))
			if err != nil {
				return fmt.Errorf("%s", diag.Render(err, args[0], string(data)))
			}
			json, err := ast.RenderASTAsJSON(program)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), json)
			return nil
		},
	}
}
