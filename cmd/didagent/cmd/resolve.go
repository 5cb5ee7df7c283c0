package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResolveCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <did>",
		Short: "Resolve a DID to its document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, a, logger, err := root.load(cmd.Context())
			if err != nil {
				return fmt.Errorf("init agent: %w", err)
			}

			defer release(a, logger)

			doc, err := a.Resolve(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("resolve %s: %w", args[0], err)
			}

			return printJSON(cmd.OutOrStdout(), doc)
		},
	}
}
