package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVerifyCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <token>",
		Short: "Verify a JWT credential or presentation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, a, logger, err := root.load(cmd.Context())
			if err != nil {
				return fmt.Errorf("init agent: %w", err)
			}

			defer release(a, logger)

			res, err := a.Verify(cmd.Context(), args[0])
			if err != nil && res == nil {
				return fmt.Errorf("verify: %w", err)
			}

			if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
				return perr
			}

			if err != nil {
				return fmt.Errorf("verify: %w", err)
			}

			if !res.Valid {
				return fmt.Errorf("verification failed: %s", res.Reason)
			}

			return nil
		},
	}
}
