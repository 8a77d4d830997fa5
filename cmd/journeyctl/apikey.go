package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tap-lms/journey-hub/internal/interface/http/handlers"
)

func newAPIKeyCmd() *cobra.Command {
	apiKeyCmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API credentials",
	}

	hashCmd := &cobra.Command{
		Use:   "hash <plaintext>",
		Short: "Print the bcrypt hash to put in API_KEYS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cost, _ := cmd.Flags().GetInt("cost")
			name, _ := cmd.Flags().GetString("name")

			hash, err := handlers.HashAPIKey(args[0], cost)
			if err != nil {
				return err
			}
			if name != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s:%s\n", name, hash)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	hashCmd.Flags().Int("cost", 0, "bcrypt cost (0 = default)")
	hashCmd.Flags().String("name", "", "Prefix the output with a caller name, ready for API_KEYS")

	apiKeyCmd.AddCommand(hashCmd)
	return apiKeyCmd
}
