package commands

import (
	"codefolio-backend/internal/profile"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(removeCmd)
}

var removeCmd = &cobra.Command{
	Use:   "remove <user> <platform>",
	Short: "Forgets a platform of a user and recomputes the totals.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		platform, err := profile.ParsePlatform(args[1])
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		totals, err := a.service.RemovePlatform(cmd.Context(), args[0], platform)
		if err != nil {
			return err
		}
		renderTotals(totals)
		return nil
	},
}
