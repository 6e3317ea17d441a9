package commands

import (
	"codefolio-backend/internal/profile"

	"github.com/spf13/cobra"
)

var scrapeJson bool

func init() {
	scrapeCmd.Flags().BoolVar(&scrapeJson, "json", false, "Prints the snapshot and totals as json.")
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape <user> <platform> [handle or url]",
	Short: "Re-scrapes a verified platform and recomputes the totals.",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		platform, err := profile.ParsePlatform(args[1])
		if err != nil {
			return err
		}
		handle := ""
		if len(args) == 3 {
			handle = args[2]
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.service.ScrapeProfile(cmd.Context(), args[0], platform, handle)
		if err != nil {
			return err
		}
		if scrapeJson {
			return printJson(res)
		}
		renderSnapshot(res.Snapshot)
		renderTotals(res.Totals)
		return nil
	},
}
