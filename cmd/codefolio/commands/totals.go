package commands

import (
	"github.com/spf13/cobra"
)

var totalsJson bool

func init() {
	totalsCmd.Flags().BoolVar(&totalsJson, "json", false, "Prints the totals as json.")
	rootCmd.AddCommand(totalsCmd)
}

var totalsCmd = &cobra.Command{
	Use:   "totals <user>",
	Short: "Prints the aggregated totals and per platform snapshots of a user.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		totals, err := a.service.Totals(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if totalsJson {
			return printJson(totals)
		}

		snapshots, err := a.service.Snapshots(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, s := range snapshots {
			renderSnapshot(s)
		}
		renderTotals(totals)
		return nil
	},
}
