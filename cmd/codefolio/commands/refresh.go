package commands

import (
	"codefolio-backend/internal/components/chrono"
	"codefolio-backend/lib/telemetry"
	"log/slog"

	"github.com/spf13/cobra"
)

var refreshOnce bool

func init() {
	refreshCmd.Flags().BoolVar(&refreshOnce, "once", false, "Refreshes every verified profile once and exits instead of running on the schedule.")
	rootCmd.AddCommand(refreshCmd)
}

var refreshCmd = &cobra.Command{
	Use:   "refresh [--once]",
	Short: "Re-scrapes every verified profile, by default on the configured cron schedule.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if refreshOnce {
			report, err := a.service.RefreshAll(ctx)
			if err != nil {
				return err
			}
			renderRefresh(report)
			return nil
		}

		telemetry.InstrumentPerfStats(ctx, 0)

		cron := chrono.NewStandardCron(a.tel, a.clock.Location())
		defer cron.Stop()
		err = a.service.Schedule(ctx, cron)
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "scheduled refresh", "cron", a.config.Refresh.Cron, "timezone", a.clock.Location().String())

		<-ctx.Done()
		return nil
	},
}
