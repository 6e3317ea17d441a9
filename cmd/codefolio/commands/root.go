package commands

import (
	"codefolio-backend/internal/orchestrator"
	"codefolio-backend/internal/profile"
	"codefolio-backend/lib/telemetry"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "codefolio",
	Short: "codefolio verifies and aggregates competitive programming profiles.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json5", "The config file, a <name>.local.json5 next to it overrides it.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enables debug logs and dumps http exchanges to <dev_state>/resty.")
}

// ExecuteContext runs the command line, errors are printed to stderr before being returned.
func ExecuteContext(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return err
}

// ExitCode maps a command error to the process exit code, scripts driving
// refreshes use it to tell retryable failures apart from permanent ones.
//
//	0 success, 1 other, 2 profile not found, 3 retryable, 4 verification rejected,
//	5 persistence
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	kind := profile.KindOf(err)
	switch {
	case kind == profile.KindProfileNotFound:
		return 2
	case kind.Retryable():
		return 3
	case kind == profile.KindVerificationMismatch,
		kind == profile.KindMaxAttemptsExceeded,
		errors.Is(err, orchestrator.ErrNotVerified),
		errors.Is(err, orchestrator.ErrHandleMismatch):
		return 4
	case kind == profile.KindPersistenceError:
		return 5
	}
	return 1
}
