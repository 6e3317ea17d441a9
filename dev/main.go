package main

import (
	devenv "codefolio-backend/dev/env"
	"codefolio-backend/lib/telemetry"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dev",
	Short: "Sets up a local codefolio development environment.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(false)
		root, err := devenv.GetWorkspaceRoot()
		if err != nil {
			return fmt.Errorf("the dev environment must be managed from inside the repository: %w", err)
		}
		return os.Chdir(root)
	},
	SilenceUsage: true,
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Creates the state directory, the dev database and an example config.",
	RunE: func(cmd *cobra.Command, args []string) error {
		recreate, _ := cmd.Flags().GetBool("recreate")
		return create(cmd.Context(), recreate)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Applies the store schema to the dev database.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return CreateDevDB(cmd.Context())
	},
}

var pathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Prints where the dev environment keeps its files.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return PrintConfigLocations(cmd.OutOrStdout())
	},
}

func init() {
	createCmd.Flags().Bool("recreate", false, "Deletes the existing state directory first.")
	rootCmd.AddCommand(createCmd, migrateCmd, pathsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
