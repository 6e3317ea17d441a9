package commands

import (
	"codefolio-backend/internal/profile"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	verifyCmd.AddCommand(verifyInitCmd)
	verifyCmd.AddCommand(verifyConfirmCmd)
	verifyCmd.AddCommand(verifyStatusCmd)
	rootCmd.AddCommand(verifyCmd)
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Proves ownership of a platform profile with a one-time code.",
}

var verifyInitCmd = &cobra.Command{
	Use:   "init <user> <platform> <profile url>",
	Short: "Issues a code the user must set as their display name on the platform.",
	Args:  cobra.ExactArgs(3),
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

		code, err := a.service.InitVerification(cmd.Context(), args[0], platform, args[2])
		if err != nil {
			return err
		}
		fmt.Printf("Set your %s display name to %s, then run `codefolio verify confirm %s %s`.\n",
			platform.Title(), code, args[0], platform)
		return nil
	},
}

var verifyConfirmJson bool

func init() {
	verifyConfirmCmd.Flags().BoolVar(&verifyConfirmJson, "json", false, "Prints the result as json.")
}

var verifyConfirmCmd = &cobra.Command{
	Use:   "confirm <user> <platform>",
	Short: "Checks the profile for the issued code.",
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

		res, err := a.service.ConfirmVerification(cmd.Context(), args[0], platform)
		if err != nil {
			return err
		}
		if verifyConfirmJson {
			return printJson(res)
		}
		fmt.Println(res.Message)
		if res.Totals != nil {
			renderTotals(*res.Totals)
		}
		return nil
	},
}

var verifyStatusCmd = &cobra.Command{
	Use:   "status <user> <platform>",
	Short: "Prints the verification state of a platform.",
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

		record, status, err := a.service.VerificationStatus(cmd.Context(), args[0], platform)
		if err != nil {
			return err
		}
		if record == nil {
			fmt.Println(status)
			return nil
		}
		fmt.Printf("%s: %s (code %s, %d attempts)\n", status, record.Handle, record.Code, record.Attempts)
		return nil
	},
}
