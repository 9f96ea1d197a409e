package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var attemptsIP string

var attemptsCmd = &cobra.Command{
	Use:   "attempts",
	Short: "Inspect and forgive failed login attempts",
}

var attemptsClearCmd = &cobra.Command{
	Use:   "clear <identity>",
	Short: "Forget failed attempts for an identity or, with --ip, an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := openEnvironment(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		cleared, err := env.auth.ClearLockout(ctx, args[0], attemptsIP)
		if err != nil {
			return err
		}
		if !cleared {
			fmt.Fprintln(cmd.OutOrStdout(), "no attempts recorded")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "attempts cleared")
		return nil
	},
}

var attemptsStatusCmd = &cobra.Command{
	Use:   "status <identity>",
	Short: "Report whether logins for an identity are locked out",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := openEnvironment(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		locked, remaining, err := env.auth.LockedOut(ctx, args[0], attemptsIP)
		if err != nil {
			return err
		}
		if !locked {
			fmt.Fprintln(cmd.OutOrStdout(), "not locked out")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "locked out for %ds\n", remaining)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{attemptsClearCmd, attemptsStatusCmd} {
		c.Flags().StringVar(&attemptsIP, "ip", "", "client address")
	}
	attemptsCmd.AddCommand(attemptsClearCmd, attemptsStatusCmd)
}
