package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage stored session histories",
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all sessions with a stored history",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		sessions, err := app.Service.Sessions().List(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing sessions: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(sessions) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}

		fmt.Fprintln(out, "Sessions:")
		for _, s := range sessions {
			fmt.Fprintln(out, "- "+s)
		}
		return nil
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more session histories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		out := cmd.OutOrStdout()
		failed := 0
		for _, sessionID := range args {
			if err := app.Service.Sessions().Delete(cmd.Context(), sessionID); err != nil {
				fmt.Fprintf(out, "Error removing '%s': %v\n", sessionID, err)
				failed++
				continue
			}
			fmt.Fprintf(out, "Removed session '%s'\n", sessionID)
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d sessions could not be removed", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionRmCmd)
}
