package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aretw0/parley/internal/cli"
	"github.com/aretw0/parley/pkg/domain"
)

// runCmd starts a durable chat turn
var runCmd = &cobra.Command{
	Use:   "run [message...]",
	Short: "Start a durable chat turn",
	Long: `Creates a durable run that infers a reply and persists the turn.
Without --wait the command returns once the run is durable; the process still
lets the run finish before exiting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		wait, _ := cmd.Flags().GetBool("wait")

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		app, err := newApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		runID, err := app.Service.StartWorkflow(ctx, sessionID, strings.Join(args, " "))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !wait {
			fmt.Fprintln(out, runID)
			return nil
		}

		run, err := app.Service.Workflows().Wait(ctx, runID)
		if err != nil {
			return err
		}
		return printRunOutcome(cmd, run)
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect and resume durable runs",
}

var runsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List runs with their status",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		ids, err := app.Service.Workflows().List(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(ids) == 0 {
			fmt.Fprintln(out, "No runs found.")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN\tSESSION\tSTATUS\tUPDATED")
		for _, id := range ids {
			run, err := app.Service.Run(cmd.Context(), id)
			if err != nil {
				fmt.Fprintf(tw, "%s\t-\terror: %v\t-\n", id, err)
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", run.ID, run.SessionID, run.Status, run.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return tw.Flush()
	},
}

var runsInspectCmd = &cobra.Command{
	Use:   "inspect <run-id>",
	Short: "Print the full record of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		run, err := app.Service.Run(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var runsResumeCmd = &cobra.Command{
	Use:   "resume [run-id...]",
	Short: "Resume runs at their first incomplete step (all unfinished runs when no id is given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		app, err := newApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		orch := app.Service.Workflows()
		ids := args
		if len(ids) == 0 {
			if ids, err = orch.ResumePending(ctx); err != nil {
				return err
			}
		} else {
			for _, id := range ids {
				if err := orch.Resume(ctx, id); err != nil {
					return err
				}
			}
		}

		if len(ids) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to resume.")
			return nil
		}
		for _, id := range ids {
			run, err := orch.Wait(ctx, id)
			if err != nil {
				return err
			}
			if err := printRunOutcome(cmd, run); err != nil {
				return err
			}
		}
		return nil
	},
}

func printRunOutcome(cmd *cobra.Command, run *domain.WorkflowRun) error {
	out := cmd.OutOrStdout()
	switch run.Status {
	case domain.RunCompleted:
		reply := ""
		if run.Result != nil {
			reply = run.Result.Reply
		}
		fmt.Fprintf(out, "%s completed: %s\n", run.ID, reply)
		return nil
	default:
		return fmt.Errorf("run %s %s: %s", run.ID, run.Status, run.Error)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsLsCmd)
	runsCmd.AddCommand(runsInspectCmd)
	runsCmd.AddCommand(runsResumeCmd)

	runCmd.Flags().StringP("session", "s", "", "Session ID (defaults to chat.default_session_id)")
	runCmd.Flags().BoolP("wait", "w", false, "Wait for the run to finish and print the reply")
}
