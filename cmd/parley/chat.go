package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aretw0/parley/internal/cli"
	"github.com/aretw0/parley/internal/presentation/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat [message...]",
	Short: "Send a chat turn, or start an interactive chat on a terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")

		app, err := newApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		out := cmd.OutOrStdout()

		if len(args) > 0 {
			reply, err := app.Service.Chat(cmd.Context(), sessionID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(out, reply.Reply)
			return nil
		}

		if !term.IsTerminal(int(os.Stdin.Fd())) {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			reply, err := app.Service.Chat(cmd.Context(), sessionID, strings.TrimSpace(string(data)))
			if err != nil {
				return err
			}
			fmt.Fprintln(out, reply.Reply)
			return nil
		}

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		tui.PrintBanner(out)
		if sessionID == "" {
			sessionID = app.Service.Defaults().SessionID
		}
		cli.PrintSystemMessage(out, "Session '%s' active. Type 'exit' to quit.", sessionID)

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		for {
			fmt.Fprint(out, "> ")
			var line string
			select {
			case <-ctx.Done():
				fmt.Fprintln(out, "[CTRL+C]")
				return nil
			case l, ok := <-lines:
				if !ok {
					fmt.Fprintln(out)
					return nil
				}
				line = strings.TrimSpace(l)
			}

			if line == "exit" || line == "quit" {
				cli.PrintSystemMessage(out, "Bye!")
				return nil
			}
			if line == "" {
				continue
			}

			reply, err := app.Service.Chat(ctx, sessionID, line)
			if err != nil {
				cli.PrintSystemMessage(out, "Error: %v", err)
				continue
			}
			fmt.Fprintln(out, reply.Reply)
		}
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [session-id]",
	Short: "Show the bounded history of a session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		if len(args) == 1 {
			sessionID = args[0]
		}
		jsonMode, _ := cmd.Flags().GetBool("json")

		app, err := newApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		hist, err := app.Service.History(cmd.Context(), sessionID)
		if err != nil {
			return err
		}
		if sessionID == "" {
			sessionID = app.Service.Defaults().SessionID
		}

		out := cmd.OutOrStdout()
		if jsonMode || !term.IsTerminal(int(os.Stdout.Fd())) {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"hist": hist})
		}

		rendered, err := tui.NewRenderer()(tui.HistoryMarkdown(sessionID, hist))
		if err != nil {
			return err
		}
		fmt.Fprint(out, rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(historyCmd)

	chatCmd.Flags().StringP("session", "s", "", "Session ID (defaults to chat.default_session_id)")
	historyCmd.Flags().StringP("session", "s", "", "Session ID (defaults to chat.default_session_id)")
	historyCmd.Flags().Bool("json", false, "Print raw JSON even on a terminal")
}
