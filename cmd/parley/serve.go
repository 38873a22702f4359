package main

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/aretw0/parley/internal/cli"
	httpAdapter "github.com/aretw0/parley/pkg/adapters/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP chat API",
	Long: `Starts the HTTP server exposing POST /chat, GET /history, POST /wf,
GET /wf/{id}, GET /events (SSE) and, when enabled, GET /metrics.
Runs left unfinished by a previous process are resumed on start.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		streams := httpAdapter.NewStreamManager()
		app, err := newApp(ctx, cmd, streams.Hooks())
		if err != nil {
			return err
		}
		defer app.Close()

		addr := app.Config.Server.Addr
		if cmd.Flags().Changed("addr") {
			addr, _ = cmd.Flags().GetString("addr")
		}

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}

		if err := cli.Serve(ctx, app, ln, streams); err != nil {
			return err
		}
		if sig := ctx.Signal(); sig != nil {
			app.Logger.Info("shutdown complete", "signal", sig.String())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", ":8787", "Address to listen on (overrides server.addr)")
}
