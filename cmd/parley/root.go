package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/parley/internal/cli"
	"github.com/aretw0/parley/internal/config"
	"github.com/aretw0/parley/pkg/domain"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley is a chat backend with bounded session memory and durable turns",
	Long: `Parley keeps a bounded conversation history per session and runs chat turns
either synchronously or as durable, resumable workflows.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", config.DefaultPath, "Path to a YAML or JSON config file")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging on stderr")
	rootCmd.PersistentFlags().String("store", "", "Override the storage backend (memory, file, redis, dynamodb)")
}

// loadConfig reads --config and applies flag overrides on top of file and env.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if store, _ := cmd.Flags().GetString("store"); store != "" {
		cfg.Storage.Backend = store
		if err := cfg.Validate(); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// newApp wires a parley instance for one command invocation.
func newApp(ctx context.Context, cmd *cobra.Command, hooks ...domain.LifecycleHooks) (*cli.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	debug, _ := cmd.Flags().GetBool("debug")
	logger, err := cli.NewLogger(cfg.Log, debug)
	if err != nil {
		return nil, err
	}
	return cli.NewApp(ctx, cfg, logger, hooks...)
}
