// Package cmd implements the kotoba command line interface.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kotoba-ai/kotoba/internal/agent"
	"github.com/kotoba-ai/kotoba/internal/app"
	"github.com/kotoba-ai/kotoba/internal/config"
	"github.com/kotoba-ai/kotoba/internal/log"
)

var (
	flagOwner   string
	flagDebug   bool
	flagJSONLog bool
)

var rootCmd = &cobra.Command{
	Use:   "kotoba",
	Short: "Kotoba - conversational agents with private knowledge stores",
	Long: `Kotoba manages conversational agents. Each agent has a persona and an
optional knowledge store built from training files; conversations are
grounded in that store and answered in the user's language.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagOwner, "owner", defaultOwner(), "owner id scoping agents and chats")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLog, "log-json", false, "log in JSON format")
}

func defaultOwner() string {
	if owner := os.Getenv("KOTOBA_OWNER"); owner != "" {
		return owner
	}
	return "local"
}

func newLogger() log.Logger {
	level := slog.LevelInfo
	if flagDebug || os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: flagJSONLog})
}

// withApp loads configuration, builds the application, runs fn, and tears
// everything down afterwards. Every subcommand goes through here.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	logger := newLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx := cmd.Context()
	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing application", "error", err)
		}
	}()

	return fn(ctx, a)
}

// resolveAgent accepts either an agent id or an agent name.
func resolveAgent(ctx context.Context, a *app.App, ref string) (*agent.Agent, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return a.Agents.Get(ctx, flagOwner, id)
	}
	return a.Agents.GetByName(ctx, flagOwner, ref)
}
