// Package main is the studyengine CLI: the broker worker pool and the
// admin/ops HTTP surface for one deployment of the study execution engine.
//
// Usage:
//
//	studyengine serve   # admin API only (health, readiness, metrics, pause/resume)
//	studyengine worker  # subscribe every job queue and run the retention sweep
//	studyengine migrate # apply pending database migrations and exit
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	appconfig "github.com/codeready-toolchain/studyengine/pkg/config"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "studyengine",
		Short:        "Study execution engine: broker, orchestrators, and admin surface",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd(), buildWorkerCmd(), buildMigrateCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP API (health, readiness, metrics, pause/resume)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd.Context(), func(ctx context.Context, a *app) error {
				slog.Info("starting admin api", "addr", a.cfg.AdminAddr)
				errCh := make(chan error, 1)
				go func() { errCh <- a.adminServer().Run(a.cfg.AdminAddr) }()
				select {
				case <-ctx.Done():
					return nil
				case err := <-errCh:
					return err
				}
			})
		},
	}
}

func buildWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Subscribe every job queue and run the retention sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd.Context(), func(ctx context.Context, a *app) error {
				slog.Info("starting worker pool", "pod_id", a.cfg.PodID)
				a.sweeper.Start()
				a.startWorkers(ctx)
				return nil
			})
		},
	}
}

func buildMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			ctx := cmd.Context()
			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			slog.Info("migrations applied")
			return a.Close(ctx)
		},
	}
}

// runWithApp loads config, builds the app, runs fn until it returns or a
// termination signal arrives, then tears the app down.
func runWithApp(ctx context.Context, fn func(context.Context, *app) error) error {
	cfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			slog.Error("error during shutdown", "error", err)
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return fn(sigCtx, a)
}
