package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Bldg-7/clawdash/internal/config"
	"github.com/Bldg-7/clawdash/internal/mirror"
	"github.com/Bldg-7/clawdash/internal/shared"
	"github.com/Bldg-7/clawdash/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, event stream and auto sync",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the cache database and exit",
	RunE:  runMigrate,
}

func init() {
	for _, cmd := range []*cobra.Command{serveCmd, migrateCmd} {
		cmd.Flags().StringVar(&configPath, "config", "", "path to JSON config file (defaults plus CLAWDASH_* env when empty)")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := shared.NewLogger(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("config loaded successfully", zap.String("config_path", configPath))

	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("database ready", zap.String("path", cfg.Database.Path))

	srv, err := mirror.NewServer(cfg, db, logger)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	logger.Info("received signal, initiating graceful shutdown",
		zap.String("signal", sig.String()),
	)

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}

	logger.Info("clawdash exited cleanly")
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := storage.NewMigrationRunner(db).Applied()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d migrations applied\n", cfg.Database.Path, len(applied))
	return nil
}
