package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"dployr/internal/container"
	"dployr/internal/deployment"
	"dployr/internal/gitsync"
	"dployr/internal/history"
	"dployr/internal/server"
	"dployr/internal/security"

	"github.com/spf13/cobra"
)

// shutdownTimeout bounds how long serve waits for in-flight deployments.
const shutdownTimeout = 5 * time.Minute

var (
	logFile  string
	dbPath   string
	host     string
	port     int
	testMode bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Start the HTTP server that receives push webhooks.

Pushes to a project's configured branch pull the working tree and restart the
project's containers. SIGINT or SIGTERM stop accepting requests and wait for
running deployments before exiting.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&logFile, "log", getEnvOrDefault("DPLOYR_LOG_FILE", "./deployments.log"), "Path to log file")
	serveCmd.Flags().StringVar(&dbPath, "db", getEnvOrDefault("DPLOYR_DB_PATH", "./deployments.db"), "Path to SQLite database")
	serveCmd.Flags().StringVar(&host, "host", getEnvOrDefault("DPLOYR_HOST", "127.0.0.1"), "Host to bind to")
	serveCmd.Flags().IntVarP(&port, "port", "p", getEnvOrDefaultInt("DPLOYR_PORT", 5000), "Port to listen on")
	serveCmd.Flags().BoolVar(&testMode, "test-mode", os.Getenv("DPLOYR_TEST_MODE") == "1", "Disable rate limiting and history")
}

func runServe(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment(true)
	if err != nil {
		return err
	}

	logger, logFileHandle, err := setupLogging(logFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logFileHandle.Close()

	logger.Info("dployr_starting", "version", version, "config", env.ConfigPath, "projects", env.Registry.Count())
	if env.Registry.Count() == 0 {
		logger.Warn("No projects configured in config file", "config", env.ConfigPath)
	}

	var hist *history.History
	if !testMode {
		logger.Info("Initializing history database", "db", dbPath)
		hist, err = history.NewHistory(dbPath)
		if err != nil {
			return fmt.Errorf("failed to initialize history database: %w", err)
		}
		if err := os.Chmod(dbPath, security.PermDBFile); err != nil {
			logger.Warn("Could not tighten database permissions", "db", dbPath, "error", err)
		}
	}

	metrics := server.NewMetrics()
	notifier := deployment.MultiNotifier{deployment.LogNotifier{Logger: logger}, metrics}
	if hist != nil {
		notifier = append(notifier, history.Recorder{History: hist, Logger: logger})
	}

	claims, err := sharedClaims()
	if err != nil {
		return err
	}
	coordinator := deployment.NewCoordinator(
		gitsync.NewEngine(logger),
		container.NewCompose(env.UsersPath, env.HostUsersPath, logger),
		notifier,
		logger,
		deployment.WithClaims(claims),
	)

	srv := server.NewServer(env.Registry, coordinator, hist, metrics, logger, testMode)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(host, port)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown_started")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown_incomplete", "error", err)
		return err
	}
	logger.Info("shutdown_complete")
	return nil
}

// setupLogging configures slog for file logging
// Returns both the logger and the file handle (caller must close the file)
func setupLogging(logPath string) (*slog.Logger, *os.File, error) {
	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, security.PermDirectory); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, security.PermConfigFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	logger, err := newLogger(io.MultiWriter(os.Stdout, file))
	if err != nil {
		file.Close()
		return nil, nil, err
	}

	return logger, file, nil
}
