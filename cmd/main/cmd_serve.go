package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// serveCmd runs the HTTP API until it is shut down.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API on the address from the config file. A missing config
file is created with default values.

The server restarts in place when POST /api/server/restart is called, which
reloads the configuration and reopens the database.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	baseLogger := newLogger(cmd.ErrOrStderr(), "info")

	actionChan := make(chan string, 1)

	go func() {
		<-cmd.Context().Done() // Wait for a signal
		baseLogger.Info("OS signal received, initiating shutdown.")
		actionChan <- actionShutdown
	}()

	for {
		action, err := run(cmd, actionChan)
		if err != nil {
			return err
		}
		if action != actionRestart {
			break
		}
		baseLogger.Info("--- Server Restarting ---")
	}

	baseLogger.Info("Babble has shut down.")
	return nil
}

// run hosts the API server, and returns whenever the server is shut down or restarted.
func run(cmd *cobra.Command, actionChan chan string) (string, error) {
	cm, err := NewConfigManager(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := cm.Get()

	logger := newLogger(cmd.ErrOrStderr(), cfg.Server.LogLevel)
	logger.Info("Starting server cycle...", "version", Version)

	db, store, err := openStore(cfg.Server.DatabasePath, logger)
	if err != nil {
		return "", fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		logger.Info("Closing database connection.")
		store.Close()
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()

	server, err := NewServer(cm, logger, db, store, actionChan)
	if err != nil {
		return "", fmt.Errorf("failed to create server object: %w", err)
	}

	apiHttpServer := &http.Server{
		Addr:              cfg.Server.ApiAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting api server", "address", apiHttpServer.Addr)
		if err := apiHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var action string
	select {
	case action = <-actionChan: // Block here until API or OS signal sends an action.
	case err = <-serveErr:
		return "", fmt.Errorf("api server failed: %w", err)
	}

	logger.Info("Stopping server for " + action + "...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = apiHttpServer.Shutdown(ctx); err != nil {
		logger.Error("Api server shutdown failed", "error", err)
	}
	logger.Info("HTTP server stopped.")

	return action, nil
}
