package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fentz26/regent/internal/config"
	"github.com/fentz26/regent/internal/controlplane"
	"github.com/fentz26/regent/internal/dispatch"
	"github.com/fentz26/regent/internal/executor"
	"github.com/fentz26/regent/internal/oracle"
	"github.com/fentz26/regent/internal/orchestrator"
	"github.com/fentz26/regent/internal/store"
	"github.com/fentz26/regent/internal/tools"
	"github.com/spf13/cobra"
)

var (
	listenAddr string
	dbPath     string
	configPath string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the Regent daemon",
	Long:  `Starts the Regent daemon which plans, executes, and serves jobs over the HTTP API.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
	daemonCmd.Flags().StringVar(&configPath, "config", "", "Path to config file (default ~/.regent/config.yaml)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log.Println("Starting Regent daemon...")

	// Load configuration, flags win over file values
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
	} else {
		cfg, err = config.LoadConfigFromHome()
	}
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}
	if dbPath != "" {
		cfg.Server.DBPath = dbPath
	}

	// Initialize store
	resolvedDB, err := config.ExpandPath(cfg.Server.DBPath)
	if err != nil {
		return err
	}
	st, err := store.New(resolvedDB)
	if err != nil {
		return err
	}

	// Tool registry and dispatcher
	registry := tools.NewRegistry()
	search, err := tools.NewSearchTool(cfg.Search.MaxResults)
	if err != nil {
		st.Close()
		return err
	}
	registry.Register(search)
	registry.Register(tools.NewCalculatorTool())
	registry.Register(tools.NewWikipediaTool())
	log.Printf("Tool registry initialized with %d tools", len(registry.Names()))

	// Reasoning model
	model, err := oracle.NewModel(oracle.ModelConfig{
		Provider: cfg.Oracle.Provider,
		Model:    cfg.Oracle.Model,
		BaseURL:  cfg.Oracle.BaseURL,
		APIKey:   os.Getenv(cfg.Oracle.APIKeyEnv),
	})
	if err != nil {
		st.Close()
		return err
	}
	llm := oracle.NewLLM(model, registry, cfg.Oracle.Temperature)
	log.Printf("Oracle ready (provider %s, model %s)", cfg.Oracle.Provider, cfg.Oracle.Model)

	// Execution pipeline
	exec := executor.New(dispatch.New(registry), executor.Config{
		MaxAttempts:    cfg.Executor.MaxAttempts,
		BaseBackoff:    cfg.Executor.BaseBackoff.Std(),
		MaxBackoff:     cfg.Executor.MaxBackoff.Std(),
		AttemptTimeout: cfg.Executor.AttemptTimeout.Std(),
	})
	orch := orchestrator.New(st, llm, exec, orchestrator.Config{
		MaxWorkers: cfg.Orchestrator.MaxWorkers,
		JobTimeout: cfg.Orchestrator.JobTimeout.Std(),
	})

	// Create service and server
	service := controlplane.NewService(st, orch, controlplane.Limits{
		DefaultMaxIterations: cfg.Orchestrator.DefaultMaxIterations,
		MaxIterationsCap:     cfg.Orchestrator.MaxIterationsCap,
	})
	server := controlplane.NewServer(service, cfg.Server.Listen)

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		if err != nil {
			log.Printf("Server error: %v", err)
			st.Close()
			return err
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Println("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Stopping running jobs...")
	if err := service.Shutdown(shutdownCtx); err != nil {
		log.Printf("Job shutdown error: %v", err)
	}

	log.Println("Closing database connection...")
	if err := st.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}
