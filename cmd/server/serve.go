package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/oracle-shell/internal/api"
	"github.com/ashureev/oracle-shell/internal/archive"
	"github.com/ashureev/oracle-shell/internal/chat"
	"github.com/ashureev/oracle-shell/internal/config"
	"github.com/ashureev/oracle-shell/internal/health"
	"github.com/ashureev/oracle-shell/internal/oracle"
	"github.com/ashureev/oracle-shell/internal/store"
	"github.com/ashureev/oracle-shell/internal/terminal"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, WebSocket and health servers",
	RunE:  runServe,
}

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage.
	docs, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := docs.Close(); closeErr != nil {
			slog.Error("Failed to close store", "error", closeErr)
		}
	}()

	if err := docs.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	shards, err := archive.New(ctx, docs, archive.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("initialize archive: %w", err)
	}

	// Thread registry: in memory unless a registry file is configured.
	var registry oracle.Registry = oracle.NewMemoryRegistry()
	if cfg.Oracle.ThreadRegistryPath != "" {
		bolt, err := oracle.OpenBoltRegistry(cfg.Oracle.ThreadRegistryPath)
		if err != nil {
			return fmt.Errorf("open thread registry: %w", err)
		}
		registry = bolt
		slog.Info("Thread registry persisted", "path", cfg.Oracle.ThreadRegistryPath)
	} else {
		slog.Info("Thread registry in memory; mappings are lost on restart")
	}
	defer func() {
		if closeErr := registry.Close(); closeErr != nil {
			slog.Error("Failed to close thread registry", "error", closeErr)
		}
	}()

	// Upstream completion service.
	completions := oracle.NewOpenAIService(oracle.OpenAIConfig{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		AssistantID: cfg.OpenAI.AssistantID,
		Model:       cfg.OpenAI.Model,
	}, logger)

	resolver := oracle.NewResolver(completions, registry, oracle.Config{
		PollInterval:      cfg.Oracle.PollInterval,
		GenerationTimeout: cfg.Oracle.GenerationTimeout,
		CreateTimeout:     cfg.Oracle.CreateTimeout,
		VerifyThreads:     cfg.Oracle.VerifyThreads,
	}, logger)

	chatSvc := chat.NewService(resolver, shards, chat.NewHistory(cfg.HistoryMaxMessages), logger)

	sm := terminal.NewSessionManager()
	defer sm.CloseAll()
	wsHandler := terminal.NewWebSocketHandler(chatSvc, sm, cfg.FrontendURL, cfg.IsDevelopment())

	router := api.NewRouter(api.Deps{
		Chat:           chatSvc,
		Assistant:      completions,
		Shards:         shards,
		Store:          docs,
		Terminal:       wsHandler,
		AllowedOrigins: cfg.AllowedOrigins(),
		IsDevelopment:  cfg.IsDevelopment(),
		RequestLogging: true,
	})

	// Completion requests can wait for the whole generation budget.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Oracle.GenerationTimeout + cfg.Oracle.CreateTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 2)

	if cfg.GRPCHealthAddr != "" {
		healthSrv := health.New(docs, 0, logger)
		go func() {
			if err := healthSrv.Serve(ctx, cfg.GRPCHealthAddr); err != nil {
				errCh <- err
			}
		}()
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Wait for shutdown signal or a server failure.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("Server failed", "error", err)
		stop()
		return err
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sm.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}
