package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/spanflow/spanflow/internal/api/openai"
	"github.com/spanflow/spanflow/internal/config"
	"github.com/spanflow/spanflow/internal/proxy"
	"github.com/spanflow/spanflow/internal/server"
	"github.com/spanflow/spanflow/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "spanflow-proxy", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Provider flavor is decided once here, never per-request. The
	// instrumented transport gives every forwarded call a client span.
	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	var client *openai.Client
	if cfg.UseAzure() {
		client = openai.NewAzureClient(cfg.Azure.APIKey, cfg.Azure.Endpoint, cfg.Azure.APIVersion,
			openai.WithHTTPClient(httpClient))
		logger.Info("using Azure OpenAI upstream", slog.String("endpoint", cfg.Azure.Endpoint))
	} else {
		client = openai.NewClient(cfg.OpenAI.APIKey,
			openai.WithBaseURL(cfg.OpenAI.BaseURL),
			openai.WithHTTPClient(httpClient))
		logger.Info("using OpenAI upstream", slog.String("base_url", cfg.OpenAI.BaseURL))
	}

	srv := server.New(cfg.Server.Port, logger)
	proxy.NewHandler(client, logger).Register(srv.Router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	case <-sigCh:
		logger.Info("shutdown signal received, stopping server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
