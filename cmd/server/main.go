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

	"gopkg.in/yaml.v3"

	"github.com/veridoc/receipt-ocr-service/api"
	"github.com/veridoc/receipt-ocr-service/internal/auth"
	"github.com/veridoc/receipt-ocr-service/internal/db"
	"github.com/veridoc/receipt-ocr-service/internal/extract"
	"github.com/veridoc/receipt-ocr-service/internal/models"
	"github.com/veridoc/receipt-ocr-service/internal/pipeline"
	"github.com/veridoc/receipt-ocr-service/internal/queue"
	"github.com/veridoc/receipt-ocr-service/internal/status"
	"github.com/veridoc/receipt-ocr-service/internal/storage"
)

// jobStore is the union of what the HTTP layer and the pipeline need from
// persistence. Both db.JobStore and db.MemStore satisfy it.
type jobStore interface {
	api.JobStore
	pipeline.Store
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config, err := loadConfig(configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := auth.Init(logger); err != nil {
		return fmt.Errorf("initializing auth: %w", err)
	}

	// Database is optional: without it jobs live in memory only.
	var store jobStore
	dbBacked := false
	pool, err := db.Connect(ctx)
	if err != nil {
		logger.Warn("database not available, using in-memory store", "error", err)
		store = db.NewMemStore()
	} else {
		defer pool.Close()
		store = db.NewJobStore(pool)
		dbBacked = true
		logger.Info("database connected")
	}

	// Object storage is optional too; without it uploads are rejected but
	// the API still serves existing jobs.
	storageClient, err := storage.New(ctx)
	if err != nil {
		logger.Warn("object storage not available, uploads disabled", "error", err)
		storageClient = nil
	} else {
		logger.Info("object storage connected")
	}

	provider, err := extract.New(config.AI)
	if err != nil {
		return fmt.Errorf("creating extraction provider: %w", err)
	}

	publisher := status.NewPublisher()
	runner := pipeline.NewRunner(config, store, publisher, storageClient, provider, logger)

	workers := queue.NewPool(
		queue.ProcessorFunc(func(ctx context.Context, jobID, imageRef string) error {
			_, err := runner.Run(ctx, jobID, imageRef)
			return err
		}),
		logger,
		queue.WithWorkers(config.Worker.Count),
		queue.WithQueueSize(config.Worker.QueueSize),
		queue.WithJobTimeout(time.Duration(config.Worker.JobTimeoutSeconds)*time.Second),
	)

	handler := api.NewHandler(config, store, storageClient, workers, publisher, logger, dbBacked)
	router := handler.SetupRoutes()
	router.HandleFunc("/api/login", auth.LoginHandler).Methods("POST")

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           auth.JWTMiddleware(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting receipt OCR service",
			"version", api.Version,
			"addr", addr,
			"provider", config.AI.Provider,
			"mode", config.AI.Mode,
			"ocr_enabled", config.OCR.Enabled,
			"workers", config.Worker.Count,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := workers.Shutdown(shutdownCtx); err != nil {
		logger.Warn("worker shutdown", "error", err)
	}
	return nil
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}

func loadConfig(path string) (*models.Config, error) {
	var config models.Config

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine: defaults plus environment overrides.
	} else if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables if present
	if port := os.Getenv("PORT"); port != "" {
		fmt.Sscanf(port, "%d", &config.Port)
	}
	if host := os.Getenv("HOST"); host != "" {
		config.Host = host
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.AI.OpenAI.APIKey = apiKey
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.AI.Gemini.APIKey = apiKey
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.AI.Ollama.BaseURL = baseURL
	}
	if provider := os.Getenv("AI_PROVIDER"); provider != "" {
		config.AI.Provider = provider
	}
	if mode := os.Getenv("AI_MODE"); mode != "" {
		config.AI.Mode = mode
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.AI.OpenAI.BaseURL = baseURL
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		config.AI.OpenAI.Model = model
	}
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		config.AI.Gemini.Model = model
	}
	if model := os.Getenv("OLLAMA_MODEL"); model != "" {
		config.AI.Ollama.Model = model
	}

	config.ApplyDefaults()
	return &config, nil
}
