package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/restyle-app/server/internal/adapter/repo"
	"github.com/restyle-app/server/internal/imagefetch"
	"github.com/restyle-app/server/internal/infra"
	"github.com/restyle-app/server/internal/infra/credentials"
	"github.com/restyle-app/server/internal/ledger"
	"github.com/restyle-app/server/internal/providers/genai"
	"github.com/restyle-app/server/internal/queue"
	"github.com/restyle-app/server/internal/storage"
	"github.com/restyle-app/server/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)

	store, err := buildStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: storage configuration failed")
	}

	geminiAPIKey := strings.TrimSpace(cfg.GeminiAPIKey)
	if geminiAPIKey == "" {
		credStore := credentials.NewStore(runner)
		keyFromStore, err := credStore.GeminiAPIKey(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("worker: failed to load gemini api key from store")
		} else {
			geminiAPIKey = keyFromStore
		}
	}
	if geminiAPIKey == "" {
		logger.Fatal().Msg("worker: gemini api key is not configured")
	}

	generator, err := genai.NewClient(genai.Options{
		APIKey:  geminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: genai client configuration failed")
	}

	jobs := repo.NewJobRepository(pool)
	stocks := repo.NewStockImageRepository(pool)
	generated := repo.NewGeneratedImageRepository(pool)
	credits := ledger.NewService(pool, logger)

	resolver := imagefetch.NewResolver(imagefetch.Options{
		Store:    store,
		Stocks:   stocks,
		Logger:   &logger,
		MaxBytes: cfg.MaxSourceImageBytes,
	})

	processor := worker.NewProcessor(worker.ProcessorOptions{
		Jobs:         jobs,
		Generated:    generated,
		Ledger:       credits,
		Resolver:     resolver,
		Generator:    generator,
		Store:        store,
		Logger:       &logger,
		StaleTimeout: cfg.StaleTimeout,
		MaxAttempts:  cfg.MaxAttempts,
	})

	w := worker.New(worker.Options{
		Queue:             queue.New(runner, cfg.QueueName),
		Processor:         processor,
		Logger:            &logger,
		PollInterval:      cfg.PollInterval,
		VisibilityTimeout: cfg.VisibilityTimeout,
		ReadBatchSize:     cfg.ReadBatchSize,
		Concurrency:       cfg.WorkerCount,
		MaxQueueAge:       cfg.MaxQueueAge,
	})

	// Wake listener: the API fires a POST here after each enqueue.
	mux := http.NewServeMux()
	mux.HandleFunc("POST /internal/wake", worker.WakeHandler(w))
	wakeServer := &http.Server{
		Addr:              cfg.WorkerWakeAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.WorkerWakeAddr).Msg("worker: wake listener started")
		if err := wakeServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("worker: wake listener failed")
		}
	}()

	logger.Info().
		Int("concurrency", cfg.WorkerCount).
		Dur("poll_interval", cfg.PollInterval).
		Msg("worker: started")
	w.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wakeServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("worker: wake listener shutdown failed")
	}
	logger.Info().Msg("worker: stopped")
}

func buildStore(cfg *infra.Config) (storage.Store, error) {
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		return storage.NewS3Store(storage.S3Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
		})
	}
	return storage.NewFileStore(cfg.StoragePath, cfg.S3PublicBaseURL)
}
