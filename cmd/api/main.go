package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/restyle-app/server/internal/adapter/repo"
	"github.com/restyle-app/server/internal/http/handlers"
	"github.com/restyle-app/server/internal/http/httpapi"
	"github.com/restyle-app/server/internal/infra"
	"github.com/restyle-app/server/internal/ledger"
	"github.com/restyle-app/server/internal/queue"
	"github.com/restyle-app/server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: db connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)

	store, err := buildStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: storage configuration failed")
	}

	app := &handlers.App{
		Jobs:           repo.NewJobRepository(pool),
		Stocks:         repo.NewStockImageRepository(pool),
		Credits:        ledger.NewService(pool, logger),
		Queue:          queue.New(runner, cfg.QueueName),
		Store:          store,
		Logger:         &logger,
		WorkerWakeURL:  cfg.WorkerWakeURL,
		MaxSourceBytes: cfg.MaxSourceImageBytes,
	}

	router := httpapi.NewRouter(app, cfg, &logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("api: listening")
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: shutdown failed")
	}
	logger.Info().Msg("api: stopped")
}

// buildStore picks object storage when credentials are configured and falls
// back to the local filesystem for development.
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
