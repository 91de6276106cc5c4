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
	"github.com/redis/go-redis/v9"

	"bookstore/internal/util"
	"bookstore/pkg/catalog"
	"bookstore/pkg/queue"
	"bookstore/pkg/resolver"
	"bookstore/pkg/storage"
	"bookstore/pkg/store"
	"bookstore/services/prefetch/internal/config"
	"bookstore/services/prefetch/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("failed to load .env: %v", err)
	}
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	defer db.Close()

	blobs, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:      cfg.MinioEndpoint,
		AccessKey:     cfg.MinioAccessKey,
		SecretKey:     cfg.MinioSecretKey,
		Bucket:        cfg.MinioBucket,
		UseSSL:        cfg.MinioUseSSL,
		PublicBaseURL: cfg.MinioPublicBaseURL,
	})
	if err != nil {
		log.Fatalf("failed to init blob store: %v", err)
	}

	var volumes resolver.VolumeFetcher
	if !cfg.CatalogDisabled {
		volumes = catalog.NewClient(catalog.Config{
			BaseURL:           cfg.GoogleBooksBaseURL,
			APIKey:            cfg.GoogleBooksAPIKey,
			Timeout:           time.Duration(cfg.GoogleBooksTimeoutSeconds) * time.Second,
			RequestsPerSecond: cfg.GoogleBooksRequestsPerSecond,
		})
	}
	engine, err := resolver.New(resolver.Config{
		Store:      db,
		Catalog:    volumes,
		Blobs:      blobs,
		LocalDir:   cfg.LocalBooksDir,
		ScratchDir: cfg.ScratchDir,
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
		RunTimeout: cfg.ResolveTimeout(),
	})
	if err != nil {
		log.Fatalf("failed to init resolver: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()
	jobs, err := queue.NewRedisJobQueue(redisClient, queue.RedisQueueConfig{
		Stream:     cfg.PrefetchStream,
		Group:      cfg.QueueGroup,
		MaxRetries: cfg.QueueMaxRetries,
		RetryDelay: cfg.RetryDelay(),
	})
	if err != nil {
		log.Fatalf("failed to init queue: %v", err)
	}

	if cfg.Port != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		srv := &http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      util.WithRequestID(util.WithRequestLog("prefetch", mux)),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", "err", err)
			}
		}()
		defer srv.Close()
	}

	slog.Info("prefetch worker started", "stream", cfg.PrefetchStream, "concurrency", cfg.QueueConcurrency)
	jobs.Run(ctx, cfg.QueueConcurrency, worker.Handler(engine, cfg.ResolveTimeout()))
	slog.Info("prefetch worker stopped")
}
