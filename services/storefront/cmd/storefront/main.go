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

	"bookstore/internal/ratelimit"
	"bookstore/internal/usertoken"
	"bookstore/internal/util"
	"bookstore/pkg/catalog"
	"bookstore/pkg/payment"
	"bookstore/pkg/queue"
	"bookstore/pkg/resolver"
	"bookstore/pkg/storage"
	"bookstore/pkg/store"
	"bookstore/services/storefront/internal/app"
	"bookstore/services/storefront/internal/config"
	"bookstore/services/storefront/internal/server"
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

	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}
	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

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

	var (
		books   app.Catalog
		volumes resolver.VolumeFetcher
	)
	if !cfg.CatalogDisabled {
		client := catalog.NewClient(catalog.Config{
			BaseURL:           cfg.GoogleBooksBaseURL,
			APIKey:            cfg.GoogleBooksAPIKey,
			Timeout:           cfg.GoogleBooksTimeout(),
			MaxResults:        cfg.GoogleBooksMaxResults,
			RequestsPerSecond: cfg.GoogleBooksRequestsPerSecond,
			SearchPriceCents:  cfg.ImportPriceCents,
		})
		books, volumes = client, client
	}

	engine, err := resolver.New(resolver.Config{
		Store:      db,
		Catalog:    volumes,
		Blobs:      blobs,
		LocalDir:   cfg.LocalBooksDir,
		ScratchDir: cfg.ScratchDir,
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
	})
	if err != nil {
		log.Fatalf("failed to init resolver: %v", err)
	}

	// Without Redis the search limit is per process and prefetch is off.
	var (
		searchLimiter ratelimit.Limiter
		prefetch      app.Prefetcher
	)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
		limiter, err := ratelimit.NewRedisSlidingWindow(redisClient, "bookstore:ratelimit", cfg.SearchRateLimitPerHour, time.Hour)
		if err != nil {
			log.Fatalf("failed to init search limiter: %v", err)
		}
		jobs, err := queue.NewRedisJobQueue(redisClient, queue.RedisQueueConfig{Stream: cfg.PrefetchStream})
		if err != nil {
			log.Fatalf("failed to init prefetch queue: %v", err)
		}
		searchLimiter, prefetch = limiter, jobs
	} else {
		limiter, err := ratelimit.NewMemorySlidingWindow(cfg.SearchRateLimitPerHour, time.Hour)
		if err != nil {
			log.Fatalf("failed to init search limiter: %v", err)
		}
		go limiter.RunSweeper(ctx, 10*time.Minute)
		searchLimiter = limiter
		logger.Warn("redis not configured; using in-process search limiter without prefetch")
	}

	payments, err := payment.NewStripeProvider(payment.StripeConfig{
		SecretKey:  cfg.StripeSecretKey,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	})
	if err != nil {
		log.Fatalf("failed to init payments: %v", err)
	}

	tokenVerifier, err := usertoken.NewVerifier(ctx, usertoken.Config{
		JWKSURL:    cfg.AuthJWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     jwtLeeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		log.Fatalf("failed to init jwks verifier: %v", err)
	}

	appCore, err := app.New(app.Config{
		Store:            db,
		Blobs:            blobs,
		Resolver:         engine,
		Payments:         payments,
		Catalog:          books,
		Prefetch:         prefetch,
		HTTPClient:       &http.Client{},
		PublicBaseURL:    cfg.PublicBaseURL,
		ImportPriceCents: cfg.ImportPriceCents,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		TokenVerifier:  tokenVerifier,
		SearchLimiter:  searchLimiter,
		TrustedProxies: trustedProxies,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		// Downloads stream whole books; no write deadline.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "err", err)
		}
	}()

	slog.Info("storefront server listening", "addr", addr, "catalog", !cfg.CatalogDisabled)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
