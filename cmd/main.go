package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/petavatar/petavatar/internal/config"
	"github.com/petavatar/petavatar/internal/database"
	"github.com/petavatar/petavatar/internal/generator"
	"github.com/petavatar/petavatar/internal/ingest"
	"github.com/petavatar/petavatar/internal/jobstore"
	"github.com/petavatar/petavatar/internal/queue"
	"github.com/petavatar/petavatar/internal/secrets"
	"github.com/petavatar/petavatar/internal/server"
	"github.com/petavatar/petavatar/internal/storage"
	httpapi "github.com/petavatar/petavatar/internal/transport/http"
	"github.com/petavatar/petavatar/internal/worker"
)

func main() {
	cfg := appconfig.Load()
	slog.Info("starting petavatar", "addr", cfg.HTTPAddr, "workers", cfg.QueueWorkers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store jobstore.Store
	if cfg.StoreMode == "memory" {
		store = jobstore.NewMemoryStore()
		slog.Info("using in-memory job store")
	} else {
		if err := database.Migrate(cfg.DatabaseURL); err != nil {
			slog.Error("failed to migrate database", "err", err)
			os.Exit(1)
		}
		db, err := database.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		store = jobstore.NewPostgresStore(db.Pool())
	}

	storageService, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize storage", "err", err)
		os.Exit(1)
	}
	slog.Info("storage initialized", "mode", cfg.StorageMode)

	var q queue.Queue
	if cfg.RedisURL == "" || cfg.RedisURL == "memory" {
		q = queue.NewMemoryQueue(256, cfg.JobTimeout, 3)
		slog.Info("using in-memory queue")
	} else {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid Redis URL", "err", err)
			os.Exit(1)
		}
		client := redis.NewClient(opt)
		q, err = queue.NewRedisQueue(client, queue.RedisQueueConfig{
			Stream:        cfg.QueueStream,
			Group:         cfg.QueueGroup,
			MaxJobTime:    cfg.JobTimeout,
			ClaimInterval: cfg.ClaimInterval,
			ClaimTimeout:  cfg.ClaimTimeout,
		})
		if err != nil {
			slog.Error("failed to initialize Redis queue", "err", err)
			os.Exit(1)
		}
	}
	defer q.Close()

	var keyProvider secrets.Provider
	if cfg.APIKeySecretARN != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			slog.Error("failed to load AWS config", "err", err)
			os.Exit(1)
		}
		smClient := secretsmanager.NewFromConfig(awsCfg)
		keyProvider = secrets.NewSecretsManager(smClient, cfg.APIKeySecretARN, 5*time.Minute)
		slog.Info("API key sourced from Secrets Manager")
	} else {
		if cfg.APIKey == "" && cfg.APIKeyHash == "" {
			slog.Warn("no API key configured, all authenticated requests will be rejected")
		}
		keyProvider = secrets.NewStatic(cfg.APIKey)
	}

	gen := generator.NewOpenAIGenerator(cfg.OpenAIAPIKey)

	w := worker.New(store, storageService, gen, worker.Config{
		GeneratedBucket: cfg.S3GeneratedBucket,
		MaxAttempts:     cfg.GenerateRetries,
		BaseDelay:       cfg.RetryBaseDelay,
	})
	q.StartConsumers(ctx, cfg.QueueWorkers, w.Handler())

	reaper := jobstore.NewReaper(store, cfg.ReapInterval)
	go reaper.Run(ctx)

	ingestService := ingest.NewService(store, q, storageService, ingest.Config{
		UploadBucket:  cfg.S3UploadBucket,
		MaxUploadSize: cfg.MaxUploadSize,
		Retention:     cfg.JobRetention,
		UploadURLTTL:  cfg.UploadURLTTL,
	})

	handlers := &httpapi.Handlers{
		Ingest:  ingestService,
		Store:   store,
		Storage: storageService,
		Secrets: keyProvider,
		Config:  cfg,
	}
	r := server.NewRouter(handlers)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	slog.Info("shutting down")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
	cancel()
}
