// Command server starts the Filecrate API HTTP service.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"filecrate/internal/api"
	"filecrate/internal/auth"
	"filecrate/internal/jobs"
	"filecrate/internal/observability/logging"
	"filecrate/internal/queue"
	"filecrate/internal/redisutil"
	"filecrate/internal/server"
	"filecrate/internal/storage"
)

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", "", "HTTP listen address")
	storageDriver := flag.String("storage-driver", "", "datastore driver (memory or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	redisAddr := flag.String("redis-addr", "", "Redis address for tokens and jobs")
	redisUsername := flag.String("redis-username", "", "Redis username")
	redisPassword := flag.String("redis-password", "", "Redis password")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("FILECRATE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("FILECRATE_LOG_FORMAT")),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listenAddr := firstNonEmpty(*addr, os.Getenv("FILECRATE_ADDR"), ":8080")
	driver := strings.ToLower(firstNonEmpty(*storageDriver, os.Getenv("FILECRATE_STORAGE_DRIVER"), "memory"))

	var store storage.Repository
	switch driver {
	case "postgres":
		dsn := firstNonEmpty(*postgresDSN, os.Getenv("FILECRATE_POSTGRES_DSN"))
		repo, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:             dsn,
			ApplicationName: "filecrate-server",
		})
		if err != nil {
			logger.Error("failed to open postgres repository", "error", err)
			os.Exit(1)
		}
		store = repo
	case "memory":
		store = storage.NewMemoryRepository()
	default:
		logger.Error("unknown storage driver", "driver", driver)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Error("failed to close repository", "error", err)
		}
	}()

	redisConfig := redisutil.ClientConfig{
		Addr:     firstNonEmpty(*redisAddr, os.Getenv("FILECRATE_REDIS_ADDR")),
		Username: firstNonEmpty(*redisUsername, os.Getenv("FILECRATE_REDIS_USERNAME")),
		Password: firstNonEmpty(*redisPassword, os.Getenv("FILECRATE_REDIS_PASSWORD")),
	}

	var tokens auth.TokenStore
	var stopPurger func()
	if redisConfig.Addr != "" {
		redisTokens, err := auth.NewRedisTokenStore(redisConfig)
		if err != nil {
			logger.Error("failed to connect token store", "error", err)
			os.Exit(1)
		}
		defer redisTokens.Close()
		tokens = redisTokens
	} else {
		memoryTokens := auth.NewMemoryTokenStore()
		tokens = memoryTokens
		stopPurger = startTokenPurgeWorker(ctx, logger, memoryTokens, time.Hour)
	}
	if stopPurger != nil {
		defer stopPurger()
	}

	var jobQueue queue.Queue
	var inProcess bool
	if redisConfig.Addr != "" {
		redisQueue, err := queue.NewRedisQueue(queue.RedisQueueConfig{
			Redis:  redisConfig,
			Policy: queue.DefaultRetryPolicy,
			Logger: logging.WithComponent(logger, "queue"),
		})
		if err != nil {
			logger.Error("failed to connect job queue", "error", err)
			os.Exit(1)
		}
		jobQueue = redisQueue
	} else {
		// Without Redis there is no worker process; run the handlers here.
		jobQueue = queue.NewMemoryQueue(queue.DefaultRetryPolicy, logging.WithComponent(logger, "queue"))
		inProcess = true
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := jobQueue.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down job queue", "error", err)
		}
	}()

	if inProcess {
		mailer := jobs.LogSender{Logger: logging.WithComponent(logger, "mailer")}
		if err := jobQueue.Process(queue.QueueThumbnail, jobs.NewThumbnailHandler(store, jobs.ImageResizer{}, logger).Handle); err != nil {
			logger.Error("failed to register thumbnail handler", "error", err)
			os.Exit(1)
		}
		if err := jobQueue.Process(queue.QueueEmail, jobs.NewWelcomeEmailHandler(store, mailer, logger).Handle); err != nil {
			logger.Error("failed to register email handler", "error", err)
			os.Exit(1)
		}
	}

	handler := api.NewHandler(
		store,
		auth.NewCredentialVerifier(store),
		auth.NewSessionIssuer(tokens),
		jobQueue,
		logger,
	)
	srv := server.New(handler, server.Config{
		Addr:   listenAddr,
		Logger: logging.WithComponent(logger, "http"),
	})

	logger.Info("server starting", "addr", listenAddr, "storage", driver)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
