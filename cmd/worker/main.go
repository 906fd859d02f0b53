// Command worker consumes the job queues and runs the thumbnail and welcome
// email handlers.
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

	"filecrate/internal/jobs"
	"filecrate/internal/observability/logging"
	"filecrate/internal/queue"
	"filecrate/internal/redisutil"
	"filecrate/internal/storage"
)

func main() {
	_ = godotenv.Load()

	storageDriver := flag.String("storage-driver", "", "datastore driver (memory or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	redisAddr := flag.String("redis-addr", "", "Redis address for the job queues")
	redisUsername := flag.String("redis-username", "", "Redis username")
	redisPassword := flag.String("redis-password", "", "Redis password")
	smtpAddr := flag.String("smtp-addr", "", "SMTP host:port for outbound mail")
	smtpFrom := flag.String("smtp-from", "", "From address for outbound mail")
	smtpUsername := flag.String("smtp-username", "", "SMTP username")
	smtpPassword := flag.String("smtp-password", "", "SMTP password")
	maxAttempts := flag.Int("max-attempts", 0, "delivery attempts before a job is dead-lettered")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("FILECRATE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("FILECRATE_LOG_FORMAT")),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver := strings.ToLower(firstNonEmpty(*storageDriver, os.Getenv("FILECRATE_STORAGE_DRIVER"), "postgres"))
	var store storage.Repository
	switch driver {
	case "postgres":
		dsn := firstNonEmpty(*postgresDSN, os.Getenv("FILECRATE_POSTGRES_DSN"))
		repo, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:             dsn,
			ApplicationName: "filecrate-worker",
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

	policy := queue.DefaultRetryPolicy
	if *maxAttempts > 0 {
		policy.MaxAttempts = *maxAttempts
	}
	jobQueue, err := queue.NewRedisQueue(queue.RedisQueueConfig{
		Redis: redisutil.ClientConfig{
			Addr:     firstNonEmpty(*redisAddr, os.Getenv("FILECRATE_REDIS_ADDR")),
			Username: firstNonEmpty(*redisUsername, os.Getenv("FILECRATE_REDIS_USERNAME")),
			Password: firstNonEmpty(*redisPassword, os.Getenv("FILECRATE_REDIS_PASSWORD")),
		},
		Policy: policy,
		Logger: logging.WithComponent(logger, "queue"),
	})
	if err != nil {
		logger.Error("failed to connect job queue", "error", err)
		os.Exit(1)
	}

	var mailer jobs.MailSender
	if addr := firstNonEmpty(*smtpAddr, os.Getenv("FILECRATE_SMTP_ADDR")); addr != "" {
		mailer = jobs.SMTPSender{
			Addr:     addr,
			From:     firstNonEmpty(*smtpFrom, os.Getenv("FILECRATE_SMTP_FROM")),
			Username: firstNonEmpty(*smtpUsername, os.Getenv("FILECRATE_SMTP_USERNAME")),
			Password: firstNonEmpty(*smtpPassword, os.Getenv("FILECRATE_SMTP_PASSWORD")),
		}
	} else {
		mailer = jobs.LogSender{Logger: logging.WithComponent(logger, "mailer")}
	}

	thumbnails := jobs.NewThumbnailHandler(store, jobs.ImageResizer{}, logging.WithComponent(logger, "thumbnails"))
	welcome := jobs.NewWelcomeEmailHandler(store, mailer, logging.WithComponent(logger, "welcome"))
	if err := jobQueue.Process(queue.QueueThumbnail, thumbnails.Handle); err != nil {
		logger.Error("failed to register thumbnail handler", "error", err)
		os.Exit(1)
	}
	if err := jobQueue.Process(queue.QueueEmail, welcome.Handle); err != nil {
		logger.Error("failed to register email handler", "error", err)
		os.Exit(1)
	}

	logger.Info("worker started", "queues", []string{queue.QueueThumbnail, queue.QueueEmail})
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := jobQueue.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down job queue", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
