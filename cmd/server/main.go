package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inputhaven/inputhaven/internal/api"
	"github.com/inputhaven/inputhaven/internal/config"
	"github.com/inputhaven/inputhaven/internal/dispatch"
	"github.com/inputhaven/inputhaven/internal/pkg/distlock"
	"github.com/inputhaven/inputhaven/internal/pkg/logger"
	"github.com/inputhaven/inputhaven/internal/quota"
	"github.com/inputhaven/inputhaven/internal/ratelimit"
	"github.com/inputhaven/inputhaven/internal/spam"
	"github.com/inputhaven/inputhaven/internal/storage"
)

// retrySweepInterval is the built-in email retry cadence. An external cron
// hitting /api/cron/retry-emails can run sweeps more aggressively; this
// ticker is the floor so retries happen even with no cron configured.
const retrySweepInterval = 5 * time.Minute

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := storage.Open(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	// Redis backs rate limiting and quota counters. The service runs without
	// it: limits degrade to per-instance, quota to direct DB counts.
	redisClient := connectRedis(cfg.Redis.URL)

	var primarySubmit, primaryAPI ratelimit.Limiter
	if redisClient != nil {
		primarySubmit = ratelimit.NewRedisLimiter(redisClient, "submit", ratelimit.SubmissionWindow)
		primaryAPI = ratelimit.NewRedisLimiter(redisClient, "api", ratelimit.APIWindow)
	}
	submitLimiter := ratelimit.NewFallbackLimiter(primarySubmit, ratelimit.NewMemoryLimiter(ratelimit.SubmissionWindow))
	apiLimiter := ratelimit.NewFallbackLimiter(primaryAPI, ratelimit.NewMemoryLimiter(ratelimit.APIWindow))

	accountant := quota.New(redisClient, store)

	var aiChecker spam.AIChecker
	if cfg.AISpam.Enabled {
		checker, err := spam.NewBedrockChecker(cfg.AISpam.Region, cfg.AISpam.ModelID,
			time.Duration(cfg.AISpam.TimeoutSeconds)*time.Second)
		if err != nil {
			logger.Warn("AI spam checker unavailable", "error", err.Error())
		} else {
			aiChecker = checker
		}
	}
	classifier := spam.NewClassifier(aiChecker)

	sender, err := dispatch.NewSESSender(cfg.Email.From, cfg.Email.AccessKey,
		cfg.Email.SecretKey, cfg.Email.Region,
		time.Duration(cfg.Email.TimeoutSeconds)*time.Second)
	if err != nil {
		log.Fatalf("Failed to initialize email sender: %v", err)
	}

	emails := dispatch.NewEmailDispatcher(store, sender, dispatch.NewTemplates())
	webhooks := dispatch.NewWebhookDispatcher(store)

	var files api.FileUploader
	if cfg.Storage.Bucket != "" {
		fileStore, err := storage.NewFileStore(cfg.Storage.Bucket, cfg.Storage.Region)
		if err != nil {
			logger.Warn("file store unavailable, uploads disabled", "error", err.Error())
		} else {
			files = fileStore
		}
	}

	server := api.NewServer(api.Options{
		Store:      store,
		Limiter:    submitLimiter,
		APILimiter: apiLimiter,
		Quota:      accountant,
		Classifier: classifier,
		Emails:     emails,
		Webhooks:   webhooks,
		Files:      files,
		BaseURL:    cfg.App.BaseURL,
		CronSecret: cfg.Cron.Secret,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sweepLock := distlock.New(redisClient, store.DB(), "email-retry-sweep", retrySweepInterval)
	go runRetrySweep(ctx, emails, sweepLock)

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil {
			logger.Error("server stopped", "error", err.Error())
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info("shutting down", "signal", s.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err.Error())
	}
}

// connectRedis returns nil when Redis is unconfigured or unreachable; the
// callers all have defined degraded modes for that.
func connectRedis(url string) *redis.Client {
	if url == "" {
		logger.Warn("redis not configured, using per-instance rate limits and DB quota counts")
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		logger.Warn("invalid redis URL, continuing without redis", "error", err.Error())
		return nil
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable at startup, continuing without redis", "error", err.Error())
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}

// runRetrySweep runs the periodic email retry sweep. The distributed lock
// keeps multiple instances from double-sending the same queued email; a sweep
// that loses the race just waits for the next tick.
func runRetrySweep(ctx context.Context, emails *dispatch.EmailDispatcher, lock distlock.Lock) {
	ticker := time.NewTicker(retrySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			acquired, err := lock.TryAcquire(ctx)
			if err != nil {
				logger.Error("sweep lock error", "error", err.Error())
				continue
			}
			if !acquired {
				continue
			}
			retried, failed, err := emails.RetryDue(ctx)
			if releaseErr := lock.Release(ctx); releaseErr != nil {
				logger.Warn("sweep lock release failed", "error", releaseErr.Error())
			}
			if err != nil {
				logger.Error("email retry sweep failed", "error", err.Error())
				continue
			}
			if retried > 0 || failed > 0 {
				logger.Info("email retry sweep", "retried", retried, "failed", failed)
			}
		}
	}
}
