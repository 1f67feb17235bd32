package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	_ "github.com/lib/pq"

	"github.com/ignite/sparkpost-monitor/internal/completion"
	"github.com/ignite/sparkpost-monitor/internal/config"
	"github.com/ignite/sparkpost-monitor/internal/dispatcher"
	"github.com/ignite/sparkpost-monitor/internal/pkg/distlock"
	"github.com/ignite/sparkpost-monitor/internal/providerclient"
	"github.com/ignite/sparkpost-monitor/internal/queue"
	"github.com/ignite/sparkpost-monitor/internal/repository/postgres"
	"github.com/ignite/sparkpost-monitor/internal/service/suppression"
	suppressionstore "github.com/ignite/sparkpost-monitor/internal/suppression"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Postgres.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Postgres.ConnMaxLifeMins) * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("ping database: %v", err)
	}
	log.Println("[worker] connected to database")

	redisClient := redis.NewClient(mustParseRedisURL(cfg.Redis.URL))
	defer redisClient.Close()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}
	log.Println("[worker] connected to redis")

	campaigns := postgres.NewCampaignRepo(db)
	workRecords := postgres.NewWorkRecordRepo(db)
	events := postgres.NewEventRepo(db)
	suppressionRepo := postgres.NewSuppressionRepo(db)

	suppressionBacking := suppressionstore.NewStore(suppressionRepo)
	hydrateCtx, cancelHydrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := suppressionBacking.Hydrate(hydrateCtx); err != nil {
		log.Fatalf("hydrate suppression store: %v", err)
	}
	cancelHydrate()
	suppressionSvc := suppression.NewService(suppressionBacking)
	log.Println("[worker] suppression store hydrated")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go suppressionBacking.Refresh(ctx, 5*time.Minute)

	jobQueue := queue.New(redisClient, "dispatch")
	rateLimiter, err := queue.NewRateLimiter(redisClient, cfg.Dispatch.ProviderPlan)
	if err != nil {
		log.Fatalf("init rate limiter: %v", err)
	}

	provider, err := providerclient.New(ctx, cfg.SES, cfg.Dispatch)
	if err != nil {
		log.Fatalf("init provider client: %v", err)
	}

	monitor := completion.New(campaigns, workRecords, jobQueue)
	sweepLock := distlock.NewLock(redisClient, db, "completion-sweep", cfg.Dispatch.RecoverySweepInterval()*2)
	sweeper := completion.NewSweeper(monitor, campaigns, sweepLock, cfg.Dispatch.RecoverySweepInterval())
	go sweeper.Start(ctx)

	handler := dispatcher.NewHandler(campaigns, suppressionSvc, workRecords, provider, events, campaigns, rateLimiter, cfg.Dispatch.LockTTL())
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	pool := dispatcher.NewPool(handler, jobQueue, workRecords, monitor, cfg.Dispatch.Concurrency, cfg.Dispatch.LockTTL(), hostname)
	pool.Start(ctx)
	log.Printf("[worker] dispatcher pool started (%d workers, plan=%s)", cfg.Dispatch.Concurrency, cfg.Dispatch.ProviderPlan)

	go recoverDueLoop(ctx, jobQueue)

	log.Println("[worker] running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[worker] shutting down")
	cancel()
	pool.Stop()
	time.Sleep(2 * time.Second)
	log.Println("[worker] stopped")
}

// recoverDueLoop periodically requeues delayed jobs whose backoff has
// elapsed, running alongside the dispatcher pool's own lock-recovery sweep.
func recoverDueLoop(ctx context.Context, q *queue.Queue) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := q.RecoverDue(ctx)
			if err != nil {
				log.Printf("[worker] recover due jobs: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[worker] requeued %d jobs past their retry backoff", n)
			}
		}
	}
}

func mustParseRedisURL(rawURL string) *redis.Options {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		log.Fatalf("parse redis url: %v", err)
	}
	return opts
}
