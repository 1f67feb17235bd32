package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/ignite/sparkpost-monitor/internal/api"
	"github.com/ignite/sparkpost-monitor/internal/completion"
	"github.com/ignite/sparkpost-monitor/internal/config"
	"github.com/ignite/sparkpost-monitor/internal/materializer"
	"github.com/ignite/sparkpost-monitor/internal/providerclient"
	"github.com/ignite/sparkpost-monitor/internal/queue"
	"github.com/ignite/sparkpost-monitor/internal/repository/postgres"
	svccampaign "github.com/ignite/sparkpost-monitor/internal/service/campaign"
	"github.com/ignite/sparkpost-monitor/internal/service/suppression"
	suppressionstore "github.com/ignite/sparkpost-monitor/internal/suppression"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := checkPortAvailable(cfg.Server.GetHost(), cfg.Server.Port); err != nil {
		log.Fatal(err)
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
	log.Println("[server] connected to database")

	redisClient := redis.NewClient(mustParseRedisURL(cfg.Redis.URL))
	defer redisClient.Close()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}
	log.Println("[server] connected to redis")

	campaigns := postgres.NewCampaignRepo(db)
	workRecords := postgres.NewWorkRecordRepo(db)
	events := postgres.NewEventRepo(db)
	subscribers := postgres.NewSubscriberRepo(db)
	suppressionRepo := postgres.NewSuppressionRepo(db)

	suppressionBacking := suppressionstore.NewStore(suppressionRepo)
	hydrateCtx, cancelHydrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := suppressionBacking.Hydrate(hydrateCtx); err != nil {
		log.Fatalf("hydrate suppression store: %v", err)
	}
	cancelHydrate()
	suppressionSvc := suppression.NewService(suppressionBacking)
	log.Println("[server] suppression store hydrated")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go suppressionBacking.Refresh(ctx, 5*time.Minute)

	jobQueue := queue.New(redisClient, "dispatch")

	provider, err := providerclient.New(ctx, cfg.SES, cfg.Dispatch)
	if err != nil {
		log.Fatalf("init provider client: %v", err)
	}

	mat := materializer.New(campaigns, subscribers, suppressionBacking, workRecords, jobQueue, cfg.Tracking.BaseURL, cfg.Tracking.Secret)
	mat.SetBackpressure(materializer.NewBackpressure(jobQueue, cfg.Dispatch.BackpressureMaxDepth))

	campaignSvc := svccampaign.NewService(campaigns, mat)
	monitor := completion.New(campaigns, workRecords, jobQueue)

	handlers := api.NewHandlers(
		campaignSvc,
		suppressionSvc,
		subscribers,
		jobQueue,
		workRecords,
		events,
		monitor,
		campaigns,
		cfg.Dispatch.RequestsPerSecond,
	)
	healthChecker := api.NewHealthChecker(db, redisClient, jobQueue, provider)
	router := api.SetupRoutes(handlers, healthChecker)

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("[server] listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	log.Println("[server] running")

	<-quit
	log.Println("[server] shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[server] shutdown error: %v", err)
	}

	log.Println("[server] stopped")
}

func mustParseRedisURL(rawURL string) *redis.Options {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		log.Fatalf("parse redis url: %v", err)
	}
	return opts
}
