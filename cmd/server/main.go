package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"kanban/internal/config"
	"kanban/internal/lifecycle"
	"kanban/internal/logger"
	"kanban/internal/queue"
	"kanban/internal/queuerisk"
	"kanban/internal/repository"
	"kanban/internal/router"
	rediskey "kanban/pkg/redis"

	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat, "kanban-lifecycle")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	// 1. SQLite with migrations
	db, err := repository.Open(cfg.DBPath)
	if err != nil {
		zl.Fatal("db", zap.Error(err))
	}
	repo := repository.NewCardRepository(db)

	// 2. Redis: scan claims, rate limit, outbox stream, scheduler lock
	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		zl.Warn("redis unreachable at startup, scans fall back to the ledger", zap.Error(err))
	}
	cancelPing()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Event sink: stream outbox relayed to Kafka, or Kafka directly
	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	var wg sync.WaitGroup
	goRun := func(f func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(ctx)
		}()
	}

	var pub queue.Publisher = producer
	if cfg.EventSink == config.SinkStream {
		pub = queue.NewStreamPublisher(rdb, cfg.EventStream)
		relay := queue.NewRelay(rdb, producer, cfg.EventStream, cfg.EventGroup, cfg.EventConsumer, zl.Named("relay"))
		goRun(relay.Run)
	}

	consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, db, zl.Named("consumer"))
	defer consumer.Close()
	goRun(consumer.Run)

	// 4. Domain services
	orch := lifecycle.NewOrchestrator(repo, pub, zl.Named("lifecycle"))
	claims := rediskey.NewClaimStore(rdb, cfg.ScanClaimTTL)
	scans := lifecycle.NewScanService(orch, repo, claims, pub, zl.Named("scan"))
	risk := queuerisk.NewScanner(repo, pub, zl.Named("queue_risk"))

	scheduler := queuerisk.NewScheduler(risk, repo, redislock.New(rdb),
		cfg.RiskScanInterval, cfg.RiskScanLockTTL, cfg.RiskScanLimit, zl.Named("queue_risk_scheduler"))
	goRun(scheduler.Run)

	// 5. HTTP
	r := gin.New()
	r.Use(gin.Recovery())
	router.Setup(r, router.Deps{
		Orchestrator: orch,
		Scans:        scans,
		Risk:         risk,
		Cards:        repo,
		RDB:          rdb,
		Config:       cfg,
		Log:          zl.Named("http"),
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		zl.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("event_sink", cfg.EventSink))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error("http server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("http shutdown", zap.Error(err))
	}
	wg.Wait()
}
