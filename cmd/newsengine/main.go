// Package main wires together the news ingestion service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/finsight/newsengine/internal/api"
	"github.com/finsight/newsengine/internal/clock/system"
	"github.com/finsight/newsengine/internal/config"
	"github.com/finsight/newsengine/internal/discover"
	"github.com/finsight/newsengine/internal/engine"
	"github.com/finsight/newsengine/internal/extract"
	"github.com/finsight/newsengine/internal/fetcher"
	feedreader "github.com/finsight/newsengine/internal/fetcher/feed"
	"github.com/finsight/newsengine/internal/fetcher/headless"
	"github.com/finsight/newsengine/internal/fetcher/probe"
	"github.com/finsight/newsengine/internal/hash/sha256"
	"github.com/finsight/newsengine/internal/id/uuid"
	"github.com/finsight/newsengine/internal/logging"
	"github.com/finsight/newsengine/internal/pipeline"
	"github.com/finsight/newsengine/internal/policy/ratelimit"
	"github.com/finsight/newsengine/internal/progress"
	"github.com/finsight/newsengine/internal/progress/sinks"
	"github.com/finsight/newsengine/internal/scheduler"
	memorystorage "github.com/finsight/newsengine/internal/storage/memory"
	"github.com/finsight/newsengine/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()
	hasher := sha256.New()
	idGen := uuid.New()

	// stores
	var (
		sourceStore  engine.SourceStore
		articleStore engine.ArticleStore
		cacheStore   engine.CacheStore
		logStore     engine.LogStore
		pool         *pgxpool.Pool
		dbReady      func(context.Context) error
	)
	switch cfg.DB.Provider {
	case "postgres":
		var err error
		pool, err = postgres.NewPool(ctx, postgres.PoolConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		if sourceStore, err = postgres.NewSourceStore(pool); err != nil {
			return err
		}
		if articleStore, err = postgres.NewArticleStore(pool); err != nil {
			return err
		}
		if cacheStore, err = postgres.NewCacheStore(pool); err != nil {
			return err
		}
		if logStore, err = postgres.NewLogStore(pool); err != nil {
			return err
		}
		dbReady = pool.Ping
	case "memory":
		store := memorystorage.New(clock)
		sourceStore, articleStore, logStore = store, store, store
		cacheStore = store.Cache()
	default:
		return fmt.Errorf("unknown db provider %q", cfg.DB.Provider)
	}

	// fetch tiers
	limiter := ratelimit.New(cfg.Fetch.PerDomainRPS, cfg.Fetch.PerDomainBurst)
	probeFetcher := probe.New(cfg.Fetch.UserAgent, cfg.FetchTimeout(), cfg.Fetch.MinContentChars, logger)
	headlessFetcher := headless.New(headless.Options{
		NavTimeout:       cfg.NavTimeout(),
		SettleMin:        time.Duration(cfg.Headless.SettleMinMs) * time.Millisecond,
		SettleMax:        time.Duration(cfg.Headless.SettleMaxMs) * time.Millisecond,
		SimulateBehavior: cfg.Headless.SimulateBehavior,
		MinContentChars:  cfg.Headless.MinContentChars,
		BackoffMin:       time.Duration(cfg.Headless.RetryBackoffMinMs) * time.Millisecond,
		BackoffMax:       time.Duration(cfg.Headless.RetryBackoffMaxMs) * time.Millisecond,
		Proxies:          cfg.Headless.Proxies,
	}, logger)
	tiered := fetcher.NewTiered(probeFetcher, headlessFetcher, limiter, logger)
	feeds := feedreader.New(cfg.Fetch.UserAgent, logger)

	// extraction
	inference := extract.NewClient(extract.ClientConfig{
		Host:    cfg.Inference.Host,
		Timeout: cfg.InferenceTimeout(),
	}, logger)
	gateway := extract.NewGateway(inference, cacheStore, extract.Models{
		Analysis:      cfg.Inference.AnalysisModel,
		Entities:      cfg.Inference.EntityModel,
		LinkExtractor: cfg.Inference.LinkExtractorModel,
	}, clock, logger)
	transcripts := extract.NewTranscriptClient(extract.TranscriptConfig{
		Host:    cfg.Inference.Host,
		Model:   cfg.Inference.TranscriptModel,
		Timeout: cfg.InferenceTimeout(),
	}, logger)
	discoverer := discover.New(gateway, logger)

	// progress fan-out
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	hubSinks := []progress.Sink{sinks.NewLogSink(logger), promSink}
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		psSink, err := sinks.NewPubSubSink(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName, logger)
		if err != nil {
			return fmt.Errorf("pubsub sink: %w", err)
		}
		hubSinks = append(hubSinks, psSink)
	}
	hub := progress.NewHub(progress.Config{Logger: logger}, hubSinks...)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close", zap.Error(err))
		}
	}()

	runner, err := pipeline.NewRunner(pipeline.Deps{
		Fetcher:     tiered,
		FeedReader:  feeds,
		Transcripts: transcripts,
		Discoverer:  discoverer,
		Extractor:   gateway,
		Hasher:      hasher,
		Clock:       clock,
		Sources:     sourceStore,
		Articles:    articleStore,
		Logs:        logStore,
		IDs:         idGen,
		Emitter:     hub,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	governor, err := scheduler.New(scheduler.Config{
		MaxConcurrentRuns:    cfg.Scheduler.MaxConcurrentRuns,
		AutoDisableThreshold: cfg.Scheduler.AutoDisableThreshold,
	}, runner, sourceStore, clock, logger)
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}
	governor.SetGlobalPause(cfg.Scheduler.GlobalPause)
	if cfg.Scheduler.RetentionDays > 0 {
		retention := time.Duration(cfg.Scheduler.RetentionDays) * 24 * time.Hour
		sweep := scheduler.RetentionSweep(articleStore, cacheStore, clock, retention, logger)
		if err := governor.AddMaintenance("retention", cfg.Scheduler.CleanupCron, sweep); err != nil {
			return fmt.Errorf("register retention sweep: %w", err)
		}
	}

	// readiness covers both downstreams: the database and the
	// inference service the extraction stages depend on
	readiness := func(ctx context.Context) error {
		if dbReady != nil {
			if err := dbReady(ctx); err != nil {
				return fmt.Errorf("database unreachable: %w", err)
			}
		}
		if !inference.Healthy(ctx) {
			return fmt.Errorf("inference service unreachable at %s", cfg.Inference.Host)
		}
		return nil
	}

	apiServer := api.NewServer(runner, governor, sourceStore, articleStore, registry, readiness, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	schedDone := make(chan error, 1)
	go func() {
		schedDone <- governor.Start(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := <-schedDone; err != nil {
		logger.Error("scheduler exited with error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
