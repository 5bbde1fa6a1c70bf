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

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/podcast-catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/config"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/crawler"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/dispatcher"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/fetcher"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/logging"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/metrics"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/progress"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/progress/sinks"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/query"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/spotify"
	memorystore "github.com/JakeFAU/podcast-catalog-crawler/internal/storage/memory"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/storage/postgres"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := 0
	if _, err := run(ctx, cfg, logger, prometheus.DefaultRegisterer); err != nil {
		switch {
		case errors.Is(err, crawler.ErrInterrupted):
			logger.Warn("crawl interrupted; unfinished queries will resume on the next run")
		default:
			logger.Error("crawl failed", zap.Error(err))
			code = 1
		}
	}
	stop()
	_ = logger.Sync()
	os.Exit(code)
}

// run wires every component from cfg and performs one crawl.
func run(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (dispatcher.Summary, error) {
	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return dispatcher.Summary{}, err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close store failed", zap.Error(err))
		}
	}()
	if err := store.Initialize(ctx); err != nil {
		return dispatcher.Summary{}, fmt.Errorf("initialize store: %w", err)
	}

	if cfg.Metrics.Addr != "" {
		srv := metrics.NewServer(cfg.Metrics.Addr, func(ctx context.Context) error {
			_, err := store.CountRecords(ctx)
			return err
		}, logger.Named("metrics"))
		if _, err := srv.Start(); err != nil {
			return dispatcher.Summary{}, err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics shutdown failed", zap.Error(err))
			}
		}()
	}

	// Token refreshes must keep working while a drain finishes in-flight pages.
	client, err := spotify.New(context.WithoutCancel(ctx), spotify.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		TokenURL:     cfg.Spotify.TokenURL,
		BaseURL:      cfg.Spotify.BaseURL,
		Market:       cfg.Spotify.Market,
		ItemType:     cfg.Spotify.ItemType,
		HTTPClient:   &http.Client{Transport: metrics.InstrumentTransport(nil)},
	})
	if err != nil {
		return dispatcher.Summary{}, fmt.Errorf("build search client: %w", err)
	}

	runUUID, err := uuid.New().NewRunID()
	if err != nil {
		return dispatcher.Summary{}, err
	}
	runID := progress.UUIDToBytes(runUUID)
	logger = logger.With(zap.String("run_id", runUUID.String()))

	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return dispatcher.Summary{}, err
	}
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")), promSink)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
	}()

	clock := system.New()
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.HTTP.RequestsPerSecond,
		DefaultBurst: cfg.HTTP.Burst,
		Observe:      metrics.ObserveRateLimitDelay,
	})
	pageFetcher := fetcher.New(
		client,
		crawler.NewExponentialRetryPolicy(cfg.RetryConfig()),
		limiter,
		fetcher.Config{
			CallTimeout:  cfg.CallTimeout(),
			MaxRetryWait: cfg.RetryConfig().MaxDelay,
			OnRetry: func(q crawler.Query, offset, attempt int, wait time.Duration, err error) {
				hub.Emit(progress.Event{
					RunID:   runID,
					TS:      clock.Now(),
					Stage:   progress.StageFetchRetry,
					Query:   q.String(),
					Offset:  offset,
					Attempt: attempt,
					Wait:    wait,
					Note:    err.Error(),
				})
			},
		},
		logger.Named("fetcher"),
	)
	processor := worker.NewProcessor(pageFetcher, store, hub, clock, worker.ProcessorConfig{
		PageSize:      cfg.Crawler.PageSize,
		MaxOffset:     cfg.Crawler.MaxOffset,
		Market:        client.Market(),
		ResumePartial: cfg.Crawler.ResumePartial,
		RunID:         runID,
	}, logger.Named("processor"))
	orchestrator := dispatcher.New(store, processor, hub, clock, dispatcher.Config{
		Workers:            cfg.Crawler.Concurrency,
		QueueDepth:         cfg.Crawler.QueueDepth,
		MaxStorageFailures: cfg.Crawler.MaxStorageFailures,
		RunID:              runID,
	}, logger.Named("dispatcher"))

	queries, err := query.NewEnumerator(cfg.Crawler.Alphabet, cfg.Crawler.QueryLength).Generate()
	if err != nil {
		return dispatcher.Summary{}, fmt.Errorf("enumerate queries: %w", err)
	}
	summary, runErr := orchestrator.Run(ctx, queries)

	fields := []zap.Field{zap.Int("records_written", summary.Records)}
	if stored, err := store.CountRecords(context.WithoutCancel(ctx)); err == nil {
		fields = append(fields, zap.Int("records_stored", stored))
	}
	logger.Info("crawl total", fields...)
	return summary, runErr
}

func openStore(ctx context.Context, cfg config.StoreConfig) (crawler.RecordStore, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case config.DriverPostgres:
		store, err := postgres.NewRecordStore(ctx, postgres.Config{
			DSN:      cfg.DSN,
			MaxConns: int32(cfg.MaxConns), //nolint:gosec // small pool sizes
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	case config.DriverMemory:
		return memorystore.NewRecordStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
