// Package fetcher wraps the remote search call with bounded exponential
// backoff so the query loop never sees transient failures.
package fetcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/podcast-catalog-crawler/internal/crawler"
)

// Defaults applied by New.
const (
	DefaultCallTimeout  = 30 * time.Second
	DefaultMaxRetryWait = time.Minute
)

// Config controls RetryingFetcher behavior.
//   - CallTimeout: per-attempt deadline; a timeout counts as a retryable failure.
//   - LimiterKey: token bucket key passed to the Limiter.
//   - MaxRetryWait: ceiling on a server-supplied Retry-After hint (default 1m).
//   - OnRetry: optional hook invoked before each backoff sleep.
type Config struct {
	CallTimeout  time.Duration
	LimiterKey   string
	MaxRetryWait time.Duration
	OnRetry      func(query crawler.Query, offset, attempt int, wait time.Duration, err error)
}

// RetryingFetcher implements crawler.Fetcher over a crawler.SearchClient.
type RetryingFetcher struct {
	client  crawler.SearchClient
	policy  crawler.RetryPolicy
	limiter crawler.Limiter
	cfg     Config
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New constructs a RetryingFetcher. limiter may be nil.
func New(
	client crawler.SearchClient,
	policy crawler.RetryPolicy,
	limiter crawler.Limiter,
	cfg Config,
	logger *zap.Logger,
) *RetryingFetcher {
	if policy == nil {
		policy = crawler.NewExponentialRetryPolicy(crawler.RetryConfig{})
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.MaxRetryWait <= 0 {
		cfg.MaxRetryWait = DefaultMaxRetryWait
	}
	if cfg.LimiterKey == "" {
		cfg.LimiterKey = "search"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingFetcher{
		client:  client,
		policy:  policy,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// Fetch retrieves one page. Transient failures are retried per the policy;
// once retries run out an *crawler.UnrecoverableFetchError is returned. If ctx
// is canceled while waiting, the error wraps crawler.ErrInterrupted. An
// in-flight call is allowed to finish even after ctx is canceled.
func (f *RetryingFetcher) Fetch(ctx context.Context, query crawler.Query, offset, limit int) (crawler.Page, error) {
	req := crawler.SearchRequest{Query: query, Offset: offset, Limit: limit}
	for attempt := 1; ; attempt++ {
		if err := f.wait(ctx); err != nil {
			return crawler.Page{}, f.interrupted(query, offset, err)
		}
		f.logger.Debug("fetching page",
			zap.String("query", query.String()),
			zap.Int("offset", offset),
			zap.Int("attempt", attempt),
		)
		page, err := f.call(ctx, req)
		if err == nil {
			return page, nil
		}
		if ctx.Err() != nil {
			return crawler.Page{}, f.interrupted(query, offset, ctx.Err())
		}
		if !f.policy.ShouldRetry(err, attempt) {
			return crawler.Page{}, &crawler.UnrecoverableFetchError{
				Query:    query,
				Offset:   offset,
				Attempts: attempt,
				Err:      err,
			}
		}
		wait := max(f.policy.Backoff(attempt), min(crawler.RetryDelayHint(err), f.cfg.MaxRetryWait))
		f.logger.Warn("fetch failed, backing off",
			zap.String("query", query.String()),
			zap.Int("offset", offset),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if f.cfg.OnRetry != nil {
			f.cfg.OnRetry(query, offset, attempt, wait, err)
		}
		if err := f.sleep(ctx, wait); err != nil {
			return crawler.Page{}, f.interrupted(query, offset, err)
		}
	}
}

func (f *RetryingFetcher) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.limiter == nil {
		return nil
	}
	if err := f.limiter.Wait(ctx, f.cfg.LimiterKey); err != nil {
		return fmt.Errorf("limiter: %w", err)
	}
	return nil
}

func (f *RetryingFetcher) call(ctx context.Context, req crawler.SearchRequest) (crawler.Page, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.cfg.CallTimeout)
	defer cancel()

	page, err := f.client.Search(callCtx, req)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("search: %w", err)
	}
	page.Query = req.Query
	page.Offset = req.Offset
	return page, nil
}

func (f *RetryingFetcher) interrupted(query crawler.Query, offset int, cause error) error {
	return fmt.Errorf("fetch %q at offset %d: %w: %w", query, offset, crawler.ErrInterrupted, cause)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
