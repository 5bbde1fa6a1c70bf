// Package dispatcher runs a crawl: it filters out completed queries, fans the
// rest out to a fixed pool of workers over a bounded backlog, and totals the
// results.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/podcast-catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/crawler"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/progress"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/queue/memory"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/worker"
)

// Defaults applied by New.
const (
	DefaultQueueDepth         = 64
	DefaultMaxStorageFailures = 10
)

// Config controls the Orchestrator.
//   - Workers: pool size (default 5).
//   - QueueDepth: backlog capacity between the filter and the workers (default 64).
//   - MaxStorageFailures: consecutive storage failures tolerated before the run
//     is aborted with crawler.ErrStorageOutage (default 10; negative disables).
//   - RunID: stamped on run-level progress events.
//   - NewQueue: backlog constructor; defaults to the in-memory queue.
type Config struct {
	Workers            int
	QueueDepth         int
	MaxStorageFailures int
	RunID              [16]byte
	NewQueue           func(capacity int) crawler.Queue
}

// Summary totals one Run.
type Summary struct {
	// Records is the number of records written across all processed queries.
	Records int
	// Queries is the size of the input query list.
	Queries int
	// Skipped counts queries already complete in the ledger.
	Skipped int
	// Dispatched counts queries handed to the worker pool.
	Dispatched int
	// Completed counts queries that paginated to the end.
	Completed int
	// FetchFailed counts queries cut short by an unrecoverable fetch error.
	FetchFailed int
	// StorageFailed counts queries abandoned after a storage failure.
	StorageFailed int
	// Interrupted counts queries stopped by a graceful drain.
	Interrupted int
	Duration    time.Duration
}

// Orchestrator is the crawl coordinator.
type Orchestrator struct {
	store     crawler.RecordStore
	processor worker.QueryProcessor
	events    progress.Emitter
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Orchestrator. events, clock and logger may be nil.
func New(
	store crawler.RecordStore,
	processor worker.QueryProcessor,
	events progress.Emitter,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = crawler.DefaultWorkers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.MaxStorageFailures == 0 {
		cfg.MaxStorageFailures = DefaultMaxStorageFailures
	}
	if cfg.NewQueue == nil {
		cfg.NewQueue = func(capacity int) crawler.Queue { return memory.NewQueue(capacity) }
	}
	if events == nil {
		events = progress.Nop{}
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     store,
		processor: processor,
		events:    events,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run processes every query not yet complete and returns the totals once all
// workers have finished. Queries complete in any order.
//
// Canceling ctx drains the run: no further queries are dispatched, in-flight
// queries finish their current page, and the returned error wraps
// crawler.ErrInterrupted. Too many consecutive storage failures abort the run
// the same way, with an error wrapping crawler.ErrStorageOutage.
func (o *Orchestrator) Run(ctx context.Context, queries []crawler.Query) (Summary, error) {
	start := o.clock.Now()
	o.emit(progress.Event{Stage: progress.StageRunStart})
	o.logger.Info("crawl starting",
		zap.Int("queries", len(queries)),
		zap.Int("workers", o.cfg.Workers),
	)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	t := &tally{max: o.cfg.MaxStorageFailures, abort: cancel, logger: o.logger}
	t.sum.Queries = len(queries)

	backlog := o.cfg.NewQueue(o.cfg.QueueDepth)
	var wg sync.WaitGroup
	for i := range o.cfg.Workers {
		w := worker.New(i+1, backlog, o.processor, t.record, o.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(runCtx)
		}()
	}

	skipped, dispatched := o.dispatch(runCtx, backlog, queries)
	backlog.Close()
	wg.Wait()

	sum := t.summary()
	sum.Skipped = skipped
	sum.Dispatched = dispatched
	sum.Duration = system.Elapsed(o.clock, start)
	o.emit(progress.Event{Stage: progress.StageRunDone, Records: sum.Records, Dur: sum.Duration})
	o.logger.Info("crawl finished",
		zap.Int("records", sum.Records),
		zap.Int("skipped", sum.Skipped),
		zap.Int("completed", sum.Completed),
		zap.Int("fetch_failed", sum.FetchFailed),
		zap.Int("storage_failed", sum.StorageFailed),
		zap.Int("interrupted", sum.Interrupted),
		zap.Duration("dur", sum.Duration),
	)

	if cause := context.Cause(runCtx); errors.Is(cause, crawler.ErrStorageOutage) {
		return sum, cause
	}
	if err := ctx.Err(); err != nil {
		return sum, fmt.Errorf("crawl: %w: %w", crawler.ErrInterrupted, err)
	}
	return sum, nil
}

// dispatch enqueues every query whose ledger entry is not complete. A failed
// completion check is treated as not complete.
func (o *Orchestrator) dispatch(ctx context.Context, backlog crawler.Queue, queries []crawler.Query) (skipped, dispatched int) {
	for i, query := range queries {
		if ctx.Err() != nil {
			return skipped, dispatched
		}
		done, err := o.store.IsComplete(ctx, query)
		if err != nil {
			o.logger.Warn("completion check failed; dispatching query",
				zap.String("query", query.String()),
				zap.Error(err),
			)
		}
		if done {
			skipped++
			o.emit(progress.Event{Stage: progress.StageQuerySkipped, Query: query.String()})
			continue
		}
		if err := backlog.Enqueue(ctx, crawler.QueueItem{Query: query, Position: i}); err != nil {
			if ctx.Err() == nil {
				o.logger.Error("enqueue failed", zap.String("query", query.String()), zap.Error(err))
			}
			return skipped, dispatched
		}
		dispatched++
	}
	return skipped, dispatched
}

func (o *Orchestrator) emit(evt progress.Event) {
	evt.RunID = o.cfg.RunID
	evt.TS = o.clock.Now()
	o.events.Emit(evt)
}

// tally aggregates worker results and trips the outage breaker.
type tally struct {
	mu          sync.Mutex
	sum         Summary
	consecutive int
	max         int
	abort       context.CancelCauseFunc
	logger      *zap.Logger
}

func (t *tally) record(r worker.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sum.Records += r.Records
	switch {
	case r.Err == nil:
		t.sum.Completed++
		t.consecutive = 0
	case crawler.IsStorageError(r.Err):
		t.sum.StorageFailed++
		t.consecutive++
		if t.max > 0 && t.consecutive >= t.max {
			t.logger.Error("storage outage; stopping dispatch",
				zap.Int("consecutive_failures", t.consecutive),
				zap.Error(r.Err),
			)
			t.abort(fmt.Errorf("%w: %d consecutive storage failures, last: %w",
				crawler.ErrStorageOutage, t.consecutive, r.Err))
		}
	case errors.Is(r.Err, crawler.ErrInterrupted):
		t.sum.Interrupted++
	default:
		t.sum.FetchFailed++
		t.consecutive = 0
	}
}

func (t *tally) summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sum
}
