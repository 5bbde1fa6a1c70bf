package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/podcast-catalog-crawler/internal/crawler"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/metrics"
)

// QueryProcessor processes one query end to end. *Processor satisfies it.
type QueryProcessor interface {
	Process(ctx context.Context, query crawler.Query) (int, error)
}

// Result is the outcome of one processed query.
type Result struct {
	Worker  int
	Query   crawler.Query
	Records int
	Err     error
}

// Worker consumes queries from the backlog one at a time.
type Worker struct {
	id        int
	queue     crawler.Queue
	processor QueryProcessor
	report    func(Result)
	logger    *zap.Logger
}

// New constructs a Worker. report is called after every processed query and
// must be safe for concurrent use; it may be nil.
func New(id int, queue crawler.Queue, processor QueryProcessor, report func(Result), logger *zap.Logger) *Worker {
	if report == nil {
		report = func(Result) {}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:        id,
		queue:     queue,
		processor: processor,
		report:    report,
		logger:    logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming queries until the queue is closed and drained or ctx
// finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, crawler.ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		if ctx.Err() != nil {
			// Draining: leave the query for the next run.
			return
		}
		w.logger.Debug("dequeued query", zap.String("query", item.Query.String()), zap.Int("position", item.Position))
		w.report(w.process(ctx, item.Query))
	}
}

func (w *Worker) process(ctx context.Context, query crawler.Query) Result {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	records, err := w.processor.Process(ctx, query)
	return Result{Worker: w.id, Query: query, Records: records, Err: err}
}
