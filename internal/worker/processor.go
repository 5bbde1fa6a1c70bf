// Package worker runs queries end to end: the Processor pages through one
// query's results and the Worker feeds it from the shared backlog.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/podcast-catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/crawler"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/metrics"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/progress"
)

// Storage operation labels used in StorageError and metrics.
const (
	OpResumeOffset = "resume_offset"
	OpUpsertRecord = "upsert_record"
	OpMarkComplete = "mark_complete"
	OpMarkPartial  = "mark_partial"
)

// ProcessorConfig controls pagination and ledger policy.
//   - PageSize: items requested per call (default 50).
//   - MaxOffset: pagination ceiling; no page at or beyond it is requested (default 1000).
//   - Market: source market stamped on records (default "US").
//   - ResumePartial: after an unrecoverable fetch error, record the failed
//     offset instead of marking the query complete, and resume from a stored
//     offset when the query is processed again.
//   - RunID: stamped on emitted progress events.
type ProcessorConfig struct {
	PageSize      int
	MaxOffset     int
	Market        string
	ResumePartial bool
	RunID         [16]byte
}

// Processor implements the per-query pagination loop.
type Processor struct {
	fetcher crawler.Fetcher
	store   crawler.RecordStore
	events  progress.Emitter
	clock   crawler.Clock
	cfg     ProcessorConfig
	logger  *zap.Logger
}

// NewProcessor wires a Processor. events, clock and logger may be nil.
func NewProcessor(
	fetcher crawler.Fetcher,
	store crawler.RecordStore,
	events progress.Emitter,
	clock crawler.Clock,
	cfg ProcessorConfig,
	logger *zap.Logger,
) *Processor {
	if cfg.PageSize <= 0 {
		cfg.PageSize = crawler.DefaultPageSize
	}
	if cfg.MaxOffset <= 0 {
		cfg.MaxOffset = crawler.DefaultMaxOffset
	}
	if cfg.Market == "" {
		cfg.Market = crawler.DefaultMarket
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
	return &Processor{
		fetcher: fetcher,
		store:   store,
		events:  events,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// Process fetches every page of query and upserts its records, returning how
// many records were written.
//
// The query is marked complete when pagination ends on an empty page or the
// offset ceiling. After an unrecoverable fetch error it is marked complete
// too (or partial, with ResumePartial) and the fetch error is returned. A
// *crawler.StorageError leaves the ledger untouched. When ctx is canceled the
// current page is finished, the query is left unmarked, and the error wraps
// crawler.ErrInterrupted.
func (p *Processor) Process(ctx context.Context, query crawler.Query) (int, error) {
	start := p.clock.Now()
	// Writes for a page that was already fetched must land even during a drain.
	writeCtx := context.WithoutCancel(ctx)

	offset := 0
	if ctx.Err() != nil {
		return 0, p.interrupted(query, offset, 0, start, ctx.Err())
	}
	if p.cfg.ResumePartial {
		resume, err := p.store.ResumeOffset(ctx, query)
		if err != nil {
			return 0, p.storageFailure(query, OpResumeOffset, err, 0, start)
		}
		offset = resume
	}
	p.emit(progress.Event{Stage: progress.StageQueryStart, Query: query.String(), Offset: offset})
	p.logger.Debug("processing query", zap.String("query", query.String()), zap.Int("offset", offset))

	written := 0
	for offset < p.cfg.MaxOffset {
		if ctx.Err() != nil {
			return written, p.interrupted(query, offset, written, start, ctx.Err())
		}
		page, err := p.fetcher.Fetch(ctx, query, offset, p.cfg.PageSize)
		if err != nil {
			if errors.Is(err, crawler.ErrInterrupted) {
				return written, p.interrupted(query, offset, written, start, err)
			}
			return written, p.fetchFailure(writeCtx, query, offset, written, start, err)
		}
		if page.Empty() {
			break
		}
		n, err := p.writePage(writeCtx, query, page)
		written += n
		if err != nil {
			return written, p.storageFailure(query, OpUpsertRecord, err, written, start)
		}
		p.emit(progress.Event{Stage: progress.StagePageDone, Query: query.String(), Offset: offset, Records: n})
		offset += p.cfg.PageSize
	}

	if err := p.store.MarkComplete(writeCtx, query); err != nil {
		return written, p.storageFailure(query, OpMarkComplete, err, written, start)
	}
	dur := p.since(start)
	p.emit(progress.Event{Stage: progress.StageQueryDone, Query: query.String(), Records: written, Dur: dur})
	p.logger.Debug("query complete",
		zap.String("query", query.String()),
		zap.Int("records", written),
		zap.Duration("dur", dur),
	)
	return written, nil
}

// writePage upserts every non-null item. Items with an empty ID are still
// written; they share the empty key.
func (p *Processor) writePage(ctx context.Context, query crawler.Query, page crawler.Page) (int, error) {
	n := 0
	for _, item := range page.Items {
		if item == nil {
			continue
		}
		rec := crawler.NewCatalogRecord(*item, p.cfg.Market)
		if err := p.store.UpsertRecord(ctx, rec); err != nil {
			return n, fmt.Errorf("record %q: %w", rec.ID, err)
		}
		n++
	}
	return n, nil
}

func (p *Processor) fetchFailure(
	ctx context.Context,
	query crawler.Query,
	offset, written int,
	start time.Time,
	err error,
) error {
	var fetchErr *crawler.UnrecoverableFetchError
	if !errors.As(err, &fetchErr) {
		fetchErr = &crawler.UnrecoverableFetchError{Query: query, Offset: offset, Err: err}
	}
	p.emit(progress.Event{
		Stage:   progress.StageQueryError,
		Query:   query.String(),
		Offset:  offset,
		Records: written,
		Dur:     p.since(start),
		Note:    err.Error(),
	})

	if p.cfg.ResumePartial {
		p.logger.Error("fetch failed; query will resume at this offset",
			zap.String("query", query.String()),
			zap.Int("offset", offset),
			zap.Error(err),
		)
		if markErr := p.store.MarkPartial(ctx, query, offset); markErr != nil {
			return errors.Join(fetchErr, p.storageFailure(query, OpMarkPartial, markErr, written, start))
		}
		return fetchErr
	}

	p.logger.Error("fetch failed; marking query complete, later pages are abandoned",
		zap.String("query", query.String()),
		zap.Int("abandoned_offset", offset),
		zap.Error(err),
	)
	if markErr := p.store.MarkComplete(ctx, query); markErr != nil {
		return errors.Join(fetchErr, p.storageFailure(query, OpMarkComplete, markErr, written, start))
	}
	return fetchErr
}

func (p *Processor) storageFailure(query crawler.Query, op string, err error, written int, start time.Time) error {
	metrics.ObserveStorageError(op)
	p.logger.Error("storage failure; query left unmarked",
		zap.String("query", query.String()),
		zap.String("op", op),
		zap.Error(err),
	)
	p.emit(progress.Event{
		Stage:   progress.StageQueryError,
		Query:   query.String(),
		Records: written,
		Dur:     p.since(start),
		Note:    op + ": " + err.Error(),
	})
	return &crawler.StorageError{Op: op, Query: query, Err: err}
}

func (p *Processor) interrupted(query crawler.Query, offset, written int, start time.Time, cause error) error {
	p.logger.Info("query interrupted; left unmarked",
		zap.String("query", query.String()),
		zap.Int("offset", offset),
		zap.Int("records", written),
	)
	p.emit(progress.Event{
		Stage:   progress.StageQueryAborted,
		Query:   query.String(),
		Offset:  offset,
		Records: written,
		Dur:     p.since(start),
	})
	if errors.Is(cause, crawler.ErrInterrupted) {
		return cause
	}
	return fmt.Errorf("query %q at offset %d: %w: %w", query, offset, crawler.ErrInterrupted, cause)
}

func (p *Processor) emit(evt progress.Event) {
	evt.RunID = p.cfg.RunID
	evt.TS = p.clock.Now()
	p.events.Emit(evt)
}

func (p *Processor) since(start time.Time) time.Duration {
	return system.Elapsed(p.clock, start)
}
