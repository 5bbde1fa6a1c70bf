package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/podcast-catalog-crawler/internal/crawler"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/progress"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/storage/memory"
)

func newTestProcessor(f crawler.Fetcher, store crawler.RecordStore, events progress.Emitter, cfg ProcessorConfig) *Processor {
	return NewProcessor(f, store, events, fixedClock{now: time.Unix(1700000000, 0).UTC()}, cfg, zap.NewNop())
}

func TestProcessStopsOnEmptyPage(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{respond: pagesUntil(950)}
	store := memory.NewRecordStore()
	proc := newTestProcessor(fetcher, store, nil, ProcessorConfig{})

	written, err := proc.Process(context.Background(), "abc")
	require.NoError(t, err)

	calls := fetcher.Calls()
	require.Len(t, calls, 20, "ceil(950/50) non-empty pages plus the empty one")
	for i, call := range calls {
		require.Equal(t, i*50, call.Offset, "pages are fetched in increasing offset order")
		require.Equal(t, 50, call.Limit)
	}
	require.Equal(t, 950, written)

	count, err := store.CountRecords(context.Background())
	require.NoError(t, err)
	require.Equal(t, 950, count)

	done, err := store.IsComplete(context.Background(), "abc")
	require.NoError(t, err)
	require.True(t, done)
}

func TestProcessNeverExceedsMaxOffset(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{respond: pagesUntil(1 << 30)}
	store := memory.NewRecordStore()
	proc := newTestProcessor(fetcher, store, nil, ProcessorConfig{})

	written, err := proc.Process(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, 1000, written)

	calls := fetcher.Calls()
	require.Len(t, calls, 20)
	require.Equal(t, 950, calls[len(calls)-1].Offset)
}

func TestProcessEmptyFirstPage(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{respond: pagesUntil(0)}
	store := memory.NewRecordStore()
	proc := newTestProcessor(fetcher, store, nil, ProcessorConfig{})

	written, err := proc.Process(context.Background(), "zzz")
	require.NoError(t, err)
	require.Zero(t, written)
	require.Len(t, fetcher.Calls(), 1)

	done, err := store.IsComplete(context.Background(), "zzz")
	require.NoError(t, err)
	require.True(t, done)
}

func TestProcessSkipsNullItemsAndKeepsEmptyIDs(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{respond: func(_ context.Context, q crawler.Query, offset int) (crawler.Page, error) {
		if offset > 0 {
			return crawler.Page{}, nil
		}
		return crawler.Page{Items: []*crawler.ShowItem{
			nil,
			{ID: "", Name: "no id"},
			{ID: "show-1", Name: "Abc Daily"},
			nil,
		}}, nil
	}}
	store := memory.NewRecordStore()
	proc := newTestProcessor(fetcher, store, nil, ProcessorConfig{Market: "GB"})

	written, err := proc.Process(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, 2, written)

	rec, err := store.GetRecord(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "no id", rec.Name)
	require.Equal(t, "GB", rec.Market)
}

func TestProcessPageOfOnlyNullsStillAdvances(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{respond: func(_ context.Context, _ crawler.Query, offset int) (crawler.Page, error) {
		if offset >= 100 {
			return crawler.Page{}, nil
		}
		return crawler.Page{Items: []*crawler.ShowItem{nil, nil}}, nil
	}}
	proc := newTestProcessor(fetcher, memory.NewRecordStore(), nil, ProcessorConfig{})

	written, err := proc.Process(context.Background(), "abc")
	require.NoError(t, err)
	require.Zero(t, written)
	require.Len(t, fetcher.Calls(), 3)
}

func TestProcessFetchErrorMarksComplete(t *testing.T) {
	t.Parallel()

	boom := errors.New("503 from upstream")
	fetcher := &stubFetcher{respond: func(_ context.Context, q crawler.Query, offset int) (crawler.Page, error) {
		if offset == 100 {
			return crawler.Page{}, &crawler.UnrecoverableFetchError{Query: q, Offset: offset, Attempts: 5, Err: boom}
		}
		return pageOf(q, offset, 50), nil
	}}
	store := memory.NewRecordStore()
	events := &recordingEmitter{}
	proc := newTestProcessor(fetcher, store, events, ProcessorConfig{})

	written, err := proc.Process(context.Background(), "abc")
	require.Error(t, err)
	require.True(t, crawler.IsUnrecoverableFetch(err))
	require.ErrorIs(t, err, boom)
	require.Equal(t, 100, written)
	require.Len(t, fetcher.Calls(), 3, "the query itself is not retried")

	done, err := store.IsComplete(context.Background(), "abc")
	require.NoError(t, err)
	require.True(t, done, "forward progress over completeness")
	require.Contains(t, events.Stages(), progress.StageQueryError)
}

func TestProcessFetchErrorWrapsPlainErrors(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{respond: func(context.Context, crawler.Query, int) (crawler.Page, error) {
		return crawler.Page{}, errors.New("bad gateway")
	}}
	proc := newTestProcessor(fetcher, memory.NewRecordStore(), nil, ProcessorConfig{})

	_, err := proc.Process(context.Background(), "abc")
	var fetchErr *crawler.UnrecoverableFetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, crawler.Query("abc"), fetchErr.Query)
	require.Zero(t, fetchErr.Offset)
}

func TestProcessResumePartial(t *testing.T) {
	t.Parallel()

	failing := true
	fetcher := &stubFetcher{respond: func(_ context.Context, q crawler.Query, offset int) (crawler.Page, error) {
		if offset == 150 && failing {
			return crawler.Page{}, &crawler.UnrecoverableFetchError{Query: q, Offset: offset, Attempts: 5, Err: errors.New("timeout")}
		}
		if offset >= 200 {
			return crawler.Page{}, nil
		}
		return pageOf(q, offset, 50), nil
	}}
	store := memory.NewRecordStore()
	proc := newTestProcessor(fetcher, store, nil, ProcessorConfig{ResumePartial: true})
	ctx := context.Background()

	written, err := proc.Process(ctx, "abc")
	require.True(t, crawler.IsUnrecoverableFetch(err))
	require.Equal(t, 150, written)

	done, err := store.IsComplete(ctx, "abc")
	require.NoError(t, err)
	require.False(t, done)
	offset, err := store.ResumeOffset(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, 150, offset)

	failing = false
	written, err = proc.Process(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, 50, written)

	calls := fetcher.Calls()
	require.Equal(t, 150, calls[4].Offset, "second pass starts at the stored offset")
	done, err = store.IsComplete(ctx, "abc")
	require.NoError(t, err)
	require.True(t, done)
}

func TestProcessStorageFailureLeavesQueryUnmarked(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{respond: pagesUntil(500)}
	store := newFlakyStore()
	store.failUpsertAfter = 60
	proc := newTestProcessor(fetcher, store, nil, ProcessorConfig{})

	written, err := proc.Process(context.Background(), "abc")
	require.True(t, crawler.IsStorageError(err))
	require.ErrorIs(t, err, errDiskFull)
	require.Equal(t, 60, written)
	require.Len(t, fetcher.Calls(), 2, "the query stops at the failing page")

	done, err := store.IsComplete(context.Background(), "abc")
	require.NoError(t, err)
	require.False(t, done)
	require.Empty(t, store.Ledger())
}

func TestProcessMarkCompleteFailure(t *testing.T) {
	t.Parallel()

	store := newFlakyStore()
	store.failMark = true
	proc := newTestProcessor(&stubFetcher{respond: pagesUntil(50)}, store, nil, ProcessorConfig{})

	written, err := proc.Process(context.Background(), "abc")
	var storageErr *crawler.StorageError
	require.ErrorAs(t, err, &storageErr)
	require.Equal(t, OpMarkComplete, storageErr.Op)
	require.Equal(t, 50, written)
}

func TestProcessResumeOffsetFailure(t *testing.T) {
	t.Parallel()

	store := newFlakyStore()
	store.failResume = true
	fetcher := &stubFetcher{respond: pagesUntil(0)}
	proc := newTestProcessor(fetcher, store, nil, ProcessorConfig{ResumePartial: true})

	_, err := proc.Process(context.Background(), "abc")
	require.True(t, crawler.IsStorageError(err))
	require.Empty(t, fetcher.Calls())
}

func TestProcessInterruptFinishesCurrentPage(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetcher := &stubFetcher{respond: func(_ context.Context, q crawler.Query, offset int) (crawler.Page, error) {
		if offset == 50 {
			cancel()
		}
		return pageOf(q, offset, 50), nil
	}}
	store := memory.NewRecordStore()
	events := &recordingEmitter{}
	proc := newTestProcessor(fetcher, store, events, ProcessorConfig{})

	written, err := proc.Process(ctx, "abc")
	require.ErrorIs(t, err, crawler.ErrInterrupted)
	require.Equal(t, 100, written, "the page in flight when the drain began is still written")
	require.Len(t, fetcher.Calls(), 2)

	done, err := store.IsComplete(context.Background(), "abc")
	require.NoError(t, err)
	require.False(t, done)
	require.Empty(t, store.Ledger())
	require.Contains(t, events.Stages(), progress.StageQueryAborted)
}

func TestProcessInterruptedFetch(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{respond: func(_ context.Context, q crawler.Query, offset int) (crawler.Page, error) {
		return crawler.Page{}, errors.Join(crawler.ErrInterrupted, context.Canceled)
	}}
	store := memory.NewRecordStore()
	proc := newTestProcessor(fetcher, store, nil, ProcessorConfig{})

	_, err := proc.Process(context.Background(), "abc")
	require.ErrorIs(t, err, crawler.ErrInterrupted)
	require.False(t, crawler.IsUnrecoverableFetch(err))
	require.Empty(t, store.Ledger())
}

func TestProcessEmitsLifecycleEvents(t *testing.T) {
	t.Parallel()

	events := &recordingEmitter{}
	runID := progress.UUIDToBytes([16]byte{1})
	proc := newTestProcessor(&stubFetcher{respond: pagesUntil(100)}, memory.NewRecordStore(), events,
		ProcessorConfig{RunID: runID})

	_, err := proc.Process(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, []progress.Stage{
		progress.StageQueryStart,
		progress.StagePageDone,
		progress.StagePageDone,
		progress.StageQueryDone,
	}, events.Stages())
	for _, evt := range events.events {
		require.Equal(t, runID, evt.RunID)
		require.NoError(t, evt.Validate())
	}
}

func TestProcessClampsNegativeDurations(t *testing.T) {
	t.Parallel()

	events := &recordingEmitter{}
	clock := &rewindingClock{now: time.Unix(1700000000, 0).UTC(), step: time.Second}
	proc := NewProcessor(&stubFetcher{respond: pagesUntil(50)}, memory.NewRecordStore(), events, clock,
		ProcessorConfig{}, zap.NewNop())

	_, err := proc.Process(context.Background(), "abc")
	require.NoError(t, err)

	var done *progress.Event
	for i := range events.events {
		if events.events[i].Stage == progress.StageQueryDone {
			done = &events.events[i]
		}
	}
	require.NotNil(t, done)
	require.Zero(t, done.Dur)
	require.NoError(t, done.Validate())
}
