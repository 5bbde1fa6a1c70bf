package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/podcast-catalog-crawler/internal/crawler"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/queue/memory"
)

type processorFunc func(ctx context.Context, q crawler.Query) (int, error)

func (f processorFunc) Process(ctx context.Context, q crawler.Query) (int, error) {
	return f(ctx, q)
}

type resultLog struct {
	mu      sync.Mutex
	results []Result
}

func (l *resultLog) add(r Result) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, r)
}

func (l *resultLog) all() []Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Result(nil), l.results...)
}

func TestWorkerDrainsQueueUntilClosed(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(4)
	for i, query := range []crawler.Query{"aaa", "aab", "aac"} {
		require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{Query: query, Position: i}))
	}
	q.Close()

	boom := errors.New("boom")
	proc := processorFunc(func(_ context.Context, query crawler.Query) (int, error) {
		if query == "aab" {
			return 0, boom
		}
		return len(query), nil
	})
	log := &resultLog{}
	w := New(7, q, proc, log.add, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue closed")
	}

	results := log.all()
	require.Len(t, results, 3)
	require.Equal(t, Result{Worker: 7, Query: "aaa", Records: 3}, results[0])
	require.ErrorIs(t, results[1].Err, boom)
	require.Equal(t, crawler.Query("aac"), results[2].Query)
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	w := New(1, q, processorFunc(func(context.Context, crawler.Query) (int, error) {
		return 0, nil
	}), nil, nil)

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
