package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/podcast-catalog-crawler/internal/crawler"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan crawler.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to start
	if err := q.Enqueue(context.Background(), crawler.QueueItem{Query: "abc", Position: 2}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got.Query != "abc" || got.Position != 2 {
			t.Fatalf("expected abc at position 2, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qDequeue.Dequeue(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	qEnqueue := NewQueue(1)
	if err := qEnqueue.Enqueue(context.Background(), crawler.QueueItem{Query: "aaa"}); err != nil {
		t.Fatalf("failed to prime queue: %v", err)
	}
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	err := qEnqueue.Enqueue(ctx, crawler.QueueItem{Query: "aab"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
	if err.Error() != `enqueue "aab" canceled: context canceled` {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestQueueDrainsBufferedItemsAfterClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(3)
	for i, query := range []crawler.Query{"aaa", "aab", "aac"} {
		if err := q.Enqueue(context.Background(), crawler.QueueItem{Query: query, Position: i}); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", query, err)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("expected 3 buffered items, got %d", q.Len())
	}
	q.Close()

	for _, want := range []crawler.Query{"aaa", "aab", "aac"} {
		got, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("Dequeue() error = %v", err)
		}
		if got.Query != want {
			t.Fatalf("expected %s, got %s", want, got.Query)
		}
	}
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, crawler.ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, crawler.ErrQueueClosed) {
		t.Fatalf("expected queue closed error, got %v", err)
	}
	if err := q.Enqueue(context.Background(), crawler.QueueItem{Query: "late"}); !errors.Is(err, crawler.ErrQueueClosed) {
		t.Fatalf("expected enqueue after close to fail, got %v", err)
	}
	// Closing twice should be safe.
	q.Close()
}
