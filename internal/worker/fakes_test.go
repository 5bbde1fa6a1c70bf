package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/podcast-catalog-crawler/internal/crawler"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/progress"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/storage/memory"
)

type fetchCall struct {
	Query  crawler.Query
	Offset int
	Limit  int
}

// stubFetcher answers each call through respond and records every call.
type stubFetcher struct {
	mu      sync.Mutex
	calls   []fetchCall
	respond func(ctx context.Context, q crawler.Query, offset int) (crawler.Page, error)
}

func (f *stubFetcher) Fetch(ctx context.Context, q crawler.Query, offset, limit int) (crawler.Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{Query: q, Offset: offset, Limit: limit})
	f.mu.Unlock()
	return f.respond(ctx, q, offset)
}

func (f *stubFetcher) Calls() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchCall(nil), f.calls...)
}

// pagesUntil returns full pages of distinct shows below limit and empty pages from limit on.
func pagesUntil(limit int) func(context.Context, crawler.Query, int) (crawler.Page, error) {
	return func(_ context.Context, q crawler.Query, offset int) (crawler.Page, error) {
		if offset >= limit {
			return crawler.Page{Query: q, Offset: offset}, nil
		}
		return pageOf(q, offset, 50), nil
	}
}

func pageOf(q crawler.Query, offset, n int) crawler.Page {
	items := make([]*crawler.ShowItem, 0, n)
	for i := range n {
		items = append(items, &crawler.ShowItem{
			ID:   fmt.Sprintf("%s-%d", q, offset+i),
			Name: fmt.Sprintf("show %d", offset+i),
		})
	}
	return crawler.Page{Query: q, Offset: offset, Limit: n, Items: items}
}

// flakyStore wraps the memory store and fails chosen operations.
type flakyStore struct {
	*memory.RecordStore
	failUpsertAfter int // fail once this many upserts succeeded; <0 disables
	failMark        bool
	failResume      bool

	mu      sync.Mutex
	upserts int
}

var errDiskFull = errors.New("disk full")

func newFlakyStore() *flakyStore {
	return &flakyStore{RecordStore: memory.NewRecordStore(), failUpsertAfter: -1}
}

func (s *flakyStore) UpsertRecord(ctx context.Context, rec crawler.CatalogRecord) error {
	s.mu.Lock()
	if s.failUpsertAfter >= 0 && s.upserts >= s.failUpsertAfter {
		s.mu.Unlock()
		return errDiskFull
	}
	s.upserts++
	s.mu.Unlock()
	return s.RecordStore.UpsertRecord(ctx, rec)
}

func (s *flakyStore) MarkComplete(ctx context.Context, q crawler.Query) error {
	if s.failMark {
		return errDiskFull
	}
	return s.RecordStore.MarkComplete(ctx, q)
}

func (s *flakyStore) MarkPartial(ctx context.Context, q crawler.Query, offset int) error {
	if s.failMark {
		return errDiskFull
	}
	return s.RecordStore.MarkPartial(ctx, q, offset)
}

func (s *flakyStore) ResumeOffset(ctx context.Context, q crawler.Query) (int, error) {
	if s.failResume {
		return 0, errDiskFull
	}
	return s.RecordStore.ResumeOffset(ctx, q)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

// rewindingClock moves backwards by step on every read.
type rewindingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *rewindingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(-c.step)
	return now
}
