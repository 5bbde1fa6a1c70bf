package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/podcast-catalog-crawler/internal/progress"
)

// Query outcome labels.
const (
	OutcomeDone    = "done"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
	OutcomeAborted = "aborted"
)

// PrometheusSink derives crawl metrics from progress events.
type PrometheusSink struct {
	queriesStarted  prometheus.Counter
	queriesFinished *prometheus.CounterVec
	queriesRunning  prometheus.Gauge
	queryDuration   *prometheus.HistogramVec

	pages        prometheus.Counter
	records      prometheus.Counter
	fetchRetries prometheus.Counter
	retryWait    prometheus.Histogram

	tracker *queryTracker
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		queriesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "podcrawl_queries_started_total",
			Help: "Queries a worker began processing.",
		}),
		queriesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "podcrawl_queries_finished_total",
			Help: "Queries finished partitioned by outcome.",
		}, []string{"outcome"}),
		queriesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "podcrawl_queries_running",
			Help: "Queries currently being processed.",
		}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "podcrawl_query_duration_seconds",
			Help:    "Wall time per processed query.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "podcrawl_pages_total",
			Help: "Non-empty result pages processed.",
		}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "podcrawl_records_written_total",
			Help: "Catalog records written to the store.",
		}),
		fetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "podcrawl_fetch_retries_total",
			Help: "Failed search calls that were retried.",
		}),
		retryWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "podcrawl_fetch_retry_wait_seconds",
			Help:    "Backoff scheduled before a retried search call.",
			Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32, 60},
		}),
		tracker: newQueryTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.queriesStarted,
		s.queriesFinished,
		s.queriesRunning,
		s.queryDuration,
		s.pages,
		s.records,
		s.fetchRetries,
		s.retryWait,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageQueryStart:
		s.queriesStarted.Inc()
		if s.tracker.start(evt.RunID, evt.Query) {
			s.queriesRunning.Inc()
		}
	case progress.StagePageDone:
		s.pages.Inc()
		s.records.Add(float64(evt.Records))
	case progress.StageFetchRetry:
		s.fetchRetries.Inc()
		s.retryWait.Observe(evt.Wait.Seconds())
	case progress.StageQueryDone:
		s.finish(evt, OutcomeDone)
	case progress.StageQueryError:
		s.finish(evt, OutcomeError)
	case progress.StageQueryAborted:
		s.finish(evt, OutcomeAborted)
	case progress.StageQuerySkipped:
		s.queriesFinished.WithLabelValues(OutcomeSkipped).Inc()
	}
}

func (s *PrometheusSink) finish(evt progress.Event, outcome string) {
	s.queriesFinished.WithLabelValues(outcome).Inc()
	if evt.Dur > 0 {
		s.queryDuration.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID, evt.Query) {
		s.queriesRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type trackedQuery struct {
	run   [16]byte
	query string
}

type queryTracker struct {
	mu      sync.Mutex
	running map[trackedQuery]struct{}
}

func newQueryTracker() *queryTracker {
	return &queryTracker{running: make(map[trackedQuery]struct{})}
}

func (t *queryTracker) start(run [16]byte, query string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := trackedQuery{run: run, query: query}
	if _, ok := t.running[key]; ok {
		return false
	}
	t.running[key] = struct{}{}
	return true
}

func (t *queryTracker) complete(run [16]byte, query string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := trackedQuery{run: run, query: query}
	if _, ok := t.running[key]; !ok {
		return false
	}
	delete(t.running, key)
	return true
}
