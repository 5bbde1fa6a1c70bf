// Package system provides the wall-clock crawler.Clock and elapsed-time
// helpers shared by the crawl components.
package system

import (
	"time"

	"github.com/JakeFAU/podcast-catalog-crawler/internal/crawler"
)

// Clock reads time.Now in UTC.
type Clock struct{}

var _ crawler.Clock = Clock{}

// New returns the wall clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Elapsed returns clock.Now() - start, clamped at zero. Event durations and
// histograms must never go negative when a clock steps backwards or a fake
// clock is rewound.
func Elapsed(clock crawler.Clock, start time.Time) time.Duration {
	return max(clock.Now().Sub(start), 0)
}
