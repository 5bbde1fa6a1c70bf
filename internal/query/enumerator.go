// Package query enumerates the fixed-length search terms a crawl covers.
package query

import (
	"errors"
	"fmt"
	"slices"

	"github.com/JakeFAU/podcast-catalog-crawler/internal/crawler"
)

// MaxQueries caps the size of an enumerated query set (26^5).
const MaxQueries = 26 * 26 * 26 * 26 * 26

// ErrTooManyQueries is returned when alphabet^length exceeds MaxQueries.
var ErrTooManyQueries = errors.New("too many queries")

// Enumerator produces every combination of an alphabet at a fixed length.
type Enumerator struct {
	alphabet []rune
	length   int
}

// NewEnumerator builds an Enumerator. Duplicate letters are collapsed and the
// alphabet is sorted so output is lexicographic.
func NewEnumerator(alphabet string, length int) *Enumerator {
	letters := []rune(alphabet)
	slices.Sort(letters)
	letters = slices.Compact(letters)
	return &Enumerator{alphabet: letters, length: length}
}

// Count returns len(alphabet)^length. It fails with ErrTooManyQueries
// before the product can exceed MaxQueries, so it never overflows.
func (e *Enumerator) Count() (int, error) {
	if len(e.alphabet) == 0 || e.length <= 0 {
		return 0, nil
	}
	n := 1
	for range e.length {
		if n > MaxQueries/len(e.alphabet) {
			return 0, fmt.Errorf("%d letters at length %d: %w (limit %d)",
				len(e.alphabet), e.length, ErrTooManyQueries, MaxQueries)
		}
		n *= len(e.alphabet)
	}
	return n, nil
}

// Generate returns the full Cartesian product in lexicographic order.
func (e *Enumerator) Generate() ([]crawler.Query, error) {
	total, err := e.Count()
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}
	out := make([]crawler.Query, 0, total)
	idx := make([]int, e.length)
	buf := make([]rune, e.length)
	for {
		for i, j := range idx {
			buf[i] = e.alphabet[j]
		}
		out = append(out, crawler.Query(string(buf)))

		// odometer increment, rightmost position fastest
		pos := e.length - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < len(e.alphabet) {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			return out, nil
		}
	}
}
