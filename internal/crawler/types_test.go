package crawler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCatalogRecordMapsFields(t *testing.T) {
	t.Parallel()

	episodes := 42
	explicit := true
	item := ShowItem{
		ID:               "show-1",
		Name:             "Daily Bytes",
		Description:      "news",
		Publisher:        "Acme",
		TotalEpisodes:    &episodes,
		Explicit:         &explicit,
		MediaType:        "audio",
		AvailableMarkets: []string{"US", "GB"},
		Languages:        []string{"en"},
		Images:           []Image{{URL: "https://img/1"}, {URL: "https://img/2"}},
		ExternalURLs:     map[string]string{"spotify": "https://open/show-1"},
		Href:             "https://api/shows/show-1",
	}

	rec := NewCatalogRecord(item, "")
	require.Equal(t, "show-1", rec.ID)
	require.Equal(t, DefaultMarket, rec.Market)
	require.Equal(t, "https://img/1", rec.ImageURL)
	require.Equal(t, "https://open/show-1", rec.ExternalURL)
	require.Equal(t, []string{"US", "GB"}, rec.Markets)
	require.Equal(t, 42, *rec.TotalEpisodes)
	require.True(t, *rec.Explicit)

	item.AvailableMarkets[0] = "CA"
	require.Equal(t, "US", rec.Markets[0], "record must not alias the item's slices")
}

func TestNewCatalogRecordToleratesMissingFields(t *testing.T) {
	t.Parallel()

	rec := NewCatalogRecord(ShowItem{}, "SE")
	require.Empty(t, rec.ID)
	require.Empty(t, rec.ImageURL)
	require.Empty(t, rec.ExternalURL)
	require.Nil(t, rec.TotalEpisodes)
	require.Nil(t, rec.Explicit)
	require.Equal(t, "SE", rec.Market)
}

func TestJoinSplitList(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", JoinList(nil))
	require.Equal(t, "US, GB", JoinList([]string{"US", "GB"}))
	require.Equal(t, []string{"US", "GB"}, SplitList("US, GB"))
	require.Nil(t, SplitList(""))
}

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	cause := errors.New("503")
	fetchErr := &UnrecoverableFetchError{Query: "abc", Offset: 100, Attempts: 5, Err: cause}
	require.True(t, IsUnrecoverableFetch(fmt.Errorf("wrap: %w", fetchErr)))
	require.ErrorIs(t, fetchErr, cause)
	require.Contains(t, fetchErr.Error(), `"abc" at offset 100`)

	storeErr := &StorageError{Op: "upsert", Query: "abc", Err: cause}
	require.True(t, IsStorageError(storeErr))
	require.False(t, IsStorageError(fetchErr))
	require.ErrorIs(t, storeErr, cause)
}
