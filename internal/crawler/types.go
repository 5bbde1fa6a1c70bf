package crawler

import "strings"

// Crawl defaults mirroring the remote search API's pagination ceiling.
const (
	DefaultAlphabet    = "abcdefghijklmnopqrstuvwxyz"
	DefaultQueryLength = 3
	DefaultPageSize    = 50
	DefaultMaxOffset   = 1000
	DefaultMarket      = "US"
	DefaultItemType    = "show"
	DefaultWorkers     = 5
	ListSeparator      = ", "
)

// Query is a fixed-length search term. It doubles as the completion ledger key.
type Query string

// String returns the raw search term.
func (q Query) String() string {
	return string(q)
}

// Image is one artwork entry attached to a catalog item.
type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// ShowItem is a single search hit as decoded from the remote API. Pointer
// fields are nil when the API omitted them.
type ShowItem struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Description      string            `json:"description"`
	Publisher        string            `json:"publisher"`
	TotalEpisodes    *int              `json:"total_episodes"`
	Explicit         *bool             `json:"explicit"`
	MediaType        string            `json:"media_type"`
	AvailableMarkets []string          `json:"available_markets"`
	Languages        []string          `json:"languages"`
	Images           []Image           `json:"images"`
	ExternalURLs     map[string]string `json:"external_urls"`
	Href             string            `json:"href"`
}

// Page is one bounded batch of search results at a given offset. Items may
// contain nil entries when the API returned null placeholders.
type Page struct {
	Query  Query
	Offset int
	Limit  int
	Total  int
	Next   string
	Items  []*ShowItem
}

// Empty reports whether the page carried no entries at all.
func (p Page) Empty() bool {
	return len(p.Items) == 0
}

// CatalogRecord is the normalized, persistable form of a ShowItem. ID is the
// sole upsert key; every other field may be zero.
type CatalogRecord struct {
	ID            string
	Name          string
	Description   string
	Publisher     string
	TotalEpisodes *int
	Explicit      *bool
	MediaType     string
	Markets       []string
	Languages     []string
	ImageURL      string
	ExternalURL   string
	Href          string
	Market        string
}

// NewCatalogRecord converts a search hit into a CatalogRecord. Missing fields
// stay empty; market falls back to DefaultMarket when blank.
func NewCatalogRecord(item ShowItem, market string) CatalogRecord {
	if strings.TrimSpace(market) == "" {
		market = DefaultMarket
	}
	rec := CatalogRecord{
		ID:            item.ID,
		Name:          item.Name,
		Description:   item.Description,
		Publisher:     item.Publisher,
		TotalEpisodes: item.TotalEpisodes,
		Explicit:      item.Explicit,
		MediaType:     item.MediaType,
		Markets:       append([]string(nil), item.AvailableMarkets...),
		Languages:     append([]string(nil), item.Languages...),
		Href:          item.Href,
		Market:        market,
	}
	if len(item.Images) > 0 {
		rec.ImageURL = item.Images[0].URL
	}
	if item.ExternalURLs != nil {
		rec.ExternalURL = item.ExternalURLs["spotify"]
	}
	return rec
}

// JoinList flattens a multi-valued field into its persisted form. It returns
// "" for an empty list so stores can write NULL.
func JoinList(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return strings.Join(values, ListSeparator)
}

// SplitList reverses JoinList.
func SplitList(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ListSeparator)
}

// LedgerEntry is one row of the completion ledger. ResumeOffset is only
// meaningful while Completed is false.
type LedgerEntry struct {
	Query        Query
	Completed    bool
	ResumeOffset int
}

// SearchRequest parameterizes a single remote search call.
type SearchRequest struct {
	Query  Query
	Offset int
	Limit  int
}

// QueueItem wraps a query waiting for a worker.
type QueueItem struct {
	Query    Query
	Position int
}
