// Package spotify implements crawler.SearchClient against the Spotify Web API
// search endpoint using the client-credentials grant.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/JakeFAU/podcast-catalog-crawler/internal/crawler"
)

// Public endpoints used when Config leaves them blank.
const (
	DefaultBaseURL  = "https://api.spotify.com/v1"
	DefaultTokenURL = "https://accounts.spotify.com/api/token"
	maxErrorBody    = 4 << 10
)

// Config controls the search client.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	BaseURL      string
	Market       string
	ItemType     string
	// HTTPClient is the transport used for both token exchange and search
	// calls. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client is a concurrency-safe search handle shared by all workers.
type Client struct {
	http     *http.Client
	baseURL  string
	market   string
	itemType string
}

// APIError describes a non-2xx search response.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("spotify api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("spotify api: status %d: %s", e.StatusCode, e.Message)
}

// RetryDelay implements crawler.RetryDelayer.
func (e *APIError) RetryDelay() time.Duration {
	return e.RetryAfter
}

// New builds a Client that authenticates with the client-credentials grant.
// ctx scopes token refreshes and should outlive the crawl.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("spotify client id and secret are required")
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
	}
	return NewWithHTTPClient(cc.Client(ctx), cfg)
}

// NewWithHTTPClient wraps an already-authenticated HTTP client.
func NewWithHTTPClient(httpClient *http.Client, cfg Config) (*Client, error) {
	if httpClient == nil {
		return nil, errors.New("http client is required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	market := cfg.Market
	if market == "" {
		market = crawler.DefaultMarket
	}
	itemType := cfg.ItemType
	if itemType == "" {
		itemType = crawler.DefaultItemType
	}
	return &Client{
		http:     httpClient,
		baseURL:  base,
		market:   market,
		itemType: itemType,
	}, nil
}

// Market returns the result market searches are scoped to.
func (c *Client) Market() string {
	return c.market
}

type pagingObject struct {
	Items  []*crawler.ShowItem `json:"items"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
	Total  int                 `json:"total"`
	Next   string              `json:"next"`
}

type errorEnvelope struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// Search runs one search call and returns the decoded page.
func (c *Client) Search(ctx context.Context, req crawler.SearchRequest) (crawler.Page, error) {
	params := url.Values{}
	params.Set("q", req.Query.String())
	params.Set("type", c.itemType)
	params.Set("market", c.market)
	params.Set("limit", strconv.Itoa(req.Limit))
	params.Set("offset", strconv.Itoa(req.Offset))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("build search request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return crawler.Page{}, decodeError(resp)
	}

	var envelope map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return crawler.Page{}, fmt.Errorf("decode search response: %w", err)
	}
	raw, ok := envelope[c.itemType+"s"]
	if !ok || string(raw) == "null" {
		return crawler.Page{Query: req.Query, Offset: req.Offset, Limit: req.Limit}, nil
	}
	var paging pagingObject
	if err := json.Unmarshal(raw, &paging); err != nil {
		return crawler.Page{}, fmt.Errorf("decode %s paging object: %w", c.itemType, err)
	}
	return crawler.Page{
		Query:  req.Query,
		Offset: req.Offset,
		Limit:  paging.Limit,
		Total:  paging.Total,
		Next:   paging.Next,
		Items:  paging.Items,
	}, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var envelope errorEnvelope
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && secs > 0 {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}
