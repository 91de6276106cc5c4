package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"bookstore/pkg/domain"
)

const (
	defaultBaseURL    = "https://www.googleapis.com/books/v1"
	defaultTimeout    = 8 * time.Second
	defaultMaxResults = 20
	maxQueryRunes     = 100
	serviceName       = "google-books"
)

// Config configures the Google Books client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxResults int
	// RequestsPerSecond paces outbound calls; zero disables pacing.
	RequestsPerSecond float64
	// SearchPriceCents is the placeholder price put on search results.
	SearchPriceCents int64
	HTTPClient       *http.Client
}

// Client talks to the Google Books volumes API.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	maxResults int
	price      int64
	http       *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a catalog client with defaults applied.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 || maxResults > 40 {
		maxResults = defaultMaxResults
	}
	price := cfg.SearchPriceCents
	if price <= 0 {
		price = 1999
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, int(cfg.RequestsPerSecond))
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		timeout:    timeout,
		maxResults: maxResults,
		price:      price,
		http:       httpClient,
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// SearchResult is one page of normalized volumes.
type SearchResult struct {
	Items      []domain.ExternalBook
	TotalItems int
}

// Search queries volumes by free text and normalizes up to MaxResults items.
func (c *Client) Search(ctx context.Context, query string) (SearchResult, error) {
	params := url.Values{}
	params.Set("q", truncateRunes(strings.TrimSpace(query), maxQueryRunes))
	params.Set("maxResults", strconv.Itoa(c.maxResults))
	params.Set("printType", "books")

	var payload volumeList
	if err := c.getJSON(ctx, "/volumes", params, &payload); err != nil {
		return SearchResult{}, fmt.Errorf("search volumes: %w", err)
	}
	items := payload.Items
	if len(items) > c.maxResults {
		items = items[:c.maxResults]
	}
	out := SearchResult{Items: make([]domain.ExternalBook, 0, len(items)), TotalItems: payload.TotalItems}
	for _, v := range items {
		out.Items = append(out.Items, Normalize(v, c.price))
	}
	return out, nil
}

// FetchVolume returns a single volume including its access info.
func (c *Client) FetchVolume(ctx context.Context, volumeID string) (Volume, error) {
	volumeID = strings.TrimSpace(volumeID)
	if volumeID == "" {
		return Volume{}, domain.ValidationError("volume id required")
	}
	var raw json.RawMessage
	if err := c.getJSON(ctx, "/volumes/"+url.PathEscape(volumeID), nil, &raw); err != nil {
		return Volume{}, fmt.Errorf("fetch volume %s: %w", volumeID, err)
	}
	return decodeVolume(raw)
}

// LookupISBN returns the first volume matching an ISBN.
func (c *Client) LookupISBN(ctx context.Context, isbn string) (Volume, error) {
	isbn = strings.TrimSpace(isbn)
	if isbn == "" {
		return Volume{}, domain.ValidationError("isbn required")
	}
	params := url.Values{}
	params.Set("q", "isbn:"+isbn)
	params.Set("maxResults", "1")

	var payload struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := c.getJSON(ctx, "/volumes", params, &payload); err != nil {
		return Volume{}, fmt.Errorf("lookup isbn %s: %w", isbn, err)
	}
	if len(payload.Items) == 0 {
		return Volume{}, fmt.Errorf("lookup isbn %s: %w", isbn, domain.ErrNotFound)
	}
	return decodeVolume(payload.Items[0])
}

func decodeVolume(raw json.RawMessage) (Volume, error) {
	var v Volume
	if err := json.Unmarshal(raw, &v); err != nil {
		return Volume{}, fmt.Errorf("decode volume: %w", err)
	}
	v.Raw = raw
	return v, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	if c.apiKey != "" {
		params.Set("key", c.apiKey)
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.limiter.Wait(reqCtx); err != nil {
		return classifyTransportError(ctx, err)
	}

	endpoint := c.baseURL + path
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &domain.UpstreamError{Service: serviceName, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return classifyTransportError(ctx, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// classifyTransportError maps our own deadline to ErrUpstreamTimeout while
// leaving caller cancellation untouched.
func classifyTransportError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s", domain.ErrUpstreamTimeout, serviceName)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrUpstream, serviceName, err)
}
