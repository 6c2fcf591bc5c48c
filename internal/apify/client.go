package apify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Config holds Apify API client configuration.
type Config struct {
	BaseURL        string
	Token          string
	PageSize       int
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client fetches dataset items from the Apify API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	token          string
	pageSize       int
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

// New creates a new Apify dataset client. Zero values in cfg fall back
// to workable defaults: a zero page size would stall pagination and a
// zero attempt count would fail every fetch.
func New(cfg Config, logger *slog.Logger) *Client {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = time.Second
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:        cfg.BaseURL,
		token:          cfg.Token,
		pageSize:       pageSize,
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		logger:         logger.With("client", "apify"),
	}
}

// FetchItems pages through the dataset until a short page or maxItems.
// Items are returned as raw maps for the normalizer.
func (c *Client) FetchItems(ctx context.Context, datasetID string, maxItems int) ([]map[string]any, error) {
	if datasetID == "" {
		return nil, fmt.Errorf("dataset id is required")
	}

	var all []map[string]any

	for offset := 0; maxItems <= 0 || offset < maxItems; offset += c.pageSize {
		limit := c.pageSize
		if maxItems > 0 && offset+limit > maxItems {
			limit = maxItems - offset
		}

		page, err := c.fetchPage(ctx, datasetID, offset, limit)
		if err != nil {
			return nil, fmt.Errorf("fetch items at offset %d: %w", offset, err)
		}

		all = append(all, page.Items...)

		c.logger.Debug("fetched dataset page",
			"dataset_id", datasetID,
			"offset", offset,
			"items", len(page.Items),
			"total", len(all),
		)

		if len(page.Items) < limit {
			break
		}
	}

	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, datasetID string, offset, limit int) (*itemsPage, error) {
	url := fmt.Sprintf("%s/v2/datasets/%s/items?offset=%d&limit=%d", c.baseURL, datasetID, offset, limit)

	var page *itemsPage
	var err error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		page, err = c.doRequest(ctx, url)
		if err == nil {
			return page, nil
		}

		if attempt == c.maxAttempts {
			break
		}

		backoff := c.calculateBackoff(attempt)
		c.logger.Warn("request failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("after %d attempts: %w", c.maxAttempts, err)
}

func (c *Client) doRequest(ctx context.Context, url string) (*itemsPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "NewsIngest/1.0")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var items []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &itemsPage{Items: items}, nil
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := c.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > c.maxBackoff {
		backoff = c.maxBackoff
	}
	return backoff
}
