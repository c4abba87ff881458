// Package scrape provides the HTTP adapter to the external scraping
// engine. The engine is an out-of-process collaborator: the pipeline only
// ever talks to its Scraper interface, and this package is one
// implementation of it (the other being the async webhook in server).
package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmazurovsky/jobs-alerts-sub001/alert"
	"github.com/mmazurovsky/jobs-alerts-sub001/errors"
	"github.com/mmazurovsky/jobs-alerts-sub001/sym"
)

// Client calls the scraping engine's JSON search endpoint.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.SugaredLogger
}

// NewClient creates a scrape client. The per-request deadline comes from
// the caller's context; the client timeout here is a hard backstop.
func NewClient(baseURL, apiKey string, timeout time.Duration, log *zap.SugaredLogger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		logger: log.Named("scrape"),
	}
}

// searchRequest is the wire shape of a search call.
type searchRequest struct {
	Filters alert.Filters `json:"filters"`
}

// searchResponse is the wire shape of the engine's reply.
type searchResponse struct {
	Postings []alert.Posting `json:"postings"`
	Error    string          `json:"error,omitempty"`
}

// Search posts the filters to the engine and returns its postings.
// Connection failures and timeouts come back wrapped in
// ErrServiceUnavailable / ErrTimeout so the pipeline can tell retryable
// trouble from permanent rejection.
func (c *Client) Search(ctx context.Context, filters alert.Filters) ([]alert.Posting, error) {
	body, err := json.Marshal(searchRequest{Filters: filters})
	if err != nil {
		return nil, errors.Wrap(err, "marshal search request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build search request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, errors.Wrapf(errors.ErrServiceUnavailable, "scraping engine returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("scraping engine returned %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read search response")
	}

	var parsed searchResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, errors.Wrap(err, "decode search response")
	}
	if parsed.Error != "" {
		return nil, errors.Newf("scraping engine error: %s", parsed.Error)
	}

	c.logger.Debugw("Scrape complete",
		"symbol", sym.Search,
		"postings", len(parsed.Postings),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return parsed.Postings, nil
}

// classifyTransportError maps low-level HTTP errors onto the engine's
// retryable sentinels.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(errors.ErrTimeout, "scrape request timed out")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(errors.ErrTimeout, "scrape request timed out")
	}
	return errors.Wrapf(errors.ErrServiceUnavailable, "scraping engine unreachable: %v", err)
}
