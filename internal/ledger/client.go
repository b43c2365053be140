// Package ledger is a read-only client for the upstream ledger node's REST
// interface. Only two reads are used: the ledger head (GET /) and a
// transaction range (GET /transactions?start=&limit=).
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides access to the ledger node REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new ledger client. baseURL is the node's versioned API
// root, e.g. https://fullnode.devnet.aptoslabs.com/v1.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// LedgerInfo returns the node's current ledger head.
func (c *Client) LedgerInfo(ctx context.Context) (*LedgerInfo, error) {
	var info LedgerInfo
	if err := c.get(ctx, "/", nil, &info); err != nil {
		return nil, fmt.Errorf("get ledger info: %w", err)
	}
	return &info, nil
}

// Transactions returns the committed transactions with versions in the
// inclusive range [start, end], in version order.
func (c *Client) Transactions(ctx context.Context, start, end uint64) ([]Transaction, error) {
	if end < start {
		return nil, nil
	}

	query := url.Values{}
	query.Set("start", strconv.FormatUint(start, 10))
	query.Set("limit", strconv.FormatUint(end-start+1, 10))

	var txs []Transaction
	if err := c.get(ctx, "/transactions", query, &txs); err != nil {
		return nil, fmt.Errorf("get transactions %d..%d: %w", start, end, err)
	}
	return txs, nil
}

// APIError is a non-2xx answer from the node. Message and ErrorCode come
// from the node's JSON error document when it sends one.
type APIError struct {
	StatusCode int
	Message    string
	ErrorCode  string
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("ledger node %d %s: %s", e.StatusCode, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("ledger node %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether the node may answer differently later:
// server errors and rate limiting. A pruned or unknown version (4xx) will
// not.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// get reads path and decodes the JSON answer into out. Failed attempts are
// repeated up to maxRetries times, waiting retryDelay between them.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	attempts := 0
	for {
		attempts++
		body, err := c.fetch(ctx, target)
		if err == nil {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode %s: %w", path, err)
			}
			return nil
		}

		var apiErr *APIError
		if ctx.Err() != nil || (errors.As(err, &apiErr) && !apiErr.IsRetryable()) {
			return err
		}
		if attempts > c.maxRetries {
			return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
		}

		delay := c.retryDelay(attempts)
		c.logger.Debug("ledger read failed, retrying",
			"path", path,
			"attempt", attempts,
			"delay", delay,
			"err", err,
		)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// retryDelay doubles retryBackoff per failed attempt and spreads it over
// [d/2, 3d/2] so replicas do not hit a recovering node in lockstep.
func (c *Client) retryDelay(attempt int) time.Duration {
	d := c.retryBackoff << (attempt - 1)
	if d <= 0 {
		return 0
	}
	return d/2 + rand.N(d+1)
}

func (c *Client) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var doc struct {
			Message   string `json:"message"`
			ErrorCode string `json:"error_code"`
		}
		if json.Unmarshal(body, &doc) == nil && doc.Message != "" {
			apiErr.Message, apiErr.ErrorCode = doc.Message, doc.ErrorCode
		}
		return nil, apiErr
	}
	return body, nil
}
