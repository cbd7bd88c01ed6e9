// Package rowstore provides a rate-limited, retrying HTTP client for the
// remote tabular store. Every remote read and write in the application
// funnels through this client.
package rowstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/selco13/treasury/internal/app/metrics"
	"github.com/selco13/treasury/pkg/logger"
)

// Config holds client configuration.
type Config struct {
	// BaseURL is the store's REST root (e.g. https://store.example.com/rest/v1).
	BaseURL string

	// APIKey is sent as a bearer token on every request.
	APIKey string

	// Timeout bounds a single HTTP attempt. Defaults to 30s.
	Timeout time.Duration

	// MaxRetries is the retry budget shared by rate-limit and transport
	// failures. Defaults to 3.
	MaxRetries int

	// RetryAfterDefault is the sleep before retrying a rate-limited call when
	// the server gives no hint. Defaults to 60s.
	RetryAfterDefault time.Duration

	// BackoffBase is the first transport-error backoff; it doubles per
	// attempt. Defaults to 1s.
	BackoffBase time.Duration

	// RequestsPerSecond paces outbound requests below the store's limit.
	// Defaults to 5.
	RequestsPerSecond float64
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryAfterDefault == 0 {
		c.RetryAfterDefault = 60 * time.Second
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = time.Second
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 5
	}
	return c
}

// Client is the remote store client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Logger

	mu            sync.Mutex
	lastRateLimit time.Time
}

// New constructs a client.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("rowstore: base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("rowstore: invalid base URL: %w", err)
	}
	if log == nil {
		log = logger.NewDefault("rowstore")
	}
	cfg = cfg.withDefaults()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		log:        log,
	}, nil
}

// LimitedRecently reports whether the store rate-limited us within the given
// window. Callers use it to skip optimistic writes (such as account
// auto-provisioning) while the store is known to be throttling.
func (c *Client) LimitedRecently(window time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.lastRateLimit.IsZero() && time.Since(c.lastRateLimit) < window
}

func (c *Client) recordRateLimit() {
	c.mu.Lock()
	c.lastRateLimit = time.Now()
	c.mu.Unlock()
	metrics.RecordStoreRateLimit()
}

// Table starts a query against a named table.
func (c *Client) Table(name string) *Query {
	return &Query{
		client:  c,
		table:   name,
		filters: make([]string, 0),
	}
}

// CreateRow inserts fields as a new row and decodes the stored row into dest
// when dest is non-nil.
func (c *Client) CreateRow(ctx context.Context, table string, fields, dest any) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}
	data, err := c.do(ctx, http.MethodPost, c.tableURL(table), body)
	if err != nil {
		return err
	}
	return decodeRow(data, dest)
}

// UpdateRow patches the row with the given ID and decodes the stored row into
// dest when dest is non-nil. The row URL is always computed fresh from the ID.
func (c *Client) UpdateRow(ctx context.Context, table, rowID string, fields, dest any) error {
	if strings.TrimSpace(rowID) == "" {
		return fmt.Errorf("rowstore: row ID is required")
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}
	u := c.tableURL(table) + "?id=eq." + url.QueryEscape(rowID)
	data, err := c.do(ctx, http.MethodPatch, u, body)
	if err != nil {
		return err
	}
	return decodeRow(data, dest)
}

func (c *Client) tableURL(table string) string {
	return c.cfg.BaseURL + "/" + url.PathEscape(table)
}

// decodeRow unwraps the single-element array the store returns for writes.
func decodeRow(data []byte, dest any) error {
	if dest == nil {
		return nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		// Some endpoints return a bare object.
		return json.Unmarshal(data, dest)
	}
	if len(rows) == 0 {
		return fmt.Errorf("rowstore: write returned no rows")
	}
	return json.Unmarshal(rows[0], dest)
}

// do performs one logical request with pacing and the retry policy:
// rate-limit responses sleep for the server-provided retry-after and retry up
// to the budget; transport errors back off exponentially; any other non-2xx
// response is terminal.
func (c *Client) do(ctx context.Context, method, rawURL string, body []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		data, status, retryAfter, err := c.attempt(ctx, method, rawURL, body)
		if err != nil {
			lastErr = err
			backoff := c.cfg.BackoffBase << attempt
			c.log.WithError(err).Warnf("transport error on %s %s; retrying in %s", method, rawURL, backoff)
			if sleepErr := sleepCtx(ctx, backoff); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}

		if status == http.StatusTooManyRequests {
			c.recordRateLimit()
			if retryAfter <= 0 {
				retryAfter = c.cfg.RetryAfterDefault
			}
			if attempt == c.cfg.MaxRetries {
				return nil, &RateLimitError{RetryAfter: retryAfter}
			}
			c.log.Warnf("rate limited on %s %s; sleeping %s", method, rawURL, retryAfter)
			if sleepErr := sleepCtx(ctx, retryAfter); sleepErr != nil {
				return nil, sleepErr
			}
			lastErr = &RateLimitError{RetryAfter: retryAfter}
			continue
		}

		if status >= 400 {
			return nil, parseError(data, status)
		}
		return data, nil
	}

	return nil, fmt.Errorf("rowstore: retries exhausted: %w", lastErr)
}

func (c *Client) attempt(ctx context.Context, method, rawURL string, body []byte) ([]byte, int, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost || method == http.MethodPatch {
		req.Header.Set("Prefer", "return=representation")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("read response body: %w", err)
	}

	return data, resp.StatusCode, parseRetryAfter(resp.Header.Get("Retry-After")), nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// =============================================================================
// Query Builder
// =============================================================================

// Query builds a filtered read against one table.
type Query struct {
	client   *Client
	table    string
	filters  []string
	orders   []string
	limitVal *int
}

// Eq adds an equality filter.
func (q *Query) Eq(column string, value any) *Query {
	q.filters = append(q.filters, fmt.Sprintf("%s=eq.%v", column, value))
	return q
}

// Gte adds a greater-than-or-equal filter.
func (q *Query) Gte(column string, value any) *Query {
	q.filters = append(q.filters, fmt.Sprintf("%s=gte.%v", column, value))
	return q
}

// Lte adds a less-than-or-equal filter.
func (q *Query) Lte(column string, value any) *Query {
	q.filters = append(q.filters, fmt.Sprintf("%s=lte.%v", column, value))
	return q
}

// Lt adds a less-than filter.
func (q *Query) Lt(column string, value any) *Query {
	q.filters = append(q.filters, fmt.Sprintf("%s=lt.%v", column, value))
	return q
}

// OrderDesc sorts results by column, newest/largest first.
func (q *Query) OrderDesc(column string) *Query {
	q.orders = append(q.orders, column+".desc")
	return q
}

// OrderAsc sorts results by column ascending.
func (q *Query) OrderAsc(column string) *Query {
	q.orders = append(q.orders, column+".asc")
	return q
}

// Limit caps the number of returned rows.
func (q *Query) Limit(n int) *Query {
	q.limitVal = &n
	return q
}

// ExecuteInto runs the query and unmarshals the row array into dest.
func (q *Query) ExecuteInto(ctx context.Context, dest any) error {
	data, err := q.client.do(ctx, http.MethodGet, q.buildURL(), nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal rows: %w", err)
	}
	return nil
}

func (q *Query) buildURL() string {
	u := q.client.tableURL(q.table)
	params := append([]string(nil), q.filters...)
	if len(q.orders) > 0 {
		params = append(params, "order="+strings.Join(q.orders, ","))
	}
	if q.limitVal != nil {
		params = append(params, fmt.Sprintf("limit=%d", *q.limitVal))
	}
	if len(params) > 0 {
		u += "?" + strings.Join(params, "&")
	}
	return u
}
