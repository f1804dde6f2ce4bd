// Package push delivers batched mobile notifications through an
// Expo-compatible push provider.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultURL is the Expo push API endpoint.
const DefaultURL = "https://exp.host/--/api/v2/push/send"

// defaultMaxBatch mirrors the provider's maximum notifications per call.
const defaultMaxBatch = 100

// Notification is a single push payload in the provider's wire format.
type Notification struct {
	To    string `json:"to"`
	Sound string `json:"sound"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Ticket is the provider's per-notification outcome. The provider may accept
// some items in a batch and reject others, so status is per ticket.
type Ticket struct {
	Status  string `json:"status"` // "ok" or "error"
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

// OK reports whether the provider accepted the notification.
func (t Ticket) OK() bool { return t.Status == "ok" }

// BatchResult is the outcome of one provider call: either Tickets carries one
// entry per notification in the batch, or Err captures the batch failure.
type BatchResult struct {
	Batch   int
	Tickets []Ticket
	Err     error
}

// ProviderError is a non-2xx response from the push provider.
type ProviderError struct {
	StatusCode int
	Body       []byte
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("push provider error %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Client dispatches notifications in provider-size-limited batches.
type Client struct {
	url        string
	maxBatch   int
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithMaxBatch overrides the provider batch size limit.
func WithMaxBatch(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBatch = n
		}
	}
}

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a push client for the given provider URL. An empty URL
// selects DefaultURL.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:      url,
		maxBatch: defaultMaxBatch,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: zap.NewNop(),
	}
	if c.url == "" {
		c.url = DefaultURL
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dispatch splits notifications into batches and submits them concurrently.
// Batches are independent: a failed, slow or hung batch never blocks, aborts
// or retries a sibling. Dispatch returns once every batch has completed or
// timed out; a timed-out batch surfaces as that batch's Err.
func (c *Client) Dispatch(ctx context.Context, ns []Notification) []BatchResult {
	if len(ns) == 0 {
		return nil
	}
	batches := chunk(ns, c.maxBatch)
	results := make([]BatchResult, len(batches))

	var wg sync.WaitGroup
	for i, batch := range batches {
		wg.Add(1)
		go func(i int, batch []Notification) {
			defer wg.Done()
			tickets, err := c.send(ctx, batch)
			results[i] = BatchResult{Batch: i, Tickets: tickets, Err: err}
			if err != nil {
				c.logger.Warn("push batch failed",
					zap.Int("batch", i),
					zap.Int("size", len(batch)),
					zap.Error(err),
				)
			}
		}(i, batch)
	}
	wg.Wait()
	return results
}

// send performs a single provider call for one batch.
func (c *Client) send(ctx context.Context, batch []Notification) ([]Ticket, error) {
	payload, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: raw}
	}

	var parsed struct {
		Data []Ticket `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(parsed.Data) != len(batch) {
		return nil, fmt.Errorf("provider returned %d tickets for %d notifications", len(parsed.Data), len(batch))
	}
	return parsed.Data, nil
}

// chunk splits ns into slices of at most size elements, preserving order.
func chunk(ns []Notification, size int) [][]Notification {
	var out [][]Notification
	for len(ns) > size {
		out = append(out, ns[:size])
		ns = ns[size:]
	}
	return append(out, ns)
}
