// Package client provides a Go client for the HTTP API of a remote kegsync
// station.
//
// Usage:
//
//	c := client.New("http://station.local:8080")
//
//	// Submit a capture.
//	sessionID, err := c.Submit(ctx, client.Capture{ImageRef: "/data/img/0001.jpg", TargetCount: 4})
//
//	// Follow the batch until it settles.
//	events, err := c.Watch(ctx, stream.BatchTopic(sessionID))
//	for evt := range events {
//	    fmt.Println(evt.Type)
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xraph/kegsync/alert"
	"github.com/xraph/kegsync/batch"
	"github.com/xraph/kegsync/lifecycle"
	"github.com/xraph/kegsync/pallet"
	"github.com/xraph/kegsync/retryq"
)

// Capture is the input that opens a batch.
type Capture = lifecycle.Capture

// Client talks to one station.
type Client struct {
	base   string
	http   *http.Client
	logger *slog.Logger

	reconnect  bool
	maxRetries int
	baseDelay  time.Duration
}

// New creates a client for the station API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:       strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
		maxRetries: 5,
		baseDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Error is a non-2xx answer of the station.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("kegsync/client: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 answer.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is a 409 answer.
func IsConflict(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// Submit opens a batch and returns its session id.
func (c *Client) Submit(ctx context.Context, capture Capture) (string, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/captures", nil, capture, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

// Batch returns one batch.
func (c *Client) Batch(ctx context.Context, sessionID string) (*batch.Batch, error) {
	var b batch.Batch
	if err := c.do(ctx, http.MethodGet, "/v1/batches/"+url.PathEscape(sessionID), nil, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBatches returns batches newest first.
func (c *Client) ListBatches(ctx context.Context, opts batch.ListOpts) ([]*batch.Batch, error) {
	q := pageQuery(opts.Limit, opts.Offset)
	for _, s := range opts.Statuses {
		q.Add("status", string(s))
	}
	if opts.Attention {
		q.Set("attention", "true")
	}
	if !opts.Newest {
		q.Set("order", "asc")
	}
	var out []*batch.Batch
	return out, c.do(ctx, http.MethodGet, "/v1/batches", q, nil, &out)
}

// Attention returns the batches an operator has to look at.
func (c *Client) Attention(ctx context.Context) ([]*batch.Batch, error) {
	var out []*batch.Batch
	return out, c.do(ctx, http.MethodGet, "/v1/batches/attention", nil, nil, &out)
}

// Resolve closes a batch manually.
func (c *Client) Resolve(ctx context.Context, sessionID, note string) (*batch.Batch, error) {
	var b batch.Batch
	body := map[string]string{"note": note}
	if err := c.do(ctx, http.MethodPost, "/v1/batches/"+url.PathEscape(sessionID)+"/resolve", nil, body, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Retry delivers a batch immediately and reports whether it was accepted.
func (c *Client) Retry(ctx context.Context, sessionID string) (bool, error) {
	var out struct {
		Delivered bool `json:"delivered"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/batches/"+url.PathEscape(sessionID)+"/retry", nil, nil, &out); err != nil {
		return false, err
	}
	return out.Delivered, nil
}

// ListRetries returns the retry queue.
func (c *Client) ListRetries(ctx context.Context, opts retryq.ListOpts) ([]*retryq.Entry, error) {
	var out []*retryq.Entry
	return out, c.do(ctx, http.MethodGet, "/v1/retries", pageQuery(opts.Limit, opts.Offset), nil, &out)
}

// ListAlerts returns alerts newest first.
func (c *Client) ListAlerts(ctx context.Context, opts alert.ListOpts) ([]*alert.Alert, error) {
	q := pageQuery(opts.Limit, opts.Offset)
	if opts.Type != "" {
		q.Set("type", string(opts.Type))
	}
	if opts.SessionID != "" {
		q.Set("session_id", opts.SessionID)
	}
	if opts.Unresolved {
		q.Set("unresolved", "true")
	}
	var out []*alert.Alert
	return out, c.do(ctx, http.MethodGet, "/v1/alerts", q, nil, &out)
}

// ResolveAlert marks an alert resolved.
func (c *Client) ResolveAlert(ctx context.Context, alertID string) error {
	return c.do(ctx, http.MethodPost, "/v1/alerts/"+url.PathEscape(alertID)+"/resolve", nil, nil, nil)
}

// ListPallets returns pallet records newest first.
func (c *Client) ListPallets(ctx context.Context, opts pallet.ListOpts) ([]*pallet.Pallet, error) {
	q := pageQuery(opts.Limit, opts.Offset)
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	var out []*pallet.Pallet
	return out, c.do(ctx, http.MethodGet, "/v1/pallets", q, nil, &out)
}

// AdvancePallet moves a pallet to a new shipment status.
func (c *Client) AdvancePallet(ctx context.Context, palletID string, status pallet.Status) (*pallet.Pallet, error) {
	var p pallet.Pallet
	body := map[string]string{"status": string(status)}
	if err := c.do(ctx, http.MethodPost, "/v1/pallets/"+url.PathEscape(palletID)+"/status", nil, body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Stats returns the station summary as raw JSON.
func (c *Client) Stats(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	return out, c.do(ctx, http.MethodGet, "/v1/stats", nil, nil, &out)
}

func pageQuery(limit, offset int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	return q
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("kegsync/client: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("kegsync/client: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("kegsync/client: %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &Error{StatusCode: res.StatusCode, Message: e.Error}
	}
	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("kegsync/client: decode %s: %w", path, err)
	}
	return nil
}
