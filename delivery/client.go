// Package delivery submits batch payloads to the cloud endpoint.
//
// A Submit call is the fast path: up to MaxAttempts inline attempts with a
// short exponential backoff between them. Callers hand the payload to the
// durable retry queue when Submit reports failure.
package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
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

	"github.com/xraph/kegsync/backoff"
)

// userAgent identifies the station to the cloud.
const userAgent = "KegDetectionSystem/1.0"

// maxBodyBytes bounds how much of a response body is kept.
const maxBodyBytes = 64 << 10

// palletIDFields is the probe order for the pallet id in a response.
var palletIDFields = []string{"paletteId", "palletId", "id"}

// Config holds the delivery endpoint configuration.
type Config struct {
	// Endpoint is the batch submission URL.
	Endpoint string
	// BeerTypesEndpoint is the beer-type catalogue URL. Empty disables it.
	BeerTypesEndpoint string
	// MacID identifies the camera station in every payload.
	MacID string
	// Timeout bounds each HTTP attempt.
	Timeout time.Duration
	// MaxAttempts is the number of inline attempts per Submit.
	MaxAttempts int
	// Hash embeds an integrity hash in each payload.
	Hash bool
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
	// TLSFallback retries over plain http:// after a TLS failure.
	TLSFallback bool
}

// DefaultConfig returns the production delivery defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:     10 * time.Second,
		MaxAttempts: 3,
		Hash:        true,
		TLSFallback: true,
	}
}

// Result is the outcome of a Submit call.
type Result struct {
	// OK is true when the endpoint answered 2xx.
	OK bool
	// StatusCode is the last HTTP status seen, or 0.
	StatusCode int
	// Body is the (truncated) last response body.
	Body string
	// PalletID is the pallet identifier found in a successful response.
	PalletID string
	// Attempts is the number of attempts made.
	Attempts int
	// Payload is the document actually sent (with hash when enabled).
	Payload json.RawMessage
	// Err is the last error; nil when OK.
	Err error
	// Terminal is true when a non-network error aborted the loop early.
	Terminal bool
}

// Client performs HTTP delivery.
type Client struct {
	cfg     Config
	http    *http.Client
	backoff backoff.Strategy
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBackoff sets the delay between inline attempts.
func WithBackoff(s backoff.Strategy) Option {
	return func(c *Client) { c.backoff = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a delivery client.
func New(cfg Config, opts ...Option) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for stations with self-signed endpoints
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Transport: transport},
		backoff: backoff.Inline(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the client's configuration.
func (c *Client) Config() Config { return c.cfg }

// Submit delivers payload with inline retries. A 2xx answer is success;
// other statuses, timeouts and network errors are retried; a TLS failure
// gets one extra attempt over http:// when TLSFallback is set; anything
// else aborts immediately with Terminal set.
func (c *Client) Submit(ctx context.Context, payload json.RawMessage) Result {
	res := Result{Payload: payload}

	if c.cfg.Hash {
		signed, err := Sign(payload)
		if err != nil {
			res.Err = err
			res.Terminal = true
			return res
		}
		res.Payload = signed
	}

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		res.Attempts = attempt

		status, body, err := c.post(ctx, c.cfg.Endpoint, res.Payload)
		if err != nil && isTLSError(err) && c.cfg.TLSFallback {
			if plain, ok := plainURL(c.cfg.Endpoint); ok {
				c.logger.Warn("tls failure, trying plain http fallback",
					slog.String("url", plain),
					slog.String("error", err.Error()),
				)
				fbStatus, fbBody, fbErr := c.post(ctx, plain, res.Payload)
				if fbErr == nil && isSuccess(fbStatus) {
					status, body, err = fbStatus, fbBody, nil
				} else {
					err = fmt.Errorf("tls verification failed: %w", err)
				}
			}
		}

		var reqErr *requestError
		switch {
		case errors.As(err, &reqErr):
			res.Err = err
			res.Terminal = true
			c.logger.Error("delivery aborted", slog.String("error", err.Error()))
			return res
		case err != nil:
			res.Err = err
		default:
			res.StatusCode = status
			res.Body = string(body)
			if isSuccess(status) {
				res.OK = true
				res.Err = nil
				res.PalletID = ParsePalletID(body)
				return res
			}
			res.Err = fmt.Errorf("HTTP %d: %s", status, truncate(res.Body, 200))
		}

		c.logger.Warn("delivery attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.cfg.MaxAttempts),
			slog.String("error", res.Err.Error()),
		)

		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}
		if attempt < c.cfg.MaxAttempts {
			if err := sleep(ctx, c.backoff.Delay(attempt)); err != nil {
				res.Err = err
				return res
			}
		}
	}
	return res
}

// requestError marks failures that happen before anything reaches the
// network; retrying cannot fix them.
type requestError struct{ err error }

func (e *requestError) Error() string { return "build request: " + e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func (c *Client) post(ctx context.Context, endpoint string, body []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, &requestError{err: err}
	}
	setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
}

// ParsePalletID returns the first non-empty pallet identifier in body,
// probing paletteId, palletId and id in that order.
func ParsePalletID(body []byte) string {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return ""
	}
	for _, key := range palletIDFields {
		switch v := fields[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}

// BeerType is one entry of the cloud beer-type catalogue.
type BeerType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BeerTypes fetches the beer-type catalogue for this station.
func (c *Client) BeerTypes(ctx context.Context) ([]BeerType, error) {
	if c.cfg.BeerTypesEndpoint == "" {
		return nil, errors.New("delivery: beer types endpoint not configured")
	}
	body, err := json.Marshal(map[string]string{"macId": c.cfg.MacID})
	if err != nil {
		return nil, fmt.Errorf("delivery: beer types: %w", err)
	}
	status, data, err := c.post(ctx, c.cfg.BeerTypesEndpoint, body)
	if err != nil {
		return nil, fmt.Errorf("delivery: beer types: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("delivery: beer types: HTTP %d: %s", status, truncate(string(data), 200))
	}
	return parseBeerTypes(data)
}

// parseBeerTypes accepts a list (of objects or strings) or an object
// holding the list under beer_types, types or beerTypes.
func parseBeerTypes(data []byte) ([]BeerType, error) {
	var raw json.RawMessage = data
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err == nil {
		raw = nil
		for _, key := range []string{"beer_types", "types", "beerTypes"} {
			if v, ok := obj[key]; ok {
				raw = v
				break
			}
		}
		if raw == nil {
			return []BeerType{}, nil
		}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("delivery: beer types: %w", err)
	}
	out := make([]BeerType, 0, len(items))
	for _, item := range items {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			out = append(out, BeerType{ID: name, Name: name})
			continue
		}
		var bt struct {
			ID   json.RawMessage `json:"id"`
			Name string          `json:"name"`
		}
		if err := json.Unmarshal(item, &bt); err != nil {
			return nil, fmt.Errorf("delivery: beer types: %w", err)
		}
		out = append(out, BeerType{ID: beerTypeID(bt.ID), Name: bt.Name})
	}
	return out, nil
}

// beerTypeID renders a string or numeric id. Anything else is empty.
func beerTypeID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// Probe reports whether the endpoint's host answers. Any status below 500
// counts as online.
func (c *Client) Probe(ctx context.Context) bool {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil || u.Host == "" {
		return false
	}
	base := u.Scheme + "://" + u.Host + "/"

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
	if err != nil {
		return false
	}
	setHeaders(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	_ = resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func isTLSError(err error) bool {
	var (
		verifyErr   *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		unknownErr  x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidErr  x509.CertificateInvalidError
		alertErr    tls.AlertError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &recordErr) ||
		errors.As(err, &unknownErr) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidErr) ||
		errors.As(err, &alertErr)
}

func plainURL(endpoint string) (string, bool) {
	if !strings.HasPrefix(endpoint, "https://") {
		return "", false
	}
	return "http://" + strings.TrimPrefix(endpoint, "https://"), true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
