package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xraph/kegsync/backoff"
	"github.com/xraph/kegsync/stream"
)

// Watch follows the station's event stream on topics and returns a channel
// of events. With no topics it follows the firehose. The channel is closed
// when ctx ends or the stream drops and cannot be reopened.
//
// Topics follow the stream convention:
//   - "batch:<sessionID>"  events of one batch
//   - "batches"            every batch event
//   - "retries"            retry queue events
//   - "network"            connectivity changes
//   - "firehose"           everything
func (c *Client) Watch(ctx context.Context, topics ...string) (<-chan *stream.Event, error) {
	q := url.Values{}
	for _, t := range topics {
		if err := stream.ValidateTopic(t); err != nil {
			return nil, err
		}
		q.Add("topic", t)
	}

	res, err := c.openStream(ctx, q)
	if err != nil {
		return nil, err
	}

	ch := make(chan *stream.Event, 64)
	go c.watchLoop(ctx, q, res, ch)
	return ch, nil
}

func (c *Client) openStream(ctx context.Context, q url.Values) (*http.Response, error) {
	u := c.base + "/v1/stream"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("kegsync/client: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream is long lived; the client-wide timeout does not apply.
	hc := *c.http
	hc.Timeout = 0
	res, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kegsync/client: open stream: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		defer res.Body.Close()
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(res.Body).Decode(&e)
		return nil, &Error{StatusCode: res.StatusCode, Message: e.Error}
	}
	return res, nil
}

func (c *Client) watchLoop(ctx context.Context, q url.Values, res *http.Response, ch chan<- *stream.Event) {
	defer close(ch)
	delays := backoff.NewExponential(c.baseDelay, time.Minute)

	for attempt := 0; ; {
		readEvents(ctx, res, ch, c.logger)
		_ = res.Body.Close()

		if ctx.Err() != nil || !c.reconnect {
			return
		}
		for {
			attempt++
			if attempt > c.maxRetries {
				c.logger.Warn("kegsync/client: stream reconnect gave up", slog.Int("attempts", attempt-1))
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delays.Delay(attempt)):
			}
			next, err := c.openStream(ctx, q)
			if err != nil {
				c.logger.Warn("kegsync/client: stream reconnect failed",
					slog.Int("attempt", attempt),
					slog.String("error", err.Error()),
				)
				continue
			}
			res = next
			attempt = 0
			break
		}
	}
}

// readEvents parses server-sent events until the body ends.
func readEvents(ctx context.Context, res *http.Response, ch chan<- *stream.Event, logger *slog.Logger) {
	sc := bufio.NewScanner(res.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var evt stream.Event
			if err := json.Unmarshal([]byte(data.String()), &evt); err != nil {
				logger.Warn("kegsync/client: bad stream event", slog.String("error", err.Error()))
			} else {
				select {
				case ch <- &evt:
				case <-ctx.Done():
					return
				}
			}
			data.Reset()
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}
