package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	kiterr "github.com/c0deZ3R0/go-optimistic-kit/errors"
)

// Client consumes a Hub stream, reconnecting with exponential backoff and
// resuming after the last event it saw.
type Client struct {
	URL        string
	Client     *http.Client
	MinBackoff time.Duration
	MaxBackoff time.Duration

	lastID atomic.Int64
}

// NewClient creates a client for the stream at url.
func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		URL:        url,
		Client:     httpClient,
		MinBackoff: 250 * time.Millisecond,
		MaxBackoff: 5 * time.Second,
	}
}

// LastEventID returns the id of the last event passed to a handler.
func (c *Client) LastEventID() int64 { return c.lastID.Load() }

// Subscribe calls handler for every event until ctx is done or handler
// returns an error. Dropped connections and non-200 answers are retried.
func (c *Client) Subscribe(ctx context.Context, handler func(Event) error) error {
	backoff := c.MinBackoff
	for {
		connected, err := c.stream(ctx, handler)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var hErr *handlerError
		if kiterr.As(err, &hErr) {
			return kiterr.E(kiterr.Op("sse.Subscribe"), kiterr.Component("transport/sse"), hErr.err, "handler")
		}
		if connected {
			backoff = c.MinBackoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.MaxBackoff {
			backoff = c.MaxBackoff
		}
	}
}

type handlerError struct{ err error }

func (e *handlerError) Error() string { return e.err.Error() }

// stream runs one connection. connected reports whether the server accepted
// the stream.
func (c *Client) stream(ctx context.Context, handler func(Event) error) (connected bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if id := c.lastID.Load(); id > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(id, 10))
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 10<<20)
	var data []byte
	for sc.Scan() {
		line := sc.Bytes()
		switch {
		case len(line) == 0:
			if len(data) == 0 {
				continue
			}
			var ev Event
			if err := json.Unmarshal(data, &ev); err != nil {
				return true, fmt.Errorf("decode event: %w", err)
			}
			data = data[:0]
			if err := handler(ev); err != nil {
				return true, &handlerError{err: err}
			}
			c.lastID.Store(ev.ID)
		case bytes.HasPrefix(line, []byte("data: ")):
			data = append(data, bytes.TrimPrefix(line, []byte("data: "))...)
		}
	}
	return true, sc.Err()
}
