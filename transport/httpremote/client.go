// Package httpremote exposes a collection over JSON REST and consumes one:
// Client implements resource.Remote, Handler serves any resource.Remote.
//
//	GET    /{collection}        list
//	POST   /{collection}        create
//	GET    /{collection}/{id}   get
//	PUT    /{collection}/{id}   update
//	DELETE /{collection}/{id}   delete
package httpremote

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	optErrors "github.com/c0deZ3R0/go-optimistic-kit/errors"
	"github.com/c0deZ3R0/go-optimistic-kit/logging"
	"github.com/c0deZ3R0/go-optimistic-kit/resource"
)

// Client is a resource.Remote backed by a REST collection.
type Client[T resource.Entity] struct {
	baseURL    string
	collection string
	options    *ClientOptions
	logger     *slog.Logger
}

var _ resource.Remote[resource.Entity] = (*Client[resource.Entity])(nil)

// NewClient returns a client for baseURL + "/" + collection.
func NewClient[T resource.Entity](baseURL, collection string, opts ...ClientOption) *Client[T] {
	options := applyClientOptions(opts...)
	logger := options.Logger
	if logger == nil {
		logger = logging.WithComponent(component).Logger
	}
	return &Client[T]{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: strings.Trim(collection, "/"),
		options:    options,
		logger:     logger.With("collection", collection),
	}
}

// BaseURL returns the collection URL.
func (c *Client[T]) BaseURL() string {
	return c.baseURL + "/" + c.collection
}

func (c *Client[T]) List(ctx context.Context) ([]T, error) {
	var out []T
	if err := c.do(ctx, optErrors.OpLoad, http.MethodGet, "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client[T]) Get(ctx context.Context, id string) (T, error) {
	var out T
	err := c.do(ctx, optErrors.OpLoad, http.MethodGet, id, nil, &out)
	return out, err
}

func (c *Client[T]) Create(ctx context.Context, item T) (T, error) {
	var out T
	err := c.do(ctx, optErrors.OpTransport, http.MethodPost, "", item, &out)
	return out, err
}

func (c *Client[T]) Update(ctx context.Context, item T) (T, error) {
	var out T
	if item.GetID() == "" {
		return out, optErrors.NewValidationError(optErrors.OpTransport, fmt.Errorf("update of %s needs an id", c.collection))
	}
	err := c.do(ctx, optErrors.OpTransport, http.MethodPut, item.GetID(), item, &out)
	return out, err
}

func (c *Client[T]) Delete(ctx context.Context, id string) error {
	return c.do(ctx, optErrors.OpTransport, http.MethodDelete, id, nil, nil)
}

func (c *Client[T]) url(id string) string {
	if id == "" {
		return c.BaseURL()
	}
	return c.BaseURL() + "/" + url.PathEscape(id)
}

// do sends one request and decodes a 2xx JSON answer into out.
func (c *Client[T]) do(ctx context.Context, op optErrors.Operation, method, id string, body any, out any) error {
	target := c.url(id)

	var (
		payload  []byte
		encoding string
	)
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return optErrors.NewValidationError(op, fmt.Errorf("failed to marshal request: %w", err))
		}
		if c.options.CompressionEnabled && len(payload) > c.options.GzipMinBytes {
			if payload, err = gzipBytes(payload); err != nil {
				return optErrors.NewWithComponent(op, component, fmt.Errorf("failed to compress request: %w", err))
			}
			encoding = "gzip"
		}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return optErrors.NewWithComponent(op, component, fmt.Errorf("failed to create request: %w", err))
	}
	for k, vs := range c.options.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}
	if c.options.CompressionEnabled {
		req.Header.Set("Accept-Encoding", "gzip")
	}

	c.logger.DebugContext(ctx, "sending request", slog.String("method", method), slog.String("url", target))

	resp, err := c.options.HTTPClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return optErrors.NewWithComponent(op, component, ctxErr)
		}
		c.logger.WarnContext(ctx, "request failed",
			slog.String("method", method),
			slog.String("url", target),
			slog.String("error", err.Error()))
		e := optErrors.NewRetryable(op, fmt.Errorf("network error: %w", err))
		e.Component = component
		e.Kind = optErrors.KindUnavailable
		return e
	}
	defer resp.Body.Close()

	bodyReader, cleanup, err := createSafeResponseReader(resp, c.options)
	if err != nil {
		return optErrors.NewWithComponent(op, component, err)
	}
	defer cleanup()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		raw, _ := io.ReadAll(io.LimitReader(bodyReader, 64*1024))
		if json.Unmarshal(raw, &eb) != nil {
			eb.Error = strings.TrimSpace(string(raw))
		}
		c.logger.DebugContext(ctx, "request returned error status",
			slog.String("method", method),
			slog.String("url", target),
			slog.Int("status_code", resp.StatusCode))
		return statusError(op, method, req.URL.Path, resp.StatusCode, eb)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, bodyReader)
		return nil
	}
	if err := json.NewDecoder(bodyReader).Decode(out); err != nil {
		if errors.Is(err, errDecompressedTooLarge) {
			return optErrors.NewWithComponent(op, component, fmt.Errorf("response decompressed size exceeds limit: %w", err))
		}
		return optErrors.NewWithComponent(op, component, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
