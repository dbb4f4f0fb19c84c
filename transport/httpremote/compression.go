package httpremote

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Status mapping for body problems:
//   - invalid gzip → 400
//   - compressed or decompressed limit exceeded → 413
//   - unsupported media type or encoding → 415

var (
	errDecompressedTooLarge = errors.New("decompressed data exceeds maximum size limit")
	errUnsupportedMedia     = errors.New("unsupported media type")
)

// maxDecompressedReader enforces a limit on the bytes produced by a
// decompressing reader.
type maxDecompressedReader struct {
	reader   io.Reader
	limit    int64
	consumed int64
}

func (r *maxDecompressedReader) Read(p []byte) (int, error) {
	if r.consumed >= r.limit {
		return 0, errDecompressedTooLarge
	}

	if maxRead := r.limit - r.consumed; int64(len(p)) > maxRead {
		p = p[:maxRead]
	}

	n, err := r.reader.Read(p)
	r.consumed += int64(n)

	if r.consumed >= r.limit && err == nil {
		// At the limit: one more byte means the payload is too large.
		var probe [1]byte
		if m, _ := r.reader.Read(probe[:]); m > 0 {
			return n, errDecompressedTooLarge
		}
	}
	return n, err
}

// createSafeRequestReader returns a reader over r.Body that enforces the
// server's compressed and decompressed limits.
func createSafeRequestReader(w http.ResponseWriter, r *http.Request, options *ServerOptions) (io.Reader, func(), error) {
	noop := func() {}

	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
		return nil, noop, fmt.Errorf("%w: %s", errUnsupportedMedia, contentType)
	}
	if r.ContentLength > options.MaxRequestSize {
		return nil, noop, &http.MaxBytesError{Limit: options.MaxRequestSize}
	}

	encoding := strings.TrimSpace(strings.ToLower(r.Header.Get("Content-Encoding")))
	switch encoding {
	case "":
		limit := min(options.MaxRequestSize, options.MaxDecompressedSize)
		return http.MaxBytesReader(w, r.Body, limit), noop, nil
	case "gzip":
	default:
		return nil, noop, fmt.Errorf("%w: content encoding %s", errUnsupportedMedia, encoding)
	}

	gz, err := gzip.NewReader(http.MaxBytesReader(w, r.Body, options.MaxRequestSize))
	if err != nil {
		return nil, noop, fmt.Errorf("invalid gzip data: %w", err)
	}
	return &maxDecompressedReader{reader: gz, limit: options.MaxDecompressedSize}, func() { gz.Close() }, nil
}

// createSafeResponseReader is the client-side counterpart: it bounds the
// response body and decompresses it when the server answered with gzip.
func createSafeResponseReader(resp *http.Response, options *ClientOptions) (io.Reader, func(), error) {
	noop := func() {}

	if resp.ContentLength > options.MaxResponseSize {
		return nil, noop, fmt.Errorf("response body too large: %d bytes (max %d)", resp.ContentLength, options.MaxResponseSize)
	}
	limited := io.LimitReader(resp.Body, options.MaxResponseSize)

	if !strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		return limited, noop, nil
	}
	gz, err := gzip.NewReader(limited)
	if err != nil {
		return nil, noop, fmt.Errorf("invalid gzip response: %w", err)
	}
	return &maxDecompressedReader{reader: gz, limit: options.MaxDecompressedResponseSize}, func() { gz.Close() }, nil
}

// statusForBodyError maps a request body error to an HTTP status.
func statusForBodyError(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, errDecompressedTooLarge), errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errUnsupportedMedia):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadRequest
	}
}
