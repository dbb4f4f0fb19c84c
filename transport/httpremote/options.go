package httpremote

import (
	"log/slog"
	"net/http"
	"time"
)

// ServerOptions configures a Handler.
type ServerOptions struct {
	// MaxRequestSize bounds request bodies as sent (compressed). Defaults to 10MB.
	MaxRequestSize int64

	// MaxDecompressedSize bounds gzip request bodies after decompression.
	// Defaults to 20MB.
	MaxDecompressedSize int64

	// CompressionEnabled gzips responses of at least CompressionThreshold
	// bytes for clients that accept it.
	CompressionEnabled   bool
	CompressionThreshold int64

	Logger *slog.Logger
}

// DefaultServerOptions returns the default server options.
func DefaultServerOptions() *ServerOptions {
	return &ServerOptions{
		MaxRequestSize:       10 * 1024 * 1024,
		MaxDecompressedSize:  20 * 1024 * 1024,
		CompressionEnabled:   true,
		CompressionThreshold: 1024,
	}
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// HTTPClient performs the requests. Defaults to a client with
	// RequestTimeout.
	HTTPClient *http.Client

	// CompressionEnabled gzips request bodies larger than GzipMinBytes and
	// asks for gzip responses.
	CompressionEnabled bool
	GzipMinBytes       int

	// MaxResponseSize bounds response bodies as received. Defaults to 10MB.
	MaxResponseSize int64

	// MaxDecompressedResponseSize bounds gzip responses after decompression.
	// Defaults to 20MB.
	MaxDecompressedResponseSize int64

	RequestTimeout time.Duration

	// Header is added to every request.
	Header http.Header

	Logger *slog.Logger
}

// DefaultClientOptions returns the default client options.
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		CompressionEnabled:          true,
		GzipMinBytes:                1024,
		MaxResponseSize:             10 * 1024 * 1024,
		MaxDecompressedResponseSize: 20 * 1024 * 1024,
		RequestTimeout:              30 * time.Second,
	}
}

// ServerOption configures ServerOptions.
type ServerOption func(*ServerOptions)

// WithMaxRequestSize sets the maximum accepted request body size.
func WithMaxRequestSize(size int64) ServerOption {
	return func(o *ServerOptions) { o.MaxRequestSize = size }
}

// WithMaxDecompressedSize sets the maximum decompressed request body size.
func WithMaxDecompressedSize(size int64) ServerOption {
	return func(o *ServerOptions) { o.MaxDecompressedSize = size }
}

// WithCompression enables or disables response compression.
func WithCompression(enabled bool) ServerOption {
	return func(o *ServerOptions) { o.CompressionEnabled = enabled }
}

// WithCompressionThreshold sets the minimum response size for compression.
func WithCompressionThreshold(size int64) ServerOption {
	return func(o *ServerOptions) { o.CompressionThreshold = size }
}

func WithServerLogger(l *slog.Logger) ServerOption {
	return func(o *ServerOptions) { o.Logger = l }
}

// ClientOption configures ClientOptions.
type ClientOption func(*ClientOptions)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *ClientOptions) { o.HTTPClient = c }
}

// WithClientCompression enables or disables request and response compression.
func WithClientCompression(enabled bool) ClientOption {
	return func(o *ClientOptions) { o.CompressionEnabled = enabled }
}

// WithGzipMinBytes sets the body size above which requests are gzipped.
func WithGzipMinBytes(n int) ClientOption {
	return func(o *ClientOptions) { o.GzipMinBytes = n }
}

// WithMaxResponseSize sets the maximum accepted response body size.
func WithMaxResponseSize(size int64) ClientOption {
	return func(o *ClientOptions) { o.MaxResponseSize = size }
}

// WithClientTimeout sets the timeout of the default HTTP client.
func WithClientTimeout(d time.Duration) ClientOption {
	return func(o *ClientOptions) { o.RequestTimeout = d }
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) ClientOption {
	return func(o *ClientOptions) {
		if o.Header == nil {
			o.Header = make(http.Header)
		}
		o.Header.Add(key, value)
	}
}

func WithClientLogger(l *slog.Logger) ClientOption {
	return func(o *ClientOptions) { o.Logger = l }
}

func applyServerOptions(opts ...ServerOption) *ServerOptions {
	options := DefaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.MaxRequestSize <= 0 {
		options.MaxRequestSize = 10 * 1024 * 1024
	}
	if options.MaxDecompressedSize <= 0 {
		options.MaxDecompressedSize = 20 * 1024 * 1024
	}
	return options
}

func applyClientOptions(opts ...ClientOption) *ClientOptions {
	options := DefaultClientOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.MaxResponseSize <= 0 {
		options.MaxResponseSize = 10 * 1024 * 1024
	}
	if options.MaxDecompressedResponseSize <= 0 {
		options.MaxDecompressedResponseSize = 20 * 1024 * 1024
	}
	if options.HTTPClient == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		// Responses are decompressed by createSafeResponseReader so both
		// limits apply.
		tr.DisableCompression = true
		options.HTTPClient = &http.Client{Transport: tr, Timeout: options.RequestTimeout}
	}
	return options
}
