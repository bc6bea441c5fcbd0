package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"datasetclient/pkg/apperrors"
)

// Defaults applied by New.
const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "colonycore-dataset-client-go/0.1"
)

// Config holds the constructor-level settings of a Client.
type Config struct {
	BaseURL    string        // Service root, e.g. https://colony.example.com (required)
	APIKey     string        // Sent as a bearer token when non-empty
	Timeout    time.Duration // Per-request timeout (default: 30s)
	UserAgent  string        // default: DefaultUserAgent
	HTTPClient *http.Client  // Optional shared client for connection reuse or test doubles
}

// Recorder receives client-side measurements. *observability.Metrics satisfies it.
type Recorder interface {
	RecordRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration)
	RecordExportSubmitted(ctx context.Context, template string)
	RecordExportPoll(ctx context.Context, status string)
	RecordExportTerminal(ctx context.Context, status string, elapsed time.Duration)
	RecordWaitActive(ctx context.Context, delta int64)
	RecordArtifactDownloaded(ctx context.Context, format string, bytes int64)
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest(context.Context, string, string, int, time.Duration) {}
func (nopRecorder) RecordExportSubmitted(context.Context, string)                     {}
func (nopRecorder) RecordExportPoll(context.Context, string)                          {}
func (nopRecorder) RecordExportTerminal(context.Context, string, time.Duration)       {}
func (nopRecorder) RecordWaitActive(context.Context, int64)                           {}
func (nopRecorder) RecordArtifactDownloaded(context.Context, string, int64)           {}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the logger used for request and lifecycle logs (default: slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the recorder for client metrics.
func WithMetrics(r Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.metrics = r
		}
	}
}

// WithClock replaces the clock driving WaitForExport.
func WithClock(clock Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// Client talks to the Dataset Service REST API.
//
// A Client holds no mutable state after New returns and is safe for
// concurrent use; the only shared resource is the HTTP connection pool.
type Client struct {
	baseURL    *url.URL
	base       string // baseURL without trailing slash
	headers    http.Header
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	metrics    Recorder
	clock      Clock
}

// New creates a Client. BaseURL must be an absolute http or https URL.
func New(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, apperrors.Validation("baseURL", "base URL is required")
	}
	parsed, err := validateBaseURL(base)
	if err != nil {
		return nil, apperrors.Validation("baseURL", fmt.Sprintf("invalid base URL: %v", err))
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	headers := make(http.Header)
	headers.Set("Accept", "application/json")
	headers.Set("User-Agent", userAgent)
	if cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient()
	}

	c := &Client{
		baseURL:    parsed,
		base:       base,
		headers:    headers,
		timeout:    timeout,
		httpClient: httpClient,
		logger:     slog.Default(),
		metrics:    nopRecorder{},
		clock:      realClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the service root the client was built with.
func (c *Client) BaseURL() string {
	return c.base
}

// newHTTPClient builds the default pooled client. Timeouts are applied per
// request through the context, so the client itself has none.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func validateBaseURL(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("malformed URL")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("URL must have a host")
	}
	return parsed, nil
}
