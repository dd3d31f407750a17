// Package http builds the outbound HTTP clients used by data providers.
package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"task-router/internal/common/errors"
	"task-router/internal/common/utils"
)

// ClientConfig holds HTTP client configuration
type ClientConfig struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	InsecureSkipVerify  bool
}

// DefaultClientConfig returns default HTTP client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// ClientOption is a function that modifies ClientConfig
type ClientOption func(*ClientConfig)

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithMaxIdleConnsPerHost sets the maximum number of idle connections per
// host. Zero keeps the default.
func WithMaxIdleConnsPerHost(max int) ClientOption {
	return func(c *ClientConfig) {
		if max > 0 {
			c.MaxIdleConnsPerHost = max
		}
	}
}

// WithInsecureSkipVerify disables TLS certificate verification
func WithInsecureSkipVerify() ClientOption {
	return func(c *ClientConfig) {
		c.InsecureSkipVerify = true
	}
}

// NewHTTPClient creates a new HTTP client with the given options
func NewHTTPClient(opts ...ClientOption) *http.Client {
	cfg := DefaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
}

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Success reports whether the status is 2xx
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Getter issues GET requests with retries. Server errors and transport
// failures are retried, any other status is handed back to the caller.
type Getter struct {
	client *http.Client
	retry  utils.RetryConfig
}

// NewGetter creates a Getter. A zero retry config means a single attempt.
func NewGetter(client *http.Client, retry utils.RetryConfig) *Getter {
	if client == nil {
		client = NewHTTPClient()
	}
	retry.RetryableErrors = isRetryable
	return &Getter{client: client, retry: retry}
}

// Get fetches url with headers. The error is nil whenever a response arrived
// with a status below 500.
func (g *Getter) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	var response *Response
	err := utils.RetryWithBackoff(ctx, g.retry, func() error {
		var reqErr error
		response, reqErr = g.do(ctx, url, headers)
		return reqErr
	})
	return response, err
}

func (g *Getter) do(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.ValidationError(fmt.Sprintf("invalid request url %q: %v", url, err))
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.ConnectionError("request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.ConnectionError("failed to read response body", err)
	}

	response := &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Duration:   time.Since(start),
	}
	if resp.StatusCode >= 500 {
		return response, errors.UnavailableError(fmt.Sprintf("HTTP %d", resp.StatusCode), nil)
	}
	return response, nil
}

func isRetryable(err error) bool {
	switch errors.GetType(err) {
	case errors.ErrTypeConnection, errors.ErrTypeUnavailable:
		return true
	}
	return false
}
