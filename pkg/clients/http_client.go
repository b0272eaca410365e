// Package clients provides the HTTP client used by REST based bindings
package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/machconn/pkg/errors"
	jsonpool "github.com/ajitpratap0/machconn/pkg/json"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// HTTPClient is an HTTP client with rate limiting, a circuit breaker and
// optional token authentication
type HTTPClient struct {
	config     *HTTPConfig
	baseURL    string
	logger     *zap.Logger
	httpClient *http.Client
	transport  *http.Transport

	totalRequests  int64
	failedRequests int64

	circuitBreaker *CircuitBreaker
	rateLimiter    *rate.Limiter
}

// HTTPConfig configures the HTTP client
type HTTPConfig struct {
	// Connection settings
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout"`

	// HTTP/2 settings
	EnableHTTP2 bool `json:"enable_http2"`

	// Timeouts
	DialTimeout    time.Duration `json:"dial_timeout"`
	RequestTimeout time.Duration `json:"request_timeout"`
	KeepAlive      time.Duration `json:"keep_alive"`

	// TLS settings
	InsecureSkipVerify bool `json:"insecure_skip_verify"`

	// Rate limiting; 0 disables
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`

	// Circuit breaker
	CircuitBreakerEnabled bool          `json:"circuit_breaker_enabled"`
	FailureThreshold      int           `json:"failure_threshold"`
	SuccessThreshold      int           `json:"success_threshold"`
	Timeout               time.Duration `json:"timeout"`

	UserAgent string            `json:"user_agent"`
	Headers   map[string]string `json:"headers,omitempty"`

	// TokenSource, when set, authorizes every request with a bearer token
	TokenSource oauth2.TokenSource `json:"-"`
	// BasicAuth, when set, is sent as user and password
	BasicAuth *BasicAuth `json:"-"`
	// Transport replaces the default transport (tests)
	Transport http.RoundTripper `json:"-"`
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// DefaultHTTPConfig returns the default configuration
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		EnableHTTP2:           true,
		DialTimeout:           10 * time.Second,
		RequestTimeout:        30 * time.Second,
		KeepAlive:             30 * time.Second,
		RateLimit:             50.0, // requests per second
		RateBurst:             10,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		SuccessThreshold:      2,
		Timeout:               30 * time.Second,
		UserAgent:             "machconn/1.0",
	}
}

// NewHTTPClient creates a client for baseURL. Relative request paths are
// resolved against baseURL.
func NewHTTPClient(baseURL string, config *HTTPConfig, logger *zap.Logger) *HTTPClient {
	if config == nil {
		config = DefaultHTTPConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &HTTPClient{
		config:  config,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger.With(zap.String("component", "http_client")),
	}

	var rt http.RoundTripper = config.Transport
	if rt == nil {
		client.transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   config.DialTimeout,
				KeepAlive: config.KeepAlive,
			}).DialContext,
			MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
			IdleConnTimeout:     config.IdleConnTimeout,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: config.InsecureSkipVerify, //nolint:gosec // operator opt-in
				MinVersion:         tls.VersionTLS12,
			},
		}
		if config.EnableHTTP2 {
			if err := http2.ConfigureTransport(client.transport); err != nil {
				client.logger.Warn("failed to configure HTTP/2", zap.Error(err))
			}
		}
		rt = client.transport
	}

	if config.TokenSource != nil {
		rt = &oauth2.Transport{Source: oauth2.ReuseTokenSource(nil, config.TokenSource), Base: rt}
	}

	client.httpClient = &http.Client{
		Transport: rt,
		Timeout:   config.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	if config.RateLimit > 0 {
		client.rateLimiter = NewRateLimiter(config.RateLimit, config.RateBurst)
	}
	if config.CircuitBreakerEnabled {
		client.circuitBreaker = NewCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: config.FailureThreshold,
			SuccessThreshold: config.SuccessThreshold,
			Timeout:          config.Timeout,
		}, client.logger)
	}

	return client
}

// StatusError is returned for non 2xx responses
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Get performs an HTTP GET request
func (c *HTTPClient) Get(ctx context.Context, path string, headers map[string]string) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, headers)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post performs an HTTP POST request
func (c *HTTPClient) Post(ctx context.Context, path string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, body, headers)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Put performs an HTTP PUT request
func (c *HTTPClient) Put(ctx context.Context, path string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodPut, path, body, headers)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Delete performs an HTTP DELETE request
func (c *HTTPClient) Delete(ctx context.Context, path string, headers map[string]string) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodDelete, path, nil, headers)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Do performs an HTTP request through the rate limiter and circuit breaker.
// Server errors count as circuit breaker failures.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(req.Context()); err != nil {
			atomic.AddInt64(&c.failedRequests, 1)
			return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "rate limit wait")
		}
	}

	if c.circuitBreaker != nil && !c.circuitBreaker.Allow() {
		atomic.AddInt64(&c.failedRequests, 1)
		return nil, errors.New(errors.ErrorTypeConnection, "circuit breaker open")
	}

	atomic.AddInt64(&c.totalRequests, 1)
	start := time.Now()
	resp, err := c.httpClient.Do(req)

	if err != nil || resp.StatusCode >= 500 {
		atomic.AddInt64(&c.failedRequests, 1)
		if c.circuitBreaker != nil {
			c.circuitBreaker.RecordFailure()
		}
	} else if c.circuitBreaker != nil {
		c.circuitBreaker.RecordSuccess()
	}

	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, fmt.Sprintf("%s %s", req.Method, req.URL.Redacted()))
	}
	c.logger.Debug("http request",
		zap.String("method", req.Method),
		zap.String("url", req.URL.Redacted()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))
	return resp, nil
}

// DoJSON sends in (when non-nil) as a JSON body and decodes a JSON response
// into out (when non-nil). Non 2xx responses are returned as typed errors
// wrapping a *StatusError.
func (c *HTTPClient) DoJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := jsonpool.Marshal(in)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeValidation, "encode request body")
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, body, map[string]string{"Accept": "application/json"})
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return classifyStatus(&StatusError{
			Method:     method,
			URL:        req.URL.Redacted(),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
		})
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := jsonpool.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return errors.Wrap(err, errors.ErrorTypeIO, "decode response body")
	}
	return nil
}

func classifyStatus(se *StatusError) error {
	switch {
	case se.StatusCode == http.StatusNotFound:
		return errors.Wrap(se, errors.ErrorTypeNotFound, "resource not found")
	case se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden:
		return errors.Wrap(se, errors.ErrorTypeAuthentication, "request rejected")
	case se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500:
		return errors.Wrap(se, errors.ErrorTypeConnection, "server unavailable")
	default:
		return errors.Wrap(se, errors.ErrorTypeValidation, "request failed")
	}
}

func (c *HTTPClient) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimPrefix(path, "/")
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "build request")
	}

	for key, value := range c.config.Headers {
		req.Header.Set(key, value)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("User-Agent") == "" && c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.BasicAuth != nil {
		req.SetBasicAuth(c.config.BasicAuth.Username, c.config.BasicAuth.Password)
	}
	return req, nil
}

// GetStats returns current client statistics
func (c *HTTPClient) GetStats() HTTPStats {
	total := atomic.LoadInt64(&c.totalRequests)
	failed := atomic.LoadInt64(&c.failedRequests)

	stats := HTTPStats{
		TotalRequests:  total,
		FailedRequests: failed,
	}
	if total > 0 {
		stats.SuccessRate = float64(total-failed) / float64(total) * 100
	}
	if c.circuitBreaker != nil {
		stats.CircuitState = c.circuitBreaker.State().String()
	}
	return stats
}

// Close releases idle connections
func (c *HTTPClient) Close() error {
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
	return nil
}

// HTTPStats represents HTTP client statistics
type HTTPStats struct {
	TotalRequests  int64   `json:"total_requests"`
	FailedRequests int64   `json:"failed_requests"`
	SuccessRate    float64 `json:"success_rate"`
	CircuitState   string  `json:"circuit_state,omitempty"`
}
