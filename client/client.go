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
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/webatelier/formgate/instrumentation"
	"github.com/webatelier/formgate/security"
	"github.com/webatelier/formgate/token"
)

const (
	// DefaultMaxAttempts is the retry ceiling per call, counting the
	// first attempt.
	DefaultMaxAttempts = 3

	// DefaultBackoffBase is the unit for exponential backoff: the wait
	// before attempt n is DefaultBackoffBase * 2^n.
	DefaultBackoffBase = time.Second

	// DefaultHTTPTimeout bounds each individual attempt so an unbounded
	// attempt cannot stall the whole backoff ladder.
	DefaultHTTPTimeout = 30 * time.Second

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 10 << 20
)

// NetworkError indicates no response was received after exhausting all
// attempts.
type NetworkError struct {
	URL      string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("request to %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

// Unwrap exposes the final transport error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ResponseError indicates the API answered with a 2xx status but a body
// that could not be decoded into the expected shape. Retrying will not fix
// a malformed payload, so it is terminal.
type ResponseError struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	return fmt.Sprintf("unusable response from %s: %v", e.URL, e.Err)
}

// Unwrap exposes the decoding error.
func (e *ResponseError) Unwrap() error {
	return e.Err
}

// Request describes one call to the downstream API.
type Request struct {
	// Method defaults to GET when empty.
	Method string

	// URL is the absolute request URL (required).
	URL string

	// Body, when non-nil, is sent as the JSON request body.
	Body []byte

	// Header carries additional headers; the client adds authorization,
	// content type, and correlation headers itself.
	Header http.Header

	// Endpoint is the logical rate limit key (e.g. "calendar"). Empty
	// disables rate limiting for this call.
	Endpoint string
}

// Response is the decoded outcome of a successful call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Config holds resilient client configuration.
type Config struct {
	// Tokens supplies bearer credentials (required).
	Tokens *token.Manager

	// Limiter guards calls per logical endpoint (optional).
	Limiter *security.SlidingWindowLimiter

	// MaxAttempts overrides DefaultMaxAttempts when positive.
	MaxAttempts int

	// BackoffBase overrides DefaultBackoffBase when positive.
	BackoffBase time.Duration

	// PaceRate, when positive, smooths outbound calls to this many
	// requests per second with PaceBurst headroom, independent of the
	// sliding-window limiter.
	PaceRate  float64
	PaceBurst int

	// DisableBreaker turns off the circuit breaker around attempts.
	DisableBreaker bool

	// HTTPClient overrides the default per-attempt HTTP client.
	HTTPClient *http.Client

	// Logger for structured logging (optional).
	Logger *slog.Logger
}

// ResilientClient executes authenticated requests with retry, backoff, and
// on-demand reauthentication. Independent concurrent calls interleave
// freely; each maintains its own retry state.
type ResilientClient struct {
	http        *http.Client
	tokens      *token.Manager
	limiter     *security.SlidingWindowLimiter
	breaker     *gobreaker.CircuitBreaker
	pacer       *rate.Limiter
	maxAttempts int
	backoffBase time.Duration
	metrics     *instrumentation.Metrics
	logger      *slog.Logger

	// sleep is replaced in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a resilient client.
func New(cfg Config) (*ResilientClient, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token manager is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	c := &ResilientClient{
		http:        httpClient,
		tokens:      cfg.Tokens,
		limiter:     cfg.Limiter,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		logger:      cfg.Logger,
		sleep:       sleepContext,
	}

	if !cfg.DisableBreaker {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "formgate-api",
			MaxRequests: 5,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}

	if cfg.PaceRate > 0 {
		burst := cfg.PaceBurst
		if burst <= 0 {
			burst = 1
		}
		c.pacer = rate.NewLimiter(rate.Limit(cfg.PaceRate), burst)
	}

	return c, nil
}

// SetMetrics attaches instrumentation. Safe to leave unset.
func (c *ResilientClient) SetMetrics(metrics *instrumentation.Metrics) {
	c.metrics = metrics
}

// Do executes a request. If the endpoint is currently rate limited the
// call fails fast with a *security.RateLimitError before any network
// activity.
func (c *ResilientClient) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || req.URL == "" {
		return nil, fmt.Errorf("request URL is required")
	}

	// finalStatus stays 0 when no response was ever received.
	start := time.Now()
	finalStatus := 0
	defer func() {
		c.metrics.RecordAPIRequest(ctx, req.Endpoint, finalStatus, time.Since(start))
	}()

	if c.limiter != nil && req.Endpoint != "" {
		decision := c.limiter.Check(req.Endpoint)
		if !decision.Allowed {
			c.logger.Warn("Outbound call rejected by rate limiter",
				"endpoint", req.Endpoint,
				"retry_after", decision.RetryAfter)
			return nil, &security.RateLimitError{
				Endpoint:   req.Endpoint,
				RetryAfter: decision.RetryAfter,
				Blocked:    decision.Blocked,
			}
		}
	}

	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, fmt.Errorf("pacing wait aborted: %w", err)
		}
	}

	accessToken, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	requestID := security.GenerateRequestID()
	reauthed := false
	var lastNetErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		resp, err := c.send(ctx, req, accessToken, requestID)
		if err != nil {
			// Network-level failure: no response at all.
			lastNetErr = err
			c.record(req.Endpoint, false)
			c.logger.Debug("Attempt failed with network error",
				"url", req.URL,
				"attempt", attempt+1,
				"error", err)
			if attempt+1 >= c.maxAttempts {
				break
			}
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			c.record(req.Endpoint, false)
			if reauthed {
				// A second 401 is terminal: the credentials are
				// systematically invalid, looping will not fix them.
				finalStatus = http.StatusUnauthorized
				return nil, token.NewAuthError(token.ErrorCodeServerError,
					"API rejected a freshly refreshed token", http.StatusUnauthorized)
			}
			reauthed = true
			c.tokens.Clear()
			accessToken, err = c.tokens.Refresh(ctx)
			if err != nil {
				return nil, err
			}
			// Retry immediately with the new token; the reauth retry
			// does not consume a backoff attempt.
			attempt--
			continue

		case resp.StatusCode == http.StatusTooManyRequests:
			c.record(req.Endpoint, false)
			if attempt+1 >= c.maxAttempts {
				finalStatus = http.StatusTooManyRequests
				return nil, &security.RateLimitError{
					Endpoint:   req.Endpoint,
					RetryAfter: retryAfterHint(resp.Header),
				}
			}
			delay := retryAfterHint(resp.Header)
			if delay <= 0 {
				delay = c.backoffDelay(attempt)
			}
			c.logger.Debug("API returned 429, backing off",
				"url", req.URL,
				"attempt", attempt+1,
				"delay", delay)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue

		case resp.StatusCode >= 200 && resp.StatusCode <= 299:
			c.record(req.Endpoint, true)
			finalStatus = resp.StatusCode
			return resp, nil

		default:
			// Other statuses are application-level outcomes the caller
			// interprets; they are not retried here.
			c.record(req.Endpoint, false)
			finalStatus = resp.StatusCode
			return resp, nil
		}
	}

	return nil, &NetworkError{URL: req.URL, Attempts: c.maxAttempts, Err: lastNetErr}
}

// DoJSON executes a request and decodes a 2xx JSON body into out. A 2xx
// response with an unparseable body is a terminal *ResponseError.
func (c *ResilientClient) DoJSON(ctx context.Context, req *Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &ResponseError{URL: req.URL, Err: err}
	}
	return nil
}

// send performs one HTTP attempt through the circuit breaker.
func (c *ResilientClient) send(ctx context.Context, req *Request, accessToken, requestID string) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(security.RequestIDHeader, requestID)

	do := func() (*Response, error) {
		httpResp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer httpResp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}

		return &Response{
			StatusCode: httpResp.StatusCode,
			Header:     httpResp.Header,
			Body:       respBody,
		}, nil
	}

	if c.breaker == nil {
		return do()
	}

	v, err := c.breaker.Execute(func() (interface{}, error) {
		return do()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("circuit breaker open for %s: %w", req.URL, err)
		}
		return nil, err
	}
	return v.(*Response), nil
}

// record reports an attempt outcome to the rate limiter.
func (c *ResilientClient) record(endpoint string, success bool) {
	if c.limiter != nil && endpoint != "" {
		c.limiter.Record(endpoint, success)
	}
}

// backoff sleeps for the exponential delay of the given attempt.
func (c *ResilientClient) backoff(ctx context.Context, attempt int) error {
	return c.sleep(ctx, c.backoffDelay(attempt))
}

// backoffDelay computes base * 2^attempt.
func (c *ResilientClient) backoffDelay(attempt int) time.Duration {
	return c.backoffBase * (1 << attempt)
}

// retryAfterHint parses a Retry-After header, returning 0 when absent or
// malformed.
func retryAfterHint(h http.Header) time.Duration {
	value := h.Get("Retry-After")
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// sleepContext waits for d unless the context is canceled first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
