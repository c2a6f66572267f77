package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	clierr "github.com/ggonzalez94/xswap/internal/errors"
)

const (
	DefaultTimeout   = 30 * time.Second
	defaultUserAgent = "xswap/1.0"
)

// ObserveFunc receives one call per HTTP round trip. status is 0 when no
// response was received.
type ObserveFunc func(method, host string, status int, elapsed time.Duration)

type Options struct {
	Timeout           time.Duration
	Retries           int
	RequestsPerSecond float64
	BreakerName       string
	UserAgent         string
	Logger            *zap.Logger
	Observe           ObserveFunc
}

type Client struct {
	httpClient *http.Client
	retries    int
	userAgent  string
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	logger     *zap.Logger
	observe    ObserveFunc
}

// StatusError carries the HTTP status of a non-2xx provider response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string   { return fmt.Sprintf("status %d", e.Status) }
func (e *StatusError) StatusCode() int { return e.Status }

func New(timeout time.Duration, retries int) *Client {
	return NewWithOptions(Options{Timeout: timeout, Retries: retries})
}

func NewWithOptions(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.BreakerName == "" {
		opts.BreakerName = "provider"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		retries:    opts.Retries,
		userAgent:  opts.UserAgent,
		logger:     logger,
		observe:    opts.Observe,
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.BreakerName,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !clierr.HasCode(err, clierr.CodeUnavailable)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("provider circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c
}

// DoJSON sends req and decodes a 2xx JSON body into out. Rate-limited (429)
// responses are returned as CodeRateLimited without local retry; the caller
// owns that policy. 5xx and network failures are retried up to the
// configured count.
func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "request cancelled", err)
		}
	}

	var header http.Header
	_, err := c.breaker.Execute(func() (any, error) {
		h, err := c.do(ctx, req, out)
		header = h
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "provider temporarily unavailable", err)
	}
	return header, err
}

func (c *Client) do(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, clierr.Wrap(clierr.CodeUnavailable, "request cancelled", ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}

		cloneReq := req.Clone(ctx)
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, clierr.Wrap(clierr.CodeInternal, "clone request body", err)
			}
			cloneReq.Body = body
		}

		started := time.Now()
		resp, err := c.httpClient.Do(cloneReq)
		if err != nil {
			c.record(req, 0, started)
			lastErr = mapNetError(err)
			if attempt < c.retries {
				continue
			}
			return nil, lastErr
		}

		buf, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		c.record(req, resp.StatusCode, started)
		if readErr != nil {
			return resp.Header, clierr.Wrap(clierr.CodeUnavailable, "read provider response", readErr)
		}
		statusErr := &StatusError{Status: resp.StatusCode, Body: string(buf)}

		if resp.StatusCode == http.StatusTooManyRequests {
			return resp.Header, clierr.Wrap(clierr.CodeRateLimited, "provider rate limited request", statusErr)
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return resp.Header, clierr.Wrap(clierr.CodeAuth, "provider authentication failed", statusErr)
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("provider unavailable (status %d)", resp.StatusCode), statusErr)
			if attempt < c.retries {
				continue
			}
			return resp.Header, lastErr
		}

		if resp.StatusCode >= http.StatusBadRequest {
			msg := ProviderMessage(buf)
			if msg == "" {
				msg = fmt.Sprintf("provider rejected request (status %d)", resp.StatusCode)
			}
			return resp.Header, clierr.Wrap(clierr.CodeValidation, msg, statusErr)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return resp.Header, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("provider returned unexpected status %d", resp.StatusCode))
		}

		if out == nil {
			return resp.Header, nil
		}
		if len(bytes.TrimSpace(buf)) == 0 {
			return resp.Header, clierr.Malformed("provider returned empty response", nil)
		}
		if err := json.Unmarshal(buf, out); err != nil {
			return resp.Header, clierr.Malformed("decode provider JSON", err)
		}
		return resp.Header, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, clierr.New(clierr.CodeUnavailable, "request failed")
}

func (c *Client) record(req *http.Request, status int, started time.Time) {
	elapsed := time.Since(started)
	c.logger.Debug("provider request",
		zap.String("method", req.Method),
		zap.String("url", req.URL.Redacted()),
		zap.Int("status", status),
		zap.Duration("elapsed", elapsed))
	if c.observe != nil {
		c.observe(req.Method, req.URL.Host, status, elapsed)
	}
}

func DoBodyJSON(ctx context.Context, c *Client, method, url string, body []byte, headers map[string]string, out any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.DoJSON(ctx, req, out)
}

// ProviderMessage extracts a human-readable message from a provider error
// body, or "" when there is none.
func ProviderMessage(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, key := range []string{"errorMessage", "message", "error"} {
		if v, ok := payload[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func mapNetError(err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return clierr.Wrap(clierr.CodeUnavailable, "provider timeout", err)
	}
	return clierr.Wrap(clierr.CodeUnavailable, "provider request failed", err)
}

func backoff(attempt int) time.Duration {
	base := 120 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	jitter := time.Duration(rand.Intn(75)) * time.Millisecond
	return d + jitter
}
