package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/xswap/internal/errors"
)

func get(t *testing.T, client *Client, url string, out any) error {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	_, err = client.DoJSON(context.Background(), req, out)
	return err
}

func TestDoJSONRetriesServerError(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&count, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"x"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out map[string]any
	if err := get(t, New(2*time.Second, 1), srv.URL, &out); err != nil {
		t.Fatalf("DoJSON failed: %v", err)
	}
	if out["ok"] != true {
		t.Fatalf("unexpected response: %#v", out)
	}
}

func TestDoJSONDoesNotRetryRateLimit(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := get(t, New(2*time.Second, 3), srv.URL, nil)
	if !clierr.IsRateLimited(err) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if clierr.ExitCode(err) != int(clierr.CodeRateLimited) {
		t.Fatalf("unexpected exit code %d", clierr.ExitCode(err))
	}
	if atomic.LoadInt32(&count) != 1 {
		t.Fatalf("expected a single attempt, got %d", count)
	}
}

func TestDoJSONSurfacesProviderMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errorCode":1,"errorId":"INCORRECT_TOKEN","errorMessage":"Token is not supported"}`))
	}))
	defer srv.Close()

	err := get(t, New(2*time.Second, 0), srv.URL, nil)
	cliErr, ok := clierr.As(err)
	if !ok || cliErr.Code != clierr.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if cliErr.Message != "Token is not supported" {
		t.Fatalf("unexpected message %q", cliErr.Message)
	}
}

func TestDoJSONBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(2*time.Second, 0)
	for i := 0; i < 6; i++ {
		if err := get(t, client, srv.URL, nil); clierr.ExitCode(err) != int(clierr.CodeUnavailable) {
			t.Fatalf("attempt %d: expected unavailable, got %v", i, err)
		}
	}
	err := get(t, client, srv.URL, nil)
	if clierr.ExitCode(err) != int(clierr.CodeUnavailable) {
		t.Fatalf("expected unavailable from open breaker, got %v", err)
	}
	if atomic.LoadInt32(&count) != 6 {
		t.Fatalf("expected breaker to short-circuit the 7th call, server saw %d", count)
	}
}

func TestDoJSONMalformedBodyIsValidationError(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		_, _ = w.Write([]byte(`{"estimation":"oops"}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 0)
	for i := 0; i < 7; i++ {
		var out struct {
			Estimation struct {
				Amount string `json:"amount"`
			} `json:"estimation"`
		}
		err := get(t, client, srv.URL, &out)
		if clierr.ExitCode(err) != int(clierr.CodeValidation) || !errors.Is(err, clierr.ErrMalformedResponse) {
			t.Fatalf("attempt %d: expected malformed validation error, got %v", i, err)
		}
	}
	if atomic.LoadInt32(&count) != 7 {
		t.Fatalf("malformed bodies must not open the breaker, server saw %d calls", count)
	}
}

func TestDoJSONEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	var out map[string]any
	err := get(t, New(2*time.Second, 0), srv.URL, &out)
	if !errors.Is(err, clierr.ErrMalformedResponse) {
		t.Fatalf("expected malformed response error, got %v", err)
	}
}

func TestDoJSONObserve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var statuses []int
	client := NewWithOptions(Options{Timeout: time.Second, Observe: func(method, host string, status int, elapsed time.Duration) {
		statuses = append(statuses, status)
	}})
	var out map[string]any
	if err := get(t, client, srv.URL, &out); err != nil {
		t.Fatalf("DoJSON failed: %v", err)
	}
	if len(statuses) != 1 || statuses[0] != http.StatusOK {
		t.Fatalf("unexpected observed statuses %v", statuses)
	}
}

func TestProviderMessage(t *testing.T) {
	if got := ProviderMessage([]byte(`{"message":" bad amount "}`)); got != "bad amount" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := ProviderMessage([]byte(`not json`)); got != "" {
		t.Fatalf("expected empty message, got %q", got)
	}
}
