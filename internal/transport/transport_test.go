package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestClientGetSuccess fetches a page and returns its status and body.
func TestClientGetSuccess(t *testing.T) {
	t.Parallel()

	var gotUA atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.UserAgent())
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<html><body><h1>cert</h1></body></html>`))
	}))
	defer server.Close()

	client, err := New(Config{UserAgent: "certpull-test/1.0", Concurrency: 2}, nil)
	require.NoError(t, err)

	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "<h1>cert</h1>")
	require.Equal(t, "certpull-test/1.0", gotUA.Load())
}

// TestClientGetStatusErrors surfaces 4xx and 5xx replies as responses, not
// errors, so the worker can classify them.
func TestClientGetStatusErrors(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusNotFound, http.StatusTooManyRequests, http.StatusInternalServerError} {
		status := status
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte("nope"))
		}))

		client, err := New(Config{Concurrency: 1}, nil)
		require.NoError(t, err)

		resp, err := client.Get(context.Background(), server.URL)
		require.NoError(t, err, "status %d must not be an error", status)
		require.Equal(t, status, resp.StatusCode)
		server.Close()
	}
}

// TestClientGetConnectionRefused returns an error when nothing is listening.
func TestClientGetConnectionRefused(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	url := server.URL
	server.Close()

	client, err := New(Config{Concurrency: 1}, nil)
	require.NoError(t, err)

	_, err = client.Get(context.Background(), url)
	require.Error(t, err)
}

// TestClientGetTimeout reports slow servers through the error path with a
// timeout-classified error.
func TestClientGetTimeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := New(Config{Timeout: 50 * time.Millisecond, Concurrency: 1}, nil)
	require.NoError(t, err)

	_, err = client.Get(context.Background(), server.URL)
	require.Error(t, err)

	var netErr net.Error
	if errors.As(err, &netErr) {
		require.True(t, netErr.Timeout())
	}
}

// TestClientGetRevisitsURL allows fetching the same URL repeatedly, which
// retries and resumed runs depend on.
func TestClientGetRevisitsURL(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client, err := New(Config{Concurrency: 1}, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		resp, gerr := client.Get(context.Background(), server.URL)
		require.NoError(t, gerr)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	require.Equal(t, int64(3), hits.Load())
}

// TestClientGetThrottles spaces sequential requests according to the
// configured rate.
func TestClientGetThrottles(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := New(Config{Concurrency: 1, RequestsPerSecond: 5}, nil)
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 2; i++ {
		_, gerr := client.Get(context.Background(), server.URL)
		require.NoError(t, gerr)
	}
	// Burst of one: the second request must wait for the next token, at
	// least ~200ms at 5 rps.
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

// TestClientGetCancelledContext refuses to deliver a result for a dead
// context.
func TestClientGetCancelledContext(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := New(Config{Concurrency: 1}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = client.Get(ctx, server.URL)
	require.ErrorIs(t, err, context.Canceled)
}
