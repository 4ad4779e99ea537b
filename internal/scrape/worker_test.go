package scrape

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testClock = fakeClock{at: time.Date(2025, 4, 10, 8, 30, 0, 0, time.UTC)}

// quickPolicy caps every backoff at one millisecond so retry tests stay fast.
func quickPolicy() *BackoffPolicy {
	return NewBackoffPolicy(time.Millisecond, time.Millisecond)
}

// TestWorkerFetchSuccess resolves a certificate on the first attempt.
func TestWorkerFetchSuccess(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{replies: []transportReply{
		{resp: Response{StatusCode: http.StatusOK, Body: []byte("<html>cert</html>")}},
	}}
	extractor := &fakeExtractor{
		fields: Fields{
			CourseName:     "Cybersecurity Basics",
			StudentName:    "Rashad Aliyev",
			CompletionDate: "2025-01-15",
			Duration:       "32 hours",
		},
		ok: true,
	}
	w := NewWorker(
		WorkerConfig{BaseURL: "https://data.edu.az/az/verified", MaxRetries: 3},
		transport, extractor, quickPolicy(), testClock, nil, nil,
	)

	out, err := w.Fetch(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, ClassSuccess, out.Class)
	require.Equal(t, int64(42), out.ID)
	require.Equal(t, "https://data.edu.az/az/verified/42/", out.URL)
	require.Equal(t, "Cybersecurity Basics", out.Fields.CourseName)
	require.Zero(t, out.Retries)
	require.Equal(t, testClock.at, out.ScrapedAt)
	require.Equal(t, 1, transport.callCount())
	require.Equal(t, []string{"https://data.edu.az/az/verified/42/"}, transport.requestedURLs())
}

// TestWorkerFetchTrailingSlashBase joins URLs identically when the base
// already carries a trailing slash.
func TestWorkerFetchTrailingSlashBase(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{replies: []transportReply{
		{resp: Response{StatusCode: http.StatusNotFound}},
	}}
	w := NewWorker(
		WorkerConfig{BaseURL: "https://data.edu.az/az/verified/", MaxRetries: 1},
		transport, &fakeExtractor{}, quickPolicy(), testClock, nil, nil,
	)

	_, err := w.Fetch(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, []string{"https://data.edu.az/az/verified/7/"}, transport.requestedURLs())
}

// TestWorkerFetchSkipsProcessed never touches the network for identifiers the
// registry already knows.
func TestWorkerFetchSkipsProcessed(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	registry := fakeRegistry{42: {}}
	w := NewWorker(
		WorkerConfig{BaseURL: "https://data.edu.az/az/verified", MaxRetries: 3},
		transport, &fakeExtractor{}, quickPolicy(), testClock, registry, nil,
	)

	_, err := w.Fetch(context.Background(), 42)
	require.ErrorIs(t, err, ErrAlreadyProcessed)
	require.Zero(t, transport.callCount())
}

// TestWorkerFetchNoData classifies a live page without certificate markup.
func TestWorkerFetchNoData(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{replies: []transportReply{
		{resp: Response{StatusCode: http.StatusOK, Body: []byte("<html></html>")}},
	}}
	w := NewWorker(
		WorkerConfig{BaseURL: "https://data.edu.az/az/verified", MaxRetries: 3},
		transport, &fakeExtractor{ok: false}, quickPolicy(), testClock, nil, nil,
	)

	out, err := w.Fetch(context.Background(), 8)
	require.NoError(t, err)
	require.Equal(t, ClassNoData, out.Class)
	require.False(t, out.Retryable())
	require.Equal(t, 1, transport.callCount())
}

// TestWorkerFetchNotFound treats 404 as terminal without retrying.
func TestWorkerFetchNotFound(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{replies: []transportReply{
		{resp: Response{StatusCode: http.StatusNotFound}},
	}}
	w := NewWorker(
		WorkerConfig{BaseURL: "https://data.edu.az/az/verified", MaxRetries: 5},
		transport, &fakeExtractor{}, quickPolicy(), testClock, nil, nil,
	)

	out, err := w.Fetch(context.Background(), 9)
	require.NoError(t, err)
	require.Equal(t, ClassNotFound, out.Class)
	require.Equal(t, 1, transport.callCount())

	_, hasRecord := out.Record()
	require.False(t, hasRecord)
}

// TestWorkerFetchClientErrorTerminal stops immediately on non-retryable HTTP
// statuses.
func TestWorkerFetchClientErrorTerminal(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{replies: []transportReply{
		{resp: Response{StatusCode: http.StatusForbidden}},
	}}
	w := NewWorker(
		WorkerConfig{BaseURL: "https://data.edu.az/az/verified", MaxRetries: 5},
		transport, &fakeExtractor{}, quickPolicy(), testClock, nil, nil,
	)

	out, err := w.Fetch(context.Background(), 11)
	require.NoError(t, err)
	require.Equal(t, ClassHTTPError, out.Class)
	require.Equal(t, http.StatusForbidden, out.StatusCode)
	require.Zero(t, out.Retries)
	require.Equal(t, 1, transport.callCount())
	require.Equal(t, "HTTP 403", out.StatusText())
}

// TestWorkerFetchRetriesServerError backs off through 5xx responses and
// reports how many attempts failed before success.
func TestWorkerFetchRetriesServerError(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{replies: []transportReply{
		{resp: Response{StatusCode: http.StatusInternalServerError}},
		{resp: Response{StatusCode: http.StatusBadGateway}},
		{resp: Response{StatusCode: http.StatusOK, Body: []byte("<html>cert</html>")}},
	}}
	w := NewWorker(
		WorkerConfig{BaseURL: "https://data.edu.az/az/verified", MaxRetries: 5},
		transport, &fakeExtractor{fields: Fields{CourseName: "IT Essentials"}, ok: true},
		quickPolicy(), testClock, nil, nil,
	)

	out, err := w.Fetch(context.Background(), 13)
	require.NoError(t, err)
	require.Equal(t, ClassSuccess, out.Class)
	require.Equal(t, 2, out.Retries)
	require.Equal(t, 3, transport.callCount())
}

// TestWorkerFetchExhaustsTimeouts returns the last classification with the
// full budget recorded once every attempt timed out.
func TestWorkerFetchExhaustsTimeouts(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{replies: []transportReply{
		{err: context.DeadlineExceeded},
	}}
	w := NewWorker(
		WorkerConfig{BaseURL: "https://data.edu.az/az/verified", MaxRetries: 3},
		transport, &fakeExtractor{}, quickPolicy(), testClock, nil, nil,
	)

	out, err := w.Fetch(context.Background(), 21)
	require.NoError(t, err)
	require.Equal(t, ClassTimeout, out.Class)
	require.Equal(t, 3, out.Retries)
	require.True(t, out.Retryable())
	require.Equal(t, 3, transport.callCount())
	require.Equal(t, "Timeout (Max Retries)", out.StatusText())
}

// TestWorkerFetchRateLimitedExhausted keeps hammering 429 until the budget is
// gone, then reports the rate-limit classification.
func TestWorkerFetchRateLimitedExhausted(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{replies: []transportReply{
		{resp: Response{StatusCode: http.StatusTooManyRequests}},
	}}
	w := NewWorker(
		WorkerConfig{BaseURL: "https://data.edu.az/az/verified", MaxRetries: 4},
		transport, &fakeExtractor{}, quickPolicy(), testClock, nil, nil,
	)

	out, err := w.Fetch(context.Background(), 30)
	require.NoError(t, err)
	require.Equal(t, ClassRateLimited, out.Class)
	require.Equal(t, 4, out.Retries)
	require.Equal(t, 4, transport.callCount())
	require.Equal(t, "Rate Limited (Max Retries)", out.StatusText())
}

// TestWorkerFetchNetworkError distinguishes generic connection failures from
// timeouts and preserves the underlying error.
func TestWorkerFetchNetworkError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connect: connection refused")
	transport := &fakeTransport{replies: []transportReply{{err: cause}}}
	w := NewWorker(
		WorkerConfig{BaseURL: "https://data.edu.az/az/verified", MaxRetries: 2},
		transport, &fakeExtractor{}, quickPolicy(), testClock, nil, nil,
	)

	out, err := w.Fetch(context.Background(), 33)
	require.NoError(t, err)
	require.Equal(t, ClassNetworkError, out.Class)
	require.ErrorIs(t, out.Err, cause)
	require.Equal(t, "Network Error: connect: connection refused", out.StatusText())
}

// TestWorkerFetchAbandonedOnCancel returns the context error instead of a
// classification when cancellation lands mid-fetch.
func TestWorkerFetchAbandonedOnCancel(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{replies: []transportReply{
		{resp: Response{StatusCode: http.StatusOK, Body: []byte("<html>cert</html>")}},
	}}
	w := NewWorker(
		WorkerConfig{BaseURL: "https://data.edu.az/az/verified", MaxRetries: 3},
		transport, &fakeExtractor{ok: true}, quickPolicy(), testClock, nil, nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := w.Fetch(ctx, 50)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, out.ID)
}

// TestWorkerFetchCancelledDuringBackoff observes cancellation while sleeping
// between attempts, bounding shutdown latency.
func TestWorkerFetchCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	transport := &fakeTransport{
		replies: []transportReply{{resp: Response{StatusCode: http.StatusInternalServerError}}},
		onGet: func(call int) {
			if call == 1 {
				go func() {
					time.Sleep(10 * time.Millisecond)
					cancel()
				}()
			}
		},
	}
	// Default policy: the first backoff is a full second, far longer than the
	// cancellation above.
	w := NewWorker(
		WorkerConfig{BaseURL: "https://data.edu.az/az/verified", MaxRetries: 5},
		transport, &fakeExtractor{}, NewBackoffPolicy(0, 0), testClock, nil, nil,
	)

	start := time.Now()
	_, err := w.Fetch(ctx, 60)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.Equal(t, 1, transport.callCount())
}

// TestWorkerFetchExtractorPanic degrades a panicking extractor to a no-data
// classification instead of killing the fetch.
func TestWorkerFetchExtractorPanic(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{replies: []transportReply{
		{resp: Response{StatusCode: http.StatusOK, Body: []byte("<html>broken")}},
	}}
	w := NewWorker(
		WorkerConfig{BaseURL: "https://data.edu.az/az/verified", MaxRetries: 3},
		transport, &fakeExtractor{panics: true}, quickPolicy(), testClock, nil, nil,
	)

	out, err := w.Fetch(context.Background(), 70)
	require.NoError(t, err)
	require.Equal(t, ClassNoData, out.Class)
}

type transportReply struct {
	resp Response
	err  error
}

// fakeTransport replays scripted replies; the final reply repeats forever.
type fakeTransport struct {
	mu      sync.Mutex
	replies []transportReply
	calls   int
	urls    []string
	onGet   func(call int)
}

func (f *fakeTransport) Get(_ context.Context, url string) (Response, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.urls = append(f.urls, url)
	var reply transportReply
	if len(f.replies) > 0 {
		reply = f.replies[0]
		if len(f.replies) > 1 {
			f.replies = f.replies[1:]
		}
	}
	hook := f.onGet
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return reply.resp, reply.err
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTransport) requestedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

type fakeExtractor struct {
	fields Fields
	ok     bool
	panics bool
}

func (f *fakeExtractor) Extract([]byte) (Fields, bool) {
	if f.panics {
		panic("malformed markup")
	}
	return f.fields, f.ok
}

type fakeClock struct {
	at time.Time
}

func (f fakeClock) Now() time.Time {
	return f.at
}

type fakeRegistry map[int64]struct{}

func (f fakeRegistry) Processed(id int64) bool {
	_, ok := f[id]
	return ok
}
