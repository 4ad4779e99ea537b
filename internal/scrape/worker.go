package scrape

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/certpull/certpull/internal/metrics"
)

// ErrAlreadyProcessed reports a fetch that was skipped because the Identifier
// was resolved by an earlier run.
var ErrAlreadyProcessed = errors.New("identifier already processed")

// WorkerConfig controls Worker behavior.
type WorkerConfig struct {
	BaseURL    string
	MaxRetries int
}

// Worker resolves one Identifier per Fetch call. It holds no mutable state:
// every call returns a value and leaves all bookkeeping to the engine, which
// keeps workers independently testable and safe to run concurrently.
type Worker struct {
	transport Transport
	extractor Extractor
	policy    *BackoffPolicy
	clock     Clock
	registry  Registry
	cfg       WorkerConfig
	logger    *zap.Logger
}

// NewWorker constructs a Worker.
func NewWorker(
	cfg WorkerConfig,
	transport Transport,
	extractor Extractor,
	policy *BackoffPolicy,
	clock Clock,
	registry Registry,
	logger *zap.Logger,
) *Worker {
	if policy == nil {
		policy = NewBackoffPolicy(0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	metrics.Init()
	return &Worker{
		transport: transport,
		extractor: extractor,
		policy:    policy,
		clock:     clock,
		registry:  registry,
		cfg:       cfg,
		logger:    logger,
	}
}

// Fetch resolves the Identifier. Identifiers already processed are skipped
// without touching the network. Retryable classifications back off and retry
// up to the attempt budget; exhausting the budget returns the last
// classification with Retries set to the full budget. The error return is
// non-nil only when the fetch was abandoned before classification.
func (w *Worker) Fetch(ctx context.Context, id int64) (Outcome, error) {
	if w.registry != nil && w.registry.Processed(id) {
		return Outcome{}, ErrAlreadyProcessed
	}
	url := w.pageURL(id)

	var last Outcome
	for attempt := 0; attempt < w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := w.policy.Delay(last.Class, attempt-1)
			metrics.ObserveRetry(delay)
			w.logger.Debug("retrying fetch",
				zap.Int64("id", id),
				zap.String("class", last.Class.String()),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", delay),
			)
			if err := sleepContext(ctx, delay); err != nil {
				return Outcome{}, err
			}
		}

		resp, err := w.transport.Get(ctx, url)
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}

		last = w.classify(id, url, resp, err, attempt)
		if !last.Retryable() {
			return last, nil
		}
	}

	last.Retries = w.cfg.MaxRetries
	return last, nil
}

func (w *Worker) classify(id int64, url string, resp Response, err error, attempt int) Outcome {
	out := Outcome{
		ID:        id,
		URL:       url,
		ScrapedAt: w.clock.Now(),
		Retries:   attempt,
	}

	if err != nil {
		out.Err = err
		if isTimeout(err) {
			out.Class = ClassTimeout
		} else {
			out.Class = ClassNetworkError
		}
		return out
	}

	out.StatusCode = resp.StatusCode
	switch {
	case resp.StatusCode == http.StatusOK:
		if fields, ok := w.safeExtract(resp.Body); ok {
			out.Class = ClassSuccess
			out.Fields = fields
		} else {
			out.Class = ClassNoData
		}
	case resp.StatusCode == http.StatusNotFound:
		out.Class = ClassNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		out.Class = ClassRateLimited
	default:
		out.Class = ClassHTTPError
	}
	return out
}

// safeExtract shields the pipeline from extractor panics on malformed input;
// a panic is treated as a page without certificate data.
func (w *Worker) safeExtract(raw []byte) (fields Fields, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Warn("extractor panicked, treating page as no data", zap.Any("panic", r))
			fields = Fields{}
			ok = false
		}
	}()
	return w.extractor.Extract(raw)
}

func (w *Worker) pageURL(id int64) string {
	return strings.TrimSuffix(w.cfg.BaseURL, "/") + "/" + strconv.FormatInt(id, 10) + "/"
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
