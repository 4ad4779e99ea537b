// Package transport provides the HTTP client fetch workers use to retrieve
// certificate pages. It is built on the Colly collector with a context-aware
// request rate limiter in front.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/certpull/certpull/internal/scrape"
)

// Defaults applied when Config fields are left zero.
const (
	DefaultTimeout        = 10 * time.Second
	DefaultConnectTimeout = 5 * time.Second
	DefaultUserAgent      = "certpull/1.0"
)

// Config controls the HTTP client.
//   - Timeout bounds one whole attempt; retries get a fresh budget.
//   - ConnectTimeout bounds dialing only.
//   - RequestsPerSecond throttles outbound requests across all workers;
//     zero disables throttling.
type Config struct {
	UserAgent         string
	Timeout           time.Duration
	ConnectTimeout    time.Duration
	Concurrency       int
	RequestsPerSecond float64
}

// Client implements scrape.Transport. A base collector carries the shared
// transport and timeouts; each Get clones it so per-request callbacks never
// leak between concurrent fetches.
type Client struct {
	base    *colly.Collector
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New constructs a Client from cfg.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
		colly.IgnoreRobotsTxt(),
	)
	// Workers revisit the same URL across retries and runs.
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       cfg.Concurrency * 2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.Timeout)

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Concurrency)
	}

	return &Client{
		base:    base,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// Get retrieves one page. HTTP statuses, including 4xx and 5xx, come back as
// a Response with a nil error so the worker can classify them; the error
// return is reserved for requests that produced no status at all (dial
// failures, timeouts, cancellation).
func (c *Client) Get(ctx context.Context, rawURL string) (scrape.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return scrape.Response{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	collector := c.base.Clone()
	resultCh := make(chan getResult, 1)
	var once sync.Once
	send := func(res getResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		send(getResult{resp: scrape.Response{
			StatusCode: r.StatusCode,
			Body:       append([]byte{}, r.Body...),
		}})
	})

	collector.OnError(func(r *colly.Response, err error) {
		// Colly reports non-2xx statuses through OnError; those still carry
		// a usable status code and belong to the classifier, not to the
		// error path.
		if r != nil && r.StatusCode != 0 {
			send(getResult{resp: scrape.Response{
				StatusCode: r.StatusCode,
				Body:       append([]byte{}, r.Body...),
			}})
			return
		}
		if err == nil {
			err = errors.New("unknown transport error")
		}
		send(getResult{err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		return scrape.Response{}, err
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return scrape.Response{}, err
		}
		return res.resp, res.err
	default:
		return scrape.Response{}, errors.New("fetch produced no result")
	}
}

type getResult struct {
	resp scrape.Response
	err  error
}
