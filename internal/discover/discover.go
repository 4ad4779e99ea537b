// Package discover probes the certificate ID space for its live boundaries.
// Operators run it before a full scrape to avoid walking millions of dead
// identifiers.
package discover

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/certpull/certpull/internal/extract"
	"github.com/certpull/certpull/internal/scrape"
)

// ErrNoLiveIDs reports a search range with no live identifiers at all.
var ErrNoLiveIDs = errors.New("no live identifiers in range")

// Range is the discovered boundary pair. Probes counts how many page checks
// the search needed.
type Range struct {
	First  int64
	Last   int64
	Probes int
}

// Count returns the number of identifiers the range spans.
func (r Range) Count() int64 {
	return r.Last - r.First + 1
}

// Prober finds live ID boundaries by binary search. The search assumes the
// live region is contiguous and that the candidate range brackets it without
// a dead margin much larger than the region itself; probes landing in a
// large dead zone can steer the search away from a small live region
// entirely. Stray gaps inside the region can shift the reported boundaries
// by a few IDs, which is acceptable for range planning.
type Prober struct {
	transport scrape.Transport
	baseURL   string
	logger    *zap.Logger
}

// NewProber constructs a Prober against baseURL.
func NewProber(baseURL string, transport scrape.Transport, logger *zap.Logger) (*Prober, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		transport: transport,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}, nil
}

// FindRange locates the first and last live identifiers inside [start, end].
// It returns ErrNoLiveIDs when nothing in the range answers with a live page.
func (p *Prober) FindRange(ctx context.Context, start, end int64) (Range, error) {
	if start <= 0 || end < start {
		return Range{}, fmt.Errorf("invalid search range [%d, %d]", start, end)
	}

	probes := 0
	first, found, err := p.searchFirst(ctx, start, end, &probes)
	if err != nil {
		return Range{}, err
	}
	if !found {
		return Range{}, fmt.Errorf("probing [%d, %d]: %w", start, end, ErrNoLiveIDs)
	}

	// The upper boundary can only sit at or above the first live ID, so the
	// second search starts there.
	last, found, err := p.searchLast(ctx, first, end, &probes)
	if err != nil {
		return Range{}, err
	}
	if !found {
		last = first
	}

	r := Range{First: first, Last: last, Probes: probes}
	p.logger.Info("live range discovered",
		zap.Int64("first", r.First),
		zap.Int64("last", r.Last),
		zap.Int64("count", r.Count()),
		zap.Int("probes", r.Probes),
	)
	return r, nil
}

// Exists reports whether id resolves to a live certificate page: an HTTP 200
// whose body renders at least one heading. Transport failures count as not
// live unless the context was cancelled.
func (p *Prober) Exists(ctx context.Context, id int64) (bool, error) {
	url := p.baseURL + "/" + strconv.FormatInt(id, 10) + "/"
	resp, err := p.transport.Get(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		p.logger.Warn("probe failed", zap.Int64("id", id), zap.Error(err))
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	return extract.HasContent(resp.Body), nil
}

func (p *Prober) searchFirst(ctx context.Context, start, end int64, probes *int) (int64, bool, error) {
	left, right := start, end
	var first int64
	found := false
	for left <= right {
		mid := left + (right-left)/2
		*probes++
		live, err := p.Exists(ctx, mid)
		if err != nil {
			return 0, false, err
		}
		p.logger.Debug("probe", zap.Int64("id", mid), zap.Bool("live", live))
		if live {
			first = mid
			found = true
			right = mid - 1
		} else {
			left = mid + 1
		}
	}
	return first, found, nil
}

func (p *Prober) searchLast(ctx context.Context, start, end int64, probes *int) (int64, bool, error) {
	left, right := start, end
	var last int64
	found := false
	for left <= right {
		mid := left + (right-left)/2
		*probes++
		live, err := p.Exists(ctx, mid)
		if err != nil {
			return 0, false, err
		}
		p.logger.Debug("probe", zap.Int64("id", mid), zap.Bool("live", live))
		if live {
			last = mid
			found = true
			left = mid + 1
		} else {
			right = mid - 1
		}
	}
	return last, found, nil
}
