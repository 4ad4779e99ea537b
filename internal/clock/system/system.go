// Package system provides the real wall clock.
package system

import (
	"time"

	"github.com/certpull/certpull/internal/scrape"
)

// Clock implements scrape.Clock with time.Now. All timestamps the scraper
// persists are UTC, so the conversion happens here rather than at every
// call site.
type Clock struct{}

var _ scrape.Clock = Clock{}

// New creates a Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
