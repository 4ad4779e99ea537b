package scrape

import (
	"fmt"
	"time"
)

// Class is the classification of one resolved fetch.
type Class int

// Classification values. Timeout, NetworkError, and RateLimited are retryable;
// HTTPError is retryable only for server errors. NotFound is terminal-negative
// and never produces a dataset row.
const (
	ClassSuccess Class = iota
	ClassNoData
	ClassNotFound
	ClassHTTPError
	ClassTimeout
	ClassNetworkError
	ClassRateLimited
)

// String returns the label used in logs and metrics.
func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassNoData:
		return "no_data"
	case ClassNotFound:
		return "not_found"
	case ClassHTTPError:
		return "http_error"
	case ClassTimeout:
		return "timeout"
	case ClassNetworkError:
		return "network_error"
	case ClassRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Outcome is the result of resolving one Identifier. A worker returns exactly
// one Outcome per dispatched Identifier; all state mutation driven by it
// happens in the engine.
type Outcome struct {
	ID         int64
	URL        string
	Class      Class
	StatusCode int
	Fields     Fields
	Retries    int
	ScrapedAt  time.Time
	Err        error
}

// Retryable reports whether this classification warrants another attempt.
// An Outcome returned by a worker with Retryable still true means the retry
// budget was exhausted.
func (o Outcome) Retryable() bool {
	switch o.Class {
	case ClassTimeout, ClassNetworkError, ClassRateLimited:
		return true
	case ClassHTTPError:
		return o.StatusCode >= 500
	default:
		return false
	}
}

// statusTextMaxErrLen bounds the error detail carried into the Status column.
const statusTextMaxErrLen = 50

// StatusText renders the Status column value for this outcome.
func (o Outcome) StatusText() string {
	switch o.Class {
	case ClassSuccess:
		return "Success"
	case ClassNoData:
		return "No Certificate Data"
	case ClassNotFound:
		return "Not Found"
	case ClassHTTPError:
		return fmt.Sprintf("HTTP %d", o.StatusCode)
	case ClassTimeout:
		return "Timeout (Max Retries)"
	case ClassNetworkError:
		detail := "unknown"
		if o.Err != nil {
			detail = o.Err.Error()
		}
		if len(detail) > statusTextMaxErrLen {
			detail = detail[:statusTextMaxErrLen]
		}
		return "Network Error: " + detail
	case ClassRateLimited:
		return "Rate Limited (Max Retries)"
	default:
		return "Unknown"
	}
}

// Record converts the outcome into a dataset row. The second return value is
// false for NotFound: confirmed-absent identifiers are tracked as processed
// but never written to the dataset.
func (o Outcome) Record() (Record, bool) {
	if o.Class == ClassNotFound {
		return Record{}, false
	}
	return Record{
		ID:              o.ID,
		CourseName:      o.Fields.CourseName,
		StudentName:     o.Fields.StudentName,
		CompletionDate:  o.Fields.CompletionDate,
		Duration:        o.Fields.Duration,
		VerificationURL: o.URL,
		Status:          o.StatusText(),
		ScrapedAt:       o.ScrapedAt,
		Retries:         o.Retries,
	}, true
}
