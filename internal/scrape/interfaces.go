package scrape

import (
	"context"
	"time"
)

// Response is the transport-level result of one GET attempt.
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport issues one GET against the registry. Implementations must return
// the raw status code and body on any HTTP response, and an error only for
// transport-level failures (timeouts, connection errors, cancellation).
type Transport interface {
	Get(ctx context.Context, url string) (Response, error)
}

// Extractor pulls structured fields out of a raw certificate page. It must be
// pure and must not panic on malformed input; a false return means the page
// carries no extractable certificate.
type Extractor interface {
	Extract(raw []byte) (Fields, bool)
}

// Registry answers whether an Identifier has already been attempted. The
// tracker satisfies it; workers consult it to skip resolved work without
// owning any state themselves.
type Registry interface {
	Processed(id int64) bool
}

// Fetcher resolves one Identifier to an Outcome. The error return is non-nil
// only when the fetch was abandoned (cancellation or an already-processed
// Identifier), in which case the Outcome carries no information.
type Fetcher interface {
	Fetch(ctx context.Context, id int64) (Outcome, error)
}

// DatasetStore persists and recovers the accumulated record set.
type DatasetStore interface {
	// Persist atomically replaces the dataset with the given rows. The prior
	// file must survive intact if any step fails.
	Persist(records []Record) error
	// Load reads the dataset back, falling back to the backup generation on
	// corruption and restoring the primary from it.
	Load() ([]Record, error)
	// Backup copies the current dataset to the backup path if it exists.
	Backup() error
	// Digest returns the integrity digest of the dataset file on disk, or an
	// empty string when the file does not exist.
	Digest() (string, error)
	// EmergencyDump writes the rows to a distinctly named, timestamped file
	// that never collides with the primary/backup pair.
	EmergencyDump(records []Record) (string, error)
}

// CheckpointStore persists tracker snapshots between batches.
type CheckpointStore interface {
	Save(cp Checkpoint) error
	// Load returns the last checkpoint; the second value is false when no
	// checkpoint exists.
	Load() (Checkpoint, bool, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
