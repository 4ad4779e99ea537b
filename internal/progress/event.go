package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageBatchDone   Stage = "BATCH_DONE"
	StagePersistDone Stage = "PERSIST_DONE"
	StageFetchDone   Stage = "FETCH_DONE"
	StageRunDone     Stage = "RUN_DONE"
	StageRunError    Stage = "RUN_ERROR"
)

// Persist cycle results carried in the Outcome field of PERSIST_DONE events.
const (
	PersistWritten = "written"
	PersistSkipped = "skipped"
	PersistFailed  = "failed"
)

// Event captures a single milestone of a scrape run. Lifecycle stages carry
// cumulative counter snapshots; FETCH_DONE events describe one certificate ID.
type Event struct {
	// RunID uniquely identifies a scrape run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or fetch milestone occurred.
	Stage Stage
	// ID is the certificate ID for FETCH_DONE events.
	ID int64
	// Outcome is the fetch classification (success, not_found, ...) for
	// FETCH_DONE events, or the persist result for PERSIST_DONE events.
	Outcome string
	// Attempts is the number of failed attempts consumed before the outcome.
	Attempts int
	// RangeStart and RangeEnd describe the configured ID range on RUN_START.
	RangeStart int64
	RangeEnd   int64
	// Processed, Resolved, Failed, and Pending are cumulative counters
	// attached to lifecycle stages.
	Processed int64
	Resolved  int64
	Failed    int64
	Pending   int64
	// Records is the current in-memory dataset size.
	Records int64
	// Dur captures execution latency for fetches and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageBatchDone, StageRunDone, StageRunError:
	case StageFetchDone:
		if e.ID <= 0 {
			return errors.New("fetch done requires a certificate id")
		}
		if e.Outcome == "" {
			return errors.New("fetch done requires an outcome")
		}
	case StagePersistDone:
		if e.Outcome == "" {
			return errors.New("persist done requires a result")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for display and storage.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
