package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/certpull/certpull/internal/progress"
)

// Run states reported by Snapshot.
const (
	StateRunning = "running"
	StateDone    = "done"
	StateError   = "error"
)

// PersistStatus records the result of the most recent persist cycle.
type PersistStatus struct {
	Result string    `json:"result"`
	At     time.Time `json:"at"`
}

// Snapshot is a point-in-time view of the active scrape run, folded from the
// progress event stream. It is the payload served by the HTTP progress
// endpoint.
type Snapshot struct {
	RunID       string           `json:"run_id"`
	State       string           `json:"state"`
	StartedAt   time.Time        `json:"started_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	RangeStart  int64            `json:"range_start"`
	RangeEnd    int64            `json:"range_end"`
	Processed   int64            `json:"processed"`
	Resolved    int64            `json:"resolved"`
	Failed      int64            `json:"failed"`
	Pending     int64            `json:"pending"`
	Records     int64            `json:"records"`
	Batches     int64            `json:"batches"`
	Outcomes    map[string]int64 `json:"outcomes"`
	LastPersist *PersistStatus   `json:"last_persist,omitempty"`
	Note        string           `json:"note,omitempty"`
}

// SnapshotSink folds progress events into an in-memory Snapshot. A new
// RUN_START resets the view, so the sink always describes the latest run.
type SnapshotSink struct {
	mu   sync.RWMutex
	snap Snapshot
	seen bool
}

// NewSnapshotSink constructs an empty SnapshotSink.
func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{}
}

// Consume applies each event in order. It never fails; malformed events are
// filtered by the hub before they reach sinks.
func (s *SnapshotSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.apply(evt)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *SnapshotSink) Close(context.Context) error {
	return nil
}

// Snapshot returns a copy of the current view and whether any run has been
// observed yet.
func (s *SnapshotSink) Snapshot() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snap
	if s.snap.Outcomes != nil {
		out.Outcomes = make(map[string]int64, len(s.snap.Outcomes))
		for k, v := range s.snap.Outcomes {
			out.Outcomes[k] = v
		}
	}
	if s.snap.LastPersist != nil {
		lp := *s.snap.LastPersist
		out.LastPersist = &lp
	}
	return out, s.seen
}

func (s *SnapshotSink) apply(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.snap = Snapshot{
			RunID:      evt.RunUUID().String(),
			State:      StateRunning,
			StartedAt:  evt.TS,
			RangeStart: evt.RangeStart,
			RangeEnd:   evt.RangeEnd,
			Outcomes:   make(map[string]int64),
		}
		s.applyCounters(evt)
		s.seen = true
	case progress.StageFetchDone:
		s.ensure(evt)
		s.snap.Outcomes[evt.Outcome]++
	case progress.StageBatchDone:
		s.ensure(evt)
		s.snap.Batches++
		s.applyCounters(evt)
	case progress.StagePersistDone:
		s.ensure(evt)
		s.snap.LastPersist = &PersistStatus{Result: evt.Outcome, At: evt.TS}
	case progress.StageRunDone:
		s.ensure(evt)
		s.applyCounters(evt)
		s.snap.State = StateDone
		s.snap.Note = evt.Note
	case progress.StageRunError:
		s.ensure(evt)
		s.applyCounters(evt)
		s.snap.State = StateError
		s.snap.Note = evt.Note
	}
	if evt.TS.After(s.snap.UpdatedAt) {
		s.snap.UpdatedAt = evt.TS
	}
}

// ensure seeds the view when events arrive without a preceding RUN_START,
// e.g. when the start event was dropped under backpressure.
func (s *SnapshotSink) ensure(evt progress.Event) {
	if s.seen {
		return
	}
	s.snap = Snapshot{
		RunID:    evt.RunUUID().String(),
		State:    StateRunning,
		Outcomes: make(map[string]int64),
	}
	s.seen = true
}

func (s *SnapshotSink) applyCounters(evt progress.Event) {
	s.snap.Processed = evt.Processed
	s.snap.Resolved = evt.Resolved
	s.snap.Failed = evt.Failed
	s.snap.Pending = evt.Pending
	s.snap.Records = evt.Records
}
