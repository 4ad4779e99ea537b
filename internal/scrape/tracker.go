package scrape

import "sort"

// Tracker owns the three identifier sets that make resumption idempotent:
// processed (every attempted Identifier), resolved (subset with a persisted
// record), and failed (subset that exhausted retries). It is mutated only by
// the engine between batch barriers and therefore carries no locking.
type Tracker struct {
	processed map[int64]struct{}
	resolved  map[int64]struct{}
	failed    map[int64]struct{}
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		processed: make(map[int64]struct{}),
		resolved:  make(map[int64]struct{}),
		failed:    make(map[int64]struct{}),
	}
}

// MarkProcessed records that the Identifier was attempted.
func (t *Tracker) MarkProcessed(id int64) {
	t.processed[id] = struct{}{}
}

// MarkResolved records a persisted record for the Identifier. Resolved implies
// processed.
func (t *Tracker) MarkResolved(id int64) {
	t.processed[id] = struct{}{}
	t.resolved[id] = struct{}{}
}

// MarkFailed records retry exhaustion for the Identifier. Failed implies
// processed.
func (t *Tracker) MarkFailed(id int64) {
	t.processed[id] = struct{}{}
	t.failed[id] = struct{}{}
}

// Processed reports whether the Identifier was already attempted.
func (t *Tracker) Processed(id int64) bool {
	_, ok := t.processed[id]
	return ok
}

// Remaining returns the identifiers in [start, end] not yet processed, in
// ascending order. Ascending batches make resumption deterministic.
func (t *Tracker) Remaining(start, end int64) []int64 {
	if end < start {
		return nil
	}
	out := make([]int64, 0, end-start+1)
	for id := start; id <= end; id++ {
		if _, ok := t.processed[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// ProcessedIDs returns the processed set in ascending order.
func (t *Tracker) ProcessedIDs() []int64 {
	return sortedIDs(t.processed)
}

// FailedIDs returns the failed set in ascending order.
func (t *Tracker) FailedIDs() []int64 {
	return sortedIDs(t.failed)
}

// RestoreProcessed seeds the processed set from a checkpoint.
func (t *Tracker) RestoreProcessed(ids []int64) {
	for _, id := range ids {
		t.processed[id] = struct{}{}
	}
}

// RestoreFailed seeds the failed set from a checkpoint.
func (t *Tracker) RestoreFailed(ids []int64) {
	for _, id := range ids {
		t.processed[id] = struct{}{}
		t.failed[id] = struct{}{}
	}
}

// RestoreResolved seeds the resolved set from recovered dataset rows.
func (t *Tracker) RestoreResolved(ids []int64) {
	for _, id := range ids {
		t.processed[id] = struct{}{}
		t.resolved[id] = struct{}{}
	}
}

// Counts reports set sizes for checkpoints and progress reporting.
func (t *Tracker) Counts() (processed, resolved, failed int) {
	return len(t.processed), len(t.resolved), len(t.failed)
}

func sortedIDs(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
