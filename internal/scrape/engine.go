package scrape

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/certpull/certpull/internal/metrics"
	"github.com/certpull/certpull/internal/progress"
)

// persistFailureAlert is the number of consecutive failed persist cycles after
// which the engine escalates from warn to error logging.
const persistFailureAlert = 3

// Engine drives a scrape run end to end: recover prior state, walk the ID
// range in batches, fan fetches out through the governor, fold outcomes into
// the tracker and record set, and persist after every batch. All tracker and
// record mutation happens on the Run goroutine between batch barriers, so the
// engine needs no locking of its own.
type Engine struct {
	cfg         Config
	fetcher     Fetcher
	governor    *Governor
	tracker     *Tracker
	records     *RecordSet
	dataset     DatasetStore
	checkpoints CheckpointStore
	clock       Clock
	emitter     progress.Emitter
	logger      *zap.Logger

	runID           uuid.UUID
	pending         int64
	persistFailures int
	tallies         map[Class]int
}

// NewEngine wires an Engine from its collaborators. The tracker is shared with
// the fetch worker, which consults it to skip already-processed identifiers;
// only the engine ever mutates it.
func NewEngine(
	cfg Config,
	fetcher Fetcher,
	governor *Governor,
	tracker *Tracker,
	dataset DatasetStore,
	checkpoints CheckpointStore,
	clock Clock,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Engine {
	if governor == nil {
		governor = NewGovernor(cfg.Concurrency)
	}
	if tracker == nil {
		tracker = NewTracker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Engine{
		cfg:         cfg,
		fetcher:     fetcher,
		governor:    governor,
		tracker:     tracker,
		records:     NewRecordSet(),
		dataset:     dataset,
		checkpoints: checkpoints,
		clock:       clock,
		emitter:     emitter,
		logger:      logger,
		runID:       uuid.New(),
		tallies:     make(map[Class]int),
	}
}

// RunID identifies the run this engine will drive. It is assigned at
// construction so collaborators wired before Run can correlate their output
// with the engine's logs and progress events.
func (e *Engine) RunID() uuid.UUID {
	return e.runID
}

// Run executes the full scrape lifecycle and blocks until the range is
// exhausted, the context is cancelled, or the final persist fails. State
// already on disk is recovered first, so re-running over the same range is
// idempotent. A persist cycle always runs before Run returns, including on
// cancellation and panic.
func (e *Engine) Run(ctx context.Context) (summary Summary, err error) {
	if verr := e.cfg.Validate(); verr != nil {
		return Summary{}, fmt.Errorf("scrape config: %w", verr)
	}
	started := e.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			err = e.handlePanic(r)
			summary = e.summarize()
		}
	}()

	e.recoverState()

	if berr := e.dataset.Backup(); berr != nil {
		e.logger.Warn("initial dataset backup failed", zap.Error(berr))
	}

	remaining := e.tracker.Remaining(e.cfg.StartID, e.cfg.EndID)
	e.pending = int64(len(remaining))
	total := e.cfg.EndID - e.cfg.StartID + 1

	e.logger.Info("scrape run starting",
		zap.Stringer("run_id", e.runID),
		zap.Int64("start_id", e.cfg.StartID),
		zap.Int64("end_id", e.cfg.EndID),
		zap.Int64("pending", e.pending),
		zap.Int64("already_processed", total-e.pending),
		zap.Int("concurrency", e.cfg.Concurrency),
		zap.Int("batch_size", e.cfg.BatchSize))
	e.emitLifecycle(progress.StageRunStart, func(evt *progress.Event) {
		evt.RangeStart = e.cfg.StartID
		evt.RangeEnd = e.cfg.EndID
	})
	metrics.SetDatasetRecords(e.records.Len())

	cancelled := false
	for len(remaining) > 0 {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		n := e.cfg.BatchSize
		if n > len(remaining) {
			n = len(remaining)
		}
		batch := remaining[:n]
		remaining = remaining[n:]

		e.aggregate(e.dispatch(ctx, batch))
		metrics.ObserveBatch()
		e.emitLifecycle(progress.StageBatchDone, nil)
		e.persistCycle()
	}

	finalErr := e.finalize()
	summary = e.summarize()
	elapsed := e.clock.Now().Sub(started)

	if finalErr != nil {
		e.emitLifecycle(progress.StageRunError, func(evt *progress.Event) {
			evt.Note = finalErr.Error()
			evt.Dur = elapsed
		})
		e.logSummary("scrape run failed", summary, elapsed)
		return summary, finalErr
	}
	if cancelled {
		e.emitLifecycle(progress.StageRunDone, func(evt *progress.Event) {
			evt.Note = "cancelled"
			evt.Dur = elapsed
		})
		e.logSummary("scrape run cancelled", summary, elapsed)
		return summary, ctx.Err()
	}
	e.emitLifecycle(progress.StageRunDone, func(evt *progress.Event) {
		evt.Dur = elapsed
	})
	e.logSummary("scrape run complete", summary, elapsed)
	return summary, nil
}

// recoverState seeds the record set and tracker from the persisted dataset and
// checkpoint. Either source may be missing or corrupt; recovery failures are
// logged and the run proceeds from whatever survived.
func (e *Engine) recoverState() {
	records, err := e.dataset.Load()
	if err != nil {
		e.logger.Warn("dataset recovery failed, starting with an empty record set", zap.Error(err))
	}
	if len(records) > 0 {
		e.records.Seed(records)
		ids := make([]int64, 0, len(records))
		for _, rec := range records {
			ids = append(ids, rec.ID)
		}
		e.tracker.RestoreResolved(ids)
		e.logger.Info("recovered records from dataset", zap.Int("records", len(records)))
	}

	cp, ok, err := e.checkpoints.Load()
	if err != nil {
		e.logger.Warn("checkpoint load failed, relying on dataset state only", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	e.tracker.RestoreProcessed(cp.ProcessedIDs)
	e.tracker.RestoreFailed(cp.FailedIDs)
	e.logger.Info("checkpoint restored",
		zap.Int("processed", len(cp.ProcessedIDs)),
		zap.Int("failed", len(cp.FailedIDs)),
		zap.Time("last_save", cp.LastSave))
}

// dispatch fans one batch out through the governor and blocks until every
// launched fetch has finished. Identifiers whose fetch was abandoned by
// cancellation produce no outcome and therefore stay pending.
func (e *Engine) dispatch(ctx context.Context, batch []int64) []Outcome {
	results := make(chan Outcome, len(batch))
	var wg sync.WaitGroup
	for _, id := range batch {
		if aerr := e.governor.Acquire(ctx); aerr != nil {
			break
		}
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			defer e.governor.Release()
			metrics.IncActiveFetches()
			defer metrics.DecActiveFetches()
			// A panicking fetch must not take down the run; the identifier
			// simply stays pending for a later attempt.
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("fetch worker panicked",
						zap.Int64("id", id), zap.Any("panic", r), zap.Stack("stack"))
				}
			}()
			outcome, ferr := e.fetcher.Fetch(ctx, id)
			if ferr != nil {
				if !errors.Is(ferr, ErrAlreadyProcessed) {
					e.logger.Debug("fetch abandoned", zap.Int64("id", id), zap.Error(ferr))
				}
				return
			}
			results <- outcome
		}(id)
	}
	wg.Wait()
	close(results)

	out := make([]Outcome, 0, len(batch))
	for o := range results {
		out = append(out, o)
	}
	return out
}

// aggregate folds a batch of outcomes into the tracker and record set. Every
// outcome marks its identifier processed; outcomes carrying a record also mark
// it resolved, and exhausted retryables mark it failed.
func (e *Engine) aggregate(outcomes []Outcome) {
	for _, o := range outcomes {
		e.tracker.MarkProcessed(o.ID)
		if o.Retryable() {
			e.tracker.MarkFailed(o.ID)
		}
		if rec, ok := o.Record(); ok {
			e.records.Put(rec)
			e.tracker.MarkResolved(o.ID)
		}
		e.tallies[o.Class]++
		metrics.ObserveFetch(o.Class.String())
		e.emitFetch(o)
	}
	e.pending -= int64(len(outcomes))
	metrics.SetDatasetRecords(e.records.Len())
}

// writeDataset performs the conditional dataset write shared by the per-batch
// and final persist paths.
func (e *Engine) writeDataset() (string, error) {
	if !e.records.Dirty() {
		return progress.PersistSkipped, nil
	}
	if werr := e.dataset.Persist(e.records.Sorted()); werr != nil {
		e.persistFailures++
		return progress.PersistFailed, werr
	}
	e.records.MarkClean()
	e.persistFailures = 0
	return progress.PersistWritten, nil
}

// persistCycle runs after every batch: write the dataset if it changed, then
// checkpoint unconditionally. A failed write is recoverable; the records stay
// dirty and the next cycle retries.
func (e *Engine) persistCycle() {
	result, werr := e.writeDataset()
	if werr != nil {
		if e.persistFailures >= persistFailureAlert {
			e.logger.Error("dataset persist failing repeatedly",
				zap.Int("consecutive_failures", e.persistFailures),
				zap.Error(werr))
		} else {
			e.logger.Warn("dataset persist failed, records retained for next cycle",
				zap.Error(werr))
		}
	} else if result == progress.PersistWritten {
		e.logger.Debug("dataset persisted", zap.Int("records", e.records.Len()))
	}
	e.notePersist(result)
	e.saveCheckpoint()
}

// finalize is the last persist cycle of a run. Unlike mid-run cycles there is
// no later retry, so a failed write escalates to an emergency dump and a
// non-nil error.
func (e *Engine) finalize() error {
	result, werr := e.writeDataset()
	if werr != nil {
		e.logger.Error("final dataset persist failed", zap.Error(werr))
		e.dumpRecords("final persist failed")
	}
	e.notePersist(result)
	e.saveCheckpoint()
	if werr != nil {
		return fmt.Errorf("final persist: %w", werr)
	}
	return nil
}

func (e *Engine) notePersist(result string) {
	metrics.ObservePersist(result)
	e.emitLifecycle(progress.StagePersistDone, func(evt *progress.Event) {
		evt.Outcome = result
	})
}

// saveCheckpoint serializes tracker state after every persist cycle, whether
// or not the dataset write happened. Checkpoint failures never abort the run.
func (e *Engine) saveCheckpoint() {
	digest, derr := e.dataset.Digest()
	if derr != nil {
		e.logger.Warn("dataset digest unavailable", zap.Error(derr))
		digest = ""
	}
	processed, resolved, _ := e.tracker.Counts()
	cp := Checkpoint{
		TotalScraped:   resolved,
		TotalProcessed: processed,
		ProcessedIDs:   e.tracker.ProcessedIDs(),
		FailedIDs:      e.tracker.FailedIDs(),
		LastSave:       e.clock.Now(),
		DatasetDigest:  digest,
	}
	if serr := e.checkpoints.Save(cp); serr != nil {
		e.logger.Warn("checkpoint save failed", zap.Error(serr))
	}
}

// dumpRecords writes the working set to a timestamped emergency file. It is
// the path of last resort when the normal persist pipeline is broken.
func (e *Engine) dumpRecords(reason string) {
	recs := e.records.Sorted()
	if len(recs) == 0 {
		return
	}
	path, derr := e.dataset.EmergencyDump(recs)
	if derr != nil {
		e.logger.Error("emergency dump failed", zap.String("reason", reason), zap.Error(derr))
		return
	}
	e.logger.Warn("records written to emergency dump",
		zap.String("reason", reason),
		zap.String("path", path),
		zap.Int("records", len(recs)))
}

func (e *Engine) handlePanic(r any) error {
	e.logger.Error("scrape run panicked", zap.Any("panic", r), zap.Stack("stack"))
	e.dumpRecords("panic")
	e.saveCheckpoint()
	e.emitLifecycle(progress.StageRunError, func(evt *progress.Event) {
		evt.Note = fmt.Sprintf("panic: %v", r)
	})
	return fmt.Errorf("scrape run panicked: %v", r)
}

func (e *Engine) summarize() Summary {
	processed, resolved, failed := e.tracker.Counts()
	return Summary{
		Processed:  processed,
		Resolved:   resolved,
		Failed:     failed,
		Succeeded:  e.tallies[ClassSuccess],
		NoData:     e.tallies[ClassNoData],
		NotFound:   e.tallies[ClassNotFound],
		HTTPErrors: e.tallies[ClassHTTPError],
	}
}

func (e *Engine) logSummary(msg string, s Summary, elapsed time.Duration) {
	e.logger.Info(msg,
		zap.Stringer("run_id", e.runID),
		zap.Int("processed", s.Processed),
		zap.Int("resolved", s.Resolved),
		zap.Int("failed", s.Failed),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("no_data", s.NoData),
		zap.Int("not_found", s.NotFound),
		zap.Int("http_errors", s.HTTPErrors),
		zap.Int("records", e.records.Len()),
		zap.Duration("elapsed", elapsed))
}

func (e *Engine) emitLifecycle(stage progress.Stage, customize func(*progress.Event)) {
	if e.emitter == nil {
		return
	}
	processed, resolved, failed := e.tracker.Counts()
	evt := progress.Event{
		RunID:     progress.UUIDToBytes(e.runID),
		TS:        e.clock.Now(),
		Stage:     stage,
		Processed: int64(processed),
		Resolved:  int64(resolved),
		Failed:    int64(failed),
		Pending:   e.pending,
		Records:   int64(e.records.Len()),
	}
	if customize != nil {
		customize(&evt)
	}
	e.emitter.Emit(evt)
}

func (e *Engine) emitFetch(o Outcome) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(progress.Event{
		RunID:    progress.UUIDToBytes(e.runID),
		TS:       e.clock.Now(),
		Stage:    progress.StageFetchDone,
		ID:       o.ID,
		Outcome:  o.Class.String(),
		Attempts: o.Retries,
	})
}
