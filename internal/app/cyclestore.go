package app

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/certpull/certpull/internal/dataset"
	"github.com/certpull/certpull/internal/notify"
	"github.com/certpull/certpull/internal/scrape"
)

// integrationTimeout bounds one post-persist fan-out cycle. A slow or dead
// downstream must never hold up the next scrape batch for long.
const integrationTimeout = 30 * time.Second

// recordExporter mirrors export.Exporter.
type recordExporter interface {
	Export(ctx context.Context, records []scrape.Record) (int, error)
}

// datasetMirror mirrors mirror.Mirror.
type datasetMirror interface {
	Upload(ctx context.Context, path string) (string, error)
}

// cycleNotifier mirrors notify.Notifier.
type cycleNotifier interface {
	PersistCycle(ctx context.Context, msg notify.Message) error
}

// cycleStore decorates the dataset store with post-persist integrations:
// Postgres export, GCS mirroring, and Pub/Sub notification. The local CSV is
// the source of truth, so integration failures are logged and swallowed; they
// must never fail a persist cycle or stall the engine.
type cycleStore struct {
	scrape.DatasetStore

	base     *dataset.Store
	exporter recordExporter
	mirror   datasetMirror
	notifier cycleNotifier
	tracker  *scrape.Tracker
	baseCtx  context.Context
	runID    string
	logger   *zap.Logger
}

// newCycleStore wraps base. It returns nil when no integration is enabled, in
// which case the caller should use base directly.
func newCycleStore(
	base *dataset.Store,
	exporter recordExporter,
	mirror datasetMirror,
	notifier cycleNotifier,
	tracker *scrape.Tracker,
	baseCtx context.Context,
	logger *zap.Logger,
) *cycleStore {
	if exporter == nil && mirror == nil && notifier == nil {
		return nil
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &cycleStore{
		DatasetStore: base,
		base:         base,
		exporter:     exporter,
		mirror:       mirror,
		notifier:     notifier,
		tracker:      tracker,
		baseCtx:      baseCtx,
		logger:       logger,
	}
}

// bindRun records the engine's run ID for notification correlation. Engine
// construction needs the store, so the ID arrives after construction and
// before Run.
func (s *cycleStore) bindRun(runID string) {
	s.runID = runID
}

// Persist writes the dataset through the wrapped store, then fans the
// persisted rows out to the enabled integrations. Fan-out runs only after a
// successful local write; a failed write reaches no downstream.
func (s *cycleStore) Persist(records []scrape.Record) error {
	if err := s.DatasetStore.Persist(records); err != nil {
		return err
	}
	s.afterPersist(records)
	return nil
}

func (s *cycleStore) afterPersist(records []scrape.Record) {
	ctx, cancel := context.WithTimeout(s.baseCtx, integrationTimeout)
	defer cancel()

	if s.exporter != nil {
		n, err := s.exporter.Export(ctx, records)
		if err != nil {
			s.logger.Warn("record export failed", zap.Int("written", n), zap.Error(err))
		} else if n > 0 {
			s.logger.Debug("records exported", zap.Int("written", n))
		}
	}

	mirrorURI := ""
	if s.mirror != nil {
		uri, err := s.mirror.Upload(ctx, s.base.Path())
		if err != nil {
			s.logger.Warn("dataset mirror failed", zap.Error(err))
		} else {
			mirrorURI = uri
			s.logger.Debug("dataset mirrored", zap.String("uri", uri))
		}
	}

	if s.notifier != nil {
		msg := notify.Message{
			RunID:     s.runID,
			Dataset:   filepath.Base(s.base.Path()),
			Records:   len(records),
			MirrorURI: mirrorURI,
		}
		if s.tracker != nil {
			msg.Processed, msg.Resolved, msg.Failed = s.tracker.Counts()
		}
		digest, err := s.DatasetStore.Digest()
		if err != nil {
			s.logger.Warn("dataset digest failed", zap.Error(err))
		} else {
			msg.Digest = digest
		}
		if err := s.notifier.PersistCycle(ctx, msg); err != nil {
			s.logger.Warn("persist notification failed", zap.Error(err))
		}
	}
}
