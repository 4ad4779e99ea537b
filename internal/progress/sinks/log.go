package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/certpull/certpull/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where the HTTP snapshot endpoint is disabled.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields. Per-fetch
// events land at debug level to keep high-volume runs readable; lifecycle
// events log at info.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.Int64("id", evt.ID),
			zap.String("outcome", evt.Outcome),
			zap.Int("attempts", evt.Attempts),
			zap.Int64("processed", evt.Processed),
			zap.Int64("resolved", evt.Resolved),
			zap.Int64("failed", evt.Failed),
			zap.Int64("pending", evt.Pending),
			zap.Int64("records", evt.Records),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		}
		if evt.Stage == progress.StageFetchDone {
			s.logger.Debug("scrape progress", fields...)
			continue
		}
		s.logger.Info("scrape progress", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
