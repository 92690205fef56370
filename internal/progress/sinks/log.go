package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/progress-coordinator/internal/progress"
)

// LogSink writes one structured log line per transition. It is useful during
// development when no durable store is configured.
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

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("stage", string(evt.Stage)),
			zap.String("source", string(evt.Source)),
			zap.Int("active", evt.Active),
			zap.Float64("value", evt.Value),
			zap.Time("ts", evt.TS),
		}
		if evt.SessionID != [16]byte{} {
			fields = append(fields, zap.Stringer("session_id", evt.SessionUUID()))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
