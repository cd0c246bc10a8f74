package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/TomaszPielecki/Snaply/internal/progress"
)

// LogSink writes one structured line per job transition.
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
			zap.String("job_id", evt.JobID),
			zap.String("state", string(evt.Record.State)),
			zap.Time("ts", evt.TS),
		}
		for _, key := range []string{"domain", "device_type", "status", "error"} {
			if v, ok := evt.Record.Info[key]; ok {
				fields = append(fields, zap.String(key, v))
			}
		}
		if evt.Elapsed > 0 {
			fields = append(fields, zap.Duration("elapsed", evt.Elapsed))
		}
		s.logger.Info("job transition", fields...)
	}
	return nil
}

// Close implements progress.Sink; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
