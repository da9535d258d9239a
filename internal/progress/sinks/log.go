package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/realtime-stage-tracker/internal/progress"
)

// LogSink writes one log line per milestone. Failures log at warn, step
// deltas at debug and everything else at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink writing to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs every milestone in batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level, msg, fields := describe(evt)
		if ce := s.logger.Check(level, msg); ce != nil {
			ce.Write(fields...)
		}
	}
	return nil
}

func describe(evt progress.Event) (zapcore.Level, string, []zap.Field) {
	fields := []zap.Field{
		zap.Stringer("event_id", evt.EventUUID()),
		zap.String("pipeline", evt.Pipeline),
		zap.String("source", evt.Source),
	}
	switch evt.Stage {
	case progress.StageStepDelta:
		return zapcore.DebugLevel, "step delta", append(fields,
			zap.String("step", evt.Step),
			zap.String("prior", evt.Prior),
			zap.Int64("millis", evt.Millis))
	case progress.StageEventProcessed:
		return zapcore.InfoLevel, "event processed", append(fields,
			zap.String("last_step", evt.Step),
			zap.Strings("tags", evt.Tags),
			zap.Duration("dur", evt.Dur))
	case progress.StageEventFailed:
		return zapcore.WarnLevel, "event failed", append(fields,
			zap.String("last_step", evt.Step),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note))
	default:
		return zapcore.InfoLevel, "event received", fields
	}
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
