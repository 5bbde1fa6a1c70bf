package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/podcast-catalog-crawler/internal/progress"
)

// LogSink writes each event as a structured log line. Page and retry events
// log at debug level; query and run milestones at info.
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
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Query != "" {
			fields = append(fields, zap.String("query", evt.Query))
		}
		switch evt.Stage {
		case progress.StagePageDone:
			fields = append(fields, zap.Int("offset", evt.Offset), zap.Int("records", evt.Records))
		case progress.StageFetchRetry:
			fields = append(fields, zap.Int("offset", evt.Offset), zap.Int("attempt", evt.Attempt), zap.Duration("wait", evt.Wait))
		case progress.StageQueryDone, progress.StageRunDone:
			fields = append(fields, zap.Int("records", evt.Records), zap.Duration("dur", evt.Dur))
		case progress.StageQueryStart:
			if evt.Offset > 0 {
				fields = append(fields, zap.Int("resume_offset", evt.Offset))
			}
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Log(levelFor(evt.Stage), "progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func levelFor(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StagePageDone, progress.StageFetchRetry, progress.StageQuerySkipped:
		return zapcore.DebugLevel
	case progress.StageQueryError:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
