package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/shadowprobe/internal/progress"
)

// LogSink writes one structured log line per event.
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

// Consume logs each event in the batch. Probe completions log at debug level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.Duration("dur", evt.Dur),
		}
		switch evt.Stage {
		case progress.StageProbeDone:
			fields = append(fields,
				zap.String("site", evt.Site),
				zap.String("url", evt.URL),
				zap.String("outcome", string(evt.Outcome)),
				zap.String("status_class", string(evt.StatusClass)),
				zap.String("note", evt.Note),
			)
			s.logger.Debug("progress event", fields...)
			continue
		case progress.StageRunDone:
			fields = append(fields, zap.Int("checked", evt.Checked), zap.Int("found", evt.Found))
		case progress.StageRunStart:
			fields = append(fields, zap.Int("sites", evt.Checked))
		case progress.StageRunError:
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
