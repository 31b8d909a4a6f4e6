package audit

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("audit")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.String("request_id", ev.RequestID),
		zap.String("status", ev.Status),
		zap.Bool("pii_detected", ev.PIIDetected),
		zap.Strings("redacted_entity_types", ev.RedactedEntityTypes),
		zap.Int("redaction_count", ev.RedactionCount),
		zap.Float64("latency_ms", ev.LatencyMs),
	}
	if ev.FailureKind != "" {
		fields = append(fields, zap.String("failure_kind", ev.FailureKind))
	}
	if ev.Verdict != nil {
		fields = append(fields, zap.Int("score", ev.Verdict.Score))
	}
	s.logger.Info("transaction processed", fields...)
	return nil
}

func (s *LogSink) Close(context.Context) error {
	_ = s.logger.Sync()
	return nil
}
