package logging

import (
	"context"
	"log/slog"

	"talkreel/internal/services"
)

// Structured keys shared by every component. The logs command filters on
// FieldComponent and FieldTaskID.
const (
	FieldComponent     = "component"
	FieldTaskID        = "task_id"
	FieldStage         = "stage"
	FieldJobKind       = "job_kind"
	FieldCorrelationID = "correlation_id"
	FieldEventType     = "event_type"
	FieldErrorHint     = "error_hint"
	FieldImpact        = "impact"
)

// NewComponentLogger tags logger with a component name. A nil logger
// yields a no-op logger.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// WithContext adds the task, stage, and request identifiers carried by ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if ctx == nil {
		return logger
	}
	var args []any
	if id, ok := services.TaskIDFromContext(ctx); ok {
		args = append(args, TaskID(id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		args = append(args, String(FieldStage, stage))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		args = append(args, String(FieldCorrelationID, rid))
	}
	if len(args) == 0 {
		return logger
	}
	return logger.With(args...)
}
