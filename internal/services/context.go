package services

import "context"

// ctxKey values tag the identifiers that follow a job through its stages.
type ctxKey int

const (
	taskIDKey ctxKey = iota
	stageKey
	requestIDKey
)

func withValue(ctx context.Context, key ctxKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func valueFrom(ctx context.Context, key ctxKey) (string, bool) {
	v, _ := ctx.Value(key).(string)
	return v, v != ""
}

// WithTaskID records the job a call is working for. Empty ids are ignored.
func WithTaskID(ctx context.Context, id string) context.Context {
	return withValue(ctx, taskIDKey, id)
}

func TaskIDFromContext(ctx context.Context) (string, bool) { return valueFrom(ctx, taskIDKey) }

// WithStage records the pipeline stage (recognition, dialogue, synthesis,
// render, training).
func WithStage(ctx context.Context, stage string) context.Context {
	return withValue(ctx, stageKey, stage)
}

func StageFromContext(ctx context.Context) (string, bool) { return valueFrom(ctx, stageKey) }

// WithRequestID carries the API request id into work started by it.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) { return valueFrom(ctx, requestIDKey) }
