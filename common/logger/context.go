package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are attached to every record logged with a context carrying them.
// Handlers and workers enrich the context once; downstream code only logs.
type LogFields struct {
	GenerationID *int64  // generations.id
	UserID       *string // Supabase auth user (uuid)
	RequestID    *string // X-Request-ID of the inbound HTTP call
	MessageID    *string // Redis stream message ID
	Provider     *string // replicate, fal, google
	TaskType     *string // dispatch, sync, persist
	Component    string  // dotted component name, e.g. "studio.worker.janitor"
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := mergeFields(GetLogFields(ctx), fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, incoming LogFields) LogFields {
	result := existing

	if incoming.GenerationID != nil {
		result.GenerationID = incoming.GenerationID
	}
	if incoming.UserID != nil {
		result.UserID = incoming.UserID
	}
	if incoming.RequestID != nil {
		result.RequestID = incoming.RequestID
	}
	if incoming.MessageID != nil {
		result.MessageID = incoming.MessageID
	}
	if incoming.Provider != nil {
		result.Provider = incoming.Provider
	}
	if incoming.TaskType != nil {
		result.TaskType = incoming.TaskType
	}
	if incoming.Component != "" {
		result.Component = incoming.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{GenerationID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate shortens s to at most maxLen runes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
