package logging

import (
	"context"
	"log/slog"

	"arbiter/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldTrack is the standardized key for challenge track identifiers.
	FieldTrack = "track"
	// FieldTeam is the standardized key for team names.
	FieldTeam = "team"
	// FieldInstance is the standardized key for submission instance folders.
	FieldInstance = "instance"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType names a machine-readable event for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint tells an operator what to do next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if v, ok := services.TrackFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldTrack, v))
	}
	if v, ok := services.TeamFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldTeam, v))
	}
	if v, ok := services.InstanceFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldInstance, v))
	}
	if v, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, v))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
