package services

import "context"

type contextKey string

const (
	trackKey     contextKey = "track"
	teamKey      contextKey = "team"
	instanceKey  contextKey = "instance"
	requestIDKey contextKey = "request_id"
)

// WithTrack annotates context with the challenge track identifier.
func WithTrack(ctx context.Context, track string) context.Context {
	return withString(ctx, trackKey, track)
}

// TrackFromContext returns the track identifier if present.
func TrackFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, trackKey)
}

// WithTeam annotates context with the submitting team name.
func WithTeam(ctx context.Context, team string) context.Context {
	return withString(ctx, teamKey, team)
}

// TeamFromContext returns the team name if present.
func TeamFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, teamKey)
}

// WithInstance annotates context with the submission instance (timestamp folder name).
func WithInstance(ctx context.Context, instance string) context.Context {
	return withString(ctx, instanceKey, instance)
}

// InstanceFromContext returns the submission instance if present.
func InstanceFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, instanceKey)
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, requestIDKey)
}

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
