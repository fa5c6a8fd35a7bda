// Package logging assembles structured slog loggers and formatting helpers used
// across arbiter services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so scoring code can tag log
// lines with the track, team, and submission instance being processed. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail.
package logging
