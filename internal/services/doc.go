// Package services defines shared utilities consumed by the scoring workflow,
// the upload gateway, and the external metric helpers.
//
// Key responsibilities:
//   - Context helpers that stamp track, team, submission instance, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     (validation vs transient) so the workflow can record why a submission
//     was not scored.
//
// Use these helpers when wiring new scoring logic so operational behaviour
// (error handling, observability, retries) stays uniform across tracks.
package services
