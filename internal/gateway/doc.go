// Package gateway is the HTTP front door for teams: per-track leaderboard
// JSON, the list of files a submission archive must contain, and the upload
// endpoint that validates an archive and publishes it as a new submission
// instance for the scoring worker.
//
// Archive intake lives in Intake so the CLI can publish a local archive
// through the same validation path without running the HTTP server.
package gateway
