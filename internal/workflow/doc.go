// Package workflow runs the scan-and-score loop.
//
// The Manager owns one lane per enabled track. Each lane is a goroutine that
// ticks immediately at start, then every poll interval or whenever a trigger
// arrives (gateway upload, IPC scan request, filesystem watcher). A tick lists
// every team's instances, scores the ones that are neither evaluated nor
// permanently failed, writes the outcome back into their metadata, and offers
// each team's best new result to the leaderboard. Triggers coalesce and a lane
// never runs two ticks at once.
package workflow
