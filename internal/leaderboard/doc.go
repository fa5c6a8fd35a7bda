// Package leaderboard persists the best score per team per track in SQLite.
//
// Each track has its own table keyed by team with one REAL column per
// leaderboard column. Rows are created lazily at the track's sentinel values
// the first time a team is read or scored, and UpsertIfBetter only overwrites a
// row when the candidate's primary value is strictly better in the track's
// direction. The schema is versioned; a mismatch asks the operator to remove
// the database rather than migrating in place.
package leaderboard
