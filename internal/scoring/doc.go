// Package scoring turns a submission's images folder into track scores.
//
// Each track has a Scorer bound to its ground truth root. Scorers are
// stateless apart from the perceptual network they share and are safe to call
// from several goroutines. A Result carries the leaderboard columns in Values
// and the per-folder and per-file breakdown in Detail; both are written into
// the submission's metadata.
package scoring
