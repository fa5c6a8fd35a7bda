// Package logs tails the daemon's log file for `arbiter logs`.
//
// Last reads the final lines with bounded memory; Follow polls from an offset
// and starts over when the file is truncated or the arbiter.log pointer moves
// to a new run.
package logs
