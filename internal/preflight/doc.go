// Package preflight provides readiness checks for the filesystem paths and
// external helpers arbiter depends on.
//
// The daemon runs them once at startup and logs every failure; the CLI
// "arbiter check" command prints them without a running daemon. Checks for
// disabled features are skipped.
package preflight
