// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// Request and response types are plain JSON structs so the protocol stays
// stable when daemon internals change.
package ipc
