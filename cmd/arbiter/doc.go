// Command arbiter is the operator CLI. It runs the scoring daemon in the
// foreground, talks to a running daemon over its unix socket, and offers
// offline helpers for scoring a folder or publishing an archive by hand.
package main
