// Package daemon coordinates the long-running arbiter process.
//
// It owns the single-instance flock, the LPIPS helper lifecycle, the
// workflow manager that scans and scores submissions, and the optional upload
// gateway. The IPC server and the CLI reach the rest of the system through
// the helpers exposed here.
package daemon
