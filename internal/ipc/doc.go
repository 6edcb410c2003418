// Package ipc ships the client the CLI uses to talk to a running talkreel
// daemon over its HTTP API.
//
// Requests and responses reuse the httpapi wire types so the CLI and the
// server cannot drift. Every call takes a context and the client carries a
// short dial timeout so commands fail fast when the daemon is offline.
// Error envelopes are decoded into *APIError, and connection failures are
// reported as ErrDaemonUnavailable.
package ipc
