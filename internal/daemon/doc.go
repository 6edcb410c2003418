// Package daemon coordinates the long-running talkreel process.
//
// It wires configuration, the task registry, the SQLite task archive, the
// job orchestrator, and the HTTP API into a single lifecycle with
// flock-based locking to prevent multiple instances. Optional pieces are
// the GPT-SoVITS autostart and, in session render mode, a persistent JoyGen
// worker container that lives as long as the daemon.
//
// Keep orchestration logic here: job stages live in internal/pipeline and
// the HTTP surface in internal/httpapi, while the daemon focuses on startup,
// shutdown order, and status reporting.
package daemon
