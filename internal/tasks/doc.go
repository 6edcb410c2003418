// Package tasks holds the in-memory registry of job state polled by callers.
//
// A Registry is the only structure shared between concurrently running
// pipelines. Every mutation and read is serialized by one mutex that is never
// held across I/O; completion and eviction hooks run after the lock is
// released so they can archive or notify without blocking pollers.
//
// Status transitions are one-directional (running to completed or failed).
// Updates and completions addressed to unknown or terminal tasks are silently
// ignored so late log lines from a finished job cannot corrupt its result.
package tasks
