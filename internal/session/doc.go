// Package session manages a long-lived worker container that runs many
// render jobs without reloading models for each one.
//
// Start launches the container detached and returns once it accepts exec
// calls or a grace period passes. Run executes a Chain of shell steps inside
// it, one chain at a time. Stop is idempotent; With wraps the lifecycle so
// the container is removed on every exit path.
package session
