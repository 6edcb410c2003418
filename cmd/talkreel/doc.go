// Package main hosts the talkreel CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the daemon in the foreground, talks to
// a running daemon over its HTTP API to submit jobs and follow their
// progress, and runs the commands that need no daemon locally: batch
// cross-synthesis, environment diagnostics, persona listing, and
// configuration scaffolding.
//
// Keep this package lean: add new functionality to the internal packages
// first, then surface it through dedicated commands or flags here.
package main
