// Package progresslog interprets free-form output from training and render
// jobs.
//
// ParseTraining and ParseRender are pure functions over a single line so the
// grammar can be tested without processes. Interpreter binds those parsers to
// one task and forwards the results to a Sink, usually the task registry.
// Parsing is best effort: lines that carry no recognizable token are appended
// to the task log unchanged.
package progresslog
