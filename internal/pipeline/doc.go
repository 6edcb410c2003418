// Package pipeline drives submitted jobs to a terminal status.
//
// An Orchestrator owns no job state of its own: every job is a task in the
// injected registry, created at submission and completed exactly once by the
// goroutine that runs it. Dialogue jobs walk input resolution, dialogue
// generation, speech synthesis, and rendering in order; only input resolution
// may fail the job, later stages degrade to the best artifact produced so
// far. Render, training, and batch jobs wrap a single external tool run and
// feed its output through a progresslog.Interpreter.
package pipeline
