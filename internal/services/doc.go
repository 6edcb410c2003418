// Package services defines shared utilities consumed by the pipeline stages
// and the external collaborators (recognition, dialogue, synthesis, rendering).
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so every failure can be
//     classified with errors.Is regardless of which collaborator raised it.
//   - Details, which turns an error into the message/hint pair surfaced to
//     pollers and operators.
//
// Collaborator packages derive their typed failures from these markers, so a
// caller can match either the precise failure (no speech detected) or the
// family (recognition failed).
package services
