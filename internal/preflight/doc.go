// Package preflight provides readiness checks for the external services,
// tools, and filesystem paths talkreel depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failed check as a
//     warning; jobs still run and degrade at the stage that needs the
//     missing piece.
//   - The CLI "talkreel doctor" command prints RunAll and CheckSystemDeps
//     as a table.
//
// Checks for optional pieces are gated by config: the container runtime is
// only required in session render mode, the TTS launcher only with
// autostart.
package preflight
