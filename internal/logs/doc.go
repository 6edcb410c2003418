// Package logs reads the daemon's JSON run logs back for the CLI.
//
// Last and Follow tail a log file with bounded memory. Follow keeps
// reading when the daemon restarts and talkreel.log is repointed at a new
// run file. ParseEntry decodes one JSON record and Filter narrows records
// to a task, component, or minimum level, so `talkreel logs --task <id>`
// shows a single job's history across recognition, dialogue, synthesis,
// and rendering.
package logs
