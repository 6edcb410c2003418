// Package joygen drives the JoyGen talking-head toolkit.
//
// Renderer turns an audio track and a reference video into a lip-synced
// clip. In script mode it runs run_joygen.sh once per render; in session mode
// it runs the four-step inference chain (audio extraction, audio2motion,
// expression editing, JoyGen) inside a persistent worker container so model
// weights stay loaded between jobs. Either way the newest mp4 in the job's
// results directory is published atomically into the output tree.
//
// Batch runs cross-sample synthesis: random pairs of reference videos,
// each rendered with the other's audio, plus a metadata.json manifest.
// Trainer fine-tunes a model from one reference video after writing any
// overrides into the JoyGen YAML training config.
package joygen
