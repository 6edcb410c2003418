// Package textutil provides small text helpers shared by the pipeline, the
// HTTP API, and the CLI: stripping bracketed stage directions from generated
// replies, turning identifiers into display labels, and deriving short
// ASCII file tags from task ids.
package textutil
