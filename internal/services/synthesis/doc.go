// Package synthesis talks to a GPT-SoVITS text-to-speech service.
//
// Client posts one synthesis request per call and publishes the returned WAV
// atomically. Launcher optionally starts the service process and waits until
// it answers. ResolveReference picks the voice sample used to clone the
// speaker: the caller's path, then the configured default, then a copy of
// the most recent raw input recording.
package synthesis
