// Package whisperx recognizes speech in recorded audio with WhisperX.
//
// Recognize converts the input to 16 kHz mono WAV with ffmpeg, runs WhisperX
// through uvx, and joins the transcript segments. Both tools run through an
// extjob runner so tests can substitute a fake.
//
// An empty transcript is ErrNoSpeechDetected; tool failures and timeouts are
// ErrServiceUnavailable. Both are services.ErrRecognition.
package whisperx
