// Package dialogue generates short spoken replies through an OpenAI-compatible
// chat-completion API (DeepSeek by default).
//
// A Client issues exactly one completion per Reply call. Retries and the
// fallback reply belong to the pipeline, which sees only two failure kinds:
// ErrTimeout when the provider did not answer in time and ErrProviderError for
// everything else the provider returned. Both derive from
// services.ErrDialogue.
package dialogue
