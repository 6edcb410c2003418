// Package notifications publishes job events to ntfy.
//
// The daemon publishes one event per finished task plus an operator test
// event. When no topic is configured, or an event type is switched off in
// config, Publish is a no-op so callers never branch on notification
// settings.
package notifications
