// Package taskstore archives terminal tasks in SQLite.
//
// The in-memory registry forgets tasks after their retention window; the
// archive keeps their final snapshot so progress queries for old ids still
// answer. Only terminal tasks are written, once each, through the registry's
// completion and eviction hooks.
//
// The schema version lives in SQLite's user_version. An archive stamped
// with another version is rejected and has to be removed by the operator.
package taskstore
