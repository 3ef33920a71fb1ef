// Package database provides the optional PostgreSQL pool used by the event
// journal.
//
// The schema is a single append-only table, runner_events, created on
// startup when missing.
package database
