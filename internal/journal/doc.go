// Package journal appends runner events to PostgreSQL in batches.
//
// Writer is an event sink: Publish never blocks, events are buffered and
// flushed when the batch fills or on a timer. Inserts are idempotent on the
// event id.
package journal
