// Package notify aggregates alert events into a bounded, time-ordered,
// deduplicated notification list.
//
// The aggregator is the sole owner and mutator of its notifications.
// Arrival is idempotent by alert ID: the same alert delivered twice
// (push plus a reconciliation poll, or a replay after reconnect) yields
// one notification and at most one side effect. The list keeps the 100
// most recent entries by arrival order; the oldest is evicted first.
//
// Mark-read, delete and clear-all are local synchronous mutations; no
// network round-trip is required for correctness.
package notify
