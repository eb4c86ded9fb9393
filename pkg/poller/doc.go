// Package poller implements the REST polling fallback for telemetry.
//
// Each polled system gets its own timer loop that fetches the current
// state through a Fetcher and publishes the result into the shared
// telemetry store. Publication goes through the same last-write-wins
// gate as pushed telemetry, so a poll response that raced a fresher
// push is silently discarded. Fetches are single-flight per system: a
// tick that fires while the previous request is still outstanding is
// skipped, not queued.
//
// Polling runs regardless of the live channel's state. A fetch error
// keeps the last known snapshot and waits for the next tick.
package poller
