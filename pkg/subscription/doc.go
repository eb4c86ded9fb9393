// Package subscription implements the reference-counted subscription
// registry for FleetLink.
//
// Many UI consumers can watch the same system at once, but the server
// should see exactly one subscription per system. The registry counts
// acquisitions per system ID and emits control traffic only on the edge
// transitions: subscribe when the count goes 0 to 1, unsubscribe when it
// goes 1 to 0.
//
// # Deferral and Replay
//
// A subscribe that cannot be delivered (channel down, send failure) is
// not an error for the caller: the entry is held locally and announced
// during the next replay. Replay runs on every entry into Connected and
// re-announces every held system exactly once; a per-system replay
// failure leaves just that system pending for the next cycle.
//
// # Lifecycle
//
// Subscriptions do NOT survive connection loss on the server side. The
// registry's local state is the source of truth; the server is brought
// back in sync by replay.
package subscription
