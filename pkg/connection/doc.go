// Package connection provides live-channel lifecycle management for
// FleetLink.
//
// This package handles:
//   - Connection state tracking (one state, many observers)
//   - Automatic reconnection with bounded, jittered exponential backoff
//   - The post-reconnect hook that callers use to replay subscriptions
//
// # Reconnection Strategy
//
// When the channel is lost, the manager retries with exponential backoff:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s
//  3. Bounded attempts: 5 by default
//  4. On exhaustion, the state drops to Disconnected and stays there
//     until Connect is called again (e.g. after a credential refresh)
//  5. Backoff resets to 1s on successful reconnection
//
// Individual attempt failures are never surfaced to consumers; only the
// shared state signal changes.
//
// # Jitter
//
// To prevent thundering herd when many dashboards reconnect:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// # Replay
//
// The server keeps no memory of a prior connection's subscriptions, so
// OnConnected fires on every entry into Connected, including reconnects.
// The caller replays its subscription set from that hook.
package connection
