// Package dispatch fans inbound events out to registered consumers.
//
// Telemetry and status handlers are registered per system; global
// variants receive events for every system. Alert handlers are always
// global: a consumer must learn about critical conditions on systems it
// is not actively viewing, so alerts are never gated by the subscription
// registry.
//
// Handlers run synchronously, in registration order, exactly once per
// message. They must not block. A panicking handler is recovered and
// logged; it never takes down the read loop or its sibling handlers.
//
// Registration returns a disposable token; cancelling the token is the
// only way to deregister, which makes cleanup an auditable contract
// instead of a closure convention. Cancel is idempotent and synchronous:
// after it returns, the handler will not fire again.
package dispatch
