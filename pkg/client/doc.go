// Package client assembles the telemetry distribution service: the
// live websocket channel with bounded reconnection, reference-counted
// system subscriptions, fan-out dispatch to registered handlers, the
// REST polling fallback, and the notification aggregator.
//
// A Service is an explicit instance; nothing in this package is a
// process-wide singleton, so tests and multi-tenant processes can run
// several isolated services side by side.
//
// The usual shape:
//
//	cfg := client.DefaultConfig()
//	cfg.ServerURL = "wss://fleet.example.com/live"
//	cfg.APIURL = "https://fleet.example.com"
//
//	svc, err := client.New(cfg)
//	...
//	if err := svc.Connect(ctx, token); err != nil { ... }
//
//	consumer, err := svc.Watch("sys-001", func(snap *telemetry.Snapshot) { ... })
//	...
//	defer consumer.Close()
package client
