// Package log provides structured event logging for FleetLink.
//
// This package defines the Logger interface and Event types for capturing
// distribution-layer events: connection state changes, decoded wire
// messages, subscription control, poll results, and errors. It is separate
// from operational logging (slog) - event capture produces a complete
// machine-readable trace for debugging subscription and delivery problems.
//
// # Basic Usage
//
// Applications configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.Logger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.Logger, _ = log.NewFileLogger("/var/log/fleetlink/session.flog")
//
//	// Both: use MultiLogger
//	cfg.Logger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # File Format
//
// Log files are a stream of CBOR-encoded events (integer keys for
// compactness) with .flog extension; Reader streams them back with
// optional filtering.
package log
