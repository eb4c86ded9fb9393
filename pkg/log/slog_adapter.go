package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes events to an slog.Logger.
// Useful for development when you want to see distribution events in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	if event.SystemID != "" {
		attrs = append(attrs, slog.String("system_id", event.SystemID))
	}

	// Add type-specific attributes
	switch {
	case event.Message != nil:
		attrs = append(attrs, slog.String("kind", event.Message.Kind))
		if event.Message.AlertID != "" {
			attrs = append(attrs,
				slog.String("alert_id", event.Message.AlertID),
				slog.String("severity", event.Message.Severity),
			)
		}
		if event.Message.MeasurementCount > 0 {
			attrs = append(attrs, slog.Int("measurements", event.Message.MeasurementCount))
		}
		if event.Message.Status != "" {
			attrs = append(attrs, slog.String("status", event.Message.Status))
		}
		if event.Message.HandlerCount > 0 {
			attrs = append(attrs, slog.Int("handlers", event.Message.HandlerCount))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Attempt > 0 {
			attrs = append(attrs, slog.Int("attempt", event.StateChange.Attempt))
		}
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Control != nil:
		attrs = append(attrs, slog.String("command", event.Control.Command))
		if event.Control.Deferred {
			attrs = append(attrs, slog.Bool("deferred", true))
		}
		if event.Control.Replay {
			attrs = append(attrs, slog.Bool("replay", true))
		}
	case event.Poll != nil:
		attrs = append(attrs, slog.Bool("published", event.Poll.Published))
		if event.Poll.Skipped {
			attrs = append(attrs, slog.Bool("skipped", true))
		}
		if event.Poll.SnapshotTimestamp > 0 {
			attrs = append(attrs, slog.Int64("snapshot_ts", event.Poll.SnapshotTimestamp))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
		)
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "fleetlink", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
