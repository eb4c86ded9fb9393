// Package commands implements the fleetlog CLI commands.
package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/voltfleet/fleetlink-go/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
	SystemID  string
}

// RunView prints the log file in human-readable form.
func RunView(path string, filter ViewFilter, w io.Writer) error {
	reader, err := log.NewFilteredReader(path, log.Filter{
		Layer:     filter.Layer,
		Direction: filter.Direction,
		Category:  filter.Category,
		SystemID:  filter.SystemID,
	})
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(w, event)
	}
	return nil
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	connID := shortenConnID(event.ConnectionID)
	dir := event.Direction.String()

	var typeLabel string
	switch {
	case event.Message != nil:
		typeLabel = event.Message.Kind
	case event.StateChange != nil:
		typeLabel = "State"
	case event.Control != nil:
		typeLabel = event.Control.Command
	case event.Poll != nil:
		typeLabel = "Poll"
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	layerStr := event.Layer.String()
	if event.Category == log.CategoryControl {
		layerStr = "CTRL"
	}

	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s\n", ts, connID, dir, layerStr, typeLabel)
	if event.SystemID != "" {
		fmt.Fprintf(w, "  System: %s\n", event.SystemID)
	}

	switch {
	case event.Message != nil:
		formatMessageDetails(w, event.Message)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Control != nil:
		formatControlDetails(w, event.Control)
	case event.Poll != nil:
		formatPollDetails(w, event.Poll)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatMessageDetails(w io.Writer, msg *log.MessageEvent) {
	if msg.AlertID != "" {
		fmt.Fprintf(w, "  Alert: %s (%s)\n", msg.AlertID, msg.Severity)
	}
	if msg.MeasurementCount > 0 {
		fmt.Fprintf(w, "  Measurements: %d\n", msg.MeasurementCount)
	}
	if msg.Status != "" {
		fmt.Fprintf(w, "  Status: %s\n", msg.Status)
	}
	fmt.Fprintf(w, "  Handlers: %d\n", msg.HandlerCount)
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	if sc.Attempt > 0 {
		fmt.Fprintf(w, "  Attempt: %d\n", sc.Attempt)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatControlDetails(w io.Writer, ctrl *log.ControlEvent) {
	var notes []string
	if ctrl.Deferred {
		notes = append(notes, "deferred")
	}
	if ctrl.Replay {
		notes = append(notes, "replay")
	}
	if len(notes) > 0 {
		fmt.Fprintf(w, "  Notes: %s\n", strings.Join(notes, ", "))
	}
}

func formatPollDetails(w io.Writer, poll *log.PollEvent) {
	switch {
	case poll.Skipped:
		fmt.Fprintln(w, "  Skipped: request still in flight")
	case poll.Published:
		fmt.Fprintf(w, "  Published (snapshot at %d)\n", poll.SnapshotTimestamp)
	default:
		fmt.Fprintf(w, "  Discarded: snapshot at %d not newer\n", poll.SnapshotTimestamp)
	}
}

func formatErrorDetails(w io.Writer, e *log.ErrorEvent) {
	fmt.Fprintf(w, "  Layer: %s\n", e.Layer)
	fmt.Fprintf(w, "  Message: %s\n", e.Message)
	if e.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", e.Context)
	}
}

// ParseLayerFlag parses a layer name from a CLI flag.
func ParseLayerFlag(s string) (log.Layer, error) {
	return parseLayer(s)
}

// ParseDirectionFlag parses a direction name from a CLI flag.
func ParseDirectionFlag(s string) (log.Direction, error) {
	return parseDirection(s)
}

// ParseCategoryFlag parses a category name from a CLI flag.
func ParseCategoryFlag(s string) (log.Category, error) {
	return parseCategory(s)
}

func parseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "wire":
		return log.LayerWire, nil
	case "service":
		return log.LayerService, nil
	case "poll":
		return log.LayerPoll, nil
	default:
		return 0, fmt.Errorf("unknown layer: %s (transport, wire, service, poll)", s)
	}
}

func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("unknown direction: %s (in, out)", s)
	}
}

func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "control":
		return log.CategoryControl, nil
	case "state":
		return log.CategoryState, nil
	case "poll":
		return log.CategoryPoll, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("unknown category: %s (message, control, state, poll, error)", s)
	}
}
