package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/voltfleet/fleetlink-go/pkg/log"
)

// RunExport exports the log file to the specified format.
func RunExport(path, format, output string) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch format {
	case "jsonl":
		return exportJSONL(reader, w)
	case "csv":
		return exportCSV(reader, w)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"timestamp", "connection_id", "direction", "layer", "category", "system_id", "type", "detail"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		eventType, detail := summarize(event)
		record := []string{
			event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
			event.ConnectionID,
			event.Direction.String(),
			event.Layer.String(),
			event.Category.String(),
			event.SystemID,
			eventType,
			detail,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	return nil
}

// summarize reduces an event to a type label and one detail column.
func summarize(event log.Event) (eventType, detail string) {
	switch {
	case event.Message != nil:
		if event.Message.AlertID != "" {
			return event.Message.Kind, event.Message.AlertID
		}
		if event.Message.Status != "" {
			return event.Message.Kind, event.Message.Status
		}
		return event.Message.Kind, strconv.Itoa(event.Message.MeasurementCount)
	case event.StateChange != nil:
		return "state", event.StateChange.OldState + "->" + event.StateChange.NewState
	case event.Control != nil:
		return "control", event.Control.Command
	case event.Poll != nil:
		if event.Poll.Skipped {
			return "poll", "skipped"
		}
		if event.Poll.Published {
			return "poll", "published"
		}
		return "poll", "discarded"
	case event.Error != nil:
		return "error", event.Error.Message
	default:
		return "unknown", ""
	}
}
