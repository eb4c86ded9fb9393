package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/voltfleet/fleetlink-go/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Connections       map[string]*ConnectionStats
	Systems           map[string]*SystemStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats holds statistics for a single live-channel session.
type ConnectionStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
}

// SystemStats holds statistics for a single monitored system.
type SystemStats struct {
	Telemetry int
	Alerts    int
	Polls     int
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Connections:       make(map[string]*ConnectionStats),
		Systems:           make(map[string]*SystemStats),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}

	printStats(w, stats)
	return nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++
	if event.Error != nil {
		s.Errors++
	}

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	if event.ConnectionID != "" {
		conn, ok := s.Connections[event.ConnectionID]
		if !ok {
			conn = &ConnectionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
			s.Connections[event.ConnectionID] = conn
		}
		conn.Events++
		if event.Timestamp.After(conn.LastSeen) {
			conn.LastSeen = event.Timestamp
		}
	}

	if event.SystemID != "" {
		sys, ok := s.Systems[event.SystemID]
		if !ok {
			sys = &SystemStats{}
			s.Systems[event.SystemID] = sys
		}
		switch {
		case event.Poll != nil:
			sys.Polls++
		case event.Message != nil && event.Message.AlertID != "":
			sys.Alerts++
		case event.Message != nil:
			sys.Telemetry++
		}
	}
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintf(w, "Total events: %d\n", stats.TotalEvents)
	if stats.TotalEvents == 0 {
		return
	}
	fmt.Fprintf(w, "Time range:   %s .. %s (%s)\n",
		stats.TimeRange.Start.UTC().Format(time.RFC3339),
		stats.TimeRange.End.UTC().Format(time.RFC3339),
		stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
	fmt.Fprintf(w, "Errors:       %d\n", stats.Errors)

	fmt.Fprintln(w, "\nBy layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerService, log.LayerPoll} {
		if n := stats.EventsByLayer[layer]; n > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", layer.String(), n)
		}
	}

	fmt.Fprintln(w, "\nBy category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryControl, log.CategoryState, log.CategoryPoll, log.CategoryError} {
		if n := stats.EventsByCategory[cat]; n > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", cat.String(), n)
		}
	}

	if len(stats.Connections) > 0 {
		fmt.Fprintf(w, "\nSessions (%d):\n", len(stats.Connections))
		ids := make([]string, 0, len(stats.Connections))
		for id := range stats.Connections {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			conn := stats.Connections[id]
			fmt.Fprintf(w, "  %s  %d events, %s\n",
				shortenConnID(id), conn.Events, conn.LastSeen.Sub(conn.FirstSeen).Round(time.Second))
		}
	}

	if len(stats.Systems) > 0 {
		fmt.Fprintf(w, "\nSystems (%d):\n", len(stats.Systems))
		ids := make([]string, 0, len(stats.Systems))
		for id := range stats.Systems {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			sys := stats.Systems[id]
			fmt.Fprintf(w, "  %-12s telemetry=%d alerts=%d polls=%d\n",
				id, sys.Telemetry, sys.Alerts, sys.Polls)
		}
	}
}
