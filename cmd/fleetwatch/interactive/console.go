// Package interactive provides the interactive command-line interface
// for fleetwatch.
package interactive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"github.com/voltfleet/fleetlink-go/pkg/client"
	"github.com/voltfleet/fleetlink-go/pkg/notify"
	"github.com/voltfleet/fleetlink-go/pkg/telemetry"
)

// Console handles interactive mode for fleetwatch.
type Console struct {
	svc *client.Service
	rl  *readline.Instance

	mu      sync.Mutex
	watches map[string]*client.Consumer
}

// New creates a new interactive console handler.
func New(svc *client.Service) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "fleet> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	return &Console{
		svc:     svc,
		rl:      rl,
		watches: make(map[string]*client.Consumer),
	}, nil
}

// Stdout returns a writer that coordinates with the readline prompt.
// Use this for log output to avoid interfering with the input line.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Stderr returns a writer that coordinates with the readline prompt.
func (c *Console) Stderr() io.Writer {
	return c.rl.Stderr()
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "watch", "w":
			c.cmdWatch(args)

		case "unwatch":
			c.cmdUnwatch(args)

		case "status", "s":
			c.cmdStatus()

		case "latest", "l":
			c.cmdLatest(args)

		case "alerts", "a":
			c.cmdAlerts()

		case "ack":
			c.cmdAck(ctx, args)

		case "clear":
			c.cmdClear()

		case "poll", "p":
			c.cmdPoll(ctx, args)

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
Fleetwatch Commands:
  Watching:
    watch <system>     - Stream telemetry for a system
    unwatch <system>   - Stop streaming a system
    latest [system]    - Show the last known snapshot(s)
    poll <system>      - Fetch current state over the REST API once

  Alerts:
    alerts             - List notifications (unread marked *)
    ack <id|all>       - Acknowledge a notification
    clear              - Clear all notifications

  General:
    status             - Connection state and watch summary
    help               - Show this help
    quit               - Exit`)
}

func (c *Console) cmdWatch(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: watch <system>")
		return
	}
	systemID := args[0]

	c.mu.Lock()
	_, exists := c.watches[systemID]
	c.mu.Unlock()
	if exists {
		fmt.Fprintf(c.rl.Stdout(), "Already watching %s\n", systemID)
		return
	}

	out := c.rl.Stdout()
	consumer, err := c.svc.Watch(systemID, func(snap *telemetry.Snapshot) {
		fmt.Fprintf(out, "[%s] %s %s\n",
			snap.Timestamp.Format(time.TimeOnly), snap.SystemID, formatMeasurements(snap))
	})
	if err != nil {
		fmt.Fprintf(out, "Watch failed: %v\n", err)
		return
	}

	c.mu.Lock()
	c.watches[systemID] = consumer
	c.mu.Unlock()
	fmt.Fprintf(out, "Watching %s\n", systemID)
}

func (c *Console) cmdUnwatch(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: unwatch <system>")
		return
	}
	systemID := args[0]

	c.mu.Lock()
	consumer, ok := c.watches[systemID]
	delete(c.watches, systemID)
	c.mu.Unlock()

	if !ok {
		fmt.Fprintf(c.rl.Stdout(), "Not watching %s\n", systemID)
		return
	}
	consumer.Close()
	fmt.Fprintf(c.rl.Stdout(), "Stopped watching %s\n", systemID)
}

func (c *Console) cmdStatus() {
	out := c.rl.Stdout()
	fmt.Fprintf(out, "Connection: %s\n", c.svc.State())

	watched := c.svc.WatchedSystems()
	if len(watched) == 0 {
		fmt.Fprintln(out, "Watching:   (none)")
	} else {
		fmt.Fprintf(out, "Watching:   %s\n", strings.Join(watched, ", "))
	}

	n := c.svc.Notifications()
	fmt.Fprintf(out, "Alerts:     %d unread (%d critical)\n", n.UnreadCount(), n.CriticalCount())
}

func (c *Console) cmdLatest(args []string) {
	out := c.rl.Stdout()

	var systems []string
	if len(args) == 1 {
		systems = args
	} else {
		systems = c.svc.WatchedSystems()
		sort.Strings(systems)
	}
	if len(systems) == 0 {
		fmt.Fprintln(out, "Nothing watched; use 'latest <system>'")
		return
	}

	for _, systemID := range systems {
		snap := c.svc.Latest(systemID)
		if snap == nil {
			fmt.Fprintf(out, "%s: no data yet\n", systemID)
			continue
		}
		fmt.Fprintf(out, "%s: %s (at %s)\n",
			systemID, formatMeasurements(snap), snap.Timestamp.Format(time.RFC3339))
	}
}

func (c *Console) cmdAlerts() {
	out := c.rl.Stdout()
	notifications := c.svc.Notifications().List()
	if len(notifications) == 0 {
		fmt.Fprintln(out, "No notifications")
		return
	}

	for _, n := range notifications {
		marker := " "
		if !n.Read {
			marker = "*"
		}
		fmt.Fprintf(out, "%s [%s] %-8s %s  %s\n",
			marker, n.Alert.ID, strings.ToUpper(string(n.Alert.Severity)), n.Alert.SystemID, n.Alert.Title)
	}
}

func (c *Console) cmdAck(ctx context.Context, args []string) {
	out := c.rl.Stdout()
	if len(args) != 1 {
		fmt.Fprintln(out, "Usage: ack <id|all>")
		return
	}

	if args[0] == "all" {
		c.svc.Notifications().MarkAllRead()
		fmt.Fprintln(out, "All notifications marked read")
		return
	}

	alertID := args[0]
	if !c.svc.Notifications().MarkRead(alertID) {
		fmt.Fprintf(out, "Unknown notification: %s\n", alertID)
		return
	}

	// Best effort server-side acknowledgement.
	if api := c.svc.API(); api != nil {
		reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := api.AcknowledgeAlert(reqCtx, alertID); err != nil {
			fmt.Fprintf(out, "Acknowledged locally; server ack failed: %v\n", err)
			return
		}
	}
	fmt.Fprintf(out, "Acknowledged %s\n", alertID)
}

func (c *Console) cmdClear() {
	c.svc.Notifications().ClearAll()
	fmt.Fprintln(c.rl.Stdout(), "Notifications cleared")
}

func (c *Console) cmdPoll(ctx context.Context, args []string) {
	out := c.rl.Stdout()
	if len(args) != 1 {
		fmt.Fprintln(out, "Usage: poll <system>")
		return
	}

	api := c.svc.API()
	if api == nil {
		fmt.Fprintln(out, "No REST API configured (set apiUrl)")
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	snap, err := api.CurrentState(reqCtx, args[0])
	if err != nil {
		fmt.Fprintf(out, "Poll failed: %v\n", err)
		return
	}
	fmt.Fprintf(out, "%s: %s (at %s)\n",
		snap.SystemID, formatMeasurements(snap), snap.Timestamp.Format(time.RFC3339))
}

// Close releases every active watch.
func (c *Console) Close() {
	c.mu.Lock()
	watches := c.watches
	c.watches = make(map[string]*client.Consumer)
	c.mu.Unlock()

	for _, consumer := range watches {
		consumer.Close()
	}
}

func formatMeasurements(snap *telemetry.Snapshot) string {
	names := make([]string, 0, len(snap.Measurements))
	for name := range snap.Measurements {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names)+1)
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%.2f", name, snap.Measurements[name]))
	}
	if len(snap.Flags) > 0 {
		parts = append(parts, "["+strings.Join(snap.Flags, ",")+"]")
	}
	return strings.Join(parts, " ")
}

// bellNotifier rings the terminal bell instead of desktop/sound
// integrations.
type bellNotifier struct {
	out io.Writer
}

// NewBellNotifier creates a notifier that writes bell characters and
// alert banners to out.
func NewBellNotifier(out io.Writer) notify.Notifier {
	return &bellNotifier{out: out}
}

func (b *bellNotifier) PlaySound(n notify.Notification) {
	fmt.Fprint(b.out, "\a")
}

func (b *bellNotifier) ShowDesktop(n notify.Notification) {
	fmt.Fprintf(b.out, "\a!! %s ALERT %s: %s\n",
		strings.ToUpper(string(n.Alert.Severity)), n.Alert.SystemID, n.Alert.Title)
}

var _ notify.Notifier = (*bellNotifier)(nil)
