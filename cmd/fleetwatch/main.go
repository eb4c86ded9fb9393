// Command fleetwatch is an interactive watcher for fleet telemetry and
// alerts.
//
// It connects to the fleet live channel, streams telemetry for watched
// systems, and keeps a local notification list of incoming alerts. When
// the live channel is down it falls back to polling the REST API, so
// watched systems keep showing data.
//
// Usage:
//
//	fleetwatch [flags]
//
// Flags:
//
//	-config string     Configuration file path (YAML)
//	-server string     Live channel websocket URL (overrides config)
//	-api string        REST API base URL (overrides config)
//	-token string      Bearer credential (defaults to $FLEETLINK_TOKEN)
//	-log-level string  Log level: debug, info, warn, error (default "info")
//	-log-file string   Protocol event capture file (.flog)
//
// Examples:
//
//	# Connect with explicit endpoints
//	fleetwatch -server wss://fleet.example.com/live -api https://fleet.example.com
//
//	# Use a config file and capture protocol events
//	fleetwatch -config ~/.fleetwatch.yaml -log-file session.flog
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/voltfleet/fleetlink-go/cmd/fleetwatch/interactive"
	"github.com/voltfleet/fleetlink-go/pkg/client"
	"github.com/voltfleet/fleetlink-go/pkg/log"
)

var (
	configPath string
	serverURL  string
	apiURL     string
	token      string
	logLevel   string
	logFile    string
)

func init() {
	flag.StringVar(&configPath, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&serverURL, "server", "", "Live channel websocket URL")
	flag.StringVar(&apiURL, "api", "", "REST API base URL")
	flag.StringVar(&token, "token", "", "Bearer credential (defaults to $FLEETLINK_TOKEN)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&logFile, "log-file", "", "Protocol event capture file (.flog)")
}

// promptWriter swaps its destination once the readline prompt exists,
// so early output goes to stdout and later output coordinates with the
// prompt.
type promptWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *promptWriter) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.w.Write(b)
}

func (p *promptWriter) redirect(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.w = w
}

func main() {
	flag.Parse()

	out := &promptWriter{w: os.Stdout}
	errOut := &promptWriter{w: os.Stderr}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{
		Level: parseLevel(logLevel),
	}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fleetwatch: %v\n", err)
		os.Exit(1)
	}
	cfg.Notifier = interactive.NewBellNotifier(out)
	cfg.Logger = log.NewSlogAdapter(logger)

	svc, err := client.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fleetwatch: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	credential := token
	if credential == "" {
		credential = os.Getenv("FLEETLINK_TOKEN")
	}

	if err := svc.Connect(ctx, credential); err != nil {
		// Keep running: the poll fallback still serves watches.
		slog.Warn("live channel unavailable", "error", err)
	}

	console, err := interactive.New(svc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fleetwatch: %v\n", err)
		os.Exit(1)
	}
	defer console.Close()

	// Route log output through readline to avoid clobbering the prompt.
	out.redirect(console.Stdout())
	errOut.redirect(console.Stderr())

	console.Run(ctx, cancel)
}

func loadConfig() (client.Config, error) {
	cfg := client.DefaultConfig()
	if configPath != "" {
		loaded, err := client.LoadConfig(configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if apiURL != "" {
		cfg.APIURL = apiURL
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
