package client

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/voltfleet/fleetlink-go/pkg/connection"
	"github.com/voltfleet/fleetlink-go/pkg/fleetapi"
	"github.com/voltfleet/fleetlink-go/pkg/log"
	"github.com/voltfleet/fleetlink-go/pkg/notify"
	"github.com/voltfleet/fleetlink-go/pkg/poller"
	"github.com/voltfleet/fleetlink-go/pkg/transport"
	"github.com/voltfleet/fleetlink-go/pkg/wire"
)

// ConfigError reports an invalid configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Duration wraps time.Duration for YAML config files, accepting the
// usual "30s" / "5m" forms.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// ReconnectConfig controls the bounded reconnection backoff.
type ReconnectConfig struct {
	InitialBackoff Duration `yaml:"initialBackoff"`
	MaxBackoff     Duration `yaml:"maxBackoff"`
	MaxAttempts    int      `yaml:"maxAttempts"`
}

// PollConfig controls the REST polling fallback.
type PollConfig struct {
	// Enabled turns on automatic poll fallback for watched systems.
	Enabled bool `yaml:"enabled"`

	// Interval between polls of one system.
	Interval Duration `yaml:"interval"`

	// Timeout bounds one fetch request.
	Timeout Duration `yaml:"timeout"`
}

// NotificationConfig controls alert notification side effects.
type NotificationConfig struct {
	Sound       bool     `yaml:"sound"`
	Desktop     bool     `yaml:"desktop"`
	MinSeverity string   `yaml:"minSeverity"`
	Cooldown    Duration `yaml:"cooldown"`
}

// Config configures a Service. The YAML-tagged fields load from a
// config file; the interface fields inject implementations and are
// populated in code (tests swap in fakes here).
type Config struct {
	// ServerURL is the live channel websocket endpoint.
	ServerURL string `yaml:"serverUrl"`

	// APIURL is the REST API root for the polling fallback and alert
	// history. Empty disables the fallback unless a Fetcher is
	// injected.
	APIURL string `yaml:"apiUrl"`

	// HandshakeTimeout bounds the websocket handshake.
	HandshakeTimeout Duration `yaml:"handshakeTimeout"`

	Reconnect     ReconnectConfig    `yaml:"reconnect"`
	Poll          PollConfig         `yaml:"poll"`
	Notifications NotificationConfig `yaml:"notifications"`

	// LogFile, when set, captures protocol events to a CBOR log file.
	LogFile string `yaml:"logFile"`

	// Dialer overrides the websocket dialer.
	Dialer transport.Dialer `yaml:"-"`

	// Fetcher overrides the REST state fetcher.
	Fetcher poller.Fetcher `yaml:"-"`

	// Notifier receives notification side effects.
	Notifier notify.Notifier `yaml:"-"`

	// Logger receives protocol events in addition to any LogFile.
	Logger log.Logger `yaml:"-"`
}

// DefaultConfig returns a config with every tunable at its default.
// ServerURL still has to be set.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: Duration(transport.DefaultHandshakeTimeout),
		Reconnect: ReconnectConfig{
			InitialBackoff: Duration(connection.InitialBackoff),
			MaxBackoff:     Duration(connection.MaxBackoff),
			MaxAttempts:    connection.DefaultMaxAttempts,
		},
		Poll: PollConfig{
			Enabled:  true,
			Interval: Duration(poller.DefaultInterval),
			Timeout:  Duration(poller.DefaultFetchTimeout),
		},
		Notifications: NotificationConfig{
			Sound:       true,
			Desktop:     true,
			MinSeverity: string(wire.SeverityHigh),
			Cooldown:    Duration(10 * time.Second),
		},
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return &ConfigError{Field: "serverUrl", Reason: "required"}
	}
	if c.Reconnect.MaxAttempts < 0 {
		return &ConfigError{Field: "reconnect.maxAttempts", Reason: "must not be negative"}
	}
	if c.Reconnect.InitialBackoff < 0 || c.Reconnect.MaxBackoff < 0 {
		return &ConfigError{Field: "reconnect", Reason: "backoff must not be negative"}
	}
	if c.Reconnect.MaxBackoff > 0 && c.Reconnect.InitialBackoff > c.Reconnect.MaxBackoff {
		return &ConfigError{Field: "reconnect", Reason: "initialBackoff exceeds maxBackoff"}
	}
	if c.Poll.Enabled && c.Poll.Interval <= 0 {
		return &ConfigError{Field: "poll.interval", Reason: "must be positive"}
	}
	if s := c.Notifications.MinSeverity; s != "" && !wire.Severity(s).Valid() {
		return &ConfigError{Field: "notifications.minSeverity", Reason: fmt.Sprintf("unknown severity %q", s)}
	}
	if c.Poll.Enabled && c.APIURL == "" && c.Fetcher == nil {
		return &ConfigError{Field: "apiUrl", Reason: "required when poll fallback is enabled"}
	}
	return nil
}

// notifyConfig translates the file-level notification settings.
func (c *Config) notifyConfig() notify.Config {
	return notify.Config{
		SoundEnabled:   c.Notifications.Sound,
		DesktopEnabled: c.Notifications.Desktop,
		MinSeverity:    wire.Severity(c.Notifications.MinSeverity),
		Cooldown:       time.Duration(c.Notifications.Cooldown),
	}
}

// backoffConfig translates the file-level reconnect settings.
func (c *Config) backoffConfig() connection.BackoffConfig {
	return connection.BackoffConfig{
		Initial:     time.Duration(c.Reconnect.InitialBackoff),
		Max:         time.Duration(c.Reconnect.MaxBackoff),
		Jitter:      connection.JitterFactor,
		MaxAttempts: c.Reconnect.MaxAttempts,
	}
}

// apiClient builds the REST client when the fallback is file-configured.
func (c *Config) apiClient() (*fleetapi.Client, error) {
	return fleetapi.NewClient(fleetapi.Config{
		BaseURL: c.APIURL,
		Timeout: time.Duration(c.Poll.Timeout),
	})
}
