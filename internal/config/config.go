// Package config loads and validates the compass-sync YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// Calendars lists the Google calendar ids to keep in sync.
	Calendars []string `yaml:"calendars"`

	// CredentialsFile is the path to the OAuth token JSON used to
	// authenticate against the Google Calendar API.
	CredentialsFile string `yaml:"credentials_file"`

	// WebhookURL is the public HTTPS address push notifications are
	// delivered to. Empty disables watch channels; the daemon runs
	// polling-only.
	WebhookURL string `yaml:"webhook_url"`

	// ListenAddr is the local address the webhook receiver binds to.
	// Defaults to ":8428" when a webhook URL is configured.
	ListenAddr string `yaml:"listen_addr"`

	// PollInterval controls how often calendars are polled for changes
	// between notifications. Minimum 30s, maximum 1h. Defaults to 5m.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ChannelLifetime is the requested lifetime of a watch channel.
	// Defaults to 168h (one week).
	ChannelLifetime time.Duration `yaml:"channel_lifetime"`

	// RenewalBufferDays is how many days before expiry a watch channel is
	// proactively renewed. Defaults to 3.
	RenewalBufferDays int `yaml:"renewal_buffer_days"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "compass-sync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/compass-sync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "compass-sync", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required fields are present and well-formed.
func (c *Config) validate() error {
	if len(c.Calendars) == 0 {
		return fmt.Errorf("calendars must contain at least one calendar id")
	}
	for i, id := range c.Calendars {
		if id == "" {
			return fmt.Errorf("calendars[%d] is empty", i)
		}
	}

	if c.CredentialsFile == "" {
		return fmt.Errorf("credentials_file is required")
	}

	if c.WebhookURL != "" {
		u, err := url.ParseRequestURI(c.WebhookURL)
		if err != nil || u.Scheme != "https" {
			return fmt.Errorf("webhook_url %q must be a valid https URL", c.WebhookURL)
		}
		if c.ListenAddr == "" {
			c.ListenAddr = ":8428"
		}
	}

	if c.PollInterval == 0 {
		c.PollInterval = 5 * time.Minute
	}
	if c.PollInterval < 30*time.Second {
		return fmt.Errorf("poll_interval %v is too short (minimum 30s)", c.PollInterval)
	}
	if c.PollInterval > time.Hour {
		return fmt.Errorf("poll_interval %v is too long (maximum 1h)", c.PollInterval)
	}

	if c.ChannelLifetime == 0 {
		c.ChannelLifetime = 7 * 24 * time.Hour
	}
	if c.ChannelLifetime < time.Hour {
		return fmt.Errorf("channel_lifetime %v is too short (minimum 1h)", c.ChannelLifetime)
	}

	if c.RenewalBufferDays == 0 {
		c.RenewalBufferDays = 3
	}
	if c.RenewalBufferDays < 0 {
		return fmt.Errorf("renewal_buffer_days must not be negative")
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
