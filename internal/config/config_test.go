package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, `
calendars:
  - primary
  - team@example.com
credentials_file: /etc/compass/creds.json
webhook_url: https://sync.example.com/notifications
poll_interval: 2m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Calendars) != 2 || cfg.Calendars[1] != "team@example.com" {
		t.Errorf("calendars = %v", cfg.Calendars)
	}
	if cfg.PollInterval != 2*time.Minute {
		t.Errorf("poll_interval = %v", cfg.PollInterval)
	}
	if cfg.ListenAddr != ":8428" {
		t.Errorf("listen_addr default = %q", cfg.ListenAddr)
	}
	if cfg.ChannelLifetime != 7*24*time.Hour {
		t.Errorf("channel_lifetime default = %v", cfg.ChannelLifetime)
	}
	if cfg.RenewalBufferDays != 3 {
		t.Errorf("renewal_buffer_days default = %d", cfg.RenewalBufferDays)
	}
	if cfg.Telemetry != nil {
		t.Error("telemetry should be nil when the block is omitted")
	}
}

func TestLoad_PollingOnlyWithoutWebhook(t *testing.T) {
	path := writeConfig(t, `
calendars: [primary]
credentials_file: /etc/compass/creds.json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.WebhookURL != "" {
		t.Errorf("webhook_url = %q", cfg.WebhookURL)
	}
	if cfg.ListenAddr != "" {
		t.Errorf("listen_addr should stay empty without a webhook, got %q", cfg.ListenAddr)
	}
	if cfg.PollInterval != 5*time.Minute {
		t.Errorf("poll_interval default = %v", cfg.PollInterval)
	}
}

func TestLoad_Telemetry(t *testing.T) {
	path := writeConfig(t, `
calendars: [primary]
credentials_file: /etc/compass/creds.json
telemetry:
  otlp_endpoint: localhost:4317
  insecure: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry == nil || cfg.Telemetry.OTLPEndpoint != "localhost:4317" || !cfg.Telemetry.Insecure {
		t.Errorf("telemetry = %+v", cfg.Telemetry)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no calendars",
			content: "credentials_file: /etc/creds.json",
			wantErr: "calendars",
		},
		{
			name: "empty calendar id",
			content: `
calendars: ["primary", ""]
credentials_file: /etc/creds.json`,
			wantErr: "calendars[1]",
		},
		{
			name:    "missing credentials",
			content: "calendars: [primary]",
			wantErr: "credentials_file",
		},
		{
			name: "http webhook",
			content: `
calendars: [primary]
credentials_file: /etc/creds.json
webhook_url: http://insecure.example.com/hook`,
			wantErr: "https",
		},
		{
			name: "poll interval too short",
			content: `
calendars: [primary]
credentials_file: /etc/creds.json
poll_interval: 5s`,
			wantErr: "poll_interval",
		},
		{
			name: "poll interval too long",
			content: `
calendars: [primary]
credentials_file: /etc/creds.json
poll_interval: 3h`,
			wantErr: "poll_interval",
		},
		{
			name: "channel lifetime too short",
			content: `
calendars: [primary]
credentials_file: /etc/creds.json
channel_lifetime: 10m`,
			wantErr: "channel_lifetime",
		},
		{
			name: "telemetry without endpoint",
			content: `
calendars: [primary]
credentials_file: /etc/creds.json
telemetry:
  insecure: true`,
			wantErr: "otlp_endpoint",
		},
		{
			name: "unknown key",
			content: `
calendars: [primary]
credentials_file: /etc/creds.json
pol_interval: 2m`,
			wantErr: "pol_interval",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}
