// Compass-sync is a daemon that keeps the Compass calendar event store
// consistent with Google Calendar: it receives push notifications (or
// polls), fetches incremental changes by sync token, and reconciles
// recurring series into the local store.
//
// Usage:
//
//	compass-sync daemon [--config <path>]     # run the sync engine + webhook
//	compass-sync sync-once [--config <path>]  # single sync pass then exit
//	compass-sync version                      # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"

	"github.com/compasscal/compass-sync/internal/config"
	"github.com/compasscal/compass-sync/internal/googlecal"
	"github.com/compasscal/compass-sync/internal/state"
	syncp "github.com/compasscal/compass-sync/internal/sync"
	"github.com/compasscal/compass-sync/internal/telemetry"
	"github.com/compasscal/compass-sync/internal/webhook"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return errors.New("no command given")
	}

	switch cmd := os.Args[1]; cmd {
	case "daemon":
		return runSync(os.Args[2:], true)
	case "sync-once":
		return runSync(os.Args[2:], false)
	case "calendars":
		return runCalendars(os.Args[2:])
	case "version":
		fmt.Println("compass-sync", version)
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "compass-sync — keep the Compass event store in sync with Google Calendar")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  compass-sync daemon [--config <path>]     Run the sync engine and webhook receiver")
	fmt.Fprintln(os.Stderr, "  compass-sync sync-once [--config <path>]  Single sync pass then exit")
	fmt.Fprintln(os.Stderr, "  compass-sync calendars [--config <path>]  List the account's calendar ids")
	fmt.Fprintln(os.Stderr, "  compass-sync version                      Print version")
}

// calendarListOwner keys the account-wide calendar-list sync state, which is
// not tied to any single calendar.
const calendarListOwner = "account"

// runCalendars prints the calendar ids visible to the configured account,
// so users can copy them into the calendars list of the config file. The
// calendar-list sync token is persisted between runs.
func runCalendars(args []string) error {
	fs := flag.NewFlagSet("compass-sync calendars", flag.ExitOnError)
	cfgPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	path := *cfgPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPath, err := state.DefaultDBPath()
	if err != nil {
		return err
	}
	store, err := state.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	provider, err := buildProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}

	storedToken := ""
	if rec, err := store.GetSyncState(ctx, calendarListOwner, state.ResourceCalendarList); err == nil && rec != nil {
		storedToken = rec.NextSyncToken
	}

	ids, token, err := provider.Calendars(ctx, storedToken)
	if errors.Is(err, syncp.ErrStaleSyncToken) {
		ids, token, err = provider.Calendars(ctx, "")
	}
	if err != nil {
		return err
	}

	for _, id := range ids {
		fmt.Println(id)
	}
	if len(ids) == 0 && storedToken != "" {
		fmt.Fprintln(os.Stderr, "no calendar changes since last run")
	}

	return store.PutSyncToken(ctx, calendarListOwner, state.ResourceCalendarList, token)
}

// buildProvider wires the OAuth credentials into a calendar adapter.
func buildProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*googlecal.Adapter, error) {
	credJSON, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, credJSON, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	return googlecal.NewAdapter(ctx, creds.TokenSource, cfg.WebhookURL, logger)
}

func runSync(args []string, daemon bool) error {
	fs := flag.NewFlagSet("compass-sync", flag.ExitOnError)
	cfgPath := fs.String("config", "", "path to config file")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	path := *cfgPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry != nil {
		shutdown, err := telemetry.Setup(ctx, telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		})
		if err != nil {
			logger.Error("telemetry setup failed, continuing without", "error", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Error("telemetry shutdown", "error", err)
			}
		}()
	}

	dbPath, err := state.DefaultDBPath()
	if err != nil {
		return err
	}
	store, err := state.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	provider, err := buildProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}

	tokens := syncp.NewTokenManager(syncp.TokenConfig{
		RenewalBufferDays: cfg.RenewalBufferDays,
		ChannelLifetime:   cfg.ChannelLifetime,
	}, nil)
	handler := syncp.NewHandler(provider, store, store, syncp.DefaultHandlerConfig(), logger, nil)
	engine := syncp.NewEngine(handler, tokens, provider, store, cfg.Calendars, cfg.PollInterval, logger)

	if !daemon {
		return engine.RunOnce(ctx)
	}

	if cfg.WebhookURL != "" {
		wh := webhook.NewHandler(engine, store, logger)
		srv := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           wh.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("webhook receiver listening", "addr", cfg.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("webhook server failed", "error", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()
	}

	err = engine.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
