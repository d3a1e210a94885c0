package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/compasscal/compass-sync/internal/state"
)

const (
	otelScope       = "compass-sync/sync"
	spanSyncPass    = "sync.pass"
	metricInserted  = "compass.sync.events.inserted"
	metricUpdated   = "compass.sync.events.updated"
	metricDeleted   = "compass.sync.events.deleted"
	metricIgnored   = "compass.sync.passes.ignored"
	metricErrors    = "compass.sync.errors"
	metricRenewals  = "compass.sync.channel.renewals"
)

// Engine orchestrates the sync lifecycle: a polling loop across all
// configured calendars, an intake channel for push notifications, and
// proactive watch-channel renewal. Create one with [NewEngine] and start it
// with [Engine.Run].
type Engine struct {
	handler      *Handler
	tokens       *TokenManager
	provider     Provider
	states       SyncStateStore
	calendarIDs  []string
	pollInterval time.Duration
	intake       chan Notification
	log          *slog.Logger

	// OTel instruments — always non-nil (no-op when telemetry is disabled).
	tracer      trace.Tracer
	cntInserted metric.Int64Counter
	cntUpdated  metric.Int64Counter
	cntDeleted  metric.Int64Counter
	cntIgnored  metric.Int64Counter
	cntErrors   metric.Int64Counter
	cntRenewals metric.Int64Counter
}

// NewEngine creates an Engine for the given calendars.
func NewEngine(handler *Handler, tokens *TokenManager, provider Provider, states SyncStateStore, calendarIDs []string, pollInterval time.Duration, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		handler:      handler,
		tokens:       tokens,
		provider:     provider,
		states:       states,
		calendarIDs:  calendarIDs,
		pollInterval: pollInterval,
		intake:       make(chan Notification, 64),
		log:          logger,

		tracer:      tracer,
		cntInserted: mustCounter(metricInserted, "Number of events inserted during sync"),
		cntUpdated:  mustCounter(metricUpdated, "Number of events updated during sync"),
		cntDeleted:  mustCounter(metricDeleted, "Number of events deleted during sync"),
		cntIgnored:  mustCounter(metricIgnored, "Number of sync passes ignored (duplicates, empty diffs)"),
		cntErrors:   mustCounter(metricErrors, "Number of errors encountered during sync"),
		cntRenewals: mustCounter(metricRenewals, "Number of watch channel renewals"),
	}
}

// Notify hands a push notification to the engine. It never blocks: when the
// intake buffer is full the notification is dropped, which is safe because
// the next poll re-derives the same state from the sync token.
func (e *Engine) Notify(n Notification) {
	select {
	case e.intake <- n:
	default:
		e.log.Warn("notification intake full, dropping", "channel", n.ChannelID)
	}
}

// pass runs one sync pass for a calendar, recording a trace span and metrics.
func (e *Engine) pass(ctx context.Context, calendarID string) (Result, error) {
	ctx, span := e.tracer.Start(ctx, spanSyncPass)
	defer span.End()
	span.SetAttributes(attribute.String("sync.calendar", calendarID))

	res, err := e.handler.SyncCalendar(ctx, calendarID)

	if res.Outcome == OutcomeIgnored {
		e.cntIgnored.Add(ctx, 1)
	}
	if res.Stats.Inserted > 0 {
		e.cntInserted.Add(ctx, int64(res.Stats.Inserted))
	}
	if res.Stats.Updated > 0 {
		e.cntUpdated.Add(ctx, int64(res.Stats.Updated))
	}
	if res.Stats.Deleted > 0 {
		e.cntDeleted.Add(ctx, int64(res.Stats.Deleted))
	}
	if res.Stats.Errors > 0 {
		e.cntErrors.Add(ctx, int64(res.Stats.Errors))
	}

	span.SetAttributes(
		attribute.String("sync.outcome", string(res.Outcome)),
		attribute.Int("sync.inserted", res.Stats.Inserted),
		attribute.Int("sync.updated", res.Stats.Updated),
		attribute.Int("sync.deleted", res.Stats.Deleted),
		attribute.Int("sync.errors", res.Stats.Errors),
	)
	if err != nil {
		span.RecordError(err)
	}
	return res, err
}

// RunOnce performs a single sync pass over every calendar and returns.
func (e *Engine) RunOnce(ctx context.Context) error {
	var firstErr error
	for _, id := range e.calendarIDs {
		if _, err := e.pass(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Run starts the polling loop and the notification intake. It blocks until
// ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	if states, err := e.states.AllSyncStates(ctx, state.ResourceEvents); err == nil {
		e.log.Info("sync engine starting",
			"calendars", len(e.calendarIDs),
			"incremental", e.tokens.CanDoIncrementalSync(states),
			"push_active", e.tokens.HasActiveEventSync(states),
		)
	}

	// Immediate first pass: register channels, then sync.
	e.renewChannels(ctx)
	if err := e.RunOnce(ctx); err != nil {
		e.log.Error("initial sync pass failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case n := <-e.intake:
			if _, err := e.handler.Handle(ctx, n); err != nil {
				e.log.Error("notification handling failed", "channel", n.ChannelID, "error", err)
			}
		case <-ticker.C:
			e.renewChannels(ctx)
			if err := e.RunOnce(ctx); err != nil {
				e.log.Error("sync pass failed", "error", err)
			}
		}
	}
}

// renewChannels registers a watch channel for every calendar that has none,
// and re-registers channels inside the renewal buffer before the provider
// closes them.
func (e *Engine) renewChannels(ctx context.Context) {
	for _, calendarID := range e.calendarIDs {
		rec, err := e.states.GetSyncState(ctx, calendarID, state.ResourceEvents)
		if err != nil {
			e.log.Error("loading channel state", "calendar", calendarID, "error", err)
			continue
		}

		needsChannel := rec == nil || rec.Channel.ID == "" || e.tokens.ExpiresSoon(rec.Channel.Expiration)
		if !needsChannel {
			continue
		}

		if rec != nil && rec.Channel.ID != "" {
			if err := e.provider.StopChannel(ctx, rec.Channel.ID, rec.Channel.ResourceID); err != nil {
				// The old channel may already be gone server-side; renewal
				// proceeds either way.
				e.log.Warn("stopping old watch channel", "calendar", calendarID, "error", err)
			}
		}

		ch, err := e.provider.Watch(ctx, calendarID, uuid.NewString(), e.tokens.NextExpiration())
		if err != nil {
			e.log.Error("registering watch channel", "calendar", calendarID, "error", err)
			continue
		}
		if err := e.states.PutChannel(ctx, calendarID, state.ResourceEvents, ch); err != nil {
			e.log.Error("persisting watch channel", "calendar", calendarID, "error", err)
			continue
		}
		e.cntRenewals.Add(ctx, 1)
		e.log.Info("watch channel registered", "calendar", calendarID, "channel", ch.ID, "expires", ch.Expiration)
	}
}
