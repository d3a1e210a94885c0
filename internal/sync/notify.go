package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/compasscal/compass-sync/internal/model"
	"github.com/compasscal/compass-sync/internal/recur"
	"github.com/compasscal/compass-sync/internal/state"
)

// ErrHeadlessSeries marks instances whose base event is known to neither
// the batch nor the store. They are deferred, not deleted: the base may
// arrive in a later page or batch.
var ErrHeadlessSeries = errors.New("series base not found for instance")

// Outcome is the terminal state of a notification-handling pass.
type Outcome string

const (
	// OutcomeIgnored means the notification required no downstream work:
	// wrong resource type, duplicate delivery, or an empty change set.
	OutcomeIgnored Outcome = "IGNORED"
	// OutcomeProcessed means changes were applied to the store.
	OutcomeProcessed Outcome = "PROCESSED"
)

// Notification is a provider push envelope, with the calendar already
// resolved from the channel by the routing layer.
type Notification struct {
	ChannelID     string
	ResourceID    string
	ResourceState string // "sync", "exists", "not_exists"
	Resource      string // resource type, e.g. state.ResourceEvents
	CalendarID    string
}

// Stats counts the mutations applied in one pass.
type Stats struct {
	Inserted int
	Updated  int
	Deleted  int
	Deferred int
	Errors   int
}

// Result summarises a handled notification.
type Result struct {
	Outcome Outcome
	Stats   Stats
}

// HandlerConfig bounds the reconciliation window for series expansion.
type HandlerConfig struct {
	WindowPast   time.Duration
	WindowFuture time.Duration
}

// DefaultHandlerConfig reconciles one month back and six months ahead.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		WindowPast:   30 * 24 * time.Hour,
		WindowFuture: 180 * 24 * time.Hour,
	}
}

// Handler processes provider push notifications: it fetches the changes
// behind a notification, advances the sync cursor, and reconciles the
// change set into the event store. It holds no per-call state; the
// surrounding infrastructure serialises notifications per calendar.
type Handler struct {
	provider Provider
	events   EventStore
	states   SyncStateStore
	cfg      HandlerConfig
	log      *slog.Logger
	now      func() time.Time
}

// NewHandler creates a Handler. A nil now defaults to time.Now.
func NewHandler(provider Provider, events EventStore, states SyncStateStore, cfg HandlerConfig, logger *slog.Logger, now func() time.Time) *Handler {
	if now == nil {
		now = time.Now
	}
	if cfg.WindowPast <= 0 || cfg.WindowFuture <= 0 {
		cfg = DefaultHandlerConfig()
	}
	return &Handler{provider: provider, events: events, states: states, cfg: cfg, log: logger, now: now}
}

// Handle processes one push notification. Resource types other than events
// are explicitly unimplemented and ignored, not an error.
func (h *Handler) Handle(ctx context.Context, n Notification) (Result, error) {
	if n.Resource != state.ResourceEvents {
		h.log.Debug("ignoring notification for unhandled resource", "resource", n.Resource, "channel", n.ChannelID)
		return Result{Outcome: OutcomeIgnored}, nil
	}
	return h.SyncCalendar(ctx, n.CalendarID)
}

// SyncCalendar runs one incremental sync pass for a calendar: fetch changes
// since the stored cursor, short-circuit on duplicate delivery, reconcile,
// then persist the new cursor. A stale cursor triggers a full resync within
// the same pass.
func (h *Handler) SyncCalendar(ctx context.Context, calendarID string) (Result, error) {
	rec, err := h.states.GetSyncState(ctx, calendarID, state.ResourceEvents)
	if err != nil {
		return Result{}, fmt.Errorf("loading sync state for %s: %w", calendarID, err)
	}
	storedToken := ""
	if rec != nil {
		storedToken = rec.NextSyncToken
	}

	items, newToken, err := h.fetchAll(ctx, calendarID, storedToken)
	if errors.Is(err, ErrStaleSyncToken) {
		h.log.Info("sync token rejected by provider, falling back to full resync", "calendar", calendarID)
		if derr := h.states.PutSyncToken(ctx, calendarID, state.ResourceEvents, ""); derr != nil {
			return Result{}, fmt.Errorf("dropping stale token for %s: %w", calendarID, derr)
		}
		storedToken = ""
		items, newToken, err = h.fetchAll(ctx, calendarID, "")
	}
	if err != nil {
		return Result{}, fmt.Errorf("fetching changes for %s: %w", calendarID, err)
	}
	if newToken == "" {
		return Result{}, fmt.Errorf("calendar %s: %w", calendarID, ErrEmptyNextSyncToken)
	}

	if storedToken != "" && newToken == storedToken {
		// Duplicate delivery: this batch was already processed.
		h.log.Debug("sync token unchanged, ignoring duplicate notification", "calendar", calendarID)
		return Result{Outcome: OutcomeIgnored}, nil
	}

	if len(items) == 0 {
		// Nothing for downstream processing, but the cursor still advances:
		// tokens are monotonic and refetching a known-empty range wastes
		// provider quota.
		if err := h.states.PutSyncToken(ctx, calendarID, state.ResourceEvents, newToken); err != nil {
			return Result{}, fmt.Errorf("persisting token for %s: %w", calendarID, err)
		}
		return Result{Outcome: OutcomeIgnored}, nil
	}

	stats, firstErr := h.process(ctx, calendarID, items)

	// The cursor is persisted only after the batch has been applied, so a
	// crash mid-pass replays the same batch instead of stranding it behind
	// an advanced token. Replays are safe: every write is an upsert by
	// natural key.
	if err := h.states.PutSyncToken(ctx, calendarID, state.ResourceEvents, newToken); err != nil {
		return Result{Stats: stats}, fmt.Errorf("persisting token for %s: %w", calendarID, err)
	}

	h.log.Info("sync pass complete",
		"calendar", calendarID,
		"inserted", stats.Inserted,
		"updated", stats.Updated,
		"deleted", stats.Deleted,
		"deferred", stats.Deferred,
		"errors", stats.Errors,
	)
	return Result{Outcome: OutcomeProcessed, Stats: stats}, firstErr
}

// fetchAll drains the provider's change feed page by page, preserving page
// order: later pages can supersede earlier ones for the same occurrence.
// The sync token is only trusted from the final page.
func (h *Handler) fetchAll(ctx context.Context, calendarID, syncToken string) ([]*model.Event, string, error) {
	var items []*model.Event
	pageToken := ""
	for {
		page, err := h.provider.Events(ctx, calendarID, syncToken, pageToken)
		if err != nil {
			return nil, "", err
		}
		items = append(items, page.Items...)
		if page.NextPageToken == "" {
			return items, page.NextSyncToken, nil
		}
		pageToken = page.NextPageToken
	}
}

// process applies one organised change batch to the store. Errors are
// isolated per item and per series: one broken series must not abort its
// siblings. The first error is returned for the caller's visibility.
func (h *Handler) process(ctx context.Context, calendarID string, items []*model.Event) (Stats, error) {
	var stats Stats
	var firstErr error
	fail := func(err error) {
		stats.Errors++
		if firstErr == nil {
			firstErr = err
		}
	}

	rc := Organize(items)

	for _, providerID := range rc.ToDelete {
		if err := h.events.DeleteByProviderID(ctx, calendarID, providerID); err != nil {
			h.log.Error("deleting cancelled event", "calendar", calendarID, "provider_id", providerID, "error", err)
			fail(err)
			continue
		}
		stats.Deleted++
	}

	for _, ev := range rc.NonRecurring {
		inserted, err := h.upsertRemote(ctx, calendarID, ev)
		if err != nil {
			h.log.Error("upserting standalone event", "calendar", calendarID, "provider_id", ev.ProviderID, "error", err)
			fail(err)
			continue
		}
		if inserted {
			stats.Inserted++
		} else {
			stats.Updated++
		}
	}

	part := recur.Classify(rc.Recurring)

	for _, base := range part.Bases {
		if err := h.reconcileSeries(ctx, calendarID, base, &stats); err != nil {
			h.log.Error("reconciling series", "calendar", calendarID, "provider_id", base.ProviderID, "error", err)
			fail(err)
		}
	}

	for _, inst := range part.Instances {
		if err := h.applyRemoteInstance(ctx, calendarID, inst, &stats); err != nil {
			if errors.Is(err, ErrHeadlessSeries) {
				h.log.Warn("deferring instance without a known base", "calendar", calendarID, "provider_id", inst.ProviderID)
				stats.Deferred++
				continue
			}
			h.log.Error("applying exception instance", "calendar", calendarID, "provider_id", inst.ProviderID, "error", err)
			fail(err)
		}
	}

	for _, ev := range part.Standalones {
		// Malformed series members are stored as plain events rather than
		// dropped.
		if _, err := h.upsertRemote(ctx, calendarID, ev); err != nil {
			fail(err)
			continue
		}
		stats.Updated++
	}

	return stats, firstErr
}

// upsertRemote writes a remote payload into the store, keeping the local id
// stable across repeated syncs. It reports whether the event was new.
func (h *Handler) upsertRemote(ctx context.Context, calendarID string, ev *model.Event) (bool, error) {
	existing, err := h.events.FindByProviderID(ctx, calendarID, ev.ProviderID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		if ev.Sequence < existing.Sequence {
			// Stale revision from an out-of-order delivery; keep ours.
			return false, nil
		}
		ev.ID = existing.ID
	} else if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.CalendarID = calendarID
	return existing == nil, h.events.UpsertEvent(ctx, ev)
}

// reconcileSeries upserts a base event and brings its materialised
// instances in line with the (possibly changed) rule.
func (h *Handler) reconcileSeries(ctx context.Context, calendarID string, base *model.Event, stats *Stats) error {
	inserted, err := h.upsertRemote(ctx, calendarID, base)
	if err != nil {
		return fmt.Errorf("upserting base: %w", err)
	}
	if inserted {
		stats.Inserted++
	} else {
		stats.Updated++
	}

	stored, err := h.events.InstancesOf(ctx, base.ID)
	if err != nil {
		return fmt.Errorf("loading instances: %w", err)
	}

	now := h.now()
	win := recur.Window{Start: now.Add(-h.cfg.WindowPast), End: now.Add(h.cfg.WindowFuture)}
	diff, err := recur.DiffSeries(base, stored, win)
	if err != nil {
		return err
	}

	for _, occ := range diff.ToInsert {
		inst := &model.Event{
			ID:            uuid.NewString(),
			ProviderID:    instanceProviderID(base.ProviderID, occ.Start),
			CalendarID:    calendarID,
			Title:         base.Title,
			Description:   base.Description,
			Priority:      base.Priority,
			Start:         occ.Start,
			End:           occ.End,
			OriginalStart: occ.Start,
			Status:        model.StatusConfirmed,
			Sequence:      base.Sequence,
			Recurrence:    &model.Recurrence{BaseEventID: base.ID},
		}
		if err := h.events.UpsertEvent(ctx, inst); err != nil {
			return fmt.Errorf("materialising instance at %s: %w", occ.Start, err)
		}
		stats.Inserted++
	}

	for _, upd := range diff.ToUpdate {
		inst := upd.Existing
		inst.Start = upd.Start
		inst.End = upd.End
		if err := h.events.UpsertEvent(ctx, inst); err != nil {
			return fmt.Errorf("updating instance %s: %w", inst.ID, err)
		}
		stats.Updated++
	}

	if len(diff.ToDelete) > 0 {
		if err := h.events.DeleteEvents(ctx, diff.ToDelete); err != nil {
			return fmt.Errorf("deleting out-of-rule instances: %w", err)
		}
		stats.Deleted += len(diff.ToDelete)
	}

	return nil
}

// applyRemoteInstance writes an exception instance from the provider after
// resolving its base reference to the local base id.
func (h *Handler) applyRemoteInstance(ctx context.Context, calendarID string, inst *model.Event, stats *Stats) error {
	base, err := h.events.FindByProviderID(ctx, calendarID, inst.Recurrence.BaseEventID)
	if err != nil {
		return err
	}
	if base == nil {
		return fmt.Errorf("instance %s references base %s: %w", inst.ProviderID, inst.Recurrence.BaseEventID, ErrHeadlessSeries)
	}

	inst.Recurrence = &model.Recurrence{BaseEventID: base.ID}
	inserted, err := h.upsertRemote(ctx, calendarID, inst)
	if err != nil {
		return err
	}
	if inserted {
		stats.Inserted++
	} else {
		stats.Updated++
	}
	return nil
}

// instanceProviderID synthesises the provider-style id of a materialised
// occurrence, keeping upserts idempotent across repeated reconciliations.
func instanceProviderID(baseProviderID, start string) string {
	compact := strings.NewReplacer("-", "", ":", "").Replace(start)
	return baseProviderID + "_" + compact
}
