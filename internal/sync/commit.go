package sync

import (
	"context"
	"fmt"

	"github.com/compasscal/compass-sync/internal/model"
	"github.com/compasscal/compass-sync/internal/recur"
)

// ApplyEdit runs a scoped edit against a stored series: it computes the
// changeset, mirrors every touched document upstream, and persists the
// result locally. The remote write happens first so a failure leaves the
// local store untouched; the next sync pass then re-derives whatever state
// the provider ended up with.
func (h *Handler) ApplyEdit(ctx context.Context, calendarID, baseID string, edit *model.Event, scope recur.Scope) (recur.Changeset, error) {
	base, err := h.events.GetEvent(ctx, baseID)
	if err != nil {
		return recur.Changeset{}, fmt.Errorf("loading series base %s: %w", baseID, err)
	}
	if base == nil {
		return recur.Changeset{}, fmt.Errorf("series base %s not found", baseID)
	}

	instances, err := h.events.InstancesOf(ctx, baseID)
	if err != nil {
		return recur.Changeset{}, fmt.Errorf("loading instances of %s: %w", baseID, err)
	}

	cs, err := recur.ApplyScoped(base, instances, edit, scope)
	if err != nil {
		return recur.Changeset{}, err
	}

	for _, ev := range cs.Create {
		ev.CalendarID = calendarID
		providerID, err := h.provider.PushEvent(ctx, calendarID, ev)
		if err != nil {
			return cs, fmt.Errorf("pushing new event %s: %w", ev.ID, err)
		}
		ev.ProviderID = providerID
		if err := h.events.UpsertEvent(ctx, ev); err != nil {
			return cs, fmt.Errorf("storing new event %s: %w", ev.ID, err)
		}
	}

	for _, ev := range cs.Update {
		ev.CalendarID = calendarID
		if ev.ProviderID != "" {
			if _, err := h.provider.PushEvent(ctx, calendarID, ev); err != nil {
				return cs, fmt.Errorf("pushing update for %s: %w", ev.ID, err)
			}
		}
		if err := h.events.UpsertEvent(ctx, ev); err != nil {
			return cs, fmt.Errorf("storing update for %s: %w", ev.ID, err)
		}
	}

	if len(cs.Delete) > 0 {
		if err := h.events.DeleteEvents(ctx, cs.Delete); err != nil {
			return cs, fmt.Errorf("deleting replaced events: %w", err)
		}
	}

	h.log.Info("scoped edit applied",
		"calendar", calendarID,
		"base", baseID,
		"scope", scope,
		"created", len(cs.Create),
		"updated", len(cs.Update),
		"deleted", len(cs.Delete),
	)
	return cs, nil
}
