package googlecal

import (
	"strconv"

	calendar "google.golang.org/api/calendar/v3"

	"github.com/compasscal/compass-sync/internal/model"
)

// priorityKey is the extended-property key Compass clients write app-level
// priority under.
const priorityKey = "compassPriority"

// toModelEvent converts a provider payload into the normalised event shape.
// The series role is decided here, once, at the boundary: a recurrence array
// makes a base, a recurringEventId makes an instance, anything else is
// standalone. Cancelled payloads keep their id and series linkage so the
// organiser can route the tombstone.
func toModelEvent(item *calendar.Event) *model.Event {
	ev := &model.Event{
		ProviderID:  item.Id,
		Title:       item.Summary,
		Description: item.Description,
		Status:      model.Status(item.Status),
		Sequence:    item.Sequence,
	}

	ev.Start = wireDate(item.Start)
	ev.End = wireDate(item.End)
	ev.OriginalStart = wireDate(item.OriginalStartTime)

	switch {
	case len(item.Recurrence) > 0:
		ev.Recurrence = &model.Recurrence{Rule: item.Recurrence}
	case item.RecurringEventId != "":
		// BaseEventID holds the provider's base id until the handler
		// resolves it against the store.
		ev.Recurrence = &model.Recurrence{BaseEventID: item.RecurringEventId}
	}

	if item.ExtendedProperties != nil {
		if raw, ok := item.ExtendedProperties.Private[priorityKey]; ok {
			if p, err := strconv.Atoi(raw); err == nil {
				ev.Priority = p
			}
		}
	}

	return ev
}

// wireDate flattens the provider's date/dateTime union into the wire form:
// the 10-character date for all-day events, the RFC 3339 timestamp
// otherwise.
func wireDate(dt *calendar.EventDateTime) string {
	if dt == nil {
		return ""
	}
	if dt.Date != "" {
		return dt.Date
	}
	return dt.DateTime
}

// toProviderEvent renders a local event for writes back upstream.
func toProviderEvent(ev *model.Event) *calendar.Event {
	item := &calendar.Event{
		Id:          ev.ProviderID,
		Summary:     ev.Title,
		Description: ev.Description,
		Status:      string(ev.Status),
		Sequence:    ev.Sequence,
		Start:       providerDate(ev.Start),
		End:         providerDate(ev.End),
	}
	if ev.IsBase() {
		item.Recurrence = ev.Recurrence.Rule
	}
	if ev.Priority != 0 {
		item.ExtendedProperties = &calendar.EventExtendedProperties{
			Private: map[string]string{priorityKey: strconv.Itoa(ev.Priority)},
		}
	}
	return item
}

func providerDate(s string) *calendar.EventDateTime {
	if s == "" {
		return nil
	}
	if model.IsDateOnly(s) {
		return &calendar.EventDateTime{Date: s}
	}
	return &calendar.EventDateTime{DateTime: s}
}
