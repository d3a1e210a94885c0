// Package model defines shared types used across the sync engine, the
// reconciliation logic, and the provider adapter.
package model

// Status is the provider-reported lifecycle state of an event.
type Status string

const (
	// StatusConfirmed is the normal state of a live event.
	StatusConfirmed Status = "confirmed"
	// StatusCancelled marks a tombstone: a cancelled occurrence or series.
	StatusCancelled Status = "cancelled"
)

// Recurrence carries the series linkage of an event. Exactly one of Rule and
// BaseEventID is populated for a well-formed series member: a base event has
// the rule, an instance has the back-reference.
type Recurrence struct {
	// Rule is the list of RRULE lines (provider recurrence array). Only set
	// on a base event.
	Rule []string

	// BaseEventID is the local id of the series base. Only set on an instance.
	BaseEventID string
}

// Kind is the structural category of an event, decided once at the boundary
// where provider payloads are converted.
type Kind int

const (
	// KindStandalone is an event with no series relation (or a malformed
	// recurrence that names neither a rule nor a base).
	KindStandalone Kind = iota
	// KindBase is the series template carrying the rule.
	KindBase
	// KindInstance is a materialized occurrence referencing its base.
	KindInstance
)

// String returns the category label for logging.
func (k Kind) String() string {
	switch k {
	case KindBase:
		return "base"
	case KindInstance:
		return "instance"
	default:
		return "standalone"
	}
}

// Event is the normalised representation of a calendar event shared between
// the provider adapter, the reconciliation logic, and the state store.
type Event struct {
	// ID is the opaque local identifier, stable once assigned.
	ID string

	// ProviderID is the upstream event id. Empty for purely local events.
	ProviderID string

	// CalendarID is the owning calendar.
	CalendarID string

	// Title and Description are the user-visible text fields.
	Title       string
	Description string

	// Start and End are wire dates: a 10-character date for all-day events,
	// an RFC 3339 timestamp for timed events.
	Start string
	End   string

	// OriginalStart is the occurrence slot this instance would occupy under
	// the unmodified rule. It is the stable matching key across diffs and
	// does not change when the user moves the instance.
	OriginalStart string

	// Priority is the app-level priority carried on Compass events. Zero
	// means unset.
	Priority int

	// Status is confirmed or cancelled.
	Status Status

	// Sequence is the provider's monotonically non-decreasing revision
	// counter, used to reject stale writes.
	Sequence int64

	// Recurrence is nil for a standalone event.
	Recurrence *Recurrence
}

// Kind reports the structural category of the event. Malformed recurrence
// blocks (neither rule nor back-reference, or both) fall through to
// standalone so one bad payload cannot poison series handling.
func (e *Event) Kind() Kind {
	if e.Recurrence == nil {
		return KindStandalone
	}
	hasRule := len(e.Recurrence.Rule) > 0
	hasBase := e.Recurrence.BaseEventID != ""
	switch {
	case hasRule && !hasBase:
		return KindBase
	case hasBase && !hasRule:
		return KindInstance
	default:
		return KindStandalone
	}
}

// IsBase reports whether the event is a series base.
func (e *Event) IsBase() bool { return e.Kind() == KindBase }

// IsInstance reports whether the event is a series instance.
func (e *Event) IsInstance() bool { return e.Kind() == KindInstance }

// IsRecurring reports whether the event participates in any series.
func (e *Event) IsRecurring() bool { return e.Kind() != KindStandalone }

// Cancelled reports whether the event is a tombstone.
func (e *Event) Cancelled() bool { return e.Status == StatusCancelled }

// AllDay reports whether the event uses date-only wire dates.
func (e *Event) AllDay() bool { return IsDateOnly(e.Start) }

// SlotStart returns the matching key for series diffs: the original slot if
// recorded, otherwise the current start (an instance that was never moved).
func (e *Event) SlotStart() string {
	if e.OriginalStart != "" {
		return e.OriginalStart
	}
	return e.Start
}
