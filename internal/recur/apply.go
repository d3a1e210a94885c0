package recur

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/compasscal/compass-sync/internal/model"
)

// Scope is the blast radius of an edit to a recurring series.
type Scope int

const (
	// ScopeThisEvent mutates only the targeted instance.
	ScopeThisEvent Scope = iota
	// ScopeThisAndFollowing splits the series at the targeted occurrence.
	ScopeThisAndFollowing
	// ScopeAllEvents overwrites mutable fields across the whole series.
	ScopeAllEvents
)

// String returns the scope label for logging.
func (s Scope) String() string {
	switch s {
	case ScopeThisEvent:
		return "this-event"
	case ScopeThisAndFollowing:
		return "this-and-following"
	case ScopeAllEvents:
		return "all-events"
	default:
		return "unknown"
	}
}

// ErrInvalidScopeForBase rejects single-occurrence scopes aimed directly at
// a series base.
var ErrInvalidScopeForBase = errors.New("scope not valid for a base event")

// Changeset is the set of documents a scoped edit wants written. The applier
// never touches storage itself; callers persist the changeset.
type Changeset struct {
	// NewBase is the base created by a this-and-following split, nil
	// otherwise.
	NewBase *model.Event

	Create []*model.Event
	Update []*model.Event
	Delete []string
}

// ApplyScoped computes the documents to mutate for an edit against a series.
// base and instances are the current series members; edit carries the
// desired state of the targeted event (matched by id, falling back to its
// original slot). The applier is a one-shot decision procedure: callers are
// responsible for serialising edits to the same series.
func ApplyScoped(base *model.Event, instances []*model.Event, edit *model.Event, scope Scope) (Changeset, error) {
	if base == nil || !base.IsBase() {
		return Changeset{}, fmt.Errorf("applying %v edit: series base missing or malformed", scope)
	}

	switch scope {
	case ScopeThisEvent:
		return applyThisEvent(base, instances, edit)
	case ScopeThisAndFollowing:
		return applyThisAndFollowing(base, instances, edit)
	case ScopeAllEvents:
		return applyAllEvents(base, instances, edit)
	default:
		return Changeset{}, fmt.Errorf("unknown update scope %d", scope)
	}
}

func applyThisEvent(base *model.Event, instances []*model.Event, edit *model.Event) (Changeset, error) {
	if edit.ID == base.ID {
		return Changeset{}, fmt.Errorf("%w: %s targets base %s", ErrInvalidScopeForBase, ScopeThisEvent, base.ID)
	}

	target := findTarget(instances, edit)
	if target == nil {
		// Occurrence computed but never materialised: create it on its
		// rule-computed slot, with the edit already applied.
		created := cloneEvent(edit)
		if created.ID == "" {
			created.ID = uuid.NewString()
		}
		created.CalendarID = base.CalendarID
		if created.OriginalStart == "" {
			created.OriginalStart = edit.Start
		}
		if created.Recurrence != nil {
			created.Recurrence = &model.Recurrence{BaseEventID: base.ID}
		}
		return Changeset{Create: []*model.Event{created}}, nil
	}

	updated := cloneEvent(target)
	updated.Title = edit.Title
	updated.Description = edit.Description
	updated.Priority = edit.Priority
	updated.Start = edit.Start
	updated.End = edit.End
	updated.Sequence = edit.Sequence
	if edit.Recurrence == nil {
		// The client cleared the recurrence: detach this instance into a
		// standalone event. No new base is created.
		updated.Recurrence = nil
	}
	return Changeset{Update: []*model.Event{updated}}, nil
}

func applyThisAndFollowing(base *model.Event, instances []*model.Event, edit *model.Event) (Changeset, error) {
	if edit.ID == base.ID {
		return Changeset{}, fmt.Errorf("%w: %s targets base %s", ErrInvalidScopeForBase, ScopeThisAndFollowing, base.ID)
	}

	split, err := model.ParseWireDate(edit.SlotStart())
	if err != nil {
		return Changeset{}, fmt.Errorf("parsing split point %q: %w", edit.SlotStart(), err)
	}
	allDay := base.AllDay()

	// The new base carries the edit's rule when the edit supplies one,
	// otherwise the old rule made open-ended from the split.
	newRule := stripUntil(base.Recurrence.Rule)
	if edit.Recurrence != nil && len(edit.Recurrence.Rule) > 0 {
		newRule = edit.Recurrence.Rule
	}

	newBase := &model.Event{
		ID:          uuid.NewString(),
		CalendarID:  base.CalendarID,
		Title:       edit.Title,
		Description: edit.Description,
		Priority:    edit.Priority,
		Start:       edit.Start,
		End:         edit.End,
		Status:      model.StatusConfirmed,
		Recurrence:  &model.Recurrence{Rule: newRule},
	}

	out := Changeset{NewBase: newBase, Create: []*model.Event{newBase}}

	// Truncate the old series so it ends immediately before the split.
	oldBase := cloneEvent(base)
	oldBase.Recurrence = &model.Recurrence{
		Rule: truncateRule(base.Recurrence.Rule, untilValue(split, allDay)),
	}
	out.Update = append(out.Update, oldBase)

	target := findTarget(instances, edit)
	for _, inst := range instances {
		slot, err := model.ParseWireDate(inst.SlotStart())
		if err != nil || slotBefore(slot, split, allDay) {
			// Earlier instances keep every field, including their base
			// reference.
			continue
		}
		moved := cloneEvent(inst)
		moved.Recurrence = &model.Recurrence{BaseEventID: newBase.ID}
		if inst == target {
			moved.Title = edit.Title
			moved.Description = edit.Description
			moved.Priority = edit.Priority
			moved.Start = edit.Start
			moved.End = edit.End
			moved.Sequence = edit.Sequence
		}
		out.Update = append(out.Update, moved)
	}

	return out, nil
}

func applyAllEvents(base *model.Event, instances []*model.Event, edit *model.Event) (Changeset, error) {
	tmplStart, errS := model.ParseWireDate(edit.Start)
	tmplEnd, errE := model.ParseWireDate(edit.End)
	shiftTimes := errS == nil && errE == nil && !edit.AllDay()

	reshape := func(ev *model.Event) (*model.Event, error) {
		updated := cloneEvent(ev)
		updated.Title = edit.Title
		updated.Description = edit.Description
		updated.Priority = edit.Priority
		if shiftTimes {
			// Propagate the template's time of day onto each event's own
			// date; a blind start/end overwrite would collapse the series
			// onto a single day.
			var err error
			if updated.Start, err = model.ShiftTimeOfDay(ev.Start, tmplStart); err != nil {
				return nil, err
			}
			if updated.End, err = model.ShiftTimeOfDay(ev.End, tmplEnd); err != nil {
				return nil, err
			}
		}
		return updated, nil
	}

	var out Changeset
	for _, ev := range append([]*model.Event{base}, instances...) {
		updated, err := reshape(ev)
		if err != nil {
			return Changeset{}, fmt.Errorf("reshaping %s: %w", ev.ID, err)
		}
		out.Update = append(out.Update, updated)
	}
	return out, nil
}

// findTarget locates the instance an edit refers to, by id first, then by
// original slot.
func findTarget(instances []*model.Event, edit *model.Event) *model.Event {
	for _, inst := range instances {
		if edit.ID != "" && inst.ID == edit.ID {
			return inst
		}
	}
	slot := edit.SlotStart()
	if slot == "" {
		return nil
	}
	for _, inst := range instances {
		if inst.SlotStart() == slot {
			return inst
		}
	}
	return nil
}

// slotBefore orders slots for the split comparison, in day keys for all-day
// series.
func slotBefore(slot, split time.Time, allDay bool) bool {
	if allDay {
		return model.DayKey(slot) < model.DayKey(split)
	}
	return slot.Before(split)
}

// cloneEvent copies an event, including its recurrence block, so changeset
// entries never alias caller-owned memory.
func cloneEvent(ev *model.Event) *model.Event {
	cp := *ev
	if ev.Recurrence != nil {
		rec := *ev.Recurrence
		rec.Rule = append([]string(nil), ev.Recurrence.Rule...)
		cp.Recurrence = &rec
	}
	return &cp
}
