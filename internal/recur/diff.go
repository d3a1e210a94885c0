package recur

import (
	"fmt"
	"time"

	"github.com/compasscal/compass-sync/internal/model"
)

// maxOccurrencesPerSeries caps rule expansion so a pathological rule cannot
// produce an unbounded diff.
const maxOccurrencesPerSeries = 1000

// Window is the time range a diff operates over.
type Window struct {
	Start time.Time
	End   time.Time
}

// Occurrence is a slot the rule says should exist, expressed in wire dates.
type Occurrence struct {
	Start string
	End   string
}

// InstanceUpdate pairs a stored instance with the slot times it should have.
type InstanceUpdate struct {
	Existing *model.Event
	Start    string
	End      string
}

// Diff describes the mutations needed to bring a series' stored instances in
// line with its rule over a window.
type Diff struct {
	ToInsert []Occurrence
	ToUpdate []InstanceUpdate
	ToDelete []string // instance ids
}

// Empty reports whether the diff carries no mutations.
func (d Diff) Empty() bool {
	return len(d.ToInsert) == 0 && len(d.ToUpdate) == 0 && len(d.ToDelete) == 0
}

// DiffSeries expands base's rule over the window and reconciles the desired
// occurrences against the stored instances of the series.
//
// Matching is by original slot start, so a user-moved instance still claims
// its slot. A cancelled instance suppresses its occurrence entirely: it is
// neither recreated nor deleted. Stored instances whose slot falls inside
// the window but is no longer generated by the rule are queued for deletion.
// Instances the user has moved are never reverted; only instances still
// sitting on their original slot are updated when the computed times change.
//
// A rule that cannot be parsed yields an empty diff and [ErrMalformedRule].
func DiffSeries(base *model.Event, stored []*model.Event, win Window) (Diff, error) {
	var out Diff

	if base == nil || !base.IsBase() {
		return out, fmt.Errorf("%w: event is not a series base", ErrMalformedRule)
	}

	start, err := model.ParseWireDate(base.Start)
	if err != nil {
		return out, fmt.Errorf("%w: base start: %v", ErrMalformedRule, err)
	}
	allDay := base.AllDay()

	set, err := parseRuleSet(base.Recurrence.Rule, start)
	if err != nil {
		return out, err
	}

	winStart := win.Start.In(start.Location())
	winEnd := win.End.In(start.Location())
	slots := set.Between(winStart, winEnd, true)
	if len(slots) > maxOccurrencesPerSeries {
		slots = slots[:maxOccurrencesPerSeries]
	}

	// Index stored instances by the key of their original slot.
	existing := make(map[int64]*model.Event, len(stored))
	for _, inst := range stored {
		t, err := model.ParseWireDate(inst.SlotStart())
		if err != nil {
			continue
		}
		existing[slotKey(t, allDay)] = inst
	}

	desired := make(map[int64]bool, len(slots))
	duration := baseDuration(base, start)

	for _, slot := range slots {
		key := slotKey(slot, allDay)
		desired[key] = true

		occStart, occEnd := occurrenceDates(slot, duration, allDay)

		inst, ok := existing[key]
		if !ok {
			out.ToInsert = append(out.ToInsert, Occurrence{Start: occStart, End: occEnd})
			continue
		}
		if inst.Cancelled() {
			// Explicitly skipped occurrence; keep the tombstone as-is.
			continue
		}
		if moved(inst) {
			// The user relocated this instance; its slot stays claimed but
			// its dates are theirs now.
			continue
		}
		if inst.Start != occStart || inst.End != occEnd {
			out.ToUpdate = append(out.ToUpdate, InstanceUpdate{Existing: inst, Start: occStart, End: occEnd})
		}
	}

	// Stored instances inside the window whose slot the rule no longer
	// generates (shortened UNTIL, added exception date) go away.
	for _, inst := range stored {
		t, err := model.ParseWireDate(inst.SlotStart())
		if err != nil {
			continue
		}
		if desired[slotKey(t, allDay)] {
			continue
		}
		if !inWindow(t, winStart, winEnd, allDay) {
			continue
		}
		out.ToDelete = append(out.ToDelete, inst.ID)
	}

	return out, nil
}

// moved reports whether an instance has been individually relocated off its
// original slot.
func moved(inst *model.Event) bool {
	return inst.OriginalStart != "" && inst.OriginalStart != inst.Start
}

// slotKey reduces a slot time to its matching key: the civil day for all-day
// series, the instant for timed series.
func slotKey(t time.Time, allDay bool) int64 {
	if allDay {
		return int64(model.DayKey(t))
	}
	return t.Unix()
}

// baseDuration computes the span every occurrence inherits from the base:
// whole days for all-day series, wall-clock duration otherwise.
func baseDuration(base *model.Event, start time.Time) time.Duration {
	if base.AllDay() {
		from, to, err := model.DayRange(base.Start, base.End)
		if err != nil {
			return 24 * time.Hour
		}
		return time.Duration(to-from) * 24 * time.Hour
	}
	end, err := model.ParseWireDate(base.End)
	if err != nil || !end.After(start) {
		return 0
	}
	return end.Sub(start)
}

// occurrenceDates renders a slot into wire start/end dates.
func occurrenceDates(slot time.Time, duration time.Duration, allDay bool) (string, string) {
	if allDay {
		days := int(duration / (24 * time.Hour))
		if days < 1 {
			days = 1
		}
		return slot.Format(model.DateOnly), slot.AddDate(0, 0, days).Format(model.DateOnly)
	}
	return slot.Format(time.RFC3339), slot.Add(duration).Format(time.RFC3339)
}

// inWindow reports whether a slot falls inside the diff window. All-day
// comparison is in day keys so time zones cannot shave off boundary days.
func inWindow(t, winStart, winEnd time.Time, allDay bool) bool {
	if allDay {
		k := model.DayKey(t)
		return k >= model.DayKey(winStart) && k <= model.DayKey(winEnd)
	}
	return !t.Before(winStart) && !t.After(winEnd)
}
