package recur

import (
	"errors"
	"testing"

	"github.com/compasscal/compass-sync/internal/model"
)

func seriesFixture() (*model.Event, []*model.Event) {
	base := dailySeriesBase()
	instances := []*model.Event{
		storedInstance("i1", "2026-03-02"),
		storedInstance("i2", "2026-03-03"),
		storedInstance("i3", "2026-03-04"),
		storedInstance("i4", "2026-03-05"),
		storedInstance("i5", "2026-03-06"),
	}
	return base, instances
}

// ---------------------------------------------------------------------------
// Scenario: editing one occurrence touches exactly that occurrence
// ---------------------------------------------------------------------------

func TestApplyScoped_ThisEvent_UpdatesOnlyTarget(t *testing.T) {
	base, instances := seriesFixture()

	edit := cloneEvent(instances[2])
	edit.Title = "Standup (moved)"
	edit.Start = "2026-03-12"
	edit.End = "2026-03-13"

	cs, err := ApplyScoped(base, instances, edit, ScopeThisEvent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cs.NewBase != nil || len(cs.Create) != 0 || len(cs.Delete) != 0 {
		t.Fatal("single-occurrence edit produced creates or deletes")
	}
	if len(cs.Update) != 1 {
		t.Fatalf("Update = %d events, want 1", len(cs.Update))
	}
	got := cs.Update[0]
	if got.ID != "i3" {
		t.Errorf("updated id = %q, want i3", got.ID)
	}
	if got.Start != "2026-03-12" || got.Title != "Standup (moved)" {
		t.Errorf("edit not applied: start=%q title=%q", got.Start, got.Title)
	}
	if got.OriginalStart != "2026-03-04" {
		t.Errorf("original slot lost: %q", got.OriginalStart)
	}
	if got.Recurrence == nil || got.Recurrence.BaseEventID != "b1" {
		t.Error("base reference lost on single-occurrence edit")
	}
}

func TestApplyScoped_ThisEvent_RejectsBaseTarget(t *testing.T) {
	base, instances := seriesFixture()

	edit := cloneEvent(base)
	edit.Title = "renamed"

	_, err := ApplyScoped(base, instances, edit, ScopeThisEvent)
	if !errors.Is(err, ErrInvalidScopeForBase) {
		t.Fatalf("err = %v, want ErrInvalidScopeForBase", err)
	}
}

func TestApplyScoped_ThisEvent_MaterialisesUnstoredOccurrence(t *testing.T) {
	base, instances := seriesFixture()

	// March 9th is generated by the rule but was never stored.
	edit := &model.Event{
		Title:      "Standup (one-off room)",
		Start:      "2026-03-09",
		End:        "2026-03-10",
		Status:     model.StatusConfirmed,
		Recurrence: &model.Recurrence{BaseEventID: "b1"},
	}

	cs, err := ApplyScoped(base, instances, edit, ScopeThisEvent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cs.Create) != 1 || len(cs.Update) != 0 {
		t.Fatalf("Create = %d, Update = %d, want 1 and 0", len(cs.Create), len(cs.Update))
	}
	made := cs.Create[0]
	if made.ID == "" {
		t.Error("materialised instance has no id")
	}
	if made.OriginalStart != "2026-03-09" {
		t.Errorf("OriginalStart = %q, want the edited slot", made.OriginalStart)
	}
	if made.CalendarID != base.CalendarID {
		t.Errorf("CalendarID = %q, want %q", made.CalendarID, base.CalendarID)
	}
	if made.Recurrence == nil || made.Recurrence.BaseEventID != "b1" {
		t.Error("materialised instance does not reference its base")
	}
}

func TestApplyScoped_ThisEvent_DetachesWhenRecurrenceCleared(t *testing.T) {
	base, instances := seriesFixture()

	edit := cloneEvent(instances[1])
	edit.Recurrence = nil

	cs, err := ApplyScoped(base, instances, edit, ScopeThisEvent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cs.Update) != 1 {
		t.Fatalf("Update = %d, want 1", len(cs.Update))
	}
	if cs.Update[0].Recurrence != nil {
		t.Error("instance still carries a base reference after detach")
	}
	if cs.NewBase != nil {
		t.Error("detach created a new base")
	}
}

// ---------------------------------------------------------------------------
// Scenario: this-and-following splits the series at the target
// ---------------------------------------------------------------------------

func TestApplyScoped_ThisAndFollowing_SplitsSeries(t *testing.T) {
	base, instances := seriesFixture()

	// Edit March 4th and everything after it.
	edit := cloneEvent(instances[2])
	edit.Title = "Standup v2"

	cs, err := ApplyScoped(base, instances, edit, ScopeThisAndFollowing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cs.NewBase == nil {
		t.Fatal("split produced no new base")
	}
	if cs.NewBase.ID == base.ID {
		t.Error("new base reuses the old base id")
	}
	if cs.NewBase.Title != "Standup v2" {
		t.Errorf("new base title = %q", cs.NewBase.Title)
	}
	// The edit carried no rule of its own, so the new base inherits the old
	// rule with its end bound removed.
	if len(cs.NewBase.Recurrence.Rule) != 1 || cs.NewBase.Recurrence.Rule[0] != "RRULE:FREQ=DAILY" {
		t.Errorf("new base rule = %v, want the old rule without UNTIL", cs.NewBase.Recurrence.Rule)
	}

	byID := make(map[string]*model.Event, len(cs.Update))
	for _, ev := range cs.Update {
		byID[ev.ID] = ev
	}

	// The old base now ends the day before the split.
	old, ok := byID["b1"]
	if !ok {
		t.Fatal("old base not updated")
	}
	if old.Recurrence.Rule[0] != "RRULE:FREQ=DAILY;UNTIL=20260303" {
		t.Errorf("old base rule = %q, want UNTIL on the day before the split", old.Recurrence.Rule[0])
	}

	// Instances before the split are untouched; the rest move to the new base.
	for _, id := range []string{"i1", "i2"} {
		if _, touched := byID[id]; touched {
			t.Errorf("instance %s before the split was modified", id)
		}
	}
	for _, id := range []string{"i3", "i4", "i5"} {
		moved, ok := byID[id]
		if !ok {
			t.Errorf("instance %s after the split was not reassigned", id)
			continue
		}
		if moved.Recurrence.BaseEventID != cs.NewBase.ID {
			t.Errorf("instance %s points at %q, want the new base", id, moved.Recurrence.BaseEventID)
		}
	}

	// Only the target itself gets the edited fields.
	if byID["i3"].Title != "Standup v2" {
		t.Error("target instance did not receive the edit")
	}
	if byID["i4"].Title != "Standup" || byID["i5"].Title != "Standup" {
		t.Error("non-target instances received the edit")
	}
}

func TestApplyScoped_ThisAndFollowing_UsesEditRule(t *testing.T) {
	base, instances := seriesFixture()

	edit := cloneEvent(instances[4])
	edit.Recurrence = &model.Recurrence{
		Rule:        []string{"RRULE:FREQ=WEEKLY;BYDAY=MO"},
		BaseEventID: "b1",
	}

	cs, err := ApplyScoped(base, instances, edit, ScopeThisAndFollowing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs.NewBase.Recurrence.Rule[0] != "RRULE:FREQ=WEEKLY;BYDAY=MO" {
		t.Errorf("new base rule = %v, want the edit's rule", cs.NewBase.Recurrence.Rule)
	}
}

func TestApplyScoped_ThisAndFollowing_RejectsBaseTarget(t *testing.T) {
	base, instances := seriesFixture()

	edit := cloneEvent(base)
	_, err := ApplyScoped(base, instances, edit, ScopeThisAndFollowing)
	if !errors.Is(err, ErrInvalidScopeForBase) {
		t.Fatalf("err = %v, want ErrInvalidScopeForBase", err)
	}
}

// ---------------------------------------------------------------------------
// Scenario: all-events rewrites shared fields across the series
// ---------------------------------------------------------------------------

func TestApplyScoped_AllEvents_OverwritesFields(t *testing.T) {
	base, instances := seriesFixture()

	edit := &model.Event{Title: "Daily sync", Description: "new agenda", Priority: 2}

	cs, err := ApplyScoped(base, instances, edit, ScopeAllEvents)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cs.Update) != len(instances)+1 {
		t.Fatalf("Update = %d events, want base plus %d instances", len(cs.Update), len(instances))
	}
	for _, ev := range cs.Update {
		if ev.Title != "Daily sync" || ev.Priority != 2 {
			t.Errorf("event %s missed the field overwrite", ev.ID)
		}
	}
	// All-day events with no time template keep their own dates.
	for i, ev := range cs.Update[1:] {
		if ev.Start != instances[i].Start {
			t.Errorf("instance %s date changed: %q", ev.ID, ev.Start)
		}
	}
}

func TestApplyScoped_AllEvents_ShiftsTimeOfDay(t *testing.T) {
	base := &model.Event{
		ID:         "b2",
		Start:      "2026-03-02T09:00:00Z",
		End:        "2026-03-02T09:30:00Z",
		Status:     model.StatusConfirmed,
		Recurrence: &model.Recurrence{Rule: []string{"RRULE:FREQ=DAILY"}},
	}
	inst := &model.Event{
		ID:            "i1",
		Start:         "2026-03-03T09:00:00Z",
		End:           "2026-03-03T09:30:00Z",
		OriginalStart: "2026-03-03T09:00:00Z",
		Status:        model.StatusConfirmed,
		Recurrence:    &model.Recurrence{BaseEventID: "b2"},
	}

	// Push the whole series to 14:00.
	edit := &model.Event{
		Title: "Afternoon sync",
		Start: "2026-03-02T14:00:00Z",
		End:   "2026-03-02T14:30:00Z",
	}

	cs, err := ApplyScoped(base, []*model.Event{inst}, edit, ScopeAllEvents)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byID := make(map[string]*model.Event, len(cs.Update))
	for _, ev := range cs.Update {
		byID[ev.ID] = ev
	}
	if got := byID["b2"].Start; got != "2026-03-02T14:00:00Z" {
		t.Errorf("base start = %q", got)
	}
	// The instance keeps its own day but takes the new clock time.
	if got := byID["i1"].Start; got != "2026-03-03T14:00:00Z" {
		t.Errorf("instance start = %q, want same day at 14:00", got)
	}
	if got := byID["i1"].End; got != "2026-03-03T14:30:00Z" {
		t.Errorf("instance end = %q", got)
	}
}

func TestApplyScoped_MissingBase(t *testing.T) {
	_, err := ApplyScoped(nil, nil, &model.Event{}, ScopeAllEvents)
	if err == nil {
		t.Fatal("expected error for missing base")
	}
}
