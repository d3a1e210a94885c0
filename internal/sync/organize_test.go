package sync

import (
	"testing"

	"github.com/compasscal/compass-sync/internal/model"
)

func TestOrganize_SplitsByKind(t *testing.T) {
	cancelled := &model.Event{ProviderID: "p-gone", Status: model.StatusCancelled}
	cancelledSeries := &model.Event{
		ProviderID: "p-gone-series",
		Status:     model.StatusCancelled,
		Recurrence: &model.Recurrence{Rule: []string{"RRULE:FREQ=DAILY"}},
	}
	base := &model.Event{
		ProviderID: "p-base",
		Status:     model.StatusConfirmed,
		Recurrence: &model.Recurrence{Rule: []string{"RRULE:FREQ=WEEKLY"}},
	}
	instance := &model.Event{
		ProviderID: "p-inst",
		Status:     model.StatusConfirmed,
		Recurrence: &model.Recurrence{BaseEventID: "p-base"},
	}
	plain := &model.Event{ProviderID: "p-plain", Status: model.StatusConfirmed}

	rc := Organize([]*model.Event{cancelled, cancelledSeries, base, instance, plain})

	if got := len(rc.ToDelete); got != 2 {
		t.Errorf("ToDelete = %d, want 2 (cancellation wins over recurrence)", got)
	}
	if len(rc.Recurring) != 2 {
		t.Errorf("Recurring = %d, want base and instance", len(rc.Recurring))
	}
	if len(rc.NonRecurring) != 1 || rc.NonRecurring[0].ProviderID != "p-plain" {
		t.Errorf("NonRecurring = %v", rc.NonRecurring)
	}
	if rc.Total() != 5 {
		t.Errorf("Total = %d, want 5", rc.Total())
	}
}

func TestOrganize_Empty(t *testing.T) {
	rc := Organize(nil)
	if rc.Total() != 0 {
		t.Errorf("Total = %d, want 0", rc.Total())
	}
}
