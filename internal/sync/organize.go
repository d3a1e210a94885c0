package sync

import (
	"github.com/compasscal/compass-sync/internal/model"
)

// RemoteChanges partitions a provider change batch. ToDelete and the two
// update groups are disjoint: a provider id appears in exactly one of them.
type RemoteChanges struct {
	// ToDelete holds the provider ids of cancelled events. The tombstone
	// payload carries no usable content beyond the id.
	ToDelete []string

	// Recurring holds active events that participate in a series.
	Recurring []*model.Event

	// NonRecurring holds active standalone events.
	NonRecurring []*model.Event
}

// Total returns the number of items in the batch.
func (rc RemoteChanges) Total() int {
	return len(rc.ToDelete) + len(rc.Recurring) + len(rc.NonRecurring)
}

// Organize classifies a batch of upstream payloads into deletions and
// updates, preserving batch order within each group. Cancelled events are
// deletions regardless of their series role; everything else is an update,
// split by whether it carries recurrence information.
func Organize(items []*model.Event) RemoteChanges {
	var rc RemoteChanges
	for _, item := range items {
		switch {
		case item.Cancelled():
			rc.ToDelete = append(rc.ToDelete, item.ProviderID)
		case item.IsRecurring():
			rc.Recurring = append(rc.Recurring, item)
		default:
			rc.NonRecurring = append(rc.NonRecurring, item)
		}
	}
	return rc
}
