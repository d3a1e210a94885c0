// Package recur implements recurring-series reconciliation: classifying
// events into series roles, expanding rules into desired occurrences and
// diffing them against stored instances, and applying scoped edits
// (this event, this-and-following, all events) to a series.
package recur

import (
	"github.com/compasscal/compass-sync/internal/model"
)

// Partition groups a flat event collection by series role. Every input event
// lands in exactly one group; relative order within each group follows the
// input.
type Partition struct {
	Bases       []*model.Event
	Instances   []*model.Event
	Standalones []*model.Event
}

// Classify partitions events into bases, instances, and standalones using
// the structural predicates on [model.Event]. Malformed series members fall
// through to standalone rather than erroring.
func Classify(events []*model.Event) Partition {
	var p Partition
	for _, ev := range events {
		switch ev.Kind() {
		case model.KindBase:
			p.Bases = append(p.Bases, ev)
		case model.KindInstance:
			p.Instances = append(p.Instances, ev)
		default:
			p.Standalones = append(p.Standalones, ev)
		}
	}
	return p
}

// CategorizeSeries splits the members of a single series into its base and
// everything else. Unlike [Classify] it does not re-check the instance
// predicate on the remainder: the caller has already filtered to one series.
// When no base is present the series is headless and base is nil; callers
// must defer rather than delete.
func CategorizeSeries(events []*model.Event) (base *model.Event, instances []*model.Event) {
	for _, ev := range events {
		if base == nil && ev.IsBase() {
			base = ev
			continue
		}
		instances = append(instances, ev)
	}
	return base, instances
}
