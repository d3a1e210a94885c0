// Package sync implements the incremental synchronisation pipeline between
// Google Calendar and the local Compass event store. It organises remote
// change batches, tracks per-calendar sync tokens and watch channels, and
// reconciles recurring series into the store.
//
// The package contains three main components:
//
//   - [Handler] processes a single push notification end to end.
//   - [TokenManager] decides when incremental sync is possible and when
//     watch channels need renewal.
//   - [Engine] runs the polling loop, the notification intake, and channel
//     renewal.
package sync

import (
	"context"
	"time"

	"github.com/compasscal/compass-sync/internal/model"
	"github.com/compasscal/compass-sync/internal/state"
)

// EventPage is one page of a provider change feed. NextSyncToken is only
// populated on the final page of a fetch.
type EventPage struct {
	Items         []*model.Event
	NextPageToken string
	NextSyncToken string
}

// Provider fetches event changes and manages watch channels upstream.
// Implemented by [googlecal.Adapter].
type Provider interface {
	// Events returns one page of changes for a calendar. An empty syncToken
	// requests a full listing; pageToken continues a paginated fetch.
	Events(ctx context.Context, calendarID, syncToken, pageToken string) (EventPage, error)

	// Watch registers (or re-registers) a push channel for a calendar.
	Watch(ctx context.Context, calendarID, channelID string, expiration time.Time) (state.Channel, error)

	// StopChannel tears down a push channel.
	StopChannel(ctx context.Context, channelID, resourceID string) error

	// PushEvent writes a local event upstream and returns its provider id.
	PushEvent(ctx context.Context, calendarID string, ev *model.Event) (string, error)
}

// EventStore persists event documents. All writes are idempotent upserts
// keyed by (provider id, calendar id). Implemented by [state.Store].
type EventStore interface {
	UpsertEvent(ctx context.Context, ev *model.Event) error
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	DeleteByProviderID(ctx context.Context, calendarID, providerID string) error
	DeleteEvents(ctx context.Context, ids []string) error
	InstancesOf(ctx context.Context, baseID string) ([]*model.Event, error)
	FindByProviderID(ctx context.Context, calendarID, providerID string) (*model.Event, error)
}

// SyncStateStore persists per-calendar sync cursors and watch channels.
// Implemented by [state.Store].
type SyncStateStore interface {
	GetSyncState(ctx context.Context, calendarID, resource string) (*state.SyncRecord, error)
	AllSyncStates(ctx context.Context, resource string) ([]*state.SyncRecord, error)
	PutSyncToken(ctx context.Context, calendarID, resource, token string) error
	PutChannel(ctx context.Context, calendarID, resource string, ch state.Channel) error
	DeleteSyncState(ctx context.Context, calendarID, resource string) error
}
