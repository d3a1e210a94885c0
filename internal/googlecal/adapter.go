// Package googlecal wraps the Google Calendar API for the sync engine. It
// provides an [Adapter] with methods aligned to the engine's needs, a
// 3-attempt exponential-backoff [Retry] helper, and conversion between the
// provider's JSON representation and [model.Event].
package googlecal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/compasscal/compass-sync/internal/model"
	"github.com/compasscal/compass-sync/internal/state"
	syncp "github.com/compasscal/compass-sync/internal/sync"
)

// Adapter implements [sync.Provider] against the Google Calendar v3 API.
type Adapter struct {
	svc        *calendar.Service
	webhookURL string
	log        *slog.Logger
}

// NewAdapter builds an Adapter authenticated by the given token source.
// webhookURL is the public address push notifications are delivered to.
func NewAdapter(ctx context.Context, ts oauth2.TokenSource, webhookURL string, logger *slog.Logger) (*Adapter, error) {
	svc, err := calendar.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("creating calendar service: %w", err)
	}
	return &Adapter{svc: svc, webhookURL: webhookURL, log: logger}, nil
}

// Events returns one page of changes for a calendar. A 410 from the
// provider means the sync token has expired server-side and is surfaced as
// [sync.ErrStaleSyncToken] so the caller can fall back to a full resync.
func (a *Adapter) Events(ctx context.Context, calendarID, syncToken, pageToken string) (syncp.EventPage, error) {
	call := a.svc.Events.List(calendarID).
		ShowDeleted(true).
		SingleEvents(false).
		Context(ctx)
	if syncToken != "" {
		call = call.SyncToken(syncToken)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	var resp *calendar.Events
	err := Retry(ctx, defaultMaxAttempts, func() error {
		var err error
		resp, err = call.Do()
		return err
	})
	if err != nil {
		if isGone(err) {
			return syncp.EventPage{}, fmt.Errorf("calendar %s: %w", calendarID, syncp.ErrStaleSyncToken)
		}
		return syncp.EventPage{}, fmt.Errorf("listing events for %s: %w", calendarID, err)
	}

	page := syncp.EventPage{
		NextPageToken: resp.NextPageToken,
		NextSyncToken: resp.NextSyncToken,
	}
	for _, item := range resp.Items {
		page.Items = append(page.Items, toModelEvent(item))
	}
	return page, nil
}

// Calendars returns the user's calendar ids, optionally as a delta since a
// previous sync token. The returned token has already passed the blank
// check.
func (a *Adapter) Calendars(ctx context.Context, syncToken string) ([]string, string, error) {
	var ids []string
	pageToken := ""
	nextSyncToken := ""
	for {
		call := a.svc.CalendarList.List().Context(ctx)
		if syncToken != "" {
			call = call.SyncToken(syncToken)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		var resp *calendar.CalendarList
		err := Retry(ctx, defaultMaxAttempts, func() error {
			var err error
			resp, err = call.Do()
			return err
		})
		if err != nil {
			if isGone(err) {
				return nil, "", fmt.Errorf("calendar list: %w", syncp.ErrStaleSyncToken)
			}
			return nil, "", fmt.Errorf("listing calendars: %w", err)
		}

		for _, entry := range resp.Items {
			ids = append(ids, entry.Id)
		}
		nextSyncToken = resp.NextSyncToken
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	if err := syncp.CheckCalendarListToken(nextSyncToken); err != nil {
		return nil, "", err
	}
	return ids, nextSyncToken, nil
}

// Watch registers a push channel for a calendar's events.
func (a *Adapter) Watch(ctx context.Context, calendarID, channelID string, expiration time.Time) (state.Channel, error) {
	req := &calendar.Channel{
		Id:         channelID,
		Type:       "web_hook",
		Address:    a.webhookURL,
		Expiration: expiration.UnixMilli(),
	}

	var resp *calendar.Channel
	err := Retry(ctx, defaultMaxAttempts, func() error {
		var err error
		resp, err = a.svc.Events.Watch(calendarID, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return state.Channel{}, fmt.Errorf("registering watch for %s: %w", calendarID, err)
	}

	ch := state.Channel{ID: resp.Id, ResourceID: resp.ResourceId}
	if resp.Expiration > 0 {
		ch.Expiration = time.UnixMilli(resp.Expiration).UTC()
	} else {
		// The provider may grant less than requested but never nothing.
		ch.Expiration = expiration
	}
	a.log.Debug("watch channel registered", "calendar", calendarID, "channel", ch.ID, "expires", ch.Expiration)
	return ch, nil
}

// PushEvent writes a local event upstream: an insert when the event has no
// provider id yet, an update otherwise. It returns the provider id so the
// caller can persist the linkage.
func (a *Adapter) PushEvent(ctx context.Context, calendarID string, ev *model.Event) (string, error) {
	payload := toProviderEvent(ev)

	var resp *calendar.Event
	err := Retry(ctx, defaultMaxAttempts, func() error {
		var err error
		if ev.ProviderID == "" {
			resp, err = a.svc.Events.Insert(calendarID, payload).Context(ctx).Do()
		} else {
			resp, err = a.svc.Events.Update(calendarID, ev.ProviderID, payload).Context(ctx).Do()
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("pushing event %s to %s: %w", ev.ID, calendarID, err)
	}
	return resp.Id, nil
}

// StopChannel tears down a push channel. A channel already gone server-side
// is not an error.
func (a *Adapter) StopChannel(ctx context.Context, channelID, resourceID string) error {
	err := a.svc.Channels.Stop(&calendar.Channel{Id: channelID, ResourceId: resourceID}).Context(ctx).Do()
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("stopping channel %s: %w", channelID, err)
	}
	return nil
}

func isGone(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 410
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 404
}
