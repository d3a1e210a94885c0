package sync

import (
	"context"
	"fmt"
	"sort"
	stdsync "sync"
	"time"

	"github.com/compasscal/compass-sync/internal/model"
	"github.com/compasscal/compass-sync/internal/state"
)

// ---------------------------------------------------------------------------
// Provider mock
// ---------------------------------------------------------------------------

type eventsCall struct {
	calendarID string
	syncToken  string
	pageToken  string
}

type mockProvider struct {
	mu stdsync.Mutex

	// pages are served front to back across Events calls.
	pages        []EventPage
	rejectTokens map[string]bool
	eventsErr    error

	calls   []eventsCall
	watched []state.Channel
	stopped [][2]string
	pushed  []*model.Event

	watchErr error
	stopErr  error
	pushErr  error
}

func newMockProvider(pages ...EventPage) *mockProvider {
	return &mockProvider{pages: pages, rejectTokens: map[string]bool{}}
}

func (p *mockProvider) Events(_ context.Context, calendarID, syncToken, pageToken string) (EventPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, eventsCall{calendarID, syncToken, pageToken})
	if p.rejectTokens[syncToken] {
		return EventPage{}, fmt.Errorf("provider rejected cursor: %w", ErrStaleSyncToken)
	}
	if p.eventsErr != nil {
		return EventPage{}, p.eventsErr
	}
	if len(p.pages) == 0 {
		return EventPage{}, nil
	}
	page := p.pages[0]
	p.pages = p.pages[1:]
	return page, nil
}

func (p *mockProvider) Watch(_ context.Context, calendarID, channelID string, expiration time.Time) (state.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watchErr != nil {
		return state.Channel{}, p.watchErr
	}
	ch := state.Channel{ID: channelID, ResourceID: "res-" + calendarID, Expiration: expiration}
	p.watched = append(p.watched, ch)
	return ch, nil
}

func (p *mockProvider) PushEvent(_ context.Context, _ string, ev *model.Event) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pushErr != nil {
		return "", p.pushErr
	}
	p.pushed = append(p.pushed, copyEvent(ev))
	if ev.ProviderID != "" {
		return ev.ProviderID, nil
	}
	return "prov-" + ev.ID, nil
}

func (p *mockProvider) StopChannel(_ context.Context, channelID, resourceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = append(p.stopped, [2]string{channelID, resourceID})
	return p.stopErr
}

func (p *mockProvider) eventCalls() []eventsCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]eventsCall(nil), p.calls...)
}

// ---------------------------------------------------------------------------
// Event store mock
// ---------------------------------------------------------------------------

type mockEventStore struct {
	mu     stdsync.Mutex
	events map[string]*model.Event // by local id

	upsertErr error
	deleteErr error
}

func newMockEventStore() *mockEventStore {
	return &mockEventStore{events: map[string]*model.Event{}}
}

func copyEvent(ev *model.Event) *model.Event {
	cp := *ev
	if ev.Recurrence != nil {
		rec := *ev.Recurrence
		rec.Rule = append([]string(nil), ev.Recurrence.Rule...)
		cp.Recurrence = &rec
	}
	return &cp
}

func (s *mockEventStore) UpsertEvent(_ context.Context, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.events[ev.ID] = copyEvent(ev)
	return nil
}

func (s *mockEventStore) GetEvent(_ context.Context, id string) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	return copyEvent(ev), nil
}

func (s *mockEventStore) DeleteByProviderID(_ context.Context, calendarID, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	for id, ev := range s.events {
		if ev.CalendarID != calendarID || ev.ProviderID != providerID {
			continue
		}
		delete(s.events, id)
		if ev.IsBase() {
			for iid, inst := range s.events {
				if inst.IsInstance() && inst.Recurrence.BaseEventID == ev.ID {
					delete(s.events, iid)
				}
			}
		}
		return nil
	}
	return nil
}

func (s *mockEventStore) DeleteEvents(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	for _, id := range ids {
		delete(s.events, id)
	}
	return nil
}

func (s *mockEventStore) InstancesOf(_ context.Context, baseID string) ([]*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Event
	for _, ev := range s.events {
		if ev.IsInstance() && ev.Recurrence.BaseEventID == baseID {
			out = append(out, copyEvent(ev))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OriginalStart < out[j].OriginalStart })
	return out, nil
}

func (s *mockEventStore) FindByProviderID(_ context.Context, calendarID, providerID string) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.CalendarID == calendarID && ev.ProviderID == providerID {
			return copyEvent(ev), nil
		}
	}
	return nil, nil
}

// seed places an event in the store without going through the handler.
func (s *mockEventStore) seed(ev *model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.ID] = copyEvent(ev)
}

func (s *mockEventStore) byProviderID(providerID string) *model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.ProviderID == providerID {
			return copyEvent(ev)
		}
	}
	return nil
}

func (s *mockEventStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// ---------------------------------------------------------------------------
// Sync state store mock
// ---------------------------------------------------------------------------

type mockStateStore struct {
	mu      stdsync.Mutex
	records map[string]*state.SyncRecord

	// tokenWrites records every PutSyncToken value in order, so tests can
	// assert the drop-then-advance sequence of a stale-token fallback.
	tokenWrites []string

	getErr error
	putErr error
}

func newMockStateStore() *mockStateStore {
	return &mockStateStore{records: map[string]*state.SyncRecord{}}
}

func stateKey(calendarID, resource string) string {
	return calendarID + "|" + resource
}

func (s *mockStateStore) GetSyncState(_ context.Context, calendarID, resource string) (*state.SyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	rec, ok := s.records[stateKey(calendarID, resource)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *mockStateStore) AllSyncStates(_ context.Context, resource string) ([]*state.SyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*state.SyncRecord
	for _, rec := range s.records {
		if rec.Resource == resource {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CalendarID < out[j].CalendarID })
	return out, nil
}

func (s *mockStateStore) PutSyncToken(_ context.Context, calendarID, resource, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.tokenWrites = append(s.tokenWrites, token)
	key := stateKey(calendarID, resource)
	rec, ok := s.records[key]
	if !ok {
		rec = &state.SyncRecord{CalendarID: calendarID, Resource: resource}
		s.records[key] = rec
	}
	rec.NextSyncToken = token
	return nil
}

func (s *mockStateStore) PutChannel(_ context.Context, calendarID, resource string, ch state.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	key := stateKey(calendarID, resource)
	rec, ok := s.records[key]
	if !ok {
		rec = &state.SyncRecord{CalendarID: calendarID, Resource: resource}
		s.records[key] = rec
	}
	rec.Channel = ch
	return nil
}

func (s *mockStateStore) DeleteSyncState(_ context.Context, calendarID, resource string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, stateKey(calendarID, resource))
	return nil
}

func (s *mockStateStore) token(calendarID, resource string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[stateKey(calendarID, resource)]
	if !ok {
		return ""
	}
	return rec.NextSyncToken
}

func (s *mockStateStore) writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokenWrites...)
}
