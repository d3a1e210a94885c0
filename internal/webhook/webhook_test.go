package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	syncp "github.com/compasscal/compass-sync/internal/sync"
)

type captureNotifier struct {
	got []syncp.Notification
}

func (n *captureNotifier) Notify(notification syncp.Notification) {
	n.got = append(n.got, notification)
}

type mapResolver struct {
	channels map[string]string
	err      error
}

func (r *mapResolver) ResolveChannel(_ context.Context, channelID string) (string, bool, error) {
	if r.err != nil {
		return "", false, r.err
	}
	cal, ok := r.channels[channelID]
	return cal, ok, nil
}

func newTestHandler(notifier *captureNotifier, resolver *mapResolver) http.Handler {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(notifier, resolver, log).Router()
}

func pushRequest(channelID, resourceID, resourceState string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/notifications", nil)
	if channelID != "" {
		req.Header.Set("X-Goog-Channel-ID", channelID)
	}
	if resourceID != "" {
		req.Header.Set("X-Goog-Resource-ID", resourceID)
	}
	if resourceState != "" {
		req.Header.Set("X-Goog-Resource-State", resourceState)
	}
	return req
}

func TestReceive_DispatchesToEngine(t *testing.T) {
	notifier := &captureNotifier{}
	resolver := &mapResolver{channels: map[string]string{"ch-1": "primary"}}
	h := newTestHandler(notifier, resolver)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, pushRequest("ch-1", "res-1", "exists"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(notifier.got) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notifier.got))
	}
	n := notifier.got[0]
	if n.CalendarID != "primary" || n.ChannelID != "ch-1" || n.ResourceState != "exists" {
		t.Errorf("notification = %+v", n)
	}
}

func TestReceive_MissingHeaders(t *testing.T) {
	notifier := &captureNotifier{}
	h := newTestHandler(notifier, &mapResolver{})

	for _, req := range []*http.Request{
		pushRequest("", "res-1", "exists"),
		pushRequest("ch-1", "", "exists"),
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	}
	if len(notifier.got) != 0 {
		t.Error("malformed pushes reached the engine")
	}
}

func TestReceive_SyncHandshakeAcknowledged(t *testing.T) {
	notifier := &captureNotifier{}
	resolver := &mapResolver{channels: map[string]string{"ch-1": "primary"}}
	h := newTestHandler(notifier, resolver)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, pushRequest("ch-1", "res-1", "sync"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(notifier.got) != 0 {
		t.Error("handshake was forwarded as a change notification")
	}
}

func TestReceive_UnknownChannelAcknowledged(t *testing.T) {
	notifier := &captureNotifier{}
	h := newTestHandler(notifier, &mapResolver{channels: map[string]string{}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, pushRequest("ch-stopped", "res-1", "exists"))

	// The provider retries on non-2xx; a stopped channel must still be
	// acknowledged so the retries stop.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(notifier.got) != 0 {
		t.Error("stale channel notification reached the engine")
	}
}

func TestReceive_ResolverFailure(t *testing.T) {
	notifier := &captureNotifier{}
	h := newTestHandler(notifier, &mapResolver{err: errors.New("db locked")})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, pushRequest("ch-1", "res-1", "exists"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestRouter_RejectsOtherMethods(t *testing.T) {
	h := newTestHandler(&captureNotifier{}, &mapResolver{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notifications", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
