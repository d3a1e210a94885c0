// Package webhook receives Google Calendar push notifications and hands
// them to the sync engine. The provider delivers an empty-bodied POST whose
// meaning lives entirely in X-Goog-* headers.
package webhook

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/compasscal/compass-sync/internal/state"
	syncp "github.com/compasscal/compass-sync/internal/sync"
)

// stateSync is sent once when a channel is created; it carries no changes.
const stateSync = "sync"

// Notifier accepts push notifications. Implemented by [sync.Engine].
type Notifier interface {
	Notify(n syncp.Notification)
}

// ChannelResolver maps a channel id back to the calendar it watches.
// Implemented by [state.Store] via [Resolver].
type ChannelResolver interface {
	ResolveChannel(ctx context.Context, channelID string) (calendarID string, ok bool, err error)
}

// Handler is the HTTP surface for provider push deliveries.
type Handler struct {
	notifier Notifier
	resolver ChannelResolver
	log      *slog.Logger
}

// NewHandler creates a webhook Handler.
func NewHandler(notifier Notifier, resolver ChannelResolver, logger *slog.Logger) *Handler {
	return &Handler{notifier: notifier, resolver: resolver, log: logger}
}

// Router builds the chi router serving the webhook endpoint.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Post("/notifications", h.receive)
	return r
}

// receive translates the push envelope into a [sync.Notification]. The
// provider expects a fast 2xx; all real work happens on the engine's side
// of the intake channel.
func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	channelID := r.Header.Get("X-Goog-Channel-ID")
	resourceID := r.Header.Get("X-Goog-Resource-ID")
	resourceState := r.Header.Get("X-Goog-Resource-State")

	if channelID == "" || resourceID == "" {
		http.Error(w, "missing push headers", http.StatusBadRequest)
		return
	}

	if resourceState == stateSync {
		// Channel handshake; acknowledge and move on.
		w.WriteHeader(http.StatusOK)
		return
	}

	calendarID, ok, err := h.resolver.ResolveChannel(r.Context(), channelID)
	if err != nil {
		h.log.Error("resolving channel", "channel", channelID, "error", err)
		http.Error(w, "channel lookup failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		// A channel we stopped but the provider hasn't drained yet.
		h.log.Debug("notification for unknown channel", "channel", channelID)
		w.WriteHeader(http.StatusOK)
		return
	}

	h.notifier.Notify(syncp.Notification{
		ChannelID:     channelID,
		ResourceID:    resourceID,
		ResourceState: resourceState,
		Resource:      state.ResourceEvents,
		CalendarID:    calendarID,
	})
	w.WriteHeader(http.StatusOK)
}
