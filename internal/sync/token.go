package sync

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/compasscal/compass-sync/internal/state"
)

// ErrEmptyNextSyncToken marks a provider response that succeeded but carried
// no usable cursor. Storing an empty token would silently force full syncs
// forever, so the pass fails loudly instead.
var ErrEmptyNextSyncToken = errors.New("provider returned an empty nextSyncToken")

// ErrStaleSyncToken marks a cursor the provider no longer accepts. The
// stored token must be dropped and the calendar fully resynced; retrying
// with the same token cannot succeed.
var ErrStaleSyncToken = errors.New("sync token is no longer valid")

// TokenConfig holds the channel lifetime constants. They are injected here
// rather than read from the environment in leaf functions so tests can pin
// them.
type TokenConfig struct {
	// RenewalBufferDays is how far ahead of expiry a channel counts as
	// expiring soon and gets proactively renewed.
	RenewalBufferDays int

	// ChannelLifetime is the requested lifetime of a newly registered
	// watch channel.
	ChannelLifetime time.Duration
}

// DefaultTokenConfig mirrors the provider's practical limits: channels live
// about a week and are renewed three days out.
func DefaultTokenConfig() TokenConfig {
	return TokenConfig{
		RenewalBufferDays: 3,
		ChannelLifetime:   7 * 24 * time.Hour,
	}
}

// TokenManager makes the sync-cursor and watch-channel lifecycle decisions.
// The clock is injectable for deterministic tests.
type TokenManager struct {
	cfg TokenConfig
	now func() time.Time
}

// NewTokenManager creates a TokenManager. A nil now defaults to time.Now.
func NewTokenManager(cfg TokenConfig, now func() time.Time) *TokenManager {
	if now == nil {
		now = time.Now
	}
	if cfg.RenewalBufferDays <= 0 {
		cfg.RenewalBufferDays = DefaultTokenConfig().RenewalBufferDays
	}
	if cfg.ChannelLifetime <= 0 {
		cfg.ChannelLifetime = DefaultTokenConfig().ChannelLifetime
	}
	return &TokenManager{cfg: cfg, now: now}
}

// CanDoIncrementalSync reports whether every tracked calendar has an event
// sync cursor. Incremental sync is all-or-nothing per token scope: one
// missing cursor forces a full resync for that calendar, so the caller must
// not assume deltas are available.
func (m *TokenManager) CanDoIncrementalSync(states []*state.SyncRecord) bool {
	if len(states) == 0 {
		return false
	}
	for _, s := range states {
		if s.NextSyncToken == "" {
			return false
		}
	}
	return true
}

// HasActiveEventSync reports whether at least one calendar has a live watch
// channel: a channel id plus an unexpired expiration.
func (m *TokenManager) HasActiveEventSync(states []*state.SyncRecord) bool {
	for _, s := range states {
		if s.Channel.ID != "" && !s.Channel.Expiration.IsZero() && !m.Expired(s.Channel.Expiration) {
			return true
		}
	}
	return false
}

// Expired reports whether a channel expiration has passed. The boundary
// instant itself is still valid.
func (m *TokenManager) Expired(expiration time.Time) bool {
	return m.now().After(expiration)
}

// ExpiresSoon reports whether a channel expires within the renewal buffer.
func (m *TokenManager) ExpiresSoon(expiration time.Time) bool {
	buffer := time.Duration(m.cfg.RenewalBufferDays) * 24 * time.Hour
	return expiration.Sub(m.now()) < buffer
}

// NextExpiration computes the expiration to request when registering or
// renewing a channel.
func (m *TokenManager) NextExpiration() time.Time {
	return m.now().Add(m.cfg.ChannelLifetime)
}

// WireExpiration renders an expiration in the provider's wire format:
// millisecond Unix epoch as a string.
func WireExpiration(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// ParseWireExpiration parses the provider's millisecond-epoch-string form.
func ParseWireExpiration(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing channel expiration %q: %w", s, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// CheckCalendarListToken validates the cursor returned by a calendar-list
// fetch before it is stored.
func CheckCalendarListToken(token string) error {
	if token == "" {
		return fmt.Errorf("failed to get calendars to sync: %w", ErrEmptyNextSyncToken)
	}
	return nil
}
