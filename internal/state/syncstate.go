package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetSyncState returns the sync record for a calendar and resource type, or
// (nil, nil) if the calendar has never been synced.
func (s *Store) GetSyncState(ctx context.Context, calendarID, resource string) (*SyncRecord, error) {
	const q = `
		SELECT calendar_id, resource, next_sync_token, channel_id, resource_id, expiration
		FROM sync_state WHERE calendar_id = ? AND resource = ?`
	row := s.db.QueryRowContext(ctx, q, calendarID, resource)
	return scanSyncRecord(row)
}

// AllSyncStates returns the sync records of every tracked calendar for a
// resource type.
func (s *Store) AllSyncStates(ctx context.Context, resource string) ([]*SyncRecord, error) {
	const q = `
		SELECT calendar_id, resource, next_sync_token, channel_id, resource_id, expiration
		FROM sync_state WHERE resource = ? ORDER BY calendar_id`
	rows, err := s.db.QueryContext(ctx, q, resource)
	if err != nil {
		return nil, fmt.Errorf("querying sync states for %q: %w", resource, err)
	}
	defer func() { _ = rows.Close() }()

	var recs []*SyncRecord
	for rows.Next() {
		rec, err := scanSyncRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// PutSyncToken replaces the sync cursor for a calendar and resource type,
// creating the record on first sync. The watch channel fields are untouched.
func (s *Store) PutSyncToken(ctx context.Context, calendarID, resource, token string) error {
	const q = `
		INSERT INTO sync_state (calendar_id, resource, next_sync_token)
		VALUES (?, ?, ?)
		ON CONFLICT(calendar_id, resource) DO UPDATE SET
		    next_sync_token = excluded.next_sync_token`
	if _, err := s.db.ExecContext(ctx, q, calendarID, resource, token); err != nil {
		return fmt.Errorf("storing sync token for %s/%s: %w", calendarID, resource, err)
	}
	return nil
}

// PutChannel replaces the watch channel for a calendar and resource type,
// creating the record when the calendar is first connected. The sync cursor
// is untouched.
func (s *Store) PutChannel(ctx context.Context, calendarID, resource string, ch Channel) error {
	const q = `
		INSERT INTO sync_state (calendar_id, resource, channel_id, resource_id, expiration)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(calendar_id, resource) DO UPDATE SET
		    channel_id  = excluded.channel_id,
		    resource_id = excluded.resource_id,
		    expiration  = excluded.expiration`
	_, err := s.db.ExecContext(ctx, q, calendarID, resource, ch.ID, ch.ResourceID, formatTime(ch.Expiration))
	if err != nil {
		return fmt.Errorf("storing watch channel for %s/%s: %w", calendarID, resource, err)
	}
	return nil
}

// ResolveChannel maps a watch channel id back to the calendar it watches.
// Stopped channels whose notifications are still draining resolve to
// (_, false, nil).
func (s *Store) ResolveChannel(ctx context.Context, channelID string) (string, bool, error) {
	const q = `SELECT calendar_id FROM sync_state WHERE channel_id = ?`
	var calendarID string
	err := s.db.QueryRowContext(ctx, q, channelID).Scan(&calendarID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolving channel %q: %w", channelID, err)
	}
	return calendarID, true, nil
}

// DeleteSyncState removes the sync record when a calendar is disconnected.
func (s *Store) DeleteSyncState(ctx context.Context, calendarID, resource string) error {
	const q = `DELETE FROM sync_state WHERE calendar_id = ? AND resource = ?`
	if _, err := s.db.ExecContext(ctx, q, calendarID, resource); err != nil {
		return fmt.Errorf("deleting sync state for %s/%s: %w", calendarID, resource, err)
	}
	return nil
}

// --- helpers -----------------------------------------------------------------

func scanSyncRecord(sc scanner) (*SyncRecord, error) {
	var rec SyncRecord
	var expiration string

	err := sc.Scan(
		&rec.CalendarID,
		&rec.Resource,
		&rec.NextSyncToken,
		&rec.Channel.ID,
		&rec.Channel.ResourceID,
		&expiration,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning sync state row: %w", err)
	}

	rec.Channel.Expiration, _ = parseTime(expiration)
	return &rec, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
