package state

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/compasscal/compass-sync/internal/model"
)

const eventColumns = `id, provider_id, calendar_id, title, description, priority,
       start_date, end_date, original_start, status, sequence, rrule, base_event_id`

// UpsertEvent inserts or replaces an event. The natural key for remote
// events is (calendar id, provider id); purely local events key on their id.
// Retrying with the same arguments is a no-op.
func (s *Store) UpsertEvent(ctx context.Context, ev *model.Event) error {
	const q = `
		INSERT INTO events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    provider_id    = excluded.provider_id,
		    calendar_id    = excluded.calendar_id,
		    title          = excluded.title,
		    description    = excluded.description,
		    priority       = excluded.priority,
		    start_date     = excluded.start_date,
		    end_date       = excluded.end_date,
		    original_start = excluded.original_start,
		    status         = excluded.status,
		    sequence       = excluded.sequence,
		    rrule          = excluded.rrule,
		    base_event_id  = excluded.base_event_id`

	rule, baseID := recurrenceColumns(ev)
	_, err := s.db.ExecContext(ctx, q,
		ev.ID,
		ev.ProviderID,
		ev.CalendarID,
		ev.Title,
		ev.Description,
		ev.Priority,
		ev.Start,
		ev.End,
		ev.OriginalStart,
		string(ev.Status),
		ev.Sequence,
		rule,
		baseID,
	)
	if err != nil {
		return fmt.Errorf("upserting event %q: %w", ev.ID, err)
	}
	return nil
}

// FindByProviderID returns the event with the given provider id in a
// calendar, or (nil, nil) if no such event exists.
func (s *Store) FindByProviderID(ctx context.Context, calendarID, providerID string) (*model.Event, error) {
	const q = `SELECT ` + eventColumns + ` FROM events WHERE calendar_id = ? AND provider_id = ?`
	row := s.db.QueryRowContext(ctx, q, calendarID, providerID)
	return scanEvent(row)
}

// GetEvent returns the event with the given local id, or (nil, nil).
func (s *Store) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	const q = `SELECT ` + eventColumns + ` FROM events WHERE id = ?`
	row := s.db.QueryRowContext(ctx, q, id)
	return scanEvent(row)
}

// InstancesOf returns every instance referencing the given base event id.
func (s *Store) InstancesOf(ctx context.Context, baseID string) ([]*model.Event, error) {
	const q = `SELECT ` + eventColumns + ` FROM events WHERE base_event_id = ? ORDER BY original_start`
	rows, err := s.db.QueryContext(ctx, q, baseID)
	if err != nil {
		return nil, fmt.Errorf("querying instances of %q: %w", baseID, err)
	}
	defer func() { _ = rows.Close() }()

	var events []*model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// DeleteEvents removes the events with the given local ids.
func (s *Store) DeleteEvents(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := `DELETE FROM events WHERE id IN (` + placeholders + `)`
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("deleting %d events: %w", len(ids), err)
	}
	return nil
}

// DeleteByProviderID removes the event with the given provider id, and
// cascades to its instances when it is a series base. Deleting an id the
// store has never seen is a no-op.
func (s *Store) DeleteByProviderID(ctx context.Context, calendarID, providerID string) error {
	ev, err := s.FindByProviderID(ctx, calendarID, providerID)
	if err != nil {
		return err
	}
	if ev == nil {
		return nil
	}
	if ev.IsBase() {
		if err := s.DeleteAllInstancesOfBase(ctx, ev.ID); err != nil {
			return err
		}
	}
	return s.DeleteEvents(ctx, []string{ev.ID})
}

// DeleteAllInstancesOfBase removes every instance of a series.
func (s *Store) DeleteAllInstancesOfBase(ctx context.Context, baseID string) error {
	const q = `DELETE FROM events WHERE base_event_id = ?`
	if _, err := s.db.ExecContext(ctx, q, baseID); err != nil {
		return fmt.Errorf("deleting instances of %q: %w", baseID, err)
	}
	return nil
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scanEvent can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (*model.Event, error) {
	var ev model.Event
	var status, rule, baseID string

	err := sc.Scan(
		&ev.ID,
		&ev.ProviderID,
		&ev.CalendarID,
		&ev.Title,
		&ev.Description,
		&ev.Priority,
		&ev.Start,
		&ev.End,
		&ev.OriginalStart,
		&status,
		&ev.Sequence,
		&rule,
		&baseID,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning event row: %w", err)
	}

	ev.Status = model.Status(status)
	switch {
	case rule != "":
		ev.Recurrence = &model.Recurrence{Rule: strings.Split(rule, rruleSep)}
	case baseID != "":
		ev.Recurrence = &model.Recurrence{BaseEventID: baseID}
	}
	return &ev, nil
}

func recurrenceColumns(ev *model.Event) (rule, baseID string) {
	if ev.Recurrence == nil {
		return "", ""
	}
	return strings.Join(ev.Recurrence.Rule, rruleSep), ev.Recurrence.BaseEventID
}
