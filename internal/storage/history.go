package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const (
	insertHistoryEventSQL = `INSERT INTO alert_history (alert_id, event_type, old_state, new_state, metadata)
    VALUES ($1, $2, $3, $4, $5);`

	listRecentEventsSQL = `SELECT id, alert_id, event_type, old_state, new_state, metadata, created_at
    FROM alert_history
    ORDER BY created_at DESC
    LIMIT $1;`

	listEventsByAlertSQL = `SELECT id, alert_id, event_type, old_state, new_state, metadata, created_at
    FROM alert_history
    WHERE alert_id = $1
    ORDER BY created_at DESC
    LIMIT $2;`
)

// HistoryStore defines the append-only lifecycle audit log.
type HistoryStore interface {
	AppendEvent(ctx context.Context, event HistoryEvent) error
	ListRecentEvents(ctx context.Context, limit int) ([]HistoryEvent, error)
	ListEventsByAlert(ctx context.Context, alertID int64, limit int) ([]HistoryEvent, error)
}

// AppendEvent records one immutable lifecycle transition.
func (s *Store) AppendEvent(ctx context.Context, event HistoryEvent) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var alertID any
	if event.AlertID != nil {
		alertID = *event.AlertID
	}
	var oldState, newState any
	if event.OldState != nil {
		oldState = string(*event.OldState)
	}
	if event.NewState != nil {
		newState = string(*event.NewState)
	}
	var metadata any
	if len(event.Metadata) > 0 {
		metadata = []byte(event.Metadata)
	}

	if _, execErr := pool.Exec(ctx, insertHistoryEventSQL,
		alertID,
		string(event.EventType),
		oldState,
		newState,
		metadata,
	); execErr != nil {
		return fmt.Errorf("append history event: %w", execErr)
	}
	return nil
}

// ListRecentEvents lists the newest audit records across all alerts.
func (s *Store) ListRecentEvents(ctx context.Context, limit int) ([]HistoryEvent, error) {
	return s.listEvents(ctx, listRecentEventsSQL, limit)
}

// ListEventsByAlert lists the newest audit records for one alert.
func (s *Store) ListEventsByAlert(ctx context.Context, alertID int64, limit int) ([]HistoryEvent, error) {
	return s.listEvents(ctx, listEventsByAlertSQL, alertID, limit)
}

func (s *Store) listEvents(ctx context.Context, query string, args ...any) ([]HistoryEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list history events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]HistoryEvent, 0)
	for rows.Next() {
		event, scanErr := scanHistoryEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

func scanHistoryEvent(rows pgx.Rows) (HistoryEvent, error) {
	var (
		event     HistoryEvent
		alertID   sql.NullInt64
		eventType string
		oldState  sql.NullString
		newState  sql.NullString
		metadata  []byte
	)

	if err := rows.Scan(&event.ID, &alertID, &eventType, &oldState, &newState, &metadata, &event.CreatedAt); err != nil {
		return HistoryEvent{}, err
	}

	event.EventType = EventType(eventType)
	if alertID.Valid {
		id := alertID.Int64
		event.AlertID = &id
	}
	if oldState.Valid {
		st := AlertState(oldState.String)
		event.OldState = &st
	}
	if newState.Valid {
		st := AlertState(newState.String)
		event.NewState = &st
	}
	if len(metadata) > 0 {
		event.Metadata = json.RawMessage(metadata)
	}

	return event, nil
}
