// Package events is the append-only audit log. Every workflow mutation
// writes exactly one event; events are never updated or deleted, and the
// full history of a request is the replay of its events.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/foilportal/pkg/models"
)

// Repo handles database operations for audit events
type Repo struct {
	db *sql.DB
}

// NewRepo creates a new events repository
func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// execer lets Insert run against either the bare connection or a
// transaction; status transitions must pass their transaction so the event
// and the row update commit or roll back together.
type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Insert appends one event inside the given transaction. Pass nil tx only
// for standalone events that have no row update to pair with.
func (r *Repo) Insert(ctx context.Context, tx *sql.Tx, event *models.Event) error {
	var runner execer = r.db
	if tx != nil {
		runner = tx
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	prev, err := marshalValues(event.PreviousValue)
	if err != nil {
		return fmt.Errorf("failed to marshal previous value: %w", err)
	}
	next, err := marshalValues(event.NewValue)
	if err != nil {
		return fmt.Errorf("failed to marshal new value: %w", err)
	}

	query := `
		INSERT INTO events (request_id, response_id, user_guid, auth_user_type, type, timestamp, previous_value, new_value)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	err = runner.QueryRowContext(
		ctx, query,
		event.RequestID,
		event.ResponseID,
		event.UserGUID,
		event.AuthType,
		event.Type,
		event.Timestamp,
		prev,
		next,
	).Scan(&event.ID)

	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	return nil
}

func marshalValues(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// ListCursor represents pagination for event listings
type ListCursor struct {
	Since *time.Time
	Limit int
}

// ListForRequest retrieves events for a request in chronological order with
// optional cursor-based pagination.
func (r *Repo) ListForRequest(ctx context.Context, requestID string, cursor *ListCursor) ([]*models.Event, error) {
	query := `
		SELECT id, request_id, response_id, user_guid, auth_user_type, type, timestamp, previous_value, new_value
		FROM events
		WHERE request_id = $1
	`
	args := []interface{}{requestID}
	argCount := 1

	if cursor != nil && cursor.Since != nil {
		argCount++
		query += fmt.Sprintf(" AND timestamp > $%d", argCount)
		args = append(args, *cursor.Since)
	}

	query += " ORDER BY timestamp ASC"

	limit := 100
	if cursor != nil && cursor.Limit > 0 {
		limit = cursor.Limit
	}
	if limit > 1000 {
		limit = 1000
	}
	argCount++
	query += fmt.Sprintf(" LIMIT $%d", argCount)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListByType retrieves events of one type for a request, newest first.
func (r *Repo) ListByType(ctx context.Context, requestID string, eventType models.EventType, limit int) ([]*models.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT id, request_id, response_id, user_guid, auth_user_type, type, timestamp, previous_value, new_value
		FROM events
		WHERE request_id = $1 AND type = $2
		ORDER BY timestamp DESC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, requestID, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events by type: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*models.Event, error) {
	// Initialize as empty slice so JSON encodes to [] rather than null
	events := make([]*models.Event, 0)
	for rows.Next() {
		event := &models.Event{}
		var prev, next []byte
		err := rows.Scan(
			&event.ID,
			&event.RequestID,
			&event.ResponseID,
			&event.UserGUID,
			&event.AuthType,
			&event.Type,
			&event.Timestamp,
			&prev,
			&next,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if len(prev) > 0 {
			if err := json.Unmarshal(prev, &event.PreviousValue); err != nil {
				return nil, fmt.Errorf("failed to decode previous value: %w", err)
			}
		}
		if len(next) > 0 {
			if err := json.Unmarshal(next, &event.NewValue); err != nil {
				return nil, fmt.Errorf("failed to decode new value: %w", err)
			}
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}
