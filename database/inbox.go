package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/flowlane/flowlane/internal/apierror"
	"github.com/flowlane/flowlane/model"
)

// IngestEvent inserts a new inbox event in state pending with zero attempts.
// Dedupe-key uniqueness is enforced by the database; a duplicate insert fails
// with CONFLICT and leaves the stored row untouched.
func (d Datasource) IngestEvent(ctx context.Context, event *model.InboxEvent) (*model.InboxEvent, error) {
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal payload", err)
	}
	metaDataJSON, err := json.Marshal(event.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	event.EventID = model.GenerateUUIDWithSuffix("evt")
	event.CreatedAt = time.Now()
	event.Status = model.EventStatus{State: model.StatePending, Attempts: 0}
	event.ProcessedAt = nil

	err = d.withConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO event_inbox (event_id, task_source_id, external_event_id, dedupe_key, payload, meta_data, status_state, attempts, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, event.EventID, event.TaskSourceID, event.ExternalEventID, event.DedupeKey,
			payloadJSON, metaDataJSON, event.Status.State, event.Status.Attempts, event.CreatedAt)

		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok {
				switch pqErr.Code.Name() {
				case "unique_violation":
					return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Event with dedupe key %q already ingested", event.DedupeKey), err)
				case "foreign_key_violation":
					return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Task source %q does not exist", event.TaskSourceID), err)
				}
			}
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to ingest event", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// GetEvent retrieves a single inbox event by id.
func (d Datasource) GetEvent(ctx context.Context, eventID string) (*model.InboxEvent, error) {
	var event *model.InboxEvent
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, `
			SELECT event_id, task_source_id, external_event_id, dedupe_key, payload, meta_data, status_state, attempts, last_error, processed_at, created_at
			FROM event_inbox
			WHERE event_id = $1
		`, eventID)

		evt, err := scanInboxEvent(row)
		if err != nil {
			if err == sql.ErrNoRows {
				return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Event %q not found", eventID), err)
			}
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve event", err)
		}
		event = evt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// GetEventByDedupeKey retrieves the stored event for a dedupe key. Used to
// answer duplicate ingests with the original row.
func (d Datasource) GetEventByDedupeKey(ctx context.Context, dedupeKey string) (*model.InboxEvent, error) {
	var event *model.InboxEvent
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, `
			SELECT event_id, task_source_id, external_event_id, dedupe_key, payload, meta_data, status_state, attempts, last_error, processed_at, created_at
			FROM event_inbox
			WHERE dedupe_key = $1
		`, dedupeKey)

		evt, err := scanInboxEvent(row)
		if err != nil {
			if err == sql.ErrNoRows {
				return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("No event with dedupe key %q", dedupeKey), err)
			}
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve event", err)
		}
		event = evt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// ListPendingEvents returns pending events oldest first, bounded by limit.
// The result is a finite snapshot, not a live subscription; concurrent
// workers must claim an event before acting on it.
func (d Datasource) ListPendingEvents(ctx context.Context, limit int) ([]model.InboxEvent, error) {
	events := []model.InboxEvent{}
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT event_id, task_source_id, external_event_id, dedupe_key, payload, meta_data, status_state, attempts, last_error, processed_at, created_at
			FROM event_inbox
			WHERE status_state = 'pending'
			ORDER BY created_at ASC
			LIMIT $1
		`, limit)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list pending events", err)
		}
		defer rows.Close()

		for rows.Next() {
			evt, err := scanInboxEvent(rows)
			if err != nil {
				return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan event", err)
			}
			events = append(events, *evt)
		}
		if err := rows.Err(); err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over pending events", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ClaimEvent atomically transitions an event from pending to processing.
// Returns false when another worker already claimed it or the event is gone;
// callers must discard the event in that case.
func (d Datasource) ClaimEvent(ctx context.Context, eventID string) (bool, error) {
	claimed := false
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, `
			UPDATE event_inbox
			SET status_state = 'processing'
			WHERE event_id = $1 AND status_state = 'pending'
		`, eventID)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim event", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read claim result", err)
		}
		claimed = affected == 1
		return nil
	})
	return claimed, err
}

// MarkEventProcessed transitions an event into the terminal processed state,
// counting the attempt and stamping processed_at exactly once. Returns false
// when the event does not exist or is already terminal.
func (d Datasource) MarkEventProcessed(ctx context.Context, eventID string) (bool, error) {
	updated := false
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, `
			UPDATE event_inbox
			SET status_state = 'processed', attempts = attempts + 1, processed_at = NOW()
			WHERE event_id = $1 AND status_state IN ('pending', 'processing') AND processed_at IS NULL
		`, eventID)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark event processed", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read update result", err)
		}
		updated = affected == 1
		return nil
	})
	return updated, err
}

// RecordEventFailure counts a failed processing attempt. Below maxAttempts
// the event returns to pending for redelivery; at the cap it becomes terminal
// failed. The transition is a single conditional update so concurrent
// failures cannot double-count.
func (d Datasource) RecordEventFailure(ctx context.Context, eventID string, reason string, maxAttempts int) (*model.EventStatus, error) {
	var status *model.EventStatus
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, `
			UPDATE event_inbox
			SET attempts = attempts + 1,
			    last_error = $2,
			    status_state = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE 'pending' END
			WHERE event_id = $1 AND status_state = 'processing'
			RETURNING status_state, attempts, last_error
		`, eventID, reason, maxAttempts)

		var s model.EventStatus
		var lastError sql.NullString
		if err := row.Scan(&s.State, &s.Attempts, &lastError); err != nil {
			if err == sql.ErrNoRows {
				return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Event %q is not in processing state", eventID), err)
			}
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record event failure", err)
		}
		s.LastError = lastError.String
		status = &s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// UpdateEventStatus merges a partial status update into an event, validating
// the state transition against the current row under a row lock. Returns
// false when the event does not exist.
func (d Datasource) UpdateEventStatus(ctx context.Context, eventID string, update model.StatusUpdate) (bool, error) {
	found := false
	err := d.withLease(ctx, func(lease *Lease) error {
		tx, err := lease.BeginTx(ctx)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin status update", err)
		}

		row := tx.QueryRowContext(ctx, `
			SELECT status_state, attempts, last_error
			FROM event_inbox
			WHERE event_id = $1
			FOR UPDATE
		`, eventID)

		var current model.EventStatus
		var lastError sql.NullString
		if err := row.Scan(&current.State, &current.Attempts, &lastError); err != nil {
			if err == sql.ErrNoRows {
				return nil // found stays false; rollback happens at release
			}
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to load event status", err)
		}
		current.LastError = lastError.String

		next, err := current.Apply(update)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInvalidInput, "Invalid status update", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE event_inbox
			SET status_state = $2, attempts = $3, last_error = NULLIF($4, '')
			WHERE event_id = $1
		`, eventID, next.State, next.Attempts, next.LastError)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update event status", err)
		}

		if err := tx.Commit(); err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit status update", err)
		}
		lease.Done()
		found = true
		return nil
	})
	return found, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInboxEvent(row rowScanner) (*model.InboxEvent, error) {
	event := model.InboxEvent{}
	var payloadJSON, metaDataJSON []byte
	var lastError sql.NullString
	var processedAt sql.NullTime

	err := row.Scan(&event.EventID, &event.TaskSourceID, &event.ExternalEventID, &event.DedupeKey,
		&payloadJSON, &metaDataJSON, &event.Status.State, &event.Status.Attempts, &lastError,
		&processedAt, &event.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payloadJSON, &event.Payload); err != nil {
		return nil, err
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &event.MetaData); err != nil {
			return nil, err
		}
	}
	event.Status.LastError = lastError.String
	if processedAt.Valid {
		event.ProcessedAt = &processedAt.Time
	}
	return &event, nil
}
