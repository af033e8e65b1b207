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

// CreateTaskSource inserts a configured trigger instance.
func (d Datasource) CreateTaskSource(ctx context.Context, source *model.TaskSource) (*model.TaskSource, error) {
	resourceJSON, err := json.Marshal(orEmpty(source.ResourceConfig))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal resource config", err)
	}
	filterJSON, err := json.Marshal(orEmpty(source.FilterConfig))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal filter config", err)
	}
	scheduleJSON, err := json.Marshal(orEmpty(source.ScheduleConfig))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal schedule config", err)
	}
	processingJSON, err := json.Marshal(orEmpty(source.ProcessingConfig))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal processing config", err)
	}
	cursorJSON, err := json.Marshal(orEmpty(source.Cursor))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal cursor", err)
	}
	metaDataJSON, err := json.Marshal(orEmpty(source.MetaData))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	source.TaskSourceID = model.GenerateUUIDWithSuffix("tsc")
	source.CreatedAt = time.Now()
	source.UpdatedAt = source.CreatedAt
	if source.Health == "" {
		source.Health = model.HealthOK
	}

	err = d.withConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO task_sources (task_source_id, agent_id, connection_id, provider_key, trigger_key, name, description,
				resource_config, filter_config, schedule_config, processing_config, enabled, health, cursor, meta_data, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		`, source.TaskSourceID, source.AgentID, source.ConnectionID, source.ProviderKey, source.TriggerKey,
			source.Name, source.Description, resourceJSON, filterJSON, scheduleJSON, processingJSON,
			source.Enabled, source.Health, cursorJSON, metaDataJSON, source.CreatedAt, source.UpdatedAt)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
				return apierror.NewAPIError(apierror.ErrConflict, "Task source already exists", err)
			}
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create task source", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return source, nil
}

// GetTaskSource retrieves a task source by id. Soft-deleted sources are not
// returned.
func (d Datasource) GetTaskSource(ctx context.Context, taskSourceID string) (*model.TaskSource, error) {
	var source *model.TaskSource
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, `
			SELECT task_source_id, agent_id, connection_id, provider_key, trigger_key, name, description,
				resource_config, filter_config, schedule_config, processing_config, enabled, health, cursor, meta_data,
				last_checked_at, last_success_at, error_count, last_error, created_at, updated_at
			FROM task_sources
			WHERE task_source_id = $1 AND deleted_at IS NULL
		`, taskSourceID)

		src, err := scanTaskSource(row)
		if err != nil {
			if err == sql.ErrNoRows {
				return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Task source %q not found", taskSourceID), err)
			}
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve task source", err)
		}
		source = src
		return nil
	})
	if err != nil {
		return nil, err
	}
	return source, nil
}

// ListDueTaskSources returns enabled, non-deleted sources ordered so the
// least recently checked come first. Sources in auth_error health are skipped
// until their connection is repaired.
func (d Datasource) ListDueTaskSources(ctx context.Context, limit int) ([]model.TaskSource, error) {
	sources := []model.TaskSource{}
	err := d.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT task_source_id, agent_id, connection_id, provider_key, trigger_key, name, description,
				resource_config, filter_config, schedule_config, processing_config, enabled, health, cursor, meta_data,
				last_checked_at, last_success_at, error_count, last_error, created_at, updated_at
			FROM task_sources
			WHERE enabled = TRUE AND deleted_at IS NULL AND health != 'auth_error'
			ORDER BY last_checked_at ASC NULLS FIRST
			LIMIT $1
		`, limit)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list due task sources", err)
		}
		defer rows.Close()

		for rows.Next() {
			src, err := scanTaskSource(rows)
			if err != nil {
				return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan task source", err)
			}
			sources = append(sources, *src)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return sources, nil
}

// UpdateTaskSourceCursor stores the adapter's polling cursor after a
// successful poll and clears the consecutive error counter.
func (d Datasource) UpdateTaskSourceCursor(ctx context.Context, taskSourceID string, cursor map[string]interface{}) error {
	cursorJSON, err := json.Marshal(orEmpty(cursor))
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal cursor", err)
	}

	return d.withConn(ctx, func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, `
			UPDATE task_sources
			SET cursor = $2, last_checked_at = NOW(), last_success_at = NOW(),
			    error_count = 0, last_error = NULL, health = 'ok', updated_at = NOW()
			WHERE task_source_id = $1 AND deleted_at IS NULL
		`, taskSourceID, cursorJSON)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update task source cursor", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read cursor update result", err)
		}
		if affected == 0 {
			return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Task source %q not found", taskSourceID), nil)
		}
		return nil
	})
}

// RecordTaskSourceError bumps the consecutive error counter used for
// exponential backoff and degrades the health status.
func (d Datasource) RecordTaskSourceError(ctx context.Context, taskSourceID string, message string) error {
	return d.withConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			UPDATE task_sources
			SET error_count = error_count + 1, last_error = $2, last_checked_at = NOW(),
			    health = CASE WHEN error_count + 1 >= 3 THEN 'error' ELSE 'warn' END,
			    updated_at = NOW()
			WHERE task_source_id = $1 AND deleted_at IS NULL
		`, taskSourceID, message)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record task source error", err)
		}
		return nil
	})
}

// SoftDeleteTaskSource marks a source deleted. Its inbox events are removed
// by the database cascade when the row is purged.
func (d Datasource) SoftDeleteTaskSource(ctx context.Context, taskSourceID string) error {
	return d.withConn(ctx, func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, `
			UPDATE task_sources
			SET deleted_at = NOW(), enabled = FALSE, updated_at = NOW()
			WHERE task_source_id = $1 AND deleted_at IS NULL
		`, taskSourceID)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete task source", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read delete result", err)
		}
		if affected == 0 {
			return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Task source %q not found", taskSourceID), nil)
		}
		return nil
	})
}

func scanTaskSource(row rowScanner) (*model.TaskSource, error) {
	source := model.TaskSource{}
	var resourceJSON, filterJSON, scheduleJSON, processingJSON, cursorJSON, metaDataJSON []byte
	var description, lastError sql.NullString
	var lastCheckedAt, lastSuccessAt sql.NullTime

	err := row.Scan(&source.TaskSourceID, &source.AgentID, &source.ConnectionID, &source.ProviderKey,
		&source.TriggerKey, &source.Name, &description, &resourceJSON, &filterJSON, &scheduleJSON,
		&processingJSON, &source.Enabled, &source.Health, &cursorJSON, &metaDataJSON,
		&lastCheckedAt, &lastSuccessAt, &source.ErrorCount, &lastError, &source.CreatedAt, &source.UpdatedAt)
	if err != nil {
		return nil, err
	}

	for _, pair := range []struct {
		raw  []byte
		dest *map[string]interface{}
	}{
		{resourceJSON, &source.ResourceConfig},
		{filterJSON, &source.FilterConfig},
		{scheduleJSON, &source.ScheduleConfig},
		{processingJSON, &source.ProcessingConfig},
		{cursorJSON, &source.Cursor},
		{metaDataJSON, &source.MetaData},
	} {
		if len(pair.raw) > 0 {
			if err := json.Unmarshal(pair.raw, pair.dest); err != nil {
				return nil, err
			}
		}
	}

	source.Description = description.String
	source.LastError = lastError.String
	if lastCheckedAt.Valid {
		source.LastCheckedAt = &lastCheckedAt.Time
	}
	if lastSuccessAt.Valid {
		source.LastSuccessAt = &lastSuccessAt.Time
	}
	return &source, nil
}

func orEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
