/*
Copyright 2024 Flowlane Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlane/flowlane/internal/apierror"
	"github.com/flowlane/flowlane/model"
)

func taskSourceColumns() []string {
	return []string{"task_source_id", "agent_id", "connection_id", "provider_key", "trigger_key",
		"name", "description", "resource_config", "filter_config", "schedule_config", "processing_config",
		"enabled", "health", "cursor", "meta_data", "last_checked_at", "last_success_at",
		"error_count", "last_error", "created_at", "updated_at"}
}

func TestCreateTaskSource(t *testing.T) {
	ds, mock := newMockDatasource(t)

	expectLease(mock)
	mock.ExpectExec("INSERT INTO task_sources").
		WillReturnResult(sqlmock.NewResult(1, 1))

	source, err := ds.CreateTaskSource(context.Background(), &model.TaskSource{
		AgentID:      "agt_1",
		ConnectionID: "con_1",
		ProviderKey:  "github",
		TriggerKey:   "github.issue_assigned",
		Name:         "Assigned issues",
		Enabled:      true,
	})
	require.NoError(t, err)
	assert.Contains(t, source.TaskSourceID, "tsc_")
	assert.Equal(t, model.HealthOK, source.Health)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTaskSource_Duplicate(t *testing.T) {
	ds, mock := newMockDatasource(t)

	expectLease(mock)
	mock.ExpectExec("INSERT INTO task_sources").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := ds.CreateTaskSource(context.Background(), &model.TaskSource{
		AgentID:     "agt_1",
		ProviderKey: "github",
		TriggerKey:  "github.issue_assigned",
	})
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrConflict))
}

func TestGetTaskSource(t *testing.T) {
	ds, mock := newMockDatasource(t)

	now := time.Now()
	expectLease(mock)
	mock.ExpectQuery("SELECT .* FROM task_sources").
		WithArgs("tsc_1").
		WillReturnRows(sqlmock.NewRows(taskSourceColumns()).
			AddRow("tsc_1", "agt_1", "con_1", "github", "github.issue_assigned",
				"Assigned issues", "issues routed to the agent", []byte(`{"repo":"acme/api"}`), []byte(`{}`),
				[]byte(`{"interval_seconds":60}`), []byte(`{}`), true, "ok",
				[]byte(`{"since":"2024-01-01T00:00:00Z"}`), []byte(`{}`), now, now, 0, nil, now, now))

	source, err := ds.GetTaskSource(context.Background(), "tsc_1")
	require.NoError(t, err)
	assert.Equal(t, "github.issue_assigned", source.TriggerKey)
	assert.Equal(t, "acme/api", source.ResourceConfig["repo"])
	assert.Equal(t, "2024-01-01T00:00:00Z", source.Cursor["since"])
	require.NotNil(t, source.LastCheckedAt)
}

func TestGetTaskSource_NotFound(t *testing.T) {
	ds, mock := newMockDatasource(t)

	expectLease(mock)
	mock.ExpectQuery("SELECT .* FROM task_sources").
		WithArgs("tsc_missing").
		WillReturnRows(sqlmock.NewRows(taskSourceColumns()))

	_, err := ds.GetTaskSource(context.Background(), "tsc_missing")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestListDueTaskSources(t *testing.T) {
	ds, mock := newMockDatasource(t)

	now := time.Now()
	expectLease(mock)
	mock.ExpectQuery("SELECT .* FROM task_sources").
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(taskSourceColumns()).
			AddRow("tsc_never_checked", "agt_1", "con_1", "github", "github.issue_assigned",
				"a", nil, []byte(`{}`), []byte(`{}`), []byte(`{}`), []byte(`{}`), true, "ok",
				[]byte(`{}`), []byte(`{}`), nil, nil, 0, nil, now, now).
			AddRow("tsc_stale", "agt_1", "con_2", "linear", "linear.issue_created",
				"b", nil, []byte(`{}`), []byte(`{}`), []byte(`{}`), []byte(`{}`), true, "warn",
				[]byte(`{}`), []byte(`{}`), now.Add(-time.Hour), now.Add(-time.Hour), 1, "rate limited", now, now))

	sources, err := ds.ListDueTaskSources(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "tsc_never_checked", sources[0].TaskSourceID)
	assert.Nil(t, sources[0].LastCheckedAt)
	assert.Equal(t, "rate limited", sources[1].LastError)
}

func TestUpdateTaskSourceCursor(t *testing.T) {
	ds, mock := newMockDatasource(t)

	expectLease(mock)
	mock.ExpectExec("UPDATE task_sources").
		WithArgs("tsc_1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := ds.UpdateTaskSourceCursor(context.Background(), "tsc_1",
		map[string]interface{}{"since": "2024-02-01T00:00:00Z"})
	assert.NoError(t, err)
}

func TestUpdateTaskSourceCursor_NotFound(t *testing.T) {
	ds, mock := newMockDatasource(t)

	expectLease(mock)
	mock.ExpectExec("UPDATE task_sources").
		WithArgs("tsc_missing", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := ds.UpdateTaskSourceCursor(context.Background(), "tsc_missing", nil)
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestRecordTaskSourceError(t *testing.T) {
	ds, mock := newMockDatasource(t)

	expectLease(mock)
	mock.ExpectExec("UPDATE task_sources").
		WithArgs("tsc_1", "401 unauthorized").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := ds.RecordTaskSourceError(context.Background(), "tsc_1", "401 unauthorized")
	assert.NoError(t, err)
}

func TestSoftDeleteTaskSource(t *testing.T) {
	ds, mock := newMockDatasource(t)

	expectLease(mock)
	mock.ExpectExec("UPDATE task_sources").
		WithArgs("tsc_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := ds.SoftDeleteTaskSource(context.Background(), "tsc_1")
	assert.NoError(t, err)

	expectLease(mock)
	mock.ExpectExec("UPDATE task_sources").
		WithArgs("tsc_1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.SoftDeleteTaskSource(context.Background(), "tsc_1")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}
