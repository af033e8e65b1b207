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

package flowlane

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlane/flowlane/model"
)

type stubAdapter struct {
	result   *PollResult
	err      error
	failures int // errors returned before succeeding
	calls    int
}

func (s *stubAdapter) Poll(ctx context.Context, source *model.TaskSource) (*PollResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.calls <= s.failures {
		return nil, errors.New("transient provider error")
	}
	return s.result, nil
}

func taskSourceRow(mock sqlmock.Sqlmock, triggerKey string) {
	now := time.Now()
	cols := []string{"task_source_id", "agent_id", "connection_id", "provider_key", "trigger_key",
		"name", "description", "resource_config", "filter_config", "schedule_config", "processing_config",
		"enabled", "health", "cursor", "meta_data", "last_checked_at", "last_success_at",
		"error_count", "last_error", "created_at", "updated_at"}
	mock.ExpectQuery("SELECT .* FROM task_sources").
		WithArgs("tsc_1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("tsc_1", "agt_1", "con_1", "github", triggerKey, "Assigned issues", nil,
				[]byte(`{}`), []byte(`{}`), []byte(`{}`), []byte(`{}`), true, "ok",
				[]byte(`{}`), []byte(`{}`), nil, nil, 0, nil, now, now))
}

func TestPollSource_IngestsAndAdvancesCursor(t *testing.T) {
	f, mock := newTestFlowlane(t)
	poller := NewTaskSourcePoller(f)
	adapter := &stubAdapter{result: &PollResult{
		Events: []model.InboxEvent{
			{ExternalEventID: "gh-1", Payload: map[string]interface{}{"title": "a"}},
			{ExternalEventID: "gh-2", Payload: map[string]interface{}{"title": "b"}},
		},
		Cursor: map[string]interface{}{"since": "2024-02-01T00:00:00Z"},
	}}
	poller.RegisterAdapter("github.issue_assigned", adapter)

	expectTenantLease(mock)
	taskSourceRow(mock, "github.issue_assigned")
	expectTenantLease(mock)
	mock.ExpectExec("INSERT INTO event_inbox").WillReturnResult(sqlmock.NewResult(1, 1))
	expectTenantLease(mock)
	mock.ExpectExec("INSERT INTO event_inbox").WillReturnResult(sqlmock.NewResult(1, 1))
	expectTenantLease(mock)
	mock.ExpectExec("UPDATE task_sources").
		WithArgs("tsc_1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := poller.PollSource(context.Background(), "tenant_a", "tsc_1")
	require.NoError(t, err)
	assert.Equal(t, 1, adapter.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPollSource_RetriesTransientErrors(t *testing.T) {
	f, mock := newTestFlowlane(t)
	poller := NewTaskSourcePoller(f)
	adapter := &stubAdapter{
		failures: 2,
		result:   &PollResult{Cursor: map[string]interface{}{"since": "now"}},
	}
	poller.RegisterAdapter("github.issue_assigned", adapter)

	expectTenantLease(mock)
	taskSourceRow(mock, "github.issue_assigned")
	expectTenantLease(mock)
	mock.ExpectExec("UPDATE task_sources").
		WithArgs("tsc_1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := poller.PollSource(context.Background(), "tenant_a", "tsc_1")
	require.NoError(t, err)
	assert.Equal(t, 3, adapter.calls)
}

func TestPollSource_PersistentFailureRecorded(t *testing.T) {
	f, mock := newTestFlowlane(t)
	poller := NewTaskSourcePoller(f)
	adapter := &stubAdapter{err: errors.New("401 unauthorized")}
	poller.RegisterAdapter("github.issue_assigned", adapter)

	expectTenantLease(mock)
	taskSourceRow(mock, "github.issue_assigned")
	expectTenantLease(mock)
	mock.ExpectExec("UPDATE task_sources").
		WithArgs("tsc_1", "401 unauthorized").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := poller.PollSource(context.Background(), "tenant_a", "tsc_1")
	require.Error(t, err)
	assert.Equal(t, 4, adapter.calls) // initial try plus three retries
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPollSource_NoAdapterRecordsError(t *testing.T) {
	f, mock := newTestFlowlane(t)
	poller := NewTaskSourcePoller(f)

	expectTenantLease(mock)
	taskSourceRow(mock, "jira.issue_created")
	expectTenantLease(mock)
	mock.ExpectExec("UPDATE task_sources").
		WithArgs("tsc_1", "no adapter registered for trigger jira.issue_created").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := poller.PollSource(context.Background(), "tenant_a", "tsc_1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPollSource_DeletedSourceSkipped(t *testing.T) {
	f, mock := newTestFlowlane(t)
	poller := NewTaskSourcePoller(f)

	cols := []string{"task_source_id", "agent_id", "connection_id", "provider_key", "trigger_key",
		"name", "description", "resource_config", "filter_config", "schedule_config", "processing_config",
		"enabled", "health", "cursor", "meta_data", "last_checked_at", "last_success_at",
		"error_count", "last_error", "created_at", "updated_at"}
	expectTenantLease(mock)
	mock.ExpectQuery("SELECT .* FROM task_sources").
		WithArgs("tsc_1").
		WillReturnRows(sqlmock.NewRows(cols))

	err := poller.PollSource(context.Background(), "tenant_a", "tsc_1")
	assert.NoError(t, err)
}
