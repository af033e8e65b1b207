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

package model

import "time"

// TaskSourceHealth is the operational health of a task source, distinct from
// the user-controlled enabled toggle.
type TaskSourceHealth string

const (
	HealthOK        TaskSourceHealth = "ok"
	HealthWarn      TaskSourceHealth = "warn"
	HealthError     TaskSourceHealth = "error"
	HealthAuthError TaskSourceHealth = "auth_error"
)

// TaskSource is a configured trigger instance: an event source bound to a
// connection and an agent. Examples: an Outlook inbox polled for new mail, an
// S3 prefix polled for new files, a Salesforce object polled for changes.
type TaskSource struct {
	TaskSourceID string `json:"task_source_id"`
	AgentID      string `json:"agent_id"`
	ConnectionID string `json:"connection_id"`

	// ProviderKey is denormalized from the connection for efficient queries.
	ProviderKey string `json:"provider_key"`
	// TriggerKey selects the adapter, e.g. "outlook.new_email".
	TriggerKey  string `json:"trigger_key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// ResourceConfig describes what to watch: mailbox+folder, bucket+prefix,
	// object+query.
	ResourceConfig   map[string]interface{} `json:"resource_config"`
	FilterConfig     map[string]interface{} `json:"filter_config"`
	ScheduleConfig   map[string]interface{} `json:"schedule_config"`
	ProcessingConfig map[string]interface{} `json:"processing_config"`

	Enabled bool             `json:"enabled"`
	Health  TaskSourceHealth `json:"health"`

	// Cursor holds adapter polling state: delta token, timestamp, offset.
	Cursor   map[string]interface{} `json:"cursor"`
	MetaData map[string]interface{} `json:"meta_data"`

	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	// ErrorCount is the consecutive error count driving exponential backoff.
	ErrorCount int    `json:"error_count"`
	LastError  string `json:"last_error,omitempty"`

	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
