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

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/flowlane/flowlane/model"
)

// IngestEvent is the request body for pushing one provider event into a
// tenant's inbox.
type IngestEvent struct {
	TaskSourceID    string                 `json:"task_source_id"`
	ExternalEventID string                 `json:"external_event_id"`
	Payload         map[string]interface{} `json:"payload"`
	MetaData        map[string]interface{} `json:"meta_data,omitempty"`
}

func (e *IngestEvent) ValidateIngestEvent() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.TaskSourceID, validation.Required),
		validation.Field(&e.ExternalEventID, validation.Required),
		validation.Field(&e.Payload, validation.Required),
	)
}

func (e *IngestEvent) ToInboxEvent() *model.InboxEvent {
	return &model.InboxEvent{
		TaskSourceID:    e.TaskSourceID,
		ExternalEventID: e.ExternalEventID,
		DedupeKey:       model.NewDedupeKey(e.TaskSourceID, e.ExternalEventID),
		Payload:         e.Payload,
		MetaData:        e.MetaData,
	}
}

// UpdateEventStatus is the request body for a partial status update. Fields
// left out of the request are left untouched on the event.
type UpdateEventStatus struct {
	State     *string `json:"state,omitempty"`
	Attempts  *int    `json:"attempts,omitempty"`
	LastError *string `json:"last_error,omitempty"`
}

func (u *UpdateEventStatus) ValidateUpdateEventStatus() error {
	return validation.ValidateStruct(u,
		validation.Field(&u.State, validation.By(func(value interface{}) error {
			state, ok := value.(*string)
			if !ok || state == nil {
				return nil
			}
			if !model.EventState(*state).Valid() {
				return errors.New("state must be one of pending, processing, processed, failed")
			}
			return nil
		})),
		validation.Field(&u.Attempts, validation.By(func(value interface{}) error {
			attempts, ok := value.(*int)
			if !ok || attempts == nil {
				return nil
			}
			if *attempts < 0 {
				return errors.New("attempts cannot be negative")
			}
			return nil
		})),
	)
}

func (u *UpdateEventStatus) ToStatusUpdate() model.StatusUpdate {
	update := model.StatusUpdate{
		Attempts:  u.Attempts,
		LastError: u.LastError,
	}
	if u.State != nil {
		state := model.EventState(*u.State)
		update.State = &state
	}
	return update
}

// CreateTaskSource is the request body for configuring a new trigger
// instance.
type CreateTaskSource struct {
	AgentID          string                 `json:"agent_id"`
	ConnectionID     string                 `json:"connection_id"`
	ProviderKey      string                 `json:"provider_key"`
	TriggerKey       string                 `json:"trigger_key"`
	Name             string                 `json:"name"`
	Description      string                 `json:"description,omitempty"`
	ResourceConfig   map[string]interface{} `json:"resource_config,omitempty"`
	FilterConfig     map[string]interface{} `json:"filter_config,omitempty"`
	ScheduleConfig   map[string]interface{} `json:"schedule_config,omitempty"`
	ProcessingConfig map[string]interface{} `json:"processing_config,omitempty"`
	Enabled          *bool                  `json:"enabled,omitempty"`
	MetaData         map[string]interface{} `json:"meta_data,omitempty"`
}

func (s *CreateTaskSource) ValidateCreateTaskSource() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.AgentID, validation.Required),
		validation.Field(&s.ProviderKey, validation.Required),
		validation.Field(&s.TriggerKey, validation.Required),
		validation.Field(&s.Name, validation.Required),
	)
}

func (s *CreateTaskSource) ToTaskSource() *model.TaskSource {
	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}
	return &model.TaskSource{
		AgentID:          s.AgentID,
		ConnectionID:     s.ConnectionID,
		ProviderKey:      s.ProviderKey,
		TriggerKey:       s.TriggerKey,
		Name:             s.Name,
		Description:      s.Description,
		ResourceConfig:   s.ResourceConfig,
		FilterConfig:     s.FilterConfig,
		ScheduleConfig:   s.ScheduleConfig,
		ProcessingConfig: s.ProcessingConfig,
		Enabled:          enabled,
		MetaData:         s.MetaData,
	}
}
