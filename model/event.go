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
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventState is the processing state of an inbox event.
type EventState string

const (
	StatePending    EventState = "pending"
	StateProcessing EventState = "processing"
	StateProcessed  EventState = "processed"
	StateFailed     EventState = "failed"
)

// Valid reports whether s is one of the known states.
func (s EventState) Valid() bool {
	switch s {
	case StatePending, StateProcessing, StateProcessed, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether an event in this state will never be picked up
// again.
func (s EventState) Terminal() bool {
	return s == StateProcessed || s == StateFailed
}

// CanTransitionTo validates a state-machine edge:
//
//	pending    -> processing            (claim)
//	processing -> processed             (success)
//	processing -> pending               (failure, retry)
//	processing -> failed                (failure, attempts exhausted)
//	pending    -> processed             (direct completion, no claim step)
func (s EventState) CanTransitionTo(next EventState) bool {
	switch s {
	case StatePending:
		return next == StateProcessing || next == StateProcessed
	case StateProcessing:
		return next == StateProcessed || next == StatePending || next == StateFailed
	default:
		return false
	}
}

// EventStatus is the structured processing status of an inbox event. It
// replaces a free-form status blob with explicit fields so transitions can be
// validated.
type EventStatus struct {
	State     EventState `json:"state"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"last_error,omitempty"`
}

// StatusUpdate is a partial update merged into an event's status. Nil fields
// are left untouched.
type StatusUpdate struct {
	State     *EventState `json:"state,omitempty"`
	Attempts  *int        `json:"attempts,omitempty"`
	LastError *string     `json:"last_error,omitempty"`
}

// Apply merges u into s, validating the state transition and the attempts
// monotonicity invariant.
func (s EventStatus) Apply(u StatusUpdate) (EventStatus, error) {
	next := s
	if u.State != nil {
		if !u.State.Valid() {
			return s, fmt.Errorf("unknown event state %q", *u.State)
		}
		if *u.State != s.State && !s.State.CanTransitionTo(*u.State) {
			return s, fmt.Errorf("invalid status transition %s -> %s", s.State, *u.State)
		}
		next.State = *u.State
	}
	if u.Attempts != nil {
		if *u.Attempts < s.Attempts {
			return s, fmt.Errorf("attempts cannot decrease (%d -> %d)", s.Attempts, *u.Attempts)
		}
		next.Attempts = *u.Attempts
	}
	if u.LastError != nil {
		next.LastError = *u.LastError
	}
	return next, nil
}

// InboxEvent is one external occurrence awaiting agent processing. One row
// exists per unique dedupe key; duplicates are rejected at insert.
type InboxEvent struct {
	EventID         string                 `json:"event_id"`
	TaskSourceID    string                 `json:"task_source_id"`
	ExternalEventID string                 `json:"external_event_id"`
	DedupeKey       string                 `json:"dedupe_key"`
	Payload         map[string]interface{} `json:"payload"`
	MetaData        map[string]interface{} `json:"meta_data"`
	Status          EventStatus            `json:"status"`
	ProcessedAt     *time.Time             `json:"processed_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// NewDedupeKey builds the canonical dedupe key for an event from its owning
// task source and the provider-native event id.
func NewDedupeKey(taskSourceID, externalEventID string) string {
	return fmt.Sprintf("%s:%s", taskSourceID, externalEventID)
}

// GenerateUUIDWithSuffix generates a prefixed uuid identifier for a module,
// e.g. evt_9f1c....
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}
