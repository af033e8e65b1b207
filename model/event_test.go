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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventStateTransitions(t *testing.T) {
	tests := []struct {
		from    EventState
		to      EventState
		allowed bool
	}{
		{StatePending, StateProcessing, true},
		{StatePending, StateProcessed, true},
		{StatePending, StateFailed, false},
		{StateProcessing, StateProcessed, true},
		{StateProcessing, StatePending, true},
		{StateProcessing, StateFailed, true},
		{StateProcessed, StatePending, false},
		{StateProcessed, StateProcessing, false},
		{StateFailed, StatePending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestEventStateTerminal(t *testing.T) {
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateProcessing.Terminal())
	assert.True(t, StateProcessed.Terminal())
	assert.True(t, StateFailed.Terminal())
}

func TestStatusApply_ValidTransition(t *testing.T) {
	status := EventStatus{State: StatePending, Attempts: 0}

	processing := StateProcessing
	next, err := status.Apply(StatusUpdate{State: &processing})
	assert.NoError(t, err)
	assert.Equal(t, StateProcessing, next.State)
	assert.Equal(t, 0, next.Attempts)

	processed := StateProcessed
	attempts := 1
	next, err = next.Apply(StatusUpdate{State: &processed, Attempts: &attempts})
	assert.NoError(t, err)
	assert.Equal(t, StateProcessed, next.State)
	assert.Equal(t, 1, next.Attempts)
}

func TestStatusApply_RejectsInvalidTransition(t *testing.T) {
	status := EventStatus{State: StateProcessed, Attempts: 1}

	pending := StatePending
	_, err := status.Apply(StatusUpdate{State: &pending})
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "invalid status transition"))
}

func TestStatusApply_RejectsDecreasingAttempts(t *testing.T) {
	status := EventStatus{State: StateProcessing, Attempts: 3}

	attempts := 2
	_, err := status.Apply(StatusUpdate{Attempts: &attempts})
	assert.Error(t, err)
}

func TestStatusApply_RejectsUnknownState(t *testing.T) {
	status := EventStatus{State: StatePending}

	bogus := EventState("paused")
	_, err := status.Apply(StatusUpdate{State: &bogus})
	assert.Error(t, err)
}

func TestStatusApply_MergesLastError(t *testing.T) {
	status := EventStatus{State: StateProcessing, Attempts: 1}

	msg := "adapter timeout"
	next, err := status.Apply(StatusUpdate{LastError: &msg})
	assert.NoError(t, err)
	assert.Equal(t, "adapter timeout", next.LastError)
	assert.Equal(t, StateProcessing, next.State)
}

func TestNewDedupeKey(t *testing.T) {
	assert.Equal(t, "ts1:ext42", NewDedupeKey("ts1", "ext42"))
}

func TestGenerateUUIDWithSuffix(t *testing.T) {
	id := GenerateUUIDWithSuffix("evt")
	assert.True(t, strings.HasPrefix(id, "evt_"))
	assert.NotEqual(t, id, GenerateUUIDWithSuffix("evt"))
}
