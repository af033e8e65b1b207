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
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/flowlane/flowlane/config"
	"github.com/flowlane/flowlane/internal/apierror"
	"github.com/flowlane/flowlane/internal/notification"
	"github.com/flowlane/flowlane/model"
)

// EventHandler processes one claimed inbox event. A nil return marks the
// event processed; an error counts a failed attempt.
type EventHandler func(ctx context.Context, event *model.InboxEvent) error

// IngestInboxEvent stores a new event in the tenant's inbox. Ingesting an
// event whose dedupe key is already present is a no-op: the stored event is
// returned unchanged with created=false, whatever its current state.
func (f *Flowlane) IngestInboxEvent(ctx context.Context, schema string, event *model.InboxEvent) (*model.InboxEvent, bool, error) {
	if event.TaskSourceID == "" || event.ExternalEventID == "" {
		return nil, false, apierror.NewAPIError(apierror.ErrBadRequest, "Task source id and external event id are required", nil)
	}
	if event.DedupeKey == "" {
		event.DedupeKey = model.NewDedupeKey(event.TaskSourceID, event.ExternalEventID)
	}

	ds := f.Tenant(schema)
	stored, err := ds.IngestEvent(ctx, event)
	if err != nil {
		if apierror.Is(err, apierror.ErrConflict) {
			existing, getErr := ds.GetEventByDedupeKey(ctx, event.DedupeKey)
			if getErr != nil {
				return nil, false, getErr
			}
			logrus.Infof("duplicate ingest absorbed for dedupe key %s in schema %s", event.DedupeKey, schema)
			return existing, false, nil
		}
		return nil, false, err
	}
	return stored, true, nil
}

// GetInboxEvent retrieves one event from the tenant's inbox.
func (f *Flowlane) GetInboxEvent(ctx context.Context, schema string, eventID string) (*model.InboxEvent, error) {
	return f.Tenant(schema).GetEvent(ctx, eventID)
}

// ListPendingInboxEvents returns the oldest pending events. A non-positive
// limit falls back to the configured batch size.
func (f *Flowlane) ListPendingInboxEvents(ctx context.Context, schema string, limit int) ([]model.InboxEvent, error) {
	if limit <= 0 {
		cfg, err := config.Fetch()
		if err != nil {
			return nil, err
		}
		limit = cfg.Inbox.BatchSize
	}
	return f.Tenant(schema).ListPendingEvents(ctx, limit)
}

// ClaimInboxEvent attempts to claim a pending event for processing. Exactly
// one concurrent claimer wins; everyone else gets false.
func (f *Flowlane) ClaimInboxEvent(ctx context.Context, schema string, eventID string) (bool, error) {
	return f.Tenant(schema).ClaimEvent(ctx, eventID)
}

// UpdateInboxEventStatus applies a partial status update to an event,
// enforcing the state machine against the stored row.
func (f *Flowlane) UpdateInboxEventStatus(ctx context.Context, schema string, eventID string, update model.StatusUpdate) (*model.InboxEvent, error) {
	ds := f.Tenant(schema)
	found, err := ds.UpdateEventStatus(ctx, eventID, update)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Event %q not found", eventID), nil)
	}
	return ds.GetEvent(ctx, eventID)
}

// MarkInboxEventProcessed marks an event processed without running a
// handler, for callers that claimed and processed the event themselves.
// Returns the updated event; a terminal event is returned untouched.
func (f *Flowlane) MarkInboxEventProcessed(ctx context.Context, schema string, eventID string) (*model.InboxEvent, error) {
	ds := f.Tenant(schema)
	updated, err := ds.MarkEventProcessed(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !updated {
		logrus.Debugf("event %s in schema %s is already terminal", eventID, schema)
	}
	return ds.GetEvent(ctx, eventID)
}

// ProcessInboxEvent claims an event and runs handler over it. On success the
// event becomes processed; on handler failure an attempt is counted and the
// event either returns to pending for redelivery or, once attempts are
// exhausted, lands in failed and triggers a notification.
//
// A lost claim is not an error: the event is simply someone else's now.
func (f *Flowlane) ProcessInboxEvent(ctx context.Context, schema string, eventID string, handler EventHandler) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	ds := f.Tenant(schema)
	claimed, err := ds.ClaimEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if !claimed {
		logrus.Debugf("event %s in schema %s already claimed, skipping", eventID, schema)
		return nil
	}

	event, err := ds.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}

	if handlerErr := handler(ctx, event); handlerErr != nil {
		status, recErr := ds.RecordEventFailure(ctx, eventID, handlerErr.Error(), cfg.Inbox.MaxAttempts)
		if recErr != nil {
			return recErr
		}
		if status.State == model.StateFailed {
			notification.NotifyError(fmt.Errorf("event %s in schema %s failed after %d attempts: %s",
				eventID, schema, status.Attempts, status.LastError))
		}
		return handlerErr
	}

	updated, err := ds.MarkEventProcessed(ctx, eventID)
	if err != nil {
		return err
	}
	if !updated {
		// Terminal in the meantime; MarkEventProcessed never overwrites.
		logrus.Warnf("event %s in schema %s reached a terminal state mid-processing", eventID, schema)
	}
	return nil
}

// DrainInboxEvents hands a batch of pending events to the queue. Claiming is
// left to the worker that picks the task up; the task id keyed on the dedupe
// key means draining the same pending event twice enqueues it once. Returns
// the number of events enqueued.
func (f *Flowlane) DrainInboxEvents(ctx context.Context, schema string) (int, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return 0, err
	}

	pending, err := f.Tenant(schema).ListPendingEvents(ctx, cfg.Inbox.BatchSize)
	if err != nil {
		return 0, err
	}

	for i := range pending {
		if err := f.queue.EnqueueInboxEvent(ctx, schema, &pending[i]); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}
