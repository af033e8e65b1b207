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
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/flowlane/flowlane/config"
	"github.com/flowlane/flowlane/internal/apierror"
	"github.com/flowlane/flowlane/model"
)

// PollResult is what a source adapter returns from one poll: the events seen
// since the cursor, and the cursor to store for the next poll.
type PollResult struct {
	Events []model.InboxEvent
	Cursor map[string]interface{}
}

// SourceAdapter polls one provider trigger for new events. Adapters are
// registered per trigger key and must set each event's ExternalEventID; the
// poller derives the dedupe key from it.
type SourceAdapter interface {
	Poll(ctx context.Context, source *model.TaskSource) (*PollResult, error)
}

// TaskSourcePoller sweeps due task sources and turns provider events into
// inbox events.
type TaskSourcePoller struct {
	flowlane *Flowlane

	mu       sync.RWMutex
	adapters map[string]SourceAdapter
}

func NewTaskSourcePoller(f *Flowlane) *TaskSourcePoller {
	return &TaskSourcePoller{
		flowlane: f,
		adapters: make(map[string]SourceAdapter),
	}
}

// RegisterAdapter binds an adapter to a trigger key, replacing any previous
// binding.
func (p *TaskSourcePoller) RegisterAdapter(triggerKey string, adapter SourceAdapter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adapters[triggerKey] = adapter
}

func (p *TaskSourcePoller) adapter(triggerKey string) (SourceAdapter, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	adapter, ok := p.adapters[triggerKey]
	return adapter, ok
}

// SweepSchema enqueues a poll task for every due source in the schema. Runs
// on a timer in the worker process.
func (p *TaskSourcePoller) SweepSchema(ctx context.Context, schema string) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	due, err := p.flowlane.Tenant(schema).ListDueTaskSources(ctx, cfg.Inbox.BatchSize)
	if err != nil {
		return err
	}
	for i := range due {
		if err := p.flowlane.queue.EnqueuePollTask(ctx, schema, due[i].TaskSourceID); err != nil {
			return err
		}
	}
	return nil
}

// PollSource polls one task source and ingests whatever the adapter found.
// Transient provider errors are retried with exponential backoff; a poll that
// still fails afterwards is recorded against the source's health.
func (p *TaskSourcePoller) PollSource(ctx context.Context, schema string, taskSourceID string) error {
	ds := p.flowlane.Tenant(schema)
	source, err := ds.GetTaskSource(ctx, taskSourceID)
	if err != nil {
		if apierror.Is(err, apierror.ErrNotFound) {
			// Deleted between sweep and poll.
			return nil
		}
		return err
	}

	adapter, ok := p.adapter(source.TriggerKey)
	if !ok {
		return ds.RecordTaskSourceError(ctx, taskSourceID, "no adapter registered for trigger "+source.TriggerKey)
	}

	var result *PollResult
	operation := func() error {
		var pollErr error
		result, pollErr = adapter.Poll(ctx, source)
		return pollErr
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if recErr := ds.RecordTaskSourceError(ctx, taskSourceID, err.Error()); recErr != nil {
			return recErr
		}
		return errors.Wrapf(err, "polling task source %s", taskSourceID)
	}

	ingested := 0
	for i := range result.Events {
		event := &result.Events[i]
		event.TaskSourceID = taskSourceID
		if _, created, err := p.flowlane.IngestInboxEvent(ctx, schema, event); err != nil {
			return errors.Wrapf(err, "ingesting event %s from task source %s", event.ExternalEventID, taskSourceID)
		} else if created {
			ingested++
		}
	}

	if err := ds.UpdateTaskSourceCursor(ctx, taskSourceID, result.Cursor); err != nil {
		return err
	}
	logrus.Infof("polled task source %s in schema %s: %d events, %d new", taskSourceID, schema, len(result.Events), ingested)
	return nil
}

// Run sweeps every tenant schema on the configured interval until the context
// is cancelled.
func (p *TaskSourcePoller) Run(ctx context.Context) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(cfg.Poller.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			schemas, err := p.flowlane.registry.ListTenantSchemas(ctx)
			if err != nil {
				logrus.Errorf("listing tenant schemas: %v", err)
				continue
			}
			for _, schema := range schemas {
				if err := p.SweepSchema(ctx, schema); err != nil {
					logrus.Errorf("sweeping schema %s: %v", schema, err)
				}
			}
		}
	}
}
