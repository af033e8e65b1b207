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

	"github.com/sirupsen/logrus"

	"github.com/flowlane/flowlane/internal/apierror"
	"github.com/flowlane/flowlane/model"
)

// CreateTaskSource stores a new trigger instance and schedules its first
// poll. The first poll failing to enqueue is not fatal; the poller sweep
// picks the source up on its next pass.
func (f *Flowlane) CreateTaskSource(ctx context.Context, schema string, source *model.TaskSource) (*model.TaskSource, error) {
	if source.ProviderKey == "" || source.TriggerKey == "" {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "Provider key and trigger key are required", nil)
	}

	created, err := f.Tenant(schema).CreateTaskSource(ctx, source)
	if err != nil {
		return nil, err
	}

	if created.Enabled {
		if err := f.queue.EnqueuePollTask(ctx, schema, created.TaskSourceID); err != nil {
			logrus.Warnf("failed to enqueue initial poll for task source %s: %v", created.TaskSourceID, err)
		}
	}
	return created, nil
}

// GetTaskSource retrieves one task source from the tenant's schema.
func (f *Flowlane) GetTaskSource(ctx context.Context, schema string, taskSourceID string) (*model.TaskSource, error) {
	return f.Tenant(schema).GetTaskSource(ctx, taskSourceID)
}

// DeleteTaskSource soft-deletes a task source. Events already ingested stay
// in the inbox until the row is purged.
func (f *Flowlane) DeleteTaskSource(ctx context.Context, schema string, taskSourceID string) error {
	return f.Tenant(schema).SoftDeleteTaskSource(ctx, taskSourceID)
}
