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
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/flowlane/flowlane/config"
	redis_db "github.com/flowlane/flowlane/internal/redis-db"
	"github.com/flowlane/flowlane/model"
)

// Queue hands inbox events and poll requests to the asynq workers.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// InboxTaskPayload is the asynq payload for one claimed inbox event. The
// worker re-reads the event through the schema's datasource, so the payload
// only carries routing information.
type InboxTaskPayload struct {
	Schema    string `json:"schema"`
	EventID   string `json:"event_id"`
	DedupeKey string `json:"dedupe_key"`
}

// PollTaskPayload asks a worker to poll one task source.
type PollTaskPayload struct {
	Schema       string `json:"schema"`
	TaskSourceID string `json:"task_source_id"`
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// EnqueueInboxEvent enqueues a claimed event for processing. The task id is
// derived from the schema and dedupe key, so re-enqueueing the same event is
// absorbed by asynq instead of producing a second delivery.
func (q *Queue) EnqueueInboxEvent(ctx context.Context, schema string, event *model.InboxEvent) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(InboxTaskPayload{
		Schema:    schema,
		EventID:   event.EventID,
		DedupeKey: event.DedupeKey,
	})
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.TaskID(inboxTaskID(schema, event.DedupeKey)),
		asynq.Queue(cfg.Queue.InboxQueue),
		asynq.MaxRetry(5),
	}
	task := asynq.NewTask(cfg.Queue.InboxQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued inbox event: %+v", event.EventID)
	return nil
}

// EnqueuePollTask enqueues a poll request for one task source.
func (q *Queue) EnqueuePollTask(ctx context.Context, schema string, taskSourceID string) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(PollTaskPayload{Schema: schema, TaskSourceID: taskSourceID})
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("poll:%s:%s", schema, taskSourceID)),
		asynq.Queue(cfg.Queue.PollQueue),
	}
	task := asynq.NewTask(cfg.Queue.PollQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		log.Println(err, info)
		return err
	}
	return nil
}

// GetInboxTask retrieves a queued inbox task by its event identity, or nil if
// the task is not queued.
func (q *Queue) GetInboxTask(schema string, dedupeKey string) (*InboxTaskPayload, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	task, err := q.Inspector.GetTaskInfo(cfg.Queue.InboxQueue, inboxTaskID(schema, dedupeKey))
	if err != nil {
		// Not queued is an answer; anything else is an inspector failure.
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if task == nil {
		return nil, nil
	}
	var payload InboxTaskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func inboxTaskID(schema string, dedupeKey string) string {
	return fmt.Sprintf("%s:%s", schema, dedupeKey)
}
