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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/flowlane/flowlane"
	"github.com/flowlane/flowlane/config"
	redis_db "github.com/flowlane/flowlane/internal/redis-db"
	"github.com/flowlane/flowlane/internal/request"
	"github.com/flowlane/flowlane/model"
)

// processInboxEvent handles one queued inbox event: claim it, dispatch it,
// and settle its status. Returning an error makes asynq redeliver the task,
// which is safe because a claim only succeeds on a pending event.
func (b *flowlaneInstance) processInboxEvent(ctx context.Context, t *asynq.Task) error {
	var payload flowlane.InboxTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return err
	}

	err := b.flowlane.ProcessInboxEvent(ctx, payload.Schema, payload.EventID,
		func(ctx context.Context, event *model.InboxEvent) error {
			return b.dispatchEvent(ctx, payload.Schema, event)
		})
	if err != nil {
		logrus.Infof("Event %s pushed back for retry due to error: %v", payload.EventID, err)
		return err
	}

	log.Println(" [*] Event Processed", payload.EventID)
	return nil
}

// dispatchEvent delivers a claimed event to the webhook its task source
// configured. Sources without a webhook consume their events as no-ops.
func (b *flowlaneInstance) dispatchEvent(ctx context.Context, schema string, event *model.InboxEvent) error {
	source, err := b.flowlane.GetTaskSource(ctx, schema, event.TaskSourceID)
	if err != nil {
		return err
	}

	webhookURL, _ := source.ProcessingConfig["webhook_url"].(string)
	if webhookURL == "" {
		log.Println(" [*] Event consumed without dispatch", event.EventID)
		return nil
	}

	body, err := request.ToJsonReq(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, body)
	if err != nil {
		return err
	}

	var response map[string]interface{}
	resp, err := request.Call(req, &response)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// processPollTask polls one task source on behalf of the sweep.
func (b *flowlaneInstance) processPollTask(ctx context.Context, t *asynq.Task) error {
	var payload flowlane.PollTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return err
	}

	return b.poller().PollSource(ctx, payload.Schema, payload.TaskSourceID)
}

// drainSchemas pushes pending events of every tenant schema onto the queue.
// Catches events whose first enqueue was lost, e.g. across a redis restart.
func (b *flowlaneInstance) drainSchemas(ctx context.Context) {
	schemas, err := b.flowlane.Registry().ListTenantSchemas(ctx)
	if err != nil {
		logrus.Errorf("listing tenant schemas for drain: %v", err)
		return
	}
	for _, schema := range schemas {
		n, err := b.flowlane.DrainInboxEvents(ctx, schema)
		if err != nil {
			logrus.Errorf("draining schema %s: %v", schema, err)
			continue
		}
		if n > 0 {
			log.Printf(" [*] Drained %d pending events from %s", n, schema)
		}
	}
}

func initializeQueues(cfg *config.Configuration) map[string]int {
	queues := make(map[string]int)
	queues[cfg.Queue.InboxQueue] = 3
	queues[cfg.Queue.PollQueue] = 1
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisOption.Addr,
			Password: redisOption.Password,
			DB:       redisOption.DB,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(b *flowlaneInstance, cfg *config.Configuration, mux *asynq.ServeMux) {
	mux.HandleFunc(cfg.Queue.InboxQueue, b.processInboxEvent)
	mux.HandleFunc(cfg.Queue.PollQueue, b.processPollTask)
}

// poller lazily builds the task source poller with the built-in adapters.
func (b *flowlaneInstance) poller() *flowlane.TaskSourcePoller {
	if b.sourcePoller == nil {
		b.sourcePoller = flowlane.NewTaskSourcePoller(b.flowlane)
		b.sourcePoller.RegisterAdapter(flowlane.HTTPTriggerKey, flowlane.NewHTTPSourceAdapter())
	}
	return b.sourcePoller
}

// workerCommands defines the "workers" command to start worker processes.
// Workers consume the inbox and poll queues and run the periodic source
// sweep.
func workerCommands(b *flowlaneInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start flowlane workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			defer func() {
				if err := b.pools.DisposeAll(); err != nil {
					log.Printf("Error disposing connection pools: %v", err)
				}
			}()

			queues := initializeQueues(conf)

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, conf, mux)

			// Catch up on anything left pending before the sweep starts.
			b.drainSchemas(ctx)

			go func() {
				if err := b.poller().Run(ctx); err != nil && ctx.Err() == nil {
					log.Fatalf("poller stopped: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
