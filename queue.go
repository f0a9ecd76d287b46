/*
Copyright 2024 Blnk Finance Authors.

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

package openbank

import (
	"context"
	"encoding/json"
	"time"

	"github.com/blnkfinance/openbank/config"
	redis_db "github.com/blnkfinance/openbank/internal/redis-db"
	"github.com/hibiken/asynq"
)

// WebhookQueue enqueues webhooks on asynq for the worker to deliver.
type WebhookQueue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	queue     string
	maxRetry  int
	enabled   bool
}

// RedisClientOpt converts the configured Redis DNS into asynq options.
func RedisClientOpt(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}, nil
}

func NewWebhookQueue(conf *config.Configuration) (*WebhookQueue, error) {
	opts, err := RedisClientOpt(conf)
	if err != nil {
		return nil, err
	}
	return &WebhookQueue{
		Client:    asynq.NewClient(opts),
		Inspector: asynq.NewInspector(opts),
		queue:     conf.Queue.WebhookQueue,
		maxRetry:  conf.Queue.MaxRetryAttempts,
		enabled:   conf.Notification.Webhook.Url != "",
	}, nil
}

// Notify enqueues the event. It is a no-op when no webhook URL is configured.
func (q *WebhookQueue) Notify(ctx context.Context, event string, payload interface{}) error {
	if !q.enabled {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(Webhook{Event: event, Payload: data, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	task := asynq.NewTask(q.queue, body)
	_, err = q.Client.EnqueueContext(ctx, task, asynq.Queue(q.queue), asynq.MaxRetry(q.maxRetry))
	return err
}

func (q *WebhookQueue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		return err
	}
	return q.Client.Close()
}
