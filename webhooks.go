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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/blnkfinance/openbank/config"
	"github.com/blnkfinance/openbank/internal/notification"
	"github.com/blnkfinance/openbank/internal/request"
	"github.com/blnkfinance/openbank/model"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const (
	EventPaymentCreated    = "payment.created"
	EventConsentAuthorised = "consent.authorised"
	EventConsentRejected   = "consent.rejected"
	EventConsentExpired    = "consent.expired"
)

// Webhook is the body posted to the configured notification URL.
type Webhook struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"data"`
	SentAt  time.Time       `json:"sent_at"`
}

// Notifier publishes pipeline events. Failures are logged by callers and
// never fail the operation that raised the event.
type Notifier interface {
	Notify(ctx context.Context, event string, payload interface{}) error
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string, interface{}) error { return nil }

func (o *OpenBank) notify(ctx context.Context, event string, payload interface{}) {
	if err := o.notifier.Notify(ctx, event, payload); err != nil {
		logrus.WithError(err).WithField("event", event).Warn("failed to enqueue webhook")
	}
}

func eventForConsentStatus(status model.ConsentStatus) string {
	switch status {
	case model.ConsentAuthorised:
		return EventConsentAuthorised
	case model.ConsentRejected:
		return EventConsentRejected
	case model.ConsentExpired:
		return EventConsentExpired
	}
	return ""
}

// WebhookDeliverer posts queued webhooks. It is the asynq handler for the webhook queue.
type WebhookDeliverer struct {
	client  *request.Client
	url     string
	headers map[string]string
}

func NewWebhookDeliverer(cfg *config.Configuration, client *request.Client) *WebhookDeliverer {
	return &WebhookDeliverer{
		client:  client,
		url:     cfg.Notification.Webhook.Url,
		headers: cfg.Notification.Webhook.Headers,
	}
}

// finalAttempt reports whether asynq will not retry the running task again.
func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return ok && retried >= maxRetry
}

// ProcessWebhook delivers one task. A non-2xx answer returns an error so
// asynq retries the task.
func (d *WebhookDeliverer) ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	if d.url == "" {
		return nil
	}
	var hook Webhook
	if err := json.Unmarshal(task.Payload(), &hook); err != nil {
		logrus.WithError(err).Error("dropping malformed webhook task")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	resp, err := d.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(task.Payload()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		for key, value := range d.headers {
			req.Header.Set(key, value)
		}
		return req, nil
	})
	if err != nil {
		if finalAttempt(ctx) {
			notification.NotifyError(fmt.Errorf("webhook %s delivery failed: %w", hook.Event, err))
		}
		return err
	}
	if !resp.OK() {
		err := fmt.Errorf("webhook %s rejected with status %d", hook.Event, resp.StatusCode)
		if finalAttempt(ctx) {
			notification.NotifyError(err)
		}
		return err
	}

	logrus.WithField("event", hook.Event).Info("webhook delivered")
	return nil
}
