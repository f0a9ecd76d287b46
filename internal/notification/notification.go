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

package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/blnkfinance/openbank/config"
	"github.com/blnkfinance/openbank/internal/request"
	"github.com/sirupsen/logrus"
)

// SlackNotifier posts operational errors to a Slack incoming webhook.
type SlackNotifier struct {
	client     *request.Client
	webhookURL string
}

func NewSlackNotifier(webhookURL string, client *request.Client) *SlackNotifier {
	if client == nil {
		client = request.NewClient(request.Options{Timeout: 10 * time.Second, MaxAttempts: 2})
	}
	return &SlackNotifier{client: client, webhookURL: webhookURL}
}

func slackMessage(err error, at time.Time) ([]byte, error) {
	field := func(text string) map[string]interface{} {
		return map[string]interface{}{
			"type":   "section",
			"fields": []map[string]string{{"type": "mrkdwn", "text": text}},
		}
	}
	return json.Marshal(map[string]interface{}{
		"blocks": []interface{}{
			map[string]interface{}{
				"type": "header",
				"text": map[string]interface{}{"type": "plain_text", "text": "Error From Openbank 🐞", "emoji": true},
			},
			field(fmt.Sprintf("*Error:*\n%v", err)),
			field(fmt.Sprintf("*Time:*\n%v", at.Format(time.RFC822))),
		},
	})
}

// Send posts err to Slack. A notifier without a URL does nothing.
func (s *SlackNotifier) Send(ctx context.Context, systemError error) error {
	if s.webhookURL == "" {
		return nil
	}
	body, err := slackMessage(systemError, time.Now())
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("slack rejected notification with status %d", resp.StatusCode)
	}
	return nil
}

var (
	clientMu sync.RWMutex
	client   *request.Client
)

// UseClient sets the client NotifyError posts with. nil restores the default.
func UseClient(c *request.Client) {
	clientMu.Lock()
	defer clientMu.Unlock()
	client = c
}

func currentClient() *request.Client {
	clientMu.RLock()
	defer clientMu.RUnlock()
	return client
}

// NotifyError logs the error and, when Slack is configured, reports it
// there without blocking the caller.
func NotifyError(systemError error) {
	go NotifyErrorAndWait(systemError)
}

// NotifyErrorAndWait is NotifyError for callers about to exit.
func NotifyErrorAndWait(systemError error) {
	logrus.Error(systemError)

	conf, err := config.Fetch()
	if err != nil {
		logrus.Debug(err)
		return
	}
	if conf.Notification.Slack.WebhookUrl == "" {
		return
	}
	if err := NewSlackNotifier(conf.Notification.Slack.WebhookUrl, currentClient()).Send(context.Background(), systemError); err != nil {
		logrus.WithError(err).Warn("failed to send slack notification")
	}
}
