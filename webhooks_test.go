package openbank

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/blnkfinance/openbank/config"
	"github.com/blnkfinance/openbank/internal/request"
	"github.com/blnkfinance/openbank/model"
	"github.com/hibiken/asynq"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hookURL = "https://hooks.shop.test/openbank"

func webhookConfig(redisAddr string) *config.Configuration {
	cfg := testConfig()
	cfg.Redis.Dns = redisAddr
	cfg.Queue.WebhookQueue = config.DEFAULT_WEBHOOK_QUEUE
	cfg.Queue.MaxRetryAttempts = 3
	cfg.Notification.Webhook.Url = hookURL
	cfg.Notification.Webhook.Headers = map[string]string{"X-Shop-Signature": "secret"}
	return cfg
}

func TestWebhookQueue_Notify(t *testing.T) {
	mr := miniredis.RunT(t)
	queue, err := NewWebhookQueue(webhookConfig(mr.Addr()))
	require.NoError(t, err)
	defer queue.Close()

	err = queue.Notify(context.Background(), EventPaymentCreated, model.Payment{PaymentID: "pay_1"})
	assert.NoError(t, err)
	assert.NotEmpty(t, mr.Keys())
}

func TestWebhookQueue_DisabledWithoutURL(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := webhookConfig(mr.Addr())
	cfg.Notification.Webhook.Url = ""
	queue, err := NewWebhookQueue(cfg)
	require.NoError(t, err)
	defer queue.Close()

	assert.NoError(t, queue.Notify(context.Background(), EventPaymentCreated, model.Payment{}))
	assert.Empty(t, mr.Keys())
}

func newDeliverer(t *testing.T, mock *httpmock.MockTransport) *WebhookDeliverer {
	t.Helper()
	client := request.NewClient(request.Options{
		Timeout:         time.Second,
		MaxAttempts:     1,
		InitialInterval: time.Millisecond,
		Transport:       mock,
	})
	return NewWebhookDeliverer(webhookConfig("127.0.0.1:0"), client)
}

func webhookTask(t *testing.T, event string) *asynq.Task {
	t.Helper()
	body, err := json.Marshal(Webhook{Event: event, Payload: json.RawMessage(`{"paymentId":"pay_1"}`), SentAt: time.Now()})
	require.NoError(t, err)
	return asynq.NewTask(config.DEFAULT_WEBHOOK_QUEUE, body)
}

func TestProcessWebhook(t *testing.T) {
	mock := httpmock.NewMockTransport()
	var received Webhook
	mock.RegisterResponder(http.MethodPost, hookURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "secret", req.Header.Get("X-Shop-Signature"))
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		body, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(body, &received)
		return httpmock.NewStringResponse(http.StatusOK, `{}`), nil
	})

	err := newDeliverer(t, mock).ProcessWebhook(context.Background(), webhookTask(t, EventPaymentCreated))
	require.NoError(t, err)
	assert.Equal(t, EventPaymentCreated, received.Event)
	assert.JSONEq(t, `{"paymentId":"pay_1"}`, string(received.Payload))
}

func TestProcessWebhook_RejectedIsRetried(t *testing.T) {
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodPost, hookURL, httpmock.NewStringResponder(http.StatusInternalServerError, `oops`))

	err := newDeliverer(t, mock).ProcessWebhook(context.Background(), webhookTask(t, EventConsentAuthorised))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestProcessWebhook_MalformedTaskIsSkipped(t *testing.T) {
	mock := httpmock.NewMockTransport()

	err := newDeliverer(t, mock).ProcessWebhook(context.Background(), asynq.NewTask(config.DEFAULT_WEBHOOK_QUEUE, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Zero(t, mock.GetTotalCallCount())
}

func TestEventForConsentStatus(t *testing.T) {
	assert.Equal(t, EventConsentAuthorised, eventForConsentStatus(model.ConsentAuthorised))
	assert.Equal(t, EventConsentRejected, eventForConsentStatus(model.ConsentRejected))
	assert.Equal(t, EventConsentExpired, eventForConsentStatus(model.ConsentExpired))
	assert.Empty(t, eventForConsentStatus(model.ConsentRevoked))
}
