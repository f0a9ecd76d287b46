package truelayer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/blnkfinance/openbank/gateway"
	"github.com/blnkfinance/openbank/internal/apierror"
	"github.com/blnkfinance/openbank/internal/request"
	"github.com/blnkfinance/openbank/model"
	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T) (*Gateway, *httpmock.MockTransport) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	client := request.NewClient(request.Options{
		Timeout:         time.Second,
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		Transport:       mock,
	})
	g := New(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://app.example.com/callback",
		Sandbox:      true,
	}, client)
	return g, mock
}

func TestCreateConsent_BuildsAuthLink(t *testing.T) {
	g, mock := newTestGateway(t)

	resp, err := g.CreateConsent(context.Background(), gateway.ConsentRequest{
		ConsentID:   "con_123",
		Permissions: []model.Permission{model.PermissionReadAccountsDetail, model.PermissionReadBalances},
	})
	require.NoError(t, err)
	assert.Equal(t, model.ConsentAwaitingAuthorisation, resp.Status)
	assert.Equal(t, "con_123", resp.ProviderConsentID)
	assert.True(t, resp.ExpiresAt.IsZero())

	u, err := url.Parse(resp.AuthorisationURL)
	require.NoError(t, err)
	assert.Equal(t, "auth.truelayer-sandbox.com", u.Host)
	assert.Equal(t, "con_123", u.Query().Get("state"))
	assert.Equal(t, "info accounts balance offline_access", u.Query().Get("scope"))
	assert.Equal(t, "uk-cs-mock", u.Query().Get("providers"))
	assert.Equal(t, "https://app.example.com/callback", u.Query().Get("redirect_uri"))
	assert.Equal(t, 0, mock.GetTotalCallCount())
}

func TestCreateConsent_NotConfigured(t *testing.T) {
	g := New(Config{Sandbox: true}, request.NewClient(request.Options{}))
	_, err := g.CreateConsent(context.Background(), gateway.ConsentRequest{ConsentID: "con_1"})
	assert.Equal(t, apierror.ErrNotConfigured, apierror.CodeOf(err))
}

func TestGetConsent_NotSupported(t *testing.T) {
	g, _ := newTestGateway(t)
	_, err := g.GetConsent(context.Background(), "con_1")
	assert.True(t, errors.Is(err, gateway.ErrNotSupported))
}

func TestExchangeToken_Success(t *testing.T) {
	g, mock := newTestGateway(t)
	mock.RegisterResponder(http.MethodPost, "https://auth.truelayer-sandbox.com/connect/token",
		func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			form, _ := url.ParseQuery(string(body))
			assert.Equal(t, "authorization_code", form.Get("grant_type"))
			assert.Equal(t, "the-code", form.Get("code"))
			assert.Equal(t, "client-secret", form.Get("client_secret"))
			assert.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))
			return httpmock.NewJsonResponse(http.StatusOK, map[string]interface{}{
				"access_token":  "at-123",
				"refresh_token": "rt-456",
				"expires_in":    3600,
				"token_type":    "Bearer",
				"scope":         "info accounts offline_access",
			})
		})

	tok, err := g.ExchangeToken(context.Background(), gateway.TokenRequest{Code: "the-code", ConsentID: "con_1"})
	require.NoError(t, err)
	assert.Equal(t, "at-123", tok.AccessToken)
	assert.Equal(t, "rt-456", tok.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, 5*time.Second)
}

func TestExchangeToken_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   apierror.ErrorCode
	}{
		{"invalid grant", http.StatusBadRequest, `{"error":"invalid_grant"}`, apierror.ErrInvalidGrant},
		{"invalid client", http.StatusUnauthorized, `{"error":"invalid_client"}`, apierror.ErrNotConfigured},
		{"rate limited", http.StatusTooManyRequests, `{}`, apierror.ErrRateLimited},
		{"server error", http.StatusInternalServerError, `{}`, apierror.ErrProviderUnavailable},
		{"bad request", http.StatusBadRequest, `{"error":"invalid_request","error_description":"redirect_uri mismatch"}`, apierror.ErrProviderRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, mock := newTestGateway(t)
			mock.RegisterResponder(http.MethodPost, "https://auth.truelayer-sandbox.com/connect/token",
				httpmock.NewStringResponder(tt.status, tt.body))

			_, err := g.ExchangeToken(context.Background(), gateway.TokenRequest{Code: "c"})
			assert.Equal(t, tt.want, apierror.CodeOf(err))
		})
	}
}

func TestExchangeToken_TransportFailure(t *testing.T) {
	g, mock := newTestGateway(t)
	mock.RegisterResponder(http.MethodPost, "https://auth.truelayer-sandbox.com/connect/token",
		httpmock.NewErrorResponder(errors.New("dial tcp: connection refused")))

	_, err := g.ExchangeToken(context.Background(), gateway.TokenRequest{Code: "c"})
	assert.Equal(t, apierror.ErrProviderUnavailable, apierror.CodeOf(err))
	assert.True(t, apierror.IsRetryable(err))
	assert.Equal(t, 3, mock.GetTotalCallCount())
}

func TestListAccounts(t *testing.T) {
	g, mock := newTestGateway(t)
	mock.RegisterResponder(http.MethodGet, "https://api.truelayer-sandbox.com/data/v1/accounts",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer at-123", req.Header.Get("Authorization"))
			return httpmock.NewStringResponse(http.StatusOK, `{"results":[
				{"account_id":"acc-1","account_type":"TRANSACTION","display_name":"Current","currency":"GBP","account_number":{"number":"12345678","sort_code":"04-00-04"}},
				{"account_id":"acc-2","account_type":"SAVINGS","display_name":"Saver","currency":"GBP","account_number":{"number":"87654321","sort_code":"04-00-04"}}
			],"status":"Succeeded"}`), nil
		})
	mock.RegisterResponder(http.MethodGet, "https://api.truelayer-sandbox.com/data/v1/info",
		httpmock.NewStringResponder(http.StatusOK, `{"results":[{"full_name":"Waqar Ahmed"}]}`))

	accounts, err := g.ListAccounts(context.Background(), "at-123")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "acc-1", accounts[0].AccountID)
	assert.Equal(t, "Waqar Ahmed", accounts[0].AccountHolderName)
	assert.Equal(t, "12345678", accounts[0].AccountNumber)
	assert.Equal(t, "SAVINGS", accounts[1].AccountType)
}

func TestListAccounts_Empty(t *testing.T) {
	g, mock := newTestGateway(t)
	mock.RegisterResponder(http.MethodGet, "https://api.truelayer-sandbox.com/data/v1/accounts",
		httpmock.NewStringResponder(http.StatusOK, `{"results":[]}`))

	accounts, err := g.ListAccounts(context.Background(), "at-123")
	require.NoError(t, err)
	assert.Empty(t, accounts)
	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestListAccounts_InfoForbiddenLeavesNameEmpty(t *testing.T) {
	g, mock := newTestGateway(t)
	mock.RegisterResponder(http.MethodGet, "https://api.truelayer-sandbox.com/data/v1/accounts",
		httpmock.NewStringResponder(http.StatusOK, `{"results":[{"account_id":"acc-1"}]}`))
	mock.RegisterResponder(http.MethodGet, "https://api.truelayer-sandbox.com/data/v1/info",
		httpmock.NewStringResponder(http.StatusForbidden, `{"error":"insufficient_scope"}`))

	accounts, err := g.ListAccounts(context.Background(), "at-123")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Empty(t, accounts[0].AccountHolderName)
}

func TestListAccounts_ExpiredToken(t *testing.T) {
	g, mock := newTestGateway(t)
	mock.RegisterResponder(http.MethodGet, "https://api.truelayer-sandbox.com/data/v1/accounts",
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"error":"invalid_token"}`))

	_, err := g.ListAccounts(context.Background(), "stale")
	assert.Equal(t, apierror.ErrInvalidGrant, apierror.CodeOf(err))
	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestCreatePayment(t *testing.T) {
	g, mock := newTestGateway(t)
	mock.RegisterResponder(http.MethodPost, "https://api.truelayer-sandbox.com/v3/payments",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "idem-1", req.Header.Get("Idempotency-Key"))
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, float64(1050), body["amount_in_minor"])
			method := body["payment_method"].(map[string]interface{})
			ben := method["beneficiary"].(map[string]interface{})
			assert.Equal(t, "Acme Ltd", ben["account_holder_name"])
			assert.Equal(t, "INV-1", ben["reference"])
			return httpmock.NewStringResponse(http.StatusCreated, `{"id":"tl-pay-1","status":"authorization_required"}`), nil
		})

	resp, err := g.CreatePayment(context.Background(), "at-123", gateway.PaymentInstruction{
		PaymentID:       "pay_1",
		IdempotencyKey:  "idem-1",
		Amount:          decimal.RequireFromString("10.50"),
		Currency:        "GBP",
		DebtorAccountID: "acc-1",
		Creditor:        model.CreditorAccount{AccountNumber: "11112222", SortCode: "040004", AccountHolderName: "Acme Ltd"},
		Reference:       "INV-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "tl-pay-1", resp.ProviderPaymentID)
	assert.Equal(t, model.PaymentPending, resp.Status)
}

func TestCreatePayment_RejectedIsNotRetried(t *testing.T) {
	g, mock := newTestGateway(t)
	mock.RegisterResponder(http.MethodPost, "https://api.truelayer-sandbox.com/v3/payments",
		httpmock.NewStringResponder(http.StatusUnprocessableEntity, `{"title":"Invalid Parameters","detail":"sort code invalid"}`))

	_, err := g.CreatePayment(context.Background(), "at-123", gateway.PaymentInstruction{
		PaymentID: "pay_1", Amount: decimal.NewFromInt(1), Currency: "GBP", Reference: "r",
	})
	assert.Equal(t, apierror.ErrProviderRejected, apierror.CodeOf(err))
	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestGetPaymentStatus(t *testing.T) {
	g, mock := newTestGateway(t)
	mock.RegisterResponder(http.MethodGet, "https://api.truelayer-sandbox.com/v3/payments/tl-pay-1",
		httpmock.NewStringResponder(http.StatusOK, `{"id":"tl-pay-1","status":"settled"}`))

	resp, err := g.GetPaymentStatus(context.Background(), "at-123", "tl-pay-1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentSettled, resp.Status)
}

func TestMapPaymentStatus(t *testing.T) {
	assert.Equal(t, model.PaymentPending, mapPaymentStatus("authorizing", ""))
	assert.Equal(t, model.PaymentAccepted, mapPaymentStatus("executed", ""))
	assert.Equal(t, model.PaymentSettled, mapPaymentStatus("settled", ""))
	assert.Equal(t, model.PaymentRejected, mapPaymentStatus("failed", "provider_rejected"))
	assert.Equal(t, model.PaymentFailed, mapPaymentStatus("failed", "expired"))
	assert.Equal(t, model.PaymentPending, mapPaymentStatus("something_new", ""))
}
