package yapily

import (
	"context"
	"encoding/json"
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

const base = "https://yapily.test"

func newTestGateway() (*Gateway, *httpmock.MockTransport) {
	mock := httpmock.NewMockTransport()
	client := request.NewClient(request.Options{
		Timeout:         time.Second,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		Transport:       mock,
	})
	return New(Config{
		ApplicationKey:    "app-key",
		ApplicationSecret: "app-secret",
		RedirectURI:       "https://app.example.com/callback",
		BaseURL:           base,
	}, client), mock
}

func TestCreateConsent(t *testing.T) {
	g, mock := newTestGateway()
	mock.RegisterResponder(http.MethodPost, base+"/account-auth-requests",
		func(req *http.Request) (*http.Response, error) {
			user, pass, ok := req.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "app-key", user)
			assert.Equal(t, "app-secret", pass)

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "modelo-sandbox", body["institutionId"])
			cb, _ := url.Parse(body["callback"].(string))
			assert.Equal(t, "con_9", cb.Query().Get("consent_id"))
			scope := body["accountRequest"].(map[string]interface{})["featureScope"].([]interface{})
			assert.Equal(t, []interface{}{"ACCOUNT", "IDENTITY"}, scope)

			return httpmock.NewStringResponse(http.StatusCreated, `{"data":{"id":"yap-consent-1","status":"AWAITING_AUTHORIZATION","authorisationUrl":"https://bank.example/auth","expiresAt":"2030-01-01T00:00:00Z"}}`), nil
		})

	resp, err := g.CreateConsent(context.Background(), gateway.ConsentRequest{
		ConsentID:   "con_9",
		Permissions: []model.Permission{model.PermissionReadAccountsDetail, model.PermissionReadParty},
	})
	require.NoError(t, err)
	assert.Equal(t, "yap-consent-1", resp.ProviderConsentID)
	assert.Equal(t, "https://bank.example/auth", resp.AuthorisationURL)
	assert.Equal(t, model.ConsentAwaitingAuthorisation, resp.Status)
	assert.Equal(t, 2030, resp.ExpiresAt.Year())
}

func TestCreateConsent_MissingCredentials(t *testing.T) {
	g := New(Config{}, request.NewClient(request.Options{}))
	_, err := g.CreateConsent(context.Background(), gateway.ConsentRequest{ConsentID: "con_1"})
	assert.Equal(t, apierror.ErrNotConfigured, apierror.CodeOf(err))
}

func TestCreateConsent_BadCredentials(t *testing.T) {
	g, mock := newTestGateway()
	mock.RegisterResponder(http.MethodPost, base+"/account-auth-requests",
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"error":{"code":401,"status":"UNAUTHORIZED","message":"Invalid credentials"}}`))

	_, err := g.CreateConsent(context.Background(), gateway.ConsentRequest{ConsentID: "con_1"})
	assert.Equal(t, apierror.ErrNotConfigured, apierror.CodeOf(err))
}

func TestGetConsent(t *testing.T) {
	g, mock := newTestGateway()
	mock.RegisterResponder(http.MethodGet, base+"/consents/yap-consent-1",
		httpmock.NewStringResponder(http.StatusOK, `{"data":{"id":"yap-consent-1","status":"AUTHORIZED"}}`))

	resp, err := g.GetConsent(context.Background(), "yap-consent-1")
	require.NoError(t, err)
	assert.Equal(t, model.ConsentAuthorised, resp.Status)
}

func TestExchangeToken(t *testing.T) {
	g, mock := newTestGateway()
	mock.RegisterResponder(http.MethodPost, base+"/consent-auth-code",
		func(req *http.Request) (*http.Response, error) {
			var body map[string]string
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "auth-code", body["authCode"])
			assert.Equal(t, "yap-consent-1", body["authState"])
			return httpmock.NewStringResponse(http.StatusCreated, `{"data":{"id":"yap-consent-1","status":"AUTHORIZED","consentToken":"consent-token-xyz"}}`), nil
		})

	tok, err := g.ExchangeToken(context.Background(), gateway.TokenRequest{Code: "auth-code", ProviderConsentID: "yap-consent-1"})
	require.NoError(t, err)
	assert.Equal(t, "consent-token-xyz", tok.AccessToken)
	assert.True(t, tok.ExpiresAt.After(time.Now().AddDate(0, 0, 89)))
}

func TestExchangeToken_InvalidCode(t *testing.T) {
	g, mock := newTestGateway()
	mock.RegisterResponder(http.MethodPost, base+"/consent-auth-code",
		httpmock.NewStringResponder(http.StatusBadRequest, `{"error":{"code":400,"status":"BAD_REQUEST","message":"Invalid authorisation code"}}`))

	_, err := g.ExchangeToken(context.Background(), gateway.TokenRequest{Code: "used"})
	assert.Equal(t, apierror.ErrInvalidGrant, apierror.CodeOf(err))
	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestListAccounts(t *testing.T) {
	g, mock := newTestGateway()
	mock.RegisterResponder(http.MethodGet, base+"/accounts",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "consent-token-xyz", req.Header.Get("consent"))
			return httpmock.NewStringResponse(http.StatusOK, `{"data":[{
				"id":"yap-acc-1","type":"Personal - Current","currency":"GBP","nickname":"Main",
				"accountNames":[{"name":"Waqar Ahmed"}],
				"accountIdentifications":[{"type":"SORT_CODE","identification":"040004"},{"type":"ACCOUNT_NUMBER","identification":"12345678"}]
			}]}`), nil
		})

	accounts, err := g.ListAccounts(context.Background(), "consent-token-xyz")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, model.Account{
		AccountID:         "yap-acc-1",
		AccountHolderName: "Waqar Ahmed",
		AccountNumber:     "12345678",
		SortCode:          "040004",
		Currency:          "GBP",
		AccountType:       "Personal - Current",
		DisplayName:       "Main",
	}, accounts[0])
}

func TestListAccounts_ForbiddenMapsToInvalidGrant(t *testing.T) {
	g, mock := newTestGateway()
	mock.RegisterResponder(http.MethodGet, base+"/accounts",
		httpmock.NewStringResponder(http.StatusForbidden, `{"error":{"status":"FORBIDDEN","message":"consent revoked"}}`))

	_, err := g.ListAccounts(context.Background(), "revoked")
	assert.Equal(t, apierror.ErrInvalidGrant, apierror.CodeOf(err))
}

func TestCreateAndQueryPayment(t *testing.T) {
	g, mock := newTestGateway()
	mock.RegisterResponder(http.MethodPost, base+"/payments",
		func(req *http.Request) (*http.Response, error) {
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "idem-7", body["paymentIdempotencyId"])
			assert.Equal(t, 25.5, body["amount"].(map[string]interface{})["amount"])
			return httpmock.NewStringResponse(http.StatusCreated, `{"data":{"id":"yap-pay-1","status":"PENDING"}}`), nil
		})
	mock.RegisterResponder(http.MethodGet, base+"/payments/yap-pay-1/details",
		httpmock.NewStringResponder(http.StatusOK, `{"data":{"payments":[{"id":"yap-pay-1","status":"COMPLETED"}]}}`))

	created, err := g.CreatePayment(context.Background(), "consent-token", gateway.PaymentInstruction{
		PaymentID:      "pay_1",
		IdempotencyKey: "idem-7",
		Amount:         decimal.RequireFromString("25.50"),
		Currency:       "GBP",
		Reference:      "INV-7",
		Creditor:       model.CreditorAccount{AccountNumber: "11112222", SortCode: "040004", AccountHolderName: "Acme Ltd"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, created.Status)

	status, err := g.GetPaymentStatus(context.Background(), "consent-token", "yap-pay-1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentSettled, status.Status)
}

func TestMapStatuses(t *testing.T) {
	assert.Equal(t, model.ConsentRejected, mapConsentStatus("FAILED"))
	assert.Equal(t, model.ConsentExpired, mapConsentStatus("EXPIRED"))
	assert.Equal(t, model.ConsentAwaitingAuthorisation, mapConsentStatus("AWAITING_AUTHORIZATION"))
	assert.Equal(t, model.PaymentRejected, mapPaymentStatus("DECLINED"))
	assert.Equal(t, model.PaymentFailed, mapPaymentStatus("FAILED"))
	assert.Equal(t, model.PaymentPending, mapPaymentStatus(""))
}
