package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/blnkfinance/openbank"
	"github.com/blnkfinance/openbank/api/middleware"
	model2 "github.com/blnkfinance/openbank/api/model"
	"github.com/blnkfinance/openbank/config"
	"github.com/blnkfinance/openbank/database"
	"github.com/blnkfinance/openbank/gateway"
	"github.com/blnkfinance/openbank/gateway/sandbox"
	"github.com/blnkfinance/openbank/internal/request"
	"github.com/blnkfinance/openbank/model"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-api-key"

type TestRequest struct {
	Payload  io.Reader
	Router   *gin.Engine
	Response interface{}
	Method   string
	Route    string
	Header   map[string]string
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorBody      `json:"error"`
}

func SetUpTestRequest(s TestRequest) *httptest.ResponseRecorder {
	req := httptest.NewRequest(s.Method, s.Route, s.Payload)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.KeyHeader, testKey)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)
	if s.Response != nil {
		_ = json.Unmarshal(resp.Body.Bytes(), s.Response)
	}
	return resp
}

func setupRouter(t *testing.T, opts ...sandbox.Option) (*gin.Engine, *openbank.OpenBank) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cnf := &config.Configuration{
		ProjectName: "openbank-test",
		Server:      config.ServerConfig{Secure: true},
		OpenBanking: config.OpenBankingConfig{
			APIKey:              testKey,
			Mode:                config.ModeSandbox,
			DefaultProvider:     sandbox.ProviderID,
			RedirectURI:         "https://shop.test/callback",
			CallbackLandingURL:  "https://shop.test/done",
			ConsentValidityDays: 90,
			NameMatchThreshold:  70,
			TokenEncryptionKey:  "api-test-key",
		},
		Creditor: config.CreditorConfig{AccountNumber: "55779911", SortCode: "200000", AccountHolderName: "Acme Payments Ltd"},
	}
	ob, err := openbank.NewOpenBank(cnf, database.NewMemoryDataSource(), gateway.NewRegistry(sandbox.New(opts...)), client)
	require.NoError(t, err)
	return NewAPI(ob).Router(), ob
}

func createConsent(t *testing.T, router *gin.Engine) model.Consent {
	t.Helper()
	payload, _ := request.ToJsonReq(model2.CreateConsent{Permissions: []model.Permission{model.PermissionReadAccountsBasic, model.PermissionInitiatePayments}})
	var resp envelope
	w := SetUpTestRequest(TestRequest{Payload: payload, Router: router, Response: &resp, Method: http.MethodPost, Route: "/consent"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var consent model.Consent
	require.NoError(t, json.Unmarshal(resp.Data, &consent))
	return consent
}

func authorise(t *testing.T, ob *openbank.OpenBank, consentID string) string {
	t.Helper()
	token, err := ob.ExchangeToken(context.Background(), sandbox.CodeFor(consentID), consentID)
	require.NoError(t, err)
	return token.Token
}

func TestHealth(t *testing.T) {
	router, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sandbox"`)
}

func TestAuthRequired(t *testing.T) {
	router, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/consent?consentId=con_1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateConsent(t *testing.T) {
	router, _ := setupRouter(t)

	tests := []struct {
		name         string
		payload      model2.CreateConsent
		expectedCode int
		errorCode    string
	}{
		{"Valid", model2.CreateConsent{Permissions: []model.Permission{model.PermissionReadAccountsBasic}}, http.StatusCreated, ""},
		{"MissingPermissions", model2.CreateConsent{}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"UnknownPermission", model2.CreateConsent{Permissions: []model.Permission{"ReadMinds"}}, http.StatusBadRequest, "INVALID_PERMISSION_SET"},
		{"RelativeRedirect", model2.CreateConsent{Permissions: []model.Permission{model.PermissionReadAccountsBasic}, RedirectURI: "/back"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"UnknownProvider", model2.CreateConsent{Permissions: []model.Permission{model.PermissionReadAccountsBasic}, ProviderID: "nobank"}, http.StatusBadRequest, "INVALID_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, _ := request.ToJsonReq(&tt.payload)
			var resp envelope
			w := SetUpTestRequest(TestRequest{Payload: payload, Router: router, Response: &resp, Method: http.MethodPost, Route: "/consent"})
			assert.Equal(t, tt.expectedCode, w.Code)
			assert.Equal(t, tt.errorCode == "", resp.Success)
			if tt.errorCode != "" {
				require.NotNil(t, resp.Error)
				assert.Equal(t, tt.errorCode, string(resp.Error.Code))
			}
		})
	}
}

func TestGetConsent(t *testing.T) {
	router, _ := setupRouter(t)
	consent := createConsent(t, router)

	var resp envelope
	w := SetUpTestRequest(TestRequest{Router: router, Response: &resp, Method: http.MethodGet, Route: "/consent?consentId=" + consent.ConsentID})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(resp.Data), string(model.ConsentAwaitingAuthorisation))

	w = SetUpTestRequest(TestRequest{Router: router, Method: http.MethodGet, Route: "/consent"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = SetUpTestRequest(TestRequest{Router: router, Method: http.MethodGet, Route: "/consent?consentId=con_missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRevokeConsent(t *testing.T) {
	router, _ := setupRouter(t)
	consent := createConsent(t, router)

	var resp envelope
	w := SetUpTestRequest(TestRequest{Router: router, Response: &resp, Method: http.MethodDelete, Route: "/consent/" + consent.ConsentID})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(resp.Data), string(model.ConsentRevoked))

	w = SetUpTestRequest(TestRequest{Router: router, Method: http.MethodPost, Route: "/consent/" + consent.ConsentID + "/refresh"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCallback(t *testing.T) {
	router, _ := setupRouter(t)
	consent := createConsent(t, router)

	q := url.Values{"code": {sandbox.CodeFor(consent.ConsentID)}, "state": {consent.ConsentID}}
	req := httptest.NewRequest(http.MethodGet, "/callback?"+q.Encode(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusFound, w.Code)
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "success", location.Query().Get("status"))

	// replaying the same code is rejected and still redirects
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/callback?"+q.Encode(), nil))
	require.Equal(t, http.StatusFound, w.Code)
	location, _ = url.Parse(w.Header().Get("Location"))
	assert.Equal(t, "error", location.Query().Get("status"))
	assert.Equal(t, "code_already_used", location.Query().Get("error"))
}

func TestExchangeToken(t *testing.T) {
	router, _ := setupRouter(t)
	consent := createConsent(t, router)

	payload, _ := request.ToJsonReq(model2.ExchangeToken{Code: sandbox.CodeFor(consent.ConsentID), ConsentID: consent.ConsentID})
	var resp envelope
	w := SetUpTestRequest(TestRequest{Payload: payload, Router: router, Response: &resp, Method: http.MethodPost, Route: "/token"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(resp.Data), "accessToken")

	payload, _ = request.ToJsonReq(model2.ExchangeToken{Code: sandbox.CodeFor(consent.ConsentID), ConsentID: consent.ConsentID})
	w = SetUpTestRequest(TestRequest{Payload: payload, Router: router, Response: &resp, Method: http.MethodPost, Route: "/token"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CODE_ALREADY_USED", string(resp.Error.Code))
}

func TestListAccounts(t *testing.T) {
	router, ob := setupRouter(t)
	token := authorise(t, ob, createConsent(t, router).ConsentID)

	var resp envelope
	w := SetUpTestRequest(TestRequest{Router: router, Response: &resp, Method: http.MethodGet, Route: "/accounts?accessToken=" + token})
	assert.Equal(t, http.StatusOK, w.Code)

	var data struct {
		Accounts []model.Account `json:"accounts"`
		Primary  model.Account   `json:"primary"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Len(t, data.Accounts, 2)
	assert.Equal(t, "sbx-acc-001", data.Primary.AccountID)
}

func TestListAccounts_Empty(t *testing.T) {
	router, ob := setupRouter(t, sandbox.WithAccounts([]model.Account{}))
	token := authorise(t, ob, createConsent(t, router).ConsentID)

	var resp envelope
	w := SetUpTestRequest(TestRequest{Router: router, Response: &resp, Method: http.MethodGet, Route: "/accounts?accessToken=" + token})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "NO_ACCOUNTS_FOUND", string(resp.Error.Code))
	assert.False(t, resp.Error.Retryable)
}

func TestVerifyAccount(t *testing.T) {
	router, ob := setupRouter(t)
	token := authorise(t, ob, createConsent(t, router).ConsentID)

	tests := []struct {
		name         string
		payload      model2.VerifyAccount
		expectedCode int
	}{
		{"Match", model2.VerifyAccount{AccessToken: token, ExpectedName: "Waqar Ahmed"}, http.StatusOK},
		{"MissingName", model2.VerifyAccount{AccessToken: token}, http.StatusBadRequest},
		{"MissingToken", model2.VerifyAccount{ExpectedName: "Waqar Ahmed"}, http.StatusBadRequest},
		{"UnknownAccount", model2.VerifyAccount{AccessToken: token, AccountID: "nope", ExpectedName: "Waqar Ahmed"}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, _ := request.ToJsonReq(&tt.payload)
			w := SetUpTestRequest(TestRequest{Payload: payload, Router: router, Method: http.MethodPost, Route: "/verify-account"})
			assert.Equal(t, tt.expectedCode, w.Code, w.Body.String())
		})
	}
}

func TestPayments(t *testing.T) {
	router, ob := setupRouter(t)
	token := authorise(t, ob, createConsent(t, router).ConsentID)
	key := gofakeit.UUID()

	body := model2.CreatePayment{
		AccessToken:     token,
		Amount:          decimal.RequireFromString("12.34"),
		Currency:        "GBP",
		DebtorAccountID: "sbx-acc-001",
		Reference:       "Order " + gofakeit.Numerify("###"),
	}

	var first, second envelope
	payload, _ := request.ToJsonReq(&body)
	w := SetUpTestRequest(TestRequest{Payload: payload, Router: router, Response: &first, Method: http.MethodPost, Route: "/payments", Header: map[string]string{"Idempotency-Key": key}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	payload, _ = request.ToJsonReq(&body)
	w = SetUpTestRequest(TestRequest{Payload: payload, Router: router, Response: &second, Method: http.MethodPost, Route: "/payments", Header: map[string]string{"Idempotency-Key": key}})
	require.Equal(t, http.StatusCreated, w.Code)

	var p1, p2 model.Payment
	require.NoError(t, json.Unmarshal(first.Data, &p1))
	require.NoError(t, json.Unmarshal(second.Data, &p2))
	assert.Equal(t, p1.PaymentID, p2.PaymentID)
	assert.Equal(t, "Acme Payments Ltd", p1.CreditorAccount.AccountHolderName)

	var status envelope
	w = SetUpTestRequest(TestRequest{Router: router, Response: &status, Method: http.MethodGet, Route: "/payments?paymentId=" + p1.PaymentID + "&accessToken=" + token})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(status.Data), string(model.PaymentAccepted))

	w = SetUpTestRequest(TestRequest{Router: router, Method: http.MethodGet, Route: "/payments?paymentId=" + p1.PaymentID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPayments_ZeroAmount(t *testing.T) {
	router, ob := setupRouter(t)
	token := authorise(t, ob, createConsent(t, router).ConsentID)

	payload, _ := request.ToJsonReq(model2.CreatePayment{
		AccessToken:     token,
		Amount:          decimal.Zero,
		Currency:        "GBP",
		DebtorAccountID: "sbx-acc-001",
		Reference:       "Nothing",
	})
	var resp envelope
	w := SetUpTestRequest(TestRequest{Payload: payload, Router: router, Response: &resp, Method: http.MethodPost, Route: "/payments"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_PAYMENT_REQUEST", string(resp.Error.Code))
}

func TestNoRoute(t *testing.T) {
	router, _ := setupRouter(t)

	var resp envelope
	w := SetUpTestRequest(TestRequest{Router: router, Response: &resp, Method: http.MethodGet, Route: "/ledgers"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, resp.Success)
}
