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

// Package yapily talks to the Yapily consent, account and payment APIs.
// Application calls use basic auth with the application key and secret;
// customer calls additionally carry the consent token in the "consent" header.
package yapily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blnkfinance/openbank/gateway"
	"github.com/blnkfinance/openbank/internal/apierror"
	"github.com/blnkfinance/openbank/internal/request"
	"github.com/blnkfinance/openbank/model"
)

const (
	ProviderID = "yapily"

	defaultBaseURL        = "https://api.yapily.com"
	defaultSandboxInst    = "modelo-sandbox"
	defaultConsentTTLDays = 90
)

type Config struct {
	ApplicationKey    string
	ApplicationSecret string
	RedirectURI       string
	BaseURL           string
	InstitutionID     string
}

type Gateway struct {
	cfg    Config
	client *request.Client
}

func New(cfg Config, client *request.Client) *Gateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.InstitutionID == "" {
		cfg.InstitutionID = defaultSandboxInst
	}
	return &Gateway{cfg: cfg, client: client}
}

func (g *Gateway) ID() string {
	return ProviderID
}

var featureFor = map[model.Permission]string{
	model.PermissionReadAccountsBasic:      "ACCOUNTS",
	model.PermissionReadAccountsDetail:     "ACCOUNT",
	model.PermissionReadBalances:           "ACCOUNT_BALANCES",
	model.PermissionReadTransactionsDetail: "ACCOUNT_TRANSACTIONS",
	model.PermissionReadParty:              "IDENTITY",
	model.PermissionInitiatePayments:       "INITIATE_DOMESTIC_SINGLE_PAYMENT",
}

func featureScope(perms []model.Permission) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range perms {
		if f, ok := featureFor[p]; ok && !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

type consentData struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	AuthorisationURL string `json:"authorisationUrl"`
	ExpiresAt        string `json:"expiresAt"`
	ConsentToken     string `json:"consentToken"`
}

type envelope[T any] struct {
	Data T `json:"data"`
}

func (g *Gateway) CreateConsent(ctx context.Context, req gateway.ConsentRequest) (*gateway.ConsentResponse, error) {
	if g.cfg.ApplicationKey == "" || g.cfg.ApplicationSecret == "" {
		return nil, apierror.NewAPIError(apierror.ErrNotConfigured, "yapily application credentials are not configured", nil)
	}
	redirect := req.RedirectURI
	if redirect == "" {
		redirect = g.cfg.RedirectURI
	}
	callback, err := withConsentID(redirect, req.ConsentID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidRequest, "redirect uri is not a valid url", nil)
	}

	institution := req.InstitutionID
	if institution == "" {
		institution = g.cfg.InstitutionID
	}
	userID := req.UserID
	if userID == "" {
		userID = req.ConsentID
	}

	body := map[string]interface{}{
		"applicationUserId": userID,
		"institutionId":     institution,
		"callback":          callback,
		"accountRequest":    map[string]interface{}{"featureScope": featureScope(req.Permissions)},
	}

	var out envelope[consentData]
	if err := g.send(ctx, http.MethodPost, "/account-auth-requests", "", gateway.CallApp, body, &out); err != nil {
		return nil, err
	}
	return toConsentResponse(out.Data), nil
}

func (g *Gateway) GetConsent(ctx context.Context, providerConsentID string) (*gateway.ConsentResponse, error) {
	var out envelope[consentData]
	if err := g.send(ctx, http.MethodGet, "/consents/"+url.PathEscape(providerConsentID), "", gateway.CallApp, nil, &out); err != nil {
		return nil, err
	}
	return toConsentResponse(out.Data), nil
}

func (g *Gateway) ExchangeToken(ctx context.Context, req gateway.TokenRequest) (*gateway.TokenResponse, error) {
	body := map[string]string{
		"authCode":  req.Code,
		"authState": req.ProviderConsentID,
	}

	var out envelope[consentData]
	if err := g.send(ctx, http.MethodPost, "/consent-auth-code", "", gateway.CallToken, body, &out); err != nil {
		return nil, err
	}
	if out.Data.ConsentToken == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidGrant, "provider returned no consent token", nil)
	}

	expiresAt := parseTime(out.Data.ExpiresAt)
	if expiresAt.IsZero() {
		expiresAt = time.Now().AddDate(0, 0, defaultConsentTTLDays)
	}
	return &gateway.TokenResponse{
		AccessToken: out.Data.ConsentToken,
		TokenType:   "consent",
		ExpiresAt:   expiresAt,
	}, nil
}

type accountData struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Currency     string `json:"currency"`
	Nickname     string `json:"nickname"`
	AccountNames []struct {
		Name string `json:"name"`
	} `json:"accountNames"`
	AccountIdentifications []struct {
		Type           string `json:"type"`
		Identification string `json:"identification"`
	} `json:"accountIdentifications"`
}

func (g *Gateway) ListAccounts(ctx context.Context, accessToken string) ([]model.Account, error) {
	var out envelope[[]accountData]
	if err := g.send(ctx, http.MethodGet, "/accounts", accessToken, gateway.CallData, nil, &out); err != nil {
		return nil, err
	}

	accounts := make([]model.Account, 0, len(out.Data))
	for _, a := range out.Data {
		acc := model.Account{
			AccountID:   a.ID,
			Currency:    a.Currency,
			AccountType: a.Type,
			DisplayName: a.Nickname,
		}
		if len(a.AccountNames) > 0 {
			acc.AccountHolderName = a.AccountNames[0].Name
		}
		for _, id := range a.AccountIdentifications {
			switch id.Type {
			case "SORT_CODE":
				acc.SortCode = id.Identification
			case "ACCOUNT_NUMBER":
				acc.AccountNumber = id.Identification
			}
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

type paymentData struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	StatusDetails struct {
		Status       string `json:"status"`
		StatusReason string `json:"statusReason"`
	} `json:"statusDetails"`
}

func (g *Gateway) CreatePayment(ctx context.Context, accessToken string, in gateway.PaymentInstruction) (*gateway.PaymentResponse, error) {
	idempotencyID := in.IdempotencyKey
	if idempotencyID == "" {
		idempotencyID = in.PaymentID
	}
	amount, _ := in.Amount.Float64()

	body := map[string]interface{}{
		"type":                 "DOMESTIC_PAYMENT",
		"paymentIdempotencyId": idempotencyID,
		"reference":            in.Reference,
		"amount": map[string]interface{}{
			"amount":   amount,
			"currency": in.Currency,
		},
		"payee": map[string]interface{}{
			"name": in.Creditor.AccountHolderName,
			"accountIdentifications": []map[string]string{
				{"type": "SORT_CODE", "identification": in.Creditor.SortCode},
				{"type": "ACCOUNT_NUMBER", "identification": in.Creditor.AccountNumber},
			},
		},
	}

	var out envelope[paymentData]
	if err := g.send(ctx, http.MethodPost, "/payments", accessToken, gateway.CallData, body, &out); err != nil {
		return nil, err
	}
	return toPaymentResponse(out.Data), nil
}

func (g *Gateway) GetPaymentStatus(ctx context.Context, accessToken, providerPaymentID string) (*gateway.PaymentResponse, error) {
	var out envelope[struct {
		Payments []paymentData `json:"payments"`
	}]
	path := fmt.Sprintf("/payments/%s/details", url.PathEscape(providerPaymentID))
	if err := g.send(ctx, http.MethodGet, path, accessToken, gateway.CallData, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Data.Payments) == 0 {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "payment not found at provider", nil)
	}
	return toPaymentResponse(out.Data.Payments[0]), nil
}

func (g *Gateway) send(ctx context.Context, method, path, consentToken string, kind gateway.CallKind, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}
	auth := "Basic " + request.BasicAuth(g.cfg.ApplicationKey, g.cfg.ApplicationSecret)

	return gateway.Call(ctx, g.client, ProviderID, kind, parseError, func(ctx context.Context) (*http.Request, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		r, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, reader)
		if err != nil {
			return nil, err
		}
		r.Header.Set("Authorization", auth)
		r.Header.Set("Accept", "application/json")
		if payload != nil {
			r.Header.Set("Content-Type", "application/json")
		}
		if consentToken != "" {
			r.Header.Set("consent", consentToken)
		}
		return r, nil
	}, out)
}

func withConsentID(redirect, consentID string) (string, error) {
	u, err := url.Parse(redirect)
	if err != nil || u.Scheme == "" {
		return "", fmt.Errorf("invalid redirect %q", redirect)
	}
	q := u.Query()
	q.Set("consent_id", consentID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func toConsentResponse(d consentData) *gateway.ConsentResponse {
	return &gateway.ConsentResponse{
		ProviderConsentID: d.ID,
		AuthorisationURL:  d.AuthorisationURL,
		Status:            mapConsentStatus(d.Status),
		ExpiresAt:         parseTime(d.ExpiresAt),
	}
}

func toPaymentResponse(d paymentData) *gateway.PaymentResponse {
	status := d.Status
	if status == "" {
		status = d.StatusDetails.Status
	}
	return &gateway.PaymentResponse{
		ProviderPaymentID: d.ID,
		Status:            mapPaymentStatus(status),
		FailureReason:     d.StatusDetails.StatusReason,
	}
}

func mapConsentStatus(s string) model.ConsentStatus {
	switch strings.ToUpper(s) {
	case "AUTHORIZED":
		return model.ConsentAuthorised
	case "REJECTED", "FAILED":
		return model.ConsentRejected
	case "REVOKED":
		return model.ConsentRevoked
	case "EXPIRED":
		return model.ConsentExpired
	default:
		return model.ConsentAwaitingAuthorisation
	}
}

func mapPaymentStatus(s string) model.PaymentStatus {
	switch strings.ToUpper(s) {
	case "COMPLETED":
		return model.PaymentSettled
	case "ACCEPTED", "AUTHORISED", "AUTHORIZED":
		return model.PaymentAccepted
	case "FAILED":
		return model.PaymentFailed
	case "DECLINED", "REJECTED":
		return model.PaymentRejected
	default:
		return model.PaymentPending
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseError(body []byte) gateway.ProviderError {
	var raw struct {
		Error struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return gateway.ProviderError{}
	}
	return gateway.ProviderError{Code: raw.Error.Status, Message: raw.Error.Message}
}
