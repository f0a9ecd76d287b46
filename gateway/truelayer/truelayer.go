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

// Package truelayer talks to the TrueLayer Data and Payments APIs.
package truelayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blnkfinance/openbank/gateway"
	"github.com/blnkfinance/openbank/internal/apierror"
	"github.com/blnkfinance/openbank/internal/request"
	"github.com/blnkfinance/openbank/model"
	"github.com/sirupsen/logrus"
)

const (
	ProviderID = "truelayer"

	liveAuthURL    = "https://auth.truelayer.com"
	liveAPIURL     = "https://api.truelayer.com"
	sandboxAuthURL = "https://auth.truelayer-sandbox.com"
	sandboxAPIURL  = "https://api.truelayer-sandbox.com"

	liveProviders    = "uk-ob-all uk-oauth-all"
	sandboxProviders = "uk-cs-mock"
)

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Sandbox      bool
	AuthURL      string
	APIURL       string
}

type Gateway struct {
	cfg    Config
	client *request.Client
}

func New(cfg Config, client *request.Client) *Gateway {
	if cfg.AuthURL == "" {
		cfg.AuthURL = liveAuthURL
		if cfg.Sandbox {
			cfg.AuthURL = sandboxAuthURL
		}
	}
	if cfg.APIURL == "" {
		cfg.APIURL = liveAPIURL
		if cfg.Sandbox {
			cfg.APIURL = sandboxAPIURL
		}
	}
	cfg.AuthURL = strings.TrimRight(cfg.AuthURL, "/")
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &Gateway{cfg: cfg, client: client}
}

func (g *Gateway) ID() string {
	return ProviderID
}

var scopeFor = map[model.Permission]string{
	model.PermissionReadAccountsBasic:      "accounts",
	model.PermissionReadAccountsDetail:     "accounts",
	model.PermissionReadBalances:           "balance",
	model.PermissionReadTransactionsDetail: "transactions",
	model.PermissionReadParty:              "info",
	model.PermissionInitiatePayments:       "payments",
}

func scopes(perms []model.Permission) string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	// info carries the account holder name used for verification.
	add("info")
	for _, p := range perms {
		if s, ok := scopeFor[p]; ok {
			add(s)
		}
	}
	add("offline_access")
	return strings.Join(out, " ")
}

// CreateConsent builds the auth link locally. TrueLayer has no consent
// resource for data access; the consent ID travels as the OAuth state.
func (g *Gateway) CreateConsent(_ context.Context, req gateway.ConsentRequest) (*gateway.ConsentResponse, error) {
	if g.cfg.ClientID == "" {
		return nil, apierror.NewAPIError(apierror.ErrNotConfigured, "truelayer client id is not configured", nil)
	}
	redirect := req.RedirectURI
	if redirect == "" {
		redirect = g.cfg.RedirectURI
	}

	providers := liveProviders
	if g.cfg.Sandbox {
		providers = sandboxProviders
	}

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", g.cfg.ClientID)
	q.Set("scope", scopes(req.Permissions))
	q.Set("redirect_uri", redirect)
	q.Set("providers", providers)
	q.Set("state", req.ConsentID)

	return &gateway.ConsentResponse{
		ProviderConsentID: req.ConsentID,
		AuthorisationURL:  g.cfg.AuthURL + "/?" + q.Encode(),
		Status:            model.ConsentAwaitingAuthorisation,
	}, nil
}

func (g *Gateway) GetConsent(_ context.Context, _ string) (*gateway.ConsentResponse, error) {
	return nil, gateway.ErrNotSupported
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

func (g *Gateway) ExchangeToken(ctx context.Context, req gateway.TokenRequest) (*gateway.TokenResponse, error) {
	redirect := req.RedirectURI
	if redirect == "" {
		redirect = g.cfg.RedirectURI
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", g.cfg.ClientID)
	form.Set("client_secret", g.cfg.ClientSecret)
	form.Set("redirect_uri", redirect)
	form.Set("code", req.Code)
	encoded := form.Encode()

	var out tokenResponse
	err := gateway.Call(ctx, g.client, ProviderID, gateway.CallToken, parseError, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.AuthURL+"/connect/token", strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		r.Header.Set("Accept", "application/json")
		return r, nil
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, apierror.NewAPIError(apierror.ErrProviderUnavailable, "provider returned no access token", nil)
	}

	return &gateway.TokenResponse{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		TokenType:    out.TokenType,
		Scope:        out.Scope,
		ExpiresAt:    time.Now().Add(time.Duration(out.ExpiresIn) * time.Second),
	}, nil
}

type accountsResponse struct {
	Results []struct {
		AccountID     string `json:"account_id"`
		AccountType   string `json:"account_type"`
		DisplayName   string `json:"display_name"`
		Currency      string `json:"currency"`
		AccountNumber struct {
			Number   string `json:"number"`
			SortCode string `json:"sort_code"`
			IBAN     string `json:"iban"`
		} `json:"account_number"`
	} `json:"results"`
}

type infoResponse struct {
	Results []struct {
		FullName string `json:"full_name"`
	} `json:"results"`
}

func (g *Gateway) ListAccounts(ctx context.Context, accessToken string) ([]model.Account, error) {
	var out accountsResponse
	if err := gateway.Call(ctx, g.client, ProviderID, gateway.CallData, parseError, g.bearerGet(g.cfg.APIURL+"/data/v1/accounts", accessToken), &out); err != nil {
		return nil, err
	}
	if len(out.Results) == 0 {
		return []model.Account{}, nil
	}

	holder, err := g.holderName(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	accounts := make([]model.Account, 0, len(out.Results))
	for _, r := range out.Results {
		accounts = append(accounts, model.Account{
			AccountID:         r.AccountID,
			AccountHolderName: holder,
			AccountNumber:     r.AccountNumber.Number,
			SortCode:          r.AccountNumber.SortCode,
			Currency:          r.Currency,
			AccountType:       r.AccountType,
			DisplayName:       r.DisplayName,
		})
	}
	return accounts, nil
}

// holderName reads the account holder from /info. Without the info scope
// the name stays empty and verification reports it as missing.
func (g *Gateway) holderName(ctx context.Context, accessToken string) (string, error) {
	var info infoResponse
	err := gateway.Call(ctx, g.client, ProviderID, gateway.CallData, parseError, g.bearerGet(g.cfg.APIURL+"/data/v1/info", accessToken), &info)
	if err != nil {
		if apierror.IsRetryable(err) {
			return "", err
		}
		logrus.WithField("provider", ProviderID).Warn("account holder info unavailable")
		return "", nil
	}
	if len(info.Results) == 0 {
		return "", nil
	}
	return info.Results[0].FullName, nil
}

type paymentRequest struct {
	AmountInMinor int64             `json:"amount_in_minor"`
	Currency      string            `json:"currency"`
	PaymentMethod paymentMethod     `json:"payment_method"`
	User          paymentUser       `json:"user"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type paymentMethod struct {
	Type              string            `json:"type"`
	ProviderSelection map[string]string `json:"provider_selection"`
	Beneficiary       beneficiary       `json:"beneficiary"`
}

type beneficiary struct {
	Type              string            `json:"type"`
	AccountHolderName string            `json:"account_holder_name"`
	Reference         string            `json:"reference"`
	AccountIdentifier map[string]string `json:"account_identifier"`
}

type paymentUser struct {
	ID string `json:"id"`
}

type paymentResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
}

func (g *Gateway) CreatePayment(ctx context.Context, accessToken string, in gateway.PaymentInstruction) (*gateway.PaymentResponse, error) {
	p := model.Payment{Amount: in.Amount}
	minor, err := p.MinorUnits()
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidPaymentRequest, err.Error(), nil)
	}

	body := paymentRequest{
		AmountInMinor: minor,
		Currency:      in.Currency,
		PaymentMethod: paymentMethod{
			Type:              "bank_transfer",
			ProviderSelection: map[string]string{"type": "user_selected"},
			Beneficiary: beneficiary{
				Type:              "external_account",
				AccountHolderName: in.Creditor.AccountHolderName,
				Reference:         in.Reference,
				AccountIdentifier: map[string]string{
					"type":           "sort_code_account_number",
					"sort_code":      in.Creditor.SortCode,
					"account_number": in.Creditor.AccountNumber,
				},
			},
		},
		User:     paymentUser{ID: in.ConsentID},
		Metadata: map[string]string{"payment_id": in.PaymentID, "debtor_account_id": in.DebtorAccountID},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	idempotencyKey := in.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = in.PaymentID
	}

	var out paymentResponse
	err = gateway.Call(ctx, g.client, ProviderID, gateway.CallData, parseError, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.APIURL+"/v3/payments", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Authorization", "Bearer "+accessToken)
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Idempotency-Key", idempotencyKey)
		return r, nil
	}, &out)
	if err != nil {
		return nil, err
	}
	return &gateway.PaymentResponse{ProviderPaymentID: out.ID, Status: mapPaymentStatus(out.Status, out.FailureReason), FailureReason: out.FailureReason}, nil
}

func (g *Gateway) GetPaymentStatus(ctx context.Context, accessToken, providerPaymentID string) (*gateway.PaymentResponse, error) {
	var out paymentResponse
	endpoint := fmt.Sprintf("%s/v3/payments/%s", g.cfg.APIURL, url.PathEscape(providerPaymentID))
	if err := gateway.Call(ctx, g.client, ProviderID, gateway.CallData, parseError, g.bearerGet(endpoint, accessToken), &out); err != nil {
		return nil, err
	}
	return &gateway.PaymentResponse{ProviderPaymentID: out.ID, Status: mapPaymentStatus(out.Status, out.FailureReason), FailureReason: out.FailureReason}, nil
}

func (g *Gateway) bearerGet(endpoint, accessToken string) request.RequestFunc {
	return func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		r.Header.Set("Authorization", "Bearer "+accessToken)
		r.Header.Set("Accept", "application/json")
		return r, nil
	}
}

func mapPaymentStatus(status, failureReason string) model.PaymentStatus {
	switch strings.ToLower(status) {
	case "authorization_required", "authorizing":
		return model.PaymentPending
	case "authorized", "executed":
		return model.PaymentAccepted
	case "settled":
		return model.PaymentSettled
	case "failed", "attempt_failed":
		reason := strings.ToLower(failureReason)
		if strings.Contains(reason, "rejected") || strings.Contains(reason, "declined") {
			return model.PaymentRejected
		}
		return model.PaymentFailed
	default:
		return model.PaymentPending
	}
}

// parseError understands both the OAuth shape ({"error": "..."}) and the
// problem+json shape ({"title": ..., "detail": ...}).
func parseError(body []byte) gateway.ProviderError {
	var raw struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Title            string `json:"title"`
		Detail           string `json:"detail"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return gateway.ProviderError{}
	}
	if raw.Error != "" {
		return gateway.ProviderError{Code: raw.Error, Message: raw.ErrorDescription}
	}
	return gateway.ProviderError{Code: raw.Title, Message: raw.Detail}
}
