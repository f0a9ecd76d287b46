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

// Package sandbox is an in-memory provider used in sandbox mode and in tests.
// It issues authorisation URLs that redirect straight back with a code, so
// the whole consent flow can run without a bank.
package sandbox

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/blnkfinance/openbank/gateway"
	"github.com/blnkfinance/openbank/internal/apierror"
	"github.com/blnkfinance/openbank/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	ProviderID = "sandbox"

	codePrefix  = "sandbox-"
	tokenPrefix = "sbx_at_"
)

// MaxAmount is the largest payment the sandbox bank will accept.
var MaxAmount = decimal.NewFromInt(1_000_000)

// DefaultAccounts are returned when no accounts are configured.
func DefaultAccounts() []model.Account {
	return []model.Account{
		{
			AccountID:         "sbx-acc-001",
			AccountHolderName: "Waqar Ahmed",
			AccountNumber:     "12345678",
			SortCode:          "040004",
			Currency:          "GBP",
			AccountType:       "TRANSACTION",
			DisplayName:       "Current Account",
		},
		{
			AccountID:         "sbx-acc-002",
			AccountHolderName: "Waqar Ahmed",
			AccountNumber:     "87654321",
			SortCode:          "040004",
			Currency:          "GBP",
			AccountType:       "SAVINGS",
			DisplayName:       "Savings Account",
		},
	}
}

type Option func(*Gateway)

// WithAccounts replaces the default accounts. An empty slice makes every
// account listing come back empty.
func WithAccounts(accounts []model.Account) Option {
	return func(g *Gateway) {
		g.accounts = accounts
	}
}

// WithFailure makes every call fail with the given error.
func WithFailure(err error) Option {
	return func(g *Gateway) {
		g.failWith = err
	}
}

// WithDelay makes every call wait before answering.
func WithDelay(d time.Duration) Option {
	return func(g *Gateway) {
		g.delay = d
	}
}

type payment struct {
	status model.PaymentStatus
	token  string
}

type Gateway struct {
	mu       sync.Mutex
	accounts []model.Account
	failWith error
	delay    time.Duration

	consents map[string]model.ConsentStatus
	tokens   map[string]string
	payments map[string]*payment
	calls    map[string]int
}

func New(opts ...Option) *Gateway {
	g := &Gateway{
		accounts: DefaultAccounts(),
		consents: map[string]model.ConsentStatus{},
		tokens:   map[string]string{},
		payments: map[string]*payment{},
		calls:    map[string]int{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) ID() string {
	return ProviderID
}

// Calls returns how many times op was invoked.
func (g *Gateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// SetFailure changes the error every later call fails with. nil restores normal answers.
func (g *Gateway) SetFailure(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failWith = err
}

func (g *Gateway) enter(ctx context.Context, op string) error {
	g.mu.Lock()
	g.calls[op]++
	delay, failWith := g.delay, g.failWith
	g.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return apierror.NewAPIError(apierror.ErrProviderUnavailable, "provider call was cancelled", nil)
		}
	}
	return failWith
}

// CodeFor returns the authorization code the sandbox issues for a consent.
func CodeFor(consentID string) string {
	return codePrefix + consentID
}

func (g *Gateway) CreateConsent(ctx context.Context, req gateway.ConsentRequest) (*gateway.ConsentResponse, error) {
	if err := g.enter(ctx, "CreateConsent"); err != nil {
		return nil, err
	}
	u, err := url.Parse(req.RedirectURI)
	if err != nil || u.Scheme == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidRequest, "redirect uri is not a valid url", nil)
	}
	q := u.Query()
	q.Set("code", CodeFor(req.ConsentID))
	q.Set("state", req.ConsentID)
	u.RawQuery = q.Encode()

	providerConsentID := "sbx-" + req.ConsentID
	g.mu.Lock()
	g.consents[providerConsentID] = model.ConsentAwaitingAuthorisation
	g.mu.Unlock()

	return &gateway.ConsentResponse{
		ProviderConsentID: providerConsentID,
		AuthorisationURL:  u.String(),
		Status:            model.ConsentAwaitingAuthorisation,
	}, nil
}

func (g *Gateway) GetConsent(ctx context.Context, providerConsentID string) (*gateway.ConsentResponse, error) {
	if err := g.enter(ctx, "GetConsent"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	status, ok := g.consents[providerConsentID]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "consent not found at provider", nil)
	}
	return &gateway.ConsentResponse{ProviderConsentID: providerConsentID, Status: status}, nil
}

// SetConsentStatus changes the provider-side status, as a bank would when the
// customer revokes access or the consent lapses.
func (g *Gateway) SetConsentStatus(providerConsentID string, status model.ConsentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consents[providerConsentID] = status
}

func (g *Gateway) ExchangeToken(ctx context.Context, req gateway.TokenRequest) (*gateway.TokenResponse, error) {
	if err := g.enter(ctx, "ExchangeToken"); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(req.Code, codePrefix) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidGrant, "authorization code is invalid, expired or already used", nil)
	}

	token := tokenPrefix + uuid.NewString()
	g.mu.Lock()
	g.tokens[token] = req.ConsentID
	if req.ProviderConsentID != "" {
		g.consents[req.ProviderConsentID] = model.ConsentAuthorised
	}
	g.mu.Unlock()

	return &gateway.TokenResponse{
		AccessToken:  token,
		RefreshToken: "sbx_rt_" + uuid.NewString(),
		TokenType:    "Bearer",
		Scope:        "accounts payments",
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

func (g *Gateway) checkToken(token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.tokens[token]; !ok {
		return apierror.NewAPIError(apierror.ErrInvalidGrant, "access token is invalid or the consent no longer allows this call", nil)
	}
	return nil
}

// RevokeToken invalidates an issued access token.
func (g *Gateway) RevokeToken(token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.tokens, token)
}

func (g *Gateway) ListAccounts(ctx context.Context, accessToken string) ([]model.Account, error) {
	if err := g.enter(ctx, "ListAccounts"); err != nil {
		return nil, err
	}
	if err := g.checkToken(accessToken); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.Account, len(g.accounts))
	copy(out, g.accounts)
	return out, nil
}

func (g *Gateway) CreatePayment(ctx context.Context, accessToken string, in gateway.PaymentInstruction) (*gateway.PaymentResponse, error) {
	if err := g.enter(ctx, "CreatePayment"); err != nil {
		return nil, err
	}
	if err := g.checkToken(accessToken); err != nil {
		return nil, err
	}
	if in.Amount.GreaterThan(MaxAmount) {
		return nil, apierror.NewAPIError(apierror.ErrProviderRejected, "provider rejected the request: amount exceeds sandbox limit", nil)
	}

	id := "sbx-pay-" + uuid.NewString()
	g.mu.Lock()
	g.payments[id] = &payment{status: model.PaymentPending, token: accessToken}
	g.mu.Unlock()

	return &gateway.PaymentResponse{ProviderPaymentID: id, Status: model.PaymentPending}, nil
}

// GetPaymentStatus advances the payment one step per query,
// PENDING to ACCEPTED to SETTLED.
func (g *Gateway) GetPaymentStatus(ctx context.Context, accessToken, providerPaymentID string) (*gateway.PaymentResponse, error) {
	if err := g.enter(ctx, "GetPaymentStatus"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[providerPaymentID]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "payment not found at provider", nil)
	}
	switch p.status {
	case model.PaymentPending:
		p.status = model.PaymentAccepted
	case model.PaymentAccepted:
		p.status = model.PaymentSettled
	}
	return &gateway.PaymentResponse{ProviderPaymentID: providerPaymentID, Status: p.status}, nil
}
