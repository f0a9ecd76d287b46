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

// Package gateway defines the provider boundary. Every Open Banking
// aggregator is one Gateway implementation, and every provider error is
// mapped into apierror codes before it leaves the implementation.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/blnkfinance/openbank/model"
	"github.com/shopspring/decimal"
)

// ErrNotSupported is returned for operations a provider has no endpoint for.
var ErrNotSupported = errors.New("operation not supported by provider")

type Gateway interface {
	ID() string
	CreateConsent(ctx context.Context, req ConsentRequest) (*ConsentResponse, error)
	GetConsent(ctx context.Context, providerConsentID string) (*ConsentResponse, error)
	ExchangeToken(ctx context.Context, req TokenRequest) (*TokenResponse, error)
	ListAccounts(ctx context.Context, accessToken string) ([]model.Account, error)
	CreatePayment(ctx context.Context, accessToken string, instruction PaymentInstruction) (*PaymentResponse, error)
	GetPaymentStatus(ctx context.Context, accessToken, providerPaymentID string) (*PaymentResponse, error)
}

type ConsentRequest struct {
	ConsentID     string
	Permissions   []model.Permission
	RedirectURI   string
	UserID        string
	InstitutionID string
}

// ConsentResponse describes the provider-side consent. A zero ExpiresAt
// means the provider did not say.
type ConsentResponse struct {
	ProviderConsentID string
	AuthorisationURL  string
	Status            model.ConsentStatus
	ExpiresAt         time.Time
}

type TokenRequest struct {
	Code              string
	ConsentID         string
	ProviderConsentID string
	RedirectURI       string
}

type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresAt    time.Time
}

type PaymentInstruction struct {
	PaymentID       string
	IdempotencyKey  string
	Amount          decimal.Decimal
	Currency        string
	DebtorAccountID string
	Creditor        model.CreditorAccount
	Reference       string
	ConsentID       string
}

type PaymentResponse struct {
	ProviderPaymentID string
	Status            model.PaymentStatus
	FailureReason     string
}
