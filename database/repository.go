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

package database

import (
	"context"
	"errors"
	"time"

	"github.com/blnkfinance/openbank/model"
)

// ErrDuplicateIdempotencyKey is returned by CreatePayment when another
// payment already holds the key.
var ErrDuplicateIdempotencyKey = errors.New("payment with this idempotency key already exists")

// IDataSource is the persistence boundary of the pipeline.
type IDataSource interface {
	consent
	payment
	authorizationCode
}

type consent interface {
	CreateConsent(ctx context.Context, consent *model.Consent) error
	GetConsentByID(ctx context.Context, consentID string) (*model.Consent, error)
	UpdateConsentStatus(ctx context.Context, consent *model.Consent) error
	GetConsentsByStatus(ctx context.Context, status model.ConsentStatus, limit int) ([]model.Consent, error)
}

type payment interface {
	CreatePayment(ctx context.Context, payment *model.Payment) error
	GetPaymentByID(ctx context.Context, paymentID string) (*model.Payment, error)
	GetPaymentByIdempotencyKey(ctx context.Context, key string) (*model.Payment, error)
	GetPaymentByProviderPaymentID(ctx context.Context, providerID, providerPaymentID string) (*model.Payment, error)
	UpdatePayment(ctx context.Context, payment *model.Payment) error
}

// authorizationCode records hashes of exchanged codes. Codes themselves are never stored.
type authorizationCode interface {
	AuthorizationCodeUsed(ctx context.Context, codeHash string) (bool, error)
	RecordAuthorizationCode(ctx context.Context, codeHash, consentID string, usedAt time.Time) error
}
