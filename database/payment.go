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
	"database/sql"

	"github.com/blnkfinance/openbank/internal/apierror"
	"github.com/blnkfinance/openbank/model"
	"github.com/pkg/errors"
)

const paymentColumns = `payment_id, provider_id, provider_payment_id, consent_id, amount, currency, debtor_account_id, creditor_account_number, creditor_sort_code, creditor_name, reference, idempotency_key, status, failure_reason, created_at, updated_at`

// CreatePayment inserts a payment. A clash on the idempotency key returns
// ErrDuplicateIdempotencyKey so the caller can read back the winner.
func (d Datasource) CreatePayment(ctx context.Context, payment *model.Payment) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO openbank.payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, payment.PaymentID, payment.ProviderID, nullable(payment.ProviderPaymentID), nullable(payment.ConsentID),
		payment.Amount.String(), payment.Currency, payment.DebtorAccountID,
		payment.CreditorAccount.AccountNumber, payment.CreditorAccount.SortCode, payment.CreditorAccount.AccountHolderName,
		payment.Reference, nullable(payment.IdempotencyKey), payment.Status, payment.FailureReason,
		payment.CreatedAt, payment.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) && payment.IdempotencyKey != "" {
			return ErrDuplicateIdempotencyKey
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to save payment", errors.Wrap(err, "insert payment"))
	}
	return nil
}

func (d Datasource) GetPaymentByID(ctx context.Context, paymentID string) (*model.Payment, error) {
	return d.getPayment(ctx, `WHERE payment_id = $1`, paymentID)
}

func (d Datasource) GetPaymentByIdempotencyKey(ctx context.Context, key string) (*model.Payment, error) {
	return d.getPayment(ctx, `WHERE idempotency_key = $1`, key)
}

func (d Datasource) GetPaymentByProviderPaymentID(ctx context.Context, providerID, providerPaymentID string) (*model.Payment, error) {
	return d.getPayment(ctx, `WHERE provider_id = $1 AND provider_payment_id = $2`, providerID, providerPaymentID)
}

func (d Datasource) getPayment(ctx context.Context, where string, args ...interface{}) (*model.Payment, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM openbank.payments `+where, args...)

	payment := &model.Payment{}
	var amount string
	var providerPaymentID, consentID, idempotencyKey, failureReason sql.NullString
	err := row.Scan(&payment.PaymentID, &payment.ProviderID, &providerPaymentID, &consentID, &amount,
		&payment.Currency, &payment.DebtorAccountID,
		&payment.CreditorAccount.AccountNumber, &payment.CreditorAccount.SortCode, &payment.CreditorAccount.AccountHolderName,
		&payment.Reference, &idempotencyKey, &payment.Status, &failureReason, &payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "payment not found", nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to load payment", errors.Wrap(err, "select payment"))
	}

	if err := payment.Amount.Scan(amount); err != nil {
		return nil, errors.Wrap(err, "parse payment amount")
	}
	payment.ProviderPaymentID = providerPaymentID.String
	payment.ConsentID = consentID.String
	payment.IdempotencyKey = idempotencyKey.String
	payment.FailureReason = failureReason.String
	return payment, nil
}

// UpdatePayment writes the provider-assigned fields. Creditor columns are
// never part of the update.
func (d Datasource) UpdatePayment(ctx context.Context, payment *model.Payment) error {
	res, err := d.Conn.ExecContext(ctx, `
		UPDATE openbank.payments
		SET provider_payment_id = $2, status = $3, failure_reason = $4, updated_at = $5
		WHERE payment_id = $1
	`, payment.PaymentID, nullable(payment.ProviderPaymentID), payment.Status, payment.FailureReason, payment.UpdatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to update payment", errors.Wrap(err, "update payment"))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "payment not found", nil)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
