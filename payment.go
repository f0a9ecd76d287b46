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

package openbank

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/blnkfinance/openbank/database"
	"github.com/blnkfinance/openbank/gateway"
	"github.com/blnkfinance/openbank/internal/apierror"
	redlock "github.com/blnkfinance/openbank/internal/lock"
	"github.com/blnkfinance/openbank/internal/notification"
	"github.com/blnkfinance/openbank/model"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	idempotencyLockTTL  = time.Minute
	idempotencyLockWait = 45 * time.Second
	maxReferenceLength  = 140
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

func validatePaymentRequest(req *model.PaymentRequest) error {
	invalid := func(msg string) error {
		return apierror.NewAPIError(apierror.ErrInvalidPaymentRequest, msg, nil)
	}
	if !req.Amount.IsPositive() {
		return invalid("amount must be greater than zero")
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return invalid("amount must have at most two decimal places")
	}
	req.Reference = strings.TrimSpace(req.Reference)
	if req.Reference == "" {
		return invalid("reference is required")
	}
	if len(req.Reference) > maxReferenceLength {
		return invalid("reference is too long")
	}
	if strings.TrimSpace(req.DebtorAccountID) == "" {
		return invalid("debtorAccountId is required")
	}
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if !currencyPattern.MatchString(req.Currency) {
		return invalid("currency must be a three letter ISO code")
	}
	return nil
}

// InitiatePayment sends a payment from the debtor account to the configured
// creditor. Validation happens before any provider call. With an idempotency
// key, concurrent and repeated calls resolve to a single payment.
func (o *OpenBank) InitiatePayment(ctx context.Context, providerID, accessToken string, req model.PaymentRequest) (*model.Payment, error) {
	ctx, span := tracer.Start(ctx, "InitiatePayment")
	defer span.End()

	if err := validatePaymentRequest(&req); err != nil {
		return nil, err
	}
	if !o.cfg.Creditor.Configured() {
		return nil, apierror.NewAPIError(apierror.ErrNotConfigured, "creditor account is not configured", nil)
	}
	token, providerID, err := o.resolveToken(ctx, providerID, accessToken, req.ConsentID)
	if err != nil {
		return nil, err
	}
	gw, providerID, err := o.gatewayFor(providerID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("provider.id", providerID))

	if req.IdempotencyKey == "" {
		return o.createPayment(ctx, gw, providerID, token, req)
	}

	locker := redlock.NewLocker(o.redis, "idempotency:"+req.IdempotencyKey, uuid.NewString())
	if err := locker.WaitLock(ctx, idempotencyLockTTL, idempotencyLockWait); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrProviderUnavailable, "a payment with this idempotency key is still being processed", err)
	}
	defer func() {
		if err := locker.Unlock(context.Background()); err != nil {
			logrus.WithError(err).Warn("failed to release idempotency lock")
		}
	}()

	existing, err := o.datasource.GetPaymentByIdempotencyKey(ctx, req.IdempotencyKey)
	if err == nil {
		logrus.WithField("payment_id", existing.PaymentID).Info("returning payment for repeated idempotency key")
		return existing, nil
	}
	if !apierror.Is(err, apierror.ErrNotFound) {
		return nil, err
	}
	return o.createPayment(ctx, gw, providerID, token, req)
}

func (o *OpenBank) createPayment(ctx context.Context, gw gateway.Gateway, providerID, token string, req model.PaymentRequest) (*model.Payment, error) {
	now := o.now()
	payment := &model.Payment{
		PaymentID:       model.GenerateUUIDWithSuffix("pay"),
		ProviderID:      providerID,
		ConsentID:       req.ConsentID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		DebtorAccountID: req.DebtorAccountID,
		CreditorAccount: model.CreditorAccount{
			AccountNumber:     o.cfg.Creditor.AccountNumber,
			SortCode:          o.cfg.Creditor.SortCode,
			AccountHolderName: o.cfg.Creditor.AccountHolderName,
		},
		Reference:      req.Reference,
		IdempotencyKey: req.IdempotencyKey,
		Status:         model.PaymentPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := o.datasource.CreatePayment(ctx, payment); err != nil {
		if errors.Is(err, database.ErrDuplicateIdempotencyKey) {
			return o.datasource.GetPaymentByIdempotencyKey(ctx, req.IdempotencyKey)
		}
		return nil, err
	}

	log := logrus.WithFields(logrus.Fields{"payment_id": payment.PaymentID, "provider": providerID})

	resp, err := gw.CreatePayment(ctx, token, gateway.PaymentInstruction{
		PaymentID:       payment.PaymentID,
		IdempotencyKey:  payment.IdempotencyKey,
		Amount:          payment.Amount,
		Currency:        payment.Currency,
		DebtorAccountID: payment.DebtorAccountID,
		Creditor:        payment.CreditorAccount,
		Reference:       payment.Reference,
		ConsentID:       payment.ConsentID,
	})
	if err != nil {
		payment.Status = model.PaymentFailed
		payment.FailureReason = string(apierror.CodeOf(err))
		payment.UpdatedAt = o.now()
		if updateErr := o.datasource.UpdatePayment(ctx, payment); updateErr != nil {
			log.WithError(updateErr).Error("failed to record payment failure")
			notification.NotifyError(fmt.Errorf("payment %s failed at the provider but could not be marked FAILED: %w", payment.PaymentID, updateErr))
		}
		log.WithField("reason", payment.FailureReason).Warn("provider did not accept payment")
		return nil, err
	}

	payment.ProviderPaymentID = resp.ProviderPaymentID
	if payment.Status.CanTransition(resp.Status) {
		payment.Status = resp.Status
	}
	payment.FailureReason = resp.FailureReason
	payment.UpdatedAt = o.now()
	if err := o.datasource.UpdatePayment(ctx, payment); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{"status": payment.Status, "amount": payment.Amount.String(), "currency": payment.Currency}).Info("payment initiated")
	o.notify(ctx, EventPaymentCreated, payment)
	return payment, nil
}

// GetPaymentStatus reports the provider's view of a payment. paymentID may be
// the pipeline id or, with providerID, the provider's id. Nothing is written.
func (o *OpenBank) GetPaymentStatus(ctx context.Context, providerID, accessToken, paymentID string) (*model.Payment, error) {
	ctx, span := tracer.Start(ctx, "GetPaymentStatus", trace.WithAttributes(attribute.String("payment.id", paymentID)))
	defer span.End()

	if paymentID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidRequest, "paymentId is required", nil)
	}
	if accessToken == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidRequest, "accessToken is required", nil)
	}

	stored, err := o.datasource.GetPaymentByID(ctx, paymentID)
	if apierror.Is(err, apierror.ErrNotFound) && providerID != "" {
		stored, err = o.datasource.GetPaymentByProviderPaymentID(ctx, providerID, paymentID)
	}
	if err != nil {
		return nil, err
	}
	if stored.ProviderPaymentID == "" {
		return stored, nil
	}

	gw, _, err := o.gatewayFor(stored.ProviderID)
	if err != nil {
		return nil, err
	}
	resp, err := gw.GetPaymentStatus(ctx, accessToken, stored.ProviderPaymentID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	view := *stored
	if stored.Status.CanTransition(resp.Status) {
		view.Status = resp.Status
		if resp.FailureReason != "" {
			view.FailureReason = resp.FailureReason
		}
	} else {
		logrus.WithFields(logrus.Fields{"payment_id": stored.PaymentID, "stored": stored.Status, "provider": resp.Status}).
			Warn("provider reported a status the payment cannot move to")
	}
	return &view, nil
}
