package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentAccepted PaymentStatus = "ACCEPTED"
	PaymentRejected PaymentStatus = "REJECTED"
	PaymentSettled  PaymentStatus = "SETTLED"
	PaymentFailed   PaymentStatus = "FAILED"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:  {PaymentAccepted, PaymentRejected, PaymentFailed, PaymentSettled},
	PaymentAccepted: {PaymentSettled, PaymentRejected, PaymentFailed},
}

// CanTransition reports whether a payment may move from s to next.
// SETTLED, REJECTED and FAILED are final.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s PaymentStatus) IsFinal() bool {
	return s == PaymentSettled || s == PaymentRejected || s == PaymentFailed
}

// CreditorAccount is the fixed destination. It is copied from configuration
// when a payment is created and never changes afterwards.
type CreditorAccount struct {
	AccountNumber     string `json:"accountNumber"`
	SortCode          string `json:"sortCode"`
	AccountHolderName string `json:"accountHolderName"`
}

type Payment struct {
	PaymentID         string          `json:"paymentId"`
	ProviderID        string          `json:"providerId"`
	ProviderPaymentID string          `json:"providerPaymentId,omitempty"`
	ConsentID         string          `json:"consentId,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	DebtorAccountID   string          `json:"debtorAccountId"`
	CreditorAccount   CreditorAccount `json:"creditorAccount"`
	Reference         string          `json:"reference"`
	IdempotencyKey    string          `json:"idempotencyKey,omitempty"`
	Status            PaymentStatus   `json:"status"`
	FailureReason     string          `json:"failureReason,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// PaymentRequest carries the caller-controlled fields. The creditor is not one of them.
type PaymentRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	DebtorAccountID string          `json:"debtorAccountId"`
	Reference       string          `json:"reference"`
	IdempotencyKey  string          `json:"idempotencyKey,omitempty"`
	ConsentID       string          `json:"consentId,omitempty"`
}

// MinorUnits converts the amount to an integer count of minor units (pence, cents).
func (p *Payment) MinorUnits() (int64, error) {
	minor := p.Amount.Shift(2)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than two decimal places", p.Amount.String())
	}
	return minor.IntPart(), nil
}
