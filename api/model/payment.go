package model

import (
	"github.com/blnkfinance/openbank/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

type CreatePayment struct {
	AccessToken     string          `json:"accessToken"`
	ConsentID       string          `json:"consentId"`
	ProviderID      string          `json:"providerId"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	DebtorAccountID string          `json:"debtorAccountId"`
	Reference       string          `json:"reference"`
	IdempotencyKey  string          `json:"idempotencyKey"`
}

// ValidateCreatePayment checks presence only. Amount, currency and reference
// rules are enforced by the payment service so every caller gets them.
func (p *CreatePayment) ValidateCreatePayment() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.AccessToken, validation.When(p.ConsentID == "", validation.Required.Error("accessToken or consentId is required"))),
		validation.Field(&p.Currency, validation.Required),
		validation.Field(&p.DebtorAccountID, validation.Required),
		validation.Field(&p.Reference, validation.Required),
		validation.Field(&p.IdempotencyKey, validation.Length(0, 255)),
	)
}

func (p *CreatePayment) ToPaymentRequest() model.PaymentRequest {
	return model.PaymentRequest{
		Amount:          p.Amount,
		Currency:        p.Currency,
		DebtorAccountID: p.DebtorAccountID,
		Reference:       p.Reference,
		IdempotencyKey:  p.IdempotencyKey,
		ConsentID:       p.ConsentID,
	}
}
