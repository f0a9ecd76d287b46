package model

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type VerifyAccount struct {
	AccessToken  string `json:"accessToken"`
	ConsentID    string `json:"consentId"`
	AccountID    string `json:"accountId"`
	ExpectedName string `json:"expectedName"`
	ProviderID   string `json:"providerId"`
}

func (v *VerifyAccount) ValidateVerifyAccount() error {
	return validation.ValidateStruct(v,
		validation.Field(&v.AccessToken, validation.When(v.ConsentID == "", validation.Required.Error("accessToken or consentId is required"))),
		validation.Field(&v.ExpectedName, validation.Required, validation.Length(1, 200)),
	)
}
