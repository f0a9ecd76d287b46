package model

import (
	"errors"
	"net/url"

	"github.com/blnkfinance/openbank/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

func absoluteURL(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("must be an absolute url")
	}
	return nil
}

type CreateConsent struct {
	Permissions   []model.Permission `json:"permissions"`
	ProviderID    string             `json:"providerId"`
	RedirectURI   string             `json:"redirectUri"`
	UserID        string             `json:"userId"`
	InstitutionID string             `json:"institutionId"`
}

func (c *CreateConsent) ValidateCreateConsent() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Permissions, validation.Required),
		validation.Field(&c.RedirectURI, validation.By(absoluteURL)),
	)
}

type ExchangeToken struct {
	Code      string `json:"code"`
	ConsentID string `json:"consentId"`
}

func (e *ExchangeToken) ValidateExchangeToken() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.Code, validation.Required),
		validation.Field(&e.ConsentID, validation.Required),
	)
}
