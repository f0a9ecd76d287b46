package model

import (
	"fmt"
	"time"
)

type ConsentStatus string

const (
	ConsentAwaitingAuthorisation ConsentStatus = "AWAITING_AUTHORISATION"
	ConsentAuthorised            ConsentStatus = "AUTHORISED"
	ConsentRejected              ConsentStatus = "REJECTED"
	ConsentExpired               ConsentStatus = "EXPIRED"
	ConsentRevoked               ConsentStatus = "REVOKED"
)

// IsTerminal reports whether no further transition is possible.
func (s ConsentStatus) IsTerminal() bool {
	return s == ConsentExpired || s == ConsentRevoked
}

type Permission string

const (
	PermissionReadAccountsBasic      Permission = "ReadAccountsBasic"
	PermissionReadAccountsDetail     Permission = "ReadAccountsDetail"
	PermissionReadBalances           Permission = "ReadBalances"
	PermissionReadTransactionsDetail Permission = "ReadTransactionsDetail"
	PermissionReadParty              Permission = "ReadParty"
	PermissionInitiatePayments       Permission = "InitiatePayments"
)

var validPermissions = map[Permission]struct{}{
	PermissionReadAccountsBasic:      {},
	PermissionReadAccountsDetail:     {},
	PermissionReadBalances:           {},
	PermissionReadTransactionsDetail: {},
	PermissionReadParty:              {},
	PermissionInitiatePayments:       {},
}

func (p Permission) IsValid() bool {
	_, ok := validPermissions[p]
	return ok
}

type Consent struct {
	ConsentID         string        `json:"consentId"`
	ProviderID        string        `json:"providerId"`
	ProviderConsentID string        `json:"providerConsentId,omitempty"`
	Permissions       []Permission  `json:"permissions"`
	Status            ConsentStatus `json:"status"`
	AuthorisationURL  string        `json:"authorisationUrl,omitempty"`
	RedirectURI       string        `json:"redirectUri,omitempty"`
	UserID            string        `json:"userId,omitempty"`
	ExpiresAt         time.Time     `json:"expiresAt"`
	RevokedAt         *time.Time    `json:"revokedAt,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// ErrInvalidTransition is returned by Transition for backward or terminal moves.
type ErrInvalidTransition struct {
	From, To ConsentStatus
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("consent cannot move from %s to %s", e.From, e.To)
}

var consentTransitions = map[ConsentStatus][]ConsentStatus{
	ConsentAwaitingAuthorisation: {ConsentAuthorised, ConsentRejected, ConsentExpired, ConsentRevoked},
	ConsentAuthorised:            {ConsentExpired, ConsentRevoked},
	ConsentRejected:              {ConsentExpired, ConsentRevoked},
}

// IsExpired reports whether now is at or past ExpiresAt.
func (c *Consent) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// EffectiveStatus is the stored status, or EXPIRED once the consent has
// lapsed and is not already terminal.
func (c *Consent) EffectiveStatus(now time.Time) ConsentStatus {
	if !c.Status.IsTerminal() && c.IsExpired(now) {
		return ConsentExpired
	}
	return c.Status
}

// Transition moves the consent forward. Moving to the current status is a
// no-op. A lapsed consent can never become AUTHORISED.
func (c *Consent) Transition(to ConsentStatus, now time.Time) error {
	if c.Status == to {
		return nil
	}
	if to == ConsentAuthorised && c.IsExpired(now) {
		return ErrInvalidTransition{From: ConsentExpired, To: to}
	}
	for _, allowed := range consentTransitions[c.Status] {
		if allowed == to {
			c.Status = to
			c.UpdatedAt = now
			if to == ConsentRevoked {
				revokedAt := now
				c.RevokedAt = &revokedAt
			}
			return nil
		}
	}
	return ErrInvalidTransition{From: c.Status, To: to}
}
