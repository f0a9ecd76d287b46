package model

import "time"

// AccessToken is held only in the encrypted token cache, never in Postgres.
type AccessToken struct {
	Token        string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	TokenType    string    `json:"tokenType,omitempty"`
	ConsentID    string    `json:"consentId"`
	ProviderID   string    `json:"providerId"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func (t *AccessToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Redacted returns a copy with the secrets cut down to a four character prefix.
func (t AccessToken) Redacted() AccessToken {
	t.Token = truncate(t.Token)
	t.RefreshToken = truncate(t.RefreshToken)
	return t
}

func truncate(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
