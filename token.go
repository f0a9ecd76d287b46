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
	"encoding/json"
	"errors"
	"time"

	"github.com/blnkfinance/openbank/gateway"
	"github.com/blnkfinance/openbank/internal/apierror"
	"github.com/blnkfinance/openbank/internal/cache"
	redlock "github.com/blnkfinance/openbank/internal/lock"
	"github.com/blnkfinance/openbank/internal/tokenization"
	"github.com/blnkfinance/openbank/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const codeClaimTTL = 10 * time.Minute

func tokenCacheKey(consentID string) string {
	return "access_token:" + consentID
}

// ExchangeToken trades a one-time authorization code for an access token
// bound to consentID. A code is burned once the provider has seen it; a
// transport failure releases it so the caller can retry.
func (o *OpenBank) ExchangeToken(ctx context.Context, code, consentID string) (*model.AccessToken, error) {
	ctx, span := tracer.Start(ctx, "ExchangeToken", trace.WithAttributes(attribute.String("consent.id", consentID)))
	defer span.End()

	if code == "" || consentID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidRequest, "code and consentId are required", nil)
	}

	consent, err := o.datasource.GetConsentByID(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if err := o.expireIfLapsed(ctx, consent); err != nil {
		return nil, err
	}
	switch consent.Status {
	case model.ConsentExpired:
		return nil, apierror.NewAPIError(apierror.ErrInvalidGrant, "consent has expired", nil)
	case model.ConsentRevoked, model.ConsentRejected:
		return nil, apierror.NewAPIError(apierror.ErrInvalidGrant, "consent is no longer active", nil)
	}

	gw, _, err := o.gatewayFor(consent.ProviderID)
	if err != nil {
		return nil, err
	}

	codeHash := tokenization.Hash(code)
	log := logrus.WithFields(logrus.Fields{"consent_id": consentID, "code": tokenization.Fingerprint(code)})

	used, err := o.datasource.AuthorizationCodeUsed(ctx, codeHash)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to check authorization code", err)
	}
	if used {
		log.Warn("authorization code replayed")
		return nil, apierror.NewAPIError(apierror.ErrCodeAlreadyUsed, "authorization code has already been used", nil)
	}

	claim := redlock.NewLocker(o.redis, "auth_code:"+codeHash, consentID)
	if err := claim.Lock(ctx, codeClaimTTL); err != nil {
		if errors.Is(err, redlock.ErrLockHeld) {
			log.Warn("authorization code exchange already in flight")
			return nil, apierror.NewAPIError(apierror.ErrCodeAlreadyUsed, "authorization code has already been used", nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to claim authorization code", err)
	}

	resp, err := gw.ExchangeToken(ctx, gateway.TokenRequest{
		Code:              code,
		ConsentID:         consentID,
		ProviderConsentID: consent.ProviderConsentID,
		RedirectURI:       consent.RedirectURI,
	})
	if err != nil {
		span.RecordError(err)
		if apierror.IsRetryable(err) {
			if unlockErr := claim.Unlock(ctx); unlockErr != nil {
				log.WithError(unlockErr).Warn("failed to release authorization code claim")
			}
			return nil, err
		}
		o.burnCode(ctx, codeHash, consentID)
		return nil, err
	}
	if err := o.datasource.RecordAuthorizationCode(ctx, codeHash, consentID, o.now()); err != nil {
		return nil, err
	}

	now := o.now()
	token := &model.AccessToken{
		Token:        resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		ConsentID:    consentID,
		ProviderID:   consent.ProviderID,
		Scope:        resp.Scope,
		ExpiresAt:    resp.ExpiresAt,
	}
	if token.ExpiresAt.IsZero() || token.ExpiresAt.After(consent.ExpiresAt) {
		token.ExpiresAt = consent.ExpiresAt
	}

	if err := o.moveConsent(ctx, consent, model.ConsentAuthorised); err != nil {
		return nil, err
	}
	if err := o.storeToken(ctx, token, token.ExpiresAt.Sub(now)); err != nil {
		log.WithError(err).Warn("access token could not be cached")
	}

	log.WithFields(logrus.Fields{"token": tokenization.Fingerprint(token.Token), "expires_at": token.ExpiresAt}).Info("authorization code exchanged")
	return token, nil
}

func (o *OpenBank) burnCode(ctx context.Context, codeHash, consentID string) {
	if err := o.datasource.RecordAuthorizationCode(ctx, codeHash, consentID, o.now()); err != nil && !apierror.Is(err, apierror.ErrCodeAlreadyUsed) {
		logrus.WithError(err).WithField("consent_id", consentID).Warn("failed to record rejected authorization code")
	}
}

func (o *OpenBank) storeToken(ctx context.Context, token *model.AccessToken, ttl time.Duration) error {
	if ttl < time.Second {
		return nil
	}
	raw, err := json.Marshal(token)
	if err != nil {
		return err
	}
	sealed, err := o.tokenizer.Tokenize(string(raw))
	if err != nil {
		return err
	}
	return o.tokens.Set(ctx, tokenCacheKey(token.ConsentID), sealed, ttl)
}

func (o *OpenBank) dropToken(ctx context.Context, consentID string) {
	if err := o.tokens.Delete(ctx, tokenCacheKey(consentID)); err != nil {
		logrus.WithError(err).WithField("consent_id", consentID).Warn("failed to drop cached access token")
	}
}

// AccessTokenFor returns the cached token for a consent that is still active.
func (o *OpenBank) AccessTokenFor(ctx context.Context, consentID string) (*model.AccessToken, error) {
	consent, err := o.GetConsentStatus(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if consent.Status != model.ConsentAuthorised {
		return nil, apierror.NewAPIError(apierror.ErrInvalidGrant, "consent is not authorised", nil)
	}

	var sealed string
	if err := o.tokens.Get(ctx, tokenCacheKey(consentID), &sealed); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "no access token for this consent", nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to read access token", err)
	}
	raw, err := o.tokenizer.Detokenize(sealed)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to open access token", err)
	}

	token := &model.AccessToken{}
	if err := json.Unmarshal([]byte(raw), token); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to decode access token", err)
	}
	if token.IsExpired(o.now()) {
		o.dropToken(ctx, consentID)
		return nil, apierror.NewAPIError(apierror.ErrInvalidGrant, "access token has expired", nil)
	}
	return token, nil
}

// resolveToken accepts either a raw access token or, when that is empty,
// the consent id whose cached token should be used. A cached token is bound
// to the provider that issued it, so the returned provider id is the
// token's own and a conflicting providerID is rejected.
func (o *OpenBank) resolveToken(ctx context.Context, providerID, accessToken, consentID string) (string, string, error) {
	if accessToken != "" {
		return accessToken, providerID, nil
	}
	if consentID == "" {
		return "", providerID, apierror.NewAPIError(apierror.ErrInvalidRequest, "accessToken or consentId is required", nil)
	}
	token, err := o.AccessTokenFor(ctx, consentID)
	if err != nil {
		return "", providerID, err
	}
	if providerID != "" && token.ProviderID != "" && providerID != token.ProviderID {
		return "", providerID, apierror.NewAPIError(apierror.ErrInvalidRequest, "providerId does not match the provider that issued the consent", map[string]interface{}{"consent_id": consentID, "provider": providerID})
	}
	if token.ProviderID != "" {
		providerID = token.ProviderID
	}
	return token.Token, providerID, nil
}
