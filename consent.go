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
	"net/url"
	"strings"

	"github.com/blnkfinance/openbank/gateway"
	"github.com/blnkfinance/openbank/internal/apierror"
	"github.com/blnkfinance/openbank/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type CreateConsentRequest struct {
	ProviderID    string
	Permissions   []model.Permission
	RedirectURI   string
	UserID        string
	InstitutionID string
}

// CallbackParams are the query parameters the bank redirects back with.
type CallbackParams struct {
	Code      string
	State     string
	Error     string
	ConsentID string
}

func validatePermissions(perms []model.Permission) ([]model.Permission, error) {
	if len(perms) == 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidPermissionSet, "at least one permission is required", nil)
	}
	seen := make(map[model.Permission]bool, len(perms))
	out := make([]model.Permission, 0, len(perms))
	for _, p := range perms {
		if !p.IsValid() {
			return nil, apierror.NewAPIError(apierror.ErrInvalidPermissionSet, fmt.Sprintf("unknown permission %q", p), nil)
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

// CreateConsent registers a consent with the provider and stores it awaiting
// the customer's authorisation.
func (o *OpenBank) CreateConsent(ctx context.Context, req CreateConsentRequest) (*model.Consent, error) {
	ctx, span := tracer.Start(ctx, "CreateConsent")
	defer span.End()

	permissions, err := validatePermissions(req.Permissions)
	if err != nil {
		return nil, err
	}
	gw, providerID, err := o.gatewayFor(req.ProviderID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("provider.id", providerID))

	redirectURI := req.RedirectURI
	if redirectURI == "" {
		redirectURI = o.cfg.OpenBanking.RedirectURI
	}
	if redirectURI == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidRequest, "redirectUri is required", nil)
	}
	if u, err := url.Parse(redirectURI); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidRequest, "redirectUri must be an absolute url", nil)
	}

	now := o.now()
	consent := &model.Consent{
		ConsentID:   model.GenerateUUIDWithSuffix("con"),
		ProviderID:  providerID,
		Permissions: permissions,
		Status:      model.ConsentAwaitingAuthorisation,
		RedirectURI: redirectURI,
		UserID:      req.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	resp, err := gw.CreateConsent(ctx, gateway.ConsentRequest{
		ConsentID:     consent.ConsentID,
		Permissions:   permissions,
		RedirectURI:   redirectURI,
		UserID:        req.UserID,
		InstitutionID: req.InstitutionID,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	consent.ProviderConsentID = resp.ProviderConsentID
	consent.AuthorisationURL = resp.AuthorisationURL
	consent.ExpiresAt = resp.ExpiresAt
	if consent.ExpiresAt.IsZero() {
		consent.ExpiresAt = now.AddDate(0, 0, o.cfg.OpenBanking.ConsentValidityDays)
	}

	if err := o.datasource.CreateConsent(ctx, consent); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"consent_id": consent.ConsentID,
		"provider":   providerID,
		"expires_at": consent.ExpiresAt,
	}).Info("consent created")
	return consent, nil
}

// GetConsentStatus returns the stored consent, persisting EXPIRED first when
// the consent has lapsed.
func (o *OpenBank) GetConsentStatus(ctx context.Context, consentID string) (*model.Consent, error) {
	ctx, span := tracer.Start(ctx, "GetConsentStatus", trace.WithAttributes(attribute.String("consent.id", consentID)))
	defer span.End()

	if consentID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidRequest, "consentId is required", nil)
	}
	consent, err := o.datasource.GetConsentByID(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if err := o.expireIfLapsed(ctx, consent); err != nil {
		return nil, err
	}
	return consent, nil
}

func (o *OpenBank) expireIfLapsed(ctx context.Context, consent *model.Consent) error {
	now := o.now()
	if consent.EffectiveStatus(now) != model.ConsentExpired || consent.Status == model.ConsentExpired {
		return nil
	}
	return o.moveConsent(ctx, consent, model.ConsentExpired)
}

// moveConsent applies a forward transition, persists it and raises the matching event.
func (o *OpenBank) moveConsent(ctx context.Context, consent *model.Consent, to model.ConsentStatus) error {
	from := consent.Status
	if from == to {
		return nil
	}
	if err := consent.Transition(to, o.now()); err != nil {
		return err
	}
	if err := o.datasource.UpdateConsentStatus(ctx, consent); err != nil {
		return err
	}
	if to == model.ConsentExpired || to == model.ConsentRevoked {
		o.dropToken(ctx, consent.ConsentID)
	}

	logrus.WithFields(logrus.Fields{
		"consent_id": consent.ConsentID,
		"from":       from,
		"to":         to,
	}).Info("consent status changed")

	if event := eventForConsentStatus(to); event != "" {
		o.notify(ctx, event, consent)
	}
	return nil
}

// RefreshConsent pulls the provider-side status and applies it when it is a
// legal forward move. Providers without a consent endpoint only get the expiry check.
func (o *OpenBank) RefreshConsent(ctx context.Context, consentID string) (*model.Consent, error) {
	ctx, span := tracer.Start(ctx, "RefreshConsent", trace.WithAttributes(attribute.String("consent.id", consentID)))
	defer span.End()

	consent, err := o.GetConsentStatus(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if consent.Status.IsTerminal() || consent.ProviderConsentID == "" {
		return consent, nil
	}

	gw, _, err := o.gatewayFor(consent.ProviderID)
	if err != nil {
		return nil, err
	}
	resp, err := gw.GetConsent(ctx, consent.ProviderConsentID)
	if errors.Is(err, gateway.ErrNotSupported) {
		return consent, nil
	}
	if err != nil {
		return nil, err
	}

	var invalid model.ErrInvalidTransition
	if err := o.moveConsent(ctx, consent, resp.Status); err != nil {
		if errors.As(err, &invalid) {
			logrus.WithFields(logrus.Fields{"consent_id": consent.ConsentID, "provider_status": resp.Status}).
				Warn("ignoring provider consent status that would move the consent backwards")
			return consent, nil
		}
		return nil, err
	}
	return consent, nil
}

// RevokeConsent ends the consent and forgets its access token.
func (o *OpenBank) RevokeConsent(ctx context.Context, consentID string) (*model.Consent, error) {
	ctx, span := tracer.Start(ctx, "RevokeConsent", trace.WithAttributes(attribute.String("consent.id", consentID)))
	defer span.End()

	consent, err := o.GetConsentStatus(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if err := o.moveConsent(ctx, consent, model.ConsentRevoked); err != nil {
		var invalid model.ErrInvalidTransition
		if errors.As(err, &invalid) {
			return nil, apierror.NewAPIError(apierror.ErrInvalidRequest, invalid.Error(), nil)
		}
		return nil, err
	}
	return consent, nil
}

// HandleCallback finishes the bank redirect. It always produces a landing URL
// carrying status=success or status=error; the error is also returned so the
// caller can log it.
func (o *OpenBank) HandleCallback(ctx context.Context, params CallbackParams) (string, error) {
	ctx, span := tracer.Start(ctx, "HandleCallback")
	defer span.End()

	consentID := params.ConsentID
	if consentID == "" {
		consentID = params.State
	}

	fail := func(reason string, err error) (string, error) {
		return o.landingURL(consentID, "error", reason), err
	}

	if consentID == "" {
		return fail("missing_consent", apierror.NewAPIError(apierror.ErrInvalidRequest, "callback did not identify a consent", nil))
	}

	if params.Error != "" {
		consent, err := o.datasource.GetConsentByID(ctx, consentID)
		if err != nil {
			return fail(params.Error, err)
		}
		if err := o.moveConsent(ctx, consent, model.ConsentRejected); err != nil {
			logrus.WithError(err).WithField("consent_id", consentID).Warn("could not mark consent rejected")
		}
		return fail(params.Error, nil)
	}

	if params.Code == "" {
		return fail("missing_code", apierror.NewAPIError(apierror.ErrInvalidRequest, "callback did not carry an authorization code", nil))
	}

	if _, err := o.ExchangeToken(ctx, params.Code, consentID); err != nil {
		return fail(strings.ToLower(string(apierror.CodeOf(err))), err)
	}
	return o.landingURL(consentID, "success", ""), nil
}

func (o *OpenBank) landingURL(consentID, status, reason string) string {
	landing := o.cfg.OpenBanking.CallbackLandingURL
	u, err := url.Parse(landing)
	if err != nil {
		u = &url.URL{Path: "/"}
	}
	q := u.Query()
	q.Set("status", status)
	if consentID != "" {
		q.Set("consent_id", consentID)
	}
	if reason != "" {
		q.Set("error", reason)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
