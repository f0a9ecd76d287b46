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
	"encoding/json"

	"github.com/blnkfinance/openbank/internal/apierror"
	"github.com/blnkfinance/openbank/model"
	"github.com/pkg/errors"
	"github.com/wacul/ptr"
)

const consentColumns = `consent_id, provider_id, provider_consent_id, permissions, status, authorisation_url, redirect_uri, user_id, expires_at, revoked_at, created_at, updated_at`

func (d Datasource) CreateConsent(ctx context.Context, consent *model.Consent) error {
	permissions, err := json.Marshal(consent.Permissions)
	if err != nil {
		return err
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO openbank.consents (`+consentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, consent.ConsentID, consent.ProviderID, consent.ProviderConsentID, permissions, consent.Status,
		consent.AuthorisationURL, consent.RedirectURI, consent.UserID, consent.ExpiresAt, consent.RevokedAt,
		consent.CreatedAt, consent.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apierror.NewAPIError(apierror.ErrInvalidRequest, "consent already exists", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to save consent", errors.Wrap(err, "insert consent"))
	}
	return nil
}

func (d Datasource) GetConsentByID(ctx context.Context, consentID string) (*model.Consent, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+consentColumns+` FROM openbank.consents WHERE consent_id = $1`, consentID)
	consent, err := scanConsent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "consent not found", nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to load consent", errors.Wrapf(err, "select consent %s", consentID))
	}
	return consent, nil
}

// UpdateConsentStatus persists the status fields and the provider consent id.
// Permissions and redirect are fixed at creation.
func (d Datasource) UpdateConsentStatus(ctx context.Context, consent *model.Consent) error {
	res, err := d.Conn.ExecContext(ctx, `
		UPDATE openbank.consents
		SET status = $2, provider_consent_id = $3, expires_at = $4, revoked_at = $5, updated_at = $6
		WHERE consent_id = $1
	`, consent.ConsentID, consent.Status, consent.ProviderConsentID, consent.ExpiresAt, consent.RevokedAt, consent.UpdatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to update consent", errors.Wrap(err, "update consent"))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "consent not found", nil)
	}
	return nil
}

func (d Datasource) GetConsentsByStatus(ctx context.Context, status model.ConsentStatus, limit int) ([]model.Consent, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+consentColumns+`
		FROM openbank.consents
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select consents by status")
	}
	defer rows.Close()

	var consents []model.Consent
	for rows.Next() {
		consent, err := scanConsent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan consent")
		}
		consents = append(consents, *consent)
	}
	return consents, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanConsent(s scanner) (*model.Consent, error) {
	consent := &model.Consent{}
	var permissions []byte
	var providerConsentID, authURL, redirectURI, userID sql.NullString
	var revokedAt sql.NullTime

	err := s.Scan(&consent.ConsentID, &consent.ProviderID, &providerConsentID, &permissions, &consent.Status,
		&authURL, &redirectURI, &userID, &consent.ExpiresAt, &revokedAt, &consent.CreatedAt, &consent.UpdatedAt)
	if err != nil {
		return nil, err
	}
	consent.ProviderConsentID = providerConsentID.String
	consent.AuthorisationURL = authURL.String
	consent.RedirectURI = redirectURI.String
	consent.UserID = userID.String
	if revokedAt.Valid {
		consent.RevokedAt = ptr.Time(revokedAt.Time)
	}
	if len(permissions) > 0 {
		if err := json.Unmarshal(permissions, &consent.Permissions); err != nil {
			return nil, err
		}
	}
	return consent, nil
}
