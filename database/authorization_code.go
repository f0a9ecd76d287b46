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
	"time"

	"github.com/blnkfinance/openbank/internal/apierror"
	"github.com/pkg/errors"
)

func (d Datasource) AuthorizationCodeUsed(ctx context.Context, codeHash string) (bool, error) {
	var exists bool
	err := d.Conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM openbank.authorization_codes WHERE code_hash = $1)`, codeHash).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "check authorization code")
	}
	return exists, nil
}

// RecordAuthorizationCode claims a code hash. The primary key makes the
// claim atomic: a second insert fails with CODE_ALREADY_USED.
func (d Datasource) RecordAuthorizationCode(ctx context.Context, codeHash, consentID string, usedAt time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO openbank.authorization_codes (code_hash, consent_id, used_at)
		VALUES ($1, $2, $3)
	`, codeHash, consentID, usedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apierror.NewAPIError(apierror.ErrCodeAlreadyUsed, "authorization code has already been used", nil)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to record authorization code", errors.Wrap(err, "insert authorization code"))
	}
	return nil
}
