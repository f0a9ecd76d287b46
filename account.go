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
	"strings"

	"github.com/blnkfinance/openbank/internal/apierror"
	"github.com/blnkfinance/openbank/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

type VerifyAccountRequest struct {
	ProviderID   string
	AccessToken  string
	ConsentID    string
	AccountID    string
	ExpectedName string
}

// ListAccounts returns the accounts the token can see, in provider order.
// An empty list is NO_ACCOUNTS_FOUND.
func (o *OpenBank) ListAccounts(ctx context.Context, providerID, accessToken string) ([]model.Account, error) {
	ctx, span := tracer.Start(ctx, "ListAccounts")
	defer span.End()

	if accessToken == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidRequest, "accessToken is required", nil)
	}
	gw, providerID, err := o.gatewayFor(providerID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("provider.id", providerID))

	accounts, err := gw.ListAccounts(ctx, accessToken)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, apierror.NewAPIError(apierror.ErrNoAccountsFound, "no accounts are available for this consent", nil)
	}
	span.SetAttributes(attribute.Int("accounts.count", len(accounts)))
	return accounts, nil
}

// PrimaryAccount picks the first account in provider order. The provider's
// ordering is the only signal used.
func PrimaryAccount(accounts []model.Account) (model.Account, bool) {
	if len(accounts) == 0 {
		return model.Account{}, false
	}
	return accounts[0], true
}

// VerifyAccount scores the holder name of the selected account against the
// expected name. The primary account is used when AccountID is empty.
func (o *OpenBank) VerifyAccount(ctx context.Context, req VerifyAccountRequest) (*model.VerificationResult, error) {
	ctx, span := tracer.Start(ctx, "VerifyAccount")
	defer span.End()

	if strings.TrimSpace(req.ExpectedName) == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidRequest, "expectedName is required", nil)
	}
	token, providerID, err := o.resolveToken(ctx, req.ProviderID, req.AccessToken, req.ConsentID)
	if err != nil {
		return nil, err
	}
	if _, _, err := o.gatewayFor(providerID); err != nil {
		return nil, err
	}

	accounts, err := o.ListAccounts(ctx, providerID, token)
	if err != nil {
		return nil, err
	}

	var account model.Account
	if req.AccountID == "" {
		account, _ = PrimaryAccount(accounts)
	} else {
		found := false
		for _, a := range accounts {
			if a.AccountID == req.AccountID {
				account, found = a, true
				break
			}
		}
		if !found {
			return nil, apierror.NewAPIError(apierror.ErrAccountNotFound, "account is not among the accounts this consent can see", nil)
		}
	}

	result := o.matcher.Evaluate(account.AccountHolderName, req.ExpectedName)
	result.MatchedAccountID = account.AccountID
	result.AccountName = account.AccountHolderName

	span.SetAttributes(attribute.Bool("verification.valid", result.IsValid), attribute.Int("verification.confidence", result.Confidence))
	logrus.WithFields(logrus.Fields{
		"account_id": account.AccountID,
		"valid":      result.IsValid,
		"confidence": result.Confidence,
		"risk":       result.RiskScore,
	}).Info("account verified")
	return &result, nil
}
