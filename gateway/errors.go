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

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/blnkfinance/openbank/internal/apierror"
	"github.com/blnkfinance/openbank/internal/request"
	"github.com/sirupsen/logrus"
)

// CallKind selects the mapping rules for 4xx answers.
type CallKind int

const (
	// CallToken is an authorization-code exchange.
	CallToken CallKind = iota
	// CallData is any call authorised by a customer access token.
	CallData
	// CallApp is a call authorised only by application credentials.
	CallApp
)

// ProviderError is the provider's own error, reduced to a code and message.
type ProviderError struct {
	Code    string
	Message string
}

// ErrorParser extracts a ProviderError from a provider's error body.
type ErrorParser func(body []byte) ProviderError

// MapResponse translates a non-2xx provider answer into an apierror.
func MapResponse(provider string, kind CallKind, resp *request.Response, parse ErrorParser) error {
	pe := ProviderError{}
	if parse != nil {
		pe = parse(resp.Body)
	}
	code := strings.ToLower(pe.Code)
	msg := strings.ToLower(pe.Message)

	logrus.WithFields(logrus.Fields{
		"provider":       provider,
		"status":         resp.StatusCode,
		"provider_error": pe.Code,
	}).Warn("provider returned an error")

	details := map[string]interface{}{"provider": provider, "status": resp.StatusCode, "provider_error": pe.Code}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return apierror.NewAPIError(apierror.ErrRateLimited, "provider rate limit reached, retry later", details)
	case resp.StatusCode >= 500:
		return apierror.NewAPIError(apierror.ErrProviderUnavailable, "provider is unavailable", details)
	case code == "invalid_client" || code == "unauthorized_client":
		return apierror.NewAPIError(apierror.ErrNotConfigured, "provider rejected the application credentials", details)
	case kind == CallToken && isGrantFailure(code, msg):
		return apierror.NewAPIError(apierror.ErrInvalidGrant, "authorization code is invalid, expired or already used", details)
	case kind == CallData && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden):
		return apierror.NewAPIError(apierror.ErrInvalidGrant, "access token is invalid or the consent no longer allows this call", details)
	case kind != CallData && resp.StatusCode == http.StatusUnauthorized:
		return apierror.NewAPIError(apierror.ErrNotConfigured, "provider rejected the application credentials", details)
	default:
		message := "provider rejected the request"
		if pe.Message != "" {
			message = fmt.Sprintf("provider rejected the request: %s", pe.Message)
		}
		return apierror.NewAPIError(apierror.ErrProviderRejected, message, details)
	}
}

func isGrantFailure(code, msg string) bool {
	if code == "invalid_grant" {
		return true
	}
	for _, hint := range []string{"grant", "expired", "already used", "already been used", "invalid code", "invalid auth"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// MapTransportError translates a failure from request.Client.Do.
func MapTransportError(provider string, err error) error {
	var transportErr *request.TransportError
	if errors.As(err, &transportErr) {
		if errors.Is(err, context.Canceled) {
			return apierror.NewAPIError(apierror.ErrProviderUnavailable, "provider call was cancelled", nil)
		}
		return apierror.NewAPIError(apierror.ErrProviderUnavailable, "provider is unreachable", map[string]interface{}{"provider": provider, "error": transportErr.Err.Error()})
	}
	return apierror.NewAPIError(apierror.ErrInternalServer, "failed to build provider request", err.Error())
}

// Call runs one provider round trip and decodes a 2xx body into out.
func Call(ctx context.Context, client *request.Client, provider string, kind CallKind, parse ErrorParser, newReq request.RequestFunc, out interface{}) error {
	resp, err := client.Do(ctx, newReq)
	if err != nil {
		return MapTransportError(provider, err)
	}
	if !resp.OK() {
		return MapResponse(provider, kind, resp, parse)
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := resp.DecodeJSON(out); err != nil {
		return apierror.NewAPIError(apierror.ErrProviderUnavailable, "provider returned a malformed response", map[string]interface{}{"provider": provider, "error": err.Error()})
	}
	return nil
}
