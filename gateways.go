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
	"net/http"
	"time"

	"github.com/blnkfinance/openbank/config"
	"github.com/blnkfinance/openbank/gateway"
	"github.com/blnkfinance/openbank/gateway/sandbox"
	"github.com/blnkfinance/openbank/gateway/truelayer"
	"github.com/blnkfinance/openbank/gateway/yapily"
	"github.com/blnkfinance/openbank/internal/request"
)

// ProviderClient builds the shared transport for provider calls from configuration.
func ProviderClient(cfg *config.Configuration, transport http.RoundTripper) *request.Client {
	return request.NewClient(request.Options{
		Timeout:     time.Duration(cfg.OpenBanking.RequestTimeoutSec) * time.Second,
		MaxAttempts: cfg.OpenBanking.MaxRetries,
		Transport:   transport,
	})
}

// NewGatewayRegistry registers every supported provider. The sandbox provider
// is always present; the others report NOT_CONFIGURED on use when their
// credentials are missing.
func NewGatewayRegistry(cfg *config.Configuration, client *request.Client) *gateway.Registry {
	ob := cfg.OpenBanking
	return gateway.NewRegistry(
		sandbox.New(),
		truelayer.New(truelayer.Config{
			ClientID:     ob.ClientID,
			ClientSecret: ob.ClientSecret,
			RedirectURI:  ob.RedirectURI,
			Sandbox:      ob.Mode == config.ModeSandbox,
			AuthURL:      ob.TrueLayerAuthURL,
			APIURL:       ob.TrueLayerBaseURL,
		}, client),
		yapily.New(yapily.Config{
			ApplicationKey:    ob.ClientID,
			ApplicationSecret: ob.ClientSecret,
			RedirectURI:       ob.RedirectURI,
			BaseURL:           ob.YapilyBaseURL,
			InstitutionID:     ob.YapilyInstitutionID,
		}, client),
	)
}
