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
	"embed"
	"time"

	"github.com/blnkfinance/openbank/config"
	"github.com/blnkfinance/openbank/database"
	"github.com/blnkfinance/openbank/gateway"
	"github.com/blnkfinance/openbank/gateway/sandbox"
	"github.com/blnkfinance/openbank/internal/apierror"
	"github.com/blnkfinance/openbank/internal/cache"
	"github.com/blnkfinance/openbank/internal/namematch"
	"github.com/blnkfinance/openbank/internal/tokenization"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

var tracer = otel.Tracer("openbank.pipeline")

// OpenBank runs the consent, token, account and payment pipeline. It holds
// no per-request state; consents and payments live in the datasource and
// access tokens in the encrypted Redis cache.
type OpenBank struct {
	cfg        *config.Configuration
	datasource database.IDataSource
	gateways   *gateway.Registry
	redis      redis.UniversalClient
	tokens     cache.Cache
	tokenizer  *tokenization.TokenizationService
	matcher    *namematch.Matcher
	notifier   Notifier
	now        func() time.Time
}

type Option func(*OpenBank)

// WithClock replaces time.Now, mostly for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(o *OpenBank) {
		o.now = now
	}
}

func WithNotifier(n Notifier) Option {
	return func(o *OpenBank) {
		o.notifier = n
	}
}

func NewOpenBank(cfg *config.Configuration, db database.IDataSource, gateways *gateway.Registry, redisClient redis.UniversalClient, opts ...Option) (*OpenBank, error) {
	tokenizer, err := tokenization.NewTokenizationService(cfg.OpenBanking.TokenEncryptionKey)
	if err != nil {
		return nil, err
	}
	o := &OpenBank{
		cfg:        cfg,
		datasource: db,
		gateways:   gateways,
		redis:      redisClient,
		tokens:     cache.NewCache(redisClient),
		tokenizer:  tokenizer,
		matcher:    namematch.New(cfg.OpenBanking.NameMatchThreshold),
		notifier:   noopNotifier{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Config returns the configuration the pipeline was built with.
func (o *OpenBank) Config() *config.Configuration {
	return o.cfg
}

// Providers lists the registered provider ids.
func (o *OpenBank) Providers() []string {
	return o.gateways.IDs()
}

// gatewayFor resolves the provider and fails fast when its credentials are
// missing, before any call leaves the process.
func (o *OpenBank) gatewayFor(providerID string) (gateway.Gateway, string, error) {
	if providerID == "" {
		providerID = o.cfg.OpenBanking.DefaultProvider
	}
	gw, err := o.gateways.Get(providerID)
	if err != nil {
		return nil, providerID, err
	}
	if providerID != sandbox.ProviderID {
		if missing := o.cfg.OpenBanking.Configured(); len(missing) > 0 {
			return nil, providerID, apierror.NewAPIError(apierror.ErrNotConfigured, "open banking credentials are not configured", map[string]interface{}{"missing": missing})
		}
	}
	return gw, providerID, nil
}
