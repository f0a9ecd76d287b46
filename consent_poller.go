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
	"fmt"
	"sync"
	"time"

	"github.com/blnkfinance/openbank/internal/apierror"
	"github.com/blnkfinance/openbank/internal/notification"
	"github.com/blnkfinance/openbank/model"
	"github.com/sirupsen/logrus"
)

const consentPollBatch = 100

// ConsentPoller keeps stored consents in step with time and the providers:
// consents awaiting authorisation are refreshed from the provider and
// lapsed authorised consents are moved to EXPIRED.
type ConsentPoller struct {
	ob       *OpenBank
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewConsentPoller(ob *OpenBank, interval time.Duration) *ConsentPoller {
	return &ConsentPoller{
		ob:       ob,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (p *ConsentPoller) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		logrus.Infof("Consent poller started with interval: %v", p.interval)

		p.poll(context.Background())

		for {
			select {
			case <-ticker.C:
				p.poll(context.Background())
			case <-p.stopCh:
				logrus.Info("Consent poller stopping...")
				return
			}
		}
	}()
}

func (p *ConsentPoller) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	logrus.Info("Consent poller stopped")
}

func (p *ConsentPoller) poll(ctx context.Context) {
	awaiting, err := p.ob.datasource.GetConsentsByStatus(ctx, model.ConsentAwaitingAuthorisation, consentPollBatch)
	if err != nil {
		notification.NotifyError(fmt.Errorf("consent poller: failed to fetch awaiting consents: %w", err))
		return
	}
	for _, consent := range awaiting {
		if _, err := p.ob.RefreshConsent(ctx, consent.ConsentID); err != nil {
			logrus.Warnf("Consent poller: refresh failed for %s: %v", consent.ConsentID, err)
			if apierror.CodeOf(err) == apierror.ErrInternalServer {
				notification.NotifyError(fmt.Errorf("consent poller: refresh failed for %s: %w", consent.ConsentID, err))
			}
		}
	}

	authorised, err := p.ob.datasource.GetConsentsByStatus(ctx, model.ConsentAuthorised, consentPollBatch)
	if err != nil {
		notification.NotifyError(fmt.Errorf("consent poller: failed to fetch authorised consents: %w", err))
		return
	}
	expired := 0
	for i := range authorised {
		consent := &authorised[i]
		if !consent.IsExpired(p.ob.now()) {
			continue
		}
		if err := p.ob.moveConsent(ctx, consent, model.ConsentExpired); err != nil {
			notification.NotifyError(fmt.Errorf("consent poller: failed to expire %s: %w", consent.ConsentID, err))
			continue
		}
		expired++
	}
	if len(awaiting) > 0 || expired > 0 {
		logrus.Infof("Consent poller: refreshed %d awaiting, expired %d", len(awaiting), expired)
	}
}
