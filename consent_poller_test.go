package openbank

import (
	"context"
	"testing"
	"time"

	"github.com/blnkfinance/openbank/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsentPoller_Poll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rejected := env.createConsent(t)
	env.gw.SetConsentStatus(rejected.ProviderConsentID, model.ConsentRejected)
	waiting := env.createConsent(t)
	authorised, _ := env.authorisedConsent(t)

	poller := NewConsentPoller(env.ob, time.Minute)
	poller.poll(ctx)

	got, err := env.ds.GetConsentByID(ctx, rejected.ConsentID)
	require.NoError(t, err)
	assert.Equal(t, model.ConsentRejected, got.Status)

	got, err = env.ds.GetConsentByID(ctx, waiting.ConsentID)
	require.NoError(t, err)
	assert.Equal(t, model.ConsentAwaitingAuthorisation, got.Status)

	env.advance(91 * 24 * time.Hour)
	poller.poll(ctx)

	got, err = env.ds.GetConsentByID(ctx, authorised.ConsentID)
	require.NoError(t, err)
	assert.Equal(t, model.ConsentExpired, got.Status)

	got, err = env.ds.GetConsentByID(ctx, waiting.ConsentID)
	require.NoError(t, err)
	assert.Equal(t, model.ConsentExpired, got.Status)
}

func TestConsentPoller_StartStop(t *testing.T) {
	env := newTestEnv(t)
	consent := env.createConsent(t)
	env.gw.SetConsentStatus(consent.ProviderConsentID, model.ConsentRejected)

	poller := NewConsentPoller(env.ob, time.Hour)
	poller.Start()

	assert.Eventually(t, func() bool {
		got, err := env.ds.GetConsentByID(context.Background(), consent.ConsentID)
		return err == nil && got.Status == model.ConsentRejected
	}, time.Second, 10*time.Millisecond)

	poller.Stop()
}
