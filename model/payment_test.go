package model

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentStatus_CanTransition(t *testing.T) {
	assert.True(t, PaymentPending.CanTransition(PaymentAccepted))
	assert.True(t, PaymentAccepted.CanTransition(PaymentSettled))
	assert.True(t, PaymentAccepted.CanTransition(PaymentRejected))
	assert.True(t, PaymentPending.CanTransition(PaymentFailed))
	assert.True(t, PaymentSettled.CanTransition(PaymentSettled))

	assert.False(t, PaymentSettled.CanTransition(PaymentPending))
	assert.False(t, PaymentRejected.CanTransition(PaymentAccepted))
	assert.False(t, PaymentFailed.CanTransition(PaymentSettled))
	assert.False(t, PaymentAccepted.CanTransition(PaymentPending))
}

func TestPaymentStatus_IsFinal(t *testing.T) {
	assert.True(t, PaymentSettled.IsFinal())
	assert.True(t, PaymentFailed.IsFinal())
	assert.False(t, PaymentAccepted.IsFinal())
}

func TestPayment_MinorUnits(t *testing.T) {
	p := &Payment{Amount: decimal.RequireFromString("12.34")}
	minor, err := p.MinorUnits()
	require.NoError(t, err)
	assert.Equal(t, int64(1234), minor)

	p.Amount = decimal.RequireFromString("5")
	minor, err = p.MinorUnits()
	require.NoError(t, err)
	assert.Equal(t, int64(500), minor)

	p.Amount = decimal.RequireFromString("0.001")
	_, err = p.MinorUnits()
	assert.Error(t, err)
}

func TestGenerateUUIDWithSuffix(t *testing.T) {
	id := GenerateUUIDWithSuffix("pay")
	assert.True(t, strings.HasPrefix(id, "pay_"))
	assert.Len(t, id, len("pay_")+36)
	assert.NotEqual(t, id, GenerateUUIDWithSuffix("pay"))
}

func TestAccessToken_Redacted(t *testing.T) {
	tok := AccessToken{Token: "eyJhbGciOi.secret", RefreshToken: "abc", ExpiresAt: time.Now()}
	red := tok.Redacted()
	assert.Equal(t, "eyJh****", red.Token)
	assert.Equal(t, "****", red.RefreshToken)
	assert.Equal(t, "eyJhbGciOi.secret", tok.Token)
}
