package tokenization

import (
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeDetokenize(t *testing.T) {
	svc, err := NewTokenizationService("test-encryption-key")
	require.NoError(t, err)

	secret := gofakeit.LetterN(48)
	token, err := svc.Tokenize(secret)
	require.NoError(t, err)
	assert.NotContains(t, token, secret)

	plain, err := svc.Detokenize(token)
	require.NoError(t, err)
	assert.Equal(t, secret, plain)
}

func TestTokenize_UsesFreshNonce(t *testing.T) {
	svc, err := NewTokenizationService("test-encryption-key")
	require.NoError(t, err)

	a, err := svc.Tokenize("same")
	require.NoError(t, err)
	b, err := svc.Tokenize("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDetokenize_WrongKey(t *testing.T) {
	svc, _ := NewTokenizationService("key-one")
	other, _ := NewTokenizationService("key-two")

	token, err := svc.Tokenize("access-token")
	require.NoError(t, err)

	_, err = other.Detokenize(token)
	assert.Error(t, err)
}

func TestDetokenize_Malformed(t *testing.T) {
	svc, _ := NewTokenizationService("key")

	_, err := svc.Detokenize("not base64!!")
	assert.Error(t, err)

	_, err = svc.Detokenize("YQ==")
	assert.EqualError(t, err, "token too short")
}

func TestNewTokenizationService_EmptyKey(t *testing.T) {
	_, err := NewTokenizationService("")
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("eyJhbGciOiJSUzI1NiJ9.secret")
	assert.Len(t, fp, 8)
	assert.Equal(t, fp, Fingerprint("eyJhbGciOiJSUzI1NiJ9.secret"))
	assert.Equal(t, "", Fingerprint(""))
	assert.Len(t, Hash("code"), 64)
}
