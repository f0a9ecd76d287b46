package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedToken struct {
	Ciphertext string
	ProviderID string
}

func newTestCache(t *testing.T) (Cache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	return NewCache(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr
}

func TestRedisCache_SetGetDelete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	key := "access_token:" + gofakeit.UUID()
	want := cachedToken{Ciphertext: gofakeit.LetterN(32), ProviderID: "sandbox"}

	require.NoError(t, c.Set(ctx, key, want, time.Minute))

	var got cachedToken
	require.NoError(t, c.Get(ctx, key, &got))
	assert.Equal(t, want, got)

	require.NoError(t, c.Delete(ctx, key))
	err := c.Get(ctx, key, &got)
	assert.True(t, errors.Is(err, ErrCacheMiss))
}

func TestRedisCache_Miss(t *testing.T) {
	c, _ := newTestCache(t)

	var got cachedToken
	err := c.Get(context.Background(), "access_token:missing", &got)
	assert.True(t, errors.Is(err, ErrCacheMiss))
}

func TestRedisCache_RejectsSubSecondTTL(t *testing.T) {
	c, _ := newTestCache(t)

	err := c.Set(context.Background(), "k", "v", 500*time.Millisecond)
	assert.Error(t, err)
}

func TestRedisCache_DeleteMissingKey(t *testing.T) {
	c, _ := newTestCache(t)
	assert.NoError(t, c.Delete(context.Background(), "never-set"))
}
