package memorybroker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secchiware/secchiware/pkg/broker"
)

func TestSetGetDelete(t *testing.T) {
	b := New()
	ctx := context.Background()

	_, ok, err := b.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Set(ctx, "key", "value", 0))
	v, ok, err := b.Get(ctx, "key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "value", v)

	require.NoError(t, b.Delete(ctx, "key"))
	_, ok, err = b.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGet_ExpiresAfterTTL(t *testing.T) {
	b := New()
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "key", "value", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, ok, err := b.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAcquireRelease_MutualExclusion(t *testing.T) {
	b := New()
	ctx := context.Background()

	token, err := b.Acquire(ctx, "lock", time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	_, err = b.Acquire(ctx, "lock", time.Second)
	assert.ErrorIs(t, err, broker.ErrNotAcquired)

	require.NoError(t, b.Release(ctx, "lock", token))

	token2, err := b.Acquire(ctx, "lock", time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, token2)
}

func TestRelease_WrongTokenFails(t *testing.T) {
	b := New()
	ctx := context.Background()

	token, err := b.Acquire(ctx, "lock", time.Second)
	require.NoError(t, err)

	err = b.Release(ctx, "lock", "not-"+token)
	assert.ErrorIs(t, err, broker.ErrNotHeld)
}

func TestAcquire_ExpiredLockCanBeReacquired(t *testing.T) {
	b := New()
	ctx := context.Background()

	_, err := b.Acquire(ctx, "lock", 10*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	token2, err := b.Acquire(ctx, "lock", time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, token2)
}

func TestIncr(t *testing.T) {
	b := New()
	ctx := context.Background()

	n, err := b.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = b.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
