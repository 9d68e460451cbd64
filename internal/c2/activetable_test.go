package c2

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secchiware/secchiware/internal/store"
	"github.com/secchiware/secchiware/pkg/broker/memorybroker"
)

func TestActiveTable_SetGetDelete(t *testing.T) {
	tbl := NewActiveTable(memorybroker.New())
	ctx := context.Background()

	_, ok, err := tbl.Get(ctx, "10.0.0.1", 4900)
	require.NoError(t, err)
	assert.False(t, ok)

	entry := ActiveEntry{
		SessionID:    7,
		SessionStart: time.Now().UTC().Truncate(time.Second),
		Platform:     store.PlatformInfo{OSSystem: "linux"},
	}
	require.NoError(t, tbl.Set(ctx, "10.0.0.1", 4900, entry))

	got, ok, err := tbl.Get(ctx, "10.0.0.1", 4900)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.SessionID, got.SessionID)
	assert.Equal(t, entry.Platform.OSSystem, got.Platform.OSSystem)
	assert.True(t, entry.SessionStart.Equal(got.SessionStart))

	require.NoError(t, tbl.Delete(ctx, "10.0.0.1", 4900))
	_, ok, err = tbl.Get(ctx, "10.0.0.1", 4900)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestActiveTable_WithLock_SerializesConcurrentWriters(t *testing.T) {
	tbl := NewActiveTable(memorybroker.New())
	ctx := context.Background()

	const n = 20
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			err := tbl.WithLock(ctx, "10.0.0.2", 4900, func() error {
				cur, ok, _ := tbl.Get(ctx, "10.0.0.2", 4900)
				next := int64(1)
				if ok {
					next = cur.SessionID + 1
				}
				return tbl.Set(ctx, "10.0.0.2", 4900, ActiveEntry{SessionID: next})
			})
			assert.NoError(t, err)
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}

	got, ok, err := tbl.Get(ctx, "10.0.0.2", 4900)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(n), got.SessionID)
}

func TestActiveTable_WithLock_PropagatesFnError(t *testing.T) {
	tbl := NewActiveTable(memorybroker.New())
	ctx := context.Background()

	boom := assert.AnError
	err := tbl.WithLock(ctx, "10.0.0.3", 4900, func() error { return boom })
	assert.ErrorIs(t, err, boom)
}
