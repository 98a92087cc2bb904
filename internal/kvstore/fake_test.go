package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeSetIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewFake()

	acquired, err := store.SetIfAbsent(ctx, "websocket:leader", "nodeA", 10*time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = store.SetIfAbsent(ctx, "websocket:leader", "nodeB", 10*time.Second)
	require.NoError(t, err)
	require.False(t, acquired, "lock already held by nodeA")
}

func TestFakeCompareAndRenewRejectsOtherOwner(t *testing.T) {
	ctx := context.Background()
	store := NewFake()

	_, err := store.SetIfAbsent(ctx, "k", "nodeA", 10*time.Second)
	require.NoError(t, err)

	renewed, err := store.CompareAndRenew(ctx, "k", "nodeB", 10*time.Second)
	require.NoError(t, err)
	require.False(t, renewed, "must never mutate a record owned by a different node")

	val, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "nodeA", val)
}

func TestFakeCompareAndDeleteRejectsOtherOwner(t *testing.T) {
	ctx := context.Background()
	store := NewFake()

	_, err := store.SetIfAbsent(ctx, "k", "nodeA", 10*time.Second)
	require.NoError(t, err)

	deleted, err := store.CompareAndDelete(ctx, "k", "nodeB")
	require.NoError(t, err)
	require.False(t, deleted)

	deleted, err = store.CompareAndDelete(ctx, "k", "nodeA")
	require.NoError(t, err)
	require.True(t, deleted)
}

func TestFakeLockExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	store := NewFake()

	_, err := store.SetIfAbsent(ctx, "k", "nodeA", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	acquired, err := store.SetIfAbsent(ctx, "k", "nodeB", 10*time.Second)
	require.NoError(t, err)
	require.True(t, acquired, "expired lock must be acquirable by another node")
}

func TestFakeStreamAppendCapsLength(t *testing.T) {
	ctx := context.Background()
	store := NewFake()

	for i := 0; i < 10; i++ {
		_, err := store.StreamAppend(ctx, "market_data_stream", map[string]string{"n": "x"}, 5)
		require.NoError(t, err)
	}

	require.Equal(t, 5, store.StreamLen("market_data_stream"))
}

func TestFakeUnavailableSurfacesError(t *testing.T) {
	ctx := context.Background()
	store := NewFake()
	store.Unavailable = true

	_, err := store.SetIfAbsent(ctx, "k", "nodeA", time.Second)
	require.Error(t, err)
}
