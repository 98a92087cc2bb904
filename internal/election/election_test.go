package election

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketfanout/engine/internal/kvstore"
)

func testConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Millisecond,
		LockTTL:           100 * time.Millisecond,
		AcquireRetry:      30 * time.Millisecond,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.True(t, cond(), "condition did not become true within %s", timeout)
}

// TestSingleNodeColdStart is scenario S1: a single node acquires leadership
// promptly.
func TestSingleNodeColdStart(t *testing.T) {
	store := kvstore.NewFake()
	svc := New(store, "nodeA", testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	waitFor(t, time.Second, svc.IsLeader)
}

// TestFollowerCatchUp is scenario S2: a second node never becomes leader
// while the first holds the lock.
func TestFollowerCatchUp(t *testing.T) {
	store := kvstore.NewFake()
	a := New(store, "nodeA", testConfig(), nil)
	b := New(store, "nodeB", testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	waitFor(t, time.Second, a.IsLeader)

	b.Start(ctx)
	time.Sleep(80 * time.Millisecond)

	require.False(t, b.IsLeader())
	require.True(t, a.IsLeader())
}

// TestMutualExclusion is P1: at most one of N nodes is ever leader at once
// under a correctly-behaving store (outside a handoff window).
func TestMutualExclusion(t *testing.T) {
	store := kvstore.NewFake()
	cfg := testConfig()
	nodes := make([]*Service, 5)
	for i := range nodes {
		nodes[i] = New(store, string(rune('A'+i)), cfg, nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, n := range nodes {
		n.Start(ctx)
	}

	for tick := 0; tick < 20; tick++ {
		time.Sleep(10 * time.Millisecond)
		leaders := 0
		for _, n := range nodes {
			if n.IsLeader() {
				leaders++
			}
		}
		require.LessOrEqual(t, leaders, 1, "at most one node may be leader at a time")
	}
}

// TestFailover is scenario S3: when the leader stops renewing (simulated by
// stopping its loop without graceful release), another node takes over
// within LockTTL + AcquireRetry.
func TestFailover(t *testing.T) {
	store := kvstore.NewFake()
	cfg := testConfig()
	a := New(store, "nodeA", cfg, nil)
	b := New(store, "nodeB", cfg, nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	a.Start(ctxA)
	waitFor(t, time.Second, a.IsLeader)

	// Ungraceful kill: the store refuses A's release attempt while A's
	// context is canceled and its loop exits, so no CompareAndDelete succeeds
	// and the lock must expire via TTL.
	store.Unavailable = true
	cancelA()
	<-a.doneCh
	store.Unavailable = false

	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()
	b.Start(ctxB)

	waitFor(t, cfg.LockTTL+5*cfg.AcquireRetry, b.IsLeader)
}

// TestGracefulHandoff is scenario S4: Stop() releases the lock so the next
// node acquires quickly, without waiting out the full TTL.
func TestGracefulHandoff(t *testing.T) {
	store := kvstore.NewFake()
	cfg := testConfig()
	a := New(store, "nodeA", cfg, nil)
	b := New(store, "nodeB", cfg, nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	a.Start(ctxA)
	waitFor(t, time.Second, a.IsLeader)

	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()
	b.Start(ctxB)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	a.Stop(stopCtx)
	cancelA()

	waitFor(t, cfg.AcquireRetry*4, b.IsLeader)
	require.False(t, a.IsLeader())
}

// TestConditionalMutationNeverStealsForeignLock is P7.
func TestConditionalMutationNeverStealsForeignLock(t *testing.T) {
	store := kvstore.NewFake()
	ctx := context.Background()

	_, err := store.SetIfAbsent(ctx, LockKey, "nodeA", time.Second)
	require.NoError(t, err)

	renewed, err := store.CompareAndRenew(ctx, LockKey, "nodeB", time.Second)
	require.NoError(t, err)
	require.False(t, renewed)

	deleted, err := store.CompareAndDelete(ctx, LockKey, "nodeB")
	require.NoError(t, err)
	require.False(t, deleted)

	val, ok, err := store.Get(ctx, LockKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "nodeA", val)
}

type fakeRecorder struct {
	calls atomic.Int64
}

func (f *fakeRecorder) RecordStoreSuccess() { f.calls.Add(1) }

func TestRecorderNotifiedOnSuccessfulAcquireAndRenew(t *testing.T) {
	store := kvstore.NewFake()
	cfg := testConfig()
	svc := New(store, "nodeA", cfg, nil)
	rec := &fakeRecorder{}
	svc.SetRecorder(rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	waitFor(t, time.Second, svc.IsLeader)
	waitFor(t, time.Second, func() bool { return rec.calls.Load() >= 2 })
}

func TestRenewToleratesSingleTransientFailure(t *testing.T) {
	store := kvstore.NewFake()
	cfg := testConfig()
	svc := New(store, "nodeA", cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	waitFor(t, time.Second, svc.IsLeader)

	store.Unavailable = true
	time.Sleep(cfg.HeartbeatInterval + 5*time.Millisecond)
	require.True(t, svc.IsLeader(), "a single missed heartbeat must not demote the leader")

	store.Unavailable = false
}
