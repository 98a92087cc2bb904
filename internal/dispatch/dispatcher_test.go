package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marketfanout/engine/internal/cachemgr"
	"github.com/marketfanout/engine/internal/domain"
	"github.com/marketfanout/engine/internal/kvstore"
	"github.com/marketfanout/engine/internal/localcache"
	"github.com/marketfanout/engine/internal/marketdata"
)

type fakeFlag struct{ leader bool }

func (f *fakeFlag) IsLeader() bool { return f.leader }

type fakeHub struct {
	mu        sync.Mutex
	broadcast []domain.Snapshot
}

func (h *fakeHub) Broadcast(payload domain.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcast = append(h.broadcast, payload)
}

func (h *fakeHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.broadcast)
}

type fakeFetcher struct {
	snap domain.Snapshot
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context) (domain.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

func newHarness(leader bool) (*Dispatcher, *fakeFlag, *fakeHub, *fakeFetcher, *kvstore.Fake) {
	store := kvstore.NewFake()
	cache := cachemgr.New(localcache.New(100), store, nil)
	fetcher := &fakeFetcher{snap: domain.Snapshot{"btc_price_usd": 1.0}}
	adapter := marketdata.New(cache, store, fetcher, nil)
	flag := &fakeFlag{leader: leader}
	hub := &fakeHub{}
	d := New(flag, adapter, cache, hub, 0, nil)
	return d, flag, hub, fetcher, store
}

func TestLeaderTickBroadcastsFreshSnapshot(t *testing.T) {
	d, _, hub, _, store := newHarness(true)
	d.Tick(context.Background())

	require.Equal(t, 1, hub.count())
	require.Equal(t, 1, store.StreamLen(marketdata.StreamKey))
}

func TestLeaderTickFailureSkipsBroadcast(t *testing.T) {
	d, _, hub, fetcher, _ := newHarness(true)
	fetcher.err = errors.New("upstream down")

	d.Tick(context.Background())
	require.Equal(t, 0, hub.count())
}

// TestFollowerTickReplaysLeaderSnapshot is scenario S2.
func TestFollowerTickReplaysLeaderSnapshot(t *testing.T) {
	store := kvstore.NewFake()
	cache := cachemgr.New(localcache.New(100), store, nil)
	leaderFetcher := &fakeFetcher{snap: domain.Snapshot{"btc_price_usd": 1.0}}
	leaderAdapter := marketdata.New(cache, store, leaderFetcher, nil)
	leaderFlag := &fakeFlag{leader: true}
	leaderHub := &fakeHub{}
	leader := New(leaderFlag, leaderAdapter, cache, leaderHub, 0, nil)
	leader.Tick(context.Background())

	followerCache := cachemgr.New(localcache.New(100), store, nil)
	followerFlag := &fakeFlag{leader: false}
	followerHub := &fakeHub{}
	followerAdapter := marketdata.New(followerCache, store, nil, nil)
	follower := New(followerFlag, followerAdapter, followerCache, followerHub, 0, nil)
	follower.Tick(context.Background())

	require.Equal(t, 1, followerHub.count())
	require.Equal(t, followerHub.broadcast[0]["btc_price_usd"], leaderHub.broadcast[0]["btc_price_usd"])
}

func TestFollowerTickCacheMissSkipsBroadcast(t *testing.T) {
	d, _, hub, _, _ := newHarness(false)
	d.Tick(context.Background())
	require.Equal(t, 0, hub.count())
}
