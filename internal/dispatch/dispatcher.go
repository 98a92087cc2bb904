// Package dispatch implements the C5 Periodic Dispatcher: a tick-driven
// loop that branches on leadership, computing-and-publishing as leader or
// replaying from cache as a follower, broadcasting identical snapshots to
// locally attached streaming clients either way.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/marketfanout/engine/internal/cachemgr"
	"github.com/marketfanout/engine/internal/marketdata"
	"github.com/marketfanout/engine/internal/ports"
)

// LeaderFlag is the minimal read surface the dispatcher needs from the
// election service: a single atomic read, decoupled from the concrete
// election.Service type so the dispatcher can be tested without spinning up
// a full state machine.
type LeaderFlag interface {
	IsLeader() bool
}

// Dispatcher is the C5 Periodic Dispatcher.
type Dispatcher struct {
	flag    LeaderFlag
	adapter *marketdata.Adapter
	cache   *cachemgr.Manager
	hub     ports.ClientHub
	period  time.Duration
	logger  *slog.Logger
}

func New(flag LeaderFlag, adapter *marketdata.Adapter, cache *cachemgr.Manager, hub ports.ClientHub, period time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		flag:    flag,
		adapter: adapter,
		cache:   cache,
		hub:     hub,
		period:  period,
		logger:  logger.With("component", "dispatcher"),
	}
}

// Run blocks, ticking every period until ctx is canceled. time.Ticker
// already gives the realignment behavior spec §4.5/§5 require: a slow tick
// never accumulates drift, and a missed tick is simply dropped rather than
// queued.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// Tick runs exactly one iteration; exported so tests and callers needing
// deterministic control (rather than waiting on a ticker) can drive it
// directly.
func (d *Dispatcher) Tick(ctx context.Context) {
	d.tick(ctx)
}

func (d *Dispatcher) tick(ctx context.Context) {
	if d.flag.IsLeader() {
		d.leaderTick(ctx)
		return
	}
	d.followerTick(ctx)
}

func (d *Dispatcher) leaderTick(ctx context.Context) {
	snap, err := d.adapter.FetchNormalized(ctx, true)
	if err != nil {
		// Do not broadcast stale data as leader; log and skip this tick
		// (spec §4.5).
		d.logger.Warn("leader tick fetch failed, skipping broadcast", "error", err)
		return
	}
	d.hub.Broadcast(snap)
}

func (d *Dispatcher) followerTick(ctx context.Context) {
	snap, ok := d.cache.Get(ctx, marketdata.LatestKey)
	if !ok {
		// No cached snapshot yet; the current leader will populate it on
		// its next tick (spec §4.5).
		d.logger.Debug("follower tick cache miss, skipping broadcast")
		return
	}
	d.hub.Broadcast(snap)
}
