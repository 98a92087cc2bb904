// Package fanout wires the distributed coordination and data-propagation
// engine: leader election over a shared KV store, a two-tier cache with
// single-flight protection, and a periodic dispatcher that broadcasts
// aggregated market-data snapshots to locally attached streaming clients.
//
// Basic usage:
//
//	cfg := fanout.ConfigFromEnv()
//	engine, err := fanout.New(ctx, cfg, myUpstreamFetcher, myClientHub, logger)
//	if err != nil { ... }
//	defer engine.Stop(context.Background())
//	engine.Run(ctx) // blocks until ctx is canceled
package fanout

import (
	"context"
	"log/slog"

	"github.com/marketfanout/engine/internal/cachemgr"
	"github.com/marketfanout/engine/internal/config"
	"github.com/marketfanout/engine/internal/dispatch"
	"github.com/marketfanout/engine/internal/domain"
	"github.com/marketfanout/engine/internal/election"
	"github.com/marketfanout/engine/internal/health"
	"github.com/marketfanout/engine/internal/kvstore"
	"github.com/marketfanout/engine/internal/localcache"
	"github.com/marketfanout/engine/internal/marketdata"
	"github.com/marketfanout/engine/internal/nodeid"
	"github.com/marketfanout/engine/internal/ports"
)

// Config is the engine's environment-driven configuration surface (spec §6).
type Config = config.Config

// UpstreamFetcher is the opaque collaborator that performs outbound calls to
// upstream data providers.
type UpstreamFetcher = ports.UpstreamFetcher

// ClientHub is the opaque streaming-transport collaborator that receives
// broadcasts.
type ClientHub = ports.ClientHub

// Snapshot is the opaque market-data payload type, re-exported so callers
// never need to import internal/domain directly.
type Snapshot = domain.Snapshot

// DefaultConfig returns spec §6's documented defaults, with no RedisURL set.
func DefaultConfig() *Config { return config.Default() }

// ConfigFromEnv loads configuration from the process environment.
func ConfigFromEnv() *Config { return config.FromEnv() }

// Engine is the assembled, ready-to-run fan-out engine for one replica.
type Engine struct {
	NodeID string

	store      *kvstore.Gateway
	cache      *cachemgr.Manager
	election   *election.Service
	adapter    *marketdata.Adapter
	dispatcher *dispatch.Dispatcher
	health     *health.Reporter
	logger     *slog.Logger
}

// New connects to the shared store and assembles every component, but does
// not start any background loop; call Run to begin the dispatcher and
// election loops.
func New(ctx context.Context, cfg *Config, fetcher UpstreamFetcher, hub ClientHub, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := nodeid.New(cfg.ReplicaID)
	logger = logger.With("node_id", id)

	store, err := kvstore.New(ctx, cfg.RedisURL, logger)
	if err != nil {
		return nil, err
	}

	l1 := localcache.New(localcache.DefaultCapacity)
	cache := cachemgr.New(l1, store, logger)

	elect := election.New(store, id, election.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		LockTTL:           cfg.LockTTL,
		AcquireRetry:      cfg.AcquireRetry,
	}, logger)

	reporter := health.New(roleAdapter{elect}, cfg.LockTTL)
	elect.SetRecorder(reporter)
	cache.SetRecorder(reporter)

	adapter := marketdata.New(cache, store, fetcher, logger)
	dispatcher := dispatch.New(elect, adapter, cache, hub, cfg.FetchInterval, logger)

	return &Engine{
		NodeID:     id,
		store:      store,
		cache:      cache,
		election:   elect,
		adapter:    adapter,
		dispatcher: dispatcher,
		health:     reporter,
		logger:     logger,
	}, nil
}

// Run starts the election loop, then blocks running the periodic
// dispatcher loop until ctx is canceled.
func (e *Engine) Run(ctx context.Context) {
	e.election.Start(ctx)
	e.dispatcher.Run(ctx)
}

// Stop releases the leader lock (if held) and closes the store connection.
// Graceful shutdown order follows spec §5: election first (release lock),
// then the store handle.
func (e *Engine) Stop(ctx context.Context) {
	e.election.Stop(ctx)
	if err := e.store.Close(); err != nil {
		e.logger.Warn("error closing store connection", "error", err)
	}
}

// IsLeader reports whether this replica currently holds the lock.
func (e *Engine) IsLeader() bool { return e.election.IsLeader() }

// Health returns the current health status per spec §6's contract.
func (e *Engine) Health() health.Status { return e.health.Check() }

// FetchNormalized exposes C6 directly to request-driven callers (e.g. an
// HTTP handler outside the core's scope) that need a fresh or cached
// snapshot on demand, independent of the periodic dispatcher's cadence.
func (e *Engine) FetchNormalized(ctx context.Context, forceRefresh bool) (Snapshot, error) {
	return e.adapter.FetchNormalized(ctx, forceRefresh)
}

type roleAdapter struct{ e *election.Service }

func (r roleAdapter) Role() string { return r.e.Role().String() }
