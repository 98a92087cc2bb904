// Package marketdata implements the C6 Market-Data Adapter: the thin
// orchestrator exposing FetchNormalized to both the periodic dispatcher and
// request-driven callers.
package marketdata

import (
	"context"
	"log/slog"
	"time"

	"github.com/marketfanout/engine/internal/cachemgr"
	"github.com/marketfanout/engine/internal/domain"
	"github.com/marketfanout/engine/internal/ports"
	"github.com/marketfanout/engine/internal/resilience"
)

// LatestKey is the canonical shared snapshot key (spec §6).
const LatestKey = "latest_market_data"

// StreamKey is the capped, append-only replay log (spec §6).
const StreamKey = "market_data_stream"

// StreamMaxLen bounds the capped stream's length (spec §3, §8 P8).
const StreamMaxLen = 1000

// Adapter is the C6 Market-Data Adapter.
type Adapter struct {
	cache    *cachemgr.Manager
	store    ports.KVStore
	fetcher  ports.UpstreamFetcher
	breaker  *resilience.Breaker
	limiter  *resilience.Limiter
	logger   *slog.Logger
}

func New(cache *cachemgr.Manager, store ports.KVStore, fetcher ports.UpstreamFetcher, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		cache:   cache,
		store:   store,
		fetcher: fetcher,
		breaker: resilience.NewBreaker("upstream-fetch", resilience.BreakerConfig{}, logger),
		limiter: resilience.NewLimiter(2, 4),
		logger:  logger.With("component", "market-data-adapter"),
	}
}

// FetchNormalized implements spec §4.6. forceRefresh bypasses both L1/L2
// reads and single-flight, invoking the upstream fetcher directly and
// writing the result back unconditionally. A forced call that finds the
// forced-refresh limiter exhausted does not reach the fetcher: it returns the
// cached snapshot, or a KindUpstreamRateLimited error when nothing is cached.
func (a *Adapter) FetchNormalized(ctx context.Context, forceRefresh bool) (domain.Snapshot, error) {
	if a.fetcher == nil {
		return nil, domain.NewMessage(domain.KindNotConfigured, "fetch_normalized", "no UpstreamFetcher configured")
	}

	if forceRefresh {
		if !a.limiter.Allow() {
			if v, ok := a.cache.Get(ctx, LatestKey); ok {
				a.logger.Debug("forced refresh throttled, serving cached snapshot")
				return v, nil
			}
			a.logger.Warn("forced refresh throttled, no cached snapshot to fall back to")
			return nil, domain.NewMessage(domain.KindUpstreamRateLimited, "fetch_normalized", "forced refresh rate limit exceeded")
		}
		return a.fetchDirect(ctx, "request")
	}

	return a.cache.GetOrCompute(ctx, LatestKey, domain.RealTime, func(ctx context.Context) (domain.Snapshot, error) {
		snap, err := a.fetchUpstream(ctx, "leader")
		if err != nil {
			return nil, err
		}
		a.appendStream(ctx, snap)
		return snap, nil
	})
}

func (a *Adapter) fetchDirect(ctx context.Context, source string) (domain.Snapshot, error) {
	snap, err := a.fetchUpstream(ctx, source)
	if err != nil {
		return nil, err
	}
	a.cache.SetWithStrategy(ctx, LatestKey, snap, domain.RealTime)
	a.appendStream(ctx, snap)
	return snap, nil
}

// fetchUpstream calls the upstream fetcher behind the circuit breaker and
// injects the provenance fields spec §4.6 requires (timestamp, source).
func (a *Adapter) fetchUpstream(ctx context.Context, source string) (domain.Snapshot, error) {
	start := time.Now()
	var raw domain.Snapshot

	err := a.breaker.Execute(ctx, func(ctx context.Context) error {
		r, err := a.fetcher.Fetch(ctx)
		if err != nil {
			return err
		}
		raw = r
		return nil
	})
	if err != nil {
		return nil, domain.NewError(domain.KindUpstreamUnavailable, "fetch_upstream", "", err)
	}

	snap := normalize(raw)
	snap["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	snap["source"] = source
	snap["fetch_duration_ms"] = time.Since(start).Milliseconds()
	return snap, nil
}

// appendStream is best-effort: a stream failure is logged, never
// propagated (spec §4.6, §7).
func (a *Adapter) appendStream(ctx context.Context, snap domain.Snapshot) {
	fields := snap.Flatten()
	fields["stream_timestamp"] = time.Now().UTC().Format(time.RFC3339)

	if _, err := a.store.StreamAppend(ctx, StreamKey, fields, StreamMaxLen); err != nil {
		a.logger.Warn("stream append failed, snapshot still cached", "error", err)
	}
}
