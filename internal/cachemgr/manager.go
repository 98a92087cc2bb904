// Package cachemgr implements the C3 Cache Manager: a two-tier
// read-through/write-through cache over the in-process L1
// (internal/localcache) and the shared L2 store (internal/kvstore), with a
// single-flight table for GetOrCompute built on golang.org/x/sync/singleflight
// (already an indirect teacher dependency, promoted to direct use here in
// place of a hand-rolled pending-computation table).
package cachemgr

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/marketfanout/engine/internal/domain"
	"github.com/marketfanout/engine/internal/localcache"
	"github.com/marketfanout/engine/internal/ports"
)

// envelope is what actually gets written to L2: the snapshot plus enough
// bookkeeping to recompute remaining TTL on a later read, since the KV
// store contract (spec §4.1) exposes no "get remaining TTL" operation.
type envelope struct {
	Snapshot  domain.Snapshot `json:"snapshot"`
	StoredAt  time.Time       `json:"stored_at"`
	TTLMillis int64           `json:"ttl_ms"`
}

func (e envelope) remaining(now time.Time) time.Duration {
	expiresAt := e.StoredAt.Add(time.Duration(e.TTLMillis) * time.Millisecond)
	if now.After(expiresAt) {
		return 0
	}
	return expiresAt.Sub(now)
}

// StoreSuccessRecorder receives a notification on every L2 round trip that
// completed without error. The health reporter is the production
// implementation.
type StoreSuccessRecorder interface {
	RecordStoreSuccess()
}

// Manager is the two-tier cache manager.
type Manager struct {
	l1       *localcache.Cache
	l2       ports.KVStore
	group    singleflight.Group
	logger   *slog.Logger
	recorder StoreSuccessRecorder
}

func New(l1 *localcache.Cache, l2 ports.KVStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{l1: l1, l2: l2, logger: logger.With("component", "cache-manager")}
}

// SetRecorder attaches a StoreSuccessRecorder notified after every L2 call
// that completes without error. Optional; nil is a no-op.
func (m *Manager) SetRecorder(r StoreSuccessRecorder) {
	m.recorder = r
}

func (m *Manager) recordSuccess() {
	if m.recorder != nil {
		m.recorder.RecordStoreSuccess()
	}
}

// Get checks L1 then L2; an L2 hit is promoted into L1 with a TTL of
// min(remaining L2 TTL, L1MaxTTL).
func (m *Manager) Get(ctx context.Context, key string) (domain.Snapshot, bool) {
	if v, ok := m.l1.Get(key); ok {
		return v, true
	}

	val, ok, err := m.l2.Get(ctx, key)
	if err != nil {
		m.logger.Debug("l2 get failed, treating as miss", "key", key, "error", err)
		return nil, false
	}
	m.recordSuccess()
	if !ok {
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal([]byte(val), &env); err != nil {
		m.logger.Warn("l2 value corrupted, treating as miss", "key", key, "error", err)
		return nil, false
	}

	remaining := env.remaining(time.Now())
	if remaining <= 0 {
		return nil, false
	}

	m.l1.Put(key, env.Snapshot, domain.L1Cap(remaining))
	return env.Snapshot, true
}

// SetWithStrategy writes L1 (capped TTL) and L2 (strategy TTL). L1 failures
// are best-effort and never surfaced; an L2 failure is logged, not returned,
// per spec §4.3's failure semantics (callers see success regardless).
func (m *Manager) SetWithStrategy(ctx context.Context, key string, value domain.Snapshot, strategy domain.CacheStrategy) {
	m.l1.Put(key, value, domain.L1Cap(strategy.TTL()))

	env := envelope{Snapshot: value, StoredAt: time.Now(), TTLMillis: strategy.TTL().Milliseconds()}
	data, err := json.Marshal(env)
	if err != nil {
		m.logger.Error("failed to marshal envelope for l2 write", "key", key, "error", err)
		return
	}
	if err := m.l2.SetWithTTL(ctx, key, string(data), strategy.TTL()); err != nil {
		m.logger.Warn("l2 write failed, l1 still reflects value for this process", "key", key, "error", err)
		return
	}
	m.recordSuccess()
}

// Invalidate removes key from both tiers.
func (m *Manager) Invalidate(ctx context.Context, key string) {
	m.l1.Invalidate(key)
	if err := m.l2.SetWithTTL(ctx, key, "", time.Nanosecond); err != nil {
		m.logger.Debug("l2 invalidate best-effort write failed", "key", key, "error", err)
		return
	}
	m.recordSuccess()
}

// ComputeFunc produces a fresh value for GetOrCompute on a cache miss.
type ComputeFunc func(ctx context.Context) (domain.Snapshot, error)

// GetOrCompute implements the single-flight algorithm of spec §4.3: at most
// one compute() is in flight per key across all concurrent callers on this
// process; a failed compute() is never cached and is delivered to every
// waiter, not retried on their behalf.
func (m *Manager) GetOrCompute(ctx context.Context, key string, strategy domain.CacheStrategy, compute ComputeFunc) (domain.Snapshot, error) {
	if v, ok := m.Get(ctx, key); ok {
		return v, nil
	}

	// singleflight.Group.Do deletes key from its in-flight map the moment
	// the call completes, so a caller that arrives after completion starts
	// a fresh Get/compute rather than replaying a stale cached error.
	result, err, _ := m.group.Do(key, func() (interface{}, error) {
		// Double-checked: another caller may have populated the cache
		// between our first Get and winning the single-flight race.
		if v, ok := m.Get(ctx, key); ok {
			return v, nil
		}

		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		m.SetWithStrategy(ctx, key, v, strategy)
		return v, nil
	})

	if err != nil {
		return nil, err
	}
	return result.(domain.Snapshot), nil
}
