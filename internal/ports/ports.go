// Package ports defines the interfaces the core depends on: the shared KV
// store (C1's contract), and the two external collaborators the spec treats
// as opaque (UpstreamFetcher, ClientHub).
package ports

import (
	"context"
	"time"

	"github.com/marketfanout/engine/internal/domain"
)

// KVStore is the typed gateway contract to the shared external key-value
// store (spec §4.1). Implementations must make CompareAndRenew and
// CompareAndDelete single round-trip atomic.
type KVStore interface {
	// SetIfAbsent succeeds only if key is currently absent.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (acquired bool, err error)

	// CompareAndRenew succeeds only if the current value equals expectedValue.
	CompareAndRenew(ctx context.Context, key, expectedValue string, ttl time.Duration) (renewed bool, err error)

	// CompareAndDelete succeeds only if the current value equals expectedValue.
	CompareAndDelete(ctx context.Context, key, expectedValue string) (deleted bool, err error)

	// Get returns the current value, or ok=false if absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// SetWithTTL writes unconditionally.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// StreamAppend appends fields to a capped, append-only log, evicting the
	// oldest entries so the stream never exceeds maxLen, and returns the new
	// entry's ID.
	StreamAppend(ctx context.Context, streamKey string, fields map[string]string, maxLen int64) (entryID string, err error)

	Close() error
}

// UpstreamFetcher is the opaque collaborator that performs outbound calls to
// the upstream market-data providers. The core never interprets its result
// beyond round-tripping it; normalization is C6's job.
type UpstreamFetcher interface {
	Fetch(ctx context.Context) (domain.Snapshot, error)
}

// ClientHub is the opaque streaming-transport collaborator. Broadcast must
// be non-blocking: slow subscribers are the hub's problem, never the
// dispatcher's.
type ClientHub interface {
	Broadcast(payload domain.Snapshot)
}
