// Package kvstore implements the C1 KV Store Gateway: typed, atomic
// operations against the shared Redis-compatible store, grounded on the
// Redis SET NX EX / Lua CAS patterns in the original leader-election service
// and on the teacher's storage-adapter error wrapping
// (internal/adapters/storage/lease_manager.go).
package kvstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marketfanout/engine/internal/domain"
)

// renewScript atomically extends a key's TTL only if its current value
// still equals the caller-supplied owner token. Mirrors the Lua script in
// the original Redis-backed leader election service.
const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("EXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`

// deleteScript atomically deletes a key only if its current value still
// equals the caller-supplied owner token.
const deleteScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// Gateway is the go-redis-backed implementation of ports.KVStore.
type Gateway struct {
	client  *redis.Client
	logger  *slog.Logger
	renew   *redis.Script
	release *redis.Script
}

// New dials the shared store and verifies connectivity with a single PING,
// mirroring LeaderElectionService::new in the original implementation.
func New(ctx context.Context, redisURL string, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "kvstore")

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, domain.NewError(domain.KindStoreProtocol, "connect", "", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, domain.NewError(domain.KindStoreUnavailable, "connect", "", err)
	}

	logger.Info("connected to shared store")

	return &Gateway{
		client:  client,
		logger:  logger,
		renew:   redis.NewScript(renewScript),
		release: redis.NewScript(deleteScript),
	}, nil
}

// NewFromClient wraps an existing go-redis client instead of dialing one; it
// does not PING the server.
func NewFromClient(client *redis.Client, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		client:  client,
		logger:  logger.With("component", "kvstore"),
		renew:   redis.NewScript(renewScript),
		release: redis.NewScript(deleteScript),
	}
}

func (g *Gateway) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		g.logger.Error("set-if-absent failed", "key", key, "error", err)
		return false, wrapErr("set_if_absent", key, err)
	}
	return ok, nil
}

func (g *Gateway) CompareAndRenew(ctx context.Context, key, expectedValue string, ttl time.Duration) (bool, error) {
	res, err := g.renew.Run(ctx, g.client, []string{key}, expectedValue, int64(ttl.Seconds())).Int64()
	if err != nil {
		g.logger.Warn("compare-and-renew failed", "key", key, "error", err)
		return false, wrapErr("compare_and_renew", key, err)
	}
	return res == 1, nil
}

func (g *Gateway) CompareAndDelete(ctx context.Context, key, expectedValue string) (bool, error) {
	res, err := g.release.Run(ctx, g.client, []string{key}, expectedValue).Int64()
	if err != nil {
		g.logger.Warn("compare-and-delete failed", "key", key, "error", err)
		return false, wrapErr("compare_and_delete", key, err)
	}
	return res == 1, nil
}

func (g *Gateway) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := g.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		g.logger.Error("get failed", "key", key, "error", err)
		return "", false, wrapErr("get", key, err)
	}
	return val, true, nil
}

func (g *Gateway) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := g.client.Set(ctx, key, value, ttl).Err(); err != nil {
		g.logger.Error("set-with-ttl failed", "key", key, "error", err)
		return wrapErr("set_with_ttl", key, err)
	}
	return nil
}

// StreamAppend appends to a Redis stream with exact MAXLEN trimming, so the
// stream never holds more than maxLen entries, as specified in spec §6 for
// market_data_stream.
func (g *Gateway) StreamAppend(ctx context.Context, streamKey string, fields map[string]string, maxLen int64) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	id, err := g.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: maxLen,
		Approx: false,
		Values: values,
	}).Result()
	if err != nil {
		g.logger.Warn("stream append failed", "stream", streamKey, "error", err)
		return "", wrapErr("stream_append", streamKey, err)
	}
	return id, nil
}

func (g *Gateway) Close() error {
	return g.client.Close()
}

func wrapErr(op, key string, err error) error {
	return domain.NewError(domain.KindStoreUnavailable, op, key, err)
}
