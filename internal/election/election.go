// Package election implements the C4 Leader Election Service: a long-lived
// state machine that acquires, renews, and releases a named lock in the
// shared KV store and publishes a process-wide "am I leader" flag, following
// the same acquire/renew/release shape as the teacher's
// internal/adapters/storage/lease_manager.go, generalized from a
// storage-backed lease into a full background state machine per spec §4.4.
package election

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/marketfanout/engine/internal/ports"
)

// LockKey is the shared store key guarding leadership (spec §6).
const LockKey = "websocket:leader"

// maxConsecutiveRenewFailures bounds how many consecutive renew errors a
// leader tolerates before demoting itself; a single transient failure never
// demotes. At the default 5s heartbeat and 10s LockTTL, the third
// consecutive miss comes 15s after the last successful renew, after the lock
// has already expired in the store (at 10s).
const maxConsecutiveRenewFailures = 3

// StoreSuccessRecorder receives a notification on every store round trip
// that completed without error, regardless of its outcome (acquired or not,
// renewed or not). The health reporter is the production implementation.
type StoreSuccessRecorder interface {
	RecordStoreSuccess()
}

// Role is the node's current position in the state machine.
type Role int

const (
	RoleFollower Role = iota
	RoleLeader
	RoleReleased
)

func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "leader"
	case RoleReleased:
		return "released"
	default:
		return "follower"
	}
}

// Service runs the election state machine for one node.
type Service struct {
	store ports.KVStore
	nodeID string
	logger *slog.Logger

	heartbeatInterval time.Duration
	lockTTL           time.Duration
	acquireRetry      time.Duration

	isLeader            atomic.Bool
	role                atomic.Int32
	consecutiveFailures atomic.Int64

	recorder StoreSuccessRecorder

	stopCh chan struct{}
	doneCh chan struct{}
}

// SetRecorder attaches a StoreSuccessRecorder notified after every store
// call that completes without error. Optional; nil is a no-op.
func (s *Service) SetRecorder(r StoreSuccessRecorder) {
	s.recorder = r
}

func (s *Service) recordSuccess() {
	if s.recorder != nil {
		s.recorder.RecordStoreSuccess()
	}
}

// Config bundles the election service's timing parameters.
type Config struct {
	HeartbeatInterval time.Duration
	LockTTL           time.Duration
	AcquireRetry      time.Duration
}

func New(store ports.KVStore, nodeID string, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AcquireRetry <= 0 {
		cfg.AcquireRetry = cfg.HeartbeatInterval
	}
	s := &Service{
		store:             store,
		nodeID:            nodeID,
		logger:            logger.With("component", "election", "node_id", nodeID),
		heartbeatInterval: cfg.HeartbeatInterval,
		lockTTL:           cfg.LockTTL,
		acquireRetry:      cfg.AcquireRetry,
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}
	s.role.Store(int32(RoleFollower))
	return s
}

// IsLeader reports the current process-wide leader flag. Sequentially
// consistent is sufficient (spec §9): the election task is the sole writer,
// and an atomic load here happens-after any prior atomic store.
func (s *Service) IsLeader() bool { return s.isLeader.Load() }

// Role reports the current state machine position.
func (s *Service) Role() Role { return Role(s.role.Load()) }

// NodeID returns this replica's identifier.
func (s *Service) NodeID() string { return s.nodeID }

// Start begins the background acquire/renew loop. It returns once the first
// acquisition attempt has been made, so a caller starting the dispatcher
// immediately afterward observes a meaningful (if still false) leader flag.
func (s *Service) Start(ctx context.Context) {
	s.tryAcquire(ctx)
	go s.run(ctx)
}

func (s *Service) run(ctx context.Context) {
	defer close(s.doneCh)

	// Leaders renew every heartbeatInterval; followers retry acquisition
	// every acquireRetry.
	interval := func() time.Duration {
		if s.Role() == RoleLeader {
			return s.heartbeatInterval
		}
		return s.acquireRetry
	}
	timer := time.NewTimer(interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.release(context.Background())
			return
		case <-s.stopCh:
			s.release(context.Background())
			return
		case <-timer.C:
			if s.Role() == RoleLeader {
				s.renew(ctx)
			} else {
				s.tryAcquire(ctx)
			}
			timer.Reset(interval())
		}
	}
}

func (s *Service) callCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.heartbeatInterval)
}

func (s *Service) tryAcquire(ctx context.Context) {
	callCtx, cancel := s.callCtx(ctx)
	defer cancel()

	acquired, err := s.store.SetIfAbsent(callCtx, LockKey, s.nodeID, s.lockTTL)
	if err != nil {
		// StoreUnavailable during acquisition keeps the node a follower,
		// the safe default per spec §4.4.
		s.logger.Debug("acquire attempt failed, staying follower", "error", err)
		return
	}
	s.recordSuccess()
	if !acquired {
		return
	}

	s.role.Store(int32(RoleLeader))
	s.isLeader.Store(true)
	s.consecutiveFailures.Store(0)
	s.logger.Info("acquired leadership")
}

func (s *Service) renew(ctx context.Context) {
	callCtx, cancel := s.callCtx(ctx)
	defer cancel()

	renewed, err := s.store.CompareAndRenew(callCtx, LockKey, s.nodeID, s.lockTTL)
	if err != nil {
		n := s.consecutiveFailures.Add(1)
		s.logger.Warn("renew attempt failed", "error", err, "consecutive_failures", n)
		if n >= maxConsecutiveRenewFailures {
			s.demote("store unavailable for too many consecutive heartbeats")
		}
		return
	}
	s.recordSuccess()
	if !renewed {
		s.demote("renew rejected: lock owned by another node or expired")
		return
	}
	s.consecutiveFailures.Store(0)
}

func (s *Service) demote(reason string) {
	s.role.Store(int32(RoleFollower))
	s.isLeader.Store(false)
	s.logger.Warn("demoted to follower", "reason", reason)
}

// Stop signals graceful shutdown: the service attempts CompareAndDelete
// exactly once, then blocks until the background loop has exited or ctx
// expires (spec §9's "scoped resource release... exactly once on every exit
// path").
func (s *Service) Stop(ctx context.Context) {
	close(s.stopCh)
	select {
	case <-s.doneCh:
	case <-ctx.Done():
	}
}

func (s *Service) release(ctx context.Context) {
	if s.Role() != RoleLeader {
		s.role.Store(int32(RoleReleased))
		return
	}

	callCtx, cancel := s.callCtx(ctx)
	defer cancel()

	deleted, err := s.store.CompareAndDelete(callCtx, LockKey, s.nodeID)
	if err != nil {
		// Logged but not fatal: the TTL will expire on its own (spec §4.4).
		s.logger.Warn("graceful release failed, lock will expire via TTL", "error", err)
	} else {
		s.recordSuccess()
		if deleted {
			s.logger.Info("released leadership gracefully")
		} else {
			s.logger.Warn("lock no longer held at release, nothing deleted")
		}
	}

	s.isLeader.Store(false)
	s.role.Store(int32(RoleReleased))
}
