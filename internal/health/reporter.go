// Package health implements the core-side health contract spec §6
// describes: a pure status computation (composing the KV gateway's last
// successful call and the election service's role) with no HTTP framing,
// following the shape of the teacher's own health checker
// (internal/adapters/health/health_checker.go) which composes collaborator
// status into a single struct rather than owning a transport.
package health

import (
	"sync"
	"time"
)

// Status is the health contract's result. The HTTP endpoint that exposes
// it is a Non-goal (spec §1); this is what such an endpoint would call.
type Status struct {
	Healthy      bool      `json:"healthy"`
	Role         string    `json:"role"`
	LastStoreOK  time.Time `json:"last_store_ok,omitempty"`
	Detail       string    `json:"detail,omitempty"`
}

// RoleReader is the minimal surface health needs from the election service.
type RoleReader interface {
	Role() string
}

// Reporter composes the KV gateway's reachability with the node's role.
// Never reports unhealthy solely for being a follower (spec §6).
type Reporter struct {
	mu          sync.Mutex
	lastStoreOK time.Time
	role        RoleReader
	staleAfter  time.Duration
}

func New(role RoleReader, staleAfter time.Duration) *Reporter {
	if staleAfter <= 0 {
		staleAfter = time.Minute
	}
	return &Reporter{role: role, staleAfter: staleAfter}
}

// RecordStoreSuccess is called after a KV store round trip that completed
// without error: by the election service (acquire, renew, release) and by
// the cache manager (L2 reads and writes).
func (r *Reporter) RecordStoreSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastStoreOK = time.Now()
}

// Check computes the current status. A follower with a recent successful
// read is healthy; only a store that has never been reachable, or has gone
// stale for longer than staleAfter, is unhealthy.
func (r *Reporter) Check() Status {
	r.mu.Lock()
	last := r.lastStoreOK
	r.mu.Unlock()

	role := "follower"
	if r.role != nil {
		role = r.role.Role()
	}

	if last.IsZero() {
		return Status{Healthy: false, Role: role, Detail: "no successful store contact yet"}
	}
	if time.Since(last) > r.staleAfter {
		return Status{Healthy: false, Role: role, LastStoreOK: last, Detail: "store contact stale"}
	}
	return Status{Healthy: true, Role: role, LastStoreOK: last}
}
