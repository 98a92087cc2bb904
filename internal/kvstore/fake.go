package kvstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-process stand-in for the shared store used by tests that
// exercise the election and cache-manager state machines without a real
// Redis instance. Its map+mutex shape and stream-entry bookkeeping are
// grounded on the snapshot's own Store type (other_examples/lhiradi-Redis-go__store.go).
type Fake struct {
	mu      sync.Mutex
	values  map[string]fakeEntry
	streams map[string][]fakeStreamEntry
	seq     int64

	// Unavailable, when set, makes every operation fail with a transient
	// "store unavailable" style error, for failover/degradation tests.
	Unavailable bool
}

type fakeEntry struct {
	value     string
	expiresAt time.Time
	hasTTL    bool
}

type fakeStreamEntry struct {
	id     string
	fields map[string]string
}

func NewFake() *Fake {
	return &Fake{
		values:  make(map[string]fakeEntry),
		streams: make(map[string][]fakeStreamEntry),
	}
}

func (f *Fake) unavailableErr() error {
	return fmt.Errorf("fake store unavailable")
}

func (f *Fake) expired(e fakeEntry) bool {
	return e.hasTTL && time.Now().After(e.expiresAt)
}

func (f *Fake) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unavailable {
		return false, f.unavailableErr()
	}
	if existing, ok := f.values[key]; ok && !f.expired(existing) {
		return false, nil
	}
	f.values[key] = fakeEntry{value: value, expiresAt: time.Now().Add(ttl), hasTTL: true}
	return true, nil
}

func (f *Fake) CompareAndRenew(_ context.Context, key, expectedValue string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unavailable {
		return false, f.unavailableErr()
	}
	existing, ok := f.values[key]
	if !ok || f.expired(existing) || existing.value != expectedValue {
		return false, nil
	}
	existing.expiresAt = time.Now().Add(ttl)
	f.values[key] = existing
	return true, nil
}

func (f *Fake) CompareAndDelete(_ context.Context, key, expectedValue string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unavailable {
		return false, f.unavailableErr()
	}
	existing, ok := f.values[key]
	if !ok || f.expired(existing) || existing.value != expectedValue {
		return false, nil
	}
	delete(f.values, key)
	return true, nil
}

func (f *Fake) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unavailable {
		return "", false, f.unavailableErr()
	}
	existing, ok := f.values[key]
	if !ok || f.expired(existing) {
		return "", false, nil
	}
	return existing.value, true, nil
}

func (f *Fake) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unavailable {
		return f.unavailableErr()
	}
	f.values[key] = fakeEntry{value: value, expiresAt: time.Now().Add(ttl), hasTTL: ttl > 0}
	return nil
}

func (f *Fake) StreamAppend(_ context.Context, streamKey string, fields map[string]string, maxLen int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unavailable {
		return "", f.unavailableErr()
	}
	f.seq++
	id := fmt.Sprintf("%d-0", f.seq)
	entry := fakeStreamEntry{id: id, fields: cloneFields(fields)}
	stream := append(f.streams[streamKey], entry)
	if maxLen > 0 && int64(len(stream)) > maxLen {
		stream = stream[int64(len(stream))-maxLen:]
	}
	f.streams[streamKey] = stream
	return id, nil
}

func (f *Fake) Close() error { return nil }

// StreamLen exposes the current length of a stream for P8 assertions.
func (f *Fake) StreamLen(streamKey string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams[streamKey])
}

func cloneFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
