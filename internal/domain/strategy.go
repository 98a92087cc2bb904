package domain

import "time"

// CacheStrategy is the closed enum of TTL policies applied to L2 writes.
type CacheStrategy struct {
	name string
	ttl  time.Duration
}

func (s CacheStrategy) String() string   { return s.name }
func (s CacheStrategy) TTL() time.Duration { return s.ttl }

var (
	// RealTime backs the canonical "latest_market_data" key.
	RealTime = CacheStrategy{name: "real_time", ttl: 30 * time.Second}
	// ShortTerm is used for data that tolerates a few minutes of staleness.
	ShortTerm = CacheStrategy{name: "short_term", ttl: 5 * time.Minute}
	// MediumTerm is used for slower-moving derived data.
	MediumTerm = CacheStrategy{name: "medium_term", ttl: time.Hour}
	// LongTerm is used for rarely-changing reference data.
	LongTerm = CacheStrategy{name: "long_term", ttl: 3 * time.Hour}
	// Default mirrors ShortTerm; it is the strategy applied when a caller
	// does not pick one explicitly.
	Default = ShortTerm
)

// Custom builds a one-off strategy with an arbitrary TTL.
func Custom(d time.Duration) CacheStrategy {
	return CacheStrategy{name: "custom", ttl: d}
}

// L1MaxTTL bounds how long any entry may live in the in-process cache,
// regardless of the L2 strategy's TTL.
const L1MaxTTL = 5 * time.Minute

// L1Cap returns the TTL to apply in L1 for a given strategy or remaining L2
// lifetime: min(d, L1MaxTTL).
func L1Cap(d time.Duration) time.Duration {
	if d > L1MaxTTL {
		return L1MaxTTL
	}
	return d
}
