// Package nodeid generates the process-lifetime-unique identifier each
// replica uses as its lock value, following the same uuid-based approach
// the teacher uses for its bootstrap identifiers
// (internal/helpers/metadata.GenerateBootID).
package nodeid

import "github.com/google/uuid"

// New returns seed if non-empty (an externally provided REPLICA_ID per
// spec §6), otherwise a fresh random identifier.
func New(seed string) string {
	if seed != "" {
		return seed
	}
	return uuid.New().String()
}
