package config

import "errors"

var (
	errMissingRedisURL = errors.New("config: REDIS_URL is required")
	errLockTTLTooShort  = errors.New("config: LOCK_TTL_SECONDS must be at least 2x HEARTBEAT_INTERVAL_SECONDS")
)
