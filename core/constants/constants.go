package constants

import "time"

// Database
const (
	DatabaseMaxOpenConns    = 25
	DatabaseMaxIdleConns    = 5
	DatabaseConnMaxLifetime = 30 // minutes
	DatabaseSSLMode         = "disable"
)

// Timeouts
const (
	DefaultTimeout       = 30 * time.Second
	ProviderCallTimeout  = 15 * time.Second
	TokenExchangeTimeout = 10 * time.Second
)

// Calendar sync
const (
	// TokenRefreshLeeway is how close to expiry an access token may be
	// before a refresh is attempted.
	TokenRefreshLeeway = 60 * time.Second

	// CacheStaleThreshold is the age past which cached busy windows are
	// reported as stale.
	CacheStaleThreshold = 10 * time.Minute

	// BusyWindowsMemoTTL is the redis memoization TTL for aggregated busy
	// windows served to the booking page.
	BusyWindowsMemoTTL = 30 * time.Second

	// MaxConcurrentConnections bounds per-tutor provider fan-out.
	MaxConcurrentConnections = 4

	// ProviderPageSize is the page size requested from provider listing
	// APIs. Google caps at 2500.
	ProviderPageSize = 2500
)
