package authd

import (
	"log/slog"

	"github.com/giantswarm/authd/server"
)

// Config holds the top-level configuration for a fully assembled
// authorization server (core flows, rate limiting, auditing, HTTP façade).
// Structured using composition for better organization and maintainability
type Config struct {
	// Server is the core flow configuration (issuer, master key, TTLs,
	// PKCE policy). Required; at minimum Issuer and MasterKey must be set.
	Server *server.Config

	// RateLimit is the rate limiting configuration
	RateLimit RateLimitConfig

	// Security holds façade-level security settings (secure by default)
	Security SecurityConfig

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero applies the default;
	// negative disables IP limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// UserRate is requests per second allowed per authenticated user.
	// Applied in addition to IP-based limiting. Zero applies the default;
	// negative disables user limiting.
	UserRate int

	// UserBurst is the maximum burst size per authenticated user.
	UserBurst int
}

// SecurityConfig holds façade security settings (secure by default)
type SecurityConfig struct {
	// EnableAuditLogging enables security audit logging.
	// Logs auth events, token operations, and violations.
	EnableAuditLogging bool

	// AllowBearerQueryParameter accepts access tokens via the access_token
	// query parameter in addition to the Authorization header.
	// WARNING: Query parameters end up in access logs and browser history.
	// Only enable for clients that cannot set headers. Logged at startup.
	AllowBearerQueryParameter bool
}

// applyRateLimitDefaults fills zero values with the package defaults.
// Negative values disable the corresponding limiter.
func applyRateLimitDefaults(cfg *RateLimitConfig) {
	if cfg.Rate == 0 {
		cfg.Rate = DefaultRateLimitRate
	}
	if cfg.Burst == 0 {
		cfg.Burst = DefaultRateLimitBurst
	}
	if cfg.UserRate == 0 {
		cfg.UserRate = DefaultUserRateLimitRate
	}
	if cfg.UserBurst == 0 {
		cfg.UserBurst = DefaultUserRateLimitBurst
	}
}
