package server

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/authd/identity"
	"github.com/giantswarm/authd/instrumentation"
	"github.com/giantswarm/authd/security"
	"github.com/giantswarm/authd/storage"
)

// safeTruncate safely truncates a string to maxLen characters without panicking.
// Returns the original string if it's shorter than maxLen, otherwise returns
// the first maxLen characters. This prevents index out of bounds errors when logging.
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// Server implements the OAuth 2.1 authorization server logic.
// It coordinates the grant flows using a storage backend and an identity
// resolver, and mints access tokens signed with per-client derived keys.
type Server struct {
	store    storage.Store
	identity identity.Resolver
	keys     *KeyDeriver
	signer   *Signer

	Auditor                  *security.Auditor
	RateLimiter              *security.RateLimiter // IP-based rate limiter
	UserRateLimiter          *security.RateLimiter // User-based rate limiter (authenticated requests)
	SecurityEventRateLimiter *security.RateLimiter // Rate limiter for security event logging (DoS prevention)
	Instrumentation          *instrumentation.Instrumentation
	Logger                   *slog.Logger
	Config                   *Config
}

// New creates a new OAuth server
func New(
	store storage.Store,
	resolver identity.Resolver,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("identity resolver is required")
	}
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	if logger == nil {
		logger = slog.Default()
	}

	// Apply secure defaults
	config = applySecureDefaults(config, logger)

	keys, err := NewKeyDeriver(config.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("invalid master key: %w", err)
	}

	signer, err := NewSigner(config.Issuer, keys, time.Duration(config.ClockSkewGracePeriod)*time.Second)
	if err != nil {
		return nil, err
	}

	srv := &Server{
		store:    store,
		identity: resolver,
		keys:     keys,
		signer:   signer,
		Config:   config,
		Logger:   logger,
	}

	// Validate HTTPS enforcement (OAuth 2.1 security requirement)
	if err := srv.validateHTTPSEnforcement(); err != nil {
		return nil, err
	}

	// Configure storage retention if storage supports it
	type retentionSetter interface {
		SetRevokedRetentionHours(hours int64)
	}
	if setter, ok := store.(retentionSetter); ok {
		setter.SetRevokedRetentionHours(config.RevokedRetentionHours)
	}

	return srv, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetRateLimiter sets the IP-based rate limiter
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetUserRateLimiter sets the user-based rate limiter for authenticated requests
func (s *Server) SetUserRateLimiter(rl *security.RateLimiter) {
	s.UserRateLimiter = rl
}

// SetSecurityEventRateLimiter sets the rate limiter for security event logging
// This prevents DoS attacks via log flooding from repeated security events
func (s *Server) SetSecurityEventRateLimiter(rl *security.RateLimiter) {
	s.SecurityEventRateLimiter = rl
}

// SetInstrumentation sets the OpenTelemetry instrumentation
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
}

// Keys returns the server's key deriver, for provisioning tooling that needs
// to hand derived client secrets to client operators.
func (s *Server) Keys() *KeyDeriver {
	return s.keys
}

// Signer returns the server's access token signer.
func (s *Server) Signer() *Signer {
	return s.signer
}

// generateRandomToken generates a cryptographically secure random token.
// This is an alias for oauth2.GenerateVerifier() which produces a URL-safe,
// base64-encoded random string suitable for codes, token IDs, etc.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
