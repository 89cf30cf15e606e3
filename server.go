package authd

import (
	"fmt"
	"log/slog"

	"github.com/giantswarm/authd/identity"
	"github.com/giantswarm/authd/security"
	"github.com/giantswarm/authd/server"
	"github.com/giantswarm/authd/storage"
)

// New assembles a fully wired authorization server and returns its HTTP
// handler. The storage backend and identity resolver are the two integration
// points; everything else (auditing, rate limiting, secure defaults) is
// configured from cfg.
//
// For finer control, construct the pieces directly: server.New for the core
// flows, then NewHandler for the HTTP façade.
func New(store storage.Store, resolver identity.Resolver, cfg *Config) (*Handler, error) {
	if cfg == nil || cfg.Server == nil {
		return nil, fmt.Errorf("config with Server section is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	srv, err := server.New(store, resolver, cfg.Server, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Security.EnableAuditLogging {
		srv.SetAuditor(security.NewAuditor(logger, true))
	}

	applyRateLimitDefaults(&cfg.RateLimit)
	if cfg.RateLimit.Rate > 0 {
		srv.SetRateLimiter(security.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, logger))
	}
	if cfg.RateLimit.UserRate > 0 {
		srv.SetUserRateLimiter(security.NewRateLimiter(cfg.RateLimit.UserRate, cfg.RateLimit.UserBurst, logger))
	}
	srv.SetSecurityEventRateLimiter(security.NewRateLimiter(DefaultSecurityEventRate, DefaultSecurityEventBurst, logger))

	h := NewHandler(srv, logger)
	if cfg.Security.AllowBearerQueryParameter {
		h.AllowBearerQueryParameter(true)
	}

	return h, nil
}
