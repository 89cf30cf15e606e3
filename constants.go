package authd

import "time"

// Default lifetimes applied when the corresponding Config fields are zero.
const (
	// DefaultAuthorizationCodeTTL is how long authorization codes stay valid.
	DefaultAuthorizationCodeTTL = 10 * time.Minute

	// DefaultAccessTokenTTL is how long access tokens stay valid.
	DefaultAccessTokenTTL = 1 * time.Hour

	// DefaultRefreshTokenTTL is how long refresh tokens stay valid.
	DefaultRefreshTokenTTL = 90 * 24 * time.Hour

	// DefaultRevokedRetention is how long consumed and revoked records are
	// kept around for replay forensics.
	DefaultRevokedRetention = 24 * time.Hour

	// DefaultRateLimitCleanupInterval is how often inactive per-IP and
	// per-user limiters are evicted.
	DefaultRateLimitCleanupInterval = 5 * time.Minute
)

// Rate limiting defaults.
const (
	// DefaultRateLimitRate is requests per second allowed per IP.
	DefaultRateLimitRate = 10

	// DefaultRateLimitBurst is the burst size allowed per IP.
	DefaultRateLimitBurst = 20

	// DefaultUserRateLimitRate is requests per second per authenticated user.
	DefaultUserRateLimitRate = 20

	// DefaultUserRateLimitBurst is the burst size per authenticated user.
	DefaultUserRateLimitBurst = 40

	// DefaultSecurityEventRate limits security event log records per second
	// per source, preventing log flooding from replay probes.
	DefaultSecurityEventRate = 5

	// DefaultSecurityEventBurst is the burst size for security event logging.
	DefaultSecurityEventBurst = 10
)

// PKCE bounds per RFC 7636 Section 4.1.
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
)

// Clock skew grace (seconds) applied to token expiry checks.
const ClockSkewGrace = 5

// Client types.
const (
	ClientTypeConfidential = "confidential"
	ClientTypePublic       = "public"
)

// Grant types accepted at the token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// ResponseTypeCode is the only supported response_type.
const ResponseTypeCode = "code"

// PKCE challenge methods.
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

const tokenTypeBearer = "Bearer"

// SupportedTokenAuthMethods lists the token endpoint auth methods advertised
// in the server metadata.
var SupportedTokenAuthMethods = []string{"client_secret_basic", "client_secret_post", "none"}
