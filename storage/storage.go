// Package storage defines interfaces for persisting OAuth clients, authorization
// codes, and tokens. It supports various backend implementations including
// in-memory, PostgreSQL, and Valkey.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by store implementations. Callers use errors.Is to
// distinguish outcomes; backends wrap these with additional detail.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrExpired indicates the record exists but its lifetime has elapsed.
	ErrExpired = errors.New("storage: expired")

	// ErrRevoked indicates the record exists but has been revoked.
	ErrRevoked = errors.New("storage: revoked")

	// ErrReplayed indicates a single-use credential was presented again after
	// it had already been consumed. Callers treat this as evidence of theft
	// and trigger cascading revocation.
	ErrReplayed = errors.New("storage: already consumed")

	// ErrUnavailable indicates a transient backend failure. Operations that
	// fail with this error are safe to retry.
	ErrUnavailable = errors.New("storage: temporarily unavailable")
)

// ClientStore defines the interface for managing OAuth client registrations.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient saves a registered client
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID. Returns ErrNotFound for unknown IDs.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ListClients lists all registered clients (for admin purposes)
	ListClients(ctx context.Context) ([]*Client, error)
}

// CodeStore defines the interface for managing authorization codes.
// Codes are single-use: consumption is an atomic check-and-mark so that
// concurrent exchanges of the same code produce exactly one winner.
// All methods accept context.Context for tracing and cancellation.
type CodeStore interface {
	// SaveAuthorizationCode saves an issued authorization code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves an authorization code without consuming it.
	// Used records are still returned; callers inspect the Used flag.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// ConsumeAuthorizationCode atomically checks that a code is unused and marks
	// it as used. Exactly one concurrent caller succeeds. Returns the code
	// record on success, or:
	//   - ErrNotFound if the code does not exist
	//   - ErrExpired if the code's lifetime has elapsed
	//   - ErrRevoked if the code was revoked
	//   - ErrReplayed if the code was already consumed; the returned record is
	//     non-nil in this case so the caller can revoke the tokens it minted
	// SECURITY: This operation MUST be atomic to prevent concurrent code
	// exchange attacks.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// RevokeAuthorizationCode marks a code revoked. Consumed or already-revoked
	// codes are left as-is; the operation is idempotent. Records are retained
	// for replay forensics rather than deleted.
	RevokeAuthorizationCode(ctx context.Context, code string) error
}

// TokenStore defines the interface for managing access and refresh tokens.
// Refresh tokens carry family lineage for rotation and reuse detection.
// All methods accept context.Context for tracing and cancellation.
type TokenStore interface {
	// SaveAccessToken saves an issued access token record
	SaveAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken retrieves an access token record by ID.
	// Returns ErrNotFound for unknown IDs and ErrRevoked for revoked tokens.
	GetAccessToken(ctx context.Context, id string) (*AccessToken, error)

	// RevokeAccessToken marks an access token revoked. Revoking an unknown or
	// already-revoked token is not an error; the operation is idempotent.
	RevokeAccessToken(ctx context.Context, id string) error

	// SaveRefreshToken saves an issued refresh token record
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken retrieves a refresh token record by ID without consuming it
	GetRefreshToken(ctx context.Context, id string) (*RefreshToken, error)

	// ConsumeRefreshToken atomically checks that a refresh token is unrotated
	// and marks it rotated. Exactly one concurrent caller succeeds. Returns the
	// token record on success, or:
	//   - ErrNotFound if the token does not exist
	//   - ErrExpired if the token's lifetime has elapsed
	//   - ErrRevoked if the token or its family was revoked
	//   - ErrReplayed if the token was already rotated; the returned record is
	//     non-nil in this case so the caller can revoke the whole family
	// SECURITY: This operation MUST be atomic to prevent concurrent token
	// refresh attacks.
	ConsumeRefreshToken(ctx context.Context, id string) (*RefreshToken, error)

	// RevokeRefreshToken marks a single refresh token revoked. Idempotent.
	RevokeRefreshToken(ctx context.Context, id string) error

	// RevokeRefreshTokenFamily revokes every refresh token that shares the
	// given family ID. Returns the number of tokens newly revoked.
	RevokeRefreshTokenFamily(ctx context.Context, familyID string) (int, error)

	// RevokeAllTokensForUserClient revokes all tokens (access + refresh) for a
	// specific user+client combination. This is called when authorization code
	// reuse is detected. Returns the number of tokens newly revoked.
	RevokeAllTokensForUserClient(ctx context.Context, userID, clientID string) (int, error)

	// GetTokensByUserClient retrieves all live token IDs for a user+client
	// combination (for testing/debugging).
	GetTokensByUserClient(ctx context.Context, userID, clientID string) ([]string, error)
}

// Store aggregates the three store interfaces. Backends that persist all
// record kinds implement it.
type Store interface {
	ClientStore
	CodeStore
	TokenStore
}

// Client represents a registered OAuth client.
//
// Confidential clients normally carry no stored secret: secrets are derived
// deterministically from the server's master key and verified in constant
// time, so a database compromise leaks no credential material. SecretHash is
// an optional bcrypt override for clients provisioned with an externally
// chosen secret.
type Client struct {
	ClientID     string
	ClientType   string // "public" or "confidential"
	RedirectURIs []string
	ClientName   string
	GrantTypes   []string
	Scopes       []string
	SecretHash   string // bcrypt hash, empty when the secret is derived
	CreatedAt    time.Time
}

// IsPublic reports whether the client is a public (secret-less) client.
func (c *Client) IsPublic() bool {
	return c.ClientType == "public"
}

// AuthorizationCode represents an issued authorization code.
// Consumed codes are marked Used and retained so that a second presentation
// of the same code can be recognized as replay.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	UserID              string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Used                bool
	UsedAt              time.Time
	Revoked             bool
}

// AccessToken is the server-side record of an issued access token.
// The token string itself is a signed JWT handed to the client; the record
// keys on the JWT ID (jti) claim and exists for revocation checks.
type AccessToken struct {
	ID             string // JWT ID (jti)
	UserID         string
	ClientID       string
	Scope          string
	RefreshTokenID string // paired refresh token, empty if none
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Revoked        bool
	RevokedAt      time.Time
}

// RefreshToken is the server-side record of an issued refresh token.
// Tokens form rotation families: each grant starts a family, and every
// rotation issues a successor with Generation+1 in the same family. A
// rotated (Used) token presented again is treated as stolen and the entire
// family is revoked.
type RefreshToken struct {
	ID            string
	UserID        string
	ClientID      string
	Scope         string
	FamilyID      string
	Generation    int
	AccessTokenID string // paired access token, revoked together on rotation
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Used          bool
	UsedAt        time.Time
	Revoked       bool
	RevokedAt     time.Time
}
