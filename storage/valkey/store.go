package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/authd/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "authd:"

	// DefaultRevokedRetention is how long consumed and revoked records are
	// kept past their logical expiry. The retention window is what makes
	// replay detection work across the cluster.
	DefaultRevokedRetention = 24 * time.Hour

	// tokenIDLogLength is the number of characters to include when logging token IDs
	tokenIDLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxIDLength is the maximum allowed length for identifiers (token IDs, userID, clientID, familyID)
	MaxIDLength = 256
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "authd:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// RevokedRetention is how long consumed/revoked records are kept past
	// expiry for replay detection. Default: 24 hours
	RevokedRetention time.Duration
}

// Store is a Valkey-backed implementation of all storage interfaces.
// It implements ClientStore, CodeStore, and TokenStore.
//
// Single-use semantics are enforced with Lua scripts so that concurrent
// exchanges across server instances still produce exactly one winner.
type Store struct {
	client           valkeygo.Client
	prefix           string
	logger           *slog.Logger
	revokedRetention time.Duration
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.CodeStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.Store       = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retention := cfg.RevokedRetention
	if retention <= 0 {
		retention = DefaultRevokedRetention
	}

	// Build client options
	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client:           client,
		prefix:           prefix,
		logger:           logger,
		revokedRetention: retention,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// validateStringLength checks if a string exceeds the maximum allowed length
func validateStringLength(value string, maxLen int, fieldName string) error {
	if len(value) > maxLen {
		return fmt.Errorf("%s exceeds maximum length of %d bytes", fieldName, maxLen)
	}
	return nil
}

// ============================================================
// Key Helpers
// ============================================================

// clientKey returns the key for a client: {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

// clientIndexKey returns the key for the set of registered client IDs
func (s *Store) clientIndexKey() string {
	return fmt.Sprintf("%sclients", s.prefix)
}

// codeKey returns the key for an authorization code: {prefix}code:{code}
func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, code)
}

// accessTokenKey returns the key for an access token record: {prefix}at:{id}
func (s *Store) accessTokenKey(id string) string {
	return fmt.Sprintf("%sat:%s", s.prefix, id)
}

// refreshTokenKey returns the key for a refresh token record: {prefix}rt:{id}
func (s *Store) refreshTokenKey(id string) string {
	return fmt.Sprintf("%srt:%s", s.prefix, id)
}

// familyKey returns the key for a token family set: {prefix}family:{familyID}
func (s *Store) familyKey(familyID string) string {
	return fmt.Sprintf("%sfamily:%s", s.prefix, familyID)
}

// familyRevokedKey returns the key marking a revoked family: {prefix}family:revoked:{familyID}
func (s *Store) familyRevokedKey(familyID string) string {
	return fmt.Sprintf("%sfamily:revoked:%s", s.prefix, familyID)
}

// userClientKey returns the key for user+client token tracking: {prefix}userclient:{userID}:{clientID}
func (s *Store) userClientKey(userID, clientID string) string {
	return fmt.Sprintf("%suserclient:%s:%s", s.prefix, userID, clientID)
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================
//
// These Lua scripts provide atomic operations for security-critical flows.
// Using Lua scripts ensures atomicity in Valkey/Redis, preventing race
// conditions that could lead to code replay or refresh token reuse attacks.

// luaConsumeCode atomically checks that an authorization code is unused and
// marks it used. Only ONE concurrent request can succeed; any concurrent
// attempt to exchange the same code receives "ALREADY_USED".
//
// KEYS[1] = code key (e.g., "authd:code:abc123")
// ARGV[1] = current Unix timestamp in seconds (for expiry check)
//
// Returns:
//   - Updated JSON data if the code was unused and successfully marked used
//   - "NOT_FOUND" if the key doesn't exist in Valkey
//   - "REVOKED" if the code was revoked
//   - "EXPIRED" if the code has expired (ARGV[1] > code.expires_at)
//   - "ALREADY_USED:<json>" if the code was already used (record returned for forensics)
const luaConsumeCode = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local code = cjson.decode(data)

if code.revoked then
    return 'REVOKED'
end

local now = tonumber(ARGV[1])
local expiresAt = tonumber(code.expires_at)
if expiresAt and now > expiresAt then
    return 'EXPIRED'
end

if code.used then
    return 'ALREADY_USED:' .. data
end

code.used = true
code.used_at = now
local updated = cjson.encode(code)
redis.call('SET', KEYS[1], updated, 'KEEPTTL')

return updated
`

// luaConsumeRefresh atomically checks that a refresh token is unrotated and
// marks it rotated. Only ONE concurrent request can succeed; any concurrent
// rotation of the same token receives "ALREADY_USED" so the caller can
// revoke the whole family.
//
// KEYS[1] = refresh token key (e.g., "authd:rt:xyz789")
// KEYS[2] = family revoked marker key
// ARGV[1] = current Unix timestamp in seconds (for expiry check)
//
// Returns:
//   - Updated JSON data on success
//   - "NOT_FOUND" if the key doesn't exist
//   - "REVOKED" if the token or its family was revoked
//   - "EXPIRED" if the token has expired
//   - "ALREADY_USED:<json>" if the token was already rotated
const luaConsumeRefresh = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local token = cjson.decode(data)

if token.revoked then
    return 'REVOKED'
end
if redis.call('EXISTS', KEYS[2]) == 1 then
    return 'REVOKED'
end

local now = tonumber(ARGV[1])
local expiresAt = tonumber(token.expires_at)
if expiresAt and now > expiresAt then
    return 'EXPIRED'
end

if token.used then
    return 'ALREADY_USED:' .. data
end

token.used = true
token.used_at = now
local updated = cjson.encode(token)
redis.call('SET', KEYS[1], updated, 'KEEPTTL')

return updated
`

// luaRevokeRecord marks a stored JSON record revoked if it is live.
// Idempotent: returns 0 if the record is missing or already revoked.
//
// KEYS[1] = record key
// ARGV[1] = current Unix timestamp in seconds (stored as revoked_at)
//
// Returns 1 if the record was newly revoked, 0 otherwise.
const luaRevokeRecord = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 0
end

local record = cjson.decode(data)
if record.revoked then
    return 0
end

record.revoked = true
record.revoked_at = tonumber(ARGV[1])
redis.call('SET', KEYS[1], cjson.encode(record), 'KEEPTTL')

return 1
`

// ============================================================
// JSON Serialization Helpers
// ============================================================

// clientJSON is the JSON representation of an OAuth client
type clientJSON struct {
	ClientID     string   `json:"client_id"`
	ClientType   string   `json:"client_type"`
	RedirectURIs []string `json:"redirect_uris"`
	ClientName   string   `json:"client_name,omitempty"`
	GrantTypes   []string `json:"grant_types,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	SecretHash   string   `json:"secret_hash,omitempty"`
	CreatedAt    int64    `json:"created_at"`
}

func toClientJSON(client *storage.Client) *clientJSON {
	return &clientJSON{
		ClientID:     client.ClientID,
		ClientType:   client.ClientType,
		RedirectURIs: client.RedirectURIs,
		ClientName:   client.ClientName,
		GrantTypes:   client.GrantTypes,
		Scopes:       client.Scopes,
		SecretHash:   client.SecretHash,
		CreatedAt:    client.CreatedAt.Unix(),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	if j == nil {
		return nil
	}
	return &storage.Client{
		ClientID:     j.ClientID,
		ClientType:   j.ClientType,
		RedirectURIs: j.RedirectURIs,
		ClientName:   j.ClientName,
		GrantTypes:   j.GrantTypes,
		Scopes:       j.Scopes,
		SecretHash:   j.SecretHash,
		CreatedAt:    time.Unix(j.CreatedAt, 0),
	}
}

// authorizationCodeJSON is the JSON representation of an authorization code.
// Field names are shared with the Lua scripts; the scripts read and write
// used, used_at, revoked, and expires_at.
type authorizationCodeJSON struct {
	Code                string `json:"code"`
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	UserID              string `json:"user_id"`
	CreatedAt           int64  `json:"created_at"`
	ExpiresAt           int64  `json:"expires_at"`
	Used                bool   `json:"used"`
	UsedAt              int64  `json:"used_at,omitempty"`
	Revoked             bool   `json:"revoked"`
}

func toAuthorizationCodeJSON(code *storage.AuthorizationCode) *authorizationCodeJSON {
	j := &authorizationCodeJSON{
		Code:                code.Code,
		ClientID:            code.ClientID,
		RedirectURI:         code.RedirectURI,
		Scope:               code.Scope,
		CodeChallenge:       code.CodeChallenge,
		CodeChallengeMethod: code.CodeChallengeMethod,
		UserID:              code.UserID,
		CreatedAt:           code.CreatedAt.Unix(),
		ExpiresAt:           code.ExpiresAt.Unix(),
		Used:                code.Used,
		Revoked:             code.Revoked,
	}
	if !code.UsedAt.IsZero() {
		j.UsedAt = code.UsedAt.Unix()
	}
	return j
}

func fromAuthorizationCodeJSON(j *authorizationCodeJSON) *storage.AuthorizationCode {
	if j == nil {
		return nil
	}
	code := &storage.AuthorizationCode{
		Code:                j.Code,
		ClientID:            j.ClientID,
		RedirectURI:         j.RedirectURI,
		Scope:               j.Scope,
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		UserID:              j.UserID,
		CreatedAt:           time.Unix(j.CreatedAt, 0),
		ExpiresAt:           time.Unix(j.ExpiresAt, 0),
		Used:                j.Used,
		Revoked:             j.Revoked,
	}
	if j.UsedAt > 0 {
		code.UsedAt = time.Unix(j.UsedAt, 0)
	}
	return code
}

// accessTokenJSON is the JSON representation of an access token record
type accessTokenJSON struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	ClientID       string `json:"client_id"`
	Scope          string `json:"scope"`
	RefreshTokenID string `json:"refresh_token_id,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	ExpiresAt      int64  `json:"expires_at"`
	Revoked        bool   `json:"revoked"`
	RevokedAt      int64  `json:"revoked_at,omitempty"`
}

func toAccessTokenJSON(token *storage.AccessToken) *accessTokenJSON {
	j := &accessTokenJSON{
		ID:             token.ID,
		UserID:         token.UserID,
		ClientID:       token.ClientID,
		Scope:          token.Scope,
		RefreshTokenID: token.RefreshTokenID,
		CreatedAt:      token.CreatedAt.Unix(),
		ExpiresAt:      token.ExpiresAt.Unix(),
		Revoked:        token.Revoked,
	}
	if !token.RevokedAt.IsZero() {
		j.RevokedAt = token.RevokedAt.Unix()
	}
	return j
}

func fromAccessTokenJSON(j *accessTokenJSON) *storage.AccessToken {
	if j == nil {
		return nil
	}
	token := &storage.AccessToken{
		ID:             j.ID,
		UserID:         j.UserID,
		ClientID:       j.ClientID,
		Scope:          j.Scope,
		RefreshTokenID: j.RefreshTokenID,
		CreatedAt:      time.Unix(j.CreatedAt, 0),
		ExpiresAt:      time.Unix(j.ExpiresAt, 0),
		Revoked:        j.Revoked,
	}
	if j.RevokedAt > 0 {
		token.RevokedAt = time.Unix(j.RevokedAt, 0)
	}
	return token
}

// refreshTokenJSON is the JSON representation of a refresh token record.
// Field names are shared with the Lua scripts.
type refreshTokenJSON struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	ClientID      string `json:"client_id"`
	Scope         string `json:"scope"`
	FamilyID      string `json:"family_id"`
	Generation    int    `json:"generation"`
	AccessTokenID string `json:"access_token_id,omitempty"`
	CreatedAt     int64  `json:"created_at"`
	ExpiresAt     int64  `json:"expires_at"`
	Used          bool   `json:"used"`
	UsedAt        int64  `json:"used_at,omitempty"`
	Revoked       bool   `json:"revoked"`
	RevokedAt     int64  `json:"revoked_at,omitempty"`
}

func toRefreshTokenJSON(token *storage.RefreshToken) *refreshTokenJSON {
	j := &refreshTokenJSON{
		ID:            token.ID,
		UserID:        token.UserID,
		ClientID:      token.ClientID,
		Scope:         token.Scope,
		FamilyID:      token.FamilyID,
		Generation:    token.Generation,
		AccessTokenID: token.AccessTokenID,
		CreatedAt:     token.CreatedAt.Unix(),
		ExpiresAt:     token.ExpiresAt.Unix(),
		Used:          token.Used,
		Revoked:       token.Revoked,
	}
	if !token.UsedAt.IsZero() {
		j.UsedAt = token.UsedAt.Unix()
	}
	if !token.RevokedAt.IsZero() {
		j.RevokedAt = token.RevokedAt.Unix()
	}
	return j
}

func fromRefreshTokenJSON(j *refreshTokenJSON) *storage.RefreshToken {
	if j == nil {
		return nil
	}
	token := &storage.RefreshToken{
		ID:            j.ID,
		UserID:        j.UserID,
		ClientID:      j.ClientID,
		Scope:         j.Scope,
		FamilyID:      j.FamilyID,
		Generation:    j.Generation,
		AccessTokenID: j.AccessTokenID,
		CreatedAt:     time.Unix(j.CreatedAt, 0),
		ExpiresAt:     time.Unix(j.ExpiresAt, 0),
		Used:          j.Used,
		Revoked:       j.Revoked,
	}
	if j.UsedAt > 0 {
		token.UsedAt = time.Unix(j.UsedAt, 0)
	}
	if j.RevokedAt > 0 {
		token.RevokedAt = time.Unix(j.RevokedAt, 0)
	}
	return token
}

// ============================================================
// Helper methods
// ============================================================

// getAndUnmarshal is a generic helper for fetching a key from Valkey,
// unmarshalling the JSON data, and converting to the target type.
func getAndUnmarshal[J any, T any](
	ctx context.Context,
	s *Store,
	key string,
	notFoundErr error,
	fromJSON func(*J) *T,
) (*T, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, notFoundErr
		}
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}

	var j J
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	return fromJSON(&j), nil
}

// revokeRecord runs the idempotent revocation script against a record key.
// Returns whether the record was newly revoked.
func (s *Store) revokeRecord(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaRevokeRecord).
			Numkeys(1).
			Key(key).
			Arg(fmt.Sprintf("%d", time.Now().Unix())).
			Build(),
	).AsInt64()
	if err != nil {
		return false, fmt.Errorf("%w: revoking record: %v", storage.ErrUnavailable, err)
	}
	return n == 1, nil
}

// safeTruncate safely truncates a string to n characters
func safeTruncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// recordTTL calculates the key TTL for a record: its remaining lifetime plus
// the revoked retention window, so that consumed records remain observable
// for replay detection after they expire.
func (s *Store) recordTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl < 0 {
		ttl = 0
	}
	return ttl + s.revokedRetention
}

// isNilError checks if the error indicates a nil/not-found result from Valkey.
// Uses the valkey-go library's built-in nil detection for robustness.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}
