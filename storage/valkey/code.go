package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/giantswarm/authd/storage"
)

// SaveAuthorizationCode saves an issued authorization code to Valkey.
// The key TTL covers the code's lifetime plus the revoked retention window,
// so that a consumed code remains visible for replay detection after expiry.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil {
		return fmt.Errorf("authorization code cannot be nil")
	}
	if err := validateStringLength(code.Code, MaxIDLength, "authorization code"); err != nil {
		return err
	}

	data, err := json.Marshal(toAuthorizationCodeJSON(code))
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	key := s.codeKey(code.Code)
	ttl := s.recordTTL(code.ExpiresAt)

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("%w: saving authorization code: %v", storage.ErrUnavailable, err)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", safeTruncate(code.Code, tokenIDLogLength),
		"client_id", code.ClientID,
		"expires_at", code.ExpiresAt)

	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming it.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	return getAndUnmarshal[authorizationCodeJSON](
		ctx, s, s.codeKey(code),
		storage.ErrNotFound,
		fromAuthorizationCodeJSON,
	)
}

// ConsumeAuthorizationCode atomically checks that a code is unused and marks
// it used. The check-and-mark runs as a single Lua script so that concurrent
// exchanges of the same code across server instances produce exactly one
// winner.
//
// On ErrReplayed the already-consumed record is returned alongside the error
// so the caller can revoke the tokens the first exchange minted.
//
// SECURITY: Detects authorization code replay attacks per RFC 6749 §4.1.2:
// "If an authorization code is used more than once, the authorization server
// MUST deny the request and SHOULD revoke (when possible) all tokens
// previously issued based on that authorization code."
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	if err := validateStringLength(code, MaxIDLength, "authorization code"); err != nil {
		return nil, err
	}

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaConsumeCode).
			Numkeys(1).
			Key(s.codeKey(code)).
			Arg(fmt.Sprintf("%d", time.Now().Unix())).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("%w: consuming authorization code: %v", storage.ErrUnavailable, err)
	}

	switch {
	case result == "NOT_FOUND":
		return nil, storage.ErrNotFound
	case result == "EXPIRED":
		return nil, storage.ErrExpired
	case result == "REVOKED":
		return nil, storage.ErrRevoked
	case strings.HasPrefix(result, "ALREADY_USED:"):
		// Replay detected. Return the consumed record so the caller can
		// cascade-revoke everything the original exchange produced.
		var j authorizationCodeJSON
		if err := json.Unmarshal([]byte(strings.TrimPrefix(result, "ALREADY_USED:")), &j); err != nil {
			return nil, fmt.Errorf("failed to unmarshal replayed code: %w", err)
		}
		s.logger.Warn("Authorization code replay detected",
			"code_prefix", safeTruncate(code, tokenIDLogLength),
			"client_id", j.ClientID)
		return fromAuthorizationCodeJSON(&j), storage.ErrReplayed
	}

	var j authorizationCodeJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}

	s.logger.Debug("Consumed authorization code",
		"code_prefix", safeTruncate(code, tokenIDLogLength),
		"client_id", j.ClientID)

	return fromAuthorizationCodeJSON(&j), nil
}

// RevokeAuthorizationCode marks a code revoked. Idempotent: revoking an
// unknown or already-revoked code is not an error. The record is retained
// rather than deleted.
func (s *Store) RevokeAuthorizationCode(ctx context.Context, code string) error {
	revoked, err := s.revokeRecord(ctx, s.codeKey(code))
	if err != nil {
		return err
	}

	if revoked {
		s.logger.Debug("Revoked authorization code",
			"code_prefix", safeTruncate(code, tokenIDLogLength))
	}

	return nil
}
