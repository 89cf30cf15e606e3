package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/giantswarm/authd/storage"
)

// Member prefixes inside user+client tracking sets, distinguishing the two
// record kinds that share a set.
const (
	memberPrefixAccess  = "at:"
	memberPrefixRefresh = "rt:"
)

// ============================================================
// Access Tokens
// ============================================================

// SaveAccessToken saves an issued access token record to Valkey.
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	if token == nil {
		return fmt.Errorf("access token cannot be nil")
	}
	if err := validateStringLength(token.ID, MaxIDLength, "access token ID"); err != nil {
		return err
	}

	data, err := json.Marshal(toAccessTokenJSON(token))
	if err != nil {
		return fmt.Errorf("failed to marshal access token: %w", err)
	}

	ttl := s.recordTTL(token.ExpiresAt)

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.accessTokenKey(token.ID)).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("%w: saving access token: %v", storage.ErrUnavailable, err)
	}

	if err := s.trackUserClientToken(ctx, token.UserID, token.ClientID, memberPrefixAccess+token.ID, ttl); err != nil {
		return err
	}

	s.logger.Debug("Saved access token",
		"token_id_prefix", safeTruncate(token.ID, tokenIDLogLength),
		"client_id", token.ClientID,
		"expires_at", token.ExpiresAt)

	return nil
}

// GetAccessToken retrieves an access token record by ID.
// Returns ErrRevoked for revoked tokens so callers reject them uniformly.
func (s *Store) GetAccessToken(ctx context.Context, id string) (*storage.AccessToken, error) {
	token, err := getAndUnmarshal[accessTokenJSON](
		ctx, s, s.accessTokenKey(id),
		storage.ErrNotFound,
		fromAccessTokenJSON,
	)
	if err != nil {
		return nil, err
	}

	if token.Revoked {
		return nil, fmt.Errorf("%w: access token", storage.ErrRevoked)
	}

	return token, nil
}

// RevokeAccessToken marks an access token revoked. Idempotent: revoking an
// unknown or already-revoked token is not an error.
func (s *Store) RevokeAccessToken(ctx context.Context, id string) error {
	revoked, err := s.revokeRecord(ctx, s.accessTokenKey(id))
	if err != nil {
		return err
	}

	if revoked {
		s.logger.Debug("Revoked access token",
			"token_id_prefix", safeTruncate(id, tokenIDLogLength))
	}

	return nil
}

// ============================================================
// Refresh Tokens
// ============================================================

// SaveRefreshToken saves an issued refresh token record to Valkey and
// registers it in its family set and user+client tracking set.
//
// SECURITY: Family membership enables cascading revocation when token reuse
// is detected. Family sets carry their own retention TTL so they outlive the
// tokens they index.
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	if token == nil {
		return fmt.Errorf("refresh token cannot be nil")
	}
	if err := validateStringLength(token.ID, MaxIDLength, "refresh token ID"); err != nil {
		return err
	}
	if token.FamilyID == "" {
		return fmt.Errorf("refresh token family ID cannot be empty")
	}

	data, err := json.Marshal(toRefreshTokenJSON(token))
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token: %w", err)
	}

	ttl := s.recordTTL(token.ExpiresAt)

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.refreshTokenKey(token.ID)).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("%w: saving refresh token: %v", storage.ErrUnavailable, err)
	}

	if err := s.addFamilyMember(ctx, token.FamilyID, token.ID, ttl); err != nil {
		return err
	}

	if err := s.trackUserClientToken(ctx, token.UserID, token.ClientID, memberPrefixRefresh+token.ID, ttl); err != nil {
		return err
	}

	s.logger.Debug("Saved refresh token",
		"token_id_prefix", safeTruncate(token.ID, tokenIDLogLength),
		"family_id_prefix", safeTruncate(token.FamilyID, tokenIDLogLength),
		"generation", token.Generation,
		"client_id", token.ClientID)

	return nil
}

// GetRefreshToken retrieves a refresh token record by ID without consuming it.
func (s *Store) GetRefreshToken(ctx context.Context, id string) (*storage.RefreshToken, error) {
	return getAndUnmarshal[refreshTokenJSON](
		ctx, s, s.refreshTokenKey(id),
		storage.ErrNotFound,
		fromRefreshTokenJSON,
	)
}

// ConsumeRefreshToken atomically checks that a refresh token is unrotated and
// marks it rotated. The check-and-mark runs as a single Lua script so that
// concurrent rotations across server instances produce exactly one winner.
//
// On ErrReplayed the already-rotated record is returned alongside the error
// so the caller can revoke the whole family. For other failures nil is
// returned to prevent information leakage.
func (s *Store) ConsumeRefreshToken(ctx context.Context, id string) (*storage.RefreshToken, error) {
	if err := validateStringLength(id, MaxIDLength, "refresh token ID"); err != nil {
		return nil, err
	}

	// The family revoked marker is resolved by first reading the token's
	// family ID, then letting the script check both keys atomically.
	// A plain GET first is safe: the marker is write-once.
	existing, err := s.GetRefreshToken(ctx, id)
	if err != nil {
		return nil, err
	}

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaConsumeRefresh).
			Numkeys(2).
			Key(s.refreshTokenKey(id), s.familyRevokedKey(existing.FamilyID)).
			Arg(fmt.Sprintf("%d", time.Now().Unix())).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("%w: consuming refresh token: %v", storage.ErrUnavailable, err)
	}

	switch {
	case result == "NOT_FOUND":
		return nil, storage.ErrNotFound
	case result == "EXPIRED":
		return nil, storage.ErrExpired
	case result == "REVOKED":
		return nil, storage.ErrRevoked
	case strings.HasPrefix(result, "ALREADY_USED:"):
		// Rotation replay detected. Return the consumed record so the caller
		// can revoke the entire family.
		var j refreshTokenJSON
		if err := json.Unmarshal([]byte(strings.TrimPrefix(result, "ALREADY_USED:")), &j); err != nil {
			return nil, fmt.Errorf("failed to unmarshal replayed refresh token: %w", err)
		}
		s.logger.Warn("Refresh token reuse detected",
			"token_id_prefix", safeTruncate(id, tokenIDLogLength),
			"family_id_prefix", safeTruncate(j.FamilyID, tokenIDLogLength),
			"client_id", j.ClientID)
		return fromRefreshTokenJSON(&j), storage.ErrReplayed
	}

	var j refreshTokenJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refresh token: %w", err)
	}

	s.logger.Debug("Consumed refresh token",
		"token_id_prefix", safeTruncate(id, tokenIDLogLength),
		"generation", j.Generation)

	return fromRefreshTokenJSON(&j), nil
}

// RevokeRefreshToken marks a single refresh token revoked. Idempotent.
func (s *Store) RevokeRefreshToken(ctx context.Context, id string) error {
	revoked, err := s.revokeRecord(ctx, s.refreshTokenKey(id))
	if err != nil {
		return err
	}

	if revoked {
		s.logger.Debug("Revoked refresh token",
			"token_id_prefix", safeTruncate(id, tokenIDLogLength))
	}

	return nil
}

// RevokeRefreshTokenFamily revokes every refresh token in a family along with
// their paired access tokens, and plants a family revoked marker that blocks
// any member that was saved concurrently with the sweep.
//
// SECURITY: Called on refresh token reuse detection. Revoking the whole
// lineage ensures a thief holding any generation of the family gets nothing.
func (s *Store) RevokeRefreshTokenFamily(ctx context.Context, familyID string) (int, error) {
	if familyID == "" {
		return 0, fmt.Errorf("family ID cannot be empty")
	}

	members, err := s.client.Do(ctx,
		s.client.B().Smembers().Key(s.familyKey(familyID)).Build(),
	).AsStrSlice()
	if err != nil && !isNilError(err) {
		return 0, fmt.Errorf("%w: reading family members: %v", storage.ErrUnavailable, err)
	}

	revokedCount := 0
	for _, id := range members {
		token, err := s.GetRefreshToken(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return revokedCount, err
		}

		revoked, err := s.revokeRecord(ctx, s.refreshTokenKey(id))
		if err != nil {
			return revokedCount, err
		}
		if revoked {
			revokedCount++
		}

		if token.AccessTokenID != "" {
			revoked, err := s.revokeRecord(ctx, s.accessTokenKey(token.AccessTokenID))
			if err != nil {
				return revokedCount, err
			}
			if revoked {
				revokedCount++
			}
		}
	}

	// Plant the marker last so a partially failed sweep is retried rather
	// than short-circuited.
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.familyRevokedKey(familyID)).Value("1").Ex(s.revokedRetention).Build(),
	).Error(); err != nil {
		return revokedCount, fmt.Errorf("%w: marking family revoked: %v", storage.ErrUnavailable, err)
	}

	if revokedCount > 0 {
		s.logger.Warn("Revoked refresh token family",
			"family_id_prefix", safeTruncate(familyID, tokenIDLogLength),
			"revoked_count", revokedCount)
	}

	return revokedCount, nil
}

// RevokeAllTokensForUserClient revokes all tokens for a user+client pair.
// Called when authorization code reuse is detected; the code thief may hold
// any token minted from the stolen grant, so everything goes.
func (s *Store) RevokeAllTokensForUserClient(ctx context.Context, userID, clientID string) (int, error) {
	if userID == "" || clientID == "" {
		return 0, fmt.Errorf("userID and clientID cannot be empty")
	}

	members, err := s.client.Do(ctx,
		s.client.B().Smembers().Key(s.userClientKey(userID, clientID)).Build(),
	).AsStrSlice()
	if err != nil && !isNilError(err) {
		return 0, fmt.Errorf("%w: reading user tokens: %v", storage.ErrUnavailable, err)
	}

	revokedCount := 0
	revokedFamilies := make(map[string]bool)

	for _, member := range members {
		switch {
		case strings.HasPrefix(member, memberPrefixRefresh):
			id := strings.TrimPrefix(member, memberPrefixRefresh)
			token, err := s.GetRefreshToken(ctx, id)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return revokedCount, err
			}
			if revokedFamilies[token.FamilyID] {
				continue
			}
			revokedFamilies[token.FamilyID] = true
			n, err := s.RevokeRefreshTokenFamily(ctx, token.FamilyID)
			if err != nil {
				return revokedCount, err
			}
			revokedCount += n

		case strings.HasPrefix(member, memberPrefixAccess):
			id := strings.TrimPrefix(member, memberPrefixAccess)
			revoked, err := s.revokeRecord(ctx, s.accessTokenKey(id))
			if err != nil {
				return revokedCount, err
			}
			if revoked {
				revokedCount++
			}
		}
	}

	if revokedCount > 0 {
		s.logger.Warn("Revoked all tokens for user and client",
			"user_id", userID,
			"client_id", clientID,
			"revoked_count", revokedCount)
	}

	return revokedCount, nil
}

// GetTokensByUserClient retrieves all live token IDs for a user+client pair.
func (s *Store) GetTokensByUserClient(ctx context.Context, userID, clientID string) ([]string, error) {
	if userID == "" || clientID == "" {
		return nil, fmt.Errorf("userID and clientID cannot be empty")
	}

	members, err := s.client.Do(ctx,
		s.client.B().Smembers().Key(s.userClientKey(userID, clientID)).Build(),
	).AsStrSlice()
	if err != nil {
		if isNilError(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: reading user tokens: %v", storage.ErrUnavailable, err)
	}

	tokens := make([]string, 0, len(members))
	for _, member := range members {
		switch {
		case strings.HasPrefix(member, memberPrefixAccess):
			id := strings.TrimPrefix(member, memberPrefixAccess)
			token, err := s.GetAccessToken(ctx, id)
			if err != nil || token.Revoked {
				continue
			}
			tokens = append(tokens, id)

		case strings.HasPrefix(member, memberPrefixRefresh):
			id := strings.TrimPrefix(member, memberPrefixRefresh)
			token, err := s.GetRefreshToken(ctx, id)
			if err != nil || token.Revoked {
				continue
			}
			tokens = append(tokens, id)
		}
	}

	return tokens, nil
}

// ============================================================
// Tracking set helpers
// ============================================================

// addFamilyMember registers a refresh token in its family set and extends the
// set's TTL to cover the newest member's retention window.
func (s *Store) addFamilyMember(ctx context.Context, familyID, tokenID string, ttl time.Duration) error {
	key := s.familyKey(familyID)

	if err := s.client.Do(ctx,
		s.client.B().Sadd().Key(key).Member(tokenID).Build(),
	).Error(); err != nil {
		return fmt.Errorf("%w: tracking family member: %v", storage.ErrUnavailable, err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Expire().Key(key).Seconds(int64(ttl.Seconds())).Build(),
	).Error(); err != nil {
		return fmt.Errorf("%w: setting family TTL: %v", storage.ErrUnavailable, err)
	}

	return nil
}

// trackUserClientToken registers a token in the user+client tracking set and
// extends the set's TTL to cover the newest member's retention window.
func (s *Store) trackUserClientToken(ctx context.Context, userID, clientID, member string, ttl time.Duration) error {
	key := s.userClientKey(userID, clientID)

	if err := s.client.Do(ctx,
		s.client.B().Sadd().Key(key).Member(member).Build(),
	).Error(); err != nil {
		return fmt.Errorf("%w: tracking user token: %v", storage.ErrUnavailable, err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Expire().Key(key).Seconds(int64(ttl.Seconds())).Build(),
	).Error(); err != nil {
		return fmt.Errorf("%w: setting tracking TTL: %v", storage.ErrUnavailable, err)
	}

	return nil
}
