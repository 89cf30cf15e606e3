package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/giantswarm/authd/identity"
	"github.com/giantswarm/authd/security"
	"github.com/giantswarm/authd/storage"
)

// OAuth 2.0 error codes from RFC 6749.
// Note: These are intentionally duplicated from errors.go to avoid circular imports
// (root package imports server for type aliases, server can't import root).
// Keep these in sync with errors.go.
const (
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidRedirectURI      = "invalid_redirect_uri"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeServerError             = "server_error"
)

// errInvalidGrant is the uniform grant-stage failure.
// SECURITY: Every grant failure (unknown code, expired code, wrong client,
// wrong redirect, bad verifier, replay) collapses to this one error so an
// attacker cannot distinguish outcomes. Details go to logs, never to clients.
func errInvalidGrant() error {
	return fmt.Errorf("%s: invalid grant", ErrorCodeInvalidGrant)
}

// isTransient reports whether an error is a retryable backend failure.
func isTransient(err error) bool {
	return errors.Is(err, storage.ErrUnavailable) || errors.Is(err, identity.ErrUnavailable)
}

// retryTransient runs op, retrying transient storage/identity failures up to
// Config.TransientRetryMax times with exponential backoff (100ms * 2^attempt).
// Each attempt is bounded by Config.StorageTimeout. Non-transient errors
// return immediately. Transient exhaustion returns the last error unwrapped
// so callers can surface it as server_error rather than invalid_grant.
func (s *Server) retryTransient(ctx context.Context, op func(context.Context) error) error {
	timeout := time.Duration(s.Config.StorageTimeout) * time.Second

	var lastErr error
	for attempt := 0; attempt <= s.Config.TransientRetryMax; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := op(attemptCtx)
		cancel()

		if err == nil {
			if attempt > 0 {
				s.Logger.Info("Operation succeeded after retry", "attempt", attempt+1)
			}
			return nil
		}
		if !isTransient(err) {
			return err
		}
		lastErr = err

		if attempt < s.Config.TransientRetryMax {
			backoff := time.Duration(100*math.Pow(2, float64(attempt))) * time.Millisecond
			s.Logger.Debug("Transient backend failure, retrying",
				"attempt", attempt+1,
				"max_retries", s.Config.TransientRetryMax,
				"backoff_ms", backoff.Milliseconds(),
				"error", err)

			select {
			case <-ctx.Done():
				return fmt.Errorf("cancelled during retry backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}
	}

	s.Logger.Error("Operation failed after all retries",
		"attempts", s.Config.TransientRetryMax+1,
		"error", lastErr)
	return lastErr
}

// GetClient retrieves a client by ID, retrying transient failures.
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	var client *storage.Client
	err := s.retryTransient(ctx, func(ctx context.Context) error {
		var err error
		client, err = s.store.GetClient(ctx, clientID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// VerifyClientSecret checks client credentials at the token endpoint.
func (s *Server) VerifyClientSecret(client *storage.Client, secret string) error {
	return s.keys.VerifyClientSecret(client, secret)
}

// AuthorizeRequest carries the parameters of an authorization request.
// UserID identifies the already-authenticated resource owner; the server
// never authenticates users itself (see the identity package).
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	UserID              string
}

// Authorize validates an authorization request, mints a single-use
// authorization code, and returns the redirect URL carrying the code and the
// caller's state unchanged.
func (s *Server) Authorize(ctx context.Context, req AuthorizeRequest) (string, error) {
	// CRITICAL SECURITY: Require state parameter from client for CSRF protection
	if req.State == "" {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", req.ClientID, "", "missing_state_parameter")
		}
		return "", fmt.Errorf("%s: state parameter is required for CSRF protection (OAuth 2.0 Security BCP)", ErrorCodeInvalidRequest)
	}

	// PKCE validation (secure by default, configurable for backward compatibility)
	if s.Config.RequirePKCE {
		if req.CodeChallenge == "" || req.CodeChallengeMethod == "" {
			if s.Auditor != nil {
				s.Auditor.LogAuthFailure("", req.ClientID, "", "missing_pkce_parameters")
			}
			return "", fmt.Errorf("%s: PKCE is required: code_challenge and code_challenge_method parameters are mandatory (OAuth 2.1)", ErrorCodeInvalidRequest)
		}
	}

	// Validate PKCE method if provided
	if req.CodeChallenge != "" {
		method := req.CodeChallengeMethod
		if method == "" {
			if s.Auditor != nil {
				s.Auditor.LogAuthFailure("", req.ClientID, "", "missing_code_challenge_method")
			}
			return "", fmt.Errorf("%s: code_challenge_method is required when code_challenge is provided", ErrorCodeInvalidRequest)
		}
		if method == PKCEMethodPlain && !s.Config.AllowPKCEPlain {
			if s.Auditor != nil {
				s.Auditor.LogAuthFailure("", req.ClientID, "", "plain_pkce_not_allowed")
			}
			return "", fmt.Errorf("%s: 'plain' code_challenge_method is not allowed (only S256 is supported for security)", ErrorCodeInvalidRequest)
		}
		if method != PKCEMethodS256 && method != PKCEMethodPlain {
			if s.Auditor != nil {
				s.Auditor.LogAuthFailure("", req.ClientID, "", fmt.Sprintf("invalid_pkce_method: %s", method))
			}
			return "", fmt.Errorf("%s: unsupported code_challenge_method: %s", ErrorCodeInvalidRequest, method)
		}
	}

	// Validate client
	client, err := s.GetClient(ctx, req.ClientID)
	if err != nil {
		if isTransient(err) {
			return "", fmt.Errorf("%s: %w", ErrorCodeServerError, err)
		}
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", req.ClientID, "", ErrorCodeInvalidClient)
		}
		return "", fmt.Errorf("%s: unknown client", ErrorCodeInvalidClient)
	}

	if !clientAllowsGrantType(client, GrantTypeAuthorizationCode) {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", req.ClientID, "", "grant_type_not_allowed")
		}
		return "", fmt.Errorf("%s: client is not authorized for the authorization_code grant", ErrorCodeUnauthorizedClient)
	}

	// Validate redirect URI (exact match against registered URIs)
	if err := s.validateRedirectURI(client, req.RedirectURI); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogInvalidRedirect(req.ClientID, "", req.RedirectURI, err.Error())
		}
		if s.Instrumentation != nil {
			s.Instrumentation.Metrics().RecordRedirectURISecurityRejected(ctx, "not_registered_or_insecure", "authorize")
		}
		return "", fmt.Errorf("%s: %w", ErrorCodeInvalidRedirectURI, err)
	}

	// Validate response type
	if err := s.validateResponseType(req.ResponseType); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", req.ClientID, "", fmt.Sprintf("unsupported_response_type: %s", req.ResponseType))
		}
		return "", fmt.Errorf("%s: %w", ErrorCodeUnsupportedResponseType, err)
	}

	// Validate scopes (server-level, then client-level)
	if err := s.validateScopes(req.Scope); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", req.ClientID, "", fmt.Sprintf("%s: %v", ErrorCodeInvalidScope, err))
		}
		return "", fmt.Errorf("%s: %w", ErrorCodeInvalidScope, err)
	}
	if err := s.validateClientScopes(req.Scope, client.Scopes); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:     security.EventScopeEscalationAttempt,
				ClientID: req.ClientID,
				Details: map[string]any{
					"requested_scope": req.Scope,
				},
			})
		}
		return "", fmt.Errorf("%s: %w", ErrorCodeInvalidScope, err)
	}

	// Resolve the resource owner with the identity collaborator.
	// An unknown user is a grant failure, not a client error.
	var user *identity.User
	err = s.retryTransient(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.identity.Resolve(ctx, req.UserID)
		return err
	})
	if err != nil {
		if isTransient(err) {
			return "", fmt.Errorf("%s: %w", ErrorCodeServerError, err)
		}
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(req.UserID, req.ClientID, "", "unknown_user")
		}
		return "", errInvalidGrant()
	}

	// Mint a high-entropy single-use code
	code := generateRandomToken()
	now := time.Now()
	authCode := &storage.AuthorizationCode{
		Code:                code,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		UserID:              user.ID,
		CreatedAt:           now,
		ExpiresAt:           now.Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second),
	}
	err = s.retryTransient(ctx, func(ctx context.Context) error {
		return s.store.SaveAuthorizationCode(ctx, authCode)
	})
	if err != nil {
		return "", fmt.Errorf("%s: failed to save authorization code: %w", ErrorCodeServerError, err)
	}

	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventAuthorizationCodeIssued,
			UserID:   user.ID,
			ClientID: req.ClientID,
			Details: map[string]any{
				"scope":                 req.Scope,
				"code_challenge_method": req.CodeChallengeMethod,
			},
		})
	}
	if s.Instrumentation != nil {
		s.Instrumentation.Metrics().RecordAuthorizationStarted(ctx, req.ClientID)
	}

	return buildRedirectURL(req.RedirectURI, code, req.State)
}

// buildRedirectURL appends code and state query parameters to the redirect
// URI, preserving any existing query parameters. The state value is returned
// to the client byte-for-byte unchanged.
func buildRedirectURL(redirectURI, code, state string) (string, error) {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("%s: invalid redirect_uri: %w", ErrorCodeInvalidRedirectURI, err)
	}
	q := parsed.Query()
	q.Set("code", code)
	q.Set("state", state)
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

// ExchangeAuthorizationCode exchanges an authorization code for a token pair.
// Returns the minted oauth2.Token and the granted scope.
//
// The consume is an atomic compare-and-swap in storage: under concurrent
// exchange of the same code exactly one caller wins. A replayed code triggers
// revocation of every token minted for that user+client before the error is
// returned (OAuth 2.1 Section 4.1.2).
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, code, clientID, redirectURI, codeVerifier string) (*oauth2.Token, string, error) {
	var authCode *storage.AuthorizationCode
	err := s.retryTransient(ctx, func(ctx context.Context) error {
		var err error
		authCode, err = s.store.ConsumeAuthorizationCode(ctx, code)
		return err
	})
	if err != nil {
		if isTransient(err) {
			return nil, "", fmt.Errorf("%s: %w", ErrorCodeServerError, err)
		}

		if errors.Is(err, storage.ErrReplayed) && authCode != nil {
			// CRITICAL SECURITY: Authorization code reuse detected. This is
			// evidence of code theft; revoke ALL tokens for this user+client
			// BEFORE returning the error (OAuth 2.1 Section 4.1.2).
			// Rate limit logging to prevent DoS via log flooding
			if s.SecurityEventRateLimiter == nil || s.SecurityEventRateLimiter.Allow(authCode.UserID+":"+clientID) {
				s.Logger.Error("Authorization code reuse detected - revoking all tokens",
					"user_id", authCode.UserID,
					"client_id", clientID,
					"oauth_spec", "OAuth 2.1 Section 4.1.2")
			}

			revoked, revokeErr := s.RevokeAllTokensForUserClient(ctx, authCode.UserID, authCode.ClientID)
			if revokeErr != nil {
				s.Logger.Error("Failed to revoke tokens after code reuse detection", "error", revokeErr)
			}

			if s.Auditor != nil {
				s.Auditor.LogCodeReplayDetected(authCode.UserID, authCode.ClientID, "", revoked)
			}
			if s.Instrumentation != nil {
				s.Instrumentation.Metrics().RecordCodeReuseDetected(ctx)
			}

			return nil, "", errInvalidGrant()
		}

		// Other error (not found, expired, revoked)
		// SECURITY: Log detailed internal error for debugging, but return generic error to client
		s.Logger.Debug("Authorization code validation failed",
			"reason", err.Error(),
			"client_id", clientID,
			"code_prefix", safeTruncate(code, 8))

		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", clientID, "", "invalid_authorization_code")
		}
		return nil, "", errInvalidGrant()
	}

	// Code is now atomically marked as used - no other request can use it

	// Validate client ID matches
	if authCode.ClientID != clientID {
		s.Logger.Debug("Authorization code validation failed",
			"reason", "client_id_mismatch",
			"expected_client_id", authCode.ClientID,
			"provided_client_id", clientID,
			"code_prefix", safeTruncate(code, 8))

		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", clientID, "", "client_id_mismatch")
		}
		return nil, "", errInvalidGrant()
	}

	// Validate redirect URI matches the one the code was issued for
	if authCode.RedirectURI != redirectURI {
		s.Logger.Debug("Authorization code validation failed",
			"reason", "redirect_uri_mismatch",
			"client_id", clientID,
			"code_prefix", safeTruncate(code, 8))

		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(authCode.UserID, clientID, "", "redirect_uri_mismatch")
		}
		return nil, "", errInvalidGrant()
	}

	// Validate PKCE if present
	if authCode.CodeChallenge != "" {
		if err := s.validatePKCE(authCode.CodeChallenge, authCode.CodeChallengeMethod, codeVerifier); err != nil {
			if s.Auditor != nil {
				s.Auditor.LogInvalidPKCE(clientID, "", err.Error())
				s.Auditor.LogAuthFailure(authCode.UserID, clientID, "", fmt.Sprintf("pkce_validation_failed: %v", err))
			}
			if s.Instrumentation != nil {
				s.Instrumentation.Metrics().RecordPKCEValidationFailed(ctx, authCode.CodeChallengeMethod)
			}
			return nil, "", errInvalidGrant()
		}
	}

	// Mint the token pair: a fresh family, generation 0
	familyID := uuid.NewString()
	token, err := s.mintTokenPair(ctx, clientID, authCode.UserID, authCode.Scope, familyID, 0)
	if err != nil {
		return nil, "", err
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(authCode.UserID, clientID, "", authCode.Scope)
	}
	if s.Instrumentation != nil {
		s.Instrumentation.Metrics().RecordCodeExchange(ctx, clientID, authCode.CodeChallengeMethod)
	}

	return token, authCode.Scope, nil
}

// RefreshAccessToken rotates a refresh token, returning a new token pair.
// Returns the minted oauth2.Token and the granted scope.
//
// OAuth 2.1 rotation: the presented token is atomically consumed and a
// successor with Generation+1 is issued in the same family, inheriting
// user, client, and scope unchanged. The paired old access token is revoked.
// Presenting an already-rotated token revokes the entire family.
func (s *Server) RefreshAccessToken(ctx context.Context, refreshToken, clientID string) (*oauth2.Token, string, error) {
	var record *storage.RefreshToken
	err := s.retryTransient(ctx, func(ctx context.Context) error {
		var err error
		record, err = s.store.ConsumeRefreshToken(ctx, refreshToken)
		return err
	})
	if err != nil {
		if isTransient(err) {
			return nil, "", fmt.Errorf("%s: %w", ErrorCodeServerError, err)
		}

		if errors.Is(err, storage.ErrReplayed) && record != nil {
			// CRITICAL SECURITY: Rotated refresh token presented again.
			// Someone holds a stale copy of this token - either the
			// legitimate client lost state or the token was stolen. Revoke
			// the whole family BEFORE returning the error.
			// Rate limit logging to prevent DoS via log flooding
			if s.SecurityEventRateLimiter == nil || s.SecurityEventRateLimiter.Allow(record.UserID+":"+clientID) {
				s.Logger.Error("Refresh token reuse detected - revoking token family",
					"user_id", record.UserID,
					"client_id", clientID,
					"family_id", safeTruncate(record.FamilyID, 8),
					"generation", record.Generation,
					"oauth_spec", "OAuth 2.1 Refresh Token Rotation")
			}

			revoked, revokeErr := s.revokeTokenFamily(ctx, record.FamilyID)
			if revokeErr != nil {
				s.Logger.Error("Failed to revoke token family", "error", revokeErr)
			}

			if s.Auditor != nil {
				s.Auditor.LogRefreshReplayDetected(record.UserID, record.ClientID, "", record.FamilyID, revoked)
			}
			if s.Instrumentation != nil {
				s.Instrumentation.Metrics().RecordTokenReuseDetected(ctx)
			}

			return nil, "", errInvalidGrant()
		}

		if errors.Is(err, storage.ErrRevoked) {
			// Token from a previously revoked family (prior replay detected)
			if s.Auditor != nil {
				s.Auditor.LogEvent(security.Event{
					Type:     security.EventRevokedTokenFamilyReuseAttempt,
					ClientID: clientID,
					Details: map[string]any{
						"severity":     "critical",
						"token_prefix": safeTruncate(refreshToken, 8),
					},
				})
			}
			s.Logger.Warn("Attempted use of revoked refresh token",
				"client_id", clientID,
				"token_prefix", safeTruncate(refreshToken, 8))
			return nil, "", errInvalidGrant()
		}

		// Not found or expired
		s.Logger.Debug("Refresh token validation failed",
			"reason", err.Error(),
			"client_id", clientID,
			"token_prefix", safeTruncate(refreshToken, 8))

		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", clientID, "", "invalid_refresh_token")
		}
		return nil, "", errInvalidGrant()
	}

	// Token is now atomically consumed - no other request can rotate it

	// Validate client binding
	if record.ClientID != clientID {
		s.Logger.Debug("Refresh token validation failed",
			"reason", "client_id_mismatch",
			"expected_client_id", record.ClientID,
			"provided_client_id", clientID,
			"token_prefix", safeTruncate(refreshToken, 8))

		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(record.UserID, clientID, "", "client_id_mismatch")
		}
		return nil, "", errInvalidGrant()
	}

	// Revoke the paired old access token: its bearer just proved it can
	// refresh, so the old token must not outlive the rotation
	if record.AccessTokenID != "" {
		err := s.retryTransient(ctx, func(ctx context.Context) error {
			return s.store.RevokeAccessToken(ctx, record.AccessTokenID)
		})
		if err != nil {
			s.Logger.Warn("Failed to revoke paired access token on rotation",
				"access_token_id", safeTruncate(record.AccessTokenID, 8),
				"error", err)
		}
	}

	// Mint the successor pair: same family, same scope, generation+1
	token, err := s.mintTokenPair(ctx, clientID, record.UserID, record.Scope, record.FamilyID, record.Generation+1)
	if err != nil {
		return nil, "", err
	}

	s.Logger.Info("Refresh token rotated",
		"user_id", record.UserID,
		"family_id", safeTruncate(record.FamilyID, 8),
		"generation", record.Generation+1)

	if s.Auditor != nil {
		s.Auditor.LogTokenRefreshed(record.UserID, clientID, "", true)
	}
	if s.Instrumentation != nil {
		s.Instrumentation.Metrics().RecordTokenRefresh(ctx, clientID, true)
	}

	return token, record.Scope, nil
}

// mintTokenPair mints a signed access token and a paired refresh token and
// persists both records. The access token record keys on the JWT jti claim;
// the refresh token record carries the family lineage for rotation.
func (s *Server) mintTokenPair(ctx context.Context, clientID, userID, scope, familyID string, generation int) (*oauth2.Token, error) {
	jti := uuid.NewString()
	refreshID := generateRandomToken()
	now := time.Now()
	accessExpiry := now.Add(time.Duration(s.Config.AccessTokenTTL) * time.Second)
	refreshExpiry := now.Add(time.Duration(s.Config.RefreshTokenTTL) * time.Second)

	signed, err := s.signer.Mint(clientID, userID, scope, jti, time.Duration(s.Config.AccessTokenTTL)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to mint access token: %w", ErrorCodeServerError, err)
	}

	accessRecord := &storage.AccessToken{
		ID:             jti,
		UserID:         userID,
		ClientID:       clientID,
		Scope:          scope,
		RefreshTokenID: refreshID,
		CreatedAt:      now,
		ExpiresAt:      accessExpiry,
	}
	err = s.retryTransient(ctx, func(ctx context.Context) error {
		return s.store.SaveAccessToken(ctx, accessRecord)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to save access token: %w", ErrorCodeServerError, err)
	}

	refreshRecord := &storage.RefreshToken{
		ID:            refreshID,
		UserID:        userID,
		ClientID:      clientID,
		Scope:         scope,
		FamilyID:      familyID,
		Generation:    generation,
		AccessTokenID: jti,
		CreatedAt:     now,
		ExpiresAt:     refreshExpiry,
	}
	err = s.retryTransient(ctx, func(ctx context.Context) error {
		return s.store.SaveRefreshToken(ctx, refreshRecord)
	})
	if err != nil {
		// The access token record is already saved; revoke it so a
		// half-minted pair cannot be used
		_ = s.store.RevokeAccessToken(ctx, jti)
		return nil, fmt.Errorf("%s: failed to save refresh token: %w", ErrorCodeServerError, err)
	}

	return &oauth2.Token{
		AccessToken:  signed,
		RefreshToken: refreshID,
		TokenType:    "Bearer",
		Expiry:       accessExpiry,
	}, nil
}

// ValidateToken validates a presented access token and returns the resolved
// user and the token claims.
//
// Validation is two-step: the JWT signature proves the token was issued by us
// for the claimed client (necessary), then the store is checked for
// revocation and expiry with clock-skew grace (sufficient).
func (s *Server) ValidateToken(ctx context.Context, tokenString string) (*identity.User, *AccessTokenClaims, error) {
	claims, err := s.signer.Parse(tokenString)
	if err != nil {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", "", "", "invalid_access_token_signature")
		}
		return nil, nil, fmt.Errorf("invalid access token")
	}

	var record *storage.AccessToken
	err = s.retryTransient(ctx, func(ctx context.Context) error {
		var err error
		record, err = s.store.GetAccessToken(ctx, claims.ID)
		return err
	})
	if err != nil {
		if isTransient(err) {
			return nil, nil, fmt.Errorf("%s: %w", ErrorCodeServerError, err)
		}
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(claims.Subject, claims.ClientID, "", "access_token_revoked_or_unknown")
		}
		return nil, nil, fmt.Errorf("invalid access token")
	}

	grace := time.Duration(s.Config.ClockSkewGracePeriod) * time.Second
	if security.IsTokenExpiredWithGracePeriod(record.ExpiresAt, grace) {
		return nil, nil, fmt.Errorf("access token expired")
	}

	var user *identity.User
	err = s.retryTransient(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.identity.Resolve(ctx, record.UserID)
		return err
	})
	if err != nil {
		if isTransient(err) {
			return nil, nil, fmt.Errorf("%s: %w", ErrorCodeServerError, err)
		}
		return nil, nil, fmt.Errorf("invalid access token")
	}

	return user, claims, nil
}

// Revoke revokes a presented token per RFC 7009. The token may be an
// authorization code, a signed access token, or a refresh token ID; each kind
// is tried in turn. Revocation is idempotent: unknown or already-revoked
// tokens return (false, nil), never an error.
func (s *Server) Revoke(ctx context.Context, token string) (bool, error) {
	// Authorization code?
	var code *storage.AuthorizationCode
	err := s.retryTransient(ctx, func(ctx context.Context) error {
		var err error
		code, err = s.store.GetAuthorizationCode(ctx, token)
		return err
	})
	if err == nil {
		revokedNow := !code.Revoked && !code.Used
		err := s.retryTransient(ctx, func(ctx context.Context) error {
			return s.store.RevokeAuthorizationCode(ctx, token)
		})
		if err != nil {
			return false, fmt.Errorf("%s: %w", ErrorCodeServerError, err)
		}
		s.auditRevocation(ctx, code.UserID, code.ClientID, "authorization_code", revokedNow)
		return revokedNow, nil
	}
	if isTransient(err) {
		return false, fmt.Errorf("%s: %w", ErrorCodeServerError, err)
	}

	// Signed access token? Parse to recover the record ID (jti).
	if claims, parseErr := s.signer.Parse(token); parseErr == nil {
		return s.revokeAccessByID(ctx, claims.ID, claims.Subject, claims.ClientID)
	}

	// Refresh token ID?
	var refresh *storage.RefreshToken
	err = s.retryTransient(ctx, func(ctx context.Context) error {
		var err error
		refresh, err = s.store.GetRefreshToken(ctx, token)
		return err
	})
	if err == nil {
		revokedNow := !refresh.Revoked
		err := s.retryTransient(ctx, func(ctx context.Context) error {
			return s.store.RevokeRefreshToken(ctx, token)
		})
		if err != nil {
			return false, fmt.Errorf("%s: %w", ErrorCodeServerError, err)
		}
		// RFC 7009: revoking a refresh token SHOULD revoke related access tokens
		if refresh.AccessTokenID != "" {
			if err := s.store.RevokeAccessToken(ctx, refresh.AccessTokenID); err != nil {
				s.Logger.Warn("Failed to revoke paired access token",
					"access_token_id", safeTruncate(refresh.AccessTokenID, 8),
					"error", err)
			}
		}
		s.auditRevocation(ctx, refresh.UserID, refresh.ClientID, "refresh_token", revokedNow)
		return revokedNow, nil
	}
	if isTransient(err) {
		return false, fmt.Errorf("%s: %w", ErrorCodeServerError, err)
	}

	// Unknown token: revocation still succeeds per RFC 7009
	return false, nil
}

// revokeAccessByID revokes an access token record by its jti.
func (s *Server) revokeAccessByID(ctx context.Context, jti, userID, clientID string) (bool, error) {
	var record *storage.AccessToken
	err := s.retryTransient(ctx, func(ctx context.Context) error {
		var err error
		record, err = s.store.GetAccessToken(ctx, jti)
		return err
	})
	if err != nil {
		if isTransient(err) {
			return false, fmt.Errorf("%s: %w", ErrorCodeServerError, err)
		}
		// Already revoked or unknown: idempotent success
		return false, nil
	}

	revokedNow := !record.Revoked
	err = s.retryTransient(ctx, func(ctx context.Context) error {
		return s.store.RevokeAccessToken(ctx, jti)
	})
	if err != nil {
		return false, fmt.Errorf("%s: %w", ErrorCodeServerError, err)
	}
	s.auditRevocation(ctx, userID, clientID, "access_token", revokedNow)
	return revokedNow, nil
}

// auditRevocation logs and measures a revocation outcome.
func (s *Server) auditRevocation(ctx context.Context, userID, clientID, tokenType string, revokedNow bool) {
	if revokedNow {
		if s.Auditor != nil {
			s.Auditor.LogTokenRevoked(userID, clientID, "", tokenType)
		}
		if s.Instrumentation != nil {
			s.Instrumentation.Metrics().RecordTokenRevocation(ctx, clientID)
		}
	}
	s.Logger.Info("Token revocation processed",
		"token_type", tokenType,
		"client_id", clientID,
		"revoked_now", revokedNow)
}

// revokeTokenFamily revokes every refresh token in a family together with
// their paired access tokens. Returns the number of tokens newly revoked.
func (s *Server) revokeTokenFamily(ctx context.Context, familyID string) (int, error) {
	var revoked int
	err := s.retryTransient(ctx, func(ctx context.Context) error {
		var err error
		revoked, err = s.store.RevokeRefreshTokenFamily(ctx, familyID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to revoke token family: %w", err)
	}

	s.Logger.Warn("Revoked token family due to security event",
		"family_id", safeTruncate(familyID, 8),
		"tokens_revoked", revoked,
		"reason", "reuse_detection")
	return revoked, nil
}

// RevokeAllTokensForUserClient revokes all tokens (access + refresh) for a
// specific user+client combination. This is called when authorization code
// reuse is detected (OAuth 2.1 security requirement). Returns the number of
// tokens newly revoked.
func (s *Server) RevokeAllTokensForUserClient(ctx context.Context, userID, clientID string) (int, error) {
	var revoked int
	err := s.retryTransient(ctx, func(ctx context.Context) error {
		var err error
		revoked, err = s.store.RevokeAllTokensForUserClient(ctx, userID, clientID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to revoke tokens: %w", err)
	}

	s.Logger.Warn("Revoked all tokens for user+client due to security event",
		"user_id", userID,
		"client_id", clientID,
		"tokens_revoked", revoked,
		"reason", "reuse_detection")

	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventAllTokensRevoked,
			UserID:   userID,
			ClientID: clientID,
			Details: map[string]any{
				"severity":       "critical",
				"tokens_revoked": revoked,
				"oauth_spec":     "OAuth 2.1 Section 4.1.2",
			},
		})
	}

	return revoked, nil
}
