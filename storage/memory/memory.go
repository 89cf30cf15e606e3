// Package memory provides an in-memory implementation of all storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/authd/instrumentation"
	"github.com/giantswarm/authd/internal/util"
	"github.com/giantswarm/authd/security"
	"github.com/giantswarm/authd/storage"
)

const (
	// tokenIDLogLength is the number of characters to include when logging token IDs
	// This provides enough uniqueness for debugging while keeping logs secure
	tokenIDLogLength = 8

	// maxRefreshTokenEntries is the threshold for warning about excessive refresh
	// token records. This helps detect potential memory exhaustion attacks.
	maxRefreshTokenEntries = 10000

	// hardMaxRefreshTokenEntries is the hard limit for refresh token records.
	// Exceeding this limit will cause SaveRefreshToken to fail.
	// This prevents memory exhaustion attacks via repeated token rotation.
	hardMaxRefreshTokenEntries = 50000
)

// Store is an in-memory implementation of all storage interfaces.
// It implements ClientStore, CodeStore, and TokenStore.
//
// Consumed authorization codes and rotated refresh tokens are retained
// (marked, not deleted) so that a second presentation can be recognized
// as replay. The background cleanup goroutine removes them once they are
// both expired and past the retention period.
type Store struct {
	mu sync.RWMutex

	clients map[string]*storage.Client

	codes map[string]*storage.AuthorizationCode

	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken

	// familyID -> time the family was revoked (for forensics and cleanup)
	revokedFamilies map[string]time.Time

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	meter           metric.Meter

	// Atomic counters for metrics (lock-free access during metric collection)
	clientsCountAtomic       atomic.Int64
	codesCountAtomic         atomic.Int64
	accessTokensCountAtomic  atomic.Int64
	refreshTokensCountAtomic atomic.Int64
	familiesCountAtomic      atomic.Int64

	// Cleanup
	cleanupInterval       time.Duration
	revokedRetentionHours int64 // retention for revoked/consumed records after expiry
	stopCleanup           chan struct{}
	logger                *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.CodeStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.Store       = (*Store)(nil)
)

// New creates a new in-memory store with default cleanup interval (1 minute)
// and default revoked record retention (24 hours past expiry)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:               make(map[string]*storage.Client),
		codes:                 make(map[string]*storage.AuthorizationCode),
		accessTokens:          make(map[string]*storage.AccessToken),
		refreshTokens:         make(map[string]*storage.RefreshToken),
		revokedFamilies:       make(map[string]time.Time),
		cleanupInterval:       cleanupInterval,
		revokedRetentionHours: 24,
		stopCleanup:           make(chan struct{}),
		logger:                slog.Default(),
	}

	// Start background cleanup
	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetRevokedRetentionHours sets how long revoked and consumed records are kept
// past their expiry. The retention window is what makes replay detection work,
// so it should comfortably exceed the refresh token lifetime of any attacker
// scenario worth detecting. Default: 24 hours.
func (s *Store) SetRevokedRetentionHours(hours int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokedRetentionHours = hours
	s.logger.Info("Set revoked record retention period", "retention_hours", hours)
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
		s.meter = inst.Meter("storage")
	}

	// Initialize atomic counters with current counts
	s.clientsCountAtomic.Store(int64(len(s.clients)))
	s.codesCountAtomic.Store(int64(len(s.codes)))
	s.accessTokensCountAtomic.Store(int64(len(s.accessTokens)))
	s.refreshTokensCountAtomic.Store(int64(len(s.refreshTokens)))
	s.familiesCountAtomic.Store(int64(len(s.revokedFamilies)))
	s.mu.Unlock()

	if inst != nil {
		// Register storage size callbacks using atomic counters (lock-free)
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.clientsCountAtomic.Load() },
			func() int64 { return s.codesCountAtomic.Load() },
			func() int64 { return s.accessTokensCountAtomic.Load() },
			func() int64 { return s.refreshTokensCountAtomic.Load() },
			func() int64 { return s.familiesCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	close(s.stopCleanup)
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_client", err, startTime)
	}()

	if client == nil || client.ClientID == "" {
		err = fmt.Errorf("invalid client")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.clients[client.ClientID]

	s.clients[client.ClientID] = client

	if !existed {
		s.clientsCountAtomic.Add(1)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_client", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = fmt.Errorf("%w: client %s", storage.ErrNotFound, clientID)
		return nil, err
	}

	return client, nil
}

// ListClients lists all registered clients
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		clients = append(clients, client)
	}

	return clients, nil
}

// ============================================================
// CodeStore Implementation
// ============================================================

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime)
	}()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("invalid authorization code")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.codes[code.Code]

	s.codes[code.Code] = code

	if !existed {
		s.codesCountAtomic.Add(1)
	}

	s.logger.Debug("Saved authorization code", "code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength))
	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming it.
// Used and revoked codes are still returned so callers can inspect their state.
//
// NOTE: For actual code exchange, use ConsumeAuthorizationCode instead
// to prevent race conditions.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	authCode, ok := s.codes[code]
	if !ok {
		return nil, fmt.Errorf("%w: authorization code", storage.ErrNotFound)
	}

	// Return a COPY to prevent caller from modifying our stored version
	codeCopy := *authCode
	return &codeCopy, nil
}

// ConsumeAuthorizationCode atomically checks that a code is unused and marks it used.
//
// SECURITY: This operation is atomic - only ONE concurrent request can succeed.
// All other concurrent requests will receive ErrReplayed.
//
// IMPORTANT: The code record is ONLY returned alongside ErrReplayed to enable
// reuse detection and revocation. For other errors (not found, expired, revoked),
// nil is returned to prevent information leakage.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.Lock() // MUST use write lock for atomic check-and-set
	defer s.mu.Unlock()

	authCode, ok := s.codes[code]
	if !ok {
		return nil, fmt.Errorf("%w: authorization code", storage.ErrNotFound)
	}

	if authCode.Revoked {
		return nil, fmt.Errorf("%w: authorization code", storage.ErrRevoked)
	}

	// Check if expired with clock skew grace period
	if security.IsTokenExpired(authCode.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code", storage.ErrExpired)
	}

	// ATOMIC check-and-set: Only one caller can pass this check
	if authCode.Used {
		// SECURITY: Code already used - return the record to enable reuse
		// detection. The caller needs UserID/ClientID for token revocation.
		codeCopy := *authCode
		return &codeCopy, fmt.Errorf("%w: authorization code", storage.ErrReplayed)
	}

	authCode.Used = true
	authCode.UsedAt = time.Now()
	s.logger.Debug("Marked authorization code as used",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength))

	codeCopy := *authCode
	return &codeCopy, nil
}

// RevokeAuthorizationCode marks a code revoked. Idempotent: revoking an
// unknown or already-revoked code is not an error.
func (s *Store) RevokeAuthorizationCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	authCode, ok := s.codes[code]
	if !ok || authCode.Revoked {
		return nil
	}

	authCode.Revoked = true
	s.logger.Debug("Revoked authorization code",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength))
	return nil
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveAccessToken saves an issued access token record
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	ctx, span := s.startStorageSpan(ctx, "save_access_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_access_token", err, startTime)
	}()

	if token == nil || token.ID == "" {
		err = fmt.Errorf("invalid access token")
		return err
	}
	if token.UserID == "" || token.ClientID == "" {
		err = fmt.Errorf("access token requires user ID and client ID")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.accessTokens[token.ID]

	s.accessTokens[token.ID] = token

	if !existed {
		s.accessTokensCountAtomic.Add(1)
	}

	s.logger.Debug("Saved access token",
		"token_id", util.SafeTruncate(token.ID, tokenIDLogLength),
		"user_id", token.UserID,
		"client_id", token.ClientID)
	return nil
}

// GetAccessToken retrieves an access token record by ID
func (s *Store) GetAccessToken(ctx context.Context, id string) (*storage.AccessToken, error) {
	ctx, span := s.startStorageSpan(ctx, "get_access_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_access_token", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.accessTokens[id]
	if !ok {
		err = fmt.Errorf("%w: access token", storage.ErrNotFound)
		return nil, err
	}

	if token.Revoked {
		err = fmt.Errorf("%w: access token", storage.ErrRevoked)
		return nil, err
	}

	tokenCopy := *token
	return &tokenCopy, nil
}

// RevokeAccessToken marks an access token revoked. Idempotent.
func (s *Store) RevokeAccessToken(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.accessTokens[id]
	if !ok || token.Revoked {
		return nil
	}

	token.Revoked = true
	token.RevokedAt = time.Now()
	s.logger.Debug("Revoked access token",
		"token_id", util.SafeTruncate(id, tokenIDLogLength))
	return nil
}

// SaveRefreshToken saves an issued refresh token record with family lineage
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	ctx, span := s.startStorageSpan(ctx, "save_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_refresh_token", err, startTime)
	}()

	if token == nil || token.ID == "" {
		err = fmt.Errorf("invalid refresh token")
		return err
	}
	if token.UserID == "" || token.ClientID == "" {
		err = fmt.Errorf("refresh token requires user ID and client ID")
		return err
	}
	if token.FamilyID == "" {
		err = fmt.Errorf("refresh token requires a family ID")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// SECURITY: Enforce hard limit on refresh token records to prevent memory
	// exhaustion attacks via repeated rotation
	if _, exists := s.refreshTokens[token.ID]; !exists {
		currentCount := len(s.refreshTokens)
		if currentCount >= hardMaxRefreshTokenEntries {
			s.logger.Error("CRITICAL: Refresh token record limit exceeded - blocking save to prevent memory exhaustion",
				"current_count", currentCount,
				"hard_limit", hardMaxRefreshTokenEntries,
				"user_id", token.UserID,
				"client_id", token.ClientID)
			err = fmt.Errorf("refresh token record limit exceeded (%d entries) - possible memory exhaustion attack", currentCount)
			return err
		}
		s.refreshTokensCountAtomic.Add(1)
	}

	s.refreshTokens[token.ID] = token

	s.logger.Debug("Saved refresh token",
		"token_id", util.SafeTruncate(token.ID, tokenIDLogLength),
		"user_id", token.UserID,
		"family_id", util.SafeTruncate(token.FamilyID, tokenIDLogLength),
		"generation", token.Generation,
		"expires_at", token.ExpiresAt)
	return nil
}

// GetRefreshToken retrieves a refresh token record by ID without consuming it
func (s *Store) GetRefreshToken(ctx context.Context, id string) (*storage.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.refreshTokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: refresh token", storage.ErrNotFound)
	}

	tokenCopy := *token
	return &tokenCopy, nil
}

// ConsumeRefreshToken atomically checks that a refresh token is unrotated and
// marks it rotated.
//
// SECURITY: This operation is atomic - only ONE concurrent request can succeed.
// All other concurrent requests will receive ErrReplayed.
//
// IMPORTANT: The token record is ONLY returned alongside ErrReplayed to enable
// family revocation. For other errors (not found, expired, revoked), nil is
// returned to prevent information leakage.
func (s *Store) ConsumeRefreshToken(ctx context.Context, id string) (*storage.RefreshToken, error) {
	s.mu.Lock() // MUST use write lock for atomic check-and-set
	defer s.mu.Unlock()

	token, ok := s.refreshTokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: refresh token", storage.ErrNotFound)
	}

	if token.Revoked {
		return nil, fmt.Errorf("%w: refresh token", storage.ErrRevoked)
	}
	if _, familyRevoked := s.revokedFamilies[token.FamilyID]; familyRevoked {
		return nil, fmt.Errorf("%w: refresh token family", storage.ErrRevoked)
	}

	// Check if expired with clock skew grace period
	if security.IsTokenExpired(token.ExpiresAt) {
		return nil, fmt.Errorf("%w: refresh token", storage.ErrExpired)
	}

	// ATOMIC check-and-set: Only one caller can pass this check
	if token.Used {
		// SECURITY: Token already rotated - return the record so the caller
		// can revoke the entire family.
		tokenCopy := *token
		return &tokenCopy, fmt.Errorf("%w: refresh token", storage.ErrReplayed)
	}

	token.Used = true
	token.UsedAt = time.Now()

	s.logger.Debug("Marked refresh token as rotated",
		"token_id", util.SafeTruncate(id, tokenIDLogLength),
		"family_id", util.SafeTruncate(token.FamilyID, tokenIDLogLength),
		"generation", token.Generation)

	tokenCopy := *token
	return &tokenCopy, nil
}

// RevokeRefreshToken marks a single refresh token revoked. Idempotent.
func (s *Store) RevokeRefreshToken(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.refreshTokens[id]
	if !ok || token.Revoked {
		return nil
	}

	token.Revoked = true
	token.RevokedAt = time.Now()
	s.logger.Debug("Revoked refresh token",
		"token_id", util.SafeTruncate(id, tokenIDLogLength))
	return nil
}

// RevokeRefreshTokenFamily revokes every refresh token that shares the given
// family ID. This is called when token reuse is detected.
func (s *Store) RevokeRefreshTokenFamily(ctx context.Context, familyID string) (int, error) {
	if familyID == "" {
		return 0, fmt.Errorf("family ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.revokeFamilyLocked(familyID), nil
}

// revokeFamilyLocked revokes all members of a family. Caller must hold the
// write lock.
func (s *Store) revokeFamilyLocked(familyID string) int {
	now := time.Now()
	revokedCount := 0

	for _, token := range s.refreshTokens {
		if token.FamilyID == familyID && !token.Revoked {
			token.Revoked = true
			token.RevokedAt = now
			revokedCount++

			// Revoke the paired access token as well
			if at, ok := s.accessTokens[token.AccessTokenID]; ok && !at.Revoked {
				at.Revoked = true
				at.RevokedAt = now
				revokedCount++
			}
		}
	}

	if _, already := s.revokedFamilies[familyID]; !already {
		s.revokedFamilies[familyID] = now
		s.familiesCountAtomic.Add(1)
	}

	if revokedCount > 0 {
		s.logger.Warn("Revoked refresh token family due to reuse detection",
			"family_id", util.SafeTruncate(familyID, tokenIDLogLength),
			"tokens_revoked", revokedCount)
	}

	return revokedCount
}

// RevokeAllTokensForUserClient revokes all tokens (access + refresh) for a
// specific user+client combination. This is called when authorization code
// reuse is detected.
func (s *Store) RevokeAllTokensForUserClient(ctx context.Context, userID, clientID string) (int, error) {
	if userID == "" || clientID == "" {
		return 0, fmt.Errorf("userID and clientID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	revokedCount := 0
	now := time.Now()

	// Step 1: Identify all token families owned by this user+client
	familiesToRevoke := make(map[string]bool)
	for _, token := range s.refreshTokens {
		if token.UserID == userID && token.ClientID == clientID {
			familiesToRevoke[token.FamilyID] = true
		}
	}

	// Step 2: Revoke ENTIRE token families
	for familyID := range familiesToRevoke {
		revokedCount += s.revokeFamilyLocked(familyID)
	}

	// Step 3: Revoke remaining access tokens (not paired with a family member)
	for _, token := range s.accessTokens {
		if token.UserID == userID && token.ClientID == clientID && !token.Revoked {
			token.Revoked = true
			token.RevokedAt = now
			revokedCount++
		}
	}

	if revokedCount > 0 {
		s.logger.Warn("Revoked all tokens for user+client",
			"user_id", userID,
			"client_id", clientID,
			"tokens_revoked", revokedCount,
			"reason", "authorization_code_reuse_detected")
	}

	return revokedCount, nil
}

// GetTokensByUserClient retrieves all live token IDs for a user+client
// combination. This is primarily for testing and debugging purposes.
func (s *Store) GetTokensByUserClient(ctx context.Context, userID, clientID string) ([]string, error) {
	if userID == "" || clientID == "" {
		return nil, fmt.Errorf("userID and clientID cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := make([]string, 0)
	for id, token := range s.accessTokens {
		if token.UserID == userID && token.ClientID == clientID && !token.Revoked {
			tokens = append(tokens, id)
		}
	}
	for id, token := range s.refreshTokens {
		if token.UserID == userID && token.ClientID == clientID && !token.Revoked {
			tokens = append(tokens, id)
		}
	}

	return tokens, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0

	// Consumed and revoked records are kept past expiry so that replay of a
	// stale credential is still recognized. Only drop them once the retention
	// window has passed.
	retention := time.Duration(s.revokedRetentionHours) * time.Hour
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	dropThreshold := time.Now().Add(-retention)

	for code, authCode := range s.codes {
		if security.IsTokenExpired(authCode.ExpiresAt) && authCode.ExpiresAt.Before(dropThreshold) {
			delete(s.codes, code)
			s.codesCountAtomic.Add(-1)
			cleaned++
		}
	}

	for id, token := range s.accessTokens {
		if security.IsTokenExpired(token.ExpiresAt) && token.ExpiresAt.Before(dropThreshold) {
			delete(s.accessTokens, id)
			s.accessTokensCountAtomic.Add(-1)
			cleaned++
		}
	}

	for id, token := range s.refreshTokens {
		if security.IsTokenExpired(token.ExpiresAt) && token.ExpiresAt.Before(dropThreshold) {
			delete(s.refreshTokens, id)
			s.refreshTokensCountAtomic.Add(-1)
			cleaned++
		}
	}

	for familyID, revokedAt := range s.revokedFamilies {
		if revokedAt.Before(dropThreshold) {
			delete(s.revokedFamilies, familyID)
			s.familiesCountAtomic.Add(-1)
			cleaned++
		}
	}

	// SECURITY MONITORING: Check for excessive refresh token record growth.
	// This could indicate a memory exhaustion attack via repeated rotation.
	refreshCount := len(s.refreshTokens)
	if refreshCount > maxRefreshTokenEntries {
		s.logger.Warn("Refresh token records approaching limit - possible memory exhaustion attack",
			"current_count", refreshCount,
			"max_threshold", maxRefreshTokenEntries,
			"recommendation", "Review security logs for repeated token rotation attempts")
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned, "refresh_token_count", refreshCount)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
// Returns a context with the span attached and the span itself
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
		))

	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else {
		if span != nil {
			span.SetStatus(codes.Ok, "")
		}
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
