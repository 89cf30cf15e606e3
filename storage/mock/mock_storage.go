// Package mock provides a mock implementation of the storage interfaces for
// testing. Every operation delegates to an overridable function field with a
// working in-memory default, and counts calls, so tests can inject failures
// (for retry paths) and assert interaction patterns.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/giantswarm/authd/storage"
)

// MockStore is a mock implementation of storage.Store for testing.
// Override individual *Func fields to inject errors or custom behavior;
// unset fields fall back to the in-memory defaults.
type MockStore struct {
	mu sync.RWMutex

	clients       map[string]*storage.Client
	codes         map[string]*storage.AuthorizationCode
	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken

	SaveClientFunc                   func(ctx context.Context, client *storage.Client) error
	GetClientFunc                    func(ctx context.Context, clientID string) (*storage.Client, error)
	ListClientsFunc                  func(ctx context.Context) ([]*storage.Client, error)
	SaveAuthorizationCodeFunc        func(ctx context.Context, code *storage.AuthorizationCode) error
	GetAuthorizationCodeFunc         func(ctx context.Context, code string) (*storage.AuthorizationCode, error)
	ConsumeAuthorizationCodeFunc     func(ctx context.Context, code string) (*storage.AuthorizationCode, error)
	RevokeAuthorizationCodeFunc      func(ctx context.Context, code string) error
	SaveAccessTokenFunc              func(ctx context.Context, token *storage.AccessToken) error
	GetAccessTokenFunc               func(ctx context.Context, id string) (*storage.AccessToken, error)
	RevokeAccessTokenFunc            func(ctx context.Context, id string) error
	SaveRefreshTokenFunc             func(ctx context.Context, token *storage.RefreshToken) error
	GetRefreshTokenFunc              func(ctx context.Context, id string) (*storage.RefreshToken, error)
	ConsumeRefreshTokenFunc          func(ctx context.Context, id string) (*storage.RefreshToken, error)
	RevokeRefreshTokenFunc           func(ctx context.Context, id string) error
	RevokeRefreshTokenFamilyFunc     func(ctx context.Context, familyID string) (int, error)
	RevokeAllTokensForUserClientFunc func(ctx context.Context, userID, clientID string) (int, error)
	GetTokensByUserClientFunc        func(ctx context.Context, userID, clientID string) ([]string, error)

	callMu     sync.Mutex
	CallCounts map[string]int
}

// Compile-time interface check
var _ storage.Store = (*MockStore)(nil)

// NewMockStore creates a new mock store with working in-memory defaults.
func NewMockStore() *MockStore {
	return &MockStore{
		clients:       make(map[string]*storage.Client),
		codes:         make(map[string]*storage.AuthorizationCode),
		accessTokens:  make(map[string]*storage.AccessToken),
		refreshTokens: make(map[string]*storage.RefreshToken),
		CallCounts:    make(map[string]int),
	}
}

func (m *MockStore) count(name string) {
	m.callMu.Lock()
	defer m.callMu.Unlock()
	m.CallCounts[name]++
}

// ResetCallCounts resets all call counters
func (m *MockStore) ResetCallCounts() {
	m.callMu.Lock()
	defer m.callMu.Unlock()
	m.CallCounts = make(map[string]int)
}

// CallCount returns the number of calls recorded for an operation.
func (m *MockStore) CallCount(name string) int {
	m.callMu.Lock()
	defer m.callMu.Unlock()
	return m.CallCounts[name]
}

// ============================================================
// ClientStore
// ============================================================

func (m *MockStore) SaveClient(ctx context.Context, client *storage.Client) error {
	m.count("SaveClient")
	if m.SaveClientFunc != nil {
		return m.SaveClientFunc(ctx, client)
	}
	if client == nil {
		return fmt.Errorf("client cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clientCopy := *client
	m.clients[client.ClientID] = &clientCopy
	return nil
}

func (m *MockStore) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	m.count("GetClient")
	if m.GetClientFunc != nil {
		return m.GetClientFunc(ctx, clientID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, ok := m.clients[clientID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clientCopy := *client
	return &clientCopy, nil
}

func (m *MockStore) ListClients(ctx context.Context) ([]*storage.Client, error) {
	m.count("ListClients")
	if m.ListClientsFunc != nil {
		return m.ListClientsFunc(ctx)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	clients := make([]*storage.Client, 0, len(m.clients))
	for _, client := range m.clients {
		clientCopy := *client
		clients = append(clients, &clientCopy)
	}
	return clients, nil
}

// ============================================================
// CodeStore
// ============================================================

func (m *MockStore) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	m.count("SaveAuthorizationCode")
	if m.SaveAuthorizationCodeFunc != nil {
		return m.SaveAuthorizationCodeFunc(ctx, code)
	}
	if code == nil {
		return fmt.Errorf("authorization code cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	codeCopy := *code
	m.codes[code.Code] = &codeCopy
	return nil
}

func (m *MockStore) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	m.count("GetAuthorizationCode")
	if m.GetAuthorizationCodeFunc != nil {
		return m.GetAuthorizationCodeFunc(ctx, code)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.codes[code]
	if !ok {
		return nil, storage.ErrNotFound
	}
	recordCopy := *record
	return &recordCopy, nil
}

func (m *MockStore) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	m.count("ConsumeAuthorizationCode")
	if m.ConsumeAuthorizationCodeFunc != nil {
		return m.ConsumeAuthorizationCodeFunc(ctx, code)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.codes[code]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if record.Revoked {
		return nil, storage.ErrRevoked
	}
	if time.Now().After(record.ExpiresAt) {
		return nil, storage.ErrExpired
	}
	if record.Used {
		recordCopy := *record
		return &recordCopy, storage.ErrReplayed
	}
	record.Used = true
	record.UsedAt = time.Now()
	recordCopy := *record
	return &recordCopy, nil
}

func (m *MockStore) RevokeAuthorizationCode(ctx context.Context, code string) error {
	m.count("RevokeAuthorizationCode")
	if m.RevokeAuthorizationCodeFunc != nil {
		return m.RevokeAuthorizationCodeFunc(ctx, code)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if record, ok := m.codes[code]; ok && !record.Used {
		record.Revoked = true
	}
	return nil
}

// ============================================================
// TokenStore
// ============================================================

func (m *MockStore) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	m.count("SaveAccessToken")
	if m.SaveAccessTokenFunc != nil {
		return m.SaveAccessTokenFunc(ctx, token)
	}
	if token == nil {
		return fmt.Errorf("access token cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tokenCopy := *token
	m.accessTokens[token.ID] = &tokenCopy
	return nil
}

func (m *MockStore) GetAccessToken(ctx context.Context, id string) (*storage.AccessToken, error) {
	m.count("GetAccessToken")
	if m.GetAccessTokenFunc != nil {
		return m.GetAccessTokenFunc(ctx, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, ok := m.accessTokens[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if token.Revoked {
		return nil, storage.ErrRevoked
	}
	tokenCopy := *token
	return &tokenCopy, nil
}

func (m *MockStore) RevokeAccessToken(ctx context.Context, id string) error {
	m.count("RevokeAccessToken")
	if m.RevokeAccessTokenFunc != nil {
		return m.RevokeAccessTokenFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if token, ok := m.accessTokens[id]; ok && !token.Revoked {
		token.Revoked = true
		token.RevokedAt = time.Now()
	}
	return nil
}

func (m *MockStore) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	m.count("SaveRefreshToken")
	if m.SaveRefreshTokenFunc != nil {
		return m.SaveRefreshTokenFunc(ctx, token)
	}
	if token == nil {
		return fmt.Errorf("refresh token cannot be nil")
	}
	if token.FamilyID == "" {
		return fmt.Errorf("refresh token family ID cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tokenCopy := *token
	m.refreshTokens[token.ID] = &tokenCopy
	return nil
}

func (m *MockStore) GetRefreshToken(ctx context.Context, id string) (*storage.RefreshToken, error) {
	m.count("GetRefreshToken")
	if m.GetRefreshTokenFunc != nil {
		return m.GetRefreshTokenFunc(ctx, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, ok := m.refreshTokens[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	tokenCopy := *token
	return &tokenCopy, nil
}

func (m *MockStore) ConsumeRefreshToken(ctx context.Context, id string) (*storage.RefreshToken, error) {
	m.count("ConsumeRefreshToken")
	if m.ConsumeRefreshTokenFunc != nil {
		return m.ConsumeRefreshTokenFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.refreshTokens[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if token.Revoked {
		return nil, storage.ErrRevoked
	}
	if time.Now().After(token.ExpiresAt) {
		return nil, storage.ErrExpired
	}
	if token.Used {
		tokenCopy := *token
		return &tokenCopy, storage.ErrReplayed
	}
	token.Used = true
	token.UsedAt = time.Now()
	tokenCopy := *token
	return &tokenCopy, nil
}

func (m *MockStore) RevokeRefreshToken(ctx context.Context, id string) error {
	m.count("RevokeRefreshToken")
	if m.RevokeRefreshTokenFunc != nil {
		return m.RevokeRefreshTokenFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if token, ok := m.refreshTokens[id]; ok && !token.Revoked {
		token.Revoked = true
		token.RevokedAt = time.Now()
	}
	return nil
}

func (m *MockStore) RevokeRefreshTokenFamily(ctx context.Context, familyID string) (int, error) {
	m.count("RevokeRefreshTokenFamily")
	if m.RevokeRefreshTokenFamilyFunc != nil {
		return m.RevokeRefreshTokenFamilyFunc(ctx, familyID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	revoked := 0
	for _, token := range m.refreshTokens {
		if token.FamilyID != familyID || token.Revoked {
			continue
		}
		token.Revoked = true
		token.RevokedAt = now
		revoked++
		if at, ok := m.accessTokens[token.AccessTokenID]; ok && !at.Revoked {
			at.Revoked = true
			at.RevokedAt = now
			revoked++
		}
	}
	return revoked, nil
}

func (m *MockStore) RevokeAllTokensForUserClient(ctx context.Context, userID, clientID string) (int, error) {
	m.count("RevokeAllTokensForUserClient")
	if m.RevokeAllTokensForUserClientFunc != nil {
		return m.RevokeAllTokensForUserClientFunc(ctx, userID, clientID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	revoked := 0
	for _, token := range m.refreshTokens {
		if token.UserID == userID && token.ClientID == clientID && !token.Revoked {
			token.Revoked = true
			token.RevokedAt = now
			revoked++
		}
	}
	for _, token := range m.accessTokens {
		if token.UserID == userID && token.ClientID == clientID && !token.Revoked {
			token.Revoked = true
			token.RevokedAt = now
			revoked++
		}
	}
	return revoked, nil
}

func (m *MockStore) GetTokensByUserClient(ctx context.Context, userID, clientID string) ([]string, error) {
	m.count("GetTokensByUserClient")
	if m.GetTokensByUserClientFunc != nil {
		return m.GetTokensByUserClientFunc(ctx, userID, clientID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	tokens := make([]string, 0)
	for id, token := range m.accessTokens {
		if token.UserID == userID && token.ClientID == clientID && !token.Revoked {
			tokens = append(tokens, id)
		}
	}
	for id, token := range m.refreshTokens {
		if token.UserID == userID && token.ClientID == clientID && !token.Revoked {
			tokens = append(tokens, id)
		}
	}
	return tokens, nil
}
