package authd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/giantswarm/authd/identity"
	"github.com/giantswarm/authd/internal/testutil"
	"github.com/giantswarm/authd/server"
	"github.com/giantswarm/authd/storage/memory"
)

const (
	testClientID    = "test-client-id"
	testRedirectURI = "https://example.com/callback"
	testUserID      = "test-user-123"
	testState       = "state-abc123def456"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestHandler(t *testing.T) (*Handler, *server.Server) {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	if err := store.SaveClient(context.Background(), testutil.GenerateTestClient()); err != nil {
		t.Fatalf("failed to seed client: %v", err)
	}
	if err := store.SaveClient(context.Background(), testutil.GenerateTestPublicClient()); err != nil {
		t.Fatalf("failed to seed public client: %v", err)
	}

	resolver := identity.NewStaticResolver(&identity.User{
		ID:       testUserID,
		Username: "alice",
		Email:    "alice@example.com",
	})

	cfg := &server.Config{
		Issuer:    "https://auth.example.com",
		MasterKey: bytes.Repeat([]byte{0x42}, server.MasterKeyLength),
	}

	srv, err := server.New(store, resolver, cfg, discardLogger())
	if err != nil {
		t.Fatalf("server.New() failed: %v", err)
	}

	h := NewHandler(srv, discardLogger())
	h.SetUserAuthenticator(UserAuthenticatorFunc(func(r *http.Request) (string, error) {
		return testUserID, nil
	}))
	return h, srv
}

// doAuthorize runs the authorization endpoint and returns the minted code.
func doAuthorize(t *testing.T, h *Handler, challenge string) string {
	t.Helper()

	q := url.Values{
		"client_id":             {testClientID},
		"redirect_uri":          {testRedirectURI},
		"response_type":         {ResponseTypeCode},
		"scope":                 {"openid email"},
		"state":                 {testState},
		"code_challenge":        {challenge},
		"code_challenge_method": {PKCEMethodS256},
	}
	req := httptest.NewRequest(http.MethodGet, "/authorize?"+q.Encode(), nil)
	w := httptest.NewRecorder()

	h.ServeAuthorization(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("authorize status = %d, want %d (body %s)", w.Code, http.StatusFound, w.Body.String())
	}

	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("unparsable Location header: %v", err)
	}
	if got := loc.Query().Get("state"); got != testState {
		t.Errorf("redirect state = %q, want %q", got, testState)
	}
	code := loc.Query().Get("code")
	if code == "" {
		t.Fatal("redirect is missing the code parameter")
	}
	return code
}

// doToken posts to the token endpoint with confidential client Basic auth.
func doToken(t *testing.T, h *Handler, srv *server.Server, form url.Values) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(testClientID, srv.Keys().DeriveClientSecret(testClientID))
	w := httptest.NewRecorder()

	h.ServeToken(w, req)
	return w
}

func decodeToken(t *testing.T, w *httptest.ResponseRecorder) TokenResponse {
	t.Helper()

	if w.Code != http.StatusOK {
		t.Fatalf("token status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}
	var resp TokenResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode token response: %v", err)
	}
	return resp
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

func TestHandler_AuthorizeRedirect(t *testing.T) {
	h, _ := setupTestHandler(t)
	challenge, _ := testutil.GeneratePKCEPair()

	code := doAuthorize(t, h, challenge)
	if len(code) < 32 {
		t.Errorf("authorization code suspiciously short: %q", code)
	}
}

func TestHandler_AuthorizeErrors(t *testing.T) {
	h, _ := setupTestHandler(t)
	challenge, _ := testutil.GeneratePKCEPair()

	base := url.Values{
		"client_id":             {testClientID},
		"redirect_uri":          {testRedirectURI},
		"response_type":         {ResponseTypeCode},
		"scope":                 {"openid"},
		"state":                 {testState},
		"code_challenge":        {challenge},
		"code_challenge_method": {PKCEMethodS256},
	}

	tests := []struct {
		name       string
		mutate     func(q url.Values)
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing state",
			mutate:     func(q url.Values) { q.Del("state") },
			wantStatus: http.StatusBadRequest,
			wantError:  ErrorCodeInvalidRequest,
		},
		{
			name:       "unknown client",
			mutate:     func(q url.Values) { q.Set("client_id", "nope") },
			wantStatus: http.StatusUnauthorized,
			wantError:  ErrorCodeInvalidClient,
		},
		{
			name:       "unregistered redirect",
			mutate:     func(q url.Values) { q.Set("redirect_uri", "https://evil.example.com/cb") },
			wantStatus: http.StatusBadRequest,
			wantError:  ErrorCodeInvalidRedirectURI,
		},
		{
			name:       "implicit response type",
			mutate:     func(q url.Values) { q.Set("response_type", "token") },
			wantStatus: http.StatusBadRequest,
			wantError:  ErrorCodeUnsupportedResponseType,
		},
		{
			name:       "missing PKCE",
			mutate:     func(q url.Values) { q.Del("code_challenge"); q.Del("code_challenge_method") },
			wantStatus: http.StatusBadRequest,
			wantError:  ErrorCodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := url.Values{}
			for k, v := range base {
				q[k] = v
			}
			tt.mutate(q)

			req := httptest.NewRequest(http.MethodGet, "/authorize?"+q.Encode(), nil)
			w := httptest.NewRecorder()
			h.ServeAuthorization(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if resp := decodeError(t, w); resp.Error != tt.wantError {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantError)
			}
		})
	}
}

func TestHandler_AuthorizeRequiresAuthenticatedUser(t *testing.T) {
	h, _ := setupTestHandler(t)
	h.SetUserAuthenticator(nil)
	challenge, _ := testutil.GeneratePKCEPair()

	q := url.Values{
		"client_id":             {testClientID},
		"redirect_uri":          {testRedirectURI},
		"response_type":         {ResponseTypeCode},
		"state":                 {testState},
		"code_challenge":        {challenge},
		"code_challenge_method": {PKCEMethodS256},
	}
	req := httptest.NewRequest(http.MethodGet, "/authorize?"+q.Encode(), nil)
	w := httptest.NewRecorder()
	h.ServeAuthorization(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if resp := decodeError(t, w); resp.Error != ErrorCodeAccessDenied {
		t.Errorf("error = %q, want %q", resp.Error, ErrorCodeAccessDenied)
	}
}

func TestHandler_TokenExchange(t *testing.T) {
	h, srv := setupTestHandler(t)
	challenge, verifier := testutil.GeneratePKCEPair()
	code := doAuthorize(t, h, challenge)

	w := doToken(t, h, srv, url.Values{
		"grant_type":    {GrantTypeAuthorizationCode},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {verifier},
	})
	resp := decodeToken(t, w)

	if resp.AccessToken == "" {
		t.Error("access_token is empty")
	}
	if resp.RefreshToken == "" {
		t.Error("refresh_token is empty")
	}
	if resp.TokenType != tokenTypeBearer {
		t.Errorf("token_type = %q, want %q", resp.TokenType, tokenTypeBearer)
	}
	if resp.Scope != "openid email" {
		t.Errorf("scope = %q, want %q", resp.Scope, "openid email")
	}
	if resp.ExpiresIn <= 0 {
		t.Errorf("expires_in = %d, want > 0", resp.ExpiresIn)
	}
}

func TestHandler_TokenExchange_ClientSecretPost(t *testing.T) {
	h, srv := setupTestHandler(t)
	challenge, verifier := testutil.GeneratePKCEPair()
	code := doAuthorize(t, h, challenge)

	form := url.Values{
		"grant_type":    {GrantTypeAuthorizationCode},
		"code":          {code},
		"client_id":     {testClientID},
		"client_secret": {srv.Keys().DeriveClientSecret(testClientID)},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {verifier},
	}
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.ServeToken(w, req)

	if resp := decodeToken(t, w); resp.AccessToken == "" {
		t.Error("access_token is empty")
	}
}

func TestHandler_TokenErrors(t *testing.T) {
	h, srv := setupTestHandler(t)
	challenge, verifier := testutil.GeneratePKCEPair()
	code := doAuthorize(t, h, challenge)

	t.Run("unsupported grant type", func(t *testing.T) {
		w := doToken(t, h, srv, url.Values{"grant_type": {"password"}})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if resp := decodeError(t, w); resp.Error != ErrorCodeUnsupportedGrantType {
			t.Errorf("error = %q, want %q", resp.Error, ErrorCodeUnsupportedGrantType)
		}
	})

	t.Run("missing code", func(t *testing.T) {
		w := doToken(t, h, srv, url.Values{"grant_type": {GrantTypeAuthorizationCode}})
		if resp := decodeError(t, w); resp.Error != ErrorCodeInvalidRequest {
			t.Errorf("error = %q, want %q", resp.Error, ErrorCodeInvalidRequest)
		}
	})

	t.Run("wrong client secret", func(t *testing.T) {
		form := url.Values{
			"grant_type":    {GrantTypeAuthorizationCode},
			"code":          {code},
			"redirect_uri":  {testRedirectURI},
			"code_verifier": {verifier},
		}
		req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(testClientID, "wrong-secret")
		w := httptest.NewRecorder()
		h.ServeToken(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if resp := decodeError(t, w); resp.Error != ErrorCodeInvalidClient {
			t.Errorf("error = %q, want %q", resp.Error, ErrorCodeInvalidClient)
		}
	})

	t.Run("bogus code is uniform invalid_grant", func(t *testing.T) {
		w := doToken(t, h, srv, url.Values{
			"grant_type":    {GrantTypeAuthorizationCode},
			"code":          {"no-such-code"},
			"redirect_uri":  {testRedirectURI},
			"code_verifier": {verifier},
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if resp := decodeError(t, w); resp.Error != ErrorCodeInvalidGrant {
			t.Errorf("error = %q, want %q", resp.Error, ErrorCodeInvalidGrant)
		}
	})

	t.Run("GET not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/token", nil)
		w := httptest.NewRecorder()
		h.ServeToken(w, req)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
		}
	})
}

func TestHandler_PublicClientExchange(t *testing.T) {
	h, _ := setupTestHandler(t)
	challenge, verifier := testutil.GeneratePKCEPair()

	q := url.Values{
		"client_id":             {"test-public-client"},
		"redirect_uri":          {testRedirectURI},
		"response_type":         {ResponseTypeCode},
		"scope":                 {"openid"},
		"state":                 {testState},
		"code_challenge":        {challenge},
		"code_challenge_method": {PKCEMethodS256},
	}
	req := httptest.NewRequest(http.MethodGet, "/authorize?"+q.Encode(), nil)
	w := httptest.NewRecorder()
	h.ServeAuthorization(w, req)
	if w.Code != http.StatusFound {
		t.Fatalf("authorize status = %d (body %s)", w.Code, w.Body.String())
	}
	loc, _ := url.Parse(w.Header().Get("Location"))
	code := loc.Query().Get("code")

	// Public client: no secret, PKCE verifier is the proof of possession
	form := url.Values{
		"grant_type":    {GrantTypeAuthorizationCode},
		"code":          {code},
		"client_id":     {"test-public-client"},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {verifier},
	}
	tokenReq := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	tokenReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	tw := httptest.NewRecorder()
	h.ServeToken(tw, tokenReq)

	if resp := decodeToken(t, tw); resp.AccessToken == "" {
		t.Error("access_token is empty")
	}
}

func TestHandler_RefreshRotationAndReplayCascade(t *testing.T) {
	h, srv := setupTestHandler(t)
	challenge, verifier := testutil.GeneratePKCEPair()
	code := doAuthorize(t, h, challenge)

	initial := decodeToken(t, doToken(t, h, srv, url.Values{
		"grant_type":    {GrantTypeAuthorizationCode},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {verifier},
	}))

	// Rotate once
	rotated := decodeToken(t, doToken(t, h, srv, url.Values{
		"grant_type":    {GrantTypeRefreshToken},
		"refresh_token": {initial.RefreshToken},
	}))
	if rotated.RefreshToken == initial.RefreshToken {
		t.Error("refresh token was not rotated")
	}
	if rotated.Scope != initial.Scope {
		t.Errorf("refresh changed scope: %q -> %q", initial.Scope, rotated.Scope)
	}

	// Replaying the consumed token must fail and kill the whole family
	replay := doToken(t, h, srv, url.Values{
		"grant_type":    {GrantTypeRefreshToken},
		"refresh_token": {initial.RefreshToken},
	})
	if replay.Code != http.StatusBadRequest {
		t.Fatalf("replay status = %d, want %d", replay.Code, http.StatusBadRequest)
	}
	if resp := decodeError(t, replay); resp.Error != ErrorCodeInvalidGrant {
		t.Errorf("replay error = %q, want %q", resp.Error, ErrorCodeInvalidGrant)
	}

	cascaded := doToken(t, h, srv, url.Values{
		"grant_type":    {GrantTypeRefreshToken},
		"refresh_token": {rotated.RefreshToken},
	})
	if cascaded.Code != http.StatusBadRequest {
		t.Errorf("successor after replay status = %d, want %d (family should be revoked)", cascaded.Code, http.StatusBadRequest)
	}
}

func TestHandler_Revoke(t *testing.T) {
	h, srv := setupTestHandler(t)
	challenge, verifier := testutil.GeneratePKCEPair()
	code := doAuthorize(t, h, challenge)

	tokens := decodeToken(t, doToken(t, h, srv, url.Values{
		"grant_type":    {GrantTypeAuthorizationCode},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {verifier},
	}))

	revoke := func(token string) *httptest.ResponseRecorder {
		form := url.Values{"token": {token}}
		req := httptest.NewRequest(http.MethodPost, "/revoke", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(testClientID, srv.Keys().DeriveClientSecret(testClientID))
		w := httptest.NewRecorder()
		h.ServeTokenRevocation(w, req)
		return w
	}

	decodeRevocation := func(w *httptest.ResponseRecorder) RevocationResponse {
		if w.Code != http.StatusOK {
			t.Fatalf("revoke status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
		}
		var resp RevocationResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode revocation response: %v", err)
		}
		return resp
	}

	if resp := decodeRevocation(revoke(tokens.RefreshToken)); !resp.Revoked {
		t.Error("first revocation should report revoked=true")
	}
	if resp := decodeRevocation(revoke(tokens.RefreshToken)); resp.Revoked {
		t.Error("second revocation should report revoked=false")
	}
	if resp := decodeRevocation(revoke("completely-unknown-token")); resp.Revoked {
		t.Error("unknown token revocation should report revoked=false")
	}

	// The revoked refresh token must be unusable
	w := doToken(t, h, srv, url.Values{
		"grant_type":    {GrantTypeRefreshToken},
		"refresh_token": {tokens.RefreshToken},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("refresh with revoked token status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandler_ServeAuthorizationServerMetadata(t *testing.T) {
	h, _ := setupTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, PathMetadata, nil)
	w := httptest.NewRecorder()
	h.ServeAuthorizationServerMetadata(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var meta AuthorizationServerMetadata
	if err := json.NewDecoder(w.Body).Decode(&meta); err != nil {
		t.Fatalf("failed to decode metadata: %v", err)
	}

	if meta.Issuer != "https://auth.example.com" {
		t.Errorf("issuer = %q", meta.Issuer)
	}
	if meta.AuthorizationEndpoint != "https://auth.example.com/authorize" {
		t.Errorf("authorization_endpoint = %q", meta.AuthorizationEndpoint)
	}
	if meta.TokenEndpoint != "https://auth.example.com/token" {
		t.Errorf("token_endpoint = %q", meta.TokenEndpoint)
	}
	if meta.RevocationEndpoint != "https://auth.example.com/revoke" {
		t.Errorf("revocation_endpoint = %q", meta.RevocationEndpoint)
	}
	if len(meta.CodeChallengeMethodsSupported) != 1 || meta.CodeChallengeMethodsSupported[0] != PKCEMethodS256 {
		t.Errorf("code_challenge_methods_supported = %v, want [S256]", meta.CodeChallengeMethodsSupported)
	}
	if len(meta.GrantTypesSupported) != 2 {
		t.Errorf("grant_types_supported = %v", meta.GrantTypesSupported)
	}
}

func TestHandler_ValidateTokenMiddleware(t *testing.T) {
	h, srv := setupTestHandler(t)
	challenge, verifier := testutil.GeneratePKCEPair()
	code := doAuthorize(t, h, challenge)
	tokens := decodeToken(t, doToken(t, h, srv, url.Values{
		"grant_type":    {GrantTypeAuthorizationCode},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {verifier},
	}))

	var gotUser *identity.User
	protected := h.ValidateToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserFromContext(r.Context())
		if claims, ok := ClaimsFromContext(r.Context()); !ok || claims.ClientID != testClientID {
			t.Errorf("claims missing or wrong client: %+v", claims)
		}
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/resource", nil)
		req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
		}
		if gotUser == nil || gotUser.ID != testUserID {
			t.Errorf("user in context = %+v, want ID %q", gotUser, testUserID)
		}
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/resource", nil)
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if got := w.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, tokenTypeBearer) {
			t.Errorf("WWW-Authenticate = %q, want Bearer challenge", got)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/resource", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("query parameter disabled by default", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/resource?access_token="+url.QueryEscape(tokens.AccessToken), nil)
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("query parameter when enabled", func(t *testing.T) {
		h.AllowBearerQueryParameter(true)
		defer h.AllowBearerQueryParameter(false)

		req := httptest.NewRequest(http.MethodGet, "/api/resource?access_token="+url.QueryEscape(tokens.AccessToken), nil)
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
		}
	})
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, _ := setupTestHandler(t)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("openid-configuration alias status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("response missing X-Request-ID header")
	}

	// Valid upstream request IDs are preserved for correlation
	req = httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil)
	req.Header.Set("X-Request-ID", "upstream-id-123")
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "upstream-id-123" {
		t.Errorf("X-Request-ID = %q, want upstream ID preserved", got)
	}
}
