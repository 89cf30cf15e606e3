package authd

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/authd/identity"
	"github.com/giantswarm/authd/instrumentation"
	"github.com/giantswarm/authd/security"
	"github.com/giantswarm/authd/server"
	"github.com/giantswarm/authd/storage"
)

// Well-known endpoint paths registered by RegisterRoutes.
const (
	PathAuthorize = "/authorize"
	PathToken     = "/token"
	PathRevoke    = "/revoke"
	PathMetadata  = "/.well-known/oauth-authorization-server"
)

// UserAuthenticator reports the authenticated resource owner for an
// authorization request. Implementations typically check a session cookie or
// an upstream SSO assertion. The authorization endpoint rejects requests for
// which no user can be established; it never authenticates users itself.
type UserAuthenticator interface {
	AuthenticateRequest(r *http.Request) (userID string, err error)
}

// UserAuthenticatorFunc adapts a function to the UserAuthenticator interface.
type UserAuthenticatorFunc func(r *http.Request) (string, error)

// AuthenticateRequest implements UserAuthenticator.
func (f UserAuthenticatorFunc) AuthenticateRequest(r *http.Request) (string, error) {
	return f(r)
}

// Handler is a thin HTTP adapter for the authorization Server.
// It handles HTTP requests and delegates to the Server for business logic.
type Handler struct {
	server *server.Server
	logger *slog.Logger
	tracer trace.Tracer // OpenTelemetry tracer for HTTP layer

	// Users establishes the resource owner behind an authorization request.
	// Required for the authorization endpoint; the token, revocation, and
	// metadata endpoints work without it.
	Users UserAuthenticator

	allowBearerQuery bool
}

// NewHandler creates a new HTTP handler
func NewHandler(srv *server.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		logger: logger,
	}

	// Initialize tracer if instrumentation is enabled
	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}

	return h
}

// Server returns the underlying authorization server, for callers that need
// direct access to the flow engine or key deriver.
func (h *Handler) Server() *server.Server {
	return h.server
}

// SetUserAuthenticator sets the resource owner authenticator used by the
// authorization endpoint.
func (h *Handler) SetUserAuthenticator(ua UserAuthenticator) {
	h.Users = ua
}

// AllowBearerQueryParameter enables accepting access tokens via the
// access_token query parameter in addition to the Authorization header.
// WARNING: Query parameters leak into access logs, Referer headers, and
// browser history. Only enable for clients that cannot set headers.
func (h *Handler) AllowBearerQueryParameter(allow bool) {
	h.allowBearerQuery = allow
	if allow {
		h.logger.Warn("⚠️  SECURITY NOTICE: Bearer tokens accepted via query parameter",
			"risk", "Tokens exposed in access logs, Referer headers, and browser history",
			"recommendation", "Prefer the Authorization header; disable when all clients support it")
	}
}

// RegisterRoutes registers the OAuth endpoints on the given mux. Every
// endpoint is wrapped with request ID middleware so responses carry
// X-Request-ID and log lines can be correlated.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle(PathAuthorize, security.RequestIDMiddleware(http.HandlerFunc(h.ServeAuthorization)))
	mux.Handle(PathToken, security.RequestIDMiddleware(http.HandlerFunc(h.ServeToken)))
	mux.Handle(PathRevoke, security.RequestIDMiddleware(http.HandlerFunc(h.ServeTokenRevocation)))
	mux.Handle(PathMetadata, security.RequestIDMiddleware(http.HandlerFunc(h.ServeAuthorizationServerMetadata)))
	// RFC 8414 Section 5: OpenID Connect clients look up the same document
	// under the openid-configuration path.
	mux.Handle("/.well-known/openid-configuration", security.RequestIDMiddleware(http.HandlerFunc(h.ServeAuthorizationServerMetadata)))
}

// ServeAuthorization handles OAuth authorization requests.
// Accepts GET (query parameters) and POST (form parameters) per RFC 6749
// Section 3.1. On success the response is a 302 redirect carrying code and
// state; on failure a JSON error is returned directly (the request is not
// trusted enough to redirect errors to its redirect_uri).
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	// Create span if tracing is enabled
	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.authorization")
		defer span.End()
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, r, clientIP) {
		h.recordHTTPMetrics("authorize", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics("authorize", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	// r.Form merges query and body parameters for both GET and POST
	req := server.AuthorizeRequest{
		ClientID:            r.FormValue("client_id"),
		RedirectURI:         r.FormValue("redirect_uri"),
		ResponseType:        r.FormValue("response_type"),
		Scope:               r.FormValue("scope"),
		State:               r.FormValue("state"),
		CodeChallenge:       r.FormValue("code_challenge"),
		CodeChallengeMethod: r.FormValue("code_challenge_method"),
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrResponseType, req.ResponseType),
	)

	userID, err := h.authenticateUser(r)
	if err != nil {
		h.logger.Warn("Authorization rejected: no authenticated user", "client_id", req.ClientID, "ip", clientIP, "error", err)
		h.recordHTTPMetrics("authorize", r.Method, http.StatusForbidden, startTime)
		instrumentation.SetSpanError(span, "user not authenticated")
		h.writeError(w, ErrorCodeAccessDenied, "User authentication required", http.StatusForbidden)
		return
	}
	req.UserID = userID

	redirectURL, err := h.server.Authorize(ctx, req)
	if err != nil {
		oauthErr := AsOAuthError(err)
		h.logger.Warn("Authorization request rejected",
			"client_id", req.ClientID, "ip", clientIP, "error_code", oauthErr.Code,
			"request_id", security.GetRequestID(ctx))
		h.recordHTTPMetrics("authorize", r.Method, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "authorization rejected")
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}

	h.recordHTTPMetrics("authorize", r.Method, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// ServeToken handles the OAuth token endpoint
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Parse form data
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	grantType := r.FormValue("grant_type")

	switch grantType {
	case GrantTypeAuthorizationCode:
		h.handleAuthorizationCodeGrant(w, r)
	case GrantTypeRefreshToken:
		h.handleRefreshTokenGrant(w, r)
	default:
		h.writeError(w, ErrorCodeUnsupportedGrantType, "Grant type "+grantType+" not supported", http.StatusBadRequest)
	}
}

func (h *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	// Create span if tracing is enabled
	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_exchange")
		defer span.End()
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, r, clientIP) {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusTooManyRequests, startTime)
		return
	}

	// Parse parameters
	code := r.FormValue("code")
	clientID := r.FormValue("client_id")
	redirectURI := r.FormValue("redirect_uri")
	codeVerifier := r.FormValue("code_verifier")

	if code == "" {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "code missing")
		h.writeError(w, ErrorCodeInvalidRequest, "Required parameter 'code' missing", http.StatusBadRequest)
		return
	}

	// Authenticate client
	client, err := h.authenticateClient(r, clientID, clientIP)
	if err != nil {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusUnauthorized, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "client authentication failed")
		h.writeOAuthError(w, err)
		return
	}

	// Add span attributes
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, client.ClientID),
		attribute.String(instrumentation.AttrClientType, client.ClientType),
	)

	// Exchange authorization code for tokens
	token, scope, err := h.server.ExchangeAuthorizationCode(ctx, code, client.ClientID, redirectURI, codeVerifier)
	if err != nil {
		oauthErr := AsOAuthError(err)
		h.logger.Error("Failed to exchange authorization code", "client_id", client.ClientID, "ip", clientIP, "error", err)
		h.recordHTTPMetrics("token", http.MethodPost, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "code exchange failed")
		// SECURITY: Don't leak internal error details to client.
		// Grant failures already carry the uniform invalid_grant description;
		// transient storage failures surface as server_error, never invalid_grant.
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}

	h.logger.Info("Token exchange successful", "client_id", client.ClientID, "ip", clientIP)

	h.recordHTTPMetrics("token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	// Return tokens
	h.writeTokenResponse(w, token, scope)
}

func (h *Handler) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	// Create span if tracing is enabled
	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_refresh")
		defer span.End()
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, r, clientIP) {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusTooManyRequests, startTime)
		return
	}

	// Parse parameters
	refreshToken := r.FormValue("refresh_token")
	clientID := r.FormValue("client_id")

	if refreshToken == "" {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "refresh_token missing")
		h.writeError(w, ErrorCodeInvalidRequest, "refresh_token is required", http.StatusBadRequest)
		return
	}

	// Authenticate client
	client, err := h.authenticateClient(r, clientID, clientIP)
	if err != nil {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusUnauthorized, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "client authentication failed")
		h.writeOAuthError(w, err)
		return
	}

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, client.ClientID))

	// Rotate the refresh token and mint a new access token
	token, scope, err := h.server.RefreshAccessToken(ctx, refreshToken, client.ClientID)
	if err != nil {
		oauthErr := AsOAuthError(err)
		h.logger.Error("Failed to refresh token", "client_id", client.ClientID, "ip", clientIP, "error", err)
		h.recordHTTPMetrics("token", http.MethodPost, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "token refresh failed")
		// SECURITY: Don't leak internal error details to client
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}

	h.recordHTTPMetrics("token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	// Return tokens
	h.writeTokenResponse(w, token, scope)
}

// ServeTokenRevocation handles the RFC 7009 token revocation endpoint.
// The response is always 200 for well-formed requests; the body reports
// whether this call transitioned the token from live to revoked.
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	// Create span if tracing is enabled
	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_revocation")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("revoke", http.MethodPost, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, r, clientIP) {
		h.recordHTTPMetrics("revoke", http.MethodPost, http.StatusTooManyRequests, startTime)
		return
	}

	// Parse form data
	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics("revoke", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "parse form failed")
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	token := r.FormValue("token")
	clientID := r.FormValue("client_id")

	if token == "" {
		h.recordHTTPMetrics("revoke", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "token missing")
		h.writeError(w, ErrorCodeInvalidRequest, "token is required", http.StatusBadRequest)
		return
	}

	// Validate client credentials when presented (Basic Auth or form).
	// Revocation of an unknown token must not reveal whether it existed, but
	// bad credentials are still rejected.
	if authClientID, authClientSecret := h.parseBasicAuth(r); authClientID != "" || r.FormValue("client_secret") != "" {
		if authClientID != "" {
			clientID = authClientID
		} else {
			authClientSecret = r.FormValue("client_secret")
		}
		if err := h.validateClientSecret(ctx, clientID, authClientSecret); err != nil {
			h.logAuthFailure(clientID, clientIP, "revocation_auth_failed", "Client authentication failed for revocation")
			h.recordHTTPMetrics("revoke", http.MethodPost, http.StatusUnauthorized, startTime)
			instrumentation.RecordError(span, err)
			instrumentation.SetSpanError(span, "client authentication failed")
			h.writeError(w, ErrorCodeInvalidClient, "Client authentication failed", http.StatusUnauthorized)
			return
		}
	}

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, clientID))

	// Revoke token. Per RFC 7009 the request succeeds even when the token is
	// unknown or already revoked; only backend unavailability is an error.
	revokedNow, err := h.server.Revoke(ctx, token)
	if err != nil {
		h.logger.Error("Failed to revoke token", "client_id", clientID, "ip", clientIP, "error", err)
		oauthErr := AsOAuthError(err)
		h.recordHTTPMetrics("revoke", http.MethodPost, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}

	h.recordHTTPMetrics("revoke", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(RevocationResponse{Revoked: revokedNow})
}

// ServeAuthorizationServerMetadata serves RFC 8414 authorization server metadata
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkDiscoveryRateLimit(w, r, clientIP) {
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	metadata := h.buildAuthServerMetadata()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(metadata)
}

// checkDiscoveryRateLimit checks rate limit for discovery endpoints.
// Returns true if rate limit exceeded and response was written.
func (h *Handler) checkDiscoveryRateLimit(w http.ResponseWriter, r *http.Request, clientIP string) bool {
	if h.server.RateLimiter == nil || h.server.RateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded on discovery endpoint",
		"ip", clientIP,
		"endpoint", "authorization_server_metadata")

	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
	}

	if h.server.Auditor != nil {
		h.server.Auditor.LogEvent(security.Event{
			Type:      security.EventRateLimitExceeded,
			IPAddress: clientIP,
			Details:   map[string]any{"endpoint": r.URL.Path},
		})
	}

	w.Header().Set("Retry-After", "60")
	http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

// buildAuthServerMetadata builds the RFC 8414 authorization server metadata.
func (h *Handler) buildAuthServerMetadata() AuthorizationServerMetadata {
	issuer := h.server.Config.Issuer
	return AuthorizationServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             joinIssuerPath(issuer, PathAuthorize),
		TokenEndpoint:                     joinIssuerPath(issuer, PathToken),
		RevocationEndpoint:                joinIssuerPath(issuer, PathRevoke),
		ScopesSupported:                   h.server.Config.SupportedScopes,
		ResponseTypesSupported:            []string{ResponseTypeCode},
		GrantTypesSupported:               []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
		TokenEndpointAuthMethodsSupported: SupportedTokenAuthMethods,
		CodeChallengeMethodsSupported:     h.supportedChallengeMethods(),
	}
}

func (h *Handler) supportedChallengeMethods() []string {
	if h.server.Config.AllowPKCEPlain {
		return []string{PKCEMethodS256, PKCEMethodPlain}
	}
	return []string{PKCEMethodS256}
}

// joinIssuerPath joins an endpoint path onto the issuer base URL.
func joinIssuerPath(issuer, path string) string {
	return strings.TrimSuffix(issuer, "/") + path
}

// ValidateToken is middleware that validates bearer access tokens and
// attaches the resolved user and token claims to the request context.
func (h *Handler) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)

		if h.checkIPRateLimit(w, r, clientIP) {
			return
		}

		accessToken, ok := h.extractBearerToken(w, r)
		if !ok {
			return
		}

		user, claims, err := h.server.ValidateToken(r.Context(), accessToken)
		if err != nil {
			h.logger.Warn("Token validation failed", "ip", clientIP, "error", err)
			h.writeUnauthorizedError(w, ErrorCodeInvalidToken, "Token validation failed")
			return
		}

		if h.checkUserRateLimit(w, r, user.ID, clientIP) {
			return
		}

		ctx := ContextWithUser(r.Context(), user)
		ctx = contextWithClaims(ctx, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// checkIPRateLimit checks if the client IP is rate limited. Returns true if limited.
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, r *http.Request, clientIP string) bool {
	if h.server.RateLimiter == nil || h.server.RateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP)
	h.recordRateLimitExceeded(r.Context(), "ip", clientIP, "", r.URL.Path)
	w.Header().Set("Retry-After", "60")
	h.writeError(w, ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

// checkUserRateLimit checks if the user is rate limited. Returns true if limited.
func (h *Handler) checkUserRateLimit(w http.ResponseWriter, r *http.Request, userID, clientIP string) bool {
	if h.server.UserRateLimiter == nil || h.server.UserRateLimiter.Allow(userID) {
		return false
	}

	h.logger.Warn("User rate limit exceeded", "user_id", userID, "ip", clientIP)
	h.recordUserRateLimitExceeded(r.Context(), clientIP, userID)
	w.Header().Set("Retry-After", "60")
	h.writeError(w, ErrorCodeRateLimitExceeded, "Rate limit exceeded for user. Please try again later.", http.StatusTooManyRequests)
	return true
}

// recordRateLimitExceeded records rate limit metrics and audit events.
func (h *Handler) recordRateLimitExceeded(ctx context.Context, limitType, clientIP, userID, endpoint string) {
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(ctx, limitType)
	}
	if h.server.Auditor != nil {
		h.server.Auditor.LogEvent(security.Event{
			Type:      security.EventRateLimitExceeded,
			IPAddress: clientIP,
			Details:   map[string]any{"endpoint": endpoint},
		})
		h.server.Auditor.LogRateLimitExceeded(clientIP, userID)
	}
}

// recordUserRateLimitExceeded records user rate limit metrics and audit events.
func (h *Handler) recordUserRateLimitExceeded(ctx context.Context, clientIP, userID string) {
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(ctx, "user")
	}
	if h.server.Auditor != nil {
		h.server.Auditor.LogRateLimitExceeded(clientIP, userID)
	}
}

// extractBearerToken extracts the bearer access token from the Authorization
// header, or from the access_token query parameter when that relaxation is
// enabled. Returns the token and true, or writes an error and returns false.
func (h *Handler) extractBearerToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if h.allowBearerQuery {
			if token := r.URL.Query().Get("access_token"); token != "" {
				return token, true
			}
		}
		h.writeUnauthorizedError(w, ErrorCodeInvalidToken, "Missing Authorization header")
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		h.writeUnauthorizedError(w, ErrorCodeInvalidToken, "Invalid Authorization header format")
		return "", false
	}

	return parts[1], true
}

// authenticateUser resolves the resource owner behind an authorization request.
func (h *Handler) authenticateUser(r *http.Request) (string, error) {
	if h.Users == nil {
		return "", ErrAccessDenied("no user authenticator configured")
	}
	userID, err := h.Users.AuthenticateRequest(r)
	if err != nil {
		return "", err
	}
	if userID == "" {
		return "", ErrAccessDenied("user not authenticated")
	}
	return userID, nil
}

// Helper methods

func (h *Handler) parseBasicAuth(r *http.Request) (username, password string) {
	username, password, _ = r.BasicAuth()
	return
}

// authenticateClient validates client credentials from either Basic Auth or form parameters
// Returns the validated client or an *OAuthError
func (h *Handler) authenticateClient(r *http.Request, clientID, clientIP string) (*storage.Client, error) {
	authClientID, authClientSecret := h.parseBasicAuth(r)
	if authClientID != "" {
		clientID = authClientID
	} else {
		authClientSecret = r.FormValue("client_secret")
	}

	if clientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}

	client, err := h.server.GetClient(r.Context(), clientID)
	if err != nil {
		if oauthErr := AsOAuthError(err); oauthErr.Code == ErrorCodeServerError {
			return nil, oauthErr
		}
		h.logAuthFailure(clientID, clientIP, ErrorCodeInvalidClient, "Unknown client")
		return nil, ErrInvalidClient("Client authentication failed")
	}

	if err := h.validateConfidentialClient(client, authClientSecret, clientIP); err != nil {
		return nil, err
	}

	return client, nil
}

// validateConfidentialClient validates credentials for confidential clients.
// Public clients authenticate by possession of the PKCE verifier instead.
func (h *Handler) validateConfidentialClient(client *storage.Client, secret, clientIP string) error {
	if client.IsPublic() {
		return nil
	}

	if secret == "" {
		h.logAuthFailure(client.ClientID, clientIP, "confidential_client_auth_required", "Confidential client missing credentials")
		return ErrInvalidClient("Client authentication required")
	}

	if err := h.server.VerifyClientSecret(client, secret); err != nil {
		h.logAuthFailure(client.ClientID, clientIP, "client_authentication_failed", "Client authentication failed")
		return ErrInvalidClient("Client authentication failed")
	}

	return nil
}

// validateClientSecret looks up a client and verifies its secret.
func (h *Handler) validateClientSecret(ctx context.Context, clientID, secret string) error {
	if clientID == "" {
		return ErrInvalidClient("client_id is required")
	}
	client, err := h.server.GetClient(ctx, clientID)
	if err != nil {
		return ErrInvalidClient("Client authentication failed")
	}
	if client.IsPublic() {
		return nil
	}
	return h.server.VerifyClientSecret(client, secret)
}

// logAuthFailure logs authentication failures with optional auditing.
func (h *Handler) logAuthFailure(clientID, clientIP, reason, message string) {
	h.logger.Warn(message, "client_id", clientID, "ip", clientIP)
	if h.server.Auditor != nil {
		h.server.Auditor.LogAuthFailure("", clientID, clientIP, reason)
	}
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, token *oauth2.Token, scope string) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	expiresIn := int64(time.Until(token.Expiry).Seconds())
	if expiresIn < 0 {
		expiresIn = h.server.Config.AccessTokenTTL
	}

	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = tokenTypeBearer
	}

	response := TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    tokenType,
		ExpiresIn:    expiresIn,
		RefreshToken: token.RefreshToken,
		Scope:        scope,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// writeOAuthError writes an error that may already be an *OAuthError.
func (h *Handler) writeOAuthError(w http.ResponseWriter, err error) {
	oauthErr := AsOAuthError(err)
	h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", tokenTypeBearer)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

// writeUnauthorizedError writes a 401 Unauthorized response with a
// WWW-Authenticate challenge per RFC 6750 Section 3.
func (h *Handler) writeUnauthorizedError(w http.ResponseWriter, code, description string) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	w.Header().Set("WWW-Authenticate", formatWWWAuthenticate(code, description))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

// formatWWWAuthenticate formats the WWW-Authenticate header value per RFC 6750.
// SECURITY: Values are escaped per RFC 7230 quoted-string rules to prevent
// header injection.
func formatWWWAuthenticate(errCode, errorDesc string) string {
	var params []string
	if errCode != "" {
		params = append(params, `error="`+escapeQuoted(errCode)+`"`)
	}
	if errorDesc != "" {
		params = append(params, `error_description="`+escapeQuoted(errorDesc)+`"`)
	}
	if len(params) == 0 {
		return tokenTypeBearer
	}
	return tokenTypeBearer + " " + strings.Join(params, ", ")
}

func escapeQuoted(s string) string {
	// Escape backslashes first, then quotes (order matters)
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func (h *Handler) recordHTTPMetrics(endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}

	metrics := h.server.Instrumentation.Metrics()
	ctx := context.Background()

	// Record total requests with duration
	duration := time.Since(startTime).Seconds() * 1000 // convert to milliseconds
	metrics.RecordHTTPRequest(ctx, method, endpoint, status, duration)
}

// Context keys for authenticated request state
type contextKey string

const (
	userContextKey   contextKey = "authd_user"
	claimsContextKey contextKey = "authd_claims"
)

// UserFromContext retrieves the authenticated user from the request context.
func UserFromContext(ctx context.Context) (*identity.User, bool) {
	user, ok := ctx.Value(userContextKey).(*identity.User)
	return user, ok
}

// ContextWithUser creates a context carrying the given user.
//
// WARNING: In production the user should ONLY be set by the ValidateToken
// middleware after token validation. This function exists for testing code
// that depends on an authenticated context.
func ContextWithUser(ctx context.Context, user *identity.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// ClaimsFromContext retrieves the validated access token claims from the
// request context.
func ClaimsFromContext(ctx context.Context) (*server.AccessTokenClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*server.AccessTokenClaims)
	return claims, ok
}

func contextWithClaims(ctx context.Context, claims *server.AccessTokenClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}
