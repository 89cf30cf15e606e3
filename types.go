package authd

// ==================== OAuth 2.1 Authorization Server Types ====================

// AuthorizationServerMetadata represents OAuth 2.0 Authorization Server Metadata (RFC 8414)
type AuthorizationServerMetadata struct {
	// Issuer is the authorization server's issuer identifier
	Issuer string `json:"issuer"`

	// AuthorizationEndpoint is the URL of the authorization endpoint
	AuthorizationEndpoint string `json:"authorization_endpoint"`

	// TokenEndpoint is the URL of the token endpoint
	TokenEndpoint string `json:"token_endpoint"`

	// RevocationEndpoint is the URL of the RFC 7009 revocation endpoint
	RevocationEndpoint string `json:"revocation_endpoint,omitempty"`

	// ScopesSupported lists the supported scope values
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	// ResponseTypesSupported lists the supported response_type values
	ResponseTypesSupported []string `json:"response_types_supported"`

	// GrantTypesSupported lists the supported grant_type values
	GrantTypesSupported []string `json:"grant_types_supported"`

	// TokenEndpointAuthMethodsSupported lists supported client auth methods
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`

	// CodeChallengeMethodsSupported lists supported PKCE challenge methods
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
}

// TokenResponse represents a successful token endpoint response (RFC 6749 Section 5.1)
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// ErrorResponse represents an OAuth error response (RFC 6749 Section 5.2)
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// RevocationResponse is the body returned by the revocation endpoint. The
// endpoint always answers 200 per RFC 7009; Revoked reports whether this
// request transitioned the token from live to revoked.
type RevocationResponse struct {
	Revoked bool `json:"revoked"`
}
