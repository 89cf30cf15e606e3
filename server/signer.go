package server

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenClaims are the claims carried by issued access tokens.
// The jti claim is the ID of the server-side AccessToken record, so a parsed
// token can be checked against the store for revocation.
type AccessTokenClaims struct {
	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Signer mints and parses access tokens as HS256 JWTs signed with the
// per-client key derived from the master key. Tokens are self-verifying for
// integrity but NOT self-sufficient: a valid signature proves the token was
// issued by us for that client, while revocation must still be checked
// against the store.
type Signer struct {
	issuer string
	keys   *KeyDeriver
	leeway time.Duration
}

// NewSigner creates a token signer for the given issuer.
// leeway is the clock-skew grace period applied to exp/nbf/iat validation.
func NewSigner(issuer string, keys *KeyDeriver, leeway time.Duration) (*Signer, error) {
	if keys == nil {
		return nil, fmt.Errorf("key deriver is required")
	}
	return &Signer{issuer: issuer, keys: keys, leeway: leeway}, nil
}

// Mint creates a signed access token for the given subject and client.
// jti must be the ID of the AccessToken record saved alongside the token.
func (s *Signer) Mint(clientID, userID, scope, jti string, ttl time.Duration) (string, error) {
	if clientID == "" {
		return "", fmt.Errorf("client ID is required")
	}
	if jti == "" {
		return "", fmt.Errorf("token ID is required")
	}

	now := time.Now()
	claims := AccessTokenClaims{
		ClientID: clientID,
		Scope:    scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{clientID},
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.keys.DeriveClientKey(clientID))
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// Parse validates a token string and returns its claims.
// The signing key is derived from the client_id claim, so a token forged for
// one client cannot verify under another client's key. Expiry is checked with
// the configured clock-skew leeway; revocation is the caller's responsibility.
func (s *Signer) Parse(tokenString string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}

	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		// SECURITY: Reject any signing method other than HS256 to prevent
		// algorithm confusion attacks (e.g. "none" or asymmetric downgrade)
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		tc, ok := token.Claims.(*AccessTokenClaims)
		if !ok || tc.ClientID == "" {
			return nil, fmt.Errorf("missing client_id claim")
		}
		return s.keys.DeriveClientKey(tc.ClientID), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithLeeway(s.leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}

	if claims.ID == "" {
		return nil, fmt.Errorf("invalid access token: missing jti claim")
	}
	return claims, nil
}
