package authd

import (
	"testing"
	"time"
)

func TestTimeConstants(t *testing.T) {
	tests := []struct {
		name     string
		constant time.Duration
		expected time.Duration
	}{
		{"DefaultRefreshTokenTTL", DefaultRefreshTokenTTL, 90 * 24 * time.Hour},
		{"DefaultAuthorizationCodeTTL", DefaultAuthorizationCodeTTL, 10 * time.Minute},
		{"DefaultAccessTokenTTL", DefaultAccessTokenTTL, 1 * time.Hour},
		{"DefaultRevokedRetention", DefaultRevokedRetention, 24 * time.Hour},
		{"DefaultRateLimitCleanupInterval", DefaultRateLimitCleanupInterval, 5 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.constant != tt.expected {
				t.Errorf("%s = %v, want %v", tt.name, tt.constant, tt.expected)
			}
		})
	}
}

func TestIntegerConstants(t *testing.T) {
	tests := []struct {
		name     string
		constant int
		expected int
	}{
		{"ClockSkewGrace", ClockSkewGrace, 5},
		{"DefaultRateLimitRate", DefaultRateLimitRate, 10},
		{"DefaultRateLimitBurst", DefaultRateLimitBurst, 20},
		{"MinCodeVerifierLength", MinCodeVerifierLength, 43},
		{"MaxCodeVerifierLength", MaxCodeVerifierLength, 128},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.constant != tt.expected {
				t.Errorf("%s = %d, want %d", tt.name, tt.constant, tt.expected)
			}
		})
	}
}

func TestProtocolConstants(t *testing.T) {
	if GrantTypeAuthorizationCode != "authorization_code" {
		t.Errorf("GrantTypeAuthorizationCode = %q", GrantTypeAuthorizationCode)
	}
	if GrantTypeRefreshToken != "refresh_token" {
		t.Errorf("GrantTypeRefreshToken = %q", GrantTypeRefreshToken)
	}
	if ResponseTypeCode != "code" {
		t.Errorf("ResponseTypeCode = %q", ResponseTypeCode)
	}
	if PKCEMethodS256 != "S256" || PKCEMethodPlain != "plain" {
		t.Errorf("PKCE methods = %q, %q", PKCEMethodS256, PKCEMethodPlain)
	}
}
