package server

import (
	"testing"
)

func TestApplySecureDefaults_FreshConfig(t *testing.T) {
	cfg := applySecureDefaults(&Config{}, discardLogger())

	if cfg.AuthorizationCodeTTL != 600 {
		t.Errorf("AuthorizationCodeTTL = %d, want 600", cfg.AuthorizationCodeTTL)
	}
	if cfg.AccessTokenTTL != 3600 {
		t.Errorf("AccessTokenTTL = %d, want 3600", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 7776000 {
		t.Errorf("RefreshTokenTTL = %d, want 7776000", cfg.RefreshTokenTTL)
	}
	if cfg.StorageTimeout != 5 {
		t.Errorf("StorageTimeout = %d, want 5", cfg.StorageTimeout)
	}
	if cfg.TransientRetryMax != 3 {
		t.Errorf("TransientRetryMax = %d, want 3", cfg.TransientRetryMax)
	}
	if cfg.ClockSkewGracePeriod != 5 {
		t.Errorf("ClockSkewGracePeriod = %d, want 5", cfg.ClockSkewGracePeriod)
	}
	if cfg.RevokedRetentionHours != 24 {
		t.Errorf("RevokedRetentionHours = %d, want 24", cfg.RevokedRetentionHours)
	}

	// Secure-by-default booleans
	if !cfg.RequirePKCE {
		t.Error("RequirePKCE = false, want true on fresh config")
	}
	if cfg.AllowPKCEPlain {
		t.Error("AllowPKCEPlain = true, want false on fresh config")
	}
	if cfg.TrustProxy {
		t.Error("TrustProxy = true, want false on fresh config")
	}
}

func TestApplySecureDefaults_ExplicitConfigPreserved(t *testing.T) {
	cfg := applySecureDefaults(&Config{
		AuthorizationCodeTTL: 120,
		AccessTokenTTL:       900,
		RequirePKCE:          true,
		AllowPKCEPlain:       true,
	}, discardLogger())

	if cfg.AuthorizationCodeTTL != 120 {
		t.Errorf("AuthorizationCodeTTL = %d, want explicit 120", cfg.AuthorizationCodeTTL)
	}
	if cfg.AccessTokenTTL != 900 {
		t.Errorf("AccessTokenTTL = %d, want explicit 900", cfg.AccessTokenTTL)
	}
	if !cfg.AllowPKCEPlain {
		t.Error("AllowPKCEPlain explicitly set to true was overwritten")
	}
}
