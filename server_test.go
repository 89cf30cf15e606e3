package authd

import (
	"bytes"
	"testing"

	"github.com/giantswarm/authd/identity"
	"github.com/giantswarm/authd/server"
	"github.com/giantswarm/authd/storage/memory"
)

func testConfig() *Config {
	return &Config{
		Server: &server.Config{
			Issuer:    "https://auth.example.com",
			MasterKey: bytes.Repeat([]byte{0x42}, server.MasterKeyLength),
		},
		Logger: discardLogger(),
	}
}

func TestNew(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)
	resolver := identity.NewStaticResolver()

	h, err := New(store, resolver, testConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if h.server == nil {
		t.Fatal("handler has no server")
	}
	if h.server.RateLimiter == nil {
		t.Error("IP rate limiter not wired by default")
	}
	if h.server.UserRateLimiter == nil {
		t.Error("user rate limiter not wired by default")
	}
	if h.server.SecurityEventRateLimiter == nil {
		t.Error("security event rate limiter not wired")
	}
	if h.allowBearerQuery {
		t.Error("bearer query parameter enabled by default")
	}
}

func TestNew_NilConfig(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)
	resolver := identity.NewStaticResolver()

	if _, err := New(store, resolver, nil); err == nil {
		t.Error("New(nil config) should fail")
	}
	if _, err := New(store, resolver, &Config{Logger: discardLogger()}); err == nil {
		t.Error("New(config without Server section) should fail")
	}
}

func TestNew_RateLimitDisabled(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)
	resolver := identity.NewStaticResolver()

	cfg := testConfig()
	cfg.RateLimit.Rate = -1
	cfg.RateLimit.UserRate = -1

	h, err := New(store, resolver, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if h.server.RateLimiter != nil {
		t.Error("negative Rate should disable the IP rate limiter")
	}
	if h.server.UserRateLimiter != nil {
		t.Error("negative UserRate should disable the user rate limiter")
	}
}

func TestNew_BearerQueryParameter(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)
	resolver := identity.NewStaticResolver()

	cfg := testConfig()
	cfg.Security.AllowBearerQueryParameter = true

	h, err := New(store, resolver, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if !h.allowBearerQuery {
		t.Error("AllowBearerQueryParameter not applied")
	}
}

func TestApplyRateLimitDefaults(t *testing.T) {
	cfg := RateLimitConfig{}
	applyRateLimitDefaults(&cfg)

	if cfg.Rate != DefaultRateLimitRate || cfg.Burst != DefaultRateLimitBurst {
		t.Errorf("IP limits = %d/%d, want %d/%d", cfg.Rate, cfg.Burst, DefaultRateLimitRate, DefaultRateLimitBurst)
	}
	if cfg.UserRate != DefaultUserRateLimitRate || cfg.UserBurst != DefaultUserRateLimitBurst {
		t.Errorf("user limits = %d/%d, want %d/%d", cfg.UserRate, cfg.UserBurst, DefaultUserRateLimitRate, DefaultUserRateLimitBurst)
	}

	custom := RateLimitConfig{Rate: 3, Burst: 6, UserRate: -1, UserBurst: 1}
	applyRateLimitDefaults(&custom)
	if custom.Rate != 3 || custom.UserRate != -1 {
		t.Errorf("explicit values overwritten: %+v", custom)
	}
}
