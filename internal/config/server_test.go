package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadServerConfig_DefaultEnvironment(t *testing.T) {
	os.Unsetenv("ENV")
	cfg := LoadServerConfig()
	if cfg.Environment != EnvDevelopment {
		t.Errorf("expected %q, got %q", EnvDevelopment, cfg.Environment)
	}
}

func TestLoadServerConfig_InvalidEnvironment(t *testing.T) {
	t.Setenv("ENV", "invalid")
	cfg := LoadServerConfig()
	if cfg.Environment != EnvDevelopment {
		t.Errorf("expected %q for invalid ENV, got %q", EnvDevelopment, cfg.Environment)
	}
}

func TestLoadServerConfig_ValidEnvironments(t *testing.T) {
	tests := []struct {
		env  string
		want Environment
	}{
		{"development", EnvDevelopment},
		{"staging", EnvStaging},
		{"production", EnvProduction},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv("ENV", tt.env)
			cfg := LoadServerConfig()
			if cfg.Environment != tt.want {
				t.Errorf("expected %q, got %q", tt.want, cfg.Environment)
			}
		})
	}
}

func TestLoadServerConfig_ListenAddr(t *testing.T) {
	t.Setenv("LISTEN_ADDR", "")
	t.Setenv("PORT", "9090")
	if got := LoadServerConfig().ListenAddr; got != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090", got)
	}

	t.Setenv("LISTEN_ADDR", "127.0.0.1:7000")
	if got := LoadServerConfig().ListenAddr; got != "127.0.0.1:7000" {
		t.Errorf("ListenAddr = %q, want 127.0.0.1:7000", got)
	}
}

func TestLoadServerConfig_RateLimit(t *testing.T) {
	tests := []struct {
		name       string
		requests   string
		period     string
		wantReq    int64
		wantPeriod time.Duration
	}{
		{"defaults", "", "", 600, time.Minute},
		{"duration syntax", "100", "30s", 100, 30 * time.Second},
		{"bare seconds", "50", "120", 50, 2 * time.Minute},
		{"invalid falls back", "-1", "never", 600, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("RATE_LIMIT_REQUESTS", tt.requests)
			t.Setenv("RATE_LIMIT_PERIOD", tt.period)
			cfg := LoadServerConfig()
			if cfg.RateLimitRequests != tt.wantReq {
				t.Errorf("RateLimitRequests = %d, want %d", cfg.RateLimitRequests, tt.wantReq)
			}
			if cfg.RateLimitPeriod != tt.wantPeriod {
				t.Errorf("RateLimitPeriod = %v, want %v", cfg.RateLimitPeriod, tt.wantPeriod)
			}
		})
	}
}

func TestLoadServerConfig_SecureCookies(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("SECURE_COOKIES", "")
	if !LoadServerConfig().SecureCookies {
		t.Error("expected secure cookies by default in production")
	}
	t.Setenv("SECURE_COOKIES", "no")
	if LoadServerConfig().SecureCookies {
		t.Error("expected SECURE_COOKIES=no to disable secure cookies")
	}
}

func TestServerConfig_Validate(t *testing.T) {
	cfg := ServerConfig{
		DatabaseURL:   "postgres://localhost/bpcmon",
		EncryptionKey: "00",
		SessionSecret: "0123456789abcdef0123456789abcdef",
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}

	cfg.SessionSecret = "short"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for short session secret")
	}

	if err := (ServerConfig{}).Validate(); err == nil {
		t.Error("Validate() expected error for empty config")
	}
}

func TestLoadServerConfig_TrustedProxies(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", " 10.0.0.0/8, ,192.168.1.1 ")
	got := LoadServerConfig().TrustedProxies
	if len(got) != 2 || got[0] != "10.0.0.0/8" || got[1] != "192.168.1.1" {
		t.Errorf("TrustedProxies = %v", got)
	}

	t.Setenv("TRUSTED_PROXIES", "")
	if got := LoadServerConfig().TrustedProxies; got != nil {
		t.Errorf("expected no trusted proxies, got %v", got)
	}
}
