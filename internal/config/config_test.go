package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/lexintake")
	t.Setenv("SESSION_SECRET", strings.Repeat("s", 32))
}

func TestLoadDefaults(t *testing.T) {
	validEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.HTTPAddr)
	}
	if cfg.AMLTimeout() != 5*time.Second {
		t.Fatalf("unexpected AML timeout %v", cfg.AMLTimeout())
	}
	if cfg.APIKeyTTL != 90*24*time.Hour {
		t.Fatalf("unexpected key ttl %v", cfg.APIKeyTTL)
	}
	if cfg.LeadRetention != 2*365*24*time.Hour {
		t.Fatalf("unexpected retention %v", cfg.LeadRetention)
	}
	if !cfg.RateLimitEnabled {
		t.Fatal("rate limiting should default to enabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	validEnv(t)
	t.Setenv("AML_API_TIMEOUT", "12000")
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	t.Setenv("AUDIT_KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AMLTimeout() != 12*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.AMLTimeout())
	}
	if cfg.RateLimitEnabled {
		t.Fatal("expected rate limiting disabled")
	}
	brokers := cfg.KafkaBrokers()
	if len(brokers) != 2 || brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", brokers)
	}
}

func TestLoadConfigFile(t *testing.T) {
	validEnv(t)
	path := filepath.Join(t.TempDir(), "lexintake.yaml")
	body := "http_addr: \":9090\"\nemail_provider: log\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigFileEnv, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("expected file value, got %q", cfg.HTTPAddr)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing database", func(c *Config) { c.DatabaseURL = "" }, "DATABASE_URL"},
		{"short secret", func(c *Config) { c.SessionSecret = "short" }, "SESSION_SECRET"},
		{"timeout too long", func(c *Config) { c.AMLAPITimeoutMS = 30001 }, "AML_API_TIMEOUT"},
		{"http provider without key", func(c *Config) { c.AMLProvider = "http"; c.AMLAPIURL = "https://aml" }, "AML_API_KEY"},
		{"mailgun without domain", func(c *Config) { c.EmailProvider = "mailgun"; c.MailgunAPIKey = "k" }, "MAILGUN_DOMAIN"},
		{"bad trusted proxy", func(c *Config) { c.TrustedProxies = "10.0.0.0/8, proxy.local" }, "TRUSTED_PROXIES"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			validEnv(t)
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tc.mutate(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %s, got %v", tc.want, err)
			}
		})
	}
}

func TestTrustedProxyPrefixes(t *testing.T) {
	cfg := &Config{TrustedProxies: " 10.0.0.0/8 ,192.0.2.7, 2001:db8::/32,10.1.2.3/16"}
	got, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		t.Fatalf("TrustedProxyPrefixes: %v", err)
	}
	want := []string{"10.0.0.0/8", "192.0.2.7/32", "2001:db8::/32", "10.1.0.0/16"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i].String() != want[i] {
			t.Fatalf("prefix %d = %s, want %s", i, got[i], want[i])
		}
	}

	empty, err := (&Config{}).TrustedProxyPrefixes()
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty list = %v, %v", empty, err)
	}
}

func TestWarningsOnlyInProduction(t *testing.T) {
	cfg := &Config{AppEnv: "development", AppURL: "http://x"}
	if w := cfg.Warnings(); len(w) != 0 {
		t.Fatalf("expected no warnings outside production, got %v", w)
	}
	cfg.AppEnv = "production"
	cfg.AMLProvider = "mock"
	if w := cfg.Warnings(); len(w) == 0 {
		t.Fatal("expected production warnings")
	}
}
