// Package config loads service settings from defaults, an optional YAML file
// and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the resolved service configuration.
type Config struct {
	HTTPAddr string `mapstructure:"http_addr"`
	AppEnv   string `mapstructure:"app_env"`
	AppURL   string `mapstructure:"app_url"`
	LogLevel string `mapstructure:"log_level"`

	DatabaseURL string `mapstructure:"database_url"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	RateLimitEnabled    bool   `mapstructure:"rate_limit_enabled"`
	RateLimitPolicyFile string `mapstructure:"rate_limit_policy_file"`

	AMLProvider     string `mapstructure:"aml_provider"`
	AMLAPIURL       string `mapstructure:"aml_api_url"`
	AMLAPIKey       string `mapstructure:"aml_api_key"`
	AMLAPITimeoutMS int    `mapstructure:"aml_api_timeout"`
	AMLMaxRetries   int    `mapstructure:"aml_max_retries"`
	EnableAMLChecks bool   `mapstructure:"enable_aml_checks"`
	EnableAnalytics bool   `mapstructure:"enable_analytics"`

	SessionSecret string        `mapstructure:"session_secret"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	APIKeyPepper  string        `mapstructure:"api_key_pepper"`
	APIKeyTTL     time.Duration `mapstructure:"api_key_ttl"`

	InternalAdminKey   string `mapstructure:"internal_admin_key"`
	InternalCleanupKey string `mapstructure:"internal_cleanup_key"`
	SystemFirmID       string `mapstructure:"system_firm_id"`

	LeadRetention time.Duration `mapstructure:"lead_retention"`

	EmailProvider  string `mapstructure:"email_provider"`
	MailgunAPIKey  string `mapstructure:"mailgun_api_key"`
	MailgunDomain  string `mapstructure:"mailgun_domain"`
	MailgunBaseURL string `mapstructure:"mailgun_base_url"`
	EmailFrom      string `mapstructure:"email_from"`

	AuditKafkaBrokers string `mapstructure:"audit_kafka_brokers"`
	AuditKafkaTopic   string `mapstructure:"audit_kafka_topic"`

	OTLPEndpoint string `mapstructure:"otel_exporter_otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otel_exporter_otlp_insecure"`

	CORSAllowedOrigins string `mapstructure:"cors_allowed_origins"`
	TrustedProxies     string `mapstructure:"trusted_proxies"`
}

var defaults = map[string]any{
	"http_addr":                   ":8080",
	"app_env":                     "development",
	"app_url":                     "http://localhost:3000",
	"log_level":                   "info",
	"database_url":                "",
	"redis_addr":                  "",
	"redis_password":              "",
	"redis_db":                    0,
	"rate_limit_enabled":          true,
	"rate_limit_policy_file":      "",
	"aml_provider":                "mock",
	"aml_api_url":                 "",
	"aml_api_key":                 "",
	"aml_api_timeout":             5000,
	"aml_max_retries":             3,
	"enable_aml_checks":           true,
	"enable_analytics":            false,
	"session_secret":              "",
	"session_ttl":                 "168h",
	"api_key_pepper":              "",
	"api_key_ttl":                 "2160h",
	"internal_admin_key":          "",
	"internal_cleanup_key":        "",
	"system_firm_id":              "00000000-0000-0000-0000-000000000000",
	"lead_retention":              "17520h",
	"email_provider":              "log",
	"mailgun_api_key":             "",
	"mailgun_domain":              "",
	"mailgun_base_url":            "https://api.mailgun.net",
	"email_from":                  "Lexintake <no-reply@lexintake.org>",
	"audit_kafka_brokers":         "",
	"audit_kafka_topic":           "audit-events",
	"otel_exporter_otlp_endpoint": "",
	"otel_exporter_otlp_insecure": false,
	"cors_allowed_origins":        "",
	"trusted_proxies":             "",
}

// ConfigFileEnv names the variable pointing at an optional YAML config file.
const ConfigFileEnv = "LEXINTAKE_CONFIG"

// Load resolves the configuration. Environment variables use the upper-case
// form of each key (DATABASE_URL, AML_API_TIMEOUT, ...).
func Load() (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	if path := strings.TrimSpace(os.Getenv(ConfigFileEnv)); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Production reports whether the service runs with production hardening.
func (c *Config) Production() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// AMLTimeout returns the per-attempt provider timeout.
func (c *Config) AMLTimeout() time.Duration {
	return time.Duration(c.AMLAPITimeoutMS) * time.Millisecond
}

// KafkaBrokers splits the comma separated broker list.
func (c *Config) KafkaBrokers() []string {
	return splitList(c.AuditKafkaBrokers)
}

// AllowedOrigins splits the comma separated CORS allowlist.
func (c *Config) AllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

// TrustedProxyPrefixes parses TRUSTED_PROXIES, a comma list of CIDRs or
// single addresses.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range splitList(c.TrustedProxies) {
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES entry %q: %w", raw, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES entry %q: %w", raw, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// Validate rejects configurations the API server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if len(c.SessionSecret) < 32 {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 32 characters"))
	}
	if c.AMLAPITimeoutMS <= 0 || c.AMLAPITimeoutMS > 30000 {
		errs = append(errs, errors.New("AML_API_TIMEOUT must be between 1 and 30000 ms"))
	}
	if c.AMLMaxRetries < 0 || c.AMLMaxRetries > 5 {
		errs = append(errs, errors.New("AML_MAX_RETRIES must be between 0 and 5"))
	}
	switch strings.ToLower(c.AMLProvider) {
	case "mock":
	case "http":
		if c.AMLAPIURL == "" || c.AMLAPIKey == "" {
			errs = append(errs, errors.New("AML_API_URL and AML_API_KEY are required when AML_PROVIDER=http"))
		}
	default:
		errs = append(errs, fmt.Errorf("AML_PROVIDER %q is not supported", c.AMLProvider))
	}
	switch strings.ToLower(c.EmailProvider) {
	case "log":
	case "mailgun":
		if c.MailgunAPIKey == "" || c.MailgunDomain == "" {
			errs = append(errs, errors.New("MAILGUN_API_KEY and MAILGUN_DOMAIN are required when EMAIL_PROVIDER=mailgun"))
		}
	default:
		errs = append(errs, fmt.Errorf("EMAIL_PROVIDER %q is not supported", c.EmailProvider))
	}
	if c.APIKeyTTL < 0 {
		errs = append(errs, errors.New("API_KEY_TTL must not be negative"))
	}
	if c.LeadRetention <= 0 {
		errs = append(errs, errors.New("LEAD_RETENTION must be positive"))
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Warnings lists settings that are legal but unsafe in production.
func (c *Config) Warnings() []string {
	if !c.Production() {
		return nil
	}
	var out []string
	if !c.RateLimitEnabled {
		out = append(out, "rate limiting is disabled in production")
	}
	if c.RedisAddr == "" {
		out = append(out, "REDIS_ADDR is not set; rate limits are per instance")
	}
	if c.InternalAdminKey == "" {
		out = append(out, "INTERNAL_ADMIN_KEY is not set; key rotation endpoint is disabled")
	}
	if c.InternalCleanupKey == "" {
		out = append(out, "INTERNAL_CLEANUP_KEY is not set; cleanup endpoint is disabled")
	}
	if c.APIKeyPepper == "" {
		out = append(out, "API_KEY_PEPPER is not set")
	}
	if strings.EqualFold(c.AMLProvider, "mock") {
		out = append(out, "AML_PROVIDER=mock in production")
	}
	if strings.HasPrefix(c.AppURL, "http://") {
		out = append(out, "APP_URL is not served over https")
	}
	return out
}

// LogFields describes the configuration with secrets redacted.
func (c *Config) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("http_addr", c.HTTPAddr),
		zap.String("app_env", c.AppEnv),
		zap.Bool("database_configured", c.DatabaseURL != ""),
		zap.Bool("redis_configured", c.RedisAddr != ""),
		zap.Bool("rate_limit_enabled", c.RateLimitEnabled),
		zap.String("aml_provider", c.AMLProvider),
		zap.Duration("aml_timeout", c.AMLTimeout()),
		zap.Bool("aml_enabled", c.EnableAMLChecks),
		zap.String("email_provider", c.EmailProvider),
		zap.Bool("audit_stream", c.AuditKafkaBrokers != ""),
		zap.Bool("tracing_export", c.OTLPEndpoint != ""),
		zap.Int("trusted_proxies", len(splitList(c.TrustedProxies))),
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
