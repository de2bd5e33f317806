// Package app assembles the services from configuration. Both the API
// server and the operator CLI start from Build.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lexintake.org/internal/aml"
	"lexintake.org/internal/audit"
	"lexintake.org/internal/auth"
	"lexintake.org/internal/config"
	"lexintake.org/internal/email"
	"lexintake.org/internal/gdpr"
	"lexintake.org/internal/intake"
	"lexintake.org/internal/obs"
	"lexintake.org/internal/ratelimit"
	"lexintake.org/internal/store"
	"lexintake.org/internal/store/pg"
)

// App holds the wired services and the resources they share.
type App struct {
	Config  *config.Config
	Store   *pg.Store
	Redis   *redis.Client
	Audit   *audit.Recorder
	Limiter *ratelimit.Limiter
	Auth    *auth.Service
	Intake  *intake.Service
	AML     *aml.Service
	GDPR    *gdpr.Service

	closers []func() error
}

// Build opens the database and optional Redis and Kafka connections and
// constructs every service.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	log := obs.Logger()
	a := &App{Config: cfg}

	st, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	var recOpts []audit.Option
	if brokers := cfg.KafkaBrokers(); len(brokers) > 0 {
		pub, err := audit.NewKafkaPublisher(audit.KafkaConfig{Brokers: brokers, Topic: cfg.AuditKafkaTopic})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("audit stream: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		recOpts = append(recOpts, audit.WithPublisher(pub))
	}
	a.Audit = audit.NewRecorder(st, recOpts...)

	var counter ratelimit.Counter
	if cfg.RedisAddr != "" {
		rdb, err := store.NewRedis(ctx, store.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Warn("redis unavailable, rate limits use process memory", zap.Error(err))
		} else {
			a.Redis = rdb
			a.closers = append(a.closers, rdb.Close)
			counter = ratelimit.NewRedisCounter(rdb)
		}
	}
	limOpts := []ratelimit.Option{ratelimit.WithEnabled(cfg.RateLimitEnabled)}
	if cfg.RateLimitPolicyFile != "" {
		policy, err := ratelimit.LoadPolicy(cfg.RateLimitPolicyFile)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("rate limit policy: %w", err)
		}
		limOpts = append(limOpts, ratelimit.WithPolicy(policy))
	}
	a.Limiter = ratelimit.New(counter, limOpts...)

	a.Auth, err = auth.NewService(st,
		auth.WithPepper(cfg.APIKeyPepper),
		auth.WithSessionSecret(cfg.SessionSecret),
		auth.WithSessionTTL(cfg.SessionTTL),
		auth.WithKeyTTL(cfg.APIKeyTTL),
		auth.WithSystemFirm(cfg.SystemFirmID),
		auth.WithAudit(a.Audit),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("auth: %w", err)
	}

	mailer, err := newMailer(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Intake = intake.NewService(st,
		intake.WithAudit(a.Audit),
		intake.WithMailer(mailer, cfg.EmailFrom, cfg.AppURL),
		intake.WithSystemFirm(cfg.SystemFirmID),
		intake.WithRetention(cfg.LeadRetention),
	)

	provider, err := newProvider(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.AML = aml.NewService(st.AMLChecks(), st.Clients(), provider, a.Audit, aml.WithEnabled(cfg.EnableAMLChecks))
	a.GDPR = gdpr.NewService(st, a.Audit)
	return a, nil
}

func newMailer(cfg *config.Config) (email.Sender, error) {
	switch strings.ToLower(cfg.EmailProvider) {
	case "mailgun":
		s, err := email.NewMailgunSender(email.MailgunConfig{
			APIKey:  cfg.MailgunAPIKey,
			Domain:  cfg.MailgunDomain,
			BaseURL: cfg.MailgunBaseURL,
			From:    cfg.EmailFrom,
		})
		if err != nil {
			return nil, fmt.Errorf("mailgun: %w", err)
		}
		return s, nil
	default:
		return email.LogSender{}, nil
	}
}

func newProvider(cfg *config.Config) (aml.Provider, error) {
	if !strings.EqualFold(cfg.AMLProvider, "http") {
		return aml.MockProvider{}, nil
	}
	p, err := aml.NewHTTPProvider(aml.HTTPConfig{
		BaseURL:    cfg.AMLAPIURL,
		APIKey:     cfg.AMLAPIKey,
		Timeout:    cfg.AMLTimeout(),
		MaxRetries: cfg.AMLMaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("aml provider: %w", err)
	}
	return p, nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
