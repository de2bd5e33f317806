package aml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"lexintake.org/internal/obs"
)

const (
	defaultTimeout    = 5 * time.Second
	maxTimeout        = 30 * time.Second
	defaultMaxRetries = 3
	defaultBackoff    = time.Second
	maxResponseBytes  = 1 << 20
)

// Provider screens a person against sanctions, PEP and adverse media lists.
type Provider interface {
	Screen(ctx context.Context, req ScreeningRequest) (ScreeningResult, error)
}

// ErrProviderUnavailable is returned once every attempt has failed.
var ErrProviderUnavailable = errors.New("aml: provider unavailable")

// StatusError is a non-2xx provider response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("aml provider returned %d: %s", e.Code, e.Body)
}

func (e *StatusError) retryable() bool { return e.Code >= 500 || e.Code == http.StatusTooManyRequests }

// HTTPConfig configures HTTPProvider.
type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	// Backoff is the first retry delay; it doubles on every retry.
	Backoff time.Duration
	Client  *http.Client
}

// HTTPProvider calls POST {BaseURL}/checks with bearer auth.
type HTTPProvider struct {
	url        string
	apiKey     string
	client     *http.Client
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("aml: provider url required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("aml: provider api key required")
	}
	p := &HTTPProvider{
		url:        base + "/checks",
		apiKey:     cfg.APIKey,
		client:     cfg.Client,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		sleep:      sleepCtx,
	}
	if p.client == nil {
		p.client = obs.InstrumentClient(&http.Client{})
	}
	if p.timeout <= 0 {
		p.timeout = defaultTimeout
	}
	if p.timeout > maxTimeout {
		p.timeout = maxTimeout
	}
	if p.maxRetries < 0 {
		p.maxRetries = 0
	}
	if p.backoff <= 0 {
		p.backoff = defaultBackoff
	}
	return p, nil
}

func (p *HTTPProvider) Screen(ctx context.Context, req ScreeningRequest) (ScreeningResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ScreeningResult{}, fmt.Errorf("marshal screening request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := p.backoff << (attempt - 1)
			if err := p.sleep(ctx, delay); err != nil {
				return ScreeningResult{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
			}
		}
		res, err := p.attempt(ctx, body, attempt)
		if err == nil {
			obs.RecordAMLAttempt("success")
			return res, nil
		}
		lastErr = err

		var se *StatusError
		if errors.As(err, &se) && !se.retryable() {
			obs.RecordAMLAttempt("rejected")
			break
		}
		obs.RecordAMLAttempt("retryable_error")
		obs.Logger().Warn("aml provider attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", p.maxRetries+1),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}
	return ScreeningResult{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr)
}

func (p *HTTPProvider) attempt(ctx context.Context, body []byte, attempt int) (ScreeningResult, error) {
	ctx, span := obs.Tracer().Start(ctx, "aml.provider.screen")
	defer span.End()
	span.SetAttributes(attribute.Int("aml.attempt", attempt+1))

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return ScreeningResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return ScreeningResult{}, err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return ScreeningResult{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, resp.Status)
		return ScreeningResult{}, &StatusError{Code: resp.StatusCode, Body: truncate(string(raw), 256)}
	}

	var out ScreeningResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return ScreeningResult{}, fmt.Errorf("decode provider response: %w", err)
	}
	if out.Findings == nil {
		out.Findings = []string{}
	}
	return out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// MockProvider returns deterministic results for development. An email
// containing "+flag" fails screening, "+review" needs manual review.
type MockProvider struct{}

func (MockProvider) Screen(_ context.Context, req ScreeningRequest) (ScreeningResult, error) {
	email := strings.ToLower(req.Email)
	res := ScreeningResult{
		ProviderRef: "mock_" + req.ClientID,
		Outcome:     outcomePassed,
		RiskLevel:   RiskLow,
		Findings:    []string{},
	}
	switch {
	case strings.Contains(email, "+flag"):
		res.Outcome = outcomeFailed
		res.RiskLevel = RiskHigh
		res.Sanctions = true
		res.Findings = []string{"Sanctions list match"}
	case strings.Contains(email, "+review"):
		res.Outcome = outcomeManualReview
		res.RiskLevel = RiskMedium
		res.PEP = true
		res.Findings = []string{"Possible politically exposed person"}
	}
	return res, nil
}
