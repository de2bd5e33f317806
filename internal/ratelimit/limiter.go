package ratelimit

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"lexintake.org/internal/obs"
)

// Decision is the outcome of one Check.
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter applies Policy through a Counter.
type Limiter struct {
	counter  Counter
	fallback *MemoryCounter
	policy   Policy
	enabled  bool
	now      func() time.Time
}

// Option configures Limiter.
type Option func(*Limiter)

// WithPolicy replaces the default quotas.
func WithPolicy(p Policy) Option {
	return func(l *Limiter) {
		if len(p) > 0 {
			l.policy = p
		}
	}
}

// WithEnabled turns enforcement on or off.
func WithEnabled(enabled bool) Option {
	return func(l *Limiter) { l.enabled = enabled }
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New builds a Limiter. A nil counter uses process memory only.
func New(counter Counter, opts ...Option) *Limiter {
	l := &Limiter{
		counter:  counter,
		fallback: NewMemoryCounter(),
		policy:   DefaultPolicy(),
		enabled:  true,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.counter == nil {
		l.counter = l.fallback
	}
	return l
}

// Rule exposes the effective rule for class.
func (l *Limiter) Rule(class Class) Rule { return l.policy.Rule(class) }

// Check counts one hit for identity in class.
func (l *Limiter) Check(ctx context.Context, identity string, class Class) Decision {
	if l == nil {
		return Decision{Allowed: true}
	}
	rule := l.policy.Rule(class)
	if !l.enabled {
		return Decision{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit}
	}
	limit := rule.Limit
	if limit <= 0 {
		limit = 1
	}
	key := string(class) + ":" + identity

	count, resetAt, err := l.counter.Incr(ctx, key, limit, rule.Window)
	if err != nil {
		obs.Logger().Warn("rate limit counter failed, using memory", zap.String("class", string(class)), zap.Error(err))
		count, resetAt, _ = l.fallback.Incr(ctx, key, limit, rule.Window)
	}

	d := Decision{
		Allowed: count <= int64(limit),
		Count:   count,
		Limit:   limit,
		ResetAt: resetAt,
	}
	if rem := int64(limit) - count; rem > 0 {
		d.Remaining = int(rem)
	}
	if !d.Allowed {
		d.RetryAfter = l.retryAfter(resetAt)
	}
	obs.RecordRateLimit(string(class), d.Allowed)
	return d
}

// Peek reports whether identity still has room in class without recording
// a hit. Pair it with Check to count only the attempts that fail.
func (l *Limiter) Peek(ctx context.Context, identity string, class Class) Decision {
	if l == nil {
		return Decision{Allowed: true}
	}
	rule := l.policy.Rule(class)
	if !l.enabled {
		return Decision{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit}
	}
	limit := rule.Limit
	if limit <= 0 {
		limit = 1
	}
	key := string(class) + ":" + identity

	count, resetAt, err := l.counter.Incr(ctx, key, 0, rule.Window)
	if err != nil {
		count, resetAt, _ = l.fallback.Incr(ctx, key, 0, rule.Window)
	}
	used := count - 1
	d := Decision{
		Allowed: used < int64(limit),
		Count:   used,
		Limit:   limit,
		ResetAt: resetAt,
	}
	if rem := int64(limit) - used; rem > 0 {
		d.Remaining = int(rem)
	}
	if !d.Allowed {
		d.RetryAfter = l.retryAfter(resetAt)
	}
	return d
}

func (l *Limiter) retryAfter(resetAt time.Time) time.Duration {
	secs := math.Ceil(resetAt.Sub(l.now()).Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// KeyIdentity, UserIdentity and IPIdentity build the identity strings.
func KeyIdentity(keyID string) string { return "apikey:" + keyID }

func UserIdentity(userID string) string { return "user:" + userID }

func IPIdentity(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}
