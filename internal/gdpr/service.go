// Package gdpr implements data-subject access and erasure for a firm.
package gdpr

import (
	"time"

	"lexintake.org/internal/audit"
)

// Service exports and erases a firm's personal data.
type Service struct {
	store Store
	audit audit.Sink
	now   func() time.Time
}

// Option configures Service.
type Option func(*Service)

func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(st Store, sink audit.Sink, opts ...Option) *Service {
	s := &Service{
		store: st,
		audit: sink,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Requester identifies who asked for an export. UserID is empty when the
// request came in with an API key.
type Requester struct {
	FirmID string
	UserID string
	IP     string
}
