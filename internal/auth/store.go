package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Firms() FirmStore
	Profiles() ProfileStore
	APIKeys() APIKeyStore
	Sessions() SessionStore
}

// FirmStore manages tenants.
type FirmStore interface {
	Create(ctx context.Context, f Firm) error
	Find(ctx context.Context, id string) (Firm, error)
}

// ProfileStore manages users.
type ProfileStore interface {
	Create(ctx context.Context, p Profile) error
	FindByEmail(ctx context.Context, email string) (Profile, error)
}

// APIKeyStore manages key records.
type APIKeyStore interface {
	// FindByPrefix returns every key sharing prefix, active or not.
	FindByPrefix(ctx context.Context, prefix string) ([]APIKey, error)
	// ActiveForFirm returns the firm's active key.
	ActiveForFirm(ctx context.Context, firmID string) (APIKey, error)
	// ReplaceActive deactivates the firm's current keys and inserts key in
	// one transaction.
	ReplaceActive(ctx context.Context, key APIKey) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// SessionStore manages sign-in sessions.
type SessionStore interface {
	Create(ctx context.Context, s Session) error
	Find(ctx context.Context, id string) (Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Invalidate(ctx context.Context, id string) error
}
