package intake

import (
	"context"
	"time"
)

// Store groups the persistence the intake service needs. Every method takes
// the caller's firm id and must bind it as a predicate.
type Store interface {
	Clients() ClientStore
	Matters() MatterStore
	Leads() LeadStore
}

// ClientStore manages clients.
type ClientStore interface {
	Get(ctx context.Context, firmID, id string) (Client, error)
	FindByExternalID(ctx context.Context, firmID, externalID string) (Client, error)
	FindByEmail(ctx context.Context, firmID, email string) (Client, error)
	Insert(ctx context.Context, c Client) error
	Update(ctx context.Context, c Client) error
	List(ctx context.Context, firmID string, limit, offset int) ([]Client, error)
}

// MatterStore manages matters.
type MatterStore interface {
	Get(ctx context.Context, firmID, id string) (Matter, error)
	GetByExternalRef(ctx context.Context, firmID, ref string) (Matter, error)
	Update(ctx context.Context, firmID, id string, patch MatterPatch, at time.Time) (Matter, error)
	List(ctx context.Context, firmID string, limit, offset int) ([]Matter, error)
}

// LeadStore manages marketing leads. A nil firm id addresses leads that
// belong to no firm.
type LeadStore interface {
	Exists(ctx context.Context, firmID *string, email string) (bool, error)
	Insert(ctx context.Context, l Lead) error
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
