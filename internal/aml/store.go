package aml

import (
	"context"
	"time"

	"lexintake.org/internal/intake"
)

// ListFilter narrows List.
type ListFilter struct {
	ClientID string
	Limit    int
	Offset   int
}

// CheckStore persists checks. Every method binds firmID.
type CheckStore interface {
	Insert(ctx context.Context, c Check) error
	Get(ctx context.Context, firmID, id string) (Check, error)
	List(ctx context.Context, firmID string, f ListFilter) ([]Check, error)
	// Transition moves a check from one status to another. It reports
	// store.ErrConflict when the row is no longer in from.
	Transition(ctx context.Context, firmID, id string, from, to Status, notes *string, at time.Time) (Check, error)
}

// ClientLookup resolves the screened client inside the caller's firm.
type ClientLookup interface {
	Get(ctx context.Context, firmID, id string) (intake.Client, error)
}
