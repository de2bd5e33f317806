package gdpr

import (
	"context"

	"lexintake.org/internal/aml"
	"lexintake.org/internal/audit"
	"lexintake.org/internal/intake"
)

// Store reads and erases a firm's personal data.
type Store interface {
	ExportClients(ctx context.Context, firmID string) ([]intake.Client, error)
	ExportMatters(ctx context.Context, firmID string) ([]intake.Matter, error)
	ExportAMLChecks(ctx context.Context, firmID string) ([]aml.Check, error)
	ExportAuditEvents(ctx context.Context, firmID string) ([]audit.Event, error)
	ExportLeads(ctx context.Context, firmID string) ([]intake.Lead, error)
	ExportProfile(ctx context.Context, firmID, userID string) (Profile, error)
	ExportUserAuditEvents(ctx context.Context, firmID, userID string) ([]audit.Event, error)

	DeleteSessions(ctx context.Context, firmID, userID string) (int64, error)
	DeleteAPIKeys(ctx context.Context, firmID string) (int64, error)
	DeleteAMLChecks(ctx context.Context, firmID string) (int64, error)
	DeleteMatters(ctx context.Context, firmID string) (int64, error)
	DeleteClients(ctx context.Context, firmID string) (int64, error)
	DeidentifyAuditEvents(ctx context.Context, firmID, userID string) (int64, error)
	DeleteProfile(ctx context.Context, firmID, userID string) (int64, error)
}
