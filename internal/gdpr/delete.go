package gdpr

import (
	"context"

	"go.uber.org/zap"

	"lexintake.org/internal/audit"
	"lexintake.org/internal/obs"
)

// DeleteResult reports the rows each erasure step removed.
type DeleteResult struct {
	Success bool          `json:"success"`
	Deleted DeletedCounts `json:"deleted"`
}

// DeletedCounts holds per-table totals. Profile is 1 when the account row
// was removed.
type DeletedCounts struct {
	Sessions                int64 `json:"sessions"`
	APIKeys                 int64 `json:"api_keys"`
	AMLChecks               int64 `json:"aml_checks"`
	Matters                 int64 `json:"matters"`
	Clients                 int64 `json:"clients"`
	AuditEventsDeidentified int64 `json:"audit_events_deidentified"`
	Profile                 int64 `json:"profile"`
}

type step struct {
	name string
	run  func(ctx context.Context) (int64, error)
	dst  *int64
}

// DeleteUserData erases the user's account and the firm's data. Steps run
// in dependency order; a failed step is logged and the next one still runs.
// Success requires the profile deletion to succeed.
func (s *Service) DeleteUserData(ctx context.Context, firmID, userID, ip string) DeleteResult {
	var res DeleteResult
	d := &res.Deleted
	steps := []step{
		{"sessions", func(ctx context.Context) (int64, error) { return s.store.DeleteSessions(ctx, firmID, userID) }, &d.Sessions},
		{"api_keys", func(ctx context.Context) (int64, error) { return s.store.DeleteAPIKeys(ctx, firmID) }, &d.APIKeys},
		{"aml_checks", func(ctx context.Context) (int64, error) { return s.store.DeleteAMLChecks(ctx, firmID) }, &d.AMLChecks},
		{"matters", func(ctx context.Context) (int64, error) { return s.store.DeleteMatters(ctx, firmID) }, &d.Matters},
		{"clients", func(ctx context.Context) (int64, error) { return s.store.DeleteClients(ctx, firmID) }, &d.Clients},
		{"audit_events", func(ctx context.Context) (int64, error) { return s.store.DeidentifyAuditEvents(ctx, firmID, userID) }, &d.AuditEventsDeidentified},
	}

	log := obs.Logger().With(
		zap.String("firm_id", firmID),
		zap.String("request_id", audit.RequestIDFromContext(ctx)),
	)
	failed := []string{}
	for _, st := range steps {
		n, err := st.run(ctx)
		if err != nil {
			log.Error("gdpr delete step failed", zap.String("step", st.name), zap.Error(err))
			failed = append(failed, st.name)
			continue
		}
		*st.dst = n
	}

	n, err := s.store.DeleteProfile(ctx, firmID, userID)
	switch {
	case err != nil:
		log.Error("gdpr delete step failed", zap.String("step", "profile"), zap.Error(err))
		failed = append(failed, "profile")
	case n == 0:
		log.Warn("gdpr delete found no profile")
		failed = append(failed, "profile")
	default:
		d.Profile = n
		res.Success = true
	}

	s.record(ctx, audit.Event{
		FirmID:     firmID,
		EventType:  audit.EventGDPRDelete,
		EntityType: "profile",
		IPAddress:  audit.Ptr(ip),
		Details: map[string]any{
			"sessions":                  d.Sessions,
			"api_keys":                  d.APIKeys,
			"aml_checks":                d.AMLChecks,
			"matters":                   d.Matters,
			"clients":                   d.Clients,
			"audit_events_deidentified": d.AuditEventsDeidentified,
			"profile":                   d.Profile,
			"failed_steps":              failed,
			"success":                   res.Success,
		},
		LawfulBasis: audit.Ptr(audit.BasisGDPRErasure),
	})
	return res
}
