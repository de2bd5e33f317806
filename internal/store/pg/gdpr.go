package pg

import (
	"context"

	"lexintake.org/internal/aml"
	"lexintake.org/internal/audit"
	"lexintake.org/internal/gdpr"
	"lexintake.org/internal/intake"
)

func (s *Store) ExportClients(ctx context.Context, firmID string) ([]intake.Client, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+clientColumns+` from clients where firm_id=$1 order by created_at asc`, firmID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanClient)
}

func (s *Store) ExportMatters(ctx context.Context, firmID string) ([]intake.Matter, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+matterColumns+` from matters where firm_id=$1 order by created_at asc`, firmID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanMatter)
}

func (s *Store) ExportAMLChecks(ctx context.Context, firmID string) ([]aml.Check, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+amlColumns+` from aml_checks where firm_id=$1 order by created_at asc`, firmID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanCheck)
}

func (s *Store) ExportAuditEvents(ctx context.Context, firmID string) ([]audit.Event, error) {
	return listAuditEvents(ctx, s.db, firmID)
}

func (s *Store) ExportLeads(ctx context.Context, firmID string) ([]intake.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+leadColumns+` from marketing_leads where firm_id=$1 order by created_at asc`, firmID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanLead)
}

func (s *Store) ExportProfile(ctx context.Context, firmID, userID string) (gdpr.Profile, error) {
	var p gdpr.Profile
	err := s.db.QueryRowContext(ctx,
		`select id, firm_id, email, full_name, role, created_at from profiles where id=$1 and firm_id=$2`,
		userID, firmID,
	).Scan(&p.ID, &p.FirmID, &p.Email, &p.FullName, &p.Role, &p.CreatedAt)
	if err != nil {
		return gdpr.Profile{}, mapErr(err)
	}
	return p, nil
}

func (s *Store) ExportUserAuditEvents(ctx context.Context, firmID, userID string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+auditColumns+` from audit_events where user_id=$1 and firm_id=$2 order by created_at asc`,
		userID, firmID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAuditEvent)
}

func (s *Store) DeleteSessions(ctx context.Context, firmID, userID string) (int64, error) {
	return affected(s.db.ExecContext(ctx, `delete from sessions where firm_id=$1 and user_id=$2`, firmID, userID))
}

func (s *Store) DeleteAPIKeys(ctx context.Context, firmID string) (int64, error) {
	return affected(s.db.ExecContext(ctx, `delete from api_keys where firm_id=$1`, firmID))
}

func (s *Store) DeleteAMLChecks(ctx context.Context, firmID string) (int64, error) {
	return affected(s.db.ExecContext(ctx, `delete from aml_checks where firm_id=$1`, firmID))
}

func (s *Store) DeleteMatters(ctx context.Context, firmID string) (int64, error) {
	return affected(s.db.ExecContext(ctx, `delete from matters where firm_id=$1`, firmID))
}

func (s *Store) DeleteClients(ctx context.Context, firmID string) (int64, error) {
	return affected(s.db.ExecContext(ctx, `delete from clients where firm_id=$1`, firmID))
}

func (s *Store) DeidentifyAuditEvents(ctx context.Context, firmID, userID string) (int64, error) {
	return affected(s.db.ExecContext(ctx,
		`update audit_events set user_id=null where firm_id=$1 and user_id=$2`, firmID, userID))
}

func (s *Store) DeleteProfile(ctx context.Context, firmID, userID string) (int64, error) {
	return affected(s.db.ExecContext(ctx, `delete from profiles where firm_id=$1 and id=$2`, firmID, userID))
}
