package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"lexintake.org/internal/audit"
)

// InsertAuditEvent appends ev. Audit rows are never updated except by
// DeidentifyAuditEvents.
func (s *Store) InsertAuditEvent(ctx context.Context, ev audit.Event) error {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_events(id, firm_id, user_id, event_type, entity_type, entity_id, ip_address, details, lawful_basis, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, ev.ID, ev.FirmID, ev.UserID, ev.EventType, ev.EntityType, ev.EntityID, ev.IPAddress, details, ev.LawfulBasis, ev.CreatedAt)
	return err
}

const auditColumns = `id, firm_id, user_id, event_type, entity_type, entity_id, ip_address, details, lawful_basis, created_at`

func scanAuditEvent(row rowScanner) (audit.Event, error) {
	var (
		ev      audit.Event
		details []byte
	)
	if err := row.Scan(&ev.ID, &ev.FirmID, &ev.UserID, &ev.EventType, &ev.EntityType, &ev.EntityID,
		&ev.IPAddress, &details, &ev.LawfulBasis, &ev.CreatedAt); err != nil {
		return audit.Event{}, err
	}
	ev.Details = map[string]any{}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &ev.Details); err != nil {
			return audit.Event{}, fmt.Errorf("decode audit details: %w", err)
		}
	}
	return ev, nil
}

func listAuditEvents(ctx context.Context, db *sql.DB, firmID string) ([]audit.Event, error) {
	rows, err := db.QueryContext(ctx,
		`select `+auditColumns+` from audit_events where firm_id=$1 order by created_at asc`, firmID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAuditEvent)
}
