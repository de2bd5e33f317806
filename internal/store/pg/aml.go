package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"lexintake.org/internal/aml"
)

type amlStore struct{ db *sql.DB }

const amlColumns = `id, firm_id, client_id, check_type, check_status, risk_level, has_pep_flag, has_sanctions_flag,
	has_high_risk_jurisdiction, provider_ref, findings, notes, checked_at, created_by_user_id, created_at, updated_at`

func scanCheck(row rowScanner) (aml.Check, error) {
	var (
		c         aml.Check
		checkType string
		status    string
		risk      *string
		findings  []byte
	)
	if err := row.Scan(&c.ID, &c.FirmID, &c.ClientID, &checkType, &status, &risk, &c.HasPEPFlag, &c.HasSanctionsFlag,
		&c.HasHighRiskJurisdiction, &c.ProviderRef, &findings, &c.Notes, &c.CheckedAt, &c.CreatedByUserID,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		return aml.Check{}, err
	}
	c.CheckType = aml.CheckType(checkType)
	c.Status = aml.Status(status)
	if risk != nil {
		r := aml.RiskLevel(*risk)
		c.RiskLevel = &r
	}
	c.Findings = []string{}
	if len(findings) > 0 {
		if err := json.Unmarshal(findings, &c.Findings); err != nil {
			return aml.Check{}, fmt.Errorf("decode findings: %w", err)
		}
	}
	return c, nil
}

func (s *amlStore) Insert(ctx context.Context, c aml.Check) error {
	findings := c.Findings
	if findings == nil {
		findings = []string{}
	}
	raw, err := json.Marshal(findings)
	if err != nil {
		return fmt.Errorf("encode findings: %w", err)
	}
	var risk *string
	if c.RiskLevel != nil {
		r := string(*c.RiskLevel)
		risk = &r
	}
	_, err = s.db.ExecContext(ctx, `
		insert into aml_checks(id, firm_id, client_id, check_type, check_status, risk_level, has_pep_flag,
			has_sanctions_flag, has_high_risk_jurisdiction, provider_ref, findings, notes, checked_at,
			created_by_user_id, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, c.ID, c.FirmID, c.ClientID, string(c.CheckType), string(c.Status), risk, c.HasPEPFlag, c.HasSanctionsFlag,
		c.HasHighRiskJurisdiction, c.ProviderRef, raw, c.Notes, c.CheckedAt, c.CreatedByUserID, c.CreatedAt, c.UpdatedAt)
	return mapErr(err)
}

func (s *amlStore) Get(ctx context.Context, firmID, id string) (aml.Check, error) {
	c, err := scanCheck(s.db.QueryRowContext(ctx,
		`select `+amlColumns+` from aml_checks where firm_id=$1 and id=$2`, firmID, id))
	if err != nil {
		return aml.Check{}, mapErr(err)
	}
	return c, nil
}

func (s *amlStore) List(ctx context.Context, firmID string, f aml.ListFilter) ([]aml.Check, error) {
	limit, offset := clampPage(f.Limit, f.Offset, 100, 1000)
	where := []string{"firm_id=$1"}
	args := []any{firmID}
	if f.ClientID != "" {
		args = append(args, f.ClientID)
		where = append(where, fmt.Sprintf("client_id=$%d", len(args)))
	}
	args = append(args, limit, offset)
	q := fmt.Sprintf(`select %s from aml_checks where %s order by created_at desc limit $%d offset $%d`,
		amlColumns, strings.Join(where, " and "), len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanCheck)
}

func (s *amlStore) Transition(ctx context.Context, firmID, id string, from, to aml.Status, notes *string, at time.Time) (aml.Check, error) {
	c, err := scanCheck(s.db.QueryRowContext(ctx, `
		update aml_checks set check_status=$4, notes=coalesce($5, notes), checked_at=$6, updated_at=$6
		where firm_id=$1 and id=$2 and check_status=$3
		returning `+amlColumns,
		firmID, id, string(from), string(to), notes, at))
	if err != nil {
		if mapped := mapErr(err); mapped == ErrNotFound {
			return aml.Check{}, ErrConflict
		}
		return aml.Check{}, mapErr(err)
	}
	return c, nil
}
