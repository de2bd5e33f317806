package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"lexintake.org/internal/intake"
)

// Client store -------------------------------------------------------------
type clientStore struct{ db *sql.DB }

const clientColumns = `id, firm_id, external_id, full_name, email, phone, address_line_1, city, state, zip_code,
	kyc_status, is_pep, risk_assessment, created_by_user_id, created_at, updated_at`

func scanClient(row rowScanner) (intake.Client, error) {
	var c intake.Client
	err := row.Scan(&c.ID, &c.FirmID, &c.ExternalID, &c.FullName, &c.Email, &c.Phone, &c.AddressLine1,
		&c.City, &c.State, &c.ZipCode, &c.KYCStatus, &c.IsPEP, &c.RiskAssessment, &c.CreatedByUserID,
		&c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *clientStore) one(ctx context.Context, where string, args ...any) (intake.Client, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx, `select `+clientColumns+` from clients where `+where+` limit 1`, args...))
	if err != nil {
		return intake.Client{}, mapErr(err)
	}
	return c, nil
}

func (s *clientStore) Get(ctx context.Context, firmID, id string) (intake.Client, error) {
	return s.one(ctx, `firm_id=$1 and id=$2`, firmID, id)
}

func (s *clientStore) FindByExternalID(ctx context.Context, firmID, externalID string) (intake.Client, error) {
	return s.one(ctx, `firm_id=$1 and external_id=$2`, firmID, externalID)
}

func (s *clientStore) FindByEmail(ctx context.Context, firmID, email string) (intake.Client, error) {
	return s.one(ctx, `firm_id=$1 and lower(email)=lower($2)`, firmID, email)
}

func (s *clientStore) Insert(ctx context.Context, c intake.Client) error {
	_, err := s.db.ExecContext(ctx, `
		insert into clients(id, firm_id, external_id, full_name, email, phone, address_line_1, city, state, zip_code,
			kyc_status, is_pep, risk_assessment, created_by_user_id, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, c.ID, c.FirmID, c.ExternalID, c.FullName, c.Email, c.Phone, c.AddressLine1, c.City, c.State, c.ZipCode,
		c.KYCStatus, c.IsPEP, c.RiskAssessment, c.CreatedByUserID, c.CreatedAt, c.UpdatedAt)
	return mapErr(err)
}

func (s *clientStore) Update(ctx context.Context, c intake.Client) error {
	n, err := affected(s.db.ExecContext(ctx, `
		update clients set external_id=$3, full_name=$4, email=$5, phone=$6, address_line_1=$7, city=$8,
			state=$9, zip_code=$10, updated_at=$11
		where firm_id=$1 and id=$2
	`, c.FirmID, c.ID, c.ExternalID, c.FullName, c.Email, c.Phone, c.AddressLine1, c.City, c.State, c.ZipCode, c.UpdatedAt))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *clientStore) List(ctx context.Context, firmID string, limit, offset int) ([]intake.Client, error) {
	limit, offset = clampPage(limit, offset, 100, 1000)
	rows, err := s.db.QueryContext(ctx,
		`select `+clientColumns+` from clients where firm_id=$1 order by created_at desc limit $2 offset $3`,
		firmID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanClient)
}

// Matter store -------------------------------------------------------------
type matterStore struct{ db *sql.DB }

const matterColumns = `id, firm_id, client_id, external_ref, matter_type, status, counterparty_name, property_address,
	deal_size_usd, opened_at, closed_at, expected_closing_date, deletion_due_date, created_at, updated_at`

func scanMatter(row rowScanner) (intake.Matter, error) {
	var (
		m      intake.Matter
		status string
	)
	err := row.Scan(&m.ID, &m.FirmID, &m.ClientID, &m.ExternalRef, &m.MatterType, &status, &m.CounterpartyName,
		&m.PropertyAddress, &m.DealSizeUSD, &m.OpenedAt, &m.ClosedAt, &m.ExpectedClosingDate, &m.DeletionDueDate,
		&m.CreatedAt, &m.UpdatedAt)
	m.Status = intake.MatterStatus(status)
	return m, err
}

func (s *matterStore) Get(ctx context.Context, firmID, id string) (intake.Matter, error) {
	m, err := scanMatter(s.db.QueryRowContext(ctx,
		`select `+matterColumns+` from matters where firm_id=$1 and id=$2`, firmID, id))
	if err != nil {
		return intake.Matter{}, mapErr(err)
	}
	return m, nil
}

func (s *matterStore) GetByExternalRef(ctx context.Context, firmID, ref string) (intake.Matter, error) {
	m, err := scanMatter(s.db.QueryRowContext(ctx,
		`select `+matterColumns+` from matters where firm_id=$1 and external_ref=$2 limit 1`, firmID, ref))
	if err != nil {
		return intake.Matter{}, mapErr(err)
	}
	return m, nil
}

// Update writes only the fields present in patch.
func (s *matterStore) Update(ctx context.Context, firmID, id string, patch intake.MatterPatch, at time.Time) (intake.Matter, error) {
	sets := []string{"updated_at=$3"}
	args := []any{firmID, id, at}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.ExpectedClosingDate.Set {
		add("expected_closing_date", patch.ExpectedClosingDate.Value)
	}
	if patch.DeletionDueDate.Set {
		add("deletion_due_date", patch.DeletionDueDate.Value)
	}
	m, err := scanMatter(s.db.QueryRowContext(ctx,
		`update matters set `+strings.Join(sets, ", ")+` where firm_id=$1 and id=$2 returning `+matterColumns, args...))
	if err != nil {
		return intake.Matter{}, mapErr(err)
	}
	return m, nil
}

func (s *matterStore) List(ctx context.Context, firmID string, limit, offset int) ([]intake.Matter, error) {
	limit, offset = clampPage(limit, offset, 1000, 1000)
	rows, err := s.db.QueryContext(ctx,
		`select `+matterColumns+` from matters where firm_id=$1 order by created_at desc limit $2 offset $3`,
		firmID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanMatter)
}

// Lead store ---------------------------------------------------------------
type leadStore struct{ db *sql.DB }

const leadColumns = `id, firm_id, email, firm_name, state, source, ip_address, created_at`

func scanLead(row rowScanner) (intake.Lead, error) {
	var l intake.Lead
	err := row.Scan(&l.ID, &l.FirmID, &l.Email, &l.FirmName, &l.State, &l.Source, &l.IPAddress, &l.CreatedAt)
	return l, err
}

func (s *leadStore) Exists(ctx context.Context, firmID *string, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from marketing_leads
			where firm_id is not distinct from $1 and lower(email)=lower($2))
	`, firmID, email).Scan(&exists)
	return exists, err
}

func (s *leadStore) Insert(ctx context.Context, l intake.Lead) error {
	_, err := s.db.ExecContext(ctx, `
		insert into marketing_leads(id, firm_id, email, firm_name, state, source, ip_address, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, l.ID, l.FirmID, l.Email, l.FirmName, l.State, l.Source, l.IPAddress, l.CreatedAt)
	return mapErr(err)
}

func (s *leadStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return affected(s.db.ExecContext(ctx, `delete from marketing_leads where created_at < $1`, cutoff))
}

func collect[T any](rows *sql.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	res := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}
