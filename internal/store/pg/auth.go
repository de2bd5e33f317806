package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"lexintake.org/internal/auth"
)

// Firm store ---------------------------------------------------------------
type firmStore struct{ db *sql.DB }

func (s *firmStore) Create(ctx context.Context, f auth.Firm) error {
	_, err := s.db.ExecContext(ctx,
		`insert into firms(id, name, state, email_contact, created_at) values($1,$2,$3,$4,$5)`,
		f.ID, f.Name, f.State, f.EmailContact, f.CreatedAt,
	)
	return mapErr(err)
}

func (s *firmStore) Find(ctx context.Context, id string) (auth.Firm, error) {
	var f auth.Firm
	err := s.db.QueryRowContext(ctx,
		`select id, name, state, email_contact, created_at from firms where id=$1`, id,
	).Scan(&f.ID, &f.Name, &f.State, &f.EmailContact, &f.CreatedAt)
	if err != nil {
		return auth.Firm{}, mapErr(err)
	}
	return f, nil
}

// Profile store ------------------------------------------------------------
type profileStore struct{ db *sql.DB }

func (s *profileStore) Create(ctx context.Context, p auth.Profile) error {
	_, err := s.db.ExecContext(ctx,
		`insert into profiles(id, firm_id, email, password_hash, full_name, role, created_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.FirmID, strings.ToLower(p.Email), p.PasswordHash, p.FullName, string(p.Role), p.CreatedAt,
	)
	return mapErr(err)
}

func (s *profileStore) FindByEmail(ctx context.Context, email string) (auth.Profile, error) {
	var (
		p    auth.Profile
		role string
	)
	err := s.db.QueryRowContext(ctx,
		`select id, firm_id, email, password_hash, full_name, role, created_at from profiles where email=$1`,
		strings.ToLower(email),
	).Scan(&p.ID, &p.FirmID, &p.Email, &p.PasswordHash, &p.FullName, &role, &p.CreatedAt)
	if err != nil {
		return auth.Profile{}, mapErr(err)
	}
	p.Role = auth.Role(role)
	return p, nil
}

// API key store ------------------------------------------------------------
type apiKeyStore struct{ db *sql.DB }

const apiKeyColumns = `id, firm_id, key_prefix, key_hash, array_to_string(scopes, ','), expires_at, is_active, last_used_at, revoked_at, created_at`

func scanAPIKey(row rowScanner) (auth.APIKey, error) {
	var (
		k      auth.APIKey
		scopes string
	)
	if err := row.Scan(&k.ID, &k.FirmID, &k.Prefix, &k.Hash, &scopes, &k.ExpiresAt, &k.IsActive, &k.LastUsedAt, &k.RevokedAt, &k.CreatedAt); err != nil {
		return auth.APIKey{}, err
	}
	if scopes != "" {
		k.Scopes = strings.Split(scopes, ",")
	}
	return k, nil
}

func (s *apiKeyStore) FindByPrefix(ctx context.Context, prefix string) ([]auth.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+apiKeyColumns+` from api_keys where key_prefix=$1 order by created_at desc`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []auth.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, k)
	}
	return res, rows.Err()
}

func (s *apiKeyStore) ActiveForFirm(ctx context.Context, firmID string) (auth.APIKey, error) {
	k, err := scanAPIKey(s.db.QueryRowContext(ctx,
		`select `+apiKeyColumns+` from api_keys where firm_id=$1 and is_active limit 1`, firmID))
	if err != nil {
		return auth.APIKey{}, mapErr(err)
	}
	return k, nil
}

func (s *apiKeyStore) ReplaceActive(ctx context.Context, key auth.APIKey) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`update api_keys set is_active=false, revoked_at=$2 where firm_id=$1 and is_active`,
		key.FirmID, key.CreatedAt,
	); err != nil {
		return fmt.Errorf("deactivate keys: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		insert into api_keys(id, firm_id, key_prefix, key_hash, scopes, expires_at, is_active, created_at)
		values ($1,$2,$3,$4,string_to_array($5, ','),$6,true,$7)
	`, key.ID, key.FirmID, key.Prefix, key.Hash, strings.Join(key.Scopes, ","), key.ExpiresAt, key.CreatedAt); err != nil {
		return mapErr(err)
	}
	return tx.Commit()
}

func (s *apiKeyStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `update api_keys set last_used_at=$2 where id=$1`, id, at)
	return err
}

// Session store ------------------------------------------------------------
type sessionStore struct{ db *sql.DB }

func (s *sessionStore) Create(ctx context.Context, sess auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions(id, user_id, firm_id, token_hash, ip_address, user_agent, expires_at, last_activity, is_valid, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,true,$9)
	`, sess.ID, sess.UserID, sess.FirmID, sess.TokenHash, sess.IPAddress, sess.UserAgent, sess.ExpiresAt, sess.LastActivity, sess.CreatedAt)
	return mapErr(err)
}

func (s *sessionStore) Find(ctx context.Context, id string) (auth.Session, error) {
	var sess auth.Session
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, firm_id, token_hash, ip_address, user_agent, expires_at, last_activity, is_valid, created_at
		from sessions where id=$1
	`, id).Scan(&sess.ID, &sess.UserID, &sess.FirmID, &sess.TokenHash, &sess.IPAddress, &sess.UserAgent,
		&sess.ExpiresAt, &sess.LastActivity, &sess.IsValid, &sess.CreatedAt)
	if err != nil {
		return auth.Session{}, mapErr(err)
	}
	return sess, nil
}

func (s *sessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `update sessions set last_activity=$2 where id=$1 and is_valid`, id, at)
	return err
}

func (s *sessionStore) Invalidate(ctx context.Context, id string) error {
	n, err := affected(s.db.ExecContext(ctx, `update sessions set is_valid=false where id=$1`, id))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
