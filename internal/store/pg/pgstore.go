// Package pg implements every domain store on PostgreSQL through the pgx
// database/sql driver. Tenant-scoped methods always bind firm_id.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"lexintake.org/internal/aml"
	"lexintake.org/internal/audit"
	"lexintake.org/internal/auth"
	"lexintake.org/internal/gdpr"
	"lexintake.org/internal/intake"
	"lexintake.org/internal/store"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var (
	ErrNotFound = store.ErrNotFound
	ErrConflict = store.ErrConflict
)

type Store struct {
	db *sql.DB
}

var (
	_ auth.Store        = (*Store)(nil)
	_ intake.Store      = (*Store)(nil)
	_ gdpr.Store        = (*Store)(nil)
	_ audit.EventWriter = (*Store)(nil)
	_ aml.CheckStore    = (*amlStore)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle (tests, migrations).
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Firms() auth.FirmStore { return &firmStore{db: s.db} }
func (s *Store) Profiles() auth.ProfileStore { return &profileStore{db: s.db} }
func (s *Store) APIKeys() auth.APIKeyStore { return &apiKeyStore{db: s.db} }
func (s *Store) Sessions() auth.SessionStore { return &sessionStore{db: s.db} }
func (s *Store) Clients() intake.ClientStore { return &clientStore{db: s.db} }
func (s *Store) Matters() intake.MatterStore { return &matterStore{db: s.db} }
func (s *Store) Leads() intake.LeadStore { return &leadStore{db: s.db} }
func (s *Store) AMLChecks() aml.CheckStore { return &amlStore{db: s.db} }

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapErr translates driver errors into the shared sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return ErrConflict
		case pgErrForeignKeyViolation:
			return ErrNotFound
		}
	}
	return err
}

func affected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, mapErr(err)
	}
	return res.RowsAffected()
}

func clampPage(limit, offset, def, max int) (int, int) {
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
