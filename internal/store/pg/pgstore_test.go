package pg

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"lexintake.org/internal/aml"
	"lexintake.org/internal/audit"
	"lexintake.org/internal/auth"
	"lexintake.org/internal/intake"
)

const (
	firmA = "aaaaaaaa-0000-4000-8000-000000000001"
	firmB = "bbbbbbbb-0000-4000-8000-000000000002"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

var clientCols = []string{"id", "firm_id", "external_id", "full_name", "email", "phone", "address_line_1", "city",
	"state", "zip_code", "kyc_status", "is_pep", "risk_assessment", "created_by_user_id", "created_at", "updated_at"}

func TestMapErr(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   error
		want error
	}{
		{&pgconn.PgError{Code: pgErrUniqueViolation}, ErrConflict},
		{fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: pgErrForeignKeyViolation}), ErrNotFound},
		{errors.New("boom"), nil},
	}
	for _, tc := range cases {
		got := mapErr(tc.in)
		if tc.want == nil {
			if got != tc.in {
				t.Fatalf("expected passthrough, got %v", got)
			}
			continue
		}
		if !errors.Is(got, tc.want) {
			t.Fatalf("mapErr(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestClientGetBindsFirm(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery("select .* from clients where firm_id=\\$1 and id=\\$2").
		WithArgs(firmA, "client-1").
		WillReturnRows(sqlmock.NewRows(clientCols).
			AddRow("client-1", firmA, nil, "Ada Lovelace", "ada@example.com", nil, nil, nil, nil, nil, nil, false, nil, nil, now, now))
	mock.ExpectQuery("select .* from clients where firm_id=\\$1 and id=\\$2").
		WithArgs(firmB, "client-1").
		WillReturnRows(sqlmock.NewRows(clientCols))

	c, err := s.Clients().Get(context.Background(), firmA, "client-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.FullName != "Ada Lovelace" || c.Email == nil || *c.Email != "ada@example.com" || c.Phone != nil {
		t.Fatalf("unexpected client %+v", c)
	}

	if _, err := s.Clients().Get(context.Background(), firmB, "client-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected cross-tenant miss, got %v", err)
	}
}

func TestClientInsertConflict(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into clients").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	err := s.Clients().Insert(context.Background(), intake.Client{ID: "c", FirmID: firmA, FullName: "x"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestReplaceActiveKeyIsTransactional(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	exp := now.Add(90 * 24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec("update api_keys set is_active=false").WithArgs(firmA, now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("string_to_array($5, ',')")).
		WithArgs("key-2", firmA, "sk_abc", "hash", "aml:read,aml:write", &exp, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.APIKeys().ReplaceActive(context.Background(), auth.APIKey{
		ID: "key-2", FirmID: firmA, Prefix: "sk_abc", Hash: "hash",
		Scopes: []string{"aml:read", "aml:write"}, ExpiresAt: &exp, IsActive: true, CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("ReplaceActive: %v", err)
	}
}

func TestReplaceActiveRollsBack(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("update api_keys").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into api_keys").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectRollback()

	err := s.APIKeys().ReplaceActive(context.Background(), auth.APIKey{ID: "k", FirmID: firmA})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestFindByPrefixSplitsScopes(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	cols := []string{"id", "firm_id", "key_prefix", "key_hash", "scopes", "expires_at", "is_active", "last_used_at", "revoked_at", "created_at"}
	mock.ExpectQuery(regexp.QuoteMeta("array_to_string(scopes, ',')") + ".*where key_prefix=").
		WithArgs("sk_abc").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("k1", firmA, "sk_abc", "h1", "aml:read,leads:create", nil, true, nil, nil, now).
			AddRow("k0", firmA, "sk_abc", "h0", "", now, false, nil, now, now))

	keys, err := s.APIKeys().FindByPrefix(context.Background(), "sk_abc")
	if err != nil {
		t.Fatalf("FindByPrefix: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
	if len(keys[0].Scopes) != 2 || keys[0].Scopes[1] != "leads:create" {
		t.Fatalf("unexpected scopes %v", keys[0].Scopes)
	}
	if keys[1].Scopes != nil || keys[1].RevokedAt == nil {
		t.Fatalf("unexpected revoked key %+v", keys[1])
	}
}

func TestMatterUpdateWritesOnlyPatchedFields(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	status := intake.MatterClosed
	mattCols := []string{"id", "firm_id", "client_id", "external_ref", "matter_type", "status", "counterparty_name",
		"property_address", "deal_size_usd", "opened_at", "closed_at", "expected_closing_date", "deletion_due_date",
		"created_at", "updated_at"}

	mock.ExpectQuery(regexp.QuoteMeta("update matters set updated_at=$3, status=$4, deletion_due_date=$5 where firm_id=$1 and id=$2")).
		WithArgs(firmA, "m1", at, "CLOSED", nil).
		WillReturnRows(sqlmock.NewRows(mattCols).
			AddRow("m1", firmA, "c1", "EXT-1", "purchase", "CLOSED", nil, nil, "125000.50", nil, nil, nil, nil, at, at))

	var patch intake.MatterPatch
	patch.Status = &status
	patch.DeletionDueDate = intake.OptionalDate{Set: true}

	m, err := s.Matters().Update(context.Background(), firmA, "m1", patch, at)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if m.Status != intake.MatterClosed || !m.DealSizeUSD.Valid || m.DealSizeUSD.Decimal.String() != "125000.5" {
		t.Fatalf("unexpected matter %+v", m)
	}
}

func TestLeadExistsHandlesNullFirm(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select exists").WithArgs(nil, "a@b.test").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.Leads().Exists(context.Background(), nil, "a@b.test")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
}

func TestPurgeLeads(t *testing.T) {
	s, mock := newMock(t)
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("delete from marketing_leads where created_at < \\$1").WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))
	n, err := s.Leads().PurgeBefore(context.Background(), cutoff)
	if err != nil || n != 4 {
		t.Fatalf("PurgeBefore = %d, %v", n, err)
	}
}

func TestAMLTransitionConflict(t *testing.T) {
	s, mock := newMock(t)
	at := time.Now().UTC()
	mock.ExpectQuery("update aml_checks set check_status").
		WithArgs(firmA, "chk", "PENDING", "PASSED", nil, at).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.AMLChecks().Transition(context.Background(), firmA, "chk", aml.StatusPending, aml.StatusPassed, nil, at)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestAMLListFilters(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("where firm_id=$1 and client_id=$2 order by created_at desc limit $3 offset $4")).
		WithArgs(firmA, "client-9", 1000, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	res, err := s.AMLChecks().List(context.Background(), firmA, aml.ListFilter{ClientID: "client-9", Limit: 5000})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res == nil || len(res) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", res)
	}
}

func TestInsertAuditEvent(t *testing.T) {
	s, mock := newMock(t)
	at := time.Now().UTC()
	mock.ExpectExec("insert into audit_events").
		WithArgs("ev-1", firmA, nil, audit.EventCreate, "aml_check", sqlmock.AnyArg(), nil, []byte(`{"result":"passed"}`), sqlmock.AnyArg(), at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.InsertAuditEvent(context.Background(), audit.Event{
		ID: "ev-1", FirmID: firmA, EventType: audit.EventCreate, EntityType: "aml_check",
		EntityID: audit.Ptr("chk"), Details: map[string]any{"result": "passed"},
		LawfulBasis: audit.Ptr(audit.BasisAML), CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("InsertAuditEvent: %v", err)
	}
}

func TestSessionInvalidateMissing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update sessions set is_valid=false").WithArgs("sid").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.Sessions().Invalidate(context.Background(), "sid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestExportProfileBindsUserAndFirm(t *testing.T) {
	s, mock := newMock(t)
	at := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("from profiles where id=$1 and firm_id=$2")).
		WithArgs("user-1", firmA).
		WillReturnRows(sqlmock.NewRows([]string{"id", "firm_id", "email", "full_name", "role", "created_at"}).
			AddRow("user-1", firmA, "owner@acme.test", "Ada Owner", "firm_owner", at))
	mock.ExpectQuery(regexp.QuoteMeta("from profiles where id=$1 and firm_id=$2")).
		WithArgs("user-1", firmB).
		WillReturnRows(sqlmock.NewRows([]string{"id", "firm_id", "email", "full_name", "role", "created_at"}))

	p, err := s.ExportProfile(context.Background(), firmA, "user-1")
	if err != nil {
		t.Fatalf("ExportProfile: %v", err)
	}
	if p.Email != "owner@acme.test" || p.Role != "firm_owner" || !p.CreatedAt.Equal(at) {
		t.Fatalf("unexpected profile %+v", p)
	}
	if _, err := s.ExportProfile(context.Background(), firmB, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-firm profile: got %v", err)
	}
}

func TestExportUserAuditEventsFiltersUser(t *testing.T) {
	s, mock := newMock(t)
	at := time.Now().UTC()
	cols := []string{"id", "firm_id", "user_id", "event_type", "entity_type", "entity_id",
		"ip_address", "details", "lawful_basis", "created_at"}
	mock.ExpectQuery(regexp.QuoteMeta("from audit_events where user_id=$1 and firm_id=$2 order by created_at asc")).
		WithArgs("user-1", firmA).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("ev-1", firmA, "user-1", audit.EventLogin, "session", "sid", "203.0.113.9", []byte(`{"via":"password"}`), nil, at))

	events, err := s.ExportUserAuditEvents(context.Background(), firmA, "user-1")
	if err != nil {
		t.Fatalf("ExportUserAuditEvents: %v", err)
	}
	if len(events) != 1 || *events[0].UserID != "user-1" || events[0].Details["via"] != "password" {
		t.Fatalf("unexpected events %+v", events)
	}
}
