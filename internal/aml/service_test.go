package aml

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lexintake.org/internal/apperr"
	"lexintake.org/internal/audit"
	"lexintake.org/internal/intake"
	"lexintake.org/internal/store"
)

const (
	firmA   = "11111111-1111-4111-8111-111111111111"
	firmB   = "22222222-2222-4222-8222-222222222222"
	clientA = "33333333-3333-4333-8333-333333333333"
)

type memChecks struct {
	mu        sync.Mutex
	rows      map[string]Check
	insertErr error
}

func newMemChecks() *memChecks { return &memChecks{rows: map[string]Check{}} }

func (m *memChecks) Insert(_ context.Context, c Check) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.rows[c.ID] = c
	return nil
}

func (m *memChecks) Get(_ context.Context, firmID, id string) (Check, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok || c.FirmID != firmID {
		return Check{}, store.ErrNotFound
	}
	return c, nil
}

func (m *memChecks) List(_ context.Context, firmID string, f ListFilter) ([]Check, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Check{}
	for _, c := range m.rows {
		if c.FirmID == firmID && (f.ClientID == "" || c.ClientID == f.ClientID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memChecks) Transition(_ context.Context, firmID, id string, from, to Status, notes *string, at time.Time) (Check, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok || c.FirmID != firmID || c.Status != from {
		return Check{}, store.ErrConflict
	}
	c.Status = to
	c.Notes = notes
	c.UpdatedAt = at
	m.rows[id] = c
	return c, nil
}

type clientsByFirm map[string]intake.Client

func (c clientsByFirm) Get(_ context.Context, firmID, id string) (intake.Client, error) {
	cl, ok := c[id]
	if !ok || cl.FirmID != firmID {
		return intake.Client{}, store.ErrNotFound
	}
	return cl, nil
}

type events struct {
	mu  sync.Mutex
	all []audit.Event
}

func (e *events) Record(_ context.Context, ev audit.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, ev)
}

type failingProvider struct{}

func (failingProvider) Screen(context.Context, ScreeningRequest) (ScreeningResult, error) {
	return ScreeningResult{}, ErrProviderUnavailable
}

type failingWriter struct{}

func (failingWriter) InsertAuditEvent(context.Context, audit.Event) error {
	return errors.New("audit table unavailable")
}

func fixture(p Provider, opts ...Option) (*Service, *memChecks, *events) {
	checks := newMemChecks()
	clients := clientsByFirm{clientA: {ID: clientA, FirmID: firmA, FullName: "Ada Lovelace"}}
	sink := &events{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return NewService(checks, clients, p, sink, opts...), checks, sink
}

func validInput() CreateInput {
	return CreateInput{ClientID: clientA, Name: "Ada Lovelace", Email: "ada+review@example.com"}
}

func TestCreateStoresCheckAndAudits(t *testing.T) {
	svc, checks, sink := fixture(MockProvider{})
	res, err := svc.Create(context.Background(), Actor{FirmID: firmA, UserID: "user-1", IP: "10.0.0.1"}, validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.Status != StatusEscalated || res.RiskLevel == nil || *res.RiskLevel != RiskMedium {
		t.Fatalf("unexpected result %+v", res)
	}
	stored, err := checks.Get(context.Background(), firmA, res.CheckID)
	if err != nil {
		t.Fatalf("stored check missing: %v", err)
	}
	if stored.CheckType != CheckFull || !stored.HasPEPFlag || stored.CheckedAt == nil {
		t.Fatalf("unexpected stored check %+v", stored)
	}
	if len(sink.all) != 1 {
		t.Fatalf("expected one audit event, got %d", len(sink.all))
	}
	ev := sink.all[0]
	if ev.EventType != audit.EventCreate || ev.EntityType != "aml_check" || *ev.LawfulBasis != audit.BasisAML {
		t.Fatalf("unexpected audit event %+v", ev)
	}
}

func TestCreateRejectsOtherFirmsClient(t *testing.T) {
	svc, checks, _ := fixture(MockProvider{})
	_, err := svc.Create(context.Background(), Actor{FirmID: firmB}, validInput())
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Message != "Client not found" {
		t.Fatalf("unexpected error %v", err)
	}
	if len(checks.rows) != 0 {
		t.Fatal("no check should be stored")
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := fixture(MockProvider{})
	cases := map[string]CreateInput{
		"bad client id": {ClientID: "nope", Name: "A", Email: "a@example.com"},
		"missing name":  {ClientID: clientA, Email: "a@example.com"},
		"bad email":     {ClientID: clientA, Name: "A", Email: "not-an-email"},
		"bad type":      {ClientID: clientA, Name: "A", Email: "a@example.com", CheckType: "DEEP"},
		"bad dob":       {ClientID: clientA, Name: "A", Email: "a@example.com", DateOfBirth: "1990-01-01"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), Actor{FirmID: firmA}, in)
			if apperr.KindOf(err) != apperr.ValidationFailed {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreateProviderFailureAuditsAndFails(t *testing.T) {
	svc, checks, sink := fixture(failingProvider{})
	_, err := svc.Create(context.Background(), Actor{FirmID: firmA}, validInput())
	if !errors.Is(err, ErrProviderUnavailable) || apperr.KindOf(err) != apperr.UpstreamUnavailable {
		t.Fatalf("unexpected error %v", err)
	}
	if len(checks.rows) != 0 {
		t.Fatal("failed screening must not be stored")
	}
	if len(sink.all) != 1 || sink.all[0].EventType != audit.EventAMLCheckCompleted || sink.all[0].Details["result"] != "failed" {
		t.Fatalf("unexpected audit trail %+v", sink.all)
	}
}

func TestCreateInsertFailure(t *testing.T) {
	svc, checks, _ := fixture(MockProvider{})
	checks.insertErr = errors.New("disk full")
	_, err := svc.Create(context.Background(), Actor{FirmID: firmA}, validInput())
	if apperr.KindOf(err) != apperr.PersistenceFailure {
		t.Fatalf("expected persistence failure, got %v", err)
	}
}

func TestCreateSurvivesAuditWriteFailure(t *testing.T) {
	checks := newMemChecks()
	clients := clientsByFirm{clientA: {ID: clientA, FirmID: firmA}}
	svc := NewService(checks, clients, MockProvider{}, audit.NewRecorder(failingWriter{}))
	if _, err := svc.Create(context.Background(), Actor{FirmID: firmA}, validInput()); err != nil {
		t.Fatalf("audit failure must not fail the request: %v", err)
	}
	if len(checks.rows) != 1 {
		t.Fatalf("expected stored check, got %d", len(checks.rows))
	}
}

func TestCreateDisabled(t *testing.T) {
	svc, _, _ := fixture(MockProvider{}, WithEnabled(false))
	_, err := svc.Create(context.Background(), Actor{FirmID: firmA}, validInput())
	if apperr.KindOf(err) != apperr.UpstreamUnavailable {
		t.Fatalf("expected disabled error, got %v", err)
	}
}

func TestUpdateStatusTransitions(t *testing.T) {
	svc, checks, sink := fixture(MockProvider{})
	pendingID := "44444444-4444-4444-8444-444444444444"
	checks.rows[pendingID] = Check{ID: pendingID, FirmID: firmA, ClientID: clientA, Status: StatusPending}

	notes := "cleared by compliance"
	got, err := svc.UpdateStatus(context.Background(), Actor{FirmID: firmA}, pendingID, StatusInput{Status: StatusPassed, Notes: &notes})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if got.Status != StatusPassed || got.Notes == nil || *got.Notes != notes {
		t.Fatalf("unexpected check %+v", got)
	}
	if len(sink.all) != 1 || sink.all[0].Details["previous"] != string(StatusPending) {
		t.Fatalf("unexpected audit trail %+v", sink.all)
	}

	_, err = svc.UpdateStatus(context.Background(), Actor{FirmID: firmA}, pendingID, StatusInput{Status: StatusFlagged})
	if apperr.KindOf(err) != apperr.Conflict {
		t.Fatalf("terminal check must not move, got %v", err)
	}

	_, err = svc.UpdateStatus(context.Background(), Actor{FirmID: firmB}, pendingID, StatusInput{Status: StatusFlagged})
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("other firm must not see the check, got %v", err)
	}

	_, err = svc.UpdateStatus(context.Background(), Actor{FirmID: firmA}, pendingID, StatusInput{Status: StatusPending})
	if apperr.KindOf(err) != apperr.ValidationFailed {
		t.Fatalf("pending is not a target status, got %v", err)
	}
}

func TestListClampsPaging(t *testing.T) {
	svc, _, _ := fixture(MockProvider{})
	if _, err := svc.List(context.Background(), firmA, ListFilter{ClientID: "bad"}); apperr.KindOf(err) != apperr.ValidationFailed {
		t.Fatalf("expected validation error, got %v", err)
	}
	out, err := svc.List(context.Background(), firmA, ListFilter{Limit: 5000})
	if err != nil || out == nil {
		t.Fatalf("List: %v %v", out, err)
	}
}
