package gdpr

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"lexintake.org/internal/aml"
	"lexintake.org/internal/apperr"
	"lexintake.org/internal/audit"
	"lexintake.org/internal/intake"
	"lexintake.org/internal/store"
)

type fakeStore struct {
	Store
	clients []intake.Client
	matters []intake.Matter
	checks  []aml.Check
	events  []audit.Event
	leads   []intake.Lead
	profile *Profile
	mine    []audit.Event
	failOn  string
}

func (f *fakeStore) fail(table string) error {
	if f.failOn == table {
		return errors.New("relation does not exist")
	}
	return nil
}

func (f *fakeStore) ExportClients(_ context.Context, firmID string) ([]intake.Client, error) {
	return f.clients, f.fail("clients")
}
func (f *fakeStore) ExportMatters(context.Context, string) ([]intake.Matter, error) {
	return f.matters, f.fail("matters")
}
func (f *fakeStore) ExportAMLChecks(context.Context, string) ([]aml.Check, error) {
	return f.checks, f.fail("aml_checks")
}
func (f *fakeStore) ExportAuditEvents(context.Context, string) ([]audit.Event, error) {
	return f.events, f.fail("audit_events")
}
func (f *fakeStore) ExportLeads(context.Context, string) ([]intake.Lead, error) {
	return nil, f.fail("marketing_leads")
}

func (f *fakeStore) ExportProfile(_ context.Context, firmID, userID string) (Profile, error) {
	if err := f.fail("profiles"); err != nil {
		return Profile{}, err
	}
	if f.profile == nil || f.profile.FirmID != firmID || f.profile.ID != userID {
		return Profile{}, store.ErrNotFound
	}
	return *f.profile, nil
}
func (f *fakeStore) ExportUserAuditEvents(context.Context, string, string) ([]audit.Event, error) {
	return f.mine, f.fail("audit_events")
}

type recorded struct{ events []audit.Event }

func (r *recorded) Record(_ context.Context, ev audit.Event) { r.events = append(r.events, ev) }

func TestExportCountsMatchDocument(t *testing.T) {
	st := &fakeStore{
		clients: make([]intake.Client, 3),
		matters: make([]intake.Matter, 2),
		checks:  make([]aml.Check, 4),
		events:  make([]audit.Event, 7),
	}
	rec := &recorded{}
	at := time.UnixMilli(1767225600123).UTC()
	svc := NewService(st, rec, WithClock(func() time.Time { return at }))

	doc, err := svc.Export(context.Background(), Requester{FirmID: "firm-1", UserID: "user-1"})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if doc.MarketingLeads == nil {
		t.Fatal("empty tables must export as empty arrays")
	}
	if len(rec.events) != 1 {
		t.Fatalf("expected one export event, got %d", len(rec.events))
	}
	ev := rec.events[0]
	if ev.EventType != audit.EventExport || *ev.UserID != "user-1" || *ev.LawfulBasis != audit.BasisGDPRAccess {
		t.Fatalf("unexpected event %+v", ev)
	}
	for key, want := range map[string]int{
		"total_clients":         len(doc.Clients),
		"total_matters":         len(doc.Matters),
		"total_aml_checks":      len(doc.AMLChecks),
		"total_audit_events":    len(doc.AuditEvents),
		"total_marketing_leads": len(doc.MarketingLeads),
	} {
		if ev.Details[key] != want {
			t.Fatalf("%s = %v, want %d", key, ev.Details[key], want)
		}
	}
	if got := doc.Filename(); got != "gdpr_export_firm-1_1767225600123.json" {
		t.Fatalf("unexpected filename %q", got)
	}
}

func TestExportWithAPIKeyUsesExportBasis(t *testing.T) {
	rec := &recorded{}
	if _, err := NewService(&fakeStore{}, rec).Export(context.Background(), Requester{FirmID: "firm-1"}); err != nil {
		t.Fatal(err)
	}
	ev := rec.events[0]
	if ev.UserID != nil || *ev.LawfulBasis != audit.BasisGDPRExport || ev.Details["via"] != "external-api-key" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestExportFailure(t *testing.T) {
	rec := &recorded{}
	_, err := NewService(&fakeStore{failOn: "aml_checks"}, rec).Export(context.Background(), Requester{FirmID: "firm-1"})
	if apperr.KindOf(err) != apperr.PersistenceFailure || !strings.Contains(err.Error(), "aml_checks") {
		t.Fatalf("unexpected error %v", err)
	}
	if len(rec.events) != 0 {
		t.Fatal("failed export must not be recorded as completed")
	}
}

func TestExportUserReturnsOwnDataOnly(t *testing.T) {
	st := &fakeStore{
		profile: &Profile{ID: "user-1", FirmID: "firm-1", Email: "owner@acme.test", Role: "firm_owner"},
		mine:    make([]audit.Event, 2),
		events:  make([]audit.Event, 9),
	}
	rec := &recorded{}
	at := time.UnixMilli(1767225600123).UTC()
	svc := NewService(st, rec, WithClock(func() time.Time { return at }))

	doc, err := svc.ExportUser(context.Background(), Requester{FirmID: "firm-1", UserID: "user-1", IP: "203.0.113.4"})
	if err != nil {
		t.Fatalf("ExportUser: %v", err)
	}
	want := UserMetadata{GeneratedAt: at, RequestedByUserID: "user-1", FirmID: "firm-1", Scope: "user_only", Version: 1}
	if doc.Metadata != want {
		t.Fatalf("metadata = %+v", doc.Metadata)
	}
	if doc.UserProfile.Email != "owner@acme.test" || len(doc.AuditEvents) != 2 {
		t.Fatalf("unexpected document %+v", doc)
	}
	if got := doc.Filename(); got != "gdpr_export_user_user-1_1767225600123.json" {
		t.Fatalf("unexpected filename %q", got)
	}

	if len(rec.events) != 1 {
		t.Fatalf("expected one export event, got %d", len(rec.events))
	}
	ev := rec.events[0]
	if ev.EventType != audit.EventExport || ev.EntityType != "profile" || *ev.EntityID != "user-1" ||
		*ev.UserID != "user-1" || ev.Details["scope"] != "user_only" || *ev.LawfulBasis != audit.BasisGDPRAccess {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestExportUserErrors(t *testing.T) {
	cases := []struct {
		name string
		st   *fakeStore
		req  Requester
		kind apperr.Kind
	}{
		{"no session user", &fakeStore{}, Requester{FirmID: "firm-1"}, apperr.MissingCredential},
		{"profile in another firm", &fakeStore{profile: &Profile{ID: "user-1", FirmID: "firm-2"}},
			Requester{FirmID: "firm-1", UserID: "user-1"}, apperr.NotFound},
		{"audit query fails", &fakeStore{profile: &Profile{ID: "user-1", FirmID: "firm-1"}, failOn: "audit_events"},
			Requester{FirmID: "firm-1", UserID: "user-1"}, apperr.PersistenceFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorded{}
			_, err := NewService(tc.st, rec).ExportUser(context.Background(), tc.req)
			if apperr.KindOf(err) != tc.kind {
				t.Fatalf("kind = %v, want %v (%v)", apperr.KindOf(err), tc.kind, err)
			}
			if len(rec.events) != 0 {
				t.Fatal("failed export must not be recorded")
			}
		})
	}
}
