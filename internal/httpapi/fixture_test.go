package httpapi

import (
	"context"
	"errors"
	"sync"
	"time"

	"lexintake.org/internal/aml"
	"lexintake.org/internal/apperr"
	"lexintake.org/internal/audit"
	"lexintake.org/internal/auth"
	"lexintake.org/internal/gdpr"
	"lexintake.org/internal/intake"
	"lexintake.org/internal/store"
)

const (
	firmA     = "3f1c9a52-6f0e-4c1a-9d53-1b2a3c4d5e6f"
	firmB     = "9b2d7e10-1a2b-4c3d-8e4f-5a6b7c8d9e0f"
	clientA   = "11111111-2222-4333-8444-555555555555"
	userA     = "aaaaaaaa-bbbb-4ccc-8ddd-eeeeeeeeeeee"
	keyA      = "lxk_a"
	keyB      = "lxk_b"
	keyNoAML  = "lxk_leads_only"
	goodToken = "signed-session"
)

// fakeAuth resolves a fixed set of keys and one session.
type fakeAuth struct {
	mu      sync.Mutex
	keys    map[string]auth.Caller
	signOut int
	rotated []string
}

func newFakeAuth() *fakeAuth {
	all := []string{string(auth.ScopeAdmin)}
	return &fakeAuth{keys: map[string]auth.Caller{
		keyA:     {FirmID: firmA, KeyID: "key-a", Scopes: all},
		keyB:     {FirmID: firmB, KeyID: "key-b", Scopes: all},
		keyNoAML: {FirmID: firmA, KeyID: "key-c", Scopes: []string{string(auth.ScopeLeadsCreate)}},
	}}
}

func (f *fakeAuth) ValidateAPIKey(_ context.Context, raw, _ string) (auth.Caller, error) {
	if raw == "" {
		return auth.Caller{}, apperr.New(apperr.MissingCredential, "Missing API key")
	}
	c, ok := f.keys[raw]
	if !ok {
		return auth.Caller{}, apperr.New(apperr.InvalidCredential, "Invalid API key")
	}
	return c, nil
}

func (f *fakeAuth) AuthenticateSession(_ context.Context, token, firmID, userID string) (auth.SessionUser, error) {
	if token == "" {
		return auth.SessionUser{}, apperr.New(apperr.MissingCredential, "Unauthorized")
	}
	if token != goodToken || firmID != firmA || userID != userA {
		return auth.SessionUser{}, apperr.New(apperr.InvalidCredential, "Unauthorized")
	}
	return auth.SessionUser{SessionID: "sess-1", UserID: userA, FirmID: firmA}, nil
}

func (f *fakeAuth) SignIn(_ context.Context, email, password, _, _ string) (auth.SignInResult, error) {
	if email != "owner@acme.test" || password != "correct horse" {
		return auth.SignInResult{}, apperr.New(apperr.InvalidCredential, "Invalid email or password")
	}
	return auth.SignInResult{
		Token:   goodToken,
		Session: auth.Session{ID: "sess-1", UserID: userA, FirmID: firmA},
	}, nil
}

func (f *fakeAuth) SignOut(context.Context, auth.SessionUser, string) error {
	f.mu.Lock()
	f.signOut++
	f.mu.Unlock()
	return nil
}

func (f *fakeAuth) RotateAPIKey(_ context.Context, firmID string, scopes []string, _ string) (auth.IssuedKey, error) {
	if firmID == "" {
		return auth.IssuedKey{}, apperr.Validation("firm_id is required", nil)
	}
	f.mu.Lock()
	f.rotated = append(f.rotated, firmID)
	f.mu.Unlock()
	return auth.IssuedKey{Key: "lxk_new", KeyID: "key-new", Scopes: scopes}, nil
}

func (f *fakeAuth) SessionTTL() time.Duration { return 7 * 24 * time.Hour }

// memStore backs the real intake and aml services.
type memStore struct {
	mu      sync.Mutex
	clients map[string]intake.Client
	leads   []intake.Lead
	checks  map[string]aml.Check
}

func newMemStore() *memStore {
	return &memStore{
		clients: map[string]intake.Client{
			clientA: {ID: clientA, FirmID: firmA, FullName: "Jane Doe"},
		},
		checks: map[string]aml.Check{},
	}
}

func (m *memStore) Clients() intake.ClientStore { return memClients{m} }
func (m *memStore) Matters() intake.MatterStore { return memMatters{} }
func (m *memStore) Leads() intake.LeadStore     { return memLeads{m} }

func (m *memStore) leadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.leads)
}

type memClients struct{ m *memStore }

func (c memClients) Get(_ context.Context, firmID, id string) (intake.Client, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	cl, ok := c.m.clients[id]
	if !ok || cl.FirmID != firmID {
		return intake.Client{}, store.ErrNotFound
	}
	return cl, nil
}

func (c memClients) FindByExternalID(context.Context, string, string) (intake.Client, error) {
	return intake.Client{}, store.ErrNotFound
}

func (c memClients) FindByEmail(context.Context, string, string) (intake.Client, error) {
	return intake.Client{}, store.ErrNotFound
}

func (c memClients) Insert(_ context.Context, cl intake.Client) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	c.m.clients[cl.ID] = cl
	return nil
}

func (c memClients) Update(_ context.Context, cl intake.Client) error {
	return c.Insert(context.Background(), cl)
}

func (c memClients) List(_ context.Context, firmID string, _, _ int) ([]intake.Client, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	var out []intake.Client
	for _, cl := range c.m.clients {
		if cl.FirmID == firmID {
			out = append(out, cl)
		}
	}
	return out, nil
}

type memMatters struct{}

func (memMatters) Get(context.Context, string, string) (intake.Matter, error) {
	return intake.Matter{}, store.ErrNotFound
}

func (memMatters) GetByExternalRef(context.Context, string, string) (intake.Matter, error) {
	return intake.Matter{}, store.ErrNotFound
}

func (memMatters) Update(context.Context, string, string, intake.MatterPatch, time.Time) (intake.Matter, error) {
	return intake.Matter{}, store.ErrNotFound
}

func (memMatters) List(context.Context, string, int, int) ([]intake.Matter, error) { return nil, nil }

type memLeads struct{ m *memStore }

func (l memLeads) Exists(_ context.Context, firmID *string, email string) (bool, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	for _, ld := range l.m.leads {
		if ld.Email == email && sameFirm(ld.FirmID, firmID) {
			return true, nil
		}
	}
	return false, nil
}

func sameFirm(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (l memLeads) Insert(_ context.Context, ld intake.Lead) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	l.m.leads = append(l.m.leads, ld)
	return nil
}

func (l memLeads) PurgeBefore(context.Context, time.Time) (int64, error) { return 3, nil }

type memChecks struct{ m *memStore }

func (c memChecks) Insert(_ context.Context, ch aml.Check) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	c.m.checks[ch.ID] = ch
	return nil
}

func (c memChecks) Get(_ context.Context, firmID, id string) (aml.Check, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	ch, ok := c.m.checks[id]
	if !ok || ch.FirmID != firmID {
		return aml.Check{}, store.ErrNotFound
	}
	return ch, nil
}

func (c memChecks) List(_ context.Context, firmID string, _ aml.ListFilter) ([]aml.Check, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	var out []aml.Check
	for _, ch := range c.m.checks {
		if ch.FirmID == firmID {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (c memChecks) Transition(_ context.Context, firmID, id string, from, to aml.Status, notes *string, at time.Time) (aml.Check, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	ch, ok := c.m.checks[id]
	if !ok || ch.FirmID != firmID {
		return aml.Check{}, store.ErrNotFound
	}
	if ch.Status != from {
		return aml.Check{}, store.ErrConflict
	}
	ch.Status, ch.Notes, ch.UpdatedAt = to, notes, at
	c.m.checks[id] = ch
	return ch, nil
}

// brokenAudit fails every write; the recorder must swallow it.
type brokenAudit struct{}

func (brokenAudit) InsertAuditEvent(context.Context, audit.Event) error {
	return errors.New("audit_events unavailable")
}

type fakePrivacy struct {
	deleted  bool
	success  bool
	exported gdpr.Requester
}

func (p *fakePrivacy) Export(_ context.Context, req gdpr.Requester) (gdpr.Document, error) {
	return gdpr.Document{
		ExportedAt: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		FirmID:     req.FirmID,
	}, nil
}

func (p *fakePrivacy) ExportUser(_ context.Context, req gdpr.Requester) (gdpr.UserDocument, error) {
	p.exported = req
	return gdpr.UserDocument{
		Metadata: gdpr.UserMetadata{
			GeneratedAt:       time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
			RequestedByUserID: req.UserID,
			FirmID:            req.FirmID,
			Scope:             gdpr.ScopeUserOnly,
			Version:           1,
		},
		UserProfile: gdpr.Profile{ID: req.UserID, FirmID: req.FirmID, Email: "owner@acme.test"},
		AuditEvents: []audit.Event{},
	}, nil
}

func (p *fakePrivacy) DeleteUserData(context.Context, string, string, string) gdpr.DeleteResult {
	p.deleted = true
	return gdpr.DeleteResult{Success: p.success, Deleted: gdpr.DeletedCounts{Sessions: 2, Profile: 1}}
}
