package auth

import (
	"context"
	"slices"
	"sync"
	"time"

	"lexintake.org/internal/audit"
	"lexintake.org/internal/store"
)

type memStore struct {
	mu       sync.Mutex
	firms    map[string]Firm
	profiles map[string]Profile
	keys     []APIKey
	sessions map[string]Session
}

func newMemStore() *memStore {
	return &memStore{
		firms:    map[string]Firm{},
		profiles: map[string]Profile{},
		sessions: map[string]Session{},
	}
}

func (m *memStore) Firms() FirmStore       { return memFirms{m} }
func (m *memStore) Profiles() ProfileStore { return memProfiles{m} }
func (m *memStore) APIKeys() APIKeyStore   { return memKeys{m} }
func (m *memStore) Sessions() SessionStore { return memSessions{m} }

type memFirms struct{ m *memStore }

func (s memFirms) Create(_ context.Context, f Firm) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.firms[f.ID] = f
	return nil
}

func (s memFirms) Find(_ context.Context, id string) (Firm, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	f, ok := s.m.firms[id]
	if !ok {
		return Firm{}, store.ErrNotFound
	}
	return f, nil
}

type memProfiles struct{ m *memStore }

func (s memProfiles) Create(_ context.Context, p Profile) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.profiles[p.Email]; ok {
		return store.ErrConflict
	}
	s.m.profiles[p.Email] = p
	return nil
}

func (s memProfiles) FindByEmail(_ context.Context, email string) (Profile, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	p, ok := s.m.profiles[email]
	if !ok {
		return Profile{}, store.ErrNotFound
	}
	return p, nil
}

type memKeys struct{ m *memStore }

func (s memKeys) FindByPrefix(_ context.Context, prefix string) ([]APIKey, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []APIKey
	for _, k := range s.m.keys {
		if k.Prefix == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s memKeys) ActiveForFirm(_ context.Context, firmID string) (APIKey, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, k := range s.m.keys {
		if k.FirmID == firmID && k.IsActive {
			return k, nil
		}
	}
	return APIKey{}, store.ErrNotFound
}

func (s memKeys) ReplaceActive(_ context.Context, key APIKey) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	now := key.CreatedAt
	for i := range s.m.keys {
		if s.m.keys[i].FirmID == key.FirmID && s.m.keys[i].IsActive {
			s.m.keys[i].IsActive = false
			s.m.keys[i].RevokedAt = &now
		}
	}
	s.m.keys = append(s.m.keys, key)
	return nil
}

func (s memKeys) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for i := range s.m.keys {
		if s.m.keys[i].ID == id {
			s.m.keys[i].LastUsedAt = &at
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) activeCount(firmID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range m.keys {
		if k.FirmID == firmID && k.IsActive {
			n++
		}
	}
	return n
}

type memSessions struct{ m *memStore }

func (s memSessions) Create(_ context.Context, sess Session) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.sessions[sess.ID] = sess
	return nil
}

func (s memSessions) Find(_ context.Context, id string) (Session, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sess, ok := s.m.sessions[id]
	if !ok {
		return Session{}, store.ErrNotFound
	}
	return sess, nil
}

func (s memSessions) Touch(_ context.Context, id string, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sess, ok := s.m.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	sess.LastActivity = at
	s.m.sessions[id] = sess
	return nil
}

func (s memSessions) Invalidate(_ context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sess, ok := s.m.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	sess.IsValid = false
	s.m.sessions[id] = sess
	return nil
}

type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureSink) Record(_ context.Context, ev audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureSink) ofType(eventType string) []audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.DeleteFunc(slices.Clone(c.events), func(ev audit.Event) bool {
		return ev.EventType != eventType
	})
}
