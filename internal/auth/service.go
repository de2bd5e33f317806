package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"lexintake.org/internal/apperr"
	"lexintake.org/internal/audit"
	"lexintake.org/internal/ids"
	"lexintake.org/internal/obs"
	"lexintake.org/internal/store"
)

const (
	defaultSessionTTL = 7 * 24 * time.Hour
	defaultKeyTTL     = 90 * 24 * time.Hour
	touchTimeout      = 2 * time.Second
	systemFirmZero    = "00000000-0000-0000-0000-000000000000"
)

// Service resolves API keys and sessions and manages their lifecycle.
type Service struct {
	store  Store
	audit  audit.Sink
	now    func() time.Time
	pepper string

	sessionSecret []byte
	sessionTTL    time.Duration
	keyTTL        time.Duration
	systemFirmID  string

	// touch runs best-effort bookkeeping writes; tests replace it to run
	// synchronously.
	touch func(fn func(ctx context.Context))
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithPepper sets the secret prepended to API keys before hashing.
func WithPepper(pepper string) ServiceOption {
	return func(s *Service) error {
		s.pepper = pepper
		return nil
	}
}

// WithSessionSecret sets the HS256 key for session cookies.
func WithSessionSecret(secret string) ServiceOption {
	return func(s *Service) error {
		if strings.TrimSpace(secret) == "" {
			return errors.New("auth: session secret is empty")
		}
		s.sessionSecret = []byte(secret)
		return nil
	}
}

// WithSessionTTL configures the session lifetime.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
		return nil
	}
}

// WithKeyTTL configures how long a rotated key stays valid.
func WithKeyTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.keyTTL = ttl
		}
		return nil
	}
}

// WithSystemFirm sets the firm id used for events not tied to a tenant.
func WithSystemFirm(id string) ServiceOption {
	return func(s *Service) error {
		if id = strings.TrimSpace(id); id != "" {
			s.systemFirmID = id
		}
		return nil
	}
}

// WithAudit routes security events to sink.
func WithAudit(sink audit.Sink) ServiceOption {
	return func(s *Service) error {
		s.audit = sink
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(st Store, opts ...ServiceOption) (*Service, error) {
	if st == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:        st,
		now:          func() time.Time { return time.Now().UTC() },
		sessionTTL:   defaultSessionTTL,
		keyTTL:       defaultKeyTTL,
		systemFirmID: systemFirmZero,
		touch: func(fn func(ctx context.Context)) {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
				defer cancel()
				fn(ctx)
			}()
		},
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// SessionTTL reports the configured session lifetime.
func (s *Service) SessionTTL() time.Duration { return s.sessionTTL }

// SystemFirmID reports the firm used for non-tenant events.
func (s *Service) SystemFirmID() string { return s.systemFirmID }

func (s *Service) record(ctx context.Context, ev audit.Event) {
	if s.audit != nil {
		s.audit.Record(ctx, ev)
	}
}

// ValidateAPIKey resolves raw to a Caller. Failures are returned as
// *apperr.Error wrapping a *KeyError.
func (s *Service) ValidateAPIKey(ctx context.Context, raw, ip string) (Caller, error) {
	key := strings.TrimSpace(raw)
	if key == "" {
		return Caller{}, s.rejectKey(ctx, &KeyError{Reason: ReasonMissingKey}, ip)
	}
	prefix, ok := ParseKey(key)
	if !ok {
		return Caller{}, s.rejectKey(ctx, &KeyError{Reason: ReasonMalformedKey}, ip)
	}

	candidates, err := s.store.APIKeys().FindByPrefix(ctx, prefix)
	if err != nil {
		return Caller{}, apperr.Persistence("Failed to validate API key", fmt.Errorf("lookup api key: %w", err))
	}

	want := []byte(HashKey(s.pepper, key))
	var match *APIKey
	for i := range candidates {
		if subtle.ConstantTimeCompare([]byte(candidates[i].Hash), want) == 1 {
			match = &candidates[i]
		}
	}
	if match == nil {
		ke := &KeyError{Reason: ReasonUnknownKey, Prefix: prefix}
		if len(candidates) > 0 {
			ke.FirmID = candidates[0].FirmID
		}
		return Caller{}, s.rejectKey(ctx, ke, ip)
	}

	ke := &KeyError{Prefix: prefix, FirmID: match.FirmID}
	now := s.now()
	switch {
	case !match.IsActive || match.RevokedAt != nil:
		ke.Reason = ReasonRevokedKey
	case match.ExpiresAt != nil && match.ExpiresAt.Before(now):
		ke.Reason = ReasonExpiredKey
	case len(match.Scopes) == 0:
		ke.Reason = ReasonEmptyScopes
	}
	if ke.Reason != "" {
		return Caller{}, s.rejectKey(ctx, ke, ip)
	}

	keyID := match.ID
	s.touch(func(ctx context.Context) {
		if err := s.store.APIKeys().TouchLastUsed(ctx, keyID, now); err != nil {
			obs.Logger().Warn("api key last_used_at update failed", zap.String("key_id", keyID), zap.Error(err))
		}
	})

	return Caller{FirmID: match.FirmID, KeyID: match.ID, Scopes: match.Scopes}, nil
}

func (s *Service) rejectKey(ctx context.Context, ke *KeyError, ip string) error {
	obs.RecordAPIKeyFailure(string(ke.Reason))

	firmID := ke.FirmID
	if firmID == "" {
		firmID = s.systemFirmID
	}
	details := map[string]any{"reason": string(ke.Reason)}
	if ke.Prefix != "" {
		details["key_prefix"] = ke.Prefix
	}
	s.record(ctx, audit.Event{
		FirmID:      firmID,
		EventType:   audit.EventAPIKeyAuthFailed,
		EntityType:  "api_key",
		EntityID:    audit.Ptr(ke.Prefix),
		IPAddress:   audit.Ptr(ip),
		Details:     details,
		LawfulBasis: audit.Ptr(audit.BasisSecurity),
	})

	if ke.Reason == ReasonMissingKey {
		return apperr.Wrap(apperr.MissingCredential, "Missing API key", ke)
	}
	return apperr.Wrap(apperr.InvalidCredential, "Invalid API key", ke)
}

// RotateAPIKey issues a new key for firmID and deactivates the previous
// one. Empty scopes inherit the current key's scopes, or DefaultScopes for
// a firm without a key.
func (s *Service) RotateAPIKey(ctx context.Context, firmID string, scopes []string, ip string) (IssuedKey, error) {
	if !ids.ValidUUID(firmID) {
		return IssuedKey{}, apperr.Validation("firm_id must be a valid UUID", nil)
	}
	if _, err := s.store.Firms().Find(ctx, firmID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return IssuedKey{}, apperr.New(apperr.NotFound, "Firm not found")
		}
		return IssuedKey{}, apperr.Persistence("Failed to load firm", err)
	}

	granted, err := s.resolveScopes(ctx, firmID, scopes)
	if err != nil {
		return IssuedKey{}, err
	}

	now := s.now()
	plain, prefix, err := GenerateKey(now)
	if err != nil {
		return IssuedKey{}, apperr.Wrap(apperr.Unexpected, "Failed to generate key", err)
	}
	expires := now.Add(s.keyTTL)
	rec := APIKey{
		ID:        ids.Entity(),
		FirmID:    firmID,
		Prefix:    prefix,
		Hash:      HashKey(s.pepper, plain),
		Scopes:    granted,
		ExpiresAt: &expires,
		IsActive:  true,
		CreatedAt: now,
	}
	if err := s.store.APIKeys().ReplaceActive(ctx, rec); err != nil {
		return IssuedKey{}, apperr.Persistence("Failed to rotate API key", err)
	}

	s.record(ctx, audit.Event{
		FirmID:     firmID,
		EventType:  audit.EventAPIKeyRotated,
		EntityType: "firm",
		EntityID:   audit.Ptr(firmID),
		IPAddress:  audit.Ptr(ip),
		Details: map[string]any{
			"key_id":     rec.ID,
			"key_prefix": prefix,
			"scopes":     granted,
			"expires_at": expires,
		},
		LawfulBasis: audit.Ptr(audit.BasisKeyRotation),
	})

	return IssuedKey{Key: plain, KeyID: rec.ID, ExpiresAt: expires, Scopes: granted}, nil
}

func (s *Service) resolveScopes(ctx context.Context, firmID string, requested []string) ([]string, error) {
	if len(requested) > 0 {
		granted := NormalizeScopes(requested)
		if len(granted) != len(requested) {
			return nil, apperr.Validation("Unknown or duplicate scopes", map[string]any{"scopes": requested})
		}
		return granted, nil
	}
	current, err := s.store.APIKeys().ActiveForFirm(ctx, firmID)
	switch {
	case err == nil && len(current.Scopes) > 0:
		return current.Scopes, nil
	case err == nil, errors.Is(err, store.ErrNotFound):
		return scopeStrings(DefaultScopes), nil
	default:
		return nil, apperr.Persistence("Failed to load current key", err)
	}
}

// SignInResult carries what the HTTP layer needs to set cookies.
type SignInResult struct {
	Token   string
	Session Session
}

const errBadLogin = "Invalid email or password"

// SignIn checks the credentials and opens a session.
func (s *Service) SignIn(ctx context.Context, email, password, ip, userAgent string) (SignInResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return SignInResult{}, apperr.Validation("Email and password are required", nil)
	}

	profile, err := s.store.Profiles().FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return SignInResult{}, apperr.Persistence("Sign in failed", err)
	}
	if err != nil {
		_ = VerifyPassword("", password)
		s.recordLogin(ctx, Profile{FirmID: s.systemFirmID}, ip, false)
		return SignInResult{}, apperr.New(apperr.InvalidCredential, errBadLogin)
	}
	if err := VerifyPassword(profile.PasswordHash, password); err != nil {
		s.recordLogin(ctx, profile, ip, false)
		return SignInResult{}, apperr.Wrap(apperr.InvalidCredential, errBadLogin, err)
	}

	now := s.now()
	sess := Session{
		ID:           ids.Entity(),
		UserID:       profile.ID,
		FirmID:       profile.FirmID,
		IPAddress:    audit.Ptr(ip),
		UserAgent:    audit.Ptr(userAgent),
		ExpiresAt:    now.Add(s.sessionTTL),
		LastActivity: now,
		IsValid:      true,
		CreatedAt:    now,
	}
	token, err := signSession(s.sessionSecret, sess)
	if err != nil {
		return SignInResult{}, apperr.Wrap(apperr.Unexpected, "Sign in failed", err)
	}
	sess.TokenHash = HashKey("", token)
	if err := s.store.Sessions().Create(ctx, sess); err != nil {
		return SignInResult{}, apperr.Persistence("Sign in failed", err)
	}

	s.recordLogin(ctx, profile, ip, true)
	return SignInResult{Token: token, Session: sess}, nil
}

func (s *Service) recordLogin(ctx context.Context, p Profile, ip string, success bool) {
	basis := audit.BasisContract
	if !success {
		basis = audit.BasisSecurity
	}
	s.record(ctx, audit.Event{
		FirmID:      p.FirmID,
		UserID:      audit.Ptr(p.ID),
		EventType:   audit.EventLogin,
		EntityType:  "user",
		EntityID:    audit.Ptr(p.ID),
		IPAddress:   audit.Ptr(ip),
		Details:     map[string]any{"success": success},
		LawfulBasis: audit.Ptr(basis),
	})
}

// AuthenticateSession verifies the session cookie against the firm and user
// cookies and the stored session row.
func (s *Service) AuthenticateSession(ctx context.Context, token, firmID, userID string) (SessionUser, error) {
	if token == "" || firmID == "" || userID == "" {
		return SessionUser{}, apperr.New(apperr.MissingCredential, "Unauthorized")
	}
	now := s.now()
	user, err := parseSession(s.sessionSecret, token, now)
	if err != nil {
		return SessionUser{}, apperr.Wrap(apperr.InvalidCredential, "Unauthorized", err)
	}
	if user.FirmID != firmID || user.UserID != userID {
		return SessionUser{}, apperr.Wrap(apperr.InvalidCredential, "Unauthorized", ErrInvalidSession)
	}

	row, err := s.store.Sessions().Find(ctx, user.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return SessionUser{}, apperr.Wrap(apperr.InvalidCredential, "Unauthorized", ErrInvalidSession)
		}
		return SessionUser{}, apperr.Persistence("Failed to load session", err)
	}
	hash := HashKey("", token)
	valid := row.IsValid &&
		row.ExpiresAt.After(now) &&
		row.UserID == user.UserID &&
		row.FirmID == user.FirmID &&
		subtle.ConstantTimeCompare([]byte(row.TokenHash), []byte(hash)) == 1
	if !valid {
		return SessionUser{}, apperr.Wrap(apperr.InvalidCredential, "Unauthorized", ErrInvalidSession)
	}

	sid := row.ID
	s.touch(func(ctx context.Context) {
		if err := s.store.Sessions().Touch(ctx, sid, now); err != nil {
			obs.Logger().Warn("session last_activity update failed", zap.String("session_id", sid), zap.Error(err))
		}
	})
	return user, nil
}

// SignOut invalidates the session. Calling it twice is harmless.
func (s *Service) SignOut(ctx context.Context, u SessionUser, ip string) error {
	if err := s.store.Sessions().Invalidate(ctx, u.SessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return apperr.Persistence("Sign out failed", err)
	}
	s.record(ctx, audit.Event{
		FirmID:      u.FirmID,
		UserID:      audit.Ptr(u.UserID),
		EventType:   audit.EventLogout,
		EntityType:  "user",
		EntityID:    audit.Ptr(u.UserID),
		IPAddress:   audit.Ptr(ip),
		Details:     map[string]any{},
		LawfulBasis: audit.Ptr(audit.BasisContract),
	})
	return nil
}

// NewFirm describes a firm created during onboarding.
type NewFirm struct {
	Name          string
	State         string
	ContactEmail  string
	OwnerEmail    string
	OwnerPassword string
	OwnerName     string
}

// Onboarded is the result of CreateFirm.
type Onboarded struct {
	Firm  Firm
	Owner Profile
	Key   IssuedKey
}

// CreateFirm creates a firm, its owner profile and an initial API key.
func (s *Service) CreateFirm(ctx context.Context, in NewFirm) (Onboarded, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.OwnerEmail = strings.ToLower(strings.TrimSpace(in.OwnerEmail))
	switch {
	case in.Name == "":
		return Onboarded{}, apperr.Validation("Firm name is required", nil)
	case !strings.Contains(in.OwnerEmail, "@"):
		return Onboarded{}, apperr.Validation("Valid owner email is required", nil)
	case len(in.OwnerPassword) < 8:
		return Onboarded{}, apperr.Validation("Owner password must be at least 8 characters", nil)
	}

	now := s.now()
	firm := Firm{
		ID:           ids.Entity(),
		Name:         in.Name,
		State:        strings.TrimSpace(in.State),
		EmailContact: audit.Ptr(strings.TrimSpace(in.ContactEmail)),
		CreatedAt:    now,
	}
	if firm.EmailContact == nil {
		firm.EmailContact = &in.OwnerEmail
	}
	if err := s.store.Firms().Create(ctx, firm); err != nil {
		return Onboarded{}, apperr.Persistence("Failed to create firm", err)
	}

	hash, err := HashPassword(in.OwnerPassword)
	if err != nil {
		return Onboarded{}, apperr.Wrap(apperr.Unexpected, "Failed to hash password", err)
	}
	owner := Profile{
		ID:           ids.Entity(),
		FirmID:       firm.ID,
		Email:        in.OwnerEmail,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(in.OwnerName),
		Role:         RoleFirmOwner,
		CreatedAt:    now,
	}
	if err := s.store.Profiles().Create(ctx, owner); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return Onboarded{}, apperr.Wrap(apperr.Conflict, "Email already registered", err)
		}
		return Onboarded{}, apperr.Persistence("Failed to create owner", err)
	}

	key, err := s.RotateAPIKey(ctx, firm.ID, nil, "")
	if err != nil {
		return Onboarded{}, err
	}
	s.record(ctx, audit.Event{
		FirmID:      firm.ID,
		UserID:      audit.Ptr(owner.ID),
		EventType:   audit.EventCreate,
		EntityType:  "firm",
		EntityID:    audit.Ptr(firm.ID),
		Details:     map[string]any{"firm_name": firm.Name, "owner_email": owner.Email},
		LawfulBasis: audit.Ptr(audit.BasisContract),
	})
	return Onboarded{Firm: firm, Owner: owner, Key: key}, nil
}
