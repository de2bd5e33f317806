package aml

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"lexintake.org/internal/apperr"
	"lexintake.org/internal/audit"
	"lexintake.org/internal/ids"
	"lexintake.org/internal/obs"
	"lexintake.org/internal/store"
)

// CreateInput is the body of a screening request.
type CreateInput struct {
	ClientID    string    `json:"client_id"`
	CheckType   CheckType `json:"check_type"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	DateOfBirth string    `json:"date_of_birth,omitempty"`
	Address     string    `json:"address,omitempty"`
	Notes       string    `json:"notes,omitempty"`
}

// Validate normalizes the input and checks every field rule.
func (in *CreateInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if in.CheckType == "" {
		in.CheckType = CheckFull
	}
	fields := map[string]string{}
	if !ids.ValidUUID(in.ClientID) {
		fields["client_id"] = "must be a valid UUID"
	}
	if !in.CheckType.Valid() {
		fields["check_type"] = "must be one of IDENTITY, SANCTIONS, PEP, ADVERSE_MEDIA, FULL"
	}
	switch {
	case in.Name == "":
		fields["name"] = "is required"
	case len(in.Name) > 255:
		fields["name"] = "must be 255 characters or fewer"
	}
	if _, err := mail.ParseAddress(in.Email); err != nil || !strings.Contains(in.Email, "@") {
		fields["email"] = "must be a valid email address"
	}
	if in.DateOfBirth != "" {
		if _, err := time.Parse(time.RFC3339, in.DateOfBirth); err != nil {
			fields["date_of_birth"] = "must be an RFC3339 timestamp"
		}
	}
	if len(in.Address) > 500 {
		fields["address"] = "must be 500 characters or fewer"
	}
	if len(fields) > 0 {
		return apperr.Validation("Invalid request", fields)
	}
	return nil
}

// Result is returned after a completed screening.
type Result struct {
	CheckID   string     `json:"check_id"`
	ClientID  string     `json:"client_id"`
	Status    Status     `json:"status"`
	RiskLevel *RiskLevel `json:"risk_level"`
	Findings  []string   `json:"findings"`
	CheckedAt time.Time  `json:"checked_at"`
}

// Actor identifies who triggered an operation.
type Actor struct {
	FirmID string
	UserID string
	IP     string
}

// Service runs screenings and manages stored checks.
type Service struct {
	checks   CheckStore
	clients  ClientLookup
	provider Provider
	audit    audit.Sink
	enabled  bool
	now      func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithEnabled toggles new screenings. Reads keep working when disabled.
func WithEnabled(enabled bool) Option {
	return func(s *Service) { s.enabled = enabled }
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(checks CheckStore, clients ClientLookup, provider Provider, sink audit.Sink, opts ...Option) *Service {
	s := &Service{
		checks:   checks,
		clients:  clients,
		provider: provider,
		audit:    sink,
		enabled:  true,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) record(ctx context.Context, ev audit.Event) {
	if s.audit != nil {
		s.audit.Record(ctx, ev)
	}
}

// Create screens the client and stores the outcome.
func (s *Service) Create(ctx context.Context, actor Actor, in CreateInput) (Result, error) {
	if !s.enabled {
		return Result{}, apperr.New(apperr.UpstreamUnavailable, "AML checks disabled")
	}
	if err := in.Validate(); err != nil {
		return Result{}, err
	}

	client, err := s.clients.Get(ctx, actor.FirmID, in.ClientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, apperr.New(apperr.NotFound, "Client not found")
		}
		return Result{}, apperr.Persistence("Failed to load client", err)
	}

	req := ScreeningRequest{
		ClientID:  client.ID,
		CheckType: in.CheckType,
		Name:      in.Name,
		Email:     in.Email,
		Address:   in.Address,
	}
	if in.DateOfBirth != "" {
		dob, _ := time.Parse(time.RFC3339, in.DateOfBirth)
		req.DateOfBirth = &dob
	}

	res, err := s.provider.Screen(ctx, req)
	if err != nil {
		obs.Logger().Error("aml screening failed",
			zap.String("firm_id", actor.FirmID),
			zap.String("client_id", client.ID),
			zap.String("request_id", audit.RequestIDFromContext(ctx)),
			zap.Error(err),
		)
		s.record(ctx, audit.Event{
			FirmID:      actor.FirmID,
			UserID:      audit.Ptr(actor.UserID),
			EventType:   audit.EventAMLCheckCompleted,
			EntityType:  "client",
			EntityID:    audit.Ptr(client.ID),
			IPAddress:   audit.Ptr(actor.IP),
			Details:     map[string]any{"result": "failed", "check_type": string(in.CheckType)},
			LawfulBasis: audit.Ptr(audit.BasisAML),
		})
		return Result{}, apperr.Wrap(apperr.UpstreamUnavailable, "AML check failed", err)
	}

	now := s.now()
	check := Check{
		ID:                      ids.Entity(),
		FirmID:                  actor.FirmID,
		ClientID:                client.ID,
		CheckType:               in.CheckType,
		Status:                  StatusFor(res.Outcome),
		HasPEPFlag:              res.PEP,
		HasSanctionsFlag:        res.Sanctions,
		HasHighRiskJurisdiction: res.HighRiskJurisdiction,
		ProviderRef:             audit.Ptr(res.ProviderRef),
		Findings:                res.Findings,
		Notes:                   audit.Ptr(strings.TrimSpace(in.Notes)),
		CheckedAt:               &now,
		CreatedByUserID:         audit.Ptr(actor.UserID),
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if res.RiskLevel.Valid() {
		risk := res.RiskLevel
		check.RiskLevel = &risk
	}
	if check.Findings == nil {
		check.Findings = []string{}
	}
	if err := s.checks.Insert(ctx, check); err != nil {
		return Result{}, apperr.Persistence("Failed to store result", err)
	}

	s.record(ctx, audit.Event{
		FirmID:     actor.FirmID,
		UserID:     audit.Ptr(actor.UserID),
		EventType:  audit.EventCreate,
		EntityType: "aml_check",
		EntityID:   audit.Ptr(check.ID),
		IPAddress:  audit.Ptr(actor.IP),
		Details: map[string]any{
			"client_id":  client.ID,
			"check_type": string(check.CheckType),
			"status":     string(check.Status),
			"risk_level": res.RiskLevel,
		},
		LawfulBasis: audit.Ptr(audit.BasisAML),
	})

	return Result{
		CheckID:   check.ID,
		ClientID:  client.ID,
		Status:    check.Status,
		RiskLevel: check.RiskLevel,
		Findings:  check.Findings,
		CheckedAt: now,
	}, nil
}

// Get returns one check of the firm.
func (s *Service) Get(ctx context.Context, firmID, id string) (Check, error) {
	if !ids.ValidUUID(id) {
		return Check{}, apperr.New(apperr.NotFound, "Check not found")
	}
	c, err := s.checks.Get(ctx, firmID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Check{}, apperr.New(apperr.NotFound, "Check not found")
		}
		return Check{}, apperr.Persistence("Failed to load check", err)
	}
	return c, nil
}

// List returns the firm's checks, newest first.
func (s *Service) List(ctx context.Context, firmID string, f ListFilter) ([]Check, error) {
	if f.ClientID != "" && !ids.ValidUUID(f.ClientID) {
		return nil, apperr.Validation("client_id must be a valid UUID", nil)
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	out, err := s.checks.List(ctx, firmID, f)
	if err != nil {
		return nil, apperr.Persistence("Failed to list checks", err)
	}
	return out, nil
}

// StatusInput is the body of a status change.
type StatusInput struct {
	Status Status  `json:"status"`
	Notes  *string `json:"notes,omitempty"`
}

func (in StatusInput) Validate() error {
	if !in.Status.Terminal() {
		return apperr.Validation("status must be one of PASSED, FLAGGED, ESCALATED", nil)
	}
	if in.Notes != nil && len(*in.Notes) > 2000 {
		return apperr.Validation("notes must be 2000 characters or fewer", nil)
	}
	return nil
}

var errInvalidTransition = &apperr.Error{
	Kind:    apperr.Conflict,
	Message: "Invalid status transition",
	Details: map[string]any{"code": "INVALID_TRANSITION"},
}

// UpdateStatus resolves a pending check. Terminal checks cannot move.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, id string, in StatusInput) (Check, error) {
	if err := in.Validate(); err != nil {
		return Check{}, err
	}
	current, err := s.Get(ctx, actor.FirmID, id)
	if err != nil {
		return Check{}, err
	}
	if current.Status.Terminal() {
		return Check{}, errInvalidTransition
	}

	updated, err := s.checks.Transition(ctx, actor.FirmID, id, current.Status, in.Status, in.Notes, s.now())
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return Check{}, errInvalidTransition
		}
		return Check{}, apperr.Persistence("Failed to update check", err)
	}

	s.record(ctx, audit.Event{
		FirmID:     actor.FirmID,
		UserID:     audit.Ptr(actor.UserID),
		EventType:  audit.EventUpdate,
		EntityType: "aml_check",
		EntityID:   audit.Ptr(id),
		IPAddress:  audit.Ptr(actor.IP),
		Details: map[string]any{
			"previous": string(current.Status),
			"status":   string(updated.Status),
		},
		LawfulBasis: audit.Ptr(audit.BasisAML),
	})
	return updated, nil
}
