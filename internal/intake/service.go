package intake

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"lexintake.org/internal/apperr"
	"lexintake.org/internal/audit"
	"lexintake.org/internal/email"
	"lexintake.org/internal/ids"
	"lexintake.org/internal/obs"
	"lexintake.org/internal/store"
)

const (
	defaultRetention = 2 * 365 * 24 * time.Hour
	mailTimeout      = 10 * time.Second
)

// Actor identifies who triggered an operation. UserID is empty for calls
// made with an API key.
type Actor struct {
	FirmID string
	UserID string
	IP     string
}

// Service implements client intake, matter updates, lead capture and the
// retention job.
type Service struct {
	clients    ClientStore
	matters    MatterStore
	leads      LeadStore
	audit      audit.Sink
	mailer     email.Sender
	mailFrom   string
	appURL     string
	systemFirm string
	retention  time.Duration
	now        func() time.Time
	// background runs fire-and-forget work such as the welcome email.
	background func(fn func(ctx context.Context))
}

// Option configures Service.
type Option func(*Service)

func WithAudit(sink audit.Sink) Option { return func(s *Service) { s.audit = sink } }

// WithMailer enables the welcome email sent for firm-integration leads.
func WithMailer(m email.Sender, from, appURL string) Option {
	return func(s *Service) {
		s.mailer = m
		s.mailFrom = from
		s.appURL = appURL
	}
}

// WithSystemFirm sets the firm that owns events without a tenant.
func WithSystemFirm(id string) Option { return func(s *Service) { s.systemFirm = id } }

// WithRetention sets the age after which marketing leads are purged.
func WithRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(st Store, opts ...Option) *Service {
	s := &Service{
		clients:    st.Clients(),
		matters:    st.Matters(),
		leads:      st.Leads(),
		systemFirm: "00000000-0000-0000-0000-000000000000",
		retention:  defaultRetention,
		now:        func() time.Time { return time.Now().UTC() },
		background: func(fn func(ctx context.Context)) {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), mailTimeout)
				defer cancel()
				fn(ctx)
			}()
		},
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

func optional(v string) *string { return audit.Ptr(strings.TrimSpace(v)) }

func validEmail(v string) bool {
	if !strings.Contains(v, "@") {
		return false
	}
	_, err := mail.ParseAddress(v)
	return err == nil
}

// Clients -------------------------------------------------------------------

// ExternalClientInput is an upsert from a firm's own system.
type ExternalClientInput struct {
	ExternalID   string `json:"external_id,omitempty"`
	FullName     string `json:"full_name"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	AddressLine1 string `json:"address_line_1,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	Zip          string `json:"zip,omitempty"`
}

func (in *ExternalClientInput) Validate() error {
	in.ExternalID = strings.TrimSpace(in.ExternalID)
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.FullName == "" {
		return apperr.Validation("full_name is required and must be a string", nil)
	}
	if len(in.FullName) > 255 {
		return apperr.Validation("full_name must be 255 characters or fewer", nil)
	}
	if in.ExternalID == "" && in.Email == "" {
		return apperr.Validation("Either external_id or email must be provided for upsert", nil)
	}
	if in.Email != "" && !validEmail(in.Email) {
		return apperr.Validation("email must be a valid email address", nil)
	}
	return nil
}

// UpsertResult is the outcome of an external client upsert.
type UpsertResult struct {
	Success bool   `json:"success"`
	Created bool   `json:"created"`
	Client  Client `json:"client"`
}

// UpsertExternalClient matches on external_id, falling back to email, and
// inserts or updates the client inside the caller's firm.
func (s *Service) UpsertExternalClient(ctx context.Context, actor Actor, in ExternalClientInput) (UpsertResult, error) {
	if err := in.Validate(); err != nil {
		return UpsertResult{}, err
	}

	matchKey := "external_id"
	var (
		existing Client
		err      error
	)
	if in.ExternalID != "" {
		existing, err = s.clients.FindByExternalID(ctx, actor.FirmID, in.ExternalID)
	} else {
		matchKey = "email"
		existing, err = s.clients.FindByEmail(ctx, actor.FirmID, in.Email)
	}
	found := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return UpsertResult{}, apperr.Persistence("Failed to check existing client", err)
	}

	now := s.now()
	c := existing
	if !found {
		c = Client{ID: ids.Entity(), FirmID: actor.FirmID, CreatedAt: now}
	}
	c.ExternalID = optional(in.ExternalID)
	c.FullName = in.FullName
	c.Email = optional(in.Email)
	c.Phone = optional(in.Phone)
	c.AddressLine1 = optional(in.AddressLine1)
	c.City = optional(in.City)
	c.State = optional(in.State)
	c.ZipCode = optional(in.Zip)
	c.UpdatedAt = now

	if found {
		err = s.clients.Update(ctx, c)
	} else {
		err = s.clients.Insert(ctx, c)
	}
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return UpsertResult{}, apperr.New(apperr.Conflict, "Client already exists")
		}
		return UpsertResult{}, apperr.Persistence("Failed to save client", err)
	}

	eventType := audit.EventUpdate
	if !found {
		eventType = audit.EventCreate
	}
	s.record(ctx, audit.Event{
		FirmID:     actor.FirmID,
		EventType:  eventType,
		EntityType: "client",
		EntityID:   audit.Ptr(c.ID),
		IPAddress:  audit.Ptr(actor.IP),
		Details: map[string]any{
			"via":         "external-api",
			"created":     !found,
			"match_key":   matchKey,
			"external_id": c.ExternalID,
			"email":       c.Email,
		},
		LawfulBasis: audit.Ptr(audit.BasisClientIntake),
	})
	return UpsertResult{Success: true, Created: !found, Client: c}, nil
}

// ClientInput is a client created from the dashboard.
type ClientInput struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zip_code,omitempty"`
}

func (in *ClientInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Name == "" {
		return apperr.Validation("Client name is required", nil)
	}
	if len(in.Name) > 255 {
		return apperr.Validation("Client name must be 255 characters or fewer", nil)
	}
	if in.Email != "" && !validEmail(in.Email) {
		return apperr.Validation("email must be a valid email address", nil)
	}
	return nil
}

// CreateClient inserts a client for a signed-in user.
func (s *Service) CreateClient(ctx context.Context, actor Actor, in ClientInput) (Client, error) {
	if err := in.Validate(); err != nil {
		return Client{}, err
	}
	now := s.now()
	c := Client{
		ID:              ids.Entity(),
		FirmID:          actor.FirmID,
		FullName:        in.Name,
		Email:           optional(in.Email),
		Phone:           optional(in.Phone),
		AddressLine1:    optional(in.Address),
		City:            optional(in.City),
		State:           optional(in.State),
		ZipCode:         optional(in.ZipCode),
		CreatedByUserID: audit.Ptr(actor.UserID),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.clients.Insert(ctx, c); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return Client{}, apperr.New(apperr.Conflict, "Client already exists")
		}
		return Client{}, apperr.Persistence("Failed to create client", err)
	}
	s.record(ctx, audit.Event{
		FirmID:      actor.FirmID,
		UserID:      audit.Ptr(actor.UserID),
		EventType:   audit.EventCreate,
		EntityType:  "client",
		EntityID:    audit.Ptr(c.ID),
		IPAddress:   audit.Ptr(actor.IP),
		Details:     map[string]any{"name": c.FullName, "email": c.Email},
		LawfulBasis: audit.Ptr(audit.BasisClientIntake),
	})
	return c, nil
}

// ListClients returns the firm's clients, newest first.
func (s *Service) ListClients(ctx context.Context, actor Actor, limit, offset int) ([]Client, error) {
	out, err := s.clients.List(ctx, actor.FirmID, limit, offset)
	if err != nil {
		return nil, apperr.Persistence("Failed to list clients", err)
	}
	s.record(ctx, audit.Event{
		FirmID:     actor.FirmID,
		UserID:     audit.Ptr(actor.UserID),
		EventType:  audit.EventRead,
		EntityType: "client_list",
		IPAddress:  audit.Ptr(actor.IP),
		Details:    map[string]any{"count": len(out)},
	})
	return out, nil
}

// Matters -------------------------------------------------------------------

// MatterUpdateInput addresses a matter by id or external reference and
// carries the fields to change.
type MatterUpdateInput struct {
	MatterID            string        `json:"matter_id,omitempty"`
	MatterExternalRef   string        `json:"matter_external_ref,omitempty"`
	Status              *MatterStatus `json:"status,omitempty"`
	ExpectedClosingDate OptionalDate  `json:"expected_closing_date"`
	DeletionDueDate     OptionalDate  `json:"deletion_due_date"`
}

func (in *MatterUpdateInput) Validate() error {
	in.MatterID = strings.TrimSpace(in.MatterID)
	in.MatterExternalRef = strings.TrimSpace(in.MatterExternalRef)
	if in.MatterID == "" && in.MatterExternalRef == "" {
		return apperr.Validation("matter_id or matter_external_ref is required", nil)
	}
	if in.Status != nil && !in.Status.Valid() {
		return apperr.Validation("Invalid status value", nil)
	}
	if in.patch().Empty() {
		return apperr.Validation("No updatable fields provided", nil)
	}
	return nil
}

func (in MatterUpdateInput) patch() MatterPatch {
	return MatterPatch{
		Status:              in.Status,
		ExpectedClosingDate: in.ExpectedClosingDate,
		DeletionDueDate:     in.DeletionDueDate,
	}
}

var errMatterNotFound = apperr.New(apperr.NotFound, "Matter not found for this firm")

// UpdateMatter applies an external system's status or date change.
func (s *Service) UpdateMatter(ctx context.Context, actor Actor, in MatterUpdateInput) (Matter, error) {
	if err := in.Validate(); err != nil {
		return Matter{}, err
	}

	var (
		current Matter
		err     error
	)
	switch {
	case in.MatterID != "":
		if !ids.ValidUUID(in.MatterID) {
			return Matter{}, errMatterNotFound
		}
		current, err = s.matters.Get(ctx, actor.FirmID, in.MatterID)
	default:
		current, err = s.matters.GetByExternalRef(ctx, actor.FirmID, in.MatterExternalRef)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Matter{}, errMatterNotFound
		}
		return Matter{}, apperr.Persistence("Error fetching matter", err)
	}

	patch := in.patch()
	updated, err := s.matters.Update(ctx, actor.FirmID, current.ID, patch, s.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Matter{}, errMatterNotFound
		}
		return Matter{}, apperr.Persistence("Failed to update matter", err)
	}

	change := map[string]any{}
	if patch.Status != nil {
		change["status"] = *patch.Status
	}
	if patch.ExpectedClosingDate.Set {
		change["expected_closing_date"] = patch.ExpectedClosingDate.Value
	}
	if patch.DeletionDueDate.Set {
		change["deletion_due_date"] = patch.DeletionDueDate.Value
	}
	s.record(ctx, audit.Event{
		FirmID:     actor.FirmID,
		EventType:  audit.EventUpdate,
		EntityType: "matter",
		EntityID:   audit.Ptr(current.ID),
		IPAddress:  audit.Ptr(actor.IP),
		Details: map[string]any{
			"via": "external-api",
			"previous": map[string]any{
				"status":                current.Status,
				"expected_closing_date": current.ExpectedClosingDate,
				"deletion_due_date":     current.DeletionDueDate,
			},
			"update": change,
		},
		LawfulBasis: audit.Ptr(audit.BasisMatters),
	})
	return updated, nil
}

// MatterExport is the BI feed of a firm's matters.
type MatterExport struct {
	FirmID string   `json:"firm_id"`
	Items  []Matter `json:"items"`
}

// ExportMatters pages through the firm's matters.
func (s *Service) ExportMatters(ctx context.Context, actor Actor, limit, offset int) (MatterExport, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	items, err := s.matters.List(ctx, actor.FirmID, limit, offset)
	if err != nil {
		return MatterExport{}, apperr.Persistence("Failed to fetch matters", err)
	}
	s.record(ctx, audit.Event{
		FirmID:     actor.FirmID,
		EventType:  audit.EventExport,
		EntityType: "matter",
		IPAddress:  audit.Ptr(actor.IP),
		Details: map[string]any{
			"via":      "external-export",
			"resource": "matters",
			"limit":    limit,
			"offset":   offset,
			"returned": len(items),
		},
		LawfulBasis: audit.Ptr(audit.BasisBIFeed),
	})
	return MatterExport{FirmID: actor.FirmID, Items: items}, nil
}

// Leads ---------------------------------------------------------------------

// LeadInput is a lead from the marketing site or a firm integration.
type LeadInput struct {
	Email    string `json:"email"`
	FirmName string `json:"firm_name,omitempty"`
	State    string `json:"state,omitempty"`
}

func (in *LeadInput) Validate() error {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FirmName = strings.TrimSpace(in.FirmName)
	in.State = strings.TrimSpace(in.State)
	if in.Email == "" || !validEmail(in.Email) {
		return apperr.Validation("Valid email is required", nil)
	}
	if len(in.FirmName) > 255 || len(in.State) > 64 {
		return apperr.Validation("firm_name or state is too long", nil)
	}
	return nil
}

// ExternalLeadInput is a lead pushed by a firm's own system.
type ExternalLeadInput struct {
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	State    string `json:"state,omitempty"`
}

// LeadResult reports whether a lead was stored. Created is false when the
// email was already registered.
type LeadResult struct {
	Created bool
	LeadID  string
}

// CapturePublicLead stores a marketing-site lead that belongs to no firm.
func (s *Service) CapturePublicLead(ctx context.Context, ip string, in LeadInput) (LeadResult, error) {
	if err := in.Validate(); err != nil {
		return LeadResult{}, err
	}
	if s.leadExists(ctx, nil, in.Email) {
		return LeadResult{}, nil
	}
	lead := s.newLead(nil, in.Email, in.FirmName, in.State, SourcePublicSite, ip)
	if err := s.leads.Insert(ctx, lead); err != nil {
		return LeadResult{}, apperr.Persistence("Failed to save lead", err)
	}
	s.record(ctx, audit.Event{
		FirmID:     s.systemFirm,
		EventType:  audit.EventCreate,
		EntityType: "marketing_lead",
		EntityID:   audit.Ptr(lead.ID),
		IPAddress:  audit.Ptr(ip),
		Details: map[string]any{
			"source":    SourcePublicSite,
			"email":     lead.Email,
			"firm_name": lead.FirmName,
			"state":     lead.State,
		},
		LawfulBasis: audit.Ptr(audit.BasisLeadGeneration),
	})
	return LeadResult{Created: true, LeadID: lead.ID}, nil
}

// CaptureFirmLead stores a lead for the caller's firm and sends the welcome
// email. Mail failures are logged and never returned.
func (s *Service) CaptureFirmLead(ctx context.Context, actor Actor, in LeadInput, remaining int) (LeadResult, error) {
	if err := in.Validate(); err != nil {
		return LeadResult{}, err
	}
	firmID := actor.FirmID
	if s.leadExists(ctx, &firmID, in.Email) {
		return LeadResult{}, nil
	}
	lead := s.newLead(&firmID, in.Email, in.FirmName, in.State, SourceFirmIntegration, actor.IP)
	if err := s.leads.Insert(ctx, lead); err != nil {
		return LeadResult{}, apperr.Persistence("Failed to save lead", err)
	}

	s.sendWelcome(ctx, lead.Email, in.FirmName)

	s.record(ctx, audit.Event{
		FirmID:     firmID,
		EventType:  audit.EventCreate,
		EntityType: "marketing_lead",
		EntityID:   audit.Ptr(lead.ID),
		IPAddress:  audit.Ptr(actor.IP),
		Details: map[string]any{
			"email":                lead.Email,
			"firm_name":            lead.FirmName,
			"state":                lead.State,
			"via":                  "api-key",
			"rate_limit_remaining": remaining,
		},
		LawfulBasis: audit.Ptr(audit.BasisLeadGeneration),
	})
	return LeadResult{Created: true, LeadID: lead.ID}, nil
}

// CaptureExternalLead stores a lead pushed through the external API. The
// lead itself is global; the event ties it to the calling firm.
func (s *Service) CaptureExternalLead(ctx context.Context, actor Actor, in ExternalLeadInput) (LeadResult, error) {
	li := LeadInput{Email: in.Email, FirmName: in.FullName, State: in.State}
	if err := li.Validate(); err != nil {
		return LeadResult{}, err
	}
	lead := s.newLead(nil, li.Email, li.FirmName, li.State, SourceExternalAPI, actor.IP)
	if err := s.leads.Insert(ctx, lead); err != nil {
		return LeadResult{}, apperr.Persistence("Failed to save lead", err)
	}
	s.record(ctx, audit.Event{
		FirmID:     actor.FirmID,
		EventType:  audit.EventCreate,
		EntityType: "marketing_lead",
		EntityID:   audit.Ptr(lead.ID),
		IPAddress:  audit.Ptr(actor.IP),
		Details: map[string]any{
			"email":     lead.Email,
			"full_name": lead.FirmName,
			"state":     lead.State,
			"via":       "external-api",
		},
		LawfulBasis: audit.Ptr(audit.BasisLeadGeneration),
	})
	return LeadResult{Created: true, LeadID: lead.ID}, nil
}

func (s *Service) newLead(firmID *string, addr, firmName, state, source, ip string) Lead {
	return Lead{
		ID:        ids.Entity(),
		FirmID:    firmID,
		Email:     addr,
		FirmName:  optional(firmName),
		State:     optional(state),
		Source:    source,
		IPAddress: optional(ip),
		CreatedAt: s.now(),
	}
}

// leadExists treats a failed lookup as a miss so capture still proceeds.
func (s *Service) leadExists(ctx context.Context, firmID *string, addr string) bool {
	exists, err := s.leads.Exists(ctx, firmID, addr)
	if err != nil {
		obs.Logger().Warn("existing lead check failed",
			zap.String("request_id", audit.RequestIDFromContext(ctx)),
			zap.Error(err),
		)
		return false
	}
	return exists
}

func (s *Service) sendWelcome(ctx context.Context, to, firmName string) {
	if s.mailer == nil {
		return
	}
	if firmName == "" {
		firmName = "Law Firm"
	}
	msg := email.Welcome(s.mailFrom, to, firmName, s.appURL)
	requestID := audit.RequestIDFromContext(ctx)
	s.background(func(ctx context.Context) {
		if err := s.mailer.Send(ctx, msg); err != nil {
			obs.Logger().Warn("welcome email failed",
				zap.String("request_id", requestID),
				zap.Error(err),
			)
		}
	})
}

// Retention -----------------------------------------------------------------

// CleanupResult reports how many rows the retention job removed.
type CleanupResult struct {
	Success bool             `json:"success"`
	Deleted map[string]int64 `json:"deleted"`
}

// Cleanup purges marketing leads older than the retention period.
func (s *Service) Cleanup(ctx context.Context, ip, source string) (CleanupResult, error) {
	now := s.now()
	if source == "" {
		source = "cron"
	}
	s.record(ctx, audit.Event{
		FirmID:     s.systemFirm,
		EventType:  audit.EventCleanupRun,
		EntityType: "system",
		IPAddress:  audit.Ptr(ip),
		Details: map[string]any{
			"triggered_at": now.Format(time.RFC3339),
			"source":       source,
		},
		LawfulBasis: audit.Ptr(audit.BasisRetention),
	})

	n, err := s.leads.PurgeBefore(ctx, now.Add(-s.retention))
	if err != nil {
		return CleanupResult{}, apperr.Persistence("Cleanup failed", err)
	}
	obs.Logger().Info("retention cleanup complete", zap.Int64("marketing_leads", n))
	return CleanupResult{Success: true, Deleted: map[string]int64{"marketing_leads": n}}, nil
}
