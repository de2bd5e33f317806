// Package httpapi exposes the HTTP surface on a chi router.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"lexintake.org/internal/aml"
	"lexintake.org/internal/auth"
	"lexintake.org/internal/gdpr"
	"lexintake.org/internal/intake"
	"lexintake.org/internal/obs"
	"lexintake.org/internal/ratelimit"
)

// ReadyProbe checks the dependencies the service cannot run without.
type ReadyProbe struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Authenticator resolves credentials and manages sessions and keys.
type Authenticator interface {
	ValidateAPIKey(ctx context.Context, raw, ip string) (auth.Caller, error)
	AuthenticateSession(ctx context.Context, token, firmID, userID string) (auth.SessionUser, error)
	SignIn(ctx context.Context, email, password, ip, userAgent string) (auth.SignInResult, error)
	SignOut(ctx context.Context, u auth.SessionUser, ip string) error
	RotateAPIKey(ctx context.Context, firmID string, scopes []string, ip string) (auth.IssuedKey, error)
	SessionTTL() time.Duration
}

// Intake covers clients, matters, leads and retention.
type Intake interface {
	UpsertExternalClient(ctx context.Context, actor intake.Actor, in intake.ExternalClientInput) (intake.UpsertResult, error)
	CreateClient(ctx context.Context, actor intake.Actor, in intake.ClientInput) (intake.Client, error)
	ListClients(ctx context.Context, actor intake.Actor, limit, offset int) ([]intake.Client, error)
	UpdateMatter(ctx context.Context, actor intake.Actor, in intake.MatterUpdateInput) (intake.Matter, error)
	ExportMatters(ctx context.Context, actor intake.Actor, limit, offset int) (intake.MatterExport, error)
	CapturePublicLead(ctx context.Context, ip string, in intake.LeadInput) (intake.LeadResult, error)
	CaptureFirmLead(ctx context.Context, actor intake.Actor, in intake.LeadInput, remaining int) (intake.LeadResult, error)
	CaptureExternalLead(ctx context.Context, actor intake.Actor, in intake.ExternalLeadInput) (intake.LeadResult, error)
	Cleanup(ctx context.Context, ip, source string) (intake.CleanupResult, error)
}

// Screening runs and manages AML checks.
type Screening interface {
	Create(ctx context.Context, actor aml.Actor, in aml.CreateInput) (aml.Result, error)
	Get(ctx context.Context, firmID, id string) (aml.Check, error)
	List(ctx context.Context, firmID string, f aml.ListFilter) ([]aml.Check, error)
	UpdateStatus(ctx context.Context, actor aml.Actor, id string, in aml.StatusInput) (aml.Check, error)
}

// Privacy exports and erases personal data.
type Privacy interface {
	Export(ctx context.Context, req gdpr.Requester) (gdpr.Document, error)
	ExportUser(ctx context.Context, req gdpr.Requester) (gdpr.UserDocument, error)
	DeleteUserData(ctx context.Context, firmID, userID, ip string) gdpr.DeleteResult
}

// Deps wires the API to its services.
type Deps struct {
	Auth    Authenticator
	Intake  Intake
	AML     Screening
	GDPR    Privacy
	Limiter *ratelimit.Limiter
	Ready   ReadyProbe
}

// Options tunes the HTTP layer.
type Options struct {
	Version        string
	// SecureCookies sets the Secure flag on session cookies.
	SecureCookies  bool
	CORSOrigins    []string
	Analytics      bool
	AdminKey       string
	CleanupKey     string
	IPRatePerSec   float64
	IPRateBurst    int
	// TrustedProxies are the peers allowed to set X-Forwarded-For.
	TrustedProxies []netip.Prefix
}

// API is the HTTP layer.
type API struct {
	deps   Deps
	opts   Options
	router chi.Router
}

func New(deps Deps, opts Options) *API {
	if opts.IPRatePerSec <= 0 {
		opts.IPRatePerSec = 20
	}
	if opts.IPRateBurst <= 0 {
		opts.IPRateBurst = 40
	}
	a := &API{deps: deps, opts: opts}
	a.router = a.routes()
	return a
}

// Handler returns the instrumented root handler.
func (a *API) Handler() http.Handler {
	return obs.Instrument(obs.TraceHandler(a.router, "http.server"))
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(ClientIP(a.opts.TrustedProxies))
	r.Use(RequestID)
	r.Use(LoggingJSON)
	r.Use(SecurityHeaders)
	r.Use(CORS(a.opts.CORSOrigins))
	r.Use(RateLimit(a.opts.IPRatePerSec, a.opts.IPRateBurst))
	r.Use(MaxBodyBytes(maxJSONBody))

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Use(NoStore)
		r.With(a.limit(ratelimit.ClassSignIn, byIP)).Post("/signin", a.handleSignIn)
		r.With(a.requireSession).Post("/signout", a.handleSignOut)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(NoStore)

		r.Group(func(r chi.Router) {
			r.Use(a.requireSession)
			r.Get("/clients", a.handleListClients)
			r.Post("/clients", a.handleCreateClient)
			r.With(a.limit(ratelimit.ClassSensitive, byUser)).Get("/gdpr/export", a.handleSessionExport)
			r.With(a.limit(ratelimit.ClassSensitive, byUser)).Get("/gdpr/export/me", a.handleExportMe)
			r.With(a.limit(ratelimit.ClassSensitive, byUser)).Post("/gdpr/delete-my-data", a.handleDeleteMyData)
		})

		r.Route("/external", func(r chi.Router) {
			r.With(a.requireAPIKey(auth.ScopeClientsWrite), a.limit(ratelimit.ClassAPI, byKey)).
				Post("/clients", a.handleExternalClient)
			r.With(a.requireAPIKey(auth.ScopeAMLWrite), a.limit(ratelimit.ClassAML, byKey)).
				Post("/aml/checks", a.handleCreateCheck)
			r.Group(func(r chi.Router) {
				r.Use(a.requireAPIKey(auth.ScopeAMLRead), a.limit(ratelimit.ClassAPI, byKey))
				r.Get("/aml/checks", a.handleGetChecks)
				r.Get("/aml/checks/{checkID}", a.handleGetChecks)
			})
			r.With(a.requireAPIKey(auth.ScopeAMLWrite), a.limit(ratelimit.ClassAPI, byKey)).
				Patch("/aml/checks/{checkID}", a.handleUpdateCheck)
			r.With(a.requireAPIKey(auth.ScopeMattersWrite), a.limit(ratelimit.ClassAPI, byKey)).
				Post("/matters", a.handleUpdateMatter)
			r.With(a.requireAPIKey(auth.ScopeMattersRead), a.limit(ratelimit.ClassAPI, byKey)).
				Get("/export/matters", a.handleExportMatters)
			r.With(a.requireAPIKey(auth.ScopeGDPRExport), a.limit(ratelimit.ClassSensitive, byKey)).
				Get("/gdpr/export", a.handleExternalExport)
			r.With(a.requireAPIKey(auth.ScopeLeadsCreate), a.limit(ratelimit.ClassLeads, byKey)).
				Post("/leads", a.handleExternalLead)
		})

		r.With(a.requireAPIKey(auth.ScopeLeadsCreate), a.limit(ratelimit.ClassLeads, byKey)).
			Post("/leads", a.handleFirmLead)
		r.With(a.limit(ratelimit.ClassPublicLeads, byIP)).Post("/public/leads", a.handlePublicLead)

		r.With(requireSecret(cleanupKeyHeader, a.opts.CleanupKey)).Post("/internal/cleanup", a.handleCleanup)
		r.With(requireSecret(adminKeyHeader, a.opts.AdminKey), a.limit(ratelimit.ClassSensitive, byIP)).
			Post("/firms/rotate-api-key", a.handleRotateKey)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "lexintake-api",
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.deps.Ready.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      "lexintake-api",
		"time":      time.Now().UTC().Format(time.RFC3339),
		"version":   a.opts.Version,
		"analytics": a.opts.Analytics,
	})
}

// listResponse is the {data, count} envelope.
type listResponse[T any] struct {
	Data  []T `json:"data"`
	Count int `json:"count"`
}

func list[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Data: items, Count: len(items)}
}

// writeAttachment sends v as a downloadable JSON file.
func writeAttachment(w http.ResponseWriter, filename string, v any) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "export encoding failed", http.StatusInternalServerError)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	h.Set("Cache-Control", "no-store")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
