package gdpr

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lexintake.org/internal/aml"
	"lexintake.org/internal/apperr"
	"lexintake.org/internal/audit"
	"lexintake.org/internal/intake"
	"lexintake.org/internal/obs"
)

// Document is the full export of a firm.
type Document struct {
	ExportedAt     time.Time       `json:"exported_at"`
	FirmID         string          `json:"firm_id"`
	Clients        []intake.Client `json:"clients"`
	Matters        []intake.Matter `json:"matters"`
	AMLChecks      []aml.Check     `json:"aml_checks"`
	AuditEvents    []audit.Event   `json:"audit_events"`
	MarketingLeads []intake.Lead   `json:"marketing_leads"`
}

// Counts returns the per-table totals recorded on the export event.
func (d Document) Counts() map[string]any {
	return map[string]any{
		"total_clients":         len(d.Clients),
		"total_matters":         len(d.Matters),
		"total_aml_checks":      len(d.AMLChecks),
		"total_audit_events":    len(d.AuditEvents),
		"total_marketing_leads": len(d.MarketingLeads),
	}
}

// Filename is the attachment name for the document.
func (d Document) Filename() string {
	return fmt.Sprintf("gdpr_export_%s_%d.json", d.FirmID, d.ExportedAt.UnixMilli())
}

// Export reads every firm-scoped table concurrently and records the export.
func (s *Service) Export(ctx context.Context, req Requester) (Document, error) {
	doc := Document{ExportedAt: s.now(), FirmID: req.FirmID}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		doc.Clients, err = s.store.ExportClients(gctx, req.FirmID)
		return wrapTable("clients", err)
	})
	g.Go(func() (err error) {
		doc.Matters, err = s.store.ExportMatters(gctx, req.FirmID)
		return wrapTable("matters", err)
	})
	g.Go(func() (err error) {
		doc.AMLChecks, err = s.store.ExportAMLChecks(gctx, req.FirmID)
		return wrapTable("aml_checks", err)
	})
	g.Go(func() (err error) {
		doc.AuditEvents, err = s.store.ExportAuditEvents(gctx, req.FirmID)
		return wrapTable("audit_events", err)
	})
	g.Go(func() (err error) {
		doc.MarketingLeads, err = s.store.ExportLeads(gctx, req.FirmID)
		return wrapTable("marketing_leads", err)
	})
	if err := g.Wait(); err != nil {
		obs.Logger().Error("gdpr export failed",
			zap.String("firm_id", req.FirmID),
			zap.String("request_id", audit.RequestIDFromContext(ctx)),
			zap.Error(err),
		)
		return Document{}, apperr.Persistence("Failed to fetch data for export", err)
	}
	nonNil(&doc)

	details := doc.Counts()
	basis := audit.BasisGDPRAccess
	details["via"] = "session"
	if req.UserID == "" {
		basis = audit.BasisGDPRExport
		details["via"] = "external-api-key"
	}
	s.record(ctx, audit.Event{
		FirmID:      req.FirmID,
		UserID:      audit.Ptr(req.UserID),
		EventType:   audit.EventExport,
		EntityType:  "firm",
		EntityID:    audit.Ptr(req.FirmID),
		IPAddress:   audit.Ptr(req.IP),
		Details:     details,
		LawfulBasis: audit.Ptr(basis),
	})
	return doc, nil
}

func wrapTable(table string, err error) error {
	if err != nil {
		return fmt.Errorf("export %s: %w", table, err)
	}
	return nil
}

func nonNil(d *Document) {
	if d.Clients == nil {
		d.Clients = []intake.Client{}
	}
	if d.Matters == nil {
		d.Matters = []intake.Matter{}
	}
	if d.AMLChecks == nil {
		d.AMLChecks = []aml.Check{}
	}
	if d.AuditEvents == nil {
		d.AuditEvents = []audit.Event{}
	}
	if d.MarketingLeads == nil {
		d.MarketingLeads = []intake.Lead{}
	}
}

func (s *Service) record(ctx context.Context, ev audit.Event) {
	if s.audit != nil {
		s.audit.Record(ctx, ev)
	}
}
