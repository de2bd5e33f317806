package gdpr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lexintake.org/internal/apperr"
	"lexintake.org/internal/audit"
	"lexintake.org/internal/obs"
	"lexintake.org/internal/store"
)

// ScopeUserOnly marks an export limited to the requesting user's own rows.
const ScopeUserOnly = "user_only"

// Profile is the exported view of a user. The password hash never leaves
// the store.
type Profile struct {
	ID        string    `json:"id"`
	FirmID    string    `json:"firm_id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// UserMetadata heads a user export.
type UserMetadata struct {
	GeneratedAt       time.Time `json:"generated_at"`
	RequestedByUserID string    `json:"requested_by_user_id"`
	FirmID            string    `json:"firm_id"`
	Scope             string    `json:"scope"`
	Version           int       `json:"version"`
}

// UserDocument is a data-subject export of one signed-in user.
type UserDocument struct {
	Metadata    UserMetadata  `json:"metadata"`
	UserProfile Profile       `json:"user_profile"`
	AuditEvents []audit.Event `json:"audit_events"`
}

func (d UserDocument) Filename() string {
	return fmt.Sprintf("gdpr_export_user_%s_%d.json", d.Metadata.RequestedByUserID, d.Metadata.GeneratedAt.UnixMilli())
}

// ExportUser returns the requester's profile and the audit events they
// caused, both bound to their firm.
func (s *Service) ExportUser(ctx context.Context, req Requester) (UserDocument, error) {
	if req.UserID == "" {
		return UserDocument{}, apperr.New(apperr.MissingCredential, "Unauthorized")
	}
	doc := UserDocument{
		Metadata: UserMetadata{
			GeneratedAt:       s.now(),
			RequestedByUserID: req.UserID,
			FirmID:            req.FirmID,
			Scope:             ScopeUserOnly,
			Version:           1,
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		doc.UserProfile, err = s.store.ExportProfile(gctx, req.FirmID, req.UserID)
		return err
	})
	g.Go(func() (err error) {
		doc.AuditEvents, err = s.store.ExportUserAuditEvents(gctx, req.FirmID, req.UserID)
		return wrapTable("audit_events", err)
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return UserDocument{}, apperr.New(apperr.NotFound, "Profile not found")
		}
		obs.Logger().Error("gdpr user export failed",
			zap.String("firm_id", req.FirmID),
			zap.String("user_id", req.UserID),
			zap.String("request_id", audit.RequestIDFromContext(ctx)),
			zap.Error(err),
		)
		return UserDocument{}, apperr.Persistence("Failed to export user data", err)
	}
	if doc.AuditEvents == nil {
		doc.AuditEvents = []audit.Event{}
	}

	s.record(ctx, audit.Event{
		FirmID:     req.FirmID,
		UserID:     audit.Ptr(req.UserID),
		EventType:  audit.EventExport,
		EntityType: "profile",
		EntityID:   audit.Ptr(req.UserID),
		IPAddress:  audit.Ptr(req.IP),
		Details: map[string]any{
			"scope":              ScopeUserOnly,
			"total_audit_events": len(doc.AuditEvents),
		},
		LawfulBasis: audit.Ptr(audit.BasisGDPRAccess),
	})
	return doc, nil
}
