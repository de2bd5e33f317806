package audit

import "time"

// Event types.
const (
	EventLogin             = "login"
	EventLogout            = "logout"
	EventCreate            = "create"
	EventRead              = "read"
	EventUpdate            = "update"
	EventDelete            = "delete"
	EventExport            = "export"
	EventAPIKeyRotated     = "api_key_rotated"
	EventAPIKeyAuthFailed  = "api_key_auth_failed"
	EventAMLCheckCompleted = "aml_check_completed"
	EventGDPRDelete        = "gdpr_delete"
	EventCleanupRun        = "cleanup_run"
)

// Lawful basis strings attached to processing events.
const (
	BasisAML            = "Legal obligation (AML/KYC)"
	BasisMatters        = "Legal obligation (matter management)"
	BasisClientIntake   = "Legal obligation / contract (client intake)"
	BasisLeadGeneration = "Legitimate interest (lead generation)"
	BasisGDPRExport     = "GDPR Articles 15 & 20 - data export"
	BasisGDPRAccess     = "GDPR Article 15 (access request)"
	BasisGDPRErasure    = "GDPR Article 17 (right to erasure)"
	BasisBIFeed         = "GDPR export / BI feed"
	BasisKeyRotation    = "Security - key rotation"
	BasisSecurity       = "Legitimate interest (security monitoring)"
	BasisRetention      = "Storage limitation (retention policy)"
	BasisContract       = "Contract (service access)"
)

// Event is one immutable audit record.
type Event struct {
	ID          string         `json:"id"`
	FirmID      string         `json:"firm_id"`
	UserID      *string        `json:"user_id"`
	EventType   string         `json:"event_type"`
	EntityType  string         `json:"entity_type"`
	EntityID    *string        `json:"entity_id"`
	IPAddress   *string        `json:"ip_address"`
	Details     map[string]any `json:"details"`
	LawfulBasis *string        `json:"lawful_basis"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Ptr returns a pointer to s, or nil when s is empty. Handy for the
// optional Event fields.
func Ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
