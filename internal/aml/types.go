package aml

import "time"

// Status is the screening outcome stored on a check.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPassed    Status = "PASSED"
	StatusFlagged   Status = "FLAGGED"
	StatusEscalated Status = "ESCALATED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPassed, StatusFlagged, StatusEscalated:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusPassed || s == StatusFlagged || s == StatusEscalated
}

// CheckType is the kind of screening requested.
type CheckType string

const (
	CheckIdentity     CheckType = "IDENTITY"
	CheckSanctions    CheckType = "SANCTIONS"
	CheckPEP          CheckType = "PEP"
	CheckAdverseMedia CheckType = "ADVERSE_MEDIA"
	CheckFull         CheckType = "FULL"
)

func (t CheckType) Valid() bool {
	switch t {
	case CheckIdentity, CheckSanctions, CheckPEP, CheckAdverseMedia, CheckFull:
		return true
	}
	return false
}

// RiskLevel is the provider's risk grading.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Check is a persisted screening result for a client.
type Check struct {
	ID                      string     `json:"id"`
	FirmID                  string     `json:"firm_id"`
	ClientID                string     `json:"client_id"`
	CheckType               CheckType  `json:"check_type"`
	Status                  Status     `json:"check_status"`
	RiskLevel               *RiskLevel `json:"risk_level"`
	HasPEPFlag              bool       `json:"has_pep_flag"`
	HasSanctionsFlag        bool       `json:"has_sanctions_flag"`
	HasHighRiskJurisdiction bool       `json:"has_high_risk_jurisdiction"`
	ProviderRef             *string    `json:"provider_ref"`
	Findings                []string   `json:"findings"`
	Notes                   *string    `json:"notes"`
	CheckedAt               *time.Time `json:"checked_at"`
	CreatedByUserID         *string    `json:"created_by_user_id"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// ScreeningRequest is sent to the provider.
type ScreeningRequest struct {
	ClientID    string     `json:"client_id"`
	CheckType   CheckType  `json:"check_type"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Address     string     `json:"address,omitempty"`
}

// Provider outcome values as reported on the wire.
const (
	outcomePassed       = "passed"
	outcomeFailed       = "failed"
	outcomeManualReview = "manual_review"
	outcomePending      = "pending"
)

// ScreeningResult is the provider's answer.
type ScreeningResult struct {
	ProviderRef          string    `json:"id"`
	Outcome              string    `json:"status"`
	RiskLevel            RiskLevel `json:"risk_level"`
	Findings             []string  `json:"findings"`
	PEP                  bool      `json:"pep"`
	Sanctions            bool      `json:"sanctions"`
	HighRiskJurisdiction bool      `json:"high_risk_jurisdiction"`
}

// StatusFor maps a provider outcome onto the stored status.
func StatusFor(outcome string) Status {
	switch outcome {
	case outcomePassed:
		return StatusPassed
	case outcomeFailed:
		return StatusFlagged
	case outcomeManualReview:
		return StatusEscalated
	default:
		return StatusPending
	}
}
