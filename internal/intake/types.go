package intake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client is a firm's end customer.
type Client struct {
	ID              string    `json:"id"`
	FirmID          string    `json:"firm_id"`
	ExternalID      *string   `json:"external_id"`
	FullName        string    `json:"full_name"`
	Email           *string   `json:"email"`
	Phone           *string   `json:"phone"`
	AddressLine1    *string   `json:"address_line_1"`
	City            *string   `json:"city"`
	State           *string   `json:"state"`
	ZipCode         *string   `json:"zip_code"`
	KYCStatus       *string   `json:"kyc_status"`
	IsPEP           bool      `json:"is_pep"`
	RiskAssessment  *string   `json:"risk_assessment"`
	CreatedByUserID *string   `json:"created_by_user_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// MatterStatus is the lifecycle state of a matter.
type MatterStatus string

const (
	MatterOpen       MatterStatus = "OPEN"
	MatterInProgress MatterStatus = "IN_PROGRESS"
	MatterPending    MatterStatus = "PENDING"
	MatterClosed     MatterStatus = "CLOSED"
	MatterOnHold     MatterStatus = "ON_HOLD"
	MatterCancelled  MatterStatus = "CANCELLED"
)

func (s MatterStatus) Valid() bool {
	switch s {
	case MatterOpen, MatterInProgress, MatterPending, MatterClosed, MatterOnHold, MatterCancelled:
		return true
	}
	return false
}

// Matter is a legal engagement tied to a client.
type Matter struct {
	ID                  string              `json:"id"`
	FirmID              string              `json:"firm_id"`
	ClientID            string              `json:"client_id"`
	ExternalRef         *string             `json:"external_ref"`
	MatterType          string              `json:"matter_type"`
	Status              MatterStatus        `json:"status"`
	CounterpartyName    *string             `json:"counterparty_name"`
	PropertyAddress     *string             `json:"property_address"`
	DealSizeUSD         decimal.NullDecimal `json:"deal_size_usd"`
	OpenedAt            *time.Time          `json:"opened_at"`
	ClosedAt            *time.Time          `json:"closed_at"`
	ExpectedClosingDate *time.Time          `json:"expected_closing_date"`
	DeletionDueDate     *time.Time          `json:"deletion_due_date"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// MatterPatch lists the externally updatable matter fields. A field left
// unset is not touched; a set date with a nil value clears the column.
type MatterPatch struct {
	Status              *MatterStatus
	ExpectedClosingDate OptionalDate
	DeletionDueDate     OptionalDate
}

func (p MatterPatch) Empty() bool {
	return p.Status == nil && !p.ExpectedClosingDate.Set && !p.DeletionDueDate.Set
}

// Lead sources.
const (
	SourcePublicSite      = "public_site"
	SourceFirmIntegration = "firm_integration"
	SourceExternalAPI     = "external_api"
)

// Lead is a prospective customer contact. FirmID is nil for leads that do
// not belong to a firm.
type Lead struct {
	ID        string    `json:"id"`
	FirmID    *string   `json:"firm_id"`
	Email     string    `json:"email"`
	FirmName  *string   `json:"firm_name"`
	State     *string   `json:"state"`
	Source    string    `json:"source"`
	IPAddress *string   `json:"ip_address"`
	CreatedAt time.Time `json:"created_at"`
}

// OptionalDate distinguishes an absent JSON field from an explicit null.
type OptionalDate struct {
	Set   bool
	Value *time.Time
}

func (d *OptionalDate) UnmarshalJSON(b []byte) error {
	d.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		d.Value = nil
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("date must be a string or null")
	}
	t, err := ParseDate(raw)
	if err != nil {
		return err
	}
	d.Value = &t
	return nil
}

// ParseDate accepts YYYY-MM-DD or RFC3339.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}
	return t.UTC(), nil
}
