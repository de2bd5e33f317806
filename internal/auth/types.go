package auth

import "time"

// Role of a profile inside its firm.
type Role string

const (
	RoleFirmOwner       Role = "firm_owner"
	RoleLawyer          Role = "lawyer"
	RoleStaff           Role = "staff"
	RoleSupportReadonly Role = "support_readonly"
)

// Firm is a tenant.
type Firm struct {
	ID           string
	Name         string
	State        string
	EmailContact *string
	CreatedAt    time.Time
}

// Profile is a human user belonging to exactly one firm.
type Profile struct {
	ID           string
	FirmID       string
	Email        string
	PasswordHash string
	FullName     string
	Role         Role
	CreatedAt    time.Time
}

// APIKey is a persisted key record. The plaintext is never stored.
type APIKey struct {
	ID         string
	FirmID     string
	Prefix     string
	Hash       string
	Scopes     []string
	ExpiresAt  *time.Time
	IsActive   bool
	LastUsedAt *time.Time
	RevokedAt  *time.Time
	CreatedAt  time.Time
}

// Session is a server-side sign-in record.
type Session struct {
	ID           string
	UserID       string
	FirmID       string
	TokenHash    string
	IPAddress    *string
	UserAgent    *string
	ExpiresAt    time.Time
	LastActivity time.Time
	IsValid      bool
	CreatedAt    time.Time
}

// Caller is the identity resolved from an API key.
type Caller struct {
	FirmID string
	KeyID  string
	Scopes []string
}

// SessionUser is the identity resolved from session cookies.
type SessionUser struct {
	SessionID string
	UserID    string
	FirmID    string
}

// IssuedKey is returned once, at rotation.
type IssuedKey struct {
	Key       string    `json:"api_key"`
	KeyID     string    `json:"key_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Scopes    []string  `json:"scopes"`
}
