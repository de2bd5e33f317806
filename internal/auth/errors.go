package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPassword is returned when a bcrypt comparison fails.
	ErrInvalidPassword = errors.New("auth: invalid password")
	// ErrInvalidSession covers every session cookie that does not verify.
	ErrInvalidSession = errors.New("auth: invalid session")
)

// FailureReason classifies an API key rejection.
type FailureReason string

const (
	ReasonMissingKey   FailureReason = "MISSING_KEY"
	ReasonMalformedKey FailureReason = "MALFORMED_KEY"
	ReasonUnknownKey   FailureReason = "UNKNOWN_KEY"
	ReasonRevokedKey   FailureReason = "REVOKED_KEY"
	ReasonExpiredKey   FailureReason = "EXPIRED_KEY"
	ReasonEmptyScopes  FailureReason = "EMPTY_SCOPES"
)

// KeyError is the internal cause attached to API key failures.
type KeyError struct {
	Reason FailureReason
	Prefix string
	FirmID string
}

func (e *KeyError) Error() string {
	if e.Prefix == "" {
		return fmt.Sprintf("api key rejected: %s", e.Reason)
	}
	return fmt.Sprintf("api key %s rejected: %s", e.Prefix, e.Reason)
}

// ReasonOf extracts the failure reason from err, or "".
func ReasonOf(err error) FailureReason {
	var ke *KeyError
	if errors.As(err, &ke) {
		return ke.Reason
	}
	return ""
}
