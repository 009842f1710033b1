package errors

import (
	"errors"
	"fmt"
)

// License-specific sentinel errors. Callers branch with errors.Is; the
// string form is never parsed.
var (
	// Format errors: rejected before any I/O.
	ErrInvalidKeyFormat = errors.New("invalid license key format")
	ErrInvalidEmail     = errors.New("invalid email address")

	// Network errors: trigger cache fallback, never fatal to the caller.
	ErrRegistryUnreachable = errors.New("registry unreachable")
	ErrInsecureTransport   = errors.New("registry URL must use https")

	// Integrity errors: data is discarded entirely, fail-closed.
	ErrRegistryTampered = errors.New("registry failed verification")
	ErrRecordTampered   = errors.New("license record failed verification")
	ErrUnsignedRecord   = errors.New("license record is unsigned")

	// Lookup errors: ErrRegistryEmpty signals a connectivity/population
	// problem, ErrKeyNotFound an invalid key. They are distinct on purpose.
	ErrRegistryEmpty = errors.New("registry has no entries")
	ErrKeyNotFound   = errors.New("license key not found in registry")
	ErrEntryInvalid  = errors.New("registry entry invalid or email mismatch")

	// Resolution errors.
	ErrLicenseExpired      = errors.New("license expired")
	ErrLicenseNotActivated = errors.New("license not activated")
	ErrRateLimited         = errors.New("too many activation attempts")
)

// Error codes for license operations, stable across releases.
const (
	CodeInvalidFormat      = "INVALID_LICENSE_FORMAT"
	CodeInvalidEmail       = "INVALID_EMAIL"
	CodeNetworkError       = "NETWORK_ERROR"
	CodeInsecureTransport  = "INSECURE_TRANSPORT"
	CodeIntegrityError     = "INTEGRITY_ERROR"
	CodeRegistryEmpty      = "REGISTRY_EMPTY"
	CodeKeyNotFound        = "LICENSE_NOT_FOUND"
	CodeEntryInvalid       = "ENTRY_INVALID"
	CodeExpired            = "LICENSE_EXPIRED"
	CodeNotActivated       = "NOT_ACTIVATED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL_ERROR"
)

// LicenseError carries a stable code and a user-facing message alongside the
// underlying sentinel. It is the single structured error shape surfaced by
// user-initiated operations (activation, save); passive resolution paths
// never return it.
type LicenseError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *LicenseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the underlying sentinel for errors.Is/As.
func (e *LicenseError) Unwrap() error {
	return e.Err
}

// NewLicenseError creates a LicenseError wrapping a sentinel.
func NewLicenseError(code, message string, err error) *LicenseError {
	return &LicenseError{Code: code, Message: message, Err: err}
}

// CodeFor maps a sentinel error to its stable code.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, ErrInvalidKeyFormat):
		return CodeInvalidFormat
	case errors.Is(err, ErrInvalidEmail):
		return CodeInvalidEmail
	case errors.Is(err, ErrInsecureTransport):
		return CodeInsecureTransport
	case errors.Is(err, ErrRegistryUnreachable):
		return CodeNetworkError
	case errors.Is(err, ErrRegistryTampered),
		errors.Is(err, ErrRecordTampered),
		errors.Is(err, ErrUnsignedRecord):
		return CodeIntegrityError
	case errors.Is(err, ErrRegistryEmpty):
		return CodeRegistryEmpty
	case errors.Is(err, ErrKeyNotFound):
		return CodeKeyNotFound
	case errors.Is(err, ErrEntryInvalid):
		return CodeEntryInvalid
	case errors.Is(err, ErrLicenseExpired):
		return CodeExpired
	case errors.Is(err, ErrLicenseNotActivated):
		return CodeNotActivated
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	default:
		return CodeInternal
	}
}

// UserMessage maps a sentinel error to an actionable user-facing message.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidKeyFormat):
		return "License key must be in format QAA-XXXX-XXXX-XXXX-XXXX"
	case errors.Is(err, ErrInvalidEmail):
		return "The provided email address is not valid"
	case errors.Is(err, ErrInsecureTransport):
		return "The registry URL must use https"
	case errors.Is(err, ErrRegistryUnreachable):
		return "Unable to reach the license registry. Please check your internet connection"
	case errors.Is(err, ErrRegistryTampered), errors.Is(err, ErrRecordTampered):
		return "License data failed verification and was discarded"
	case errors.Is(err, ErrRegistryEmpty):
		return "The license registry is empty - check connectivity and try again"
	case errors.Is(err, ErrKeyNotFound):
		return "This license key was not found. Please check for typos"
	case errors.Is(err, ErrEntryInvalid):
		return "The registry entry for this key is invalid or the email does not match"
	case errors.Is(err, ErrLicenseExpired):
		return "Your license has expired. Please renew to continue"
	case errors.Is(err, ErrLicenseNotActivated):
		return "No license has been activated on this machine"
	case errors.Is(err, ErrRateLimited):
		return "Too many activation attempts. Please try again later"
	default:
		return "An unexpected error occurred. Please try again"
	}
}
