package licensing

import (
	"errors"
	"fmt"

	"github.com/addonhub/backend/internal/models"
)

// Validation and lookup failures
var (
	ErrInvalidKeyFormat   = errors.New("invalid license key format")
	ErrLicenseNotFound    = errors.New("license not found")
	ErrScopeMismatch      = errors.New("journal path does not match license scope")
	ErrActivationNotFound = errors.New("activation not found")
)

// State-conflict failures; terminal for the request that hit them
var (
	ErrLicenseNotActive = errors.New("license is not active")
	ErrLicenseExpired   = errors.New("license has expired")
	ErrSlotsExhausted   = errors.New("no activation slots remaining")
)

// ErrTransient signals a write conflict that survived the internal retry;
// the caller may try again later
var ErrTransient = errors.New("transient storage conflict")

// InvalidTransitionError reports a lifecycle action attempted from a state
// that does not permit it
type InvalidTransitionError struct {
	Status models.LicenseStatus
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s a %s license", e.Action, e.Status)
}

// ErrorKind maps a licensing error to the machine-readable kind exposed on
// the wire. Remote clients get the kind and nothing else.
func ErrorKind(err error) string {
	var it *InvalidTransitionError
	switch {
	case errors.Is(err, ErrInvalidKeyFormat):
		return "invalid_key_format"
	case errors.Is(err, ErrLicenseNotFound):
		return "license_not_found"
	case errors.Is(err, ErrScopeMismatch):
		return "scope_mismatch"
	case errors.Is(err, ErrActivationNotFound):
		return "activation_not_found"
	case errors.Is(err, ErrLicenseNotActive):
		return "license_not_active"
	case errors.Is(err, ErrLicenseExpired):
		return "license_expired"
	case errors.Is(err, ErrSlotsExhausted):
		return "slots_exhausted"
	case errors.As(err, &it):
		return "invalid_transition"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "internal"
	}
}
