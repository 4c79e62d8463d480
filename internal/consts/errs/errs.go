package errs

import "net/http"

type ErrType string

// The gateway error taxonomy. Authentication and authorization
// failures are terminal for the caller; rate-limit and downstream
// failures are safe to retry with backoff.
const (
	// ErrBadForm marks a malformed or incomplete request body.
	ErrBadForm ErrType = "BAD_FORM"
	// ErrUnauthorized marks a missing, invalid or expired credential.
	// Always fail-closed.
	ErrUnauthorized ErrType = "UNAUTHORIZED"
	// ErrForbidden marks a valid identity whose policy decision is
	// deny. A legitimate outcome, not a bug; always carries a reason.
	ErrForbidden ErrType = "FORBIDDEN"
	// ErrRateLimited marks rate-limit exhaustion. Transient.
	ErrRateLimited ErrType = "RATE_LIMITED"
	// ErrProvisioning marks a failed atomic session creation. The
	// partial state has already been rolled back.
	ErrProvisioning ErrType = "PROVISIONING"
	// ErrDownstream marks a failure inside the underlying
	// version-control engine, distinct from any policy denial.
	ErrDownstream ErrType = "DOWNSTREAM"
	// ErrInternal is everything else.
	ErrInternal ErrType = "INTERNAL"
)

// Errorf is the error value carried from the service layer to the
// handlers. ReturnRaw controls whether Message is surfaced to the
// caller or only logged.
type Errorf struct {
	Type      ErrType `json:"type"`
	Message   string  `json:"message,omitempty"`
	ReturnRaw bool    `json:"-"`
	Error     error   `json:"-"`
}

// Status maps the error type to its HTTP status code.
func (e *Errorf) Status() int {
	switch e.Type {
	case ErrBadForm:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrDownstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Raw builds an Errorf whose message is safe to return to the caller.
func Raw(t ErrType, msg string) *Errorf {
	return &Errorf{Type: t, Message: msg, ReturnRaw: true}
}

// Wrap builds an internal Errorf around err; the handler logs it and
// returns only the type.
func Wrap(t ErrType, err error) *Errorf {
	return &Errorf{Type: t, Error: err}
}
