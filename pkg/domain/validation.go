package domain

// RejectCode is a machine-readable reason attached to a rejected operation.
type RejectCode string

// Business-rule reject codes returned synchronously to callers. These are
// values, never errors: a rejection is a normal outcome of a guard.
const (
	// CodeDiscarded rejects any operation on a scrapped cylinder.
	CodeDiscarded RejectCode = "DISCARDED"
	// CodeExpiryLimit rejects operations on cylinders in the RED band.
	CodeExpiryLimit       RejectCode = "EXPIRY_LIMIT"
	CodeStatusMismatch    RejectCode = "STATUS_MISMATCH"
	CodeLocationMismatch  RejectCode = "LOCATION_MISMATCH"
	CodeAlreadyDelivered  RejectCode = "ALREADY_DELIVERED"
	CodeAlreadyCollected  RejectCode = "ALREADY_COLLECTED"
	CodeAlreadyCharging   RejectCode = "ALREADY_CHARGING"
	CodeLocationError     RejectCode = "LOCATION_ERROR"
	// CodeConfirmRequired is returned by the service layer when an
	// accept-with-warning was submitted without force acknowledgment.
	CodeConfirmRequired RejectCode = "CONFIRM_REQUIRED"
)

// ValidationResult is the outcome of a lifecycle guard. Accepted with a
// non-empty Warning means the caller must surface the warning but may
// proceed; a RejectCode is present only when Accepted is false.
type ValidationResult struct {
	Accepted bool       `json:"accepted"`
	Code     RejectCode `json:"code,omitempty"`
	Err      string     `json:"error,omitempty"`
	Warning  string     `json:"warning,omitempty"`
}

// Reject builds a failed result with a coded reason.
func Reject(code RejectCode, msg string) ValidationResult {
	return ValidationResult{Accepted: false, Code: code, Err: msg}
}

// Accept builds a successful result.
func Accept() ValidationResult {
	return ValidationResult{Accepted: true}
}

// AcceptWithWarning builds a successful result carrying an advisory message.
func AcceptWithWarning(warning string) ValidationResult {
	return ValidationResult{Accepted: true, Warning: warning}
}
