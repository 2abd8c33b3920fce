package ivxp

import "fmt"

// ProtocolError is the single error shape used across the runtime. Callers
// discriminate on Code; Recoverable tells them whether a retry can succeed.
type ProtocolError struct {
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	Recoverable bool                   `json:"recoverable"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Cause       error                  `json:"-"`
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// Validation errors (non-recoverable).
const (
	ErrCodeInvalidProviderURL    = "INVALID_PROVIDER_URL"
	ErrCodeInvalidRequestParams  = "INVALID_REQUEST_PARAMS"
	ErrCodeInvalidProviderConfig = "INVALID_PROVIDER_CONFIG"
	ErrCodeInvalidPrivateKey     = "INVALID_PRIVATE_KEY"
	ErrCodeInvalidMessage        = "INVALID_MESSAGE"
	ErrCodeInvalidSignature      = "INVALID_SIGNATURE"
	ErrCodeInvalidAddress        = "INVALID_ADDRESS"
	ErrCodeInvalidSignedMessage  = "INVALID_SIGNED_MESSAGE"
	ErrCodeInvalidDeliveryURL    = "INVALID_DELIVERY_URL"
	ErrCodeRequestTooLarge       = "REQUEST_TOO_LARGE"
)

// Protocol semantics.
const (
	ErrCodeServiceNotFound       = "SERVICE_NOT_FOUND"
	ErrCodeOrderNotFound         = "ORDER_NOT_FOUND"
	ErrCodeInvalidOrderStatus    = "INVALID_ORDER_STATUS"
	ErrCodeNetworkMismatch       = "NETWORK_MISMATCH"
	ErrCodeOrderIDMismatch       = "ORDER_ID_MISMATCH"
	ErrCodeOrderAlreadyConfirmed = "ORDER_ALREADY_CONFIRMED"
	ErrCodeDeliverableNotReady   = "DELIVERABLE_NOT_READY"
	ErrCodeDeliverableExists     = "DELIVERABLE_ALREADY_EXISTS"
)

// Verification failures.
const (
	ErrCodePaymentVerificationFailed   = "PAYMENT_VERIFICATION_FAILED"
	ErrCodeSignatureVerificationFailed = "SIGNATURE_VERIFICATION_FAILED"
	ErrCodeHashMismatch                = "HASH_MISMATCH"
)

// Transport failures (recoverable).
const (
	ErrCodeNetworkError        = "NETWORK_ERROR"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeRequestFailed       = "REQUEST_FAILED"
	ErrCodeInvalidResponse     = "INVALID_RESPONSE"
	ErrCodeMaxPollAttempts     = "MAX_POLL_ATTEMPTS"
	ErrCodeSSEExhausted        = "SSE_EXHAUSTED"
	ErrCodeCancelled           = "CANCELLED"
)

// Composite outcomes.
const (
	ErrCodeBudgetExceeded = "BUDGET_EXCEEDED"
	ErrCodePartialSuccess = "PARTIAL_SUCCESS"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeDeliveryFailed = "DELIVERY_FAILED"
)

// NewError creates a non-recoverable coded error.
func NewError(code, message string) *ProtocolError {
	return &ProtocolError{Code: code, Message: message}
}

// NewRecoverableError creates a coded error the caller may retry.
func NewRecoverableError(code, message string) *ProtocolError {
	return &ProtocolError{Code: code, Message: message, Recoverable: true}
}

// WrapError chains cause under a coded error, preserving it for errors.Is/As.
func WrapError(code, message string, cause error) *ProtocolError {
	return &ProtocolError{Code: code, Message: message, Cause: cause}
}

// WithDetail attaches a detail field and returns the error for chaining.
func (e *ProtocolError) WithDetail(key string, value interface{}) *ProtocolError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrorCode extracts the code from err, or "" when err is not a ProtocolError.
func ErrorCode(err error) string {
	if pe, ok := err.(*ProtocolError); ok {
		return pe.Code
	}
	return ""
}

// IsRecoverable reports whether err is a coded error marked recoverable.
func IsRecoverable(err error) bool {
	if pe, ok := err.(*ProtocolError); ok {
		return pe.Recoverable
	}
	return false
}
