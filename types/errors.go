package types

import "errors"

// SendtagError is the typed error surfaced to callers and the session.
type SendtagError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *SendtagError) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrInvalidTag              = "INVALID_TAG"
	ErrDuplicateTag            = "DUPLICATE_TAG"
	ErrInsufficientEligibility = "INSUFFICIENT_ELIGIBILITY"
	ErrWallet                  = "WALLET_ERROR"
	ErrNotYetIndexed           = "NOT_YET_INDEXED"
	ErrBackend                 = "BACKEND_ERROR"
	ErrInvariantViolation      = "INVARIANT_VIOLATION"
	ErrAddressMismatch         = "ADDRESS_MISMATCH"
	ErrConfigError             = "CONFIG_ERROR"
	ErrNetworkError            = "NETWORK_ERROR"
	ErrNothingToConfirm        = "NOTHING_TO_CONFIRM"
	ErrInvalidState            = "INVALID_STATE"
)

// NewError builds a SendtagError.
func NewError(code, message string) *SendtagError {
	return &SendtagError{Code: code, Message: message}
}

// ErrorCode returns the code of a SendtagError anywhere in err's chain, or "".
func ErrorCode(err error) string {
	var se *SendtagError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// ErrorInfo is the user-visible description of the last failure in a session.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// NewErrorInfo converts err into an ErrorInfo, defaulting the code to fallback.
func NewErrorInfo(err error, fallback string, retryable bool) *ErrorInfo {
	if err == nil {
		return nil
	}
	code := ErrorCode(err)
	if code == "" {
		code = fallback
	}
	return &ErrorInfo{Code: code, Message: err.Error(), Retryable: retryable}
}
