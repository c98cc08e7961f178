package apperrors

import "errors"

// Standardized Exchange Errors
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrTimeout               = errors.New("request timed out")
	ErrNetwork               = errors.New("network error")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrExchangeMaintenance   = errors.New("exchange maintenance")
	ErrOrderNotFound         = errors.New("order not found")
	ErrDuplicateOrder        = errors.New("duplicate order")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrNotSupported          = errors.New("operation not supported")
)

// Event decoding errors
var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrUnknownAction  = errors.New("unknown action")
)

// Fixed descriptions for transient exchange failures. The trading core keys
// its retry behavior on these exact strings.
const (
	MsgTimeout       = "Timeout error"
	MsgRateLimited   = "Rate limit exceeded"
	MsgOrderNotFound = "Order not found"
)

// Describe renders err the way it is reported in outbound error events:
// transient classes collapse to their fixed strings, everything else is the
// error's own text.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return MsgTimeout
	case errors.Is(err, ErrRateLimitExceeded):
		return MsgRateLimited
	case errors.Is(err, ErrOrderNotFound):
		return MsgOrderNotFound
	}
	return err.Error()
}
