package gateway

import "errors"

// Error marks failures of the gateway itself as opposed to declines, which
// are ordinary results.
type Error struct {
	code string
}

func (e *Error) Error() string { return e.code }

func (e *Error) GatewayFailure() bool { return true }

var (
	// ErrOutcomeUnknown means the charge request may have reached the
	// gateway. The caller must query before charging again.
	ErrOutcomeUnknown = &Error{code: "gateway_outcome_unknown"}
	// ErrGatewayUnavailable means the request was not processed and is safe to retry.
	ErrGatewayUnavailable  = &Error{code: "gateway_unavailable"}
	ErrTransactionNotFound = &Error{code: "gateway_transaction_not_found"}
	ErrUnexpectedResponse  = &Error{code: "gateway_unexpected_response"}

	ErrInvalidConfig    = errors.New("invalid_gateway_config")
	ErrInvalidRequest   = errors.New("invalid_gateway_request")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidCallback  = errors.New("invalid_callback")
)
