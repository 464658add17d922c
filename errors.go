package passport

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by stores and the federation engine.
var (
	ErrPassportNotFound = errors.New("passport not found")
	ErrIdentityNotFound = errors.New("identity not found")
	ErrIdentityConflict = errors.New("identity already linked to another passport")
	ErrLastAuthMethod   = errors.New("cannot unlink the only sign-in method")
	ErrUsernameTaken    = errors.New("username already taken")
	ErrSessionNotFound  = errors.New("linking session not found")
	ErrSessionLost      = errors.New("linking session lost")
)

// Error codes carried in the error=<code> query param when a callback
// failure is redirected back to the browser. Provider-supplied codes
// (access_denied etc) pass through verbatim and are not listed here.
const (
	CodeConfig        = "config"
	CodeInvalidState  = "invalid_state"
	CodeTokenExchange = "token_exchange"
	CodeUserFetch     = "user_fetch"
	CodeNoEmail       = "no_email"
	CodeSessionLost   = "session_lost"
	CodeLinkFailed    = "link_failed"
	CodeFederation    = "federation_failed"
)

// FlowError is an auth flow failure with a stable machine code and a
// message safe to show the user. Adapters turn every callback failure into
// one of these before redirecting; raw server errors never reach the
// browser.
type FlowError struct {
	Code    string
	Message string
	Err     error
}

func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error { return e.Err }

func NewFlowError(code, message string, err error) *FlowError {
	return &FlowError{Code: code, Message: message, Err: err}
}

// FlowErrorFrom maps an error onto the redirect taxonomy. Errors that
// already carry a code pass through, engine sentinels get their codes, and
// anything unrecognized lands on federation_failed.
func FlowErrorFrom(err error) *FlowError {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe
	}
	switch {
	case errors.Is(err, ErrSessionLost), errors.Is(err, ErrSessionNotFound):
		return NewFlowError(CodeSessionLost, "Your linking session expired. Please try again.", err)
	case errors.Is(err, ErrIdentityConflict):
		return NewFlowError(CodeLinkFailed, "That account is already linked to a different user.", err)
	case errors.Is(err, ErrLastAuthMethod):
		return NewFlowError(CodeLinkFailed, "You cannot unlink your only sign-in method.", err)
	default:
		return NewFlowError(CodeFederation, "Sign in failed. Please try again.", err)
	}
}
