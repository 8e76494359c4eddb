package errors

import "errors"

// Errors surfaced by the grant, exchange and authorization engines. Each maps to an
// RFC 6749 error code via Code.
var (
	// Exchange rejections. Every unknown, expired, reused or mismatched credential
	// collapses into ErrInvalidGrant so callers cannot tell the cases apart.
	ErrInvalidGrant         = errors.New("invalid grant")
	ErrInvalidClient        = errors.New("invalid client")
	ErrUnsupportedGrantType = errors.New("unsupported grant type")

	// Authorization request errors
	ErrUnauthorizedClient = errors.New("unauthorized client")
	ErrInvalidScope       = errors.New("invalid scope")
	ErrAccessDenied       = errors.New("access denied")
	ErrInvalidRequest     = errors.New("invalid request")

	// ErrClientScopesNotConfigured is a server configuration problem, not a rejection of the caller.
	ErrClientScopesNotConfigured = errors.New("client has no configured scopes")

	// Session errors
	ErrTransactionNotFound = errors.New("authorization transaction not found")

	// General errors
	ErrNotFound = errors.New("not found")
)

// Code returns the RFC 6749 error code for err, or "server_error" when err is not one
// of the sentinels above.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidGrant):
		return "invalid_grant"
	case errors.Is(err, ErrInvalidClient):
		return "invalid_client"
	case errors.Is(err, ErrUnsupportedGrantType):
		return "unsupported_grant_type"
	case errors.Is(err, ErrUnauthorizedClient):
		return "unauthorized_client"
	case errors.Is(err, ErrInvalidScope):
		return "invalid_scope"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrTransactionNotFound):
		return "invalid_request"
	default:
		return "server_error"
	}
}
