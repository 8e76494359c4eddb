package oauthmodel

import (
	"errors"
	"strings"
)

var (
	ErrMissingClientID         = errors.New("client_id is required")
	ErrMissingRedirectURI      = errors.New("redirect_uri is required")
	ErrUnsupportedResponseType = errors.New("unsupported response type")
)

// AuthorizationParameters holds parameters for the OAuth2 authorization request.
// These are typically received as query parameters at the /oauth/authorize endpoint.
type AuthorizationParameters struct {
	// ClientID identifies the application requesting authorization.
	// Required: Yes
	// Validated against: clients.Client.ID
	ClientID string

	// ResponseType specifies what the authorization endpoint should return.
	// Required: Yes
	// Values: "code", "token" (implicit)
	ResponseType ResponseType

	// RedirectURI is where the authorization response will be sent.
	// Required: Yes
	// Security: Must exactly match a pre-registered URI to prevent open redirects
	RedirectURI string

	// Scope specifies the permissions being requested.
	// Required: No (defaults to every scope the client is registered for)
	// Validated against: clients.Client.Scopes
	Scope string

	// State is an opaque value used by the client to maintain state between request and callback.
	// Required: Recommended (CSRF protection)
	// The server echoes it back in the redirect.
	State string
}

// Validate checks the parameters that can be checked without consulting the client registry.
func (p *AuthorizationParameters) Validate() error {
	if strings.TrimSpace(p.ClientID) == "" {
		return ErrMissingClientID
	}
	if strings.TrimSpace(p.RedirectURI) == "" {
		return ErrMissingRedirectURI
	}
	if !responseTypeValid(p.ResponseType) {
		return ErrUnsupportedResponseType
	}
	return nil
}

func responseTypeValid(responseType ResponseType) bool {
	switch responseType {
	case CodeResponseType, TokenResponseType:
		return true
	}
	return false
}
