package oauthmodel

// TokenRequest holds parameters for the OAuth2 token request.
// This represents the request body sent to the /token endpoint.
type TokenRequest struct {
	// GrantType selects the exchange handler.
	// Required: Yes
	// Example: "authorization_code"
	GrantType GrantType

	// ClientID identifies the OAuth2 client making the request.
	// Required: Yes (for all grant types)
	// Example: "web-app-client"
	ClientID string

	// ClientSecret is the secret credential for confidential clients.
	// Security: Never log or expose this value
	ClientSecret string

	// Code is the authorization code received from the authorization endpoint.
	// Required: Yes (only for authorization_code grant)
	// Usage: Exchanged once for tokens, then becomes invalid
	Code string

	// RedirectURI must equal the redirect_uri the code was issued for.
	// Required: Yes (only for authorization_code grant)
	RedirectURI string

	// Username is the resource owner's email address.
	// Required: Yes (only for password grant)
	Username string

	// Password is the resource owner's plain text password.
	// Required: Yes (only for password grant)
	// Security: Never log or expose this value
	Password string

	// Scope is the space separated scope requested by the password grant.
	// Required: No (defaults to the client's registered scopes)
	Scope string

	// RefreshToken is used to obtain new access tokens without re-authentication.
	// Required: Yes (only for refresh_token grant)
	// Behavior: Rotated - old refresh token invalidated, new one issued
	RefreshToken string
}
