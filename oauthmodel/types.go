package oauthmodel

// ResponseType represents the OAuth 2.0 response type.
// Determines what is returned from the authorization endpoint.
type ResponseType string

const (
	// CodeResponseType indicates the authorization code flow.
	// Returns an authorization code that must be exchanged for tokens at the token endpoint.
	// Example: /oauth/authorize?response_type=code&client_id=...
	CodeResponseType ResponseType = "code"

	// TokenResponseType indicates the implicit flow.
	// The access token is returned directly in the redirect fragment and no refresh token is issued.
	TokenResponseType ResponseType = "token"
)

// ResponseModeType denotes how the authorization response parameters are returned to the client.
type ResponseModeType string

const (
	// QueryResponseMode returns parameters in the URL query string.
	// Example: https://client.example.com/callback?code=ABC123&state=xyz
	QueryResponseMode ResponseModeType = "query"

	// FragmentResponseMode returns parameters in the URL fragment (after #).
	// Used in: Implicit Flow
	// Example: https://client.example.com/callback#access_token=ABC123&state=xyz
	FragmentResponseMode ResponseModeType = "fragment"
)

// ResponseMode returns the default response mode for the response type.
func (rt ResponseType) ResponseMode() ResponseModeType {
	if rt == TokenResponseType {
		return FragmentResponseMode
	}
	return QueryResponseMode
}

// GrantType represents the OAuth 2.0 grant type used at the token endpoint.
// Determines what credentials are required to obtain tokens.
type GrantType string

const (
	// AuthorizationCodeGrant exchanges an authorization code for tokens.
	// Token request includes: code, client_id, client_secret, redirect_uri
	// Returns: access_token, refresh_token
	AuthorizationCodeGrant GrantType = "authorization_code"

	// PasswordGrant exchanges the resource owner's email and password for tokens.
	// Token request includes: username, password, client_id, client_secret, scope
	PasswordGrant GrantType = "password"

	// ClientCredentialsGrant allows machine-to-machine authentication.
	// Token request includes: client_id, client_secret
	// Returns: access_token (never a refresh_token)
	ClientCredentialsGrant GrantType = "client_credentials"

	// RefreshTokenGrant exchanges a refresh token for new tokens.
	// Token request includes: refresh_token, client_id, client_secret
	// Returns: new access_token and rotated refresh_token
	RefreshTokenGrant GrantType = "refresh_token"
)

const TokenTypeBearer = "Bearer"
