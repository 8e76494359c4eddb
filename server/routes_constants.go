package server

// Route path constants
const (
	RoutePing                   = "/ping"
	RouteOAuthAuthorize         = "/oauth/authorize"
	RouteOAuthAuthorizeDecision = "/oauth/authorize/decision"
	RouteOAuthToken             = "/oauth/token"
	RouteOAuthIntrospect        = "/oauth/introspect"
	RouteOAuthRevoke            = "/oauth/revoke"
)
