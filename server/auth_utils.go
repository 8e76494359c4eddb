package server

import (
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-oauth-engine/exchange"
	"github.com/jrsteele09/go-oauth-engine/users"
)

const basicRealm = `Basic realm="oauth"`

// clientCredentials reads client authentication from HTTP Basic (RFC 6749 2.3.1, values
// form-encoded) or, failing that, from the client_id and client_secret form fields. The
// form must already be parsed.
func clientCredentials(r *http.Request) (creds exchange.ClientCredentials, basic bool) {
	if id, secret, ok := r.BasicAuth(); ok {
		return exchange.ClientCredentials{ID: formUnescape(id), Secret: formUnescape(secret)}, true
	}
	return exchange.ClientCredentials{
		ID:     r.PostFormValue("client_id"),
		Secret: r.PostFormValue("client_secret"),
	}, false
}

func formUnescape(s string) string {
	unescaped, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return unescaped
}

// resourceOwner authenticates the end user at the authorization endpoints with HTTP Basic.
// It writes the 401 challenge itself and returns nil when authentication fails.
func (s *Server) resourceOwner(w http.ResponseWriter, r *http.Request) *users.User {
	email, password, ok := r.BasicAuth()
	if ok {
		user, err := s.auth.Login(r.Context(), email, password)
		if err == nil {
			return user
		}
		logRequestError(r, err, "resource owner authentication failed")
	}
	w.Header().Set("WWW-Authenticate", basicRealm)
	http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	return nil
}
