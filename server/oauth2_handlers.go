package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/render"
	"github.com/go-pkgz/rest"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-oauth-engine/authorization"
	oautherrors "github.com/jrsteele09/go-oauth-engine/internal/errors"
	"github.com/jrsteele09/go-oauth-engine/oauthmodel"
	"github.com/jrsteele09/go-oauth-engine/revocation"
)

// Authorize begins the authorization flow. The consent prompt is returned as JSON; the
// user agent answers it at the decision endpoint.
func (s *Server) Authorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := parseAuthorizationParameters(r)
		if err := params.Validate(); err != nil {
			writeJSONError(w, r, http.StatusBadRequest, oauthmodel.ErrorResponse{
				Error:            "invalid_request",
				ErrorDescription: err.Error(),
			})
			return
		}

		// The client and redirect URI are checked before anything can be redirected.
		if _, err := s.auth.Authorization.ValidateClient(r.Context(), params.ClientID, params.RedirectURI); err != nil {
			s.writeError(w, r, err)
			return
		}

		user := s.resourceOwner(w, r)
		if user == nil {
			return
		}

		outcome, err := s.auth.Authorization.Start(r.Context(), user, authorization.Request{
			ClientID:     params.ClientID,
			RedirectURI:  params.RedirectURI,
			Scope:        params.Scope,
			ResponseType: params.ResponseType,
			State:        params.State,
		}, jsonConsentRenderer(w, r))
		if err != nil {
			s.redirectError(w, r, params.RedirectURI, params.ResponseType.ResponseMode(), params.State, err)
			return
		}
		if outcome.Decision != nil {
			s.redirectDecision(w, r, outcome.Decision)
		}
	}
}

// AuthorizeDecision applies the user's answer to a pending consent prompt.
func (s *Server) AuthorizeDecision() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, r, http.StatusBadRequest, oauthmodel.ErrorResponse{Error: "invalid_request", ErrorDescription: "failed to parse form data"})
			return
		}
		user := s.resourceOwner(w, r)
		if user == nil {
			return
		}

		transactionID := r.PostFormValue("transaction_id")
		if transactionID == "" {
			writeJSONError(w, r, http.StatusBadRequest, oauthmodel.ErrorResponse{Error: "invalid_request", ErrorDescription: "transaction_id is required"})
			return
		}
		approve, _ := strconv.ParseBool(r.PostFormValue("approve"))

		decision, err := s.auth.Authorization.Decide(r.Context(), user, transactionID, approve)
		if errors.Is(err, oautherrors.ErrAccessDenied) && decision != nil {
			s.redirectError(w, r, decision.RedirectURI, decision.ResponseType.ResponseMode(), decision.State, err)
			return
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.redirectDecision(w, r, decision)
	}
}

// Token exchanges code/credentials for tokens
func (s *Server) Token() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, r, http.StatusBadRequest, oauthmodel.ErrorResponse{Error: "invalid_request", ErrorDescription: "failed to parse form data"})
			return
		}
		creds, basic := clientCredentials(r)

		issued, err := s.auth.Exchange.Exchange(r.Context(), oauthmodel.TokenRequest{
			GrantType:    oauthmodel.GrantType(r.PostFormValue("grant_type")),
			ClientID:     creds.ID,
			ClientSecret: creds.Secret,
			Code:         r.PostFormValue("code"),
			RedirectURI:  r.PostFormValue("redirect_uri"),
			Username:     r.PostFormValue("username"),
			Password:     r.PostFormValue("password"),
			Scope:        r.PostFormValue("scope"),
			RefreshToken: r.PostFormValue("refresh_token"),
		})
		if err != nil {
			if basic && errors.Is(err, oautherrors.ErrInvalidClient) {
				w.Header().Set("WWW-Authenticate", basicRealm)
			}
			s.writeError(w, r, err)
			return
		}

		render.JSON(w, r, s.auth.Exchange.TokenResponse(issued))
	}
}

// Introspect introspects tokens
func (s *Server) Introspect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, r, http.StatusBadRequest, oauthmodel.ErrorResponse{Error: "invalid_request", ErrorDescription: "failed to parse form data"})
			return
		}
		creds, _ := clientCredentials(r)
		client, err := s.auth.AuthenticateClient(r.Context(), creds)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		token := r.PostFormValue("token")
		if token == "" {
			writeJSONError(w, r, http.StatusBadRequest, oauthmodel.ErrorResponse{Error: "invalid_request", ErrorDescription: "token parameter is required"})
			return
		}

		resp, err := s.auth.Introspection.Introspect(r.Context(), client, token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		render.JSON(w, r, resp)
	}
}

// Revoke revokes tokens
func (s *Server) Revoke() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, r, http.StatusBadRequest, oauthmodel.ErrorResponse{Error: "invalid_request", ErrorDescription: "failed to parse form data"})
			return
		}
		creds, _ := clientCredentials(r)
		client, err := s.auth.AuthenticateClient(r.Context(), creds)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		token := r.PostFormValue("token")
		if token == "" {
			writeJSONError(w, r, http.StatusBadRequest, oauthmodel.ErrorResponse{Error: "invalid_request", ErrorDescription: "token parameter is required"})
			return
		}

		hint := revocation.TokenTypeHint(r.PostFormValue("token_type_hint"))
		if err := s.auth.Revocation.Revoke(r.Context(), client, token, hint); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// jsonConsentRenderer answers the authorization request with the consent prompt.
func jsonConsentRenderer(w http.ResponseWriter, r *http.Request) authorization.ConsentRenderer {
	return authorization.ConsentRendererFunc(func(_ context.Context, prompt authorization.Prompt) error {
		render.JSON(w, r, rest.JSON{
			"transaction_id":     prompt.TransactionID,
			"client_id":          prompt.Client.ID,
			"client_description": prompt.Client.Description,
			"scope":              oauthmodel.FormatScope(prompt.Scopes),
			"user":               prompt.User.Email,
			"decision_endpoint":  RouteOAuthAuthorizeDecision,
		})
		return nil
	})
}

func (s *Server) redirectDecision(w http.ResponseWriter, r *http.Request, d *authorization.Decision) {
	params := url.Values{}
	if d.ResponseType == oauthmodel.TokenResponseType {
		params.Set("access_token", d.AccessToken)
		params.Set("token_type", oauthmodel.TokenTypeBearer)
		params.Set("expires_in", strconv.Itoa(oauthmodel.ExpiresIn(d.ExpiresAt, s.auth.Now())))
		params.Set("scope", oauthmodel.FormatScope(d.Scopes))
	} else {
		params.Set("code", d.Code)
	}
	if d.State != "" {
		params.Set("state", d.State)
	}
	if err := callbackRedirect(w, r, d.RedirectURI, d.ResponseType.ResponseMode(), params); err != nil {
		s.writeError(w, r, err)
	}
}

// redirectError reports err to a validated redirect URI. Infrastructure failures are
// answered directly.
func (s *Server) redirectError(w http.ResponseWriter, r *http.Request, redirectURI string, mode oauthmodel.ResponseModeType, state string, err error) {
	code := oautherrors.Code(err)
	if code == "server_error" || code == "unauthorized_client" {
		s.writeError(w, r, err)
		return
	}
	logRequestError(r, err, "authorization request rejected")
	params := url.Values{}
	params.Set("error", code)
	if state != "" {
		params.Set("state", state)
	}
	if err := callbackRedirect(w, r, redirectURI, mode, params); err != nil {
		s.writeError(w, r, err)
	}
}

// callbackRedirect sends params to the client's redirect URI in the query or fragment.
func callbackRedirect(w http.ResponseWriter, r *http.Request, callbackURI string, responseMode oauthmodel.ResponseModeType, params url.Values) error {
	u, err := url.Parse(callbackURI)
	if err != nil {
		return err
	}
	switch responseMode {
	case oauthmodel.FragmentResponseMode:
		u.Fragment = params.Encode()
	default:
		q := u.Query()
		for k, v := range params {
			q[k] = v
		}
		u.RawQuery = q.Encode()
	}
	http.Redirect(w, r, u.String(), http.StatusFound)
	return nil
}

// parseAuthorizationParameters extracts OAuth2 authorization parameters from the query string
func parseAuthorizationParameters(r *http.Request) *oauthmodel.AuthorizationParameters {
	q := r.URL.Query()
	return &oauthmodel.AuthorizationParameters{
		ClientID:     q.Get("client_id"),
		ResponseType: oauthmodel.ResponseType(q.Get("response_type")),
		RedirectURI:  q.Get("redirect_uri"),
		Scope:        q.Get("scope"),
		State:        q.Get("state"),
	}
}

// writeError maps err to its RFC 6749 error body. Rejections keep their generic
// description; configuration and infrastructure failures are logged and reported as
// server_error without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := oautherrors.Code(err)
	resp := oauthmodel.ErrorResponse{Error: code}
	if code == "server_error" {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		resp.ErrorDescription = "internal server error"
	} else {
		logRequestError(r, err, "request rejected")
	}
	writeJSONError(w, r, statusFor(code), resp)
}

func statusFor(code string) int {
	switch code {
	case "invalid_client":
		return http.StatusUnauthorized
	case "server_error":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// writeJSONError writes an OAuth2 error response
func writeJSONError(w http.ResponseWriter, r *http.Request, statusCode int, resp oauthmodel.ErrorResponse) {
	render.Status(r, statusCode)
	render.JSON(w, r, resp)
}

func logRequestError(r *http.Request, err error, msg string) {
	log.Debug().Err(err).Str("path", r.URL.Path).Msg(msg)
}
