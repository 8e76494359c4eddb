package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/jrsteele09/go-oauth-engine/auth"
	clientmemrepo "github.com/jrsteele09/go-oauth-engine/clients/memrepo"
	"github.com/jrsteele09/go-oauth-engine/internal/config"
	"github.com/jrsteele09/go-oauth-engine/internal/telemetry"
	"github.com/jrsteele09/go-oauth-engine/server"
	sessionmemrepo "github.com/jrsteele09/go-oauth-engine/sessions/memrepo"
	"github.com/jrsteele09/go-oauth-engine/store/memory"
	usermemrepo "github.com/jrsteele09/go-oauth-engine/users/memrepo"
)

const (
	testClientID      = "web"
	testClientSecret  = "web-secret"
	otherClientID     = "other"
	otherClientSecret = "other-secret"
	testRedirectURI   = "https://app.example.com/cb"
	testUserEmail     = "alice@example.com"
	testUserPassword  = "password123"
	testState         = "xyz"
)

type testFixture struct {
	httpServer *httptest.Server
	noRedirect *http.Client
	oauth      *oauth2.Config
}

func setupTestFixture(t *testing.T, adjust ...func(*config.Settings)) *testFixture {
	t.Helper()
	settings := config.Default()
	settings.Seed.Clients = []config.SeedClient{
		{ID: testClientID, Secret: testClientSecret, RedirectURIs: []string{testRedirectURI}, Scopes: []string{"read", "write"}},
		{ID: otherClientID, Secret: otherClientSecret, RedirectURIs: []string{testRedirectURI}, Scopes: []string{"read"}},
	}
	settings.Seed.Users = []config.SeedUser{{ID: "u1", Email: testUserEmail, Password: testUserPassword}}
	for _, fn := range adjust {
		fn(settings)
	}

	engine, err := auth.New(auth.Repos{
		Users:        usermemrepo.New(),
		Clients:      clientmemrepo.New(),
		Transactions: sessionmemrepo.New(settings.GetMaxTransactionAge()),
	}, memory.New(), settings)
	require.NoError(t, err)
	require.NoError(t, engine.Seed(context.Background(), settings))

	srv, err := server.New(settings, engine)
	require.NoError(t, err)

	f := &testFixture{httpServer: httptest.NewServer(srv.Handler())}
	t.Cleanup(f.httpServer.Close)
	f.noRedirect = &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	f.oauth = &oauth2.Config{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		RedirectURL:  testRedirectURI,
		Scopes:       []string{"read"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   f.url(server.RouteOAuthAuthorize),
			TokenURL:  f.url(server.RouteOAuthToken),
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	return f
}

func (f *testFixture) url(route string) string {
	return f.httpServer.URL + route
}

// authorize runs the consent round trip and returns the redirect location.
func (f *testFixture) authorize(t *testing.T, responseType string, approve bool) *url.URL {
	t.Helper()
	authURL := f.oauth.AuthCodeURL(testState, oauth2.SetAuthURLParam("response_type", responseType))
	req, err := http.NewRequest(http.MethodGet, authURL, nil)
	require.NoError(t, err)
	req.SetBasicAuth(testUserEmail, testUserPassword)
	resp, err := f.noRedirect.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var prompt struct {
		TransactionID string `json:"transaction_id"`
		ClientID      string `json:"client_id"`
		Scope         string `json:"scope"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&prompt))
	require.NotEmpty(t, prompt.TransactionID)
	require.Equal(t, testClientID, prompt.ClientID)
	require.Equal(t, "read", prompt.Scope)

	form := url.Values{"transaction_id": {prompt.TransactionID}}
	if approve {
		form.Set("approve", "true")
	}
	resp = f.postForm(t, server.RouteOAuthAuthorizeDecision, form, testUserEmail, testUserPassword)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	return location
}

func (f *testFixture) postForm(t *testing.T, route string, form url.Values, user, password string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.url(route), strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if user != "" {
		req.SetBasicAuth(user, password)
	}
	resp, err := f.noRedirect.Do(req)
	require.NoError(t, err)
	return resp
}

func (f *testFixture) introspect(t *testing.T, clientID, secret, token string) map[string]any {
	t.Helper()
	resp := f.postForm(t, server.RouteOAuthIntrospect, url.Values{"token": {token}}, clientID, secret)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func requireOAuthError(t *testing.T, err error, code string) {
	t.Helper()
	var rErr *oauth2.RetrieveError
	require.ErrorAs(t, err, &rErr)
	require.Equal(t, code, rErr.ErrorCode)
}

func TestAuthorizationCodeFlow(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	location := f.authorize(t, "code", true)
	require.Equal(t, "app.example.com", location.Host)
	require.Equal(t, testState, location.Query().Get("state"))
	code := location.Query().Get("code")
	require.Len(t, code, 50)

	tok, err := f.oauth.Exchange(ctx, code)
	require.NoError(t, err)
	require.Equal(t, "Bearer", tok.TokenType)
	require.Len(t, tok.AccessToken, 100)
	require.Len(t, tok.RefreshToken, 50)
	require.True(t, tok.Expiry.After(time.Now()))

	// The code is spent.
	_, err = f.oauth.Exchange(ctx, code)
	requireOAuthError(t, err, "invalid_grant")

	body := f.introspect(t, testClientID, testClientSecret, tok.AccessToken)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, testClientID, body["client_id"])
	assert.Equal(t, "read", body["scope"])
	assert.Equal(t, testUserEmail, body["username"])

	// Rotate the refresh token.
	refreshed, err := f.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken}).Token()
	require.NoError(t, err)
	require.NotEqual(t, tok.AccessToken, refreshed.AccessToken)
	require.NotEqual(t, tok.RefreshToken, refreshed.RefreshToken)
	require.Equal(t, map[string]any{"active": false}, f.introspect(t, testClientID, testClientSecret, tok.AccessToken))

	_, err = f.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken}).Token()
	requireOAuthError(t, err, "invalid_grant")
}

func TestImplicitFlow(t *testing.T) {
	f := setupTestFixture(t)
	location := f.authorize(t, "token", true)
	require.Empty(t, location.RawQuery)

	fragment, err := url.ParseQuery(location.Fragment)
	require.NoError(t, err)
	require.Len(t, fragment.Get("access_token"), 100)
	require.Equal(t, "Bearer", fragment.Get("token_type"))
	require.Equal(t, "180", fragment.Get("expires_in"))
	require.Equal(t, "read", fragment.Get("scope"))
	require.Equal(t, testState, fragment.Get("state"))
	require.Empty(t, fragment.Get("refresh_token"))
}

func TestConsentDenied(t *testing.T) {
	f := setupTestFixture(t)
	location := f.authorize(t, "code", false)
	require.Equal(t, "access_denied", location.Query().Get("error"))
	require.Equal(t, testState, location.Query().Get("state"))
	require.Empty(t, location.Query().Get("code"))
}

func TestAuthorizeRejections(t *testing.T) {
	f := setupTestFixture(t)

	get := func(query url.Values, withUser bool) *http.Response {
		req, err := http.NewRequest(http.MethodGet, f.url(server.RouteOAuthAuthorize)+"?"+query.Encode(), nil)
		require.NoError(t, err)
		if withUser {
			req.SetBasicAuth(testUserEmail, testUserPassword)
		}
		resp, err := f.noRedirect.Do(req)
		require.NoError(t, err)
		return resp
	}
	valid := func() url.Values {
		return url.Values{"client_id": {testClientID}, "redirect_uri": {testRedirectURI}, "response_type": {"code"}, "state": {testState}}
	}

	t.Run("unregistered redirect is answered directly", func(t *testing.T) {
		q := valid()
		q.Set("redirect_uri", "https://evil.example.com/cb")
		resp := get(q, true)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Empty(t, resp.Header.Get("Location"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Equal(t, "unauthorized_client", body["error"])
	})

	t.Run("missing client id", func(t *testing.T) {
		q := valid()
		q.Del("client_id")
		resp := get(q, true)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("user must authenticate", func(t *testing.T) {
		resp := get(valid(), false)
		defer resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))
	})

	t.Run("invalid scope is redirected", func(t *testing.T) {
		q := valid()
		q.Set("scope", "admin")
		resp := get(q, true)
		defer resp.Body.Close()
		require.Equal(t, http.StatusFound, resp.StatusCode)
		location, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(t, err)
		require.Equal(t, "invalid_scope", location.Query().Get("error"))
	})
}

func TestDecisionUnknownTransaction(t *testing.T) {
	f := setupTestFixture(t)
	resp := f.postForm(t, server.RouteOAuthAuthorizeDecision, url.Values{"transaction_id": {"nope"}, "approve": {"true"}}, testUserEmail, testUserPassword)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPasswordGrant(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	tok, err := f.oauth.PasswordCredentialsToken(ctx, testUserEmail, testUserPassword)
	require.NoError(t, err)
	require.NotEmpty(t, tok.AccessToken)
	require.NotEmpty(t, tok.RefreshToken)

	_, err = f.oauth.PasswordCredentialsToken(ctx, testUserEmail, "wrong")
	requireOAuthError(t, err, "invalid_grant")

	badClient := *f.oauth
	badClient.ClientSecret = "wrong"
	_, err = badClient.PasswordCredentialsToken(ctx, testUserEmail, testUserPassword)
	requireOAuthError(t, err, "invalid_grant")
}

func TestClientCredentialsGrant(t *testing.T) {
	f := setupTestFixture(t)
	cc := &clientcredentials.Config{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		TokenURL:     f.url(server.RouteOAuthToken),
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tok, err := cc.Token(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, tok.AccessToken)
	require.Empty(t, tok.RefreshToken)
	require.Equal(t, "read write", tok.Extra("scope"))
}

func TestTokenErrors(t *testing.T) {
	f := setupTestFixture(t)

	resp := f.postForm(t, server.RouteOAuthToken, url.Values{"grant_type": {"urn:example:custom"}}, testClientID, testClientSecret)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "unsupported_grant_type", body["error"])

	resp = f.postForm(t, server.RouteOAuthToken, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {"whatever"},
	}, testClientID, "wrong")
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))
}

func TestIntrospectAndRevoke(t *testing.T) {
	f := setupTestFixture(t)
	tok, err := f.oauth.PasswordCredentialsToken(context.Background(), testUserEmail, testUserPassword)
	require.NoError(t, err)

	require.Equal(t, map[string]any{"active": false}, f.introspect(t, otherClientID, otherClientSecret, tok.AccessToken))
	require.Equal(t, map[string]any{"active": false}, f.introspect(t, testClientID, testClientSecret, "unknown"))

	resp := f.postForm(t, server.RouteOAuthIntrospect, url.Values{"token": {tok.AccessToken}}, testClientID, "wrong")
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Another client's revocation is ignored.
	resp = f.postForm(t, server.RouteOAuthRevoke, url.Values{"token": {tok.AccessToken}}, otherClientID, otherClientSecret)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, f.introspect(t, testClientID, testClientSecret, tok.AccessToken)["active"])

	resp = f.postForm(t, server.RouteOAuthRevoke, url.Values{"token": {tok.RefreshToken}, "token_type_hint": {"refresh_token"}}, testClientID, testClientSecret)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, map[string]any{"active": false}, f.introspect(t, testClientID, testClientSecret, tok.AccessToken))

	resp = f.postForm(t, server.RouteOAuthRevoke, url.Values{"token": {"unknown"}}, testClientID, testClientSecret)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTokenRateLimit(t *testing.T) {
	f := setupTestFixture(t, func(s *config.Settings) {
		s.Security.TokenRateLimit = 1
		s.Security.TokenRateBurst = 1
	})
	form := url.Values{"grant_type": {"client_credentials"}}

	resp := f.postForm(t, server.RouteOAuthToken, form, testClientID, testClientSecret)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.postForm(t, server.RouteOAuthToken, form, testClientID, testClientSecret)
	resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestPing(t *testing.T) {
	f := setupTestFixture(t)
	resp, err := http.Get(f.url(server.RoutePing))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "pong", string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	ctx := context.Background()
	settings := config.Default()
	settings.Seed.Clients = []config.SeedClient{
		{ID: testClientID, Secret: testClientSecret, RedirectURIs: []string{testRedirectURI}, Scopes: []string{"read"}},
	}

	providers, err := telemetry.NewProviders(ctx, settings.GetServiceName(), "")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, providers.Shutdown(ctx)) })
	tel, err := telemetry.New(providers.MeterProvider(), tracenoop.NewTracerProvider())
	require.NoError(t, err)

	engine, err := auth.New(auth.Repos{
		Users:        usermemrepo.New(),
		Clients:      clientmemrepo.New(),
		Transactions: sessionmemrepo.New(settings.GetMaxTransactionAge()),
	}, memory.New(), settings, auth.WithTelemetry(tel))
	require.NoError(t, err)
	require.NoError(t, engine.Seed(ctx, settings))

	srv, err := server.New(settings, engine, server.WithMetricsHandler(settings.GetMetricsPath(), providers.MetricsHandler()))
	require.NoError(t, err)
	httpServer := httptest.NewServer(srv.Handler())
	t.Cleanup(httpServer.Close)

	cc := &clientcredentials.Config{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		TokenURL:     httpServer.URL + server.RouteOAuthToken,
	}
	_, err = cc.Token(ctx)
	require.NoError(t, err)

	resp, err := http.Get(httpServer.URL + settings.GetMetricsPath())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Regexp(t, `oauth[._]exchanges`, string(body))
	require.Contains(t, string(body), "client_credentials")
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := server.New(nil, nil)
	require.Error(t, err)
	_, err = server.New(config.Default(), nil)
	require.Error(t, err)
}
