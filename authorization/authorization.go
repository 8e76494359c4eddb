// Package authorization runs the decision half of an authorization request: it validates the
// client and redirect URI, skips consent when the user already holds an equivalent token,
// and otherwise parks the request as a transaction until the user approves or denies it.
package authorization

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-oauth-engine/clients"
	"github.com/jrsteele09/go-oauth-engine/grant"
	oautherrors "github.com/jrsteele09/go-oauth-engine/internal/errors"
	"github.com/jrsteele09/go-oauth-engine/oauthmodel"
	"github.com/jrsteele09/go-oauth-engine/sessions"
	"github.com/jrsteele09/go-oauth-engine/store"
	"github.com/jrsteele09/go-oauth-engine/users"
)

// Request is a validated-shape authorization request from the client.
type Request struct {
	ClientID     string
	RedirectURI  string
	Scope        string
	ResponseType oauthmodel.ResponseType
	State        string
}

// Prompt is what the consent renderer shows the user.
type Prompt struct {
	TransactionID string
	User          *users.User
	Client        *clients.Client
	Scopes        []string
}

// ConsentRenderer presents a pending transaction to the user. The decision arrives later
// through Flow.Decide, possibly several round trips afterwards.
type ConsentRenderer interface {
	RenderConsent(ctx context.Context, prompt Prompt) error
}

// ConsentRendererFunc adapts a function to ConsentRenderer.
type ConsentRendererFunc func(ctx context.Context, prompt Prompt) error

func (f ConsentRendererFunc) RenderConsent(ctx context.Context, prompt Prompt) error {
	return f(ctx, prompt)
}

// Decision is the outcome of an approved (or denied) request, carrying everything needed
// to build the redirect back to the client.
type Decision struct {
	Client       *clients.Client
	RedirectURI  string
	State        string
	ResponseType oauthmodel.ResponseType
	Scopes       []string
	Code         string    // set for response_type=code
	AccessToken  string    // set for response_type=token
	ExpiresAt    time.Time // access token expiry for response_type=token
}

// Outcome of Start: either Decision (consent skipped) or Pending (consent rendered).
type Outcome struct {
	Decision *Decision
	Pending  *Prompt
}

type Flow struct {
	clients      clients.Repo
	store        store.Store
	grants       *grant.Engine
	transactions sessions.Repo
	serializer   *sessions.Serializer
	logger       zerolog.Logger
	newID        func() string
}

type Option func(*Flow)

func WithLogger(logger zerolog.Logger) Option {
	return func(f *Flow) {
		f.logger = logger
	}
}

// WithIDFunc replaces the transaction id source.
func WithIDFunc(newID func() string) Option {
	return func(f *Flow) {
		f.newID = newID
	}
}

func New(clientRepo clients.Repo, st store.Store, grants *grant.Engine, transactions sessions.Repo, opts ...Option) *Flow {
	f := &Flow{
		clients:      clientRepo,
		store:        st,
		grants:       grants,
		transactions: transactions,
		serializer:   sessions.NewSerializer(clientRepo),
		logger:       zerolog.Nop(),
		newID:        func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ValidateClient checks that the client exists and redirectURI is registered for it.
// Both failures are ErrUnauthorizedClient.
func (f *Flow) ValidateClient(ctx context.Context, clientID, redirectURI string) (*clients.Client, error) {
	client, err := f.clients.Get(ctx, clientID)
	if errors.Is(err, oautherrors.ErrNotFound) {
		return nil, oautherrors.ErrUnauthorizedClient
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[Flow.ValidateClient] failed to find client")
	}
	if !client.HasRedirectURI(redirectURI) {
		f.logger.Debug().Str("client_id", clientID).Msg("redirect_uri not registered for client")
		return nil, oautherrors.ErrUnauthorizedClient
	}
	return client, nil
}

// Start validates req for the authenticated user. When the user already holds an unexpired
// token for the client whose scopes exactly equal the requested scopes, the request is
// approved without consent. Otherwise a transaction is saved and handed to renderer.
func (f *Flow) Start(ctx context.Context, user *users.User, req Request, renderer ConsentRenderer) (*Outcome, error) {
	client, err := f.ValidateClient(ctx, req.ClientID, req.RedirectURI)
	if err != nil {
		return nil, err
	}
	if req.ResponseType != oauthmodel.CodeResponseType && req.ResponseType != oauthmodel.TokenResponseType {
		return nil, pkgerrors.Wrapf(oautherrors.ErrInvalidRequest, "unsupported response_type %q", req.ResponseType)
	}

	scopes := oauthmodel.ParseScope(req.Scope)
	if len(scopes) == 0 {
		scopes = client.Scopes
	}
	if !oauthmodel.ScopesSubset(scopes, client.Scopes) {
		return nil, oautherrors.ErrInvalidScope
	}

	held, err := f.holdsEquivalentToken(ctx, user, client, scopes)
	if err != nil {
		return nil, err
	}
	if held {
		f.logger.Debug().Str("client_id", client.ID).Str("user_id", user.ID).Msg("consent skipped, equivalent token held")
		decision, err := f.issue(ctx, client, user, req.RedirectURI, req.State, req.ResponseType, scopes)
		if err != nil {
			return nil, err
		}
		return &Outcome{Decision: decision}, nil
	}

	txn := &sessions.Transaction{
		ID:           f.newID(),
		UserID:       user.ID,
		Client:       f.serializer.SerializeClient(client),
		RedirectURI:  req.RedirectURI,
		Scopes:       scopes,
		ResponseType: req.ResponseType,
		State:        req.State,
	}
	if err := f.transactions.Save(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(err, "[Flow.Start] failed to save transaction")
	}

	prompt := &Prompt{TransactionID: txn.ID, User: user, Client: client, Scopes: scopes}
	if err := renderer.RenderConsent(ctx, *prompt); err != nil {
		return nil, pkgerrors.Wrap(err, "[Flow.Start] failed to render consent")
	}
	return &Outcome{Pending: prompt}, nil
}

// Decide applies the user's decision to a pending transaction. The transaction is consumed
// either way. On denial the returned Decision carries the redirect target and the error is
// ErrAccessDenied.
func (f *Flow) Decide(ctx context.Context, user *users.User, transactionID string, approve bool) (*Decision, error) {
	pending, err := f.transactions.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	// Another user's transaction is reported as missing and left in place.
	if pending.UserID != user.ID {
		return nil, oautherrors.ErrTransactionNotFound
	}
	txn, err := f.transactions.Take(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	client, err := f.serializer.DeserializeClient(ctx, txn.Client)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[Flow.Decide]")
	}

	if !approve {
		f.logger.Debug().Str("client_id", client.ID).Str("user_id", user.ID).Msg("consent denied")
		return &Decision{
			Client:       client,
			RedirectURI:  txn.RedirectURI,
			State:        txn.State,
			ResponseType: txn.ResponseType,
			Scopes:       txn.Scopes,
		}, oautherrors.ErrAccessDenied
	}
	return f.issue(ctx, client, user, txn.RedirectURI, txn.State, txn.ResponseType, txn.Scopes)
}

func (f *Flow) holdsEquivalentToken(ctx context.Context, user *users.User, client *clients.Client, scopes []string) (bool, error) {
	tokens, err := f.store.FindAccessTokensByUserClient(ctx, user.ID, client.ID)
	if err != nil {
		return false, pkgerrors.Wrap(err, "[Flow.holdsEquivalentToken] failed to find tokens")
	}
	for _, t := range tokens {
		if oauthmodel.ScopesEqual(t.Scopes, scopes) {
			return true, nil
		}
	}
	return false, nil
}

func (f *Flow) issue(ctx context.Context, client *clients.Client, user *users.User, redirectURI, state string, responseType oauthmodel.ResponseType, scopes []string) (*Decision, error) {
	decision := &Decision{
		Client:       client,
		RedirectURI:  redirectURI,
		State:        state,
		ResponseType: responseType,
		Scopes:       scopes,
	}
	var err error
	switch responseType {
	case oauthmodel.TokenResponseType:
		decision.AccessToken, decision.ExpiresAt, err = f.grants.GrantToken(ctx, client, user, scopes)
	default:
		decision.Code, err = f.grants.GrantCode(ctx, client, redirectURI, user, scopes)
	}
	if err != nil {
		return nil, err
	}
	return decision, nil
}
