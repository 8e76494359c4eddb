// Package memory is a mutex guarded in-process credential store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-oauth-engine/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	codes          map[string]store.AuthorizationCode
	accessByValue  map[string]store.AccessToken
	accessByID     map[string]string // access token ID to value
	refreshByValue map[string]store.RefreshToken
	refreshByID    map[string]string // access token ID to refresh value
	lock           sync.RWMutex
	nowFunc        func() time.Time
	logger         zerolog.Logger
}

type Option func(*Store)

func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		s.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		codes:          make(map[string]store.AuthorizationCode),
		accessByValue:  make(map[string]store.AccessToken),
		accessByID:     make(map[string]string),
		refreshByValue: make(map[string]store.RefreshToken),
		refreshByID:    make(map[string]string),
		nowFunc:        time.Now,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) CreateAuthorizationCode(ctx context.Context, code *store.AuthorizationCode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, exists := s.codes[code.Value]; exists {
		return errors.New("[memory.CreateAuthorizationCode] duplicate code value")
	}
	c := *code
	c.Scopes = cloneScopes(code.Scopes)
	s.codes[code.Value] = c
	return nil
}

func (s *Store) FindAuthorizationCode(ctx context.Context, value string) (*store.AuthorizationCode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	c, ok := s.codes[value]
	if !ok || store.Expired(c.ExpiresAt, s.nowFunc()) {
		return nil, store.ErrNotFound
	}
	c.Scopes = cloneScopes(c.Scopes)
	return &c, nil
}

func (s *Store) RedeemAuthorizationCode(ctx context.Context, value string, pair *store.TokenPair) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	c, ok := s.codes[value]
	if !ok || store.Expired(c.ExpiresAt, s.nowFunc()) {
		return store.ErrNotFound
	}
	if err := s.checkPair(pair); err != nil {
		return errors.Wrap(err, "[memory.RedeemAuthorizationCode]")
	}
	delete(s.codes, value)
	s.putPair(pair)
	return nil
}

func (s *Store) CreateTokens(ctx context.Context, pair *store.TokenPair) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.checkPair(pair); err != nil {
		return errors.Wrap(err, "[memory.CreateTokens]")
	}
	s.putPair(pair)
	return nil
}

func (s *Store) FindAccessToken(ctx context.Context, value string) (*store.AccessToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	at, ok := s.accessByValue[value]
	if !ok || store.Expired(at.ExpiresAt, s.nowFunc()) {
		return nil, store.ErrNotFound
	}
	at.Scopes = cloneScopes(at.Scopes)
	return &at, nil
}

func (s *Store) FindAccessTokensByUserClient(ctx context.Context, userID, clientID string) ([]*store.AccessToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	now := s.nowFunc()
	var tokens []*store.AccessToken
	for _, at := range s.accessByValue {
		if at.UserID != userID || at.ClientID != clientID || store.Expired(at.ExpiresAt, now) {
			continue
		}
		t := at
		t.Scopes = cloneScopes(at.Scopes)
		tokens = append(tokens, &t)
	}
	return tokens, nil
}

func (s *Store) FindRefreshToken(ctx context.Context, value string) (*store.RefreshGrant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	rt, ok := s.refreshByValue[value]
	if !ok || store.Expired(rt.ExpiresAt, s.nowFunc()) {
		return nil, store.ErrNotFound
	}
	accessValue, ok := s.accessByID[rt.AccessTokenID]
	if !ok {
		return nil, store.ErrNotFound
	}
	at := s.accessByValue[accessValue]
	at.Scopes = cloneScopes(at.Scopes)
	return &store.RefreshGrant{Refresh: rt, Access: at}, nil
}

func (s *Store) RotateRefreshToken(ctx context.Context, old *store.RefreshGrant, pair *store.TokenPair) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	rt, ok := s.refreshByValue[old.Refresh.Value]
	if !ok || store.Expired(rt.ExpiresAt, s.nowFunc()) {
		return store.ErrNotFound
	}
	if err := s.checkPair(pair); err != nil {
		return errors.Wrap(err, "[memory.RotateRefreshToken]")
	}
	s.deleteRefresh(rt)
	if accessValue, ok := s.accessByID[rt.AccessTokenID]; ok {
		s.deleteAccess(s.accessByValue[accessValue])
	}
	s.putPair(pair)
	return nil
}

func (s *Store) RevokeAccessToken(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	at, ok := s.accessByValue[value]
	if !ok {
		return store.ErrNotFound
	}
	if refreshValue, ok := s.refreshByID[at.ID]; ok {
		s.deleteRefresh(s.refreshByValue[refreshValue])
	}
	s.deleteAccess(at)
	return nil
}

func (s *Store) RevokeRefreshToken(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	rt, ok := s.refreshByValue[value]
	if !ok {
		return store.ErrNotFound
	}
	s.deleteRefresh(rt)
	if accessValue, ok := s.accessByID[rt.AccessTokenID]; ok {
		s.deleteAccess(s.accessByValue[accessValue])
	}
	return nil
}

func (s *Store) DeleteExpired(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	now := s.nowFunc()
	removed := 0
	for value, c := range s.codes {
		if store.Expired(c.ExpiresAt, now) {
			delete(s.codes, value)
			removed++
		}
	}
	for _, rt := range s.refreshByValue {
		if store.Expired(rt.ExpiresAt, now) {
			s.deleteRefresh(rt)
			removed++
		}
	}
	for _, at := range s.accessByValue {
		if !store.Expired(at.ExpiresAt, now) {
			continue
		}
		// An expired access token stays while its refresh token can still rotate it.
		if _, paired := s.refreshByID[at.ID]; paired {
			continue
		}
		s.deleteAccess(at)
		removed++
	}
	s.logger.Debug().Int("removed", removed).Msg("deleted expired credentials")
	return removed, nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) checkPair(pair *store.TokenPair) error {
	if _, exists := s.accessByValue[pair.Access.Value]; exists {
		return errors.New("duplicate access token value")
	}
	if _, exists := s.accessByID[pair.Access.ID]; exists {
		return errors.New("duplicate access token id")
	}
	if pair.Refresh != nil {
		if _, exists := s.refreshByValue[pair.Refresh.Value]; exists {
			return errors.New("duplicate refresh token value")
		}
	}
	return nil
}

func (s *Store) putPair(pair *store.TokenPair) {
	at := pair.Access
	at.Scopes = cloneScopes(pair.Access.Scopes)
	s.accessByValue[at.Value] = at
	s.accessByID[at.ID] = at.Value
	if pair.Refresh != nil {
		rt := *pair.Refresh
		s.refreshByValue[rt.Value] = rt
		s.refreshByID[rt.AccessTokenID] = rt.Value
	}
}

func (s *Store) deleteAccess(at store.AccessToken) {
	delete(s.accessByValue, at.Value)
	delete(s.accessByID, at.ID)
}

func (s *Store) deleteRefresh(rt store.RefreshToken) {
	delete(s.refreshByValue, rt.Value)
	delete(s.refreshByID, rt.AccessTokenID)
}

func cloneScopes(scopes []string) []string {
	if scopes == nil {
		return nil
	}
	return append([]string(nil), scopes...)
}
