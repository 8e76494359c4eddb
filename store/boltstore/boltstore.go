// Package boltstore keeps credentials in a single bbolt file. Every mutation runs in one
// bolt write transaction, and bolt allows a single writer, so conditional deletes are atomic.
package boltstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/jrsteele09/go-oauth-engine/store"
)

var _ store.Store = (*Store)(nil)

var (
	codesBucket           = []byte("authorization_codes")
	accessBucket          = []byte("access_tokens")         // value -> AccessToken
	accessIDBucket        = []byte("access_token_ids")      // id -> value
	refreshBucket         = []byte("refresh_tokens")        // value -> RefreshToken
	refreshByAccessBucket = []byte("refresh_tokens_access") // access token id -> refresh value
)

type Store struct {
	db      *bolt.DB
	nowFunc func() time.Time
	logger  zerolog.Logger
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

// Open opens or creates the bolt file at path and makes sure every bucket exists.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "[boltstore.Open] failed to open %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{codesBucket, accessBucket, accessIDBucket, refreshBucket, refreshByAccessBucket} {
			if _, e := tx.CreateBucketIfNotExists(name); e != nil {
				return errors.Wrapf(e, "failed to create bucket %s", string(name))
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[boltstore.Open]")
	}

	s := &Store{db: db, nowFunc: time.Now, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	return errors.Wrap(s.db.Close(), "[boltstore.Close]")
}

func (s *Store) CreateAuthorizationCode(ctx context.Context, code *store.AuthorizationCode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(codesBucket)
		if b.Get([]byte(code.Value)) != nil {
			return errors.New("[boltstore.CreateAuthorizationCode] duplicate code value")
		}
		return put(b, code.Value, code)
	})
}

func (s *Store) FindAuthorizationCode(ctx context.Context, value string) (*store.AuthorizationCode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var code store.AuthorizationCode
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx.Bucket(codesBucket), value, &code)
	})
	if err != nil {
		return nil, err
	}
	if store.Expired(code.ExpiresAt, s.nowFunc()) {
		return nil, store.ErrNotFound
	}
	return &code, nil
}

func (s *Store) RedeemAuthorizationCode(ctx context.Context, value string, pair *store.TokenPair) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(codesBucket)
		var code store.AuthorizationCode
		if err := get(b, value, &code); err != nil {
			return err
		}
		if store.Expired(code.ExpiresAt, s.nowFunc()) {
			return store.ErrNotFound
		}
		if err := b.Delete([]byte(value)); err != nil {
			return errors.Wrap(err, "[boltstore.RedeemAuthorizationCode] deleting code")
		}
		return errors.Wrap(putPair(tx, pair), "[boltstore.RedeemAuthorizationCode]")
	})
}

func (s *Store) CreateTokens(ctx context.Context, pair *store.TokenPair) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return errors.Wrap(putPair(tx, pair), "[boltstore.CreateTokens]")
	})
}

func (s *Store) FindAccessToken(ctx context.Context, value string) (*store.AccessToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var at store.AccessToken
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx.Bucket(accessBucket), value, &at)
	})
	if err != nil {
		return nil, err
	}
	if store.Expired(at.ExpiresAt, s.nowFunc()) {
		return nil, store.ErrNotFound
	}
	return &at, nil
}

func (s *Store) FindAccessTokensByUserClient(ctx context.Context, userID, clientID string) ([]*store.AccessToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.nowFunc()
	var tokens []*store.AccessToken
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(accessBucket).ForEach(func(_, v []byte) error {
			var at store.AccessToken
			if err := json.Unmarshal(v, &at); err != nil {
				return errors.Wrap(err, "failed to unmarshal access token")
			}
			if at.UserID == userID && at.ClientID == clientID && !store.Expired(at.ExpiresAt, now) {
				tokens = append(tokens, &at)
			}
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "[boltstore.FindAccessTokensByUserClient]")
	}
	return tokens, nil
}

func (s *Store) FindRefreshToken(ctx context.Context, value string) (*store.RefreshGrant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var grant store.RefreshGrant
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := get(tx.Bucket(refreshBucket), value, &grant.Refresh); err != nil {
			return err
		}
		accessValue := tx.Bucket(accessIDBucket).Get([]byte(grant.Refresh.AccessTokenID))
		if accessValue == nil {
			return store.ErrNotFound
		}
		return get(tx.Bucket(accessBucket), string(accessValue), &grant.Access)
	})
	if err != nil {
		return nil, err
	}
	if store.Expired(grant.Refresh.ExpiresAt, s.nowFunc()) {
		return nil, store.ErrNotFound
	}
	return &grant, nil
}

func (s *Store) RotateRefreshToken(ctx context.Context, old *store.RefreshGrant, pair *store.TokenPair) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		var rt store.RefreshToken
		if err := get(tx.Bucket(refreshBucket), old.Refresh.Value, &rt); err != nil {
			return err
		}
		if store.Expired(rt.ExpiresAt, s.nowFunc()) {
			return store.ErrNotFound
		}
		if err := deleteRefresh(tx, rt); err != nil {
			return errors.Wrap(err, "[boltstore.RotateRefreshToken]")
		}
		if err := deleteAccessByID(tx, rt.AccessTokenID); err != nil {
			return errors.Wrap(err, "[boltstore.RotateRefreshToken]")
		}
		return errors.Wrap(putPair(tx, pair), "[boltstore.RotateRefreshToken]")
	})
}

func (s *Store) RevokeAccessToken(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		var at store.AccessToken
		if err := get(tx.Bucket(accessBucket), value, &at); err != nil {
			return err
		}
		if refreshValue := tx.Bucket(refreshByAccessBucket).Get([]byte(at.ID)); refreshValue != nil {
			if err := deleteRefresh(tx, store.RefreshToken{Value: string(refreshValue), AccessTokenID: at.ID}); err != nil {
				return errors.Wrap(err, "[boltstore.RevokeAccessToken]")
			}
		}
		return errors.Wrap(deleteAccessByID(tx, at.ID), "[boltstore.RevokeAccessToken]")
	})
}

func (s *Store) RevokeRefreshToken(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		var rt store.RefreshToken
		if err := get(tx.Bucket(refreshBucket), value, &rt); err != nil {
			return err
		}
		if err := deleteRefresh(tx, rt); err != nil {
			return errors.Wrap(err, "[boltstore.RevokeRefreshToken]")
		}
		return errors.Wrap(deleteAccessByID(tx, rt.AccessTokenID), "[boltstore.RevokeRefreshToken]")
	})
}

func (s *Store) DeleteExpired(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := s.nowFunc()
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		var codes []string
		err := tx.Bucket(codesBucket).ForEach(func(k, v []byte) error {
			var c store.AuthorizationCode
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if store.Expired(c.ExpiresAt, now) {
				codes = append(codes, string(k))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range codes {
			if err := tx.Bucket(codesBucket).Delete([]byte(k)); err != nil {
				return err
			}
		}

		var refresh []store.RefreshToken
		err = tx.Bucket(refreshBucket).ForEach(func(_, v []byte) error {
			var rt store.RefreshToken
			if err := json.Unmarshal(v, &rt); err != nil {
				return err
			}
			if store.Expired(rt.ExpiresAt, now) {
				refresh = append(refresh, rt)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, rt := range refresh {
			if err := deleteRefresh(tx, rt); err != nil {
				return err
			}
		}

		// An expired access token stays while its refresh token can still rotate it.
		var access []string
		pairs := tx.Bucket(refreshByAccessBucket)
		err = tx.Bucket(accessBucket).ForEach(func(_, v []byte) error {
			var at store.AccessToken
			if err := json.Unmarshal(v, &at); err != nil {
				return err
			}
			if store.Expired(at.ExpiresAt, now) && pairs.Get([]byte(at.ID)) == nil {
				access = append(access, at.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, id := range access {
			if err := deleteAccessByID(tx, id); err != nil {
				return err
			}
		}
		removed = len(codes) + len(refresh) + len(access)
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "[boltstore.DeleteExpired]")
	}
	s.logger.Debug().Int("removed", removed).Msg("deleted expired credentials")
	return removed, nil
}

func putPair(tx *bolt.Tx, pair *store.TokenPair) error {
	access := tx.Bucket(accessBucket)
	ids := tx.Bucket(accessIDBucket)
	if access.Get([]byte(pair.Access.Value)) != nil || ids.Get([]byte(pair.Access.ID)) != nil {
		return errors.New("duplicate access token")
	}
	if err := put(access, pair.Access.Value, &pair.Access); err != nil {
		return err
	}
	if err := ids.Put([]byte(pair.Access.ID), []byte(pair.Access.Value)); err != nil {
		return errors.Wrap(err, "failed to index access token")
	}
	if pair.Refresh == nil {
		return nil
	}
	refresh := tx.Bucket(refreshBucket)
	if refresh.Get([]byte(pair.Refresh.Value)) != nil {
		return errors.New("duplicate refresh token")
	}
	if err := put(refresh, pair.Refresh.Value, pair.Refresh); err != nil {
		return err
	}
	return errors.Wrap(tx.Bucket(refreshByAccessBucket).Put([]byte(pair.Refresh.AccessTokenID), []byte(pair.Refresh.Value)),
		"failed to index refresh token")
}

func deleteRefresh(tx *bolt.Tx, rt store.RefreshToken) error {
	if err := tx.Bucket(refreshBucket).Delete([]byte(rt.Value)); err != nil {
		return errors.Wrap(err, "failed to delete refresh token")
	}
	return errors.Wrap(tx.Bucket(refreshByAccessBucket).Delete([]byte(rt.AccessTokenID)), "failed to delete refresh index")
}

func deleteAccessByID(tx *bolt.Tx, id string) error {
	ids := tx.Bucket(accessIDBucket)
	value := ids.Get([]byte(id))
	if value == nil {
		return nil
	}
	if err := tx.Bucket(accessBucket).Delete(value); err != nil {
		return errors.Wrap(err, "failed to delete access token")
	}
	return errors.Wrap(ids.Delete([]byte(id)), "failed to delete access index")
}

func put(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s", key)
	}
	return errors.Wrapf(b.Put([]byte(key), data), "failed to put %s", key)
}

// get decodes the record stored under key into v, or returns store.ErrNotFound.
func get(b *bolt.Bucket, key string, v any) error {
	data := b.Get([]byte(key))
	if data == nil {
		return store.ErrNotFound
	}
	return errors.Wrapf(json.Unmarshal(data, v), "failed to unmarshal %s", key)
}
