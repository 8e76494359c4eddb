package memrepo

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	oautherrors "github.com/jrsteele09/go-oauth-engine/internal/errors"
	"github.com/jrsteele09/go-oauth-engine/users"
)

var _ users.Repo = (*UserRepo)(nil)

type UserRepo struct {
	users map[string]*users.User // keyed by lower-cased email
	ids   map[string]string      // user ID to email key
	lock  sync.RWMutex
}

func New() *UserRepo {
	return &UserRepo{
		users: make(map[string]*users.User),
		ids:   make(map[string]string),
	}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *UserRepo) Upsert(_ context.Context, user *users.User) error {
	if emailKey(user.Email) == "" {
		return errors.New("[UserRepo.Upsert] email is required")
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	key := emailKey(user.Email)
	if existing, ok := r.users[key]; ok && existing.ID != user.ID {
		return errors.Errorf("[UserRepo.Upsert] email %s already registered", user.Email)
	}
	if oldKey, ok := r.ids[user.ID]; ok && oldKey != key {
		delete(r.users, oldKey)
	}
	stored := *user
	r.users[key] = &stored
	r.ids[user.ID] = key
	return nil
}

func (r *UserRepo) Delete(_ context.Context, email string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	key := emailKey(email)
	if u, ok := r.users[key]; ok {
		delete(r.ids, u.ID)
		delete(r.users, key)
	}
	return nil
}

func (r *UserRepo) GetByEmail(_ context.Context, email string) (*users.User, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	u, ok := r.users[emailKey(email)]
	if !ok {
		return nil, errors.Wrap(oautherrors.ErrNotFound, "[UserRepo.GetByEmail]")
	}
	user := *u
	return &user, nil
}

func (r *UserRepo) GetByID(_ context.Context, id string) (*users.User, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	key, ok := r.ids[id]
	if !ok {
		return nil, errors.Wrapf(oautherrors.ErrNotFound, "[UserRepo.GetByID] user %s", id)
	}
	user := *r.users[key]
	return &user, nil
}

func (r *UserRepo) List(_ context.Context, offset, limit int) ([]*users.User, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	list := make([]*users.User, 0, len(r.users))
	for _, v := range r.users {
		u := *v
		list = append(list, &u)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Email < list[j].Email
	})

	if offset >= len(list) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(list) {
		end = len(list)
	}
	return list[offset:end], nil
}
