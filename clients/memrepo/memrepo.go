package memrepo

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jrsteele09/go-oauth-engine/clients"
	oautherrors "github.com/jrsteele09/go-oauth-engine/internal/errors"
)

var _ clients.Repo = (*ClientRepo)(nil)

type ClientRepo struct {
	clients map[string]*clients.Client
	lock    sync.RWMutex
}

func New() *ClientRepo {
	return &ClientRepo{
		clients: make(map[string]*clients.Client),
	}
}

func (r *ClientRepo) Upsert(_ context.Context, client *clients.Client) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if client.ID == "" {
		client.ID = uuid.New().String()
	}
	stored := *client
	r.clients[client.ID] = &stored
	return nil
}

func (r *ClientRepo) Delete(_ context.Context, clientID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.clients, clientID)
	return nil
}

func (r *ClientRepo) Get(_ context.Context, clientID string) (*clients.Client, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	client, ok := r.clients[clientID]
	if !ok {
		return nil, errors.Wrapf(oautherrors.ErrNotFound, "[ClientRepo.Get] client %s", clientID)
	}
	c := *client
	return &c, nil
}

func (r *ClientRepo) List(_ context.Context, offset, limit int) ([]*clients.Client, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	list := make([]*clients.Client, 0, len(r.clients))
	for _, v := range r.clients {
		c := *v
		list = append(list, &c)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
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
