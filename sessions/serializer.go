package sessions

import (
	"context"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-oauth-engine/clients"
)

// Serializer keeps only the client's id in the session and resolves it again on the way back.
type Serializer struct {
	clients clients.Repo
}

func NewSerializer(clientRepo clients.Repo) *Serializer {
	return &Serializer{clients: clientRepo}
}

func (s *Serializer) SerializeClient(client *clients.Client) string {
	return client.ID
}

// DeserializeClient looks the client up again. A client that vanished mid-transaction is an error.
func (s *Serializer) DeserializeClient(ctx context.Context, id string) (*clients.Client, error) {
	client, err := s.clients.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "[Serializer.DeserializeClient] client %s", id)
	}
	return client, nil
}
