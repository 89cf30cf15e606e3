package valkey

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/giantswarm/authd/storage"
)

// SaveClient saves a registered OAuth client to Valkey.
// Clients are stored without TTL; registrations do not expire.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil {
		return fmt.Errorf("client cannot be nil")
	}
	if err := validateStringLength(client.ClientID, MaxIDLength, "client ID"); err != nil {
		return err
	}

	data, err := json.Marshal(toClientJSON(client))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	key := s.clientKey(client.ClientID)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("%w: saving client: %v", storage.ErrUnavailable, err)
	}

	// Track the client ID in the index set so ListClients can enumerate
	// without a SCAN over the keyspace.
	if err := s.client.Do(ctx,
		s.client.B().Sadd().Key(s.clientIndexKey()).Member(client.ClientID).Build(),
	).Error(); err != nil {
		return fmt.Errorf("%w: indexing client: %v", storage.ErrUnavailable, err)
	}

	s.logger.Debug("Saved client",
		"client_id", client.ClientID,
		"client_type", client.ClientType)

	return nil
}

// GetClient retrieves a registered client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return getAndUnmarshal[clientJSON](
		ctx, s, s.clientKey(clientID),
		storage.ErrNotFound,
		fromClientJSON,
	)
}

// ListClients lists all registered clients.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	ids, err := s.client.Do(ctx,
		s.client.B().Smembers().Key(s.clientIndexKey()).Build(),
	).AsStrSlice()
	if err != nil {
		if isNilError(err) {
			return []*storage.Client{}, nil
		}
		return nil, fmt.Errorf("%w: listing clients: %v", storage.ErrUnavailable, err)
	}

	clients := make([]*storage.Client, 0, len(ids))
	for _, id := range ids {
		client, err := s.GetClient(ctx, id)
		if err != nil {
			// Index entries can outlive deleted client keys; skip holes.
			continue
		}
		clients = append(clients, client)
	}

	return clients, nil
}
