package valkey

import (
	"context"
	"fmt"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
	"golang.org/x/crypto/bcrypt"

	"github.com/onimsha/airtable-mcp-server-oauth/storage"
)

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a registered client. Clients do not expire.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, span := s.startSpan(ctx, "save_client")
	defer s.finishSpan(ctx, span, "save_client", time.Now(), &err)

	if client == nil {
		return fmt.Errorf("invalid client")
	}
	if err := validateKey(client.ClientID, "client_id"); err != nil {
		return err
	}

	data, err := s.encode(client)
	if err != nil {
		return err
	}
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.clientKey(client.ClientID)).Value(data).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if clientID == "" || len(clientID) > MaxKeyLength {
		return nil, storage.ErrClientNotFound
	}

	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.clientKey(clientID)).Build()).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var client storage.Client
	if err := s.decode([]byte(data), &client); err != nil {
		return nil, err
	}
	return &client, nil
}

// ValidateClientSecret compares secret against the stored bcrypt hash.
// A bcrypt comparison is always performed, even for unknown clients.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	client, err := s.GetClient(ctx, clientID)

	hash := storage.DummySecretHash
	if err == nil && client.ClientSecretHash != "" {
		hash = client.ClientSecretHash
	}
	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hash), []byte(clientSecret))

	if err != nil {
		return storage.ErrInvalidClientCredentials
	}
	if client.IsPublic() {
		return nil
	}
	if bcryptErr != nil {
		return storage.ErrInvalidClientCredentials
	}
	return nil
}
