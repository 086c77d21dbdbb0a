package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/taskforge/sync/internal/config"
)

const (
	auditKeyCreated = "created"
	auditKeyUpdated = "updated"
	auditKeyDeleted = "deleted"
)

// PersistentAPIKeyStore implements APIKeyStore with a PostgreSQL backend.
type PersistentAPIKeyStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPersistentAPIKeyStore wraps an open Connection as an APIKeyStore.
func NewPersistentAPIKeyStore(conn *Connection) (*PersistentAPIKeyStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &PersistentAPIKeyStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *PersistentAPIKeyStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// FindByKey retrieves an API key by its plaintext value, verifying it with
// bcrypt after an O(1) SHA256 lookup-hash match.
func (s *PersistentAPIKeyStore) FindByKey(ctx context.Context, key string) (*APIKey, bool) {
	if key == "" {
		return nil, false
	}

	lookupHash := ComputeKeyLookupHash(key)

	const query = `
		SELECT id, key_hash, client_name, permissions, created_at, expires_at, active
		FROM api_keys WHERE key_lookup_hash = $1 LIMIT 1`

	var (
		apiKey          APIKey
		permissionsJSON []byte
	)

	err := s.conn.QueryRowContext(ctx, query, lookupHash).Scan(
		&apiKey.ID, &apiKey.Key, &apiKey.ClientName, &permissionsJSON,
		&apiKey.CreatedAt, &apiKey.ExpiresAt, &apiKey.Active,
	)
	if err != nil {
		return nil, false
	}

	if err := json.Unmarshal(permissionsJSON, &apiKey.Permissions); err != nil {
		s.logger.Error("failed to parse permissions", slog.String("error", err.Error()))

		return nil, false
	}

	if !CompareAPIKeyHash(apiKey.Key, key) {
		s.logger.Warn("key lookup hash matched but bcrypt verification failed",
			slog.String("key_id", apiKey.ID))

		return nil, false
	}

	apiKey.Key = MaskKey(apiKey.Key)

	return &apiKey, true
}

// Add stores a new API key, bcrypt-hashed with a SHA256 lookup hash for O(1)
// retrieval. apiKey.Key must hold the plaintext key on entry.
func (s *PersistentAPIKeyStore) Add(ctx context.Context, apiKey *APIKey) error {
	if apiKey == nil {
		return ErrKeyNil
	}

	if _, found := s.FindByKey(ctx, apiKey.Key); found {
		return ErrKeyAlreadyExists
	}

	lookupHash := ComputeKeyLookupHash(apiKey.Key)

	keyHash, err := HashAPIKey(apiKey.Key)
	if err != nil {
		return err
	}

	permissionsJSON, err := permissionsToJSON(apiKey.Permissions)
	if err != nil {
		return fmt.Errorf("store: serialize permissions: %w", err)
	}

	const insert = `
		INSERT INTO api_keys (id, key_hash, key_lookup_hash, client_name, permissions, created_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = s.conn.ExecContext(ctx, insert,
		apiKey.ID, keyHash, lookupHash, apiKey.ClientName, permissionsJSON,
		apiKey.CreatedAt, apiKey.ExpiresAt, apiKey.Active)
	if err != nil {
		return fmt.Errorf("store: insert API key: %w", err)
	}

	s.logAudit(ctx, auditKeyCreated, apiKey)

	return nil
}

// Update modifies name, permissions, active status and expiration. The key
// hash itself is never updatable.
func (s *PersistentAPIKeyStore) Update(ctx context.Context, apiKey *APIKey) error {
	if apiKey == nil {
		return ErrKeyNil
	}

	if apiKey.ID == "" {
		return ErrKeyNotFound
	}

	permissionsJSON, err := permissionsToJSON(apiKey.Permissions)
	if err != nil {
		return fmt.Errorf("store: serialize permissions: %w", err)
	}

	const update = `
		UPDATE api_keys SET client_name = $1, permissions = $2, active = $3, expires_at = $4 WHERE id = $5`

	res, err := s.conn.ExecContext(ctx, update, apiKey.ClientName, permissionsJSON, apiKey.Active, apiKey.ExpiresAt, apiKey.ID)
	if err != nil {
		return fmt.Errorf("store: update API key: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrKeyNotFound
	}

	s.logAudit(ctx, auditKeyUpdated, apiKey)

	return nil
}

// Delete soft-deletes an API key by setting active=false.
func (s *PersistentAPIKeyStore) Delete(ctx context.Context, keyID string) error {
	if keyID == "" {
		return ErrKeyNotFound
	}

	res, err := s.conn.ExecContext(ctx, `UPDATE api_keys SET active = FALSE WHERE id = $1`, keyID)
	if err != nil {
		return fmt.Errorf("store: delete API key: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrKeyNotFound
	}

	s.logAudit(ctx, auditKeyDeleted, &APIKey{ID: keyID})

	return nil
}

// ListByClient returns active API keys issued to a named client.
func (s *PersistentAPIKeyStore) ListByClient(ctx context.Context, clientName string) ([]*APIKey, error) {
	if clientName == "" {
		return nil, fmt.Errorf("store: client name cannot be empty")
	}

	const query = `
		SELECT id, key_hash, client_name, permissions, created_at, expires_at, active
		FROM api_keys WHERE client_name = $1 AND active = TRUE ORDER BY created_at DESC`

	rows, err := s.conn.QueryContext(ctx, query, clientName)
	if err != nil {
		return nil, fmt.Errorf("store: list API keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey

	for rows.Next() {
		var (
			apiKey          APIKey
			permissionsJSON []byte
		)

		if err := rows.Scan(
			&apiKey.ID, &apiKey.Key, &apiKey.ClientName, &permissionsJSON,
			&apiKey.CreatedAt, &apiKey.ExpiresAt, &apiKey.Active,
		); err != nil {
			continue
		}

		if err := json.Unmarshal(permissionsJSON, &apiKey.Permissions); err == nil {
			apiKey.Key = MaskKey(apiKey.Key)
			keys = append(keys, &apiKey)
		}
	}

	return keys, rows.Err()
}

func (s *PersistentAPIKeyStore) logAudit(ctx context.Context, operation string, apiKey *APIKey) {
	const insert = `
		INSERT INTO audit_log (entry_id, direction, subject, subject_id, status, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.conn.ExecContext(ctx, insert,
		newID(), DirectionInternal, "api_key", apiKey.ID, operation, "api key "+operation, time.Now().UTC())
	if err != nil {
		s.logger.Error("failed to write audit log entry for API key operation",
			slog.String("operation", operation), slog.String("error", err.Error()))
	}
}

var _ APIKeyStore = (*PersistentAPIKeyStore)(nil)
