package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// API key format constants. The control-plane HTTP API (internal/api) uses
// these to authenticate operator/CLI clients — the Intent API itself never
// checks them, since Intent calls are in-process.
const (
	randomBytesSize = 32
	apiKeyPrefix    = "taskforge_ak_"
	apiKeyLength    = len(apiKeyPrefix) + 64
	prefixLen       = 18
	suffixLen       = 4
)

// Sentinel errors for API key operations.
var (
	ErrKeyAlreadyExists = errors.New("store: API key already exists")
	ErrKeyNotFound      = errors.New("store: API key not found")
	ErrKeyNil           = errors.New("store: API key cannot be nil")
	ErrKeyStringEmpty   = errors.New("store: key string cannot be empty")
)

// APIKey is an operator credential for the control-plane HTTP API.
type APIKey struct {
	ID          string
	Key         string // bcrypt hash once loaded from storage; plaintext only at creation time
	ClientName  string
	Permissions []string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	Active      bool
}

// APIKeyStore defines storage for operator API keys.
type APIKeyStore interface {
	FindByKey(ctx context.Context, key string) (*APIKey, bool)
	Add(ctx context.Context, apiKey *APIKey) error
	Update(ctx context.Context, apiKey *APIKey) error
	Delete(ctx context.Context, keyID string) error
	ListByClient(ctx context.Context, clientName string) ([]*APIKey, error)
	HealthCheck(ctx context.Context) error
}

// ParseAPIKey extracts the API key from an Authorization header value,
// tolerating an optional "Bearer " prefix, and validates its shape.
func ParseAPIKey(keyString string) (string, error) {
	if keyString == "" {
		return "", ErrKeyStringEmpty
	}

	keyString = strings.TrimPrefix(keyString, "Bearer ")

	if !strings.HasPrefix(keyString, apiKeyPrefix) {
		return "", fmt.Errorf("store: %w: missing %q prefix", ErrKeyNotFound, apiKeyPrefix)
	}

	if len(keyString) != apiKeyLength {
		return "", fmt.Errorf("store: %w: wrong length", ErrKeyNotFound)
	}

	return keyString, nil
}

// ValidateKey performs constant-time comparison of the provided key against
// this API key's stored (already-verified) representation.
func (ak *APIKey) ValidateKey(providedKey string) bool {
	if providedKey == "" || ak.Key == "" || !ak.Active {
		return false
	}

	if ak.ExpiresAt != nil && time.Now().After(*ak.ExpiresAt) {
		return false
	}

	return secureCompare(ak.Key, providedKey)
}

// HasPermission checks if the API key has a specific permission.
func (ak *APIKey) HasPermission(permission string) bool {
	for _, p := range ak.Permissions {
		if p == permission {
			return true
		}
	}

	return false
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		dummy := make([]byte, len(a))
		subtle.ConstantTimeCompare([]byte(a), dummy)

		return false
	}

	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// MaskKey masks an API key for safe logging, showing only prefix and suffix.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}

	if len(key) == apiKeyLength {
		maskedLen := len(key) - prefixLen - suffixLen

		return key[:prefixLen] + strings.Repeat("*", maskedLen) + key[len(key)-suffixLen:]
	}

	return strings.Repeat("*", len(key))
}

// ComputeKeyLookupHash computes the SHA256 hash of an API key for O(1) lookup.
func ComputeKeyLookupHash(key string) string {
	hash := sha256.Sum256([]byte(key))

	return hex.EncodeToString(hash[:])
}

// GenerateAPIKey creates a new secure API key for a named client.
func GenerateAPIKey(clientName string) (string, error) {
	if clientName == "" {
		return "", fmt.Errorf("store: client name cannot be empty")
	}

	randomBytes := make([]byte, randomBytesSize)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("store: generate API key: %w", err)
	}

	return apiKeyPrefix + hex.EncodeToString(randomBytes), nil
}

func permissionsToJSON(permissions []string) ([]byte, error) {
	if permissions == nil {
		permissions = []string{}
	}

	return json.Marshal(permissions)
}
