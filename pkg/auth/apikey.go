package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
)

// APIKeyStore validates API keys
type APIKeyStore interface {
	ValidateKey(ctx context.Context, key string) (*APIKeyInfo, error)
}

// APIKeyInfo contains metadata about an API key
type APIKeyInfo struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// StaticKeyStore accepts the single key from the config file.
type StaticKeyStore struct {
	hash [sha256.Size]byte
	info APIKeyInfo
}

// NewStaticKeyStore returns nil when key is empty so that API key
// authentication is disabled.
func NewStaticKeyStore(key string, role Role) *StaticKeyStore {
	if key == "" {
		return nil
	}
	return &StaticKeyStore{
		hash: sha256.Sum256([]byte(key)),
		info: APIKeyInfo{Name: "config", Role: role},
	}
}

// ValidateKey compares hashes in constant time.
func (s *StaticKeyStore) ValidateKey(ctx context.Context, key string) (*APIKeyInfo, error) {
	if key == "" {
		return nil, ErrMissingToken
	}
	got := sha256.Sum256([]byte(key))
	if subtle.ConstantTimeCompare(got[:], s.hash[:]) != 1 {
		return nil, ErrInvalidToken
	}
	info := s.info
	return &info, nil
}
