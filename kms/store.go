package kms

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
	"github.com/pilacorp/go-did-agent/storage"
)

const (
	keyStoreName        = "keys"
	privateKeyStoreName = "private-keys"
)

// KeyStore persists the public metadata of managed keys, keyed by KID.
type KeyStore struct {
	store storage.Store
}

// NewKeyStore opens the key metadata namespace of p.
func NewKeyStore(p storage.Provider) (*KeyStore, error) {
	s, err := p.OpenStore(keyStoreName)
	if err != nil {
		return nil, fmt.Errorf("failed to open key store: %w", err)
	}

	return &KeyStore{store: s}, nil
}

// Put stores key metadata.
func (s *KeyStore) Put(key *Key) error {
	b, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("failed to marshal key: %w", err)
	}

	return s.store.Put(key.KID, b)
}

// Get returns the key metadata for kid.
func (s *KeyStore) Get(kid string) (*Key, error) {
	b, err := s.store.Get(kid)
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return nil, dErrors.ErrKeyNotFound.Errorf("key %s not found", kid)
		}

		return nil, fmt.Errorf("failed to get key %s: %w", kid, err)
	}

	var key Key
	if err := json.Unmarshal(b, &key); err != nil {
		return nil, fmt.Errorf("failed to unmarshal key %s: %w", kid, err)
	}

	return &key, nil
}

// List returns every stored key ordered by KID.
func (s *KeyStore) List() ([]*Key, error) {
	kids, err := s.store.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	keys := make([]*Key, 0, len(kids))
	for _, kid := range kids {
		k, err := s.Get(kid)
		if err != nil {
			return nil, err
		}

		keys = append(keys, k)
	}

	return keys, nil
}

// Delete removes key metadata.
func (s *KeyStore) Delete(kid string) error {
	return s.store.Delete(kid)
}

// ManagedPrivateKey is a private key record as held by a KMS.
type ManagedPrivateKey struct {
	Alias         string  `json:"alias"`
	Type          KeyType `json:"type"`
	PrivateKeyHex string  `json:"-"`
}

type sealedPrivateKey struct {
	Alias  string  `json:"alias"`
	Type   KeyType `json:"type"`
	Sealed string  `json:"privateKeyHex"`
}

// PrivateKeyStore persists private keys sealed with a SecretBox.
type PrivateKeyStore struct {
	store storage.Store
	box   *SecretBox
}

// NewPrivateKeyStore opens the private key namespace of p. A nil box is a configuration error;
// private keys are never written in the clear.
func NewPrivateKeyStore(p storage.Provider, box *SecretBox) (*PrivateKeyStore, error) {
	if box == nil {
		return nil, dErrors.ErrMissingSecret.Errorf("private key store requires a secret box")
	}

	s, err := p.OpenStore(privateKeyStoreName)
	if err != nil {
		return nil, fmt.Errorf("failed to open private key store: %w", err)
	}

	return &PrivateKeyStore{store: s, box: box}, nil
}

// Put seals and stores a private key.
func (s *PrivateKeyStore) Put(key *ManagedPrivateKey) error {
	raw, err := hex.DecodeString(key.PrivateKeyHex)
	if err != nil {
		return dErrors.ErrInvalidInput.WithCause(err, "private key is not valid hex")
	}

	sealed, err := s.box.Encrypt(raw)
	if err != nil {
		return fmt.Errorf("failed to seal private key: %w", err)
	}

	b, err := json.Marshal(sealedPrivateKey{Alias: key.Alias, Type: key.Type, Sealed: hex.EncodeToString(sealed)})
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}

	return s.store.Put(key.Alias, b)
}

// Get loads and opens the private key stored under alias.
func (s *PrivateKeyStore) Get(alias string) (*ManagedPrivateKey, error) {
	b, err := s.store.Get(alias)
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return nil, dErrors.ErrKeyNotFound.Errorf("private key %s not found", alias)
		}

		return nil, fmt.Errorf("failed to get private key %s: %w", alias, err)
	}

	var rec sealedPrivateKey
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal private key %s: %w", alias, err)
	}

	sealed, err := hex.DecodeString(rec.Sealed)
	if err != nil {
		return nil, dErrors.ErrDecryptFailed.WithCause(err, "sealed private key %s is corrupt", alias)
	}

	raw, err := s.box.Decrypt(sealed)
	if err != nil {
		return nil, err
	}

	return &ManagedPrivateKey{Alias: rec.Alias, Type: rec.Type, PrivateKeyHex: hex.EncodeToString(raw)}, nil
}

// Delete removes a private key.
func (s *PrivateKeyStore) Delete(alias string) error {
	return s.store.Delete(alias)
}
