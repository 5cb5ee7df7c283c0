// Package kms manages asymmetric keys: generation, import, encrypted storage and signing.
//
// A KeyManager keeps the public metadata of every key in a KeyStore and delegates all
// private-key operations to a named KeyManagementSystem. The bundled LocalKMS seals private
// keys with a process-held secret (see SecretBox) before they reach storage.
package kms

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
	"github.com/pilacorp/go-did-agent/storage"
)

// KeyManager creates, imports and signs with keys held by one or more KMS.
type KeyManager struct {
	store  *KeyStore
	kms    map[string]KeyManagementSystem
	logger *zap.Logger
}

// Option configures a KeyManager.
type Option func(*KeyManager)

// WithKMS registers a key management system under name.
func WithKMS(name string, k KeyManagementSystem) Option {
	return func(m *KeyManager) {
		m.kms[name] = k
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *KeyManager) {
		m.logger = l
	}
}

// NewKeyManager creates a KeyManager over store.
func NewKeyManager(store *KeyStore, opts ...Option) *KeyManager {
	m := &KeyManager{
		store:  store,
		kms:    make(map[string]KeyManagementSystem),
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// KMSNames returns the registered KMS names.
func (m *KeyManager) KMSNames() []string {
	names := make([]string, 0, len(m.kms))
	for n := range m.kms {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

func (m *KeyManager) getKMS(name string) (KeyManagementSystem, error) {
	if name == "" {
		name = DefaultKMS
	}

	k, ok := m.kms[name]
	if !ok {
		return nil, dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("kms %q is not registered", name))
	}

	return k, nil
}

// CreateKey generates a new key of keyType in the named KMS.
func (m *KeyManager) CreateKey(ctx context.Context, kmsName string, keyType KeyType) (*Key, error) {
	if !keyType.valid() {
		return nil, dErrors.ErrUnsupportedAlgorithm.Errorf("unsupported key type %q", keyType)
	}

	k, err := m.getKMS(kmsName)
	if err != nil {
		return nil, err
	}

	key, err := k.CreateKey(ctx, keyType)
	if err != nil {
		return nil, fmt.Errorf("failed to create key: %w", err)
	}

	return m.save(kmsName, key)
}

// ImportKey imports privateKeyHex into the named KMS. Importing a key that is already
// managed returns the stored key.
func (m *KeyManager) ImportKey(ctx context.Context, kmsName string, keyType KeyType, privateKeyHex string) (*Key, error) {
	if !keyType.valid() {
		return nil, dErrors.ErrUnsupportedAlgorithm.Errorf("unsupported key type %q", keyType)
	}

	k, err := m.getKMS(kmsName)
	if err != nil {
		return nil, err
	}

	key, err := k.ImportKey(ctx, keyType, privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to import key: %w", err)
	}

	if existing, err := m.store.Get(key.KID); err == nil {
		return existing, nil
	}

	return m.save(kmsName, key)
}

func (m *KeyManager) save(kmsName string, key *Key) (*Key, error) {
	if kmsName == "" {
		kmsName = DefaultKMS
	}

	key.KMS = kmsName

	if err := m.store.Put(key); err != nil {
		return nil, fmt.Errorf("failed to store key: %w", err)
	}

	m.logger.Info("key stored",
		zap.String("kid", key.KID),
		zap.String("kms", key.KMS),
		zap.String("type", string(key.Type)))

	return key, nil
}

// GetKey returns the public metadata of kid.
func (m *KeyManager) GetKey(_ context.Context, kid string) (*Key, error) {
	return m.store.Get(kid)
}

// ListKeys returns all managed keys.
func (m *KeyManager) ListKeys(_ context.Context) ([]*Key, error) {
	return m.store.List()
}

// DeleteKey removes a key from its KMS and from the key store.
func (m *KeyManager) DeleteKey(ctx context.Context, kid string) error {
	key, err := m.store.Get(kid)
	if err != nil {
		return err
	}

	k, err := m.getKMS(key.KMS)
	if err != nil {
		return err
	}

	if err := k.DeleteKey(ctx, kid); err != nil {
		return fmt.Errorf("failed to delete key from kms: %w", err)
	}

	return m.store.Delete(kid)
}

// Sign signs payload with kid using algorithm ("" selects the key type's default).
func (m *KeyManager) Sign(ctx context.Context, kid string, payload []byte, algorithm string) ([]byte, error) {
	key, err := m.store.Get(kid)
	if err != nil {
		return nil, err
	}

	if algorithm == "" {
		algorithm = key.Type.DefaultAlgorithm()
	}

	if !key.Type.Supports(algorithm) {
		return nil, dErrors.ErrUnsupportedAlgorithm.Errorf("key %s of type %s has no %q signer", kid, key.Type, algorithm)
	}

	k, err := m.getKMS(key.KMS)
	if err != nil {
		return nil, err
	}

	return k.Sign(ctx, kid, payload, algorithm)
}

// SignEthTX signs an Ethereum transaction with kid.
func (m *KeyManager) SignEthTX(ctx context.Context, kid string, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	key, err := m.store.Get(kid)
	if err != nil {
		return nil, err
	}

	k, err := m.getKMS(key.KMS)
	if err != nil {
		return nil, err
	}

	return k.SignEthTX(ctx, kid, tx, chainID)
}

// NewLocalKeyManager wires a KeyManager with a LocalKMS registered as DefaultKMS, both
// persisting into p. secretKeyHex is the 32-byte hex secret sealing private keys at rest.
func NewLocalKeyManager(p storage.Provider, secretKeyHex string, opts ...Option) (*KeyManager, error) {
	box, err := NewSecretBox(secretKeyHex)
	if err != nil {
		return nil, err
	}

	privateKeys, err := NewPrivateKeyStore(p, box)
	if err != nil {
		return nil, err
	}

	keys, err := NewKeyStore(p)
	if err != nil {
		return nil, err
	}

	opts = append([]Option{WithKMS(DefaultKMS, NewLocalKMS(privateKeys))}, opts...)

	return NewKeyManager(keys, opts...), nil
}
