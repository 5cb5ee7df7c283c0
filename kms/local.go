package kms

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/curve25519"

	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
)

// KeyManagementSystem holds private key material and performs operations with it.
// Keys are addressed by KID; the KeyManager keeps their public metadata.
type KeyManagementSystem interface {
	CreateKey(ctx context.Context, keyType KeyType) (*Key, error)
	ImportKey(ctx context.Context, keyType KeyType, privateKeyHex string) (*Key, error)
	DeleteKey(ctx context.Context, kid string) error
	Sign(ctx context.Context, kid string, data []byte, algorithm string) ([]byte, error)
	SignEthTX(ctx context.Context, kid string, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// LocalKMS keeps private keys in a PrivateKeyStore.
//
// Secp256k1 signatures use RFC 6979 deterministic nonces and Ed25519 is deterministic by
// construction, so signing the same data with the same key always yields the same bytes.
type LocalKMS struct {
	keys *PrivateKeyStore
}

// NewLocalKMS creates a LocalKMS over the given private key store.
func NewLocalKMS(keys *PrivateKeyStore) *LocalKMS {
	return &LocalKMS{keys: keys}
}

// CreateKey generates a fresh key.
func (l *LocalKMS) CreateKey(ctx context.Context, keyType KeyType) (*Key, error) {
	var privHex string

	switch keyType {
	case Secp256k1:
		priv, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate secp256k1 key: %w", err)
		}

		privHex = hex.EncodeToString(crypto.FromECDSA(priv))
	case Ed25519:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
		}

		privHex = hex.EncodeToString(priv)
	case X25519:
		priv := make([]byte, curve25519.ScalarSize)
		if _, err := io.ReadFull(rand.Reader, priv); err != nil {
			return nil, fmt.Errorf("failed to generate x25519 key: %w", err)
		}

		privHex = hex.EncodeToString(priv)
	default:
		return nil, dErrors.ErrUnsupportedAlgorithm.Errorf("unsupported key type %q", keyType)
	}

	return l.ImportKey(ctx, keyType, privHex)
}

// ImportKey derives the public key of privateKeyHex and stores the private key sealed.
// The KID is the hex encoded public key.
func (l *LocalKMS) ImportKey(_ context.Context, keyType KeyType, privateKeyHex string) (*Key, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	raw, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, dErrors.ErrInvalidInput.WithCause(err, "private key is not valid hex")
	}

	pub, canonical, err := derivePublicKey(keyType, raw)
	if err != nil {
		return nil, err
	}

	kid := hex.EncodeToString(pub)

	err = l.keys.Put(&ManagedPrivateKey{Alias: kid, Type: keyType, PrivateKeyHex: hex.EncodeToString(canonical)})
	if err != nil {
		return nil, fmt.Errorf("failed to store private key: %w", err)
	}

	return &Key{
		KID:          kid,
		Type:         keyType,
		PublicKeyHex: kid,
		Meta:         &KeyMeta{Algorithms: keyType.Algorithms()},
	}, nil
}

// DeleteKey removes the private key for kid.
func (l *LocalKMS) DeleteKey(_ context.Context, kid string) error {
	return l.keys.Delete(kid)
}

// Sign signs data with the key kid. An empty algorithm selects the key type's default.
//
// ES256K returns the 64-byte R||S signature over SHA-256(data); ES256K-R appends the
// recovery id (0 or 1). EdDSA signs data directly.
func (l *LocalKMS) Sign(_ context.Context, kid string, data []byte, algorithm string) ([]byte, error) {
	pk, err := l.keys.Get(kid)
	if err != nil {
		return nil, err
	}

	if algorithm == "" {
		algorithm = pk.Type.DefaultAlgorithm()
	}

	if !pk.Type.Supports(algorithm) {
		return nil, dErrors.ErrUnsupportedAlgorithm.Errorf("key type %s cannot sign with %q", pk.Type, algorithm)
	}

	raw, err := hex.DecodeString(pk.PrivateKeyHex)
	if err != nil {
		return nil, dErrors.ErrDecryptFailed.WithCause(err, "stored private key %s is corrupt", kid)
	}

	switch algorithm {
	case AlgES256K, AlgES256KR:
		priv, err := crypto.ToECDSA(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}

		hash := sha256.Sum256(data)

		sig, err := crypto.Sign(hash[:], priv)
		if err != nil {
			return nil, fmt.Errorf("signing failed: %w", err)
		}

		if algorithm == AlgES256K {
			return sig[:64], nil
		}

		return sig, nil
	case AlgEdDSA:
		return ed25519.Sign(ed25519.PrivateKey(raw), data), nil
	}

	return nil, dErrors.ErrUnsupportedAlgorithm.Errorf("unsupported algorithm %q", algorithm)
}

// SignEthTX signs an Ethereum transaction with the latest signer for chainID, so legacy
// transactions get EIP-155 replay protection and typed transactions are accepted.
func (l *LocalKMS) SignEthTX(_ context.Context, kid string, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	pk, err := l.keys.Get(kid)
	if err != nil {
		return nil, err
	}

	if pk.Type != Secp256k1 {
		return nil, dErrors.ErrUnsupportedAlgorithm.Errorf("key type %s cannot sign ethereum transactions", pk.Type)
	}

	priv, err := crypto.HexToECDSA(pk.PrivateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), priv)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	return signed, nil
}

// derivePublicKey returns the public key for raw and the canonical private key encoding to store.
func derivePublicKey(keyType KeyType, raw []byte) ([]byte, []byte, error) {
	switch keyType {
	case Secp256k1:
		priv, err := crypto.ToECDSA(raw)
		if err != nil {
			return nil, nil, dErrors.ErrInvalidInput.WithCause(err, "invalid secp256k1 private key")
		}

		return crypto.CompressPubkey(&priv.PublicKey), raw, nil
	case Ed25519:
		var priv ed25519.PrivateKey

		switch len(raw) {
		case ed25519.SeedSize:
			priv = ed25519.NewKeyFromSeed(raw)
		case ed25519.PrivateKeySize:
			priv = ed25519.PrivateKey(raw)
		default:
			return nil, nil, dErrors.ErrInvalidInput.Errorf("ed25519 private key must be %d or %d bytes", ed25519.SeedSize, ed25519.PrivateKeySize)
		}

		return priv.Public().(ed25519.PublicKey), priv, nil
	case X25519:
		if len(raw) != curve25519.ScalarSize {
			return nil, nil, dErrors.ErrInvalidInput.Errorf("x25519 private key must be %d bytes", curve25519.ScalarSize)
		}

		pub, err := curve25519.X25519(raw, curve25519.Basepoint)
		if err != nil {
			return nil, nil, dErrors.ErrInvalidInput.WithCause(err, "invalid x25519 private key")
		}

		return pub, raw, nil
	}

	return nil, nil, dErrors.ErrUnsupportedAlgorithm.Errorf("unsupported key type %q", keyType)
}
