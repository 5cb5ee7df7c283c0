package kms

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"

	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
)

const (
	secretKeyLength = 32
	nonceLength     = 24
)

// SecretBox seals private key material with NaCl secretbox (XSalsa20-Poly1305).
// Sealed values are nonce || box. Losing the secret key makes every sealed value
// permanently unreadable.
type SecretBox struct {
	key [secretKeyLength]byte
}

// NewSecretBox creates a SecretBox from a 32-byte hex-encoded secret.
func NewSecretBox(secretKeyHex string) (*SecretBox, error) {
	if secretKeyHex == "" {
		return nil, dErrors.ErrMissingSecret.Errorf("kms secret key is empty")
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(secretKeyHex, "0x"))
	if err != nil {
		return nil, dErrors.ErrMissingSecret.WithCause(err, "kms secret key is not valid hex")
	}

	if len(raw) != secretKeyLength {
		return nil, dErrors.ErrMissingSecret.Errorf("kms secret key must be %d bytes, got %d", secretKeyLength, len(raw))
	}

	b := &SecretBox{}
	copy(b.key[:], raw)

	return b, nil
}

// GenerateSecretKey returns a fresh random 32-byte secret, hex encoded.
func GenerateSecretKey() (string, error) {
	var k [secretKeyLength]byte
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return "", fmt.Errorf("failed to generate secret key: %w", err)
	}

	return hex.EncodeToString(k[:]), nil
}

// Encrypt seals plaintext under a random nonce.
func (b *SecretBox) Encrypt(plaintext []byte) ([]byte, error) {
	var nonce [nonceLength]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, &b.key), nil
}

// Decrypt opens a value produced by Encrypt.
func (b *SecretBox) Decrypt(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceLength+secretbox.Overhead {
		return nil, dErrors.ErrDecryptFailed.Errorf("sealed value too short")
	}

	var nonce [nonceLength]byte
	copy(nonce[:], sealed[:nonceLength])

	plaintext, ok := secretbox.Open(nil, sealed[nonceLength:], &nonce, &b.key)
	if !ok {
		return nil, dErrors.ErrDecryptFailed.Errorf("secretbox authentication failed")
	}

	return plaintext, nil
}
