package jwt

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/golang-jwt/jwt/v5"

	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
	"github.com/pilacorp/go-did-agent/kms"
)

const TokenType = "JWT"

// Signer signs payloads with managed keys. *kms.KeyManager satisfies it.
type Signer interface {
	Sign(ctx context.Context, kid string, payload []byte, algorithm string) ([]byte, error)
}

// KeySigner binds a managed key to the Signer holding it, so token signing methods can use it
// as their key. It carries the context of the signing call because jwt.SigningMethod has none.
type KeySigner struct {
	ctx    context.Context
	signer Signer
	key    kms.Key
	public crypto.PublicKey
}

// NewKeySigner returns a KeySigner for key. Only Secp256k1 and Ed25519 keys can sign tokens.
func NewKeySigner(ctx context.Context, signer Signer, key kms.Key) (*KeySigner, error) {
	raw, err := hex.DecodeString(key.PublicKeyHex)
	if err != nil {
		return nil, dErrors.ErrInvalidInput.WithCause(err, "public key of %s is not valid hex", key.KID)
	}

	s := &KeySigner{ctx: ctx, signer: signer, key: key}

	switch key.Type {
	case kms.Secp256k1:
		pub, err := secp256k1.ParsePubKey(raw)
		if err != nil {
			return nil, dErrors.ErrInvalidInput.WithCause(err, "invalid secp256k1 public key %s", key.KID)
		}

		s.public = pub.ToECDSA()
	case kms.Ed25519:
		if len(raw) != ed25519.PublicKeySize {
			return nil, dErrors.ErrInvalidInput.Errorf("invalid ed25519 public key %s", key.KID)
		}

		s.public = ed25519.PublicKey(raw)
	default:
		return nil, dErrors.ErrUnsupportedAlgorithm.Errorf("key type %s cannot sign tokens", key.Type)
	}

	return s, nil
}

// Key returns the signing key.
func (s *KeySigner) Key() kms.Key {
	return s.key
}

// Public implements crypto.Signer.
func (s *KeySigner) Public() crypto.PublicKey {
	return s.public
}

// Sign implements crypto.Signer for Ed25519 keys. The message is passed unhashed.
func (s *KeySigner) Sign(_ io.Reader, message []byte, _ crypto.SignerOpts) ([]byte, error) {
	if s.key.Type != kms.Ed25519 {
		return nil, dErrors.ErrUnsupportedAlgorithm.Errorf("key %s is not an ed25519 key", s.key.KID)
	}

	return s.signWith(message, kms.AlgEdDSA)
}

func (s *KeySigner) signWith(data []byte, alg string) ([]byte, error) {
	sig, err := s.signer.Sign(s.ctx, s.key.KID, data, alg)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return sig, nil
}

// Sign encodes claims as a compact JWS signed by s. An empty alg selects the key type's
// default algorithm; kid, when set, is written to the header.
//
// Header and claims are serialized with sorted keys and both ES256K and EdDSA signatures are
// deterministic, so equal inputs produce equal tokens.
func Sign(s *KeySigner, alg, kid string, claims jwt.MapClaims) (string, error) {
	if alg == "" {
		alg = s.key.Type.DefaultAlgorithm()
	}

	if !s.key.Type.Supports(alg) {
		return "", dErrors.ErrUnsupportedAlgorithm.Errorf("key %s of type %s cannot sign %s tokens", s.key.KID, s.key.Type, alg)
	}

	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return "", dErrors.ErrUnsupportedAlgorithm.Errorf("no signing method for %s", alg)
	}

	token := jwt.NewWithClaims(method, claims)
	token.Header["typ"] = TokenType

	if kid != "" {
		token.Header["kid"] = kid
	}

	signed, err := token.SignedString(s)
	if err != nil {
		return "", err
	}

	return signed, nil
}
