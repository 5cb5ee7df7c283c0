package jwt

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"

	"github.com/pilacorp/go-did-agent/kms"
)

// ErrES256KVerification is returned when a secp256k1 signature does not match the key.
var ErrES256KVerification = errors.New("crypto/secp256k1: verification error")

// SigningMethodSecp256k1 implements ES256K (64-byte R||S) and ES256K-R (R||S||V) over
// SHA-256 of the signing input.
type SigningMethodSecp256k1 struct {
	alg         string
	recoverable bool
}

var (
	SigningMethodES256K  = &SigningMethodSecp256k1{alg: kms.AlgES256K}
	SigningMethodES256KR = &SigningMethodSecp256k1{alg: kms.AlgES256KR, recoverable: true}
)

func init() {
	jwt.RegisterSigningMethod(SigningMethodES256K.Alg(), func() jwt.SigningMethod {
		return SigningMethodES256K
	})
	jwt.RegisterSigningMethod(SigningMethodES256KR.Alg(), func() jwt.SigningMethod {
		return SigningMethodES256KR
	})
}

func (m *SigningMethodSecp256k1) Alg() string {
	return m.alg
}

// Sign signs through the KMS behind key, which must be a *KeySigner.
func (m *SigningMethodSecp256k1) Sign(signingString string, key interface{}) ([]byte, error) {
	s, ok := key.(*KeySigner)
	if !ok {
		return nil, fmt.Errorf("%s sign expects *KeySigner: %w", m.alg, jwt.ErrInvalidKeyType)
	}

	sig, err := s.signWith([]byte(signingString), m.alg)
	if err != nil {
		return nil, err
	}

	if len(sig) != m.sigLen() {
		return nil, fmt.Errorf("%s signature has %d bytes, want %d", m.alg, len(sig), m.sigLen())
	}

	return sig, nil
}

// sigLen is 64 for ES256K and 65 for ES256K-R. Any other length is rejected, so a token has
// exactly one valid signature encoding.
func (m *SigningMethodSecp256k1) sigLen() int {
	if m.recoverable {
		return 65
	}

	return 64
}

// Verify checks sig against key, which is either a *ecdsa.PublicKey or the
// common.Address of a recovery method.
func (m *SigningMethodSecp256k1) Verify(signingString string, sig []byte, key interface{}) error {
	if len(sig) != m.sigLen() {
		return ErrES256KVerification
	}

	hash := sha256.Sum256([]byte(signingString))

	switch k := key.(type) {
	case *ecdsa.PublicKey:
		if !crypto.VerifySignature(crypto.FromECDSAPub(k), hash[:], sig[:64]) {
			return ErrES256KVerification
		}

		return nil
	case common.Address:
		for _, v := range m.recoveryIDs(sig) {
			rsv := make([]byte, 65)
			copy(rsv, sig[:64])
			rsv[64] = v

			pub, err := crypto.SigToPub(hash[:], rsv)
			if err == nil && crypto.PubkeyToAddress(*pub) == k {
				return nil
			}
		}

		return ErrES256KVerification
	}

	return fmt.Errorf("%s verify expects *ecdsa.PublicKey or common.Address: %w", m.alg, jwt.ErrInvalidKeyType)
}

func (m *SigningMethodSecp256k1) recoveryIDs(sig []byte) []byte {
	if m.recoverable {
		v := sig[64]
		if v >= 27 {
			v -= 27
		}

		return []byte{v}
	}

	return []byte{0, 1}
}
