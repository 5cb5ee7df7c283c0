package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	ProofTypeDataIntegrity   = "DataIntegrityProof"
	CryptosuiteECDSARdfc2019 = "ecdsa-rdfc-2019"
)

// ECDSAVerifySignature verifies a secp256k1 signature over digest. signature is R||S or
// R||S||V. key is a *ecdsa.PublicKey, a serialized public key, or the common.Address of a
// recovery method, in which case the signer is recovered from the signature.
func ECDSAVerifySignature(key interface{}, signature, digest []byte) (bool, error) {
	if len(signature) != 64 && len(signature) != 65 {
		return false, fmt.Errorf("invalid signature length: got %d, want 64 or 65 bytes", len(signature))
	}

	switch k := key.(type) {
	case common.Address:
		return recoversTo(signature, digest, k), nil
	case *ecdsa.PublicKey:
		return verifyRS(crypto.FromECDSAPub(k), signature[:64], digest)
	case []byte:
		return verifyRS(k, signature[:64], digest)
	}

	return false, fmt.Errorf("unsupported verification key %T", key)
}

func verifyRS(pubKeyBytes, rs, digest []byte) (bool, error) {
	pub, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false, fmt.Errorf("failed to parse public key: %w", err)
	}

	var r, s btcec.ModNScalar
	if r.SetByteSlice(rs[:32]) || s.SetByteSlice(rs[32:]) {
		return false, nil
	}

	return btcecdsa.NewSignature(&r, &s).Verify(digest, pub), nil
}

func recoversTo(signature, digest []byte, addr common.Address) bool {
	ids := []byte{0, 1}
	if len(signature) == 65 {
		v := signature[64]
		if v >= 27 {
			v -= 27
		}

		ids = []byte{v}
	}

	for _, v := range ids {
		rsv := make([]byte, 65)
		copy(rsv, signature[:64])
		rsv[64] = v

		if pub, err := crypto.SigToPub(digest, rsv); err == nil && crypto.PubkeyToAddress(*pub) == addr {
			return true
		}
	}

	return false
}
