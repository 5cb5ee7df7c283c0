package issuer

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pilacorp/go-did-agent/did"
	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
	"github.com/pilacorp/go-did-agent/kms"
)

// signingKey is a key of an identifier together with the verification method that
// publishes it in the identifier's DID Document.
type signingKey struct {
	key                kms.Key
	verificationMethod string
	alg                string
}

// selectSigningKey picks the key of id that signs with alg. With keyRef only that key is
// considered; otherwise the controller key is tried first, then the others in order.
// An empty alg accepts any key with a signer and uses its default algorithm.
func selectSigningKey(id *did.Identifier, keyRef, alg string) (*signingKey, error) {
	order := make([]int, 0, len(id.Keys))

	for i, k := range id.Keys {
		switch {
		case keyRef != "" && k.KID != keyRef:
		case k.KID == id.ControllerKeyID:
			order = append([]int{i}, order...)
		default:
			order = append(order, i)
		}
	}

	for _, i := range order {
		k := id.Keys[i]

		keyAlg := alg
		if keyAlg == "" {
			keyAlg = k.Type.DefaultAlgorithm()
		}

		if keyAlg == "" || !k.Type.Supports(keyAlg) {
			continue
		}

		return &signingKey{
			key:                k,
			verificationMethod: verificationMethodID(id, i),
			alg:                keyAlg,
		}, nil
	}

	if keyRef != "" {
		return nil, dErrors.ErrSigningKeyMissing.Errorf("%s has no key %s that signs with %q", id.DID, keyRef, alg)
	}

	return nil, dErrors.ErrSigningKeyMissing.Errorf("%s has no key that signs with %q", id.DID, alg)
}

// verificationMethodID matches the ids assigned by did.LocalDocument: a secp256k1
// controller key of an address-based DID is "#controller", every key is also "#key-N".
func verificationMethodID(id *did.Identifier, index int) string {
	k := id.Keys[index]

	if k.KID == id.ControllerKeyID && k.Type == kms.Secp256k1 {
		if u, err := did.Parse(id.DID); err == nil && common.IsHexAddress(u.Identity()) {
			return id.DID + "#" + did.ControllerFragment
		}
	}

	return fmt.Sprintf("%s#key-%d", id.DID, index+1)
}
