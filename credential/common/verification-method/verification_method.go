package verificationmethod

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"

	"github.com/pilacorp/go-did-agent/did"
	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
	"github.com/pilacorp/go-did-agent/kms"
)

// Resolver resolves a DID to its document.
type Resolver interface {
	Resolve(ctx context.Context, didURL string) (*did.Document, error)
}

// Candidates returns the methods of doc that may have produced an assertion.
// A non-empty kid selects exactly that method.
func Candidates(doc *did.Document, kid string) ([]did.VerificationMethod, error) {
	if kid != "" {
		vm, ok := doc.VerificationMethodByID(kid)
		if !ok {
			return nil, dErrors.ErrKeyNotFound.Errorf("verification method %s not found in %s", kid, doc.ID)
		}

		return []did.VerificationMethod{vm}, nil
	}

	var methods []did.VerificationMethod

	seen := make(map[string]bool)
	for _, vm := range append(doc.AssertionMethods(), doc.AuthenticationMethods()...) {
		if !seen[vm.ID] {
			seen[vm.ID] = true
			methods = append(methods, vm)
		}
	}

	return methods, nil
}

// Keys returns the key material of every candidate method usable with alg.
func Keys(doc *did.Document, kid, alg string) ([]interface{}, error) {
	methods, err := Candidates(doc, kid)
	if err != nil {
		return nil, err
	}

	keys := make([]interface{}, 0, len(methods))

	for _, vm := range methods {
		key, err := PublicKey(vm, alg)
		if err != nil {
			continue
		}

		keys = append(keys, key)
	}

	if len(keys) == 0 {
		return nil, dErrors.ErrKeyNotFound.Errorf("%s has no verification method for %s", doc.ID, alg)
	}

	return keys, nil
}

// Lookup resolves the DID of a verification method URL and returns the key material it names.
func Lookup(ctx context.Context, r Resolver, verificationMethodURL, alg string) (interface{}, error) {
	didPart, _, found := strings.Cut(verificationMethodURL, "#")
	if !found || didPart == "" {
		return nil, dErrors.ErrInvalidInput.Errorf("invalid verification method URL %q", verificationMethodURL)
	}

	doc, err := r.Resolve(ctx, didPart)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve DID '%s': %w", didPart, err)
	}

	vm, ok := doc.VerificationMethodByID(verificationMethodURL)
	if !ok {
		return nil, dErrors.ErrKeyNotFound.Errorf("verification method '%s' not found in DID document", verificationMethodURL)
	}

	return PublicKey(vm, alg)
}

// PublicKey returns the key material of vm usable with alg: *ecdsa.PublicKey or
// common.Address for ES256K and ES256K-R, ed25519.PublicKey for EdDSA.
func PublicKey(vm did.VerificationMethod, alg string) (interface{}, error) {
	switch alg {
	case kms.AlgES256K, kms.AlgES256KR:
		if vm.BlockchainAccountID != "" {
			addr := vm.BlockchainAccountID[strings.LastIndex(vm.BlockchainAccountID, ":")+1:]
			if !common.IsHexAddress(addr) {
				return nil, dErrors.ErrInvalidInput.Errorf("invalid blockchainAccountId %q", vm.BlockchainAccountID)
			}

			return common.HexToAddress(addr), nil
		}

		if vm.PublicKeyJwk != nil {
			return ecJWK(vm)
		}

		raw, err := keyBytes(vm)
		if err != nil {
			return nil, err
		}

		pub, err := secp256k1.ParsePubKey(raw)
		if err != nil {
			return nil, dErrors.ErrInvalidInput.WithCause(err, "invalid secp256k1 key in %s", vm.ID)
		}

		return pub.ToECDSA(), nil
	case kms.AlgEdDSA:
		var (
			raw []byte
			err error
		)

		switch {
		case vm.PublicKeyJwk != nil && vm.PublicKeyJwk.Crv == "Ed25519":
			raw, err = base64.RawURLEncoding.DecodeString(vm.PublicKeyJwk.X)
		case strings.HasPrefix(vm.Type, "Ed25519"):
			raw, err = keyBytes(vm)
		default:
			return nil, dErrors.ErrUnsupportedAlgorithm.Errorf("%s of type %s cannot verify %s", vm.ID, vm.Type, alg)
		}

		if err != nil {
			return nil, err
		}

		if len(raw) != ed25519.PublicKeySize {
			return nil, dErrors.ErrInvalidInput.Errorf("invalid ed25519 key in %s", vm.ID)
		}

		return ed25519.PublicKey(raw), nil
	}

	return nil, dErrors.ErrUnsupportedAlgorithm.Errorf("unsupported algorithm %q", alg)
}

func keyBytes(vm did.VerificationMethod) ([]byte, error) {
	var (
		raw []byte
		err error
	)

	switch {
	case vm.PublicKeyHex != "":
		raw, err = hex.DecodeString(strings.TrimPrefix(vm.PublicKeyHex, "0x"))
	case vm.PublicKeyBase58 != "":
		raw, err = base58.Decode(vm.PublicKeyBase58)
	case vm.PublicKeyBase64 != "":
		raw, err = base64.StdEncoding.DecodeString(vm.PublicKeyBase64)
	default:
		return nil, dErrors.ErrInvalidInput.Errorf("%s carries no public key", vm.ID)
	}

	if err != nil {
		return nil, dErrors.ErrInvalidInput.WithCause(err, "failed to decode public key of %s", vm.ID)
	}

	return raw, nil
}

func ecJWK(vm did.VerificationMethod) (*ecdsa.PublicKey, error) {
	jwk := vm.PublicKeyJwk
	if jwk.Kty != "EC" || jwk.Crv != "secp256k1" {
		return nil, dErrors.ErrUnsupportedAlgorithm.Errorf("%s: unsupported JWK %s/%s", vm.ID, jwk.Kty, jwk.Crv)
	}

	x, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, dErrors.ErrInvalidInput.WithCause(err, "invalid JWK x in %s", vm.ID)
	}

	y, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, dErrors.ErrInvalidInput.WithCause(err, "invalid JWK y in %s", vm.ID)
	}

	var fx, fy secp256k1.FieldVal
	if fx.SetByteSlice(x) || fy.SetByteSlice(y) {
		return nil, dErrors.ErrInvalidInput.Errorf("JWK coordinates of %s overflow the field", vm.ID)
	}

	pub := secp256k1.NewPublicKey(&fx, &fy)
	if !pub.IsOnCurve() {
		return nil, dErrors.ErrInvalidInput.Errorf("JWK of %s is not on secp256k1", vm.ID)
	}

	return pub.ToECDSA(), nil
}
