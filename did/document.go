package did

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"

	"github.com/pilacorp/go-did-agent/kms"
)

// Canonical returns did with an Ethereum address identity in EIP-55 checksum form.
// Anything that does not parse is returned unchanged.
func Canonical(did string) string {
	u, err := Parse(did)
	if err != nil {
		return did
	}

	identity := u.Identity()
	if !common.IsHexAddress(identity) {
		return u.DID
	}

	return strings.TrimSuffix(u.DID, identity) + common.HexToAddress(identity).Hex()
}

// LocalDocument projects a managed identifier to its DID Document.
//
// When the DID identity is an Ethereum address the document starts with the "#controller"
// recovery method bound to it. Each key follows as "#key-N" in insertion order; signing keys
// are listed under authentication and assertionMethod, X25519 keys under keyAgreement.
// Services are copied as stored.
func LocalDocument(id *Identifier) (*Document, error) {
	u, err := Parse(id.DID)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Context:            []string{ContextDIDv1, ContextSecp256k1Recovery, ContextSecurityV3Unstable},
		ID:                 id.DID,
		VerificationMethod: []VerificationMethod{},
		Authentication:     []string{},
		AssertionMethod:    []string{},
	}

	if identity := u.Identity(); common.IsHexAddress(identity) {
		vmID := id.DID + "#" + ControllerFragment

		doc.VerificationMethod = append(doc.VerificationMethod, VerificationMethod{
			ID:                  vmID,
			Type:                TypeSecp256k1RecoveryMethod2020,
			Controller:          id.DID,
			BlockchainAccountID: BlockchainAccountID(u.Network(), common.HexToAddress(identity)),
		})
		doc.Authentication = append(doc.Authentication, vmID)
		doc.AssertionMethod = append(doc.AssertionMethod, vmID)
	}

	for i, key := range id.Keys {
		vm, err := keyVerificationMethod(id.DID, fmt.Sprintf("%s#key-%d", id.DID, i+1), key)
		if err != nil {
			return nil, err
		}

		doc.VerificationMethod = append(doc.VerificationMethod, vm)

		if key.Type == kms.X25519 {
			doc.KeyAgreement = append(doc.KeyAgreement, vm.ID)
			continue
		}

		doc.Authentication = append(doc.Authentication, vm.ID)
		doc.AssertionMethod = append(doc.AssertionMethod, vm.ID)
	}

	if len(id.Services) > 0 {
		doc.Service = append([]Service(nil), id.Services...)
	}

	return doc, nil
}

// BlockchainAccountID formats a CAIP-10 account id.
func BlockchainAccountID(chainID string, addr common.Address) string {
	if chainID == "" {
		chainID = "1"
	}

	return fmt.Sprintf("eip155:%s:%s", chainID, addr.Hex())
}

func keyVerificationMethod(controller, vmID string, key kms.Key) (VerificationMethod, error) {
	vm := VerificationMethod{ID: vmID, Controller: controller}

	switch key.Type {
	case kms.Secp256k1:
		vm.Type = TypeSecp256k1VerificationKey2019
		vm.PublicKeyHex = key.PublicKeyHex
	case kms.Ed25519, kms.X25519:
		raw, err := hex.DecodeString(key.PublicKeyHex)
		if err != nil {
			return vm, fmt.Errorf("failed to decode public key %s: %w", key.KID, err)
		}

		vm.Type = TypeEd25519VerificationKey2018
		if key.Type == kms.X25519 {
			vm.Type = TypeX25519KeyAgreementKey2019
		}

		vm.PublicKeyBase58 = base58.Encode(raw)
	default:
		return vm, fmt.Errorf("unsupported key type %q", key.Type)
	}

	return vm, nil
}
