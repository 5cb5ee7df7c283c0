package did

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
	"github.com/pilacorp/go-did-agent/kms"
)

const (
	DefaultMethod  = "ethr"
	DefaultChainID = 1337
)

// Provider derives DIDs for one DID method from controller keys.
type Provider interface {
	// Name is the provider name, "did:<method>".
	Name() string
	Derive(controllerKey kms.Key) (string, error)
}

// EthrProvider derives did:<method>:<chainId>:<checksum address> identifiers.
type EthrProvider struct {
	method  string
	chainID int64
}

// NewEthrProvider creates an EthrProvider. Empty method and zero chainID fall back to the defaults.
func NewEthrProvider(method string, chainID int64) *EthrProvider {
	if method == "" {
		method = DefaultMethod
	}

	if chainID == 0 {
		chainID = DefaultChainID
	}

	return &EthrProvider{method: method, chainID: chainID}
}

func (p *EthrProvider) Name() string {
	return "did:" + p.method
}

func (p *EthrProvider) Method() string {
	return p.method
}

func (p *EthrProvider) ChainID() int64 {
	return p.chainID
}

// Derive returns the DID controlled by a secp256k1 key.
func (p *EthrProvider) Derive(controllerKey kms.Key) (string, error) {
	if controllerKey.Type != kms.Secp256k1 {
		return "", dErrors.ErrInvalidInput.Errorf("%s identifiers need a %s controller key, got %s",
			p.Name(), kms.Secp256k1, controllerKey.Type)
	}

	addr, err := AddressFromPublicKeyHex(controllerKey.PublicKeyHex)
	if err != nil {
		return "", err
	}

	return p.DIDForAddress(addr), nil
}

// DIDForAddress formats the DID of an Ethereum address.
func (p *EthrProvider) DIDForAddress(addr common.Address) string {
	return fmt.Sprintf("did:%s:%d:%s", p.method, p.chainID, addr.Hex())
}

// AddressFromPublicKeyHex returns the Ethereum address of a compressed or uncompressed
// secp256k1 public key.
func AddressFromPublicKeyHex(publicKeyHex string) (common.Address, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(publicKeyHex, "0x"))
	if err != nil {
		return common.Address{}, dErrors.ErrInvalidInput.WithCause(err, "public key is not valid hex")
	}

	switch len(raw) {
	case 33:
		pub, err := crypto.DecompressPubkey(raw)
		if err != nil {
			return common.Address{}, dErrors.ErrInvalidInput.WithCause(err, "invalid compressed public key")
		}

		return crypto.PubkeyToAddress(*pub), nil
	case 65:
		pub, err := crypto.UnmarshalPubkey(raw)
		if err != nil {
			return common.Address{}, dErrors.ErrInvalidInput.WithCause(err, "invalid uncompressed public key")
		}

		return crypto.PubkeyToAddress(*pub), nil
	}

	return common.Address{}, dErrors.ErrInvalidInput.Errorf("unexpected public key length %d", len(raw))
}

// IdentityAddress returns the registry identity of an ethr method-specific id, which is
// either an address or a public key.
func IdentityAddress(identity string) (common.Address, error) {
	if common.IsHexAddress(identity) {
		return common.HexToAddress(identity), nil
	}

	return AddressFromPublicKeyHex(identity)
}
