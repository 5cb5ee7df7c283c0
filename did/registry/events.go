package registry

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Event is one change recorded by the registry for an identity.
type Event struct {
	Name           string
	Identity       common.Address
	BlockNumber    uint64
	PreviousChange uint64

	// DIDOwnerChanged
	Owner common.Address

	// DIDDelegateChanged
	DelegateType string
	Delegate     common.Address

	// DIDAttributeChanged
	AttributeName string
	Value         []byte

	// ValidTo is zero for owner changes and for revocations.
	ValidTo *big.Int
}

type ownerChanged struct {
	Owner          common.Address
	PreviousChange *big.Int
}

type delegateChanged struct {
	DelegateType   [32]byte
	Delegate       common.Address
	ValidTo        *big.Int
	PreviousChange *big.Int
}

type attributeChanged struct {
	Name           [32]byte
	Value          []byte
	ValidTo        *big.Int
	PreviousChange *big.Int
}

// decodeLog decodes a registry log. Logs of unknown events return ok=false.
func decodeLog(parsed abi.ABI, l types.Log) (Event, bool, error) {
	if len(l.Topics) < 2 {
		return Event{}, false, nil
	}

	ev, err := parsed.EventByID(l.Topics[0])
	if err != nil {
		return Event{}, false, nil
	}

	out := Event{
		Name:        ev.Name,
		Identity:    common.BytesToAddress(l.Topics[1].Bytes()),
		BlockNumber: l.BlockNumber,
		ValidTo:     new(big.Int),
	}

	switch ev.Name {
	case EventOwnerChanged:
		var e ownerChanged
		if err := parsed.UnpackIntoInterface(&e, ev.Name, l.Data); err != nil {
			return Event{}, false, fmt.Errorf("failed to unpack %s: %w", ev.Name, err)
		}

		out.Owner = e.Owner
		out.PreviousChange = e.PreviousChange.Uint64()
	case EventDelegateChanged:
		var e delegateChanged
		if err := parsed.UnpackIntoInterface(&e, ev.Name, l.Data); err != nil {
			return Event{}, false, fmt.Errorf("failed to unpack %s: %w", ev.Name, err)
		}

		out.DelegateType = bytes32ToString(e.DelegateType)
		out.Delegate = e.Delegate
		out.ValidTo = e.ValidTo
		out.PreviousChange = e.PreviousChange.Uint64()
	case EventAttributeChanged:
		var e attributeChanged
		if err := parsed.UnpackIntoInterface(&e, ev.Name, l.Data); err != nil {
			return Event{}, false, fmt.Errorf("failed to unpack %s: %w", ev.Name, err)
		}

		out.AttributeName = bytes32ToString(e.Name)
		out.Value = e.Value
		out.ValidTo = e.ValidTo
		out.PreviousChange = e.PreviousChange.Uint64()
	default:
		return Event{}, false, nil
	}

	return out, true, nil
}

func bytes32ToString(b [32]byte) string {
	return string(bytes.TrimRight(b[:], "\x00"))
}

// stringToBytes32 right-pads s with zero bytes. s must be at most 32 bytes long.
func stringToBytes32(s string) [32]byte {
	var b [32]byte
	copy(b[:], s)

	return b
}
