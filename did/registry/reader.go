// Package registry reads and writes the ERC-1056 EthereumDIDRegistry and rebuilds did:ethr
// documents from its event history.
package registry

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
)

// ChainReader is the chain access the Reader needs. *ethclient.Client satisfies it.
type ChainReader interface {
	ethereum.ContractCaller
	ethereum.LogFilterer
}

// HeaderReader is optionally implemented by a ChainReader to date the last change.
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Reader reads identity state and change history from a deployed registry.
type Reader struct {
	client  ChainReader
	address common.Address
	abi     abi.ABI
}

// NewReader creates a Reader for the registry at address.
func NewReader(client ChainReader, address common.Address) (*Reader, error) {
	parsed, err := ABI()
	if err != nil {
		return nil, err
	}

	return &Reader{client: client, address: address, abi: parsed}, nil
}

// Address returns the registry address.
func (r *Reader) Address() common.Address {
	return r.address
}

func (r *Reader) call(ctx context.Context, method string, out interface{}, args ...interface{}) error {
	data, err := r.abi.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("failed to pack %s: %w", method, err)
	}

	res, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &r.address, Data: data}, nil)
	if err != nil {
		return rpcError(err, "%s call failed", method)
	}

	values, err := r.abi.Unpack(method, res)
	if err != nil {
		return dErrors.ErrResolution.WithCause(err, "failed to unpack %s result", method)
	}

	if len(values) != 1 {
		return dErrors.ErrResolution.Errorf("%s returned %d values", method, len(values))
	}

	switch o := out.(type) {
	case *common.Address:
		v, ok := values[0].(common.Address)
		if !ok {
			return dErrors.ErrResolution.Errorf("%s returned %T", method, values[0])
		}

		*o = v
	case **big.Int:
		v, ok := values[0].(*big.Int)
		if !ok {
			return dErrors.ErrResolution.Errorf("%s returned %T", method, values[0])
		}

		*o = v
	default:
		return fmt.Errorf("unsupported output type %T", out)
	}

	return nil
}

// IdentityOwner returns the current owner of identity.
func (r *Reader) IdentityOwner(ctx context.Context, identity common.Address) (common.Address, error) {
	var owner common.Address
	if err := r.call(ctx, "identityOwner", &owner, identity); err != nil {
		return common.Address{}, err
	}

	return owner, nil
}

// Changed returns the block of the latest change of identity, 0 if it never changed.
func (r *Reader) Changed(ctx context.Context, identity common.Address) (uint64, error) {
	var block *big.Int
	if err := r.call(ctx, "changed", &block, identity); err != nil {
		return 0, err
	}

	return block.Uint64(), nil
}

// Changes walks the change history of identity from the latest change back to genesis,
// following each block's previousChange pointer. Events of one block are yielded latest
// first. Every range over the sequence starts a fresh walk from the current chain state;
// iteration stops at the first error, which is yielded.
func (r *Reader) Changes(ctx context.Context, identity common.Address) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		block, err := r.Changed(ctx, identity)
		if err != nil {
			yield(Event{}, err)
			return
		}

		for block != 0 {
			events, err := r.blockEvents(ctx, identity, block)
			if err != nil {
				yield(Event{}, err)
				return
			}

			next := uint64(0)

			for i := len(events) - 1; i >= 0; i-- {
				if !yield(events[i], nil) {
					return
				}

				if events[i].PreviousChange < block {
					next = events[i].PreviousChange
				}
			}

			block = next
		}
	}
}

// History collects Changes oldest first.
func (r *Reader) History(ctx context.Context, identity common.Address) ([]Event, error) {
	var history []Event

	for ev, err := range r.Changes(ctx, identity) {
		if err != nil {
			return nil, err
		}

		history = append(history, ev)
	}

	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	return history, nil
}

func (r *Reader) blockEvents(ctx context.Context, identity common.Address, block uint64) ([]Event, error) {
	n := new(big.Int).SetUint64(block)

	logs, err := r.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: n,
		ToBlock:   n,
		Addresses: []common.Address{r.address},
		Topics:    [][]common.Hash{nil, {common.BytesToHash(identity.Bytes())}},
	})
	if err != nil {
		return nil, rpcError(err, "failed to fetch logs of block %d", block)
	}

	events := make([]Event, 0, len(logs))

	for _, l := range logs {
		if l.Removed {
			continue
		}

		ev, ok, err := decodeLog(r.abi, l)
		if err != nil {
			return nil, dErrors.ErrResolution.WithCause(err, "failed to decode log in block %d", block)
		}

		if ok && ev.Identity == identity {
			events = append(events, ev)
		}
	}

	return events, nil
}

// BlockTime returns the timestamp of block if the client can read headers.
func (r *Reader) BlockTime(ctx context.Context, block uint64) (uint64, bool, error) {
	hr, ok := r.client.(HeaderReader)
	if !ok {
		return 0, false, nil
	}

	h, err := hr.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	if err != nil {
		return 0, false, rpcError(err, "failed to read header of block %d", block)
	}

	return h.Time, true, nil
}

// rpcError wraps a chain access failure as a ResolutionError. Everything but cancellation
// is marked retryable.
func rpcError(err error, format string, args ...interface{}) error {
	if errors.Is(err, context.Canceled) {
		return dErrors.ErrResolution.WithCause(err, format, args...)
	}

	return dErrors.ErrResolution.WithCause(err, format, args...).MarkRetryable()
}
