// Package registrytest provides an in-memory EthereumDIDRegistry for tests.
package registrytest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/pilacorp/go-did-agent/did/registry"
)

// Chain is an in-memory registry contract. It serves registry.ChainReader and
// bind.ContractBackend, mining one block per change.
type Chain struct {
	Address common.Address
	ChainID *big.Int

	mu      sync.Mutex
	abi     abi.ABI
	block   uint64
	now     time.Time
	changed map[common.Address]uint64
	owners  map[common.Address]common.Address
	nonces  map[common.Address]uint64
	logs    []types.Log

	// Err, when set, fails every call.
	Err error
	// FailCalls fails that many calls with a transient error before serving again.
	FailCalls int
	// Calls counts chain calls.
	Calls int
}

// NewChain creates an empty registry at address. Blocks start at 1 with timestamps from now.
func NewChain(address common.Address, chainID int64, now time.Time) *Chain {
	parsed, err := registry.ABI()
	if err != nil {
		panic(err)
	}

	return &Chain{
		Address: address,
		ChainID: big.NewInt(chainID),
		abi:     parsed,
		now:     now,
		changed: make(map[common.Address]uint64),
		owners:  make(map[common.Address]common.Address),
		nonces:  make(map[common.Address]uint64),
	}
}

// Now returns the timestamp of the next block.
func (c *Chain) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// Advance moves the chain clock forward.
func (c *Chain) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func (c *Chain) enter() error {
	c.Calls++

	if c.Err != nil {
		return c.Err
	}

	if c.FailCalls > 0 {
		c.FailCalls--
		return errors.New("connection reset by peer")
	}

	return nil
}

func (c *Chain) ownerOf(identity common.Address) common.Address {
	if owner, ok := c.owners[identity]; ok {
		return owner
	}

	return identity
}

// emit mines a block holding one event of identity.
func (c *Chain) emit(event string, identity common.Address, args ...interface{}) {
	ev := c.abi.Events[event]
	previous := new(big.Int).SetUint64(c.changed[identity])

	data, err := ev.Inputs.NonIndexed().Pack(append(args, previous)...)
	if err != nil {
		panic(err)
	}

	c.block++
	c.now = c.now.Add(time.Second)

	c.logs = append(c.logs, types.Log{
		Address:     c.Address,
		Topics:      []common.Hash{ev.ID, common.BytesToHash(identity.Bytes())},
		Data:        data,
		BlockNumber: c.block,
	})
	c.changed[identity] = c.block
}

func (c *Chain) validTo(validity *big.Int) *big.Int {
	return new(big.Int).Add(big.NewInt(c.now.Unix()), validity)
}

// SetAttribute records an attribute as if identity's owner had called setAttribute.
func (c *Chain) SetAttribute(identity common.Address, name string, value []byte, validity time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.emit(registry.EventAttributeChanged, identity, bytes32(name), value, c.validTo(big.NewInt(int64(validity/time.Second))))
}

// RevokeAttribute records an attribute revocation.
func (c *Chain) RevokeAttribute(identity common.Address, name string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.emit(registry.EventAttributeChanged, identity, bytes32(name), value, big.NewInt(0))
}

// AddDelegate records a delegate.
func (c *Chain) AddDelegate(identity common.Address, delegateType string, delegate common.Address, validity time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.emit(registry.EventDelegateChanged, identity, bytes32(delegateType), delegate, c.validTo(big.NewInt(int64(validity/time.Second))))
}

// ChangeOwner records an owner change.
func (c *Chain) ChangeOwner(identity, owner common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.owners[identity] = owner
	c.emit(registry.EventOwnerChanged, identity, owner)
}

func (c *Chain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(); err != nil {
		return nil, err
	}

	if msg.To == nil || *msg.To != c.Address {
		return nil, nil
	}

	m, err := c.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}

	args, err := m.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}

	identity := args[0].(common.Address)

	switch m.Name {
	case "changed":
		return m.Outputs.Pack(new(big.Int).SetUint64(c.changed[identity]))
	case "identityOwner":
		return m.Outputs.Pack(c.ownerOf(identity))
	case "nonce":
		return m.Outputs.Pack(big.NewInt(0))
	}

	return nil, fmt.Errorf("method %s not supported", m.Name)
}

func (c *Chain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(); err != nil {
		return nil, err
	}

	var out []types.Log

	for _, l := range c.logs {
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}

		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}

		if len(q.Topics) > 1 && len(q.Topics[1]) > 0 && q.Topics[1][0] != l.Topics[1] {
			continue
		}

		out = append(out, l)
	}

	return out, nil
}

func (c *Chain) SubscribeFilterLogs(context.Context, ethereum.FilterQuery, chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("subscriptions not supported")
}

func (c *Chain) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.block
	if number != nil {
		n = number.Uint64()
	}

	return &types.Header{Number: new(big.Int).SetUint64(n), Time: uint64(c.now.Unix()), BaseFee: big.NewInt(1)}, nil
}

func (c *Chain) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x01}, nil
}

func (c *Chain) PendingCodeAt(context.Context, common.Address) ([]byte, error) {
	return []byte{0x01}, nil
}

func (c *Chain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.nonces[account], nil
}

func (c *Chain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (c *Chain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (c *Chain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100000, nil
}

// SendTransaction applies a signed registry transaction. Only the identity owner may change it.
func (c *Chain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(); err != nil {
		return err
	}

	sender, err := types.Sender(types.LatestSignerForChainID(c.ChainID), tx)
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}

	if tx.To() == nil || *tx.To() != c.Address {
		return errors.New("transaction is not for the registry")
	}

	m, err := c.abi.MethodById(tx.Data()[:4])
	if err != nil {
		return err
	}

	args, err := m.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		return err
	}

	identity := args[0].(common.Address)
	if c.ownerOf(identity) != sender {
		return errors.New("bad_actor")
	}

	c.nonces[sender]++

	switch m.Name {
	case "setAttribute":
		c.emit(registry.EventAttributeChanged, identity, args[1], args[2], c.validTo(args[3].(*big.Int)))
	case "revokeAttribute":
		c.emit(registry.EventAttributeChanged, identity, args[1], args[2], big.NewInt(0))
	case "addDelegate":
		c.emit(registry.EventDelegateChanged, identity, args[1], args[2], c.validTo(args[3].(*big.Int)))
	case "revokeDelegate":
		c.emit(registry.EventDelegateChanged, identity, args[1], args[2], big.NewInt(0))
	case "changeOwner":
		c.owners[identity] = args[1].(common.Address)
		c.emit(registry.EventOwnerChanged, identity, args[1])
	default:
		return fmt.Errorf("method %s not supported", m.Name)
	}

	return nil
}

func bytes32(s string) [32]byte {
	var b [32]byte
	copy(b[:], s)

	return b
}
