package registry

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"go.uber.org/zap"

	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
)

const (
	// MaxAttributeNameLength is the size of the bytes32 attribute name.
	MaxAttributeNameLength = 32
	// DefaultValidity is the validity of attributes and delegates written without one.
	DefaultValidity = 86400 * time.Second
	// DefaultGasLimit is used when transactions are built without a backend to estimate gas.
	DefaultGasLimit = 80000
)

// TxSigner signs Ethereum transactions with a managed key.
type TxSigner interface {
	SignEthTX(ctx context.Context, kid string, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// SubmitTxResult is a signed registry transaction.
type SubmitTxResult struct {
	TxHex  string // Hex-encoded RLP transaction
	TxHash string
	// Sent reports whether the transaction was submitted to the backend.
	Sent bool
}

// TxAuth names the key signing a transaction and the account it belongs to.
type TxAuth struct {
	KID  string
	From common.Address
}

// Writer builds, signs and optionally submits registry transactions.
type Writer struct {
	contract *bind.BoundContract
	backend  bind.ContractBackend
	signer   TxSigner
	chainID  *big.Int
	logger   *zap.Logger
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithBackend submits transactions through backend. Without a backend transactions are only
// built and signed, with nonce 0 and zero gas price.
func WithBackend(backend bind.ContractBackend) WriterOption {
	return func(w *Writer) {
		w.backend = backend
	}
}

// WithWriterLogger sets the logger.
func WithWriterLogger(l *zap.Logger) WriterOption {
	return func(w *Writer) {
		w.logger = l
	}
}

// NewWriter creates a Writer for the registry at address on chainID.
func NewWriter(address common.Address, chainID int64, signer TxSigner, opts ...WriterOption) (*Writer, error) {
	if address == (common.Address{}) {
		return nil, dErrors.New(dErrors.CodeConfiguration, "invalid configuration: registry address missing")
	}

	if signer == nil {
		return nil, dErrors.New(dErrors.CodeConfiguration, "invalid configuration: transaction signer missing")
	}

	parsed, err := ABI()
	if err != nil {
		return nil, err
	}

	w := &Writer{
		signer:  signer,
		chainID: big.NewInt(chainID),
		logger:  zap.NewNop(),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.backend != nil {
		w.contract = bind.NewBoundContract(address, parsed, w.backend, w.backend, w.backend)
	} else {
		w.contract = bind.NewBoundContract(address, parsed, nil, nil, nil)
	}

	return w, nil
}

// SetAttribute writes an attribute of identity valid for validity (DefaultValidity if zero).
func (w *Writer) SetAttribute(ctx context.Context, auth TxAuth, identity common.Address, name string, value []byte, validity time.Duration) (*SubmitTxResult, error) {
	nameBytes, err := attributeName(name)
	if err != nil {
		return nil, err
	}

	return w.transact(ctx, auth, "setAttribute", identity, nameBytes, value, validitySeconds(validity))
}

// RevokeAttribute revokes an attribute of identity.
func (w *Writer) RevokeAttribute(ctx context.Context, auth TxAuth, identity common.Address, name string, value []byte) (*SubmitTxResult, error) {
	nameBytes, err := attributeName(name)
	if err != nil {
		return nil, err
	}

	return w.transact(ctx, auth, "revokeAttribute", identity, nameBytes, value)
}

// AddDelegate adds a delegate of delegateType ("veriKey" or "sigAuth") to identity.
func (w *Writer) AddDelegate(ctx context.Context, auth TxAuth, identity common.Address, delegateType string, delegate common.Address, validity time.Duration) (*SubmitTxResult, error) {
	typeBytes, err := attributeName(delegateType)
	if err != nil {
		return nil, err
	}

	return w.transact(ctx, auth, "addDelegate", identity, typeBytes, delegate, validitySeconds(validity))
}

// ChangeOwner transfers identity to newOwner. The zero address deactivates the identity.
func (w *Writer) ChangeOwner(ctx context.Context, auth TxAuth, identity, newOwner common.Address) (*SubmitTxResult, error) {
	return w.transact(ctx, auth, "changeOwner", identity, newOwner)
}

func (w *Writer) transact(ctx context.Context, auth TxAuth, method string, args ...interface{}) (*SubmitTxResult, error) {
	opts := w.newTransactOpts(ctx, auth)

	tx, err := w.contract.Transact(opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s tx: %w", method, err)
	}

	var buf bytes.Buffer
	if err := rlp.Encode(&buf, tx); err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	result := &SubmitTxResult{
		TxHex:  hex.EncodeToString(buf.Bytes()),
		TxHash: tx.Hash().Hex(),
		Sent:   !opts.NoSend,
	}

	w.logger.Info("registry transaction signed",
		zap.String("method", method),
		zap.String("from", auth.From.Hex()),
		zap.String("txHash", result.TxHash),
		zap.Bool("sent", result.Sent))

	return result, nil
}

// newTransactOpts creates a *bind.TransactOpts whose signer goes through the key manager.
// Without a backend nonce, gas limit and gas price are fixed; with one they are fetched.
func (w *Writer) newTransactOpts(ctx context.Context, auth TxAuth) *bind.TransactOpts {
	opts := &bind.TransactOpts{
		From:    auth.From,
		Value:   big.NewInt(0),
		Context: ctx,
		Signer: func(_ common.Address, tx *types.Transaction) (*types.Transaction, error) {
			return w.signer.SignEthTX(ctx, auth.KID, tx, w.chainID)
		},
	}

	if w.backend == nil {
		opts.NoSend = true
		opts.Nonce = big.NewInt(0)
		opts.GasLimit = DefaultGasLimit
		opts.GasPrice = big.NewInt(0)
	}

	return opts
}

func attributeName(name string) ([32]byte, error) {
	if name == "" {
		return [32]byte{}, dErrors.ErrInvalidInput.Errorf("name is empty")
	}

	if len(name) > MaxAttributeNameLength {
		return [32]byte{}, dErrors.ErrInvalidInput.Errorf("name exceeds %d bytes", MaxAttributeNameLength)
	}

	return stringToBytes32(name), nil
}

func validitySeconds(d time.Duration) *big.Int {
	if d <= 0 {
		d = DefaultValidity
	}

	return big.NewInt(int64(d / time.Second))
}

// TxFromHex decodes a hex-encoded RLP transaction.
func TxFromHex(rawTxHex string) (*types.Transaction, error) {
	b, err := hex.DecodeString(rawTxHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode hex string: %w", err)
	}

	var tx types.Transaction
	if err := rlp.DecodeBytes(b, &tx); err != nil {
		return nil, fmt.Errorf("failed to decode RLP: %w", err)
	}

	return &tx, nil
}
