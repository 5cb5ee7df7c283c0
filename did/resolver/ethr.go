package resolver

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/pilacorp/go-did-agent/did"
	"github.com/pilacorp/go-did-agent/did/registry"
	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
)

// EthrNetwork is one chain with a deployed EthereumDIDRegistry.
type EthrNetwork struct {
	// Name is the network segment of the DID, e.g. "1337". It defaults to ChainID.
	Name     string
	ChainID  int64
	Client   registry.ChainReader
	Registry common.Address
}

// EthrDriver resolves did:ethr style DIDs by replaying registry events.
type EthrDriver struct {
	readers        map[string]*registry.Reader
	chainIDs       map[string]int64
	defaultNetwork string
	allowImplicit  bool
	now            func() time.Time
	logger         *zap.Logger
}

// EthrOption configures an EthrDriver.
type EthrOption func(*EthrDriver)

// WithImplicitDocuments resolves identities that never changed to their implicit document
// instead of NotFound.
func WithImplicitDocuments() EthrOption {
	return func(d *EthrDriver) {
		d.allowImplicit = true
	}
}

// WithClock sets the time attribute and delegate validity is checked against.
func WithClock(now func() time.Time) EthrOption {
	return func(d *EthrDriver) {
		d.now = now
	}
}

// WithEthrLogger sets the logger.
func WithEthrLogger(l *zap.Logger) EthrOption {
	return func(d *EthrDriver) {
		d.logger = l
	}
}

// NewEthrDriver creates a driver over networks. DIDs without a network segment use the
// first network.
func NewEthrDriver(networks []EthrNetwork, opts ...EthrOption) (*EthrDriver, error) {
	if len(networks) == 0 {
		return nil, dErrors.New(dErrors.CodeConfiguration, "invalid configuration: no ethr networks")
	}

	d := &EthrDriver{
		readers:  make(map[string]*registry.Reader, len(networks)),
		chainIDs: make(map[string]int64, len(networks)),
		now:      time.Now,
		logger:   zap.NewNop(),
	}

	for _, n := range networks {
		name := n.Name
		if name == "" {
			name = strconv.FormatInt(n.ChainID, 10)
		}

		if n.Client == nil || n.Registry == (common.Address{}) {
			return nil, dErrors.New(dErrors.CodeConfiguration, "invalid configuration: network "+name+" needs a client and a registry address")
		}

		r, err := registry.NewReader(n.Client, n.Registry)
		if err != nil {
			return nil, err
		}

		if d.defaultNetwork == "" {
			d.defaultNetwork = name
		}

		d.readers[name] = r
		d.chainIDs[name] = n.ChainID
	}

	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// Resolve rebuilds the document of didStr from the registry of its network.
func (d *EthrDriver) Resolve(ctx context.Context, didStr string) (*did.Resolution, error) {
	u, err := did.Parse(didStr)
	if err != nil {
		return nil, err
	}

	network := u.Network()
	if network == "" {
		network = d.defaultNetwork
	}

	reader, ok := d.readers[network]
	if !ok {
		return nil, dErrors.ErrUnsupportedMethod.Errorf("unknown network %q in %s", network, u.DID)
	}

	identity, err := did.IdentityAddress(u.Identity())
	if err != nil {
		return nil, err
	}

	var controllerKey string
	if !common.IsHexAddress(u.Identity()) {
		controllerKey = strings.TrimPrefix(u.Identity(), "0x")
	}

	history, err := reader.History(ctx, identity)
	if err != nil {
		return nil, err
	}

	if len(history) == 0 && !d.allowImplicit {
		return nil, dErrors.ErrDIDNotFound.Errorf("%s has no registry record", u.DID)
	}

	doc, meta := registry.BuildDocument(registry.DocumentInput{
		DID:              u.DID,
		Identity:         identity,
		ChainID:          strconv.FormatInt(d.chainIDs[network], 10),
		ControllerKeyHex: controllerKey,
		History:          history,
		Now:              d.now(),
	})

	if len(history) > 0 {
		latest := history[len(history)-1].BlockNumber

		ts, ok, err := reader.BlockTime(ctx, latest)
		if err != nil {
			return nil, err
		}

		if ok {
			meta.Updated = time.Unix(int64(ts), 0).UTC().Format(time.RFC3339)
		}
	}

	d.logger.Debug("replayed registry history",
		zap.String("did", u.DID),
		zap.Int("events", len(history)),
		zap.Bool("deactivated", meta.Deactivated))

	return &did.Resolution{
		Context:            resolutionContext,
		Document:           doc,
		DocumentMetadata:   meta,
		ResolutionMetadata: did.ResolutionMetadata{ContentType: contentTypeDIDLD},
	}, nil
}
