package agent

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pilacorp/go-did-agent/config"
	credentialstatus "github.com/pilacorp/go-did-agent/credential/common/credential-status"
	"github.com/pilacorp/go-did-agent/credential/common/schema"
	"github.com/pilacorp/go-did-agent/credential/issuer"
	"github.com/pilacorp/go-did-agent/credential/verifier"
	"github.com/pilacorp/go-did-agent/did"
	"github.com/pilacorp/go-did-agent/did/registry"
	"github.com/pilacorp/go-did-agent/did/resolver"
	"github.com/pilacorp/go-did-agent/kms"
	"github.com/pilacorp/go-did-agent/metrics"
	"github.com/pilacorp/go-did-agent/storage"
	"github.com/pilacorp/go-did-agent/storage/leveldb"
	"github.com/pilacorp/go-did-agent/storage/mem"
)

// Chain is the chain access used to resolve and publish registry state.
// *ethclient.Client satisfies it.
type Chain interface {
	registry.ChainReader
	bind.ContractBackend
}

type setup struct {
	registerer prometheus.Registerer
	logger     *zap.Logger
	httpClient *http.Client
	chain      Chain
	dialed     *ethclient.Client
	provider   storage.Provider
}

// chainCloser closes a client dialed by NewFromConfig.
type chainCloser struct {
	client *ethclient.Client
}

func (c chainCloser) Close() error {
	c.client.Close()
	return nil
}

// SetupOption configures NewFromConfig.
type SetupOption func(*setup)

// WithRegisterer registers the agent metrics with reg instead of a private registry.
func WithRegisterer(reg prometheus.Registerer) SetupOption {
	return func(s *setup) {
		s.registerer = reg
	}
}

// WithSetupLogger sets the root logger; components log under named children.
func WithSetupLogger(l *zap.Logger) SetupOption {
	return func(s *setup) {
		s.logger = l
	}
}

// WithHTTPClient sets the client for the universal resolver, status lists and schemas.
func WithHTTPClient(c *http.Client) SetupOption {
	return func(s *setup) {
		s.httpClient = c
	}
}

// WithChain uses c instead of dialing the configured RPC URL.
func WithChain(c Chain) SetupOption {
	return func(s *setup) {
		s.chain = c
	}
}

// WithStorageProvider uses p instead of the store configured by StorePath.
func WithStorageProvider(p storage.Provider) SetupOption {
	return func(s *setup) {
		s.provider = p
	}
}

// NewFromConfig builds every component from cfg and composes them into an Agent. The
// returned Agent owns the storage and any chain client it dialed, and must be closed.
func NewFromConfig(ctx context.Context, cfg *config.Config, opts ...SetupOption) (*Agent, error) {
	s := &setup{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	if s.registerer == nil {
		s.registerer = prometheus.NewRegistry()
	}

	if s.provider == nil {
		if cfg.StorePath != "" {
			s.provider = leveldb.NewProvider(cfg.StorePath)
		} else {
			s.provider = mem.NewProvider()
		}
	}

	a, err := s.build(ctx, cfg)
	if err != nil {
		if s.dialed != nil {
			s.dialed.Close()
		}

		if cerr := s.provider.Close(); cerr != nil {
			s.logger.Warn("failed to close storage", zap.Error(cerr))
		}

		return nil, err
	}

	return a, nil
}

func (s *setup) build(ctx context.Context, cfg *config.Config) (*Agent, error) {
	m := metrics.New(s.registerer)

	kmsOpts := []kms.Option{kms.WithLogger(s.logger.Named("kms"))}

	if cfg.RemoteKMS.URL != "" {
		remote, err := kms.NewRemoteKMS(cfg.RemoteKMS.URL, cfg.RemoteKMS.APIKey, s.httpClient)
		if err != nil {
			return nil, err
		}

		kmsOpts = append(kmsOpts, kms.WithKMS(kms.RemoteKMSName, remote))
	}

	keys, err := kms.NewLocalKeyManager(s.provider, cfg.Secret, kmsOpts...)
	if err != nil {
		return nil, err
	}

	store, err := did.NewStore(s.provider)
	if err != nil {
		return nil, err
	}

	if s.chain == nil && cfg.RPCURL != "" && cfg.RegistryAddress != "" {
		client, err := ethclient.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", cfg.RPCURL, err)
		}

		s.chain = client
		s.dialed = client
	}

	managerOpts := []did.ManagerOption{
		did.WithProvider(did.NewEthrProvider(cfg.Method, cfg.ChainID)),
		did.WithManagerLogger(s.logger.Named("did")),
	}

	if cfg.Publish && s.chain != nil {
		w, err := registry.NewWriter(common.HexToAddress(cfg.RegistryAddress), cfg.ChainID, keys,
			registry.WithBackend(s.chain), registry.WithWriterLogger(s.logger.Named("registry")))
		if err != nil {
			return nil, err
		}

		managerOpts = append(managerOpts, did.WithPublisher(registry.NewPublisher(w, 0)))
	}

	dids := did.NewManager(store, keys, managerOpts...)

	resolverOpts := []resolver.Option{
		resolver.WithLocal(dids),
		resolver.WithTimeout(cfg.Resolver.Timeout),
		resolver.WithRetries(cfg.Resolver.Retries),
		resolver.WithMetrics(m),
		resolver.WithLogger(s.logger.Named("resolver")),
	}

	if s.chain != nil {
		ethrOpts := []resolver.EthrOption{resolver.WithEthrLogger(s.logger.Named("ethr"))}
		if cfg.Resolver.ImplicitDocuments {
			ethrOpts = append(ethrOpts, resolver.WithImplicitDocuments())
		}

		driver, err := resolver.NewEthrDriver([]resolver.EthrNetwork{{
			ChainID:  cfg.ChainID,
			Client:   s.chain,
			Registry: common.HexToAddress(cfg.RegistryAddress),
		}}, ethrOpts...)
		if err != nil {
			return nil, err
		}

		resolverOpts = append(resolverOpts, resolver.WithDriver(cfg.Method, driver))
	}

	if cfg.UniversalResolverURL != "" {
		resolverOpts = append(resolverOpts, resolver.WithFallback(resolver.NewHTTPDriver(cfg.UniversalResolverURL, s.httpClient)))
	}

	if cfg.Resolver.CacheSize > 0 {
		resolverOpts = append(resolverOpts, resolver.WithCache(cfg.Resolver.CacheSize, cfg.Resolver.CacheTTL))
	}

	res := resolver.New(resolverOpts...)

	processor, err := schema.NewProcessor()
	if err != nil {
		return nil, err
	}

	validator := schema.NewValidator(s.httpClient)

	iss, err := issuer.New(dids, keys,
		issuer.WithStore(s.provider),
		issuer.WithProcessor(processor),
		issuer.WithSchemaValidator(validator),
		issuer.WithMetrics(m),
		issuer.WithLogger(s.logger.Named("issuer")),
	)
	if err != nil {
		return nil, err
	}

	ver, err := verifier.New(res,
		verifier.WithProcessor(processor),
		verifier.WithSchemaValidator(validator),
		verifier.WithStatusClient(credentialstatus.NewClient(s.httpClient)),
		verifier.WithMetrics(m),
		verifier.WithLogger(s.logger.Named("verifier")),
	)
	if err != nil {
		return nil, err
	}

	s.logger.Info("agent ready",
		zap.String("method", cfg.Method),
		zap.Int64("chainId", cfg.ChainID),
		zap.Bool("registry", s.chain != nil),
		zap.Bool("persistent", cfg.StorePath != ""),
	)

	agentOpts := []Option{WithStorage(s.provider), WithLogger(s.logger)}
	if s.dialed != nil {
		agentOpts = append(agentOpts, WithCloser(chainCloser{client: s.dialed}))
	}

	return New(keys, dids, res, iss, ver, agentOpts...), nil
}
