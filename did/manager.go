// Package did manages locally controlled identifiers and projects them to DID Documents.
//
// A Manager derives the DID of an identifier from its controller key through a Provider,
// so an identifier can only be imported under the DID its key actually controls. Mutations of
// one identifier are applied one at a time; reads never block on them.
package did

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
	"github.com/pilacorp/go-did-agent/kms"
)

// KeyManager is the part of kms.KeyManager the DID manager needs.
type KeyManager interface {
	GetKey(ctx context.Context, kid string) (*kms.Key, error)
	ImportKey(ctx context.Context, kmsName string, keyType kms.KeyType, privateKeyHex string) (*kms.Key, error)
}

// Publisher anchors identifier changes outside the local store, for example in a DID registry.
type Publisher interface {
	PublishKey(ctx context.Context, id *Identifier, key kms.Key) error
	PublishService(ctx context.Context, id *Identifier, service Service) error
}

// KeyArgs names a key for import: either a KID already held by the key manager, or private
// key material to import. KID is optional when PrivateKeyHex is set and may then be any
// caller-side label referenced by ImportArgs.ControllerKeyID.
type KeyArgs struct {
	KID           string      `json:"kid,omitempty"`
	KMS           string      `json:"kms,omitempty"`
	Type          kms.KeyType `json:"type,omitempty"`
	PrivateKeyHex string      `json:"privateKeyHex,omitempty"`
}

// ImportArgs describes an identifier to import.
type ImportArgs struct {
	DID             string    `json:"did"`
	Alias           string    `json:"alias,omitempty"`
	Provider        string    `json:"provider,omitempty"`
	ControllerKeyID string    `json:"controllerKeyId,omitempty"`
	Keys            []KeyArgs `json:"keys"`
	Services        []Service `json:"services,omitempty"`
}

// Manager imports identifiers and adds keys and services to them.
type Manager struct {
	store           *Store
	keys            KeyManager
	providers       map[string]Provider
	defaultProvider string
	publisher       Publisher
	locks           *keyedMutex
	logger          *zap.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithProvider registers p under p.Name(). The first registered provider is the default.
func WithProvider(p Provider) ManagerOption {
	return func(m *Manager) {
		if m.defaultProvider == "" {
			m.defaultProvider = p.Name()
		}

		m.providers[p.Name()] = p
	}
}

// WithDefaultProvider selects the provider used when ImportArgs.Provider is empty.
func WithDefaultProvider(name string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = name
	}
}

// WithPublisher publishes added keys and services.
func WithPublisher(p Publisher) ManagerOption {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a Manager. Without a WithProvider option a default EthrProvider is used.
func NewManager(store *Store, keys KeyManager, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		keys:      keys,
		providers: make(map[string]Provider),
		locks:     newKeyedMutex(),
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(m)
	}

	if len(m.providers) == 0 {
		WithProvider(NewEthrProvider(DefaultMethod, DefaultChainID))(m)
	}

	return m
}

func (m *Manager) provider(name string) (Provider, error) {
	if name == "" {
		name = m.defaultProvider
	}

	p, ok := m.providers[name]
	if !ok {
		return nil, dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("did provider %q is not registered", name))
	}

	return p, nil
}

// Import stores an identifier after checking that its DID is the one its controller key derives.
// Importing an existing DID replaces the stored identifier.
func (m *Manager) Import(ctx context.Context, args ImportArgs) (*Identifier, error) {
	if args.DID == "" {
		return nil, dErrors.ErrInvalidInput.Errorf("did is required")
	}

	if len(args.Keys) == 0 {
		return nil, dErrors.ErrInvalidInput.Errorf("at least one key is required")
	}

	p, err := m.provider(args.Provider)
	if err != nil {
		return nil, err
	}

	keys := make([]kms.Key, 0, len(args.Keys))
	labels := make(map[string]string, len(args.Keys))

	for _, ka := range args.Keys {
		key, err := m.resolveKey(ctx, ka)
		if err != nil {
			return nil, err
		}

		if ka.KID != "" {
			labels[strings.TrimPrefix(ka.KID, "0x")] = key.KID
		}

		labels[key.KID] = key.KID

		if !containsKey(keys, key.KID) {
			keys = append(keys, *key)
		}
	}

	controllerKID := keys[0].KID
	if args.ControllerKeyID != "" {
		kid, ok := labels[strings.TrimPrefix(args.ControllerKeyID, "0x")]
		if !ok {
			return nil, dErrors.ErrKeyNotFound.Errorf("controller key %s is not among the imported keys", args.ControllerKeyID)
		}

		controllerKID = kid
	}

	id := &Identifier{
		Alias:           args.Alias,
		Provider:        p.Name(),
		ControllerKeyID: controllerKID,
		Keys:            keys,
		Services:        []Service{},
	}

	derived, err := deriveDID(p, id)
	if err != nil {
		return nil, err
	}

	if !strings.EqualFold(derived, args.DID) {
		return nil, dErrors.ErrDIDMismatch.Errorf("did %s is not controlled by key %s (derived %s)", args.DID, controllerKID, derived)
	}

	id.DID = derived

	for _, s := range args.Services {
		if err := validateService(s); err != nil {
			return nil, err
		}

		id.Services = upsertService(id.Services, s)
	}

	unlock := m.locks.Lock(id.DID)
	defer unlock()

	if err := m.store.Put(id); err != nil {
		return nil, fmt.Errorf("failed to store identifier: %w", err)
	}

	m.logger.Info("identifier imported",
		zap.String("did", id.DID),
		zap.String("provider", id.Provider),
		zap.String("controllerKeyId", id.ControllerKeyID),
		zap.Int("keys", len(id.Keys)))

	return id, nil
}

// deriveDID derives the DID of id from its controller key.
func deriveDID(p Provider, id *Identifier) (string, error) {
	controller, ok := id.ControllerKey()
	if !ok {
		return "", dErrors.ErrKeyNotFound.Errorf("controller key %s is not among the identifier keys", id.ControllerKeyID)
	}

	derived, err := p.Derive(controller)
	if err != nil {
		return "", fmt.Errorf("failed to derive did: %w", err)
	}

	return derived, nil
}

func (m *Manager) resolveKey(ctx context.Context, ka KeyArgs) (*kms.Key, error) {
	if ka.PrivateKeyHex != "" {
		keyType := ka.Type
		if keyType == "" {
			keyType = kms.Secp256k1
		}

		key, err := m.keys.ImportKey(ctx, ka.KMS, keyType, ka.PrivateKeyHex)
		if err != nil {
			return nil, fmt.Errorf("failed to import key: %w", err)
		}

		return key, nil
	}

	if ka.KID == "" {
		return nil, dErrors.ErrInvalidInput.Errorf("key needs a kid or private key material")
	}

	return m.keys.GetKey(ctx, strings.TrimPrefix(ka.KID, "0x"))
}

// AddKey adds a managed key to the identifier. Adding a key it already has is a no-op.
func (m *Manager) AddKey(ctx context.Context, did string, key kms.Key) (*Identifier, error) {
	stored, err := m.keys.GetKey(ctx, key.KID)
	if err != nil {
		return nil, err
	}

	did = Canonical(did)

	unlock := m.locks.Lock(did)
	defer unlock()

	id, err := m.store.Get(did)
	if err != nil {
		return nil, err
	}

	if containsKey(id.Keys, stored.KID) {
		return id, nil
	}

	if m.publisher != nil {
		if err := m.publisher.PublishKey(ctx, id, *stored); err != nil {
			return nil, fmt.Errorf("failed to publish key: %w", err)
		}
	}

	id.Keys = append(id.Keys, *stored)

	if err := m.store.Put(id); err != nil {
		return nil, fmt.Errorf("failed to store identifier: %w", err)
	}

	m.logger.Info("key added", zap.String("did", did), zap.String("kid", stored.KID))

	return id, nil
}

// AddService adds a service to the identifier, replacing a service with the same id in place.
func (m *Manager) AddService(ctx context.Context, did string, service Service) (*Identifier, error) {
	if err := validateService(service); err != nil {
		return nil, err
	}

	did = Canonical(did)

	unlock := m.locks.Lock(did)
	defer unlock()

	id, err := m.store.Get(did)
	if err != nil {
		return nil, err
	}

	if m.publisher != nil {
		if err := m.publisher.PublishService(ctx, id, service); err != nil {
			return nil, fmt.Errorf("failed to publish service: %w", err)
		}
	}

	id.Services = upsertService(id.Services, service)

	if err := m.store.Put(id); err != nil {
		return nil, fmt.Errorf("failed to store identifier: %w", err)
	}

	m.logger.Info("service added",
		zap.String("did", did),
		zap.String("service", service.ID),
		zap.String("type", service.Type))

	return id, nil
}

// Get returns a managed identifier.
func (m *Manager) Get(_ context.Context, did string) (*Identifier, error) {
	return m.store.Get(Canonical(did))
}

// List returns every managed identifier.
func (m *Manager) List(_ context.Context) ([]*Identifier, error) {
	return m.store.List()
}

// Document returns the local projection of a managed identifier.
func (m *Manager) Document(ctx context.Context, did string) (*Document, error) {
	id, err := m.Get(ctx, did)
	if err != nil {
		return nil, err
	}

	return LocalDocument(id)
}

func validateService(s Service) error {
	if s.ID == "" || s.Type == "" || s.ServiceEndpoint == "" {
		return dErrors.ErrInvalidInput.Errorf("service needs id, type and serviceEndpoint")
	}

	return nil
}

func upsertService(services []Service, s Service) []Service {
	for i := range services {
		if services[i].ID == s.ID {
			services[i] = s
			return services
		}
	}

	return append(services, s)
}

func containsKey(keys []kms.Key, kid string) bool {
	for _, k := range keys {
		if k.KID == kid {
			return true
		}
	}

	return false
}
