// Package agent composes the key manager, DID manager, resolver, issuer and verifier into
// one facade driving the credential workflow: import a DID, add keys and services, resolve,
// issue and verify credentials and presentations.
package agent

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pilacorp/go-did-agent/credential/issuer"
	"github.com/pilacorp/go-did-agent/credential/vc"
	"github.com/pilacorp/go-did-agent/credential/verifier"
	"github.com/pilacorp/go-did-agent/credential/vp"
	"github.com/pilacorp/go-did-agent/did"
	"github.com/pilacorp/go-did-agent/kms"
	"github.com/pilacorp/go-did-agent/storage"
)

// KeyManager creates and imports keys.
type KeyManager interface {
	CreateKey(ctx context.Context, kmsName string, keyType kms.KeyType) (*kms.Key, error)
	ImportKey(ctx context.Context, kmsName string, keyType kms.KeyType, privateKeyHex string) (*kms.Key, error)
	GetKey(ctx context.Context, kid string) (*kms.Key, error)
}

// DIDManager manages locally controlled identifiers.
type DIDManager interface {
	Import(ctx context.Context, args did.ImportArgs) (*did.Identifier, error)
	AddKey(ctx context.Context, did string, key kms.Key) (*did.Identifier, error)
	AddService(ctx context.Context, did string, service did.Service) (*did.Identifier, error)
	Get(ctx context.Context, did string) (*did.Identifier, error)
}

// Resolver resolves DIDs to their documents.
type Resolver interface {
	Resolve(ctx context.Context, didURL string) (*did.Document, error)
}

// Issuer issues credentials and presentations.
type Issuer interface {
	IssueCredential(ctx context.Context, req issuer.CredentialRequest) (*vc.Credential, error)
	IssuePresentation(ctx context.Context, req issuer.PresentationRequest) (*vp.Presentation, error)
}

// Verifier verifies credentials and presentations.
type Verifier interface {
	Verify(ctx context.Context, token string) (*verifier.Result, error)
	VerifyCredential(ctx context.Context, c *vc.Credential) (*verifier.Result, error)
	VerifyPresentation(ctx context.Context, p *vp.Presentation) (*verifier.Result, error)
}

// Agent is the composed credential agent.
type Agent struct {
	keys     KeyManager
	dids     DIDManager
	resolver Resolver
	issuer   Issuer
	verifier Verifier

	closers  []io.Closer
	provider storage.Provider
	logger   *zap.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithStorage makes Close release p.
func WithStorage(p storage.Provider) Option {
	return func(a *Agent) {
		a.provider = p
	}
}

// WithCloser makes Close release c before the storage.
func WithCloser(c io.Closer) Option {
	return func(a *Agent) {
		a.closers = append(a.closers, c)
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) {
		a.logger = l
	}
}

// New composes an Agent from its components.
func New(keys KeyManager, dids DIDManager, resolver Resolver, iss Issuer, ver Verifier, opts ...Option) *Agent {
	a := &Agent{
		keys:     keys,
		dids:     dids,
		resolver: resolver,
		issuer:   iss,
		verifier: ver,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// CreateKey generates a key in the named KMS (kms.DefaultKMS if empty).
func (a *Agent) CreateKey(ctx context.Context, kmsName string, keyType kms.KeyType) (*kms.Key, error) {
	return a.keys.CreateKey(ctx, kmsOrDefault(kmsName), keyType)
}

// ImportKey imports private key material into the named KMS (kms.DefaultKMS if empty).
func (a *Agent) ImportKey(ctx context.Context, kmsName string, keyType kms.KeyType, privateKeyHex string) (*kms.Key, error) {
	return a.keys.ImportKey(ctx, kmsOrDefault(kmsName), keyType, privateKeyHex)
}

// ImportIdentifier imports a DID with its keys and services.
func (a *Agent) ImportIdentifier(ctx context.Context, args did.ImportArgs) (*did.Identifier, error) {
	return a.dids.Import(ctx, args)
}

// GetIdentifier returns a managed identifier.
func (a *Agent) GetIdentifier(ctx context.Context, didStr string) (*did.Identifier, error) {
	return a.dids.Get(ctx, didStr)
}

// AddKey adds the managed key kid to an identifier.
func (a *Agent) AddKey(ctx context.Context, didStr, kid string) (*did.Identifier, error) {
	key, err := a.keys.GetKey(ctx, kid)
	if err != nil {
		return nil, err
	}

	return a.dids.AddKey(ctx, didStr, *key)
}

// AddService adds or replaces a service of an identifier.
func (a *Agent) AddService(ctx context.Context, didStr string, service did.Service) (*did.Identifier, error) {
	return a.dids.AddService(ctx, didStr, service)
}

// Resolve returns the DID Document of didURL.
func (a *Agent) Resolve(ctx context.Context, didURL string) (*did.Document, error) {
	return a.resolver.Resolve(ctx, didURL)
}

// IssueCredential issues a credential signed by req.Issuer.
func (a *Agent) IssueCredential(ctx context.Context, req issuer.CredentialRequest) (*vc.Credential, error) {
	return a.issuer.IssueCredential(ctx, req)
}

// IssuePresentation issues a presentation signed by req.Holder.
func (a *Agent) IssuePresentation(ctx context.Context, req issuer.PresentationRequest) (*vp.Presentation, error) {
	return a.issuer.IssuePresentation(ctx, req)
}

// Verify verifies a JWT credential or presentation.
func (a *Agent) Verify(ctx context.Context, token string) (*verifier.Result, error) {
	return a.verifier.Verify(ctx, token)
}

// VerifyCredential verifies a credential in either proof format.
func (a *Agent) VerifyCredential(ctx context.Context, c *vc.Credential) (*verifier.Result, error) {
	return a.verifier.VerifyCredential(ctx, c)
}

// VerifyPresentation verifies a presentation in either proof format.
func (a *Agent) VerifyPresentation(ctx context.Context, p *vp.Presentation) (*verifier.Result, error) {
	return a.verifier.VerifyPresentation(ctx, p)
}

// Close releases the chain connection and storage the agent was built with.
func (a *Agent) Close() error {
	var err error

	for _, c := range a.closers {
		err = multierr.Append(err, c.Close())
	}

	if a.provider != nil {
		if cerr := a.provider.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to close storage: %w", cerr))
		}
	}

	if err != nil {
		return err
	}

	a.logger.Debug("agent closed")

	return nil
}

func kmsOrDefault(name string) string {
	if name == "" {
		return kms.DefaultKMS
	}

	return name
}
