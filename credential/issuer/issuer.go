// Package issuer signs Verifiable Credentials and Presentations with the keys of DIDs
// managed by the agent.
//
// Two proof formats are supported. FormatJWT (the default) produces a compact JWS whose
// payload is the sorted-key JSON of the registered claims and the vc or vp claim.
// FormatLDS attaches an ecdsa-rdfc-2019 DataIntegrityProof over the URDNA2015 canonical
// form of the document.
//
// Issuance is deterministic: ES256K signatures use RFC 6979 nonces and EdDSA is
// deterministic by construction, so identical requests at the same clock reading yield
// byte-identical tokens. Requests with GenerateID are the exception, since each gets a
// fresh urn:uuid id.
package issuer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pilacorp/go-did-agent/credential/common/dto"
	"github.com/pilacorp/go-did-agent/credential/common/jwt"
	"github.com/pilacorp/go-did-agent/credential/common/schema"
	"github.com/pilacorp/go-did-agent/credential/vc"
	"github.com/pilacorp/go-did-agent/credential/vp"
	"github.com/pilacorp/go-did-agent/did"
	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
	"github.com/pilacorp/go-did-agent/kms"
	"github.com/pilacorp/go-did-agent/metrics"
	"github.com/pilacorp/go-did-agent/storage"
)

// DIDManager looks up managed identifiers.
type DIDManager interface {
	Get(ctx context.Context, did string) (*did.Identifier, error)
}

// Signer signs payloads with managed keys.
type Signer interface {
	Sign(ctx context.Context, kid string, payload []byte, algorithm string) ([]byte, error)
}

// Issuer issues credentials and presentations.
type Issuer struct {
	dids      DIDManager
	signer    Signer
	store     storage.Store
	provider  storage.Provider
	processor *schema.Processor
	validator *schema.Validator
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithStore saves issued documents requested with Save in the "credentials" store of p.
func WithStore(p storage.Provider) Option {
	return func(i *Issuer) {
		i.provider = p
	}
}

// WithProcessor sets the JSON-LD processor used for FormatLDS.
func WithProcessor(p *schema.Processor) Option {
	return func(i *Issuer) {
		i.processor = p
	}
}

// WithSchemaValidator validates credentials that name a credentialSchema before signing.
func WithSchemaValidator(v *schema.Validator) Option {
	return func(i *Issuer) {
		i.validator = v
	}
}

// WithClock sets the clock used for issuance dates.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// WithMetrics records issuance counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Issuer) {
		i.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(i *Issuer) {
		i.logger = l
	}
}

// New creates an Issuer.
func New(dids DIDManager, signer Signer, opts ...Option) (*Issuer, error) {
	i := &Issuer{
		dids:   dids,
		signer: signer,
		logger: zap.NewNop(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(i)
	}

	if i.provider != nil {
		s, err := i.provider.OpenStore(credentialStoreName)
		if err != nil {
			return nil, fmt.Errorf("failed to open credential store: %w", err)
		}

		i.store = s
	}

	if i.processor == nil {
		p, err := schema.NewProcessor()
		if err != nil {
			return nil, err
		}

		i.processor = p
	}

	return i, nil
}

// IssueCredential builds, signs and optionally saves a credential.
func (i *Issuer) IssueCredential(ctx context.Context, req CredentialRequest) (*vc.Credential, error) {
	format, err := proofFormat(req.ProofFormat)
	if err != nil {
		return nil, err
	}

	if req.Issuer == "" {
		return nil, dErrors.ErrInvalidInput.Errorf("credential issuer is required")
	}

	if len(req.Subject) == 0 {
		return nil, dErrors.ErrInvalidInput.Errorf("credential subject is required")
	}

	id, sk, err := i.signingKey(ctx, req.Issuer, req.KeyRef, algorithm(format, req.Algorithm))
	if err != nil {
		return nil, err
	}

	issued := i.now().UTC().Truncate(time.Second)

	c := &vc.Credential{
		Context:           append(append([]interface{}{}, vc.DefaultContext...), req.Context...),
		ID:                req.ID,
		Type:              append([]string{vc.TypeVerifiableCredential}, req.Type...),
		Issuer:            vc.Issuer{ID: id.DID},
		IssuanceDate:      issued,
		CredentialSubject: req.Subject,
		CredentialStatus:  req.CredentialStatus,
		CredentialSchema:  req.CredentialSchema,
		TermsOfUse:        req.TermsOfUse,
	}

	if c.ID == "" && req.GenerateID {
		c.ID = "urn:uuid:" + uuid.NewString()
	}

	if req.ExpirationDate != nil {
		exp := req.ExpirationDate.UTC().Truncate(time.Second)
		c.ExpirationDate = &exp
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	if err := i.validateSchema(ctx, c); err != nil {
		return nil, err
	}

	switch format {
	case FormatLDS:
		err = c.AddLDProof(ctx, i.processor, i.signer, sk.key.KID, sk.verificationMethod, issued)
	default:
		err = i.signCredentialJWT(ctx, c, sk)
	}

	if err != nil {
		return nil, err
	}

	i.metrics.IncIssued(string(format), kindCredential)

	fields := []zap.Field{
		zap.String("issuer", id.DID),
		zap.String("format", string(format)),
		zap.String("verificationMethod", sk.verificationMethod),
	}

	if req.Save {
		serialized, err := c.Serialize()
		if err != nil {
			return nil, err
		}

		hash, err := i.save(kindCredential, serialized, c)
		if err != nil {
			return nil, err
		}

		fields = append(fields, zap.String("hash", hash))
	}

	i.logger.Info("credential issued", fields...)

	return c, nil
}

// IssuePresentation wraps credentials in a presentation signed by the holder.
func (i *Issuer) IssuePresentation(ctx context.Context, req PresentationRequest) (*vp.Presentation, error) {
	format, err := proofFormat(req.ProofFormat)
	if err != nil {
		return nil, err
	}

	if req.Holder == "" {
		return nil, dErrors.ErrInvalidInput.Errorf("presentation holder is required")
	}

	id, sk, err := i.signingKey(ctx, req.Holder, req.KeyRef, algorithm(format, req.Algorithm))
	if err != nil {
		return nil, err
	}

	issued := i.now().UTC().Truncate(time.Second)

	p := &vp.Presentation{
		Context:              append(append([]interface{}{}, vc.DefaultContext...), req.Context...),
		ID:                   req.ID,
		Type:                 append([]string{vp.TypeVerifiablePresentation}, req.Type...),
		Holder:               id.DID,
		Verifier:             req.Verifier,
		IssuanceDate:         &issued,
		VerifiableCredential: req.Credentials,
	}

	if p.ID == "" && req.GenerateID {
		p.ID = "urn:uuid:" + uuid.NewString()
	}

	if req.ExpirationDate != nil {
		exp := req.ExpirationDate.UTC().Truncate(time.Second)
		p.ExpirationDate = &exp
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	switch format {
	case FormatLDS:
		err = p.AddLDProof(ctx, i.processor, i.signer, sk.key.KID, sk.verificationMethod, issued)
	default:
		err = i.signPresentationJWT(ctx, p, sk)
	}

	if err != nil {
		return nil, err
	}

	i.metrics.IncIssued(string(format), kindPresentation)

	fields := []zap.Field{
		zap.String("holder", id.DID),
		zap.String("format", string(format)),
		zap.Int("credentials", len(p.VerifiableCredential)),
	}

	if req.Save {
		serialized, err := p.Serialize()
		if err != nil {
			return nil, err
		}

		hash, err := i.save(kindPresentation, serialized, p)
		if err != nil {
			return nil, err
		}

		fields = append(fields, zap.String("hash", hash))
	}

	i.logger.Info("presentation issued", fields...)

	return p, nil
}

func (i *Issuer) signingKey(ctx context.Context, didStr, keyRef, alg string) (*did.Identifier, *signingKey, error) {
	id, err := i.dids.Get(ctx, didStr)
	if err != nil {
		if dErrors.Is(err, dErrors.CodeNotFound) {
			return nil, nil, dErrors.ErrSigningKeyMissing.WithCause(err, "%s is not managed by this agent", didStr)
		}

		return nil, nil, err
	}

	sk, err := selectSigningKey(id, keyRef, alg)
	if err != nil {
		return nil, nil, err
	}

	return id, sk, nil
}

func (i *Issuer) signCredentialJWT(ctx context.Context, c *vc.Credential, sk *signingKey) error {
	claims, err := c.JWTClaims()
	if err != nil {
		return err
	}

	token, err := i.signJWT(ctx, sk, claims)
	if err != nil {
		return err
	}

	c.Proof = &dto.Proof{Type: vc.ProofTypeJWT, JWT: token}

	return nil
}

func (i *Issuer) signPresentationJWT(ctx context.Context, p *vp.Presentation, sk *signingKey) error {
	claims, err := p.JWTClaims()
	if err != nil {
		return err
	}

	token, err := i.signJWT(ctx, sk, claims)
	if err != nil {
		return err
	}

	p.Proof = &dto.Proof{Type: vc.ProofTypeJWT, JWT: token}

	return nil
}

func (i *Issuer) signJWT(ctx context.Context, sk *signingKey, claims map[string]interface{}) (string, error) {
	ks, err := jwt.NewKeySigner(ctx, i.signer, sk.key)
	if err != nil {
		return "", err
	}

	token, err := jwt.Sign(ks, sk.alg, sk.verificationMethod, claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return token, nil
}

func (i *Issuer) validateSchema(ctx context.Context, c *vc.Credential) error {
	if i.validator == nil || c.CredentialSchema == nil || c.CredentialSchema.ID == "" {
		return nil
	}

	doc, err := c.ToJSONMap()
	if err != nil {
		return err
	}

	return i.validator.Validate(ctx, c.CredentialSchema.ID, map[string]interface{}(doc))
}

func proofFormat(f ProofFormat) (ProofFormat, error) {
	switch f {
	case "", FormatJWT:
		return FormatJWT, nil
	case FormatLDS:
		return FormatLDS, nil
	}

	return "", dErrors.ErrUnsupportedProofFormat.Errorf("unsupported proof format %q", f)
}

// algorithm returns the signing algorithm for format. LD proofs are always ES256K-R.
func algorithm(format ProofFormat, requested string) string {
	if format == FormatLDS {
		return kms.AlgES256KR
	}

	return requested
}
