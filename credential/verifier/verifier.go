// Package verifier checks credentials and presentations issued by any DID the resolver
// can reach.
//
// A document that fails verification yields a Result with Valid false and a Reason. Only
// a token that cannot be parsed at all is reported as an error (ErrMalformedToken), and
// then an invalid Result is returned with it. Context cancellation is also returned as
// an error.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	credentialstatus "github.com/pilacorp/go-did-agent/credential/common/credential-status"
	credjwt "github.com/pilacorp/go-did-agent/credential/common/jwt"
	"github.com/pilacorp/go-did-agent/credential/common/schema"
	verificationmethod "github.com/pilacorp/go-did-agent/credential/common/verification-method"
	"github.com/pilacorp/go-did-agent/credential/vc"
	"github.com/pilacorp/go-did-agent/credential/vp"
	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
	"github.com/pilacorp/go-did-agent/metrics"
)

// Verifier verifies JWT and LD-proven credentials and presentations.
type Verifier struct {
	resolver  verificationmethod.Resolver
	processor *schema.Processor
	validator *schema.Validator
	status    *credentialstatus.Client
	audience  string
	leeway    time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithAudience requires presentations to name audience in aud.
func WithAudience(audience string) Option {
	return func(v *Verifier) {
		v.audience = audience
	}
}

// WithLeeway tolerates clock skew on expiration and activation times.
func WithLeeway(d time.Duration) Option {
	return func(v *Verifier) {
		v.leeway = d
	}
}

// WithClock sets the clock used for expiration checks.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
	}
}

// WithStatusClient enables revocation checks of credentials that carry a credentialStatus.
func WithStatusClient(c *credentialstatus.Client) Option {
	return func(v *Verifier) {
		v.status = c
	}
}

// WithSchemaValidator validates credentials that name a credentialSchema.
func WithSchemaValidator(s *schema.Validator) Option {
	return func(v *Verifier) {
		v.validator = s
	}
}

// WithProcessor sets the JSON-LD processor used for LD proofs.
func WithProcessor(p *schema.Processor) Option {
	return func(v *Verifier) {
		v.processor = p
	}
}

// WithMetrics records verification outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Verifier) {
		v.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *Verifier) {
		v.logger = l
	}
}

// New creates a Verifier that resolves signers with r.
func New(r verificationmethod.Resolver, opts ...Option) (*Verifier, error) {
	v := &Verifier{
		resolver: r,
		logger:   zap.NewNop(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(v)
	}

	if v.processor == nil {
		p, err := schema.NewProcessor()
		if err != nil {
			return nil, err
		}

		v.processor = p
	}

	return v, nil
}

// Verify verifies a compact JWT credential or presentation.
func (v *Verifier) Verify(ctx context.Context, token string) (*Result, error) {
	res, err := v.verifyToken(ctx, token)
	v.record(res, err)

	return res, err
}

// VerifyCredential verifies a credential in either proof format.
func (v *Verifier) VerifyCredential(ctx context.Context, c *vc.Credential) (*Result, error) {
	if token := c.JWT(); token != "" {
		return v.Verify(ctx, token)
	}

	res, err := v.verifyLDCredential(ctx, c)
	v.record(res, err)

	return res, err
}

// VerifyPresentation verifies a presentation in either proof format.
func (v *Verifier) VerifyPresentation(ctx context.Context, p *vp.Presentation) (*Result, error) {
	if token := p.JWT(); token != "" {
		return v.Verify(ctx, token)
	}

	res, err := v.verifyLDPresentation(ctx, p)
	v.record(res, err)

	return res, err
}

func (v *Verifier) verifyToken(ctx context.Context, token string) (*Result, error) {
	res := &Result{}

	header, claims, err := credjwt.Decode(token)
	if err != nil {
		return res.reject("malformed token"), err
	}

	switch {
	case claims["vc"] != nil:
		res.Type = KindCredential
	case claims["vp"] != nil:
		res.Type = KindPresentation
	default:
		return res.reject("malformed token"), dErrors.ErrMalformedToken.Errorf("token carries neither a vc nor a vp claim")
	}

	iss, _ := claims["iss"].(string)
	if iss == "" {
		return res.reject("malformed token"), dErrors.ErrMalformedToken.Errorf("token has no iss claim")
	}

	res.Issuer = iss

	doc, err := v.resolver.Resolve(ctx, iss)
	if err != nil {
		if ctx.Err() != nil {
			return res.reject("cancelled"), ctx.Err()
		}

		v.logger.Debug("failed to resolve signer", zap.String("did", iss), zap.Error(err))

		return res.reject(fmt.Sprintf("unresolvable DID %s: %v", iss, err)), nil
	}

	kid := credjwt.HeaderString(header, "kid")

	keys, err := credjwt.VerificationKeys(doc, kid, credjwt.HeaderString(header, "alg"))
	if err != nil {
		return res.reject(fmt.Sprintf("no usable verification method: %v", err)), nil
	}

	opts := []credjwt.VerifyOption{credjwt.WithTime(v.now), credjwt.WithLeeway(v.leeway)}
	if res.Type == KindPresentation && v.audience != "" {
		opts = append(opts, credjwt.WithAudience(v.audience))
	}

	verified, err := credjwt.Verify(token, keys, opts...)
	if err != nil {
		if errors.Is(err, dErrors.ErrMalformedToken) {
			return res.reject("malformed token"), err
		}

		return res.reject(credjwt.Reason(err)), nil
	}

	res.Payload = verified

	if res.Type == KindCredential {
		return v.credentialFromClaims(ctx, res, verified, token)
	}

	return v.presentationFromClaims(ctx, res, verified, token)
}

func (v *Verifier) credentialFromClaims(ctx context.Context, res *Result, claims jwt.MapClaims, token string) (*Result, error) {
	c, err := vc.FromJWTClaims(claims, token)
	if err != nil {
		return rejectDecoded(res, err)
	}

	res.Credential = c
	res.Claims = c.CredentialSubject

	if reason, err := v.checkCredential(ctx, c); err != nil || reason != "" {
		return res.reject(reason), err
	}

	res.Valid = true

	return res, nil
}

func (v *Verifier) presentationFromClaims(ctx context.Context, res *Result, claims jwt.MapClaims, token string) (*Result, error) {
	p, err := vp.FromJWTClaims(claims, token)
	if err != nil {
		return rejectDecoded(res, err)
	}

	res.Presentation = p

	if reason, err := v.checkEmbedded(ctx, p); err != nil || reason != "" {
		return res.reject(reason), err
	}

	res.Valid = true

	return res, nil
}

// rejectDecoded turns a failure to rebuild the document from verified claims into a result.
// Claims that contradict the embedded document make it invalid; unreadable claims are
// malformed.
func rejectDecoded(res *Result, err error) (*Result, error) {
	if errors.Is(err, vc.ErrClaimMismatch) {
		return res.reject(err.Error()), nil
	}

	if errors.Is(err, dErrors.ErrMalformedToken) {
		return res.reject("malformed token"), err
	}

	return res.reject(err.Error()), nil
}

// checkEmbedded verifies the credentials of p concurrently and replaces token references
// with the verified credentials. It returns the reason p is invalid, or "".
func (v *Verifier) checkEmbedded(ctx context.Context, p *vp.Presentation) (string, error) {
	results := make([]*Result, len(p.VerifiableCredential))

	g, gctx := errgroup.WithContext(ctx)

	for i, c := range p.VerifiableCredential {
		g.Go(func() error {
			var (
				r   *Result
				err error
			)

			if token := c.JWT(); token != "" {
				r, err = v.verifyToken(gctx, token)
			} else {
				r, err = v.verifyLDCredential(gctx, c)
			}

			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}

			if err != nil && r.Reason == "" {
				r.reject(err.Error())
			}

			results[i] = r

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return "cancelled", err
	}

	for i, r := range results {
		if !r.Valid {
			return fmt.Sprintf("embedded credential %d: %s", i, r.Reason), nil
		}

		if r.Type != KindCredential {
			return fmt.Sprintf("embedded credential %d is a %s", i, r.Type), nil
		}

		p.VerifiableCredential[i] = r.Credential
	}

	return "", nil
}

// checkCredential runs the checks shared by both proof formats: revocation status and
// schema. It returns the reason c is invalid, or "".
func (v *Verifier) checkCredential(ctx context.Context, c *vc.Credential) (string, error) {
	if v.status != nil && len(c.CredentialStatus) > 0 {
		entry, err := credentialstatus.ParseEntry(c.CredentialStatus)
		if err != nil {
			return fmt.Sprintf("invalid credentialStatus: %v", err), nil
		}

		revoked, err := v.status.Check(ctx, entry)
		if err != nil {
			if ctx.Err() != nil {
				return "cancelled", ctx.Err()
			}

			return fmt.Sprintf("status check failed: %v", err), nil
		}

		if revoked {
			return "revoked", nil
		}
	}

	if v.validator != nil && c.CredentialSchema != nil && c.CredentialSchema.ID != "" {
		doc, err := c.ToJSONMap()
		if err != nil {
			return fmt.Sprintf("invalid credential: %v", err), nil
		}

		if err := v.validator.Validate(ctx, c.CredentialSchema.ID, map[string]interface{}(doc)); err != nil {
			if ctx.Err() != nil {
				return "cancelled", ctx.Err()
			}

			return fmt.Sprintf("schema validation failed: %v", err), nil
		}
	}

	return "", nil
}

func (v *Verifier) record(res *Result, err error) {
	result := resultInvalid

	switch {
	case errors.Is(err, dErrors.ErrMalformedToken):
		result = resultMalformed
	case res.Valid:
		result = resultValid
	}

	v.metrics.IncVerification(string(res.Type), result)

	fields := []zap.Field{
		zap.String("type", string(res.Type)),
		zap.String("issuer", res.Issuer),
		zap.Bool("valid", res.Valid),
	}

	if !res.Valid {
		fields = append(fields, zap.String("reason", res.Reason))
	}

	v.logger.Debug("verified", fields...)
}
