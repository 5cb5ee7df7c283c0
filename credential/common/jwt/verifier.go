package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	verificationmethod "github.com/pilacorp/go-did-agent/credential/common/verification-method"
	"github.com/pilacorp/go-did-agent/did"
	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
	"github.com/pilacorp/go-did-agent/kms"
)

// ValidMethods are the algorithms accepted when verifying tokens.
var ValidMethods = []string{kms.AlgES256K, kms.AlgES256KR, kms.AlgEdDSA}

// VerificationKeys returns the keys of doc that can check a token signed with alg.
//
// When kid is set only that verification method is considered. Otherwise every assertion and
// authentication method is a candidate, in document order.
func VerificationKeys(doc *did.Document, kid, alg string) ([]jwt.VerificationKey, error) {
	found, err := verificationmethod.Keys(doc, kid, alg)
	if err != nil {
		return nil, err
	}

	keys := make([]jwt.VerificationKey, 0, len(found))
	for _, k := range found {
		keys = append(keys, k)
	}

	return keys, nil
}

// VerifyOption configures Verify.
type VerifyOption func(*verifyOptions)

type verifyOptions struct {
	now      func() time.Time
	audience string
	leeway   time.Duration
}

// WithTime sets the clock used for exp and nbf checks.
func WithTime(now func() time.Time) VerifyOption {
	return func(o *verifyOptions) {
		o.now = now
	}
}

// WithAudience requires aud to contain audience.
func WithAudience(audience string) VerifyOption {
	return func(o *verifyOptions) {
		o.audience = audience
	}
}

// WithLeeway tolerates clock skew on exp and nbf.
func WithLeeway(d time.Duration) VerifyOption {
	return func(o *verifyOptions) {
		o.leeway = d
	}
}

// Verify checks the signature of token against keys and validates its time claims.
// Numbers in the returned claims are json.Number.
func Verify(token string, keys []jwt.VerificationKey, opts ...VerifyOption) (jwt.MapClaims, error) {
	o := &verifyOptions{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithJSONNumber(),
		jwt.WithValidMethods(ValidMethods),
		jwt.WithTimeFunc(o.now),
		jwt.WithLeeway(o.leeway),
	}

	if o.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(o.audience))
	}

	claims := jwt.MapClaims{}

	_, err := jwt.NewParser(parserOpts...).ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return jwt.VerificationKeySet{Keys: keys}, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, dErrors.ErrMalformedToken.WithCause(err, "failed to parse token")
		}

		return claims, err
	}

	return claims, nil
}

// Reason maps a verification error to a short, stable description.
func Reason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "token not yet valid"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "audience mismatch"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "invalid signature"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unverifiable token"
	}

	return fmt.Sprintf("verification failed: %v", err)
}
