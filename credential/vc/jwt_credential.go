package vc

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/pilacorp/go-did-agent/credential/common/dto"
	"github.com/pilacorp/go-did-agent/credential/common/util"
	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
)

// ErrClaimMismatch is returned when a registered JWT claim contradicts the embedded document.
var ErrClaimMismatch = dErrors.New(dErrors.CodeValidation, "jwt claims do not match embedded document")

// JWTClaims maps the credential onto JWT claims:
//
//	iss  issuer id
//	sub  credentialSubject.id
//	nbf  issuanceDate
//	iat  issuanceDate
//	exp  expirationDate
//	jti  id
//	vc   everything else
//
// The vc claim keeps non-id issuer properties under "issuer".
func (c *Credential) JWTClaims() (jwt.MapClaims, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	subject := copyMap(c.CredentialSubject)
	delete(subject, "id")

	claim := map[string]interface{}{
		"@context":          c.Context,
		"type":              c.Type,
		"credentialSubject": subject,
	}

	if c.CredentialStatus != nil {
		claim["credentialStatus"] = c.CredentialStatus
	}

	if c.CredentialSchema != nil {
		claim["credentialSchema"] = c.CredentialSchema
	}

	if c.TermsOfUse != nil {
		claim["termsOfUse"] = c.TermsOfUse
	}

	if len(c.Issuer.Fields) > 0 {
		claim["issuer"] = copyMap(c.Issuer.Fields)
	}

	claims := jwt.MapClaims{
		"vc":  claim,
		"iss": c.Issuer.ID,
		"nbf": c.IssuanceDate.Unix(),
		"iat": c.IssuanceDate.Unix(),
	}

	if sub := c.SubjectID(); sub != "" {
		claims["sub"] = sub
	}

	if c.ExpirationDate != nil {
		claims["exp"] = c.ExpirationDate.Unix()
	}

	if c.ID != "" {
		claims["jti"] = c.ID
	}

	return claims, nil
}

// FromJWTClaims rebuilds a credential from verified JWT claims and records token as its
// JwtProof2020 proof. A missing or non-object vc claim is a malformed token. Registered
// claims that contradict values repeated inside vc yield ErrClaimMismatch.
func FromJWTClaims(claims jwt.MapClaims, token string) (*Credential, error) {
	claim, ok := asMap(claims["vc"])
	if !ok {
		return nil, dErrors.ErrMalformedToken.Errorf("vc claim is missing or not an object")
	}

	iss, err := stringClaim(claims, "iss")
	if err != nil {
		return nil, dErrors.ErrMalformedToken.WithCause(err, "invalid iss claim")
	}

	sub, err := stringClaim(claims, "sub")
	if err != nil {
		return nil, dErrors.ErrMalformedToken.WithCause(err, "invalid sub claim")
	}

	jti, err := stringClaim(claims, "jti")
	if err != nil {
		return nil, dErrors.ErrMalformedToken.WithCause(err, "invalid jti claim")
	}

	c := &Credential{ID: jti}

	if c.Context, err = parseContext(claim["@context"]); err != nil {
		return nil, dErrors.ErrMalformedToken.WithCause(err, "invalid vc @context")
	}

	if c.Type, err = util.ParseTypes(claim["type"]); err != nil {
		return nil, dErrors.ErrMalformedToken.WithCause(err, "invalid vc type")
	}

	if err := c.setIssuer(claim["issuer"], iss); err != nil {
		return nil, err
	}

	subject := map[string]interface{}{}
	if raw, present := claim["credentialSubject"]; present {
		if subject, ok = asMap(raw); !ok {
			return nil, dErrors.ErrMalformedToken.Errorf("vc credentialSubject is not an object")
		}

		subject = copyMap(subject)
	}

	if embedded, _ := subject["id"].(string); embedded != "" && sub != "" && embedded != sub {
		return nil, ErrClaimMismatch.Errorf("sub %q does not match credentialSubject.id %q", sub, embedded)
	}

	if sub != "" {
		subject["id"] = sub
	}

	c.CredentialSubject = subject

	if embedded, _ := claim["id"].(string); embedded != "" {
		if jti != "" && embedded != jti {
			return nil, ErrClaimMismatch.Errorf("jti %q does not match credential id %q", jti, embedded)
		}

		c.ID = embedded
	}

	if err := c.setDates(claims); err != nil {
		return nil, err
	}

	if status, present := claim["credentialStatus"]; present {
		if c.CredentialStatus, ok = asMap(status); !ok {
			return nil, dErrors.ErrMalformedToken.Errorf("vc credentialStatus is not an object")
		}
	}

	if raw, present := claim["credentialSchema"]; present {
		m, ok := asMap(raw)
		if !ok {
			return nil, dErrors.ErrMalformedToken.Errorf("vc credentialSchema is not an object")
		}

		c.CredentialSchema = &Schema{}
		c.CredentialSchema.ID, _ = m["id"].(string)
		c.CredentialSchema.Type, _ = m["type"].(string)
	}

	c.TermsOfUse = claim["termsOfUse"]
	c.Proof = &dto.Proof{Type: ProofTypeJWT, JWT: token}

	return c, nil
}

func (c *Credential) setIssuer(embedded interface{}, iss string) error {
	c.Issuer = Issuer{ID: iss}

	switch v := embedded.(type) {
	case nil:
	case string:
		if iss != "" && v != iss {
			return ErrClaimMismatch.Errorf("iss %q does not match issuer %q", iss, v)
		}

		c.Issuer.ID = v
	default:
		m, ok := asMap(v)
		if !ok {
			return dErrors.ErrMalformedToken.Errorf("vc issuer must be a string or an object")
		}

		m = copyMap(m)
		if id, _ := m["id"].(string); id != "" {
			if iss != "" && id != iss {
				return ErrClaimMismatch.Errorf("iss %q does not match issuer %q", iss, id)
			}

			c.Issuer.ID = id
		}

		delete(m, "id")

		if len(m) > 0 {
			c.Issuer.Fields = m
		}
	}

	if c.Issuer.ID == "" {
		return dErrors.ErrMalformedToken.Errorf("credential has no issuer")
	}

	return nil
}

func (c *Credential) setDates(claims jwt.MapClaims) error {
	nbf, ok, err := NumericDate(claims["nbf"])
	if err != nil {
		return dErrors.ErrMalformedToken.WithCause(err, "invalid nbf claim")
	}

	if !ok {
		if nbf, _, err = NumericDate(claims["iat"]); err != nil {
			return dErrors.ErrMalformedToken.WithCause(err, "invalid iat claim")
		}
	}

	c.IssuanceDate = nbf

	exp, ok, err := NumericDate(claims["exp"])
	if err != nil {
		return dErrors.ErrMalformedToken.WithCause(err, "invalid exp claim")
	}

	if ok {
		c.ExpirationDate = &exp
	}

	return nil
}
