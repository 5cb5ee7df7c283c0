package vp

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/pilacorp/go-did-agent/credential/common/dto"
	"github.com/pilacorp/go-did-agent/credential/common/util"
	"github.com/pilacorp/go-did-agent/credential/vc"
	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
)

// JWTClaims maps the presentation onto JWT claims. iss is the holder, aud the verifier
// list, and the vp claim carries the credentials, JWT credentials as their compact tokens.
func (p *Presentation) JWTClaims() (jwt.MapClaims, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	creds := make([]interface{}, 0, len(p.VerifiableCredential))
	for _, c := range p.VerifiableCredential {
		enc, err := encodeCredential(c)
		if err != nil {
			return nil, err
		}

		creds = append(creds, enc)
	}

	claim := map[string]interface{}{
		"@context":             p.Context,
		"type":                 p.Type,
		"verifiableCredential": creds,
	}

	claims := jwt.MapClaims{
		"vp":  claim,
		"iss": p.Holder,
	}

	if len(p.Verifier) > 0 {
		claims["aud"] = p.Verifier
	}

	if p.IssuanceDate != nil {
		claims["nbf"] = p.IssuanceDate.Unix()
		claims["iat"] = p.IssuanceDate.Unix()
	}

	if p.ExpirationDate != nil {
		claims["exp"] = p.ExpirationDate.Unix()
	}

	if p.ID != "" {
		claims["jti"] = p.ID
	}

	return claims, nil
}

// FromJWTClaims rebuilds a presentation from verified JWT claims. Embedded JWT
// credentials are returned as unverified references (see decodeCredential).
func FromJWTClaims(claims jwt.MapClaims, token string) (*Presentation, error) {
	claim, ok := claims["vp"].(map[string]interface{})
	if !ok {
		return nil, dErrors.ErrMalformedToken.Errorf("vp claim is missing or not an object")
	}

	iss, _ := claims["iss"].(string)
	if iss == "" {
		return nil, dErrors.ErrMalformedToken.Errorf("presentation has no iss claim")
	}

	p := &Presentation{Holder: iss}

	if holder, _ := claim["holder"].(string); holder != "" && holder != iss {
		return nil, vc.ErrClaimMismatch.Errorf("iss %q does not match holder %q", iss, holder)
	}

	var err error

	switch ctx := claim["@context"].(type) {
	case nil:
	case string:
		p.Context = []interface{}{ctx}
	case []interface{}:
		if p.Context, err = util.SerializeContexts(ctx); err != nil {
			return nil, dErrors.ErrMalformedToken.WithCause(err, "invalid vp @context")
		}
	default:
		return nil, dErrors.ErrMalformedToken.Errorf("invalid vp @context type %T", ctx)
	}

	if p.Type, err = util.ParseTypes(claim["type"]); err != nil {
		return nil, dErrors.ErrMalformedToken.WithCause(err, "invalid vp type")
	}

	if p.Verifier, err = audience(claims["aud"]); err != nil {
		return nil, err
	}

	p.ID, _ = claims["jti"].(string)

	if nbf, ok, err := vc.NumericDate(claims["nbf"]); err != nil {
		return nil, dErrors.ErrMalformedToken.WithCause(err, "invalid nbf claim")
	} else if ok {
		p.IssuanceDate = &nbf
	}

	if exp, ok, err := vc.NumericDate(claims["exp"]); err != nil {
		return nil, dErrors.ErrMalformedToken.WithCause(err, "invalid exp claim")
	} else if ok {
		p.ExpirationDate = &exp
	}

	var entries []interface{}
	switch v := claim["verifiableCredential"].(type) {
	case nil:
	case []interface{}:
		entries = v
	default:
		entries = []interface{}{v}
	}

	for i, raw := range entries {
		c, err := decodeCredential(raw)
		if err != nil {
			return nil, dErrors.ErrMalformedToken.WithCause(err, "invalid credential at index %d", i)
		}

		p.VerifiableCredential = append(p.VerifiableCredential, c)
	}

	p.Proof = &dto.Proof{Type: vc.ProofTypeJWT, JWT: token}

	return p, nil
}

func audience(raw interface{}) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []interface{}:
		aud := make([]string, 0, len(v))
		for _, a := range v {
			s, ok := a.(string)
			if !ok {
				return nil, dErrors.ErrMalformedToken.Errorf("aud entries must be strings, got %T", a)
			}

			aud = append(aud, s)
		}

		return aud, nil
	case []string:
		return v, nil
	}

	return nil, dErrors.ErrMalformedToken.Errorf("invalid aud claim type %T", raw)
}
