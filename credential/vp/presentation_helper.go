package vp

import (
	"encoding/json"
	"fmt"

	"github.com/pilacorp/go-did-agent/credential/common/dto"
	"github.com/pilacorp/go-did-agent/credential/common/util"
	"github.com/pilacorp/go-did-agent/credential/vc"
	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
)

// Validate checks the fields every presentation must carry.
func (p *Presentation) Validate() error {
	if p.Holder == "" {
		return dErrors.ErrInvalidInput.Errorf("presentation holder is required")
	}

	if len(p.Context) == 0 {
		return dErrors.ErrInvalidInput.Errorf("presentation @context is required")
	}

	if _, err := util.SerializeContexts(p.Context); err != nil {
		return dErrors.ErrInvalidInput.WithCause(err, "invalid presentation @context")
	}

	found := false
	for _, t := range p.Type {
		found = found || t == TypeVerifiablePresentation
	}

	if !found {
		return dErrors.ErrInvalidInput.Errorf("presentation type must include %s", TypeVerifiablePresentation)
	}

	for i, c := range p.VerifiableCredential {
		if c == nil {
			return dErrors.ErrInvalidInput.Errorf("credential at index %d is nil", i)
		}

		if c.Proof == nil {
			return dErrors.ErrInvalidInput.Errorf("credential at index %d has no proof", i)
		}
	}

	return nil
}

// encodeCredential returns the form a credential takes inside the vp claim: its compact
// token when JWT-proven, its JSON object otherwise.
func encodeCredential(c *vc.Credential) (interface{}, error) {
	if token := c.JWT(); token != "" {
		return token, nil
	}

	return c.ToJSONMap()
}

// decodeCredential is the inverse of encodeCredential. A token becomes a reference
// credential whose only content is its JwtProof2020 proof; the verifier replaces it
// with the verified credential.
func decodeCredential(raw interface{}) (*vc.Credential, error) {
	switch v := raw.(type) {
	case string:
		if !vc.IsJWT(v) {
			return nil, fmt.Errorf("embedded credential is neither a JWT nor an object")
		}

		return &vc.Credential{Proof: &dto.Proof{Type: vc.ProofTypeJWT, JWT: v}}, nil
	case map[string]interface{}:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal embedded credential: %w", err)
		}

		return vc.ParseJSON(data)
	}

	return nil, fmt.Errorf("unsupported embedded credential type %T", raw)
}
