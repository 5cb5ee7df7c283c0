package vc

import (
	"context"
	"fmt"
	"time"

	"github.com/pilacorp/go-did-agent/credential/common/jsonmap"
	"github.com/pilacorp/go-did-agent/credential/common/schema"
	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
)

// ProofPurposeAssertion is the proof purpose of issuer-signed credentials.
const ProofPurposeAssertion = "assertionMethod"

// AddLDProof signs the credential's canonical JSON-LD form with the secp256k1 key kid and
// attaches an ecdsa-rdfc-2019 DataIntegrityProof naming verificationMethod.
func (c *Credential) AddLDProof(ctx context.Context, p *schema.Processor, signer jsonmap.Signer, kid, verificationMethod string, created time.Time) error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Proof != nil {
		return dErrors.ErrInvalidInput.Errorf("credential is already proven")
	}

	m, err := c.ToJSONMap()
	if err != nil {
		return err
	}

	doc := jsonmap.JSONMap(m)

	err = doc.AddECDSAProof(ctx, p, signer, jsonmap.ProofOptions{
		KID:                kid,
		VerificationMethod: verificationMethod,
		ProofPurpose:       ProofPurposeAssertion,
		Created:            created,
	})
	if err != nil {
		return fmt.Errorf("failed to add proof: %w", err)
	}

	proof, err := doc.Proof()
	if err != nil {
		return err
	}

	c.Proof = &proof

	return nil
}

// VerifyLDProof checks the embedded DataIntegrityProof against key.
func (c *Credential) VerifyLDProof(p *schema.Processor, key interface{}) (bool, error) {
	if c.Proof == nil {
		return false, dErrors.ErrInvalidInput.Errorf("credential has no proof")
	}

	m, err := c.ToJSONMap()
	if err != nil {
		return false, err
	}

	doc := jsonmap.JSONMap(m)

	return doc.VerifyECDSA(p, key)
}
