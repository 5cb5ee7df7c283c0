package vp

import (
	"context"
	"fmt"
	"time"

	"github.com/pilacorp/go-did-agent/credential/common/jsonmap"
	"github.com/pilacorp/go-did-agent/credential/common/schema"
	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
)

// ProofPurposeAuthentication is the proof purpose of holder-signed presentations.
const ProofPurposeAuthentication = "authentication"

// AddLDProof signs the presentation's canonical JSON-LD form with the holder key kid.
func (p *Presentation) AddLDProof(ctx context.Context, proc *schema.Processor, signer jsonmap.Signer, kid, verificationMethod string, created time.Time) error {
	if err := p.Validate(); err != nil {
		return err
	}

	if p.Proof != nil {
		return dErrors.ErrInvalidInput.Errorf("presentation is already proven")
	}

	doc, err := p.ToJSONMap()
	if err != nil {
		return err
	}

	err = doc.AddECDSAProof(ctx, proc, signer, jsonmap.ProofOptions{
		KID:                kid,
		VerificationMethod: verificationMethod,
		ProofPurpose:       ProofPurposeAuthentication,
		Created:            created,
	})
	if err != nil {
		return fmt.Errorf("failed to add proof: %w", err)
	}

	proof, err := doc.Proof()
	if err != nil {
		return err
	}

	p.Proof = &proof

	return nil
}

// VerifyLDProof checks the presentation's DataIntegrityProof against key. Embedded
// credentials are not verified.
func (p *Presentation) VerifyLDProof(proc *schema.Processor, key interface{}) (bool, error) {
	if p.Proof == nil {
		return false, dErrors.ErrInvalidInput.Errorf("presentation has no proof")
	}

	doc, err := p.ToJSONMap()
	if err != nil {
		return false, err
	}

	return doc.VerifyECDSA(proc, key)
}
