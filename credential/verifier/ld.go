package verifier

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/pilacorp/go-did-agent/credential/common/crypto"
	"github.com/pilacorp/go-did-agent/credential/common/dto"
	verificationmethod "github.com/pilacorp/go-did-agent/credential/common/verification-method"
	"github.com/pilacorp/go-did-agent/credential/vc"
	"github.com/pilacorp/go-did-agent/credential/vp"
	"github.com/pilacorp/go-did-agent/kms"
)

func (v *Verifier) verifyLDCredential(ctx context.Context, c *vc.Credential) (*Result, error) {
	res := &Result{Type: KindCredential, Issuer: c.Issuer.ID, Credential: c, Claims: c.CredentialSubject}

	if err := c.Validate(); err != nil {
		return res.reject(err.Error()), nil
	}

	reason, err := v.checkLDProof(ctx, c.Proof, c.Issuer.ID, func(key interface{}) (bool, error) {
		return c.VerifyLDProof(v.processor, key)
	})
	if err != nil || reason != "" {
		return res.reject(reason), err
	}

	now := v.now()

	if c.ExpirationDate != nil && now.After(c.ExpirationDate.Add(v.leeway)) {
		return res.reject("credential expired"), nil
	}

	if now.Add(v.leeway).Before(c.IssuanceDate) {
		return res.reject("credential not yet valid"), nil
	}

	if reason, err := v.checkCredential(ctx, c); err != nil || reason != "" {
		return res.reject(reason), err
	}

	res.Valid = true

	return res, nil
}

func (v *Verifier) verifyLDPresentation(ctx context.Context, p *vp.Presentation) (*Result, error) {
	res := &Result{Type: KindPresentation, Issuer: p.Holder, Presentation: p}

	if err := p.Validate(); err != nil {
		return res.reject(err.Error()), nil
	}

	reason, err := v.checkLDProof(ctx, p.Proof, p.Holder, func(key interface{}) (bool, error) {
		return p.VerifyLDProof(v.processor, key)
	})
	if err != nil || reason != "" {
		return res.reject(reason), err
	}

	if p.ExpirationDate != nil && v.now().After(p.ExpirationDate.Add(v.leeway)) {
		return res.reject("presentation expired"), nil
	}

	if v.audience != "" && !slices.Contains(p.Verifier, v.audience) {
		return res.reject("audience mismatch"), nil
	}

	if reason, err := v.checkEmbedded(ctx, p); err != nil || reason != "" {
		return res.reject(reason), err
	}

	res.Valid = true

	return res, nil
}

// checkLDProof checks that proof is a DataIntegrityProof made by a verification method of
// signer, and runs verify with that method's key.
func (v *Verifier) checkLDProof(ctx context.Context, proof *dto.Proof, signer string, verify func(key interface{}) (bool, error)) (string, error) {
	if proof == nil {
		return "missing proof", nil
	}

	if proof.Type != crypto.ProofTypeDataIntegrity {
		return fmt.Sprintf("unsupported proof type %q", proof.Type), nil
	}

	if controller, _, _ := strings.Cut(proof.VerificationMethod, "#"); controller != signer {
		return fmt.Sprintf("verification method %s does not belong to %s", proof.VerificationMethod, signer), nil
	}

	key, err := verificationmethod.Lookup(ctx, v.resolver, proof.VerificationMethod, kms.AlgES256KR)
	if err != nil {
		if ctx.Err() != nil {
			return "cancelled", ctx.Err()
		}

		return fmt.Sprintf("no usable verification method: %v", err), nil
	}

	ok, err := verify(key)
	if err != nil {
		return fmt.Sprintf("invalid proof: %v", err), nil
	}

	if !ok {
		return "invalid signature", nil
	}

	return "", nil
}
