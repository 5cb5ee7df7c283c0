package jsonmap

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pilacorp/go-did-agent/credential/common/crypto"
	"github.com/pilacorp/go-did-agent/credential/common/dto"
	"github.com/pilacorp/go-did-agent/credential/common/schema"
	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
	"github.com/pilacorp/go-did-agent/kms"
)

// JSONMap represents a JSON object as a map.
type JSONMap map[string]interface{}

// Signer signs payloads with managed keys.
type Signer interface {
	Sign(ctx context.Context, kid string, payload []byte, algorithm string) ([]byte, error)
}

// ToJSON serializes the JSONMap to JSON.
func (m *JSONMap) ToJSON() ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("JSONMap is nil")
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSONMap: %w", err)
	}

	return data, nil
}

// Canonicalize returns the canonical N-Quads of the JSONMap, excluding the proof field.
func (m *JSONMap) Canonicalize(p *schema.Processor) ([]byte, error) {
	mCopy := make(JSONMap, len(*m))
	for k, v := range *m {
		if k != "proof" {
			mCopy[k] = v
		}
	}

	canonical, err := p.CanonicalizeDocument(mCopy)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize document: %w", err)
	}

	return canonical, nil
}

// ProofOptions describes the embedded proof to add.
type ProofOptions struct {
	KID                string
	VerificationMethod string
	ProofPurpose       string
	Created            time.Time
}

// AddECDSAProof signs the canonical form of the JSONMap with a secp256k1 key and embeds an
// ecdsa-rdfc-2019 DataIntegrityProof. proofValue is the hex R||S||V signature over
// SHA-256 of the canonical N-Quads.
func (m *JSONMap) AddECDSAProof(ctx context.Context, p *schema.Processor, signer Signer, opts ProofOptions) error {
	if m == nil {
		return fmt.Errorf("JSONMap is nil")
	}

	if opts.VerificationMethod == "" {
		return dErrors.ErrInvalidInput.Errorf("verification method is required")
	}

	if opts.ProofPurpose == "" {
		return dErrors.ErrInvalidInput.Errorf("proof purpose is required")
	}

	signData, err := m.Canonicalize(p)
	if err != nil {
		return err
	}

	signature, err := signer.Sign(ctx, opts.KID, signData, kms.AlgES256KR)
	if err != nil {
		return fmt.Errorf("failed to sign ECDSA proof: %w", err)
	}

	return m.AddCustomProof(&dto.Proof{
		Type:               crypto.ProofTypeDataIntegrity,
		Created:            opts.Created.UTC().Format(time.RFC3339),
		VerificationMethod: opts.VerificationMethod,
		ProofPurpose:       opts.ProofPurpose,
		Cryptosuite:        crypto.CryptosuiteECDSARdfc2019,
		ProofValue:         hex.EncodeToString(signature),
	})
}

// AddCustomProof embeds proof in the JSONMap.
func (m *JSONMap) AddCustomProof(proof *dto.Proof) error {
	if m == nil {
		return fmt.Errorf("JSONMap is nil")
	}

	if proof == nil {
		return fmt.Errorf("proof is nil")
	}

	(*m)["proof"] = proof.ToMap()

	return nil
}

// Proof returns the first embedded proof.
func (m *JSONMap) Proof() (dto.Proof, error) {
	raw, ok := (*m)["proof"]
	if !ok {
		return dto.Proof{}, fmt.Errorf("JSONMap has no proof")
	}

	if proofs, ok := raw.([]interface{}); ok {
		if len(proofs) == 0 {
			return dto.Proof{}, fmt.Errorf("JSONMap has no proof")
		}

		raw = proofs[0]
	}

	return ParseRawToProof(raw)
}

// VerifyECDSA checks the embedded ecdsa-rdfc-2019 proof against key (see
// crypto.ECDSAVerifySignature for accepted key forms).
func (m *JSONMap) VerifyECDSA(p *schema.Processor, key interface{}) (bool, error) {
	if m == nil {
		return false, fmt.Errorf("JSONMap is nil")
	}

	proof, err := m.Proof()
	if err != nil {
		return false, err
	}

	if proof.Cryptosuite != crypto.CryptosuiteECDSARdfc2019 {
		return false, dErrors.ErrUnsupportedProofFormat.Errorf("unsupported cryptosuite %q", proof.Cryptosuite)
	}

	signature, err := hex.DecodeString(proof.ProofValue)
	if err != nil {
		return false, fmt.Errorf("failed to decode proofValue: %w", err)
	}

	doc, err := m.Canonicalize(p)
	if err != nil {
		return false, err
	}

	digest, err := schema.ComputeDigest(doc)
	if err != nil {
		return false, err
	}

	return crypto.ECDSAVerifySignature(key, signature, digest)
}

// ParseRawToProof converts a JSON object to a Proof struct.
func ParseRawToProof(proof interface{}) (dto.Proof, error) {
	var result dto.Proof

	proofMap, ok := proof.(map[string]interface{})
	if !ok {
		if jm, isJSONMap := proof.(JSONMap); isJSONMap {
			proofMap = jm
		} else {
			return result, fmt.Errorf("invalid proof format: expected map[string]interface{}, got %T", proof)
		}
	}

	if t, ok := proofMap["type"].(string); ok {
		result.Type = t
	}
	if created, ok := proofMap["created"].(string); ok {
		result.Created = created
	}
	if purpose, ok := proofMap["proofPurpose"].(string); ok {
		result.ProofPurpose = purpose
	}
	if vm, ok := proofMap["verificationMethod"].(string); ok {
		result.VerificationMethod = vm
	}
	if pv, ok := proofMap["proofValue"].(string); ok {
		result.ProofValue = pv
	}
	if cs, ok := proofMap["cryptosuite"].(string); ok {
		result.Cryptosuite = cs
	}
	if j, ok := proofMap["jwt"].(string); ok {
		result.JWT = j
	}

	return result, nil
}
