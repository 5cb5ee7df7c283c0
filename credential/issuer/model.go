package issuer

import (
	"time"

	"github.com/pilacorp/go-did-agent/credential/vc"
)

// ProofFormat selects how an issued document is proven.
type ProofFormat string

const (
	// FormatJWT issues a compact JWS whose claims carry the document.
	FormatJWT ProofFormat = "jwt"

	// FormatLDS attaches an ecdsa-rdfc-2019 DataIntegrityProof to the JSON-LD document.
	FormatLDS ProofFormat = "lds"
)

// CredentialRequest describes a credential to issue.
//
// Context and Type are appended to the base credentials v1 context and the
// VerifiableCredential type. Algorithm defaults to the signing key's default, and KeyRef
// selects a key of the issuer by KID; without it the controller key is preferred.
type CredentialRequest struct {
	Issuer           string                 `json:"issuer"`
	Subject          map[string]interface{} `json:"credentialSubject"`
	ID               string                 `json:"id,omitempty"`
	GenerateID       bool                   `json:"generateId,omitempty"`
	Context          []interface{}          `json:"@context,omitempty"`
	Type             []string               `json:"type,omitempty"`
	ExpirationDate   *time.Time             `json:"expirationDate,omitempty"`
	CredentialStatus map[string]interface{} `json:"credentialStatus,omitempty"`
	CredentialSchema *vc.Schema             `json:"credentialSchema,omitempty"`
	TermsOfUse       interface{}            `json:"termsOfUse,omitempty"`
	ProofFormat      ProofFormat            `json:"proofFormat,omitempty"`
	Algorithm        string                 `json:"algorithm,omitempty"`
	KeyRef           string                 `json:"keyRef,omitempty"`
	Save             bool                   `json:"save,omitempty"`
}

// PresentationRequest describes a presentation to issue. Verifier becomes the aud claim.
type PresentationRequest struct {
	Holder         string           `json:"holder"`
	Verifier       []string         `json:"verifier,omitempty"`
	Credentials    []*vc.Credential `json:"verifiableCredential"`
	ID             string           `json:"id,omitempty"`
	GenerateID     bool             `json:"generateId,omitempty"`
	Context        []interface{}    `json:"@context,omitempty"`
	Type           []string         `json:"type,omitempty"`
	ExpirationDate *time.Time       `json:"expirationDate,omitempty"`
	ProofFormat    ProofFormat      `json:"proofFormat,omitempty"`
	Algorithm      string           `json:"algorithm,omitempty"`
	KeyRef         string           `json:"keyRef,omitempty"`
	Save           bool             `json:"save,omitempty"`
}
