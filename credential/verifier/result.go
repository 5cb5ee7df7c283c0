package verifier

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/pilacorp/go-did-agent/credential/vc"
	"github.com/pilacorp/go-did-agent/credential/vp"
)

// Kind is what a verified document is.
type Kind string

const (
	KindCredential   Kind = "credential"
	KindPresentation Kind = "presentation"
)

const (
	resultValid     = "valid"
	resultInvalid   = "invalid"
	resultMalformed = "malformed"
)

// Result is the outcome of a verification.
//
// Issuer is the DID that signed: the credential issuer or the presentation holder.
// Claims is the credentialSubject of a credential. Payload holds the verified JWT payload
// and is nil for LD proofs.
type Result struct {
	Valid        bool                   `json:"valid"`
	Type         Kind                   `json:"type,omitempty"`
	Issuer       string                 `json:"issuer,omitempty"`
	Claims       map[string]interface{} `json:"claims,omitempty"`
	Payload      jwt.MapClaims          `json:"payload,omitempty"`
	Credential   *vc.Credential         `json:"credential,omitempty"`
	Presentation *vp.Presentation       `json:"presentation,omitempty"`
	Reason       string                 `json:"reason,omitempty"`
}

func (r *Result) reject(reason string) *Result {
	r.Valid = false
	r.Reason = reason

	return r
}
