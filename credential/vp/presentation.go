// Package vp models W3C Verifiable Presentations that wrap credentials from package vc.
package vp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pilacorp/go-did-agent/credential/common/dto"
	"github.com/pilacorp/go-did-agent/credential/common/jsonmap"
	"github.com/pilacorp/go-did-agent/credential/vc"
)

const TypeVerifiablePresentation = "VerifiablePresentation"

// Presentation is a Verifiable Presentation. Verifier lists the intended audience and maps
// to the aud claim of a JWT presentation.
type Presentation struct {
	Context              []interface{}    `json:"@context"`
	ID                   string           `json:"id,omitempty"`
	Type                 []string         `json:"type"`
	Holder               string           `json:"holder"`
	Verifier             []string         `json:"verifier,omitempty"`
	IssuanceDate         *time.Time       `json:"issuanceDate,omitempty"`
	ExpirationDate       *time.Time       `json:"expirationDate,omitempty"`
	VerifiableCredential []*vc.Credential `json:"verifiableCredential,omitempty"`
	Proof                *dto.Proof       `json:"proof,omitempty"`
}

// JWT returns the compact token of a JWT-proven presentation, or "".
func (p *Presentation) JWT() string {
	if p.Proof == nil || p.Proof.Type != vc.ProofTypeJWT {
		return ""
	}

	return p.Proof.JWT
}

// ToJSONMap returns the presentation as a generic JSON object.
func (p *Presentation) ToJSONMap() (jsonmap.JSONMap, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal presentation: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var m jsonmap.JSONMap
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presentation: %w", err)
	}

	return m, nil
}
