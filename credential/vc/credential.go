// Package vc models W3C Verifiable Credentials (data model v1) and their two proof
// formats: a compact JWT whose claims carry the credential, and an embedded
// DataIntegrityProof over the JSON-LD canonical form.
package vc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pilacorp/go-did-agent/credential/common/dto"
	"github.com/pilacorp/go-did-agent/credential/common/jsonmap"
	"github.com/pilacorp/go-did-agent/credential/common/schema"
)

const (
	TypeVerifiableCredential = "VerifiableCredential"

	// ProofTypeJWT marks a credential proven by the JWT it was decoded from.
	ProofTypeJWT = "JwtProof2020"
)

// DefaultContext is the @context of credentials issued without one.
var DefaultContext = []interface{}{schema.ContextCredentialsV1}

// Credential is a Verifiable Credential. Once its Proof is set it must not be modified.
type Credential struct {
	Context           []interface{}          `json:"@context"`
	ID                string                 `json:"id,omitempty"`
	Type              []string               `json:"type"`
	Issuer            Issuer                 `json:"issuer"`
	IssuanceDate      time.Time              `json:"issuanceDate"`
	ExpirationDate    *time.Time             `json:"expirationDate,omitempty"`
	CredentialSubject map[string]interface{} `json:"credentialSubject"`
	CredentialStatus  map[string]interface{} `json:"credentialStatus,omitempty"`
	CredentialSchema  *Schema                `json:"credentialSchema,omitempty"`
	TermsOfUse        interface{}            `json:"termsOfUse,omitempty"`
	Proof             *dto.Proof             `json:"proof,omitempty"`
}

// Issuer is a credential issuer. It serializes as a bare DID unless it carries extra
// properties, in which case it is an object with an id.
type Issuer struct {
	ID     string
	Fields map[string]interface{}
}

// Schema is the credentialSchema of a credential.
type Schema struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// SubjectID returns the id of the credential subject, if any.
func (c *Credential) SubjectID() string {
	id, _ := c.CredentialSubject["id"].(string)
	return id
}

// JWT returns the compact token of a JWT-proven credential, or "".
func (c *Credential) JWT() string {
	if c.Proof == nil || c.Proof.Type != ProofTypeJWT {
		return ""
	}

	return c.Proof.JWT
}

// ToJSONMap returns the credential as a generic JSON object. Numbers are json.Number.
func (c *Credential) ToJSONMap() (jsonmap.JSONMap, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credential: %w", err)
	}

	return decodeMap(raw)
}

// MarshalJSON implements json.Marshaler.
func (i Issuer) MarshalJSON() ([]byte, error) {
	if len(i.Fields) == 0 {
		return json.Marshal(i.ID)
	}

	obj := make(map[string]interface{}, len(i.Fields)+1)
	for k, v := range i.Fields {
		obj[k] = v
	}

	obj["id"] = i.ID

	return json.Marshal(obj)
}

// UnmarshalJSON implements json.Unmarshaler.
func (i *Issuer) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*i = Issuer{ID: id}
		return nil
	}

	obj, err := decodeMap(data)
	if err != nil {
		return fmt.Errorf("issuer must be a string or an object: %w", err)
	}

	id, _ = obj["id"].(string)
	delete(obj, "id")

	*i = Issuer{ID: id}
	if len(obj) > 0 {
		i.Fields = obj
	}

	return nil
}

func decodeMap(raw []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode JSON object: %w", err)
	}

	return m, nil
}
