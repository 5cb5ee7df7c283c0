package did

import (
	"github.com/pilacorp/go-did-agent/kms"
)

const (
	ContextDIDv1              = "https://www.w3.org/ns/did/v1"
	ContextSecp256k1Recovery  = "https://w3id.org/security/suites/secp256k1recovery-2020/v2"
	ContextSecurityV3Unstable = "https://w3id.org/security/v3-unstable"

	TypeSecp256k1VerificationKey2019 = "EcdsaSecp256k1VerificationKey2019"
	TypeSecp256k1RecoveryMethod2020  = "EcdsaSecp256k1RecoveryMethod2020"
	TypeEd25519VerificationKey2018   = "Ed25519VerificationKey2018"
	TypeX25519KeyAgreementKey2019    = "X25519KeyAgreementKey2019"

	// ControllerFragment names the verification method bound to the identifier's own address.
	ControllerFragment = "controller"
)

// Service is a service endpoint attached to an identifier.
type Service struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
	Description     string `json:"description,omitempty"`
}

// Identifier is a DID controlled by keys held in the key manager.
type Identifier struct {
	DID             string    `json:"did"`
	Alias           string    `json:"alias,omitempty"`
	Provider        string    `json:"provider"`
	ControllerKeyID string    `json:"controllerKeyId"`
	Keys            []kms.Key `json:"keys"`
	Services        []Service `json:"services"`
}

// Key returns the identifier's key with the given KID.
func (i *Identifier) Key(kid string) (kms.Key, bool) {
	for _, k := range i.Keys {
		if k.KID == kid {
			return k, true
		}
	}

	return kms.Key{}, false
}

// ControllerKey returns the controller key.
func (i *Identifier) ControllerKey() (kms.Key, bool) {
	return i.Key(i.ControllerKeyID)
}

type VerificationMethod struct {
	ID                  string `json:"id"`
	Type                string `json:"type"`
	Controller          string `json:"controller"`
	PublicKeyHex        string `json:"publicKeyHex,omitempty"`
	PublicKeyBase58     string `json:"publicKeyBase58,omitempty"`
	PublicKeyBase64     string `json:"publicKeyBase64,omitempty"`
	PublicKeyJwk        *JWK   `json:"publicKeyJwk,omitempty"`
	BlockchainAccountID string `json:"blockchainAccountId,omitempty"`
}

// JWK is a public JSON Web Key (EC or OKP).
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y,omitempty"`
}

// Document is a DID Document. It is produced on demand and never persisted.
type Document struct {
	Context            []string             `json:"@context"`
	ID                 string               `json:"id"`
	Controller         string               `json:"controller,omitempty"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	Authentication     []string             `json:"authentication"`
	AssertionMethod    []string             `json:"assertionMethod"`
	KeyAgreement       []string             `json:"keyAgreement,omitempty"`
	Service            []Service            `json:"service,omitempty"`
}

// VerificationMethodByID returns the method whose id is id, accepting a bare "#fragment".
func (d *Document) VerificationMethodByID(id string) (VerificationMethod, bool) {
	if len(id) > 0 && id[0] == '#' {
		id = d.ID + id
	}

	for _, vm := range d.VerificationMethod {
		if vm.ID == id {
			return vm, true
		}
	}

	return VerificationMethod{}, false
}

// AssertionMethods returns the verification methods referenced by assertionMethod.
func (d *Document) AssertionMethods() []VerificationMethod {
	return d.referenced(d.AssertionMethod)
}

// AuthenticationMethods returns the verification methods referenced by authentication.
func (d *Document) AuthenticationMethods() []VerificationMethod {
	return d.referenced(d.Authentication)
}

func (d *Document) referenced(ids []string) []VerificationMethod {
	methods := make([]VerificationMethod, 0, len(ids))

	for _, id := range ids {
		if vm, ok := d.VerificationMethodByID(id); ok {
			methods = append(methods, vm)
		}
	}

	return methods
}

// DocumentMetadata describes the state of a resolved document.
type DocumentMetadata struct {
	Deactivated bool   `json:"deactivated,omitempty"`
	VersionID   string `json:"versionId,omitempty"`
	Updated     string `json:"updated,omitempty"`
}

// ResolutionMetadata describes how a document was resolved.
type ResolutionMetadata struct {
	ContentType string `json:"contentType,omitempty"`
	Error       string `json:"error,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Resolution is the output of DID resolution.
type Resolution struct {
	Context            string             `json:"@context,omitempty"`
	Document           *Document          `json:"didDocument"`
	DocumentMetadata   DocumentMetadata   `json:"didDocumentMetadata"`
	ResolutionMetadata ResolutionMetadata `json:"didResolutionMetadata"`
}
