package credentialstatus

const (
	TypeBitstringStatusListEntry = "BitstringStatusListEntry"
	TypeStatusList2021Entry      = "StatusList2021Entry"

	PurposeRevocation = "revocation"
)

// Entry is the credentialStatus of a credential pointing into a status list.
type Entry struct {
	ID                   string `json:"id,omitempty"`
	Type                 string `json:"type"`
	StatusPurpose        string `json:"statusPurpose"`
	StatusListIndex      string `json:"statusListIndex"`
	StatusListCredential string `json:"statusListCredential"`
}

// StatusListCredentialResponse is the wrapper some status endpoints return.
type StatusListCredentialResponse struct {
	Data *StatusListCredential `json:"data"`
}

// StatusListCredential models the credential served by a status list endpoint.
// Only the fields needed for revocation checks are typed.
type StatusListCredential struct {
	Context           []string                    `json:"@context"`
	CredentialSubject StatusListCredentialSubject `json:"credentialSubject"`
	ID                string                      `json:"id"`
	Issuer            interface{}                 `json:"issuer"`
	Proof             map[string]interface{}      `json:"proof,omitempty"`
	Type              []string                    `json:"type"`
	ValidFrom         string                      `json:"validFrom,omitempty"`
	ValidUntil        string                      `json:"validUntil,omitempty"`
}

// StatusListCredentialSubject holds the gzip+base64url encoded bitstring.
type StatusListCredentialSubject struct {
	EncodedList   string `json:"encodedList"`
	ID            string `json:"id"`
	StatusPurpose string `json:"statusPurpose"`
	Type          string `json:"type"`
}
