package dto

// Proof represents an embedded proof of a credential or presentation. JWT carries the
// compact token of an externally proven (JwtProof2020) document.
type Proof struct {
	Type               string `json:"type"`
	Created            string `json:"created,omitempty"`
	VerificationMethod string `json:"verificationMethod,omitempty"`
	ProofPurpose       string `json:"proofPurpose,omitempty"`
	ProofValue         string `json:"proofValue,omitempty"`
	Cryptosuite        string `json:"cryptosuite,omitempty"`
	Challenge          string `json:"challenge,omitempty"`
	Domain             string `json:"domain,omitempty"`
	JWT                string `json:"jwt,omitempty"`
}

// ToMap returns the proof as a JSON object, omitting empty fields.
func (p *Proof) ToMap() map[string]interface{} {
	m := map[string]interface{}{"type": p.Type}

	set := func(key, value string) {
		if value != "" {
			m[key] = value
		}
	}

	set("created", p.Created)
	set("verificationMethod", p.VerificationMethod)
	set("proofPurpose", p.ProofPurpose)
	set("proofValue", p.ProofValue)
	set("cryptosuite", p.Cryptosuite)
	set("challenge", p.Challenge)
	set("domain", p.Domain)
	set("jwt", p.JWT)

	return m
}
