package kms

// KeyType is the curve/scheme of a managed key.
type KeyType string

const (
	Secp256k1 KeyType = "Secp256k1"
	Ed25519   KeyType = "Ed25519"
	X25519    KeyType = "X25519"
)

// Signing algorithms.
const (
	AlgES256K  = "ES256K"
	AlgES256KR = "ES256K-R"
	AlgEdDSA   = "EdDSA"
)

// DefaultKMS is the name under which the local KMS is registered by default.
const DefaultKMS = "local"

// RemoteKMSName is the name under which a configured RemoteKMS is registered.
const RemoteKMSName = "remote"

// Key is the public, shareable view of a managed key.
// Private material is held only by the KMS that created or imported it.
type Key struct {
	KID          string   `json:"kid"`
	KMS          string   `json:"kms"`
	Type         KeyType  `json:"type"`
	PublicKeyHex string   `json:"publicKeyHex"`
	Meta         *KeyMeta `json:"meta,omitempty"`
}

// KeyMeta holds descriptive data about a key.
type KeyMeta struct {
	Algorithms []string `json:"algorithms,omitempty"`
}

// Algorithms returns the signing algorithms available for the key type.
func (t KeyType) Algorithms() []string {
	switch t {
	case Secp256k1:
		return []string{AlgES256K, AlgES256KR}
	case Ed25519:
		return []string{AlgEdDSA}
	default:
		return nil
	}
}

// DefaultAlgorithm returns the algorithm used when a caller does not name one,
// or "" if the key type cannot sign.
func (t KeyType) DefaultAlgorithm() string {
	algs := t.Algorithms()
	if len(algs) == 0 {
		return ""
	}

	return algs[0]
}

// Supports reports whether keys of type t can sign with alg.
func (t KeyType) Supports(alg string) bool {
	for _, a := range t.Algorithms() {
		if a == alg {
			return true
		}
	}

	return false
}

func (t KeyType) valid() bool {
	return t == Secp256k1 || t == Ed25519 || t == X25519
}
