package issuer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pilacorp/go-did-agent/credential/vc"
	"github.com/pilacorp/go-did-agent/credential/vp"
	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
	"github.com/pilacorp/go-did-agent/storage"
)

const (
	credentialStoreName = "credentials"

	kindCredential   = "credential"
	kindPresentation = "presentation"
)

type record struct {
	Kind     string          `json:"kind"`
	Document json.RawMessage `json:"document"`
}

// Hash returns the key under which a serialized credential or presentation is saved:
// the hex SHA-256 of its compact token or JSON form.
func Hash(serialized []byte) string {
	sum := sha256.Sum256(serialized)
	return hex.EncodeToString(sum[:])
}

func (i *Issuer) save(kind string, serialized []byte, doc interface{}) (string, error) {
	if i.store == nil {
		return "", dErrors.New(dErrors.CodeConfiguration, "no credential store configured")
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", kind, err)
	}

	value, err := json.Marshal(record{Kind: kind, Document: raw})
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s record: %w", kind, err)
	}

	hash := Hash(serialized)
	if err := i.store.Put(hash, value); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", kind, err)
	}

	return hash, nil
}

func (i *Issuer) load(hash, kind string) (json.RawMessage, error) {
	if i.store == nil {
		return nil, dErrors.New(dErrors.CodeConfiguration, "no credential store configured")
	}

	value, err := i.store.Get(hash)
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return nil, dErrors.ErrCredentialNotFound.Errorf("%s %s not found", kind, hash)
		}

		return nil, fmt.Errorf("failed to get %s %s: %w", kind, hash, err)
	}

	var r record
	if err := json.Unmarshal(value, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s record: %w", kind, err)
	}

	if r.Kind != kind {
		return nil, dErrors.ErrCredentialNotFound.Errorf("%s %s not found", kind, hash)
	}

	return r.Document, nil
}

// GetCredential returns the saved credential with the given hash.
func (i *Issuer) GetCredential(hash string) (*vc.Credential, error) {
	raw, err := i.load(hash, kindCredential)
	if err != nil {
		return nil, err
	}

	return vc.ParseJSON(raw)
}

// GetPresentation returns the saved presentation with the given hash.
func (i *Issuer) GetPresentation(hash string) (*vp.Presentation, error) {
	raw, err := i.load(hash, kindPresentation)
	if err != nil {
		return nil, err
	}

	return vp.ParseJSON(raw)
}
