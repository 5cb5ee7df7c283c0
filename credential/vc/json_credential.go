package vc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
)

var jwtPattern = regexp.MustCompile(`^[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*$`)

// IsJWT reports whether s looks like a compact JWS.
func IsJWT(s string) bool {
	return jwtPattern.MatchString(s)
}

// ParseJSON decodes a credential serialized as a JSON object. Numbers are kept as
// json.Number so re-serialization is byte-stable.
func ParseJSON(raw []byte) (*Credential, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, dErrors.ErrInvalidInput.Errorf("credential is empty")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var c Credential
	if err := dec.Decode(&c); err != nil {
		return nil, dErrors.ErrInvalidInput.WithCause(err, "failed to unmarshal credential")
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// Serialize returns the compact JWT of a JWT-proven credential and the JSON object otherwise.
func (c *Credential) Serialize() ([]byte, error) {
	if token := c.JWT(); token != "" {
		return []byte(token), nil
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credential: %w", err)
	}

	return raw, nil
}
