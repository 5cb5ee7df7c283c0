package vp

import (
	"bytes"
	"encoding/json"
	"fmt"

	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
)

// ParseJSON decodes a presentation serialized as a JSON object.
func ParseJSON(raw []byte) (*Presentation, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, dErrors.ErrInvalidInput.Errorf("presentation is empty")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var p Presentation
	if err := dec.Decode(&p); err != nil {
		return nil, dErrors.ErrInvalidInput.WithCause(err, "failed to unmarshal presentation")
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return &p, nil
}

// Serialize returns the compact JWT of a JWT-proven presentation and the JSON object otherwise.
func (p *Presentation) Serialize() ([]byte, error) {
	if token := p.JWT(); token != "" {
		return []byte(token), nil
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal presentation: %w", err)
	}

	return raw, nil
}
