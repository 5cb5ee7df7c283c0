package vc

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/pilacorp/go-did-agent/credential/common/util"
	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
)

// Validate checks the fields every credential must carry.
func (c *Credential) Validate() error {
	if c.Issuer.ID == "" {
		return dErrors.ErrInvalidInput.Errorf("credential issuer is required")
	}

	if len(c.CredentialSubject) == 0 {
		return dErrors.ErrInvalidInput.Errorf("credential subject is required")
	}

	if c.IssuanceDate.IsZero() {
		return dErrors.ErrInvalidInput.Errorf("credential issuanceDate is required")
	}

	if len(c.Context) == 0 {
		return dErrors.ErrInvalidInput.Errorf("credential @context is required")
	}

	if _, err := util.SerializeContexts(c.Context); err != nil {
		return dErrors.ErrInvalidInput.WithCause(err, "invalid credential @context")
	}

	if !hasType(c.Type, TypeVerifiableCredential) {
		return dErrors.ErrInvalidInput.Errorf("credential type must include %s", TypeVerifiableCredential)
	}

	if c.ExpirationDate != nil && c.ExpirationDate.Before(c.IssuanceDate) {
		return dErrors.ErrInvalidInput.Errorf("credential expires before it is issued")
	}

	return nil
}

func hasType(types []string, want string) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}

	return false
}

// copyMap returns a shallow copy of m.
func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}

	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

// asMap converts a decoded JSON value into an object, re-decoding typed values.
func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case nil:
		return nil, false
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}

	m, err := decodeMap(raw)
	if err != nil || m == nil {
		return nil, false
	}

	return m, true
}

// parseContext reads an @context given as a string or an array.
func parseContext(raw interface{}) ([]interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return []interface{}{v}, nil
	case []interface{}:
		return util.SerializeContexts(v)
	}

	return nil, fmt.Errorf("unsupported @context type: %T", raw)
}

// NumericDate reads a JWT NumericDate claim decoded either as json.Number or float64.
func NumericDate(v interface{}) (time.Time, bool, error) {
	var secs float64

	switch n := v.(type) {
	case nil:
		return time.Time{}, false, nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return time.Time{}, false, fmt.Errorf("invalid numeric date %q: %w", n, err)
		}

		secs = f
	case float64:
		secs = n
	case int64:
		secs = float64(n)
	case int:
		secs = float64(n)
	default:
		return time.Time{}, false, fmt.Errorf("invalid numeric date type %T", v)
	}

	whole, frac := math.Modf(secs)

	return time.Unix(int64(whole), int64(frac*1e9)).UTC(), true, nil
}

func stringClaim(claims map[string]interface{}, name string) (string, error) {
	v, ok := claims[name]
	if !ok || v == nil {
		return "", nil
	}

	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("claim %q must be a string, got %T", name, v)
	}

	return s, nil
}
