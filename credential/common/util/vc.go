package util

import (
	"fmt"

	"github.com/pilacorp/go-did-agent/credential/common/dto"
)

// JSONMap represents a JSON object as a map.
type JSONMap = map[string]interface{}

// SerializeTypes returns a single type as a string and several as an array.
func SerializeTypes(types []string) interface{} {
	if len(types) == 0 {
		return nil
	}

	if len(types) == 1 {
		return types[0]
	}

	return MapSlice(types, func(t string) interface{} { return t })
}

// ParseTypes accepts a type given as a string or an array of strings.
func ParseTypes(raw interface{}) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []interface{}:
		types := make([]string, 0, len(v))
		for i, t := range v {
			s, ok := t.(string)
			if !ok {
				return nil, fmt.Errorf("failed to parse type: entry %d is %T, not a string", i, t)
			}

			types = append(types, s)
		}

		return types, nil
	}

	return nil, fmt.Errorf("failed to parse type: unexpected %T", raw)
}

// MapSlice transforms a slice of type T to a slice of type U using a mapping function.
func MapSlice[T any, U any](slice []T, mapFn func(T) U) []U {
	result := make([]U, 0, len(slice))
	for _, v := range slice {
		result = append(result, mapFn(v))
	}

	return result
}

// SerializeContexts validates the JSON-LD context entries.
func SerializeContexts(contexts []interface{}) ([]interface{}, error) {
	validated := make([]interface{}, 0, len(contexts))
	for i, ctx := range contexts {
		switch v := ctx.(type) {
		case string:
			if v == "" {
				return nil, fmt.Errorf("failed to validate context: context string at index %d is empty", i)
			}

			validated = append(validated, v)
		case JSONMap:
			if _, hasContext := v["@context"]; hasContext {
				return nil, fmt.Errorf("failed to validate context: context object at index %d must not contain nested @context", i)
			}

			for key := range v {
				if key == "" {
					return nil, fmt.Errorf("failed to validate context: context object at index %d has empty key", i)
				}
			}

			validated = append(validated, v)
		case nil:
			return nil, fmt.Errorf("failed to validate context: context entry at index %d is nil", i)
		default:
			return nil, fmt.Errorf("failed to validate context: invalid context entry at index %d: must be string or map, got %T", i, v)
		}
	}

	return validated, nil
}

// SerializeProofs returns a single proof as an object and several as an array.
func SerializeProofs(proofs []dto.Proof) interface{} {
	if len(proofs) == 0 {
		return nil
	}

	result := make([]interface{}, len(proofs))
	for i := range proofs {
		result[i] = proofs[i].ToMap()
	}

	if len(result) == 1 {
		return result[0]
	}

	return result
}

// ParseProofs accepts a proof given as an object or an array of objects.
func ParseProofs(raw interface{}) ([]dto.Proof, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		p, err := ParseProof(v)
		if err != nil {
			return nil, err
		}

		return []dto.Proof{p}, nil
	case []interface{}:
		proofs := make([]dto.Proof, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("failed to parse proof: entry %d is %T, not an object", i, item)
			}

			p, err := ParseProof(m)
			if err != nil {
				return nil, err
			}

			proofs = append(proofs, p)
		}

		return proofs, nil
	}

	return nil, fmt.Errorf("failed to parse proof: unexpected %T", raw)
}

// ParseProof converts a single proof map into a Proof struct.
func ParseProof(proof map[string]interface{}) (dto.Proof, error) {
	var result dto.Proof
	if t, ok := proof["type"].(string); ok && t != "" {
		result.Type = t
	} else {
		return dto.Proof{}, fmt.Errorf("failed to parse proof: invalid or missing type field")
	}

	str := func(key string) string {
		s, _ := proof[key].(string)
		return s
	}

	result.Created = str("created")
	result.VerificationMethod = str("verificationMethod")
	result.ProofPurpose = str("proofPurpose")
	result.ProofValue = str("proofValue")
	result.Cryptosuite = str("cryptosuite")
	result.Challenge = str("challenge")
	result.Domain = str("domain")
	result.JWT = str("jwt")

	if result.JWT == "" && result.VerificationMethod == "" {
		return dto.Proof{}, fmt.Errorf("failed to parse proof: invalid or missing verificationMethod field")
	}

	return result, nil
}
