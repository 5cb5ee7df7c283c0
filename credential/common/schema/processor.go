package schema

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/piprate/json-gold/ld"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const ContextCredentialsV1 = "https://www.w3.org/2018/credentials/v1"

//go:embed contexts/credentials_v1.jsonld
var credentialsV1 []byte

// ProcessorOpt configures a Processor.
type ProcessorOpt func(*Processor)

// Processor canonicalizes JSON-LD documents. Remote contexts are fetched once and cached;
// the W3C credentials v1 context is preloaded.
type Processor struct {
	loader    *ld.CachingDocumentLoader
	next      ld.DocumentLoader
	algorithm string
	preload   map[string][]byte
}

// WithDocumentLoader sets the loader used for contexts that are not cached.
func WithDocumentLoader(loader ld.DocumentLoader) ProcessorOpt {
	return func(p *Processor) {
		p.next = loader
	}
}

// WithAlgorithm sets the canonicalization algorithm.
func WithAlgorithm(alg string) ProcessorOpt {
	return func(p *Processor) {
		p.algorithm = alg
	}
}

// WithContext preloads the context document served at url.
func WithContext(url string, doc []byte) ProcessorOpt {
	return func(p *Processor) {
		p.preload[url] = doc
	}
}

// NewProcessor creates a Processor. Without WithDocumentLoader, contexts are fetched over
// HTTP with a traced client.
func NewProcessor(opts ...ProcessorOpt) (*Processor, error) {
	p := &Processor{
		algorithm: ld.AlgorithmURDNA2015,
		preload:   map[string][]byte{ContextCredentialsV1: credentialsV1},
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.next == nil {
		p.next = ld.NewDefaultDocumentLoader(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)})
	}

	p.loader = ld.NewCachingDocumentLoader(p.next)

	for url, raw := range p.preload {
		if err := p.AddContext(url, raw); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// AddContext caches the context document served at url.
func (p *Processor) AddContext(url string, raw []byte) error {
	doc, err := ld.DocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to parse context %s: %w", url, err)
	}

	p.loader.AddDocument(url, doc)

	return nil
}

// CanonicalizeDocument returns the N-Quads canonical form of doc. doc is first
// round-tripped through JSON so any Go value with JSON tags is accepted.
func (p *Processor) CanonicalizeDocument(doc interface{}) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("failed to canonicalize document: document is nil")
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}

	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}

	options := ld.NewJsonLdOptions("")
	options.Format = "application/n-quads"
	options.Algorithm = p.algorithm
	options.DocumentLoader = p.loader

	canonicalized, err := ld.NewJsonLdProcessor().Normalize(standardizeToJSONLD(generic), options)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize document: %w", err)
	}

	s, ok := canonicalized.(string)
	if !ok {
		return nil, fmt.Errorf("failed to normalize document: unexpected result %T", canonicalized)
	}

	return []byte(s), nil
}

// ComputeDigest computes the SHA-256 digest of the input data.
func ComputeDigest(data []byte) ([]byte, error) {
	if data == nil {
		return nil, fmt.Errorf("failed to compute digest: input data is nil")
	}

	hash := sha256.Sum256(data)

	return hash[:], nil
}

func standardizeToJSONLD(input map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(input))
	for key, value := range input {
		if key == "@context" {
			result[key] = value
			continue
		}

		result[key] = convertToJSONLDCompatible(value)
	}

	return result
}

// convertToJSONLDCompatible types scalar literals explicitly so numbers and booleans
// canonicalize the same way regardless of their JSON spelling. JSON-LD keywords are kept.
func convertToJSONLDCompatible(value interface{}) interface{} {
	switch v := value.(type) {
	case string, nil:
		return v
	case map[string]interface{}:
		if _, isValue := v["@value"]; isValue {
			return v
		}

		result := make(map[string]interface{}, len(v))
		for key, val := range v {
			if key == "@context" {
				result[key] = val
				continue
			}

			result[key] = convertToJSONLDCompatible(val)
		}

		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, val := range v {
			result[i] = convertToJSONLDCompatible(val)
		}

		return result
	case bool:
		return map[string]interface{}{
			"@value": fmt.Sprintf("%v", v),
			"@type":  "http://www.w3.org/2001/XMLSchema#boolean",
		}
	default:
		return map[string]interface{}{
			"@value": fmt.Sprintf("%v", v),
			"@type":  "http://www.w3.org/2001/XMLSchema#string",
		}
	}
}
