package schema

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bluele/gcache"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
)

const (
	defaultSchemaCacheSize = 128
	maxSchemaSize          = 1 << 20
)

// Validator checks credentials against JSON Schemas named by their credentialSchema.
// Compiled schemas are cached by id; schemas can be preloaded with AddSchema.
type Validator struct {
	client *http.Client
	cache  gcache.Cache
}

// NewValidator creates a Validator. A nil client gets a traced default.
func NewValidator(client *http.Client) *Validator {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	return &Validator{
		client: client,
		cache:  gcache.New(defaultSchemaCacheSize).LRU().Build(),
	}
}

// AddSchema compiles raw and registers it under id.
func (v *Validator) AddSchema(id string, raw []byte) error {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return dErrors.ErrInvalidInput.WithCause(err, "invalid JSON schema %s", id)
	}

	return v.cache.Set(id, s)
}

// Validate checks doc against the schema with the given id.
func (v *Validator) Validate(ctx context.Context, id string, doc interface{}) error {
	s, err := v.schema(ctx, id)
	if err != nil {
		return err
	}

	result, err := s.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return dErrors.ErrInvalidInput.WithCause(err, "failed to validate against schema %s", id)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}

		return dErrors.ErrInvalidInput.Errorf("credential validation failed against %s: %s", id, strings.Join(msgs, "; "))
	}

	return nil
}

func (v *Validator) schema(ctx context.Context, id string) (*gojsonschema.Schema, error) {
	if cached, err := v.cache.Get(id); err == nil {
		return cached.(*gojsonschema.Schema), nil
	}

	raw, err := v.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := v.AddSchema(id, raw); err != nil {
		return nil, err
	}

	cached, err := v.cache.Get(id)
	if err != nil {
		return nil, fmt.Errorf("failed to cache schema %s: %w", id, err)
	}

	return cached.(*gojsonschema.Schema), nil
}

func (v *Validator) fetch(ctx context.Context, id string) ([]byte, error) {
	if !strings.HasPrefix(id, "http://") && !strings.HasPrefix(id, "https://") {
		return nil, dErrors.ErrInvalidInput.Errorf("schema %s is not preloaded and not an HTTP URL", id)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, id, nil)
	if err != nil {
		return nil, dErrors.ErrInvalidInput.WithCause(err, "invalid schema URL %s", id)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch schema %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("schema endpoint %s returned %s", id, resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxSchemaSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", id, err)
	}

	return raw, nil
}
