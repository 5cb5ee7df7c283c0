package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pilacorp/go-did-agent/did"
	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
)

// MaxResolutionSize bounds the body read from a universal resolver.
const MaxResolutionSize = 1 << 20

// HTTPDriver resolves DIDs through a universal resolver endpoint, GET <base>/<did>.
type HTTPDriver struct {
	baseURL string
	client  *http.Client
}

// NewHTTPDriver creates a driver for the resolver at baseURL. A nil client selects a traced
// client with a 10 second timeout.
func NewHTTPDriver(baseURL string, client *http.Client) *HTTPDriver {
	if client == nil {
		client = &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return &HTTPDriver{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type resolutionResponse struct {
	Document           *did.Document          `json:"didDocument"`
	DocumentMetadata   did.DocumentMetadata   `json:"didDocumentMetadata"`
	ResolutionMetadata did.ResolutionMetadata `json:"didResolutionMetadata"`
}

// Resolve fetches and parses the document of didStr. The endpoint may answer with a
// resolution result or a bare DID document.
func (h *HTTPDriver) Resolve(ctx context.Context, didStr string) (*did.Resolution, error) {
	apiURL := h.baseURL + "/" + url.PathEscape(didStr)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build resolver request: %w", err)
	}

	req.Header.Set("Accept", contentTypeDIDLD+", application/ld+json;profile=\"https://w3id.org/did-resolution\", application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, rpcFailure(ctx, err, "failed to make HTTP request to DID resolver")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, dErrors.ErrDIDNotFound.Errorf("resolver has no document for %s", didStr)
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return nil, dErrors.ErrResolution.Errorf("DID resolver API returned %s", resp.Status).MarkRetryable()
	case resp.StatusCode != http.StatusOK:
		return nil, dErrors.ErrResolution.Errorf("DID resolver API returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResolutionSize+1))
	if err != nil {
		return nil, rpcFailure(ctx, err, "failed to read response body from DID resolver")
	}

	if len(body) > MaxResolutionSize {
		return nil, dErrors.ErrResolution.Errorf("DID resolver response exceeds %d bytes", MaxResolutionSize)
	}

	var wrapped resolutionResponse
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, dErrors.ErrResolution.WithCause(err, "failed to unmarshal DID resolution JSON")
	}

	res := &did.Resolution{
		Context:            resolutionContext,
		Document:           wrapped.Document,
		DocumentMetadata:   wrapped.DocumentMetadata,
		ResolutionMetadata: wrapped.ResolutionMetadata,
	}

	if res.Document == nil {
		var doc did.Document
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, dErrors.ErrResolution.WithCause(err, "failed to unmarshal DID document JSON")
		}

		res.Document = &doc
	}

	if res.Document.ID == "" {
		return nil, dErrors.ErrDIDNotFound.Errorf("resolver returned no document for %s", didStr)
	}

	if did.Canonical(res.Document.ID) != did.Canonical(didStr) {
		return nil, dErrors.ErrResolution.Errorf("resolver returned the document of %s for %s", res.Document.ID, didStr)
	}

	return res, nil
}

func rpcFailure(ctx context.Context, err error, msg string) error {
	if ctx.Err() == context.Canceled {
		return dErrors.ErrResolution.WithCause(err, "%s", msg)
	}

	return dErrors.ErrResolution.WithCause(err, "%s", msg).MarkRetryable()
}
