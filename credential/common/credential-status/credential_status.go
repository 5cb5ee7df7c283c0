package credentialstatus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pilacorp/go-did-agent/credential/common/util"
	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
)

const maxStatusListSize = 4 << 20

// Client fetches status list credentials and checks entries against them.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a new credential status client. A nil httpClient gets a traced default
// with a 10s timeout.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return &Client{httpClient: httpClient}
}

// ParseEntry reads a credentialStatus object.
func ParseEntry(raw interface{}) (*Entry, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credentialStatus: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, dErrors.ErrInvalidInput.WithCause(err, "credentialStatus is not an object")
	}

	e := &Entry{}
	e.ID, _ = m["id"].(string)
	e.Type, _ = m["type"].(string)
	e.StatusPurpose, _ = m["statusPurpose"].(string)
	e.StatusListCredential, _ = m["statusListCredential"].(string)

	// statusListIndex is a string in both vocabularies; accept numbers too.
	switch idx := m["statusListIndex"].(type) {
	case string:
		e.StatusListIndex = idx
	case float64:
		e.StatusListIndex = strconv.FormatInt(int64(idx), 10)
	}

	return e, nil
}

// Check reports whether the credential referenced by entry is revoked. Entries whose type
// is not a known status list, or whose purpose is not revocation, are never revoked.
func (c *Client) Check(ctx context.Context, entry *Entry) (bool, error) {
	if entry == nil {
		return false, nil
	}

	if entry.Type != TypeBitstringStatusListEntry && entry.Type != TypeStatusList2021Entry {
		return false, nil
	}

	if entry.StatusPurpose != "" && entry.StatusPurpose != PurposeRevocation {
		return false, nil
	}

	position, err := strconv.Atoi(entry.StatusListIndex)
	if err != nil || position < 0 {
		return false, dErrors.ErrInvalidInput.Errorf("invalid statusListIndex %q", entry.StatusListIndex)
	}

	cred, err := c.FetchStatusListCredential(ctx, entry.StatusListCredential)
	if err != nil {
		return false, err
	}

	return IsRevoked(position, cred.CredentialSubject)
}

// FetchStatusListCredential fetches and parses the status list credential at url. Both a
// bare credential and a {"data": credential} wrapper are accepted.
func (c *Client) FetchStatusListCredential(ctx context.Context, url string) (*StatusListCredential, error) {
	if url == "" {
		return nil, dErrors.ErrInvalidInput.Errorf("statusListCredential URL is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, dErrors.ErrInvalidInput.WithCause(err, "invalid statusListCredential URL %s", url)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call status list credential endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status list credential API returned non-200 status: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusListSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read status list credential response body: %w", err)
	}

	var wrapped StatusListCredentialResponse
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Data != nil {
		return wrapped.Data, nil
	}

	var cred StatusListCredential
	if err := json.Unmarshal(body, &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status list credential JSON: %w", err)
	}

	return &cred, nil
}

// IsRevoked checks the bit at position of the encoded list. Bits are read LSB-first
// within each byte.
func IsRevoked(position int, subject StatusListCredentialSubject) (bool, error) {
	if subject.StatusPurpose != PurposeRevocation {
		return false, nil
	}

	byteString, err := util.DecodeBitstring(subject.EncodedList)
	if err != nil {
		return false, fmt.Errorf("failed to decode status list: %w", err)
	}

	byteIndex := position / 8
	if position < 0 || byteIndex >= len(byteString) {
		return false, dErrors.ErrInvalidInput.Errorf("status index %d outside list of %d entries", position, len(byteString)*8)
	}

	return (byteString[byteIndex]>>(position%8))&1 == 1, nil
}
