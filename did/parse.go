package did

import (
	"strings"

	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
)

// URL is a parsed DID URL: did:<method>:<method-specific-id>[/path][?query][#fragment].
type URL struct {
	DID      string
	Method   string
	ID       string
	Path     string
	Query    string
	Fragment string
}

// Parse splits a DID URL into its parts.
func Parse(didURL string) (*URL, error) {
	u := &URL{}
	rest := didURL

	if i := strings.IndexByte(rest, '#'); i >= 0 {
		u.Fragment = rest[i+1:]
		rest = rest[:i]
	}

	if i := strings.IndexByte(rest, '?'); i >= 0 {
		u.Query = rest[i+1:]
		rest = rest[:i]
	}

	if i := strings.IndexByte(rest, '/'); i >= 0 {
		u.Path = rest[i:]
		rest = rest[:i]
	}

	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 || parts[0] != "did" || parts[1] == "" || parts[2] == "" {
		return nil, dErrors.ErrInvalidInput.Errorf("invalid did %q", didURL)
	}

	if strings.ToLower(parts[1]) != parts[1] {
		return nil, dErrors.ErrInvalidInput.Errorf("did method must be lowercase in %q", didURL)
	}

	u.DID = rest
	u.Method = parts[1]
	u.ID = parts[2]

	return u, nil
}

// Network returns the network part of a "<network>:<id>" method-specific id, or "" if there is none.
func (u *URL) Network() string {
	if i := strings.LastIndexByte(u.ID, ':'); i >= 0 {
		return u.ID[:i]
	}

	return ""
}

// Identity returns the last segment of the method-specific id.
func (u *URL) Identity() string {
	if i := strings.LastIndexByte(u.ID, ':'); i >= 0 {
		return u.ID[i+1:]
	}

	return u.ID
}
