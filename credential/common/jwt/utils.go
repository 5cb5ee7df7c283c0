package jwt

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
)

// Decode parses token without verifying it. Only structural problems (segment count, base64,
// JSON) are errors; an unknown alg is left for verification to reject.
func Decode(token string) (map[string]interface{}, jwt.MapClaims, error) {
	claims := jwt.MapClaims{}

	t, _, err := jwt.NewParser(jwt.WithJSONNumber()).ParseUnverified(token, claims)
	if err != nil && (t == nil || errors.Is(err, jwt.ErrTokenMalformed)) {
		return nil, nil, dErrors.ErrMalformedToken.WithCause(err, "failed to decode token")
	}

	return t.Header, claims, nil
}

// HeaderString returns the string value of header field name.
func HeaderString(header map[string]interface{}, name string) string {
	s, _ := header[name].(string)

	return s
}
