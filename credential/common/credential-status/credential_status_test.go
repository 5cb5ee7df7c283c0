package credentialstatus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-did-agent/credential/common/util"
	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
)

func encodedList(t *testing.T, raw ...byte) string {
	t.Helper()

	encoded, err := util.EncodeBitstring(raw)
	require.NoError(t, err)

	return encoded
}

func TestIsRevoked(t *testing.T) {
	// 0x01 -> [1,0,0,0,0,0,0,0] LSB-first
	subject := StatusListCredentialSubject{
		EncodedList:   encodedList(t, 0x01, 0x80),
		StatusPurpose: PurposeRevocation,
	}

	tests := []struct {
		position int
		want     bool
	}{
		{0, true},
		{1, false},
		{8, false},
		{15, true},
	}

	for _, tt := range tests {
		revoked, err := IsRevoked(tt.position, subject)
		require.NoError(t, err)
		assert.Equal(t, tt.want, revoked, "position %d", tt.position)
	}

	_, err := IsRevoked(16, subject)
	assert.ErrorIs(t, err, dErrors.ErrInvalidInput)
}

func TestIsRevoked_NonRevocationPurpose(t *testing.T) {
	subject := StatusListCredentialSubject{
		EncodedList:   encodedList(t, 0x01),
		StatusPurpose: "suspension",
	}

	revoked, err := IsRevoked(0, subject)
	assert.NoError(t, err)
	assert.False(t, revoked)
}

func TestClientCheck(t *testing.T) {
	list := StatusListCredential{
		CredentialSubject: StatusListCredentialSubject{
			EncodedList:   encodedList(t, 0x04),
			StatusPurpose: PurposeRevocation,
			ID:            "did:example:status/0#list",
			Type:          "BitstringStatusList",
		},
		ID:     "did:example:status/0",
		Issuer: "did:example:issuer",
		Type:   []string{"VerifiableCredential", "BitstringStatusListCredential"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/wrapped", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": list})
	})
	mux.HandleFunc("/bare", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(list)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.Client())

	for _, path := range []string{"/wrapped", "/bare"} {
		t.Run(path, func(t *testing.T) {
			entry, err := ParseEntry(map[string]interface{}{
				"type":                 TypeBitstringStatusListEntry,
				"statusPurpose":        PurposeRevocation,
				"statusListIndex":      "2",
				"statusListCredential": server.URL + path,
			})
			require.NoError(t, err)

			revoked, err := client.Check(context.Background(), entry)
			require.NoError(t, err)
			assert.True(t, revoked)

			entry.StatusListIndex = "1"
			revoked, err = client.Check(context.Background(), entry)
			require.NoError(t, err)
			assert.False(t, revoked)
		})
	}

	t.Run("unknown entry type", func(t *testing.T) {
		revoked, err := client.Check(context.Background(), &Entry{Type: "CustomStatus", StatusListIndex: "2"})
		require.NoError(t, err)
		assert.False(t, revoked)
	})

	t.Run("endpoint failure", func(t *testing.T) {
		_, err := client.Check(context.Background(), &Entry{
			Type:                 TypeStatusList2021Entry,
			StatusListIndex:      "0",
			StatusListCredential: server.URL + "/missing",
		})
		assert.Error(t, err)
	})
}

func TestParseEntryNumericIndex(t *testing.T) {
	entry, err := ParseEntry(map[string]interface{}{"type": TypeStatusList2021Entry, "statusListIndex": float64(42)})
	require.NoError(t, err)
	assert.Equal(t, "42", entry.StatusListIndex)
}
