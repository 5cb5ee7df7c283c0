package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-did-agent/config"
)

const testSecret = "9098cd3c5449083c36678295780e57d4d05dbdfa56a22eb3a2b960d85e6d2abe"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := NewRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append(args, "--secret", testSecret, "--rpc", "", "--log-level", "error"))

	err := root.Execute()

	return out.String(), err
}

func TestDemo(t *testing.T) {
	out, err := execute(t, "demo", "--method", "method", "--chain-id", "1337")
	require.NoError(t, err)

	var res struct {
		DID      string `json:"did"`
		Document struct {
			Service []map[string]interface{} `json:"service"`
		} `json:"didDocument"`
		CredentialResult struct {
			Valid  bool                   `json:"valid"`
			Claims map[string]interface{} `json:"claims"`
		} `json:"credentialResult"`
		PresentationResult struct {
			Valid bool `json:"valid"`
		} `json:"presentationResult"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))

	assert.Equal(t, "did:method:1337:0xB2f0b48736D868E24DFdA5034DFC688FaDeC0F19", res.DID)
	require.Len(t, res.Document.Service, 1)
	assert.Equal(t, "http://example.com", res.Document.Service[0]["serviceEndpoint"])
	assert.True(t, res.CredentialResult.Valid)
	assert.Equal(t, "tester", res.CredentialResult.Claims["role"])
	assert.True(t, res.PresentationResult.Valid)
}

func TestVerifyMalformed(t *testing.T) {
	out, err := execute(t, "verify", "not-a-token")
	require.Error(t, err)
	assert.Contains(t, out, `"valid": false`)
}

func TestMissingSecret(t *testing.T) {
	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"resolve", "did:method:1337:0xB2f0b48736D868E24DFdA5034DFC688FaDeC0F19"})

	assert.Error(t, root.Execute())
}

func TestBindFlags(t *testing.T) {
	root := NewRootCmd()
	pf := root.PersistentFlags()

	flags := &rootFlags{v: config.New()}
	require.NoError(t, bindFlags(flags.v, pf, flagKeys))

	require.NoError(t, pf.Set("chain-id", "5"))
	assert.Equal(t, int64(5), flags.v.GetInt64("chain_id"))

	err := bindFlags(flags.v, pf, map[string]string{"store_path": "storage"})
	assert.ErrorContains(t, err, `no flag "storage"`)

	flags.bindErr = err
	_, _, _, err = flags.load(context.Background())
	assert.ErrorContains(t, err, `no flag "storage"`)
}
