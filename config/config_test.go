package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-did-agent/config"
	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
)

const testSecret = "9098cd3c5449083c36678295780e57d4d05dbdfa56a22eb3a2b960d85e6d2abe"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DIDAGENT_SECRET", testSecret)

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "ethr", cfg.Method)
	assert.Equal(t, int64(1337), cfg.ChainID)
	assert.Equal(t, config.DefaultRPC, cfg.RPCURL)
	assert.Equal(t, config.DefaultRegistryAddress, cfg.RegistryAddress)
	assert.Equal(t, 10*time.Second, cfg.Resolver.Timeout)
	assert.Equal(t, uint64(3), cfg.Resolver.Retries)
	assert.False(t, cfg.Resolver.ImplicitDocuments)
	assert.Empty(t, cfg.StorePath)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "didagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
secret: `+testSecret+`
method: method
chain_id: 5
store_path: /tmp/didagent
resolver:
  timeout: 2s
  cache_size: 64
  implicit_documents: true
remote_kms:
  url: http://signer.local
`), 0o600))

	t.Setenv("DIDAGENT_CHAIN_ID", "1337")
	t.Setenv("DIDAGENT_RESOLVER_RETRIES", "5")
	t.Setenv("DIDAGENT_REMOTE_KMS_API_KEY", "key")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "method", cfg.Method)
	assert.Equal(t, int64(1337), cfg.ChainID)
	assert.Equal(t, "/tmp/didagent", cfg.StorePath)
	assert.Equal(t, 2*time.Second, cfg.Resolver.Timeout)
	assert.Equal(t, uint64(5), cfg.Resolver.Retries)
	assert.Equal(t, 64, cfg.Resolver.CacheSize)
	assert.True(t, cfg.Resolver.ImplicitDocuments)
	assert.Equal(t, config.RemoteKMSConfig{URL: "http://signer.local", APIKey: "key"}, cfg.RemoteKMS)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		code dErrors.Code
	}{
		{"missing secret", config.Config{ChainID: 1}, dErrors.CodeConfiguration},
		{"short secret", config.Config{Secret: "abcd", ChainID: 1}, dErrors.CodeConfiguration},
		{"bad registry", config.Config{Secret: testSecret, ChainID: 1, RegistryAddress: "0x12"}, dErrors.CodeConfiguration},
		{"publish without rpc", config.Config{Secret: testSecret, ChainID: 1, Publish: true, RegistryAddress: config.DefaultRegistryAddress}, dErrors.CodeConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, tt.code, dErrors.CodeOf(err))
		})
	}

	_, err := config.Load("")
	assert.ErrorIs(t, err, dErrors.ErrMissingSecret)
}
