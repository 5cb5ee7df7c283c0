// Package config loads the agent configuration from an optional file and DIDAGENT_*
// environment variables.
package config

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/pilacorp/go-did-agent/did"
	dErrors "github.com/pilacorp/go-did-agent/domain-errors"
)

// Default values
const (
	DefaultRPC             = "http://127.0.0.1:8545"
	DefaultRegistryAddress = "0xdca7ef03e98e0dc2b855be647c39abe984fcf21b"
	DefaultLogLevel        = "info"

	EnvPrefix = "DIDAGENT"
)

// Config is the agent configuration.
type Config struct {
	// StorePath is the LevelDB directory. Empty keeps all state in memory.
	StorePath string `mapstructure:"store_path"`

	// Secret is the hex-encoded 32-byte secret sealing private keys.
	Secret string `mapstructure:"secret"`

	Method          string `mapstructure:"method"`
	ChainID         int64  `mapstructure:"chain_id"`
	RPCURL          string `mapstructure:"rpc_url"`
	RegistryAddress string `mapstructure:"registry_address"`

	// Publish anchors added keys and services in the registry.
	Publish bool `mapstructure:"publish"`

	// UniversalResolverURL resolves DIDs of methods without a local driver.
	UniversalResolverURL string `mapstructure:"universal_resolver_url"`

	Resolver ResolverConfig `mapstructure:"resolver"`

	RemoteKMS RemoteKMSConfig `mapstructure:"remote_kms"`

	LogLevel string `mapstructure:"log_level"`
}

// ResolverConfig tunes DID resolution.
type ResolverConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	Retries   uint64        `mapstructure:"retries"`
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`

	// ImplicitDocuments resolves ethr DIDs without registry history to their default
	// document instead of NotFound.
	ImplicitDocuments bool `mapstructure:"implicit_documents"`
}

// RemoteKMSConfig points at a remote signing service. Keys created or imported under the
// "remote" KMS name are held there.
type RemoteKMSConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// Load reads the configuration file at path, if any, then applies environment overrides,
// defaults and validation.
func Load(path string) (*Config, error) {
	v := New()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "failed to read config file")
		}
	}

	return FromViper(v)
}

// New returns a viper instance with the agent defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store_path", "")
	v.SetDefault("secret", "")
	v.SetDefault("method", did.DefaultMethod)
	v.SetDefault("chain_id", did.DefaultChainID)
	v.SetDefault("rpc_url", DefaultRPC)
	v.SetDefault("registry_address", DefaultRegistryAddress)
	v.SetDefault("publish", false)
	v.SetDefault("universal_resolver_url", "")
	v.SetDefault("resolver.timeout", 10*time.Second)
	v.SetDefault("resolver.retries", 3)
	v.SetDefault("resolver.cache_size", 0)
	v.SetDefault("resolver.cache_ttl", time.Minute)
	v.SetDefault("resolver.implicit_documents", false)
	v.SetDefault("remote_kms.url", "")
	v.SetDefault("remote_kms.api_key", "")
	v.SetDefault("log_level", DefaultLogLevel)

	return v
}

// FromViper decodes, standardizes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "failed to decode config")
	}

	cfg.Standardize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required fields are present and well formed.
func (c *Config) Validate() error {
	if c.Secret == "" {
		return dErrors.ErrMissingSecret.Errorf("secret is required")
	}

	secret, err := hex.DecodeString(strings.TrimPrefix(c.Secret, "0x"))
	if err != nil || len(secret) != 32 {
		return dErrors.ErrMissingSecret.Errorf("secret must be 32 hex-encoded bytes")
	}

	if c.ChainID <= 0 {
		return dErrors.New(dErrors.CodeConfiguration, "chain ID must be greater than 0")
	}

	if c.RegistryAddress != "" && !common.IsHexAddress(c.RegistryAddress) {
		return dErrors.New(dErrors.CodeConfiguration, "registry address is not a valid address")
	}

	if c.Publish && (c.RPCURL == "" || c.RegistryAddress == "") {
		return dErrors.New(dErrors.CodeConfiguration, "publishing needs an RPC URL and a registry address")
	}

	return nil
}

// Standardize sets default values for optional fields left empty.
func (c *Config) Standardize() {
	if c.Method == "" {
		c.Method = did.DefaultMethod
	}

	if c.ChainID == 0 {
		c.ChainID = did.DefaultChainID
	}

	if c.Resolver.Timeout <= 0 {
		c.Resolver.Timeout = 10 * time.Second
	}

	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}
