// Package cmd holds the didagent commands.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pilacorp/go-did-agent/agent"
	"github.com/pilacorp/go-did-agent/config"
)

type rootFlags struct {
	configFile string
	v          *viper.Viper
	bindErr    error
}

// flagKeys maps configuration keys to the persistent flags overriding them.
var flagKeys = map[string]string{
	"secret":                 "secret",
	"store_path":             "store",
	"method":                 "method",
	"chain_id":               "chain-id",
	"rpc_url":                "rpc",
	"registry_address":       "registry",
	"publish":                "publish",
	"universal_resolver_url": "universal-resolver",
	"remote_kms.url":         "remote-kms",
	"log_level":              "log-level",
}

// NewRootCmd returns the didagent root command.
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{v: config.New()}

	root := &cobra.Command{
		Use:          "didagent",
		Short:        "DID-anchored credential agent",
		Long:         "didagent manages Ethereum-anchored DIDs and issues and verifies credentials signed with their keys.",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "configuration file (yaml or json)")
	pf.String("secret", "", "hex-encoded 32-byte secret sealing private keys")
	pf.String("store", "", "LevelDB directory; empty keeps state in memory")
	pf.String("method", "", "DID method of derived identifiers")
	pf.Int64("chain-id", 0, "chain id of derived identifiers")
	pf.String("rpc", "", "Ethereum JSON-RPC URL")
	pf.String("registry", "", "EthereumDIDRegistry address")
	pf.Bool("publish", false, "anchor added keys and services in the registry")
	pf.String("universal-resolver", "", "universal resolver URL for other DID methods")
	pf.String("remote-kms", "", "remote signing service URL, registered as the \"remote\" KMS")
	pf.String("log-level", "", "log level")

	flags.bindErr = bindFlags(flags.v, pf, flagKeys)

	root.AddCommand(newDemoCmd(flags))
	root.AddCommand(newResolveCmd(flags))
	root.AddCommand(newVerifyCmd(flags))

	return root
}

// bindFlags binds each flag of fs named in keys to its configuration key. Flags override
// the file and environment only when set.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		flag := fs.Lookup(name)
		if flag == nil {
			return fmt.Errorf("no flag %q for config key %s", name, key)
		}

		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag %q: %w", name, err)
		}
	}

	return nil
}

// load reads the configuration and builds the agent and logger. Callers release both
// with release.
func (f *rootFlags) load(ctx context.Context) (*config.Config, *agent.Agent, *zap.Logger, error) {
	if f.bindErr != nil {
		return nil, nil, nil, f.bindErr
	}

	if f.configFile != "" {
		f.v.SetConfigFile(f.configFile)

		if err := f.v.ReadInConfig(); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := config.FromViper(f.v)
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, err
	}

	a, err := agent.NewFromConfig(ctx, cfg, agent.WithSetupLogger(logger))
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, err
	}

	return cfg, a, logger, nil
}

// release closes a and flushes logger.
func release(a *agent.Agent, logger *zap.Logger) {
	if err := a.Close(); err != nil {
		logger.Warn("close agent", zap.Error(err))
	}

	// Sync reports EINVAL for stderr on most terminals; nothing is lost then.
	_ = logger.Sync()
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}

	return zc.Build()
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
