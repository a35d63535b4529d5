// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	log "github.com/inconshreveable/log15"

	"github.com/sidechain-labs/sscvm/crosscheck"
	"github.com/sidechain-labs/sscvm/executor"
	"github.com/sidechain-labs/sscvm/genesis"
	"github.com/sidechain-labs/sscvm/sandbox"
	"github.com/sidechain-labs/sscvm/sscvm"
)

const (
	ConfigFileKey             = "config-file"
	VersionKey                = "version"
	DBDirKey                  = "db-dir"
	JavascriptVMTimeoutKey    = "javascript-vm-timeout"
	EnableHashVerificationKey = "enable-hash-verification"
	ReferenceNodeURIKey       = "reference-node-uri"
	CrossCheckTimeoutKey      = "cross-check-timeout"
	StrictVerificationKey     = "strict-verification"
	LightNodeKey              = "light-node"
	BlocksToKeepKey           = "blocks-to-keep"
	HTTPHostKey               = "http-host"
	HTTPPortKey               = "http-port"
	ChainIDKey                = "chain-id"
	GenesisRefBlockKey        = "genesis-ref-block"
	RootAuthoritiesKey        = "root-authorities"
	LogLevelKey               = "log-level"
)

var (
	errMissingReferenceNode = errors.New("hash verification requires a reference node uri")
	errInvalidTimeout       = errors.New("timeout must be positive")
	errInvalidBlocksToKeep  = errors.New("a light node must keep at least one block")
)

// Config of the node binary.
type Config struct {
	Version bool

	DBDir string

	JavascriptVMTimeout time.Duration

	EnableHashVerification bool
	ReferenceNodeURI       string
	CrossCheckTimeout      time.Duration
	StrictVerification     bool

	LightNode    bool
	BlocksToKeep uint64

	HTTPHost string
	HTTPPort uint

	ChainID         string
	GenesisRefBlock uint64
	RootAuthorities []string

	LogLevel log.Lvl
}

// HTTPAddress is where the JSON-RPC and metrics endpoints listen.
func (c *Config) HTTPAddress() string {
	return net.JoinHostPort(c.HTTPHost, strconv.FormatUint(uint64(c.HTTPPort), 10))
}

// VM returns the block builder configuration. The reference node fetcher is
// left to the caller.
func (c *Config) VM() sscvm.Config {
	return sscvm.Config{
		Genesis: genesis.Config{
			ChainID:              c.ChainID,
			GenesisRefChainBlock: c.GenesisRefBlock,
			Constants:            genesis.DefaultConstants,
		},
		Sandbox: sandbox.Config{
			Timeout: c.JavascriptVMTimeout,
		},
		Executor: executor.Config{
			RootAuthorities: c.RootAuthorities,
		},
		EnableHashVerification: c.EnableHashVerification,
		CrossCheck: crosscheck.Config{
			Timeout: c.CrossCheckTimeout,
			Strict:  c.StrictVerification,
		},
		LightNode:    c.LightNode,
		BlocksToKeep: c.BlocksToKeep,
		Virtual: []sscvm.VirtualTransaction{
			{Contract: "tokens", Action: "checkPendingUnstakes", Payload: "{}"},
		},
	}
}

// Verify reports the first inconsistency of the configuration.
func (c *Config) Verify() error {
	switch {
	case c.EnableHashVerification && c.ReferenceNodeURI == "":
		return errMissingReferenceNode
	case c.JavascriptVMTimeout <= 0:
		return fmt.Errorf("%w: %s", errInvalidTimeout, JavascriptVMTimeoutKey)
	case c.EnableHashVerification && c.CrossCheckTimeout <= 0:
		return fmt.Errorf("%w: %s", errInvalidTimeout, CrossCheckTimeoutKey)
	case c.LightNode && c.BlocksToKeep == 0:
		return errInvalidBlocksToKeep
	}
	return nil
}

// BuildFlagSet declares the flags of the node binary.
func BuildFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet(sscvm.Name, flag.ContinueOnError)

	fs.String(ConfigFileKey, "", "Optional config file, flags take precedence over its values")
	fs.Bool(VersionKey, false, "If true, prints the version and quit")
	fs.String(DBDirKey, "", "Database directory, the state is kept in memory if empty")
	fs.Duration(JavascriptVMTimeoutKey, sandbox.DefaultTimeout, "Maximum running time of one contract action")
	fs.Bool(EnableHashVerificationKey, false, "Compare every produced block with the reference node")
	fs.String(ReferenceNodeURIKey, "", "JSON-RPC endpoint of the reference node")
	fs.Duration(CrossCheckTimeoutKey, 5*time.Second, "Timeout of one reference node request")
	fs.Bool(StrictVerificationKey, false, "Halt when the reference node cannot be reached")
	fs.Bool(LightNodeKey, false, "Only keep the last blocks")
	fs.Uint64(BlocksToKeepKey, 150000, "Number of blocks kept by a light node")
	fs.String(HTTPHostKey, "127.0.0.1", "Address of the HTTP server")
	fs.Uint(HTTPPortKey, 5000, "Port of the HTTP server")
	fs.String(ChainIDKey, "mainnet-sscvm", "Identifier of the sidechain")
	fs.Uint64(GenesisRefBlockKey, 0, "Reference chain block the sidechain starts from")
	fs.String(RootAuthoritiesKey, "", "Comma separated accounts allowed to deploy contracts")
	fs.String(LogLevelKey, "info", "Logging level")

	return fs
}

// GetViper returns the viper environment of the node binary.
func GetViper(args []string) (*viper.Viper, error) {
	v := viper.New()

	fs := pflag.NewFlagSet(sscvm.Name, pflag.ContinueOnError)
	fs.AddGoFlagSet(BuildFlagSet())
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}

	if file := v.GetString(ConfigFileKey); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}
	return v, nil
}

// New parses [args] into a verified configuration.
func New(args []string) (*Config, error) {
	v, err := GetViper(args)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper reads the configuration out of [v].
func FromViper(v *viper.Viper) (*Config, error) {
	level, err := log.LvlFromString(v.GetString(LogLevelKey))
	if err != nil {
		return nil, err
	}
	c := &Config{
		Version:                v.GetBool(VersionKey),
		DBDir:                  v.GetString(DBDirKey),
		JavascriptVMTimeout:    v.GetDuration(JavascriptVMTimeoutKey),
		EnableHashVerification: v.GetBool(EnableHashVerificationKey),
		ReferenceNodeURI:       v.GetString(ReferenceNodeURIKey),
		CrossCheckTimeout:      v.GetDuration(CrossCheckTimeoutKey),
		StrictVerification:     v.GetBool(StrictVerificationKey),
		LightNode:              v.GetBool(LightNodeKey),
		BlocksToKeep:           v.GetUint64(BlocksToKeepKey),
		HTTPHost:               v.GetString(HTTPHostKey),
		HTTPPort:               v.GetUint(HTTPPortKey),
		ChainID:                v.GetString(ChainIDKey),
		GenesisRefBlock:        v.GetUint64(GenesisRefBlockKey),
		RootAuthorities:        accounts(v.GetStringSlice(RootAuthoritiesKey)),
		LogLevel:               level,
	}
	if c.Version {
		return c, nil
	}
	return c, c.Verify()
}

// accounts accepts both a list and comma separated values.
func accounts(values []string) []string {
	var list []string
	for _, value := range values {
		for _, account := range strings.Split(value, ",") {
			if account = strings.TrimSpace(account); account != "" {
				list = append(list, account)
			}
		}
	}
	return list
}
