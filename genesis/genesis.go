// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package genesis builds the fixed transaction list of block 0.
package genesis

import (
	"embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/sidechain-labs/sscvm/chain"
	"github.com/sidechain-labs/sscvm/executor"
)

// Timestamp of block 0.
const Timestamp = "2018-06-01T00:00:00"

// maxSupply is the largest integer contract code represents exactly.
const maxSupply = "9007199254740991"

var (
	//go:embed contracts/*.js
	contractSources embed.FS

	placeholderRegexp = regexp.MustCompile(`'\$\{CONSTANTS\.([A-Z_]+)\}\$'`)

	errUnknownConstant = errors.New("unknown constant")
)

// Constants are substituted into the bundled contract sources and used by
// the token setup transactions.
type Constants struct {
	UtilityTokenSymbol    string `json:"utilityTokenSymbol"`
	UtilityTokenPrecision int    `json:"utilityTokenPrecision"`
	PeggedTokenSymbol     string `json:"peggedTokenSymbol"`
	EngineAccount         string `json:"engineAccount"`
	PeggedAccount         string `json:"peggedAccount"`
	TokenCreationFee      string `json:"tokenCreationFee"`
	EnableStakingFee      string `json:"enableStakingFee"`
	EnableDelegationFee   string `json:"enableDelegationFee"`
}

// DefaultConstants are the constants of the production chain.
var DefaultConstants = Constants{
	UtilityTokenSymbol:    "ENG",
	UtilityTokenPrecision: 8,
	PeggedTokenSymbol:     "STEEMP",
	EngineAccount:         "steemsc",
	PeggedAccount:         "steem-peg",
	TokenCreationFee:      "100",
	EnableStakingFee:      "1000",
	EnableDelegationFee:   "1000",
}

// Config of the genesis block.
type Config struct {
	ChainID              string    `json:"chainId"`
	GenesisRefChainBlock uint64    `json:"genesisRefChainBlock"`
	Constants            Constants `json:"constants"`
}

// marker is the payload of the first genesis transaction.
type marker struct {
	ChainID              string `json:"chainId"`
	GenesisRefChainBlock uint64 `json:"genesisRefChainBlock"`
}

// substitute replaces every placeholder of [code] with its constant.
func substitute(code string, c Constants) (string, error) {
	values := map[string]string{
		"UTILITY_TOKEN_SYMBOL":    c.UtilityTokenSymbol,
		"UTILITY_TOKEN_PRECISION": strconv.Itoa(c.UtilityTokenPrecision),
		"STEEM_PEGGED_SYMBOL":     c.PeggedTokenSymbol,
		"STEEM_ENGINE_ACCOUNT":    c.EngineAccount,
		"STEEM_PEGGED_ACCOUNT":    c.PeggedAccount,
	}
	var err error
	out := placeholderRegexp.ReplaceAllStringFunc(code, func(match string) string {
		name := placeholderRegexp.FindStringSubmatch(match)[1]
		value, ok := values[name]
		if !ok {
			err = fmt.Errorf("%w: %s", errUnknownConstant, name)
			return match
		}
		return value
	})
	return out, err
}

// ContractCode returns the source of bundled contract [name] with its
// placeholders substituted.
func ContractCode(name string, c Constants) (string, error) {
	raw, err := contractSources.ReadFile("contracts/" + name + ".js")
	if err != nil {
		return "", err
	}
	return substitute(string(raw), c)
}

type builder struct {
	cfg Config
	txs []*chain.Transaction
	err error
}

func (b *builder) add(sender, contract, action string, payload interface{}) {
	if b.err != nil {
		return
	}
	bytes, err := json.Marshal(payload)
	if err != nil {
		b.err = err
		return
	}
	txID := fmt.Sprintf("genesis-%d", len(b.txs))
	b.txs = append(b.txs, chain.NewTransaction(b.cfg.GenesisRefChainBlock, txID, sender, contract, action, string(bytes)))
}

func (b *builder) deploy(sender, name string) {
	if b.err != nil {
		return
	}
	code, err := ContractCode(name, b.cfg.Constants)
	if err != nil {
		b.err = err
		return
	}
	b.add(sender, chain.ContractContract, executor.DeployAction, &executor.ContractPayload{
		Name: name,
		Code: base64.StdEncoding.EncodeToString([]byte(code)),
	})
}

// Transactions returns the ordered transaction list of block 0. The list
// only depends on [cfg].
func Transactions(cfg Config) ([]*chain.Transaction, error) {
	c := cfg.Constants
	b := &builder{cfg: cfg}

	b.add(chain.NullSender, chain.NullSender, chain.NullSender, &marker{
		ChainID:              cfg.ChainID,
		GenesisRefChainBlock: cfg.GenesisRefChainBlock,
	})
	b.deploy(c.EngineAccount, "tokens")

	b.add(chain.NullSender, "tokens", "create", map[string]interface{}{
		"name":      "Engine Token",
		"symbol":    c.UtilityTokenSymbol,
		"precision": c.UtilityTokenPrecision,
		"maxSupply": maxSupply,
	})
	b.add(chain.NullSender, "tokens", "enableStaking", map[string]interface{}{
		"symbol":            c.UtilityTokenSymbol,
		"unstakingCooldown": 40,
	})
	b.add(chain.NullSender, "tokens", "updateMetadata", map[string]interface{}{
		"symbol": c.UtilityTokenSymbol,
		"metadata": map[string]string{
			"desc": c.UtilityTokenSymbol + " is the native token of the sidechain",
		},
	})
	b.add(chain.NullSender, "tokens", "issue", map[string]interface{}{
		"symbol":   c.UtilityTokenSymbol,
		"to":       c.EngineAccount,
		"quantity": "1500000",
	})

	b.add(c.PeggedAccount, "tokens", "create", map[string]interface{}{
		"name":      "Pegged " + c.PeggedTokenSymbol,
		"symbol":    c.PeggedTokenSymbol,
		"precision": 8,
		"maxSupply": maxSupply,
	})
	b.add(c.PeggedAccount, "tokens", "updateMetadata", map[string]interface{}{
		"symbol": c.PeggedTokenSymbol,
		"metadata": map[string]string{
			"desc": c.PeggedTokenSymbol + " backed by the reference chain",
		},
	})
	b.add(c.PeggedAccount, "tokens", "issue", map[string]interface{}{
		"symbol":   c.PeggedTokenSymbol,
		"to":       c.PeggedAccount,
		"quantity": maxSupply,
	})

	b.add(c.EngineAccount, "tokens", "updateParams", map[string]interface{}{
		"tokenCreationFee":    c.TokenCreationFee,
		"enableStakingFee":    c.EnableStakingFee,
		"enableDelegationFee": c.EnableDelegationFee,
	})
	return b.txs, b.err
}

// Block returns the unexecuted block 0.
func Block(cfg Config) (*chain.Block, error) {
	txs, err := Transactions(cfg)
	if err != nil {
		return nil, err
	}
	return chain.NewBlock(nil, Timestamp, cfg.GenesisRefChainBlock, "", "", txs), nil
}
