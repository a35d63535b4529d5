// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package genesis

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sidechain-labs/sscvm/chain"
	"github.com/sidechain-labs/sscvm/executor"
	"github.com/sidechain-labs/sscvm/sandbox"
)

var testConfig = Config{
	ChainID:              "testnet1",
	GenesisRefChainBlock: 29862600,
	Constants:            DefaultConstants,
}

func TestTransactions(t *testing.T) {
	require := require.New(t)

	txs, err := Transactions(testConfig)
	require.NoError(err)
	require.Len(txs, 10)

	marker := txs[0]
	require.Equal(chain.NullSender, marker.Sender)
	require.Equal(chain.NullSender, marker.Contract)
	require.Equal(chain.NullSender, marker.Action)
	require.JSONEq(`{"chainId":"testnet1","genesisRefChainBlock":29862600}`, marker.Payload)

	deploy := txs[1]
	require.Equal(chain.ContractContract, deploy.Contract)
	require.Equal(executor.DeployAction, deploy.Action)
	require.Equal(DefaultConstants.EngineAccount, deploy.Sender)

	payload := executor.ContractPayload{}
	require.NoError(json.Unmarshal([]byte(deploy.Payload), &payload))
	require.Equal("tokens", payload.Name)
	code, err := base64.StdEncoding.DecodeString(payload.Code)
	require.NoError(err)
	require.NotContains(string(code), "CONSTANTS")
	require.Contains(string(code), `var UTILITY_TOKEN_SYMBOL = "ENG";`)
	require.Contains(string(code), `var UTILITY_TOKEN_PRECISION = 8;`)

	sb, err := sandbox.New(sandbox.Config{})
	require.NoError(err)
	_, err = sb.Compile("tokens", string(code))
	require.NoError(err)

	seen := map[string]bool{}
	for _, tx := range txs {
		require.Equal(testConfig.GenesisRefChainBlock, tx.RefChainBlockNumber)
		require.False(seen[tx.TransactionID])
		seen[tx.TransactionID] = true
	}
}

func TestTransactionsAreDeterministic(t *testing.T) {
	require := require.New(t)

	a, err := Transactions(testConfig)
	require.NoError(err)
	b, err := Transactions(testConfig)
	require.NoError(err)
	require.Equal(a, b)
}

func TestSubstitute(t *testing.T) {
	require := require.New(t)

	out, err := substitute(`var s = "'${CONSTANTS.STEEM_PEGGED_SYMBOL}$'";`, DefaultConstants)
	require.NoError(err)
	require.Equal(`var s = "STEEMP";`, out)

	_, err = substitute(`'${CONSTANTS.NOPE}$'`, DefaultConstants)
	require.ErrorIs(err, errUnknownConstant)
}

func TestBlock(t *testing.T) {
	require := require.New(t)

	blk, err := Block(testConfig)
	require.NoError(err)
	require.Zero(blk.BlockNumber)
	require.Equal(int64(-1), blk.PreviousBlockNumber)
	require.Equal(Timestamp, blk.Timestamp)
	require.True(strings.HasPrefix(blk.Transactions[1].Payload, `{"name":"tokens"`))
}
