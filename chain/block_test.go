// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ava-labs/avalanchego/ids"
)

func executedTx(t *testing.T, txID string, dbHash ids.ID) *Transaction {
	tx := NewTransaction(10, txID, "alice", "tokens", "transfer", `{"to":"bob"}`)
	require.NoError(t, tx.SetResult(&Logs{}, dbHash))
	return tx
}

func sealedBlock(t *testing.T, parent *Block, txs ...*Transaction) *Block {
	blk := NewBlock(parent, "2018-06-01T00:00:03", 10, "ref10", "ref9", txs)
	require.NoError(t, blk.Seal())
	return blk
}

func TestNewBlock(t *testing.T) {
	require := require.New(t)

	genesis := sealedBlock(t, nil)
	require.Zero(genesis.BlockNumber)
	require.Equal(int64(-1), genesis.PreviousBlockNumber)
	require.Equal(ids.Empty, genesis.PreviousHash)
	require.True(genesis.Empty())
	require.NotNil(genesis.Transactions)

	blk := sealedBlock(t, genesis, executedTx(t, "t1", ids.ID{1}))
	require.Equal(uint64(1), blk.BlockNumber)
	require.Equal(int64(0), blk.PreviousBlockNumber)
	require.Equal(genesis.Hash, blk.PreviousHash)
	require.Equal(genesis.DatabaseHash, blk.PreviousDatabaseHash)
	require.False(blk.Empty())
}

func TestSeal(t *testing.T) {
	require := require.New(t)

	genesis := sealedBlock(t, nil)
	require.Equal(genesis.PreviousDatabaseHash, genesis.DatabaseHash)

	t1 := executedTx(t, "t1", ids.ID{1})
	t2 := executedTx(t, "t2", ids.Empty)
	blk := sealedBlock(t, genesis, t1, t2)
	expected := FoldDatabaseHash(FoldDatabaseHash(genesis.DatabaseHash, ids.ID{1}), ids.Empty)
	require.Equal(expected, blk.DatabaseHash)

	// transaction order is part of both digests
	swapped := sealedBlock(t, genesis, t2, t1)
	require.NotEqual(blk.DatabaseHash, swapped.DatabaseHash)
	require.NotEqual(blk.Hash, swapped.Hash)

	again := sealedBlock(t, genesis, executedTx(t, "t1", ids.ID{1}), executedTx(t, "t2", ids.Empty))
	require.Equal(blk.Hash, again.Hash)
}

func TestVerify(t *testing.T) {
	require := require.New(t)

	genesis := sealedBlock(t, nil)
	blk := sealedBlock(t, genesis, executedTx(t, "t1", ids.ID{1}))
	require.NoError(blk.Verify(genesis))

	other := sealedBlock(t, nil, executedTx(t, "t0", ids.ID{2}))
	require.ErrorIs(blk.Verify(other), errWrongPreviousHash)

	require.ErrorIs(genesis.Verify(blk), errWrongHeight)

	blk.Timestamp = "2018-06-01T00:00:06"
	require.ErrorIs(blk.Verify(genesis), errWrongHash)
}

func TestTransactionResult(t *testing.T) {
	require := require.New(t)

	tx := NewTransaction(10, "t1", "alice", "tokens", "transfer", "{}")
	logs := &Logs{}
	logs.AddError("overdrawn balance")
	logs.Events = append(logs.Events, Event{Contract: "tokens", Event: "transfer", Data: json.RawMessage(`{"to":"bob"}`)})
	require.NoError(tx.SetResult(logs, ids.Empty))
	require.JSONEq(`{"errors":["overdrawn balance"],"events":[{"contract":"tokens","event":"transfer","data":{"to":"bob"}}]}`, tx.Logs)

	parsed, err := tx.ParsedLogs()
	require.NoError(err)
	require.True(parsed.Failed())
	require.Equal(logs.Errors, parsed.Errors)

	hash := tx.Hash
	require.NoError(tx.SetResult(&Logs{}, ids.Empty))
	require.Equal(`{}`, tx.Logs)
	require.NotEqual(hash, tx.Hash)

	cp := tx.Copy()
	require.Empty(cp.Logs)
	require.Equal(ids.Empty, cp.Hash)
	require.Equal(tx.Payload, cp.Payload)
	require.False(cp.IsSystem())
	require.True(NewTransaction(0, "v", NullSender, "tokens", "check", "").IsSystem())
}

func TestContractNames(t *testing.T) {
	require := require.New(t)

	require.True(IsValidContractName("tokens"))
	require.True(IsValidContractName("nft_market"))
	require.False(IsValidContractName("ab"))
	require.False(IsValidContractName(ContractContract))
	require.False(IsValidContractName(NullSender))
	require.False(IsValidContractName("bad-name"))
	require.Equal("tokens_balances", TableName("tokens", "balances"))

	c := &Contract{Tables: []string{"balances"}}
	require.True(c.HasTable("balances"))
	require.False(c.HasTable("tokens"))
}
