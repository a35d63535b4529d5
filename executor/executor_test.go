// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package executor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"

	"github.com/sidechain-labs/sscvm/chain"
	"github.com/sidechain-labs/sscvm/sandbox"
	"github.com/sidechain-labs/sscvm/state"
)

const tokenCode = `
actions.createSSC = function (payload) {
  if (!api.db.tableExists('balances')) {
    api.db.createTable('balances', ['account']);
  }
};

actions.issue = function (payload) {
  if (!api.assert(api.sender === api.owner, 'not authorized')) return;
  api.db.insert('balances', { account: payload.to, balance: api.BigNumber(payload.quantity).toFixed(3) });
};

actions.transfer = function (payload) {
  var from = api.db.findOne('balances', { account: api.sender });
  if (!api.assert(from !== null, 'balance does not exist')) return;
  if (!api.assert(api.BigNumber(from.balance).gte(payload.quantity), 'overdrawn balance')) return;
  from.balance = api.BigNumber(from.balance).minus(payload.quantity).toFixed(3);
  api.db.update('balances', from);

  var to = api.db.findOne('balances', { account: payload.to });
  if (to === null) {
    api.db.insert('balances', { account: payload.to, balance: api.BigNumber(payload.quantity).toFixed(3) });
  } else {
    to.balance = api.BigNumber(to.balance).plus(payload.quantity).toFixed(3);
    api.db.update('balances', to);
  }
  api.emit('transfer', { from: api.sender, to: payload.to, quantity: payload.quantity });
};

actions.transferThenFail = function (payload) {
  actions.transfer(payload);
  api.assert(false, 'changed my mind');
};

actions.issueThenThrow = function (payload) {
  actions.issue(payload);
  throw new Error('boom');
};

actions.issueThenLoop = function (payload) {
  actions.issue(payload);
  while (true) {}
};
`

var testBlock = sandbox.BlockInfo{
	BlockNumber:         1,
	RefChainBlockNumber: 100,
	RefChainBlockID:     "ref100",
	PrevRefChainBlockID: "ref99",
	Timestamp:           "2018-06-01T00:00:03",
}

type testEnv struct {
	t         *testing.T
	processor *Processor
	session   *state.Session
	txCount   int
}

func newTestEnv(t *testing.T) *testEnv {
	sb, err := sandbox.New(sandbox.Config{Timeout: time.Second})
	require.NoError(t, err)

	store := state.New(memdb.New())
	session, err := store.BeginSession()
	require.NoError(t, err)
	t.Cleanup(session.Abort)

	return &testEnv{
		t:         t,
		processor: New(Config{RootAuthorities: []string{"alice"}}, sb),
		session:   session,
	}
}

func (e *testEnv) execute(sender, contract, action string, payload interface{}) (*chain.Transaction, *chain.Logs) {
	require := require.New(e.t)

	b, err := json.Marshal(payload)
	require.NoError(err)
	e.txCount++
	tx := chain.NewTransaction(testBlock.RefChainBlockNumber, string(rune('a'+e.txCount)), sender, contract, action, string(b))
	require.NoError(e.processor.Execute(context.Background(), e.session, testBlock, tx))
	logs, err := tx.ParsedLogs()
	require.NoError(err)
	return tx, logs
}

func (e *testEnv) deploy(sender, name, code string) *chain.Logs {
	_, logs := e.execute(sender, chain.ContractContract, DeployAction, &ContractPayload{
		Name: name,
		Code: base64.StdEncoding.EncodeToString([]byte(code)),
	})
	return logs
}

func (e *testEnv) balance(account string) interface{} {
	layer := e.session.Begin()
	defer layer.Abort()

	row, err := layer.FindOne("token_balances", state.Document{"account": account})
	require.NoError(e.t, err)
	if row == nil {
		return nil
	}
	return row["balance"]
}

func TestDeployAndTransfer(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t)
	logs := env.deploy("alice", "token", tokenCode)
	require.False(logs.Failed(), logs.Errors)
	require.Len(logs.Events, 1)
	require.Equal(chain.ContractContract, logs.Events[0].Contract)
	require.Equal(DeployAction, logs.Events[0].Event)
	require.JSONEq(`{"name":"token","owner":"alice","version":1}`, string(logs.Events[0].Data))

	_, logs = env.execute("alice", "token", "issue", map[string]string{"to": "alice", "quantity": "100"})
	require.False(logs.Failed(), logs.Errors)

	tx, logs := env.execute("alice", "token", "transfer", map[string]string{"to": "bob", "quantity": "10.5"})
	require.False(logs.Failed(), logs.Errors)
	require.Len(logs.Events, 1)
	require.Equal("transfer", logs.Events[0].Event)
	require.NotEqual(ids.Empty, tx.Hash)
	require.NotEqual(ids.Empty, tx.DatabaseHash)

	require.Equal("89.500", env.balance("alice"))
	require.Equal("10.500", env.balance("bob"))
}

func TestFailedTransactionIsRolledBack(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t)
	require.False(env.deploy("alice", "token", tokenCode).Failed())
	_, logs := env.execute("alice", "token", "issue", map[string]string{"to": "alice", "quantity": "100"})
	require.False(logs.Failed())
	mutations := len(env.session.Mutations())

	tx, logs := env.execute("alice", "token", "transferThenFail", map[string]string{"to": "bob", "quantity": "1"})
	require.Equal([]string{"changed my mind"}, logs.Errors)
	require.Empty(logs.Events)
	require.Equal(ids.Empty, tx.DatabaseHash)
	require.Len(env.session.Mutations(), mutations)

	require.Equal("100.000", env.balance("alice"))
	require.Nil(env.balance("bob"))

	_, logs = env.execute("bob", "token", "transfer", map[string]string{"to": "alice", "quantity": "1"})
	require.Equal([]string{"balance does not exist"}, logs.Errors)

	_, logs = env.execute("alice", "token", "transfer", map[string]string{"to": "bob", "quantity": "100.001"})
	require.Equal([]string{"overdrawn balance"}, logs.Errors)
}

func TestFaultAfterWriteIsRolledBack(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t)
	require.False(env.deploy("alice", "token", tokenCode).Failed())
	mutations := len(env.session.Mutations())

	tests := []struct {
		action string
		err    error
	}{
		{action: "issueThenThrow", err: sandbox.ErrException},
		{action: "issueThenLoop", err: sandbox.ErrTimeout},
	}
	for _, test := range tests {
		tx, logs := env.execute("alice", "token", test.action, map[string]string{"to": "carol", "quantity": "5"})
		require.Len(logs.Errors, 1, test.action)
		require.Contains(logs.Errors[0], test.err.Error(), test.action)
		require.Empty(logs.Events, test.action)
		require.Equal(ids.Empty, tx.DatabaseHash, test.action)
		require.Nil(env.balance("carol"), test.action)
		require.Len(env.session.Mutations(), mutations, test.action)
	}
}

func TestTransactionErrors(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t)
	require.False(env.deploy("alice", "token", tokenCode).Failed())

	_, logs := env.execute("alice", "missing", "transfer", map[string]string{})
	require.Equal([]string{ErrUnknownContract.Error()}, logs.Errors)

	_, logs = env.execute("alice", "token", sandbox.CreateAction, map[string]string{})
	require.Equal([]string{ErrReservedAction.Error()}, logs.Errors)

	tx := chain.NewTransaction(1, "raw", "alice", "token", "transfer", "{not json")
	require.NoError(env.processor.Execute(context.Background(), env.session, testBlock, tx))
	logs, err := tx.ParsedLogs()
	require.NoError(err)
	require.Equal([]string{ErrInvalidPayload.Error()}, logs.Errors)
}

func TestContractRegistration(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t)
	require.Equal([]string{"account bob is not allowed to deploy contracts"}, env.deploy("bob", "token", tokenCode).Errors)
	require.Equal([]string{`invalid contract name "ab"`}, env.deploy("alice", "ab", tokenCode).Errors)
	require.Equal([]string{`invalid contract name "contract"`}, env.deploy("alice", "contract", tokenCode).Errors)
	require.Len(env.deploy("alice", "broken", "actions.x = function( {").Errors, 1)

	_, logs := env.execute("alice", chain.ContractContract, DeployAction, &ContractPayload{Name: "token", Code: "%%%"})
	require.Equal([]string{"contract code is not base64 encoded"}, logs.Errors)

	// system transactions deploy without being a root authority
	deployTx, logs := env.execute(chain.NullSender, chain.ContractContract, DeployAction, &ContractPayload{
		Name: "token",
		Code: base64.StdEncoding.EncodeToString([]byte(tokenCode)),
	})
	require.False(logs.Failed(), logs.Errors)
	require.NotEqual(ids.Empty, deployTx.DatabaseHash)
	require.Equal([]string{"contract token already exists"}, env.deploy("alice", "token", tokenCode).Errors)

	update := &ContractPayload{
		Name: "token",
		Code: base64.StdEncoding.EncodeToString([]byte(tokenCode + "\nactions.noop = function () {};")),
	}
	_, logs = env.execute("alice", chain.ContractContract, UpdateAction, update)
	require.Equal([]string{"only the owner of contract token can update it"}, logs.Errors)

	// createSSC finds its table and writes no row, the registration is still a state change
	updateTx, logs := env.execute(chain.NullSender, chain.ContractContract, UpdateAction, update)
	require.False(logs.Failed(), logs.Errors)
	require.NotEqual(ids.Empty, updateTx.DatabaseHash)
	require.NotEqual(deployTx.DatabaseHash, updateTx.DatabaseHash)
	require.JSONEq(`{"name":"token","owner":"null","version":2}`, string(logs.Events[0].Data))

	layer := env.session.Begin()
	defer layer.Abort()
	contract, err := layer.Contract("token")
	require.NoError(err)
	require.Equal(uint32(2), contract.Version)
	require.Equal([]string{"balances"}, contract.Tables)

	_, logs = env.execute("alice", chain.ContractContract, UpdateAction, &ContractPayload{Name: "other"})
	require.Equal([]string{"contract other does not exist"}, logs.Errors)
}
