// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/utils/hashing"

	"github.com/sidechain-labs/sscvm/chain"
	"github.com/sidechain-labs/sscvm/state"
)

const tokenCode = `
actions.createSSC = function (payload) {
  if (!api.db.tableExists('balances')) {
    api.db.createTable('balances', ['account']);
  }
};

actions.credit = function (payload) {
  var bal = api.db.findOne('balances', { account: payload.to });
  if (bal === null) {
    api.db.insert('balances', { account: payload.to, balance: payload.amount });
  } else {
    bal.balance = api.BigNumber(bal.balance).plus(payload.amount).toFixed(3);
    api.db.update('balances', bal);
  }
  api.emit('credit', { to: payload.to, amount: payload.amount });
};

actions.fail = function (payload) {
  api.assert(false, 'always fails');
};

actions.failQuietly = function (payload) {
  api.assert(false);
  api.assert(0, null);
};

actions.loop = function (payload) {
  while (true) {}
};

actions.throws = function (payload) {
  throw new Error('boom');
};

actions.createLater = function (payload) {
  api.db.createTable('other', []);
};

actions.info = function (payload) {
  api.emit('info', {
    sender: api.sender,
    now: new Date().toISOString(),
    random: api.random(),
    third: api.BigNumber('1').dividedBy(3).toFixed(8, api.BigNumber.ROUND_DOWN)
  });
};

actions.recurse = function (payload) {
  api.executeSmartContract(api.contractName, 'recurse', {});
};

actions.callFail = function (payload) {
  var res = api.executeSmartContract('token', 'fail', {});
  api.emit('result', res);
};

actions.callCredit = function (payload) {
  api.executeSmartContract('token', 'credit', payload);
};
`

var testBlock = BlockInfo{
	BlockNumber:         1,
	RefChainBlockNumber: 100,
	RefChainBlockID:     "ref100",
	PrevRefChainBlockID: "ref99",
	Timestamp:           "2018-06-01T00:00:00",
}

func newTestTx(t *testing.T) *state.Tx {
	store := state.New(memdb.New())
	session, err := store.BeginSession()
	require.NoError(t, err)
	t.Cleanup(session.Abort)
	return session.Begin()
}

func deploy(t *testing.T, sb *Sandbox, tx *state.Tx, name, code string) *chain.Contract {
	require := require.New(t)

	c := &chain.Contract{
		Name:     name,
		Owner:    "alice",
		Code:     code,
		CodeHash: hashing.ComputeHash256Array([]byte(code)),
		Version:  1,
	}
	require.NoError(tx.PutContract(c))
	logs, err := sb.Invoke(context.Background(), &Call{
		Tx:       tx,
		Block:    testBlock,
		Sender:   "alice",
		Contract: c,
		Action:   CreateAction,
	})
	require.NoError(err)
	require.False(logs.Failed())
	return c
}

func invoke(sb *Sandbox, tx *state.Tx, c *chain.Contract, action, payload string) (*chain.Logs, error) {
	return sb.Invoke(context.Background(), &Call{
		Tx:            tx,
		Block:         testBlock,
		TransactionID: "tx1",
		Sender:        "bob",
		Contract:      c,
		Action:        action,
		Payload:       payload,
	})
}

func newTestSandbox(t *testing.T, timeout time.Duration) *Sandbox {
	sb, err := New(Config{Timeout: timeout})
	require.NoError(t, err)
	return sb
}

func TestInvokeWritesRowsAndEvents(t *testing.T) {
	require := require.New(t)

	sb := newTestSandbox(t, time.Second)
	tx := newTestTx(t)
	c := deploy(t, sb, tx, "token", tokenCode)
	require.Equal([]string{"balances"}, c.Tables)

	logs, err := invoke(sb, tx, c, "credit", `{"to":"bob","amount":"10.5"}`)
	require.NoError(err)
	require.False(logs.Failed())
	require.Len(logs.Events, 1)
	require.Equal("token", logs.Events[0].Contract)
	require.Equal("credit", logs.Events[0].Event)
	require.JSONEq(`{"to":"bob","amount":"10.5"}`, string(logs.Events[0].Data))

	_, err = invoke(sb, tx, c, "credit", `{"to":"bob","amount":"5"}`)
	require.NoError(err)

	row, err := tx.FindOne("token_balances", state.Document{"account": "bob"})
	require.NoError(err)
	require.Equal("15.500", row["balance"])

	stored, err := tx.Contract("token")
	require.NoError(err)
	require.Equal([]string{"balances"}, stored.Tables)
}

func TestAssertFailureIsReportedInLogs(t *testing.T) {
	require := require.New(t)

	sb := newTestSandbox(t, time.Second)
	tx := newTestTx(t)
	c := deploy(t, sb, tx, "token", tokenCode)

	logs, err := invoke(sb, tx, c, "fail", `{}`)
	require.NoError(err)
	require.Equal([]string{"always fails"}, logs.Errors)

	logs, err = invoke(sb, tx, c, "failQuietly", `{}`)
	require.NoError(err)
	require.Equal([]string{"", ""}, logs.Errors)
	require.True(logs.Failed())
}

func TestUnknownAction(t *testing.T) {
	require := require.New(t)

	sb := newTestSandbox(t, time.Second)
	tx := newTestTx(t)
	c := deploy(t, sb, tx, "token", tokenCode)

	logs, err := invoke(sb, tx, c, "nope", `{}`)
	require.NoError(err)
	require.Equal([]string{"action nope does not exist"}, logs.Errors)
}

func TestFaults(t *testing.T) {
	tests := []struct {
		action      string
		expectedErr error
	}{
		{action: "loop", expectedErr: ErrTimeout},
		{action: "throws", expectedErr: ErrException},
		{action: "createLater", expectedErr: ErrPermission},
		{action: "recurse", expectedErr: ErrCallDepth},
	}
	for _, test := range tests {
		t.Run(test.action, func(t *testing.T) {
			require := require.New(t)

			sb := newTestSandbox(t, 50*time.Millisecond)
			tx := newTestTx(t)
			c := deploy(t, sb, tx, "token", tokenCode)

			_, err := invoke(sb, tx, c, test.action, `{}`)
			require.ErrorIs(err, test.expectedErr)
		})
	}
}

func TestCanceledContext(t *testing.T) {
	require := require.New(t)

	sb := newTestSandbox(t, time.Minute)
	tx := newTestTx(t)
	c := deploy(t, sb, tx, "token", tokenCode)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := sb.Invoke(ctx, &Call{Tx: tx, Block: testBlock, Contract: c, Action: "loop"})
	require.ErrorIs(err, context.DeadlineExceeded)
}

func TestDeterministicEnvironment(t *testing.T) {
	require := require.New(t)

	sb := newTestSandbox(t, time.Second)
	var datas []string
	for i := 0; i < 2; i++ {
		tx := newTestTx(t)
		c := deploy(t, sb, tx, "token", tokenCode)
		logs, err := invoke(sb, tx, c, "info", `{}`)
		require.NoError(err)
		require.Len(logs.Events, 1)
		datas = append(datas, string(logs.Events[0].Data))
	}
	require.Equal(datas[0], datas[1])
	require.Contains(datas[0], `"now":"2018-06-01T00:00:00.000Z"`)
	require.Contains(datas[0], `"third":"0.33333333"`)
	require.Contains(datas[0], `"sender":"bob"`)
}

func TestNestedCalls(t *testing.T) {
	require := require.New(t)

	sb := newTestSandbox(t, time.Second)
	tx := newTestTx(t)
	c := deploy(t, sb, tx, "token", tokenCode)

	// callee validation errors are returned to the caller only
	logs, err := invoke(sb, tx, c, "callFail", `{}`)
	require.NoError(err)
	require.False(logs.Failed())
	require.Len(logs.Events, 1)
	require.JSONEq(`{"errors":["always fails"]}`, string(logs.Events[0].Data))

	// callee events are merged into the caller's logs
	logs, err = invoke(sb, tx, c, "callCredit", `{"to":"carol","amount":"1"}`)
	require.NoError(err)
	require.Len(logs.Events, 1)
	require.Equal("credit", logs.Events[0].Event)

	row, err := tx.FindOne("token_balances", state.Document{"account": "carol"})
	require.NoError(err)
	require.NotNil(row)
}

func TestCompile(t *testing.T) {
	require := require.New(t)

	sb := newTestSandbox(t, time.Second)
	_, err := sb.Compile("bad", "actions.x = function( {")
	require.ErrorIs(err, ErrSyntax)

	_, err = sb.Compile("good", tokenCode)
	require.NoError(err)
}

func TestIsValidAccountName(t *testing.T) {
	tests := map[string]bool{
		"alice":             true,
		"bob-1":             true,
		"dev.alice":         true,
		"ab":                false,
		"Alice":             false,
		"1alice":            false,
		"alice-":            false,
		"a.bob":             false,
		"averyveryverylong": false,
	}
	for name, expected := range tests {
		require.Equal(t, expected, IsValidAccountName(name), name)
	}
}
