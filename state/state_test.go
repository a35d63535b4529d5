// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"encoding/json"
	"testing"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/stretchr/testify/require"

	"github.com/sidechain-labs/sscvm/chain"
)

func newTestStore() *Store {
	return New(memdb.New())
}

func doc(t *testing.T, s string) Document {
	d, err := ParseDocument([]byte(s))
	require.NoError(t, err)
	return d
}

func TestSessionCommitIsAtomic(t *testing.T) {
	require := require.New(t)
	store := newTestStore()

	sess, err := store.BeginSession()
	require.NoError(err)
	tx := sess.Begin()
	require.NoError(tx.CreateTable("tokens_balances", nil, TableOptions{}))
	_, err = tx.Insert("tokens_balances", doc(t, `{"account":"alice","balance":"10"}`))
	require.NoError(err)
	require.NoError(tx.Commit())

	// nothing is visible to committed readers before the session commits
	require.NoError(store.View(func(v *View) error {
		exists, err := v.TableExists("tokens_balances")
		require.NoError(err)
		require.False(exists)
		return nil
	}))

	require.NoError(sess.Commit())
	require.NoError(store.View(func(v *View) error {
		row, err := v.FindOne("tokens_balances", doc(t, `{"account":"alice"}`))
		require.NoError(err)
		require.Equal("10", row["balance"])
		require.Equal(json.Number("1"), row[IDField])
		return nil
	}))
}

func TestSessionAbortDiscardsEverything(t *testing.T) {
	require := require.New(t)
	store := newTestStore()

	sess, err := store.BeginSession()
	require.NoError(err)
	tx := sess.Begin()
	require.NoError(tx.CreateTable("t", nil, TableOptions{}))
	require.NoError(tx.Commit())
	sess.Abort()

	require.NoError(store.View(func(v *View) error {
		exists, err := v.TableExists("t")
		require.NoError(err)
		require.False(exists)
		return nil
	}))

	// the store accepts a new session once the previous one is closed
	sess, err = store.BeginSession()
	require.NoError(err)
	sess.Abort()
}

func TestOnlyOneSession(t *testing.T) {
	require := require.New(t)
	store := newTestStore()

	sess, err := store.BeginSession()
	require.NoError(err)
	_, err = store.BeginSession()
	require.ErrorIs(err, ErrSessionInProgress)

	require.NoError(sess.Commit())
	require.ErrorIs(sess.Commit(), ErrSessionClosed)
	_, err = store.BeginSession()
	require.NoError(err)
}

func TestTxAbortRollsBackLayer(t *testing.T) {
	require := require.New(t)
	store := newTestStore()

	sess, err := store.BeginSession()
	require.NoError(err)
	defer sess.Abort()

	setup := sess.Begin()
	require.NoError(setup.CreateTable("t", nil, TableOptions{}))
	require.NoError(setup.Commit())

	tx := sess.Begin()
	_, err = tx.Insert("t", doc(t, `{"v":1}`))
	require.NoError(err)

	nested := tx.Begin()
	_, err = nested.Insert("t", doc(t, `{"v":2}`))
	require.NoError(err)
	nested.Abort()

	cursor, err := tx.Find("t", Document{}, FindOptions{})
	require.NoError(err)
	require.Equal(1, cursor.Len())
	require.Len(tx.Mutations(), 1)

	tx.Abort()
	check := sess.Begin()
	cursor, err = check.Find("t", Document{}, FindOptions{})
	require.NoError(err)
	require.Zero(cursor.Len())
	// only the table declaration of the setup layer
	require.Len(sess.Mutations(), 1)
	require.Equal(SchemaMutationTable, string(sess.Mutations()[0].Table))
}

func TestCreateTable(t *testing.T) {
	require := require.New(t)
	store := newTestStore()
	sess, err := store.BeginSession()
	require.NoError(err)
	defer sess.Abort()
	tx := sess.Begin()

	indices := []Index{{Fields: []string{"symbol"}}, {Name: "account", Fields: []string{"account"}, Unique: true}}
	require.NoError(tx.CreateTable("t", indices, TableOptions{}))
	require.NoError(tx.CreateTable("t", indices, TableOptions{}))
	require.ErrorIs(tx.CreateTable("t", nil, TableOptions{}), ErrSchema)
	require.ErrorIs(tx.CreateTable("t2", []Index{{}}, TableOptions{}), ErrSchema)
	require.ErrorIs(tx.CreateTable("t3", nil, TableOptions{PrimaryKey: []string{IDField}}), ErrSchema)

	// the identical re-declaration is not a state change
	require.Len(tx.Mutations(), 1)
	require.Equal(OpInsert, tx.Mutations()[0].Op)
	require.Equal(SchemaMutationTable, string(tx.Mutations()[0].Table))
	require.Equal("t", string(tx.Mutations()[0].Key))

	schema, err := tx.Schema("t")
	require.NoError(err)
	require.Equal("symbol", schema.Indices[0].Name)

	_, err = tx.Insert("missing", Document{})
	require.ErrorIs(err, ErrTableNotFound)
}

func TestPutContractIsLogged(t *testing.T) {
	require := require.New(t)
	store := newTestStore()
	sess, err := store.BeginSession()
	require.NoError(err)
	defer sess.Abort()

	hash := func(code string) ids.ID {
		tx := sess.Begin()
		defer tx.Abort()
		require.NoError(tx.PutContract(&chain.Contract{Name: "tokens", Owner: "alice", Code: code, Version: 1}))
		require.Len(tx.Mutations(), 1)
		require.Equal(ContractsMutationTable, string(tx.Mutations()[0].Table))
		require.Equal("tokens", string(tx.Mutations()[0].Key))
		h, err := tx.Hash()
		require.NoError(err)
		return h
	}
	require.NotEqual(hash("actions.a = 1;"), hash("actions.b = 1;"))
}

func TestUniqueIndex(t *testing.T) {
	require := require.New(t)
	store := newTestStore()
	sess, err := store.BeginSession()
	require.NoError(err)
	defer sess.Abort()
	tx := sess.Begin()

	require.NoError(tx.CreateTable("accounts", []Index{{Fields: []string{"name"}, Unique: true}}, TableOptions{}))
	alice, err := tx.Insert("accounts", doc(t, `{"name":"alice"}`))
	require.NoError(err)
	bob, err := tx.Insert("accounts", doc(t, `{"name":"bob"}`))
	require.NoError(err)

	_, err = tx.Insert("accounts", doc(t, `{"name":"alice"}`))
	require.ErrorIs(err, ErrConstraintViolation)

	bob["name"] = "alice"
	require.ErrorIs(tx.Update("accounts", bob), ErrConstraintViolation)

	// updating a row without touching the unique value is allowed
	alice["extra"] = true
	require.NoError(tx.Update("accounts", alice))

	require.NoError(tx.Remove("accounts", alice))
	_, err = tx.Insert("accounts", doc(t, `{"name":"alice"}`))
	require.NoError(err)

	require.ErrorIs(tx.Remove("accounts", alice), ErrDocumentNotFound)
}

func TestCompositePrimaryKey(t *testing.T) {
	require := require.New(t)
	store := newTestStore()
	sess, err := store.BeginSession()
	require.NoError(err)
	defer sess.Abort()
	tx := sess.Begin()

	require.NoError(tx.CreateTable("balances", nil, TableOptions{PrimaryKey: []string{"account", "symbol"}}))
	row, err := tx.Insert("balances", doc(t, `{"account":"alice","symbol":"X","balance":"1"}`))
	require.NoError(err)
	require.Equal(map[string]interface{}{"account": "alice", "symbol": "X"}, row[IDField])

	_, err = tx.Insert("balances", doc(t, `{"account":"alice","symbol":"X","balance":"2"}`))
	require.ErrorIs(err, ErrConstraintViolation)
	_, err = tx.Insert("balances", doc(t, `{"account":"alice"}`))
	require.ErrorIs(err, ErrInvalidDocument)

	require.NoError(tx.Update("balances", doc(t, `{"account":"alice","symbol":"X","balance":"3"}`)))
	found, err := tx.FindOne("balances", doc(t, `{"account":"alice","symbol":"X"}`))
	require.NoError(err)
	require.Equal("3", found["balance"])
}

func TestFind(t *testing.T) {
	require := require.New(t)
	store := newTestStore()
	sess, err := store.BeginSession()
	require.NoError(err)
	defer sess.Abort()
	tx := sess.Begin()

	require.NoError(tx.CreateTable("orders", []Index{{Fields: []string{"symbol"}}}, TableOptions{}))
	for _, s := range []string{
		`{"symbol":"X","price":"10","account":"a"}`,
		`{"symbol":"X","price":"9.5","account":"b"}`,
		`{"symbol":"Y","price":"100","account":"c"}`,
		`{"symbol":"X","price":"10","account":"d"}`,
		`{"symbol":"X","price":2,"account":"e","meta":{"tag":"t"}}`,
	} {
		_, err := tx.Insert("orders", doc(t, s))
		require.NoError(err)
	}

	cursor, err := tx.Find("orders", doc(t, `{"symbol":"X"}`), FindOptions{})
	require.NoError(err)
	require.Equal(4, cursor.Len())

	// strings sort after numbers, ties keep insertion order
	cursor, err = tx.Find("orders", doc(t, `{"symbol":"X"}`), FindOptions{Sort: []SortField{{Field: "price", Descending: true}}})
	require.NoError(err)
	accounts := []string{}
	for cursor.Next() {
		accounts = append(accounts, cursor.Document()["account"].(string))
	}
	require.Equal([]string{"b", "a", "d", "e"}, accounts)

	cursor, err = tx.Find("orders", Document{}, FindOptions{Limit: 2, Offset: 1})
	require.NoError(err)
	rows := cursor.All()
	require.Len(rows, 2)
	require.Equal("b", rows[0]["account"])

	cursor, err = tx.Find("orders", doc(t, `{"account":{"$in":["a","c"]}}`), FindOptions{})
	require.NoError(err)
	require.Equal(2, cursor.Len())

	cursor, err = tx.Find("orders", doc(t, `{"price":{"$gt":5}}`), FindOptions{})
	require.NoError(err)
	require.Zero(cursor.Len())

	cursor, err = tx.Find("orders", doc(t, `{"meta.tag":"t"}`), FindOptions{})
	require.NoError(err)
	require.Equal(1, cursor.Len())

	cursor, err = tx.Find("orders", doc(t, `{"$or":[{"account":"a"},{"account":"e"}]}`), FindOptions{})
	require.NoError(err)
	require.Equal(2, cursor.Len())

	_, err = tx.Find("orders", doc(t, `{"price":{"$regex":"1"}}`), FindOptions{})
	require.ErrorIs(err, ErrInvalidQuery)

	missing, err := tx.FindOne("orders", doc(t, `{"account":"z"}`))
	require.NoError(err)
	require.Nil(missing)
}

func TestMutationHashIsDeterministic(t *testing.T) {
	require := require.New(t)

	run := func() ids.ID {
		store := newTestStore()
		sess, err := store.BeginSession()
		require.NoError(err)
		defer sess.Abort()
		tx := sess.Begin()
		require.NoError(tx.CreateTable("t", nil, TableOptions{}))
		row, err := tx.Insert("t", doc(t, `{"b":2,"a":1}`))
		require.NoError(err)
		row["a"] = json.Number("3")
		require.NoError(tx.Update("t", row))
		hash, err := tx.Hash()
		require.NoError(err)
		return hash
	}
	first := run()
	require.Equal(first, run())

	empty, err := hashMutations(nil)
	require.NoError(err)
	require.NotEqual(empty, first)
}

func TestBlocks(t *testing.T) {
	require := require.New(t)
	store := newTestStore()
	sess, err := store.BeginSession()
	require.NoError(err)
	tx := sess.Begin()

	_, err = tx.LastBlock()
	require.ErrorIs(err, database.ErrNotFound)

	genesis := chain.NewBlock(nil, "2018-06-01T00:00:00", 1, "a", "", []*chain.Transaction{chain.NewTransaction(1, "0", "null", "null", "null", "")})
	require.NoError(genesis.Seal())
	require.NoError(tx.PutBlock(genesis))

	skipped := chain.NewBlock(genesis, "", 3, "", "", nil)
	skipped.BlockNumber = 2
	require.ErrorIs(tx.PutBlock(skipped), errBlockOutOfOrder)

	parent := genesis
	for i := uint64(1); i <= 4; i++ {
		blk := chain.NewBlock(parent, "", i+1, "", "", []*chain.Transaction{chain.NewTransaction(i+1, "tx", "alice", "c", "a", "")})
		require.NoError(blk.Seal())
		require.NoError(tx.PutBlock(blk))
		require.NoError(tx.PruneBlocks(2))
		parent = blk
	}
	require.NoError(tx.Commit())
	require.NoError(sess.Commit())

	require.NoError(store.View(func(v *View) error {
		head, err := v.LastBlock()
		require.NoError(err)
		require.Equal(uint64(4), head.BlockNumber)

		for n, kept := range map[uint64]bool{0: true, 1: false, 2: false, 3: true, 4: true} {
			has, err := v.HasBlock(n)
			require.NoError(err)
			require.Equal(kept, has, "block %d", n)
		}
		n, err := v.TransactionBlock("tx")
		require.NoError(err)
		require.Equal(uint64(4), n)
		return nil
	}))
}
