// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sandbox

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dop251/goja"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/utils/hashing"

	"github.com/sidechain-labs/sscvm/chain"
	"github.com/sidechain-labs/sscvm/state"
)

var accountSegmentRegexp = regexp.MustCompile(`^[a-z][a-z0-9-]+[a-z0-9]$`)

// IsValidAccountName reports whether [name] is a valid reference chain
// account name.
func IsValidAccountName(name string) bool {
	if len(name) < 3 || len(name) > 16 {
		return false
	}
	for _, segment := range strings.Split(name, ".") {
		if len(segment) < 3 || !accountSegmentRegexp.MatchString(segment) || strings.Contains(segment, "--") {
			return false
		}
	}
	return true
}

// api builds the only object contract code can use to reach the host.
func (r *runner) api() *goja.Object {
	vm := r.vm
	api := vm.NewObject()

	api.Set("sender", r.inv.sender)
	api.Set("owner", r.contract.Owner)
	api.Set("contractName", r.contract.Name)
	api.Set("contractVersion", r.contract.Version)
	api.Set("blockNumber", r.inv.block.BlockNumber)
	api.Set("refChainBlockNumber", r.inv.block.RefChainBlockNumber)
	api.Set("refChainBlockId", r.inv.block.RefChainBlockID)
	api.Set("prevRefChainBlockId", r.inv.block.PrevRefChainBlockID)
	api.Set("transactionId", r.inv.txID)
	api.Set("timestamp", r.inv.block.Timestamp)
	if r.caller != nil {
		api.Set("callingContractInfo", r.toJS(map[string]interface{}{
			"name":    r.caller.Name,
			"version": r.caller.Version,
		}))
	}

	api.Set("assert", func(call goja.FunctionCall) goja.Value {
		if call.Argument(0).ToBoolean() {
			return vm.ToValue(true)
		}
		msg := ""
		if arg := call.Argument(1); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
			msg = arg.String()
		}
		r.logs.Errors = append(r.logs.Errors, msg)
		return vm.ToValue(false)
	})
	api.Set("emit", func(call goja.FunctionCall) goja.Value {
		r.logs.Events = append(r.logs.Events, chain.Event{
			Contract: r.contract.Name,
			Event:    call.Argument(0).String(),
			Data:     json.RawMessage(r.fromJS(call.Argument(1))),
		})
		return goja.Undefined()
	})
	api.Set("executeSmartContract", func(call goja.FunctionCall) goja.Value {
		return r.executeSmartContract(call.Argument(0).String(), call.Argument(1).String(), call.Argument(2))
	})
	api.Set("isValidAccountName", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(IsValidAccountName(call.Argument(0).String()))
	})
	api.Set("SHA256", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(hex.EncodeToString(hashing.ComputeHash256([]byte(call.Argument(0).String()))))
	})
	api.Set("BigNumber", r.bigNumberConstructor())
	api.Set("db", r.db())

	// random is bound to the interpreter's deterministic Math.random.
	if random, ok := goja.AssertFunction(vm.Get("Math").ToObject(vm).Get("random")); ok {
		api.Set("random", func(goja.FunctionCall) goja.Value {
			v, err := random(goja.Undefined())
			if err != nil {
				r.throw(err)
			}
			return v
		})
	}
	return api
}

func (r *runner) table(name string) string {
	return chain.TableName(r.contract.Name, name)
}

func (r *runner) db() *goja.Object {
	vm := r.vm
	db := vm.NewObject()

	db.Set("createTable", func(call goja.FunctionCall) goja.Value {
		if r.action != CreateAction {
			r.throw(fmt.Errorf("%w: tables can only be created in %s", ErrPermission, CreateAction))
		}
		name := call.Argument(0).String()
		indices, err := parseIndices(r.fromJS(call.Argument(1)))
		if err != nil {
			r.throw(fmt.Errorf("%w: %s", state.ErrSchema, err))
		}
		opts := state.TableOptions{}
		if b := r.fromJS(call.Argument(2)); b != nil {
			if err := json.Unmarshal(b, &opts); err != nil {
				r.throw(fmt.Errorf("%w: %s", state.ErrSchema, err))
			}
		}
		if err := r.tx.CreateTable(r.table(name), indices, opts); err != nil {
			r.throw(err)
		}
		if !r.contract.HasTable(name) {
			r.contract.Tables = append(r.contract.Tables, name)
			if err := r.tx.PutContract(r.contract); err != nil {
				r.throw(err)
			}
		}
		return vm.ToValue(true)
	})
	db.Set("tableExists", func(call goja.FunctionCall) goja.Value {
		exists, err := r.tx.TableExists(r.table(call.Argument(0).String()))
		if err != nil {
			r.throw(err)
		}
		return vm.ToValue(exists)
	})
	db.Set("find", func(call goja.FunctionCall) goja.Value {
		return r.find(r.table(call.Argument(0).String()), call.Argument(1), call.Argument(2), call.Argument(3), call.Argument(4))
	})
	db.Set("findOne", func(call goja.FunctionCall) goja.Value {
		return r.findOne(r.table(call.Argument(0).String()), call.Argument(1))
	})
	db.Set("findInTable", func(call goja.FunctionCall) goja.Value {
		table := chain.TableName(call.Argument(0).String(), call.Argument(1).String())
		return r.find(table, call.Argument(2), call.Argument(3), call.Argument(4), call.Argument(5))
	})
	db.Set("findOneInTable", func(call goja.FunctionCall) goja.Value {
		table := chain.TableName(call.Argument(0).String(), call.Argument(1).String())
		return r.findOne(table, call.Argument(2))
	})
	db.Set("insert", func(call goja.FunctionCall) goja.Value {
		row, err := r.tx.Insert(r.table(call.Argument(0).String()), r.document(call.Argument(1)))
		if err != nil {
			r.throw(err)
		}
		return r.toJS(row)
	})
	db.Set("update", func(call goja.FunctionCall) goja.Value {
		doc := r.document(call.Argument(1))
		for field := range r.document(call.Argument(2)) {
			if field != state.IDField {
				delete(doc, field)
			}
		}
		if err := r.tx.Update(r.table(call.Argument(0).String()), doc); err != nil {
			r.throw(err)
		}
		return r.toJS(doc)
	})
	db.Set("remove", func(call goja.FunctionCall) goja.Value {
		if err := r.tx.Remove(r.table(call.Argument(0).String()), r.document(call.Argument(1))); err != nil {
			r.throw(err)
		}
		return goja.Undefined()
	})
	db.Set("getBlockInfo", func(call goja.FunctionCall) goja.Value {
		blk, err := r.tx.Block(uint64(call.Argument(0).ToInteger()))
		if errors.Is(err, database.ErrNotFound) {
			return goja.Null()
		}
		if err != nil {
			r.throw(err)
		}
		return r.toJS(blk)
	})
	return db
}

func (r *runner) find(table string, query, limit, offset, sort goja.Value) goja.Value {
	cursor, err := r.tx.Find(table, r.document(query), r.findOptions(limit, offset, sort))
	if errors.Is(err, state.ErrTableNotFound) {
		return r.toJS([]state.Document{})
	}
	if err != nil {
		r.throw(err)
	}
	rows := cursor.All()
	if rows == nil {
		rows = []state.Document{}
	}
	return r.toJS(rows)
}

func (r *runner) findOne(table string, query goja.Value) goja.Value {
	row, err := r.tx.FindOne(table, r.document(query))
	if errors.Is(err, state.ErrTableNotFound) {
		return goja.Null()
	}
	if err != nil {
		r.throw(err)
	}
	if row == nil {
		return goja.Null()
	}
	return r.toJS(row)
}
