// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/ava-labs/avalanchego/database"

	"github.com/sidechain-labs/sscvm/chain"
	"github.com/sidechain-labs/sscvm/state"
)

// runner is one interpreter executing one action of one contract.
type runner struct {
	sandbox  *Sandbox
	inv      *invocation
	vm       *goja.Runtime
	tx       *state.Tx
	contract *chain.Contract
	action   string
	caller   *chain.Contract
	logs     *chain.Logs

	actions   *goja.Object
	parse     goja.Callable
	stringify goja.Callable
}

func (r *runner) setup() error {
	r.vm.SetTimeSource(func() time.Time { return parseTimestamp(r.inv.block.Timestamp) })
	r.vm.SetRandSource(newRandSource(r.inv.seed, r.inv.depth))
	r.vm.SetMaxCallStackSize(maxCallStackSize)

	jsonObj := r.vm.Get("JSON").ToObject(r.vm)
	parse, ok := goja.AssertFunction(jsonObj.Get("parse"))
	if !ok {
		return errors.New("JSON.parse is not available")
	}
	stringify, ok := goja.AssertFunction(jsonObj.Get("stringify"))
	if !ok {
		return errors.New("JSON.stringify is not available")
	}
	r.parse = parse
	r.stringify = stringify

	r.actions = r.vm.NewObject()
	if err := r.vm.Set("actions", r.actions); err != nil {
		return err
	}
	return r.vm.Set("api", r.api())
}

// throw records [err] as the fault of the invocation and raises it inside
// the interpreter.
func (r *runner) throw(err error) {
	if r.inv.fault == nil {
		r.inv.fault = err
	}
	panic(r.vm.NewGoError(err))
}

func (r *runner) parseJSON(s string) (goja.Value, error) {
	if s == "" {
		return r.vm.NewObject(), nil
	}
	return r.parse(goja.Undefined(), r.vm.ToValue(s))
}

// toJS converts a Go value to an interpreter value through its JSON form.
func (r *runner) toJS(v interface{}) goja.Value {
	if v == nil {
		return goja.Null()
	}
	b, err := json.Marshal(v)
	if err != nil {
		r.throw(err)
	}
	out, err := r.parse(goja.Undefined(), r.vm.ToValue(string(b)))
	if err != nil {
		r.throw(err)
	}
	return out
}

// fromJS returns the JSON form of [v], or nil when [v] is undefined or null.
func (r *runner) fromJS(v goja.Value) []byte {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	out, err := r.stringify(goja.Undefined(), v)
	if err != nil {
		r.throw(err)
	}
	if goja.IsUndefined(out) {
		return nil
	}
	return []byte(out.String())
}

func (r *runner) document(v goja.Value) state.Document {
	b := r.fromJS(v)
	if b == nil {
		return state.Document{}
	}
	doc, err := state.ParseDocument(b)
	if err != nil {
		r.throw(fmt.Errorf("%w: %s", state.ErrInvalidDocument, err))
	}
	return doc
}

func (r *runner) findOptions(limit, offset, sort goja.Value) state.FindOptions {
	opts := state.FindOptions{}
	if !goja.IsUndefined(limit) && !goja.IsNull(limit) {
		opts.Limit = int(limit.ToInteger())
	}
	if !goja.IsUndefined(offset) && !goja.IsNull(offset) {
		opts.Offset = int(offset.ToInteger())
	}
	if b := r.fromJS(sort); b != nil {
		if err := json.Unmarshal(b, &opts.Sort); err != nil {
			r.throw(fmt.Errorf("%w: %s", state.ErrInvalidQuery, err))
		}
	}
	return opts
}

// parseIndices accepts both plain field names and
// {name, index, unique} declarations.
func parseIndices(b []byte) ([]state.Index, error) {
	if b == nil {
		return nil, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	indices := make([]state.Index, 0, len(raw))
	for _, item := range raw {
		var field string
		if err := json.Unmarshal(item, &field); err == nil {
			indices = append(indices, state.Index{Name: field, Fields: []string{field}})
			continue
		}
		var decl struct {
			Name   string          `json:"name"`
			Index  json.RawMessage `json:"index"`
			Unique bool            `json:"unique"`
		}
		if err := json.Unmarshal(item, &decl); err != nil {
			return nil, err
		}
		idx := state.Index{Name: decl.Name, Unique: decl.Unique}
		if err := json.Unmarshal(decl.Index, &field); err == nil {
			idx.Fields = []string{field}
		} else if err := json.Unmarshal(decl.Index, &idx.Fields); err != nil {
			return nil, err
		}
		if idx.Name == "" && len(idx.Fields) == 1 {
			idx.Name = idx.Fields[0]
		}
		indices = append(indices, idx)
	}
	return indices, nil
}

// executeSmartContract runs an action of another contract in a nested
// layer. Validation failures of the callee are returned to the caller;
// faults fail the whole transaction.
func (r *runner) executeSmartContract(name, action string, payload goja.Value) goja.Value {
	if r.inv.depth+1 >= MaxCallDepth {
		r.throw(ErrCallDepth)
	}
	result := &chain.Logs{}
	if name == chain.ContractContract || action == CreateAction {
		result.AddError("action %s of contract %s cannot be called by contracts", action, name)
		return r.toJS(result)
	}
	target, err := r.tx.Contract(name)
	if errors.Is(err, database.ErrNotFound) {
		result.AddError("contract %s does not exist", name)
		return r.toJS(result)
	}
	if err != nil {
		r.throw(err)
	}

	args := "{}"
	if b := r.fromJS(payload); b != nil {
		args = string(b)
	}
	nested := r.tx.Begin()
	r.inv.depth++
	err = r.sandbox.run(r.inv, nested, target, action, args, r.contract, result)
	r.inv.depth--
	if err != nil {
		nested.Abort()
		r.throw(err)
	}
	if result.Failed() {
		nested.Abort()
		return r.toJS(result)
	}
	if err := nested.Commit(); err != nil {
		r.throw(err)
	}
	r.logs.Events = append(r.logs.Events, result.Events...)
	return r.toJS(result)
}
