// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sscvm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/avalanchego/database"

	"github.com/sidechain-labs/sscvm/bus"
	"github.com/sidechain-labs/sscvm/chain"
)

// PluginName is the bus address of the block builder.
const PluginName = "blockchain"

// Plugin actions.
const (
	ProduceBlockSyncAction = "produceBlockSync"
	// ProduceNewBlockSyncAction is accepted as an alias of
	// ProduceBlockSyncAction for feeders using the older name.
	ProduceNewBlockSyncAction = "produceNewBlockSync"
	GetLatestBlockInfoAction  = "getLatestBlockInfo"
	GetBlockInfoAction        = "getBlockInfo"
	GetStatusAction           = "getStatus"
)

var (
	errUnknownAction = errors.New("unknown action")
	errMissingDB     = errors.New("plugin has no database to initialize the vm with")
)

// BlockNumberArgs selects a block.
type BlockNumberArgs struct {
	BlockNumber uint64 `json:"blockNumber"`
}

// StatusReply describes the block builder.
type StatusReply struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Plugin serves the VM on the bus.
type Plugin struct {
	vm *VM
	db database.Database
	// defaults holds the settings the init message cannot carry (reference
	// node fetcher, metrics registerer) and the values of omitted keys.
	defaults Config
}

// NewPlugin returns the bus handler of [vm]. The init action initializes
// [vm] over [db], starting from [defaults]. [db] may be nil when [vm] is
// initialized by the caller.
func NewPlugin(vm *VM, db database.Database, defaults Config) *Plugin {
	return &Plugin{
		vm:       vm,
		db:       db,
		defaults: defaults,
	}
}

// initialize initializes the VM with the JSON encoded Config of [payload].
// It is a no-op once the VM is initialized.
func (p *Plugin) initialize(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	if p.vm.Initialized() {
		log.Debug("vm already initialized")
		return marshal(newStatusReply(p.vm))
	}
	if p.db == nil {
		return nil, errMissingDB
	}
	cfg := p.defaults
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := p.vm.Initialize(ctx, cfg, p.db); err != nil {
		return nil, err
	}
	return marshal(newStatusReply(p.vm))
}

// HandleMessage implements bus.Handler.
func (p *Plugin) HandleMessage(ctx context.Context, msg *bus.Message) (json.RawMessage, error) {
	switch msg.Action {
	case bus.InitAction:
		return p.initialize(ctx, msg.Payload)
	case GetStatusAction:
		return marshal(newStatusReply(p.vm))
	case bus.StopAction:
		return nil, p.vm.Stop(ctx)
	case ProduceBlockSyncAction, ProduceNewBlockSyncAction:
		batch := &chain.Batch{}
		if err := json.Unmarshal(msg.Payload, batch); err != nil {
			return nil, fmt.Errorf("failed to parse batch: %w", err)
		}
		blk, err := p.vm.ProduceBlock(ctx, batch)
		if err != nil {
			return nil, err
		}
		return marshal(blk)
	case GetLatestBlockInfoAction:
		blk, err := p.vm.LastBlock()
		if err != nil {
			return nil, err
		}
		return marshal(blk)
	case GetBlockInfoAction:
		args := &BlockNumberArgs{}
		if err := json.Unmarshal(msg.Payload, args); err != nil {
			return nil, err
		}
		blk, err := p.vm.Block(args.BlockNumber)
		if err != nil {
			return nil, err
		}
		return marshal(blk)
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownAction, msg.Action)
	}
}

func newStatusReply(vm *VM) *StatusReply {
	status, err := vm.Status()
	reply := &StatusReply{Status: status.String()}
	if err != nil {
		reply.Error = err.Error()
	}
	return reply
}

func marshal(v interface{}) (json.RawMessage, error) {
	return json.Marshal(v)
}
