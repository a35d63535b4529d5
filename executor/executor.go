// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package executor

import (
	"context"
	"encoding/json"
	"errors"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"

	"github.com/sidechain-labs/sscvm/chain"
	"github.com/sidechain-labs/sscvm/sandbox"
	"github.com/sidechain-labs/sscvm/state"
)

var (
	ErrUnknownContract = errors.New("unknown contract")
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrReservedAction  = errors.New("action is reserved")
)

// Config of the transaction processor.
type Config struct {
	// RootAuthorities may deploy new contracts.
	RootAuthorities []string `json:"rootAuthorities"`
}

// Processor executes transactions one at a time against a block session.
type Processor struct {
	sandbox         *sandbox.Sandbox
	rootAuthorities map[string]struct{}
}

// New returns a processor running contract code in [sb].
func New(cfg Config, sb *sandbox.Sandbox) *Processor {
	roots := make(map[string]struct{}, len(cfg.RootAuthorities))
	for _, account := range cfg.RootAuthorities {
		roots[account] = struct{}{}
	}
	return &Processor{
		sandbox:         sb,
		rootAuthorities: roots,
	}
}

// Execute runs [tx] in its own layer of [session] and records the outcome
// in [tx]. Transaction failures are only reported through the transaction
// logs and leave the session untouched. A transaction that changed no rows
// gets an empty database hash. A returned error is fatal for the whole
// block.
func (p *Processor) Execute(ctx context.Context, session *state.Session, blk sandbox.BlockInfo, tx *chain.Transaction) error {
	layer := session.Begin()
	logs, err := p.execute(ctx, layer, blk, tx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		layer.Abort()
		return ctxErr
	}
	if err != nil {
		logs.AddError("%s", err)
	}

	databaseHash := ids.Empty
	if logs.Failed() {
		log.Debug("transaction failed",
			"txID", tx.TransactionID,
			"contract", tx.Contract,
			"action", tx.Action,
			"errors", logs.Errors,
		)
		layer.Abort()
		logs.Events = nil
	} else {
		if len(layer.Mutations()) > 0 {
			databaseHash, err = layer.Hash()
			if err != nil {
				layer.Abort()
				return err
			}
		}
		if err := layer.Commit(); err != nil {
			return err
		}
	}
	return tx.SetResult(logs, databaseHash)
}

func (p *Processor) execute(ctx context.Context, layer *state.Tx, blk sandbox.BlockInfo, tx *chain.Transaction) (*chain.Logs, error) {
	if tx.Payload != "" && !json.Valid([]byte(tx.Payload)) {
		return &chain.Logs{}, ErrInvalidPayload
	}
	if tx.IsSystem() && tx.Contract == chain.NullSender {
		// chain markers carry data but run no code
		return &chain.Logs{}, nil
	}
	if tx.Contract == chain.ContractContract {
		return p.executeContractAction(ctx, layer, blk, tx)
	}
	if tx.Action == sandbox.CreateAction {
		return &chain.Logs{}, ErrReservedAction
	}

	contract, err := layer.Contract(tx.Contract)
	if errors.Is(err, database.ErrNotFound) {
		return &chain.Logs{}, ErrUnknownContract
	}
	if err != nil {
		return &chain.Logs{}, err
	}
	return p.sandbox.Invoke(ctx, &sandbox.Call{
		Tx:            layer,
		Block:         blk,
		TransactionID: tx.TransactionID,
		Sender:        tx.Sender,
		Contract:      contract,
		Action:        tx.Action,
		Payload:       tx.Payload,
	})
}
