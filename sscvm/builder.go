// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sscvm

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/sidechain-labs/sscvm/chain"
	"github.com/sidechain-labs/sscvm/sandbox"
	"github.com/sidechain-labs/sscvm/state"
)

// ProduceBlock executes [batch] on top of the chain head and commits the
// resulting block. It returns a nil block, and no error, when the batch was
// already processed or had nothing to record. Blocks are produced one at a
// time; concurrent calls wait for the in-flight block.
func (vm *VM) ProduceBlock(ctx context.Context, batch *chain.Batch) (*chain.Block, error) {
	if vm.stopping.Load() {
		return nil, ErrStopped
	}
	vm.produceLock.Lock()
	defer vm.produceLock.Unlock()

	if vm.stopping.Load() {
		return nil, ErrStopped
	}
	if !vm.Initialized() {
		return nil, ErrNotInitialized
	}
	if status, haltErr := vm.Status(); status == Halted {
		return nil, fmt.Errorf("%w: %s", ErrHalted, haltErr)
	}

	start := time.Now()
	blk, err := vm.produce(ctx, batch)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		vm.setStatus(Idle)
		return nil, err
	case err != nil:
		vm.halt(err)
		return nil, err
	}
	vm.setStatus(Idle)

	if blk == nil {
		vm.metrics.blocksSkipped.Inc()
		return nil, nil
	}
	vm.metrics.blocksProduced.Inc()
	vm.metrics.blockExecution.Observe(time.Since(start).Seconds())
	log.Info("produced block",
		"blockNumber", blk.BlockNumber,
		"refChainBlockNumber", blk.RefChainBlockNumber,
		"transactions", len(blk.Transactions),
		"virtualTransactions", len(blk.VirtualTransactions),
		"hash", blk.Hash,
		"databaseHash", blk.DatabaseHash,
	)
	return blk, nil
}

func (vm *VM) produce(ctx context.Context, batch *chain.Batch) (*chain.Block, error) {
	vm.setStatus(Assembling)

	parent, err := vm.LastBlock()
	if err != nil {
		return nil, fmt.Errorf("failed to get chain head: %w", err)
	}
	if batch.RefChainBlockNumber <= parent.RefChainBlockNumber {
		log.Warn("skipping already processed reference block",
			"refChainBlockNumber", batch.RefChainBlockNumber,
			"lastRefChainBlockNumber", parent.RefChainBlockNumber,
		)
		return nil, nil
	}
	if batch.Empty() && len(vm.config.Virtual) == 0 && !batch.Replay {
		return nil, nil
	}

	txs := make([]*chain.Transaction, len(batch.Transactions))
	for i, tx := range batch.Transactions {
		txs[i] = tx.Copy()
	}
	blk := chain.NewBlock(parent, batch.Timestamp, batch.RefChainBlockNumber, batch.RefChainBlockID, batch.PrevRefChainBlockID, txs)

	session, err := vm.store.BeginSession()
	if err != nil {
		return nil, err
	}
	defer session.Abort()

	virtual := make([]*chain.Transaction, 0, len(batch.VirtualTransactions)+len(vm.config.Virtual))
	for _, tx := range batch.VirtualTransactions {
		virtual = append(virtual, tx.Copy())
	}
	scheduled, err := vm.scheduled(session, blk)
	if err != nil {
		return nil, err
	}
	virtual = append(virtual, scheduled...)

	if err := vm.execute(ctx, session, blk, virtual); err != nil {
		return nil, err
	}
	if blk.Empty() && !batch.Replay {
		return nil, nil
	}

	vm.setStatus(Hashing)
	if err := blk.Seal(); err != nil {
		return nil, err
	}

	if vm.checker != nil {
		vm.setStatus(CrossChecking)
		if _, err := vm.checker.Check(ctx, blk); err != nil {
			return nil, err
		}
	}

	vm.setStatus(Committing)
	if err := vm.commit(session, blk, nil); err != nil {
		return nil, err
	}
	return blk, nil
}

// scheduled returns the configured maintenance transactions whose contract
// is deployed.
func (vm *VM) scheduled(session *state.Session, blk *chain.Block) ([]*chain.Transaction, error) {
	if len(vm.config.Virtual) == 0 {
		return nil, nil
	}
	layer := session.Begin()
	defer layer.Abort()

	txs := make([]*chain.Transaction, 0, len(vm.config.Virtual))
	for i, v := range vm.config.Virtual {
		exists, err := layer.HasContract(v.Contract)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		txID := fmt.Sprintf("%d-virtual-%d", blk.BlockNumber, i)
		txs = append(txs, chain.NewTransaction(blk.RefChainBlockNumber, txID, chain.NullSender, v.Contract, v.Action, v.Payload))
	}
	return txs, nil
}

// execute runs the transactions of [blk] then [virtual] in order. Virtual
// transactions that neither logged anything nor changed state are not
// recorded in the block.
func (vm *VM) execute(ctx context.Context, session *state.Session, blk *chain.Block, virtual []*chain.Transaction) error {
	vm.setStatus(Executing)

	info := sandbox.BlockInfo{
		BlockNumber:         blk.BlockNumber,
		RefChainBlockNumber: blk.RefChainBlockNumber,
		RefChainBlockID:     blk.RefChainBlockID,
		PrevRefChainBlockID: blk.PrevRefChainBlockID,
		Timestamp:           blk.Timestamp,
	}
	for _, tx := range blk.Transactions {
		if _, err := vm.executeTransaction(ctx, session, info, tx); err != nil {
			return err
		}
	}
	for _, tx := range virtual {
		recorded, err := vm.executeTransaction(ctx, session, info, tx)
		if err != nil {
			return err
		}
		if recorded {
			blk.VirtualTransactions = append(blk.VirtualTransactions, tx)
		}
	}
	return nil
}

// executeTransaction reports whether [tx] left any trace.
func (vm *VM) executeTransaction(ctx context.Context, session *state.Session, info sandbox.BlockInfo, tx *chain.Transaction) (bool, error) {
	if err := vm.processor.Execute(ctx, session, info, tx); err != nil {
		return false, fmt.Errorf("failed to execute transaction %s: %w", tx.TransactionID, err)
	}
	logs, err := tx.ParsedLogs()
	if err != nil {
		return false, err
	}
	if logs.Failed() {
		vm.metrics.transactionsFailed.Inc()
	}
	return !logs.Empty() || tx.DatabaseHash != ids.Empty, nil
}

// commit appends [blk] to the chain and flushes [session].
func (vm *VM) commit(session *state.Session, blk *chain.Block, extra func(*state.Tx) error) error {
	layer := session.Begin()
	if err := layer.PutBlock(blk); err != nil {
		layer.Abort()
		return err
	}
	if vm.config.LightNode {
		if err := layer.PruneBlocks(vm.config.BlocksToKeep); err != nil {
			layer.Abort()
			return fmt.Errorf("failed to prune blocks: %w", err)
		}
	}
	if extra != nil {
		if err := extra(layer); err != nil {
			layer.Abort()
			return err
		}
	}
	if err := layer.Commit(); err != nil {
		return err
	}
	return session.Commit()
}
