// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/utils/wrappers"

	"github.com/sidechain-labs/sscvm/chain"
)

var errBlockOutOfOrder = errors.New("block does not extend the chain head")

// Block returns the block at height [n].
func (v *views) Block(n uint64) (*chain.Block, error) {
	blkBytes, err := v.blockDB.Get(heightKey(n))
	if err != nil {
		return nil, err
	}
	blk := &chain.Block{}
	if err := json.Unmarshal(blkBytes, blk); err != nil {
		return nil, fmt.Errorf("failed to parse block %d from disk: %w", n, err)
	}
	return blk, nil
}

// HasBlock reports whether the block at height [n] is stored.
func (v *views) HasBlock(n uint64) (bool, error) {
	return v.blockDB.Has(heightKey(n))
}

// LastBlock returns the chain head.
func (v *views) LastBlock() (*chain.Block, error) {
	n, err := v.LastBlockNumber()
	if err != nil {
		return nil, err
	}
	return v.Block(n)
}

// TransactionBlock returns the number of the block that includes [txID].
func (v *views) TransactionBlock(txID string) (uint64, error) {
	b, err := v.txIndexDB.Get([]byte(txID))
	if err != nil {
		return 0, err
	}
	if len(b) != wrappers.LongLen {
		return 0, database.ErrNotFound
	}
	return binary.BigEndian.Uint64(b), nil
}

// PutBlock appends [blk] to the chain and makes it the new head. Blocks are
// never rewritten once stored.
func (t *Tx) PutBlock(blk *chain.Block) error {
	last, err := t.LastBlockNumber()
	switch {
	case errors.Is(err, database.ErrNotFound):
		if blk.BlockNumber != 0 {
			return fmt.Errorf("%w: expected genesis, found %d", errBlockOutOfOrder, blk.BlockNumber)
		}
	case err != nil:
		return fmt.Errorf("failed to get chain head: %w", err)
	case blk.BlockNumber != last+1:
		return fmt.Errorf("%w: expected %d, found %d", errBlockOutOfOrder, last+1, blk.BlockNumber)
	}

	bytes, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("failed to marshal block %d: %w", blk.BlockNumber, err)
	}
	key := heightKey(blk.BlockNumber)
	if err := t.blockDB.Put(key, bytes); err != nil {
		return fmt.Errorf("failed to put block %d into block index: %w", blk.BlockNumber, err)
	}
	for _, txs := range [][]*chain.Transaction{blk.Transactions, blk.VirtualTransactions} {
		for _, tx := range txs {
			if tx.TransactionID == "" {
				continue
			}
			if err := t.txIndexDB.Put([]byte(tx.TransactionID), key); err != nil {
				return fmt.Errorf("failed to index transaction %s: %w", tx.TransactionID, err)
			}
		}
	}
	if err := t.setLastBlockNumber(blk.BlockNumber); err != nil {
		return fmt.Errorf("failed to update chain head to %d: %w", blk.BlockNumber, err)
	}
	return nil
}

// PruneBlocks removes the block that falls out of a window of [keep] blocks
// behind the head. The genesis block is always kept.
func (t *Tx) PruneBlocks(keep uint64) error {
	last, err := t.LastBlockNumber()
	if err != nil {
		return err
	}
	if keep == 0 || last <= keep {
		return nil
	}
	n := last - keep
	if n == 0 {
		return nil
	}
	blk, err := t.Block(n)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return nil
	case err != nil:
		return err
	}
	for _, txs := range [][]*chain.Transaction{blk.Transactions, blk.VirtualTransactions} {
		for _, tx := range txs {
			if tx.TransactionID == "" {
				continue
			}
			included, err := t.TransactionBlock(tx.TransactionID)
			if err != nil || included != blk.BlockNumber {
				// re-used ids point at the newest block including them
				continue
			}
			if err := t.txIndexDB.Delete([]byte(tx.TransactionID)); err != nil {
				return err
			}
		}
	}
	return t.blockDB.Delete(heightKey(n))
}
