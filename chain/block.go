// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
)

var (
	errWrongHeight       = errors.New("block does not follow its parent")
	errWrongPreviousHash = errors.New("block previous hash does not match its parent")
	errWrongHash         = errors.New("block hash does not match its contents")
)

// Block is one committed unit of sequential transaction execution.
type Block struct {
	BlockNumber         uint64 `json:"blockNumber"`
	RefChainBlockNumber uint64 `json:"refChainBlockNumber"`
	RefChainBlockID     string `json:"refChainBlockId"`
	PrevRefChainBlockID string `json:"prevRefChainBlockId"`
	Timestamp           string `json:"timestamp"`

	Transactions        []*Transaction `json:"transactions"`
	VirtualTransactions []*Transaction `json:"virtualTransactions"`

	PreviousBlockNumber  int64  `json:"previousBlockNumber"`
	PreviousHash         ids.ID `json:"previousHash"`
	PreviousDatabaseHash ids.ID `json:"previousDatabaseHash"`
	Hash                 ids.ID `json:"hash"`
	DatabaseHash         ids.ID `json:"databaseHash"`
}

// NewBlock returns an unexecuted block that follows [parent]. A nil parent
// yields a block at height 0.
func NewBlock(parent *Block, timestamp string, refChainBlockNumber uint64, refChainBlockID, prevRefChainBlockID string, txs []*Transaction) *Block {
	blk := &Block{
		RefChainBlockNumber: refChainBlockNumber,
		RefChainBlockID:     refChainBlockID,
		PrevRefChainBlockID: prevRefChainBlockID,
		Timestamp:           timestamp,
		Transactions:        txs,
		VirtualTransactions: []*Transaction{},
		PreviousBlockNumber: -1,
	}
	if parent != nil {
		blk.BlockNumber = parent.BlockNumber + 1
		blk.PreviousBlockNumber = int64(parent.BlockNumber)
		blk.PreviousHash = parent.Hash
		blk.PreviousDatabaseHash = parent.DatabaseHash
	}
	if blk.Transactions == nil {
		blk.Transactions = []*Transaction{}
	}
	return blk
}

// blockPreimage is the codec layout hashed into a block's [Hash].
type blockPreimage struct {
	PreviousHash         ids.ID   `serialize:"true"`
	PreviousDatabaseHash ids.ID   `serialize:"true"`
	BlockNumber          uint64   `serialize:"true"`
	RefChainBlockNumber  uint64   `serialize:"true"`
	RefChainBlockID      []byte   `serialize:"true"`
	PrevRefChainBlockID  []byte   `serialize:"true"`
	Timestamp            []byte   `serialize:"true"`
	Transactions         []ids.ID `serialize:"true"`
	VirtualTransactions  []ids.ID `serialize:"true"`
}

// ComputeHash digests the block header together with the hashes of every
// executed transaction.
func (b *Block) ComputeHash() (ids.ID, error) {
	preimage := &blockPreimage{
		PreviousHash:         b.PreviousHash,
		PreviousDatabaseHash: b.PreviousDatabaseHash,
		BlockNumber:          b.BlockNumber,
		RefChainBlockNumber:  b.RefChainBlockNumber,
		RefChainBlockID:      []byte(b.RefChainBlockID),
		PrevRefChainBlockID:  []byte(b.PrevRefChainBlockID),
		Timestamp:            []byte(b.Timestamp),
		Transactions:         txHashes(b.Transactions),
		VirtualTransactions:  txHashes(b.VirtualTransactions),
	}
	bytes, err := Codec.Marshal(CodecVersion, preimage)
	if err != nil {
		return ids.Empty, fmt.Errorf("failed to marshal block %d: %w", b.BlockNumber, err)
	}
	return hashing.ComputeHash256Array(bytes), nil
}

// Seal computes [DatabaseHash] by folding the per-transaction state deltas in
// execution order, then [Hash].
func (b *Block) Seal() error {
	dbHash := b.PreviousDatabaseHash
	for _, tx := range b.Transactions {
		dbHash = FoldDatabaseHash(dbHash, tx.DatabaseHash)
	}
	for _, tx := range b.VirtualTransactions {
		dbHash = FoldDatabaseHash(dbHash, tx.DatabaseHash)
	}
	b.DatabaseHash = dbHash

	hash, err := b.ComputeHash()
	if err != nil {
		return err
	}
	b.Hash = hash
	return nil
}

// Verify checks that [b] is sealed correctly and follows [parent].
func (b *Block) Verify(parent *Block) error {
	if parent != nil {
		if expectedHeight := parent.BlockNumber + 1; expectedHeight != b.BlockNumber || b.PreviousBlockNumber != int64(parent.BlockNumber) {
			return fmt.Errorf("%w: expected height %d, found %d", errWrongHeight, expectedHeight, b.BlockNumber)
		}
		if b.PreviousHash != parent.Hash || b.PreviousDatabaseHash != parent.DatabaseHash {
			return fmt.Errorf("%w: expected %s, found %s", errWrongPreviousHash, parent.Hash, b.PreviousHash)
		}
	}
	hash, err := b.ComputeHash()
	if err != nil {
		return err
	}
	if hash != b.Hash {
		return fmt.Errorf("%w: expected %s, found %s", errWrongHash, hash, b.Hash)
	}
	return nil
}

// Empty reports whether the block carries no transaction at all.
func (b *Block) Empty() bool {
	return len(b.Transactions) == 0 && len(b.VirtualTransactions) == 0
}

// FoldDatabaseHash chains one transaction's state delta digest into the
// running database hash.
func FoldDatabaseHash(prev, delta ids.ID) ids.ID {
	buf := make([]byte, 0, 2*len(prev))
	buf = append(buf, prev[:]...)
	buf = append(buf, delta[:]...)
	return hashing.ComputeHash256Array(buf)
}

func txHashes(txs []*Transaction) []ids.ID {
	hashes := make([]ids.ID, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash
	}
	return hashes
}
