// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

// Batch is an ordered set of transactions parsed from one reference-chain
// block, handed over by the streaming collaborator.
type Batch struct {
	RefChainBlockNumber uint64         `json:"refChainBlockNumber"`
	RefChainBlockID     string         `json:"refChainBlockId"`
	PrevRefChainBlockID string         `json:"prevRefChainBlockId"`
	Timestamp           string         `json:"timestamp"`
	Transactions        []*Transaction `json:"transactions"`
	VirtualTransactions []*Transaction `json:"virtualTransactions"`

	// Replay forces block production even with empty transaction lists.
	Replay bool `json:"replay"`
}

// Empty reports whether the batch carries nothing to execute.
func (b *Batch) Empty() bool {
	return len(b.Transactions) == 0 && len(b.VirtualTransactions) == 0
}
