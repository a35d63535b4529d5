// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sandbox

import (
	"encoding/binary"

	"github.com/dop251/goja"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
)

func randSeed(refChainBlockID, txID string) ids.ID {
	return hashing.ComputeHash256Array([]byte(refChainBlockID + "/" + txID))
}

// newRandSource returns a hash chain PRNG: every replica that sees the
// same reference block and transaction draws the same sequence.
func newRandSource(seed ids.ID, depth int) goja.RandSource {
	state := hashing.ComputeHash256Array(append(seed[:], byte(depth)))
	return func() float64 {
		state = hashing.ComputeHash256Array(state[:])
		return float64(binary.BigEndian.Uint64(state[:8])>>11) / (1 << 53)
	}
}
