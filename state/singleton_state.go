// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"encoding/binary"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/utils/wrappers"
)

const (
	IsInitializedKey byte = iota
	LastBlockKey
)

var (
	isInitializedKey = []byte{IsInitializedKey}
	lastBlockKey     = []byte{LastBlockKey}
)

// IsInitialized reports whether the genesis block has been committed.
func (v *views) IsInitialized() (bool, error) {
	return v.singletonDB.Has(isInitializedKey)
}

// LastBlockNumber returns the number of the chain head.
func (v *views) LastBlockNumber() (uint64, error) {
	b, err := v.singletonDB.Get(lastBlockKey)
	if err != nil {
		return 0, err
	}
	if len(b) != wrappers.LongLen {
		return 0, database.ErrNotFound
	}
	return binary.BigEndian.Uint64(b), nil
}

// SetInitialized marks genesis as done.
func (t *Tx) SetInitialized() error {
	return t.singletonDB.Put(isInitializedKey, nil)
}

func (t *Tx) setLastBlockNumber(n uint64) error {
	return t.singletonDB.Put(lastBlockKey, heightKey(n))
}

func heightKey(n uint64) []byte {
	b := make([]byte, wrappers.LongLen)
	binary.BigEndian.PutUint64(b, n)
	return b
}
