// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"fmt"

	"github.com/ava-labs/avalanchego/codec"
	"github.com/ava-labs/avalanchego/codec/linearcodec"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
	"github.com/ava-labs/avalanchego/utils/wrappers"
)

const codecVersion = 0

// Op is the kind of a row mutation.
type Op byte

const (
	OpInsert Op = iota + 1
	OpUpdate
	OpRemove
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Mutations of contract registrations and table declarations are logged
// under these names. Contract tables always contain an underscore so they
// cannot collide.
const (
	ContractsMutationTable = "contracts"
	SchemaMutationTable    = "schema"
)

// Mutation is one state delta applied to a table row, a contract
// registration or a table declaration. Doc is the canonical
// encoding of the row after the mutation (or before it, for removals).
type Mutation struct {
	Op    Op     `serialize:"true"`
	Table []byte `serialize:"true"`
	Key   []byte `serialize:"true"`
	Doc   []byte `serialize:"true"`
}

type mutationLog struct {
	Mutations []Mutation `serialize:"true"`
}

var mutationCodec codec.Manager

func init() {
	c := linearcodec.NewDefault()
	mutationCodec = codec.NewDefaultManager()

	errs := wrappers.Errs{}
	errs.Add(mutationCodec.RegisterCodec(codecVersion, c))
	if errs.Errored() {
		panic(errs.Err)
	}
}

// hashMutations digests an ordered list of mutations.
func hashMutations(mutations []Mutation) (ids.ID, error) {
	log := mutationLog{Mutations: mutations}
	if log.Mutations == nil {
		log.Mutations = []Mutation{}
	}
	bytes, err := mutationCodec.Marshal(codecVersion, &log)
	if err != nil {
		return ids.Empty, fmt.Errorf("failed to marshal mutation log: %w", err)
	}
	return hashing.ComputeHash256Array(bytes), nil
}
