// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sscvm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/rpc/v2"

	"github.com/ava-labs/avalanchego/database"

	cjson "github.com/ava-labs/avalanchego/utils/json"

	"github.com/sidechain-labs/sscvm/bus"
	"github.com/sidechain-labs/sscvm/chain"
	"github.com/sidechain-labs/sscvm/state"
)

const (
	BlockchainServiceName = "blockchain"
	ContractsServiceName  = "contracts"
)

var (
	errBlockNotFound       = errors.New("block not found")
	errTransactionNotFound = errors.New("transaction not found")
	errContractNotFound    = errors.New("contract not found")
)

// NewHandler returns the JSON-RPC handler serving the blockchain and
// contracts APIs of [vm]. Blocks submitted through the API are delivered
// over [b].
func NewHandler(vm *VM, b *bus.Bus) (http.Handler, error) {
	server := rpc.NewServer()
	server.RegisterCodec(cjson.NewCodec(), "application/json")
	server.RegisterCodec(cjson.NewCodec(), "application/json;charset=UTF-8")
	if err := server.RegisterService(&BlockchainService{vm: vm, bus: b}, BlockchainServiceName); err != nil {
		return nil, err
	}
	if err := server.RegisterService(&ContractsService{vm: vm}, ContractsServiceName); err != nil {
		return nil, err
	}
	return server, nil
}

// BlockchainService is the API over the chain of blocks.
type BlockchainService struct {
	vm  *VM
	bus *bus.Bus
}

// GetLatestBlockInfo returns the chain head.
func (s *BlockchainService) GetLatestBlockInfo(_ *http.Request, _ *struct{}, reply *chain.Block) error {
	blk, err := s.vm.LastBlock()
	if err != nil {
		return err
	}
	*reply = *blk
	return nil
}

// GetBlockInfo returns the block at [args.BlockNumber].
func (s *BlockchainService) GetBlockInfo(_ *http.Request, args *BlockNumberArgs, reply *chain.Block) error {
	blk, err := s.vm.Block(args.BlockNumber)
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%w: %d", errBlockNotFound, args.BlockNumber)
	}
	if err != nil {
		return err
	}
	*reply = *blk
	return nil
}

// TransactionArgs selects a transaction.
type TransactionArgs struct {
	TxID string `json:"txid"`
}

// TransactionReply is an executed transaction and the block including it.
type TransactionReply struct {
	BlockNumber uint64             `json:"blockNumber"`
	Transaction *chain.Transaction `json:"transaction"`
}

// GetTransactionInfo returns the executed transaction [args.TxID].
func (s *BlockchainService) GetTransactionInfo(_ *http.Request, args *TransactionArgs, reply *TransactionReply) error {
	return s.vm.View(func(v *state.View) error {
		n, err := v.TransactionBlock(args.TxID)
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("%w: %s", errTransactionNotFound, args.TxID)
		}
		if err != nil {
			return err
		}
		blk, err := v.Block(n)
		if err != nil {
			return err
		}
		for _, txs := range [][]*chain.Transaction{blk.Transactions, blk.VirtualTransactions} {
			for _, tx := range txs {
				if tx.TransactionID == args.TxID {
					reply.BlockNumber = n
					reply.Transaction = tx
					return nil
				}
			}
		}
		return fmt.Errorf("%w: %s", errTransactionNotFound, args.TxID)
	})
}

// GetStatus returns the stage of the block builder.
func (s *BlockchainService) GetStatus(_ *http.Request, _ *struct{}, reply *StatusReply) error {
	*reply = *newStatusReply(s.vm)
	return nil
}

// ProduceBlockReply holds the produced block, nil if the batch was skipped.
type ProduceBlockReply struct {
	Block *chain.Block `json:"block"`
}

// ProduceBlockSync hands [args] to the block builder and waits for the
// result.
func (s *BlockchainService) ProduceBlockSync(r *http.Request, args *chain.Batch, reply *ProduceBlockReply) error {
	payload, err := json.Marshal(args)
	if err != nil {
		return err
	}
	res, err := s.bus.Send(r.Context(), &bus.Message{
		From:    BlockchainServiceName,
		To:      PluginName,
		Action:  ProduceBlockSyncAction,
		Payload: payload,
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(res.Payload, &reply.Block)
}

// ContractsService is the API over contract registrations and tables.
type ContractsService struct {
	vm *VM
}

// ContractArgs selects a contract.
type ContractArgs struct {
	Name string `json:"name"`
}

// GetContract returns the registration of contract [args.Name].
func (s *ContractsService) GetContract(_ *http.Request, args *ContractArgs, reply *chain.Contract) error {
	return s.vm.View(func(v *state.View) error {
		c, err := v.Contract(args.Name)
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("%w: %s", errContractNotFound, args.Name)
		}
		if err != nil {
			return err
		}
		*reply = *c
		return nil
	})
}

// FindArgs select rows of a contract table.
type FindArgs struct {
	Contract string            `json:"contract"`
	Table    string            `json:"table"`
	Query    json.RawMessage   `json:"query"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
	Indexes  []state.SortField `json:"indexes"`
}

func (a *FindArgs) query() (state.Document, error) {
	if len(a.Query) == 0 {
		return state.Document{}, nil
	}
	return state.ParseDocument(a.Query)
}

// FindReply holds the matching rows.
type FindReply struct {
	Rows []state.Document `json:"rows"`
}

// Find returns the rows of [args.Table] matching [args.Query].
func (s *ContractsService) Find(_ *http.Request, args *FindArgs, reply *FindReply) error {
	query, err := args.query()
	if err != nil {
		return err
	}
	return s.vm.View(func(v *state.View) error {
		cursor, err := v.Find(chain.TableName(args.Contract, args.Table), query, state.FindOptions{
			Limit:  args.Limit,
			Offset: args.Offset,
			Sort:   args.Indexes,
		})
		if err != nil {
			return err
		}
		reply.Rows = cursor.All()
		if reply.Rows == nil {
			reply.Rows = []state.Document{}
		}
		return nil
	})
}

// FindOneReply holds the first matching row, nil if none matches.
type FindOneReply struct {
	Row state.Document `json:"row"`
}

// FindOne returns the first row of [args.Table] matching [args.Query].
func (s *ContractsService) FindOne(_ *http.Request, args *FindArgs, reply *FindOneReply) error {
	query, err := args.query()
	if err != nil {
		return err
	}
	return s.vm.View(func(v *state.View) error {
		row, err := v.FindOne(chain.TableName(args.Contract, args.Table), query)
		if err != nil {
			return err
		}
		reply.Row = row
		return nil
	})
}
