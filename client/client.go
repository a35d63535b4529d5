// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package client

import (
	"context"
	"encoding/json"

	"github.com/ava-labs/avalanchego/utils/rpc"

	"github.com/sidechain-labs/sscvm/chain"
	"github.com/sidechain-labs/sscvm/crosscheck"
	"github.com/sidechain-labs/sscvm/sscvm"
	"github.com/sidechain-labs/sscvm/state"
)

var _ crosscheck.Fetcher = (*client)(nil)

// Client defines sscvm client operations.
type Client interface {
	// GetLatestBlockInfo fetches the chain head
	GetLatestBlockInfo(ctx context.Context) (*chain.Block, error)

	// GetBlockInfo fetches the block at [blockNumber]
	GetBlockInfo(ctx context.Context, blockNumber uint64) (*chain.Block, error)

	// GetTransactionInfo fetches an executed transaction and the number of
	// the block including it
	GetTransactionInfo(ctx context.Context, txID string) (*chain.Transaction, uint64, error)

	// GetContract fetches a contract registration
	GetContract(ctx context.Context, name string) (*chain.Contract, error)

	// Find fetches rows of a contract table
	Find(ctx context.Context, contract, table string, query interface{}, limit, offset int, indexes []state.SortField) ([]state.Document, error)

	// FindOne fetches the first matching row of a contract table
	FindOne(ctx context.Context, contract, table string, query interface{}) (state.Document, error)

	// ProduceBlockSync submits a batch and waits for the produced block
	ProduceBlockSync(ctx context.Context, batch *chain.Batch) (*chain.Block, error)
}

// New creates a new client object for the node serving JSON-RPC at [uri].
func New(uri string) Client {
	req := rpc.NewEndpointRequester(uri)
	return &client{req: req}
}

type client struct {
	req rpc.EndpointRequester
}

func (cli *client) GetLatestBlockInfo(ctx context.Context) (*chain.Block, error) {
	resp := new(chain.Block)
	err := cli.req.SendRequest(ctx,
		"blockchain.getLatestBlockInfo",
		&struct{}{},
		resp,
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (cli *client) GetBlockInfo(ctx context.Context, blockNumber uint64) (*chain.Block, error) {
	resp := new(chain.Block)
	err := cli.req.SendRequest(ctx,
		"blockchain.getBlockInfo",
		&sscvm.BlockNumberArgs{BlockNumber: blockNumber},
		resp,
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (cli *client) GetTransactionInfo(ctx context.Context, txID string) (*chain.Transaction, uint64, error) {
	resp := new(sscvm.TransactionReply)
	err := cli.req.SendRequest(ctx,
		"blockchain.getTransactionInfo",
		&sscvm.TransactionArgs{TxID: txID},
		resp,
	)
	if err != nil {
		return nil, 0, err
	}
	return resp.Transaction, resp.BlockNumber, nil
}

func (cli *client) GetContract(ctx context.Context, name string) (*chain.Contract, error) {
	resp := new(chain.Contract)
	err := cli.req.SendRequest(ctx,
		"contracts.getContract",
		&sscvm.ContractArgs{Name: name},
		resp,
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (cli *client) findArgs(contract, table string, query interface{}) (*sscvm.FindArgs, error) {
	args := &sscvm.FindArgs{
		Contract: contract,
		Table:    table,
	}
	if query != nil {
		b, err := json.Marshal(query)
		if err != nil {
			return nil, err
		}
		args.Query = b
	}
	return args, nil
}

func (cli *client) Find(ctx context.Context, contract, table string, query interface{}, limit, offset int, indexes []state.SortField) ([]state.Document, error) {
	args, err := cli.findArgs(contract, table, query)
	if err != nil {
		return nil, err
	}
	args.Limit = limit
	args.Offset = offset
	args.Indexes = indexes

	resp := new(sscvm.FindReply)
	if err := cli.req.SendRequest(ctx, "contracts.find", args, resp); err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

func (cli *client) FindOne(ctx context.Context, contract, table string, query interface{}) (state.Document, error) {
	args, err := cli.findArgs(contract, table, query)
	if err != nil {
		return nil, err
	}
	resp := new(sscvm.FindOneReply)
	if err := cli.req.SendRequest(ctx, "contracts.findOne", args, resp); err != nil {
		return nil, err
	}
	return resp.Row, nil
}

func (cli *client) ProduceBlockSync(ctx context.Context, batch *chain.Batch) (*chain.Block, error) {
	resp := new(sscvm.ProduceBlockReply)
	err := cli.req.SendRequest(ctx,
		"blockchain.produceBlockSync",
		batch,
		resp,
	)
	if err != nil {
		return nil, err
	}
	return resp.Block, nil
}
