// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package executor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/ava-labs/avalanchego/utils/hashing"

	"github.com/sidechain-labs/sscvm/chain"
	"github.com/sidechain-labs/sscvm/sandbox"
	"github.com/sidechain-labs/sscvm/state"
)

// Actions of the built-in contract contract.
const (
	DeployAction = "deploy"
	UpdateAction = "update"
)

// ContractPayload is the payload of deploy and update transactions.
type ContractPayload struct {
	Name string `json:"name"`
	// Code is the base64 encoded contract source.
	Code string `json:"code"`
}

// ContractEvent is emitted when a registration changes.
type ContractEvent struct {
	Name    string `json:"name"`
	Owner   string `json:"owner"`
	Version uint32 `json:"version"`
}

func (p *Processor) executeContractAction(ctx context.Context, layer *state.Tx, blk sandbox.BlockInfo, tx *chain.Transaction) (*chain.Logs, error) {
	logs := &chain.Logs{}
	payload := ContractPayload{}
	if err := json.Unmarshal([]byte(tx.Payload), &payload); err != nil {
		return logs, ErrInvalidPayload
	}

	var (
		contract *chain.Contract
		ok       bool
	)
	switch tx.Action {
	case DeployAction:
		contract, ok = p.verifyDeploy(layer, blk, tx, &payload, logs)
	case UpdateAction:
		contract, ok = p.verifyUpdate(layer, blk, tx, &payload, logs)
	default:
		logs.AddError("action %s does not exist", tx.Action)
		return logs, nil
	}
	if !ok {
		return logs, nil
	}

	if err := layer.PutContract(contract); err != nil {
		return logs, err
	}
	created, err := p.sandbox.Invoke(ctx, &sandbox.Call{
		Tx:            layer,
		Block:         blk,
		TransactionID: tx.TransactionID,
		Sender:        tx.Sender,
		Contract:      contract,
		Action:        sandbox.CreateAction,
		Payload:       "{}",
	})
	logs.Errors = append(logs.Errors, created.Errors...)
	logs.Events = append(logs.Events, created.Events...)
	if err != nil || logs.Failed() {
		return logs, err
	}

	data, err := json.Marshal(&ContractEvent{
		Name:    contract.Name,
		Owner:   contract.Owner,
		Version: contract.Version,
	})
	if err != nil {
		return logs, err
	}
	logs.Events = append(logs.Events, chain.Event{
		Contract: chain.ContractContract,
		Event:    tx.Action,
		Data:     data,
	})
	return logs, nil
}

// verifyDeploy returns the registration created by a valid deploy.
func (p *Processor) verifyDeploy(layer *state.Tx, blk sandbox.BlockInfo, tx *chain.Transaction, payload *ContractPayload, logs *chain.Logs) (*chain.Contract, bool) {
	if !chain.IsValidContractName(payload.Name) {
		logs.AddError("invalid contract name %q", payload.Name)
		return nil, false
	}
	if _, root := p.rootAuthorities[tx.Sender]; !root && !tx.IsSystem() {
		logs.AddError("account %s is not allowed to deploy contracts", tx.Sender)
		return nil, false
	}
	exists, err := layer.HasContract(payload.Name)
	if err != nil {
		logs.AddError("%s", err)
		return nil, false
	}
	if exists {
		logs.AddError("contract %s already exists", payload.Name)
		return nil, false
	}
	code, ok := p.decodeCode(payload, logs)
	if !ok {
		return nil, false
	}
	return &chain.Contract{
		Name:            payload.Name,
		Owner:           tx.Sender,
		Code:            code,
		CodeHash:        hashing.ComputeHash256Array([]byte(code)),
		Version:         1,
		DeployedAtBlock: blk.BlockNumber,
		UpdatedAtBlock:  blk.BlockNumber,
	}, true
}

// verifyUpdate returns the registration replaced by a valid update.
func (p *Processor) verifyUpdate(layer *state.Tx, blk sandbox.BlockInfo, tx *chain.Transaction, payload *ContractPayload, logs *chain.Logs) (*chain.Contract, bool) {
	exists, err := layer.HasContract(payload.Name)
	if err != nil {
		logs.AddError("%s", err)
		return nil, false
	}
	if !exists {
		logs.AddError("contract %s does not exist", payload.Name)
		return nil, false
	}
	contract, err := layer.Contract(payload.Name)
	if err != nil {
		logs.AddError("%s", err)
		return nil, false
	}
	if contract.Owner != tx.Sender {
		logs.AddError("only the owner of contract %s can update it", payload.Name)
		return nil, false
	}
	code, ok := p.decodeCode(payload, logs)
	if !ok {
		return nil, false
	}
	contract.Code = code
	contract.CodeHash = hashing.ComputeHash256Array([]byte(code))
	contract.Version++
	contract.UpdatedAtBlock = blk.BlockNumber
	return contract, true
}

func (p *Processor) decodeCode(payload *ContractPayload, logs *chain.Logs) (string, bool) {
	raw, err := base64.StdEncoding.DecodeString(payload.Code)
	if err != nil {
		logs.AddError("contract code is not base64 encoded")
		return "", false
	}
	code := string(raw)
	if _, err := p.sandbox.Compile(payload.Name, code); err != nil {
		logs.AddError("%s", fmt.Errorf("contract %s: %w", payload.Name, err))
		return "", false
	}
	return code, true
}
