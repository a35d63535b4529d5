// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"encoding/json"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
)

// NullSender is the sender and contract name used by system-originated
// transactions (genesis, scheduled maintenance).
const NullSender = "null"

// Event is emitted by contract code and attached to the originating
// transaction's logs.
type Event struct {
	Contract string          `json:"contract"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Logs are the outcome of executing a transaction.
type Logs struct {
	Errors []string `json:"errors,omitempty"`
	Events []Event  `json:"events,omitempty"`
}

// Failed reports whether any error was recorded.
func (l *Logs) Failed() bool { return len(l.Errors) > 0 }

// Empty reports whether nothing at all was recorded.
func (l *Logs) Empty() bool { return len(l.Errors) == 0 && len(l.Events) == 0 }

// AddError records a transaction-local failure.
func (l *Logs) AddError(format string, args ...interface{}) {
	l.Errors = append(l.Errors, fmt.Sprintf(format, args...))
}

// Transaction invokes [Action] of [Contract] with [Payload] on behalf of [Sender].
type Transaction struct {
	RefChainBlockNumber uint64 `json:"refChainBlockNumber"`
	TransactionID       string `json:"transactionId"`
	Sender              string `json:"sender"`
	Contract            string `json:"contract"`
	Action              string `json:"action"`
	Payload             string `json:"payload"`

	// Set once the transaction has been executed
	Hash         ids.ID `json:"hash"`
	DatabaseHash ids.ID `json:"databaseHash"`
	Logs         string `json:"logs"`
}

// NewTransaction returns an unexecuted transaction.
func NewTransaction(refChainBlockNumber uint64, txID, sender, contract, action, payload string) *Transaction {
	return &Transaction{
		RefChainBlockNumber: refChainBlockNumber,
		TransactionID:       txID,
		Sender:              sender,
		Contract:            contract,
		Action:              action,
		Payload:             payload,
	}
}

// IsSystem reports whether the transaction was injected by the node itself
// rather than signed by an external account.
func (tx *Transaction) IsSystem() bool { return tx.Sender == NullSender }

// txPreimage is the codec layout hashed into a transaction's [Hash].
type txPreimage struct {
	RefChainBlockNumber uint64 `serialize:"true"`
	TransactionID       []byte `serialize:"true"`
	Sender              []byte `serialize:"true"`
	Contract            []byte `serialize:"true"`
	Action              []byte `serialize:"true"`
	Payload             []byte `serialize:"true"`
	Logs                []byte `serialize:"true"`
	DatabaseHash        ids.ID `serialize:"true"`
}

// SetResult stores the execution outcome and seals the transaction hash.
func (tx *Transaction) SetResult(logs *Logs, databaseHash ids.ID) error {
	logBytes, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("failed to marshal logs of transaction %s: %w", tx.TransactionID, err)
	}
	tx.Logs = string(logBytes)
	tx.DatabaseHash = databaseHash

	bytes, err := Codec.Marshal(CodecVersion, &txPreimage{
		RefChainBlockNumber: tx.RefChainBlockNumber,
		TransactionID:       []byte(tx.TransactionID),
		Sender:              []byte(tx.Sender),
		Contract:            []byte(tx.Contract),
		Action:              []byte(tx.Action),
		Payload:             []byte(tx.Payload),
		Logs:                logBytes,
		DatabaseHash:        databaseHash,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal transaction %s: %w", tx.TransactionID, err)
	}
	tx.Hash = hashing.ComputeHash256Array(bytes)
	return nil
}

// ParsedLogs decodes [Logs].
func (tx *Transaction) ParsedLogs() (*Logs, error) {
	logs := &Logs{}
	if tx.Logs == "" {
		return logs, nil
	}
	if err := json.Unmarshal([]byte(tx.Logs), logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// Copy returns an unexecuted copy of the transaction.
func (tx *Transaction) Copy() *Transaction {
	return NewTransaction(tx.RefChainBlockNumber, tx.TransactionID, tx.Sender, tx.Contract, tx.Action, tx.Payload)
}
