// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"regexp"

	"github.com/ava-labs/avalanchego/ids"
)

// ContractContract is the reserved name of the system contract that deploys
// and updates contract registrations.
const ContractContract = "contract"

var contractNameRegexp = regexp.MustCompile(`^[a-zA-Z0-9_]{3,50}$`)

// Contract is a registered unit of executable contract code.
type Contract struct {
	Name            string   `json:"name"`
	Owner           string   `json:"owner"`
	Code            string   `json:"code"`
	CodeHash        ids.ID   `json:"codeHash"`
	Version         uint32   `json:"version"`
	DeployedAtBlock uint64   `json:"deployedAtBlock"`
	UpdatedAtBlock  uint64   `json:"updatedAtBlock"`
	Tables          []string `json:"tables"`
}

// IsValidContractName reports whether [name] may be registered.
func IsValidContractName(name string) bool {
	return contractNameRegexp.MatchString(name) && name != ContractContract && name != NullSender
}

// HasTable reports whether the contract declared [table].
func (c *Contract) HasTable(table string) bool {
	for _, t := range c.Tables {
		if t == table {
			return true
		}
	}
	return false
}

// TableName returns the store name of [table] owned by [contract].
func TableName(contract, table string) string {
	return contract + "_" + table
}
