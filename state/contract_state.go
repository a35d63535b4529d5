// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"encoding/json"
	"fmt"

	"github.com/sidechain-labs/sscvm/chain"
)

// Contract returns the registration of contract [name].
func (v *views) Contract(name string) (*chain.Contract, error) {
	b, err := v.contractDB.Get([]byte(name))
	if err != nil {
		return nil, err
	}
	c := &chain.Contract{}
	if err := json.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("failed to parse contract %s: %w", name, err)
	}
	return c, nil
}

// HasContract reports whether contract [name] is registered.
func (v *views) HasContract(name string) (bool, error) {
	return v.contractDB.Has([]byte(name))
}

// PutContract creates or replaces the registration of [c].
func (t *Tx) PutContract(c *chain.Contract) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal contract %s: %w", c.Name, err)
	}
	if err := t.contractDB.Put([]byte(c.Name), b); err != nil {
		return fmt.Errorf("failed to put contract %s: %w", c.Name, err)
	}
	t.mutations = append(t.mutations, Mutation{Op: OpUpdate, Table: []byte(ContractsMutationTable), Key: []byte(c.Name), Doc: b})
	return nil
}
