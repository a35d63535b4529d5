// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package compare checks that two nodes hold the same contract tables.
package compare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	log "github.com/inconshreveable/log15"

	"github.com/sidechain-labs/sscvm/client"
	"github.com/sidechain-labs/sscvm/state"
)

const (
	DefaultPageSize = 1000
	maxConcurrency  = 4
)

// DefaultContracts are the contracts compared when none is given.
var DefaultContracts = []string{"tokens"}

// Mismatch is a row that differs between the two nodes. A nil row is missing
// on that node.
type Mismatch struct {
	Contract  string          `json:"contract"`
	Table     string          `json:"table"`
	ID        interface{}     `json:"id"`
	Local     json.RawMessage `json:"local"`
	Reference json.RawMessage `json:"reference"`
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s:%s at _id %v: %s != %s", m.Contract, m.Table, m.ID, m.Local, m.Reference)
}

// Comparer pages through the tables of [local] and [reference].
type Comparer struct {
	local     client.Client
	reference client.Client
	pageSize  int

	lock       sync.Mutex
	mismatches []Mismatch
}

// New returns a comparer reading pages of [pageSize] rows.
func New(local, reference client.Client, pageSize int) *Comparer {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Comparer{
		local:     local,
		reference: reference,
		pageSize:  pageSize,
	}
}

// Run compares every table of [contracts] and returns the rows that differ.
func (c *Comparer) Run(ctx context.Context, contracts []string) ([]Mismatch, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	for _, name := range contracts {
		name := name
		g.Go(func() error {
			return c.compareContract(ctx, name)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(c.mismatches, func(i, j int) bool {
		a, b := c.mismatches[i], c.mismatches[j]
		if a.Contract != b.Contract {
			return a.Contract < b.Contract
		}
		return a.Table < b.Table
	})
	return c.mismatches, nil
}

func (c *Comparer) compareContract(ctx context.Context, name string) error {
	log.Info("comparing contract", "contract", name)
	contract, err := c.local.GetContract(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to get contract %s: %w", name, err)
	}
	for _, table := range contract.Tables {
		if err := c.compareTable(ctx, name, table); err != nil {
			return err
		}
	}
	return nil
}

func (c *Comparer) compareTable(ctx context.Context, contract, table string) error {
	for offset := 0; ; offset += c.pageSize {
		localRows, err := c.local.Find(ctx, contract, table, nil, c.pageSize, offset, nil)
		if err != nil {
			return err
		}
		referenceRows, err := c.reference.Find(ctx, contract, table, nil, c.pageSize, offset, nil)
		if err != nil {
			return err
		}

		mismatch := false
		for i := 0; i < len(localRows) || i < len(referenceRows); i++ {
			var l, r state.Document
			if i < len(localRows) {
				l = localRows[i]
			}
			if i < len(referenceRows) {
				r = referenceRows[i]
			}
			if equal(l, r) {
				continue
			}
			// rows may have moved while paging, retry both sides by id
			for _, row := range []state.Document{l, r} {
				if row == nil {
					continue
				}
				found, err := c.retry(ctx, contract, table, row[state.IDField])
				if err != nil {
					return err
				}
				mismatch = mismatch || found
			}
		}
		if !mismatch {
			log.Info("compared table", "contract", contract, "table", table, "offset", offset)
		}
		if len(localRows) < c.pageSize && len(referenceRows) < c.pageSize {
			return nil
		}
	}
}

// retry reports whether the row [id] still differs between the nodes.
func (c *Comparer) retry(ctx context.Context, contract, table string, id interface{}) (bool, error) {
	query := map[string]interface{}{state.IDField: id}
	l, err := c.local.FindOne(ctx, contract, table, query)
	if err != nil {
		return false, err
	}
	r, err := c.reference.FindOne(ctx, contract, table, query)
	if err != nil {
		return false, err
	}
	if equal(l, r) {
		return false, nil
	}

	m := Mismatch{Contract: contract, Table: table, ID: id}
	m.Local, _ = json.Marshal(l)
	m.Reference, _ = json.Marshal(r)
	log.Error("mismatch", "contract", contract, "table", table, "id", id, "local", string(m.Local), "reference", string(m.Reference))

	c.lock.Lock()
	defer c.lock.Unlock()

	for _, known := range c.mismatches {
		if known.Contract == contract && known.Table == table && bytes.Equal(known.Local, m.Local) && bytes.Equal(known.Reference, m.Reference) {
			return true, nil
		}
	}
	c.mismatches = append(c.mismatches, m)
	return true, nil
}

func equal(a, b state.Document) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
