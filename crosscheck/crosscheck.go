// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package crosscheck compares locally produced blocks with the blocks of a
// reference node.
package crosscheck

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/sidechain-labs/sscvm/chain"
)

var (
	ErrMismatch    = errors.New("block does not match the reference node")
	ErrUnavailable = errors.New("reference block unavailable")
)

// Diff is one field that differs between two blocks.
type Diff struct {
	Field     string `json:"field"`
	Local     string `json:"local"`
	Reference string `json:"reference"`
}

func (d Diff) String() string {
	return fmt.Sprintf("%s: local %s, reference %s", d.Field, d.Local, d.Reference)
}

// Result of comparing two blocks.
type Result struct {
	Match bool   `json:"match"`
	Diffs []Diff `json:"diffs,omitempty"`
}

func (r Result) String() string {
	if r.Match {
		return "match"
	}
	diffs := make([]string, len(r.Diffs))
	for i, d := range r.Diffs {
		diffs[i] = d.String()
	}
	return strings.Join(diffs, "; ")
}

// Compare reports every consensus relevant field on which [local] and
// [reference] disagree.
func Compare(local, reference *chain.Block) Result {
	var diffs []Diff
	if local.BlockNumber != reference.BlockNumber {
		diffs = append(diffs, Diff{
			Field:     "blockNumber",
			Local:     fmt.Sprint(local.BlockNumber),
			Reference: fmt.Sprint(reference.BlockNumber),
		})
	}
	if local.Hash != reference.Hash {
		diffs = append(diffs, Diff{
			Field:     "hash",
			Local:     local.Hash.String(),
			Reference: reference.Hash.String(),
		})
	}
	if local.DatabaseHash != reference.DatabaseHash {
		diffs = append(diffs, Diff{
			Field:     "databaseHash",
			Local:     local.DatabaseHash.String(),
			Reference: reference.DatabaseHash.String(),
		})
	}
	return Result{Match: len(diffs) == 0, Diffs: diffs}
}

// Fetcher retrieves blocks from a reference node.
type Fetcher interface {
	GetBlockInfo(ctx context.Context, blockNumber uint64) (*chain.Block, error)
}

// Config of a Checker.
type Config struct {
	Timeout time.Duration `json:"timeout"`
	// Strict makes an unreachable reference node fatal instead of skipping
	// the comparison.
	Strict bool `json:"strict"`
}

// Checker verifies produced blocks against a reference node.
type Checker struct {
	fetcher Fetcher
	config  Config
}

// NewChecker returns a checker fetching reference blocks through [fetcher].
func NewChecker(cfg Config, fetcher Fetcher) *Checker {
	return &Checker{
		fetcher: fetcher,
		config:  cfg,
	}
}

// Check compares [blk] with the reference block at the same height. It
// returns ErrMismatch on divergence, and ErrUnavailable if the reference
// block cannot be fetched and the checker is strict.
func (c *Checker) Check(ctx context.Context, blk *chain.Block) (Result, error) {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	reference, err := c.fetcher.GetBlockInfo(ctx, blk.BlockNumber)
	if err == nil && reference == nil {
		err = fmt.Errorf("block %d not found", blk.BlockNumber)
	}
	if err != nil {
		if c.config.Strict {
			return Result{}, fmt.Errorf("%w: %s", ErrUnavailable, err)
		}
		log.Warn("skipping block verification", "blockNumber", blk.BlockNumber, "error", err)
		return Result{Match: true}, nil
	}

	result := Compare(blk, reference)
	if !result.Match {
		log.Error("block mismatch",
			"blockNumber", blk.BlockNumber,
			"diffs", result.String(),
		)
		return result, fmt.Errorf("%w: block %d: %s", ErrMismatch, blk.BlockNumber, result)
	}
	log.Info("block verified", "blockNumber", blk.BlockNumber, "hash", blk.Hash)
	return result, nil
}
