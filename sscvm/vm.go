// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sscvm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/avalanchego/database"

	"github.com/sidechain-labs/sscvm/chain"
	"github.com/sidechain-labs/sscvm/crosscheck"
	"github.com/sidechain-labs/sscvm/executor"
	"github.com/sidechain-labs/sscvm/genesis"
	"github.com/sidechain-labs/sscvm/sandbox"
	"github.com/sidechain-labs/sscvm/state"
)

const Name = "sscvm"

var (
	ErrHalted          = errors.New("block production halted")
	ErrStopped         = errors.New("vm stopped")
	ErrNotInitialized  = errors.New("vm not initialized")
	errMissingFetcher  = errors.New("hash verification requires a reference node")
	errGenesisMismatch = errors.New("stored genesis block does not match the configured chain")
)

// VirtualTransaction is a maintenance action run by the node itself after
// the transactions of every block.
type VirtualTransaction struct {
	Contract string `json:"contract"`
	Action   string `json:"action"`
	Payload  string `json:"payload"`
}

// Config of the VM.
type Config struct {
	Genesis  genesis.Config  `json:"genesis"`
	Sandbox  sandbox.Config  `json:"sandbox"`
	Executor executor.Config `json:"executor"`

	// EnableHashVerification compares every produced block with the block
	// of a reference node fetched through [Fetcher].
	EnableHashVerification bool               `json:"enableHashVerification"`
	CrossCheck             crosscheck.Config  `json:"crossCheck"`
	Fetcher                crosscheck.Fetcher `json:"-"`

	// LightNode only keeps the last [BlocksToKeep] blocks, and the genesis.
	LightNode    bool   `json:"lightNode"`
	BlocksToKeep uint64 `json:"blocksToKeep"`

	Virtual []VirtualTransaction `json:"virtual"`

	// Registerer receives the VM metrics. A private registry is used if nil.
	Registerer prometheus.Registerer `json:"-"`
}

// VM produces the blocks of the sidechain.
type VM struct {
	config    Config
	store     *state.Store
	processor *executor.Processor
	checker   *crosscheck.Checker
	metrics   *metrics

	// produceLock is held for the whole life of an in-flight block.
	produceLock sync.Mutex
	stopping    atomic.Bool
	closeOnce   sync.Once

	statusLock sync.RWMutex
	status     Status
	haltErr    error
}

// Initialize opens the state persisted in [db] and produces the genesis
// block if it does not exist yet.
func (vm *VM) Initialize(ctx context.Context, cfg Config, db database.Database) error {
	log.Info("initializing sscvm", "chainID", cfg.Genesis.ChainID)

	sb, err := sandbox.New(cfg.Sandbox)
	if err != nil {
		return err
	}
	if cfg.EnableHashVerification {
		if cfg.Fetcher == nil {
			return errMissingFetcher
		}
		vm.checker = crosscheck.NewChecker(cfg.CrossCheck, cfg.Fetcher)
	} else {
		log.Warn("hash verification disabled: trusting local execution")
	}
	registerer := cfg.Registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	vm.metrics, err = newMetrics(Name, registerer)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	// the engine account owns the contracts deployed by the genesis block
	engine := cfg.Genesis.Constants.EngineAccount
	if engine != "" && !contains(cfg.Executor.RootAuthorities, engine) {
		roots := make([]string, 0, len(cfg.Executor.RootAuthorities)+1)
		roots = append(roots, cfg.Executor.RootAuthorities...)
		cfg.Executor.RootAuthorities = append(roots, engine)
	}

	vm.config = cfg
	vm.store = state.New(db)
	vm.processor = executor.New(cfg.Executor, sb)
	if err := vm.initGenesis(ctx); err != nil {
		vm.store = nil
		return err
	}
	return nil
}

// Initialized reports whether Initialize succeeded.
func (vm *VM) Initialized() bool {
	return vm.store != nil
}

func (vm *VM) initGenesis(ctx context.Context) error {
	genesisBlock, err := genesis.Block(vm.config.Genesis)
	if err != nil {
		return fmt.Errorf("failed to build genesis block: %w", err)
	}

	var stored *chain.Block
	err = vm.store.View(func(v *state.View) error {
		var err error
		stored, err = v.Block(0)
		return err
	})
	switch {
	case err == nil:
		if stored.RefChainBlockNumber != genesisBlock.RefChainBlockNumber {
			return fmt.Errorf("%w: stored reference block %d, configured %d",
				errGenesisMismatch, stored.RefChainBlockNumber, genesisBlock.RefChainBlockNumber)
		}
		log.Info("genesis block already initialized", "hash", stored.Hash)
		return nil
	case !errors.Is(err, database.ErrNotFound):
		return fmt.Errorf("failed to get genesis block: %w", err)
	}

	session, err := vm.store.BeginSession()
	if err != nil {
		return err
	}
	defer session.Abort()

	if err := vm.execute(ctx, session, genesisBlock, nil); err != nil {
		return fmt.Errorf("failed to execute genesis block: %w", err)
	}
	if err := genesisBlock.Seal(); err != nil {
		return err
	}
	if err := vm.commit(session, genesisBlock, func(tx *state.Tx) error { return tx.SetInitialized() }); err != nil {
		return fmt.Errorf("failed to commit genesis block: %w", err)
	}
	vm.setStatus(Idle)
	log.Info("produced genesis block",
		"transactions", len(genesisBlock.Transactions),
		"hash", genesisBlock.Hash,
		"databaseHash", genesisBlock.DatabaseHash,
	)
	return nil
}

// Status returns the stage of the block builder, and the error that halted
// it if any.
func (vm *VM) Status() (Status, error) {
	vm.statusLock.RLock()
	defer vm.statusLock.RUnlock()

	return vm.status, vm.haltErr
}

func (vm *VM) setStatus(s Status) {
	vm.statusLock.Lock()
	defer vm.statusLock.Unlock()

	if vm.status != Halted {
		vm.status = s
	}
}

func (vm *VM) halt(err error) {
	vm.statusLock.Lock()
	defer vm.statusLock.Unlock()

	log.Error("halting block production", "error", err)
	vm.status = Halted
	vm.haltErr = err
	vm.metrics.halted.Set(1)
}

// Stop waits for the in-flight block, if any, then closes the store. No
// block is produced after Stop is called. If [ctx] expires first the store
// is still closed once the in-flight block is done.
func (vm *VM) Stop(ctx context.Context) error {
	vm.stopping.Store(true)

	closed := make(chan error, 1)
	go func() {
		vm.produceLock.Lock()
		defer vm.produceLock.Unlock()

		closed <- vm.closeStore()
	}()
	select {
	case err := <-closed:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (vm *VM) closeStore() error {
	var err error
	vm.closeOnce.Do(func() {
		if vm.store == nil {
			return
		}
		log.Info("stopping sscvm")
		err = vm.store.Close()
	})
	return err
}

// LastBlock returns the chain head.
func (vm *VM) LastBlock() (*chain.Block, error) {
	var blk *chain.Block
	err := vm.View(func(v *state.View) error {
		var err error
		blk, err = v.LastBlock()
		return err
	})
	return blk, err
}

// Block returns the block at height [n].
func (vm *VM) Block(n uint64) (*chain.Block, error) {
	var blk *chain.Block
	err := vm.View(func(v *state.View) error {
		var err error
		blk, err = v.Block(n)
		return err
	})
	return blk, err
}

// View runs [fn] against committed state. It never observes the session of
// an in-flight block.
func (vm *VM) View(fn func(v *state.View) error) error {
	if vm.store == nil {
		return ErrNotInitialized
	}
	return vm.store.View(fn)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
