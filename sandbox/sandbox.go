// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	lru "github.com/hashicorp/golang-lru"
	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/sidechain-labs/sscvm/chain"
	"github.com/sidechain-labs/sscvm/state"
)

const (
	DefaultTimeout          = 100 * time.Millisecond
	DefaultProgramCacheSize = 256

	// MaxCallDepth bounds nested executeSmartContract calls.
	MaxCallDepth = 8

	// CreateAction is run when a contract is deployed or updated.
	CreateAction = "createSSC"

	maxCallStackSize = 1024
	timestampLayout  = "2006-01-02T15:04:05"
)

var (
	ErrSyntax     = errors.New("contract code is not valid")
	ErrTimeout    = errors.New("contract execution timed out")
	ErrCallDepth  = errors.New("maximum contract call depth exceeded")
	ErrException  = errors.New("contract raised an exception")
	ErrPermission = errors.New("operation not permitted")
)

// Config of the sandbox.
type Config struct {
	// Timeout bounds the wall-clock time of one top-level invocation,
	// nested calls included.
	Timeout          time.Duration `json:"timeout"`
	ProgramCacheSize int           `json:"programCacheSize"`
}

// BlockInfo is the read-only chain metadata exposed to contracts.
type BlockInfo struct {
	BlockNumber         uint64
	RefChainBlockNumber uint64
	RefChainBlockID     string
	PrevRefChainBlockID string
	Timestamp           string
}

// Call is one top-level contract action invocation.
type Call struct {
	Tx            *state.Tx
	Block         BlockInfo
	TransactionID string
	Sender        string
	Contract      *chain.Contract
	Action        string
	// Payload is the JSON encoded argument of the action.
	Payload string
}

// Sandbox runs contract code in isolated interpreters exposing only a
// deterministic host API.
type Sandbox struct {
	timeout  time.Duration
	programs *lru.Cache
}

// New returns a sandbox configured with [cfg].
func New(cfg Config) (*Sandbox, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ProgramCacheSize <= 0 {
		cfg.ProgramCacheSize = DefaultProgramCacheSize
	}
	programs, err := lru.New(cfg.ProgramCacheSize)
	if err != nil {
		return nil, err
	}
	return &Sandbox{
		timeout:  cfg.Timeout,
		programs: programs,
	}, nil
}

// Compile checks that [code] is syntactically valid.
func (s *Sandbox) Compile(name, code string) (*goja.Program, error) {
	prog, err := goja.Compile(name, code, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSyntax, err)
	}
	return prog, nil
}

func (s *Sandbox) program(c *chain.Contract) (*goja.Program, error) {
	if prog, ok := s.programs.Get(c.CodeHash); ok {
		return prog.(*goja.Program), nil
	}
	prog, err := s.Compile(c.Name, c.Code)
	if err != nil {
		return nil, err
	}
	s.programs.Add(c.CodeHash, prog)
	return prog, nil
}

// invocation is shared by a top-level call and every nested call it makes.
type invocation struct {
	ctx      context.Context
	deadline time.Time
	depth    int
	// fault is the first unrecoverable error; once set the enclosing
	// transaction fails even if contract code caught the exception.
	fault error

	block  BlockInfo
	txID   string
	sender string
	seed   ids.ID
}

// Invoke runs [call] and returns the logs it produced. A non-nil error is a
// fault (timeout, exception, host failure) that must fail the whole
// transaction; validation failures are only reported through the logs.
func (s *Sandbox) Invoke(ctx context.Context, call *Call) (*chain.Logs, error) {
	inv := &invocation{
		ctx:      ctx,
		deadline: time.Now().Add(s.timeout),
		block:    call.Block,
		txID:     call.TransactionID,
		sender:   call.Sender,
		seed:     randSeed(call.Block.RefChainBlockID, call.TransactionID),
	}
	logs := &chain.Logs{}
	if err := s.run(inv, call.Tx, call.Contract, call.Action, call.Payload, nil, logs); err != nil {
		return logs, err
	}
	if inv.fault != nil {
		return logs, inv.fault
	}
	return logs, nil
}

func (s *Sandbox) run(inv *invocation, tx *state.Tx, contract *chain.Contract, action, payload string, caller *chain.Contract, logs *chain.Logs) error {
	prog, err := s.program(contract)
	if err != nil {
		return err
	}
	remaining := time.Until(inv.deadline)
	if remaining <= 0 {
		return ErrTimeout
	}

	r := &runner{
		sandbox:  s,
		inv:      inv,
		vm:       goja.New(),
		tx:       tx,
		contract: contract,
		action:   action,
		caller:   caller,
		logs:     logs,
	}
	if err := r.setup(); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	timer := time.AfterFunc(remaining, func() { r.vm.Interrupt(ErrTimeout) })
	defer timer.Stop()
	go func() {
		select {
		case <-inv.ctx.Done():
			r.vm.Interrupt(inv.ctx.Err())
		case <-done:
		}
	}()

	if _, err := r.vm.RunProgram(prog); err != nil {
		return r.fault(err)
	}
	fn, ok := goja.AssertFunction(r.actions.Get(action))
	if !ok {
		logs.AddError("action %s does not exist", action)
		return nil
	}
	arg, err := r.parseJSON(payload)
	if err != nil {
		return r.fault(err)
	}
	if _, err := fn(goja.Undefined(), arg); err != nil {
		return r.fault(err)
	}
	return inv.fault
}

// fault converts an interpreter error into the error reported for the
// transaction.
func (r *runner) fault(err error) error {
	if r.inv.fault != nil {
		return r.inv.fault
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return cause
		}
		return ErrTimeout
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		log.Debug("contract raised an exception", "contract", r.contract.Name, "action", r.action, "error", exception.Error())
		return fmt.Errorf("%w: %s", ErrException, exception.Error())
	}
	return err
}

func parseTimestamp(ts string) time.Time {
	t, err := time.Parse(timestampLayout, ts)
	if err != nil {
		return time.Unix(0, 0).UTC()
	}
	return t.UTC()
}
