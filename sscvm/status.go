// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sscvm

// Status is the stage of the block builder.
type Status uint32

const (
	Idle Status = iota
	Assembling
	Executing
	Hashing
	CrossChecking
	Committing
	// Halted is terminal: block production stops until an operator
	// restarts the node.
	Halted
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Assembling:
		return "assembling"
	case Executing:
		return "executing"
	case Hashing:
		return "hashing"
	case CrossChecking:
		return "crossChecking"
	case Committing:
		return "committing"
	case Halted:
		return "halted"
	default:
		return "unknown"
	}
}
