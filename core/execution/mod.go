// Package execution defines the primitives to execute a transaction against a
// view of the state of the world.
//
// The service is the binding to the virtual machine: it must be a pure
// function of the answers of the snapshot it is given, so that the engine can
// re-execute a transaction with different speculative inputs and get a
// meaningful result.
package execution

import (
	"go.dedis.ch/parex/core/delta"
	"go.dedis.ch/parex/core/store"
	"go.dedis.ch/parex/core/txn"
	"golang.org/x/xerrors"
)

// ErrHalt can be returned by an execution to indicate that the transaction
// ends the block: it is itself applied, but every transaction after it in the
// block must be skipped.
var ErrHalt = xerrors.New("halt")

// Status is the terminal state of a transaction inside a block.
type Status byte

const (
	// Success means the transaction has been executed and its updates are
	// part of the final state.
	Success Status = iota

	// SkipRest means the transaction has been executed and committed like a
	// successful one, but it ends the block: every transaction after it is
	// skipped.
	SkipRest

	// Aborted means the execution failed. The failure is recorded as the
	// result of the transaction and does not affect the other transactions.
	Aborted

	// Skipped means the transaction has not been executed at all, either
	// because an earlier transaction halted the block, or because a block
	// policy truncated it.
	Skipped
)

// String implements fmt.Stringer. It returns a short name of the status.
func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case SkipRest:
		return "halted"
	case Aborted:
		return "aborted"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Event is a notification produced by an execution. Events of committed
// transactions are aggregated in the order of the transactions.
type Event struct {
	Name  string
	Value []byte
}

// Write is a single update of the key, where a nil value with the deleted
// flag stands for a removal.
type Write struct {
	Key     []byte
	Value   []byte
	Deleted bool
}

// Delta is a partial update of the aggregator stored at the key.
type Delta struct {
	Key []byte
	Op  delta.Op
}

// Output is everything one execution attempt of a transaction produced.
type Output struct {
	Status  Status
	Message string
	Gas     uint64
	Writes  []Write
	Deltas  []Delta
	Events  []Event
}

// Snapshot is the view of the state given to an execution. On top of the
// plain key/value accesses, it accepts partial updates of aggregators and
// collects the events emitted by the execution.
type Snapshot interface {
	store.Snapshot

	// AddDelta registers a partial update of the aggregator stored at the
	// key, without reading its current value.
	AddDelta(key []byte, op delta.Op) error

	// EmitEvent appends an event to the output of the transaction.
	EmitEvent(event Event)
}

// Step is the input of an execution: the transaction and its index inside the
// block.
type Step struct {
	Current txn.Transaction
	Index   int
}

// Result is the outcome reported by the service for one execution.
type Result struct {
	// Accepted is the success state of the transaction.
	Accepted bool

	// Message gives a chance to the execution to explain why a transaction
	// has failed.
	Message string

	// Gas is the amount of gas consumed by the execution.
	Gas uint64

	// Halting indicates that the block must end after this transaction.
	Halting bool
}

// Service is the execution service that defines the primitives to execute a
// transaction.
type Service interface {
	// Execute must apply the transaction to the snapshot and return the
	// result of it. An error is critical and unrelated to the transaction
	// itself.
	Execute(snap Snapshot, step Step) (Result, error)
}
