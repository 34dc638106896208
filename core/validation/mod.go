// Package validation defines a service to validate a batch of transactions,
// that is to execute a whole block against the state of the world before it,
// and produce the final result of every transaction alongside the updates and
// the events the block commits.
//
// Implementations must enforce the same contract so that they can be swapped
// for one another: transactions commit strictly in the order of the block,
// an aborted transaction has no effect on the state, and once a transaction
// halts the block, or a block policy is exceeded, the remaining transactions
// are skipped entirely.
package validation

import (
	"go.dedis.ch/parex/core/execution"
	"go.dedis.ch/parex/core/store"
	"go.dedis.ch/parex/core/txn"
)

// Config gathers the block-level policies applied while transactions commit.
// The zero value disables them.
type Config struct {
	// GasLimit is the maximum amount of gas the block can consume. The
	// transaction that reaches the limit is the last one committed.
	GasLimit uint64

	// MaxTxns is the maximum number of transactions committed in the block.
	MaxTxns int
}

// Exceeded returns true when a block that has committed the given number of
// transactions for the given amount of gas must not commit any more of them.
func (c Config) Exceeded(gasUsed uint64, committed int) bool {
	if c.GasLimit > 0 && gasUsed >= c.GasLimit {
		return true
	}

	if c.MaxTxns > 0 && committed >= c.MaxTxns {
		return true
	}

	return false
}

// TransactionResult is the final state of one transaction of the block.
type TransactionResult struct {
	// Status is the terminal status of the transaction.
	Status execution.Status

	// Message explains why the transaction has been aborted.
	Message string

	// Gas is the gas consumed by the transaction. It is zero for a skipped
	// transaction.
	Gas uint64
}

// Data is the result of the validation of a block.
type Data struct {
	// Results contains the result of every transaction, in the order of the
	// block.
	Results []TransactionResult

	// Writes is the union of the updates committed by the block, ordered by
	// key. A deleted key appears with the deleted flag.
	Writes []execution.Write

	// Events aggregates the events emitted by the committed transactions, in
	// the order of the block.
	Events []execution.Event

	// GasUsed is the total gas consumed by the committed transactions.
	GasUsed uint64
}

// CommitEvent is the notification sent to the observers of a validation
// service every time a transaction commits. The indices of the notifications
// of a block are strictly increasing.
type CommitEvent struct {
	Index  int
	Status execution.Status
}

// Service is the validation service that defines the primitives to process a
// block of transactions.
type Service interface {
	// Validate processes the list of transactions against the base state and
	// returns the result of the block. The base is left untouched.
	Validate(base store.Readable, txs []txn.Transaction) (Data, error)
}
