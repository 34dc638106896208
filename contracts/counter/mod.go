// Package counter implements a native contract that maintains bounded
// counters through partial updates.
//
// Incrementing or decrementing a counter does not read its current value, so
// transactions touching the same counter do not conflict with each other when
// they are executed concurrently.
package counter

import (
	"github.com/holiman/uint256"
	"go.dedis.ch/parex/core/delta"
	"go.dedis.ch/parex/core/execution"
	"go.dedis.ch/parex/core/execution/native"
	"golang.org/x/xerrors"
)

const (
	// ContractName is the name of the contract.
	ContractName = "go.dedis.ch/parex.Counter"

	// KeyArg is the argument's name in the transaction that contains the key
	// of the counter.
	KeyArg = "counter:key"

	// AmountArg is the argument's name in the transaction that contains the
	// decimal amount of the update.
	AmountArg = "counter:amount"

	// LimitArg is the argument's name in the transaction that contains the
	// decimal upper bound of the counter. It is optional.
	LimitArg = "counter:limit"

	// CmdArg is the argument's name to indicate the kind of command we want
	// to run on the contract. Should be one of the Command type.
	CmdArg = "counter:command"
)

// Command defines a type of command for the counter contract.
type Command string

const (
	// CmdIncrease defines the command to increment a counter.
	CmdIncrease Command = "INC"

	// CmdDecrease defines the command to decrement a counter.
	CmdDecrease Command = "DEC"

	// CmdRead defines the command to read a counter. Unlike the updates, it
	// creates a dependency on the current value.
	CmdRead Command = "READ"
)

// RegisterContract registers the counter contract to the given execution
// service.
func RegisterContract(exec *native.Service, c Contract) {
	exec.Set(ContractName, c)
}

// Contract is a smart contract updating counters without reading them.
//
// - implements native.Contract
type Contract struct{}

// NewContract creates a new counter contract.
func NewContract() Contract {
	return Contract{}
}

// Execute implements native.Contract. It runs the appropriate command.
func (c Contract) Execute(snap execution.Snapshot, step execution.Step) error {
	cmd := step.Current.GetArg(CmdArg)
	if len(cmd) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", CmdArg)
	}

	switch Command(cmd) {
	case CmdIncrease, CmdDecrease:
		return c.update(snap, step, Command(cmd) == CmdDecrease)
	case CmdRead:
		return c.read(snap, step)
	default:
		return xerrors.Errorf("unknown command: %s", cmd)
	}
}

func (c Contract) update(snap execution.Snapshot, step execution.Step, minus bool) error {
	key := step.Current.GetArg(KeyArg)
	if len(key) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", KeyArg)
	}

	amount, err := uint256.FromDecimal(string(step.Current.GetArg(AmountArg)))
	if err != nil {
		return xerrors.Errorf("failed to parse amount: %v", err)
	}

	limit := delta.MaxLimit
	if arg := step.Current.GetArg(LimitArg); len(arg) > 0 {
		limit, err = uint256.FromDecimal(string(arg))
		if err != nil {
			return xerrors.Errorf("failed to parse limit: %v", err)
		}
	}

	op := delta.Add(amount, limit)
	if minus {
		op = delta.Sub(amount, limit)
	}

	err = snap.AddDelta(key, op)
	if err != nil {
		return xerrors.Errorf("failed to update counter: %v", err)
	}

	return nil
}

func (c Contract) read(snap execution.Snapshot, step execution.Step) error {
	key := step.Current.GetArg(KeyArg)
	if len(key) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", KeyArg)
	}

	value, err := snap.Get(key)
	if err != nil {
		return xerrors.Errorf("failed to get counter '%s': %v", key, err)
	}

	snap.EmitEvent(execution.Event{
		Name:  string(key),
		Value: []byte(delta.FromBytes(value).Dec()),
	})

	return nil
}
