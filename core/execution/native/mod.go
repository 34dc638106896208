// Package native implements an execution service to run native smart
// contracts.
//
// A native smart contract is written in Go and packaged with the application.
package native

import (
	"go.dedis.ch/parex/core/execution"
	"golang.org/x/xerrors"
)

const (
	// ContractArg is the argument key in the transaction to look up a
	// contract.
	ContractArg = "go.dedis.ch/parex.ContractArg"

	// baseGas is the gas consumed by any execution, successful or not.
	baseGas = 1
)

// Contract is the interface to implement to register a smart contract that
// will be executed natively.
//
// A contract must propagate the errors returned by the snapshot: the engine
// relies on it to detect that an execution was blocked by a read of a value
// that is not available yet.
type Contract interface {
	Execute(snap execution.Snapshot, step execution.Step) error
}

// Costly can be implemented by a contract to report a gas consumption other
// than the base one.
type Costly interface {
	Cost(step execution.Step) uint64
}

// Service is an execution service for packaged applications. Those
// applications have complete access to the state and can directly update it.
//
// - implements execution.Service
type Service struct {
	contracts map[string]Contract
}

// NewExecution returns a new native execution. The given service will be
// executed for every incoming transaction.
func NewExecution() *Service {
	return &Service{
		contracts: map[string]Contract{},
	}
}

// Set stores the contract using the name as the key. A transaction can
// trigger this contract by using the same name as the contract argument.
func (ns *Service) Set(name string, contract Contract) {
	ns.contracts[name] = contract
}

// Execute implements execution.Service. It looks up the contract targeted by
// the transaction, runs it and returns the result.
func (ns *Service) Execute(snap execution.Snapshot, step execution.Step) (execution.Result, error) {
	name := string(step.Current.GetArg(ContractArg))

	contract := ns.contracts[name]
	if contract == nil {
		return execution.Result{}, xerrors.Errorf("unknown contract '%s'", name)
	}

	res := execution.Result{
		Accepted: true,
		Gas:      baseGas,
	}

	if costly, ok := contract.(Costly); ok {
		res.Gas = costly.Cost(step)
	}

	err := contract.Execute(snap, step)
	if xerrors.Is(err, execution.ErrHalt) {
		res.Halting = true
	} else if err != nil {
		res.Accepted = false
		res.Message = err.Error()
	}

	return res, nil
}
