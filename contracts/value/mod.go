// Package value implements a simple native contract that can store, delete,
// and display values.
package value

import (
	"fmt"
	"sort"
	"strings"

	"go.dedis.ch/parex"
	"go.dedis.ch/parex/core/execution"
	"go.dedis.ch/parex/core/execution/native"
	"golang.org/x/xerrors"
)

// commands defines the commands of the value contract. This interface helps
// in testing the contract.
type commands interface {
	write(snap execution.Snapshot, step execution.Step) error
	read(snap execution.Snapshot, step execution.Step) error
	delete(snap execution.Snapshot, step execution.Step) error
	list(snap execution.Snapshot) error
}

const (
	// ContractName is the name of the contract.
	ContractName = "go.dedis.ch/parex.Value"

	// KeyArg is the argument's name in the transaction that contains the
	// provided key to update.
	KeyArg = "value:key"

	// ValueArg is the argument's name in the transaction that contains the
	// provided value to set.
	ValueArg = "value:value"

	// CmdArg is the argument's name to indicate the kind of command we want
	// to run on the contract. Should be one of the Command type.
	CmdArg = "value:command"

	// indexKey is the key under which the contract keeps the sorted list of
	// the keys currently set. It lives in the store so that an execution
	// stays a pure function of its snapshot.
	indexKey = "value:index"
)

// Command defines a type of command for the value contract.
type Command string

const (
	// CmdWrite defines the command to write a value.
	CmdWrite Command = "WRITE"

	// CmdRead defines a command to read a value.
	CmdRead Command = "READ"

	// CmdDelete defines a command to delete a value.
	CmdDelete Command = "DELETE"

	// CmdList defines a command to list all values set (and not deleted) so
	// far.
	CmdList Command = "LIST"
)

// RegisterContract registers the value contract to the given execution
// service.
func RegisterContract(exec *native.Service, c Contract) {
	exec.Set(ContractName, c)
}

// Contract is a simple smart contract that allows one to handle the storage
// by performing CRUD operations.
//
// - implements native.Contract
type Contract struct {
	// cmd provides the commands that can be executed by this smart contract.
	cmd commands
}

// NewContract creates a new Value contract.
func NewContract() Contract {
	contract := Contract{}
	contract.cmd = valueCommand{Contract: &contract}

	return contract
}

// Execute implements native.Contract. It runs the appropriate command.
func (c Contract) Execute(snap execution.Snapshot, step execution.Step) error {
	cmd := step.Current.GetArg(CmdArg)
	if len(cmd) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", CmdArg)
	}

	switch Command(cmd) {
	case CmdWrite:
		err := c.cmd.write(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to WRITE: %v", err)
		}
	case CmdRead:
		err := c.cmd.read(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to READ: %v", err)
		}
	case CmdDelete:
		err := c.cmd.delete(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to DELETE: %v", err)
		}
	case CmdList:
		err := c.cmd.list(snap)
		if err != nil {
			return xerrors.Errorf("failed to LIST: %v", err)
		}
	default:
		return xerrors.Errorf("unknown command: %s", cmd)
	}

	return nil
}

// valueCommand implements the commands of the value contract.
//
// - implements commands
type valueCommand struct {
	*Contract
}

// write implements commands. It performs the WRITE command.
func (c valueCommand) write(snap execution.Snapshot, step execution.Step) error {
	key := step.Current.GetArg(KeyArg)
	if len(key) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", KeyArg)
	}

	value := step.Current.GetArg(ValueArg)
	if len(value) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", ValueArg)
	}

	err := snap.Set(key, value)
	if err != nil {
		return xerrors.Errorf("failed to set value: %v", err)
	}

	err = c.updateIndex(snap, string(key), true)
	if err != nil {
		return err
	}

	parex.Logger.Info().Str("contract", ContractName).Msgf("setting %x=%s", key, value)

	return nil
}

// read implements commands. It performs the READ command.
func (c valueCommand) read(snap execution.Snapshot, step execution.Step) error {
	key := step.Current.GetArg(KeyArg)
	if len(key) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", KeyArg)
	}

	val, err := snap.Get(key)
	if err != nil {
		return xerrors.Errorf("failed to get key '%s': %v", key, err)
	}

	snap.EmitEvent(execution.Event{Name: string(key), Value: val})

	return nil
}

// delete implements commands. It performs the DELETE command.
func (c valueCommand) delete(snap execution.Snapshot, step execution.Step) error {
	key := step.Current.GetArg(KeyArg)
	if len(key) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", KeyArg)
	}

	err := snap.Delete(key)
	if err != nil {
		return xerrors.Errorf("failed to delete key '%x': %v", key, err)
	}

	return c.updateIndex(snap, string(key), false)
}

// list implements commands. It performs the LIST command.
func (c valueCommand) list(snap execution.Snapshot) error {
	index, err := c.readIndex(snap)
	if err != nil {
		return err
	}

	res := []string{}

	for _, k := range index {
		v, err := snap.Get([]byte(k))
		if err != nil {
			return xerrors.Errorf("failed to get key '%s': %v", k, err)
		}

		res = append(res, fmt.Sprintf("%x=%s", k, v))
	}

	snap.EmitEvent(execution.Event{Name: "list", Value: []byte(strings.Join(res, ","))})

	return nil
}

func (c valueCommand) readIndex(snap execution.Snapshot) ([]string, error) {
	buffer, err := snap.Get([]byte(indexKey))
	if err != nil {
		return nil, xerrors.Errorf("failed to get index: %v", err)
	}

	if len(buffer) == 0 {
		return nil, nil
	}

	return strings.Split(string(buffer), "\n"), nil
}

func (c valueCommand) updateIndex(snap execution.Snapshot, key string, add bool) error {
	index, err := c.readIndex(snap)
	if err != nil {
		return err
	}

	keys := map[string]struct{}{}
	for _, k := range index {
		keys[k] = struct{}{}
	}

	if add {
		keys[key] = struct{}{}
	} else {
		delete(keys, key)
	}

	index = make([]string, 0, len(keys))
	for k := range keys {
		index = append(index, k)
	}

	sort.Strings(index)

	err = snap.Set([]byte(indexKey), []byte(strings.Join(index, "\n")))
	if err != nil {
		return xerrors.Errorf("failed to set index: %v", err)
	}

	return nil
}
