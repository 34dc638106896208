package counter

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/parex/core/execution"
	"go.dedis.ch/parex/core/execution/native"
	"go.dedis.ch/parex/core/txn/anon"
	"go.dedis.ch/parex/internal/testing/fake"
)

func TestRegisterContract(t *testing.T) {
	RegisterContract(native.NewExecution(), NewContract())
}

func TestExecute(t *testing.T) {
	contract := NewContract()

	err := contract.Execute(fake.NewSnapshot(), makeStep(t))
	require.EqualError(t, err, "'counter:command' not found in tx arg")

	err = contract.Execute(fake.NewSnapshot(), makeStep(t, CmdArg, "fake"))
	require.EqualError(t, err, "unknown command: fake")
}

func TestExecute_Update(t *testing.T) {
	contract := NewContract()

	err := contract.Execute(fake.NewSnapshot(), makeStep(t, CmdArg, "INC"))
	require.EqualError(t, err, "'counter:key' not found in tx arg")

	err = contract.Execute(fake.NewSnapshot(),
		makeStep(t, CmdArg, "INC", KeyArg, "c", AmountArg, "oops"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to parse amount")

	err = contract.Execute(fake.NewSnapshot(),
		makeStep(t, CmdArg, "INC", KeyArg, "c", AmountArg, "1", LimitArg, "oops"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to parse limit")

	err = contract.Execute(fake.NewBadSnapshot(),
		makeStep(t, CmdArg, "INC", KeyArg, "c", AmountArg, "1"))
	require.EqualError(t, err, "failed to update counter: fake error")

	snap := fake.NewSnapshot()

	err = contract.Execute(snap, makeStep(t, CmdArg, "INC", KeyArg, "c", AmountArg, "10"))
	require.NoError(t, err)

	err = contract.Execute(snap, makeStep(t, CmdArg, "DEC", KeyArg, "c", AmountArg, "3"))
	require.NoError(t, err)

	err = contract.Execute(snap, makeStep(t, CmdArg, "READ", KeyArg, "c"))
	require.NoError(t, err)

	events := snap.GetEvents()
	require.Len(t, events, 1)
	require.Equal(t, "c", events[0].Name)
	require.Equal(t, []byte("7"), events[0].Value)
}

func TestExecute_Update_Bounds(t *testing.T) {
	contract := NewContract()

	snap := fake.NewSnapshot()

	// The fake snapshot resolves the update right away, so the failure
	// surfaces here. Against the real engine it would be resolved at commit
	// time with the exact same error.
	err := contract.Execute(snap,
		makeStep(t, CmdArg, "DEC", KeyArg, "c", AmountArg, "1"))
	require.EqualError(t, err, "failed to update counter: aggregator underflow")

	err = contract.Execute(snap,
		makeStep(t, CmdArg, "INC", KeyArg, "c", AmountArg, "100", LimitArg, "50"))
	require.EqualError(t, err, "failed to update counter: aggregator overflow")
}

func TestExecute_Read(t *testing.T) {
	contract := NewContract()

	err := contract.Execute(fake.NewSnapshot(), makeStep(t, CmdArg, "READ"))
	require.EqualError(t, err, "'counter:key' not found in tx arg")

	err = contract.Execute(fake.NewBadSnapshot(), makeStep(t, CmdArg, "READ", KeyArg, "c"))
	require.EqualError(t, err, "failed to get counter 'c': fake error")
}

// -----------------------------------------------------------------------------
// Utility functions

func makeStep(t *testing.T, args ...string) execution.Step {
	opts := []anon.TransactionOption{}
	for i := 0; i < len(args)-1; i += 2 {
		opts = append(opts, anon.WithArg(args[i], []byte(args[i+1])))
	}

	tx, err := anon.NewTransaction(0, opts...)
	require.NoError(t, err)

	return execution.Step{Current: tx}
}
