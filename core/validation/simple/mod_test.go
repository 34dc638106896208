package simple

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/parex/core"
	"go.dedis.ch/parex/core/delta"
	"go.dedis.ch/parex/core/execution"
	"go.dedis.ch/parex/core/store/mem"
	"go.dedis.ch/parex/core/txn"
	"go.dedis.ch/parex/core/txn/anon"
	"go.dedis.ch/parex/core/validation"
	"go.dedis.ch/parex/internal/testing/fake"
)

func TestService_Validate(t *testing.T) {
	srvc := NewService(fake.ExecService{})

	data, err := srvc.Validate(mem.NewStore(), makeTxs(t,
		"set a 1",
		"copy a b",
		"read b;gas 3",
	))
	require.NoError(t, err)

	require.Len(t, data.Results, 3)
	for _, res := range data.Results {
		require.Equal(t, execution.Success, res.Status)
	}

	require.Equal(t, uint64(5), data.GasUsed)

	require.Len(t, data.Writes, 2)
	require.Equal(t, []byte("a"), data.Writes[0].Key)
	require.Equal(t, []byte("1"), data.Writes[0].Value)
	require.Equal(t, []byte("b"), data.Writes[1].Key)
	require.Equal(t, []byte("1"), data.Writes[1].Value)

	require.Len(t, data.Events, 1)
	require.Equal(t, "b", data.Events[0].Name)
	require.Equal(t, []byte("1"), data.Events[0].Value)
}

func TestService_Validate_Abort(t *testing.T) {
	srvc := NewService(fake.ExecService{})

	data, err := srvc.Validate(mem.NewStore(), makeTxs(t,
		"set a 1;abort boom",
		"read a",
	))
	require.NoError(t, err)

	require.Equal(t, execution.Aborted, data.Results[0].Status)
	require.Equal(t, "boom", data.Results[0].Message)
	require.Equal(t, uint64(1), data.Results[0].Gas)

	// The aborted transaction has no effect, so the write is gone and the
	// reader sees an absent key.
	require.Empty(t, data.Writes)
	require.Nil(t, data.Events[0].Value)
}

func TestService_Validate_Deltas(t *testing.T) {
	srvc := NewService(fake.ExecService{})

	data, err := srvc.Validate(mem.NewStore(), makeTxs(t,
		"inc c 5 100",
		"dec c 20 100",
		"read c",
	))
	require.NoError(t, err)

	require.Equal(t, execution.Success, data.Results[0].Status)

	// The second update underflows once it is resolved against the value. The
	// transaction is aborted but keeps its gas.
	require.Equal(t, execution.Aborted, data.Results[1].Status)
	require.Equal(t, delta.ErrUnderflow.Error(), data.Results[1].Message)
	require.Equal(t, uint64(1), data.Results[1].Gas)

	require.Len(t, data.Writes, 1)
	require.Equal(t, delta.Bytes(uint256.NewInt(5)), data.Writes[0].Value)

	require.Equal(t, delta.Bytes(uint256.NewInt(5)), data.Events[0].Value)
}

func TestService_Validate_Halt(t *testing.T) {
	srvc := NewService(fake.ExecService{})

	data, err := srvc.Validate(mem.NewStore(), makeTxs(t,
		"set a 1",
		"halt;set b 2",
		"set c 3",
	))
	require.NoError(t, err)

	require.Equal(t, execution.Success, data.Results[0].Status)
	require.Equal(t, execution.SkipRest, data.Results[1].Status)
	require.Equal(t, execution.Skipped, data.Results[2].Status)
	require.Equal(t, uint64(0), data.Results[2].Gas)

	// The halting transaction commits its own writes.
	require.Len(t, data.Writes, 2)
	require.Equal(t, uint64(2), data.GasUsed)
}

func TestService_Validate_GasLimit(t *testing.T) {
	srvc := NewService(fake.ExecService{}, WithConfig(validation.Config{GasLimit: 2}))

	data, err := srvc.Validate(mem.NewStore(), makeTxs(t,
		"set a 1",
		"set b 2",
		"set c 3",
	))
	require.NoError(t, err)

	require.Equal(t, execution.Success, data.Results[0].Status)
	require.Equal(t, execution.Success, data.Results[1].Status)
	require.Equal(t, execution.Skipped, data.Results[2].Status)
	require.Equal(t, uint64(2), data.GasUsed)
	require.Len(t, data.Writes, 2)
}

func TestService_Validate_MaxTxns(t *testing.T) {
	srvc := NewService(fake.ExecService{}, WithConfig(validation.Config{MaxTxns: 1}))

	data, err := srvc.Validate(mem.NewStore(), makeTxs(t,
		"set a 1",
		"set b 2",
	))
	require.NoError(t, err)

	require.Equal(t, execution.Success, data.Results[0].Status)
	require.Equal(t, execution.Skipped, data.Results[1].Status)
}

func TestService_Validate_CriticalError(t *testing.T) {
	srvc := NewService(fake.ExecService{})

	_, err := srvc.Validate(mem.NewStore(), makeTxs(t, "err"))
	require.EqualError(t, err, "failed to execute tx: fake error")
}

func TestService_Validate_Watcher(t *testing.T) {
	recorder := &commitRecorder{}

	watcher := core.NewWatcher()
	watcher.Add(recorder)

	srvc := NewService(fake.ExecService{}, WithWatcher(watcher))

	_, err := srvc.Validate(mem.NewStore(), makeTxs(t,
		"set a 1",
		"abort boom",
		"halt",
		"set b 2",
	))
	require.NoError(t, err)

	require.Len(t, recorder.events, 3)
	require.Equal(t, 0, recorder.events[0].Index)
	require.Equal(t, execution.Aborted, recorder.events[1].Status)
	require.Equal(t, execution.SkipRest, recorder.events[2].Status)
}

// -----------------------------------------------------------------------------
// Utility functions

func makeTxs(t *testing.T, cmds ...string) []txn.Transaction {
	txs := make([]txn.Transaction, len(cmds))
	for i, cmd := range cmds {
		tx, err := anon.NewTransaction(uint64(i), anon.WithArg("cmd", []byte(cmd)))
		require.NoError(t, err)

		txs[i] = tx
	}

	return txs
}

type commitRecorder struct {
	events []validation.CommitEvent
}

func (r *commitRecorder) NotifyCallback(event interface{}) {
	r.events = append(r.events, event.(validation.CommitEvent))
}
