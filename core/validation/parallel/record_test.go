package parallel

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/parex/core/execution"
	"go.dedis.ch/parex/internal/testing/fake"
)

func TestRecord(t *testing.T) {
	rec := newRecord(2)

	require.Nil(t, rec.readSet(0))
	require.Nil(t, rec.output(0))
	require.NoError(t, rec.execError(0))

	rec.save(0, []readDesc{{key: "a"}}, execution.Output{}, fake.GetError())

	require.Len(t, rec.readSet(0), 1)
	require.ErrorIs(t, rec.execError(0), fake.GetError())

	// A re-execution replaces the whole slot, the error included.
	rec.save(0, []readDesc{{key: "a"}}, execution.Output{Gas: 2}, nil)

	require.NoError(t, rec.execError(0))
	require.Equal(t, uint64(2), rec.output(0).Gas)

	rec.replaceOutput(0, execution.Output{Gas: 3})

	out, err := rec.takeOutput(0)
	require.NoError(t, err)
	require.Equal(t, uint64(3), out.Gas)

	_, err = rec.takeOutput(0)
	require.EqualError(t, err, "output of tx 0 already taken")

	_, err = rec.takeOutput(1)
	require.EqualError(t, err, "no output for tx 1")
}
