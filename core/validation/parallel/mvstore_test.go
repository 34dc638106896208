package parallel

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/parex/core/delta"
	"go.dedis.ch/parex/core/execution"
	"go.dedis.ch/parex/core/store/mem"
)

func TestMVStore_Read(t *testing.T) {
	base := mem.NewStore()
	base.Set([]byte("a"), []byte("base"))

	s := newMVStore(base, 5)

	res, err := s.read("a", 2)
	require.NoError(t, err)
	require.Equal(t, readBase, res.status)
	require.Equal(t, []byte("base"), res.value)

	wroteNew, err := s.apply(version{index: 1}, execution.Output{
		Writes: []execution.Write{{Key: []byte("a"), Value: []byte("v1")}},
	})
	require.NoError(t, err)
	require.True(t, wroteNew)

	// A reader above sees the write, a reader below still sees the base.
	res, err = s.read("a", 2)
	require.NoError(t, err)
	require.Equal(t, readFound, res.status)
	require.Equal(t, version{index: 1}, res.version)
	require.Equal(t, []byte("v1"), res.value)

	res, err = s.read("a", 1)
	require.NoError(t, err)
	require.Equal(t, readBase, res.status)

	// A tombstone is read as an absent key.
	_, err = s.apply(version{index: 3}, execution.Output{
		Writes: []execution.Write{{Key: []byte("a"), Deleted: true}},
	})
	require.NoError(t, err)

	res, err = s.read("a", 4)
	require.NoError(t, err)
	require.Equal(t, readFound, res.status)
	require.Nil(t, res.observable())
}

func TestMVStore_Estimates(t *testing.T) {
	s := newMVStore(mem.NewStore(), 5)

	_, err := s.apply(version{index: 1}, execution.Output{
		Writes: []execution.Write{{Key: []byte("a"), Value: []byte("v1")}},
	})
	require.NoError(t, err)

	s.markEstimates(1)

	res, err := s.read("a", 2)
	require.NoError(t, err)
	require.Equal(t, readBlocked, res.status)
	require.Equal(t, 1, res.dep)

	// The next incarnation does not write the key anymore: the estimate is
	// pruned and the reader falls through to the base.
	wroteNew, err := s.apply(version{index: 1, incarnation: 1}, execution.Output{
		Writes: []execution.Write{{Key: []byte("b"), Value: []byte("v1")}},
	})
	require.NoError(t, err)
	require.True(t, wroteNew)

	res, err = s.read("a", 2)
	require.NoError(t, err)
	require.Equal(t, readBase, res.status)

	res, err = s.read("b", 2)
	require.NoError(t, err)
	require.Equal(t, version{index: 1, incarnation: 1}, res.version)
}

func TestMVStore_Apply_Stale(t *testing.T) {
	s := newMVStore(mem.NewStore(), 5)

	out := execution.Output{Writes: []execution.Write{{Key: []byte("a"), Value: []byte("v")}}}

	_, err := s.apply(version{index: 1, incarnation: 2}, out)
	require.NoError(t, err)

	_, err = s.apply(version{index: 1, incarnation: 1}, out)
	require.EqualError(t, err, "stale write of tx 1: incarnation 1 behind 2")
}

func TestMVStore_Resolve(t *testing.T) {
	base := mem.NewStore()
	base.Set([]byte("c"), delta.Bytes(uint256.NewInt(10)))

	s := newMVStore(base, 5)

	limit := uint256.NewInt(100)

	deltas := []struct {
		index int
		op    delta.Op
	}{
		{1, delta.AddUint64(5, limit)},
		{2, delta.AddUint64(200, limit)},
		{3, delta.SubUint64(3, limit)},
	}

	for _, d := range deltas {
		_, err := s.apply(version{index: d.index}, execution.Output{
			Deltas: []execution.Delta{{Key: []byte("c"), Op: d.op}},
		})
		require.NoError(t, err)
	}

	// The update of tx 2 overflows, so it contributes nothing, exactly like
	// the aborted transaction it is going to become.
	res, err := s.read("c", 4)
	require.NoError(t, err)
	require.Equal(t, readOk, res.status)
	require.Equal(t, delta.Bytes(uint256.NewInt(12)), res.value)

	res, err = s.read("c", 3)
	require.NoError(t, err)
	require.Equal(t, delta.Bytes(uint256.NewInt(15)), res.value)

	// Second read comes from the memo.
	res, err = s.read("c", 4)
	require.NoError(t, err)
	require.Equal(t, delta.Bytes(uint256.NewInt(12)), res.value)
}

func TestMVStore_Resolve_AbsentKey(t *testing.T) {
	s := newMVStore(mem.NewStore(), 5)

	_, err := s.apply(version{index: 1}, execution.Output{
		Deltas: []execution.Delta{{Key: []byte("d"), Op: delta.SubUint64(5, delta.MaxLimit)}},
	})
	require.NoError(t, err)

	// The only update underflows: the key stays absent, it does not become a
	// zero aggregator.
	res, err := s.read("d", 2)
	require.NoError(t, err)
	require.Equal(t, readOk, res.status)
	require.Nil(t, res.observable())

	_, err = s.apply(version{index: 2}, execution.Output{
		Deltas: []execution.Delta{{Key: []byte("d"), Op: delta.AddUint64(7, delta.MaxLimit)}},
	})
	require.NoError(t, err)

	res, err = s.read("d", 3)
	require.NoError(t, err)
	require.Equal(t, delta.Bytes(uint256.NewInt(7)), res.value)
}

func TestMVStore_Resolve_Blocked(t *testing.T) {
	s := newMVStore(mem.NewStore(), 5)

	_, err := s.apply(version{index: 1}, execution.Output{
		Writes: []execution.Write{{Key: []byte("c"), Value: delta.Bytes(uint256.NewInt(1))}},
	})
	require.NoError(t, err)

	_, err = s.apply(version{index: 2}, execution.Output{
		Deltas: []execution.Delta{{Key: []byte("c"), Op: delta.AddUint64(1, delta.MaxLimit)}},
	})
	require.NoError(t, err)

	s.markEstimates(1)

	res, err := s.read("c", 3)
	require.NoError(t, err)
	require.Equal(t, readBlocked, res.status)
	require.Equal(t, 1, res.dep)
}

func TestMVStore_Materialize(t *testing.T) {
	s := newMVStore(mem.NewStore(), 5)

	_, err := s.apply(version{index: 1}, execution.Output{
		Deltas: []execution.Delta{{Key: []byte("c"), Op: delta.AddUint64(5, delta.MaxLimit)}},
	})
	require.NoError(t, err)

	err = s.materialize(1, []byte("c"), delta.Bytes(uint256.NewInt(5)))
	require.NoError(t, err)

	res, err := s.read("c", 2)
	require.NoError(t, err)
	require.Equal(t, readFound, res.status)
	require.Equal(t, delta.Bytes(uint256.NewInt(5)), res.value)

	err = s.materialize(1, []byte("c"), nil)
	require.EqualError(t, err, "no delta to materialize for tx 1")

	err = s.materialize(1, []byte("unknown"), nil)
	require.EqualError(t, err, "no entry to materialize for tx 1")
}

func TestMVStore_Purge(t *testing.T) {
	s := newMVStore(mem.NewStore(), 5)

	_, err := s.apply(version{index: 1}, execution.Output{
		Writes: []execution.Write{{Key: []byte("a"), Value: []byte("v")}},
		Deltas: []execution.Delta{{Key: []byte("c"), Op: delta.AddUint64(5, delta.MaxLimit)}},
	})
	require.NoError(t, err)

	s.purge(1)

	res, err := s.read("a", 2)
	require.NoError(t, err)
	require.Equal(t, readBase, res.status)

	res, err = s.read("c", 2)
	require.NoError(t, err)
	require.Equal(t, readBase, res.status)
}
